package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/skillforge/joblens/internal/models"
)

// HistoryStorage persists every job record the sync engine has observed, so
// past postings stay queryable locally after they scroll out of the cache.
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) *HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob upserts one observed record. Records failing the ingestion
// invariant are rejected.
func (s *HistoryStorage) SaveJob(ctx context.Context, job *models.JobRecord) error {
	if !job.Valid() {
		return fmt.Errorf("job id and title are required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// SaveJobs upserts a batch, skipping invalid records.
func (s *HistoryStorage) SaveJobs(ctx context.Context, jobs []models.JobRecord) error {
	for i := range jobs {
		if !jobs[i].Valid() {
			continue
		}
		if err := s.SaveJob(ctx, &jobs[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetJob returns one record by id.
func (s *HistoryStorage) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// HistoryListOptions filters a history query.
type HistoryListOptions struct {
	Title       string
	CompanyName string
	Limit       int
	Offset      int
}

// ListJobs returns observed records newest first, optionally filtered by
// title or company substring (case-insensitive).
func (s *HistoryStorage) ListJobs(ctx context.Context, opts *HistoryListOptions) ([]*models.JobRecord, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if title := strings.ToLower(strings.TrimSpace(opts.Title)); title != "" {
			query = query.And("Title").MatchFunc(func(ra *badgerhold.RecordAccess) (bool, error) {
				record, ok := ra.Record().(*models.JobRecord)
				if !ok {
					return false, nil
				}
				return strings.Contains(strings.ToLower(record.Title), title), nil
			})
		}
		if company := strings.ToLower(strings.TrimSpace(opts.CompanyName)); company != "" {
			query = query.And("CompanyName").MatchFunc(func(ra *badgerhold.RecordAccess) (bool, error) {
				record, ok := ra.Record().(*models.JobRecord)
				if !ok {
					return false, nil
				}
				return strings.Contains(strings.ToLower(record.CompanyName), company), nil
			})
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}

	query = query.SortBy("CreatedAt").Reverse()

	var jobs []*models.JobRecord
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Count returns the number of stored records.
func (s *HistoryStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.JobRecord{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}
