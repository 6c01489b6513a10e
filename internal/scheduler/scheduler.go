package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Refresher is the slice of the controller the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Service runs a periodic background refresh of the current page so a view
// left open does not go stale between push notifications.
type Service struct {
	refresher Refresher
	cron      *cron.Cron
	logger    arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a refresh scheduler.
func NewService(refresher Refresher, logger arbor.ILogger) *Service {
	return &Service{
		refresher: refresher,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start begins periodic refreshes on the given cron expression.
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if cronExpr == "" {
		cronExpr = "*/5 * * * *" // Default: every 5 minutes
	}

	_, err := s.cron.AddFunc(cronExpr, s.runRefresh)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Msg("Refresh scheduler started")

	return nil
}

// Stop halts the scheduler and waits for an in-flight refresh to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Info().Msg("Refresh scheduler stopped")
}

func (s *Service) runRefresh() {
	if err := s.refresher.Refresh(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled refresh failed")
		return
	}
	s.logger.Debug().Msg("Scheduled refresh completed")
}
