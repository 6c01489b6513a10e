package models

import "strings"

// EventTypeJobsUpdated is the push message type announcing new postings for a
// keyword-scoped channel.
const EventTypeJobsUpdated = "jobs_updated"

// ChannelPrefix is the channel naming convention for keyword-scoped job
// update subscriptions: jobs:updated:<normalized-keyword>.
const ChannelPrefix = "jobs:updated:"

// JobsUpdatedChannel derives the subscription channel for a normalized
// keyword. An empty keyword yields an empty channel, meaning no subscription.
func JobsUpdatedChannel(keyword string) string {
	trimmed := strings.TrimSpace(keyword)
	if trimmed == "" {
		return ""
	}
	return ChannelPrefix + trimmed
}

// JobsUpdatedEvent is a normalized "jobs updated" push notification.
type JobsUpdatedEvent struct {
	Keyword         string `json:"keyword"`
	NewJobs         int    `json:"new_jobs"`
	HasNewData      bool   `json:"has_new_data,omitempty"`
	MaxJobCreatedAt string `json:"max_job_created_at,omitempty"`
	Source          string `json:"source,omitempty"`
}

// ParseJobsUpdatedEvent normalizes a raw push payload. Returns false when the
// payload is not a jobs_updated message.
func ParseJobsUpdatedEvent(payload map[string]interface{}) (JobsUpdatedEvent, bool) {
	if getString(payload, "type") != EventTypeJobsUpdated {
		return JobsUpdatedEvent{}, false
	}

	evt := JobsUpdatedEvent{
		Keyword:         getString(payload, "keyword"),
		MaxJobCreatedAt: strings.TrimSpace(getString(payload, "max_job_created_at")),
		Source:          strings.TrimSpace(getString(payload, "source")),
	}

	if n, ok := getNumber(payload["new_jobs"]); ok && n > 0 {
		evt.NewJobs = int(n)
	}
	if b, ok := payload["has_new_data"].(bool); ok {
		evt.HasNewData = b
	}
	return evt, true
}
