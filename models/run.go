package models

import (
	"maps"
	"time"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a run in this status will never change again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

type RunError struct {
	Error     string    `json:"error"`
	NoticeID  string    `json:"notice_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Run is one execution of the discovery pipeline.
type Run struct {
	ID           string       `json:"run_id"`
	ScheduleID   string       `json:"schedule_id,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at"`
	Status       RunStatus    `json:"status"`
	SearchConfig SearchConfig `json:"search_config"`

	TotalFound     int `json:"total_found"`
	TotalProcessed int `json:"total_processed"`
	TotalQualified int `json:"total_qualified"`
	TotalMaybe     int `json:"total_maybe"`
	TotalRejected  int `json:"total_rejected"`
	TotalErrors    int `json:"total_errors"`

	Qualified []ProcessedOpportunity `json:"qualified_rfps"`
	Maybe     []ProcessedOpportunity `json:"maybe_rfps"`
	Rejected  []ProcessedOpportunity `json:"rejected_rfps"`

	ProcessingTimeSeconds *float64        `json:"processing_time_seconds"`
	Errors                []RunError      `json:"errors"`
	Exports               map[string]bool `json:"sheets_updated,omitempty"`
}

// Add files an assessed opportunity into the bucket its score belongs to.
func (r *Run) Add(p ProcessedOpportunity) {
	level := LevelForScore(p.Assessment.Score)
	p.Assessment.Level = level
	switch level {
	case LevelQualified:
		r.Qualified = append(r.Qualified, p)
		r.TotalQualified++
	case LevelMaybe:
		r.Maybe = append(r.Maybe, p)
		r.TotalMaybe++
	default:
		r.Rejected = append(r.Rejected, p)
		r.TotalRejected++
	}
	r.TotalProcessed++
}

// All returns every processed opportunity, qualified first.
func (r *Run) All() []ProcessedOpportunity {
	all := make([]ProcessedOpportunity, 0, len(r.Qualified)+len(r.Maybe)+len(r.Rejected))
	all = append(all, r.Qualified...)
	all = append(all, r.Maybe...)
	return append(all, r.Rejected...)
}

// Clone returns a copy that shares nothing mutable with r.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.SearchConfig = r.SearchConfig.Clone()
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.ProcessingTimeSeconds != nil {
		v := *r.ProcessingTimeSeconds
		c.ProcessingTimeSeconds = &v
	}
	c.Qualified = append([]ProcessedOpportunity(nil), r.Qualified...)
	c.Maybe = append([]ProcessedOpportunity(nil), r.Maybe...)
	c.Rejected = append([]ProcessedOpportunity(nil), r.Rejected...)
	c.Errors = append([]RunError(nil), r.Errors...)
	if r.Exports != nil {
		c.Exports = maps.Clone(r.Exports)
	}
	return &c
}
