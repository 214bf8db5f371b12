package models

import "time"

const DefaultCronExpression = "0 17 * * *"

// Schedule is a recurring trigger definition evaluated by the scheduler loop.
type Schedule struct {
	ID             string       `json:"schedule_id" yaml:"schedule_id"`
	Name           string       `json:"name" yaml:"name"`
	RunMode        RunMode      `json:"run_mode" yaml:"run_mode"`
	CronExpression string       `json:"cron_expression" yaml:"cron_expression"`
	Enabled        bool         `json:"enabled" yaml:"enabled"`
	SearchConfig   SearchConfig `json:"search_config" yaml:"search_config"`
	LastRun        *time.Time   `json:"last_run" yaml:"-"`
	NextRun        *time.Time   `json:"next_run" yaml:"-"`
	CreatedAt      time.Time    `json:"created_at" yaml:"-"`
}

func (s Schedule) Clone() Schedule {
	c := s
	c.SearchConfig = s.SearchConfig.Clone()
	if s.LastRun != nil {
		t := *s.LastRun
		c.LastRun = &t
	}
	if s.NextRun != nil {
		t := *s.NextRun
		c.NextRun = &t
	}
	return c
}
