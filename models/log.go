package models

import "time"

type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

type LogEntry struct {
	ID        int64          `json:"log_id"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

type RunLogs struct {
	RunID        string     `json:"run_id"`
	Entries      []LogEntry `json:"entries"`
	TotalEntries int        `json:"total_entries"`
}
