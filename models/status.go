package models

type SystemMetrics struct {
	MemoryMB      float64 `json:"memory_mb"`
	HeapMB        float64 `json:"heap_mb"`
	Goroutines    int     `json:"goroutines"`
	ScheduleCount int     `json:"schedule_count"`
	RunCount      int64   `json:"run_count"`
	UptimeHours   float64 `json:"daemon_uptime_hours"`
}

type DaemonStatus struct {
	Running         bool          `json:"is_running"`
	UptimeSeconds   float64       `json:"uptime_seconds"`
	CurrentRun      *Run          `json:"current_run"`
	RecentRuns      []*Run        `json:"recent_runs"`
	ActiveSchedules []Schedule    `json:"active_schedules"`
	SystemMetrics   SystemMetrics `json:"system_metrics"`
}
