package worker

import "time"

const (
	// Fetch defaults
	DefaultFetchTimeout = 10 * time.Second
	MaxWorkers          = 8

	// Date window rules of the reservation sites, in days from today
	EarliestQueryDays     = 7
	DefaultRangeEndDays   = 28
	RetainedWindowFrom    = 35
	RetainedWindowThrough = 120

	// Query limits
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500

	// Run status
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
