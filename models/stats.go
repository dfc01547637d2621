package models

import "time"

// FetchStats summarises one (pair, exchange) fetch for the run log.
type FetchStats struct {
	Pair     string
	Exchange string
	Rows     int
	Duration time.Duration
	Err      string
}

// RunStats totals a scrape run.
type RunStats struct {
	RunID     string
	Requests  int
	Failures  int
	Rows      int
	StartedAt time.Time
	Duration  time.Duration
}
