package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

type HealthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartTime       time.Time         `json:"start_time"`
	MemoryUsage     uint64            `json:"memory_usage"`
	GoroutineCount  int               `json:"goroutine_count"`
	LastRun         *time.Time        `json:"last_run,omitempty"`
	LastRunID       string            `json:"last_run_id,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	ComponentStatus map[string]string `json:"component_status"`
}

var (
	startTime = time.Now()

	mu           sync.RWMutex
	lastRun      time.Time
	lastRunID    string
	lastError    string
	healthChecks = make(map[string]func() bool)
)

// RegisterHealthCheck adds a named component check. A check returning false
// marks the process degraded.
func RegisterHealthCheck(name string, check func() bool) {
	mu.Lock()
	defer mu.Unlock()
	healthChecks[name] = check
}

// RecordRun stores the outcome of the latest run. A nil err clears the last
// error.
func RecordRun(runID string, err error) {
	mu.Lock()
	defer mu.Unlock()
	lastRun = time.Now()
	lastRunID = runID
	lastError = ""
	if err != nil {
		lastError = err.Error()
	}
}

// LastRunHealthy reports whether the latest run, if any, succeeded.
func LastRunHealthy() bool {
	mu.RLock()
	defer mu.RUnlock()
	return lastError == ""
}

func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mu.RLock()
	status := HealthStatus{
		Status:          "ok",
		Uptime:          time.Since(startTime).String(),
		StartTime:       startTime,
		MemoryUsage:     m.Alloc,
		GoroutineCount:  runtime.NumGoroutine(),
		LastRunID:       lastRunID,
		LastError:       lastError,
		ComponentStatus: make(map[string]string, len(healthChecks)),
	}
	if !lastRun.IsZero() {
		t := lastRun
		status.LastRun = &t
	}
	names := make([]string, 0, len(healthChecks))
	for name := range healthChecks {
		names = append(names, name)
	}
	checks := make([]func() bool, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = healthChecks[name]
	}
	mu.RUnlock()

	// Checks may block on the network, so they run outside the lock.
	for i, name := range names {
		if checks[i]() {
			status.ComponentStatus[name] = "healthy"
		} else {
			status.ComponentStatus[name] = "unhealthy"
			status.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
