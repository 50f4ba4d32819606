package service

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Request Statistics
// =============================================================================

// RequestStats keeps in-process request counters for /info. Prometheus series
// are recorded separately by the metrics middleware.
type RequestStats struct {
	mu sync.RWMutex

	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64

	latencyBuckets map[string]*atomic.Int64 // <10ms, <50ms, <100ms, <500ms, <1s, >1s
	errorCounts    map[string]*atomic.Int64

	startTime time.Time
}

// NewRequestStats creates an empty collector.
func NewRequestStats() *RequestStats {
	return &RequestStats{
		startTime: time.Now(),
		latencyBuckets: map[string]*atomic.Int64{
			"lt_10ms":  {},
			"lt_50ms":  {},
			"lt_100ms": {},
			"lt_500ms": {},
			"lt_1s":    {},
			"gt_1s":    {},
		},
		errorCounts: make(map[string]*atomic.Int64),
	}
}

// Record counts one request. Statuses >= 400 are failures grouped by status text.
func (s *RequestStats) Record(duration time.Duration, status int) {
	s.total.Add(1)
	if status < 400 {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
		s.recordError(http.StatusText(status))
	}
	s.latencyBuckets[latencyBucket(duration)].Add(1)
}

func latencyBucket(d time.Duration) string {
	switch {
	case d < 10*time.Millisecond:
		return "lt_10ms"
	case d < 50*time.Millisecond:
		return "lt_50ms"
	case d < 100*time.Millisecond:
		return "lt_100ms"
	case d < 500*time.Millisecond:
		return "lt_500ms"
	case d < time.Second:
		return "lt_1s"
	default:
		return "gt_1s"
	}
}

func (s *RequestStats) recordError(kind string) {
	s.mu.Lock()
	counter, ok := s.errorCounts[kind]
	if !ok {
		counter = &atomic.Int64{}
		s.errorCounts[kind] = counter
	}
	s.mu.Unlock()
	counter.Add(1)
}

// StatsSnapshot is the JSON form of RequestStats.
type StatsSnapshot struct {
	Uptime      string           `json:"uptime"`
	Total       int64            `json:"total"`
	Success     int64            `json:"success"`
	Failed      int64            `json:"failed"`
	SuccessRate float64          `json:"success_rate"`
	Latency     map[string]int64 `json:"latency_buckets"`
	Errors      map[string]int64 `json:"errors,omitempty"`
}

// Snapshot returns the current counters.
func (s *RequestStats) Snapshot() StatsSnapshot {
	total := s.total.Load()
	success := s.success.Load()

	rate := float64(0)
	if total > 0 {
		rate = float64(success) / float64(total) * 100
	}

	latency := make(map[string]int64, len(s.latencyBuckets))
	for k, v := range s.latencyBuckets {
		latency[k] = v.Load()
	}

	s.mu.RLock()
	errs := make(map[string]int64, len(s.errorCounts))
	for k, v := range s.errorCounts {
		errs[k] = v.Load()
	}
	s.mu.RUnlock()

	return StatsSnapshot{
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Total:       total,
		Success:     success,
		Failed:      s.failed.Load(),
		SuccessRate: rate,
		Latency:     latency,
		Errors:      errs,
	}
}

// Middleware records every request passing through next.
func (s *RequestStats) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.Record(time.Since(start), wrapped.status)
	})
}

// statusResponseWriter wraps http.ResponseWriter to capture status code.
type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
