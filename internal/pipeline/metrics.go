package pipeline

import (
	"sync"
	"time"
)

// durationWindowSize caps the sliding window of recent processing
// durations used for the moving average.
const durationWindowSize = 100

// Outcome is the result of one pipeline run for a single item. It feeds
// the metrics aggregator and is not persisted.
type Outcome struct {
	OK      bool
	Elapsed time.Duration
	Err     error
}

// QualityCounts buckets validation scores of generated replies.
type QualityCounts struct {
	Excellent int64 `json:"excellent"` // score >= 0.9
	Good      int64 `json:"good"`      // 0.7 <= score < 0.9
	Fair      int64 `json:"fair"`      // 0.5 <= score < 0.7
	Poor      int64 `json:"poor"`      // score < 0.5
}

// MetricsSnapshot is a point-in-time copy of the rolling counters,
// safe to hand to the API layer.
type MetricsSnapshot struct {
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
	Fetched     int64 `json:"fetched"`
	Sent        int64 `json:"sent"`
	FetchErrors int64 `json:"fetch_errors"`
	SendErrors  int64 `json:"send_errors"`

	// AvgProcessingMs is the moving average over the bounded window of
	// recent item durations.
	AvgProcessingMs float64 `json:"avg_processing_ms"`

	Quality QualityCounts `json:"quality"`
}

// Metrics aggregates rolling pipeline counters. The pipeline worker is
// the only writer; readers get snapshots.
type Metrics struct {
	mu sync.Mutex

	processed   int64
	failed      int64
	fetched     int64
	sent        int64
	fetchErrors int64
	sendErrors  int64

	durations []time.Duration
	quality   QualityCounts
}

// NewMetrics creates an empty metrics aggregator.
func NewMetrics() *Metrics {
	return &Metrics{
		durations: make([]time.Duration, 0, durationWindowSize),
	}
}

// RecordOutcome updates the processed/failed counters and appends the
// item's elapsed time to the bounded duration window.
func (m *Metrics) RecordOutcome(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.OK {
		m.processed++
	} else {
		m.failed++
	}

	m.durations = append(m.durations, o.Elapsed)
	if len(m.durations) > durationWindowSize {
		m.durations = m.durations[len(m.durations)-durationWindowSize:]
	}
}

// RecordFetch updates the fetch counters.
func (m *Metrics) RecordFetch(count int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.fetchErrors++
		return
	}
	m.fetched += int64(count)
}

// RecordSend updates the send counters.
func (m *Metrics) RecordSend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.sendErrors++
		return
	}
	m.sent++
}

// RecordQuality buckets a validation score.
func (m *Metrics) RecordQuality(score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case score >= 0.9:
		m.quality.Excellent++
	case score >= 0.7:
		m.quality.Good++
	case score >= 0.5:
		m.quality.Fair++
	default:
		m.quality.Poor++
	}
}

// Snapshot returns a copy of the current counters. It has no side
// effects.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg float64
	if len(m.durations) > 0 {
		var total time.Duration
		for _, d := range m.durations {
			total += d
		}
		avg = float64(total.Milliseconds()) / float64(len(m.durations))
	}

	return MetricsSnapshot{
		Processed:       m.processed,
		Failed:          m.failed,
		Fetched:         m.fetched,
		Sent:            m.sent,
		FetchErrors:     m.fetchErrors,
		SendErrors:      m.sendErrors,
		AvgProcessingMs: avg,
		Quality:         m.quality,
	}
}
