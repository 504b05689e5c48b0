package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertProofFailureSpike AlertType = "proof_failure_spike"
	AlertRegistrationSpike AlertType = "registration_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingWindow counts events inside a fixed trailing window.
type slidingWindow struct {
	events    []time.Time
	window    time.Duration
	threshold int
}

// add records an event at now and reports the count if the threshold is
// reached, resetting the window so one spike alerts once.
func (s *slidingWindow) add(now time.Time) (int, bool) {
	s.events = append(s.events, now)
	s.events = trimWindow(s.events, now, s.window)
	if len(s.events) < s.threshold {
		return 0, false
	}
	n := len(s.events)
	s.events = s.events[:0]
	return n, true
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	proofFailures slidingWindow
	registrations slidingWindow

	alertFn AlertFunc
}

const (
	defaultProofFailureWindow    = 1 * time.Minute
	defaultProofFailureThreshold = 50
	defaultRegistrationWindow    = 5 * time.Minute
	defaultRegistrationThreshold = 100
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		proofFailures: slidingWindow{window: defaultProofFailureWindow, threshold: defaultProofFailureThreshold},
		registrations: slidingWindow{window: defaultRegistrationWindow, threshold: defaultRegistrationThreshold},
		alertFn:       alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditProofFailure:
		m.record(&m.proofFailures, AlertProofFailureSpike, "proof failure rate exceeds threshold")
	case AuditRegister:
		m.record(&m.registrations, AlertRegistrationSpike, "registration rate exceeds threshold")
	}
}

func (m *metricsCollector) record(w *slidingWindow, typ AlertType, msg string) {
	m.mu.Lock()
	now := time.Now()
	count, fire := w.add(now)
	threshold := w.threshold
	m.mu.Unlock()

	if fire {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     count,
			Threshold: threshold,
			Timestamp: now,
		})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
