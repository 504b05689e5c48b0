package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectAlerts() (*[]AlertEvent, *sync.Mutex, AlertFunc) {
	var mu sync.Mutex
	var alerts []AlertEvent
	return &alerts, &mu, func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	}
}

func TestProofFailureSpikeAlert(t *testing.T) {
	alerts, mu, fn := collectAlerts()
	collector := newMetricsCollector(fn)
	collector.proofFailures.threshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditProofFailure)
	}
	mu.Lock()
	assert.Empty(t, *alerts, "no alert below threshold")
	mu.Unlock()

	collector.recordEvent(AuditProofFailure)
	mu.Lock()
	require.Len(t, *alerts, 1)
	assert.Equal(t, AlertProofFailureSpike, (*alerts)[0].Type)
	assert.Equal(t, 5, (*alerts)[0].Count)
	assert.Equal(t, 5, (*alerts)[0].Threshold)
	mu.Unlock()
}

func TestRegistrationSpikeAlert(t *testing.T) {
	alerts, mu, fn := collectAlerts()
	collector := newMetricsCollector(fn)
	collector.registrations.threshold = 3

	for i := 0; i < 3; i++ {
		collector.recordEvent(AuditRegister)
	}
	// Events the collector does not track are ignored.
	collector.recordEvent(AuditLogout)

	mu.Lock()
	require.Len(t, *alerts, 1)
	assert.Equal(t, AlertRegistrationSpike, (*alerts)[0].Type)
	mu.Unlock()
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	collector := newMetricsCollector(nil)
	collector.recordEvent(AuditProofFailure)
}

func TestMetricsNilCollector(t *testing.T) {
	var collector *metricsCollector
	collector.recordEvent(AuditProofFailure)
}

func TestSlidingWindowExpiry(t *testing.T) {
	w := slidingWindow{window: time.Minute, threshold: 5}
	start := time.Now()
	for i := 0; i < 4; i++ {
		_, fired := w.add(start)
		require.False(t, fired)
	}

	// Old events slide out of the window.
	_, fired := w.add(start.Add(2 * time.Minute))
	assert.False(t, fired)
	assert.Len(t, w.events, 1)
}

func TestSlidingWindowResetAfterAlert(t *testing.T) {
	w := slidingWindow{window: time.Minute, threshold: 3}
	now := time.Now()
	for i := 0; i < 2; i++ {
		_, fired := w.add(now)
		require.False(t, fired)
	}
	n, fired := w.add(now)
	require.True(t, fired)
	assert.Equal(t, 3, n)

	// Counter was reset, so three more are needed.
	_, fired = w.add(now)
	assert.False(t, fired)
	_, fired = w.add(now)
	assert.False(t, fired)
	_, fired = w.add(now)
	assert.True(t, fired)
}
