package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.jobsPut)
	assert.NotNil(t, collector.jobsDispatched)
	assert.NotNil(t, collector.jobsBlackholed)
	assert.NotNil(t, collector.jobsRejected)
	assert.NotNil(t, collector.jobsRetried)
	assert.NotNil(t, collector.jobsDead)
	assert.NotNil(t, collector.jobLatency)
	assert.NotNil(t, collector.strobeRuns)
	assert.NotNil(t, collector.queueDepth)
	assert.NotNil(t, collector.activeThreads)
}

func TestRecordPut(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordPut("high", "primary")
		}
	})
}

func TestRecordDispatch(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			collector.RecordDispatch("low")
		}
	})
}

func TestClassificationCounters(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	latencies := []float64{0.001, 0.01, 0.1, 1.0, 5.0}
	for _, latency := range latencies {
		assert.NotPanics(t, func() {
			collector.RecordBlackhole("default", latency)
			collector.RecordRejected("default", latency)
			collector.RecordRetried("default", latency)
			collector.RecordDead("default", latency)
		}, "classification recording should not panic with latency %f", latency)
	}
}

func TestRecordStrobeRun(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordStrobeRun("high")
	})
}

func TestQueueDepthAndActiveThreads(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name    string
		depth   int
		threads int
	}{
		{"zero values", 0, 0},
		{"normal values", 10, 5},
		{"high depth", 100, 8},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.SetQueueDepth("default", "primary", tc.depth)
				collector.SetActiveThreads("default", tc.threads)
			})
		})
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordPut("default", "primary")
			collector.RecordDispatch("default")
			collector.RecordRetried("default", 0.1)
			collector.SetQueueDepth("default", "primary", 10)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A second collector against the same registry panics on duplicate
	// registration, so a process should construct exactly one.
	assert.Panics(t, func() {
		NewCollector()
	})
}

func TestMetricOperationSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPut("default", "primary")
		collector.SetQueueDepth("default", "primary", 1)

		collector.RecordDispatch("default")
		collector.SetQueueDepth("default", "primary", 0)
		collector.SetActiveThreads("default", 1)

		collector.RecordRetried("default", 0.5)
		collector.SetActiveThreads("default", 0)
	})
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordRetried("default", 0.0)
		collector.SetQueueDepth("default", "primary", 0)
		collector.SetQueueDepth("default", "primary", -1)
	})
}
