package services

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	sentBefore := testutil.ToFloat64(framesSentTotal)

	m.IncrementFramesSent()
	m.IncrementFramesSent()
	m.IncrementFramesDropped()
	m.IncrementReconnects()

	assert.Equal(t, int64(2), m.GetFramesSent())
	assert.Equal(t, int64(1), m.GetFramesDropped())
	assert.Equal(t, int64(1), m.GetReconnects())
	assert.NotZero(t, m.GetLastFrameTime())
	assert.Equal(t, sentBefore+2, testutil.ToFloat64(framesSentTotal))
}

func TestMetricsAverageLatency(t *testing.T) {
	m := NewMetrics()
	assert.Zero(t, m.GetAvgLatency())

	m.RecordLatency(40 * time.Millisecond)
	m.IncrementResults()
	m.RecordLatency(60 * time.Millisecond)
	m.IncrementServiceErrors()

	assert.InDelta(t, 50.0, m.GetAvgLatency(), 0.001)
}

func TestMetricsSampleFPS(t *testing.T) {
	m := NewMetrics()
	start := time.Now()
	m.SampleFPS(start)

	for i := 0; i < 30; i++ {
		m.IncrementFramesRendered()
	}
	assert.Equal(t, 30, m.SampleFPS(start.Add(time.Second)))
	assert.Equal(t, 30, m.GetFPS())

	for i := 0; i < 10; i++ {
		m.IncrementFramesRendered()
	}
	assert.Equal(t, 20, m.SampleFPS(start.Add(1500*time.Millisecond)))

	m.ResetFPS()
	assert.Zero(t, m.GetFPS())
}

func TestMetricsChannelGauge(t *testing.T) {
	m := NewMetrics()

	m.SetChannelOpen(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(channelOpen))
	assert.Equal(t, true, m.Snapshot()["channel_open"])

	m.SetChannelOpen(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(channelOpen))
}
