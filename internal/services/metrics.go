package services

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	framesSent     atomic.Int64
	framesRendered atomic.Int64
	framesDropped  atomic.Int64
	results        atomic.Int64
	serviceErrors  atomic.Int64
	payloadErrors  atomic.Int64
	reconnects     atomic.Int64
	selections     atomic.Int64
	totalLatency   atomic.Int64
	lastFrameTime  atomic.Int64
	channelOpen    atomic.Bool
	fps            atomic.Int64

	fpsMu        sync.Mutex
	fpsSampledAt time.Time
	fpsRendered  int64
}

func NewMetrics() *Metrics {
	return &Metrics{fpsSampledAt: time.Now()}
}

func (m *Metrics) IncrementFramesSent() {
	m.framesSent.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())
	framesSentTotal.Inc()
}

// IncrementFramesDropped counts ticks skipped because a frame was in flight.
func (m *Metrics) IncrementFramesDropped() {
	m.framesDropped.Add(1)
	framesDroppedTotal.Inc()
}

func (m *Metrics) IncrementFramesRendered() {
	m.framesRendered.Add(1)
	framesRenderedTotal.Inc()
}

func (m *Metrics) IncrementResults() {
	m.results.Add(1)
	messagesReceivedTotal.WithLabelValues("frame_result").Inc()
}

func (m *Metrics) IncrementServiceErrors() {
	m.serviceErrors.Add(1)
	messagesReceivedTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) IncrementPayloadErrors() {
	m.payloadErrors.Add(1)
	messagesReceivedTotal.WithLabelValues("malformed").Inc()
}

func (m *Metrics) IncrementReconnects() {
	m.reconnects.Add(1)
	reconnectsTotal.Inc()
}

func (m *Metrics) IncrementSelections() {
	m.selections.Add(1)
	selectionsTotal.Inc()
}

// RecordLatency records the send to release time of one frame.
func (m *Metrics) RecordLatency(duration time.Duration) {
	m.totalLatency.Add(duration.Milliseconds())
	roundTripSeconds.Observe(duration.Seconds())
}

func (m *Metrics) SetChannelOpen(open bool) {
	m.channelOpen.Store(open)
	if open {
		channelOpen.Set(1)
	} else {
		channelOpen.Set(0)
	}
}

// SampleFPS computes rendered frames per second since the previous sample.
func (m *Metrics) SampleFPS(now time.Time) int {
	m.fpsMu.Lock()
	defer m.fpsMu.Unlock()

	rendered := m.framesRendered.Load()
	elapsed := now.Sub(m.fpsSampledAt)
	fps := 0
	if elapsed > 0 {
		fps = int(math.Round(float64(rendered-m.fpsRendered) * float64(time.Second) / float64(elapsed)))
	}
	m.fpsSampledAt = now
	m.fpsRendered = rendered
	m.fps.Store(int64(fps))
	renderFPS.Set(float64(fps))
	return fps
}

func (m *Metrics) ResetFPS() {
	m.fps.Store(0)
	renderFPS.Set(0)
}

func (m *Metrics) GetFPS() int {
	return int(m.fps.Load())
}

func (m *Metrics) GetFramesSent() int64 {
	return m.framesSent.Load()
}

func (m *Metrics) GetFramesDropped() int64 {
	return m.framesDropped.Load()
}

func (m *Metrics) GetFramesRendered() int64 {
	return m.framesRendered.Load()
}

func (m *Metrics) GetReconnects() int64 {
	return m.reconnects.Load()
}

func (m *Metrics) GetAvgLatency() float64 {
	resolved := m.results.Load() + m.serviceErrors.Load() + m.payloadErrors.Load()
	if resolved == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(resolved)
}

func (m *Metrics) GetLastFrameTime() int64 {
	return m.lastFrameTime.Load()
}

// Snapshot returns the counters served by /api/metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"frames_sent":     m.framesSent.Load(),
		"frames_dropped":  m.framesDropped.Load(),
		"frames_rendered": m.framesRendered.Load(),
		"results":         m.results.Load(),
		"service_errors":  m.serviceErrors.Load(),
		"payload_errors":  m.payloadErrors.Load(),
		"reconnects":      m.reconnects.Load(),
		"selections":      m.selections.Load(),
		"avg_latency_ms":  m.GetAvgLatency(),
		"fps":             m.GetFPS(),
		"channel_open":    m.channelOpen.Load(),
		"last_frame_time": m.lastFrameTime.Load(),
	}
}
