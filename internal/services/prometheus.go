package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_sent_total",
		Help: "Frames transmitted to the processing service",
	})

	framesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Ticks skipped because the previous frame was still in flight",
	})

	framesRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_rendered_total",
		Help: "Result images painted onto the display surface",
	})

	messagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_received_total",
		Help: "Inbound channel messages, by kind",
	}, []string{"kind"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_reconnects_total",
		Help: "Scheduled channel reconnections",
	})

	selectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_selections_total",
		Help: "Selection requests issued",
	})

	roundTripSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_frame_round_trip_seconds",
		Help:    "Time between sending a frame and releasing the gate",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	channelOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_channel_open",
		Help: "1 while the streaming channel is open",
	})

	renderFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_render_fps",
		Help: "Rendered frames per second, sampled every second",
	})
)
