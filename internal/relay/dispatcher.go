package relay

import (
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"github.com/bkchaithanya285/ai-tracking/internal/protocol"
	"github.com/bkchaithanya285/ai-tracking/internal/services"
	"go.uber.org/zap"
)

// ImageSink receives result images for asynchronous decode and paint.
type ImageSink interface {
	Render(dataURL string)
}

// Dispatcher classifies inbound channel messages, releases the gate and
// routes frame results to the renderer.
type Dispatcher struct {
	gate     *Gate
	cooldown time.Duration
	sink     ImageSink
	status   *StatusBoard
	recorder Recorder
	metrics  *services.Metrics
	logger   *zap.Logger

	// session returns the active session id, or "" when streaming is stopped.
	session func() string
}

func (d *Dispatcher) Dispatch(raw []byte) {
	env, err := protocol.Decode(raw)

	switch env.Kind {
	case protocol.KindError:
		d.metrics.IncrementServiceErrors()
		text := StatusBackendError
		if env.Detail != "" {
			text = serviceErrorPrefix + env.Detail
		}
		d.status.ShowOverlay(text)
		d.status.SetError(ErrorService, text)
		d.logger.Warn("service reported error",
			zap.String("detail", env.Detail),
			zap.Duration("cooldown", d.cooldown),
		)
		// Held closed for the cooldown to throttle retries against a failing service.
		d.gate.ReleaseAfter(d.cooldown)
		return

	case protocol.KindControl:
		d.logger.Debug("ignoring unknown control message", zap.String("subtype", env.Subtype))
		d.gate.Release()
		return
	}

	// Released before parsing so a bad payload cannot stall the stream.
	d.gate.Release()

	if err != nil {
		d.metrics.IncrementPayloadErrors()
		d.status.ShowOverlay(StatusParseError)
		d.status.SetError(ErrorPayload, err.Error())
		d.logger.Error("failed to parse service payload", zap.Error(err), zap.Int("size", len(raw)))
		return
	}

	d.metrics.IncrementResults()
	result := env.Result

	sessionID := d.session()
	if sessionID == "" {
		d.logger.Debug("dropping result received after session stop")
		return
	}

	d.status.SetCounters(result.DetectedCount, result.TrackedLabel())
	d.sink.Render(result.Image)
	d.recorder.ResultReceived(models.Event{
		SessionID:     sessionID,
		DetectedCount: result.DetectedCount,
		TrackedClass:  result.TrackedClass,
		TrackingID:    result.TrackingID,
		Timestamp:     time.Now(),
	})
}
