package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/media"
	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"github.com/bkchaithanya285/ai-tracking/internal/protocol"
	"github.com/bkchaithanya285/ai-tracking/internal/relay"
	"github.com/bkchaithanya285/ai-tracking/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Controller is the relay surface driven by the control API.
type Controller interface {
	StartSession(ctx context.Context, src media.Source) (models.Session, error)
	StopSession(ctx context.Context) error
	SendCommand(ctx context.Context, cmd protocol.Command) error
	Select(ctx context.Context, click models.ClickRequest) (models.SelectionRequest, error)
	Status() relay.Status
	Surface() *media.Surface
	ClientID() string
	Uptime() time.Duration
}

// SessionStore lists recorded sessions. Optional.
type SessionStore interface {
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
	SessionEvents(ctx context.Context, sessionID string, limit int) ([]models.Event, error)
}

// HealthChecker reports processing service health. Optional.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

type Options struct {
	Relay        Controller
	Metrics      *services.Metrics
	Sessions     SessionStore
	Health       HealthChecker
	PlaybackRate float64
	JPEGQuality  int
	Version      string
	Logger       *zap.Logger
}

type Handler struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	return &Handler{opts: opts, logger: opts.Logger.Named("api")}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/session/start", h.StartSession)
	mux.HandleFunc("/api/session/stop", h.StopSession)
	mux.HandleFunc("/api/control/toggle-blur", h.command(protocol.CommandToggleBlur))
	mux.HandleFunc("/api/control/clear-focus", h.command(protocol.CommandClearFocus))
	mux.HandleFunc("/api/select", h.Select)
	mux.HandleFunc("/api/status", h.Status)
	mux.HandleFunc("/api/frame", h.Frame)
	mux.HandleFunc("/api/health", h.Health)
	mux.HandleFunc("/api/metrics", h.Metrics)
	mux.HandleFunc("/api/sessions", h.Sessions)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func enableCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:     msg,
		Timestamp: time.Now().Unix(),
		Code:      code,
	})
}

// allow writes CORS headers and rejects other methods. Preflight requests
// are answered here.
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	enableCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "method_not_allowed")
		return false
	}
	return true
}

// StartSession starts streaming from the requested source, restarting any
// running session. Parameters come from the query string or a JSON body.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	req := models.StartSessionRequest{
		Source: r.URL.Query().Get("source"),
		Path:   r.URL.Query().Get("path"),
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "bad_request")
			return
		}
	}

	src, err := media.NewSource(req.Source, req.Path, h.opts.PlaybackRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "bad_source")
		return
	}

	sess, err := h.opts.Relay.StartSession(r.Context(), src)
	if errors.Is(err, relay.ErrSessionActive) {
		h.logger.Info("restarting active session", zap.String("source", src.Name()))
		if err = h.opts.Relay.StopSession(r.Context()); err == nil {
			sess, err = h.opts.Relay.StartSession(r.Context(), src)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, media.ErrSourceUnavailable):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "source_unavailable")
		return
	case errors.Is(err, relay.ErrRelayStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "relay_stopped")
		return
	default:
		h.logger.Error("failed to start session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "internal")
		return
	}

	h.logger.Info("session started via api", zap.String("session_id", sess.ID), zap.String("source", sess.Source))
	writeJSON(w, http.StatusCreated, sess)
}

// StopSession stops streaming and asks the service to drop its focus.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	if err := h.opts.Relay.StopSession(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error(), "relay_stopped")
		return
	}

	err := h.opts.Relay.SendCommand(r.Context(), protocol.CommandClearFocus)
	if err != nil && !errors.Is(err, relay.ErrChannelNotOpen) {
		h.logger.Warn("failed to clear focus on stop", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "stopped",
	})
}

func (h *Handler) command(cmd protocol.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}

		err := h.opts.Relay.SendCommand(r.Context(), cmd)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":  "sent",
				"command": string(cmd),
			})
		case errors.Is(err, relay.ErrChannelNotOpen):
			writeError(w, http.StatusConflict, "Channel is not open", "channel_closed")
		default:
			h.logger.Warn("control command failed", zap.String("command", string(cmd)), zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error(), "send_failed")
		}
	}
}

// Select forwards a click on the displayed frame as a selection request.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var click models.ClickRequest
	if err := json.NewDecoder(r.Body).Decode(&click); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "bad_request")
		return
	}
	if click.DisplayWidth <= 0 || click.DisplayHeight <= 0 {
		writeError(w, http.StatusBadRequest, "display_width and display_height are required", "bad_request")
		return
	}

	req, err := h.opts.Relay.Select(r.Context(), click)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, req)
	case errors.Is(err, relay.ErrSessionInactive):
		writeError(w, http.StatusConflict, err.Error(), "session_inactive")
	case errors.Is(err, relay.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error(), "not_ready")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
	}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Relay.Status())
}

// Frame serves the current display surface as a JPEG.
func (h *Handler) Frame(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	var buf bytes.Buffer
	if err := h.opts.Relay.Surface().WriteJPEG(&buf, h.opts.JPEGQuality); err != nil {
		if errors.Is(err, media.ErrNoFrame) {
			writeError(w, http.StatusNotFound, "No frame rendered yet", "no_frame")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "encode_failed")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	st := h.opts.Relay.Status()
	resp := models.HealthStatus{
		Status:    "healthy",
		Channel:   st.Channel,
		Streaming: st.Streaming,
		ClientID:  h.opts.Relay.ClientID(),
		UptimeSec: int64(h.opts.Relay.Uptime().Seconds()),
		Version:   h.opts.Version,
	}
	if !st.Online {
		resp.Status = "degraded"
	}
	if h.opts.Health != nil {
		healthy := h.opts.Health.Healthy(r.Context())
		resp.ServiceHealthy = &healthy
		if !healthy {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	snapshot := h.opts.Metrics.Snapshot()
	snapshot["system_uptime_sec"] = int64(h.opts.Relay.Uptime().Seconds())
	snapshot["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, snapshot)
}

// Sessions lists recorded sessions, or the events of one session when
// ?id= is given.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.opts.Sessions == nil {
		writeError(w, http.StatusNotFound, "Session recording is disabled", "recording_disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", "bad_request")
			return
		}
		limit = n
	}

	if id := r.URL.Query().Get("id"); id != "" {
		events, err := h.opts.Sessions.SessionEvents(r.Context(), id, limit)
		if err != nil {
			h.logger.Error("failed to list session events", zap.String("session_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error", "internal")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session_id": id,
			"events":     events,
		})
		return
	}

	sessions, err := h.opts.Sessions.ListSessions(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}
