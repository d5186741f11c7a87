package mockservice

import (
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/media"
	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"github.com/bkchaithanya285/ai-tracking/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 50 * 1024 * 1024
)

type Config struct {
	// ErrorEvery makes every Nth frame answer with an injected error; 0 disables.
	ErrorEvery int
	// Detections is the detected_count reported for every frame.
	Detections int
	// Delay simulates inference time per frame.
	Delay time.Duration
	// JPEGQuality of returned frames.
	JPEGQuality int
}

// client.send is only written and closed by the client's readPump.
type client struct {
	conn     *websocket.Conn
	clientID string
	send     chan []byte
}

// Server is an in-process stand-in for the processing service. It speaks the
// streaming channel protocol on /webcam/{client_id}, accepts selections on
// /select_object and exposes gRPC health.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
	health   *health.Server

	mu       sync.Mutex
	clients  map[string]*client
	sessions map[string]*trackState
	proc     processor

	frames atomic.Int64
	errors atomic.Int64
}

func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 50
	}
	if cfg.Detections <= 0 {
		cfg.Detections = 1
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		health:   hs,
		clients:  make(map[string]*client),
		sessions: make(map[string]*trackState),
		proc:     processor{detections: cfg.Detections},
	}
}

// Health is registered on the gRPC server by the caller.
func (s *Server) Health() *health.Server {
	return s.health
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webcam/", s.handleWebSocket)
	mux.HandleFunc("/select_object", s.handleSelect)
	mux.HandleFunc("/api/health", s.handleHealth)
	return mux
}

func (s *Server) Frames() int64 {
	return s.frames.Load()
}

func (s *Server) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// DropClients closes every open connection, as a service restart would.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for clientID, c := range s.clients {
		c.conn.Close()
		s.logger.Info("closed connection", zap.String("client_id", clientID))
	}
	s.clients = make(map[string]*client)
}

// Shutdown marks the service as not serving and closes every connection.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.DropClients()
}

func (s *Server) state(clientID string) *trackState {
	st, ok := s.sessions[clientID]
	if !ok {
		st = newTrackState()
		s.sessions[clientID] = st
	}
	return st
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimPrefix(r.URL.Path, "/webcam/")
	if clientID == "" || strings.Contains(clientID, "/") {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{
		conn:     conn,
		clientID: clientID,
		send:     make(chan []byte, 16),
	}

	s.mu.Lock()
	if old, ok := s.clients[clientID]; ok {
		old.conn.Close()
	}
	s.clients[clientID] = c
	s.state(clientID)
	s.mu.Unlock()

	s.logger.Info("client connected", zap.String("client_id", clientID))

	go s.writePump(c)
	s.readPump(c)
}

// Цикл чтения
func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		if s.clients[c.clientID] == c {
			delete(s.clients, c.clientID)
			delete(s.sessions, c.clientID)
		}
		s.mu.Unlock()
		close(c.send)
		c.conn.Close()
		s.logger.Info("client disconnected", zap.String("client_id", c.clientID))
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := s.handleMessage(c.clientID, data)
		if reply == nil {
			continue
		}

		select {
		case c.send <- reply:
		default:
			s.logger.Warn("send buffer full, dropping reply", zap.String("client_id", c.clientID))
		}
	}
}

// handleMessage returns the reply for one inbound message, or nil.
func (s *Server) handleMessage(clientID string, data []byte) (reply []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.errors.Add(1)
			s.logger.Error("panic while processing frame", zap.Any("panic", rec))
			reply = protocol.EncodeError("internal error")
		}
	}()

	if cmd, ok, err := protocol.DecodeControl(data); ok {
		if err != nil {
			s.logger.Debug("ignoring control message", zap.Error(err))
			return nil
		}
		s.applyControl(clientID, cmd)
		return nil
	}

	img, err := media.DecodeImage(string(data))
	if err != nil {
		s.errors.Add(1)
		s.logger.Warn("error decoding frame", zap.String("client_id", clientID), zap.Error(err))
		return protocol.EncodeError("")
	}

	n := s.frames.Add(1)
	if s.cfg.ErrorEvery > 0 && n%int64(s.cfg.ErrorEvery) == 0 {
		s.errors.Add(1)
		return protocol.EncodeError("injected failure")
	}
	if s.cfg.Delay > 0 {
		time.Sleep(s.cfg.Delay)
	}

	return s.processFrame(clientID, img)
}

func (s *Server) applyControl(clientID string, cmd protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(clientID)
	switch cmd {
	case protocol.CommandToggleBlur:
		st.blur = !st.blur
	case protocol.CommandClearFocus:
		st.clearFocus()
	}
	s.logger.Info("control applied", zap.String("client_id", clientID), zap.String("command", string(cmd)))
}

func (s *Server) processFrame(clientID string, img image.Image) []byte {
	s.mu.Lock()
	out, result := s.proc.process(img, s.state(clientID))
	s.mu.Unlock()

	dataURL, err := media.NewEncoder(s.cfg.JPEGQuality).EncodeImage(out)
	if err != nil {
		s.errors.Add(1)
		return protocol.EncodeError(err.Error())
	}
	result.Image = string(dataURL)

	msg, err := protocol.EncodeResult(result)
	if err != nil {
		s.errors.Add(1)
		return protocol.EncodeError(err.Error())
	}
	return msg
}

// Цикл отправки
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Method not allowed",
		})
		return
	}

	var req models.SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "invalid selection",
		})
		return
	}

	s.mu.Lock()
	s.state(req.ClientID).pending = &selection{x: req.X, y: req.Y, width: req.Width, height: req.Height}
	s.mu.Unlock()

	s.logger.Info("object selected",
		zap.String("client_id", req.ClientID),
		zap.Float64("x", req.X),
		zap.Float64("y", req.Y),
	)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Object selected at %g, %g", req.X, req.Y),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Method not allowed",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "healthy",
		"active_clients":  s.ActiveClients(),
		"total_processed": s.frames.Load(),
		"total_errors":    s.errors.Load(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}
