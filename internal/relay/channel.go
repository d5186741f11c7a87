package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/services"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State of the streaming channel.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn used by the manager.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

const controlWait = 10 * time.Second

// DialFunc opens one connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebSocketDialer returns a DialFunc backed by gorilla/websocket.
func WebSocketDialer(handshakeTimeout time.Duration, maxMessageSize int64) DialFunc {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if maxMessageSize > 0 {
			conn.SetReadLimit(maxMessageSize)
		}
		return conn, nil
	}
}

type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
	EventMessage
)

// Event is posted by dial and reader goroutines and handled on the relay
// goroutine.
type Event struct {
	Kind    EventKind
	Payload []byte
	Err     error

	conn       Conn
	generation uint64
}

type ManagerConfig struct {
	URL            string
	Dial           DialFunc
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	// PongWait bounds how long the channel may stay silent. Pings go out at
	// 9/10 of it. Zero disables the keepalive.
	PongWait       time.Duration
	// OnStateChange is invoked on the relay goroutine after every transition.
	OnStateChange func(State)
}

// Manager owns the streaming channel lifecycle: connect, detect loss,
// reconnect after a fixed delay. Reconnection is unconditional and unbounded.
// Every method except Events must be called from the relay goroutine.
type Manager struct {
	cfg     ManagerConfig
	gate    *Gate
	sched   Scheduler
	metrics *services.Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	state      State
	conn       Conn
	generation uint64
	reconnect  Timer
	shutdown   bool
}

func NewManager(cfg ManagerConfig, gate *Gate, sched Scheduler, metrics *services.Metrics, logger *zap.Logger) *Manager {
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = func(State) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		gate:    gate,
		sched:   sched,
		metrics: metrics,
		logger:  logger.Named("channel"),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan Event, 64),
		state:   StateClosed,
	}
}

func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) State() State {
	return m.state
}

func (m *Manager) IsOpen() bool {
	return m.state == StateOpen
}

// Connect starts dialing unless a connection is already open or pending.
func (m *Manager) Connect() {
	if m.shutdown || m.state != StateClosed {
		return
	}
	m.reconnect = nil
	m.generation++
	gen := m.generation
	m.setState(StateConnecting)

	m.logger.Info("connecting", zap.String("url", m.cfg.URL))
	go m.dialAndRead(gen)
}

func (m *Manager) dialAndRead(gen uint64) {
	conn, err := m.cfg.Dial(m.ctx, m.cfg.URL)
	if err != nil {
		m.post(Event{Kind: EventClosed, Err: err, generation: gen})
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	if m.cfg.PongWait > 0 {
		m.keepalive(conn, stop)
	}

	if !m.post(Event{Kind: EventOpened, conn: conn, generation: gen}) {
		conn.Close()
		return
	}

	// Цикл чтения
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.post(Event{Kind: EventClosed, Err: err, generation: gen})
			return
		}
		m.extendRead(conn)
		if !m.post(Event{Kind: EventMessage, Payload: payload, generation: gen}) {
			return
		}
	}
}

// keepalive arms the read deadline, extends it on every ping and pong, and
// pings the service until stop is closed.
func (m *Manager) keepalive(conn Conn, stop <-chan struct{}) {
	m.extendRead(conn)
	conn.SetPongHandler(func(string) error {
		m.extendRead(conn)
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		m.extendRead(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWait))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})

	go func() {
		ticker := time.NewTicker(m.cfg.PongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
					return
				}
			}
		}
	}()
}

func (m *Manager) extendRead(conn Conn) {
	if m.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	}
}

func (m *Manager) post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// Handle applies a channel event. For message events from the current
// connection it returns the payload and true.
func (m *Manager) Handle(ev Event) ([]byte, bool) {
	if ev.generation != m.generation {
		if ev.Kind == EventOpened && ev.conn != nil {
			ev.conn.Close()
		}
		return nil, false
	}

	switch ev.Kind {
	case EventOpened:
		if m.shutdown {
			ev.conn.Close()
			return nil, false
		}
		m.conn = ev.conn
		m.setState(StateOpen)
		m.logger.Info("channel open")
	case EventClosed:
		m.closed(ev.Err)
	case EventMessage:
		if m.state == StateOpen {
			return ev.Payload, true
		}
	}
	return nil, false
}

// closed tears down the current connection, clears the gate and schedules
// the next connection attempt.
func (m *Manager) closed(err error) {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	// Later events from the dropped connection are stale.
	m.generation++
	m.setState(StateClosed)
	m.gate.Release()

	if m.shutdown {
		return
	}

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Warn("channel closed", zap.Error(err), zap.Duration("reconnect_in", m.cfg.ReconnectDelay))
	} else {
		m.logger.Info("channel closed", zap.Duration("reconnect_in", m.cfg.ReconnectDelay))
	}
	m.metrics.IncrementReconnects()
	m.reconnect = m.sched.AfterFunc(m.cfg.ReconnectDelay, m.Connect)
}

// Send writes one text message. It fails with ErrChannelNotOpen when the
// channel is not open; a write failure closes the channel.
func (m *Manager) Send(payload []byte) error {
	if m.state != StateOpen || m.conn == nil {
		return ErrChannelNotOpen
	}

	if m.cfg.WriteTimeout > 0 {
		m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		m.closed(err)
		return fmt.Errorf("write to channel: %w", err)
	}
	return nil
}

// Close shuts the channel down for good and cancels any pending reconnect.
// It is idempotent.
func (m *Manager) Close() {
	if m.shutdown {
		return
	}
	m.shutdown = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.conn != nil {
		m.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	m.closed(nil)
	m.cancel()
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.SetChannelOpen(s == StateOpen)
	m.cfg.OnStateChange(s)
}
