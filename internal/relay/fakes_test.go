package relay

import (
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/media"
	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"github.com/bkchaithanya285/ai-tracking/internal/services"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// manualScheduler fires callbacks only when the test advances its clock.
type manualScheduler struct {
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due callbacks in order.
func (s *manualScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		due := s.due(target)
		if due == nil {
			break
		}
		s.now = due.at
		due.fired = true
		due.f()
	}
	s.now = target
}

func (s *manualScheduler) due(target time.Duration) *manualTimer {
	pending := make([]*manualTimer, 0, len(s.timers))
	for _, t := range s.timers {
		if !t.fired && !t.stopped && t.at <= target {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].at < pending[j].at })
	return pending[0]
}

func (s *manualScheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fakeConn struct {
	mu           sync.Mutex
	sent         [][]byte
	writeErr     error
	controls     []int
	readDeadline time.Time
	pingHandler  func(string) error
	pongHandler  func(string) error
	// honorDeadline makes ReadMessage fail once the read deadline passes.
	honorDeadline bool

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	var expired <-chan time.Time
	if d := c.ReadDeadline(); c.honorDeadline && !d.IsZero() {
		timer := time.NewTimer(time.Until(d))
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case p := <-c.in:
		return websocket.TextMessage, p, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	case <-expired:
		return 0, nil, errors.New("i/o timeout")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.TextMessage {
		c.sent = append(c.sent, append([]byte(nil), data...))
	}
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetPingHandler(h func(string) error) {
	c.mu.Lock()
	c.pingHandler = h
	c.mu.Unlock()
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	c.pongHandler = h
	c.mu.Unlock()
}

func (c *fakeConn) handlers() (ping, pong func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingHandler, c.pongHandler
}

func (c *fakeConn) ReadDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDeadline
}

// Controls returns the control frame types written so far.
func (c *fakeConn) Controls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.controls...)
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, p := range c.sent {
		out[i] = string(p)
	}
	return out
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

type fakeDialer struct {
	mu            sync.Mutex
	fail          bool
	honorDeadline bool
	dials         int
	conns         []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	c.honorDeadline = d.honorDeadline
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []models.Session
	ended    []models.Session
	received []models.Event
}

func (f *fakeRecorder) SessionStarted(s models.Session) {
	f.mu.Lock()
	f.started = append(f.started, s)
	f.mu.Unlock()
}

func (f *fakeRecorder) SessionEnded(s models.Session) {
	f.mu.Lock()
	f.ended = append(f.ended, s)
	f.mu.Unlock()
}

func (f *fakeRecorder) ResultReceived(e models.Event) {
	f.mu.Lock()
	f.received = append(f.received, e)
	f.mu.Unlock()
}

func (f *fakeRecorder) Events() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Event(nil), f.received...)
}

type fakeSelector struct {
	reqs chan models.SelectionRequest
	err  error
}

func (f *fakeSelector) Select(ctx context.Context, req models.SelectionRequest) error {
	f.reqs <- req
	return f.err
}

type harness struct {
	relay    *Relay
	sched    *manualScheduler
	dialer   *fakeDialer
	recorder *fakeRecorder
	metrics  *services.Metrics
}

// newHarness builds a relay driven directly from the test goroutine, which
// plays the role of the relay goroutine.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sched:    &manualScheduler{},
		dialer:   &fakeDialer{},
		recorder: &fakeRecorder{},
		metrics:  services.NewMetrics(),
	}
	r, err := New(Options{
		ClientID:  "client-1",
		StreamURL: "ws://service.test/webcam/client-1",
		Dial:      h.dialer.Dial,
		Recorder:  h.recorder,
		Metrics:   h.metrics,
		Logger:    zap.NewNop(),
		Scheduler: h.sched,
	})
	require.NoError(t, err)
	h.relay = r
	t.Cleanup(func() {
		r.stopSession()
		r.manager.Close()
		r.renderer.Wait()
	})
	return h
}

// pump handles the next channel event.
func (h *harness) pump(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.relay.manager.Events():
		h.relay.handleEvent(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return Event{}
	}
}

func (h *harness) open(t *testing.T) *fakeConn {
	t.Helper()
	h.relay.manager.Connect()
	ev := h.pump(t)
	require.Equal(t, EventOpened, ev.Kind)
	require.True(t, h.relay.manager.IsOpen())
	return h.dialer.Last()
}

func (h *harness) start(t *testing.T) models.Session {
	t.Helper()
	sess, err := h.relay.startSession(media.NewPatternSource(media.PatternConfig{Width: 64, Height: 48, BoxSpeed: 10}))
	require.NoError(t, err)
	return sess
}

// deliver pushes a service message on conn and handles it.
func (h *harness) deliver(t *testing.T, conn *fakeConn, msg []byte) {
	t.Helper()
	conn.in <- msg
	ev := h.pump(t)
	require.Equal(t, EventMessage, ev.Kind)
}

func resultImage(t *testing.T, w, h int) string {
	t.Helper()
	payload, err := media.NewEncoder(50).EncodeImage(image.NewRGBA(image.Rect(0, 0, w, h)))
	require.NoError(t, err)
	return string(payload)
}
