package relay

import (
	"testing"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/services"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, dialer *fakeDialer, pongWait time.Duration) (*Manager, *Gate, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	gate := NewGate(sched, nil)
	m := NewManager(ManagerConfig{
		URL:            "ws://service.test/webcam/client-1",
		Dial:           dialer.Dial,
		ReconnectDelay: 3 * time.Second,
		PongWait:       pongWait,
	}, gate, sched, services.NewMetrics(), zap.NewNop())
	t.Cleanup(m.Close)
	return m, gate, sched
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return Event{}
	}
}

func TestKeepaliveArmsReadDeadline(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, dialer, time.Minute)

	m.Connect()
	m.Handle(nextEvent(t, m))
	require.True(t, m.IsOpen())

	conn := dialer.Last()
	assert.WithinDuration(t, time.Now().Add(time.Minute), conn.ReadDeadline(), 5*time.Second)

	ping, pong := conn.handlers()
	require.NotNil(t, ping)
	require.NotNil(t, pong)

	conn.SetReadDeadline(time.Time{})
	require.NoError(t, ping("hb"))
	assert.False(t, conn.ReadDeadline().IsZero())
	assert.Contains(t, conn.Controls(), websocket.PongMessage)

	conn.SetReadDeadline(time.Time{})
	require.NoError(t, pong(""))
	assert.False(t, conn.ReadDeadline().IsZero())
}

func TestKeepaliveExtendsDeadlineOnMessage(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, dialer, time.Minute)

	m.Connect()
	m.Handle(nextEvent(t, m))
	conn := dialer.Last()

	conn.SetReadDeadline(time.Time{})
	conn.in <- []byte("cmd:error")
	ev := nextEvent(t, m)
	require.Equal(t, EventMessage, ev.Kind)

	require.Eventually(t, func() bool { return !conn.ReadDeadline().IsZero() }, time.Second, 5*time.Millisecond)
}

func TestKeepalivePingsService(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, dialer, 40*time.Millisecond)

	m.Connect()
	m.Handle(nextEvent(t, m))
	conn := dialer.Last()

	assert.Eventually(t, func() bool {
		for _, c := range conn.Controls() {
			if c == websocket.PingMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSilentChannelIsClosed(t *testing.T) {
	dialer := &fakeDialer{honorDeadline: true}
	m, gate, sched := newTestManager(t, dialer, 50*time.Millisecond)

	m.Connect()
	m.Handle(nextEvent(t, m))
	require.True(t, m.IsOpen())
	gate.Acquire()

	ev := nextEvent(t, m)
	require.Equal(t, EventClosed, ev.Kind)
	require.Error(t, ev.Err)
	m.Handle(ev)

	assert.Equal(t, StateClosed, m.State())
	assert.False(t, gate.InFlight())
	assert.Equal(t, 1, sched.Pending())

	sched.Advance(3 * time.Second)
	assert.Equal(t, StateConnecting, m.State())
	assert.Eventually(t, func() bool { return dialer.Dials() == 2 }, time.Second, 5*time.Millisecond)
}

func TestKeepaliveDisabled(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, dialer, 0)

	m.Connect()
	m.Handle(nextEvent(t, m))
	conn := dialer.Last()

	assert.True(t, conn.ReadDeadline().IsZero())
	ping, pong := conn.handlers()
	assert.Nil(t, ping)
	assert.Nil(t, pong)
}
