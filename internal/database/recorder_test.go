package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWriter struct {
	mu       sync.Mutex
	calls    []string
	sessions map[string]models.Session
	events   []models.Event
	block    chan struct{}
	err      error
}

func newMemWriter() *memWriter {
	return &memWriter{sessions: make(map[string]models.Session)}
}

func (m *memWriter) wait() {
	if m.block != nil {
		<-m.block
	}
}

func (m *memWriter) CreateSession(ctx context.Context, s models.Session) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "create")
	m.sessions[s.ID] = s
	return m.err
}

func (m *memWriter) EndSession(ctx context.Context, s models.Session) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "end")
	m.sessions[s.ID] = s
	return m.err
}

func (m *memWriter) InsertEvent(ctx context.Context, e models.Event) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "event")
	m.events = append(m.events, e)
	return m.err
}

func (m *memWriter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func TestRecorderAppliesWritesInOrder(t *testing.T) {
	w := newMemWriter()
	rec := NewRecorder(w, 16, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	sess := models.Session{ID: "s1", ClientID: "c1", Source: "pattern", StartTime: time.Now(), Status: models.SessionActive}
	rec.SessionStarted(sess)
	rec.ResultReceived(models.Event{SessionID: "s1", DetectedCount: 2, TrackedClass: "None", TrackingID: -1})
	end := time.Now()
	sess.EndTime = &end
	sess.Status = models.SessionCompleted
	rec.SessionEnded(sess)

	require.Eventually(t, func() bool { return len(w.Calls()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-rec.Done()

	calls := w.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "create", calls[0])
	assert.ElementsMatch(t, []string{"create", "event", "end"}, calls)
	assert.Equal(t, models.SessionCompleted, w.sessions["s1"].Status)
	assert.Zero(t, rec.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	w := newMemWriter()
	rec := NewRecorder(w, 2, zap.NewNop())

	// Nothing consumes the queue yet.
	for i := 0; i < 5; i++ {
		rec.ResultReceived(models.Event{SessionID: "s1", DetectedCount: i})
	}
	assert.Equal(t, int64(3), rec.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Len(t, w.Calls(), 2)
}

func TestRecorderKeepsLifecycleWhenFull(t *testing.T) {
	w := newMemWriter()
	rec := NewRecorder(w, 1, zap.NewNop())

	rec.ResultReceived(models.Event{SessionID: "s0"})
	rec.SessionStarted(models.Session{ID: "s1"})
	for i := 0; i < 4; i++ {
		rec.ResultReceived(models.Event{SessionID: "s1", DetectedCount: i})
	}
	rec.SessionEnded(models.Session{ID: "s1", Status: models.SessionCompleted})
	assert.Equal(t, int64(4), rec.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, []string{"create", "end", "event"}, w.Calls())
	assert.Equal(t, models.SessionCompleted, w.sessions["s1"].Status)
}

func TestRecorderAppliesSessionBeforeItsEvents(t *testing.T) {
	w := newMemWriter()
	w.block = make(chan struct{})
	rec := NewRecorder(w, 8, zap.NewNop())

	// The first write stalls the worker while the rest queue up behind it.
	rec.ResultReceived(models.Event{SessionID: "s0"})
	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)
	require.Eventually(t, func() bool { return len(rec.ops) == 0 }, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		rec.ResultReceived(models.Event{SessionID: "s0"})
	}
	rec.SessionStarted(models.Session{ID: "s1"})
	close(w.block)

	require.Eventually(t, func() bool { return len(w.Calls()) == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	<-rec.Done()

	assert.Equal(t, "create", w.Calls()[1])
}

func TestRecorderEnqueueNeverBlocks(t *testing.T) {
	w := newMemWriter()
	w.block = make(chan struct{})
	rec := NewRecorder(w, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			rec.ResultReceived(models.Event{SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a stalled writer")
	}

	close(w.block)
	cancel()
	<-rec.Done()
	assert.Positive(t, rec.Dropped())
}

func TestRecorderCountsFailures(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("connection reset")
	rec := NewRecorder(w, 4, zap.NewNop())

	rec.SessionStarted(models.Session{ID: "s1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	assert.Equal(t, int64(1), rec.Failed())
}
