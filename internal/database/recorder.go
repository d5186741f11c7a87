package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"go.uber.org/zap"
)

// Writer is the persistence side used by Recorder.
type Writer interface {
	CreateSession(ctx context.Context, s models.Session) error
	EndSession(ctx context.Context, s models.Session) error
	InsertEvent(ctx context.Context, e models.Event) error
}

const lifecycleBuffer = 64

type op struct {
	name string
	run  func(ctx context.Context, w Writer) error
}

// Recorder queues session writes and applies them on its own goroutine.
// Result events are dropped and counted when their queue is full. Session
// lifecycle writes are never dropped while Run is active: they wait for room
// and are applied ahead of queued events, so an event never precedes the
// session it references.
type Recorder struct {
	w         Writer
	ops       chan op
	lifecycle chan op
	timeout time.Duration
	logger  *zap.Logger

	dropped atomic.Int64
	failed  atomic.Int64
	done    chan struct{}
}

func NewRecorder(w Writer, buffer int, logger *zap.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		w:         w,
		ops:       make(chan op, buffer),
		lifecycle: make(chan op, lifecycleBuffer),
		timeout:   5 * time.Second,
		logger:    logger.Named("recorder"),
		done:      make(chan struct{}),
	}
}

func (r *Recorder) SessionStarted(s models.Session) {
	r.enqueueLifecycle(op{name: "create_session", run: func(ctx context.Context, w Writer) error {
		return w.CreateSession(ctx, s)
	}})
}

func (r *Recorder) SessionEnded(s models.Session) {
	r.enqueueLifecycle(op{name: "end_session", run: func(ctx context.Context, w Writer) error {
		return w.EndSession(ctx, s)
	}})
}

func (r *Recorder) ResultReceived(e models.Event) {
	r.enqueue(op{name: "insert_event", run: func(ctx context.Context, w Writer) error {
		return w.InsertEvent(ctx, e)
	}})
}

func (r *Recorder) enqueue(o op) {
	select {
	case r.ops <- o:
	default:
		r.dropped.Add(1)
		r.logger.Warn("recorder queue full, dropping write", zap.String("op", o.name))
	}
}

// enqueueLifecycle waits for queue room. Writes arriving after Run has
// returned are counted as dropped.
func (r *Recorder) enqueueLifecycle(o op) {
	select {
	case r.lifecycle <- o:
	case <-r.done:
		r.dropped.Add(1)
		r.logger.Warn("recorder stopped, dropping write", zap.String("op", o.name))
	}
}

// Run applies queued writes until ctx is done, then drains what is left.
// Lifecycle writes go first.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case o := <-r.lifecycle:
			r.apply(context.Background(), o)
			continue
		default:
		}

		select {
		case o := <-r.lifecycle:
			r.apply(context.Background(), o)
		case o := <-r.ops:
			r.apply(context.Background(), o)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

// Done is closed once Run has returned.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) drain() {
	for {
		select {
		case o := <-r.lifecycle:
			r.apply(context.Background(), o)
			continue
		default:
		}

		select {
		case o := <-r.ops:
			r.apply(context.Background(), o)
		default:
			return
		}
	}
}

func (r *Recorder) apply(parent context.Context, o op) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	if err := o.run(ctx, r.w); err != nil {
		r.failed.Add(1)
		r.logger.Error("recorder write failed", zap.String("op", o.name), zap.Error(err))
	}
}

func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}
