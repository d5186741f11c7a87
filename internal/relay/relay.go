package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/media"
	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"github.com/bkchaithanya285/ai-tracking/internal/protocol"
	"github.com/bkchaithanya285/ai-tracking/internal/services"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recorder persists session lifecycle and observed results. Implementations
// must not block the caller.
type Recorder interface {
	SessionStarted(s models.Session)
	SessionEnded(s models.Session)
	ResultReceived(e models.Event)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(models.Session) {}
func (nopRecorder) SessionEnded(models.Session)   {}
func (nopRecorder) ResultReceived(models.Event)   {}

type Options struct {
	ClientID  string
	StreamURL string
	Dial      DialFunc

	TickInterval   time.Duration
	ReconnectDelay time.Duration
	ErrorCooldown  time.Duration
	WriteTimeout   time.Duration
	// PongWait is the longest the channel may stay silent before it is
	// treated as lost. Negative disables the keepalive.
	PongWait       time.Duration
	JPEGQuality    int

	Surface  *media.Surface
	Selector Selector
	Recorder Recorder
	Metrics  *services.Metrics
	Logger   *zap.Logger

	// Scheduler overrides how delayed callbacks are run. By default they are
	// posted back onto the relay goroutine.
	Scheduler Scheduler
}

// Relay is the streaming client. A single goroutine (Run) owns the gate, the
// channel manager and the session; every public method posts a closure onto
// that goroutine and waits for it.
type Relay struct {
	opts       Options
	logger     *zap.Logger
	metrics    *services.Metrics
	recorder   Recorder
	status     *StatusBoard
	surface    *media.Surface
	renderer   *media.Renderer
	encoder    *media.Encoder
	gate       *Gate
	manager    *Manager
	dispatcher *Dispatcher
	tracer     trace.Tracer

	tasks chan func()
	done  chan struct{}

	session   *models.Session
	source    media.Source
	ticker    *time.Ticker
	span      trace.Span
	streaming atomic.Bool
	started   time.Time
}

func New(opts Options) (*Relay, error) {
	if opts.StreamURL == "" {
		return nil, errors.New("relay: stream url is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.Dial == nil {
		opts.Dial = WebSocketDialer(10*time.Second, 0)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second / 60
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.ErrorCooldown <= 0 {
		opts.ErrorCooldown = 2 * time.Second
	}
	if opts.PongWait == 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.Surface == nil {
		opts.Surface = media.NewSurface()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Metrics == nil {
		opts.Metrics = services.NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := &Relay{
		opts:     opts,
		logger:   opts.Logger.With(zap.String("client_id", opts.ClientID)),
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		status:   NewStatusBoard(),
		surface:  opts.Surface,
		encoder:  media.NewEncoder(opts.JPEGQuality),
		tracer:   otel.Tracer("relay"),
		tasks:    make(chan func(), 16),
		done:     make(chan struct{}),
		started:  time.Now(),
	}

	sched := opts.Scheduler
	if sched == nil {
		sched = loopScheduler{tasks: r.tasks, done: r.done}
	}

	r.renderer = media.NewRenderer(r.surface, r.logger.Named("renderer"), r.onPainted)
	r.gate = NewGate(sched, r.onGateRelease)
	r.manager = NewManager(ManagerConfig{
		URL:            opts.StreamURL,
		Dial:           opts.Dial,
		ReconnectDelay: opts.ReconnectDelay,
		WriteTimeout:   opts.WriteTimeout,
		PongWait:       max(opts.PongWait, 0),
		OnStateChange:  r.onStateChange,
	}, r.gate, sched, r.metrics, r.logger)
	r.dispatcher = &Dispatcher{
		gate:     r.gate,
		cooldown: opts.ErrorCooldown,
		sink:     r.renderer,
		status:   r.status,
		recorder: r.recorder,
		metrics:  r.metrics,
		logger:   r.logger.Named("dispatcher"),
		session:  r.sessionID,
	}
	return r, nil
}

func (r *Relay) ClientID() string {
	return r.opts.ClientID
}

func (r *Relay) Status() Status {
	return r.status.Snapshot()
}

func (r *Relay) Surface() *media.Surface {
	return r.surface
}

func (r *Relay) Uptime() time.Duration {
	return time.Since(r.started)
}

// Run connects the channel and drives the relay until ctx is done. The
// session, if any, is stopped and the channel closed before Run returns.
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.shutdown()

	r.logger.Info("relay started", zap.String("url", r.opts.StreamURL))
	r.manager.Connect()

	fps := time.NewTicker(time.Second)
	defer fps.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.tickC():
			r.tick()
		case ev := <-r.manager.Events():
			r.handleEvent(ev)
		case fn := <-r.tasks:
			fn()
		case now := <-fps.C:
			r.sampleFPS(now)
		}
	}
}

func (r *Relay) shutdown() {
	r.stopSession()
	r.manager.Close()
	r.renderer.Wait()
	r.logger.Info("relay stopped")
}

// do runs fn on the relay goroutine and waits for it to finish.
func (r *Relay) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRelayStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRelayStopped
	}
}

// StartSession opens src and begins streaming from it. It fails with
// ErrSessionActive when a session is already running; the running session is
// left untouched.
func (r *Relay) StartSession(ctx context.Context, src media.Source) (models.Session, error) {
	var (
		sess models.Session
		err  error
	)
	if derr := r.do(ctx, func() { sess, err = r.startSession(src) }); derr != nil {
		return models.Session{}, derr
	}
	return sess, err
}

// StopSession halts streaming. Stopping an inactive relay is a no-op.
func (r *Relay) StopSession(ctx context.Context) error {
	return r.do(ctx, func() { r.stopSession() })
}

// SendCommand sends a control command on the channel. It fails with
// ErrChannelNotOpen while the channel is down.
func (r *Relay) SendCommand(ctx context.Context, cmd protocol.Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, cmd)
	}
	var err error
	if derr := r.do(ctx, func() { err = r.sendCommand(cmd) }); derr != nil {
		return derr
	}
	return err
}

// Select maps a click on the displayed surface to intrinsic coordinates and
// fires a selection request. The request is not awaited.
func (r *Relay) Select(ctx context.Context, click models.ClickRequest) (models.SelectionRequest, error) {
	var (
		req models.SelectionRequest
		err error
	)
	if derr := r.do(ctx, func() { req, err = r.prepareSelection(click) }); derr != nil {
		return models.SelectionRequest{}, derr
	}
	if err != nil {
		return models.SelectionRequest{}, err
	}

	if r.opts.Selector != nil {
		go func() {
			if err := r.opts.Selector.Select(context.WithoutCancel(ctx), req); err != nil {
				r.logger.Warn("selection request failed", zap.Error(err))
			}
		}()
	}
	return req, nil
}

func (r *Relay) startSession(src media.Source) (models.Session, error) {
	if r.session != nil {
		return *r.session, ErrSessionActive
	}
	if err := src.Open(); err != nil {
		r.status.SetError(ErrorSource, err.Error())
		r.logger.Error("failed to open frame source", zap.String("source", src.Name()), zap.Error(err))
		return models.Session{}, fmt.Errorf("start session: %w", err)
	}

	r.gate.Reset()
	r.session = &models.Session{
		ID:        uuid.NewString(),
		ClientID:  r.opts.ClientID,
		Source:    src.Name(),
		StartTime: time.Now(),
		Status:    models.SessionActive,
	}
	r.source = src
	r.streaming.Store(true)
	r.metrics.ResetFPS()

	r.status.SetSession(true, r.session.ID, src.Name())
	r.status.SetFPS(0)
	r.status.ShowOverlay(StatusStarting)
	r.recorder.SessionStarted(*r.session)

	r.ticker = time.NewTicker(r.opts.TickInterval)
	r.logger.Info("session started",
		zap.String("session_id", r.session.ID),
		zap.String("source", src.Name()),
	)
	return *r.session, nil
}

func (r *Relay) stopSession() {
	if r.session == nil {
		return
	}

	r.ticker.Stop()
	r.ticker = nil
	r.streaming.Store(false)

	if err := r.source.Close(); err != nil {
		r.logger.Warn("failed to close frame source", zap.Error(err))
	}

	end := time.Now()
	sess := *r.session
	sess.EndTime = &end
	sess.Status = models.SessionCompleted
	r.recorder.SessionEnded(sess)

	r.session = nil
	r.source = nil
	r.gate.Reset()
	r.renderer.Reset()
	r.metrics.ResetFPS()

	r.status.SetSession(false, "", "")
	r.status.SetFPS(0)
	r.status.SetCounters(0, protocol.NoTrackedClass)
	r.status.ShowOverlay(StatusStopped)

	r.logger.Info("session stopped",
		zap.String("session_id", sess.ID),
		zap.Duration("duration", end.Sub(sess.StartTime)),
	)
}

func (r *Relay) sessionID() string {
	if r.session == nil {
		return ""
	}
	return r.session.ID
}

func (r *Relay) sendCommand(cmd protocol.Command) error {
	if !r.manager.IsOpen() {
		return ErrChannelNotOpen
	}
	if err := r.manager.Send(protocol.EncodeControl(cmd)); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	r.logger.Info("control command sent", zap.String("command", string(cmd)))
	return nil
}

func (r *Relay) prepareSelection(click models.ClickRequest) (models.SelectionRequest, error) {
	if r.session == nil {
		return models.SelectionRequest{}, ErrSessionInactive
	}
	w, h := r.surface.Size()
	if !r.source.HasEnoughData() || w == 0 || h == 0 {
		return models.SelectionRequest{}, ErrNotReady
	}
	return buildSelection(click, Size{Width: float64(w), Height: float64(h)}, r.opts.ClientID)
}

func (r *Relay) tickC() <-chan time.Time {
	if r.ticker == nil {
		return nil
	}
	return r.ticker.C
}

// tick is one iteration of the streaming loop.
func (r *Relay) tick() {
	if r.session == nil {
		return
	}
	if !r.manager.IsOpen() {
		r.status.ShowOverlay(StatusConnecting)
		return
	}
	if !r.source.HasFrame() {
		r.status.ShowOverlay(StatusBuffering)
		return
	}
	if r.gate.InFlight() {
		r.metrics.IncrementFramesDropped()
		return
	}

	payload, err := r.encoder.Encode(r.source)
	if err != nil {
		if errors.Is(err, media.ErrNoFrame) {
			r.status.ShowOverlay(StatusBuffering)
			return
		}
		r.status.ShowOverlay(encodeErrorPrefix + err.Error())
		r.status.SetError(ErrorSource, err.Error())
		r.logger.Warn("failed to encode frame", zap.Error(err))
		return
	}

	if err := r.manager.Send(payload); err != nil {
		r.status.SetError(ErrorTransport, err.Error())
		r.logger.Warn("failed to send frame", zap.Error(err))
		return
	}

	r.gate.Acquire()
	_, r.span = r.tracer.Start(context.Background(), "frame.round_trip",
		trace.WithAttributes(
			attribute.String("session.id", r.session.ID),
			attribute.Int("frame.bytes", len(payload)),
		),
	)
	r.metrics.IncrementFramesSent()
}

func (r *Relay) handleEvent(ev Event) {
	if payload, ok := r.manager.Handle(ev); ok {
		r.dispatcher.Dispatch(payload)
	}
}

func (r *Relay) sampleFPS(now time.Time) {
	if r.session == nil {
		return
	}
	r.status.SetFPS(r.metrics.SampleFPS(now))
}

func (r *Relay) onGateRelease(held time.Duration) {
	r.metrics.RecordLatency(held)
	if r.span != nil {
		r.span.End()
		r.span = nil
	}
}

func (r *Relay) onStateChange(s State) {
	r.status.SetChannel(s)
	switch s {
	case StateOpen:
		r.status.SetError(ErrorNone, "")
	case StateClosed:
		r.status.SetError(ErrorTransport, "channel closed")
		if r.session != nil {
			r.status.ShowOverlay(StatusConnecting)
		}
	}
}

// onPainted runs on renderer goroutines.
func (r *Relay) onPainted() {
	r.metrics.IncrementFramesRendered()
	if r.streaming.Load() {
		r.status.HideOverlay()
	}
}
