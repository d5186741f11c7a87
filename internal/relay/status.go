package relay

import "sync"

// Overlay texts shown while the stream is degraded.
const (
	StatusStarting     = "Starting Stream..."
	StatusConnecting   = "Connecting to Backend..."
	StatusBuffering    = "Buffering Stream..."
	StatusBackendError = "Backend Error - Retrying..."
	StatusParseError   = "Data Parse Error"
	StatusStopped      = "Camera Stopped"

	serviceErrorPrefix = "Python Error: "
	encodeErrorPrefix  = "Canvas Error: "
)

// Status is a point-in-time copy of the user facing status surface.
type Status struct {
	Online         bool   `json:"online"`
	Channel        string `json:"channel"`
	Streaming      bool   `json:"streaming"`
	SessionID      string `json:"session_id,omitempty"`
	Source         string `json:"source,omitempty"`
	Overlay        string `json:"overlay,omitempty"`
	OverlayVisible bool   `json:"overlay_visible"`
	DetectedCount  int    `json:"detected_count"`
	TrackedLabel   string `json:"tracked"`
	FPS            int    `json:"fps"`
	LastError      string `json:"last_error,omitempty"`
	LastErrorKind  string `json:"last_error_kind,omitempty"`
}

// StatusBoard is written by the relay goroutine and read by HTTP handlers.
type StatusBoard struct {
	mu sync.RWMutex
	s  Status
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{s: Status{Channel: StateClosed.String(), TrackedLabel: "None"}}
}

func (b *StatusBoard) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}

func (b *StatusBoard) update(fn func(s *Status)) {
	b.mu.Lock()
	fn(&b.s)
	b.mu.Unlock()
}

func (b *StatusBoard) SetChannel(state State) {
	b.update(func(s *Status) {
		s.Channel = state.String()
		s.Online = state == StateOpen
	})
}

func (b *StatusBoard) ShowOverlay(text string) {
	b.update(func(s *Status) {
		s.Overlay = text
		s.OverlayVisible = true
	})
}

func (b *StatusBoard) HideOverlay() {
	b.update(func(s *Status) { s.OverlayVisible = false })
}

func (b *StatusBoard) SetCounters(detected int, tracked string) {
	b.update(func(s *Status) {
		s.DetectedCount = detected
		s.TrackedLabel = tracked
	})
}

func (b *StatusBoard) SetError(kind ErrorKind, msg string) {
	b.update(func(s *Status) {
		s.LastError = msg
		s.LastErrorKind = kind.String()
	})
}

func (b *StatusBoard) SetFPS(fps int) {
	b.update(func(s *Status) { s.FPS = fps })
}

func (b *StatusBoard) SetSession(streaming bool, id, source string) {
	b.update(func(s *Status) {
		s.Streaming = streaming
		s.SessionID = id
		s.Source = source
	})
}
