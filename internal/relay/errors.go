package relay

import "errors"

var (
	ErrChannelNotOpen  = errors.New("channel not open")
	ErrSessionActive   = errors.New("session already active")
	ErrSessionInactive = errors.New("no active session")
	ErrNotReady        = errors.New("frame source or surface not ready")
	ErrRelayStopped    = errors.New("relay stopped")
)

// ErrorKind classifies failures surfaced on the status board.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	// ErrorTransport: channel closed or unreachable, recovered by reconnecting.
	ErrorTransport
	// ErrorService: explicit error signal from the service.
	ErrorService
	// ErrorPayload: malformed or undecodable result, frame dropped.
	ErrorPayload
	// ErrorSource: the frame source could not be acquired or sampled.
	ErrorSource
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return ""
	case ErrorTransport:
		return "transport"
	case ErrorService:
		return "service"
	case ErrorPayload:
		return "payload"
	case ErrorSource:
		return "source"
	default:
		return "unknown"
	}
}
