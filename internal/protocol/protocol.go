// Package protocol implements the text wire format spoken on the streaming
// channel and maps it onto a tagged Envelope.
//
// Client to service:
//
//	data:image/jpeg;base64,<...>   frame payload
//	control:toggle_blur            command
//	control:clear_focus            command
//
// Service to client:
//
//	cmd:error[:<detail>]           error signal
//	{"image": ..., ...}            frame result
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	ControlPrefix = "control:"
	ServicePrefix = "cmd:"

	errorSubtype = "error"

	// NoTrackedClass is the service sentinel for "nothing is tracked".
	NoTrackedClass = "None"
	NoTrackingID   = -1

	jpegDataURLPrefix = "data:image/jpeg;base64,"
)

var (
	ErrMalformedResult  = errors.New("malformed frame result")
	ErrMalformedDataURL = errors.New("malformed data url")
	ErrUnknownCommand   = errors.New("unknown control command")
)

// Kind discriminates inbound messages.
type Kind int

const (
	KindFrameResult Kind = iota
	KindError
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindFrameResult:
		return "frame_result"
	case KindError:
		return "error"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Command is a client to service control instruction.
type Command string

const (
	CommandToggleBlur Command = "toggle_blur"
	CommandClearFocus Command = "clear_focus"
)

func (c Command) Valid() bool {
	return c == CommandToggleBlur || c == CommandClearFocus
}

// FrameResult is the structured payload returned for a processed frame.
type FrameResult struct {
	Image         string `json:"image"`
	DetectedCount int    `json:"detected_count"`
	TrackedClass  string `json:"tracked_class"`
	TrackingID    int    `json:"tracking_id"`
}

// Tracking reports whether the service is following a selected entity.
func (r *FrameResult) Tracking() bool {
	return r.TrackedClass != "" && r.TrackedClass != NoTrackedClass
}

// TrackedLabel renders the tracked entity as shown on the status surface.
func (r *FrameResult) TrackedLabel() string {
	if !r.Tracking() {
		return NoTrackedClass
	}
	return fmt.Sprintf("%s (%d)", r.TrackedClass, r.TrackingID)
}

// Envelope is a classified inbound message.
type Envelope struct {
	Kind Kind
	// Subtype is the raw control name for KindControl.
	Subtype string
	// Detail is the optional human readable text of a KindError.
	Detail string
	Result *FrameResult
}

// Decode classifies a raw service message. A non-nil error is only returned
// for messages that look like frame results but cannot be parsed; the
// returned envelope still carries KindFrameResult in that case.
func Decode(raw []byte) (Envelope, error) {
	if bytes.HasPrefix(raw, []byte(ServicePrefix)) {
		rest := string(raw[len(ServicePrefix):])
		switch {
		case rest == errorSubtype:
			return Envelope{Kind: KindError}, nil
		case strings.HasPrefix(rest, errorSubtype+":"):
			return Envelope{Kind: KindError, Detail: rest[len(errorSubtype)+1:]}, nil
		default:
			return Envelope{Kind: KindControl, Subtype: rest}, nil
		}
	}

	var result FrameResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Envelope{Kind: KindFrameResult}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if result.Image == "" {
		return Envelope{Kind: KindFrameResult}, fmt.Errorf("%w: missing image", ErrMalformedResult)
	}
	return Envelope{Kind: KindFrameResult, Result: &result}, nil
}

// EncodeFrame wraps JPEG bytes into the data URL sent on the channel.
func EncodeFrame(jpeg []byte) []byte {
	out := make([]byte, len(jpegDataURLPrefix)+base64.StdEncoding.EncodedLen(len(jpeg)))
	n := copy(out, jpegDataURLPrefix)
	base64.StdEncoding.Encode(out[n:], jpeg)
	return out
}

func EncodeControl(cmd Command) []byte {
	return []byte(ControlPrefix + string(cmd))
}

// DecodeControl parses a client control message. ok is false when raw is not
// a control message at all.
func DecodeControl(raw []byte) (cmd Command, ok bool, err error) {
	if !bytes.HasPrefix(raw, []byte(ControlPrefix)) {
		return "", false, nil
	}
	name := string(raw[len(ControlPrefix):])
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	cmd = Command(name)
	if !cmd.Valid() {
		return cmd, true, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return cmd, true, nil
}

func EncodeError(detail string) []byte {
	if detail == "" {
		return []byte(ServicePrefix + errorSubtype)
	}
	return []byte(ServicePrefix + errorSubtype + ":" + detail)
}

func EncodeResult(r FrameResult) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeDataURL extracts the media type and payload of a base64 data URL.
func DecodeDataURL(s string) (mediaType string, data []byte, err error) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", nil, fmt.Errorf("%w: missing data: scheme", ErrMalformedDataURL)
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", nil, fmt.Errorf("%w: missing payload separator", ErrMalformedDataURL)
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: payload is not base64", ErrMalformedDataURL)
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return mediaType, data, nil
}
