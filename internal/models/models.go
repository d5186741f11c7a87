package models

import "time"

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

type Session struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"client_id"`
	Source    string     `json:"source"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Status    string     `json:"status"`
}

// Event is one frame result observed during a session.
type Event struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	DetectedCount int       `json:"detected_count"`
	TrackedClass  string    `json:"tracked_class"`
	TrackingID    int       `json:"tracking_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type StartSessionRequest struct {
	Source string `json:"source"`
	Path   string `json:"path,omitempty"`
}

// ClickRequest is a pointer-down event on the display surface. X and Y are
// local to the surface as laid out on screen, DisplayWidth and DisplayHeight
// its on-screen size.
type ClickRequest struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	DisplayWidth  float64 `json:"display_width"`
	DisplayHeight float64 `json:"display_height"`
}
