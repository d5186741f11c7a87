package models

// SelectionRequest is posted to the service selection endpoint. Coordinates
// are in the frame's intrinsic pixel space.
type SelectionRequest struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	ClientID string  `json:"client_id"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status         string `json:"status"`
	Channel        string `json:"channel"`
	ServiceHealthy *bool  `json:"service_healthy,omitempty"`
	Streaming      bool   `json:"streaming"`
	ClientID       string `json:"client_id"`
	UptimeSec      int64  `json:"uptime_sec"`
	Version        string `json:"version,omitempty"`
}
