package session

import "time"

type Status string

const (
	StatusIdle    Status = "idle"
	StatusOpening Status = "opening"
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
)

// Session is a point-in-time copy of one relay connection's record.
type Session struct {
	ID                string    `json:"session_id"`
	RemoteAddr        string    `json:"remote_addr,omitempty"`
	Status            Status    `json:"status"`
	InterruptionCount int       `json:"interruption_count"`
	ToolCallCount     int       `json:"tool_call_count"`
	FramesIn          int64     `json:"frames_in"`
	FramesOut         int64     `json:"frames_out"`
	StartedAt         time.Time `json:"started_at"`
	OpenedAt          time.Time `json:"opened_at,omitempty"`
	ClosedAt          time.Time `json:"closed_at,omitempty"`
}

// Summary is the registry view served on the sessions endpoint.
type Summary struct {
	Active   int       `json:"active"`
	Sessions []Session `json:"sessions"`
}
