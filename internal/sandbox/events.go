package sandbox

import (
	"time"
)

// State is the lifecycle state of a session
type State string

const (
	StateRunning       State = "RUNNING"
	StateAwaitingInput State = "AWAITING_INPUT"
	StateTerminated    State = "TERMINATED"
)

// EventType identifies what a session event carries
type EventType string

const (
	EventOutput         EventType = "output"
	EventState          EventType = "state"
	EventResourceSample EventType = "resource_sample"
	EventCompleted      EventType = "completed"
)

// Event is one observation delivered to session subscribers. Sequence numbers
// are per-session and strictly increasing in delivery order.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id"`
	Sequence  int               `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
	Output    string            `json:"output,omitempty"`
	State     State             `json:"state,omitempty"`
	Sample    *ResourceSample   `json:"sample,omitempty"`
	Completed *CompletedPayload `json:"completed,omitempty"`
}

// ResourceSample is one periodic measurement of the sandboxed process.
// Metrics that cannot be collected on the platform are zero.
type ResourceSample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	VSZBytes   uint64    `json:"vsz_bytes"`
	Threads    int       `json:"threads"`
	OpenFDs    int       `json:"open_fds"`
}

// CompletedPayload is emitted exactly once when a session ends
type CompletedPayload struct {
	ExitCode   int    `json:"exit_code"`
	Stopped    bool   `json:"stopped"`
	Transcript string `json:"transcript"`
	DurationMS int64  `json:"duration_ms"`
}
