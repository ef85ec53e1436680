// ABOUTME: RecordingSession tracks the lifecycle of the capture loop
// ABOUTME: Exactly one active session exists at a time, owned by the Recording Controller
package models

import "time"

// CaptureMode selects where the screen grab executes.
type CaptureMode string

const (
	// ModeLocal grabs the screen in-process.
	ModeLocal CaptureMode = "local"
	// ModeRemote proxies grabs to a remote capture backend.
	ModeRemote CaptureMode = "remote"
)

// RecordingStatus is the controller state machine: stopped <-> running.
type RecordingStatus string

const (
	StatusStopped RecordingStatus = "stopped"
	StatusRunning RecordingStatus = "running"
)

// RecordingSession is the process-wide recording state. It is owned by the
// Recording Controller and injected where needed; there is no ambient global.
type RecordingSession struct {
	Mode      CaptureMode     `json:"mode"`
	Status    RecordingStatus `json:"status"`
	StartedAt time.Time       `json:"started_at,omitempty"`
}

// RecordingStats are the aggregate counters published with batch-refresh
// notifications.
type RecordingStats struct {
	TotalFrames    int64 `json:"total_frames"`
	AcceptedFrames int64 `json:"accepted_frames"`
	DroppedFrames  int64 `json:"dropped_frames"`
	DiskUsageBytes int64 `json:"disk_usage_bytes"`
}
