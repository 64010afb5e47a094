// Package types provides JSON output types for ibuild.
//
// This package is intended for use by external applications that want to
// parse ibuild's JSON output programmatically.
//
// Example usage:
//
//	import "github.com/frostyard/ibuild/pkg/types"
//
//	var event types.ProgressEvent
//	json.Unmarshal(line, &event)
package types

// EventType represents the type of progress event.
type EventType string

const (
	EventTypeStep     EventType = "step"
	EventTypeMessage  EventType = "message"
	EventTypeWarning  EventType = "warning"
	EventTypeError    EventType = "error"
	EventTypeComplete EventType = "complete"
)

// ProgressEvent represents a single line of JSON Lines output for streaming
// progress from a bootstrap run.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	Timestamp  string    `json:"timestamp"`
	Step       int       `json:"step,omitzero"`
	TotalSteps int       `json:"total_steps,omitzero"`
	StepName   string    `json:"step_name,omitempty"`
	Message    string    `json:"message,omitempty"`
	Details    any       `json:"details,omitempty"`
}

// BootstrapResult is the JSON summary emitted on successful completion of
// `ibuild bootstrap`, describing the disk that was produced.
type BootstrapResult struct {
	Device        string `json:"device"`
	TargetPath    string `json:"target_path"`
	RootPartition string `json:"root_partition"`
	RootUUID      string `json:"root_uuid"`
	DiskID        string `json:"disk_id"`
	SizeBytes     int64  `json:"size_bytes,omitzero"`
	SizeHuman     string `json:"size_human,omitempty"`
}
