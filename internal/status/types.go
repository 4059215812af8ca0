// Package status defines data source lifecycle states and snapshot persistence.
package status

import "time"

// SourceStatus represents the lifecycle state of a single data source
type SourceStatus string

const (
	// StatusInit means the source is registered but has not been requested yet
	StatusInit SourceStatus = "init"

	// StatusLoading means a request for the source is in flight
	StatusLoading SourceStatus = "loading"

	// StatusLoaded means the last request succeeded
	StatusLoaded SourceStatus = "loaded"

	// StatusError means the last request failed
	StatusError SourceStatus = "error"
)

// IsSettled reports whether s is a terminal state of a request
func (s SourceStatus) IsSettled() bool {
	return s == StatusLoaded || s == StatusError
}

// SourceSnapshot is the persisted view of one data source
type SourceSnapshot struct {
	// Status is the lifecycle state at capture time
	Status SourceStatus `json:"status" yaml:"status"`

	// Data is the last (handler-transformed) payload
	Data any `json:"data,omitempty" yaml:"data,omitempty"`

	// Error is the message of the last failure, empty on success
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Snapshot captures every data source of an orchestrator at a point in time
type Snapshot struct {
	// CapturedAt is when the snapshot was taken
	CapturedAt time.Time `json:"capturedAt" yaml:"capturedAt"`

	// Sources maps source id to its state
	Sources map[string]SourceSnapshot `json:"sources" yaml:"sources"`
}

// Count returns the number of sources in each status
func (s *Snapshot) Count() map[SourceStatus]int {
	counts := make(map[SourceStatus]int)
	if s == nil {
		return counts
	}
	for _, src := range s.Sources {
		counts[src.Status]++
	}
	return counts
}
