// Package events records run lifecycle events. Events append to a SQLite
// store and may be mirrored onto a NATS subject for external consumers.
package events

import "time"

// Type enumerates run lifecycle event types.
type Type string

const (
	TypeRunStarted  Type = "run.started"
	TypeJobFinished Type = "job.finished"
	TypeRunFinished Type = "run.finished"
)

// Event is one recorded lifecycle event.
type Event struct {
	ID        int64             `json:"id,omitempty"`
	RunID     string            `json:"run_id"`
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   []byte            `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
