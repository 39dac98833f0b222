package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/runner"
)

// Publisher is the optional fan-out target for emitted events.
type Publisher interface {
	Publish(event Event)
}

// Emitter implements the orchestrator's event sink: every lifecycle event is
// appended to the store and optionally mirrored to a publisher.
type Emitter struct {
	store     *Store
	publisher Publisher
}

// NewEmitter creates an emitter backed by the given store.
func NewEmitter(store *Store) *Emitter {
	return &Emitter{store: store}
}

// WithPublisher attaches an external publisher (fluent helper).
func (e *Emitter) WithPublisher(p Publisher) *Emitter {
	e.publisher = p
	return e
}

// RunStarted records the start of a run.
func (e *Emitter) RunStarted(ctx context.Context, run *runner.RunResult) {
	payload, _ := json.Marshal(map[string]any{
		"pipeline": run.Pipeline,
		"jobs":     len(run.Jobs),
	})
	e.emit(ctx, run.ID, TypeRunStarted, payload, nil)
}

// JobFinished records one completed job.
func (e *Emitter) JobFinished(ctx context.Context, runID string, job runner.JobResult) {
	payload, err := json.Marshal(job)
	if err != nil {
		slog.Warn("Failed to marshal job result", logfields.RunID(runID), logfields.Error(err))
		return
	}
	e.emit(ctx, runID, TypeJobFinished, payload, map[string]string{
		"job":     job.Name,
		"channel": string(job.Channel),
		"status":  string(job.Status),
	})
}

// RunFinished records the aggregated run outcome.
func (e *Emitter) RunFinished(ctx context.Context, run *runner.RunResult) {
	payload, _ := json.Marshal(map[string]any{
		"status":      string(run.Status),
		"exit_code":   run.ExitCode,
		"duration_ms": run.Duration.Milliseconds(),
	})
	e.emit(ctx, run.ID, TypeRunFinished, payload, map[string]string{
		"status": string(run.Status),
	})
}

func (e *Emitter) emit(ctx context.Context, runID string, eventType Type, payload []byte, metadata map[string]string) {
	if err := e.store.Append(ctx, runID, eventType, payload, metadata); err != nil {
		slog.Warn("Failed to append event",
			logfields.RunID(runID),
			slog.String("type", string(eventType)),
			logfields.Error(err))
	}
	if e.publisher != nil {
		e.publisher.Publish(Event{
			RunID:     runID,
			Type:      eventType,
			Timestamp: time.Now(),
			Payload:   payload,
			Metadata:  metadata,
		})
	}
}
