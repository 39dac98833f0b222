package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/runner"
)

// Trigger identifies what caused a run request.
type Trigger string

const (
	TriggerManual    Trigger = "manual"    // Manually triggered run
	TriggerScheduled Trigger = "scheduled" // Cron- or interval-triggered run
	TriggerAPI       Trigger = "api"       // Run requested via the HTTP API
)

// RequestStatus is the lifecycle state of a queued run request.
type RequestStatus string

const (
	RequestStatusQueued    RequestStatus = "queued"
	RequestStatusRunning   RequestStatus = "running"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusFailed    RequestStatus = "failed"
	RequestStatusCanceled  RequestStatus = "canceled"
)

// RunRequest is a single pending or completed run in the queue.
type RunRequest struct {
	ID          string        `json:"id"`
	Trigger     Trigger       `json:"trigger"`
	Schedule    string        `json:"schedule,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	RunID       string        `json:"run_id,omitempty"`
	ExitCode    int           `json:"exit_code,omitempty"`
	Error       string        `json:"error,omitempty"`

	cancel context.CancelFunc
}

// NewRunRequest creates a queued request with a fresh ID.
func NewRunRequest(trigger Trigger, schedule string) *RunRequest {
	return &RunRequest{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Schedule:  schedule,
		Status:    RequestStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Launcher executes one run request and returns the aggregated result.
type Launcher interface {
	Launch(ctx context.Context, req *RunRequest) (*runner.RunResult, error)
}

// RunQueue serializes run requests onto a bounded channel drained by a fixed
// worker pool.
type RunQueue struct {
	requests    chan *RunRequest
	workers     int
	maxSize     int
	mu          sync.RWMutex
	active      map[string]*RunRequest
	history     []*RunRequest
	historySize int
	stopChan    chan struct{}
	wg          sync.WaitGroup
	launcher    Launcher
}

// NewRunQueue creates a run queue with the given capacity and worker count.
func NewRunQueue(maxSize, workers, historySize int, launcher Launcher) *RunQueue {
	if maxSize <= 0 {
		maxSize = 16
	}
	if workers <= 0 {
		workers = 1
	}
	if historySize <= 0 {
		historySize = 50
	}

	return &RunQueue{
		requests:    make(chan *RunRequest, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		active:      make(map[string]*RunRequest),
		history:     make([]*RunRequest, 0),
		historySize: historySize,
		stopChan:    make(chan struct{}),
		launcher:    launcher,
	}
}

// Start begins processing requests with the configured number of workers.
func (q *RunQueue) Start(ctx context.Context) {
	slog.Info("Starting run queue", "workers", q.workers, "max_size", q.maxSize)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop cancels active runs and waits for the workers to drain.
func (q *RunQueue) Stop(ctx context.Context) {
	slog.Info("Stopping run queue")

	close(q.stopChan)

	q.mu.Lock()
	for _, req := range q.active {
		if req.cancel != nil {
			req.cancel()
		}
	}
	q.mu.Unlock()

	q.wg.Wait()
	slog.Info("Run queue stopped")
}

// Enqueue adds a run request to the queue. Returns an error when the queue is
// full so callers can surface back-pressure instead of blocking.
func (q *RunQueue) Enqueue(req *RunRequest) error {
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if req.ID == "" {
		return fmt.Errorf("request ID is required")
	}

	req.Status = RequestStatusQueued

	select {
	case q.requests <- req:
		slog.Info("Run request enqueued",
			slog.String("request_id", req.ID),
			slog.String("trigger", string(req.Trigger)))
		return nil
	default:
		return fmt.Errorf("run queue is full")
	}
}

// Length returns the number of queued, not yet started requests.
func (q *RunQueue) Length() int {
	return len(q.requests)
}

// ActiveRequests returns a snapshot of running requests. The snapshot holds
// value copies: workers keep mutating the live requests under the lock, so
// handing out the pointers would let readers observe those writes unlocked.
func (q *RunQueue) ActiveRequests() []RunRequest {
	q.mu.RLock()
	defer q.mu.RUnlock()

	active := make([]RunRequest, 0, len(q.active))
	for _, req := range q.active {
		active = append(active, *req)
	}
	return active
}

// History returns value copies of recent completed requests, oldest first.
func (q *RunQueue) History() []RunRequest {
	q.mu.RLock()
	defer q.mu.RUnlock()

	history := make([]RunRequest, 0, len(q.history))
	for _, req := range q.history {
		history = append(history, *req)
	}
	return history
}

func (q *RunQueue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()

	slog.Debug("Run worker started", logfields.Worker(workerID))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Run worker stopped by context", logfields.Worker(workerID))
			return
		case <-q.stopChan:
			slog.Debug("Run worker stopped by stop signal", logfields.Worker(workerID))
			return
		case req := <-q.requests:
			if req != nil {
				q.processRequest(ctx, req, workerID)
			}
		}
	}
}

// processRequest runs one request from start to history. Every write to the
// shared request happens under q.mu so status snapshots stay race-free.
func (q *RunQueue) processRequest(ctx context.Context, req *RunRequest, workerID string) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startTime := time.Now()
	q.mu.Lock()
	req.cancel = cancel
	req.StartedAt = &startTime
	req.Status = RequestStatusRunning
	q.active[req.ID] = req
	q.mu.Unlock()

	slog.Info("Run request started",
		slog.String("request_id", req.ID),
		slog.String("trigger", string(req.Trigger)),
		logfields.Worker(workerID))

	result, err := q.launcher.Launch(runCtx, req)

	endTime := time.Now()
	duration := endTime.Sub(startTime)

	status := RequestStatusCompleted
	errMsg := ""
	switch {
	case err != nil:
		status = RequestStatusFailed
		errMsg = err.Error()
	case result != nil && result.Status == runner.RunStatusCanceled:
		status = RequestStatusCanceled
	case result != nil && result.Status == runner.RunStatusFailed:
		status = RequestStatusFailed
		errMsg = fmt.Sprintf("run failed with exit code %d", result.ExitCode)
	}

	q.mu.Lock()
	req.CompletedAt = &endTime
	req.Duration = duration
	if result != nil {
		req.RunID = result.ID
		req.ExitCode = result.ExitCode
	}
	req.Status = status
	req.Error = errMsg
	delete(q.active, req.ID)
	q.addToHistory(req)
	q.mu.Unlock()

	switch status {
	case RequestStatusFailed:
		if err != nil {
			slog.Error("Run request failed",
				slog.String("request_id", req.ID),
				logfields.DurationMS(float64(duration.Milliseconds())),
				logfields.Error(err))
		} else {
			slog.Error("Run request finished with failure",
				slog.String("request_id", req.ID),
				logfields.RunID(result.ID),
				logfields.ExitCode(result.ExitCode),
				logfields.DurationMS(float64(duration.Milliseconds())))
		}
	case RequestStatusCanceled:
		slog.Warn("Run request canceled", slog.String("request_id", req.ID))
	default:
		slog.Info("Run request completed",
			slog.String("request_id", req.ID),
			logfields.DurationMS(float64(duration.Milliseconds())))
	}
}

// addToHistory appends a finished request, trimming to the size limit.
// Caller holds the lock.
func (q *RunQueue) addToHistory(req *RunRequest) {
	q.history = append(q.history, req)

	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}
