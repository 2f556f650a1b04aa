// Package events records the structured event log of a run. Events from
// concurrent workers are funnelled through one channel and written to the
// sink in arrival order by a single goroutine.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names used across the pipeline.
const (
	RunStarted         = "run_started"
	RunFailed          = "run_failed"
	RunFinished        = "run_finished"
	DocumentsIngested  = "documents_ingested"
	StageStarted       = "stage_started"
	StageProgress      = "stage_progress"
	StageFinished      = "stage_finished"
	SectionSucceeded   = "section_succeeded"
	SectionFailed      = "section_failed"
	ArtifactSaved      = "artifact_saved"
	ArtifactFailed     = "artifact_save_failed"
	NotificationSent   = "notification_sent"
	NotificationFailed = "notification_failed"
)

type Event struct {
	ID        string                 `firestore:"id" json:"id"`
	Timestamp time.Time              `firestore:"timestamp" json:"timestamp"`
	User      string                 `firestore:"user" json:"user"`
	RunID     string                 `firestore:"runId" json:"runId"`
	Name      string                 `firestore:"name" json:"name"`
	Fields    map[string]interface{} `firestore:"fields,omitempty" json:"fields,omitempty"`
}

// Sink persists events. Errors are logged by the Recorder and otherwise ignored.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Timing is one entry of the elapsed-time log.
type Timing struct {
	Label   string
	Elapsed time.Duration
}

const (
	queueSize    = 64
	writeTimeout = 10 * time.Second
)

type Recorder struct {
	sink  Sink
	user  string
	runID string
	now   func() time.Time
	start time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	drained chan struct{}

	timingsMu sync.Mutex
	timings   []Timing
}

// NewRecorder starts a recorder for one run. Close must be called to flush
// pending events.
func NewRecorder(sink Sink, runID, user string) *Recorder {
	r := &Recorder{
		sink:    sink,
		user:    user,
		runID:   runID,
		now:     time.Now,
		queue:   make(chan Event, queueSize),
		drained: make(chan struct{}),
	}
	r.start = r.now()
	go r.drain()
	return r
}

// Record queues an event. It is safe for concurrent use; events recorded
// after Close are dropped.
func (r *Recorder) Record(name string, fields map[string]interface{}) {
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: r.now().UTC(),
		User:      r.user,
		RunID:     r.runID,
		Name:      name,
		Fields:    fields,
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		slog.Warn("Event recorded after close, dropping", "runId", r.runID, "event", name)
		return
	}
	r.queue <- ev
}

// Mark appends label to the elapsed-time log and returns the time since the
// recorder started.
func (r *Recorder) Mark(label string) time.Duration {
	elapsed := r.now().Sub(r.start)
	r.timingsMu.Lock()
	r.timings = append(r.timings, Timing{Label: label, Elapsed: elapsed})
	r.timingsMu.Unlock()
	return elapsed
}

func (r *Recorder) Timings() []Timing {
	r.timingsMu.Lock()
	defer r.timingsMu.Unlock()
	out := make([]Timing, len(r.timings))
	copy(out, r.timings)
	return out
}

// Close stops accepting events and waits for queued ones to be written, or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) drain() {
	defer close(r.drained)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.Write(ctx, ev); err != nil {
			slog.Warn("Failed to write event", "runId", ev.RunID, "event", ev.Name, "error", err)
		}
		cancel()
	}
}
