package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/pkg/jobs"
)

// JobTypeSync is the job type dispatched for sync triggers.
const JobTypeSync = "attendance_sync"

// ErrSyncInFlight is returned when a pass is already running.
var ErrSyncInFlight = errors.New("sync already in progress")

type triggerQueue interface {
	TryEnqueue(job jobs.Job) error
}

// Runner guards the engine so only one pass runs at a time and fans progress
// out to listeners such as the agent's event stream.
type Runner struct {
	engine   *Engine
	inFlight atomic.Bool
	queue    triggerQueue
	logger   *zap.Logger

	mu        sync.Mutex
	listeners map[int]ProgressFunc
	nextID    int
	last      *models.SyncResult
}

// NewRunner constructs the runner.
func NewRunner(engine *Engine, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{engine: engine, logger: logger, listeners: make(map[int]ProgressFunc)}
}

// UseQueue routes Trigger through q instead of running inline.
func (r *Runner) UseQueue(q triggerQueue) {
	r.queue = q
}

// Run performs one pass unless another is in flight, in which case it
// returns ErrSyncInFlight without touching the outbox.
func (r *Runner) Run(ctx context.Context) (models.SyncResult, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		if r.engine.metrics != nil {
			r.engine.metrics.RecordSyncRun("skipped_in_flight")
		}
		return models.SyncResult{}, ErrSyncInFlight
	}
	defer r.inFlight.Store(false)

	result, err := r.engine.TrySync(ctx, r.broadcast)
	r.mu.Lock()
	r.last = &result
	r.mu.Unlock()
	return result, err
}

// InFlight reports whether a pass is running.
func (r *Runner) InFlight() bool {
	return r.inFlight.Load()
}

// LastResult returns the outcome of the most recent finished pass.
func (r *Runner) LastResult() (models.SyncResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return models.SyncResult{}, false
	}
	return *r.last, true
}

// OnProgress registers fn for progress of every pass and returns an unsubscribe func.
func (r *Runner) OnProgress(fn ProgressFunc) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Trigger asks for a pass. With a queue attached the request is coalesced:
// when a run is already pending the trigger is dropped.
func (r *Runner) Trigger(ctx context.Context, reason string) {
	if r.queue == nil {
		go func() {
			if _, err := r.Run(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrSyncInFlight) {
				r.logger.Warn("triggered sync failed", zap.String("reason", reason), zap.Error(err))
			}
		}()
		return
	}
	err := r.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: JobTypeSync, Payload: reason})
	switch {
	case err == nil:
		r.logger.Debug("sync triggered", zap.String("reason", reason))
	case errors.Is(err, jobs.ErrQueueFull):
		r.logger.Debug("sync trigger coalesced", zap.String("reason", reason))
	default:
		r.logger.Warn("sync trigger dropped", zap.String("reason", reason), zap.Error(err))
	}
}

// HandleJob is the jobs.Handler for sync triggers. A pass cut short by the
// network returns an error so the queue retries it later.
func (r *Runner) HandleJob(ctx context.Context, job jobs.Job) error {
	result, err := r.Run(ctx)
	if errors.Is(err, ErrSyncInFlight) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync %s (%v): %d remaining: %w", job.ID, job.Payload, result.Remaining, err)
	}
	return nil
}

func (r *Runner) broadcast(p models.SyncProgress) {
	r.mu.Lock()
	fns := make([]ProgressFunc, 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}
