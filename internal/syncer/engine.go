// Package syncer replays queued attendance batches against the API gateway
// and decides, per failure, whether to stop, skip or surface it.
package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
)

// Reconciler is the write side of the attendance API.
type Reconciler interface {
	UpsertBulk(ctx context.Context, rows []models.AttendanceRecord, opts models.UpsertOptions) (*models.UpsertResult, error)
}

// Outbox is the subset of the outbox store the engine needs.
type Outbox interface {
	Snapshot() []models.AttendanceBatch
	Remove(ctx context.Context, id string)
	Count() int
}

// ConnectivitySignal reports whether the gateway is definitely unreachable.
type ConnectivitySignal interface {
	Online() bool
}

type offlineMarker interface {
	MarkOffline(reason error)
}

type onlineMarker interface {
	MarkOnline()
}

// Metrics records sync outcomes.
type Metrics interface {
	RecordSyncBatch(outcome string)
	RecordSyncRun(result string)
}

// ProgressFunc observes each successfully replayed batch.
type ProgressFunc func(models.SyncProgress)

// Engine drains the outbox one batch at a time in enqueue order. It keeps no
// state between calls; overlapping passes are prevented by Runner.
type Engine struct {
	outbox  Outbox
	remote  Reconciler
	signal  ConnectivitySignal
	metrics Metrics
	logger  *zap.Logger
}

// EngineOption customises the engine.
type EngineOption func(*Engine)

// WithConnectivity consults signal before each pass.
func WithConnectivity(signal ConnectivitySignal) EngineOption {
	return func(e *Engine) { e.signal = signal }
}

// WithMetrics records batch and run outcomes.
func WithMetrics(metrics Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// NewEngine constructs the engine.
func NewEngine(outbox Outbox, remote Reconciler, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{outbox: outbox, remote: remote, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TrySync replays every pending batch. A network failure ends the pass early
// and is returned alongside the counts; other failures leave the batch queued
// and the pass continues. Cancelling ctx stops the pass before the next batch
// without counting a failure or marking the gateway offline. Remaining is read
// from the outbox after the pass.
func (e *Engine) TrySync(ctx context.Context, progress ProgressFunc) (models.SyncResult, error) {
	batches := e.outbox.Snapshot()
	if len(batches) == 0 {
		e.recordRun("empty")
		return models.SyncResult{}, nil
	}
	if e.signal != nil && !e.signal.Online() {
		e.logger.Info("sync skipped while offline", zap.Int("pending", len(batches)))
		e.recordRun("offline")
		return models.SyncResult{Remaining: e.outbox.Count()}, nil
	}

	var (
		result   models.SyncResult
		stopErr  error
		canceled bool
	)
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			stopErr, canceled = err, true
			break
		}
		log := e.logger.With(zap.String("batch_id", batch.ID), zap.Int("rows", len(batch.Rows)))
		upserted, err := e.remote.UpsertBulk(WithBatchID(WithActor(ctx, batch.Actor), batch.ID), batch.Rows, models.UpsertOptions{Finalize: batch.Finalize})
		if err == nil {
			e.outbox.Remove(ctx, batch.ID)
			result.Synced++
			e.recordBatch("synced")
			if m, ok := e.signal.(onlineMarker); ok {
				m.MarkOnline()
			}
			if upserted != nil && len(upserted.Skipped) > 0 {
				log.Info("finalized rows skipped during replay", zap.Int("skipped", len(upserted.Skipped)))
			}
			if progress != nil {
				progress(models.SyncProgress{Synced: result.Synced, Total: len(batches), Remaining: e.outbox.Count()})
			}
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil || Classify(err) == FailureCanceled {
			log.Info("sync canceled, batch stays queued", zap.Error(err))
			stopErr, canceled = err, true
			if ctxErr != nil {
				stopErr = ctxErr
			}
			break
		}

		result.Failed++
		kind := Classify(err)
		e.recordBatch(kind.String())
		if kind == FailureNetwork {
			log.Warn("sync interrupted by network failure", zap.Error(err))
			if m, ok := e.signal.(offlineMarker); ok {
				m.MarkOffline(err)
			}
			stopErr = err
			break
		}
		log.Warn("batch rejected, keeping it queued", zap.String("classification", kind.String()), zap.Error(err))
	}

	result.Remaining = e.outbox.Count()
	switch {
	case canceled:
		e.recordRun("canceled")
	case stopErr != nil:
		e.recordRun("interrupted")
	default:
		e.recordRun("completed")
	}
	e.logger.Info("sync pass finished",
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("remaining", result.Remaining))
	return result, stopErr
}

func (e *Engine) recordBatch(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordSyncBatch(outcome)
	}
}

func (e *Engine) recordRun(result string) {
	if e.metrics != nil {
		e.metrics.RecordSyncRun(result)
	}
}
