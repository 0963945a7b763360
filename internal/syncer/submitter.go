package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/logger"
)

// Enqueuer accepts batches that could not be written directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, rows []models.AttendanceRecord, opts models.EnqueueOptions) string
	Count() int
}

// Submitter is the dashboard's write path: try the gateway first and fall back
// to the outbox when the write fails for any reason other than bad input.
type Submitter struct {
	remote Reconciler
	outbox Enqueuer
	signal ConnectivitySignal
	logger *zap.Logger
}

// NewSubmitter constructs the submitter. signal may be nil.
func NewSubmitter(remote Reconciler, outbox Enqueuer, signal ConnectivitySignal, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{remote: remote, outbox: outbox, signal: signal, logger: logger}
}

// Submit writes rows or queues them. Validation failures are returned and
// nothing is queued.
func (s *Submitter) Submit(ctx context.Context, rows []models.AttendanceRecord, opts models.EnqueueOptions) (*dto.SubmitAttendanceResponse, error) {
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendance rows must not be empty")
	}
	log := logger.FromContext(ctx, s.logger)

	if s.signal != nil && !s.signal.Online() {
		return s.queue(ctx, rows, opts, appErrors.ErrOffline), nil
	}

	result, err := s.remote.UpsertBulk(WithActor(ctx, opts.Actor), rows, models.UpsertOptions{Finalize: opts.Finalize})
	if err == nil {
		if m, ok := s.signal.(onlineMarker); ok {
			m.MarkOnline()
		}
		return &dto.SubmitAttendanceResponse{Result: result, Pending: s.outbox.Count()}, nil
	}

	kind := Classify(err)
	if kind == FailureValidation {
		log.Info("attendance batch rejected", zap.Error(err))
		return nil, err
	}
	if kind == FailureNetwork && ctx.Err() == nil {
		if m, ok := s.signal.(offlineMarker); ok {
			m.MarkOffline(err)
		}
	}
	return s.queue(ctx, rows, opts, err), nil
}

func (s *Submitter) queue(ctx context.Context, rows []models.AttendanceRecord, opts models.EnqueueOptions, cause error) *dto.SubmitAttendanceResponse {
	id := s.outbox.Enqueue(ctx, rows, opts)
	logger.FromContext(ctx, s.logger).Info("attendance batch queued for later sync",
		zap.String("batch_id", id),
		zap.String("classification", Classify(cause).String()),
		zap.Error(cause))
	return &dto.SubmitAttendanceResponse{Queued: true, BatchID: id, Pending: s.outbox.Count()}
}
