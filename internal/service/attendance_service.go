package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/logger"
)

type attendanceRepository interface {
	ListRange(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error)
	UpsertBulk(ctx context.Context, rows []models.AttendanceRecord, opts models.UpsertOptions) (*models.UpsertResult, error)
	Override(ctx context.Context, o models.AttendanceOverride) (*models.AttendanceRecord, *models.AttendanceRecord, error)
}

// AttendanceReconciler is the server-side authority for attendance writes.
// It enforces the finalize lock: bulk upserts never change a finalized record.
type AttendanceReconciler struct {
	repo      attendanceRepository
	validator *validator.Validate
	metrics   *MetricsService
	cache     *CacheService
	logger    *zap.Logger
}

// NewAttendanceReconciler constructs the reconciler.
func NewAttendanceReconciler(repo attendanceRepository, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AttendanceReconciler {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	RegisterAttendanceValidations(validate)
	return &AttendanceReconciler{repo: repo, validator: validate, metrics: metrics, logger: logger}
}

// RegisterAttendanceValidations installs the custom tags used by attendance payloads.
func RegisterAttendanceValidations(validate *validator.Validate) {
	_ = validate.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToLower(fl.Field().String())).Valid()
	})
}

// UseCache enables the register cache for ListRange.
func (s *AttendanceReconciler) UseCache(cache *CacheService) {
	s.cache = cache
}

// ListRange returns the records matching filter. No match yields an empty slice.
func (s *AttendanceReconciler) ListRange(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	rows, _, err := s.ListRangeCached(ctx, filter)
	return rows, err
}

// ListRangeCached is ListRange that also reports whether the result came from cache.
func (s *AttendanceReconciler) ListRangeCached(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, bool, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}
	if filter.DateFrom != "" && filter.DateTo != "" && filter.DateFrom > filter.DateTo {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "date_from must not be after date_to")
	}
	key := AttendanceRangeKey(filter)
	var cached []models.AttendanceRecord
	if s.cache.Get(ctx, key, &cached) && cached != nil {
		return cached, true, nil
	}
	rows, err := s.repo.ListRange(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	if rows == nil {
		rows = []models.AttendanceRecord{}
	}
	s.cache.Set(ctx, key, rows)
	return rows, false, nil
}

// UpsertBulk writes rows in a single transaction. Finalized records are
// skipped and reported in the result; the whole call is safe to replay.
func (s *AttendanceReconciler) UpsertBulk(ctx context.Context, rows []models.AttendanceRecord, opts models.UpsertOptions) (*models.UpsertResult, error) {
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendance rows must not be empty")
	}
	normalized, err := s.normalizeRows(rows)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx, s.logger)
	result, err := s.repo.UpsertBulk(ctx, normalized, opts)
	if err != nil {
		log.Error("attendance bulk upsert failed", zap.Int("rows", len(normalized)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attendance")
	}
	s.metrics.RecordAttendanceUpsert(len(result.Written), len(result.Skipped))
	if len(result.Written) > 0 {
		s.cache.Invalidate(ctx, AttendanceRangePattern)
	}
	if len(result.Skipped) > 0 {
		log.Info("finalized attendance rows skipped",
			zap.Int("skipped", len(result.Skipped)),
			zap.Int("written", len(result.Written)),
			zap.String("first_key", result.Skipped[0].String()))
	}
	return result, nil
}

// OverrideFinalized is the administrative path that may change a finalized
// record or clear its finalized flag.
func (s *AttendanceReconciler) OverrideFinalized(ctx context.Context, o models.AttendanceOverride) (*models.AttendanceRecord, error) {
	o.Status = models.AttendanceStatus(strings.ToLower(strings.TrimSpace(string(o.Status))))
	if o.Key.StudentID == "" || o.Key.ClassID == "" || o.Key.Date == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id, class_id and date are required")
	}
	if err := s.validator.Var(o.Key.Date, "datetime=2006-01-02"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	if !o.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid attendance status")
	}
	if strings.TrimSpace(o.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "override reason is required")
	}
	before, after, err := s.repo.Override(ctx, o)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to override attendance")
	}
	s.cache.Invalidate(ctx, AttendanceRangePattern)
	logger.FromContext(ctx, s.logger).Info("attendance override applied",
		zap.String("key", o.Key.String()),
		zap.String("actor", o.ActorID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.Bool("finalized", after.FinalizedByAdmin))
	return after, nil
}

// normalizeRows validates each row and collapses duplicate keys so the last
// occurrence in the batch wins.
func (s *AttendanceReconciler) normalizeRows(rows []models.AttendanceRecord) ([]models.AttendanceRecord, error) {
	position := make(map[models.AttendanceKey]int, len(rows))
	out := make([]models.AttendanceRecord, 0, len(rows))
	for i, row := range rows {
		row.StudentID = strings.TrimSpace(row.StudentID)
		row.ClassID = strings.TrimSpace(row.ClassID)
		row.Date = strings.TrimSpace(row.Date)
		row.Status = models.AttendanceStatus(strings.ToLower(strings.TrimSpace(string(row.Status))))
		if err := s.validator.Struct(row); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid attendance row %d", i))
		}
		key := row.Key()
		if idx, ok := position[key]; ok {
			out[idx] = row
			continue
		}
		position[key] = len(out)
		out = append(out, row)
	}
	return out, nil
}
