package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

type tallySource interface {
	StudentTallies(ctx context.Context, studentIDs []string, dateFrom, dateTo string) (map[string]models.AttendanceTally, error)
}

type bulkSender interface {
	SendBulk(ctx context.Context, eventType models.NotificationType, candidates []models.NotificationCandidate, build MessageBuilder, deliver Deliverer, senderID string) (*models.BulkSendResult, error)
}

// NotificationService wires the default message builders and deliverer into
// BulkNotifier for the HTTP surface.
type NotificationService struct {
	notifier  bulkSender
	deliverer Deliverer
	tallies   tallySource
	validator *validator.Validate
	logger    *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(notifier bulkSender, deliverer Deliverer, tallies tallySource, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{notifier: notifier, deliverer: deliverer, tallies: tallies, validator: validate, logger: logger}
}

// SendAttendanceAlerts notifies guardians about per-day attendance events.
func (s *NotificationService) SendAttendanceAlerts(ctx context.Context, req dto.AttendanceAlertRequest, senderID string) (*models.BulkSendResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	for _, c := range req.Candidates {
		if c.EventDate == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "event_date is required for attendance alerts")
		}
	}
	return s.notifier.SendBulk(ctx, models.NotificationTypeAttendance, req.Candidates, AttendanceAlertMessage, s.deliverer, senderID)
}

// SendTermSummaries notifies guardians with a term attendance summary.
func (s *NotificationService) SendTermSummaries(ctx context.Context, req dto.TermSummaryRequest, senderID string) (*models.BulkSendResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.TermStart > req.TermEnd {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term_start must not be after term_end")
	}

	candidates := make([]models.NotificationCandidate, len(req.Candidates))
	missing := []string{}
	for i, c := range req.Candidates {
		c.Term = strings.TrimSpace(req.Term)
		c.AcademicYear = strings.TrimSpace(req.AcademicYear)
		if c.Tally == nil && c.StudentID != "" {
			missing = append(missing, c.StudentID)
		}
		candidates[i] = c
	}
	if len(missing) > 0 && s.tallies != nil {
		tallies, err := s.tallies.StudentTallies(ctx, missing, req.TermStart, req.TermEnd)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute attendance tallies")
		}
		for i := range candidates {
			if candidates[i].Tally != nil {
				continue
			}
			tally := tallies[candidates[i].StudentID]
			candidates[i].Tally = &tally
		}
	}
	return s.notifier.SendBulk(ctx, models.NotificationTypeTermSummary, candidates, TermSummaryMessage, s.deliverer, senderID)
}
