package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/logger"
)

// MessageBuilder renders the message body for one candidate.
type MessageBuilder func(c models.NotificationCandidate) (string, error)

// Deliverer sends one message to one recipient.
type Deliverer interface {
	Deliver(ctx context.Context, req models.DeliveryRequest) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, req models.DeliveryRequest) error

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, req models.DeliveryRequest) error {
	return f(ctx, req)
}

type alreadyNotifiedFinder interface {
	FindAlreadyNotified(ctx context.Context, candidates []models.NotificationCandidate, eventType models.NotificationType) (map[string]struct{}, error)
}

type deliveryClaimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// BulkNotifier fans out per-recipient deliveries after filtering out
// candidates the notification log says were already notified.
type BulkNotifier struct {
	deduper     alreadyNotifiedFinder
	claimer     deliveryClaimer
	validator   *validator.Validate
	metrics     *MetricsService
	logger      *zap.Logger
	staggerStep time.Duration
	claimTTL    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// BulkNotifierOption customises the notifier.
type BulkNotifierOption func(*BulkNotifier)

// WithDeliveryClaimer enables cross-process delivery claims.
func WithDeliveryClaimer(claimer deliveryClaimer, ttl time.Duration) BulkNotifierOption {
	return func(n *BulkNotifier) {
		n.claimer = claimer
		if ttl > 0 {
			n.claimTTL = ttl
		}
	}
}

// WithStaggerStep sets the per-index delay used to shape delivery bursts.
func WithStaggerStep(step time.Duration) BulkNotifierOption {
	return func(n *BulkNotifier) {
		if step >= 0 {
			n.staggerStep = step
		}
	}
}

// WithNotifierMetrics attaches Prometheus counters.
func WithNotifierMetrics(metrics *MetricsService) BulkNotifierOption {
	return func(n *BulkNotifier) {
		n.metrics = metrics
	}
}

// NewBulkNotifier constructs the notifier.
func NewBulkNotifier(deduper alreadyNotifiedFinder, validate *validator.Validate, logger *zap.Logger, opts ...BulkNotifierOption) *BulkNotifier {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &BulkNotifier{
		deduper:     deduper,
		validator:   validate,
		logger:      logger,
		staggerStep: 50 * time.Millisecond,
		claimTTL:    10 * time.Minute,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SendBulk delivers one message per candidate that has not been notified yet.
// Deliveries run concurrently, staggered by index; a failed delivery is
// counted and never aborts the others.
func (n *BulkNotifier) SendBulk(ctx context.Context, eventType models.NotificationType, candidates []models.NotificationCandidate, build MessageBuilder, deliver Deliverer, senderID string) (*models.BulkSendResult, error) {
	result := &models.BulkSendResult{}
	if len(candidates) == 0 {
		return result, nil
	}
	if build == nil || deliver == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message builder and deliverer are required")
	}
	for i, c := range candidates {
		if err := n.validator.Struct(c); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid candidate %d", i))
		}
	}

	already, err := n.deduper.FindAlreadyNotified(ctx, candidates, eventType)
	if err != nil {
		return nil, err
	}

	pending := make([]models.NotificationCandidate, 0, len(candidates))
	queued := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		key := c.DedupKey(eventType)
		if _, ok := already[key]; ok {
			result.DuplicateCount++
			continue
		}
		if _, ok := queued[key]; ok {
			result.DuplicateCount++
			continue
		}
		queued[key] = struct{}{}
		pending = append(pending, c)
	}

	log := logger.FromContext(ctx, n.logger).With(zap.String("type", string(eventType)))
	if len(pending) == 0 {
		log.Info("bulk notify skipped, all recipients already notified", zap.Int("duplicates", result.DuplicateCount))
		n.metrics.RecordNotifications(string(eventType), 0, 0, result.DuplicateCount)
		return result, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(outcome deliveryOutcome, c models.NotificationCandidate, key string, reason error) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeSent:
			result.SuccessCount++
		case outcomeDuplicate:
			result.DuplicateCount++
		default:
			result.FailCount++
			result.Failures = append(result.Failures, models.DeliveryFailure{RecipientID: c.RecipientID, EventKey: key, Reason: reason.Error()})
		}
	}

	for i, c := range pending {
		wg.Add(1)
		go func(index int, c models.NotificationCandidate) {
			defer wg.Done()
			key := c.DedupKey(eventType)
			if err := n.sleep(ctx, time.Duration(index)*n.staggerStep); err != nil {
				record(outcomeFailed, c, key, err)
				return
			}
			outcome, err := n.deliverOne(ctx, eventType, c, key, build, deliver, senderID)
			if err != nil {
				log.Warn("notification delivery failed", zap.String("recipient_id", c.RecipientID), zap.String("event_key", key), zap.Error(err))
			}
			record(outcome, c, key, err)
		}(i, c)
	}
	wg.Wait()

	n.metrics.RecordNotifications(string(eventType), result.SuccessCount, result.FailCount, result.DuplicateCount)
	log.Info("bulk notify finished",
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailCount),
		zap.Int("duplicates", result.DuplicateCount))
	return result, nil
}

type deliveryOutcome int

const (
	outcomeSent deliveryOutcome = iota
	outcomeFailed
	outcomeDuplicate
)

func (n *BulkNotifier) deliverOne(ctx context.Context, eventType models.NotificationType, c models.NotificationCandidate, key string, build MessageBuilder, deliver Deliverer, senderID string) (deliveryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return outcomeFailed, err
	}
	message, err := build(c)
	if err != nil {
		return outcomeFailed, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to build message")
	}
	if n.claimer != nil {
		ok, err := n.claimer.Claim(ctx, key, n.claimTTL)
		if err != nil {
			// Claims only narrow the overlap window; the log check already ran.
			n.logger.Warn("delivery claim unavailable", zap.String("event_key", key), zap.Error(err))
		} else if !ok {
			return outcomeDuplicate, nil
		}
	}
	err = deliver.Deliver(ctx, models.DeliveryRequest{
		RecipientID: c.RecipientID,
		Message:     message,
		Type:        eventType,
		SenderID:    senderID,
		EventKey:    key,
	})
	if err != nil {
		if n.claimer != nil {
			if releaseErr := n.claimer.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
				n.logger.Warn("delivery claim release failed", zap.String("event_key", key), zap.Error(releaseErr))
			}
		}
		return outcomeFailed, appErrors.Wrap(err, appErrors.ErrDelivery.Code, appErrors.ErrDelivery.Status, appErrors.ErrDelivery.Message)
	}
	return outcomeSent, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AttendanceAlertMessage renders the per-day alert. The "on <date>" phrase is
// what legacy dedup matches on, so keep it when changing the wording.
func AttendanceAlertMessage(c models.NotificationCandidate) (string, error) {
	if c.EventDate == "" {
		return "", fmt.Errorf("event date is required")
	}
	name := c.StudentName
	if name == "" {
		name = "Your child"
	}
	status := c.Status
	if status == "" {
		status = models.AttendanceStatusAbsent
	}
	return fmt.Sprintf("%s was marked %s on %s.", name, status, c.EventDate), nil
}

// TermSummaryMessage renders the end-of-term attendance summary.
func TermSummaryMessage(c models.NotificationCandidate) (string, error) {
	if c.Term == "" || c.AcademicYear == "" {
		return "", fmt.Errorf("term and academic year are required")
	}
	tally := models.AttendanceTally{}
	if c.Tally != nil {
		tally = *c.Tally
	}
	name := c.StudentName
	if name == "" {
		name = "your child"
	}
	return fmt.Sprintf("Attendance summary for %s, %s %s: present %d, absent %d, late %d, excused %d.",
		name, c.Term, c.AcademicYear, tally.Present, tally.Absent, tally.Late, tally.Excused), nil
}
