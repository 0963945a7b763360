package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/logger"
)

type notificationLogReader interface {
	List(ctx context.Context, filter models.NotificationLogFilter) ([]models.NotificationRecord, error)
}

// legacyEventDatePattern recovers the event date from per-day alert bodies
// written before notifications carried an event_key.
var legacyEventDatePattern = regexp.MustCompile(`\bon (\d{4}-\d{2}-\d{2})\b`)

// NotificationDeduper tells which candidates were already notified.
type NotificationDeduper struct {
	repo     notificationLogReader
	location *time.Location
	logger   *zap.Logger
}

// NotificationDeduperOption customises the deduper.
type NotificationDeduperOption func(*NotificationDeduper)

// WithSchoolTimezone interprets event dates as days in loc. Defaults to UTC.
func WithSchoolTimezone(loc *time.Location) NotificationDeduperOption {
	return func(d *NotificationDeduper) {
		if loc != nil {
			d.location = loc
		}
	}
}

// NewNotificationDeduper constructs the deduper.
func NewNotificationDeduper(repo notificationLogReader, logger *zap.Logger, opts ...NotificationDeduperOption) *NotificationDeduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &NotificationDeduper{repo: repo, location: time.UTC, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FindAlreadyNotified returns the dedup keys (see models.DedupKey) of
// candidates that already have a notification of eventType in the log.
func (d *NotificationDeduper) FindAlreadyNotified(ctx context.Context, candidates []models.NotificationCandidate, eventType models.NotificationType) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(candidates) == 0 {
		return found, nil
	}
	if !eventType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported notification type")
	}

	wanted := make(map[string]struct{}, len(candidates))
	byRecipient := make(map[string][]models.NotificationCandidate)
	recipients := make([]string, 0, len(candidates))
	for _, c := range candidates {
		wanted[c.DedupKey(eventType)] = struct{}{}
		if _, seen := byRecipient[c.RecipientID]; !seen {
			recipients = append(recipients, c.RecipientID)
		}
		byRecipient[c.RecipientID] = append(byRecipient[c.RecipientID], c)
	}

	filter := models.NotificationLogFilter{Type: eventType, RecipientIDs: recipients}
	if eventType == models.NotificationTypeAttendance {
		from, to, ok := eventWindow(candidates, d.location)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "attendance alerts require a valid event_date")
		}
		filter.CreatedFrom = &from
		filter.CreatedTo = &to
	}

	records, err := d.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read notification log")
	}

	legacy := 0
	for _, record := range records {
		if record.EventKey != nil && *record.EventKey != "" {
			if _, ok := wanted[*record.EventKey]; ok {
				found[*record.EventKey] = struct{}{}
			}
			continue
		}
		legacy++
		for _, key := range legacyKeys(record, byRecipient[record.RecipientID], eventType) {
			if _, ok := wanted[key]; ok {
				found[key] = struct{}{}
			}
		}
	}
	logger.FromContext(ctx, d.logger).Debug("notification dedup lookup",
		zap.String("type", string(eventType)),
		zap.Int("candidates", len(candidates)),
		zap.Int("log_rows", len(records)),
		zap.Int("legacy_rows", legacy),
		zap.Int("already_notified", len(found)))
	return found, nil
}

// legacyKeys derives dedup keys from a log row without event_key by matching
// the message text.
func legacyKeys(record models.NotificationRecord, candidates []models.NotificationCandidate, eventType models.NotificationType) []string {
	switch eventType {
	case models.NotificationTypeAttendance:
		match := legacyEventDatePattern.FindStringSubmatch(record.Message)
		if match == nil {
			return nil
		}
		return []string{models.DedupKey(eventType, record.RecipientID, match[1], "", "")}
	case models.NotificationTypeTermSummary:
		keys := []string{}
		for _, c := range candidates {
			if c.Term == "" || c.AcademicYear == "" {
				continue
			}
			if containsPhrase(record.Message, c.Term) && containsPhrase(record.Message, c.AcademicYear) {
				keys = append(keys, c.DedupKey(eventType))
			}
		}
		return keys
	}
	return nil
}

// containsPhrase reports whether phrase occurs in message, ignoring case, as a
// whole token: "Term 1" does not match inside "Term 10".
func containsPhrase(message, phrase string) bool {
	pattern := `(?i)(?:^|[^\pL\pN])` + regexp.QuoteMeta(strings.TrimSpace(phrase)) + `(?:$|[^\pL\pN])`
	matched, err := regexp.MatchString(pattern, message)
	return err == nil && matched
}

// eventWindow spans [min(eventDate), max(eventDate)+1 day) over the
// candidates, with days starting at midnight in loc.
func eventWindow(candidates []models.NotificationCandidate, loc *time.Location) (time.Time, time.Time, bool) {
	var minDate, maxDate time.Time
	for _, c := range candidates {
		date, err := time.ParseInLocation(models.DateLayout, c.EventDate, loc)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		if minDate.IsZero() || date.Before(minDate) {
			minDate = date
		}
		if maxDate.IsZero() || date.After(maxDate) {
			maxDate = date
		}
	}
	return minDate, maxDate.AddDate(0, 0, 1), true
}
