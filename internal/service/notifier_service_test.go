package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
)

type dedupStub struct {
	found map[string]struct{}
	err   error
}

func (s dedupStub) FindAlreadyNotified(ctx context.Context, candidates []models.NotificationCandidate, eventType models.NotificationType) (map[string]struct{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.found == nil {
		return map[string]struct{}{}, nil
	}
	return s.found, nil
}

type recordingDeliverer struct {
	mu       sync.Mutex
	requests []models.DeliveryRequest
	failFor  map[string]bool
}

func (d *recordingDeliverer) Deliver(ctx context.Context, req models.DeliveryRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFor[req.RecipientID] {
		return errors.New("smtp unavailable")
	}
	d.requests = append(d.requests, req)
	return nil
}

type claimStub struct {
	mu       sync.Mutex
	taken    map[string]bool
	released []string
}

func (c *claimStub) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken[key] {
		return false, nil
	}
	if c.taken == nil {
		c.taken = map[string]bool{}
	}
	c.taken[key] = true
	return true, nil
}

func (c *claimStub) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.taken, key)
	c.released = append(c.released, key)
	return nil
}

func newTestNotifier(deduper alreadyNotifiedFinder, opts ...BulkNotifierOption) *BulkNotifier {
	n := NewBulkNotifier(deduper, nil, zap.NewNop(), opts...)
	n.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return n
}

func alertCandidates(ids ...string) []models.NotificationCandidate {
	out := make([]models.NotificationCandidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.NotificationCandidate{RecipientID: id, StudentName: "Student " + id, EventDate: "2024-03-01", Status: models.AttendanceStatusAbsent})
	}
	return out
}

func TestBulkNotifierSkipsAlreadyNotified(t *testing.T) {
	deduper := dedupStub{found: map[string]struct{}{"g2|2024-03-01": {}, "g4|2024-03-01": {}}}
	notifier := newTestNotifier(deduper)
	deliverer := &recordingDeliverer{}

	result, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1", "g2", "g3", "g4", "g5"), AttendanceAlertMessage, deliverer, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 0, result.FailCount)
	assert.Equal(t, 2, result.DuplicateCount)

	require.Len(t, deliverer.requests, 3)
	recipients := map[string]models.DeliveryRequest{}
	for _, req := range deliverer.requests {
		recipients[req.RecipientID] = req
	}
	assert.NotContains(t, recipients, "g2")
	assert.NotContains(t, recipients, "g4")
	assert.Equal(t, "Student g1 was marked absent on 2024-03-01.", recipients["g1"].Message)
	assert.Equal(t, "g1|2024-03-01", recipients["g1"].EventKey)
	assert.Equal(t, "admin-1", recipients["g1"].SenderID)
}

func TestBulkNotifierAllDuplicatesDeliversNothing(t *testing.T) {
	deduper := dedupStub{found: map[string]struct{}{"g1|2024-03-01": {}, "g2|2024-03-01": {}}}
	notifier := newTestNotifier(deduper)
	deliverer := &recordingDeliverer{}

	result, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1", "g2"), AttendanceAlertMessage, deliverer, "")
	require.NoError(t, err)
	assert.Equal(t, &models.BulkSendResult{DuplicateCount: 2}, result)
	assert.Empty(t, deliverer.requests)
}

func TestBulkNotifierCollapsesDuplicatesWithinRequest(t *testing.T) {
	notifier := newTestNotifier(dedupStub{})
	deliverer := &recordingDeliverer{}

	result, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1", "g1", "g2"), AttendanceAlertMessage, deliverer, "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.DuplicateCount)
}

func TestBulkNotifierIsolatesFailures(t *testing.T) {
	notifier := newTestNotifier(dedupStub{})
	deliverer := &recordingDeliverer{failFor: map[string]bool{"g2": true}}

	result, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1", "g2", "g3"), AttendanceAlertMessage, deliverer, "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "g2", result.Failures[0].RecipientID)
	assert.Contains(t, result.Failures[0].Reason, "smtp unavailable")
}

func TestBulkNotifierClaims(t *testing.T) {
	claims := &claimStub{taken: map[string]bool{"g1|2024-03-01": true}}
	notifier := newTestNotifier(dedupStub{}, WithDeliveryClaimer(claims, time.Minute))
	deliverer := &recordingDeliverer{failFor: map[string]bool{"g3": true}}

	result, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1", "g2", "g3"), AttendanceAlertMessage, deliverer, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.DuplicateCount)
	assert.Equal(t, 1, result.FailCount)
	assert.Equal(t, []string{"g3|2024-03-01"}, claims.released)
}

func TestBulkNotifierCancelledContext(t *testing.T) {
	notifier := newTestNotifier(dedupStub{})
	deliverer := &recordingDeliverer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := notifier.SendBulk(ctx, models.NotificationTypeAttendance, alertCandidates("g1", "g2"), AttendanceAlertMessage, deliverer, "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.FailCount)
	assert.Empty(t, deliverer.requests)
}

func TestBulkNotifierRejectsInvalidInput(t *testing.T) {
	notifier := newTestNotifier(dedupStub{})

	_, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, []models.NotificationCandidate{{EventDate: "2024-03-01"}}, AttendanceAlertMessage, &recordingDeliverer{}, "")
	require.Error(t, err)

	_, err = notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1"), nil, &recordingDeliverer{}, "")
	require.Error(t, err)

	_, err = newTestNotifier(dedupStub{err: errors.New("db down")}).SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1"), AttendanceAlertMessage, &recordingDeliverer{}, "")
	require.Error(t, err)

	result, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, nil, AttendanceAlertMessage, &recordingDeliverer{}, "")
	require.NoError(t, err)
	assert.Equal(t, &models.BulkSendResult{}, result)
}

func TestBulkNotifierStaggersByIndex(t *testing.T) {
	notifier := NewBulkNotifier(dedupStub{}, nil, zap.NewNop(), WithStaggerStep(10*time.Millisecond))
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	notifier.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	_, err := notifier.SendBulk(context.Background(), models.NotificationTypeAttendance, alertCandidates("g1", "g2", "g3"), AttendanceAlertMessage, &recordingDeliverer{}, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestNotificationMessages(t *testing.T) {
	msg, err := AttendanceAlertMessage(models.NotificationCandidate{EventDate: "2024-03-01", Status: models.AttendanceStatusLate})
	require.NoError(t, err)
	assert.Equal(t, "Your child was marked late on 2024-03-01.", msg)
	assert.Regexp(t, legacyEventDatePattern, msg)

	msg, err = TermSummaryMessage(models.NotificationCandidate{StudentName: "Budi", Term: "Semester 1", AcademicYear: "2023/2024", Tally: &models.AttendanceTally{Present: 40, Absent: 2, Late: 1}})
	require.NoError(t, err)
	assert.Equal(t, "Attendance summary for Budi, Semester 1 2023/2024: present 40, absent 2, late 1, excused 0.", msg)

	_, err = TermSummaryMessage(models.NotificationCandidate{})
	require.Error(t, err)
}
