package models

import (
	"fmt"
	"time"
)

// NotificationType classifies rows of the notification log.
type NotificationType string

const (
	// NotificationTypeAttendance is the per-day attendance alert sent to guardians.
	NotificationTypeAttendance NotificationType = "attendance_alert"
	// NotificationTypeTermSummary is the end-of-term attendance summary.
	NotificationTypeTermSummary NotificationType = "attendance_term_summary"
)

// Valid returns true for supported notification types.
func (t NotificationType) Valid() bool {
	return t == NotificationTypeAttendance || t == NotificationTypeTermSummary
}

// NotificationRecord is a row of the notification log.
type NotificationRecord struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	SenderID    *string          `db:"sender_id" json:"sender_id,omitempty"`
	Type        NotificationType `db:"type" json:"type"`
	Message     string           `db:"message" json:"message"`
	EventKey    *string          `db:"event_key" json:"event_key,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// NotificationLogFilter bounds a notification log lookup.
type NotificationLogFilter struct {
	Type         NotificationType
	RecipientIDs []string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
}

// AttendanceTally summarises a student's statuses over a term.
type AttendanceTally struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Excused int `json:"excused"`
}

// NotificationCandidate is one intended message. Per-day alerts use EventDate;
// term summaries use Term and AcademicYear.
type NotificationCandidate struct {
	RecipientID  string           `json:"recipient_id" validate:"required"`
	StudentID    string           `json:"student_id"`
	StudentName  string           `json:"student_name"`
	EventDate    string           `json:"event_date" validate:"omitempty,datetime=2006-01-02"`
	Status       AttendanceStatus `json:"status,omitempty"`
	Term         string           `json:"term,omitempty"`
	AcademicYear string           `json:"academic_year,omitempty"`
	Tally        *AttendanceTally `json:"tally,omitempty"`
}

// DedupKey returns the identity used to detect an earlier notification.
func (c NotificationCandidate) DedupKey(t NotificationType) string {
	return DedupKey(t, c.RecipientID, c.EventDate, c.Term, c.AcademicYear)
}

// DedupKey builds the dedup identity from its parts.
func DedupKey(t NotificationType, recipientID, eventDate, term, academicYear string) string {
	if t == NotificationTypeTermSummary {
		return fmt.Sprintf("%s|%s|%s", recipientID, term, academicYear)
	}
	return fmt.Sprintf("%s|%s", recipientID, eventDate)
}

// DeliveryRequest is what a Deliverer receives for one recipient.
type DeliveryRequest struct {
	RecipientID string
	Message     string
	Type        NotificationType
	SenderID    string
	EventKey    string
}

// DeliveryFailure captures one failed recipient in a bulk send.
type DeliveryFailure struct {
	RecipientID string `json:"recipient_id"`
	EventKey    string `json:"event_key"`
	Reason      string `json:"reason"`
}

// BulkSendResult aggregates a SendBulk run.
type BulkSendResult struct {
	SuccessCount   int               `json:"success_count"`
	FailCount      int               `json:"fail_count"`
	DuplicateCount int               `json:"duplicate_count"`
	Failures       []DeliveryFailure `json:"failures,omitempty"`
}
