package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used for attendance keys.
const DateLayout = "2006-01-02"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// AttendanceKey identifies one attendance record: a student in a class on a calendar day.
type AttendanceKey struct {
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id"`
	Date      string `json:"date"`
}

// String renders the key for logs and map lookups.
func (k AttendanceKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.StudentID, k.ClassID, k.Date)
}

// AttendanceRecord is a row of the attendance table.
type AttendanceRecord struct {
	ID               string           `db:"id" json:"id,omitempty"`
	StudentID        string           `db:"student_id" json:"student_id" validate:"required"`
	ClassID          string           `db:"class_id" json:"class_id" validate:"required"`
	SubjectID        *string          `db:"subject_id" json:"subject_id,omitempty"`
	Date             string           `db:"date" json:"date" validate:"required,datetime=2006-01-02"`
	Status           AttendanceStatus `db:"status" json:"status" validate:"required,attendance_status"`
	Notes            *string          `db:"notes" json:"notes,omitempty"`
	FinalizedByAdmin bool             `db:"finalized_by_admin" json:"finalized_by_admin"`
	MarkedBy         *string          `db:"marked_by" json:"marked_by,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Key returns the composite identity of the record.
func (r AttendanceRecord) Key() AttendanceKey {
	return AttendanceKey{StudentID: r.StudentID, ClassID: r.ClassID, Date: r.Date}
}

// AttendanceFilter scopes ListRange queries. Dates are inclusive YYYY-MM-DD bounds.
type AttendanceFilter struct {
	DateFrom  string `json:"date_from" validate:"omitempty,datetime=2006-01-02"`
	DateTo    string `json:"date_to" validate:"omitempty,datetime=2006-01-02"`
	ClassID   string `json:"class_id"`
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
}

// UpsertOptions carries batch-wide write intent.
type UpsertOptions struct {
	Finalize bool
	ActorID  string
}

// UpsertResult reports a bulk write. Skipped holds keys left untouched because
// they were already finalized; that is a partial success, not an error.
type UpsertResult struct {
	Written []AttendanceRecord `json:"written"`
	Skipped []AttendanceKey    `json:"skipped"`
}

// AttendanceOverride is the administrative path for changing a finalized record.
type AttendanceOverride struct {
	Key       AttendanceKey
	Status    AttendanceStatus
	Finalized bool
	Reason    string
	ActorID   string
}
