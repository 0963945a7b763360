package dto

import "github.com/noah-isme/sma-attendance-sync/internal/models"

// AttendanceAlertRequest is the body of POST /notifications/attendance/bulk.
type AttendanceAlertRequest struct {
	Candidates []models.NotificationCandidate `json:"candidates" validate:"required,min=1,dive"`
}

// TermSummaryRequest is the body of POST /notifications/term-summary/bulk.
// When a candidate has no tally it is computed from attendance between
// TermStart and TermEnd.
type TermSummaryRequest struct {
	Term         string                         `json:"term" validate:"required"`
	AcademicYear string                         `json:"academic_year" validate:"required"`
	TermStart    string                         `json:"term_start" validate:"required,datetime=2006-01-02"`
	TermEnd      string                         `json:"term_end" validate:"required,datetime=2006-01-02"`
	Candidates   []models.NotificationCandidate `json:"candidates" validate:"required,min=1,dive"`
}
