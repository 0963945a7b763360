package dto

import "github.com/noah-isme/sma-attendance-sync/internal/models"

// UpsertAttendanceRequest is the body of POST /attendance/bulk.
type UpsertAttendanceRequest struct {
	Finalize bool                      `json:"finalize"`
	Rows     []models.AttendanceRecord `json:"rows"`
}

// OverrideAttendanceRequest is the body of POST /attendance/override.
type OverrideAttendanceRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	ClassID   string `json:"class_id" binding:"required"`
	Date      string `json:"date" binding:"required"`
	Status    string `json:"status" binding:"required"`
	Finalized bool   `json:"finalized"`
	Reason    string `json:"reason" binding:"required"`
}

// SubmitAttendanceRequest is the body of the sync agent's POST /local/attendance.
type SubmitAttendanceRequest struct {
	Finalize bool                      `json:"finalize"`
	Meta     map[string]string         `json:"meta"`
	Rows     []models.AttendanceRecord `json:"rows"`
}

// SubmitAttendanceResponse tells the dashboard whether the batch reached the
// server or is waiting in the outbox.
type SubmitAttendanceResponse struct {
	Queued  bool                 `json:"queued"`
	BatchID string               `json:"batch_id,omitempty"`
	Result  *models.UpsertResult `json:"result,omitempty"`
	Pending int                  `json:"pending"`
}

// OutboxStatusResponse is the body of GET /local/outbox.
type OutboxStatusResponse struct {
	Count    int                      `json:"count"`
	Degraded bool                     `json:"degraded"`
	Batches  []models.AttendanceBatch `json:"batches"`
}
