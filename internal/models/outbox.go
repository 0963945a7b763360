package models

import "time"

// OutboxKindAttendance tags attendance batches in the persisted outbox blob.
const OutboxKindAttendance = "attendance"

// BatchActor is the dashboard user who submitted a batch, taken from their
// verified token. Replays are written on their behalf.
type BatchActor struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
}

// AttendanceBatch is the unit queued by the outbox when a direct write fails.
// The ID is sent with the replay for auditing; it is not an idempotency key.
type AttendanceBatch struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	CreatedAt time.Time          `json:"createdAt"`
	Finalize  bool               `json:"finalize"`
	Actor     *BatchActor        `json:"actor,omitempty"`
	Meta      map[string]string  `json:"meta,omitempty"`
	Rows      []AttendanceRecord `json:"rows"`
}

// EnqueueOptions mirrors the batch-wide attributes captured at enqueue time.
type EnqueueOptions struct {
	Finalize bool
	Actor    *BatchActor
	Meta     map[string]string
}

// SyncResult aggregates one TrySync pass.
type SyncResult struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// SyncProgress is reported after each successfully replayed batch.
type SyncProgress struct {
	Synced    int `json:"synced"`
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}
