package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
)

const attendanceColumns = `id, student_id, class_id, subject_id, date::text AS date, status, notes,
finalized_by_admin, marked_by, created_at, updated_at`

// AttendanceRepository handles persistence for attendance records keyed by (student, class, date).
type AttendanceRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListRange returns attendance rows matching the filter ordered by date, class and student.
func (r *AttendanceRepository) ListRange(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.DateFrom != "" {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, filter.DateTo)
	}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	query := fmt.Sprintf(`SELECT %s FROM attendance WHERE %s ORDER BY date ASC, class_id ASC, student_id ASC`,
		attendanceColumns, strings.Join(where, " AND "))

	rows := []models.AttendanceRecord{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list attendance range: %w", err)
	}
	return rows, nil
}

// UpsertBulk writes all rows inside one transaction. Rows whose stored record
// is already finalized are left untouched and reported as skipped; the
// conditional ON CONFLICT update re-checks the flag under the row lock, so a
// finalize committed by another admin between read and write still wins.
func (r *AttendanceRepository) UpsertBulk(ctx context.Context, rows []models.AttendanceRecord, opts models.UpsertOptions) (*models.UpsertResult, error) {
	result := &models.UpsertResult{Written: []models.AttendanceRecord{}, Skipped: []models.AttendanceKey{}}
	if len(rows) == 0 {
		return result, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attendance upsert: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	query := `INSERT INTO attendance (id, student_id, class_id, subject_id, date, status, notes, finalized_by_admin, marked_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (student_id, class_id, date)
DO UPDATE SET status = EXCLUDED.status,
    subject_id = COALESCE(EXCLUDED.subject_id, attendance.subject_id),
    notes = EXCLUDED.notes,
    finalized_by_admin = EXCLUDED.finalized_by_admin,
    marked_by = EXCLUDED.marked_by,
    updated_at = EXCLUDED.updated_at
WHERE attendance.finalized_by_admin = FALSE
RETURNING ` + attendanceColumns

	var markedBy *string
	if opts.ActorID != "" {
		actor := opts.ActorID
		markedBy = &actor
	}
	now := r.now()
	for _, row := range rows {
		var stored models.AttendanceRecord
		err := tx.GetContext(ctx, &stored, query,
			uuid.NewString(), row.StudentID, row.ClassID, row.SubjectID, row.Date, row.Status, row.Notes,
			opts.Finalize, markedBy, now)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				result.Skipped = append(result.Skipped, row.Key())
				continue
			}
			return nil, fmt.Errorf("upsert attendance %s: %w", row.Key(), err)
		}
		result.Written = append(result.Written, stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attendance upsert: %w", err)
	}
	commit = true
	return result, nil
}

// Override changes a record regardless of its finalized flag and records an
// audit entry in the same transaction. It returns the record before and after.
func (r *AttendanceRepository) Override(ctx context.Context, o models.AttendanceOverride) (*models.AttendanceRecord, *models.AttendanceRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin attendance override: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	var before models.AttendanceRecord
	selectQuery := `SELECT ` + attendanceColumns + ` FROM attendance
WHERE student_id = $1 AND class_id = $2 AND date = $3 FOR UPDATE`
	if err := tx.GetContext(ctx, &before, selectQuery, o.Key.StudentID, o.Key.ClassID, o.Key.Date); err != nil {
		return nil, nil, err
	}

	var after models.AttendanceRecord
	updateQuery := `UPDATE attendance SET status = $1, finalized_by_admin = $2, marked_by = $3, updated_at = $4
WHERE id = $5 RETURNING ` + attendanceColumns
	if err := tx.GetContext(ctx, &after, updateQuery, o.Status, o.Finalized, o.ActorID, r.now(), before.ID); err != nil {
		return nil, nil, fmt.Errorf("override attendance %s: %w", o.Key, err)
	}

	oldValues, _ := json.Marshal(before)
	newValues, _ := json.Marshal(map[string]interface{}{"record": after, "reason": o.Reason})
	actor := o.ActorID
	resourceID := before.ID
	audit := &models.AuditLog{
		ID:         uuid.NewString(),
		UserID:     &actor,
		Action:     models.AuditActionAttendanceOverride,
		Resource:   "attendance",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		CreatedAt:  r.now(),
	}
	if _, err := tx.NamedExecContext(ctx, insertAuditLogQuery, audit); err != nil {
		return nil, nil, fmt.Errorf("audit attendance override: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit attendance override: %w", err)
	}
	commit = true
	return &before, &after, nil
}

// StudentTallies counts statuses per student inside an inclusive date range.
func (r *AttendanceRepository) StudentTallies(ctx context.Context, studentIDs []string, dateFrom, dateTo string) (map[string]models.AttendanceTally, error) {
	tallies := make(map[string]models.AttendanceTally, len(studentIDs))
	if len(studentIDs) == 0 {
		return tallies, nil
	}
	query := `SELECT student_id, status, COUNT(*) AS cnt
FROM attendance
WHERE student_id = ANY($1) AND date >= $2 AND date <= $3
GROUP BY student_id, status`
	rows := []struct {
		StudentID string `db:"student_id"`
		Status    string `db:"status"`
		Count     int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(studentIDs), dateFrom, dateTo); err != nil {
		return nil, fmt.Errorf("student attendance tallies: %w", err)
	}
	for _, row := range rows {
		tally := tallies[row.StudentID]
		switch models.AttendanceStatus(row.Status) {
		case models.AttendanceStatusPresent:
			tally.Present += row.Count
		case models.AttendanceStatusAbsent:
			tally.Absent += row.Count
		case models.AttendanceStatusLate:
			tally.Late += row.Count
		case models.AttendanceStatusExcused:
			tally.Excused += row.Count
		}
		tallies[row.StudentID] = tally
	}
	return tallies, nil
}
