package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
)

// NotificationRepository reads and appends to the notification log.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// List returns log rows of one type for the given recipients, bounded by created_at.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationLogFilter) ([]models.NotificationRecord, error) {
	rows := []models.NotificationRecord{}
	if len(filter.RecipientIDs) == 0 {
		return rows, nil
	}
	where := []string{"type = $1", "recipient_id = ANY($2)"}
	args := []interface{}{filter.Type, pq.Array(filter.RecipientIDs)}
	if filter.CreatedFrom != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *filter.CreatedTo)
	}
	query := fmt.Sprintf(`SELECT id, recipient_id, sender_id, type, message, event_key, created_at
FROM notifications WHERE %s ORDER BY created_at ASC`, strings.Join(where, " AND "))
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return rows, nil
}

// Create appends a notification log row.
func (r *NotificationRepository) Create(ctx context.Context, record *models.NotificationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_id, sender_id, type, message, event_key, created_at)
VALUES (:id, :recipient_id, :sender_id, :type, :message, :event_key, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}
