package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
)

func TestAuditRepositoryCreateAuditLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewAuditRepository(sqlx.NewDb(db, "sqlmock"))

	user := "teacher-1"
	log := &models.AuditLog{UserID: &user, Action: models.AuditActionAttendanceBulkUpsert, Resource: "attendance", NewValues: []byte(`{"written":2}`)}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateAuditLog(context.Background(), log))
	require.NotEmpty(t, log.ID)
	require.False(t, log.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreateAuditLogError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewAuditRepository(sqlx.NewDb(db, "sqlmock"))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).WillReturnError(errors.New("relation does not exist"))
	err = repo.CreateAuditLog(context.Background(), &models.AuditLog{Action: models.AuditActionAttendanceOverride, Resource: "attendance"})
	require.ErrorContains(t, err, "create audit log")
}
