package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/middleware/requestid"
)

func TestRemoteReconcilerUpsertBulk(t *testing.T) {
	var received dto.UpsertAttendanceRequest
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/attendance/bulk", r.URL.Path)
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"written":[{"student_id":"s1","class_id":"c1","date":"2024-09-10","status":"present","finalized_by_admin":true}],"skipped":[{"student_id":"s2","class_id":"c1","date":"2024-09-10"}]}}`))
	}))
	defer server.Close()

	remote := NewRemoteReconciler(RemoteConfig{BaseURL: server.URL + "/api/v1/", Token: "tkn"}, zap.NewNop())
	ctx := WithBatchID(requestid.WithValue(context.Background(), "req-1"), "batch-1")
	result, err := remote.UpsertBulk(ctx, rowsFor("s1"), models.UpsertOptions{Finalize: true})
	require.NoError(t, err)

	assert.True(t, received.Finalize)
	require.Len(t, received.Rows, 1)
	assert.Equal(t, "Bearer tkn", headers.Get("Authorization"))
	assert.Equal(t, "req-1", headers.Get("X-Request-ID"))
	assert.Equal(t, "batch-1", headers.Get(BatchIDHeader))
	require.Len(t, result.Written, 1)
	assert.True(t, result.Written[0].FinalizedByAdmin)
	assert.Equal(t, []models.AttendanceKey{{StudentID: "s2", ClassID: "c1", Date: "2024-09-10"}}, result.Skipped)
}

func TestRemoteReconcilerSendsActorToken(t *testing.T) {
	var auth []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"written":[],"skipped":[]}}`))
	}))
	defer server.Close()

	var signedFor []models.BatchActor
	remote := NewRemoteReconciler(RemoteConfig{
		BaseURL:     server.URL,
		TokenSource: func() (string, error) { return "agent", nil },
		ActorTokens: func(actor models.BatchActor) (string, error) {
			signedFor = append(signedFor, actor)
			return "as-" + actor.UserID, nil
		},
	}, zap.NewNop())

	admin := &models.BatchActor{UserID: "admin-3", Role: models.RoleAdmin}
	_, err := remote.UpsertBulk(WithActor(context.Background(), admin), rowsFor("s1"), models.UpsertOptions{Finalize: true})
	require.NoError(t, err)
	_, err = remote.UpsertBulk(WithActor(context.Background(), nil), rowsFor("s2"), models.UpsertOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer as-admin-3", "Bearer agent"}, auth)
	assert.Equal(t, []models.BatchActor{*admin}, signedFor)
}

func TestRemoteReconcilerClassifiesResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   FailureKind
		code   string
	}{
		{name: "validation", status: http.StatusBadRequest, body: `{"error":{"code":"VALIDATION_ERROR","message":"invalid attendance row 0","status":400}}`, kind: FailureValidation, code: "VALIDATION_ERROR"},
		{name: "server", status: http.StatusInternalServerError, body: `{"error":{"code":"INTERNAL_ERROR","message":"failed to save attendance","status":500}}`, kind: FailureServer, code: "SERVER_ERROR"},
		{name: "gateway down", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, kind: FailureNetwork, code: "NETWORK_ERROR"},
		{name: "unauthorized without envelope", status: http.StatusUnauthorized, body: ``, kind: FailureValidation, code: "REMOTE_REJECTED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			remote := NewRemoteReconciler(RemoteConfig{BaseURL: server.URL}, zap.NewNop())
			_, err := remote.UpsertBulk(context.Background(), rowsFor("s1"), models.UpsertOptions{})
			require.Error(t, err)
			assert.Equal(t, tc.kind, Classify(err))
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
}

func TestRemoteReconcilerTransportFailureIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	remote := NewRemoteReconciler(RemoteConfig{BaseURL: url, Timeout: time.Second}, zap.NewNop())
	_, err := remote.UpsertBulk(context.Background(), rowsFor("s1"), models.UpsertOptions{})
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.True(t, errors.Is(err, appErrors.ErrNetwork))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind FailureKind
	}{
		{nil, FailureNone},
		{appErrors.ErrOffline, FailureNetwork},
		{context.DeadlineExceeded, FailureNetwork},
		{context.Canceled, FailureCanceled},
		{appErrors.Wrap(&url.Error{Op: "Post", URL: "http://gw/attendance/bulk", Err: context.Canceled}, appErrors.ErrNetwork.Code, appErrors.ErrNetwork.Status, "attendance server unreachable"), FailureCanceled},
		{errors.New("TypeError: Failed to fetch"), FailureNetwork},
		{errors.New("request timed out"), FailureNetwork},
		{errors.New("unexpected EOF"), FailureNetwork},
		{appErrors.Clone(appErrors.ErrValidation, "bad row"), FailureValidation},
		{appErrors.Clone(appErrors.ErrServer, "constraint violation"), FailureServer},
		{errors.New("duplicate key value violates unique constraint"), FailureServer},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, Classify(tc.err), "%v", tc.err)
	}
}
