package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/middleware/requestid"
)

// BatchIDHeader carries the outbox batch id on replayed writes.
const BatchIDHeader = "X-Outbox-Batch-ID"

type (
	batchIDKey struct{}
	actorKey   struct{}
)

// WithBatchID tags ctx with the outbox batch being replayed.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchIDFromContext returns the batch id set by WithBatchID.
func BatchIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(batchIDKey{}).(string)
	return id
}

// WithActor marks ctx so the write is sent as actor rather than as the agent.
func WithActor(ctx context.Context, actor *models.BatchActor) context.Context {
	if actor == nil {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, *actor)
}

func actorFromContext(ctx context.Context) (models.BatchActor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.BatchActor)
	return actor, ok
}

// RemoteConfig points the client at the API gateway.
type RemoteConfig struct {
	BaseURL string
	Token   string
	// TokenSource, when set, supplies the bearer token per request and wins over Token.
	TokenSource func() (string, error)
	// ActorTokens signs a token for the dashboard user a write is made for.
	ActorTokens func(models.BatchActor) (string, error)
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// RemoteReconciler calls the gateway's bulk upsert endpoint.
type RemoteReconciler struct {
	baseURL     string
	token       string
	tokenSource func() (string, error)
	actorTokens func(models.BatchActor) (string, error)
	client      *http.Client
	logger      *zap.Logger
}

// NewRemoteReconciler constructs the client.
func NewRemoteReconciler(cfg RemoteConfig, logger *zap.Logger) *RemoteReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteReconciler{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		tokenSource: cfg.TokenSource,
		actorTokens: cfg.ActorTokens,
		client:      client,
		logger:      logger,
	}
}

type upsertEnvelope struct {
	Data  *models.UpsertResult `json:"data"`
	Error *appErrors.Error     `json:"error"`
}

// UpsertBulk posts rows to /attendance/bulk. Transport failures and gateway
// unavailability come back wrapped in ErrNetwork.
func (r *RemoteReconciler) UpsertBulk(ctx context.Context, rows []models.AttendanceRecord, opts models.UpsertOptions) (*models.UpsertResult, error) {
	body, err := json.Marshal(dto.UpsertAttendanceRequest{Finalize: opts.Finalize, Rows: rows})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to encode attendance batch")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/attendance/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := r.bearer(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header(), id)
	}
	if id := BatchIDFromContext(ctx); id != "" {
		req.Header.Set(BatchIDHeader, id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNetwork.Code, appErrors.ErrNetwork.Status, appErrors.ErrNetwork.Message)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNetwork.Code, appErrors.ErrNetwork.Status, "failed to read response")
	}

	var envelope upsertEnvelope
	decodeErr := json.Unmarshal(raw, &envelope)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if decodeErr != nil || envelope.Data == nil {
			return nil, appErrors.Clone(appErrors.ErrServer, "unexpected upsert response")
		}
		return envelope.Data, nil
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return nil, appErrors.Clone(appErrors.ErrNetwork, fmt.Sprintf("gateway unavailable (%d)", resp.StatusCode))
	}

	if decodeErr == nil && envelope.Error != nil {
		remote := envelope.Error
		if remote.Status == 0 {
			remote.Status = resp.StatusCode
		}
		if resp.StatusCode >= 500 {
			return nil, appErrors.Wrap(remote, appErrors.ErrServer.Code, appErrors.ErrServer.Status, remote.Message)
		}
		return nil, remote
	}
	if resp.StatusCode >= 500 {
		return nil, appErrors.Clone(appErrors.ErrServer, fmt.Sprintf("server error (%d)", resp.StatusCode))
	}
	return nil, appErrors.New("REMOTE_REJECTED", resp.StatusCode, fmt.Sprintf("request rejected (%d)", resp.StatusCode))
}

func (r *RemoteReconciler) bearer(ctx context.Context) (string, error) {
	if actor, ok := actorFromContext(ctx); ok && r.actorTokens != nil {
		token, err := r.actorTokens(actor)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token for "+actor.UserID)
		}
		return token, nil
	}
	if r.tokenSource != nil {
		token, err := r.tokenSource()
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to obtain service token")
		}
		return token, nil
	}
	return r.token, nil
}
