package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-sync/internal/dto"
	"github.com/noah-isme/sma-attendance-sync/internal/models"
	"github.com/noah-isme/sma-attendance-sync/internal/syncer"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
	"github.com/noah-isme/sma-attendance-sync/pkg/response"
)

type attendanceSubmitter interface {
	Submit(ctx context.Context, rows []models.AttendanceRecord, opts models.EnqueueOptions) (*dto.SubmitAttendanceResponse, error)
}

type outboxView interface {
	Count() int
	Snapshot() []models.AttendanceBatch
	Degraded() bool
	Clear(ctx context.Context) int
	Subscribe(fn func(count int)) func()
}

type syncRunner interface {
	Run(ctx context.Context) (models.SyncResult, error)
	OnProgress(fn syncer.ProgressFunc) func()
}

// OutboxHandler serves the sync agent's local API for the dashboard.
type OutboxHandler struct {
	submitter attendanceSubmitter
	outbox    outboxView
	runner    syncRunner
}

// NewOutboxHandler constructs the handler.
func NewOutboxHandler(submitter attendanceSubmitter, outbox outboxView, runner syncRunner) *OutboxHandler {
	return &OutboxHandler{submitter: submitter, outbox: outbox, runner: runner}
}

// Submit godoc
// @Summary Submit attendance through the sync agent
// @Description Writes directly when online. Network and server failures queue the batch and return 202.
// @Description The batch is written as the caller; finalize requires an admin token.
// @Tags Sync Agent
// @Accept json
// @Produce json
// @Param payload body dto.SubmitAttendanceRequest true "Attendance batch"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /local/attendance [post]
func (h *OutboxHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	if req.Finalize && !claims.Role.CanFinalize() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only administrators may finalize attendance"))
		return
	}
	resp, err := h.submitter.Submit(c.Request.Context(), req.Rows, models.EnqueueOptions{
		Finalize: req.Finalize,
		Actor:    &models.BatchActor{UserID: claims.UserID, Role: claims.Role},
		Meta:     req.Meta,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if resp.Queued {
		response.Accepted(c, resp)
		return
	}
	response.JSON(c, http.StatusOK, resp)
}

// Status godoc
// @Summary Outbox status
// @Tags Sync Agent
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /local/outbox [get]
func (h *OutboxHandler) Status(c *gin.Context) {
	batches := h.outbox.Snapshot()
	response.JSON(c, http.StatusOK, dto.OutboxStatusResponse{
		Count:    len(batches),
		Degraded: h.outbox.Degraded(),
		Batches:  batches,
	})
}

// Sync godoc
// @Summary Replay queued batches now
// @Tags Sync Agent
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /local/outbox/sync [post]
func (h *OutboxHandler) Sync(c *gin.Context) {
	result, err := h.runner.Run(c.Request.Context())
	if errors.Is(err, syncer.ErrSyncInFlight) {
		response.Error(c, appErrors.Clone(appErrors.ErrConflict, "sync already in progress"))
		return
	}
	if err != nil {
		response.JSON(c, http.StatusOK, result, map[string]interface{}{
			"interrupted": true,
			"reason":      syncer.Classify(err).String(),
		})
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Clear godoc
// @Summary Discard every queued batch
// @Tags Sync Agent
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /local/outbox [delete]
func (h *OutboxHandler) Clear(c *gin.Context) {
	removed := h.outbox.Clear(c.Request.Context())
	response.JSON(c, http.StatusOK, gin.H{"removed": removed})
}

type streamEvent struct {
	name string
	data interface{}
}

// Stream godoc
// @Summary Server-sent events for the pending count and sync progress
// @Tags Sync Agent
// @Produce text/event-stream
// @Router /local/outbox/stream [get]
func (h *OutboxHandler) Stream(c *gin.Context) {
	events := make(chan streamEvent, 32)
	publish := func(e streamEvent) {
		select {
		case events <- e:
		default:
		}
	}
	unsubscribe := h.outbox.Subscribe(func(count int) {
		publish(streamEvent{name: "count", data: gin.H{"count": count}})
	})
	defer unsubscribe()
	stopProgress := h.runner.OnProgress(func(p models.SyncProgress) {
		publish(streamEvent{name: "progress", data: p})
	})
	defer stopProgress()

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-store")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-events:
			c.SSEvent(e.name, e.data)
			return true
		}
	})
}
