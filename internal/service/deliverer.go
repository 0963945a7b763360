package service

import (
	"context"
	"strings"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-sync/pkg/errors"
)

type notificationLogWriter interface {
	Create(ctx context.Context, record *models.NotificationRecord) error
}

// InAppDeliverer delivers notifications by appending them to the notification
// log, which is what the dashboard inbox reads and what dedup checks consult.
type InAppDeliverer struct {
	repo notificationLogWriter
}

// NewInAppDeliverer constructs the deliverer.
func NewInAppDeliverer(repo notificationLogWriter) *InAppDeliverer {
	return &InAppDeliverer{repo: repo}
}

// Deliver implements Deliverer.
func (d *InAppDeliverer) Deliver(ctx context.Context, req models.DeliveryRequest) error {
	if strings.TrimSpace(req.RecipientID) == "" || strings.TrimSpace(req.Message) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "recipient and message are required")
	}
	record := &models.NotificationRecord{
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Message:     req.Message,
	}
	if req.SenderID != "" {
		sender := req.SenderID
		record.SenderID = &sender
	}
	if req.EventKey != "" {
		key := req.EventKey
		record.EventKey = &key
	}
	return d.repo.Create(ctx, record)
}
