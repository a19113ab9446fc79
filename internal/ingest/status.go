package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-leads/internal/messaging"
	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/internal/store"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// StatusReconciler applies provider delivery statuses to stored messages.
type StatusReconciler struct {
	repo    *store.Repository
	logger  *logging.Logger
	metrics *metrics.WebhookMetrics
}

func NewStatusReconciler(repo *store.Repository, logger *logging.Logger, m *metrics.WebhookMetrics) *StatusReconciler {
	if repo == nil {
		panic("ingest: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StatusReconciler{repo: repo, logger: logger, metrics: m}
}

// ApplyStatus looks the message up by provider ID only. An unknown message is
// logged and dropped, and a status that would move the message backwards is
// ignored.
func (r *StatusReconciler) ApplyStatus(ctx context.Context, update whatsapp.StatusUpdate) error {
	messageID := strings.TrimSpace(update.MessageID)
	if messageID == "" {
		return errors.New("ingest: status update has no message id")
	}

	status, known := messaging.MapProviderStatus(update.Status)
	if !known {
		r.logger.Warn("unmapped provider status stored as-is", "message_id", messageID, "status", update.Status)
	}

	res, err := r.repo.ApplyMessageStatus(ctx, store.StatusChange{
		MessageID:    messageID,
		Status:       status,
		ErrorCode:    update.ErrorCode,
		ErrorMessage: update.ErrorMessage,
	})
	if err != nil {
		r.metrics.ObserveStatusUpdate(string(status), "error")
		return fmt.Errorf("ingest: apply status %s to %s: %w", status, messageID, err)
	}
	r.metrics.ObserveStatusUpdate(string(status), string(res.Outcome))

	switch res.Outcome {
	case store.OutcomeNotFound:
		r.logger.Warn("status update for unknown message dropped", "message_id", messageID, "status", status)
	case store.OutcomeStale:
		r.logger.Info("stale status update ignored",
			"message_id", messageID,
			"status", status,
			"current_status", res.Message.Status,
		)
	default:
		r.logger.Debug("message status updated", "message_id", messageID, "status", status)
	}
	return nil
}
