package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/whatsapp-leads/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-leads/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-leads/internal/store"
	"github.com/wolfman30/whatsapp-leads/internal/templates"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

// TemplateStatusReconciler applies provider template lifecycle events.
type TemplateStatusReconciler struct {
	repo    *store.Repository
	logger  *logging.Logger
	metrics *metrics.WebhookMetrics
}

func NewTemplateStatusReconciler(repo *store.Repository, logger *logging.Logger, m *metrics.WebhookMetrics) *TemplateStatusReconciler {
	if repo == nil {
		panic("ingest: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TemplateStatusReconciler{repo: repo, logger: logger, metrics: m}
}

// ApplyTemplateStatus looks the template up by name. Unknown templates are
// logged and dropped.
func (r *TemplateStatusReconciler) ApplyTemplateStatus(ctx context.Context, update whatsapp.TemplateStatusUpdate) error {
	name := strings.TrimSpace(update.Name)
	if name == "" {
		return errors.New("ingest: template update has no name")
	}

	status, known := templates.MapProviderEvent(update.Event)
	if !known {
		r.logger.Warn("unmapped template event stored as-is", "template", name, "event", update.Event)
	}

	tmpl, err := r.repo.ApplyTemplateStatus(ctx, store.TemplateStatusChange{
		Name:               name,
		Status:             status,
		Reason:             templates.NormalizeReason(update.Reason),
		ProviderTemplateID: update.TemplateID,
	})
	if errors.Is(err, templates.ErrTemplateNotFound) {
		r.metrics.ObserveEvent("template", "unknown")
		r.logger.Warn("template update for unknown template dropped", "template", name, "event", update.Event)
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: apply template status %s to %s: %w", status, name, err)
	}
	r.logger.Info("template status updated", "template", tmpl.Name, "status", tmpl.Status, "reason", tmpl.RejectionReason)
	return nil
}
