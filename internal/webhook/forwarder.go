package webhook

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/pkg/queue"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/webhook/delivery"
)

// Forwarder entrega os eventos de mensagem na forward_webhook_url da
// integração, assinando com a credencial forward_secret.
type Forwarder struct {
	integrations storage.IntegrationRepository
	delivery     *delivery.Delivery
	log          *zap.Logger
}

func NewForwarder(integrations storage.IntegrationRepository, d *delivery.Delivery, log *zap.Logger) *Forwarder {
	return &Forwarder{integrations: integrations, delivery: d, log: log}
}

func (f *Forwarder) Handle(ctx context.Context, job *queue.Job) error {
	integrationID := job.String("integration_id")
	integration, err := f.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("forward: integração %s: %w", integrationID, err)
	}

	url := integration.ConfigString("forward_webhook_url")
	if url == "" {
		f.log.Warn("forward: integração sem url configurada", zap.String("integration_id", integrationID))
		return nil
	}

	payload := map[string]any{
		"id":            job.ID,
		"tenantId":      job.TenantID,
		"integrationId": integration.ID,
		"type":          job.Type,
		"event":         job.Payload["event"],
		"createdAt":     job.CreatedAt,
	}
	return f.delivery.Deliver(ctx, url, integration.Credential("forward_secret"), payload)
}
