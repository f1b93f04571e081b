// Package events publica as mensagens persistidas para consumidores
// externos (filas AMQP, webhooks de encaminhamento).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/crmhub/internal/storage/model"
)

const (
	TypeMessageReceived         = "message.received"
	TypeIntegrationDisconnected = "integration.disconnected"
)

// MessageEvent é a forma normalizada de uma mensagem gravada, independente
// do provedor de origem.
type MessageEvent struct {
	ID                string             `json:"id"`
	Type              string             `json:"type"`
	TenantID          string             `json:"tenantId"`
	IntegrationID     string             `json:"integrationId"`
	Provider          model.ProviderType `json:"provider"`
	Channel           model.Channel      `json:"channel"`
	ConversationID    string             `json:"conversationId"`
	MessageID         string             `json:"messageId"`
	ExternalMessageID string             `json:"externalMessageId,omitempty"`
	Contact           string             `json:"contact"`
	ContactName       string             `json:"contactName,omitempty"`
	Direction         model.Direction    `json:"direction"`
	MessageType       model.MessageType  `json:"messageType"`
	Content           string             `json:"content"`
	MediaURL          string             `json:"mediaUrl,omitempty"`
	MimeType          string             `json:"mimeType,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// IntegrationDisconnected monta o evento publicado quando o health check de
// uma integração ativa falha. O motivo vai em Content.
func IntegrationDisconnected(in model.Integration, reason string, at time.Time) MessageEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return MessageEvent{
		ID:            uuid.New().String(),
		Type:          TypeIntegrationDisconnected,
		TenantID:      in.TenantID,
		IntegrationID: in.ID,
		Provider:      in.Provider,
		Channel:       in.Channel,
		Content:       reason,
		Timestamp:     at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event MessageEvent) error
	Close() error
}

// Nop descarta os eventos; usado quando RABBITMQ_URL não está definido.
type Nop struct{}

func (Nop) Publish(context.Context, MessageEvent) error { return nil }

func (Nop) Close() error { return nil }
