// Package provider define o contrato comum dos provedores de mensagens
// (Meta Cloud API, Evolution API, Z-API/UAZAPI) e o comportamento
// compartilhado entre eles.
package provider

import (
	"context"
	"time"

	"github.com/open-apime/crmhub/internal/storage/model"
)

type EventType string

const (
	EventMessageReceived EventType = "message.received"
	EventStatusUpdate    EventType = "status_update"
	EventOutbound        EventType = "outbound"
	EventUnknown         EventType = "unknown"
	EventError           EventType = "error"
)

type Provider interface {
	Name() model.ProviderType
	Integration() model.Integration

	// SendMessage só retorna erro para problemas de configuração detectados
	// antes da chamada de rede; falhas do provedor vêm em SendResult.
	SendMessage(ctx context.Context, payload SendPayload) (SendResult, error)
	MarkAsRead(ctx context.Context, externalMessageID, externalContactID string) error
	// FetchMedia aceita uma URL ou o id de mídia do provedor e devolve
	// uma URL durável.
	FetchMedia(ctx context.Context, ref, mimeType string) (MediaResult, error)
	ValidateWebhook(token, challenge string) (string, bool)
	ProcessWebhook(ctx context.Context, raw []byte) WebhookResult
	HealthCheck(ctx context.Context) HealthStatus
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
}

type SendPayload struct {
	ExternalContactID        string            `json:"externalContactId" binding:"required"`
	Message                  string            `json:"message"`
	MessageType              model.MessageType `json:"messageType"`
	MediaURL                 string            `json:"mediaUrl,omitempty"`
	MimeType                 string            `json:"mimeType,omitempty"`
	FileName                 string            `json:"fileName,omitempty"`
	ReplyToExternalMessageID string            `json:"replyToExternalMessageId,omitempty"`
}

type SendResult struct {
	Success           bool                `json:"success"`
	ExternalMessageID string              `json:"externalMessageId,omitempty"`
	Status            model.MessageStatus `json:"status,omitempty"`
	Timestamp         time.Time           `json:"timestamp"`
	Error             string              `json:"error,omitempty"`
}

func SendFailure(err string) SendResult {
	return SendResult{Success: false, Status: model.MessageStatusFailed, Timestamp: time.Now().UTC(), Error: err}
}

type MediaResult struct {
	Success  bool   `json:"success"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Routing carrega os identificadores do payload usados para descobrir o tenant.
type Routing struct {
	Channel    model.Channel
	InstanceID string
	Owner      string
}

type WebhookResult struct {
	Success           bool                `json:"success"`
	EventType         EventType           `json:"eventType"`
	ExternalMessageID string              `json:"externalMessageId,omitempty"`
	ExternalContactID string              `json:"externalContactId,omitempty"`
	ContactName       string              `json:"contactName,omitempty"`
	AvatarURL         string              `json:"avatarUrl,omitempty"`
	FromMe            bool                `json:"fromMe"`
	MessageType       model.MessageType   `json:"messageType,omitempty"`
	MessageContent    string              `json:"messageContent,omitempty"`
	MediaURL          string              `json:"mediaUrl,omitempty"`
	MimeType          string              `json:"mimeType,omitempty"`
	FileName          string              `json:"fileName,omitempty"`
	MediaData         []byte              `json:"-"`
	Status            model.MessageStatus `json:"status,omitempty"`
	StatusMessageIDs  []string            `json:"-"`
	Timestamp         time.Time           `json:"timestamp"`
	Routing           Routing             `json:"-"`
	Error             string              `json:"error,omitempty"`
}

func Unknown(reason string) WebhookResult {
	return WebhookResult{Success: true, EventType: EventUnknown, Error: reason}
}

func Failed(err string) WebhookResult {
	return WebhookResult{Success: false, EventType: EventError, Error: err}
}

// Preview é o texto usado no resumo da conversa.
func (r WebhookResult) Preview() string {
	if r.MessageContent != "" {
		return r.MessageContent
	}
	if r.MessageType != "" && r.MessageType != model.MessageTypeText {
		return "[" + string(r.MessageType) + "]"
	}
	return ""
}

type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Provider  string         `json:"provider"`
	Status    string         `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checkedAt"`
}

type AccountInfo struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name,omitempty"`
	Phone   string         `json:"phone,omitempty"`
	Status  string         `json:"status,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
