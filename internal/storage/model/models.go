package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
)

func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelInstagram
}

type ProviderType string

const (
	ProviderMetaOfficial ProviderType = "meta_official"
	ProviderEvolutionAPI ProviderType = "evolution_api"
	ProviderZAPI         ProviderType = "zapi"
	ProviderUAZAPI       ProviderType = "uazapi"
)

type IntegrationStatus string

const (
	IntegrationStatusActive       IntegrationStatus = "active"
	IntegrationStatusPending      IntegrationStatus = "pending"
	IntegrationStatusDisconnected IntegrationStatus = "disconnected"
	IntegrationStatusError        IntegrationStatus = "error"
)

// Integration liga um tenant a um provedor de mensagens em um canal.
type Integration struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenantId"`
	Channel      Channel           `json:"channel"`
	Provider     ProviderType      `json:"provider"`
	Credentials  map[string]string `json:"-"`
	Config       map[string]any    `json:"config"`
	Status       IntegrationStatus `json:"status"`
	IsActive     bool              `json:"isActive"`
	WebhookToken string            `json:"-"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

func (i Integration) Credential(key string) string {
	if i.Credentials == nil {
		return ""
	}
	return strings.TrimSpace(i.Credentials[key])
}

func (i Integration) ConfigString(key string) string {
	v, ok := i.Config[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// ConfigBool aceita bool ou as strings "true"/"1", que aparecem em configs antigas.
func (i Integration) ConfigBool(key string) bool {
	v, ok := i.Config[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case float64:
		return t != 0
	default:
		return false
	}
}

type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

type Conversation struct {
	ID                 string             `json:"id"`
	TenantID           string             `json:"tenantId"`
	Channel            Channel            `json:"channel"`
	ContactKey         string             `json:"contactKey"`
	ContactPhone       string             `json:"contactPhone,omitempty"`
	ContactName        string             `json:"contactName,omitempty"`
	AvatarURL          string             `json:"avatarUrl,omitempty"`
	UnreadCount        int                `json:"unreadCount"`
	TotalMessages      int                `json:"totalMessages"`
	LastMessageContent string             `json:"lastMessageContent,omitempty"`
	LastMessageAt      *time.Time         `json:"lastMessageAt,omitempty"`
	Status             ConversationStatus `json:"status"`
	IntegrationID      string             `json:"integrationId,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeLocation MessageType = "location"
	MessageTypeReaction MessageType = "reaction"
	MessageTypeTemplate MessageType = "template"
	MessageTypeUnknown  MessageType = "unknown"
)

// IsMedia indica tipos cujo conteúdo precisa ser copiado para o object storage.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument, MessageTypeSticker:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return 0
}

// Advances informa se next deve substituir s. Status só avança
// (sent < delivered < read); failed sempre é aplicado.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if next == MessageStatusFailed {
		return s != MessageStatusFailed
	}
	return next.rank() > s.rank()
}

type Message struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversationId"`
	TenantID          string        `json:"tenantId"`
	Direction         Direction     `json:"direction"`
	MessageType       MessageType   `json:"messageType"`
	Content           string        `json:"content"`
	MediaURL          string        `json:"mediaUrl,omitempty"`
	MimeType          string        `json:"mimeType,omitempty"`
	Status            MessageStatus `json:"status"`
	ExternalMessageID string        `json:"externalMessageId,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

type Lead struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Telefone  string    `json:"telefone"`
	Nome      string    `json:"nome"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WebhookLog struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId,omitempty"`
	IntegrationID string     `json:"integrationId,omitempty"`
	EventType     string     `json:"eventType"`
	Payload       string     `json:"payload"`
	Processed     bool       `json:"processed"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type DeadLetterReason string

const (
	DeadLetterUnresolved  DeadLetterReason = "unresolved"
	DeadLetterAmbiguous   DeadLetterReason = "ambiguous"
	DeadLetterPersistence DeadLetterReason = "persistence"
)

// DeadLetter guarda payloads que não puderam ser atribuídos a um tenant
// ou cuja gravação falhou, para reprocessamento manual.
type DeadLetter struct {
	ID            string           `json:"id"`
	WebhookLogID  string           `json:"webhookLogId,omitempty"`
	IntegrationID string           `json:"integrationId,omitempty"`
	RouteToken    string           `json:"-"`
	Reason        DeadLetterReason `json:"reason"`
	Detail        string           `json:"detail,omitempty"`
	Payload       string           `json:"payload"`
	CreatedAt     time.Time        `json:"createdAt"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
}
