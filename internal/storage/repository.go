package storage

import (
	"context"
	"time"

	"github.com/open-apime/crmhub/internal/storage/model"
)

// ErrNotFound é retornado por todos os drivers quando o registro não existe.
var ErrNotFound = model.ErrNotFound

type IntegrationRepository interface {
	Create(ctx context.Context, integration model.Integration) (model.Integration, error)
	GetByID(ctx context.Context, id string) (model.Integration, error)
	// GetActive retorna a integração ativa do tenant no canal.
	GetActive(ctx context.Context, tenantID string, channel model.Channel) (model.Integration, error)
	// ListActive lista integrações ativas de todos os tenants. Canal vazio lista todos.
	ListActive(ctx context.Context, channel model.Channel) ([]model.Integration, error)
	Update(ctx context.Context, integration model.Integration) (model.Integration, error)
}

type ConversationRepository interface {
	// Upsert faz find-or-create atômico por (tenant, canal, contato). Nome e avatar
	// só são sobrescritos quando não vazios. O bool indica criação.
	Upsert(ctx context.Context, conv model.Conversation) (model.Conversation, bool, error)
	GetByID(ctx context.Context, id string) (model.Conversation, error)
	GetByContact(ctx context.Context, tenantID string, channel model.Channel, contactKey string) (model.Conversation, error)
	// RecordMessage atualiza contadores e o resumo da última mensagem.
	RecordMessage(ctx context.Context, id, preview string, at time.Time, inbound bool) error
	ListByTenant(ctx context.Context, tenantID string) ([]model.Conversation, error)
}

type MessageRepository interface {
	// Insert é idempotente em (conversation_id, external_message_id). Em conflito
	// retorna a mensagem existente e created=false.
	Insert(ctx context.Context, msg model.Message) (model.Message, bool, error)
	GetByExternalID(ctx context.Context, tenantID, externalID string) (model.Message, error)
	UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

type LeadRepository interface {
	FindOrCreate(ctx context.Context, lead model.Lead) (model.Lead, bool, error)
	GetByPhone(ctx context.Context, tenantID, telefone string) (model.Lead, error)
	UpdateProfile(ctx context.Context, id, nome, avatarURL string) error
}

type WebhookLogRepository interface {
	Create(ctx context.Context, entry model.WebhookLog) (model.WebhookLog, error)
	GetByID(ctx context.Context, id string) (model.WebhookLog, error)
	// Assign associa o log ao tenant/integração depois da resolução.
	Assign(ctx context.Context, id, tenantID, integrationID string) error
	MarkProcessed(ctx context.Context, id string, success bool, errMsg string) error
}

type DeadLetterRepository interface {
	Create(ctx context.Context, letter model.DeadLetter) (model.DeadLetter, error)
	GetByID(ctx context.Context, id string) (model.DeadLetter, error)
	List(ctx context.Context, includeResolved bool, limit int) ([]model.DeadLetter, error)
	MarkResolved(ctx context.Context, id string) error
}
