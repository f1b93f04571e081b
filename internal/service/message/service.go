// Package message implementa o envio de mensagens pelo provedor ativo do
// tenant e o registro da mensagem enviada na conversa.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/pkg/phone"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/model"
)

var (
	ErrInvalidPayload       = errors.New("payload inválido")
	ErrUnsupportedMediaType = errors.New("tipo de mensagem não suportado para envio")
)

// ProviderFactory é satisfeito por *factory.Factory.
type ProviderFactory interface {
	Create(ctx context.Context, tenantID string, channel model.Channel) (provider.Provider, error)
}

type Service struct {
	factory        ProviderFactory
	conversations  storage.ConversationRepository
	messages       storage.MessageRepository
	metrics        *metrics.Metrics
	defaultCountry string
	log            *zap.Logger
}

func NewService(factory ProviderFactory, conversations storage.ConversationRepository, messages storage.MessageRepository, m *metrics.Metrics, defaultCountry string, log *zap.Logger) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	if defaultCountry == "" {
		defaultCountry = "BR"
	}
	return &Service{
		factory:        factory,
		conversations:  conversations,
		messages:       messages,
		metrics:        m,
		defaultCountry: defaultCountry,
		log:            log,
	}
}

// Send envia pelo provedor da integração ativa. Falhas do provedor voltam
// em SendResult com Success=false; o erro fica para payload inválido e
// integração ausente ou mal configurada.
func (s *Service) Send(ctx context.Context, tenantID string, channel model.Channel, payload provider.SendPayload) (provider.SendResult, error) {
	if err := validate(&payload); err != nil {
		return provider.SendResult{}, err
	}

	prov, err := s.factory.Create(ctx, tenantID, channel)
	if err != nil {
		return provider.SendResult{}, err
	}

	log := s.log.With(
		zap.String("tenant_id", tenantID),
		zap.String("channel", string(channel)),
		zap.String("provider", string(prov.Name())),
	)

	start := time.Now()
	res, err := prov.SendMessage(ctx, payload)
	if err != nil {
		return provider.SendResult{}, err
	}
	s.metrics.ObserveSend(string(prov.Name()), res.Success)

	if !res.Success {
		log.Warn("envio recusado pelo provedor",
			zap.String("message_type", string(payload.MessageType)),
			zap.String("error", res.Error),
		)
		return res, nil
	}

	log.Info("mensagem enviada",
		zap.String("external_message_id", res.ExternalMessageID),
		zap.Duration("took", time.Since(start)),
	)

	// a mensagem já saiu; falha ao registrar não muda o resultado do envio
	if err := s.record(ctx, prov.Integration(), payload, res); err != nil {
		log.Error("falha ao registrar mensagem enviada", zap.Error(err))
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, integration model.Integration, payload provider.SendPayload, res provider.SendResult) error {
	contact := strings.TrimSpace(payload.ExternalContactID)
	conv := model.Conversation{
		TenantID:      integration.TenantID,
		Channel:       integration.Channel,
		ContactKey:    contact,
		Status:        model.ConversationOpen,
		IntegrationID: integration.ID,
	}
	if integration.Channel == model.ChannelWhatsApp {
		conv.ContactKey = phone.Normalize(contact, s.defaultCountry)
		conv.ContactPhone = conv.ContactKey
	}

	conv, _, err := s.conversations.Upsert(ctx, conv)
	if err != nil {
		return fmt.Errorf("upsert conversa: %w", err)
	}

	status := res.Status
	if status == "" {
		status = model.MessageStatusSent
	}
	at := res.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	msg, created, err := s.messages.Insert(ctx, model.Message{
		ConversationID:    conv.ID,
		TenantID:          integration.TenantID,
		Direction:         model.DirectionOutbound,
		MessageType:       payload.MessageType,
		Content:           payload.Message,
		MediaURL:          payload.MediaURL,
		MimeType:          payload.MimeType,
		Status:            status,
		ExternalMessageID: res.ExternalMessageID,
		CreatedAt:         at,
	})
	if err != nil {
		return fmt.Errorf("inserir mensagem: %w", err)
	}
	// o eco do webhook pode ter chegado antes
	if !created {
		return nil
	}

	if err := s.conversations.RecordMessage(ctx, conv.ID, preview(payload), at, false); err != nil {
		return fmt.Errorf("atualizar conversa: %w", err)
	}
	s.metrics.MessagesPersisted.WithLabelValues(string(msg.Direction), string(integration.Channel)).Inc()
	return nil
}

// MarkAsRead confirma a leitura no provedor. Provedores sem suporte tratam
// a chamada como no-op.
func (s *Service) MarkAsRead(ctx context.Context, tenantID string, channel model.Channel, externalMessageID, externalContactID string) error {
	if externalMessageID == "" {
		return ErrInvalidPayload
	}
	prov, err := s.factory.Create(ctx, tenantID, channel)
	if err != nil {
		return err
	}
	return prov.MarkAsRead(ctx, externalMessageID, externalContactID)
}

// Status reúne o health check e os dados da conta do provedor ativo.
type Status struct {
	Health  provider.HealthStatus `json:"health"`
	Account *provider.AccountInfo `json:"account,omitempty"`
}

func (s *Service) Status(ctx context.Context, tenantID string, channel model.Channel) (Status, error) {
	prov, err := s.factory.Create(ctx, tenantID, channel)
	if err != nil {
		return Status{}, err
	}

	out := Status{Health: prov.HealthCheck(ctx)}
	if !out.Health.Healthy {
		return out, nil
	}
	info, err := prov.GetAccountInfo(ctx)
	if err != nil {
		s.log.Warn("falha ao buscar dados da conta", zap.String("tenant_id", tenantID), zap.Error(err))
		return out, nil
	}
	out.Account = &info
	return out, nil
}

// Conversations lista as conversas do tenant no canal, mais recentes
// primeiro. Com contact informado retorna só a conversa daquele contato.
func (s *Service) Conversations(ctx context.Context, tenantID string, channel model.Channel, contact string) ([]model.Conversation, error) {
	if contact = strings.TrimSpace(contact); contact != "" {
		if channel == model.ChannelWhatsApp {
			contact = phone.Normalize(contact, s.defaultCountry)
		}
		conv, err := s.conversations.GetByContact(ctx, tenantID, channel, contact)
		if err != nil {
			return nil, err
		}
		return []model.Conversation{conv}, nil
	}

	list, err := s.conversations.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(list))
	for _, conv := range list {
		if conv.Channel == channel {
			out = append(out, conv)
		}
	}
	return out, nil
}

// History retorna as últimas mensagens da conversa. Conversa de outro
// tenant é tratada como inexistente.
func (s *Service) History(ctx context.Context, tenantID, conversationID string, limit int) ([]model.Message, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.TenantID != tenantID {
		return nil, model.ErrNotFound
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.messages.ListByConversation(ctx, conv.ID, limit)
}

func validate(p *provider.SendPayload) error {
	p.ExternalContactID = strings.TrimSpace(p.ExternalContactID)
	if p.ExternalContactID == "" {
		return fmt.Errorf("%w: externalContactId obrigatório", ErrInvalidPayload)
	}
	if p.MessageType == "" {
		p.MessageType = model.MessageTypeText
	}

	switch {
	case p.MessageType == model.MessageTypeText:
		if strings.TrimSpace(p.Message) == "" {
			return fmt.Errorf("%w: message obrigatório para texto", ErrInvalidPayload)
		}
	case p.MessageType.IsMedia():
		if !provider.IsHTTP(p.MediaURL) {
			return fmt.Errorf("%w: mediaUrl http(s) obrigatório para %s", ErrInvalidPayload, p.MessageType)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, p.MessageType)
	}
	return nil
}

func preview(p provider.SendPayload) string {
	if p.Message != "" {
		return p.Message
	}
	return provider.Marker(string(p.MessageType))
}
