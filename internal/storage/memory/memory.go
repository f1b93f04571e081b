// Package memory implementa os repositórios em memória, usados em
// desenvolvimento (DB_DRIVER=memory) e nos testes do pipeline.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/crmhub/internal/storage/model"
)

// Store concentra o estado compartilhado entre os repositórios.
type Store struct {
	mu            sync.Mutex
	integrations  map[string]model.Integration
	conversations map[string]model.Conversation
	messages      map[string]model.Message
	leads         map[string]model.Lead
	webhookLogs   map[string]model.WebhookLog
	deadLetters   map[string]model.DeadLetter
}

func NewStore() *Store {
	return &Store{
		integrations:  make(map[string]model.Integration),
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]model.Message),
		leads:         make(map[string]model.Lead),
		webhookLogs:   make(map[string]model.WebhookLog),
		deadLetters:   make(map[string]model.DeadLetter),
	}
}

type integrationRepo struct{ s *Store }

func NewIntegrationRepository(s *Store) *integrationRepo { return &integrationRepo{s: s} }

func (r *integrationRepo) Create(ctx context.Context, in model.Integration) (model.Integration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	in.Credentials = copyCreds(in.Credentials)
	r.s.integrations[in.ID] = in
	return in, nil
}

func (r *integrationRepo) GetByID(ctx context.Context, id string) (model.Integration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	in, ok := r.s.integrations[id]
	if !ok {
		return model.Integration{}, model.ErrNotFound
	}
	return in, nil
}

func (r *integrationRepo) GetActive(ctx context.Context, tenantID string, channel model.Channel) (model.Integration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found *model.Integration
	for _, in := range r.s.integrations {
		if in.TenantID != tenantID || in.Channel != channel || !in.IsActive {
			continue
		}
		if found == nil || in.UpdatedAt.After(found.UpdatedAt) {
			cp := in
			found = &cp
		}
	}
	if found == nil {
		return model.Integration{}, model.ErrNotFound
	}
	return *found, nil
}

func (r *integrationRepo) ListActive(ctx context.Context, channel model.Channel) ([]model.Integration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.Integration
	for _, in := range r.s.integrations {
		if !in.IsActive {
			continue
		}
		if channel != "" && in.Channel != channel {
			continue
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *integrationRepo) Update(ctx context.Context, in model.Integration) (model.Integration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.integrations[in.ID]
	if !ok {
		return model.Integration{}, model.ErrNotFound
	}
	in.CreatedAt = cur.CreatedAt
	in.UpdatedAt = time.Now().UTC()
	in.Credentials = copyCreds(in.Credentials)
	r.s.integrations[in.ID] = in
	return in, nil
}

func copyCreds(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type conversationRepo struct{ s *Store }

func NewConversationRepository(s *Store) *conversationRepo { return &conversationRepo{s: s} }

func (r *conversationRepo) Upsert(ctx context.Context, conv model.Conversation) (model.Conversation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	for id, cur := range r.s.conversations {
		if cur.TenantID != conv.TenantID || cur.Channel != conv.Channel || cur.ContactKey != conv.ContactKey {
			continue
		}
		if conv.ContactName != "" {
			cur.ContactName = conv.ContactName
		}
		if conv.AvatarURL != "" {
			cur.AvatarURL = conv.AvatarURL
		}
		if conv.ContactPhone != "" {
			cur.ContactPhone = conv.ContactPhone
		}
		if conv.IntegrationID != "" {
			cur.IntegrationID = conv.IntegrationID
		}
		cur.UpdatedAt = now
		r.s.conversations[id] = cur
		return cur, false, nil
	}

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	conv.Status = model.ConversationOpen
	conv.UnreadCount, conv.TotalMessages = 0, 0
	conv.CreatedAt, conv.UpdatedAt = now, now
	r.s.conversations[conv.ID] = conv
	return conv, true, nil
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return model.Conversation{}, model.ErrNotFound
	}
	return conv, nil
}

func (r *conversationRepo) GetByContact(ctx context.Context, tenantID string, channel model.Channel, contactKey string) (model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, conv := range r.s.conversations {
		if conv.TenantID == tenantID && conv.Channel == channel && conv.ContactKey == contactKey {
			return conv, nil
		}
	}
	return model.Conversation{}, model.ErrNotFound
}

func (r *conversationRepo) RecordMessage(ctx context.Context, id, preview string, at time.Time, inbound bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return model.ErrNotFound
	}
	conv.TotalMessages++
	if inbound {
		conv.UnreadCount++
	}
	conv.LastMessageContent = preview
	t := at.UTC()
	conv.LastMessageAt = &t
	conv.UpdatedAt = time.Now().UTC()
	r.s.conversations[id] = conv
	return nil
}

func (r *conversationRepo) ListByTenant(ctx context.Context, tenantID string) ([]model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.Conversation
	for _, conv := range r.s.conversations {
		if conv.TenantID == tenantID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

type messageRepo struct{ s *Store }

func NewMessageRepository(s *Store) *messageRepo { return &messageRepo{s: s} }

func (r *messageRepo) Insert(ctx context.Context, msg model.Message) (model.Message, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if msg.ExternalMessageID != "" {
		for _, cur := range r.s.messages {
			if cur.ConversationID == msg.ConversationID && cur.ExternalMessageID == msg.ExternalMessageID {
				return cur, false, nil
			}
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.s.messages[msg.ID] = msg
	return msg, true, nil
}

func (r *messageRepo) GetByExternalID(ctx context.Context, tenantID, externalID string) (model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, msg := range r.s.messages {
		if msg.TenantID == tenantID && msg.ExternalMessageID == externalID {
			return msg, nil
		}
	}
	return model.Message{}, model.ErrNotFound
}

func (r *messageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, ok := r.s.messages[id]
	if !ok {
		return model.ErrNotFound
	}
	msg.Status = status
	r.s.messages[id] = msg
	return nil
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.Message
	for _, msg := range r.s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type leadRepo struct{ s *Store }

func NewLeadRepository(s *Store) *leadRepo { return &leadRepo{s: s} }

func (r *leadRepo) FindOrCreate(ctx context.Context, lead model.Lead) (model.Lead, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, cur := range r.s.leads {
		if cur.TenantID == lead.TenantID && cur.Telefone == lead.Telefone {
			return cur, false, nil
		}
	}
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now
	r.s.leads[lead.ID] = lead
	return lead, true, nil
}

func (r *leadRepo) GetByPhone(ctx context.Context, tenantID, telefone string) (model.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, cur := range r.s.leads {
		if cur.TenantID == tenantID && cur.Telefone == telefone {
			return cur, nil
		}
	}
	return model.Lead{}, model.ErrNotFound
}

func (r *leadRepo) UpdateProfile(ctx context.Context, id, nome, avatarURL string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lead, ok := r.s.leads[id]
	if !ok {
		return model.ErrNotFound
	}
	if nome != "" {
		lead.Nome = nome
	}
	if avatarURL != "" {
		lead.AvatarURL = avatarURL
	}
	lead.UpdatedAt = time.Now().UTC()
	r.s.leads[id] = lead
	return nil
}

type webhookLogRepo struct{ s *Store }

func NewWebhookLogRepository(s *Store) *webhookLogRepo { return &webhookLogRepo{s: s} }

func (r *webhookLogRepo) Create(ctx context.Context, entry model.WebhookLog) (model.WebhookLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()
	r.s.webhookLogs[entry.ID] = entry
	return entry, nil
}

func (r *webhookLogRepo) GetByID(ctx context.Context, id string) (model.WebhookLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry, ok := r.s.webhookLogs[id]
	if !ok {
		return model.WebhookLog{}, model.ErrNotFound
	}
	return entry, nil
}

func (r *webhookLogRepo) Assign(ctx context.Context, id, tenantID, integrationID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry, ok := r.s.webhookLogs[id]
	if !ok {
		return model.ErrNotFound
	}
	entry.TenantID = tenantID
	entry.IntegrationID = integrationID
	r.s.webhookLogs[id] = entry
	return nil
}

func (r *webhookLogRepo) MarkProcessed(ctx context.Context, id string, success bool, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry, ok := r.s.webhookLogs[id]
	if !ok {
		return model.ErrNotFound
	}
	now := time.Now().UTC()
	entry.Processed = success
	entry.ProcessedAt = &now
	entry.Error = errMsg
	r.s.webhookLogs[id] = entry
	return nil
}

type deadLetterRepo struct{ s *Store }

func NewDeadLetterRepository(s *Store) *deadLetterRepo { return &deadLetterRepo{s: s} }

func (r *deadLetterRepo) Create(ctx context.Context, letter model.DeadLetter) (model.DeadLetter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if letter.ID == "" {
		letter.ID = uuid.New().String()
	}
	letter.CreatedAt = time.Now().UTC()
	r.s.deadLetters[letter.ID] = letter
	return letter, nil
}

func (r *deadLetterRepo) GetByID(ctx context.Context, id string) (model.DeadLetter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	letter, ok := r.s.deadLetters[id]
	if !ok {
		return model.DeadLetter{}, model.ErrNotFound
	}
	return letter, nil
}

func (r *deadLetterRepo) List(ctx context.Context, includeResolved bool, limit int) ([]model.DeadLetter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.DeadLetter
	for _, letter := range r.s.deadLetters {
		if !includeResolved && letter.ResolvedAt != nil {
			continue
		}
		out = append(out, letter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *deadLetterRepo) MarkResolved(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	letter, ok := r.s.deadLetters[id]
	if !ok {
		return model.ErrNotFound
	}
	now := time.Now().UTC()
	letter.ResolvedAt = &now
	r.s.deadLetters[id] = letter
	return nil
}
