package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/events"
	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/pkg/lock"
	"github.com/open-apime/crmhub/internal/pkg/phone"
	"github.com/open-apime/crmhub/internal/pkg/queue"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/provider/factory"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/model"
)

var ErrAlreadyResolved = errors.New("dead letter já resolvida")

type Repositories struct {
	Integrations  storage.IntegrationRepository
	Conversations storage.ConversationRepository
	Messages      storage.MessageRepository
	Leads         storage.LeadRepository
	WebhookLogs   storage.WebhookLogRepository
	DeadLetters   storage.DeadLetterRepository
}

type Options struct {
	LockWait       time.Duration
	LockTTL        time.Duration
	DefaultCountry string
}

// Params agrupa as dependências do pipeline. Queue, Publisher, Locker e
// Metrics são opcionais.
type Params struct {
	Repos     Repositories
	Factory   *factory.Factory
	Resolver  *Resolver
	Locker    lock.Locker
	Queue     queue.Queue
	Publisher events.Publisher
	Media     provider.Deps
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Options   Options
}

// Pipeline normaliza e persiste os webhooks de todos os provedores.
type Pipeline struct {
	repos     Repositories
	factory   *factory.Factory
	resolver  *Resolver
	locker    lock.Locker
	queue     queue.Queue
	publisher events.Publisher
	media     *provider.Base
	metrics   *metrics.Metrics
	log       *zap.Logger
	opts      Options
}

func NewPipeline(p Params) *Pipeline {
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.Nop()
	}
	if p.Locker == nil {
		p.Locker = lock.NewMemoryLocker()
	}
	if p.Publisher == nil {
		p.Publisher = events.Nop{}
	}
	if p.Options.LockWait <= 0 {
		p.Options.LockWait = 5 * time.Second
	}
	if p.Options.LockTTL <= 0 {
		p.Options.LockTTL = 30 * time.Second
	}
	if p.Options.DefaultCountry == "" {
		p.Options.DefaultCountry = "BR"
	}
	if p.Media.Log == nil {
		p.Media.Log = p.Log
	}
	if p.Media.WebhookLogs == nil {
		p.Media.WebhookLogs = p.Repos.WebhookLogs
	}

	return &Pipeline{
		repos:     p.Repos,
		factory:   p.Factory,
		resolver:  p.Resolver,
		locker:    p.Locker,
		queue:     p.Queue,
		publisher: p.Publisher,
		media:     provider.NewBase(model.Integration{}, p.Media),
		metrics:   p.Metrics,
		log:       p.Log,
		opts:      p.Options,
	}
}

// Request é um webhook recebido. Token vem da rota por tenant; vazio no
// endpoint compartilhado. IntegrationID só é preenchido no replay de uma
// dead letter que já tinha integração resolvida.
type Request struct {
	Body          []byte
	Token         string
	IntegrationID string
	Replay        bool
}

// Outcome é devolvido ao provedor no corpo da resposta 200.
type Outcome struct {
	Success        bool               `json:"success"`
	Ignored        bool               `json:"ignored,omitempty"`
	Duplicate      bool               `json:"duplicate,omitempty"`
	EventType      provider.EventType `json:"eventType,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	MessageID      string             `json:"messageId,omitempty"`
	Updated        int                `json:"updated,omitempty"`
	Error          string             `json:"error,omitempty"`
	DeadLettered   bool               `json:"-"`
}

// event carrega o que foi resolvido para um webhook entre as etapas.
type event struct {
	logID       string
	shape       Shape
	integration model.Integration
	token       string
	provider    provider.Provider
	result      provider.WebhookResult
	raw         []byte
}

// Process executa o pipeline completo. Nunca retorna erro: falhas viram
// WebhookLog, dead letter e um Outcome com success=false.
func (p *Pipeline) Process(ctx context.Context, req Request) Outcome {
	raw, err := Unwrap(req.Body)
	if err != nil {
		logID := p.audit(ctx, "invalid", req.Body)
		p.markProcessed(ctx, logID, false, "invalid json")
		p.metrics.WebhooksReceived.WithLabelValues("invalid", "malformed").Inc()
		return Outcome{Success: false, Error: "invalid json"}
	}

	ev := &event{raw: raw, token: req.Token}
	if !isObject(raw) {
		ev.shape = ShapeUnknown
		ev.logID = p.audit(ctx, string(ev.shape), raw)
		return p.ignored(ctx, ev)
	}

	var resolveErr error
	routed := true
	switch {
	case req.IntegrationID != "":
		ev.integration, resolveErr = p.resolver.ResolveID(ctx, req.IntegrationID)
	case req.Token != "":
		ev.integration, resolveErr = p.resolver.ResolveToken(ctx, req.Token)
	default:
		routed = false
	}
	if routed && resolveErr == nil {
		ev.shape = ShapeFor(ev.integration)
	} else {
		ev.shape = DetectShape(raw)
	}

	ev.logID = p.audit(ctx, string(ev.shape), raw)

	if routed {
		if resolveErr != nil {
			return p.unresolved(ctx, req, ev, resolveErr)
		}
		ev.provider = p.providerFor(ev.integration)
		if ev.provider != nil {
			ev.result = ev.provider.ProcessWebhook(ctx, raw)
		} else {
			ev.result = ev.shape.Parse(raw)
		}
	} else {
		if ev.shape == ShapeUnknown {
			return p.ignored(ctx, ev)
		}
		ev.result = ev.shape.Parse(raw)
	}

	switch ev.result.EventType {
	case provider.EventError:
		p.markProcessed(ctx, ev.logID, false, ev.result.Error)
		p.metrics.WebhooksReceived.WithLabelValues(string(ev.shape), "malformed").Inc()
		return Outcome{Success: false, EventType: provider.EventError, Error: ev.result.Error}
	case provider.EventUnknown:
		p.markProcessed(ctx, ev.logID, true, ev.result.Error)
		p.metrics.WebhooksReceived.WithLabelValues(string(ev.shape), "ignored").Inc()
		return Outcome{Success: true, Ignored: true, EventType: provider.EventUnknown}
	}

	strategy := StrategyToken
	if req.IntegrationID != "" {
		strategy = StrategyReplay
	}
	if !routed {
		ev.integration, strategy, err = p.resolver.Resolve(ctx, ev.result.Routing)
		if err != nil {
			return p.unresolved(ctx, req, ev, err)
		}
		ev.provider = p.providerFor(ev.integration)
	}

	if ev.logID != "" {
		if err := p.repos.WebhookLogs.Assign(ctx, ev.logID, ev.integration.TenantID, ev.integration.ID); err != nil {
			p.log.Warn("falha ao associar webhook log", zap.String("webhook_log_id", ev.logID), zap.Error(err))
		}
	}

	log := p.log.With(
		zap.String("tenant_id", ev.integration.TenantID),
		zap.String("integration_id", ev.integration.ID),
		zap.String("strategy", string(strategy)),
		zap.String("event_type", string(ev.result.EventType)),
	)

	var (
		out      Outcome
		mediaErr string
	)
	if ev.result.EventType == provider.EventStatusUpdate {
		out, err = p.applyStatus(ctx, ev)
	} else {
		out, mediaErr, err = p.persistMessage(ctx, ev, log)
	}

	if provider.IsCode(err, provider.CodeMalformedPayload) {
		p.markProcessed(ctx, ev.logID, false, err.Error())
		p.metrics.WebhooksReceived.WithLabelValues(string(ev.shape), "malformed").Inc()
		return Outcome{Success: false, EventType: ev.result.EventType, Error: err.Error()}
	}
	if err != nil {
		log.Error("falha ao persistir webhook", zap.Error(err))
		p.markProcessed(ctx, ev.logID, false, err.Error())
		if !req.Replay {
			p.deadLetter(ctx, ev, model.DeadLetterPersistence, err.Error())
		}
		p.metrics.WebhooksReceived.WithLabelValues(string(ev.shape), "error").Inc()
		return Outcome{Success: false, EventType: ev.result.EventType, Error: "falha ao persistir", DeadLettered: !req.Replay}
	}

	// timeout de mídia fica registrado como falha recuperável
	p.markProcessed(ctx, ev.logID, !strings.HasPrefix(mediaErr, "timeout:"), mediaErr)

	label := "processed"
	if out.Duplicate {
		label = "duplicate"
	}
	p.metrics.WebhooksReceived.WithLabelValues(string(ev.shape), label).Inc()
	return out
}

func (p *Pipeline) ignored(ctx context.Context, ev *event) Outcome {
	p.markProcessed(ctx, ev.logID, true, "formato ignorado")
	p.metrics.WebhooksReceived.WithLabelValues(string(ev.shape), "ignored").Inc()
	return Outcome{Success: true, Ignored: true}
}

func (p *Pipeline) providerFor(integration model.Integration) provider.Provider {
	if p.factory == nil {
		return nil
	}
	prov, err := p.factory.ForIntegration(integration)
	if err != nil {
		p.log.Warn("provedor indisponível, usando parser pelo formato",
			zap.String("integration_id", integration.ID),
			zap.Error(err),
		)
		return nil
	}
	return prov
}

func (p *Pipeline) unresolved(ctx context.Context, req Request, ev *event, err error) Outcome {
	reason := model.DeadLetterUnresolved
	label := "unresolved"
	if provider.IsCode(err, provider.CodeResolutionAmbiguous) {
		reason, label = model.DeadLetterAmbiguous, "ambiguous"
	}

	p.log.Warn("webhook sem integração",
		zap.String("shape", string(ev.shape)),
		zap.String("instance", ev.result.Routing.InstanceID),
		zap.String("owner", ev.result.Routing.Owner),
		zap.Error(err),
	)
	p.markProcessed(ctx, ev.logID, false, err.Error())
	if !req.Replay {
		p.deadLetter(ctx, ev, reason, err.Error())
	}
	p.metrics.WebhooksReceived.WithLabelValues(string(ev.shape), label).Inc()
	return Outcome{Success: false, Error: err.Error(), DeadLettered: !req.Replay}
}

func (p *Pipeline) persistMessage(ctx context.Context, ev *event, log *zap.Logger) (Outcome, string, error) {
	res := ev.result
	integration := ev.integration
	outbound := res.EventType == provider.EventOutbound || res.FromMe

	contact := p.contactKey(integration.Channel, res.ExternalContactID)
	if contact == "" {
		return Outcome{}, "", provider.NewError(provider.CodeMalformedPayload, "contato ausente no webhook", nil)
	}

	key := fmt.Sprintf("lock:contact:%s:%s:%s", integration.TenantID, integration.Channel, contact)
	release, err := lock.Wait(ctx, p.locker, key, p.opts.LockTTL, p.opts.LockWait)
	if err != nil {
		// a constraint única ainda protege a conversa
		log.Warn("lock do contato não adquirido", zap.String("key", key), zap.Error(err))
	} else {
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}

	conv := model.Conversation{
		TenantID:      integration.TenantID,
		Channel:       integration.Channel,
		ContactKey:    contact,
		Status:        model.ConversationOpen,
		IntegrationID: integration.ID,
	}
	if integration.Channel == model.ChannelWhatsApp {
		conv.ContactPhone = contact
	}
	if !outbound {
		conv.ContactName = res.ContactName
		conv.AvatarURL = res.AvatarURL
	}

	conv, _, err = p.repos.Conversations.Upsert(ctx, conv)
	if err != nil {
		return Outcome{}, "", fmt.Errorf("upsert conversa: %w", err)
	}
	out := Outcome{Success: true, EventType: res.EventType, ConversationID: conv.ID}

	if res.ExternalMessageID != "" {
		existing, err := p.repos.Messages.GetByExternalID(ctx, integration.TenantID, res.ExternalMessageID)
		switch {
		case err == nil && existing.ConversationID == conv.ID:
			out.Duplicate = true
			out.MessageID = existing.ID
			return out, "", nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return Outcome{}, "", fmt.Errorf("buscar mensagem: %w", err)
		}
	}

	if !outbound {
		p.upsertLead(ctx, integration, contact, res, log)
	}

	mediaURL, mimeType, mediaErr := p.storeMedia(ctx, ev, log)

	msg := model.Message{
		ConversationID:    conv.ID,
		TenantID:          integration.TenantID,
		Direction:         model.DirectionInbound,
		MessageType:       res.MessageType,
		Content:           res.MessageContent,
		MediaURL:          mediaURL,
		MimeType:          mimeType,
		Status:            model.MessageStatusDelivered,
		ExternalMessageID: res.ExternalMessageID,
		CreatedAt:         res.Timestamp,
	}
	if msg.MessageType == "" {
		msg.MessageType = model.MessageTypeText
	}
	if outbound {
		msg.Direction = model.DirectionOutbound
		msg.Status = model.MessageStatusSent
	}

	msg, created, err := p.repos.Messages.Insert(ctx, msg)
	if err != nil {
		return Outcome{}, mediaErr, fmt.Errorf("inserir mensagem: %w", err)
	}
	out.MessageID = msg.ID
	if !created {
		out.Duplicate = true
		return out, mediaErr, nil
	}

	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := p.repos.Conversations.RecordMessage(ctx, conv.ID, res.Preview(), at, !outbound); err != nil {
		return Outcome{}, mediaErr, fmt.Errorf("atualizar conversa: %w", err)
	}
	p.metrics.MessagesPersisted.WithLabelValues(string(msg.Direction), string(integration.Channel)).Inc()

	log.Info("mensagem registrada",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.String("direction", string(msg.Direction)),
		zap.String("message_type", string(msg.MessageType)),
	)

	p.dispatch(ctx, ev, conv, msg, contact, log)
	return out, mediaErr, nil
}

func (p *Pipeline) contactKey(channel model.Channel, raw string) string {
	if channel == model.ChannelWhatsApp {
		return phone.Normalize(raw, p.opts.DefaultCountry)
	}
	return strings.TrimSpace(raw)
}

// upsertLead cria o lead quando auto_create_leads está ligado. Sem a
// flag, um lead existente ainda recebe nome e avatar. Erros não interrompem o webhook.
func (p *Pipeline) upsertLead(ctx context.Context, integration model.Integration, contact string, res provider.WebhookResult, log *zap.Logger) {
	if p.repos.Leads == nil {
		return
	}

	if integration.ConfigBool("auto_create_leads") {
		lead, created, err := p.repos.Leads.FindOrCreate(ctx, model.Lead{
			TenantID:  integration.TenantID,
			Telefone:  contact,
			Nome:      res.ContactName,
			AvatarURL: res.AvatarURL,
			Source:    string(integration.Channel),
		})
		if err != nil {
			log.Warn("falha ao criar lead", zap.Error(err))
			return
		}
		if !created && (res.ContactName != "" || res.AvatarURL != "") {
			if err := p.repos.Leads.UpdateProfile(ctx, lead.ID, res.ContactName, res.AvatarURL); err != nil {
				log.Warn("falha ao atualizar lead", zap.Error(err))
			}
		}
		return
	}

	if res.ContactName == "" && res.AvatarURL == "" {
		return
	}
	lead, err := p.repos.Leads.GetByPhone(ctx, integration.TenantID, contact)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn("falha ao buscar lead", zap.Error(err))
		}
		return
	}
	if err := p.repos.Leads.UpdateProfile(ctx, lead.ID, res.ContactName, res.AvatarURL); err != nil {
		log.Warn("falha ao atualizar lead", zap.Error(err))
	}
}

// storeMedia copia a mídia para o storage do tenant antes da gravação da
// mensagem. Em falha mantém a URL do provedor, quando houver.
func (p *Pipeline) storeMedia(ctx context.Context, ev *event, log *zap.Logger) (string, string, string) {
	res := ev.result
	if !res.MessageType.IsMedia() || (res.MediaURL == "" && len(res.MediaData) == 0) {
		return "", res.MimeType, ""
	}

	tenantID := ev.integration.TenantID
	var out provider.MediaResult
	switch {
	case len(res.MediaData) > 0:
		out = p.media.StoreMedia(ctx, res.MediaData, res.MimeType, tenantID)
	case ev.provider != nil:
		var err error
		out, err = ev.provider.FetchMedia(ctx, res.MediaURL, res.MimeType)
		if err != nil {
			out = provider.MediaResult{Error: err.Error()}
		}
	case provider.IsHTTP(res.MediaURL):
		out = p.media.DownloadMedia(ctx, res.MediaURL, res.MimeType, tenantID)
	default:
		out = provider.MediaResult{Error: "nenhum provedor para resolver a mídia " + res.MediaURL}
	}
	p.metrics.ObserveMedia(out.Success)

	if out.Success {
		mimeType := out.MimeType
		if mimeType == "" {
			mimeType = res.MimeType
		}
		return out.URL, mimeType, ""
	}

	log.Warn("mídia não persistida, mantendo referência do provedor",
		zap.String("media_ref", res.MediaURL),
		zap.String("error", out.Error),
	)
	degraded := ""
	if provider.IsHTTP(res.MediaURL) {
		degraded = res.MediaURL
	}
	return degraded, res.MimeType, out.Error
}

func (p *Pipeline) applyStatus(ctx context.Context, ev *event) (Outcome, error) {
	res := ev.result
	ids := res.StatusMessageIDs
	if len(ids) == 0 && res.ExternalMessageID != "" {
		ids = []string{res.ExternalMessageID}
	}

	out := Outcome{Success: true, EventType: provider.EventStatusUpdate}
	for _, id := range ids {
		msg, err := p.repos.Messages.GetByExternalID(ctx, ev.integration.TenantID, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return Outcome{}, fmt.Errorf("buscar mensagem %s: %w", id, err)
		}
		if !msg.Status.Advances(res.Status) {
			continue
		}
		if err := p.repos.Messages.UpdateStatus(ctx, msg.ID, res.Status); err != nil {
			return Outcome{}, fmt.Errorf("atualizar status %s: %w", id, err)
		}
		out.Updated++
		out.MessageID = msg.ID
	}
	return out, nil
}

// dispatch dispara os ganchos assíncronos de uma mensagem nova.
func (p *Pipeline) dispatch(ctx context.Context, ev *event, conv model.Conversation, msg model.Message, contact string, log *zap.Logger) {
	integration := ev.integration
	evt := events.MessageEvent{
		ID:                uuid.New().String(),
		Type:              events.TypeMessageReceived,
		TenantID:          integration.TenantID,
		IntegrationID:     integration.ID,
		Provider:          integration.Provider,
		Channel:           integration.Channel,
		ConversationID:    conv.ID,
		MessageID:         msg.ID,
		ExternalMessageID: msg.ExternalMessageID,
		Contact:           contact,
		ContactName:       ev.result.ContactName,
		Direction:         msg.Direction,
		MessageType:       msg.MessageType,
		Content:           msg.Content,
		MediaURL:          msg.MediaURL,
		MimeType:          msg.MimeType,
		Timestamp:         msg.CreatedAt,
	}
	inbound := msg.Direction == model.DirectionInbound

	if inbound {
		if err := p.publisher.Publish(ctx, evt); err != nil {
			log.Warn("falha ao publicar evento", zap.Error(err))
		}
	}

	if integration.ConfigString("forward_webhook_url") != "" {
		p.enqueue(ctx, queue.Job{
			Type:     queue.JobForwardEvent,
			TenantID: integration.TenantID,
			Payload:  map[string]any{"integration_id": integration.ID, "event": evt},
		}, log)
	}

	if inbound && integration.ConfigBool("auto_scheduling") && msg.MessageType == model.MessageTypeText && msg.Content != "" {
		p.enqueue(ctx, queue.Job{
			Type:     queue.JobDetectSchedule,
			TenantID: integration.TenantID,
			Payload: map[string]any{
				"integration_id":  integration.ID,
				"channel":         string(integration.Channel),
				"conversation_id": conv.ID,
				"contact":         contact,
				"contact_name":    ev.result.ContactName,
				"text":            msg.Content,
			},
		}, log)
	}
}

func (p *Pipeline) enqueue(ctx context.Context, job queue.Job, log *zap.Logger) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		log.Warn("falha ao enfileirar job", zap.String("job_type", job.Type), zap.Error(err))
	}
}

func (p *Pipeline) audit(ctx context.Context, eventType string, raw []byte) string {
	id, err := p.media.LogWebhook(ctx, eventType, raw)
	if err != nil {
		p.log.Error("falha ao gravar webhook log", zap.Error(err))
		return ""
	}
	return id
}

func (p *Pipeline) markProcessed(ctx context.Context, logID string, success bool, errMsg string) {
	if err := p.media.MarkWebhookProcessed(ctx, logID, success, errMsg); err != nil {
		p.log.Warn("falha ao finalizar webhook log", zap.String("webhook_log_id", logID), zap.Error(err))
	}
}

func (p *Pipeline) deadLetter(ctx context.Context, ev *event, reason model.DeadLetterReason, detail string) {
	p.metrics.DeadLetters.WithLabelValues(string(reason)).Inc()
	if p.repos.DeadLetters == nil {
		return
	}
	_, err := p.repos.DeadLetters.Create(ctx, model.DeadLetter{
		WebhookLogID:  ev.logID,
		IntegrationID: ev.integration.ID,
		RouteToken:    ev.token,
		Reason:        reason,
		Detail:        detail,
		Payload:       string(ev.raw),
	})
	if err != nil {
		p.log.Error("falha ao gravar dead letter", zap.String("reason", string(reason)), zap.Error(err))
	}
}

// Replay reprocessa uma dead letter e a marca como resolvida em caso de
// sucesso. A integração gravada na dead letter tem prioridade sobre o token
// da rota; sem nenhum dos dois, vale a resolução do endpoint compartilhado.
func (p *Pipeline) Replay(ctx context.Context, id string) (Outcome, error) {
	letter, err := p.repos.DeadLetters.GetByID(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if letter.ResolvedAt != nil {
		return Outcome{}, ErrAlreadyResolved
	}

	out := p.Process(ctx, Request{
		Body:          []byte(letter.Payload),
		Token:         letter.RouteToken,
		IntegrationID: letter.IntegrationID,
		Replay:        true,
	})
	if !out.Success {
		return out, nil
	}
	if err := p.repos.DeadLetters.MarkResolved(ctx, id); err != nil {
		return out, err
	}
	p.log.Info("dead letter reprocessada", zap.String("dead_letter_id", id))
	return out, nil
}
