package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/pkg/queue"
	memqueue "github.com/open-apime/crmhub/internal/pkg/queue/memory"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/provider/factory"
	"github.com/open-apime/crmhub/internal/provider/meta"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/media"
	"github.com/open-apime/crmhub/internal/storage/memory"
	"github.com/open-apime/crmhub/internal/storage/model"
)

const chatExample = `{
	"chat": {"wa_chatid": "5531999999999@s.whatsapp.net", "wa_name": "Ana"},
	"message": {"id": "m1", "text": "Oi", "fromMe": false},
	"owner": "5531988880000"
}`

type harness struct {
	repos    Repositories
	pipeline *Pipeline
	queue    *memqueue.MemoryQueue
	metrics  *metrics.Metrics
	tokens   *Tokens
	mediaDir string
}

type harnessOptions struct {
	allowSingle bool
	// wrap troca repositórios antes de montar o pipeline
	wrap func(*Repositories)
	// blockPrivateMedia mantém a proteção de rede interna ligada; os
	// servidores httptest escutam em loopback
	blockPrivateMedia bool
	meta              meta.Config
}

func newHarness(t *testing.T, allowSingle bool) *harness {
	t.Helper()
	return newHarnessWith(t, harnessOptions{allowSingle: allowSingle})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	store := memory.NewStore()
	repos := Repositories{
		Integrations:  memory.NewIntegrationRepository(store),
		Conversations: memory.NewConversationRepository(store),
		Messages:      memory.NewMessageRepository(store),
		Leads:         memory.NewLeadRepository(store),
		WebhookLogs:   memory.NewWebhookLogRepository(store),
		DeadLetters:   memory.NewDeadLetterRepository(store),
	}
	if opts.wrap != nil {
		opts.wrap(&repos)
	}

	dir := t.TempDir()
	local, err := media.NewLocalStorage(dir, "http://crm.test/media", zap.NewNop())
	require.NoError(t, err)

	m := metrics.Nop()
	deps := provider.Deps{
		Storage:           local,
		WebhookLogs:       repos.WebhookLogs,
		MediaTimeout:      2 * time.Second,
		AllowPrivateMedia: !opts.blockPrivateMedia,
	}
	tokens := NewTokens("segredo")
	q := memqueue.NewQueue(16)
	t.Cleanup(func() { _ = q.Close() })

	p := NewPipeline(Params{
		Repos:    repos,
		Factory:  factory.New(repos.Integrations, factory.Options{Deps: deps, Meta: opts.meta}, zap.NewNop()),
		Resolver: NewResolver(repos.Integrations, tokens, opts.allowSingle, m, zap.NewNop()),
		Queue:    q,
		Media:    deps,
		Metrics:  m,
		Log:      zap.NewNop(),
	})
	return &harness{repos: repos, pipeline: p, queue: q, metrics: m, tokens: tokens, mediaDir: dir}
}

func (h *harness) seed(t *testing.T, in model.Integration) model.Integration {
	t.Helper()
	return seedIntegration(t, h.repos.Integrations, in)
}

func (h *harness) uazapi(t *testing.T, tenant, owner string) model.Integration {
	return h.seed(t, model.Integration{TenantID: tenant, Provider: model.ProviderUAZAPI,
		Credentials: map[string]string{"token": "tok", "base_url": "http://uazapi.test", "instance_id": owner}})
}

func (h *harness) zapi(t *testing.T, tenant, instance string) model.Integration {
	return h.seed(t, model.Integration{TenantID: tenant, Provider: model.ProviderZAPI,
		Credentials: map[string]string{"instance_id": instance, "token": "tok"}})
}

func (h *harness) process(body string) Outcome {
	return h.pipeline.Process(context.Background(), Request{Body: []byte(body)})
}

func (h *harness) conversations(t *testing.T, tenant string) []model.Conversation {
	t.Helper()
	list, err := h.repos.Conversations.ListByTenant(context.Background(), tenant)
	require.NoError(t, err)
	return list
}

func (h *harness) messages(t *testing.T, conversationID string) []model.Message {
	t.Helper()
	list, err := h.repos.Messages.ListByConversation(context.Background(), conversationID, 100)
	require.NoError(t, err)
	return list
}

func zapiCallback(instance, messageID, contact, extra string) string {
	return fmt.Sprintf(`{"type":"ReceivedCallback","instanceId":%q,"messageId":%q,"phone":%q,"fromMe":false,"senderName":"Ana"%s}`,
		instance, messageID, contact, extra)
}

func TestPipeline_ChatMessageCreatesConversation(t *testing.T) {
	h := newHarness(t, false)
	integration := h.uazapi(t, "t1", "5531988880000")

	out := h.process(chatExample)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, provider.EventMessageReceived, out.EventType)
	assert.NotEmpty(t, out.ConversationID)
	assert.NotEmpty(t, out.MessageID)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	conv := convs[0]
	assert.Equal(t, "5531999999999", conv.ContactKey)
	assert.Equal(t, "Ana", conv.ContactName)
	assert.Equal(t, integration.ID, conv.IntegrationID)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "Oi", conv.LastMessageContent)

	msgs := h.messages(t, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, model.MessageStatusDelivered, msgs[0].Status)
	assert.Equal(t, "m1", msgs[0].ExternalMessageID)
	assert.Equal(t, "Oi", msgs[0].Content)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FallbackResolutions.WithLabelValues("owner", "whatsapp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhooksReceived.WithLabelValues("chat", "processed")))
}

func TestPipeline_RelayEnvelope(t *testing.T) {
	h := newHarness(t, false)
	h.uazapi(t, "t1", "5531988880000")

	out := h.process(`[{"headers":{"x":"y"},"body":` + chatExample + `}]`)
	require.True(t, out.Success, out.Error)
	assert.Len(t, h.conversations(t, "t1"), 1)
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	h.uazapi(t, "t1", "5531988880000")

	first := h.process(chatExample)
	require.True(t, first.Success)
	second := h.process(chatExample)
	require.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageID, second.MessageID)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].TotalMessages)
	assert.Len(t, h.messages(t, convs[0].ID), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhooksReceived.WithLabelValues("chat", "duplicate")))
}

func TestPipeline_ConcurrentFirstContact(t *testing.T) {
	h := newHarness(t, false)
	h.zapi(t, "t1", "3C0FFEE")

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := h.process(zapiCallback("3C0FFEE", fmt.Sprintf("Z%d", i), "5511900000000", `,"text":{"message":"oi"}`))
			assert.True(t, out.Success, out.Error)
		}(i)
	}
	wg.Wait()

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	assert.Equal(t, 10, convs[0].TotalMessages)
	assert.Len(t, h.messages(t, convs[0].ID), 10)
}

func TestPipeline_TenantIsolation(t *testing.T) {
	h := newHarness(t, false)
	h.zapi(t, "t1", "AAA")
	h.zapi(t, "t2", "BBB")

	require.True(t, h.process(zapiCallback("AAA", "Z1", "5531999999999", `,"text":{"message":"loja 1"}`)).Success)
	require.True(t, h.process(zapiCallback("BBB", "Z1", "5531999999999", `,"text":{"message":"loja 2"}`)).Success)

	one := h.conversations(t, "t1")
	two := h.conversations(t, "t2")
	require.Len(t, one, 1)
	require.Len(t, two, 1)
	assert.NotEqual(t, one[0].ID, two[0].ID)
	assert.Equal(t, "loja 1", one[0].LastMessageContent)
	assert.Equal(t, "loja 2", two[0].LastMessageContent)
}

func TestPipeline_SelfEchoIsOutbound(t *testing.T) {
	h := newHarness(t, false)
	h.uazapi(t, "t1", "5531988880000")

	out := h.process(`{
		"chat": {"wa_chatid": "5531999999999@s.whatsapp.net", "wa_name": "Loja"},
		"message": {"id": "e1", "text": "Olá, tudo bem?", "fromMe": true},
		"owner": "5531988880000"
	}`)
	require.True(t, out.Success, out.Error)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	assert.Zero(t, convs[0].UnreadCount)
	assert.Empty(t, convs[0].ContactName)

	msgs := h.messages(t, convs[0].ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DirectionOutbound, msgs[0].Direction)
	assert.Equal(t, model.MessageStatusSent, msgs[0].Status)
}

func TestPipeline_IgnoredPayloads(t *testing.T) {
	h := newHarness(t, true)
	h.uazapi(t, "t1", "5531988880000")

	out := h.process(`{"foo":"bar"}`)
	assert.True(t, out.Success)
	assert.True(t, out.Ignored)

	out = h.process(`{"type":"PresenceChatCallback","instanceId":"x","phone":"5531999999999"}`)
	assert.True(t, out.Success)
	assert.True(t, out.Ignored)

	for _, body := range []string{`[]`, `[1,2]`, `42`, `"hello"`, `null`, `true`} {
		out = h.process(body)
		assert.True(t, out.Success, body)
		assert.True(t, out.Ignored, body)
		assert.Empty(t, out.Error, body)
	}

	out = h.process(`{nope`)
	assert.False(t, out.Success)
	assert.Equal(t, "invalid json", out.Error)

	assert.Empty(t, h.conversations(t, "t1"))
	letters, err := h.repos.DeadLetters.List(context.Background(), true, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestPipeline_UnresolvedIsDeadLetteredAndReplayed(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	out := h.process(zapiCallback("3C0FFEE", "Z1", "5531999999999", `,"text":{"message":"oi"}`))
	assert.False(t, out.Success)
	assert.True(t, out.DeadLettered)

	letters, err := h.repos.DeadLetters.List(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	letter := letters[0]
	assert.Equal(t, model.DeadLetterUnresolved, letter.Reason)
	assert.Contains(t, letter.Payload, "3C0FFEE")

	entry, err := h.repos.WebhookLogs.GetByID(ctx, letter.WebhookLogID)
	require.NoError(t, err)
	assert.False(t, entry.Processed)
	assert.Equal(t, "zapi_callback", entry.EventType)

	// replay sem integração continua pendente e não duplica a dead letter
	replayed, err := h.pipeline.Replay(ctx, letter.ID)
	require.NoError(t, err)
	assert.False(t, replayed.Success)
	letters, err = h.repos.DeadLetters.List(ctx, true, 10)
	require.NoError(t, err)
	assert.Len(t, letters, 1)

	h.zapi(t, "t1", "3C0FFEE")
	replayed, err = h.pipeline.Replay(ctx, letter.ID)
	require.NoError(t, err)
	assert.True(t, replayed.Success, replayed.Error)
	assert.Len(t, h.conversations(t, "t1"), 1)

	pending, err := h.repos.DeadLetters.List(ctx, false, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = h.pipeline.Replay(ctx, letter.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestPipeline_AmbiguousIsDeadLettered(t *testing.T) {
	h := newHarness(t, false)
	h.zapi(t, "t1", "3C0FFEE")
	h.zapi(t, "t2", "3C0FFEE")

	out := h.process(zapiCallback("3C0FFEE", "Z1", "5531999999999", `,"text":{"message":"oi"}`))
	assert.False(t, out.Success)

	letters, err := h.repos.DeadLetters.List(context.Background(), false, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, model.DeadLetterAmbiguous, letters[0].Reason)
	assert.Empty(t, h.conversations(t, "t1"))
	assert.Empty(t, h.conversations(t, "t2"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DeadLetters.WithLabelValues("ambiguous")))
}

func TestPipeline_StatusIsMonotonic(t *testing.T) {
	h := newHarness(t, false)
	h.zapi(t, "t1", "3C0FFEE")
	ctx := context.Background()

	msg, _, err := h.repos.Messages.Insert(ctx, model.Message{
		ConversationID: "c1", TenantID: "t1", Direction: model.DirectionOutbound,
		MessageType: model.MessageTypeText, Status: model.MessageStatusSent, ExternalMessageID: "Z9",
	})
	require.NoError(t, err)

	status := func(s string) Outcome {
		return h.process(fmt.Sprintf(`{"type":"MessageStatusCallback","instanceId":"3C0FFEE","status":%q,"ids":["Z9"],"phone":"5531999999999"}`, s))
	}

	out := status("READ")
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 1, out.Updated)

	out = status("RECEIVED")
	require.True(t, out.Success)
	assert.Zero(t, out.Updated)

	got, err := h.repos.Messages.GetByExternalID(ctx, "t1", "Z9")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, model.MessageStatusRead, got.Status)
}

func TestPipeline_MediaIsDurable(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpeg)
	}))
	defer srv.Close()

	h := newHarness(t, false)
	h.zapi(t, "t1", "3C0FFEE")

	out := h.process(zapiCallback("3C0FFEE", "Z1", "5531999999999",
		`,"image":{"imageUrl":"`+srv.URL+`/x.jpg","mimeType":"image/jpeg","caption":"foto"}`))
	require.True(t, out.Success, out.Error)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	msgs := h.messages(t, convs[0].ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageTypeImage, msgs[0].MessageType)
	assert.True(t, strings.HasPrefix(msgs[0].MediaURL, "http://crm.test/media/tenants/t1/media/"), msgs[0].MediaURL)
	assert.True(t, strings.HasSuffix(msgs[0].MediaURL, ".jpg"), msgs[0].MediaURL)
	assert.Equal(t, "image/jpeg", msgs[0].MimeType)
	assert.Equal(t, "foto", msgs[0].Content)
}

func TestPipeline_SharedRouteRefusesInternalMedia(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"AccessKeyId":"AKIA"}`))
	}))
	defer srv.Close()

	h := newHarnessWith(t, harnessOptions{allowSingle: true, blockPrivateMedia: true})
	h.uazapi(t, "t1", "5531988880000")

	url := srv.URL + "/latest/meta-data/iam"
	body := `{"chat":{"wa_chatid":"5531999999999@s.whatsapp.net"},` +
		`"message":{"id":"m1","messageType":"image","fileURL":"` + url + `","fromMe":false}}`
	out := h.process(body)
	require.True(t, out.Success, out.Error)

	assert.Zero(t, hits.Load())
	msgs := h.messages(t, out.ConversationID)
	require.Len(t, msgs, 1)
	assert.Equal(t, url, msgs[0].MediaURL)
	assert.False(t, strings.HasPrefix(msgs[0].MediaURL, "http://crm.test/media/"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MediaDownloads.WithLabelValues("failure")))
}

func TestPipeline_MediaFailureKeepsProviderURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := newHarness(t, false)
	h.zapi(t, "t1", "3C0FFEE")

	url := srv.URL + "/expirada.jpg"
	out := h.process(zapiCallback("3C0FFEE", "Z1", "5531999999999", `,"image":{"imageUrl":"`+url+`","mimeType":"image/jpeg"}`))
	require.True(t, out.Success, out.Error)

	msgs := h.messages(t, out.ConversationID)
	require.Len(t, msgs, 1)
	assert.Equal(t, url, msgs[0].MediaURL)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MediaDownloads.WithLabelValues("failure")))
}

func TestPipeline_TokenRoute(t *testing.T) {
	h := newHarness(t, false)
	integration := h.uazapi(t, "t1", "")
	token, err := h.tokens.Mint(integration)
	require.NoError(t, err)

	// sem owner: só a rota por token consegue atribuir
	body := `{"chat":{"wa_chatid":"5531999999999@s.whatsapp.net"},"message":{"id":"m1","text":"Oi"}}`
	out := h.pipeline.Process(context.Background(), Request{Body: []byte(body), Token: token})
	require.True(t, out.Success, out.Error)
	assert.Len(t, h.conversations(t, "t1"), 1)

	legacy := h.process(`{"chat":{"wa_chatid":"5531999999999@s.whatsapp.net"},"message":{"id":"m2","text":"Oi"}}`)
	assert.False(t, legacy.Success)

	out = h.pipeline.Process(context.Background(), Request{Body: []byte(body), Token: "invalido"})
	assert.False(t, out.Success)
	assert.True(t, out.DeadLettered)
}

// flakyMessages falha as próximas n inserções.
type flakyMessages struct {
	storage.MessageRepository
	failures atomic.Int32
}

func (f *flakyMessages) Insert(ctx context.Context, msg model.Message) (model.Message, bool, error) {
	if f.failures.Add(-1) >= 0 {
		return model.Message{}, false, errors.New("database is locked")
	}
	return f.MessageRepository.Insert(ctx, msg)
}

func TestPipeline_TokenRouteReplayUsesStoredIntegration(t *testing.T) {
	flaky := &flakyMessages{}
	h := newHarnessWith(t, harnessOptions{wrap: func(r *Repositories) {
		flaky.MessageRepository = r.Messages
		r.Messages = flaky
	}})
	ctx := context.Background()

	integration := h.uazapi(t, "t1", "")
	token, err := h.tokens.Mint(integration)
	require.NoError(t, err)

	flaky.failures.Store(1)
	body := `{"chat":{"wa_chatid":"5531999999999@s.whatsapp.net"},"message":{"id":"m1","text":"Oi"}}`
	out := h.pipeline.Process(ctx, Request{Body: []byte(body), Token: token})
	assert.False(t, out.Success)
	assert.True(t, out.DeadLettered)

	letters, err := h.repos.DeadLetters.List(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	letter := letters[0]
	assert.Equal(t, model.DeadLetterPersistence, letter.Reason)
	assert.Equal(t, integration.ID, letter.IntegrationID)
	assert.Equal(t, token, letter.RouteToken)

	replayed, err := h.pipeline.Replay(ctx, letter.ID)
	require.NoError(t, err)
	require.True(t, replayed.Success, replayed.Error)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	assert.Len(t, h.messages(t, convs[0].ID), 1)

	pending, err := h.repos.DeadLetters.List(ctx, false, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPipeline_ReplayWithUnknownRouteToken(t *testing.T) {
	h := newHarness(t, true)
	h.uazapi(t, "t1", "5531988880000")
	ctx := context.Background()

	// o token inválido fica na dead letter; o replay não cai no fallback
	out := h.pipeline.Process(ctx, Request{Body: []byte(chatExample), Token: "revogado"})
	require.True(t, out.DeadLettered)

	letters, err := h.repos.DeadLetters.List(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Empty(t, letters[0].IntegrationID)
	assert.Equal(t, "revogado", letters[0].RouteToken)

	replayed, err := h.pipeline.Replay(ctx, letters[0].ID)
	require.NoError(t, err)
	assert.False(t, replayed.Success)
	assert.Empty(t, h.conversations(t, "t1"))
}

func TestPipeline_EnqueuesJobs(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, model.Integration{TenantID: "t1", Provider: model.ProviderZAPI,
		Credentials: map[string]string{"instance_id": "3C0FFEE", "token": "tok"},
		Config:      map[string]any{"forward_webhook_url": "http://crm.test/hook", "auto_scheduling": true}})

	out := h.process(zapiCallback("3C0FFEE", "Z1", "5531999999999", `,"text":{"message":"Quero marcar amanhã às 10h"}`))
	require.True(t, out.Success, out.Error)

	ctx := context.Background()
	types := map[string]*queue.Job{}
	for range 2 {
		job, err := h.queue.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		types[job.Type] = job
	}

	require.Contains(t, types, queue.JobForwardEvent)
	require.Contains(t, types, queue.JobDetectSchedule)
	assert.Equal(t, "t1", types[queue.JobDetectSchedule].TenantID)
	assert.Equal(t, "Quero marcar amanhã às 10h", types[queue.JobDetectSchedule].String("text"))
	assert.Equal(t, "5531999999999", types[queue.JobDetectSchedule].String("contact"))
	assert.Equal(t, out.ConversationID, types[queue.JobDetectSchedule].String("conversation_id"))
	assert.NotEmpty(t, types[queue.JobForwardEvent].String("integration_id"))
}

func TestPipeline_AutoCreateLead(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, model.Integration{TenantID: "t1", Provider: model.ProviderUAZAPI,
		Credentials: map[string]string{"token": "tok", "base_url": "http://uazapi.test", "instance_id": "5531988880000"},
		Config:      map[string]any{"auto_create_leads": true}})

	out := h.process(chatExample)
	require.True(t, out.Success, out.Error)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	assert.Equal(t, "5531999999999", convs[0].ContactKey)
	assert.Equal(t, 1, convs[0].UnreadCount)
	msgs := h.messages(t, convs[0].ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ExternalMessageID)

	lead, err := h.repos.Leads.GetByPhone(context.Background(), "t1", "5531999999999")
	require.NoError(t, err)
	assert.Equal(t, "Ana", lead.Nome)
	assert.Equal(t, "t1", lead.TenantID)
	assert.Equal(t, "whatsapp", lead.Source)
}

func TestPipeline_LeadRefreshWithoutAutoCreate(t *testing.T) {
	h := newHarness(t, false)
	h.uazapi(t, "t1", "5531988880000")
	ctx := context.Background()

	existing, _, err := h.repos.Leads.FindOrCreate(ctx, model.Lead{TenantID: "t1", Telefone: "5531999999999"})
	require.NoError(t, err)
	require.Empty(t, existing.Nome)

	out := h.process(chatExample)
	require.True(t, out.Success, out.Error)

	lead, err := h.repos.Leads.GetByPhone(ctx, "t1", "5531999999999")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, lead.ID)
	assert.Equal(t, "Ana", lead.Nome)

	// contato novo sem a flag não vira lead
	out = h.process(`{"chat":{"wa_chatid":"5531977776666@s.whatsapp.net","wa_name":"Bia"},` +
		`"message":{"id":"m2","text":"Olá","fromMe":false},"owner":"5531988880000"}`)
	require.True(t, out.Success, out.Error)
	_, err = h.repos.Leads.GetByPhone(ctx, "t1", "5531977776666")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type brokenLeads struct {
	storage.LeadRepository
}

func (brokenLeads) FindOrCreate(context.Context, model.Lead) (model.Lead, bool, error) {
	return model.Lead{}, false, errors.New("connection refused")
}

func TestPipeline_LeadFailureDoesNotFailWebhook(t *testing.T) {
	h := newHarnessWith(t, harnessOptions{wrap: func(r *Repositories) {
		r.Leads = brokenLeads{LeadRepository: r.Leads}
	}})
	h.seed(t, model.Integration{TenantID: "t1", Provider: model.ProviderUAZAPI,
		Credentials: map[string]string{"token": "tok", "base_url": "http://uazapi.test", "instance_id": "5531988880000"},
		Config:      map[string]any{"auto_create_leads": true}})

	out := h.process(chatExample)
	require.True(t, out.Success, out.Error)
	assert.Empty(t, out.Error)
	assert.Len(t, h.messages(t, out.ConversationID), 1)
}

func TestPipeline_MetaMediaIDIsFetched(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	var auth atomic.Value
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/MEDIA1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"url":%q,"mime_type":"image/jpeg"}`, srv.URL+"/lookaside/MEDIA1")
		case "/lookaside/MEDIA1":
			auth.Store(r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpeg)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newHarnessWith(t, harnessOptions{meta: meta.Config{GraphBaseURL: srv.URL, GraphVersion: "v21.0"}})
	integration := h.seed(t, model.Integration{TenantID: "t1", Provider: model.ProviderMetaOfficial,
		Credentials: map[string]string{"access_token": "EAAG", "phone_number_id": "PN1", "verify_token": "v"}})

	body := `{"object":"whatsapp_business_account","entry":[{"id":"WABA1","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"metadata":{"display_phone_number":"5531988880000","phone_number_id":"PN1"},
		"contacts":[{"wa_id":"5531999999999","profile":{"name":"Ana"}}],
		"messages":[{"from":"5531999999999","id":"wamid.1","timestamp":"1700000000","type":"image",
			"image":{"id":"MEDIA1","mime_type":"image/jpeg","caption":"foto"}}]}}]}]}`
	out := h.process(body)
	require.True(t, out.Success, out.Error)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	assert.Equal(t, integration.ID, convs[0].IntegrationID)
	assert.Equal(t, "Ana", convs[0].ContactName)

	msgs := h.messages(t, convs[0].ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageTypeImage, msgs[0].MessageType)
	assert.True(t, strings.HasPrefix(msgs[0].MediaURL, "http://crm.test/media/tenants/t1/"), msgs[0].MediaURL)
	assert.Equal(t, "foto", msgs[0].Content)
	assert.Equal(t, "Bearer EAAG", auth.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MediaDownloads.WithLabelValues("success")))
}

func TestPipeline_InstagramMessage(t *testing.T) {
	h := newHarness(t, false)
	integration := h.seed(t, model.Integration{TenantID: "t1", Provider: model.ProviderMetaOfficial, Channel: model.ChannelInstagram,
		Credentials: map[string]string{"access_token": "IGTOKEN", "page_id": "17841400000000"}})
	// integração whatsapp do mesmo tenant não pode capturar o evento
	h.uazapi(t, "t1", "5531988880000")

	body := `{"object":"instagram","entry":[{"id":"17841400000000","time":1700000000,"messaging":[{
		"sender":{"id":"IGSID42"},"recipient":{"id":"17841400000000"},"timestamp":1700000000000,
		"message":{"mid":"ig.m1","text":"Olá pelo direct"}}]}]}`
	out := h.process(body)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, provider.EventMessageReceived, out.EventType)

	convs := h.conversations(t, "t1")
	require.Len(t, convs, 1)
	conv := convs[0]
	assert.Equal(t, model.ChannelInstagram, conv.Channel)
	assert.Equal(t, "IGSID42", conv.ContactKey)
	assert.Equal(t, integration.ID, conv.IntegrationID)

	msgs := h.messages(t, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ig.m1", msgs[0].ExternalMessageID)
	assert.Equal(t, "Olá pelo direct", msgs[0].Content)
	assert.Equal(t, model.DirectionInbound, msgs[0].Direction)
}
