package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/storage/model"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open("file::memory:?_foreign_keys=on", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "db", "migrations", "sqlite", "0001_init.up.sql"))
	require.NoError(t, err)
	require.NoError(t, db.Exec(context.Background(), string(schema)))
	return db
}

func TestIntegrationRepo_CredentialsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIntegrationRepository(db, "chave-teste")
	ctx := context.Background()

	created, err := repo.Create(ctx, model.Integration{
		TenantID:    "t1",
		Channel:     model.ChannelWhatsApp,
		Provider:    model.ProviderZAPI,
		Credentials: map[string]string{"instance_id": "3C0FFEE", "token": "tok"},
		Config:      map[string]any{"auto_create_leads": true},
		Status:      model.IntegrationStatusActive,
		IsActive:    true,
	})
	require.NoError(t, err)

	var raw string
	require.NoError(t, db.Conn.QueryRow(`SELECT credentials FROM integrations WHERE id = ?`, created.ID).Scan(&raw))
	assert.NotContains(t, raw, "tok")

	got, err := repo.GetActive(ctx, "t1", model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "3C0FFEE", got.Credential("instance_id"))
	assert.True(t, got.ConfigBool("auto_create_leads"))

	_, err = repo.GetActive(ctx, "t2", model.ChannelWhatsApp)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := repo.ListActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConversationRepo_UpsertKeepsExistingFields(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	first, created, err := repo.Upsert(ctx, model.Conversation{
		TenantID: "t1", Channel: model.ChannelWhatsApp, ContactKey: "5531999999999", ContactName: "Ana",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Upsert(ctx, model.Conversation{
		TenantID: "t1", Channel: model.ChannelWhatsApp, ContactKey: "5531999999999", AvatarURL: "https://cdn/ana.jpg",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana", second.ContactName)
	assert.Equal(t, "https://cdn/ana.jpg", second.AvatarURL)

	require.NoError(t, repo.RecordMessage(ctx, first.ID, "Oi", time.Now(), true))
	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, 1, got.TotalMessages)
	assert.Equal(t, "Oi", got.LastMessageContent)
	require.NotNil(t, got.LastMessageAt)
}

func TestConversationRepo_ConcurrentFirstContact(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := repo.Upsert(ctx, model.Conversation{
				TenantID: "t1", Channel: model.ChannelWhatsApp, ContactKey: "5511900000000",
			})
			assert.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	list, err := repo.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMessageRepo_InsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	convs := NewConversationRepository(db)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	conv, _, err := convs.Upsert(ctx, model.Conversation{TenantID: "t1", Channel: model.ChannelWhatsApp, ContactKey: "c1"})
	require.NoError(t, err)

	msg := model.Message{
		ConversationID: conv.ID, TenantID: "t1", Direction: model.DirectionInbound,
		MessageType: model.MessageTypeText, Content: "Oi", Status: model.MessageStatusDelivered, ExternalMessageID: "m1",
	}
	first, created, err := repo.Insert(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Insert(ctx, msg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// mensagens sem id externo nunca colidem
	_, created, err = repo.Insert(ctx, model.Message{ConversationID: conv.ID, TenantID: "t1", Direction: model.DirectionOutbound, Status: model.MessageStatusSent})
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = repo.Insert(ctx, model.Message{ConversationID: conv.ID, TenantID: "t1", Direction: model.DirectionOutbound, Status: model.MessageStatusSent})
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, model.MessageStatusRead))
	got, err := repo.GetByExternalID(ctx, "t1", "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusRead, got.Status)

	list, err := repo.ListByConversation(ctx, conv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestLeadRepo_FindOrCreate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLeadRepository(db)
	ctx := context.Background()

	lead, created, err := repo.FindOrCreate(ctx, model.Lead{TenantID: "t1", Telefone: "5531999999999", Nome: "Ana", Source: "whatsapp"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.FindOrCreate(ctx, model.Lead{TenantID: "t1", Telefone: "5531999999999", Nome: "Outra"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, lead.ID, again.ID)
	assert.Equal(t, "Ana", again.Nome)

	require.NoError(t, repo.UpdateProfile(ctx, lead.ID, "", "https://cdn/a.jpg"))
	got, err := repo.GetByPhone(ctx, "t1", "5531999999999")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Nome)
	assert.Equal(t, "https://cdn/a.jpg", got.AvatarURL)
}

func TestWebhookLogAndDeadLetter(t *testing.T) {
	db := setupTestDB(t)
	logs := NewWebhookLogRepository(db)
	letters := NewDeadLetterRepository(db)
	ctx := context.Background()

	entry, err := logs.Create(ctx, model.WebhookLog{EventType: "chat", Payload: `{"x":1}`})
	require.NoError(t, err)
	require.NoError(t, logs.Assign(ctx, entry.ID, "t1", "i1"))
	require.NoError(t, logs.MarkProcessed(ctx, entry.ID, false, "timeout: media"))

	got, err := logs.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, "timeout: media", got.Error)
	assert.NotNil(t, got.ProcessedAt)

	letter, err := letters.Create(ctx, model.DeadLetter{WebhookLogID: entry.ID, Reason: model.DeadLetterPersistence, Payload: `{"x":1}`,
		IntegrationID: "i1", RouteToken: "tok-rota"})
	require.NoError(t, err)

	stored, err := letters.GetByID(ctx, letter.ID)
	require.NoError(t, err)
	assert.Equal(t, "i1", stored.IntegrationID)
	assert.Equal(t, "tok-rota", stored.RouteToken)
	assert.Equal(t, model.DeadLetterPersistence, stored.Reason)

	pending, err := letters.List(ctx, false, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, letters.MarkResolved(ctx, letter.ID))
	pending, err = letters.List(ctx, false, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := letters.List(ctx, true, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
