package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/storage/media"
	"github.com/open-apime/crmhub/internal/storage/memory"
	"github.com/open-apime/crmhub/internal/storage/model"
)

func newTestBase(t *testing.T, creds map[string]string) (*Base, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := media.NewLocalStorage(dir, "http://crm.local/media", zap.NewNop())
	require.NoError(t, err)

	integration := model.Integration{
		ID: "i1", TenantID: "t1", Channel: model.ChannelWhatsApp,
		Provider: model.ProviderZAPI, Credentials: creds, Status: model.IntegrationStatusActive, IsActive: true,
	}
	return NewBase(integration, Deps{
		Storage:           store,
		WebhookLogs:       memory.NewWebhookLogRepository(memory.NewStore()),
		Log:               zap.NewNop(),
		MediaTimeout:      time.Second,
		MaxMediaBytes:     1024,
		AllowPrivateMedia: true,
	}), dir
}

func TestBase_RequireCredentials(t *testing.T) {
	b, _ := newTestBase(t, map[string]string{"token": "x", "instance_id": "  "})

	err := b.RequireCredentials("token", "instance_id", "client_token")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeConfiguration))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Contains(t, err.Error(), "instance_id, client_token")

	assert.NoError(t, b.RequireCredentials("token"))
}

func TestBase_DownloadMediaIsDurable(t *testing.T) {
	expired := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if expired {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("\xff\xd8\xff\xe0fake-jpeg"))
	}))
	defer srv.Close()

	b, dir := newTestBase(t, nil)
	res := b.DownloadMedia(context.Background(), srv.URL+"/m.jpg", "", "t1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "image/jpeg", res.MimeType)
	assert.True(t, strings.HasPrefix(res.URL, "http://crm.local/media/tenants/t1/media/"))
	assert.True(t, strings.HasSuffix(res.URL, ".jpg"))

	// a URL do provedor expira, a cópia local continua disponível
	expired = true
	rel := strings.TrimPrefix(res.URL, "http://crm.local/media/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8\xff\xe0fake-jpeg", string(data))

	again := b.DownloadMedia(context.Background(), srv.URL+"/m.jpg", "", "t1")
	assert.False(t, again.Success)
}

func TestBase_DownloadMediaLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(1500 * time.Millisecond)
		}
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	b, _ := newTestBase(t, nil)

	res := b.DownloadMedia(context.Background(), srv.URL+"/big", "application/pdf", "t1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "excede")

	res = b.DownloadMedia(context.Background(), srv.URL+"/slow", "application/pdf", "t1")
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "timeout:"), res.Error)

	res = b.DownloadMedia(context.Background(), "", "", "t1")
	assert.False(t, res.Success)
}

func TestBase_StoreMediaSniffsMime(t *testing.T) {
	b, _ := newTestBase(t, nil)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	res := b.StoreMedia(context.Background(), png, "", "t1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "image/png", res.MimeType)
	assert.True(t, strings.HasSuffix(res.URL, ".png"))
}

func TestBase_WebhookAudit(t *testing.T) {
	b, _ := newTestBase(t, nil)
	ctx := context.Background()

	id, err := b.LogWebhook(ctx, "chat", []byte(`{"a":1}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, b.MarkWebhookProcessed(ctx, id, true, ""))

	entry, err := b.deps.WebhookLogs.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	assert.Equal(t, "t1", entry.TenantID)
}

func TestValidateToken(t *testing.T) {
	b, _ := newTestBase(t, nil)

	got, ok := b.ValidateToken("segredo", "segredo", "123")
	assert.True(t, ok)
	assert.Equal(t, "123", got)

	_, ok = b.ValidateToken("segredo", "outro", "123")
	assert.False(t, ok)
	_, ok = b.ValidateToken("", "", "123")
	assert.False(t, ok)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeConfiguration, 400},
		{CodeUnknownProvider, 400},
		{CodeIntegrationNotFound, 404},
		{CodeInvalidCredentials, 403},
		{CodeResolutionAmbiguous, 409},
		{CodeProviderAPI, 502},
		{CodePersistence, 500},
		{CodeMalformedPayload, 400},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			cause := errors.New("causa")
			err := NewError(tt.code, "falhou", cause)
			assert.Equal(t, tt.status, HTTPStatus(err))
			assert.ErrorIs(t, err, cause)
			assert.True(t, IsCode(err, tt.code))
		})
	}
	assert.Equal(t, 500, HTTPStatus(errors.New("x")))
}

func TestTypeFromKind(t *testing.T) {
	tests := map[string]model.MessageType{
		"conversation":        model.MessageTypeText,
		"extendedTextMessage": model.MessageTypeText,
		"ImageMessage":        model.MessageTypeImage,
		"ptt":                 model.MessageTypeAudio,
		"documentMessage":     model.MessageTypeDocument,
		"stickerMessage":      model.MessageTypeSticker,
		"locationMessage":     model.MessageTypeLocation,
		"reactionMessage":     model.MessageTypeReaction,
		"templateMessage":     model.MessageTypeTemplate,
		"pollCreationMessage": model.MessageTypeUnknown,
	}
	for kind, want := range tests {
		assert.Equal(t, want, TypeFromKind(kind), kind)
	}
}

func TestWebhookResult_Preview(t *testing.T) {
	assert.Equal(t, "Oi", WebhookResult{MessageType: model.MessageTypeText, MessageContent: "Oi"}.Preview())
	assert.Equal(t, "[image]", WebhookResult{MessageType: model.MessageTypeImage}.Preview())
}

func TestBase_DownloadMediaBlocksInternalNetwork(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("segredo"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := media.NewLocalStorage(dir, "http://crm.local/media", zap.NewNop())
	require.NoError(t, err)
	b := NewBase(model.Integration{ID: "i1", TenantID: "t1"}, Deps{Storage: store, MediaTimeout: time.Second})

	res := b.DownloadMedia(context.Background(), srv.URL+"/latest/meta-data", "", "t1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrBlockedAddress.Error())
	assert.Zero(t, hits)
}

func TestIsPublicAddr(t *testing.T) {
	tests := map[string]bool{
		"8.8.8.8":          true,
		"2606:4700::1111":  true,
		"127.0.0.1":        false,
		"10.0.0.5":         false,
		"172.16.3.4":       false,
		"192.168.1.1":      false,
		"169.254.169.254":  false,
		"100.64.0.1":       false,
		"0.0.0.0":          false,
		"::1":              false,
		"fe80::1":          false,
		"fd00::1":          false,
		"::ffff:127.0.0.1": false,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsPublicAddr(netip.MustParseAddr(in)), in)
	}
}
