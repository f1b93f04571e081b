package zapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

func newZAPI(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p, err := New(model.Integration{
		ID: "i1", TenantID: "t1", Channel: model.ChannelWhatsApp, Provider: model.ProviderZAPI,
		Credentials: map[string]string{"instance_id": "3C0FFEE", "token": "tok", "client_token": "ct"},
		Status:      model.IntegrationStatusActive,
	}, provider.Deps{Log: zap.NewNop()}, baseURL)
	require.NoError(t, err)
	return p
}

func newUAZAPI(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p, err := New(model.Integration{
		ID: "i2", TenantID: "t1", Channel: model.ChannelWhatsApp, Provider: model.ProviderUAZAPI,
		Credentials: map[string]string{"base_url": baseURL, "token": "utok"},
		Status:      model.IntegrationStatusActive,
	}, provider.Deps{Log: zap.NewNop()}, "")
	require.NoError(t, err)
	return p
}

func TestNew_Credentials(t *testing.T) {
	_, err := New(model.Integration{Provider: model.ProviderZAPI, Credentials: map[string]string{"token": "x"}}, provider.Deps{}, "")
	assert.True(t, provider.IsCode(err, provider.CodeConfiguration))

	_, err = New(model.Integration{Provider: model.ProviderUAZAPI, Credentials: map[string]string{"token": "x"}}, provider.Deps{}, "")
	assert.True(t, provider.IsCode(err, provider.CodeConfiguration))
	assert.Contains(t, err.Error(), "base_url")
}

func TestSendMessage_ZAPI(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "ct", r.Header.Get("Client-Token"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"zaapId":"Z1","messageId":"M1","id":"M1"}`))
	}))
	defer srv.Close()

	p := newZAPI(t, srv.URL)
	assert.Equal(t, model.ProviderZAPI, p.Name())

	res, err := p.SendMessage(context.Background(), provider.SendPayload{ExternalContactID: "5531999999999", Message: "Oi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "M1", res.ExternalMessageID)
	assert.Equal(t, "/instances/3C0FFEE/token/tok/send-text", path)
	assert.Equal(t, "Oi", got["message"])

	_, err = p.SendMessage(context.Background(), provider.SendPayload{
		ExternalContactID: "5531999999999", MessageType: model.MessageTypeDocument,
		MediaURL: "https://cdn/contrato.pdf", FileName: "contrato.PDF",
	})
	require.NoError(t, err)
	assert.Equal(t, "/instances/3C0FFEE/token/tok/send-document/pdf", path)
	assert.Equal(t, "contrato.PDF", got["fileName"])
}

func TestSendMessage_UAZAPI(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "utok", r.Header.Get("token"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"messageid":"U1"}`))
	}))
	defer srv.Close()

	p := newUAZAPI(t, srv.URL)
	assert.Equal(t, model.ProviderUAZAPI, p.Name())

	res, err := p.SendMessage(context.Background(), provider.SendPayload{
		ExternalContactID: "5531999999999", MessageType: model.MessageTypeImage, MediaURL: "https://cdn/a.jpg", Message: "foto",
	})
	require.NoError(t, err)
	assert.Equal(t, "U1", res.ExternalMessageID)
	assert.Equal(t, "/send/media", path)
	assert.Equal(t, "image", got["type"])
	assert.Equal(t, "foto", got["text"])
}

func TestSendMessage_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := newZAPI(t, srv.URL)
	res, err := p.SendMessage(context.Background(), provider.SendPayload{ExternalContactID: "1", Message: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instances/3C0FFEE/token/tok/status":
			_, _ = w.Write([]byte(`{"connected":false,"smartphoneConnected":false,"error":"You are not connected."}`))
		case "/instance/status":
			_, _ = w.Write([]byte(`{"instance":{"status":"connected","owner":"5531988880000","profileName":"Loja"},"status":{"connected":true}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	status := newZAPI(t, srv.URL).HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "You are not connected.", status.Error)

	u := newUAZAPI(t, srv.URL)
	status = u.HealthCheck(context.Background())
	assert.True(t, status.Healthy)

	info, err := u.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5531988880000", info.Phone)
	assert.Equal(t, "Loja", info.Name)
}

func TestFetchMedia_RejectsNonHTTP(t *testing.T) {
	p := newZAPI(t, "http://unused")
	res, err := p.FetchMedia(context.Background(), "abc", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestParse_ChatEnvelope(t *testing.T) {
	raw := []byte(`{
		"chat": {"wa_chatid": "5531999999999@s.whatsapp.net", "wa_name": "Ana"},
		"message": {"id": "m1", "text": "Oi", "fromMe": false},
		"owner": "5531988880000"
	}`)

	res := Parse(raw)
	require.True(t, res.Success)
	assert.Equal(t, provider.EventMessageReceived, res.EventType)
	assert.Equal(t, "5531999999999", res.ExternalContactID)
	assert.Equal(t, "Ana", res.ContactName)
	assert.Equal(t, "m1", res.ExternalMessageID)
	assert.Equal(t, "Oi", res.MessageContent)
	assert.Equal(t, model.MessageTypeText, res.MessageType)
	assert.Equal(t, "5531988880000", res.Routing.Owner)
	assert.False(t, res.FromMe)
}

func TestParse_ChatEnvelopeVariants(t *testing.T) {
	sticker := []byte(`{"chat":{"wa_chatid":"5531999999999@s.whatsapp.net"},
		"message":{"messageid":"m2","messageType":"StickerMessage","fileURL":"https://cdn/s.webp","fromMe":"true"},"owner":"x"}`)
	res := Parse(sticker)
	assert.Equal(t, model.MessageTypeSticker, res.MessageType)
	assert.Equal(t, "[sticker]", res.MessageContent)
	assert.Equal(t, "https://cdn/s.webp", res.MediaURL)
	assert.Equal(t, provider.EventOutbound, res.EventType)
	assert.Equal(t, "m2", res.ExternalMessageID)

	content := []byte(`{"chat":{"wa_chatid":"5531999999999@s.whatsapp.net"},
		"message":{"id":"m3","messageType":"ExtendedTextMessage","content":{"text":"olá"}}}`)
	res = Parse(content)
	assert.Equal(t, "olá", res.MessageContent)

	group := []byte(`{"chat":{"wa_chatid":"120363@g.us"},"message":{"id":"m4","text":"x"}}`)
	assert.Equal(t, provider.EventUnknown, Parse(group).EventType)

	status := []byte(`{"EventType":"messages_update","chat":{},"event":{"Type":"Read","MessageIDs":["m1","m2"],"Chat":"5531999999999@s.whatsapp.net"},"owner":"x"}`)
	res = Parse(status)
	assert.Equal(t, provider.EventStatusUpdate, res.EventType)
	assert.Equal(t, model.MessageStatusRead, res.Status)
	assert.Equal(t, []string{"m1", "m2"}, res.StatusMessageIDs)
}

func TestParse_Callback(t *testing.T) {
	raw := []byte(`{
		"type": "ReceivedCallback", "instanceId": "3C0FFEE", "connectedPhone": "5531988880000",
		"messageId": "Z9", "phone": "5531999999999", "fromMe": false, "isGroup": false,
		"senderName": "Ana", "photo": "https://cdn/ana.jpg", "momment": 1700000000000,
		"image": {"imageUrl": "https://cdn/x.jpg", "mimeType": "image/jpeg", "caption": "oi"}
	}`)
	res := Parse(raw)
	assert.Equal(t, provider.EventMessageReceived, res.EventType)
	assert.Equal(t, model.MessageTypeImage, res.MessageType)
	assert.Equal(t, "https://cdn/x.jpg", res.MediaURL)
	assert.Equal(t, "3C0FFEE", res.Routing.InstanceID)
	assert.Equal(t, "https://cdn/ana.jpg", res.AvatarURL)
	assert.Equal(t, int64(1700000000), res.Timestamp.Unix())

	status := []byte(`{"type":"MessageStatusCallback","instanceId":"3C0FFEE","status":"RECEIVED","ids":["Z9"],"phone":"5531999999999"}`)
	res = Parse(status)
	assert.Equal(t, provider.EventStatusUpdate, res.EventType)
	assert.Equal(t, model.MessageStatusDelivered, res.Status)

	group := []byte(`{"type":"ReceivedCallback","isGroup":true,"phone":"120363-group","text":{"message":"x"}}`)
	assert.Equal(t, provider.EventUnknown, Parse(group).EventType)

	presence := []byte(`{"type":"PresenceChatCallback","phone":"5531999999999"}`)
	assert.Equal(t, provider.EventUnknown, Parse(presence).EventType)
}

func TestIsChatEnvelope(t *testing.T) {
	assert.True(t, IsChatEnvelope([]byte(`{"chat":{},"message":{}}`)))
	assert.False(t, IsChatEnvelope([]byte(`{"type":"ReceivedCallback"}`)))
	assert.False(t, IsChatEnvelope([]byte(`[1,2]`)))
}
