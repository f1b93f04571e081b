// Package evolution implementa o provedor para a Evolution API, gateway
// auto-hospedado baseado em Baileys.
package evolution

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	*provider.Base
	instance string
}

func New(integration model.Integration, deps provider.Deps) (*Provider, error) {
	base := provider.NewBase(integration, deps)
	if err := base.RequireCredentials("base_url", "instance_name", "api_key"); err != nil {
		return nil, err
	}

	base.Client().
		SetBaseURL(strings.TrimRight(integration.Credential("base_url"), "/")).
		SetHeader("apikey", integration.Credential("api_key"))

	return &Provider{Base: base, instance: integration.Credential("instance_name")}, nil
}

func (p *Provider) Name() model.ProviderType { return model.ProviderEvolutionAPI }

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status           string       `json:"status"`
	MessageTimestamp provider.Int `json:"messageTimestamp"`
}

func (p *Provider) SendMessage(ctx context.Context, payload provider.SendPayload) (provider.SendResult, error) {
	if payload.ExternalContactID == "" {
		return provider.SendResult{}, provider.NewError(provider.CodeConfiguration, "destinatário obrigatório", nil)
	}

	endpoint, body := p.sendRequest(payload)
	if payload.ReplyToExternalMessageID != "" {
		body["quoted"] = map[string]any{"key": map[string]any{"id": payload.ReplyToExternalMessageID}}
	}

	var out sendResponse
	resp, err := p.Client().R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(endpoint)
	if err != nil || resp.IsError() {
		res := provider.APIFailure("evolution send", resp, err)
		p.Logger().Warn("falha ao enviar mensagem", zap.String("error", res.Error))
		return res, nil
	}

	ts := time.Now().UTC()
	if out.MessageTimestamp > 0 {
		ts = out.MessageTimestamp.Time()
	}
	return provider.SendResult{
		Success:           true,
		ExternalMessageID: out.Key.ID,
		Status:            model.MessageStatusSent,
		Timestamp:         ts,
	}, nil
}

func (p *Provider) sendRequest(payload provider.SendPayload) (string, map[string]any) {
	number := payload.ExternalContactID

	if payload.MediaURL == "" || !payload.MessageType.IsMedia() {
		return "/message/sendText/" + p.instance, map[string]any{"number": number, "text": payload.Message}
	}

	switch payload.MessageType {
	case model.MessageTypeAudio:
		return "/message/sendWhatsAppAudio/" + p.instance, map[string]any{"number": number, "audio": payload.MediaURL}
	case model.MessageTypeSticker:
		return "/message/sendSticker/" + p.instance, map[string]any{"number": number, "sticker": payload.MediaURL}
	}

	body := map[string]any{
		"number":    number,
		"mediatype": string(payload.MessageType),
		"media":     payload.MediaURL,
		"caption":   payload.Message,
	}
	if payload.MimeType != "" {
		body["mimetype"] = payload.MimeType
	}
	if payload.FileName != "" {
		body["fileName"] = payload.FileName
	}
	return "/message/sendMedia/" + p.instance, body
}

func (p *Provider) MarkAsRead(ctx context.Context, externalMessageID, externalContactID string) error {
	body := map[string]any{
		"readMessages": []map[string]any{{
			"remoteJid": toJID(externalContactID),
			"fromMe":    false,
			"id":        externalMessageID,
		}},
	}
	resp, err := p.Client().R().SetContext(ctx).SetBody(body).Post("/chat/markMessageAsRead/" + p.instance)
	if err != nil {
		return provider.NewError(provider.CodeProviderAPI, "evolution mark as read", err)
	}
	if resp.IsError() {
		return provider.NewError(provider.CodeProviderAPI, fmt.Sprintf("evolution mark as read: status %d", resp.StatusCode()), nil)
	}
	return nil
}

type base64Response struct {
	Base64   string `json:"base64"`
	Mimetype string `json:"mimetype"`
	FileName string `json:"fileName"`
}

// FetchMedia baixa URLs diretas; ids de mensagem são resolvidos pelo
// endpoint getBase64FromMediaMessage, já que a url do WhatsApp é criptografada.
func (p *Provider) FetchMedia(ctx context.Context, ref, mimeType string) (provider.MediaResult, error) {
	tenantID := p.Integration().TenantID
	if provider.IsHTTP(ref) {
		return p.DownloadMedia(ctx, ref, mimeType, tenantID), nil
	}

	var out base64Response
	resp, err := p.Client().R().
		SetContext(ctx).
		SetBody(map[string]any{
			"message":      map[string]any{"key": map[string]any{"id": ref}},
			"convertToMp4": false,
		}).
		SetResult(&out).
		Post("/chat/getBase64FromMediaMessage/" + p.instance)
	if err != nil {
		return provider.MediaResult{Success: false, Error: provider.DescribeError("evolution media", err)}, nil
	}
	if resp.IsError() || out.Base64 == "" {
		return provider.MediaResult{Success: false, Error: fmt.Sprintf("evolution media: status %d", resp.StatusCode())}, nil
	}

	data, err := base64.StdEncoding.DecodeString(out.Base64)
	if err != nil {
		return provider.MediaResult{Success: false, Error: "evolution media: base64 inválido"}, nil
	}
	if mimeType == "" {
		mimeType = out.Mimetype
	}
	res := p.StoreMedia(ctx, data, mimeType, tenantID)
	if out.FileName != "" && res.Success {
		res.FileName = out.FileName
	}
	return res, nil
}

// ValidateWebhook usa o verify_token opcional; a Evolution não faz handshake.
func (p *Provider) ValidateWebhook(token, challenge string) (string, bool) {
	return p.ValidateToken(p.Integration().Credential("verify_token"), token, challenge)
}

func (p *Provider) ProcessWebhook(ctx context.Context, raw []byte) provider.WebhookResult {
	return Parse(raw)
}

type connectionState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

func (p *Provider) HealthCheck(ctx context.Context) provider.HealthStatus {
	status := provider.HealthStatus{Provider: string(p.Name()), CheckedAt: time.Now().UTC()}

	var out connectionState
	resp, err := p.Client().R().SetContext(ctx).SetResult(&out).Get("/instance/connectionState/" + p.instance)
	if err != nil {
		status.Status = "unreachable"
		status.Error = provider.DescribeError("evolution health", err)
		return status
	}
	if resp.IsError() {
		status.Status = "unreachable"
		status.Error = fmt.Sprintf("evolution health: status %d", resp.StatusCode())
		return status
	}

	status.Status = out.Instance.State
	status.Healthy = out.Instance.State == "open"
	if !status.Healthy {
		status.Error = "instância não conectada"
	}
	status.Details = map[string]any{"instance": p.instance}
	return status
}

func (p *Provider) GetAccountInfo(ctx context.Context) (provider.AccountInfo, error) {
	var out []map[string]any
	resp, err := p.Client().R().
		SetContext(ctx).
		SetQueryParam("instanceName", p.instance).
		SetResult(&out).
		Get("/instance/fetchInstances")
	if err != nil {
		return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, provider.DescribeError("evolution account", err), nil)
	}
	if resp.IsError() {
		return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, fmt.Sprintf("evolution account: status %d", resp.StatusCode()), nil)
	}

	info := provider.AccountInfo{ID: p.instance}
	if len(out) == 0 {
		return info, nil
	}

	// v1 aninha os dados em "instance"; v2 devolve plano
	item := out[0]
	if nested, ok := item["instance"].(map[string]any); ok {
		item = nested
	}
	info.Details = item
	info.Name = stringOf(item, "profileName")
	info.Phone = strings.TrimSuffix(firstNonEmpty(stringOf(item, "ownerJid"), stringOf(item, "owner")), "@s.whatsapp.net")
	info.Status = firstNonEmpty(stringOf(item, "connectionStatus"), stringOf(item, "status"))
	return info, nil
}

func stringOf(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func toJID(contact string) string {
	if strings.Contains(contact, "@") {
		return contact
	}
	return contact + "@s.whatsapp.net"
}
