// Package meta implementa o provedor oficial (WhatsApp Cloud API e
// Instagram Messaging) sobre a Graph API.
package meta

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

type Config struct {
	GraphBaseURL string
	GraphVersion string
	// VerifyToken global, usado quando a integração não define verify_token.
	VerifyToken string
}

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	*provider.Base
	cfg       Config
	channel   model.Channel
	senderID  string
	token     string
	verifyTok string
}

func New(integration model.Integration, deps provider.Deps, cfg Config) (*Provider, error) {
	base := provider.NewBase(integration, deps)

	required := []string{"access_token", "phone_number_id"}
	if integration.Channel == model.ChannelInstagram {
		required = []string{"access_token", "page_id"}
	}
	if err := base.RequireCredentials(required...); err != nil {
		return nil, err
	}

	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.facebook.com"
	}
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = "v21.0"
	}

	p := &Provider{
		Base:      base,
		cfg:       cfg,
		channel:   integration.Channel,
		token:     integration.Credential("access_token"),
		verifyTok: integration.Credential("verify_token"),
	}
	if p.verifyTok == "" {
		p.verifyTok = cfg.VerifyToken
	}
	if integration.Channel == model.ChannelInstagram {
		p.senderID = integration.Credential("page_id")
	} else {
		p.senderID = integration.Credential("phone_number_id")
	}

	base.Client().
		SetBaseURL(strings.TrimRight(cfg.GraphBaseURL, "/") + "/" + cfg.GraphVersion).
		SetAuthToken(p.token)

	return p, nil
}

func (p *Provider) Name() model.ProviderType { return model.ProviderMetaOfficial }

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	MessageID string `json:"message_id"`
}

func (p *Provider) SendMessage(ctx context.Context, payload provider.SendPayload) (provider.SendResult, error) {
	if payload.ExternalContactID == "" {
		return provider.SendResult{}, provider.NewError(provider.CodeConfiguration, "destinatário obrigatório", nil)
	}

	var body map[string]any
	if p.channel == model.ChannelInstagram {
		body = instagramBody(payload)
	} else {
		body = whatsAppBody(payload)
	}

	var out sendResponse
	resp, err := p.Client().R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/" + p.senderID + "/messages")
	if err != nil || resp.IsError() {
		res := provider.APIFailure("meta send", resp, err)
		p.Logger().Warn("falha ao enviar mensagem", zap.String("error", res.Error))
		return res, nil
	}

	id := out.MessageID
	if len(out.Messages) > 0 {
		id = out.Messages[0].ID
	}
	return provider.SendResult{
		Success:           true,
		ExternalMessageID: id,
		Status:            model.MessageStatusSent,
		Timestamp:         time.Now().UTC(),
	}, nil
}

func whatsAppBody(payload provider.SendPayload) map[string]any {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                payload.ExternalContactID,
	}

	kind := payload.MessageType
	if kind == "" || payload.MediaURL == "" {
		kind = model.MessageTypeText
	}

	switch kind {
	case model.MessageTypeImage, model.MessageTypeVideo:
		body["type"] = string(kind)
		body[string(kind)] = map[string]any{"link": payload.MediaURL, "caption": payload.Message}
	case model.MessageTypeAudio, model.MessageTypeSticker:
		body["type"] = string(kind)
		body[string(kind)] = map[string]any{"link": payload.MediaURL}
	case model.MessageTypeDocument:
		doc := map[string]any{"link": payload.MediaURL, "caption": payload.Message}
		if payload.FileName != "" {
			doc["filename"] = payload.FileName
		}
		body["type"] = "document"
		body["document"] = doc
	default:
		body["type"] = "text"
		body["text"] = map[string]any{"body": payload.Message, "preview_url": false}
	}

	if payload.ReplyToExternalMessageID != "" {
		body["context"] = map[string]any{"message_id": payload.ReplyToExternalMessageID}
	}
	return body
}

func instagramBody(payload provider.SendPayload) map[string]any {
	message := map[string]any{"text": payload.Message}
	if payload.MediaURL != "" && payload.MessageType.IsMedia() {
		kind := string(payload.MessageType)
		if payload.MessageType == model.MessageTypeDocument {
			kind = "file"
		}
		message = map[string]any{
			"attachment": map[string]any{"type": kind, "payload": map[string]any{"url": payload.MediaURL}},
		}
	}
	return map[string]any{
		"recipient":      map[string]any{"id": payload.ExternalContactID},
		"message":        message,
		"messaging_type": "RESPONSE",
	}
}

func (p *Provider) MarkAsRead(ctx context.Context, externalMessageID, externalContactID string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        externalMessageID,
	}
	if p.channel == model.ChannelInstagram {
		body = map[string]any{
			"recipient":     map[string]any{"id": externalContactID},
			"sender_action": "mark_seen",
		}
	}

	resp, err := p.Client().R().SetContext(ctx).SetBody(body).Post("/" + p.senderID + "/messages")
	if err != nil {
		return provider.NewError(provider.CodeProviderAPI, "meta mark as read", err)
	}
	if resp.IsError() {
		return provider.NewError(provider.CodeProviderAPI, fmt.Sprintf("meta mark as read: status %d", resp.StatusCode()), nil)
	}
	return nil
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// FetchMedia resolve o id de mídia na Graph API e baixa com o token da integração.
func (p *Provider) FetchMedia(ctx context.Context, ref, mimeType string) (provider.MediaResult, error) {
	url := ref
	if !provider.IsHTTP(ref) {
		var info mediaInfo
		resp, err := p.Client().R().SetContext(ctx).SetResult(&info).Get("/" + ref)
		if err != nil {
			return provider.MediaResult{Success: false, Error: provider.DescribeError("meta media lookup", err)}, nil
		}
		if resp.IsError() || info.URL == "" {
			return provider.MediaResult{Success: false, Error: fmt.Sprintf("meta media lookup: status %d", resp.StatusCode())}, nil
		}
		url = info.URL
		if mimeType == "" {
			mimeType = info.MimeType
		}
	}

	var headers map[string]string
	if p.channel == model.ChannelWhatsApp {
		headers = map[string]string{"Authorization": "Bearer " + p.token}
	}
	return p.DownloadMediaWithHeaders(ctx, url, mimeType, p.Integration().TenantID, headers), nil
}

func (p *Provider) ValidateWebhook(token, challenge string) (string, bool) {
	return p.ValidateToken(p.verifyTok, token, challenge)
}

func (p *Provider) ProcessWebhook(ctx context.Context, raw []byte) provider.WebhookResult {
	return Parse(raw)
}

func (p *Provider) accountFields() string {
	if p.channel == model.ChannelInstagram {
		return "id,name,username"
	}
	return "id,display_phone_number,verified_name,quality_rating"
}

func (p *Provider) HealthCheck(ctx context.Context) provider.HealthStatus {
	status := provider.HealthStatus{Provider: string(p.Name()), CheckedAt: time.Now().UTC()}

	info, err := p.GetAccountInfo(ctx)
	if err != nil {
		status.Error = err.Error()
		status.Status = "unreachable"
		return status
	}
	status.Healthy = true
	status.Status = "connected"
	status.Details = info.Details
	return status
}

func (p *Provider) GetAccountInfo(ctx context.Context) (provider.AccountInfo, error) {
	var out map[string]any
	resp, err := p.Client().R().
		SetContext(ctx).
		SetQueryParam("fields", p.accountFields()).
		SetResult(&out).
		Get("/" + p.senderID)
	if err != nil {
		return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, provider.DescribeError("meta account", err), nil)
	}
	if resp.IsError() {
		return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, fmt.Sprintf("meta account: status %d", resp.StatusCode()), nil)
	}

	info := provider.AccountInfo{Details: out, Status: "connected"}
	info.ID, _ = out["id"].(string)
	info.Phone, _ = out["display_phone_number"].(string)
	if name, ok := out["verified_name"].(string); ok {
		info.Name = name
	} else {
		info.Name, _ = out["name"].(string)
	}
	return info, nil
}
