// Package zapi implementa o provedor para agregadores REST no formato
// Z-API e o espelho UAZAPI, que compartilham o mesmo modelo de webhook.
package zapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/media"
	"github.com/open-apime/crmhub/internal/storage/model"
)

const DefaultBaseURL = "https://api.z-api.io"

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	*provider.Base
	kind       model.ProviderType
	instanceID string
}

// New monta o cliente. Para Z-API as rotas ficam sob
// /instances/<id>/token/<token>; para UAZAPI o token vai no header.
func New(integration model.Integration, deps provider.Deps, defaultBaseURL string) (*Provider, error) {
	base := provider.NewBase(integration, deps)

	kind := integration.Provider
	if kind != model.ProviderUAZAPI {
		kind = model.ProviderZAPI
	}

	required := []string{"instance_id", "token"}
	if kind == model.ProviderUAZAPI {
		required = []string{"token", "base_url"}
	}
	if err := base.RequireCredentials(required...); err != nil {
		return nil, err
	}

	baseURL := integration.Credential("base_url")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := base.Client()
	if kind == model.ProviderZAPI {
		client.SetBaseURL(fmt.Sprintf("%s/instances/%s/token/%s",
			baseURL, integration.Credential("instance_id"), integration.Credential("token")))
		if ct := integration.Credential("client_token"); ct != "" {
			client.SetHeader("Client-Token", ct)
		}
	} else {
		client.SetBaseURL(baseURL).SetHeader("token", integration.Credential("token"))
	}

	return &Provider{Base: base, kind: kind, instanceID: integration.Credential("instance_id")}, nil
}

func (p *Provider) Name() model.ProviderType { return p.kind }

type sendResponse struct {
	ZaapID    string `json:"zaapId"`
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	// UAZAPI
	MessageIDLower string `json:"messageid"`
}

func (r sendResponse) externalID() string {
	for _, v := range []string{r.MessageID, r.MessageIDLower, r.ID, r.ZaapID} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p *Provider) SendMessage(ctx context.Context, payload provider.SendPayload) (provider.SendResult, error) {
	if payload.ExternalContactID == "" {
		return provider.SendResult{}, provider.NewError(provider.CodeConfiguration, "destinatário obrigatório", nil)
	}

	var endpoint string
	var body map[string]any
	if p.kind == model.ProviderUAZAPI {
		endpoint, body = uazapiRequest(payload)
	} else {
		endpoint, body = zapiRequest(payload)
	}

	var out sendResponse
	resp, err := p.Client().R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(endpoint)
	if err != nil || resp.IsError() {
		res := provider.APIFailure(string(p.kind)+" send", resp, err)
		p.Logger().Warn("falha ao enviar mensagem", zap.String("error", res.Error))
		return res, nil
	}

	return provider.SendResult{
		Success:           true,
		ExternalMessageID: out.externalID(),
		Status:            model.MessageStatusSent,
		Timestamp:         time.Now().UTC(),
	}, nil
}

func zapiRequest(payload provider.SendPayload) (string, map[string]any) {
	body := map[string]any{"phone": payload.ExternalContactID}
	if payload.ReplyToExternalMessageID != "" {
		body["messageId"] = payload.ReplyToExternalMessageID
	}

	if payload.MediaURL == "" || !payload.MessageType.IsMedia() {
		body["message"] = payload.Message
		return "/send-text", body
	}

	switch payload.MessageType {
	case model.MessageTypeImage:
		body["image"], body["caption"] = payload.MediaURL, payload.Message
		return "/send-image", body
	case model.MessageTypeVideo:
		body["video"], body["caption"] = payload.MediaURL, payload.Message
		return "/send-video", body
	case model.MessageTypeAudio:
		body["audio"] = payload.MediaURL
		return "/send-audio", body
	case model.MessageTypeSticker:
		body["sticker"] = payload.MediaURL
		return "/send-sticker", body
	default:
		body["document"] = payload.MediaURL
		if payload.FileName != "" {
			body["fileName"] = payload.FileName
		}
		if payload.Message != "" {
			body["caption"] = payload.Message
		}
		return "/send-document/" + documentExtension(payload), body
	}
}

func documentExtension(payload provider.SendPayload) string {
	if i := strings.LastIndex(payload.FileName, "."); i >= 0 && i < len(payload.FileName)-1 {
		return strings.ToLower(payload.FileName[i+1:])
	}
	if ext := media.ExtensionFor(payload.MimeType); ext != ".bin" {
		return strings.TrimPrefix(ext, ".")
	}
	return "pdf"
}

func uazapiRequest(payload provider.SendPayload) (string, map[string]any) {
	body := map[string]any{"number": payload.ExternalContactID}
	if payload.ReplyToExternalMessageID != "" {
		body["replyid"] = payload.ReplyToExternalMessageID
	}

	if payload.MediaURL == "" || !payload.MessageType.IsMedia() {
		body["text"] = payload.Message
		return "/send/text", body
	}

	body["type"] = string(payload.MessageType)
	body["file"] = payload.MediaURL
	if payload.Message != "" {
		body["text"] = payload.Message
	}
	if payload.FileName != "" {
		body["docName"] = payload.FileName
	}
	return "/send/media", body
}

func (p *Provider) MarkAsRead(ctx context.Context, externalMessageID, externalContactID string) error {
	var (
		resp *resty.Response
		err  error
	)
	if p.kind == model.ProviderUAZAPI {
		resp, err = p.Client().R().SetContext(ctx).
			SetBody(map[string]any{"id": []string{externalMessageID}}).
			Post("/message/markread")
	} else {
		resp, err = p.Client().R().SetContext(ctx).
			SetBody(map[string]any{"phone": externalContactID, "messageId": externalMessageID}).
			Post("/read-message")
	}
	if err != nil {
		return provider.NewError(provider.CodeProviderAPI, string(p.kind)+" mark as read", err)
	}
	if resp.IsError() {
		return provider.NewError(provider.CodeProviderAPI, fmt.Sprintf("%s mark as read: status %d", p.kind, resp.StatusCode()), nil)
	}
	return nil
}

// FetchMedia baixa a URL pública do agregador, que expira em poucas horas.
func (p *Provider) FetchMedia(ctx context.Context, ref, mimeType string) (provider.MediaResult, error) {
	if !provider.IsHTTP(ref) {
		return provider.MediaResult{Success: false, Error: "referência de mídia inválida: " + ref}, nil
	}
	return p.DownloadMedia(ctx, ref, mimeType, p.Integration().TenantID), nil
}

func (p *Provider) ValidateWebhook(token, challenge string) (string, bool) {
	return p.ValidateToken(p.Integration().Credential("verify_token"), token, challenge)
}

func (p *Provider) ProcessWebhook(ctx context.Context, raw []byte) provider.WebhookResult {
	return Parse(raw)
}

type zapiStatus struct {
	Connected           bool   `json:"connected"`
	SmartphoneConnected bool   `json:"smartphoneConnected"`
	Error               string `json:"error"`
}

type uazapiStatus struct {
	Instance struct {
		Status      string `json:"status"`
		Owner       string `json:"owner"`
		ProfileName string `json:"profileName"`
		Name        string `json:"name"`
	} `json:"instance"`
	Status struct {
		Connected bool `json:"connected"`
	} `json:"status"`
}

func (p *Provider) HealthCheck(ctx context.Context) provider.HealthStatus {
	status := provider.HealthStatus{Provider: string(p.kind), CheckedAt: time.Now().UTC()}

	if p.kind == model.ProviderUAZAPI {
		var out uazapiStatus
		resp, err := p.Client().R().SetContext(ctx).SetResult(&out).Get("/instance/status")
		if failed(&status, resp, err) {
			return status
		}
		status.Healthy = out.Status.Connected || out.Instance.Status == "connected"
		status.Status = out.Instance.Status
	} else {
		var out zapiStatus
		resp, err := p.Client().R().SetContext(ctx).SetResult(&out).Get("/status")
		if failed(&status, resp, err) {
			return status
		}
		status.Healthy = out.Connected
		status.Status = "disconnected"
		if out.Connected {
			status.Status = "connected"
		}
		status.Error = out.Error
		status.Details = map[string]any{"smartphoneConnected": out.SmartphoneConnected}
	}

	if !status.Healthy && status.Error == "" {
		status.Error = "instância não conectada"
	}
	return status
}

func failed(status *provider.HealthStatus, resp *resty.Response, err error) bool {
	if err != nil {
		status.Status = "unreachable"
		status.Error = provider.DescribeError("health", err)
		return true
	}
	if resp.IsError() {
		status.Status = "unreachable"
		status.Error = fmt.Sprintf("health: status %d", resp.StatusCode())
		return true
	}
	return false
}

func (p *Provider) GetAccountInfo(ctx context.Context) (provider.AccountInfo, error) {
	if p.kind == model.ProviderUAZAPI {
		var out uazapiStatus
		resp, err := p.Client().R().SetContext(ctx).SetResult(&out).Get("/instance/status")
		if err != nil {
			return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, provider.DescribeError("uazapi account", err), nil)
		}
		if resp.IsError() {
			return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, fmt.Sprintf("uazapi account: status %d", resp.StatusCode()), nil)
		}
		return provider.AccountInfo{
			ID:     firstNonEmpty(out.Instance.Name, p.instanceID),
			Name:   out.Instance.ProfileName,
			Phone:  out.Instance.Owner,
			Status: out.Instance.Status,
		}, nil
	}

	var out map[string]any
	resp, err := p.Client().R().SetContext(ctx).SetResult(&out).Get("/device")
	if err != nil {
		return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, provider.DescribeError("zapi account", err), nil)
	}
	if resp.IsError() {
		return provider.AccountInfo{}, provider.NewError(provider.CodeProviderAPI, fmt.Sprintf("zapi account: status %d", resp.StatusCode()), nil)
	}

	info := provider.AccountInfo{ID: p.instanceID, Details: out}
	info.Phone, _ = out["phone"].(string)
	info.Name, _ = out["name"].(string)
	return info, nil
}
