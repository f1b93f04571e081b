package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/media"
	"github.com/open-apime/crmhub/internal/storage/model"
)

const defaultMaxMediaBytes = 64 << 20

// Deps são as dependências compartilhadas por todos os provedores.
// AllowPrivateMedia libera downloads de mídia para IPs internos, necessário
// quando o provedor self-hosted roda na mesma rede.
type Deps struct {
	Storage           media.ObjectStorage
	WebhookLogs       storage.WebhookLogRepository
	Log               *zap.Logger
	HTTPTimeout       time.Duration
	MediaTimeout      time.Duration
	MaxMediaBytes     int64
	AllowPrivateMedia bool
}

// Base concentra o que todo provedor faz igual: cliente HTTP, mídia
// durável, auditoria de webhooks e validação de credenciais.
type Base struct {
	integration model.Integration
	deps        Deps
	client      *resty.Client
	downloader  *resty.Client
	log         *zap.Logger
}

func NewBase(integration model.Integration, deps Deps) *Base {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.HTTPTimeout <= 0 {
		deps.HTTPTimeout = 15 * time.Second
	}
	if deps.MediaTimeout <= 0 {
		deps.MediaTimeout = 30 * time.Second
	}
	if deps.MaxMediaBytes <= 0 {
		deps.MaxMediaBytes = defaultMaxMediaBytes
	}

	log := deps.Log.With(
		zap.String("provider", string(integration.Provider)),
		zap.String("integration_id", integration.ID),
		zap.String("tenant_id", integration.TenantID),
	)

	downloader := resty.New().SetTimeout(deps.MediaTimeout)
	if !deps.AllowPrivateMedia {
		downloader.SetTransport(publicTransport())
	}

	return &Base{
		integration: integration,
		deps:        deps,
		client: resty.New().
			SetTimeout(deps.HTTPTimeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		downloader: downloader,
		log:        log,
	}
}

func (b *Base) Integration() model.Integration { return b.integration }

func (b *Base) Client() *resty.Client { return b.client }

func (b *Base) Logger() *zap.Logger { return b.log }

// RequireCredentials falha com CONFIGURATION_ERROR listando as chaves ausentes.
func (b *Base) RequireCredentials(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if b.integration.Credential(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return NewError(CodeConfiguration,
			fmt.Sprintf("credenciais ausentes para %s: %s", b.integration.Provider, strings.Join(missing, ", ")), nil)
	}
	return nil
}

// DownloadMedia baixa a mídia uma única vez e grava no object storage do tenant.
func (b *Base) DownloadMedia(ctx context.Context, url, mimeType, tenantID string) MediaResult {
	return b.DownloadMediaWithHeaders(ctx, url, mimeType, tenantID, nil)
}

func (b *Base) DownloadMediaWithHeaders(ctx context.Context, url, mimeType, tenantID string, headers map[string]string) MediaResult {
	if url == "" {
		return MediaResult{Success: false, Error: "url de mídia vazia"}
	}

	ctx, cancel := context.WithTimeout(ctx, b.deps.MediaTimeout)
	defer cancel()

	resp, err := b.downloader.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return MediaResult{Success: false, Error: DescribeError("download de mídia", err)}
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return MediaResult{Success: false, Error: fmt.Sprintf("download de mídia: status %d", resp.StatusCode())}
	}

	data, err := io.ReadAll(io.LimitReader(body, b.deps.MaxMediaBytes+1))
	if err != nil {
		return MediaResult{Success: false, Error: DescribeError("download de mídia", err)}
	}
	if int64(len(data)) > b.deps.MaxMediaBytes {
		return MediaResult{Success: false, Error: fmt.Sprintf("mídia excede o limite de %d bytes", b.deps.MaxMediaBytes)}
	}

	if mimeType == "" {
		mimeType = resp.Header().Get("Content-Type")
	}

	res := b.StoreMedia(ctx, data, mimeType, tenantID)
	if res.Success && res.FileName == "" {
		res.FileName = path.Base(res.URL)
	}
	return res
}

// StoreMedia grava bytes já disponíveis (ex.: base64 no webhook).
func (b *Base) StoreMedia(ctx context.Context, data []byte, mimeType, tenantID string) MediaResult {
	if b.deps.Storage == nil {
		return MediaResult{Success: false, Error: "object storage não configurado"}
	}
	if len(data) == 0 {
		return MediaResult{Success: false, Error: "mídia vazia"}
	}

	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}

	objectPath := media.TenantPath(tenantID, mimeType, time.Now())
	url, err := b.deps.Storage.Put(ctx, objectPath, data, mimeType)
	if err != nil {
		b.log.Warn("falha ao gravar mídia", zap.String("path", objectPath), zap.Error(err))
		return MediaResult{Success: false, Error: DescribeError("gravar mídia", err)}
	}

	return MediaResult{
		Success:  true,
		URL:      url,
		Size:     int64(len(data)),
		MimeType: mimeType,
		FileName: path.Base(objectPath),
	}
}

// LogWebhook grava o payload bruto antes de qualquer processamento.
func (b *Base) LogWebhook(ctx context.Context, eventType string, payload []byte) (string, error) {
	if b.deps.WebhookLogs == nil {
		return "", nil
	}
	entry, err := b.deps.WebhookLogs.Create(ctx, model.WebhookLog{
		TenantID:      b.integration.TenantID,
		IntegrationID: b.integration.ID,
		EventType:     eventType,
		Payload:       string(payload),
	})
	if err != nil {
		return "", NewError(CodePersistence, "falha ao gravar webhook log", err)
	}
	return entry.ID, nil
}

func (b *Base) MarkWebhookProcessed(ctx context.Context, id string, success bool, errMsg string) error {
	if b.deps.WebhookLogs == nil || id == "" {
		return nil
	}
	return b.deps.WebhookLogs.MarkProcessed(ctx, id, success, errMsg)
}

// ValidateToken compara o token do handshake com o configurado.
func (b *Base) ValidateToken(expected, token, challenge string) (string, bool) {
	if expected == "" || token == "" || !constantTimeEqual(expected, token) {
		return "", false
	}
	return challenge, true
}

// DescribeError prefixa timeouts com "timeout:" para que sejam tratados como
// falhas recuperáveis no webhook log.
func DescribeError(op string, err error) string {
	if IsTimeout(err) {
		return "timeout: " + op + ": " + err.Error()
	}
	return op + ": " + err.Error()
}

func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// APIFailure monta o SendResult de uma chamada que falhou no provedor.
func APIFailure(op string, resp *resty.Response, err error) SendResult {
	if err != nil {
		return SendFailure(DescribeError(op, err))
	}
	return SendFailure(fmt.Sprintf("%s: status %d: %s", op, resp.StatusCode(), truncate(resp.String(), 300)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
