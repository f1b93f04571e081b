// Package delivery entrega eventos normalizados em URLs de clientes, com
// assinatura HMAC e novas tentativas.
package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const SignatureHeader = "X-Crmhub-Signature"

type Delivery struct {
	client     *resty.Client
	log        *zap.Logger
	maxRetries int
	backoff    time.Duration
}

func NewDelivery(log *zap.Logger, maxRetries int) *Delivery {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Delivery{
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "crmhub/1.0"),
		log:        log,
		maxRetries: maxRetries,
		backoff:    time.Second,
	}
}

// Deliver envia event como JSON. Respostas 4xx (exceto 429) não são repetidas.
func (d *Delivery) Deliver(ctx context.Context, url, secret string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("delivery: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * d.backoff
			d.log.Info("delivery: retry", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return fmt.Errorf("delivery: cancelado: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		req := d.client.R().SetContext(ctx).SetBody(payload)
		if secret != "" {
			req.SetHeader(SignatureHeader, Sign(payload, secret))
		}

		resp, err := req.Post(url)
		if err != nil {
			lastErr = fmt.Errorf("delivery: request: %w", err)
			continue
		}
		if resp.IsSuccess() {
			d.log.Info("delivery: sucesso", zap.String("webhook", url), zap.Int("status", resp.StatusCode()))
			return nil
		}

		lastErr = fmt.Errorf("delivery: status %d", resp.StatusCode())
		if resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
			return lastErr
		}
	}

	return fmt.Errorf("delivery: falhou após %d tentativas: %w", d.maxRetries+1, lastErr)
}

// Sign devolve "sha256=<hex>" do HMAC-SHA256 do corpo.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
