// Package session acompanha o estado da conexão de cada integração com o
// provedor e reflete esse estado em Integration.Status.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/model"
)

// ProviderSource instancia provedores sem exigir status active.
type ProviderSource interface {
	Build(integration model.Integration) (provider.Provider, error)
}

// Watchdog consulta HealthCheck das integrações ativas em intervalo fixo.
// Só altera Status; IsActive continua sob controle do operador.
type Watchdog struct {
	repo      storage.IntegrationRepository
	providers ProviderSource
	interval  time.Duration
	log       *zap.Logger

	onDisconnect func(model.Integration, provider.HealthStatus)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWatchdog(repo storage.IntegrationRepository, providers ProviderSource, interval time.Duration, log *zap.Logger) *Watchdog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{repo: repo, providers: providers, interval: interval, log: log}
}

// SetOnDisconnect registra um callback chamado quando uma integração ativa
// deixa de responder como saudável.
func (w *Watchdog) SetOnDisconnect(fn func(model.Integration, provider.HealthStatus)) {
	w.onDisconnect = fn
}

func (w *Watchdog) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info("watchdog: desativado")
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.CheckAll(ctx)
			}
		}
	}()
}

func (w *Watchdog) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}

// CheckAll roda uma rodada de verificação em todas as integrações ativas.
func (w *Watchdog) CheckAll(ctx context.Context) {
	integrations, err := w.repo.ListActive(ctx, "")
	if err != nil {
		w.log.Error("watchdog: erro ao listar integrações", zap.Error(err))
		return
	}
	for _, integration := range integrations {
		if ctx.Err() != nil {
			return
		}
		w.check(ctx, integration)
	}
}

func (w *Watchdog) check(ctx context.Context, integration model.Integration) {
	log := w.log.With(
		zap.String("integration_id", integration.ID),
		zap.String("tenant_id", integration.TenantID),
		zap.String("provider", string(integration.Provider)),
	)

	p, err := w.providers.Build(integration)
	if err != nil {
		log.Warn("watchdog: integração com configuração inválida", zap.Error(err))
		w.setStatus(ctx, integration, model.IntegrationStatusError, log)
		return
	}

	health := p.HealthCheck(ctx)
	next := statusFor(health)
	if next != model.IntegrationStatusActive && integration.Status == model.IntegrationStatusActive {
		log.Warn("watchdog: integração desconectada",
			zap.String("status", health.Status),
			zap.String("error", health.Error),
		)
		if w.onDisconnect != nil {
			w.onDisconnect(integration, health)
		}
	}
	if next == model.IntegrationStatusActive && integration.Status != model.IntegrationStatusActive {
		log.Info("watchdog: integração conectada")
	}
	w.setStatus(ctx, integration, next, log)
}

func (w *Watchdog) setStatus(ctx context.Context, integration model.Integration, status model.IntegrationStatus, log *zap.Logger) {
	if integration.Status == status {
		return
	}
	integration.Status = status
	if _, err := w.repo.Update(ctx, integration); err != nil {
		log.Error("watchdog: erro ao atualizar status", zap.Error(err))
	}
}

func statusFor(health provider.HealthStatus) model.IntegrationStatus {
	if health.Healthy {
		return model.IntegrationStatusActive
	}
	// provedor fora do ar ou credenciais recusadas
	if health.Status == "" || health.Status == "unreachable" {
		return model.IntegrationStatusError
	}
	return model.IntegrationStatusDisconnected
}
