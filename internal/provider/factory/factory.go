// Package factory resolve a integração ativa de um tenant e instancia o
// provedor correspondente.
package factory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/provider/evolution"
	"github.com/open-apime/crmhub/internal/provider/meta"
	"github.com/open-apime/crmhub/internal/provider/zapi"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/model"
)

type Options struct {
	Deps        provider.Deps
	Meta        meta.Config
	ZAPIBaseURL string
}

type Factory struct {
	integrations storage.IntegrationRepository
	opts         Options
	log          *zap.Logger
}

func New(integrations storage.IntegrationRepository, opts Options, log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Deps.Log == nil {
		opts.Deps.Log = log
	}
	return &Factory{integrations: integrations, opts: opts, log: log}
}

// Create busca a integração ativa a cada chamada, para que reconexões
// tenham efeito imediato.
func (f *Factory) Create(ctx context.Context, tenantID string, channel model.Channel) (provider.Provider, error) {
	integration, err := f.integrations.GetActive(ctx, tenantID, channel)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, provider.NewError(provider.CodeIntegrationNotFound,
				fmt.Sprintf("nenhuma integração ativa para tenant %s no canal %s", tenantID, channel), nil)
		}
		return nil, provider.NewError(provider.CodePersistence, "falha ao buscar integração", err)
	}
	return f.ForIntegration(integration)
}

// ForIntegration monta o provedor a partir de uma integração já carregada.
// Integrações fora do status active são recusadas.
func (f *Factory) ForIntegration(integration model.Integration) (provider.Provider, error) {
	if integration.Status != model.IntegrationStatusActive {
		return nil, provider.NewError(provider.CodeInvalidCredentials,
			fmt.Sprintf("integração %s com status %s", integration.ID, integration.Status), nil)
	}
	return f.Build(integration)
}

// Build instancia o provedor sem olhar o status. Usado pelo watchdog, que
// precisa consultar integrações em erro para detectar a reconexão.
func (f *Factory) Build(integration model.Integration) (provider.Provider, error) {
	var (
		p   provider.Provider
		err error
	)
	switch integration.Provider {
	case model.ProviderMetaOfficial:
		p, err = meta.New(integration, f.opts.Deps, f.opts.Meta)
	case model.ProviderEvolutionAPI:
		p, err = evolution.New(integration, f.opts.Deps)
	case model.ProviderZAPI, model.ProviderUAZAPI:
		p, err = zapi.New(integration, f.opts.Deps, f.opts.ZAPIBaseURL)
	default:
		return nil, provider.NewError(provider.CodeUnknownProvider,
			fmt.Sprintf("provedor desconhecido: %q", integration.Provider), nil)
	}
	if err != nil {
		f.log.Warn("falha ao instanciar provedor",
			zap.String("integration_id", integration.ID),
			zap.String("provider", string(integration.Provider)),
			zap.Error(err),
		)
		return nil, err
	}
	return p, nil
}
