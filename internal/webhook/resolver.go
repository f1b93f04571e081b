package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/pkg/phone"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/model"
)

// Strategy registra como a integração de um webhook foi encontrada.
type Strategy string

const (
	StrategyToken    Strategy = "token"
	StrategyInstance Strategy = "instance"
	StrategyOwner    Strategy = "owner"
	StrategySingle   Strategy = "single_integration"
	StrategyReplay   Strategy = "replay"
)

// instanceKeys são as credenciais comparadas com o id de instância do payload.
var instanceKeys = []string{"instance_id", "instance_name", "page_id", "phone_number_id", "instagram_business_account_id"}

type Resolver struct {
	integrations storage.IntegrationRepository
	tokens       *Tokens
	allowSingle  bool
	metrics      *metrics.Metrics
	log          *zap.Logger
}

func NewResolver(integrations storage.IntegrationRepository, tokens *Tokens, allowSingle bool, m *metrics.Metrics, log *zap.Logger) *Resolver {
	if m == nil {
		m = metrics.Nop()
	}
	return &Resolver{integrations: integrations, tokens: tokens, allowSingle: allowSingle, metrics: m, log: log}
}

// ResolveToken aceita o token assinado da rota por tenant ou, para
// integrações antigas, um webhook_token opaco gravado na integração.
func (r *Resolver) ResolveToken(ctx context.Context, token string) (model.Integration, error) {
	claims, err := r.tokens.Parse(token)
	if err != nil {
		return r.resolveOpaqueToken(ctx, token)
	}

	integration, err := r.integrations.GetByID(ctx, claims.IntegrationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Integration{}, provider.NewError(provider.CodeIntegrationNotFound, "integração do token não existe", nil)
		}
		return model.Integration{}, provider.NewError(provider.CodePersistence, "falha ao buscar integração", err)
	}

	if integration.TenantID != claims.TenantID || integration.Channel != claims.Channel {
		return model.Integration{}, provider.NewError(provider.CodeInvalidCredentials, "token não corresponde à integração", nil)
	}
	if integration.WebhookToken != "" && !equalToken(integration.WebhookToken, token) {
		return model.Integration{}, provider.NewError(provider.CodeInvalidCredentials, "token de webhook revogado", nil)
	}
	if !integration.IsActive {
		return model.Integration{}, provider.NewError(provider.CodeIntegrationNotFound, "integração inativa", nil)
	}
	return integration, nil
}

// ResolveID carrega a integração já atribuída a uma dead letter.
func (r *Resolver) ResolveID(ctx context.Context, id string) (model.Integration, error) {
	integration, err := r.integrations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Integration{}, provider.NewError(provider.CodeIntegrationNotFound, "integração "+id+" não existe", nil)
		}
		return model.Integration{}, provider.NewError(provider.CodePersistence, "falha ao buscar integração", err)
	}
	if !integration.IsActive {
		return model.Integration{}, provider.NewError(provider.CodeIntegrationNotFound, "integração inativa", nil)
	}
	return integration, nil
}

func (r *Resolver) resolveOpaqueToken(ctx context.Context, token string) (model.Integration, error) {
	if token == "" {
		return model.Integration{}, provider.NewError(provider.CodeIntegrationNotFound, "token ausente", nil)
	}
	list, err := r.integrations.ListActive(ctx, "")
	if err != nil {
		return model.Integration{}, provider.NewError(provider.CodePersistence, "falha ao listar integrações", err)
	}
	for _, in := range list {
		if in.WebhookToken != "" && equalToken(in.WebhookToken, token) {
			return in, nil
		}
	}
	return model.Integration{}, provider.NewError(provider.CodeIntegrationNotFound, "nenhuma integração para o token", nil)
}

// Resolve aplica as heurísticas do endpoint compartilhado, na ordem:
// id de instância exato, telefone do owner e integração única do canal.
func (r *Resolver) Resolve(ctx context.Context, routing provider.Routing) (model.Integration, Strategy, error) {
	list, err := r.integrations.ListActive(ctx, routing.Channel)
	if err != nil {
		return model.Integration{}, "", provider.NewError(provider.CodePersistence, "falha ao listar integrações", err)
	}

	if routing.InstanceID != "" {
		matches := filter(list, func(in model.Integration) bool {
			for _, k := range instanceKeys {
				if v := in.Credential(k); v != "" && v == routing.InstanceID {
					return true
				}
			}
			return false
		})
		if found, err := single(matches, StrategyInstance, routing.InstanceID); found != nil || err != nil {
			return derefOrZero(found), StrategyInstance, err
		}
	}

	if digits := phone.Digits(phone.StripJID(routing.Owner)); len(digits) >= 8 {
		matches := filter(list, func(in model.Integration) bool {
			for _, k := range []string{"instance_id", "phone", "owner"} {
				if v := phone.Digits(in.Credential(k)); v != "" && strings.Contains(v, digits) {
					return true
				}
			}
			return false
		})
		if found, err := single(matches, StrategyOwner, digits); found != nil || err != nil {
			if found != nil {
				r.fallback(StrategyOwner, *found)
			}
			return derefOrZero(found), StrategyOwner, err
		}
	}

	if r.allowSingle && len(list) == 1 {
		r.fallback(StrategySingle, list[0])
		return list[0], StrategySingle, nil
	}

	return model.Integration{}, "", provider.NewError(provider.CodeIntegrationNotFound,
		fmt.Sprintf("nenhuma integração para instance=%q owner=%q", routing.InstanceID, routing.Owner), nil)
}

func (r *Resolver) fallback(strategy Strategy, in model.Integration) {
	r.metrics.FallbackResolutions.WithLabelValues(string(strategy), string(in.Channel)).Inc()
	r.log.Warn("webhook atribuído por heurística legada",
		zap.String("strategy", string(strategy)),
		zap.String("tenant_id", in.TenantID),
		zap.String("integration_id", in.ID),
	)
}

func filter(list []model.Integration, keep func(model.Integration) bool) []model.Integration {
	var out []model.Integration
	for _, in := range list {
		if keep(in) {
			out = append(out, in)
		}
	}
	return out
}

func single(matches []model.Integration, strategy Strategy, key string) (*model.Integration, error) {
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		return nil, provider.NewError(provider.CodeResolutionAmbiguous,
			fmt.Sprintf("%d integrações correspondem a %s=%q", len(matches), strategy, key), nil)
	}
}

func derefOrZero(in *model.Integration) model.Integration {
	if in == nil {
		return model.Integration{}
	}
	return *in
}

func equalToken(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
