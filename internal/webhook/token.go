package webhook

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/open-apime/crmhub/internal/storage/model"
)

var ErrInvalidToken = errors.New("token de webhook inválido")

// TokenClaims identificam a integração dona da URL de webhook por tenant.
type TokenClaims struct {
	TenantID      string        `json:"tid"`
	Channel       model.Channel `json:"ch"`
	IntegrationID string        `json:"iid"`
	jwt.RegisteredClaims
}

// Tokens assina e valida os tokens das rotas /webhooks/t/:token. Não há
// expiração: a URL é configurada uma vez no provedor. Rotacionar o token
// gravado na integração revoga os anteriores.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

func (t *Tokens) Mint(integration model.Integration) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("segredo de token de webhook não configurado")
	}
	claims := &TokenClaims{
		TenantID:      integration.TenantID,
		Channel:       integration.Channel,
		IntegrationID: integration.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  integration.ID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tokens) Parse(token string) (*TokenClaims, error) {
	if len(t.secret) == 0 || token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("método de assinatura inesperado: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid || claims.IntegrationID == "" || claims.TenantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
