package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/api/handler"
	"github.com/open-apime/crmhub/internal/api/middleware"
	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/provider/factory"
	"github.com/open-apime/crmhub/internal/storage/memory"
	"github.com/open-apime/crmhub/internal/webhook"
)

func TestNewRouter(t *testing.T) {
	repo := memory.NewIntegrationRepository(memory.NewStore())
	f := factory.New(repo, factory.Options{}, zap.NewNop())

	router := NewRouter(Options{
		Env:                "test",
		AuthSecret:         "segredo",
		Logger:             zap.NewNop(),
		Metrics:            metrics.Nop(),
		HealthHandler:      handler.NewHealthHandler(nil),
		IntegrationHandler: handler.NewIntegrationHandler(repo, f, webhook.NewTokens("segredo"), "http://crm.test", zap.NewNop()),
	})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "liveness", method: http.MethodGet, path: "/api/healthz", want: http.StatusOK},
		{name: "readiness sem checks", method: http.MethodGet, path: "/api/readyz", want: http.StatusOK},
		{name: "métricas", method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{name: "operador sem token", method: http.MethodGet, path: "/api/integrations", want: http.StatusUnauthorized},
		{name: "rota inexistente", method: http.MethodGet, path: "/api/nada", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}
