package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/config"
)

func TestApp_ShutdownStopsRun(t *testing.T) {
	cfg := config.Config{App: config.AppConfig{Port: "0"}}
	a := New(cfg, zap.NewNop(), http.NotFoundHandler())
	assert.Equal(t, ":0", a.server.Addr)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	// aguarda o ListenAndServe subir antes de encerrar
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run não retornou após Shutdown")
	}
}
