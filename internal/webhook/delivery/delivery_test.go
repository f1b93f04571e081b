package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDelivery(retries int) *Delivery {
	d := NewDelivery(zap.NewNop(), retries)
	d.backoff = time.Millisecond
	return d
}

func TestDeliver_SignsPayload(t *testing.T) {
	var body []byte
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestDelivery(0).Deliver(context.Background(), srv.URL, "segredo", map[string]any{"id": "e1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e1"}`, string(body))
	assert.Equal(t, Sign(body, "segredo"), signature)
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestDelivery(3).Deliver(context.Background(), srv.URL, "", map[string]any{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestDelivery(3).Deliver(context.Background(), srv.URL, "", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliver_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestDelivery(2).Deliver(context.Background(), srv.URL, "", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 tentativas")
}
