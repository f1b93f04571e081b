// Package metrics expõe os contadores Prometheus do pipeline de webhooks
// e do envio de mensagens.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	WebhooksReceived    *prometheus.CounterVec
	FallbackResolutions *prometheus.CounterVec
	DeadLetters         *prometheus.CounterVec
	MessagesPersisted   *prometheus.CounterVec
	MediaDownloads      *prometheus.CounterVec
	ProviderSends       *prometheus.CounterVec
	JobsProcessed       *prometheus.CounterVec

	registry prometheus.Gatherer
}

// New registra as métricas em reg. Testes passam prometheus.NewRegistry().
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_http_requests_total",
			Help: "Total de requisições HTTP",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crmhub_http_request_duration_seconds",
			Help:    "Latência das requisições HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_webhooks_received_total",
			Help: "Webhooks recebidos por formato e resultado",
		}, []string{"shape", "result"}),
		FallbackResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_webhook_fallback_resolutions_total",
			Help: "Webhooks atribuídos pela heurística legada (owner ou integração única)",
		}, []string{"strategy", "channel"}),
		DeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_dead_letters_total",
			Help: "Payloads enviados para a dead letter",
		}, []string{"reason"}),
		MessagesPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_messages_persisted_total",
			Help: "Mensagens gravadas por direção e canal",
		}, []string{"direction", "channel"}),
		MediaDownloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_media_downloads_total",
			Help: "Downloads de mídia por resultado",
		}, []string{"result"}),
		ProviderSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_provider_sends_total",
			Help: "Envios por provedor e resultado",
		}, []string{"provider", "result"}),
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crmhub_jobs_processed_total",
			Help: "Jobs assíncronos por tipo e resultado",
		}, []string{"type", "result"}),
		registry: reg,
	}
}

// Nop cria métricas em um registry isolado, para testes e ferramentas.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Middleware registra contagem e latência usando a rota (não o path cru).
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) ObserveSend(provider string, ok bool) {
	m.ProviderSends.WithLabelValues(provider, result(ok)).Inc()
}

func (m *Metrics) ObserveMedia(ok bool) {
	m.MediaDownloads.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveJob(jobType string, ok bool) {
	m.JobsProcessed.WithLabelValues(jobType, result(ok)).Inc()
}
