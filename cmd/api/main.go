package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/api/handler"
	"github.com/open-apime/crmhub/internal/api/middleware"
	"github.com/open-apime/crmhub/internal/app"
	"github.com/open-apime/crmhub/internal/config"
	"github.com/open-apime/crmhub/internal/events"
	"github.com/open-apime/crmhub/internal/logger"
	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/pkg/queue"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/provider/factory"
	"github.com/open-apime/crmhub/internal/provider/meta"
	"github.com/open-apime/crmhub/internal/scheduling"
	"github.com/open-apime/crmhub/internal/server"
	"github.com/open-apime/crmhub/internal/service/message"
	"github.com/open-apime/crmhub/internal/session"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/media"
	"github.com/open-apime/crmhub/internal/storage/model"
	"github.com/open-apime/crmhub/internal/webhook"
	"github.com/open-apime/crmhub/internal/webhook/delivery"
)

func main() {
	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	logr.Info("iniciando aplicação",
		zap.String("version", config.Version),
		zap.String("env", cfg.App.Env),
		zap.String("log_level", cfg.Log.Level),
		zap.String("port", cfg.App.Port),
		zap.String("db_driver", cfg.Storage.Driver),
		zap.String("media_driver", cfg.ObjectStorage.Driver),
	)

	repos, err := storage.NewRepositories(cfg, logr)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mediaStorage, err := media.New(context.Background(), cfg.ObjectStorage, cfg.Storage.DataDir, cfg.App.BaseURL, logr)
	if err != nil {
		log.Fatalf("media storage: %v", err)
	}
	var mediaDir string
	if local, ok := mediaStorage.(*media.LocalStorage); ok {
		mediaDir = local.Dir()
	}

	deps := provider.Deps{
		Storage:           mediaStorage,
		WebhookLogs:       repos.WebhookLog,
		Log:               logr,
		HTTPTimeout:       cfg.Provider.HTTPTimeout,
		MediaTimeout:      cfg.Provider.MediaDownloadTimeout,
		MaxMediaBytes:     cfg.ObjectStorage.MaxBytes,
		AllowPrivateMedia: cfg.Provider.AllowPrivateMedia,
	}
	providers := factory.New(repos.Integration, factory.Options{
		Deps: deps,
		Meta: meta.Config{
			GraphBaseURL: cfg.Meta.GraphBaseURL,
			GraphVersion: cfg.Meta.GraphVersion,
			VerifyToken:  cfg.Webhook.VerifyToken,
		},
		ZAPIBaseURL: cfg.Provider.ZAPIBaseURL,
	}, logr)

	tokenSecret := cfg.Webhook.TokenSecret
	if tokenSecret == "" {
		logr.Warn("WEBHOOK_TOKEN_SECRET vazio, usando JWT_SECRET para assinar tokens de webhook")
		tokenSecret = cfg.JWT.Secret
	}
	tokens := webhook.NewTokens(tokenSecret)
	resolver := webhook.NewResolver(repos.Integration, tokens, cfg.Webhook.AllowSingleFallback, m, logr)

	publisher, err := events.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logr)
	if err != nil {
		log.Fatalf("eventos: %v", err)
	}

	pipeline := webhook.NewPipeline(webhook.Params{
		Repos: webhook.Repositories{
			Integrations:  repos.Integration,
			Conversations: repos.Conversation,
			Messages:      repos.Message,
			Leads:         repos.Lead,
			WebhookLogs:   repos.WebhookLog,
			DeadLetters:   repos.DeadLetter,
		},
		Factory:   providers,
		Resolver:  resolver,
		Locker:    repos.Locker,
		Queue:     repos.JobQueue,
		Publisher: publisher,
		Media:     deps,
		Metrics:   m,
		Log:       logr,
		Options: webhook.Options{
			LockWait:       cfg.Webhook.LockWait,
			LockTTL:        cfg.Webhook.LockTTL,
			DefaultCountry: cfg.Provider.DefaultCountry,
		},
	})

	messageService := message.NewService(providers, repos.Conversation, repos.Message, m, cfg.Provider.DefaultCountry, logr)

	jobPool := webhook.NewPool(repos.JobQueue, m, logr, cfg.Webhook.Workers)
	jobPool.Register(queue.JobForwardEvent, webhook.NewForwarder(repos.Integration, delivery.NewDelivery(logr, cfg.Webhook.ForwardRetries), logr))

	if cfg.Scheduling.OpenAIKey != "" && cfg.Scheduling.CalendarURL != "" {
		classifier := scheduling.NewOpenAIClassifier(scheduling.OpenAIConfig{
			APIKey:  cfg.Scheduling.OpenAIKey,
			Model:   cfg.Scheduling.OpenAIModel,
			BaseURL: cfg.Scheduling.OpenAIURL,
		}, logr)
		calendar := scheduling.NewHTTPCalendar(cfg.Scheduling.CalendarURL, cfg.Scheduling.CalendarKey, cfg.Scheduling.Timeout)
		detector := scheduling.NewDetector(classifier, calendar, messageService, cfg.Scheduling.Timeout, logr)
		jobPool.Register(queue.JobDetectSchedule, detector)
		logr.Info("agendamento automático habilitado", zap.String("model", cfg.Scheduling.OpenAIModel))
	} else {
		logr.Info("agendamento automático desativado: OPENAI_API_KEY ou CALENDAR_API_URL ausente")
	}

	jobPool.Start(context.Background())

	watchdog := session.NewWatchdog(repos.Integration, providers, cfg.Provider.HealthInterval, logr)
	watchdog.SetOnDisconnect(func(in model.Integration, health provider.HealthStatus) {
		ev := events.IntegrationDisconnected(in, health.Error, health.CheckedAt)
		if err := publisher.Publish(context.Background(), ev); err != nil {
			logr.Warn("falha ao publicar desconexão", zap.String("integration_id", in.ID), zap.Error(err))
		}
	})
	watchdog.Start(context.Background())

	webhookHandler := handler.NewWebhookHandler(pipeline, resolver, providers, handler.WebhookOptions{
		VerifyToken:  cfg.Webhook.VerifyToken,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
	}, logr)

	rateLimitOpts := middleware.RateLimitOption{
		Enabled:  cfg.RateLimit.Enabled,
		Requests: cfg.RateLimit.Requests,
		Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		Prefix:   cfg.RateLimit.Prefix,
		Limiter:  repos.RateLimiter,
		Logger:   logr,
	}
	ipRateLimitOpts := middleware.IPRateLimitOption{
		Enabled:        cfg.IPRateLimit.Enabled,
		Requests:       cfg.IPRateLimit.Requests,
		WindowSeconds:  cfg.IPRateLimit.WindowSeconds,
		Limiter:        repos.RateLimiter,
		Logger:         logr,
		SkipPrivateIPs: cfg.IPRateLimit.SkipPrivateIPs,
		Prefix:         "ratelimit:webhook:ip",
	}

	checks := make(map[string]handler.Check, len(repos.Checks))
	for name, check := range repos.Checks {
		checks[name] = check
	}

	router := server.NewRouter(server.Options{
		Env:                cfg.App.Env,
		AuthSecret:         cfg.JWT.Secret,
		Logger:             logr,
		Metrics:            m,
		MediaDir:           mediaDir,
		HealthHandler:      handler.NewHealthHandler(checks),
		WebhookHandler:     webhookHandler,
		MessageHandler:     handler.NewMessageHandler(messageService),
		IntegrationHandler: handler.NewIntegrationHandler(repos.Integration, providers, tokens, cfg.App.BaseURL, logr),
		DeadLetterHandler:  handler.NewDeadLetterHandler(repos.DeadLetter, pipeline),
		RateLimit:          rateLimitOpts,
		IPRateLimit:        ipRateLimitOpts,
	})

	application := app.New(cfg, logr, router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := application.Run(context.Background()); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("sinal de encerramento recebido", zap.String("signal", "SIGINT/SIGTERM"))
	case err := <-errCh:
		logr.Error("servidor finalizado com erro", zap.Error(err))
	}

	logr.Info("iniciando shutdown graceful")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logr.Error("erro ao encerrar servidor", zap.Error(err))
	} else {
		logr.Info("servidor encerrado com sucesso")
	}

	watchdog.Stop()
	jobPool.Stop()

	if err := publisher.Close(); err != nil {
		logr.Warn("erro ao fechar publisher de eventos", zap.Error(err))
	}

	repos.Close()
	logr.Info("repositórios encerrados")
}
