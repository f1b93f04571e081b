package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/config"
	"github.com/open-apime/crmhub/internal/pkg/lock"
	"github.com/open-apime/crmhub/internal/pkg/queue"
	queue_memory "github.com/open-apime/crmhub/internal/pkg/queue/memory"
	queue_redis "github.com/open-apime/crmhub/internal/pkg/queue/redis"
	"github.com/open-apime/crmhub/internal/pkg/ratelimiter"
	limiter_memory "github.com/open-apime/crmhub/internal/pkg/ratelimiter/memory"
	limiter_redis "github.com/open-apime/crmhub/internal/pkg/ratelimiter/redis"
	"github.com/open-apime/crmhub/internal/storage/memory"
	"github.com/open-apime/crmhub/internal/storage/postgres"
	storage_redis "github.com/open-apime/crmhub/internal/storage/redis"
	"github.com/open-apime/crmhub/internal/storage/sqlite"
)

const jobQueueKey = "crmhub:jobs"

type Repositories struct {
	Integration  IntegrationRepository
	Conversation ConversationRepository
	Message      MessageRepository
	Lead         LeadRepository
	WebhookLog   WebhookLogRepository
	DeadLetter   DeadLetterRepository
	RedisClient  *storage_redis.Client // nil quando Redis está desabilitado
	JobQueue     queue.Queue
	RateLimiter  ratelimiter.Limiter
	Locker       lock.Locker
	// Checks alimenta o /readyz com um ping por backend conectado.
	Checks map[string]func(ctx context.Context) error

	closers []func()
}

// Close libera as conexões abertas pelos drivers.
func (r *Repositories) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func NewRepositories(cfg config.Config, log *zap.Logger) (*Repositories, error) {
	log.Info("inicializando repositórios",
		zap.String("driver", cfg.Storage.Driver),
	)

	repos := &Repositories{Checks: map[string]func(ctx context.Context) error{}}

	if cfg.Redis.Enabled {
		log.Info("inicializando Redis...")
		client, err := storage_redis.New(cfg.Redis, log)
		if err != nil {
			log.Error("erro ao conectar com Redis", zap.Error(err))
			return nil, err
		}

		rdb := client.RDB()
		repos.RedisClient = client
		repos.JobQueue = queue_redis.NewQueue(rdb, jobQueueKey)
		repos.RateLimiter = limiter_redis.NewLimiter(rdb)
		repos.Locker = storage_redis.NewLocker(client)
		repos.closers = append(repos.closers, func() { _ = client.Close() })
		repos.Checks["redis"] = client.Ping
		log.Info("Redis conectado, fila, limiter e lock configurados")
	} else {
		log.Info("usando implementações em memória (Redis desabilitado)")
		q := queue_memory.NewQueue(10000)
		limiter := limiter_memory.NewLimiter()
		repos.JobQueue = q
		repos.RateLimiter = limiter
		repos.Locker = lock.NewMemoryLocker()
		repos.closers = append(repos.closers, func() { _ = q.Close() }, limiter.Close)
	}

	switch cfg.Storage.Driver {
	case "sqlite", "":
		db, err := sqlite.New(cfg.Storage.DataDir, log)
		if err != nil {
			log.Error("erro ao conectar com SQLite", zap.Error(err))
			repos.Close()
			return nil, err
		}

		repos.Integration = sqlite.NewIntegrationRepository(db, cfg.Crypto.CredentialsKey)
		repos.Conversation = sqlite.NewConversationRepository(db)
		repos.Message = sqlite.NewMessageRepository(db)
		repos.Lead = sqlite.NewLeadRepository(db)
		repos.WebhookLog = sqlite.NewWebhookLogRepository(db)
		repos.DeadLetter = sqlite.NewDeadLetterRepository(db)
		repos.closers = append(repos.closers, func() { _ = db.Close() })
		repos.Checks["sqlite"] = db.Conn.PingContext
		log.Info("repositórios SQLite criados com sucesso", zap.String("data_dir", cfg.Storage.DataDir))

	case "postgres":
		db, err := postgres.New(cfg.DB, log)
		if err != nil {
			log.Error("erro ao conectar com PostgreSQL", zap.Error(err))
			repos.Close()
			return nil, err
		}

		repos.Integration = postgres.NewIntegrationRepository(db, cfg.Crypto.CredentialsKey)
		repos.Conversation = postgres.NewConversationRepository(db)
		repos.Message = postgres.NewMessageRepository(db)
		repos.Lead = postgres.NewLeadRepository(db)
		repos.WebhookLog = postgres.NewWebhookLogRepository(db)
		repos.DeadLetter = postgres.NewDeadLetterRepository(db)
		repos.closers = append(repos.closers, db.Close)
		repos.Checks["postgres"] = db.Pool.Ping
		log.Info("repositórios PostgreSQL criados com sucesso")

	case "memory":
		repos.useMemory(memory.NewStore())
		log.Warn("repositórios em memória: dados serão perdidos ao reiniciar")

	default:
		log.Error("driver de storage desconhecido",
			zap.String("driver", cfg.Storage.Driver),
		)
		repos.Close()
		return nil, &ErrUnknownDriver{Driver: cfg.Storage.Driver}
	}

	return repos, nil
}

// NewMemoryRepositories monta um conjunto completo em memória, sem Redis.
func NewMemoryRepositories() *Repositories {
	repos := &Repositories{
		JobQueue:    queue_memory.NewQueue(1000),
		RateLimiter: limiter_memory.NewLimiter(),
		Locker:      lock.NewMemoryLocker(),
	}
	repos.useMemory(memory.NewStore())
	return repos
}

func (r *Repositories) useMemory(store *memory.Store) {
	r.Integration = memory.NewIntegrationRepository(store)
	r.Conversation = memory.NewConversationRepository(store)
	r.Message = memory.NewMessageRepository(store)
	r.Lead = memory.NewLeadRepository(store)
	r.WebhookLog = memory.NewWebhookLogRepository(store)
	r.DeadLetter = memory.NewDeadLetterRepository(store)
}

type ErrUnknownDriver struct {
	Driver string
}

func (e *ErrUnknownDriver) Error() string {
	return "storage: driver desconhecido: " + e.Driver
}
