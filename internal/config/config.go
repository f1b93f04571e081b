package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const Version = "0.4.0"

type Config struct {
	App           AppConfig
	DB            DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Log           LogConfig
	Storage       StorageConfig
	ObjectStorage ObjectStorageConfig
	IPRateLimit   IPRateLimitConfig
	RateLimit     RateLimitConfig
	Webhook       WebhookConfig
	Provider      ProviderConfig
	Meta          MetaConfig
	Scheduling    SchedulingConfig
	RabbitMQ      RabbitMQConfig
	Crypto        CryptoConfig
}

type StorageConfig struct {
	Driver  string `env:"DB_DRIVER" envDefault:"sqlite"`
	DataDir string `env:"DATA_DIR" envDefault:"/app/data"`
}

type AppConfig struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
}

type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"crmhub"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN retorna a string de conexão em formato aceito pelo pgxpool.
func (cfg DatabaseConfig) DSN() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
}

type IPRateLimitConfig struct {
	Enabled        bool `env:"IP_RATE_LIMIT_ENABLED" envDefault:"true"`
	Requests       int  `env:"IP_RATE_LIMIT_REQUESTS" envDefault:"600"`
	WindowSeconds  int  `env:"IP_RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	SkipPrivateIPs bool `env:"IP_RATE_LIMIT_SKIP_PRIVATE_IPS" envDefault:"true"`
}

// RateLimitConfig limita as chamadas à API por bearer token.
type RateLimitConfig struct {
	Enabled       bool   `env:"RATE_LIMIT_ENABLED" envDefault:"false"`
	Requests      int    `env:"RATE_LIMIT_REQUESTS" envDefault:"120"`
	WindowSeconds int    `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	Prefix        string `env:"RATE_LIMIT_PREFIX" envDefault:"ratelimit:api"`
}

type JWTConfig struct {
	Secret string `env:"JWT_SECRET,required,notEmpty"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"debug"`
}

// ObjectStorageConfig define onde as mídias recebidas são persistidas.
// Driver "local" grava em DATA_DIR/media; "s3" usa qualquer endpoint compatível.
type ObjectStorageConfig struct {
	Driver    string `env:"MEDIA_STORAGE_DRIVER" envDefault:"local"`
	Bucket    string `env:"S3_BUCKET"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	PathStyle bool   `env:"S3_PATH_STYLE" envDefault:"false"`
	PublicURL string `env:"S3_PUBLIC_URL"`
	MaxBytes  int64  `env:"MEDIA_MAX_BYTES" envDefault:"67108864"`
}

type WebhookConfig struct {
	Workers             int           `env:"WEBHOOK_WORKERS" envDefault:"4"`
	VerifyToken         string        `env:"WEBHOOK_VERIFY_TOKEN"`
	TokenSecret         string        `env:"WEBHOOK_TOKEN_SECRET"`
	AllowSingleFallback bool          `env:"WEBHOOK_ALLOW_SINGLE_FALLBACK" envDefault:"true"`
	MaxBodyBytes        int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"5242880"`
	ForwardRetries      int           `env:"WEBHOOK_FORWARD_RETRIES" envDefault:"3"`
	LockWait            time.Duration `env:"LOCK_WAIT" envDefault:"5s"`
	LockTTL             time.Duration `env:"LOCK_TTL" envDefault:"30s"`
}

type ProviderConfig struct {
	HTTPTimeout          time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"15s"`
	MediaDownloadTimeout time.Duration `env:"MEDIA_DOWNLOAD_TIMEOUT" envDefault:"30s"`
	ZAPIBaseURL          string        `env:"ZAPI_BASE_URL" envDefault:"https://api.z-api.io"`
	DefaultCountry       string        `env:"PHONE_DEFAULT_COUNTRY" envDefault:"BR"`
	HealthInterval       time.Duration `env:"PROVIDER_HEALTH_INTERVAL" envDefault:"5m"`
	AllowPrivateMedia    bool          `env:"MEDIA_ALLOW_PRIVATE_NETWORKS" envDefault:"false"`
}

type MetaConfig struct {
	GraphBaseURL string `env:"META_GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`
	GraphVersion string `env:"META_GRAPH_VERSION" envDefault:"v21.0"`
}

type SchedulingConfig struct {
	OpenAIKey   string        `env:"OPENAI_API_KEY"`
	OpenAIModel string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIURL   string        `env:"OPENAI_BASE_URL"`
	CalendarURL string        `env:"CALENDAR_API_URL"`
	CalendarKey string        `env:"CALENDAR_API_KEY"`
	Timeout     time.Duration `env:"SCHEDULING_TIMEOUT" envDefault:"20s"`
}

type RabbitMQConfig struct {
	URL   string `env:"RABBITMQ_URL"`
	Queue string `env:"RABBITMQ_QUEUE" envDefault:"crmhub_events"`
}

type CryptoConfig struct {
	CredentialsKey string `env:"CREDENTIALS_ENCRYPTION_KEY"`
}

// Load carrega as configurações da aplicação. Um arquivo .env, se existir,
// é lido antes das variáveis de ambiente do processo.
func Load() Config {
	_ = godotenv.Load()

	cfg, err := Parse()
	if err != nil {
		log.Fatalf("config: não foi possível carregar variáveis: %v", err)
	}
	return cfg
}

// Parse lê apenas o ambiente do processo, sem .env.
func Parse() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
