// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// перед этим подхватывается .env (если он есть).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"stars_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- Application ---
	AppEnv       string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel  string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppLogFormat string `envconfig:"APP_LOG_FORMAT" default:"text"`
	AppTimezone  string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- HTTP / webhooks ---
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	// Публичный адрес, к которому Telegram шлёт webhook'и: <WEBHOOK_BASE_URL>/stars/<token_id>
	WebhookBaseURL string `envconfig:"WEBHOOK_BASE_URL" required:"true"`
	// Значение X-Telegram-Bot-Api-Secret-Token; пустое: проверка отключена
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	// --- Bot runtime ---
	// Таймаут каждого исходящего вызова Bot API
	TelegramTimeout time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"10s"`
	// Сколько апдейтов обрабатываем параллельно
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Через сколько удалять сообщение со ссылкой на оплату
	MessageDeleteDelay time.Duration `envconfig:"MESSAGE_DELETE_DELAY" default:"60s"`

	// --- Admin ---
	// Argon2id-хеш админ-токена (scripts/generate_hash.go)
	AdminTokenHash     string        `envconfig:"ADMIN_TOKEN_HASH" required:"true"`
	AdminMaxAttempts   int           `envconfig:"ADMIN_MAX_ATTEMPTS" default:"5"`
	AdminAttemptWindow time.Duration `envconfig:"ADMIN_ATTEMPT_WINDOW" default:"1h"`

	// --- Payments ---
	PaymentProvider string          `envconfig:"PAYMENT_PROVIDER" default:"stars"`
	StarsCurrency   string          `envconfig:"STARS_CURRENCY" default:"XTR"`
	StarsUSDRateRaw string          `envconfig:"STARS_USD_RATE" default:"0.01"`
	ReferralRateRaw string          `envconfig:"REFERRAL_RATE" default:"0.05"`
	StarsUSDRate    decimal.Decimal `envconfig:"-"` // заполним вручную
	ReferralRate    decimal.Decimal `envconfig:"-"`
	// YAML с якорями цен и пресетами пополнения; пустой: встроенные значения
	PricingFile string `envconfig:"PRICING_FILE"`

	// --- Reconciliation ---
	ReconcileSchedule    string        `envconfig:"RECONCILE_SCHEDULE" default:"*/5 * * * *"`
	ReconcileMinAge      time.Duration `envconfig:"RECONCILE_MIN_AGE" default:"2m"`
	ReconcileMaxAttempts int           `envconfig:"RECONCILE_MAX_ATTEMPTS" default:"5"`
	ReconcileBatch       int           `envconfig:"RECONCILE_BATCH" default:"50"`

	RegistryRefreshSchedule string `envconfig:"REGISTRY_REFRESH_SCHEDULE" default:"*/10 * * * *"`
	AttemptsPurgeSchedule   string `envconfig:"ATTEMPTS_PURGE_SCHEDULE" default:"0 4 * * *"`

	// --- NATS (уведомления во внешнюю систему) ---
	// Пустой URL: уведомления только пишутся в лог
	NatsURL        string `envconfig:"NATS_URL"`
	NatsStream     string `envconfig:"NATS_STREAM" default:"PAYMENTS"`
	NatsSubject    string `envconfig:"NATS_SUBJECT" default:"payments.succeeded"`
	NatsClientName string `envconfig:"NATS_CLIENT_NAME" default:"stars-bot"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"5"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// WebhookURL возвращает адрес webhook'а для конкретного токена.
func (c *Config) WebhookURL(tokenID int64) string {
	return fmt.Sprintf("%s/stars/%d", strings.TrimRight(c.WebhookBaseURL, "/"), tokenID)
}

// IsProduction — включён ли прод-режим.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.TelegramTimeout <= 0 {
		return fmt.Errorf("TELEGRAM_TIMEOUT должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if !strings.HasPrefix(c.WebhookBaseURL, "https://") && c.IsProduction() {
		return fmt.Errorf("WEBHOOK_BASE_URL должен быть https в production")
	}
	if c.PaymentProvider == "" {
		return fmt.Errorf("PAYMENT_PROVIDER не задан")
	}
	if c.StarsUSDRate.IsNegative() {
		return fmt.Errorf("STARS_USD_RATE не может быть отрицательным")
	}
	if c.ReferralRate.IsNegative() || c.ReferralRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("REFERRAL_RATE должен быть в диапазоне [0, 1]")
	}
	if c.AdminMaxAttempts <= 0 {
		return fmt.Errorf("ADMIN_MAX_ATTEMPTS должен быть > 0")
	}
	if c.ReconcileMaxAttempts <= 0 || c.ReconcileBatch <= 0 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS и RECONCILE_BATCH должны быть > 0")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	// .env необязателен: в docker переменные приходят снаружи
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	var err error
	if cfg.StarsUSDRate, err = decimal.NewFromString(cfg.StarsUSDRateRaw); err != nil {
		return nil, fmt.Errorf("STARS_USD_RATE parse: %w", err)
	}
	if cfg.ReferralRate, err = decimal.NewFromString(cfg.ReferralRateRaw); err != nil {
		return nil, fmt.Errorf("REFERRAL_RATE parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
