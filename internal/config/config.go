package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration for the payments API service.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
	Service   ServiceConfig
	Payments  PaymentsConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
}

type HTTPConfig struct {
	Port          int
	ShutdownGrace int
}

type DatabaseConfig struct {
	URL            string
	AutoMigrate    bool
	MigrationsPath string
}

type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

type TelemetryConfig struct {
	LogLevel      string
	OTelEndpoint  string
	OTelInsecure  bool
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// PaymentsConfig drives webhook verification, the provider client and reconciliation behaviour.
type PaymentsConfig struct {
	WebhookSecret         string
	WebhookTolerance      time.Duration
	ProviderAPIKey        string
	ProviderBaseURL       string
	ProviderTimeout       time.Duration
	ProviderMaxRetries    uint64
	AutoRefund            bool
	OrderLockStaleAfter   time.Duration
	InvoiceLockStaleAfter time.Duration
	SideEffectWorkers     int
	SideEffectQueue       string
	IdempotencyRetention  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	URL      string
	Prefetch int
}

// Side effect queue backends.
const (
	QueueMemory   = "memory"
	QueueRabbitMQ = "rabbitmq"
)

const (
	defaultHTTPPort       = 8080
	defaultShutdownGrace  = 15
	defaultMigrationsPath = "migrations"
	defaultAutoMigrate    = true
	defaultServiceName    = "payments-api"
	defaultServiceVersion = "0.1.0"
	defaultEnvironment    = "development"
	defaultLogLevel       = "info"
	defaultOTelSampleRate = 1.0

	defaultWebhookTolerance      = 5 * time.Minute
	defaultProviderTimeout       = 10 * time.Second
	defaultProviderMaxRetries    = 3
	defaultOrderLockStaleAfter   = 10 * time.Minute
	defaultInvoiceLockStaleAfter = 2 * time.Minute
	defaultSideEffectWorkers     = 4
	defaultIdempotencyRetention  = 24 * time.Hour
	defaultKafkaClientID         = "payments-api"
	defaultRabbitPrefetch        = 10
)

// Load reads configuration from environment variables, applying defaults when needed.
// When ENV_FILE names a dotenv file it is loaded first; variables already set win.
func Load() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	httpCfg, err := loadHTTPConfig()
	if err != nil {
		return nil, fmt.Errorf("loading HTTP config: %w", err)
	}

	dbCfg := loadDatabaseConfig()
	kafkaCfg := loadKafkaConfig()
	telCfg, err := loadTelemetryConfig()
	if err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}

	serviceCfg := loadServiceConfig()

	paymentsCfg, err := loadPaymentsConfig()
	if err != nil {
		return nil, fmt.Errorf("loading payments config: %w", err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("loading redis config: %w", err)
	}

	rabbitCfg, err := loadRabbitMQConfig(paymentsCfg.SideEffectQueue)
	if err != nil {
		return nil, fmt.Errorf("loading rabbitmq config: %w", err)
	}

	return &Config{
		HTTP:      httpCfg,
		Database:  dbCfg,
		Kafka:     kafkaCfg,
		Telemetry: telCfg,
		Service:   serviceCfg,
		Payments:  paymentsCfg,
		Redis:     redisCfg,
		RabbitMQ:  rabbitCfg,
	}, nil
}

func loadHTTPConfig() (HTTPConfig, error) {
	port := defaultHTTPPort
	if value, ok := os.LookupEnv("API_HTTP_PORT"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return HTTPConfig{}, fmt.Errorf("invalid API_HTTP_PORT: %w", err)
		}
		port = parsed
	}

	shutdownGrace := defaultShutdownGrace
	if value, ok := os.LookupEnv("API_SHUTDOWN_GRACE_SECONDS"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return HTTPConfig{}, fmt.Errorf("invalid API_SHUTDOWN_GRACE_SECONDS: %w", err)
		}
		shutdownGrace = parsed
	}

	return HTTPConfig{
		Port:          port,
		ShutdownGrace: shutdownGrace,
	}, nil
}

func loadDatabaseConfig() DatabaseConfig {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL()
	}

	autoMigrate := defaultAutoMigrate
	if value, ok := os.LookupEnv("AUTO_MIGRATE"); ok {
		autoMigrate = value == "true"
	}

	migrationsPath := getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath)

	return DatabaseConfig{
		URL:            databaseURL,
		AutoMigrate:    autoMigrate,
		MigrationsPath: migrationsPath,
	}
}

func loadKafkaConfig() KafkaConfig {
	var brokers []string
	if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok && value != "" {
		brokers = strings.Split(value, ",")
	}

	return KafkaConfig{
		Brokers:  brokers,
		ClientID: getEnvOrDefault("KAFKA_CLIENT_ID", defaultKafkaClientID),
	}
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	logLevel := getEnvOrDefault("LOG_LEVEL", defaultLogLevel)
	otelEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	otelInsecure := getBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true)

	enableTracing := getBoolEnv("OTEL_ENABLE_TRACING", true)
	enableMetrics := getBoolEnv("OTEL_ENABLE_METRICS", true)

	sampleRate := defaultOTelSampleRate
	if value, ok := os.LookupEnv("OTEL_SAMPLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return TelemetryConfig{}, fmt.Errorf("invalid OTEL_SAMPLE_RATE: %w", err)
		}
		sampleRate = parsed
	}

	return TelemetryConfig{
		LogLevel:      logLevel,
		OTelEndpoint:  otelEndpoint,
		OTelInsecure:  otelInsecure,
		EnableTracing: enableTracing,
		EnableMetrics: enableMetrics,
		SampleRate:    sampleRate,
	}, nil
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "payments")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	maxConns := getEnvOrDefault("DB_MAX_CONNS", "25")
	minConns := getEnvOrDefault("DB_MIN_CONNS", "5")
	maxLifetime := getEnvOrDefault("DB_MAX_CONN_LIFETIME", "5m")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s&pool_min_conns=%s&pool_max_conn_lifetime=%s",
		user, password, host, port, dbName, sslMode, maxConns, minConns, maxLifetime,
	)
}

func loadPaymentsConfig() (PaymentsConfig, error) {
	secret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if secret == "" {
		return PaymentsConfig{}, errors.New("PAYMENT_WEBHOOK_SECRET is required")
	}

	cfg := PaymentsConfig{
		WebhookSecret:   secret,
		ProviderAPIKey:  os.Getenv("PAYMENT_PROVIDER_API_KEY"),
		ProviderBaseURL: os.Getenv("PAYMENT_PROVIDER_BASE_URL"),
		AutoRefund:      getBoolEnv("PAYMENT_AUTO_REFUND", true),
		SideEffectQueue: getEnvOrDefault("SIDE_EFFECT_QUEUE", QueueMemory),
	}

	var err error
	if cfg.WebhookTolerance, err = getDurationEnv("PAYMENT_WEBHOOK_TOLERANCE", defaultWebhookTolerance); err != nil {
		return PaymentsConfig{}, err
	}
	if cfg.ProviderTimeout, err = getDurationEnv("PAYMENT_PROVIDER_TIMEOUT", defaultProviderTimeout); err != nil {
		return PaymentsConfig{}, err
	}
	if cfg.OrderLockStaleAfter, err = getDurationEnv("ORDER_LOCK_STALE_AFTER", defaultOrderLockStaleAfter); err != nil {
		return PaymentsConfig{}, err
	}
	if cfg.InvoiceLockStaleAfter, err = getDurationEnv("INVOICE_LOCK_STALE_AFTER", defaultInvoiceLockStaleAfter); err != nil {
		return PaymentsConfig{}, err
	}
	if cfg.IdempotencyRetention, err = getDurationEnv("IDEMPOTENCY_RETENTION", defaultIdempotencyRetention); err != nil {
		return PaymentsConfig{}, err
	}

	retries, err := getIntEnv("PAYMENT_PROVIDER_MAX_RETRIES", defaultProviderMaxRetries)
	if err != nil {
		return PaymentsConfig{}, err
	}
	if retries < 0 {
		return PaymentsConfig{}, errors.New("PAYMENT_PROVIDER_MAX_RETRIES must not be negative")
	}
	cfg.ProviderMaxRetries = uint64(retries)

	if cfg.SideEffectWorkers, err = getIntEnv("SIDE_EFFECT_WORKERS", defaultSideEffectWorkers); err != nil {
		return PaymentsConfig{}, err
	}

	switch cfg.SideEffectQueue {
	case QueueMemory, QueueRabbitMQ:
	default:
		return PaymentsConfig{}, fmt.Errorf("invalid SIDE_EFFECT_QUEUE %q", cfg.SideEffectQueue)
	}

	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	db, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func loadRabbitMQConfig(queue string) (RabbitMQConfig, error) {
	prefetch, err := getIntEnv("RABBITMQ_PREFETCH", defaultRabbitPrefetch)
	if err != nil {
		return RabbitMQConfig{}, err
	}
	cfg := RabbitMQConfig{URL: os.Getenv("RABBITMQ_URL"), Prefetch: prefetch}
	if queue == QueueRabbitMQ && cfg.URL == "" {
		return RabbitMQConfig{}, errors.New("RABBITMQ_URL is required when SIDE_EFFECT_QUEUE=rabbitmq")
	}
	return cfg, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true"
	}
	return defaultValue
}
