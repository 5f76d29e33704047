package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Драйверы хранилища
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		RequestTimeout  time.Duration
		BodyLimit       int // максимальный размер запроса в МБ
		RateLimit       int // запросов в минуту на клиента
	}

	Storage struct {
		Driver string
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
		Migrate  bool
	}

	Redis struct {
		Enabled      bool
		Host         string
		Port         int
		Password     string
		DB           int
		PoolSize     int           // размер пула соединений
		MinIdleConns int           // минимальное количество неактивных соединений
		DialTimeout  time.Duration // таймаут соединения
		ReadTimeout  time.Duration // таймаут чтения
		WriteTimeout time.Duration // таймаут записи
		MaxRetries   int           // максимальное количество повторных попыток
	}

	Kafka struct {
		Enabled         bool          `mapstructure:"enabled"`
		Brokers         []string      `mapstructure:"brokers"`
		GroupID         string        `mapstructure:"group_id"`
		EventsTopic     string        `mapstructure:"events_topic"`
		CommandsTopic   string        `mapstructure:"commands_topic"`
		DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
		AutoOffsetReset string        `mapstructure:"auto_offset_reset"`
		SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	}

	Metrics struct {
		Enabled     bool
		ServiceName string
		Endpoint    string
		Port        int `mapstructure:"port"`
	}

	Security struct {
		AuthEnabled      bool
		JWTSecret        string
		JWTIssuer        string
		JWTExpirationMin time.Duration
		CORSAllowOrigins []string
	}

	Import struct {
		BatchSize          int
		BatchInterval      time.Duration // пауза между пачками товаров
		BatchTimeout       time.Duration // лимит на запись одной пачки
		DefaultCurrency    string
		LockTTL            time.Duration // время жизни блокировки поставщика
		CancelPollInterval time.Duration
		ProgressTTL        time.Duration
		MaxFeedSize        int64 // байт
		Workers            int   // параллельных команд в воркере
	}

	Matching struct {
		Threshold    int
		PoolCacheTTL time.Duration
		Alternatives int
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	v := viper.New()
	v.SetConfigName(configFile)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("../../config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// без файла работаем на значениях по умолчанию и окружении
	}

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	cfg.ENV = v.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых сервис не запустится
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("неизвестный драйвер хранилища %q", c.Storage.Driver)
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batchSize должен быть положительным, получено %d", c.Import.BatchSize)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 100 {
		return fmt.Errorf("matching.threshold вне диапазона 0..100: %d", c.Matching.Threshold)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka включена, но брокеры не заданы")
	}
	return nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Основные настройки
	v.SetDefault("appName", "catalog-service")
	v.SetDefault("version", "1.0.0")
	v.SetDefault("logLevel", "info")
	v.SetDefault("env", "development")

	// Настройки сервера
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.requestTimeout", "60s")
	v.SetDefault("server.bodyLimit", 100) // фиды бывают большими
	v.SetDefault("server.rateLimit", 600)

	v.SetDefault("storage.driver", StorageDriverPostgres)

	// Настройки Postgres
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "catalog")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timeout", "5s")
	v.SetDefault("postgres.poolSize", 10)
	v.SetDefault("postgres.migrate", true)

	// Настройки Redis
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "1s")
	v.SetDefault("redis.readTimeout", "1s")
	v.SetDefault("redis.writeTimeout", "1s")
	v.SetDefault("redis.maxRetries", 3)

	// Настройки Kafka
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "catalog-service")
	v.SetDefault("kafka.events_topic", "catalog-events")
	v.SetDefault("kafka.commands_topic", "catalog-import-commands")
	v.SetDefault("kafka.dead_letter_topic", "catalog-dlq")
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.session_timeout", "10s")

	// Настройки метрик
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.serviceName", "catalog-service")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Настройки безопасности
	v.SetDefault("security.authEnabled", false)
	v.SetDefault("security.jwtSecret", "your-secret-key")
	v.SetDefault("security.jwtIssuer", "gomarket")
	v.SetDefault("security.jwtExpirationMin", "60m")
	v.SetDefault("security.corsAllowOrigins", []string{"*"})

	// Настройки импорта
	v.SetDefault("import.batchSize", 100)
	v.SetDefault("import.batchInterval", "100ms")
	v.SetDefault("import.batchTimeout", "30s")
	v.SetDefault("import.defaultCurrency", "UAH")
	v.SetDefault("import.lockTTL", "2h")
	v.SetDefault("import.cancelPollInterval", "2s")
	v.SetDefault("import.progressTTL", "24h")
	v.SetDefault("import.maxFeedSize", 100<<20)
	v.SetDefault("import.workers", 2)

	// Настройки сопоставления категорий
	v.SetDefault("matching.threshold", 60)
	v.SetDefault("matching.poolCacheTTL", "5m")
	v.SetDefault("matching.alternatives", 3)
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables(v *viper.Viper) {
	// Основные настройки
	_ = v.BindEnv("appName", "APP_NAME")
	_ = v.BindEnv("version", "APP_VERSION")
	_ = v.BindEnv("logLevel", "LOG_LEVEL")
	_ = v.BindEnv("env", "APP_ENV")

	// Настройки сервера
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	_ = v.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	_ = v.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("server.requestTimeout", "SERVER_REQUEST_TIMEOUT")
	_ = v.BindEnv("server.bodyLimit", "SERVER_BODY_LIMIT")
	_ = v.BindEnv("server.rateLimit", "SERVER_RATE_LIMIT")

	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")

	// Настройки Postgres
	_ = v.BindEnv("postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	_ = v.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	_ = v.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	_ = v.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")
	_ = v.BindEnv("postgres.migrate", "POSTGRES_MIGRATE")

	// Настройки Redis
	_ = v.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.poolSize", "REDIS_POOL_SIZE")
	_ = v.BindEnv("redis.minIdleConns", "REDIS_MIN_IDLE_CONNS")
	_ = v.BindEnv("redis.dialTimeout", "REDIS_DIAL_TIMEOUT")
	_ = v.BindEnv("redis.readTimeout", "REDIS_READ_TIMEOUT")
	_ = v.BindEnv("redis.writeTimeout", "REDIS_WRITE_TIMEOUT")
	_ = v.BindEnv("redis.maxRetries", "REDIS_MAX_RETRIES")

	// Настройки Kafka
	_ = v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	_ = v.BindEnv("kafka.events_topic", "KAFKA_EVENTS_TOPIC")
	_ = v.BindEnv("kafka.commands_topic", "KAFKA_COMMANDS_TOPIC")
	_ = v.BindEnv("kafka.dead_letter_topic", "KAFKA_DEAD_LETTER_TOPIC")
	_ = v.BindEnv("kafka.auto_offset_reset", "KAFKA_AUTO_OFFSET_RESET")
	_ = v.BindEnv("kafka.session_timeout", "KAFKA_SESSION_TIMEOUT")

	// Настройки метрик
	_ = v.BindEnv("metrics.enabled", "METRICS_ENABLED")
	_ = v.BindEnv("metrics.serviceName", "METRICS_SERVICE_NAME")
	_ = v.BindEnv("metrics.endpoint", "METRICS_ENDPOINT")
	_ = v.BindEnv("metrics.port", "METRICS_PORT")

	// Настройки безопасности
	_ = v.BindEnv("security.authEnabled", "AUTH_ENABLED")
	_ = v.BindEnv("security.jwtSecret", "JWT_SECRET")
	_ = v.BindEnv("security.jwtIssuer", "JWT_ISSUER")
	_ = v.BindEnv("security.jwtExpirationMin", "JWT_EXPIRATION_MIN")
	_ = v.BindEnv("security.corsAllowOrigins", "CORS_ALLOW_ORIGINS")

	// Настройки импорта
	_ = v.BindEnv("import.batchSize", "IMPORT_BATCH_SIZE")
	_ = v.BindEnv("import.batchInterval", "IMPORT_BATCH_INTERVAL")
	_ = v.BindEnv("import.batchTimeout", "IMPORT_BATCH_TIMEOUT")
	_ = v.BindEnv("import.defaultCurrency", "IMPORT_DEFAULT_CURRENCY")
	_ = v.BindEnv("import.lockTTL", "IMPORT_LOCK_TTL")
	_ = v.BindEnv("import.cancelPollInterval", "IMPORT_CANCEL_POLL_INTERVAL")
	_ = v.BindEnv("import.progressTTL", "IMPORT_PROGRESS_TTL")
	_ = v.BindEnv("import.maxFeedSize", "IMPORT_MAX_FEED_SIZE")
	_ = v.BindEnv("import.workers", "IMPORT_WORKERS")

	// Настройки сопоставления
	_ = v.BindEnv("matching.threshold", "MATCHING_THRESHOLD")
	_ = v.BindEnv("matching.poolCacheTTL", "MATCHING_POOL_CACHE_TTL")
	_ = v.BindEnv("matching.alternatives", "MATCHING_ALTERNATIVES")
}
