// Package app собирает зависимости сервиса каталога по конфигурации. Общий для API и воркера.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/config"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/storage/postgres"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/matching"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/services"
)

// App готовые к работе сервисы и адаптеры
type App struct {
	Store      ports.CatalogStore
	Cache      interfaces.CachePort
	Bus        interfaces.MessagingPort
	Events     *messaging.EventPublisher
	Quality    *quality.Engine
	Pipeline   *services.ImportPipeline
	Imports    *services.ImportService
	Categories *services.CategoryService

	closers []func() error
}

// New подключает хранилище, кэш и брокер и собирает доменные сервисы.
// clientID отличает продюсеров API и воркера в Kafka.
func New(ctx context.Context, cfg *config.Config, log interfaces.LoggerPort, clientID string) (*App, error) {
	a := &App{}

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	log.Info("Хранилище инициализировано", interfaces.LogField{Key: "driver", Value: cfg.Storage.Driver})

	if cfg.Redis.Enabled {
		a.Cache, err = cache.NewRedisCache(ctx, cache.RedisOptions{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			Prefix:       cfg.AppName,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("ошибка инициализации кэша: %w", err)
		}
		log.Info("Кэш Redis инициализирован")
	} else {
		// блокировки поставщиков действуют только внутри процесса
		a.Cache = cache.NewMemoryCache(time.Minute)
		log.Warn("Redis отключен, используется кэш в памяти")
	}
	a.closers = append(a.closers, a.Cache.Close)

	if cfg.Kafka.Enabled {
		a.Bus, err = messaging.NewKafkaMessaging(messaging.KafkaOptions{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         cfg.Kafka.GroupID,
			ClientID:        clientID,
			DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
			AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
			SessionTimeout:  cfg.Kafka.SessionTimeout,
		}, log)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("ошибка инициализации системы обмена сообщениями: %w", err)
		}
		log.Info("Kafka инициализирована", interfaces.LogField{Key: "brokers", Value: cfg.Kafka.Brokers})
	} else {
		a.Bus = messaging.NewMemoryBus()
		log.Warn("Kafka отключена, события остаются в памяти процесса")
	}
	a.closers = append(a.closers, a.Bus.Close)

	a.Events = messaging.NewEventPublisher(a.Bus, cfg.Kafka.EventsTopic)
	a.Quality = quality.NewEngine(store, a.Events, log)
	a.Pipeline = services.NewImportPipeline(store, a.Quality, a.Events, log, PipelineConfig(cfg))
	a.Imports = services.NewImportService(a.Pipeline, store, a.Cache, log, services.ImportServiceConfig{
		LockTTL:            cfg.Import.LockTTL,
		CancelPollInterval: cfg.Import.CancelPollInterval,
		ProgressTTL:        cfg.Import.ProgressTTL,
	})
	a.Categories = services.NewCategoryService(store, matching.NewMatcher(cfg.Matching.Threshold), a.Quality, cfg.Matching.PoolCacheTTL, log)

	return a, nil
}

// PipelineConfig настройки конвейера импорта из конфигурации
func PipelineConfig(cfg *config.Config) services.PipelineConfig {
	return services.PipelineConfig{
		BatchSize:       cfg.Import.BatchSize,
		BatchInterval:   cfg.Import.BatchInterval,
		BatchTimeout:    cfg.Import.BatchTimeout,
		DefaultCurrency: cfg.Import.DefaultCurrency,
	}
}

func newStore(ctx context.Context, cfg *config.Config, log interfaces.LoggerPort) (ports.CatalogStore, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		log.Warn("Используется хранилище в памяти, данные не сохраняются между запусками")
		return memory.New(), nil
	}

	dsn, err := postgres.ConnectionString(postgres.ConnOptions{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		DBName:   cfg.Postgres.DBName,
		SSLMode:  cfg.Postgres.SSLMode,
		Timeout:  cfg.Postgres.Timeout,
		PoolSize: cfg.Postgres.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации строки подключения базы: %w", err)
	}

	store, err := postgres.NewPostgresStorage(ctx, dsn, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}
	if cfg.Postgres.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ошибка применения схемы: %w", err)
		}
	}
	return store, nil
}

// Close ждет фоновые импорты и закрывает адаптеры в обратном порядке
func (a *App) Close() error {
	if a.Imports != nil {
		a.Imports.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
