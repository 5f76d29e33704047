package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/config"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/app"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info("Запуск HTTP сервера для метрик", interfaces.LogField{Key: "addr", Value: metricsServer.Addr})
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Ошибка запуска HTTP сервера для метрик", interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	a, err := app.New(ctx, cfg, log, cfg.AppName+"-worker")
	if err != nil {
		log.Fatal("Ошибка инициализации зависимостей", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	// шина в памяти раздает сообщение каждому подписчику, поэтому без Kafka он один
	consumers := 1
	if cfg.Kafka.Enabled {
		consumers = cfg.Import.Workers
	}

	handler := worker.NewCommandHandler(a.Imports, a.Quality, log, cfg.Import.MaxFeedSize)
	unsubscribe, err := worker.Subscribe(ctx, a.Bus, cfg.Kafka.CommandsTopic, handler.Handle, consumers)
	if err != nil {
		_ = a.Close()
		log.Fatal("Ошибка подписки на команды", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Подписка на команды установлена",
		interfaces.LogField{Key: "topic", Value: cfg.Kafka.CommandsTopic},
		interfaces.LogField{Key: "consumers", Value: consumers},
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Воркер запущен и готов к обработке сообщений")
	<-quit
	log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

	// текущие импорты завершаются со статусом cancelled
	a.Imports.CancelAll()
	cancel()

	if err := unsubscribe(); err != nil {
		log.Error("Ошибка отмены подписки", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	if err := a.Close(); err != nil {
		log.Error("Ошибка при закрытии зависимостей", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка остановки сервера метрик", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		shutdownCancel()
	}

	log.Info("Воркер корректно завершил работу")
}
