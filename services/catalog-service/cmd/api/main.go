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
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/api"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/app"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/security"
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
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	a, err := app.New(ctx, cfg, log, cfg.AppName+"-api")
	if err != nil {
		log.Fatal("Ошибка инициализации зависимостей", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.Store.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatal("Хранилище недоступно", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	pingCancel()
	log.Info("Соединение с хранилищем проверено")

	var jwtManager *security.JWTManager
	if cfg.Security.AuthEnabled {
		jwtManager, err = security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpirationMin, cfg.Security.JWTIssuer)
		if err != nil {
			log.Fatal("Ошибка инициализации JWT", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	} else {
		log.Warn("Аутентификация отключена, пользователь берется из заголовка X-User-ID")
	}

	router := api.SetupRouter(api.RouterDeps{
		Imports:            a.Imports,
		Categories:         a.Categories,
		Quality:            a.Quality,
		Storage:            a.Store,
		Logger:             log,
		JWT:                jwtManager,
		CORSAllowedOrigins: cfg.Security.CORSAllowOrigins,
		RequestTimeout:     cfg.Server.RequestTimeout,
		RateLimit:          cfg.Server.RateLimit,
		MaxFeedSize:        cfg.Import.MaxFeedSize,
		Alternatives:       cfg.Matching.Alternatives,
		ServeMetrics:       cfg.Metrics.Enabled,
	})
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		log.Info("HTTP сервер остановлен")

		// незавершенные импорты сохраняют частичный результат со статусом cancelled
		if n := a.Imports.CancelAll(); n > 0 {
			log.Info("Отменены незавершенные импорты", interfaces.LogField{Key: "count", Value: n})
		}
		cancel()
		log.Info("Закрытие соединений с зависимостями...")
		if err := a.Close(); err != nil {
			log.Error("Ошибка при закрытии зависимостей", interfaces.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	<-done
	log.Info("Сервер корректно завершил работу")
}
