package api

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/api/middleware"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/security"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed openapi.json
var openAPIDoc []byte

// Pinger проверка доступности хранилища для /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps зависимости маршрутизатора
type RouterDeps struct {
	Imports    handlers.ImportUseCases
	Categories handlers.CategoryUseCases
	Quality    handlers.QualityUseCases
	Storage    Pinger
	Logger     interfaces.LoggerPort
	// JWT nil отключает проверку токенов, пользователь берется из X-User-ID
	JWT *security.JWTManager

	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
	RateLimit          int // запросов в минуту с одного адреса, 0 отключает ограничение
	MaxFeedSize        int64
	Alternatives       int
	ServeMetrics       bool
}

// SetupRouter настраивает маршрутизатор
func SetupRouter(deps RouterDeps) *chi.Mux {
	logger := deps.Logger
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Timeout(deps.RequestTimeout))
	r.Use(middleware.CORS(deps.CORSAllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RateLimiter(deps.RateLimit, time.Minute))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Storage != nil {
			if err := deps.Storage.Ping(r.Context()); err != nil {
				logger.WarnWithContext(r.Context(), "Хранилище недоступно", interfaces.LogField{Key: "error", Value: err.Error()})
				render.Status(r, http.StatusServiceUnavailable)
				render.PlainText(w, r, "storage unavailable")
				return
			}
		}
		render.PlainText(w, r, "OK")
	})

	if deps.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(openAPIDoc)
	})
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	importHandler := handlers.NewImportHandler(deps.Imports, logger, deps.MaxFeedSize)
	categoryHandler := handlers.NewCategoryHandler(deps.Categories, logger, deps.Alternatives)
	qualityHandler := handlers.NewQualityHandler(deps.Quality, logger)

	catalogManager := middleware.RequireRole(deps.JWT, security.RoleCatalogManager)
	supplierManager := middleware.RequireRole(deps.JWT, security.RoleSupplierManager)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(deps.JWT, logger))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		// Внутренний классификатор общий для всех поставщиков
		r.Route("/internal-categories", func(r chi.Router) {
			r.Get("/", categoryHandler.InternalTree)
			r.With(catalogManager).Post("/", categoryHandler.CreateInternal)

			r.Route("/{id}/quality-template", func(r chi.Router) {
				r.Get("/", qualityHandler.GetTemplate)
				r.With(catalogManager).Put("/", qualityHandler.PutTemplate)
			})
		})

		// Операции в рамках поставщика из X-Supplier-ID
		r.Group(func(r chi.Router) {
			r.Use(middleware.Supplier)

			r.Route("/imports", func(r chi.Router) {
				r.Get("/", importHandler.ListImports)
				r.With(supplierManager).Post("/", importHandler.StartImport)
				r.Post("/prescan", importHandler.Prescan)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", importHandler.GetImport)
					r.Get("/progress", importHandler.Progress)
					r.Get("/diffs", importHandler.Diffs)
					r.With(supplierManager).Post("/cancel", importHandler.CancelImport)
				})
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", categoryHandler.SupplierTree)
				r.Get("/suggestions", categoryHandler.SuggestAll)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/suggestion", categoryHandler.Suggest)
					r.With(catalogManager).Put("/mapping", categoryHandler.SetMapping)
					r.With(catalogManager).Post("/map-subtree", categoryHandler.MapSubtree)
				})
			})

			r.Route("/quality", func(r chi.Router) {
				r.With(catalogManager).Post("/recompute", qualityHandler.RecomputeSupplier)
				r.With(catalogManager).Post("/products/{id}/recompute", qualityHandler.RecomputeProduct)
			})
		})
	})

	return r
}
