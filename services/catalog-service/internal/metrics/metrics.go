// Package metrics метрики Prometheus конвейера импорта и оценки качества.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_imports_total",
		Help: "Количество завершенных импортов по статусам",
	}, []string{"status", "mode"})

	ImportStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_import_stage_duration_seconds",
		Help:    "Длительность стадий импорта",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
	}, []string{"stage"})

	ProductsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_import_products_total",
		Help: "Обработанные товары по результату",
	}, []string{"outcome"})

	RecordErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_import_record_errors_total",
		Help: "Ошибки отдельных записей фида по типу сущности",
	}, []string{"entity"})

	ActiveImports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_active_imports",
		Help: "Количество импортов в работе",
	})

	ReadinessTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_readiness_transitions_total",
		Help: "Изменения готовности товаров",
	}, []string{"is_ready", "triggered_by"})

	MappingSuggestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_mapping_suggestions_total",
		Help: "Подсказки сопоставления категорий",
	}, []string{"result"})
)

// HTTP метрики API
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "Общее количество HTTP запросов",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_duration_seconds",
		Help:    "Длительность HTTP запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	HTTPActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_http_active_requests",
		Help: "Количество активных HTTP запросов",
	})
)

// Метрики воркера команд
var (
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_worker_commands_total",
		Help: "Обработанные команды воркера",
	}, []string{"type", "status"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_worker_command_duration_seconds",
		Help:    "Длительность обработки команд",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900, 1800},
	}, []string{"type"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_worker_active",
		Help: "Количество команд в обработке",
	})
)
