package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/categories"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrInvalidRequest  = errors.New("invalid import request")
	ErrImportRunCreate = errors.New("failed to create import run")
	ErrImportRunUpdate = errors.New("failed to update import run")
)

// Стадии импорта
const (
	StageParsing    = "parsing"
	StageCategories = "categories"
	StageBrands     = "brands"
	StageProducts   = "products"
	StageQuality    = "quality"
	StageCompleted  = "completed"
	StageCancelled  = "cancelled"
	StageFailed     = "failed"
)

// PipelineConfig настройки пакетной обработки товаров
type PipelineConfig struct {
	// BatchSize размер пачки товаров
	BatchSize int
	// BatchInterval минимальный интервал между пачками, 0 отключает паузу
	BatchInterval time.Duration
	// BatchTimeout предельное время записи одной пачки, 0 без ограничения
	BatchTimeout time.Duration
	// DefaultCurrency валюта цен, если в фиде не указана
	DefaultCurrency string
}

// DefaultPipelineConfig настройки по умолчанию
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:       100,
		BatchInterval:   100 * time.Millisecond,
		BatchTimeout:    30 * time.Second,
		DefaultCurrency: "UAH",
	}
}

// ProgressEvent событие прогресса импорта
type ProgressEvent struct {
	ImportID  string             `json:"import_id"`
	Stage     string             `json:"stage"`
	Processed int                `json:"processed"`
	Total     int                `json:"total"`
	Message   string             `json:"message,omitempty"`
	Stats     models.ImportStats `json:"stats"`
}

// RunRequest параметры запуска импорта
type RunRequest struct {
	ImportID           string
	SupplierID         string
	UserID             string
	Feed               *feed.RawFeed
	SelectedCategories []string
	Mode               models.ImportMode
	// Progress необязательный канал прогресса. Отправка блокируется до чтения или отмены ctx.
	Progress chan<- ProgressEvent
	Cancel   models.CancelToken
}

// ImportResult итог импорта
type ImportResult struct {
	ImportID string              `json:"import_id,omitempty"`
	Status   models.ImportStatus `json:"status"`
	Stats    models.ImportStats  `json:"stats"`
	Error    string              `json:"error,omitempty"`
}

// ImportStartedPayload содержимое события import_started
type ImportStartedPayload struct {
	ImportID   string            `json:"import_id"`
	SupplierID string            `json:"supplier_id"`
	Mode       models.ImportMode `json:"mode"`
	Filename   string            `json:"filename"`
}

// ImportFinishedPayload содержимое события import_finished
type ImportFinishedPayload struct {
	ImportID   string              `json:"import_id"`
	SupplierID string              `json:"supplier_id"`
	Status     models.ImportStatus `json:"status"`
	Stats      models.ImportStats  `json:"stats"`
	Error      string              `json:"error,omitempty"`
}

// ImportPipeline конвейер импорта фида поставщика.
// Один запуск обрабатывает пачки строго последовательно.
type ImportPipeline struct {
	store   ports.CatalogStore
	quality *quality.Engine
	events  ports.EventPublisher
	logger  interfaces.LoggerPort
	cfg     PipelineConfig
}

func NewImportPipeline(store ports.CatalogStore, engine *quality.Engine, events ports.EventPublisher, logger interfaces.LoggerPort, cfg PipelineConfig) *ImportPipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPipelineConfig().BatchSize
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = DefaultPipelineConfig().DefaultCurrency
	}
	return &ImportPipeline{store: store, quality: engine, events: events, logger: logger, cfg: cfg}
}

// importRun состояние одного запуска
type importRun struct {
	req      RunRequest
	run      *models.ImportRun
	doc      *feed.Document
	stats    models.ImportStats
	touched  []string
	cancel   models.CancelToken
	idMap    map[string]string
	resolved map[string]string
}

func (r *importRun) cancelled(ctx context.Context) bool {
	return models.IsCancelled(r.cancel) || ctx.Err() != nil
}

// Run выполняет импорт. Ошибка возвращается только для фатальных случаев:
// неразборчивый фид, невозможность создать или обновить запись импорта.
// Ошибки отдельных записей считаются в Stats.Errors.
func (p *ImportPipeline) Run(ctx context.Context, req RunRequest) (*ImportResult, error) {
	if req.Mode == "" {
		req.Mode = models.ImportModeFull
	}
	if err := validateRequest(req); err != nil {
		return &ImportResult{ImportID: req.ImportID, Status: models.ImportStatusFailed, Error: err.Error()}, err
	}
	if req.ImportID == "" {
		req.ImportID = uuid.New().String()
	}

	ctx = context.WithValue(ctx, interfaces.ImportIDKey, req.ImportID)
	ctx = context.WithValue(ctx, interfaces.SupplierIDKey, req.SupplierID)

	metrics.ActiveImports.Inc()
	defer metrics.ActiveImports.Dec()

	state := &importRun{req: req, cancel: req.Cancel, resolved: make(map[string]string)}
	p.progress(ctx, state, StageParsing, 0, 0, "разбор фида")

	// Разбираем фид до любых записей в хранилище
	timer := prometheus.NewTimer(metrics.ImportStageDuration.WithLabelValues(StageParsing))
	doc, err := feed.Parse(req.Feed)
	timer.ObserveDuration()
	if err != nil {
		p.logger.ErrorWithContext(ctx, "Ошибка разбора фида", interfaces.LogField{Key: "error", Value: err.Error()})
		metrics.ImportsTotal.WithLabelValues(string(models.ImportStatusFailed), string(req.Mode)).Inc()
		p.progress(ctx, state, StageFailed, 0, 0, err.Error())
		return &ImportResult{ImportID: req.ImportID, Status: models.ImportStatusFailed, Error: err.Error()}, err
	}
	state.doc = doc

	// Запись импорта создается до изменения данных
	state.run = &models.ImportRun{
		ID:                 req.ImportID,
		SupplierID:         req.SupplierID,
		UserID:             req.UserID,
		Filename:           req.Feed.Filename,
		Status:             models.ImportStatusProcessing,
		Mode:               req.Mode,
		SelectedCategories: req.SelectedCategories,
		CreatedAt:          time.Now().UTC(),
	}
	if err := p.store.CreateImportRun(ctx, state.run); err != nil {
		err = fmt.Errorf("%w: %w", ErrImportRunCreate, err)
		p.logger.ErrorWithContext(ctx, "Не удалось создать запись импорта", interfaces.LogField{Key: "error", Value: err.Error()})
		metrics.ImportsTotal.WithLabelValues(string(models.ImportStatusFailed), string(req.Mode)).Inc()
		return &ImportResult{ImportID: req.ImportID, Status: models.ImportStatusFailed, Error: err.Error()}, err
	}

	p.logger.InfoWithContext(ctx, "Импорт начат",
		interfaces.LogField{Key: "mode", Value: string(req.Mode)},
		interfaces.LogField{Key: "filename", Value: state.run.Filename},
		interfaces.LogField{Key: "products", Value: len(doc.Products)},
		interfaces.LogField{Key: "categories", Value: len(doc.Categories)},
	)
	p.publish(ctx, ports.EventImportStarted, req.SupplierID, ImportStartedPayload{
		ImportID:   req.ImportID,
		SupplierID: req.SupplierID,
		Mode:       req.Mode,
		Filename:   state.run.Filename,
	})

	for _, invalid := range doc.Invalid {
		p.recordError(ctx, state, invalid.Entity, invalid.Key, invalid.Err)
	}

	status, runErr := p.runStages(ctx, state)
	return p.finalize(ctx, state, status, runErr)
}

func validateRequest(req RunRequest) error {
	if req.SupplierID == "" {
		return fmt.Errorf("%w: не указан поставщик", ErrInvalidRequest)
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: неизвестный режим %q", ErrInvalidRequest, req.Mode)
	}
	if req.Feed == nil {
		return fmt.Errorf("%w: нет фида", ErrInvalidRequest)
	}
	return nil
}

// runStages выполняет стадии по порядку. Возвращает итоговый статус и фатальную ошибку.
func (p *ImportPipeline) runStages(ctx context.Context, state *importRun) (models.ImportStatus, error) {
	type stage struct {
		name    string
		enabled bool
		run     func(context.Context, *importRun) (bool, error)
	}
	mode := state.req.Mode
	stages := []stage{
		{StageCategories, mode.IncludesCategories(), p.categoryStage},
		{StageBrands, mode.IncludesCategories(), p.brandStage},
		{StageProducts, mode.IncludesProducts(), p.productStage},
		{StageQuality, mode.IncludesProducts(), p.qualityStage},
	}

	for _, s := range stages {
		if !s.enabled {
			continue
		}
		if state.cancelled(ctx) {
			return models.ImportStatusCancelled, nil
		}

		timer := prometheus.NewTimer(metrics.ImportStageDuration.WithLabelValues(s.name))
		cancelled, err := s.run(ctx, state)
		timer.ObserveDuration()

		if err != nil {
			return models.ImportStatusFailed, fmt.Errorf("стадия %s: %w", s.name, err)
		}
		if cancelled {
			return models.ImportStatusCancelled, nil
		}
	}
	return models.ImportStatusCompleted, nil
}

func (p *ImportPipeline) categoryStage(ctx context.Context, state *importRun) (bool, error) {
	total := len(state.doc.Categories)
	p.progress(ctx, state, StageCategories, 0, total, "")

	reconciler := categories.NewReconciler(p.store, p.logger).WithProgress(func(done, total int) {
		p.progress(ctx, state, StageCategories, done, total, "")
	})
	result, err := reconciler.Reconcile(ctx, state.req.SupplierID, state.doc.Categories, state.cancel)
	if err != nil {
		return false, err
	}

	state.idMap = result.IDMap
	state.stats.CategoriesCreated += result.Created
	state.stats.CategoriesUpdated += result.Updated
	state.stats.CategoriesSkipped += result.Skipped
	state.stats.Errors += result.Errors
	if result.Errors > 0 {
		metrics.RecordErrors.WithLabelValues(feed.EntityCategory).Add(float64(result.Errors))
	}
	return result.Cancelled, nil
}

func (p *ImportPipeline) brandStage(ctx context.Context, state *importRun) (bool, error) {
	total := len(state.doc.Brands)
	for i, in := range state.doc.Brands {
		if state.cancelled(ctx) {
			return true, nil
		}

		brand := &models.Brand{
			SupplierID:  state.req.SupplierID,
			ExternalRef: in.ExternalRef,
			Name:        in.Name,
			LogoURL:     in.LogoURL,
		}
		created, err := p.store.UpsertBrand(ctx, brand)
		switch {
		case err != nil:
			p.recordError(ctx, state, feed.EntityBrand, in.ExternalRef, err)
		case created:
			state.stats.BrandsCreated++
		default:
			state.stats.BrandsUpdated++
		}
		p.progress(ctx, state, StageBrands, i+1, total, "")
	}
	return false, nil
}

func (p *ImportPipeline) qualityStage(ctx context.Context, state *importRun) (bool, error) {
	if p.quality == nil || len(state.touched) == 0 {
		return false, nil
	}
	p.progress(ctx, state, StageQuality, 0, len(state.touched), "")

	summary := p.quality.RecomputeProducts(ctx, state.touched, models.TriggeredByImport, state.cancel)
	state.stats.ReadinessChanged += summary.Changed
	state.stats.Errors += summary.Errors
	if summary.Errors > 0 {
		metrics.RecordErrors.WithLabelValues("quality").Add(float64(summary.Errors))
	}

	p.progress(ctx, state, StageQuality, summary.Processed, len(state.touched), "")
	return summary.Cancelled, nil
}

// finalize всегда сохраняет статус и счетчики, в том числе после отмены или ошибки
func (p *ImportPipeline) finalize(ctx context.Context, state *importRun, status models.ImportStatus, runErr error) (*ImportResult, error) {
	// Запись итогов не должна зависеть от отмены контекста запуска
	finalCtx := context.WithoutCancel(ctx)

	now := time.Now().UTC()
	state.run.Status = status
	state.run.Stats = state.stats
	state.run.CompletedAt = &now
	if runErr != nil {
		state.run.ErrorMessage = runErr.Error()
	}

	result := &ImportResult{ImportID: state.run.ID, Status: status, Stats: state.stats, Error: state.run.ErrorMessage}

	if err := p.store.UpdateImportRun(finalCtx, state.run); err != nil {
		p.logger.ErrorWithContext(finalCtx, "Не удалось сохранить итоги импорта", interfaces.LogField{Key: "error", Value: err.Error()})
		if runErr == nil {
			runErr = fmt.Errorf("%w: %w", ErrImportRunUpdate, err)
		} else {
			runErr = errors.Join(runErr, fmt.Errorf("%w: %w", ErrImportRunUpdate, err))
		}
		result.Status = models.ImportStatusFailed
		result.Error = runErr.Error()
	}

	metrics.ImportsTotal.WithLabelValues(string(result.Status), string(state.req.Mode)).Inc()

	stage := StageCompleted
	switch result.Status {
	case models.ImportStatusCancelled:
		stage = StageCancelled
	case models.ImportStatusFailed:
		stage = StageFailed
	}
	p.progress(finalCtx, state, stage, 0, 0, result.Error)

	p.publish(finalCtx, ports.EventImportFinished, state.req.SupplierID, ImportFinishedPayload{
		ImportID:   state.run.ID,
		SupplierID: state.req.SupplierID,
		Status:     result.Status,
		Stats:      state.stats,
		Error:      result.Error,
	})

	fields := []interface{}{
		interfaces.LogField{Key: "status", Value: string(result.Status)},
		interfaces.LogField{Key: "products_created", Value: state.stats.ProductsCreated},
		interfaces.LogField{Key: "products_updated", Value: state.stats.ProductsUpdated},
		interfaces.LogField{Key: "errors", Value: state.stats.Errors},
	}
	if result.Status == models.ImportStatusFailed {
		p.logger.ErrorWithContext(finalCtx, "Импорт завершился с ошибкой", append(fields, interfaces.LogField{Key: "error", Value: result.Error})...)
	} else {
		p.logger.InfoWithContext(finalCtx, "Импорт завершен", fields...)
	}

	return result, runErr
}

// recordError ошибка отдельной записи: считается и логируется, импорт продолжается
func (p *ImportPipeline) recordError(ctx context.Context, state *importRun, entity, key string, err error) {
	state.stats.Errors++
	metrics.RecordErrors.WithLabelValues(entity).Inc()
	p.logger.WarnWithContext(ctx, "Ошибка обработки записи фида",
		interfaces.LogField{Key: "entity", Value: entity},
		interfaces.LogField{Key: "external_id", Value: key},
		interfaces.LogField{Key: "error", Value: err.Error()},
	)
}

func (p *ImportPipeline) progress(ctx context.Context, state *importRun, stage string, processed, total int, message string) {
	if state.req.Progress == nil {
		return
	}
	event := ProgressEvent{
		ImportID:  state.req.ImportID,
		Stage:     stage,
		Processed: processed,
		Total:     total,
		Message:   message,
		Stats:     state.stats,
	}
	select {
	case state.req.Progress <- event:
	case <-ctx.Done():
	}
}

func (p *ImportPipeline) publish(ctx context.Context, eventType, key string, payload interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishEvent(ctx, eventType, key, payload); err != nil {
		p.logger.WarnWithContext(ctx, "Не удалось опубликовать событие",
			interfaces.LogField{Key: "event", Value: eventType},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}
