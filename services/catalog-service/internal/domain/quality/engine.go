package quality

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/metrics"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrInvalidTemplate  = errors.New("invalid quality template")
	ErrCategoryNotFound = errors.New("internal category not found")
)

// Store часть хранилища, нужная движку оценки
type Store interface {
	ports.ProductStore
	ports.QualityStore
	GetMapping(ctx context.Context, supplierCategoryID string) (*models.CategoryMapping, error)
	GetInternalCategory(ctx context.Context, id string) (*models.InternalCategory, error)
}

// ReadinessChanged содержимое события product_readiness_changed
type ReadinessChanged struct {
	ProductID    string                  `json:"product_id"`
	SupplierID   string                  `json:"supplier_id"`
	SKU          string                  `json:"sku"`
	IsReady      bool                    `json:"is_ready"`
	Completeness int                     `json:"completeness"`
	Reasons      []models.BlockingReason `json:"reasons"`
	TriggeredBy  string                  `json:"triggered_by"`
}

// Outcome результат пересчета одного товара
type Outcome struct {
	Result  models.QualityResult
	Changed bool
}

// Summary итог пересчета набора товаров
type Summary struct {
	Processed int  `json:"processed"`
	Changed   int  `json:"changed"`
	Errors    int  `json:"errors"`
	Cancelled bool `json:"cancelled"`
}

// Engine пересчитывает готовность и пишет журнал при ее изменении
type Engine struct {
	store  Store
	events ports.EventPublisher
	logger interfaces.LoggerPort
}

func NewEngine(store Store, events ports.EventPublisher, logger interfaces.LoggerPort) *Engine {
	return &Engine{store: store, events: events, logger: logger}
}

// lookups кэш сопоставлений и шаблонов в пределах одного пересчета
type lookups struct {
	mappings  map[string]string
	templates map[string]*models.QualityTemplate
}

func newLookups() *lookups {
	return &lookups{
		mappings:  make(map[string]string),
		templates: make(map[string]*models.QualityTemplate),
	}
}

func (e *Engine) internalCategory(ctx context.Context, l *lookups, supplierCategoryID string) (string, error) {
	if supplierCategoryID == "" {
		return "", nil
	}
	if id, ok := l.mappings[supplierCategoryID]; ok {
		return id, nil
	}
	m, err := e.store.GetMapping(ctx, supplierCategoryID)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения сопоставления: %w", err)
	}
	id := ""
	if m != nil {
		id = m.InternalCategoryID
	}
	l.mappings[supplierCategoryID] = id
	return id, nil
}

func (e *Engine) template(ctx context.Context, l *lookups, internalCategoryID string) (*models.QualityTemplate, error) {
	if internalCategoryID == "" {
		return nil, nil
	}
	if t, ok := l.templates[internalCategoryID]; ok {
		return t, nil
	}
	t, err := e.store.GetQualityTemplate(ctx, internalCategoryID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения шаблона качества: %w", err)
	}
	l.templates[internalCategoryID] = t
	return t, nil
}

// Recompute оценивает товар, сохраняет результат и при смене готовности пишет одну запись журнала
func (e *Engine) Recompute(ctx context.Context, product *models.Product, triggeredBy string) (*Outcome, error) {
	return e.recompute(ctx, newLookups(), product, triggeredBy)
}

func (e *Engine) recompute(ctx context.Context, l *lookups, product *models.Product, triggeredBy string) (*Outcome, error) {
	prices, err := e.store.ListPrices(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения цен: %w", err)
	}
	internalID, err := e.internalCategory(ctx, l, product.SupplierCategoryID)
	if err != nil {
		return nil, err
	}
	template, err := e.template(ctx, l, internalID)
	if err != nil {
		return nil, err
	}

	result := Score(FactsFor(product, prices, internalID), template)
	if err := e.store.UpdateProductQuality(ctx, product.ID, result); err != nil {
		return nil, fmt.Errorf("ошибка сохранения оценки: %w", err)
	}

	outcome := &Outcome{Result: result, Changed: result.IsReady != product.IsReady}
	if !outcome.Changed {
		return outcome, nil
	}

	entry := &models.QualityChangeLog{
		ProductID:   product.ID,
		ChangeType:  models.ChangeTypeReadiness,
		OldValue:    strconv.FormatBool(product.IsReady),
		NewValue:    strconv.FormatBool(result.IsReady),
		Reason:      Summarize(result),
		TriggeredBy: triggeredBy,
	}
	if err := e.store.AppendQualityLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("ошибка записи журнала качества: %w", err)
	}

	metrics.ReadinessTransitions.WithLabelValues(strconv.FormatBool(result.IsReady), triggeredBy).Inc()

	if e.events != nil {
		payload := ReadinessChanged{
			ProductID:    product.ID,
			SupplierID:   product.SupplierID,
			SKU:          product.SKU,
			IsReady:      result.IsReady,
			Completeness: result.Completeness,
			Reasons:      result.Reasons,
			TriggeredBy:  triggeredBy,
		}
		if err := e.events.PublishEvent(ctx, ports.EventProductReadinessChanged, product.SupplierID, payload); err != nil {
			e.logger.WarnWithContext(ctx, "Не удалось опубликовать событие готовности",
				interfaces.LogField{Key: "product_id", Value: product.ID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}

	product.IsReady = result.IsReady
	product.CompletenessScore = result.Completeness
	product.QualityReasons = result.Reasons
	return outcome, nil
}

// RecomputeByID пересчитывает один товар по id
func (e *Engine) RecomputeByID(ctx context.Context, productID, triggeredBy string) (*Outcome, error) {
	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товара: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	return e.Recompute(ctx, product, triggeredBy)
}

// RecomputeProducts пересчитывает товары по списку id. Ошибки отдельных товаров
// считаются и логируются, отмена проверяется перед каждым товаром.
func (e *Engine) RecomputeProducts(ctx context.Context, ids []string, triggeredBy string, cancel models.CancelToken) Summary {
	l := newLookups()
	var summary Summary

	for _, id := range ids {
		if models.IsCancelled(cancel) || ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		product, err := e.store.GetProduct(ctx, id)
		if err == nil && product == nil {
			err = ErrProductNotFound
		}
		var outcome *Outcome
		if err == nil {
			outcome, err = e.recompute(ctx, l, product, triggeredBy)
		}
		if err != nil {
			summary.Errors++
			e.logger.WarnWithContext(ctx, "Ошибка пересчета качества товара",
				interfaces.LogField{Key: "product_id", Value: id},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			continue
		}

		summary.Processed++
		if outcome.Changed {
			summary.Changed++
		}
	}

	return summary
}

// RecomputeSupplier пересчитывает все товары поставщика
func (e *Engine) RecomputeSupplier(ctx context.Context, supplierID, triggeredBy string, cancel models.CancelToken) (Summary, error) {
	ids, err := e.store.ListProductIDs(ctx, supplierID)
	if err != nil {
		return Summary{}, fmt.Errorf("ошибка чтения товаров поставщика: %w", err)
	}
	return e.RecomputeProducts(ctx, ids, triggeredBy, cancel), nil
}

// RecomputeCategories пересчитывает товары, привязанные к категориям поставщика.
func (e *Engine) RecomputeCategories(ctx context.Context, supplierCategoryIDs []string, triggeredBy string) (Summary, error) {
	ids, err := e.store.ListProductIDsByCategories(ctx, supplierCategoryIDs)
	if err != nil {
		return Summary{}, fmt.Errorf("ошибка чтения товаров категорий: %w", err)
	}
	return e.RecomputeProducts(ctx, ids, triggeredBy, nil), nil
}

// SaveTemplate проверяет и сохраняет шаблон качества категории
func (e *Engine) SaveTemplate(ctx context.Context, template *models.QualityTemplate) error {
	if template.InternalCategoryID == "" {
		return fmt.Errorf("%w: не указана категория", ErrInvalidTemplate)
	}
	if template.MinImages < 0 {
		return fmt.Errorf("%w: min_images < 0", ErrInvalidTemplate)
	}

	category, err := e.store.GetInternalCategory(ctx, template.InternalCategoryID)
	if err != nil {
		return fmt.Errorf("ошибка чтения категории: %w", err)
	}
	if category == nil {
		return ErrCategoryNotFound
	}

	attrs := make([]string, 0, len(template.RequiredAttributes))
	seen := make(map[string]struct{}, len(template.RequiredAttributes))
	for _, a := range template.RequiredAttributes {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		attrs = append(attrs, a)
	}
	template.RequiredAttributes = attrs

	return e.store.UpsertQualityTemplate(ctx, template)
}

// Template возвращает шаблон категории или шаблон по умолчанию
func (e *Engine) Template(ctx context.Context, internalCategoryID string) (*models.QualityTemplate, error) {
	t, err := e.store.GetQualityTemplate(ctx, internalCategoryID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		d := DefaultTemplate()
		d.InternalCategoryID = internalCategoryID
		return &d, nil
	}
	return t, nil
}

// Summarize человекочитаемое описание результата для журнала
func Summarize(result models.QualityResult) string {
	if result.IsReady {
		return "товар готов к продаже"
	}
	parts := make([]string, 0, len(result.Reasons))
	for _, r := range result.Reasons {
		switch r {
		case models.ReasonNoSellingPrice:
			parts = append(parts, "нет розничной цены")
		case models.ReasonNoImages:
			parts = append(parts, "недостаточно изображений")
		case models.ReasonNoCategoryMapping:
			parts = append(parts, "категория не сопоставлена")
		case models.ReasonMissingRequiredAttributes:
			parts = append(parts, "нет обязательных атрибутов: "+strings.Join(result.MissingAttributes, ", "))
		}
	}
	return fmt.Sprintf("товар не готов (%d%%): %s", result.Completeness, strings.Join(parts, "; "))
}
