package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/categories"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/matching"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/metrics"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

var (
	ErrSupplierCategoryNotFound = errors.New("supplier category not found")
	ErrInternalCategoryNotFound = errors.New("internal category not found")
	ErrInvalidCategory          = errors.New("invalid category")
)

const poolCacheKey = "internal_pool"

// Suggestion подсказка сопоставления категории поставщика. Match пустой, если подходящей категории нет.
type Suggestion struct {
	SupplierCategoryID string          `json:"supplier_category_id"`
	ExternalID         string          `json:"external_id"`
	Name               string          `json:"name"`
	Match              *matching.Match `json:"match,omitempty"`
	Alternatives       []matching.Match `json:"alternatives,omitempty"`
}

// CreateInternalCategoryInput данные новой внутренней категории
type CreateInternalCategoryInput struct {
	Name        string  `json:"name"`
	NameUK      string  `json:"name_uk"`
	Description string  `json:"description"`
	ParentID    *string `json:"parent_id"`
}

// CategoryService сопоставление категорий поставщиков с внутренним классификатором
type CategoryService struct {
	store   ports.CatalogStore
	matcher *matching.Matcher
	quality *quality.Engine
	pool    *gocache.Cache
	logger  interfaces.LoggerPort
}

// NewCategoryService poolTTL задает время жизни кэша внутренних категорий для подсказок.
// engine пересчитывает готовность товаров после ручного сопоставления.
func NewCategoryService(store ports.CatalogStore, matcher *matching.Matcher, engine *quality.Engine, poolTTL time.Duration, logger interfaces.LoggerPort) *CategoryService {
	if poolTTL <= 0 {
		poolTTL = 5 * time.Minute
	}
	return &CategoryService{
		store:   store,
		matcher: matcher,
		quality: engine,
		pool:    gocache.New(poolTTL, 2*poolTTL),
		logger:  logger,
	}
}

// internalPool внутренние категории со всеми вариантами названий
func (s *CategoryService) internalPool(ctx context.Context) ([]models.CategoryWithNames, error) {
	if cached, ok := s.pool.Get(poolCacheKey); ok {
		return cached.([]models.CategoryWithNames), nil
	}

	list, err := s.store.ListInternalCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения внутренних категорий: %w", err)
	}
	pool := make([]models.CategoryWithNames, 0, len(list))
	for _, c := range list {
		pool = append(pool, c.WithNames())
	}
	s.pool.SetDefault(poolCacheKey, pool)
	return pool, nil
}

func (s *CategoryService) suggest(category *models.SupplierCategory, pool []models.CategoryWithNames, alternatives int) Suggestion {
	names := category.Name.Variants()
	if len(names) == 0 {
		names = []string{category.ExternalID}
	}

	suggestion := Suggestion{
		SupplierCategoryID: category.ID,
		ExternalID:         category.ExternalID,
		Name:               category.Name.Default(),
	}
	if match, ok := s.matcher.FindBestMatch(names, pool); ok {
		suggestion.Match = match
		metrics.MappingSuggestions.WithLabelValues("found").Inc()
	} else {
		metrics.MappingSuggestions.WithLabelValues("none").Inc()
	}
	if alternatives > 0 {
		suggestion.Alternatives = s.matcher.Rank(names, pool, alternatives)
	}
	return suggestion
}

// SuggestMapping подсказка для одной категории поставщика с альтернативами
func (s *CategoryService) SuggestMapping(ctx context.Context, supplierCategoryID string, alternatives int) (*Suggestion, error) {
	category, err := s.store.GetSupplierCategory(ctx, supplierCategoryID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения категории: %w", err)
	}
	if category == nil {
		return nil, ErrSupplierCategoryNotFound
	}

	pool, err := s.internalPool(ctx)
	if err != nil {
		return nil, err
	}
	suggestion := s.suggest(category, pool, alternatives)
	return &suggestion, nil
}

// SuggestForSupplier подсказки для всех несопоставленных категорий поставщика
func (s *CategoryService) SuggestForSupplier(ctx context.Context, supplierID string) ([]Suggestion, error) {
	list, err := s.store.ListSupplierCategories(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения категорий поставщика: %w", err)
	}
	mappings, err := s.store.ListMappings(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сопоставлений: %w", err)
	}
	mapped := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		mapped[m.SupplierCategoryID] = struct{}{}
	}

	pool, err := s.internalPool(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, len(list))
	for i := range list {
		if _, ok := mapped[list[i].ID]; ok {
			continue
		}
		out = append(out, s.suggest(&list[i], pool, 0))
	}
	return out, nil
}

// SetMapping сопоставляет категорию поставщика с внутренней. Пустой internalCategoryID снимает сопоставление.
func (s *CategoryService) SetMapping(ctx context.Context, supplierCategoryID, internalCategoryID string) error {
	category, err := s.store.GetSupplierCategory(ctx, supplierCategoryID)
	if err != nil {
		return fmt.Errorf("ошибка чтения категории: %w", err)
	}
	if category == nil {
		return ErrSupplierCategoryNotFound
	}

	if internalCategoryID == "" {
		if err := s.store.DeleteMapping(ctx, supplierCategoryID); err != nil {
			return fmt.Errorf("ошибка удаления сопоставления: %w", err)
		}
		s.logger.InfoWithContext(ctx, "Сопоставление категории снято", interfaces.LogField{Key: "supplier_category_id", Value: supplierCategoryID})
		s.recomputeQuality(ctx, []string{supplierCategoryID})
		return nil
	}

	if err := s.ensureInternal(ctx, internalCategoryID); err != nil {
		return err
	}
	mapping := models.CategoryMapping{SupplierCategoryID: supplierCategoryID, InternalCategoryID: internalCategoryID, CreatedAt: time.Now().UTC()}
	if err := s.store.SaveMappings(ctx, []models.CategoryMapping{mapping}); err != nil {
		return fmt.Errorf("ошибка сохранения сопоставления: %w", err)
	}
	s.recomputeQuality(ctx, []string{supplierCategoryID})
	return nil
}

// MapSubtree сопоставляет категорию и всех ее потомков с одной внутренней категорией.
// Существующие сопоставления перезаписываются. Возвращает число сопоставленных категорий.
func (s *CategoryService) MapSubtree(ctx context.Context, supplierCategoryID, internalCategoryID string) (int, error) {
	root, err := s.store.GetSupplierCategory(ctx, supplierCategoryID)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения категории: %w", err)
	}
	if root == nil {
		return 0, ErrSupplierCategoryNotFound
	}
	if err := s.ensureInternal(ctx, internalCategoryID); err != nil {
		return 0, err
	}

	list, err := s.store.ListSupplierCategories(ctx, root.SupplierID)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения категорий поставщика: %w", err)
	}
	node := categories.FindNode(categories.BuildTree(categories.FromSupplierCategories(list)), root.ID)
	if node == nil {
		return 0, ErrSupplierCategoryNotFound
	}

	ids := categories.CollectSubtreeIDs(node)
	now := time.Now().UTC()
	mappings := make([]models.CategoryMapping, 0, len(ids))
	for _, id := range ids {
		mappings = append(mappings, models.CategoryMapping{SupplierCategoryID: id, InternalCategoryID: internalCategoryID, CreatedAt: now})
	}

	err = s.store.Do(ctx, func(ctx context.Context) error {
		return s.store.SaveMappings(ctx, mappings)
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка сохранения сопоставлений: %w", err)
	}

	s.logger.InfoWithContext(ctx, "Поддерево категорий сопоставлено",
		interfaces.LogField{Key: "supplier_category_id", Value: root.ID},
		interfaces.LogField{Key: "internal_category_id", Value: internalCategoryID},
		interfaces.LogField{Key: "count", Value: len(ids)},
	)
	s.recomputeQuality(ctx, ids)
	return len(ids), nil
}

// recomputeQuality пересчитывает товары категорий с triggered_by=manual.
// Сопоставление к этому моменту сохранено, ошибки пересчета только логируются.
func (s *CategoryService) recomputeQuality(ctx context.Context, supplierCategoryIDs []string) {
	if s.quality == nil {
		return
	}
	summary, err := s.quality.RecomputeCategories(ctx, supplierCategoryIDs, models.TriggeredByManual)
	if err != nil {
		s.logger.WarnWithContext(ctx, "Не удалось пересчитать качество после сопоставления",
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return
	}
	if summary.Processed > 0 || summary.Errors > 0 {
		s.logger.InfoWithContext(ctx, "Качество товаров пересчитано после сопоставления",
			interfaces.LogField{Key: "processed", Value: summary.Processed},
			interfaces.LogField{Key: "changed", Value: summary.Changed},
			interfaces.LogField{Key: "errors", Value: summary.Errors},
		)
	}
}

func (s *CategoryService) ensureInternal(ctx context.Context, id string) error {
	internal, err := s.store.GetInternalCategory(ctx, id)
	if err != nil {
		return fmt.Errorf("ошибка чтения внутренней категории: %w", err)
	}
	if internal == nil {
		return ErrInternalCategoryNotFound
	}
	return nil
}

// SupplierTree дерево категорий поставщика с текущими сопоставлениями
func (s *CategoryService) SupplierTree(ctx context.Context, supplierID string) ([]*categories.TreeNode, error) {
	list, err := s.store.ListSupplierCategories(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения категорий поставщика: %w", err)
	}
	mappings, err := s.store.ListMappings(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сопоставлений: %w", err)
	}
	mapped := make(map[string]string, len(mappings))
	for _, m := range mappings {
		mapped[m.SupplierCategoryID] = m.InternalCategoryID
	}

	items := categories.FromSupplierCategories(list)
	for i := range items {
		items[i].InternalCategoryID = mapped[items[i].ID]
	}
	return categories.BuildTree(items), nil
}

// InternalTree дерево внутреннего классификатора
func (s *CategoryService) InternalTree(ctx context.Context) ([]*categories.TreeNode, error) {
	list, err := s.store.ListInternalCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения внутренних категорий: %w", err)
	}
	return categories.BuildTree(categories.FromInternalCategories(list)), nil
}

// CreateInternalCategory создает внутреннюю категорию с уникальным slug
func (s *CategoryService) CreateInternalCategory(ctx context.Context, input CreateInternalCategoryInput) (*models.InternalCategory, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: пустое название", ErrInvalidCategory)
	}
	if input.ParentID != nil && *input.ParentID != "" {
		if err := s.ensureInternal(ctx, *input.ParentID); err != nil {
			return nil, err
		}
	} else {
		input.ParentID = nil
	}

	category := &models.InternalCategory{
		ID:          uuid.New().String(),
		Name:        name,
		NameUK:      strings.TrimSpace(input.NameUK),
		Description: strings.TrimSpace(input.Description),
		ParentID:    input.ParentID,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.store.Do(ctx, func(ctx context.Context) error {
		slug, err := categories.MakeSlug(name, func(candidate string) (bool, error) {
			return s.store.InternalSlugExists(ctx, candidate)
		})
		if err != nil {
			return err
		}
		category.Slug = slug
		return s.store.CreateInternalCategory(ctx, category)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания категории: %w", err)
	}

	s.pool.Delete(poolCacheKey)
	s.logger.InfoWithContext(ctx, "Создана внутренняя категория",
		interfaces.LogField{Key: "id", Value: category.ID},
		interfaces.LogField{Key: "slug", Value: category.Slug},
	)
	return category, nil
}
