// Package ports описывает хранилище каталога и прочие внешние зависимости доменных сервисов.
package ports

import (
	"context"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
)

// Чтение отсутствующей сущности возвращает nil, nil.

// CategoryStore категории поставщиков, внутренний классификатор и сопоставления
type CategoryStore interface {
	// UpsertSupplierCategory создает или обновляет категорию по (SupplierID, ExternalID).
	// Заполняет ID и возвращает true, если категория создана.
	UpsertSupplierCategory(ctx context.Context, category *models.SupplierCategory) (bool, error)
	SetSupplierCategoryParent(ctx context.Context, id string, parentID *string) error
	GetSupplierCategory(ctx context.Context, id string) (*models.SupplierCategory, error)
	GetSupplierCategoryByExternalID(ctx context.Context, supplierID, externalID string) (*models.SupplierCategory, error)
	ListSupplierCategories(ctx context.Context, supplierID string) ([]models.SupplierCategory, error)

	CreateInternalCategory(ctx context.Context, category *models.InternalCategory) error
	GetInternalCategory(ctx context.Context, id string) (*models.InternalCategory, error)
	ListInternalCategories(ctx context.Context) ([]models.InternalCategory, error)
	InternalSlugExists(ctx context.Context, slug string) (bool, error)

	GetMapping(ctx context.Context, supplierCategoryID string) (*models.CategoryMapping, error)
	ListMappings(ctx context.Context, supplierID string) ([]models.CategoryMapping, error)
	// SaveMappings перезаписывает сопоставления для указанных категорий поставщика
	SaveMappings(ctx context.Context, mappings []models.CategoryMapping) error
	DeleteMapping(ctx context.Context, supplierCategoryID string) error
}

// BrandStore бренды поставщиков
type BrandStore interface {
	// UpsertBrand создает или обновляет бренд по (SupplierID, ExternalRef)
	UpsertBrand(ctx context.Context, brand *models.Brand) (bool, error)
	ListBrands(ctx context.Context, supplierID string) ([]models.Brand, error)
}

// ProductStore товары, цены и остатки
type ProductStore interface {
	// FindProductsBySKUs возвращает существующие товары поставщика по SKU
	FindProductsBySKUs(ctx context.Context, supplierID string, skus []string) (map[string]*models.Product, error)
	// InsertProducts вставляет товары пачкой и заполняет ID
	InsertProducts(ctx context.Context, products []*models.Product) error
	UpdateProducts(ctx context.Context, products []*models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProductIDs(ctx context.Context, supplierID string) ([]string, error)
	// ListProductIDsByCategories товары, привязанные к любой из категорий поставщика
	ListProductIDsByCategories(ctx context.Context, supplierCategoryIDs []string) ([]string, error)

	// ReplacePrices удаляет все цены товара с данным источником и вставляет новые
	ReplacePrices(ctx context.Context, productID, source string, prices []models.PriceRecord) error
	ListPrices(ctx context.Context, productID string) ([]models.PriceRecord, error)
	// ReplaceStock полностью заменяет складские остатки товара
	ReplaceStock(ctx context.Context, productID string, stock []models.WarehouseStock) error
	ListStock(ctx context.Context, productID string) ([]models.WarehouseStock, error)

	UpdateProductQuality(ctx context.Context, productID string, result models.QualityResult) error
}

// ImportStore запуски импорта, снимки и изменения
type ImportStore interface {
	CreateImportRun(ctx context.Context, run *models.ImportRun) error
	UpdateImportRun(ctx context.Context, run *models.ImportRun) error
	GetImportRun(ctx context.Context, id string) (*models.ImportRun, error)
	ListImportRuns(ctx context.Context, supplierID string, limit, offset int) ([]models.ImportRun, int64, error)
	// LatestCompletedImport последний завершенный импорт поставщика
	LatestCompletedImport(ctx context.Context, supplierID string) (*models.ImportRun, error)

	GetSnapshots(ctx context.Context, importID string, externalIDs []string) (map[string]models.SnapshotData, error)
	SaveSnapshots(ctx context.Context, snapshots []models.ImportSnapshot) error
	SaveDiffs(ctx context.Context, diffs []models.ProductDiff) error
	ListDiffs(ctx context.Context, importID string, limit, offset int) ([]models.ProductDiff, int64, error)
}

// QualityStore шаблоны качества и журнал изменений готовности
type QualityStore interface {
	GetQualityTemplate(ctx context.Context, internalCategoryID string) (*models.QualityTemplate, error)
	UpsertQualityTemplate(ctx context.Context, template *models.QualityTemplate) error
	AppendQualityLog(ctx context.Context, entry *models.QualityChangeLog) error
	ListQualityLogs(ctx context.Context, productID string) ([]models.QualityChangeLog, error)
}

// CatalogStore полное хранилище каталога. Do выполняет функцию в транзакции.
type CatalogStore interface {
	CategoryStore
	BrandStore
	ProductStore
	ImportStore
	QualityStore
	interfaces.StoragePort
}

// EventPublisher публикует доменные события
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, key string, payload interface{}) error
}

// Типы доменных событий
const (
	EventImportStarted           = "import_started"
	EventImportFinished          = "import_finished"
	EventProductReadinessChanged = "product_readiness_changed"
)
