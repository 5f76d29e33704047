package models

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ImportStatus статус запуска импорта
type ImportStatus string

const (
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusCancelled  ImportStatus = "cancelled"
	ImportStatusFailed     ImportStatus = "failed"
)

// IsTerminal возвращает true для статусов, из которых нет перехода
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusCancelled || s == ImportStatusFailed
}

// ImportMode определяет, какие стадии выполняются
type ImportMode string

const (
	ImportModeFull       ImportMode = "full"
	ImportModeCategories ImportMode = "categories"
	ImportModeProducts   ImportMode = "products"
)

// Valid проверяет, что режим известен
func (m ImportMode) Valid() bool {
	switch m {
	case ImportModeFull, ImportModeCategories, ImportModeProducts:
		return true
	}
	return false
}

func (m ImportMode) IncludesCategories() bool {
	return m == ImportModeFull || m == ImportModeCategories
}

func (m ImportMode) IncludesProducts() bool {
	return m == ImportModeFull || m == ImportModeProducts
}

// ImportStats счетчики по стадиям импорта
type ImportStats struct {
	ProductsCreated   int `json:"products_created"`
	ProductsUpdated   int `json:"products_updated"`
	ProductsSkipped   int `json:"products_skipped"`
	CategoriesCreated int `json:"categories_created"`
	CategoriesUpdated int `json:"categories_updated"`
	CategoriesSkipped int `json:"categories_skipped"`
	BrandsCreated     int `json:"brands_created"`
	BrandsUpdated     int `json:"brands_updated"`
	BrandsSkipped     int `json:"brands_skipped"`
	PricesUpdated     int `json:"prices_updated"`
	StockUpdated      int `json:"stock_updated"`
	ImagesProcessed   int `json:"images_processed"`
	ReadinessChanged  int `json:"readiness_changed"`
	Errors            int `json:"errors"`
}

// ImportRun запись о запуске импорта
type ImportRun struct {
	ID                 string       `json:"id"`
	SupplierID         string       `json:"supplier_id"`
	UserID             string       `json:"user_id,omitempty"`
	Filename           string       `json:"filename"`
	Status             ImportStatus `json:"status"`
	Mode               ImportMode   `json:"mode"`
	Stats              ImportStats  `json:"stats"`
	SelectedCategories []string     `json:"selected_categories,omitempty"`
	ErrorMessage       string       `json:"error_message,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
}

// SnapshotData изменяемые поля товара на момент импорта
type SnapshotData struct {
	Prices        map[string]decimal.Decimal `json:"prices"`
	Stock         map[string]int             `json:"stock"`
	NameRU        string                     `json:"name_ru"`
	NameUK        string                     `json:"name_uk"`
	DescriptionRU string                     `json:"description_ru"`
	DescriptionUK string                     `json:"description_uk"`
	Images        []string                   `json:"images"`
}

// ImportSnapshot снимок товара в рамках импорта. Только добавляется.
type ImportSnapshot struct {
	ImportID          string       `json:"import_id"`
	SupplierID        string       `json:"supplier_id"`
	ProductID         string       `json:"product_id"`
	ProductExternalID string       `json:"product_external_id"`
	Data              SnapshotData `json:"data"`
	CreatedAt         time.Time    `json:"created_at"`
}

// DiffType вид изменения поля
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffModified DiffType = "modified"
	DiffRemoved  DiffType = "removed"
)

// FieldDiff изменение одного поля между двумя снимками
type FieldDiff struct {
	Field    string   `json:"field"`
	Type     DiffType `json:"type"`
	OldValue string   `json:"old_value,omitempty"`
	NewValue string   `json:"new_value,omitempty"`
}

// ProductDiff изменение поля товара, привязанное к импорту
type ProductDiff struct {
	ImportID          string    `json:"import_id"`
	ProductID         string    `json:"product_id"`
	ProductExternalID string    `json:"product_external_id"`
	FieldDiff
	CreatedAt time.Time `json:"created_at"`
}

// CancelToken признак кооперативной отмены
type CancelToken interface {
	Cancelled() bool
}

// CancelFlag потокобезопасная реализация CancelToken
type CancelFlag struct {
	flag atomic.Bool
}

func NewCancelFlag() *CancelFlag {
	return &CancelFlag{}
}

func (c *CancelFlag) Cancel() {
	c.flag.Store(true)
}

func (c *CancelFlag) Cancelled() bool {
	return c.flag.Load()
}

// IsCancelled проверяет токен с учетом nil
func IsCancelled(token CancelToken) bool {
	return token != nil && token.Cancelled()
}
