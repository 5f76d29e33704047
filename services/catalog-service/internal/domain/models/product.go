package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Типы цен. Тип цены это путь в таксономии видов цен.
const (
	PriceRetailCurrent       = "retail.current"
	PriceRetailOld           = "retail.old"
	PricePurchaseCashCurrent = "purchase.cash.current"
	PricePurchaseCashOld     = "purchase.cash.old"
)

// PriceSourceFeed источник цен, которые полностью заменяются при каждом импорте
const PriceSourceFeed = "feed-import"

// Product товар поставщика. Идентичность: (SupplierID, SKU).
type Product struct {
	ID                 string            `json:"id"`
	SupplierID         string            `json:"supplier_id"`
	SKU                string            `json:"sku"`
	Barcode            string            `json:"barcode,omitempty"`
	VendorCode         string            `json:"vendor_code,omitempty"`
	BrandRef           string            `json:"brand_ref,omitempty"`
	SupplierCategoryID string            `json:"supplier_category_id,omitempty"`
	Name               LocalizedText     `json:"name"`
	Description        LocalizedText     `json:"description"`
	AttributesRU       map[string]string `json:"attributes_ru,omitempty"`
	AttributesUK       map[string]string `json:"attributes_uk,omitempty"`
	Images             []string          `json:"images,omitempty"`
	TotalStock         int               `json:"total_stock"`
	IsReady            bool              `json:"is_ready"`
	CompletenessScore  int               `json:"completeness_score"`
	QualityReasons     []BlockingReason  `json:"quality_reasons,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// HasAttribute проверяет наличие ключа атрибута на любом языке, без нормализации
func (p *Product) HasAttribute(name string) bool {
	if _, ok := p.AttributesRU[name]; ok {
		return true
	}
	_, ok := p.AttributesUK[name]
	return ok
}

// PriceRecord цена товара
type PriceRecord struct {
	ProductID string          `json:"product_id"`
	PriceType string          `json:"price_type"`
	Value     decimal.Decimal `json:"value"`
	Currency  string          `json:"currency"`
	Source    string          `json:"source"`
}

// WarehouseStock остаток товара на складе
type WarehouseStock struct {
	ProductID     string `json:"product_id"`
	WarehouseCode string `json:"warehouse_code"`
	Quantity      int    `json:"quantity"`
}
