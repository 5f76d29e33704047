package models

import "time"

// BlockingReason причина, по которой товар не готов к продаже
type BlockingReason string

const (
	ReasonNoSellingPrice            BlockingReason = "no_selling_price"
	ReasonNoImages                  BlockingReason = "no_images"
	ReasonNoCategoryMapping         BlockingReason = "no_category_mapping"
	ReasonMissingRequiredAttributes BlockingReason = "missing_required_attributes"
)

// Инициаторы пересчета качества
const (
	TriggeredByImport           = "import"
	TriggeredByManual           = "manual"
	TriggeredByAutoQualityCheck = "auto_quality_check"
)

// ChangeTypeReadiness тип записи журнала при смене готовности
const ChangeTypeReadiness = "is_ready"

// QualityTemplate правила качества для внутренней категории
type QualityTemplate struct {
	InternalCategoryID   string    `json:"internal_category_id"`
	RequiredAttributes   []string  `json:"required_attributes"`
	MinImages            int       `json:"min_images"`
	SellingPriceRequired bool      `json:"selling_price_required"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// QualityResult результат оценки товара
type QualityResult struct {
	Completeness      int              `json:"completeness"`
	Reasons           []BlockingReason `json:"reasons"`
	MissingAttributes []string         `json:"missing_attributes,omitempty"`
	IsReady           bool             `json:"is_ready"`
}

// QualityChangeLog запись журнала изменений готовности. Только добавляется.
type QualityChangeLog struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ChangeType  string    `json:"change_type"`
	OldValue    string    `json:"old_value"`
	NewValue    string    `json:"new_value"`
	Reason      string    `json:"reason"`
	TriggeredBy string    `json:"triggered_by"`
	CreatedAt   time.Time `json:"created_at"`
}
