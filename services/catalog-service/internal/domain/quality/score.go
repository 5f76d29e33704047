// Package quality оценивает готовность товара к продаже по шаблону категории.
package quality

import (
	"math"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
)

// totalChecks число проверок всегда равно четырем, отключенная проверка цены считается пройденной
const totalChecks = 4

// ProductFacts данные товара, нужные для оценки
type ProductFacts struct {
	Prices             []models.PriceRecord
	ImageCount         int
	InternalCategoryID string
	HasAttribute       func(name string) bool
}

// FactsFor собирает факты по товару, его ценам и сопоставленной внутренней категории
func FactsFor(p *models.Product, prices []models.PriceRecord, internalCategoryID string) ProductFacts {
	return ProductFacts{
		Prices:             prices,
		ImageCount:         len(p.Images),
		InternalCategoryID: internalCategoryID,
		HasAttribute:       p.HasAttribute,
	}
}

// DefaultTemplate шаблон для категорий без настроенных правил
func DefaultTemplate() models.QualityTemplate {
	return models.QualityTemplate{
		RequiredAttributes:   []string{},
		MinImages:            1,
		SellingPriceRequired: true,
	}
}

// Score выполняет четыре независимые проверки. nil шаблон заменяется шаблоном по умолчанию.
func Score(facts ProductFacts, template *models.QualityTemplate) models.QualityResult {
	if template == nil {
		t := DefaultTemplate()
		template = &t
	}

	passed := 0
	reasons := make([]models.BlockingReason, 0, totalChecks)

	if !template.SellingPriceRequired || hasSellingPrice(facts.Prices) {
		passed++
	} else {
		reasons = append(reasons, models.ReasonNoSellingPrice)
	}

	if facts.ImageCount >= template.MinImages {
		passed++
	} else {
		reasons = append(reasons, models.ReasonNoImages)
	}

	if facts.InternalCategoryID != "" {
		passed++
	} else {
		reasons = append(reasons, models.ReasonNoCategoryMapping)
	}

	var missing []string
	for _, name := range template.RequiredAttributes {
		if facts.HasAttribute == nil || !facts.HasAttribute(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		passed++
	} else {
		reasons = append(reasons, models.ReasonMissingRequiredAttributes)
	}

	completeness := int(math.Round(100 * float64(passed) / totalChecks))
	return models.QualityResult{
		Completeness:      completeness,
		Reasons:           reasons,
		MissingAttributes: missing,
		IsReady:           completeness == 100 && len(reasons) == 0,
	}
}

func hasSellingPrice(prices []models.PriceRecord) bool {
	for _, p := range prices {
		if p.PriceType == models.PriceRetailCurrent && p.Value.IsPositive() {
			return true
		}
	}
	return false
}
