package quality

import (
	"context"
	"testing"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retail(value string) []models.PriceRecord {
	return []models.PriceRecord{{PriceType: models.PriceRetailCurrent, Value: decimal.RequireFromString(value), Source: models.PriceSourceFeed}}
}

func attrs(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestScore(t *testing.T) {
	template := &models.QualityTemplate{
		RequiredAttributes:   []string{"Цвет", "Размер"},
		MinImages:            2,
		SellingPriceRequired: true,
	}

	tests := []struct {
		name        string
		facts       ProductFacts
		template    *models.QualityTemplate
		want        int
		wantReasons []models.BlockingReason
	}{
		{
			name:        "все проверки пройдены",
			facts:       ProductFacts{Prices: retail("100"), ImageCount: 2, InternalCategoryID: "c", HasAttribute: attrs("Цвет", "Размер")},
			template:    template,
			want:        100,
			wantReasons: []models.BlockingReason{},
		},
		{
			name:        "нет ни одного условия",
			facts:       ProductFacts{},
			template:    template,
			want:        0,
			wantReasons: []models.BlockingReason{models.ReasonNoSellingPrice, models.ReasonNoImages, models.ReasonNoCategoryMapping, models.ReasonMissingRequiredAttributes},
		},
		{
			name:        "нулевая цена не считается",
			facts:       ProductFacts{Prices: retail("0"), ImageCount: 2, InternalCategoryID: "c", HasAttribute: attrs("Цвет", "Размер")},
			template:    template,
			want:        75,
			wantReasons: []models.BlockingReason{models.ReasonNoSellingPrice},
		},
		{
			name: "закупочная цена не заменяет розничную",
			facts: ProductFacts{
				Prices:             []models.PriceRecord{{PriceType: models.PricePurchaseCashCurrent, Value: decimal.RequireFromString("50")}},
				ImageCount:         2,
				InternalCategoryID: "c",
				HasAttribute:       attrs("Цвет", "Размер"),
			},
			template:    template,
			want:        75,
			wantReasons: []models.BlockingReason{models.ReasonNoSellingPrice},
		},
		{
			name:        "атрибуты сравниваются с учетом регистра",
			facts:       ProductFacts{Prices: retail("100"), ImageCount: 2, InternalCategoryID: "c", HasAttribute: attrs("цвет", "Размер")},
			template:    template,
			want:        75,
			wantReasons: []models.BlockingReason{models.ReasonMissingRequiredAttributes},
		},
		{
			name:        "шаблон по умолчанию без категории",
			facts:       ProductFacts{Prices: retail("199.99"), ImageCount: 1},
			template:    nil,
			want:        75,
			wantReasons: []models.BlockingReason{models.ReasonNoCategoryMapping},
		},
		{
			name:        "две проверки из четырех",
			facts:       ProductFacts{Prices: retail("10"), ImageCount: 1, InternalCategoryID: "c"},
			template:    template,
			want:        50,
			wantReasons: []models.BlockingReason{models.ReasonNoImages, models.ReasonMissingRequiredAttributes},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.facts, tt.template)
			assert.Equal(t, tt.want, got.Completeness)
			assert.Equal(t, tt.wantReasons, got.Reasons)
			assert.Equal(t, tt.want == 100, got.IsReady)
		})
	}
}

func TestScore_DisabledPriceCheckPasses(t *testing.T) {
	template := &models.QualityTemplate{MinImages: 1, SellingPriceRequired: false}
	got := Score(ProductFacts{ImageCount: 1, InternalCategoryID: "c"}, template)
	assert.Equal(t, 100, got.Completeness)
	assert.Empty(t, got.Reasons)
	assert.True(t, got.IsReady)
}

func TestScore_MissingAttributesListed(t *testing.T) {
	template := &models.QualityTemplate{RequiredAttributes: []string{"Цвет", "Материал"}}
	got := Score(ProductFacts{HasAttribute: attrs("Цвет")}, template)
	assert.Equal(t, []string{"Материал"}, got.MissingAttributes)
}

func setupEngine(t *testing.T) (*Engine, *memory.Store, *messaging.MemoryBus) {
	t.Helper()
	store := memory.New()
	bus := messaging.NewMemoryBus()
	engine := NewEngine(store, messaging.NewEventPublisher(bus, "catalog-events"), logger.NewNopLogger())
	return engine, store, bus
}

func TestEngine_RecomputeWritesLogOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	engine, store, bus := setupEngine(t)

	cat := &models.SupplierCategory{SupplierID: "sup", ExternalID: "cat1", Name: models.LocalizedText{RU: "Платья"}}
	_, err := store.UpsertSupplierCategory(ctx, cat)
	require.NoError(t, err)

	product := &models.Product{SupplierID: "sup", SKU: "sku-1", SupplierCategoryID: cat.ID, Images: []string{"https://cdn/1.jpg"}}
	require.NoError(t, store.InsertProducts(ctx, []*models.Product{product}))
	require.NoError(t, store.ReplacePrices(ctx, product.ID, models.PriceSourceFeed, retail("199.99")))

	outcome, err := engine.RecomputeByID(ctx, product.ID, models.TriggeredByManual)
	require.NoError(t, err)
	assert.False(t, outcome.Changed)
	assert.Equal(t, 75, outcome.Result.Completeness)

	logs, err := store.ListQualityLogs(ctx, product.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	internal := &models.InternalCategory{Name: "Платья", Slug: "platya"}
	require.NoError(t, store.CreateInternalCategory(ctx, internal))
	require.NoError(t, store.SaveMappings(ctx, []models.CategoryMapping{{SupplierCategoryID: cat.ID, InternalCategoryID: internal.ID}}))

	outcome, err = engine.RecomputeByID(ctx, product.ID, models.TriggeredByManual)
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.True(t, outcome.Result.IsReady)

	logs, err = store.ListQualityLogs(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "false", logs[0].OldValue)
	assert.Equal(t, "true", logs[0].NewValue)
	assert.Equal(t, models.TriggeredByManual, logs[0].TriggeredBy)
	assert.Len(t, bus.Messages("catalog-events"), 1)

	stored, err := store.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReady)
	assert.Equal(t, 100, stored.CompletenessScore)

	// повторный пересчет без изменений не пишет журнал
	_, err = engine.RecomputeByID(ctx, product.ID, models.TriggeredByAutoQualityCheck)
	require.NoError(t, err)
	logs, err = store.ListQualityLogs(ctx, product.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestEngine_TemplateOfMappedCategoryApplies(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := setupEngine(t)

	cat := &models.SupplierCategory{SupplierID: "sup", ExternalID: "cat1"}
	_, err := store.UpsertSupplierCategory(ctx, cat)
	require.NoError(t, err)
	internal := &models.InternalCategory{Name: "Платья", Slug: "platya"}
	require.NoError(t, store.CreateInternalCategory(ctx, internal))
	require.NoError(t, store.SaveMappings(ctx, []models.CategoryMapping{{SupplierCategoryID: cat.ID, InternalCategoryID: internal.ID}}))
	require.NoError(t, engine.SaveTemplate(ctx, &models.QualityTemplate{
		InternalCategoryID: internal.ID,
		RequiredAttributes: []string{"Цвет", " Цвет ", ""},
		MinImages:          0,
	}))

	tpl, err := engine.Template(ctx, internal.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Цвет"}, tpl.RequiredAttributes)

	product := &models.Product{SupplierID: "sup", SKU: "sku-1", SupplierCategoryID: cat.ID, AttributesUK: map[string]string{"Цвет": "червоний"}}
	require.NoError(t, store.InsertProducts(ctx, []*models.Product{product}))

	outcome, err := engine.RecomputeByID(ctx, product.ID, models.TriggeredByManual)
	require.NoError(t, err)
	assert.True(t, outcome.Result.IsReady, "цена не обязательна, изображения не нужны, атрибут есть")
}

func TestEngine_SaveTemplateValidation(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := setupEngine(t)

	assert.ErrorIs(t, engine.SaveTemplate(ctx, &models.QualityTemplate{}), ErrInvalidTemplate)
	assert.ErrorIs(t, engine.SaveTemplate(ctx, &models.QualityTemplate{InternalCategoryID: "x", MinImages: -1}), ErrInvalidTemplate)
	assert.ErrorIs(t, engine.SaveTemplate(ctx, &models.QualityTemplate{InternalCategoryID: "x"}), ErrCategoryNotFound)
}

func TestEngine_RecomputeSupplier(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := setupEngine(t)

	products := []*models.Product{
		{SupplierID: "sup", SKU: "a"},
		{SupplierID: "sup", SKU: "b"},
		{SupplierID: "other", SKU: "c"},
	}
	require.NoError(t, store.InsertProducts(ctx, products))

	summary, err := engine.RecomputeSupplier(ctx, "sup", models.TriggeredByAutoQualityCheck, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Errors)

	flag := models.NewCancelFlag()
	flag.Cancel()
	summary, err = engine.RecomputeSupplier(ctx, "sup", models.TriggeredByAutoQualityCheck, flag)
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 0, summary.Processed)
}

func TestEngine_RecomputeByIDNotFound(t *testing.T) {
	engine, _, _ := setupEngine(t)
	_, err := engine.RecomputeByID(context.Background(), "missing", models.TriggeredByManual)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "товар готов к продаже", Summarize(models.QualityResult{IsReady: true, Completeness: 100}))
	s := Summarize(models.QualityResult{Completeness: 75, Reasons: []models.BlockingReason{models.ReasonNoCategoryMapping}})
	assert.Contains(t, s, "75%")
	assert.Contains(t, s, "категория не сопоставлена")
}
