package services

import (
	"context"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/matching"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type categoryFixture struct {
	svc   *CategoryService
	store *memory.Store
	ids   map[string]string
}

// newCategoryFixture дерево поставщика: clothes -> dresses -> evening, shoes
func newCategoryFixture(t *testing.T) *categoryFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	log := logger.NewNopLogger()
	engine := quality.NewEngine(store, messaging.NewEventPublisher(messaging.NewMemoryBus(), eventsTopic), log)
	f := &categoryFixture{
		svc:   NewCategoryService(store, matching.NewMatcher(matching.MinConfidence), engine, time.Minute, log),
		store: store,
		ids:   make(map[string]string),
	}

	add := func(ext, ru, uk, parentExt string) {
		c := &models.SupplierCategory{SupplierID: "sup", ExternalID: ext, Name: models.LocalizedText{RU: ru, UK: uk}}
		_, err := store.UpsertSupplierCategory(ctx, c)
		require.NoError(t, err)
		if parentExt != "" {
			require.NoError(t, store.SetSupplierCategoryParent(ctx, c.ID, models.StringPtr(f.ids[parentExt])))
		}
		f.ids[ext] = c.ID
	}
	add("clothes", "Одежда", "Одяг", "")
	add("dresses", "Платья", "Сукні", "clothes")
	add("evening", "Вечерние платья", "Вечірні сукні", "dresses")
	add("shoes", "Обувь", "Взуття", "")
	return f
}

func TestCategoryService_CreateInternalCategorySlug(t *testing.T) {
	ctx := context.Background()
	f := newCategoryFixture(t)

	first, err := f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Платья", NameUK: "Сукні"})
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z0-9]+(-[a-z0-9]+)*$`, first.Slug)

	second, err := f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Платья", ParentID: &first.ID})
	require.NoError(t, err)
	assert.Equal(t, first.Slug+"-2", second.Slug)
	require.NotNil(t, second.ParentID)
	assert.Equal(t, first.ID, *second.ParentID)

	_, err = f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	missing := "missing"
	_, err = f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Обувь", ParentID: &missing})
	assert.ErrorIs(t, err, ErrInternalCategoryNotFound)

	tree, err := f.svc.InternalTree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Len(t, tree[0].Children, 1)
}

func TestCategoryService_SuggestMapping(t *testing.T) {
	ctx := context.Background()
	f := newCategoryFixture(t)

	dresses, err := f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Платья", NameUK: "Сукні"})
	require.NoError(t, err)
	_, err = f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Электроника"})
	require.NoError(t, err)

	suggestion, err := f.svc.SuggestMapping(ctx, f.ids["dresses"], 3)
	require.NoError(t, err)
	require.NotNil(t, suggestion.Match)
	assert.Equal(t, dresses.ID, suggestion.Match.CategoryID)
	assert.Equal(t, 100, suggestion.Match.Score)
	require.NotEmpty(t, suggestion.Alternatives)
	assert.Equal(t, dresses.ID, suggestion.Alternatives[0].CategoryID)

	suggestion, err = f.svc.SuggestMapping(ctx, f.ids["shoes"], 0)
	require.NoError(t, err)
	assert.Nil(t, suggestion.Match, "непохожая категория не угадывается")

	_, err = f.svc.SuggestMapping(ctx, "missing", 0)
	assert.ErrorIs(t, err, ErrSupplierCategoryNotFound)
}

func TestCategoryService_PoolCacheInvalidatedOnCreate(t *testing.T) {
	ctx := context.Background()
	f := newCategoryFixture(t)

	suggestion, err := f.svc.SuggestMapping(ctx, f.ids["shoes"], 0)
	require.NoError(t, err)
	assert.Nil(t, suggestion.Match)

	shoes, err := f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Обувь"})
	require.NoError(t, err)

	suggestion, err = f.svc.SuggestMapping(ctx, f.ids["shoes"], 0)
	require.NoError(t, err)
	require.NotNil(t, suggestion.Match)
	assert.Equal(t, shoes.ID, suggestion.Match.CategoryID)
}

func TestCategoryService_SetAndClearMapping(t *testing.T) {
	ctx := context.Background()
	f := newCategoryFixture(t)

	internal, err := f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Обувь"})
	require.NoError(t, err)

	require.NoError(t, f.svc.SetMapping(ctx, f.ids["shoes"], internal.ID))
	m, err := f.store.GetMapping(ctx, f.ids["shoes"])
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, internal.ID, m.InternalCategoryID)

	suggestions, err := f.svc.SuggestForSupplier(ctx, "sup")
	require.NoError(t, err)
	assert.Len(t, suggestions, 3, "сопоставленные категории пропускаются")

	require.NoError(t, f.svc.SetMapping(ctx, f.ids["shoes"], ""))
	m, err = f.store.GetMapping(ctx, f.ids["shoes"])
	require.NoError(t, err)
	assert.Nil(t, m)

	assert.ErrorIs(t, f.svc.SetMapping(ctx, f.ids["shoes"], "missing"), ErrInternalCategoryNotFound)
	assert.ErrorIs(t, f.svc.SetMapping(ctx, "missing", internal.ID), ErrSupplierCategoryNotFound)
}

func TestCategoryService_MapSubtree(t *testing.T) {
	ctx := context.Background()
	f := newCategoryFixture(t)

	internal, err := f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Одежда"})
	require.NoError(t, err)

	count, err := f.svc.MapSubtree(ctx, f.ids["clothes"], internal.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	tree, err := f.svc.SupplierTree(ctx, "sup")
	require.NoError(t, err)
	require.Len(t, tree, 2)

	clothes := tree[0]
	assert.Equal(t, internal.ID, clothes.InternalCategoryID)
	require.Len(t, clothes.Children, 1)
	assert.Equal(t, internal.ID, clothes.Children[0].InternalCategoryID)
	require.Len(t, clothes.Children[0].Children, 1)
	assert.Equal(t, internal.ID, clothes.Children[0].Children[0].InternalCategoryID)

	shoes := tree[1]
	assert.Empty(t, shoes.InternalCategoryID)
}

// addReadyProduct товар категории с ценой и фото: не хватает только сопоставления
func (f *categoryFixture) addReadyProduct(t *testing.T, sku, ext string) *models.Product {
	t.Helper()
	ctx := context.Background()
	p := &models.Product{SupplierID: "sup", SKU: sku, SupplierCategoryID: f.ids[ext], Images: []string{"https://cdn/" + sku + ".jpg"}}
	require.NoError(t, f.store.InsertProducts(ctx, []*models.Product{p}))
	require.NoError(t, f.store.ReplacePrices(ctx, p.ID, models.PriceSourceFeed, []models.PriceRecord{
		{ProductID: p.ID, PriceType: models.PriceRetailCurrent, Value: decimal.NewFromInt(100), Currency: "UAH", Source: models.PriceSourceFeed},
	}))
	return p
}

func (f *categoryFixture) ready(t *testing.T, id string) bool {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.IsReady
}

func TestCategoryService_MappingRecomputesReadiness(t *testing.T) {
	ctx := context.Background()
	f := newCategoryFixture(t)
	dress := f.addReadyProduct(t, "dress-1", "dresses")
	gown := f.addReadyProduct(t, "gown-1", "evening")
	boots := f.addReadyProduct(t, "boots-1", "shoes")

	internal, err := f.svc.CreateInternalCategory(ctx, CreateInternalCategoryInput{Name: "Платья"})
	require.NoError(t, err)

	require.NoError(t, f.svc.SetMapping(ctx, f.ids["dresses"], internal.ID))
	assert.True(t, f.ready(t, dress.ID), "сопоставление делает товар готовым")
	assert.False(t, f.ready(t, gown.ID), "потомок без сопоставления не затронут")

	logs, err := f.store.ListQualityLogs(ctx, dress.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.TriggeredByManual, logs[0].TriggeredBy)
	assert.Equal(t, "true", logs[0].NewValue)

	n, err := f.svc.MapSubtree(ctx, f.ids["clothes"], internal.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, f.ready(t, gown.ID))
	assert.False(t, f.ready(t, boots.ID))

	require.NoError(t, f.svc.SetMapping(ctx, f.ids["dresses"], ""))
	assert.False(t, f.ready(t, dress.ID), "снятие сопоставления возвращает блокировку")

	logs, err = f.store.ListQualityLogs(ctx, dress.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.TriggeredByManual, logs[1].TriggeredBy)
}
