package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsTopic = "catalog-events"

const dressFeed = `{
	"categories": {
		"cat1": {"name": {"ru": "Одежда", "uk": "Одяг"}},
		"cat2": {"name": {"ru": "Платья", "uk": "Сукні"}, "parent_ref": "cat1"}
	},
	"brands": {"b1": {"name": "Acme"}},
	"products": {
		"sku-1": {
			"main": {
				"sku": "sku-1",
				"name": {"ru": "Платье", "uk": "Сукня"},
				"description": {"ru": "Летнее", "uk": "Літня"},
				"brand": "b1",
				"category": "cat2",
				"prices": {"retail": {"current": "199,99"}},
				"balance": 5
			},
			"images": {"main": "https://cdn/1.jpg"}
		}
	}
}`

func testConfig() PipelineConfig {
	return PipelineConfig{BatchSize: 100, DefaultCurrency: "UAH"}
}

func newPipeline(t *testing.T, store ports.CatalogStore, cfg PipelineConfig) (*ImportPipeline, *messaging.MemoryBus) {
	t.Helper()
	log := logger.NewNopLogger()
	bus := messaging.NewMemoryBus()
	events := messaging.NewEventPublisher(bus, eventsTopic)
	engine := quality.NewEngine(store, events, log)
	return NewImportPipeline(store, engine, events, log, cfg), bus
}

func jsonFeed(data string) *feed.RawFeed {
	return &feed.RawFeed{Filename: "feed.json", Format: feed.FormatJSON, Data: []byte(data)}
}

func productFeed(n int) string {
	var b strings.Builder
	b.WriteString(`{"products": {`)
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `"p%d": {"main": {"name": "Товар %d", "prices": {"retail": {"current": "%d"}}}}`, i, i, i*10)
	}
	b.WriteString(`}}`)
	return b.String()
}

func TestImportPipeline_FirstImportScoresProduct(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, bus := newPipeline(t, store, testConfig())

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", UserID: "u1", Feed: jsonFeed(dressFeed)})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status)
	assert.Equal(t, 2, result.Stats.CategoriesCreated)
	assert.Equal(t, 1, result.Stats.BrandsCreated)
	assert.Equal(t, 1, result.Stats.ProductsCreated)
	assert.Equal(t, 1, result.Stats.PricesUpdated)
	assert.Equal(t, 1, result.Stats.ImagesProcessed)
	assert.Equal(t, 0, result.Stats.Errors)

	found, err := store.FindProductsBySKUs(ctx, "sup", []string{"sku-1"})
	require.NoError(t, err)
	product := found["sku-1"]
	require.NotNil(t, product)

	assert.Equal(t, 75, product.CompletenessScore)
	assert.Equal(t, []models.BlockingReason{models.ReasonNoCategoryMapping}, product.QualityReasons)
	assert.False(t, product.IsReady)
	assert.Equal(t, 5, product.TotalStock)

	cat2, err := store.GetSupplierCategoryByExternalID(ctx, "sup", "cat2")
	require.NoError(t, err)
	assert.Equal(t, cat2.ID, product.SupplierCategoryID)

	prices, err := store.ListPrices(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Value.Equal(decimal.RequireFromString("199.99")))
	assert.Equal(t, "UAH", prices[0].Currency)

	run, err := store.GetImportRun(ctx, result.ImportID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, "u1", run.UserID)

	diffs, total, err := store.ListDiffs(ctx, result.ImportID, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, models.DiffAdded, diffs[0].Type)

	assert.Len(t, bus.Messages(eventsTopic), 2, "import_started и import_finished")
}

func TestImportPipeline_ReimportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	_, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(dressFeed)})
	require.NoError(t, err)

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(dressFeed)})
	require.NoError(t, err)

	run, err := store.GetImportRun(ctx, result.ImportID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Stats.ProductsUpdated)
	assert.Equal(t, 0, run.Stats.ProductsCreated)
	assert.Equal(t, 2, run.Stats.CategoriesUpdated)
	assert.Equal(t, 0, run.Stats.CategoriesCreated)

	diffs, _, err := store.ListDiffs(ctx, result.ImportID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	ids, err := store.ListProductIDs(ctx, "sup")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestImportPipeline_ChangedPriceProducesDiffAndReplacesPrices(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	_, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(dressFeed)})
	require.NoError(t, err)

	changed := strings.Replace(dressFeed, `"199,99"`, `"149.5"`, 1)
	changed = strings.Replace(changed, `"https://cdn/1.jpg"`, `"https://cdn/2.jpg"`, 1)
	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(changed)})
	require.NoError(t, err)

	diffs, _, err := store.ListDiffs(ctx, result.ImportID, 0, 0)
	require.NoError(t, err)

	byField := make(map[string][]models.ProductDiff)
	for _, d := range diffs {
		byField[d.Field] = append(byField[d.Field], d)
	}
	require.Len(t, byField["price.retail.current"], 1)
	assert.Equal(t, models.DiffModified, byField["price.retail.current"][0].Type)
	assert.Len(t, byField["images"], 2, "одна запись added и одна removed")

	found, err := store.FindProductsBySKUs(ctx, "sup", []string{"sku-1"})
	require.NoError(t, err)
	prices, err := store.ListPrices(ctx, found["sku-1"].ID)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Value.Equal(decimal.RequireFromString("149.5")))
}

// cancelOnInsert отменяет импорт во время n-го вызова InsertProducts
type cancelOnInsert struct {
	*memory.Store
	flag  *models.CancelFlag
	n     int
	calls int
}

func (s *cancelOnInsert) InsertProducts(ctx context.Context, products []*models.Product) error {
	s.calls++
	if s.calls == s.n {
		s.flag.Cancel()
	}
	return s.Store.InsertProducts(ctx, products)
}

func TestImportPipeline_CancelDuringSecondBatch(t *testing.T) {
	ctx := context.Background()
	flag := models.NewCancelFlag()
	store := &cancelOnInsert{Store: memory.New(), flag: flag, n: 2}
	pipeline, _ := newPipeline(t, store, PipelineConfig{BatchSize: 1})

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(productFeed(5)), Cancel: flag})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, result.Status)

	run, err := store.GetImportRun(ctx, result.ImportID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, run.Status)
	assert.Equal(t, 2, run.Stats.ProductsCreated, "начатая пачка дописана, следующие не начаты")
	assert.NotNil(t, run.CompletedAt)

	ids, err := store.ListProductIDs(ctx, "sup")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestImportPipeline_CancelledBeforeStart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	flag := models.NewCancelFlag()
	flag.Cancel()
	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(dressFeed), Cancel: flag})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, result.Status)
	assert.Equal(t, 0, result.Stats.CategoriesCreated)

	run, err := store.GetImportRun(ctx, result.ImportID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, run.Status)
}

func TestImportPipeline_ParseFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, bus := newPipeline(t, store, testConfig())

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(`{"categories": {}}`)})
	assert.ErrorIs(t, err, feed.ErrMissingProducts)
	assert.Equal(t, models.ImportStatusFailed, result.Status)

	runs, total, err := store.ListImportRuns(ctx, "sup", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, runs)
	assert.Empty(t, bus.Messages(eventsTopic))
}

func TestImportPipeline_InvalidRequest(t *testing.T) {
	pipeline, _ := newPipeline(t, memory.New(), testConfig())

	_, err := pipeline.Run(context.Background(), RunRequest{Feed: jsonFeed(dressFeed)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = pipeline.Run(context.Background(), RunRequest{SupplierID: "sup", Mode: "partial", Feed: jsonFeed(dressFeed)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestImportPipeline_RunAlreadyInProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateImportRun(ctx, &models.ImportRun{SupplierID: "sup", Status: models.ImportStatusProcessing}))
	pipeline, _ := newPipeline(t, store, testConfig())

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(dressFeed)})
	assert.ErrorIs(t, err, ErrImportRunCreate)
	assert.ErrorIs(t, err, ports.ErrImportInProgress)
	assert.Equal(t, models.ImportStatusFailed, result.Status)

	ids, err := store.ListProductIDs(ctx, "sup")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestImportPipeline_InvalidRecordsCountedAsErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	data := `{"products": {
		"ok": {"main": {"name": "Товар"}},
		"bad": {"main": {"name": "Товар", "prices": {"retail": {"current": "$10"}}}},
		"empty": {"main": {}}
	}}`
	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(data)})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Stats.ProductsCreated)
	assert.Equal(t, 2, result.Stats.Errors)
}

func TestImportPipeline_ModesSelectStages(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Mode: models.ImportModeCategories, Feed: jsonFeed(dressFeed)})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.CategoriesCreated)
	assert.Equal(t, 0, result.Stats.ProductsCreated)

	ids, err := store.ListProductIDs(ctx, "sup")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// режим products берет категории из хранилища
	result, err = pipeline.Run(ctx, RunRequest{SupplierID: "sup", Mode: models.ImportModeProducts, Feed: jsonFeed(dressFeed)})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stats.CategoriesCreated+result.Stats.CategoriesUpdated)
	assert.Equal(t, 1, result.Stats.ProductsCreated)

	found, err := store.FindProductsBySKUs(ctx, "sup", []string{"sku-1"})
	require.NoError(t, err)
	cat2, err := store.GetSupplierCategoryByExternalID(ctx, "sup", "cat2")
	require.NoError(t, err)
	assert.Equal(t, cat2.ID, found["sku-1"].SupplierCategoryID)
}

func TestImportPipeline_SelectedCategoriesIncludeDescendants(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	data := `{
		"categories": {
			"root": {"name": "Одежда"},
			"child": {"name": "Платья", "parent_ref": "root"},
			"other": {"name": "Обувь"}
		},
		"products": {
			"a": {"main": {"name": "Платье", "category": "child"}},
			"b": {"main": {"name": "Кеды", "category": "other"}},
			"c": {"main": {"name": "Куртка", "category": "root"}}
		}
	}`
	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(data), SelectedCategories: []string{"root"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.ProductsCreated)
	assert.Equal(t, 1, result.Stats.ProductsSkipped)

	found, err := store.FindProductsBySKUs(ctx, "sup", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Contains(t, found, "a")
	assert.Contains(t, found, "c")
	assert.NotContains(t, found, "b")
}

func TestImportPipeline_AttributesResolvedByDictionary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	data := `{
		"attributes": {"a1": {"ru": "Цвет", "uk": "Колір"}},
		"products": {
			"a": {"main": {"name": "Платье"}, "attributes": {"a1": {"ru": "красный", "uk": "червоний"}, "a9": {"ru": "хлопок"}}}
		}
	}`
	_, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(data)})
	require.NoError(t, err)

	found, err := store.FindProductsBySKUs(ctx, "sup", []string{"a"})
	require.NoError(t, err)
	p := found["a"]
	assert.Equal(t, map[string]string{"Цвет": "красный", "a9": "хлопок"}, p.AttributesRU)
	assert.Equal(t, map[string]string{"Колір": "червоний"}, p.AttributesUK)
}

// failingInsert отклоняет пакетную вставку и вставку товара с заданным SKU
type failingInsert struct {
	*memory.Store
	badSKU string
}

func (s *failingInsert) InsertProducts(ctx context.Context, products []*models.Product) error {
	for _, p := range products {
		if p.SKU == s.badSKU {
			return errors.New("constraint violation")
		}
	}
	return s.Store.InsertProducts(ctx, products)
}

func TestImportPipeline_BulkFailureFallsBackToSingleWrites(t *testing.T) {
	ctx := context.Background()
	store := &failingInsert{Store: memory.New(), badSKU: "p2"}
	pipeline, _ := newPipeline(t, store, testConfig())

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(productFeed(3))})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status)
	assert.Equal(t, 2, result.Stats.ProductsCreated)
	assert.Equal(t, 1, result.Stats.Errors)
}

var errTxAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

type txFrameKey struct{}

type txFrame struct{ aborted bool }

// abortingStore ведет себя как транзакция Postgres: после первой ошибки записи
// все команды в той же транзакции отклоняются, пока она не откачена
type abortingStore struct {
	*memory.Store
	badInsert string
	badStock  string
}

func (s *abortingStore) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	frame := &txFrame{}
	err := fn(context.WithValue(ctx, txFrameKey{}, frame))
	if err == nil && frame.aborted {
		return errTxAborted
	}
	return err
}

func (s *abortingStore) check(ctx context.Context) error {
	if frame, ok := ctx.Value(txFrameKey{}).(*txFrame); ok && frame.aborted {
		return errTxAborted
	}
	return nil
}

func (s *abortingStore) fail(ctx context.Context, err error) error {
	if frame, ok := ctx.Value(txFrameKey{}).(*txFrame); ok {
		frame.aborted = true
	}
	return err
}

func (s *abortingStore) FindProductsBySKUs(ctx context.Context, supplierID string, skus []string) (map[string]*models.Product, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.Store.FindProductsBySKUs(ctx, supplierID, skus)
}

func (s *abortingStore) InsertProducts(ctx context.Context, products []*models.Product) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, p := range products {
		if p.SKU == s.badInsert {
			return s.fail(ctx, errors.New("duplicate key value violates unique constraint"))
		}
	}
	return s.Store.InsertProducts(ctx, products)
}

func (s *abortingStore) UpdateProducts(ctx context.Context, products []*models.Product) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Store.UpdateProducts(ctx, products)
}

func (s *abortingStore) ReplacePrices(ctx context.Context, productID, source string, prices []models.PriceRecord) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Store.ReplacePrices(ctx, productID, source, prices)
}

func (s *abortingStore) ReplaceStock(ctx context.Context, productID string, stock []models.WarehouseStock) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if product, err := s.Store.GetProduct(ctx, productID); err == nil && product.SKU == s.badStock {
		return s.fail(ctx, errors.New("insert or update violates foreign key constraint"))
	}
	return s.Store.ReplaceStock(ctx, productID, stock)
}

func (s *abortingStore) GetSnapshots(ctx context.Context, importID string, externalIDs []string) (map[string]models.SnapshotData, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.Store.GetSnapshots(ctx, importID, externalIDs)
}

func (s *abortingStore) SaveSnapshots(ctx context.Context, snapshots []models.ImportSnapshot) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Store.SaveSnapshots(ctx, snapshots)
}

func (s *abortingStore) SaveDiffs(ctx context.Context, diffs []models.ProductDiff) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.Store.SaveDiffs(ctx, diffs)
}

func TestImportPipeline_FailedWriteDoesNotAbortBatch(t *testing.T) {
	tests := []struct {
		name      string
		store     *abortingStore
		created   int
		persisted int
	}{
		{
			name:      "вставка одного товара отклонена",
			store:     &abortingStore{Store: memory.New(), badInsert: "p2"},
			created:   2,
			persisted: 2,
		},
		{
			name:      "остатки одного товара отклонены",
			store:     &abortingStore{Store: memory.New(), badStock: "p2"},
			created:   3,
			persisted: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			pipeline, _ := newPipeline(t, tt.store, testConfig())

			result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(productFeed(3))})
			require.NoError(t, err)
			assert.Equal(t, models.ImportStatusCompleted, result.Status)
			assert.Equal(t, tt.created, result.Stats.ProductsCreated)
			assert.Equal(t, 1, result.Stats.Errors, "ошибка засчитана только плохому товару")

			found, err := tt.store.Store.FindProductsBySKUs(ctx, "sup", []string{"p1", "p3"})
			require.NoError(t, err)
			assert.Len(t, found, 2)

			ids, err := tt.store.Store.ListProductIDs(ctx, "sup")
			require.NoError(t, err)
			assert.Len(t, ids, tt.persisted)
		})
	}
}

// armedToken срабатывает на n-й проверке после взвода
type armedToken struct {
	mu    sync.Mutex
	armed bool
	calls int
	n     int
}

func (t *armedToken) arm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
}

func (t *armedToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return false
	}
	t.calls++
	return t.calls >= t.n
}

// armOnInsert взводит токен после успешной вставки
type armOnInsert struct {
	*memory.Store
	token *armedToken
}

func (s *armOnInsert) InsertProducts(ctx context.Context, products []*models.Product) error {
	if err := s.Store.InsertProducts(ctx, products); err != nil {
		return err
	}
	s.token.arm()
	return nil
}

func TestImportPipeline_CancelDuringAttributes(t *testing.T) {
	ctx := context.Background()
	// проверки после первой пачки: начало пачки, запись, первый атрибут
	token := &armedToken{n: 3}
	store := &armOnInsert{Store: memory.New(), token: token}
	pipeline, _ := newPipeline(t, store, PipelineConfig{BatchSize: 1})

	data := `{"products": {
		"p1": {"main": {"name": "Платье"}, "attributes": {"a1": {"ru": "красный"}}},
		"p2": {"main": {"name": "Юбка"}, "attributes": {"a1": {"ru": "синий"}}},
		"p3": {"main": {"name": "Блуза"}, "attributes": {"a1": {"ru": "белый"}}}
	}}`
	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(data), Cancel: token})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, result.Status)
	assert.Equal(t, 1, result.Stats.ProductsCreated, "вторая пачка прервана на атрибутах")

	ids, err := store.ListProductIDs(ctx, "sup")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

// slowInsert не укладывается в таймаут пачки для заданного SKU
type slowInsert struct {
	*memory.Store
	slowSKU string
}

func (s *slowInsert) InsertProducts(ctx context.Context, products []*models.Product) error {
	for _, p := range products {
		if p.SKU == s.slowSKU {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return s.Store.InsertProducts(ctx, products)
}

func TestImportPipeline_BatchTimeout(t *testing.T) {
	ctx := context.Background()
	store := &slowInsert{Store: memory.New(), slowSKU: "p2"}
	pipeline, _ := newPipeline(t, store, PipelineConfig{BatchSize: 1, BatchTimeout: 20 * time.Millisecond})

	result, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(productFeed(3))})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status, "таймаут пачки не прерывает импорт")
	assert.Equal(t, 2, result.Stats.ProductsCreated)
	assert.Equal(t, 1, result.Stats.Errors)

	found, err := store.FindProductsBySKUs(ctx, "sup", []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Contains(t, found, "p1")
	assert.Contains(t, found, "p3")
	assert.NotContains(t, found, "p2")
}

func TestImportPipeline_ProgressStages(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())

	progress := make(chan ProgressEvent)
	var stages []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range progress {
			if len(stages) == 0 || stages[len(stages)-1] != event.Stage {
				stages = append(stages, event.Stage)
			}
		}
	}()

	_, err := pipeline.Run(ctx, RunRequest{SupplierID: "sup", Feed: jsonFeed(dressFeed), Progress: progress})
	close(progress)
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, []string{StageParsing, StageCategories, StageBrands, StageProducts, StageQuality, StageCompleted}, stages)
}

func TestImportPipeline_Prescan(t *testing.T) {
	pipeline, _ := newPipeline(t, memory.New(), testConfig())

	data := `{
		"categories": {
			"root": {"name": "Одежда"},
			"child": {"name": "Платья", "parent_ref": "root"}
		},
		"products": {
			"a": {"main": {"name": "Платье", "category": "child"}},
			"b": {"main": {"name": "Платье 2", "category": "child"}},
			"c": {"main": {"name": "Без категории"}},
			"d": {"main": {"name": "Чужая", "category": "ghost"}},
			"e": "broken"
		}
	}`
	result, err := pipeline.Prescan(jsonFeed(data))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Products)
	assert.Equal(t, 2, result.Categories)
	assert.Equal(t, 2, result.Uncategorized)
	require.Len(t, result.Invalid, 1)
	assert.Equal(t, "e", result.Invalid[0].Key)

	require.Len(t, result.Tree, 1)
	root := result.Tree[0]
	assert.Equal(t, "root", root.ExternalID)
	require.Len(t, root.Children, 1)
	assert.Equal(t, 2, root.Children[0].ProductCount)
}
