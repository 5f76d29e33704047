package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/categories"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/snapshot"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/metrics"
	"golang.org/x/time/rate"
)

// errCancelledInPrepare отмена во время подготовки пачки, пачка не записывается
var errCancelledInPrepare = errors.New("cancelled while preparing batch")

// preparedProduct товар фида, готовый к записи
type preparedProduct struct {
	product *models.Product
	prices  []models.PriceRecord
	stock   []models.WarehouseStock
}

// batchResult итог записи пачки
type batchResult struct {
	created int
	updated int
	prices  int
	stock   int
	images  int
	touched []string
	failed  map[string]error
}

func (p *ImportPipeline) productStage(ctx context.Context, state *importRun) (bool, error) {
	records := p.selectProducts(ctx, state)
	total := len(records)
	p.progress(ctx, state, StageProducts, 0, total, "")

	previous, err := p.store.LatestCompletedImport(ctx, state.req.SupplierID)
	if err != nil {
		return false, fmt.Errorf("ошибка чтения предыдущего импорта: %w", err)
	}

	var limiter *rate.Limiter
	if p.cfg.BatchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(p.cfg.BatchInterval), 1)
	}

	processed := 0
	for start := 0; start < total; start += p.cfg.BatchSize {
		if state.cancelled(ctx) {
			return true, nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				// ожидание прерывается только отменой контекста
				return true, nil
			}
		}

		end := min(start+p.cfg.BatchSize, total)
		batch, err := p.prepareBatch(ctx, state, records[start:end])
		if errors.Is(err, errCancelledInPrepare) {
			return true, nil
		}
		if err != nil {
			return false, err
		}

		// Начатая пачка дописывается до конца, следующая уже не начинается
		p.writeBatch(ctx, state, batch, previous)

		processed = end
		p.progress(ctx, state, StageProducts, processed, total, "")
	}

	return false, nil
}

// selectProducts фильтрует товары по выбранным категориям и убирает повторы SKU
func (p *ImportPipeline) selectProducts(ctx context.Context, state *importRun) []feed.ProductRecord {
	selected := expandSelection(state.doc.Categories, state.req.SelectedCategories)

	out := make([]feed.ProductRecord, 0, len(state.doc.Products))
	seen := make(map[string]struct{}, len(state.doc.Products))
	for _, rec := range state.doc.Products {
		if selected != nil {
			if _, ok := selected[rec.CategoryRef]; !ok {
				state.stats.ProductsSkipped++
				metrics.ProductsProcessed.WithLabelValues("filtered").Inc()
				continue
			}
		}
		if _, dup := seen[rec.SKU]; dup {
			state.stats.ProductsSkipped++
			metrics.ProductsProcessed.WithLabelValues("duplicate").Inc()
			p.logger.WarnWithContext(ctx, "Повтор SKU в фиде, запись пропущена",
				interfaces.LogField{Key: "sku", Value: rec.SKU},
			)
			continue
		}
		seen[rec.SKU] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// expandSelection выбранные категории вместе с их потомками в дереве фида.
// nil означает отсутствие фильтра.
func expandSelection(inputs []models.CategoryInput, selected []string) map[string]struct{} {
	if len(selected) == 0 {
		return nil
	}

	items := make([]categories.TreeItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, categories.TreeItem{ID: in.ExternalID, ParentID: in.ParentExternalID, ExternalID: in.ExternalID})
	}
	roots := categories.BuildTree(items)

	set := make(map[string]struct{}, len(selected))
	for _, ref := range selected {
		set[ref] = struct{}{}
		if node := categories.FindNode(roots, ref); node != nil {
			for _, id := range categories.CollectSubtreeIDs(node) {
				set[id] = struct{}{}
			}
		}
	}
	return set
}

// prepareBatch строит модели товаров. Отмена проверяется и внутри циклов по атрибутам и изображениям.
func (p *ImportPipeline) prepareBatch(ctx context.Context, state *importRun, records []feed.ProductRecord) ([]preparedProduct, error) {
	out := make([]preparedProduct, 0, len(records))
	for i := range records {
		if state.cancelled(ctx) {
			return nil, errCancelledInPrepare
		}
		rec := &records[i]

		categoryID, err := p.resolveCategory(ctx, state, rec.CategoryRef)
		if err != nil {
			return nil, err
		}

		product := &models.Product{
			SupplierID:         state.req.SupplierID,
			SKU:                rec.SKU,
			Barcode:            rec.Barcode,
			VendorCode:         rec.VendorCode,
			BrandRef:           rec.BrandRef,
			SupplierCategoryID: categoryID,
			Name:               rec.Name,
			Description:        rec.Description,
			AttributesRU:       make(map[string]string, len(rec.Attributes)),
			AttributesUK:       make(map[string]string, len(rec.Attributes)),
			TotalStock:         rec.TotalStock(),
		}

		for _, attr := range rec.Attributes {
			if state.cancelled(ctx) {
				return nil, errCancelledInPrepare
			}
			nameRU, nameUK := attributeNames(attr.Ref, state.doc.AttributeNames)
			if v := strings.TrimSpace(attr.Value.RU); v != "" {
				product.AttributesRU[nameRU] = v
			}
			if v := strings.TrimSpace(attr.Value.UK); v != "" {
				product.AttributesUK[nameUK] = v
			}
		}

		product.Images = make([]string, 0, len(rec.Images))
		for _, url := range rec.Images {
			if state.cancelled(ctx) {
				return nil, errCancelledInPrepare
			}
			product.Images = append(product.Images, url)
		}

		currency := rec.Currency
		if currency == "" {
			currency = p.cfg.DefaultCurrency
		}
		prices := make([]models.PriceRecord, 0, len(rec.Prices))
		for _, priceType := range sortedKeys(rec.Prices) {
			prices = append(prices, models.PriceRecord{
				PriceType: priceType,
				Value:     rec.Prices[priceType],
				Currency:  currency,
				Source:    models.PriceSourceFeed,
			})
		}

		stock := make([]models.WarehouseStock, 0, len(rec.Warehouses))
		for _, code := range sortedKeys(rec.Warehouses) {
			stock = append(stock, models.WarehouseStock{WarehouseCode: code, Quantity: rec.Warehouses[code]})
		}

		out = append(out, preparedProduct{product: product, prices: prices, stock: stock})
	}
	return out, nil
}

// resolveCategory внешний id категории -> id в хранилище. Сначала карта текущего запуска,
// затем хранилище. Неизвестная категория дает пустой id.
func (p *ImportPipeline) resolveCategory(ctx context.Context, state *importRun, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if id, ok := state.idMap[ref]; ok {
		return id, nil
	}
	if id, ok := state.resolved[ref]; ok {
		return id, nil
	}

	category, err := p.store.GetSupplierCategoryByExternalID(ctx, state.req.SupplierID, ref)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения категории %s: %w", ref, err)
	}
	id := ""
	if category != nil {
		id = category.ID
	}
	state.resolved[ref] = id
	return id, nil
}

// writeBatch записывает пачку в транзакции хранилища. Ошибки отдельных товаров
// не прерывают пачку. Ошибка всей пачки засчитывается каждому ее товару.
func (p *ImportPipeline) writeBatch(ctx context.Context, state *importRun, batch []preparedProduct, previous *models.ImportRun) {
	batchCtx := ctx
	if p.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		// Пачка пишется до конца даже при отмене импорта, ограничена только таймаутом
		batchCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), p.cfg.BatchTimeout)
		defer cancel()
	} else {
		batchCtx = context.WithoutCancel(ctx)
	}

	var result *batchResult
	err := p.store.Do(batchCtx, func(txCtx context.Context) error {
		var err error
		result, err = p.writeProducts(txCtx, state, batch, previous)
		return err
	})
	if err != nil {
		for _, item := range batch {
			p.recordError(ctx, state, feed.EntityProduct, item.product.SKU, err)
		}
		metrics.ProductsProcessed.WithLabelValues("failed").Add(float64(len(batch)))
		return
	}

	for sku, recErr := range result.failed {
		p.recordError(ctx, state, feed.EntityProduct, sku, recErr)
	}
	state.stats.ProductsCreated += result.created
	state.stats.ProductsUpdated += result.updated
	state.stats.PricesUpdated += result.prices
	state.stats.StockUpdated += result.stock
	state.stats.ImagesProcessed += result.images
	state.touched = append(state.touched, result.touched...)

	metrics.ProductsProcessed.WithLabelValues("created").Add(float64(result.created))
	metrics.ProductsProcessed.WithLabelValues("updated").Add(float64(result.updated))
	metrics.ProductsProcessed.WithLabelValues("failed").Add(float64(len(result.failed)))
}

func (p *ImportPipeline) writeProducts(ctx context.Context, state *importRun, batch []preparedProduct, previous *models.ImportRun) (*batchResult, error) {
	result := &batchResult{failed: make(map[string]error)}

	skus := make([]string, 0, len(batch))
	for _, item := range batch {
		skus = append(skus, item.product.SKU)
	}

	existing, err := p.store.FindProductsBySKUs(ctx, state.req.SupplierID, skus)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска товаров: %w", err)
	}

	var inserts, updates []*models.Product
	for _, item := range batch {
		if old, ok := existing[item.product.SKU]; ok {
			item.product.ID = old.ID
			item.product.CreatedAt = old.CreatedAt
			item.product.IsReady = old.IsReady
			item.product.CompletenessScore = old.CompletenessScore
			item.product.QualityReasons = old.QualityReasons
			updates = append(updates, item.product)
		} else {
			inserts = append(inserts, item.product)
		}
	}

	written := make(map[string]bool, len(batch))
	result.created = p.bulkWrite(ctx, inserts, p.store.InsertProducts, written, result.failed)
	result.updated = p.bulkWrite(ctx, updates, p.store.UpdateProducts, written, result.failed)

	var prevSnapshots map[string]models.SnapshotData
	if previous != nil {
		prevSnapshots, err = p.store.GetSnapshots(ctx, previous.ID, skus)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения снимков: %w", err)
		}
	}

	now := time.Now().UTC()
	snapshots := make([]models.ImportSnapshot, 0, len(batch))
	var diffs []models.ProductDiff

	for _, item := range batch {
		product := item.product
		if !written[product.SKU] {
			continue
		}

		for i := range item.prices {
			item.prices[i].ProductID = product.ID
		}
		err := p.store.Do(ctx, func(spCtx context.Context) error {
			return p.store.ReplacePrices(spCtx, product.ID, models.PriceSourceFeed, item.prices)
		})
		if err != nil {
			result.failed[product.SKU] = fmt.Errorf("цены: %w", err)
		} else {
			result.prices += len(item.prices)
		}

		for i := range item.stock {
			item.stock[i].ProductID = product.ID
		}
		err = p.store.Do(ctx, func(spCtx context.Context) error {
			return p.store.ReplaceStock(spCtx, product.ID, item.stock)
		})
		if err != nil {
			result.failed[product.SKU] = fmt.Errorf("остатки: %w", err)
		} else {
			result.stock += len(item.stock)
		}

		result.images += len(product.Images)
		result.touched = append(result.touched, product.ID)

		data := snapshot.Build(product, item.prices, item.stock)
		snapshots = append(snapshots, models.ImportSnapshot{
			ImportID:          state.run.ID,
			SupplierID:        state.req.SupplierID,
			ProductID:         product.ID,
			ProductExternalID: product.SKU,
			Data:              data,
			CreatedAt:         now,
		})

		var prev *models.SnapshotData
		if previous != nil {
			if old, ok := prevSnapshots[product.SKU]; ok {
				prev = &old
			}
		}
		for _, d := range snapshot.Diff(prev, data) {
			diffs = append(diffs, models.ProductDiff{
				ImportID:          state.run.ID,
				ProductID:         product.ID,
				ProductExternalID: product.SKU,
				FieldDiff:         d,
				CreatedAt:         now,
			})
		}
	}

	if len(snapshots) > 0 {
		if err := p.store.SaveSnapshots(ctx, snapshots); err != nil {
			return nil, fmt.Errorf("ошибка сохранения снимков: %w", err)
		}
	}
	if len(diffs) > 0 {
		if err := p.store.SaveDiffs(ctx, diffs); err != nil {
			return nil, fmt.Errorf("ошибка сохранения изменений: %w", err)
		}
	}

	return result, nil
}

// bulkWrite пишет набор одним вызовом, при ошибке переходит на запись по одному товару.
// Каждая попытка идет во вложенной транзакции, чтобы сбой не ломал остальную пачку.
func (p *ImportPipeline) bulkWrite(ctx context.Context, products []*models.Product, write func(context.Context, []*models.Product) error, written map[string]bool, failed map[string]error) int {
	if len(products) == 0 {
		return 0
	}
	nested := func(set []*models.Product) error {
		return p.store.Do(ctx, func(spCtx context.Context) error {
			return write(spCtx, set)
		})
	}

	err := nested(products)
	if err == nil {
		for _, product := range products {
			written[product.SKU] = true
		}
		return len(products)
	}
	p.logger.WarnWithContext(ctx, "Пакетная запись товаров не удалась, запись по одному",
		interfaces.LogField{Key: "count", Value: len(products)},
		interfaces.LogField{Key: "error", Value: err.Error()},
	)

	count := 0
	for _, product := range products {
		if err := nested([]*models.Product{product}); err != nil {
			failed[product.SKU] = err
			continue
		}
		written[product.SKU] = true
		count++
	}
	return count
}

// attributeNames название атрибута по словарю фида, при отсутствии сама ссылка
func attributeNames(ref string, names map[string]models.LocalizedText) (string, string) {
	nameRU, nameUK := ref, ref
	if n, ok := names[ref]; ok {
		if strings.TrimSpace(n.RU) != "" {
			nameRU = strings.TrimSpace(n.RU)
		}
		if strings.TrimSpace(n.UK) != "" {
			nameUK = strings.TrimSpace(n.UK)
		}
	}
	return nameRU, nameUK
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
