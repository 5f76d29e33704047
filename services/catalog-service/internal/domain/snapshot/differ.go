// Package snapshot снимает изменяемые поля товара и сравнивает снимки соседних импортов.
package snapshot

import (
	"sort"
	"strconv"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

// Имена полей в записях изменений
const (
	FieldProduct       = "product"
	FieldNameRU        = "name_ru"
	FieldNameUK        = "name_uk"
	FieldDescriptionRU = "description_ru"
	FieldDescriptionUK = "description_uk"
	FieldImages        = "images"

	pricePrefix = "price."
	stockPrefix = "stock."
)

// Build снимок товара с его ценами и остатками
func Build(p *models.Product, prices []models.PriceRecord, stock []models.WarehouseStock) models.SnapshotData {
	data := models.SnapshotData{
		Prices:        make(map[string]decimal.Decimal, len(prices)),
		Stock:         make(map[string]int, len(stock)),
		NameRU:        p.Name.RU,
		NameUK:        p.Name.UK,
		DescriptionRU: p.Description.RU,
		DescriptionUK: p.Description.UK,
		Images:        append([]string{}, p.Images...),
	}
	for _, pr := range prices {
		data.Prices[pr.PriceType] = pr.Value
	}
	for _, st := range stock {
		data.Stock[st.WarehouseCode] = st.Quantity
	}
	return data
}

// Diff сравнивает снимки. Без предыдущего снимка возвращается одна запись added для всего товара.
// Цены и остатки сравниваются как числа. Изображения сравниваются как множества:
// не больше одной записи added и одной removed с количеством ссылок.
func Diff(previous *models.SnapshotData, current models.SnapshotData) []models.FieldDiff {
	if previous == nil {
		name := current.NameRU
		if name == "" {
			name = current.NameUK
		}
		return []models.FieldDiff{{Field: FieldProduct, Type: models.DiffAdded, NewValue: name}}
	}

	diffs := make([]models.FieldDiff, 0)
	diffs = append(diffs, diffPrices(previous.Prices, current.Prices)...)
	diffs = append(diffs, diffStock(previous.Stock, current.Stock)...)

	for _, f := range []struct {
		name     string
		old, new string
	}{
		{FieldNameRU, previous.NameRU, current.NameRU},
		{FieldNameUK, previous.NameUK, current.NameUK},
		{FieldDescriptionRU, previous.DescriptionRU, current.DescriptionRU},
		{FieldDescriptionUK, previous.DescriptionUK, current.DescriptionUK},
	} {
		if d, ok := diffText(f.name, f.old, f.new); ok {
			diffs = append(diffs, d)
		}
	}

	return append(diffs, diffImages(previous.Images, current.Images)...)
}

func diffPrices(old, cur map[string]decimal.Decimal) []models.FieldDiff {
	var out []models.FieldDiff
	for _, k := range unionKeys(old, cur) {
		ov, oldOK := old[k]
		nv, newOK := cur[k]
		oldHas := oldOK && !ov.IsZero()
		newHas := newOK && !nv.IsZero()

		d := models.FieldDiff{Field: pricePrefix + k}
		switch {
		case oldHas && newHas:
			if ov.Equal(nv) {
				continue
			}
			d.Type, d.OldValue, d.NewValue = models.DiffModified, ov.String(), nv.String()
		case !oldHas && newHas:
			d.Type, d.NewValue = models.DiffAdded, nv.String()
		case oldHas && newOK:
			d.Type, d.OldValue, d.NewValue = models.DiffModified, ov.String(), nv.String()
		case oldHas:
			d.Type, d.OldValue = models.DiffRemoved, ov.String()
		default:
			continue
		}
		out = append(out, d)
	}
	return out
}

func diffStock(old, cur map[string]int) []models.FieldDiff {
	var out []models.FieldDiff
	for _, k := range unionKeys(old, cur) {
		ov, oldOK := old[k]
		nv, newOK := cur[k]
		oldHas := oldOK && ov != 0
		newHas := newOK && nv != 0

		d := models.FieldDiff{Field: stockPrefix + k}
		switch {
		case oldHas && newHas:
			if ov == nv {
				continue
			}
			d.Type, d.OldValue, d.NewValue = models.DiffModified, strconv.Itoa(ov), strconv.Itoa(nv)
		case !oldHas && newHas:
			d.Type, d.NewValue = models.DiffAdded, strconv.Itoa(nv)
		case oldHas && newOK:
			d.Type, d.OldValue, d.NewValue = models.DiffModified, strconv.Itoa(ov), strconv.Itoa(nv)
		case oldHas:
			d.Type, d.OldValue = models.DiffRemoved, strconv.Itoa(ov)
		default:
			continue
		}
		out = append(out, d)
	}
	return out
}

func diffText(field, old, cur string) (models.FieldDiff, bool) {
	switch {
	case old == cur:
		return models.FieldDiff{}, false
	case old == "":
		return models.FieldDiff{Field: field, Type: models.DiffAdded, NewValue: cur}, true
	case cur == "":
		return models.FieldDiff{Field: field, Type: models.DiffRemoved, OldValue: old}, true
	default:
		return models.FieldDiff{Field: field, Type: models.DiffModified, OldValue: old, NewValue: cur}, true
	}
}

func diffImages(old, cur []string) []models.FieldDiff {
	oldSet := toSet(old)
	curSet := toSet(cur)

	added, removed := 0, 0
	for u := range curSet {
		if _, ok := oldSet[u]; !ok {
			added++
		}
	}
	for u := range oldSet {
		if _, ok := curSet[u]; !ok {
			removed++
		}
	}

	var out []models.FieldDiff
	if added > 0 {
		out = append(out, models.FieldDiff{Field: FieldImages, Type: models.DiffAdded, NewValue: strconv.Itoa(added)})
	}
	if removed > 0 {
		out = append(out, models.FieldDiff{Field: FieldImages, Type: models.DiffRemoved, OldValue: strconv.Itoa(removed)})
	}
	return out
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, m := range []map[string]V{a, b} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
