package snapshot

import (
	"testing"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/normalize"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNumber(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := normalize.ParseNumeric(s)
	require.NoError(t, err)
	return d
}

func baseSnapshot(t *testing.T) models.SnapshotData {
	return models.SnapshotData{
		Prices:        map[string]decimal.Decimal{models.PriceRetailCurrent: mustNumber(t, "199,99")},
		Stock:         map[string]int{"kyiv": 5},
		NameRU:        "Платье",
		NameUK:        "Сукня",
		DescriptionRU: "Описание",
		Images:        []string{"https://cdn/a.jpg", "https://cdn/b.jpg"},
	}
}

func TestDiff_FirstSighting(t *testing.T) {
	diffs := Diff(nil, baseSnapshot(t))
	require.Len(t, diffs, 1)
	assert.Equal(t, models.DiffAdded, diffs[0].Type)
	assert.Equal(t, FieldProduct, diffs[0].Field)
	assert.Equal(t, "Платье", diffs[0].NewValue)

	assert.Len(t, Diff(nil, models.SnapshotData{}), 1)
}

func TestDiff_Identical(t *testing.T) {
	s := baseSnapshot(t)
	assert.Empty(t, Diff(&s, baseSnapshot(t)))
}

func TestDiff_NumericFormattingIsNotAChange(t *testing.T) {
	prev := baseSnapshot(t)
	cur := baseSnapshot(t)
	cur.Prices[models.PriceRetailCurrent] = mustNumber(t, "199.990")
	assert.Empty(t, Diff(&prev, cur))
}

func TestDiff_FieldChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cur *models.SnapshotData)
		want   []models.FieldDiff
	}{
		{
			name: "изменение цены",
			mutate: func(cur *models.SnapshotData) {
				cur.Prices[models.PriceRetailCurrent] = decimal.RequireFromString("149.5")
			},
			want: []models.FieldDiff{{Field: "price.retail.current", Type: models.DiffModified, OldValue: "199.99", NewValue: "149.5"}},
		},
		{
			name: "новый тип цены",
			mutate: func(cur *models.SnapshotData) {
				cur.Prices[models.PriceRetailOld] = decimal.RequireFromString("250")
			},
			want: []models.FieldDiff{{Field: "price.retail.old", Type: models.DiffAdded, NewValue: "250"}},
		},
		{
			name: "цена пропала",
			mutate: func(cur *models.SnapshotData) {
				delete(cur.Prices, models.PriceRetailCurrent)
			},
			want: []models.FieldDiff{{Field: "price.retail.current", Type: models.DiffRemoved, OldValue: "199.99"}},
		},
		{
			name: "остаток обнулился",
			mutate: func(cur *models.SnapshotData) {
				cur.Stock["kyiv"] = 0
			},
			want: []models.FieldDiff{{Field: "stock.kyiv", Type: models.DiffModified, OldValue: "5", NewValue: "0"}},
		},
		{
			name: "новый склад",
			mutate: func(cur *models.SnapshotData) {
				cur.Stock["lviv"] = 3
			},
			want: []models.FieldDiff{{Field: "stock.lviv", Type: models.DiffAdded, NewValue: "3"}},
		},
		{
			name: "переименование",
			mutate: func(cur *models.SnapshotData) {
				cur.NameRU = "Вечернее платье"
			},
			want: []models.FieldDiff{{Field: FieldNameRU, Type: models.DiffModified, OldValue: "Платье", NewValue: "Вечернее платье"}},
		},
		{
			name: "появилось украинское описание",
			mutate: func(cur *models.SnapshotData) {
				cur.DescriptionUK = "Опис"
			},
			want: []models.FieldDiff{{Field: FieldDescriptionUK, Type: models.DiffAdded, NewValue: "Опис"}},
		},
		{
			name: "изображения заменены",
			mutate: func(cur *models.SnapshotData) {
				cur.Images = []string{"https://cdn/a.jpg", "https://cdn/c.jpg", "https://cdn/d.jpg"}
			},
			want: []models.FieldDiff{
				{Field: FieldImages, Type: models.DiffAdded, NewValue: "2"},
				{Field: FieldImages, Type: models.DiffRemoved, OldValue: "1"},
			},
		},
		{
			name: "порядок изображений не важен",
			mutate: func(cur *models.SnapshotData) {
				cur.Images = []string{"https://cdn/b.jpg", "https://cdn/a.jpg"}
			},
			want: []models.FieldDiff{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := baseSnapshot(t)
			cur := baseSnapshot(t)
			tt.mutate(&cur)
			assert.Equal(t, tt.want, Diff(&prev, cur))
		})
	}
}

func TestBuild(t *testing.T) {
	p := &models.Product{
		Name:        models.LocalizedText{RU: "Платье", UK: "Сукня"},
		Description: models.LocalizedText{RU: "Описание"},
		Images:      []string{"https://cdn/a.jpg"},
	}
	prices := []models.PriceRecord{{PriceType: models.PriceRetailCurrent, Value: decimal.RequireFromString("10")}}
	stock := []models.WarehouseStock{{WarehouseCode: "kyiv", Quantity: 2}}

	data := Build(p, prices, stock)
	assert.Equal(t, "Сукня", data.NameUK)
	assert.True(t, data.Prices[models.PriceRetailCurrent].Equal(decimal.RequireFromString("10")))
	assert.Equal(t, 2, data.Stock["kyiv"])
	assert.Equal(t, []string{"https://cdn/a.jpg"}, data.Images)
}
