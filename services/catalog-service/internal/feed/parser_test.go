package feed

import (
	"testing"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `{
	"attributes": {
		"a1": {"ru": "Цвет", "uk": "Колір"},
		"a2": {"ru": "Размер"}
	},
	"categories": {
		"cat2": {"name": {"ru": "Платья", "uk": "Сукні"}, "parent_ref": "cat1"},
		"cat1": {"name": {"ru": "Одежда", "uk": "Одяг"}},
		"7": {"name": "Обувь", "parent_ref": 1}
	},
	"brands": {
		"b1": {"name": "Acme", "image": "https://cdn/acme.png"},
		"b2": {}
	},
	"products": {
		"sku-1": {
			"main": {
				"sku": "sku-1",
				"barcode": 4820000000011,
				"name": {"ru": "Платье", "uk": "Сукня"},
				"vendorCode": "VC-1",
				"description": {"ru": "Описание", "uk": "Опис"},
				"brand": "b1",
				"category": "cat2",
				"currency": "uah",
				"prices": {
					"retail": {"current": "199,99", "old": 250},
					"purchase": {"cash": {"current": "120.5"}}
				},
				"balance": "3",
				"warehouse_balances": {"kyiv": "2", "lviv": 1}
			},
			"attributes": {"a1": {"ru": "красный", "uk": "червоний"}, "a2": 42},
			"images": {
				"main": "https://cdn/1.jpg",
				"additional": {"0": "https://cdn/2.jpg", "1": "https://cdn/1.jpg"}
			}
		},
		"sku-2": {
			"main": {
				"name": "Юбка",
				"category": "cat1",
				"prices": {"retail": {"current": 99}},
				"warehouse_balances": {"kyiv": "2", "lviv": "-1"}
			},
			"images": {"additional": ["https://cdn/3.jpg", ""]}
		},
		"sku-3": {"main": {"sku": "sku-3"}},
		"sku-4": "broken",
		"sku-5": {"main": {"name": "Шарф", "prices": {"retail": {"current": "1 000"}}}}
	}
}`

func parseSample(t *testing.T) *Document {
	t.Helper()
	doc, err := Parse(&RawFeed{Filename: "feed.json", Format: FormatJSON, Data: []byte(sampleFeed)})
	require.NoError(t, err)
	return doc
}

func TestParse_KeepsFeedOrder(t *testing.T) {
	doc := parseSample(t)

	require.Len(t, doc.Categories, 3)
	assert.Equal(t, "cat2", doc.Categories[0].ExternalID)
	assert.Equal(t, "cat1", doc.Categories[0].ParentExternalID)
	assert.Equal(t, "cat1", doc.Categories[1].ExternalID)
	assert.Equal(t, "", doc.Categories[1].ParentExternalID)
	assert.Equal(t, "1", doc.Categories[2].ParentExternalID, "числовая ссылка на родителя")
	assert.Equal(t, models.LocalizedText{RU: "Обувь", UK: "Обувь"}, doc.Categories[2].Name)

	require.Len(t, doc.Brands, 2)
	assert.Equal(t, BrandInput{ExternalRef: "b1", Name: "Acme", LogoURL: "https://cdn/acme.png"}, doc.Brands[0])
	assert.Equal(t, "b2", doc.Brands[1].Name, "без названия используется ссылка")

	assert.Equal(t, "Колір", doc.AttributeNames["a1"].UK)
}

func TestParse_Product(t *testing.T) {
	doc := parseSample(t)
	require.Len(t, doc.Products, 2)

	p := doc.Products[0]
	assert.Equal(t, "sku-1", p.SKU)
	assert.Equal(t, "4820000000011", p.Barcode)
	assert.Equal(t, "VC-1", p.VendorCode)
	assert.Equal(t, "b1", p.BrandRef)
	assert.Equal(t, "cat2", p.CategoryRef)
	assert.Equal(t, "UAH", p.Currency)

	require.Len(t, p.Prices, 3)
	assert.True(t, p.Prices[models.PriceRetailCurrent].Equal(decimal.RequireFromString("199.99")))
	assert.True(t, p.Prices[models.PriceRetailOld].Equal(decimal.NewFromInt(250)))
	assert.True(t, p.Prices[models.PricePurchaseCashCurrent].Equal(decimal.RequireFromString("120.5")))

	require.NotNil(t, p.Balance)
	assert.Equal(t, 3, p.TotalStock(), "balance важнее суммы по складам")
	assert.Equal(t, map[string]int{"kyiv": 2, "lviv": 1}, p.Warehouses)

	assert.Equal(t, []string{"https://cdn/1.jpg", "https://cdn/2.jpg"}, p.Images)

	require.Len(t, p.Attributes, 2)
	assert.Equal(t, "a1", p.Attributes[0].Ref)
	assert.Equal(t, "червоний", p.Attributes[0].Value.UK)
	assert.Equal(t, "42", p.Attributes[1].Value.RU)
}

func TestParse_SkuFromKeyAndStockSum(t *testing.T) {
	doc := parseSample(t)
	p := doc.Products[1]

	assert.Equal(t, "sku-2", p.SKU)
	assert.Equal(t, "Юбка", p.Name.UK)
	assert.True(t, p.Prices[models.PriceRetailCurrent].Equal(decimal.NewFromInt(99)))
	assert.Nil(t, p.Balance)
	assert.Equal(t, 2, p.TotalStock(), "отрицательный остаток считается нулем")
	assert.Equal(t, []string{"https://cdn/3.jpg"}, p.Images)
}

func TestParse_InvalidRecordsCollected(t *testing.T) {
	doc := parseSample(t)

	keys := make([]string, 0, len(doc.Invalid))
	for _, e := range doc.Invalid {
		assert.Equal(t, EntityProduct, e.Entity)
		assert.Error(t, e.Err)
		keys = append(keys, e.Key)
	}
	// sku-5: цена с разделителем тысяч делает запись некорректной
	assert.Equal(t, []string{"sku-3", "sku-4", "sku-5"}, keys)
}

func TestParse_FatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     *RawFeed
		wantErr error
	}{
		{
			name:    "нет фида",
			raw:     nil,
			wantErr: ErrMalformedFeed,
		},
		{
			name:    "неподдерживаемый формат",
			raw:     &RawFeed{Format: "yml", Data: []byte(`{}`)},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "некорректный JSON",
			raw:     &RawFeed{Format: FormatJSON, Data: []byte(`{"products": `)},
			wantErr: ErrMalformedFeed,
		},
		{
			name:    "верхний уровень не объект",
			raw:     &RawFeed{Format: FormatJSON, Data: []byte(`[1, 2]`)},
			wantErr: ErrMalformedFeed,
		},
		{
			name:    "нет products",
			raw:     &RawFeed{Format: FormatJSON, Data: []byte(`{"categories": {}}`)},
			wantErr: ErrMissingProducts,
		},
		{
			name:    "products равен null",
			raw:     &RawFeed{Format: FormatJSON, Data: []byte(`{"products": null}`)},
			wantErr: ErrMissingProducts,
		},
		{
			name:    "products не объект",
			raw:     &RawFeed{Format: FormatJSON, Data: []byte(`{"products": [1]}`)},
			wantErr: ErrMalformedFeed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.raw)
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_MalformedOptionalSection(t *testing.T) {
	doc, err := Parse(&RawFeed{Format: FormatJSON, Data: []byte(`{"categories": "oops", "products": {}}`)})
	require.NoError(t, err)
	assert.Empty(t, doc.Products)
	require.Len(t, doc.Invalid, 1)
	assert.Equal(t, EntityCategory, doc.Invalid[0].Entity)
}
