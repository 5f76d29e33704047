package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/normalize"
	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedFeed фид не является корректным JSON-объектом
	ErrMalformedFeed = errors.New("malformed feed")
	// ErrMissingProducts в фиде нет коллекции products
	ErrMissingProducts = errors.New("feed has no products collection")

	errNotObject = errors.New("expected JSON object")
)

// Сущности для ошибок отдельных записей
const (
	EntityCategory = "category"
	EntityBrand    = "brand"
	EntityProduct  = "product"
)

// RecordError ошибка отдельной записи фида. Не прерывает импорт.
type RecordError struct {
	Entity string
	Key    string
	Err    error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Entity, e.Key, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// BrandInput бренд из фида
type BrandInput struct {
	ExternalRef string
	Name        string
	LogoURL     string
}

// AttributeValue значение атрибута товара по ссылке на словарь атрибутов
type AttributeValue struct {
	Ref   string
	Value models.LocalizedText
}

// ProductRecord проверенная запись товара
type ProductRecord struct {
	SKU         string
	Barcode     string
	VendorCode  string
	BrandRef    string
	CategoryRef string
	Name        models.LocalizedText
	Description models.LocalizedText
	Currency    string
	// Prices тип цены -> значение
	Prices     map[string]decimal.Decimal
	Balance    *int
	Warehouses map[string]int
	Attributes []AttributeValue
	Images     []string
}

// TotalStock общий остаток: balance, а если его нет, сумма по складам
func (r *ProductRecord) TotalStock() int {
	if r.Balance != nil {
		return *r.Balance
	}
	total := 0
	for _, q := range r.Warehouses {
		total += q
	}
	return total
}

// Document разобранный фид. Порядок записей совпадает с порядком в файле.
type Document struct {
	Categories     []models.CategoryInput
	Brands         []BrandInput
	Products       []ProductRecord
	AttributeNames map[string]models.LocalizedText
	Invalid        []RecordError
}

// Parse разбирает фид. Фатальны только неподдерживаемый формат, некорректный JSON
// и отсутствие коллекции products. Некорректные записи попадают в Document.Invalid.
func Parse(raw *RawFeed) (*Document, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: пустой фид", ErrMalformedFeed)
	}
	if raw.Format != FormatJSON {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, raw.Format)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw.Data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: ожидался объект", ErrMalformedFeed)
	}

	productsRaw, ok := top["products"]
	if !ok || isNull(productsRaw) {
		return nil, ErrMissingProducts
	}
	productEntries, err := orderedObject(productsRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: products: %v", ErrMalformedFeed, err)
	}

	doc := &Document{AttributeNames: make(map[string]models.LocalizedText)}

	if section, ok := top["attributes"]; ok && !isNull(section) {
		entries, err := orderedObject(section)
		if err != nil {
			doc.Invalid = append(doc.Invalid, RecordError{Entity: "attributes", Key: "*", Err: err})
		}
		for _, e := range entries {
			var name models.LocalizedText
			if err := json.Unmarshal(e.Value, &name); err != nil {
				continue
			}
			doc.AttributeNames[e.Key] = name
		}
	}

	if section, ok := top["categories"]; ok && !isNull(section) {
		entries, err := orderedObject(section)
		if err != nil {
			doc.Invalid = append(doc.Invalid, RecordError{Entity: EntityCategory, Key: "*", Err: err})
		}
		for _, e := range entries {
			c, err := parseCategory(e)
			if err != nil {
				doc.Invalid = append(doc.Invalid, RecordError{Entity: EntityCategory, Key: e.Key, Err: err})
				continue
			}
			doc.Categories = append(doc.Categories, c)
		}
	}

	if section, ok := top["brands"]; ok && !isNull(section) {
		entries, err := orderedObject(section)
		if err != nil {
			doc.Invalid = append(doc.Invalid, RecordError{Entity: EntityBrand, Key: "*", Err: err})
		}
		for _, e := range entries {
			b, err := parseBrand(e)
			if err != nil {
				doc.Invalid = append(doc.Invalid, RecordError{Entity: EntityBrand, Key: e.Key, Err: err})
				continue
			}
			doc.Brands = append(doc.Brands, b)
		}
	}

	for _, e := range productEntries {
		p, err := parseProduct(e)
		if err != nil {
			doc.Invalid = append(doc.Invalid, RecordError{Entity: EntityProduct, Key: e.Key, Err: err})
			continue
		}
		doc.Products = append(doc.Products, p)
	}

	return doc, nil
}

// ---------------------------- wire types ----------------------------

// flexString строка, которая может прийти числом
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case isNull(data):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("ожидалась строка или число: %s", string(data))
		}
		*s = flexString(n.String())
	}
	return nil
}

type wireCategory struct {
	Name      models.LocalizedText `json:"name"`
	ParentRef flexString           `json:"parent_ref"`
}

type wireBrand struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

type wirePricePair struct {
	Current normalize.FlexNumber `json:"current"`
	Old     normalize.FlexNumber `json:"old"`
}

type wirePrices struct {
	Retail   *wirePricePair `json:"retail"`
	Purchase *struct {
		Cash *wirePricePair `json:"cash"`
	} `json:"purchase"`
}

type wireMain struct {
	SKU               flexString                      `json:"sku"`
	Barcode           flexString                      `json:"barcode"`
	Name              models.LocalizedText            `json:"name"`
	VendorCode        flexString                      `json:"vendorCode"`
	Description       models.LocalizedText            `json:"description"`
	Brand             flexString                      `json:"brand"`
	Category          flexString                      `json:"category"`
	Currency          string                          `json:"currency"`
	Prices            wirePrices                      `json:"prices"`
	Balance           normalize.FlexNumber            `json:"balance"`
	WarehouseBalances map[string]normalize.FlexNumber `json:"warehouse_balances"`
}

type wireImages struct {
	Main       string          `json:"main"`
	Additional json.RawMessage `json:"additional"`
}

type wireProduct struct {
	Main       *wireMain       `json:"main"`
	Attributes json.RawMessage `json:"attributes"`
	Images     *wireImages     `json:"images"`
}

// ---------------------------- records ----------------------------

func parseCategory(e keyedRaw) (models.CategoryInput, error) {
	var w wireCategory
	if err := json.Unmarshal(e.Value, &w); err != nil {
		return models.CategoryInput{}, err
	}
	if strings.TrimSpace(e.Key) == "" {
		return models.CategoryInput{}, errors.New("пустой id категории")
	}
	return models.CategoryInput{
		ExternalID:       strings.TrimSpace(e.Key),
		Name:             w.Name,
		ParentExternalID: string(w.ParentRef),
	}, nil
}

func parseBrand(e keyedRaw) (BrandInput, error) {
	var w wireBrand
	if err := json.Unmarshal(e.Value, &w); err != nil {
		return BrandInput{}, err
	}
	ref := strings.TrimSpace(e.Key)
	if ref == "" {
		return BrandInput{}, errors.New("пустая ссылка бренда")
	}
	name := strings.TrimSpace(w.Name)
	if name == "" {
		name = ref
	}
	return BrandInput{ExternalRef: ref, Name: name, LogoURL: strings.TrimSpace(w.Image)}, nil
}

func parseProduct(e keyedRaw) (ProductRecord, error) {
	var w wireProduct
	if err := json.Unmarshal(e.Value, &w); err != nil {
		return ProductRecord{}, err
	}
	if w.Main == nil {
		return ProductRecord{}, errors.New("нет блока main")
	}
	m := w.Main

	sku := string(m.SKU)
	if sku == "" {
		sku = strings.TrimSpace(e.Key)
	}
	if sku == "" {
		return ProductRecord{}, errors.New("пустой sku")
	}
	if m.Name.IsEmpty() {
		return ProductRecord{}, errors.New("пустое название")
	}

	rec := ProductRecord{
		SKU:         sku,
		Barcode:     string(m.Barcode),
		VendorCode:  string(m.VendorCode),
		BrandRef:    string(m.Brand),
		CategoryRef: string(m.Category),
		Name:        m.Name,
		Description: m.Description,
		Currency:    strings.ToUpper(strings.TrimSpace(m.Currency)),
		Prices:      make(map[string]decimal.Decimal),
		Warehouses:  make(map[string]int, len(m.WarehouseBalances)),
	}

	addPrice := func(priceType string, n normalize.FlexNumber) {
		if n.Set {
			rec.Prices[priceType] = n.Value
		}
	}
	if p := m.Prices.Retail; p != nil {
		addPrice(models.PriceRetailCurrent, p.Current)
		addPrice(models.PriceRetailOld, p.Old)
	}
	if m.Prices.Purchase != nil && m.Prices.Purchase.Cash != nil {
		addPrice(models.PricePurchaseCashCurrent, m.Prices.Purchase.Cash.Current)
		addPrice(models.PricePurchaseCashOld, m.Prices.Purchase.Cash.Old)
	}

	if m.Balance.Set {
		b := normalize.Quantity(m.Balance.Value)
		rec.Balance = &b
	}
	for code, q := range m.WarehouseBalances {
		if code = strings.TrimSpace(code); code == "" || !q.Set {
			continue
		}
		rec.Warehouses[code] = normalize.Quantity(q.Value)
	}

	if len(w.Attributes) > 0 && !isNull(w.Attributes) {
		entries, err := orderedObject(w.Attributes)
		if err != nil {
			return ProductRecord{}, fmt.Errorf("attributes: %w", err)
		}
		for _, a := range entries {
			var v models.LocalizedText
			if err := json.Unmarshal(a.Value, &v); err != nil {
				var n json.Number
				if json.Unmarshal(a.Value, &n) != nil {
					return ProductRecord{}, fmt.Errorf("атрибут %q: %w", a.Key, err)
				}
				v = models.LocalizedText{RU: n.String(), UK: n.String()}
			}
			rec.Attributes = append(rec.Attributes, AttributeValue{Ref: a.Key, Value: v})
		}
	}

	if w.Images != nil {
		images, err := collectImages(w.Images)
		if err != nil {
			return ProductRecord{}, fmt.Errorf("images: %w", err)
		}
		rec.Images = images
	}

	return rec, nil
}

// collectImages главное изображение первым, дополнительные в порядке фида, без повторов.
// additional может быть объектом или массивом.
func collectImages(w *wireImages) ([]string, error) {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	add(w.Main)

	extra := bytes.TrimSpace(w.Additional)
	switch {
	case len(extra) == 0 || isNull(extra):
	case extra[0] == '[':
		var list []string
		if err := json.Unmarshal(extra, &list); err != nil {
			return nil, err
		}
		for _, u := range list {
			add(u)
		}
	default:
		entries, err := orderedObject(extra)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			var u string
			if err := json.Unmarshal(e.Value, &u); err != nil {
				return nil, fmt.Errorf("изображение %q: %w", e.Key, err)
			}
			add(u)
		}
	}

	return urls, nil
}

// ---------------------------- helpers ----------------------------

type keyedRaw struct {
	Key   string
	Value json.RawMessage
}

// orderedObject читает объект JSON с сохранением порядка ключей
func orderedObject(data []byte) ([]keyedRaw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}

	var out []keyedRaw
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("некорректный ключ: %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("значение %q: %w", key, err)
		}
		out = append(out, keyedRaw{Key: key, Value: v})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
