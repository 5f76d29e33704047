package services

import (
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/categories"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
)

// InvalidRecord запись фида, не прошедшая проверку
type InvalidRecord struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
	Error  string `json:"error"`
}

// PrescanResult содержимое фида без записи в хранилище
type PrescanResult struct {
	Filename      string                `json:"filename"`
	Products      int                   `json:"products"`
	Brands        int                   `json:"brands"`
	Categories    int                   `json:"categories"`
	Uncategorized int                   `json:"uncategorized"`
	Invalid       []InvalidRecord       `json:"invalid,omitempty"`
	Tree          []*categories.TreeNode `json:"tree"`
}

// Prescan разбирает фид и строит дерево категорий с числом товаров в каждой,
// чтобы оператор мог выбрать категории для импорта
func (p *ImportPipeline) Prescan(raw *feed.RawFeed) (*PrescanResult, error) {
	doc, err := feed.Parse(raw)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(doc.Categories))
	uncategorized := 0
	for _, rec := range doc.Products {
		if rec.CategoryRef == "" {
			uncategorized++
			continue
		}
		counts[rec.CategoryRef]++
	}

	items := make([]categories.TreeItem, 0, len(doc.Categories))
	known := make(map[string]struct{}, len(doc.Categories))
	for _, c := range doc.Categories {
		known[c.ExternalID] = struct{}{}
		items = append(items, categories.TreeItem{
			ID:           c.ExternalID,
			ParentID:     c.ParentExternalID,
			ExternalID:   c.ExternalID,
			Name:         c.Name.Default(),
			NameUK:       c.Name.UK,
			ProductCount: counts[c.ExternalID],
		})
	}
	// товары со ссылкой на категорию, которой нет в фиде
	for ref, n := range counts {
		if _, ok := known[ref]; !ok {
			uncategorized += n
		}
	}

	result := &PrescanResult{
		Filename:      raw.Filename,
		Products:      len(doc.Products),
		Brands:        len(doc.Brands),
		Categories:    len(doc.Categories),
		Uncategorized: uncategorized,
		Tree:          categories.BuildTree(items),
	}
	for _, invalid := range doc.Invalid {
		result.Invalid = append(result.Invalid, InvalidRecord{Entity: invalid.Entity, Key: invalid.Key, Error: invalid.Err.Error()})
	}
	return result, nil
}
