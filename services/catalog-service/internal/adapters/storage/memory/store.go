// Package memory хранилище каталога в памяти процесса. Используется в тестах
// и при storage.driver = memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/google/uuid"
)

var _ ports.CatalogStore = (*Store)(nil)

// Store реализация ports.CatalogStore. Do не откатывает изменения при ошибке.
type Store struct {
	mu sync.RWMutex

	supplierCategories map[string]*models.SupplierCategory
	supplierCatKeys    map[string]string
	supplierCatOrder   []string

	internalCategories map[string]*models.InternalCategory
	internalOrder      []string
	mappings           map[string]models.CategoryMapping

	brands     map[string]*models.Brand
	brandKeys  map[string]string
	brandOrder []string

	products     map[string]*models.Product
	productKeys  map[string]string
	productOrder []string
	prices       map[string][]models.PriceRecord
	stock        map[string][]models.WarehouseStock

	runs      map[string]*models.ImportRun
	runOrder  []string
	snapshots map[string]map[string]models.SnapshotData
	diffs     []models.ProductDiff

	templates map[string]*models.QualityTemplate
	logs      []models.QualityChangeLog

	now func() time.Time
}

func New() *Store {
	return &Store{
		supplierCategories: make(map[string]*models.SupplierCategory),
		supplierCatKeys:    make(map[string]string),
		internalCategories: make(map[string]*models.InternalCategory),
		mappings:           make(map[string]models.CategoryMapping),
		brands:             make(map[string]*models.Brand),
		brandKeys:          make(map[string]string),
		products:           make(map[string]*models.Product),
		productKeys:        make(map[string]string),
		prices:             make(map[string][]models.PriceRecord),
		stock:              make(map[string][]models.WarehouseStock),
		runs:               make(map[string]*models.ImportRun),
		snapshots:          make(map[string]map[string]models.SnapshotData),
		templates:          make(map[string]*models.QualityTemplate),
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += "\x00"
		}
		k += p
	}
	return k
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// ---------------------------- categories ----------------------------

func (s *Store) UpsertSupplierCategory(_ context.Context, category *models.SupplierCategory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := key(category.SupplierID, category.ExternalID)
	if id, ok := s.supplierCatKeys[k]; ok {
		existing := s.supplierCategories[id]
		existing.Name = category.Name
		existing.UpdatedAt = now
		*category = *cloneSupplierCategory(existing)
		return false, nil
	}

	if category.ID == "" {
		category.ID = uuid.New().String()
	}
	category.CreatedAt = now
	category.UpdatedAt = now
	category.ParentID = nil

	s.supplierCategories[category.ID] = cloneSupplierCategory(category)
	s.supplierCatKeys[k] = category.ID
	s.supplierCatOrder = append(s.supplierCatOrder, category.ID)
	return true, nil
}

func (s *Store) SetSupplierCategoryParent(_ context.Context, id string, parentID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.supplierCategories[id]
	if !ok {
		return fmt.Errorf("категория %s: %w", id, ports.ErrNotFound)
	}
	if parentID != nil {
		c.ParentID = models.StringPtr(*parentID)
	} else {
		c.ParentID = nil
	}
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetSupplierCategory(_ context.Context, id string) (*models.SupplierCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.supplierCategories[id]
	if !ok {
		return nil, nil
	}
	return cloneSupplierCategory(c), nil
}

func (s *Store) GetSupplierCategoryByExternalID(_ context.Context, supplierID, externalID string) (*models.SupplierCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.supplierCatKeys[key(supplierID, externalID)]
	if !ok {
		return nil, nil
	}
	return cloneSupplierCategory(s.supplierCategories[id]), nil
}

func (s *Store) ListSupplierCategories(_ context.Context, supplierID string) ([]models.SupplierCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SupplierCategory, 0)
	for _, id := range s.supplierCatOrder {
		c := s.supplierCategories[id]
		if c.SupplierID == supplierID {
			out = append(out, *cloneSupplierCategory(c))
		}
	}
	return out, nil
}

func (s *Store) CreateInternalCategory(_ context.Context, category *models.InternalCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.internalCategories {
		if c.Slug == category.Slug {
			return fmt.Errorf("slug %q уже занят", category.Slug)
		}
	}
	if category.ID == "" {
		category.ID = uuid.New().String()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = s.now()
	}

	cp := *category
	if category.ParentID != nil {
		cp.ParentID = models.StringPtr(*category.ParentID)
	}
	s.internalCategories[cp.ID] = &cp
	s.internalOrder = append(s.internalOrder, cp.ID)
	return nil
}

func (s *Store) GetInternalCategory(_ context.Context, id string) (*models.InternalCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.internalCategories[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListInternalCategories(_ context.Context) ([]models.InternalCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.InternalCategory, 0, len(s.internalOrder))
	for _, id := range s.internalOrder {
		out = append(out, *s.internalCategories[id])
	}
	return out, nil
}

func (s *Store) InternalSlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.internalCategories {
		if c.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetMapping(_ context.Context, supplierCategoryID string) (*models.CategoryMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[supplierCategoryID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) ListMappings(_ context.Context, supplierID string) ([]models.CategoryMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CategoryMapping, 0)
	for _, id := range s.supplierCatOrder {
		if s.supplierCategories[id].SupplierID != supplierID {
			continue
		}
		if m, ok := s.mappings[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) SaveMappings(_ context.Context, mappings []models.CategoryMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range mappings {
		if _, ok := s.supplierCategories[m.SupplierCategoryID]; !ok {
			return fmt.Errorf("категория поставщика %s: %w", m.SupplierCategoryID, ports.ErrNotFound)
		}
		if _, ok := s.internalCategories[m.InternalCategoryID]; !ok {
			return fmt.Errorf("внутренняя категория %s: %w", m.InternalCategoryID, ports.ErrNotFound)
		}
	}

	now := s.now()
	for _, m := range mappings {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		s.mappings[m.SupplierCategoryID] = m
	}
	return nil
}

func (s *Store) DeleteMapping(_ context.Context, supplierCategoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mappings, supplierCategoryID)
	return nil
}

// ---------------------------- brands ----------------------------

func (s *Store) UpsertBrand(_ context.Context, brand *models.Brand) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := key(brand.SupplierID, brand.ExternalRef)
	if id, ok := s.brandKeys[k]; ok {
		existing := s.brands[id]
		existing.Name = brand.Name
		existing.LogoURL = brand.LogoURL
		existing.UpdatedAt = now
		*brand = *existing
		return false, nil
	}

	if brand.ID == "" {
		brand.ID = uuid.New().String()
	}
	brand.CreatedAt = now
	brand.UpdatedAt = now

	cp := *brand
	s.brands[cp.ID] = &cp
	s.brandKeys[k] = cp.ID
	s.brandOrder = append(s.brandOrder, cp.ID)
	return true, nil
}

func (s *Store) ListBrands(_ context.Context, supplierID string) ([]models.Brand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Brand, 0)
	for _, id := range s.brandOrder {
		if b := s.brands[id]; b.SupplierID == supplierID {
			out = append(out, *b)
		}
	}
	return out, nil
}

// ---------------------------- products ----------------------------

func (s *Store) FindProductsBySKUs(_ context.Context, supplierID string, skus []string) (map[string]*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.Product, len(skus))
	for _, sku := range skus {
		if id, ok := s.productKeys[key(supplierID, sku)]; ok {
			out[sku] = cloneProduct(s.products[id])
		}
	}
	return out, nil
}

func (s *Store) InsertProducts(_ context.Context, products []*models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		if _, ok := s.productKeys[key(p.SupplierID, p.SKU)]; ok {
			return fmt.Errorf("товар %s уже существует у поставщика %s", p.SKU, p.SupplierID)
		}
	}

	now := s.now()
	for _, p := range products {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = cloneProduct(p)
		s.productKeys[key(p.SupplierID, p.SKU)] = p.ID
		s.productOrder = append(s.productOrder, p.ID)
	}
	return nil
}

// UpdateProducts обновляет данные фида, поля качества не трогает
func (s *Store) UpdateProducts(_ context.Context, products []*models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		if _, ok := s.products[p.ID]; !ok {
			return fmt.Errorf("товар %s: %w", p.ID, ports.ErrNotFound)
		}
	}

	now := s.now()
	for _, p := range products {
		existing := s.products[p.ID]
		updated := cloneProduct(p)
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = now
		updated.IsReady = existing.IsReady
		updated.CompletenessScore = existing.CompletenessScore
		updated.QualityReasons = existing.QualityReasons
		s.products[p.ID] = updated
		p.UpdatedAt = now
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return cloneProduct(p), nil
}

func (s *Store) ListProductIDs(_ context.Context, supplierID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	for _, id := range s.productOrder {
		if s.products[id].SupplierID == supplierID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) ListProductIDsByCategories(_ context.Context, supplierCategoryIDs []string) ([]string, error) {
	set := make(map[string]struct{}, len(supplierCategoryIDs))
	for _, id := range supplierCategoryIDs {
		set[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	for _, id := range s.productOrder {
		if _, ok := set[s.products[id].SupplierCategoryID]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) ReplacePrices(_ context.Context, productID, source string, prices []models.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return fmt.Errorf("товар %s: %w", productID, ports.ErrNotFound)
	}

	kept := make([]models.PriceRecord, 0, len(prices))
	for _, p := range s.prices[productID] {
		if p.Source != source {
			kept = append(kept, p)
		}
	}
	for _, p := range prices {
		p.ProductID = productID
		p.Source = source
		kept = append(kept, p)
	}
	s.prices[productID] = kept
	return nil
}

func (s *Store) ListPrices(_ context.Context, productID string) ([]models.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.PriceRecord{}, s.prices[productID]...), nil
}

func (s *Store) ReplaceStock(_ context.Context, productID string, stock []models.WarehouseStock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return fmt.Errorf("товар %s: %w", productID, ports.ErrNotFound)
	}

	rows := make([]models.WarehouseStock, 0, len(stock))
	for _, st := range stock {
		st.ProductID = productID
		rows = append(rows, st)
	}
	s.stock[productID] = rows
	return nil
}

func (s *Store) ListStock(_ context.Context, productID string) ([]models.WarehouseStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.WarehouseStock{}, s.stock[productID]...), nil
}

func (s *Store) UpdateProductQuality(_ context.Context, productID string, result models.QualityResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("товар %s: %w", productID, ports.ErrNotFound)
	}
	p.CompletenessScore = result.Completeness
	p.IsReady = result.IsReady
	p.QualityReasons = append([]models.BlockingReason(nil), result.Reasons...)
	return nil
}

// ---------------------------- imports ----------------------------

func (s *Store) CreateImportRun(_ context.Context, run *models.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Status == models.ImportStatusProcessing {
		for _, r := range s.runs {
			if r.SupplierID == run.SupplierID && r.Status == models.ImportStatusProcessing {
				return ports.ErrImportInProgress
			}
		}
	}

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("импорт %s уже существует", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}

	s.runs[run.ID] = cloneRun(run)
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *Store) UpdateImportRun(_ context.Context, run *models.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("импорт %s: %w", run.ID, ports.ErrNotFound)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) GetImportRun(_ context.Context, id string) (*models.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return cloneRun(r), nil
}

// ListImportRuns новые запуски первыми
func (s *Store) ListImportRuns(_ context.Context, supplierID string, limit, offset int) ([]models.ImportRun, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.ImportRun
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		r := s.runs[s.runOrder[i]]
		if supplierID == "" || r.SupplierID == supplierID {
			all = append(all, *cloneRun(r))
		}
	}
	return page(all, limit, offset), int64(len(all)), nil
}

func (s *Store) LatestCompletedImport(_ context.Context, supplierID string) (*models.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.runOrder) - 1; i >= 0; i-- {
		r := s.runs[s.runOrder[i]]
		if r.SupplierID == supplierID && r.Status == models.ImportStatusCompleted {
			return cloneRun(r), nil
		}
	}
	return nil, nil
}

func (s *Store) GetSnapshots(_ context.Context, importID string, externalIDs []string) (map[string]models.SnapshotData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.SnapshotData, len(externalIDs))
	byProduct := s.snapshots[importID]
	for _, ext := range externalIDs {
		if data, ok := byProduct[ext]; ok {
			out[ext] = data
		}
	}
	return out, nil
}

func (s *Store) SaveSnapshots(_ context.Context, snapshots []models.ImportSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		if s.snapshots[snap.ImportID] == nil {
			s.snapshots[snap.ImportID] = make(map[string]models.SnapshotData)
		}
		s.snapshots[snap.ImportID][snap.ProductExternalID] = snap.Data
	}
	return nil
}

func (s *Store) SaveDiffs(_ context.Context, diffs []models.ProductDiff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, d := range diffs {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		s.diffs = append(s.diffs, d)
	}
	return nil
}

func (s *Store) ListDiffs(_ context.Context, importID string, limit, offset int) ([]models.ProductDiff, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.ProductDiff
	for _, d := range s.diffs {
		if d.ImportID == importID {
			all = append(all, d)
		}
	}
	return page(all, limit, offset), int64(len(all)), nil
}

// ---------------------------- quality ----------------------------

func (s *Store) GetQualityTemplate(_ context.Context, internalCategoryID string) (*models.QualityTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[internalCategoryID]
	if !ok {
		return nil, nil
	}
	cp := *t
	cp.RequiredAttributes = append([]string(nil), t.RequiredAttributes...)
	return &cp, nil
}

func (s *Store) UpsertQualityTemplate(_ context.Context, template *models.QualityTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	template.UpdatedAt = s.now()
	cp := *template
	cp.RequiredAttributes = append([]string(nil), template.RequiredAttributes...)
	s.templates[template.InternalCategoryID] = &cp
	return nil
}

func (s *Store) AppendQualityLog(_ context.Context, entry *models.QualityChangeLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *Store) ListQualityLogs(_ context.Context, productID string) ([]models.QualityChangeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.QualityChangeLog, 0)
	for _, l := range s.logs {
		if l.ProductID == productID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------- helpers ----------------------------

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func cloneSupplierCategory(c *models.SupplierCategory) *models.SupplierCategory {
	cp := *c
	if c.ParentID != nil {
		cp.ParentID = models.StringPtr(*c.ParentID)
	}
	return &cp
}

func cloneProduct(p *models.Product) *models.Product {
	cp := *p
	cp.AttributesRU = cloneMap(p.AttributesRU)
	cp.AttributesUK = cloneMap(p.AttributesUK)
	cp.Images = append([]string(nil), p.Images...)
	cp.QualityReasons = append([]models.BlockingReason(nil), p.QualityReasons...)
	return &cp
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRun(r *models.ImportRun) *models.ImportRun {
	cp := *r
	cp.SelectedCategories = append([]string(nil), r.SelectedCategories...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
