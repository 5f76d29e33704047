package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const productColumns = `id, supplier_id, sku, barcode, vendor_code, brand_ref, supplier_category_id,
	name_ru, name_uk, description_ru, description_uk, attributes_ru, attributes_uk, images,
	total_stock, is_ready, completeness_score, quality_reasons, created_at, updated_at`

func scanProduct(row scanner) (*models.Product, error) {
	var (
		p          models.Product
		categoryID *string
		attrsRU    []byte
		attrsUK    []byte
		reasons    []string
	)
	err := row.Scan(&p.ID, &p.SupplierID, &p.SKU, &p.Barcode, &p.VendorCode, &p.BrandRef, &categoryID,
		&p.Name.RU, &p.Name.UK, &p.Description.RU, &p.Description.UK, &attrsRU, &attrsUK, &p.Images,
		&p.TotalStock, &p.IsReady, &p.CompletenessScore, &reasons, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if categoryID != nil {
		p.SupplierCategoryID = *categoryID
	}
	if err := unmarshalAttributes(attrsRU, &p.AttributesRU); err != nil {
		return nil, err
	}
	if err := unmarshalAttributes(attrsUK, &p.AttributesUK); err != nil {
		return nil, err
	}
	for _, r := range reasons {
		p.QualityReasons = append(p.QualityReasons, models.BlockingReason(r))
	}
	return &p, nil
}

func unmarshalAttributes(data []byte, dst *map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode attributes: %w", err)
	}
	if len(m) > 0 {
		*dst = m
	}
	return nil
}

func marshalAttributes(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func (s *Storage) FindProductsBySKUs(ctx context.Context, supplierID string, skus []string) (map[string]*models.Product, error) {
	out := make(map[string]*models.Product, len(skus))
	if len(skus) == 0 {
		return out, nil
	}

	rows, err := s.getExecutor(ctx).Query(ctx,
		`SELECT `+productColumns+` FROM catalog.products WHERE supplier_id = $1 AND sku = ANY($2)`,
		supplierID, skus)
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out[p.SKU] = p
	}
	return out, rows.Err()
}

// InsertProducts вставляет товары одной пачкой запросов
func (s *Storage) InsertProducts(ctx context.Context, products []*models.Product) error {
	now := s.now()
	batch := &pgx.Batch{}
	for _, p := range products {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.CreatedAt = now
		p.UpdatedAt = now

		attrsRU, err := marshalAttributes(p.AttributesRU)
		if err != nil {
			return err
		}
		attrsUK, err := marshalAttributes(p.AttributesUK)
		if err != nil {
			return err
		}

		batch.Queue(`
			INSERT INTO catalog.products (id, supplier_id, sku, barcode, vendor_code, brand_ref, supplier_category_id,
				name_ru, name_uk, description_ru, description_uk, attributes_ru, attributes_uk, images,
				total_stock, is_ready, completeness_score, quality_reasons, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)`,
			p.ID, p.SupplierID, p.SKU, p.Barcode, p.VendorCode, p.BrandRef, nullableID(p.SupplierCategoryID),
			p.Name.RU, p.Name.UK, p.Description.RU, p.Description.UK, attrsRU, attrsUK, nonNil(p.Images),
			p.TotalStock, p.IsReady, p.CompletenessScore, reasonStrings(p.QualityReasons), now)
	}

	if _, err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert products: %w", err)
	}
	return nil
}

// UpdateProducts обновляет данные фида, поля качества не трогает
func (s *Storage) UpdateProducts(ctx context.Context, products []*models.Product) error {
	now := s.now()
	batch := &pgx.Batch{}
	for _, p := range products {
		attrsRU, err := marshalAttributes(p.AttributesRU)
		if err != nil {
			return err
		}
		attrsUK, err := marshalAttributes(p.AttributesUK)
		if err != nil {
			return err
		}

		batch.Queue(`
			UPDATE catalog.products SET
				barcode = $2, vendor_code = $3, brand_ref = $4, supplier_category_id = $5,
				name_ru = $6, name_uk = $7, description_ru = $8, description_uk = $9,
				attributes_ru = $10, attributes_uk = $11, images = $12, total_stock = $13, updated_at = $14
			WHERE id = $1`,
			p.ID, p.Barcode, p.VendorCode, p.BrandRef, nullableID(p.SupplierCategoryID),
			p.Name.RU, p.Name.UK, p.Description.RU, p.Description.UK,
			attrsRU, attrsUK, nonNil(p.Images), p.TotalStock, now)
	}

	affected, err := s.sendBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to update products: %w", err)
	}
	for i, n := range affected {
		if n == 0 {
			return fmt.Errorf("товар %s: %w", products[i].ID, ports.ErrNotFound)
		}
	}
	for _, p := range products {
		p.UpdatedAt = now
	}
	return nil
}

func (s *Storage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := s.getExecutor(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM catalog.products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *Storage) ListProductIDs(ctx context.Context, supplierID string) ([]string, error) {
	rows, err := s.getExecutor(ctx).Query(ctx,
		`SELECT id FROM catalog.products WHERE supplier_id = $1 ORDER BY seq`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product ids: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Storage) ListProductIDsByCategories(ctx context.Context, supplierCategoryIDs []string) ([]string, error) {
	if len(supplierCategoryIDs) == 0 {
		return []string{}, nil
	}
	rows, err := s.getExecutor(ctx).Query(ctx,
		`SELECT id FROM catalog.products WHERE supplier_category_id = ANY($1) ORDER BY seq`, supplierCategoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list product ids by categories: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Storage) productExists(ctx context.Context, id string) error {
	var exists bool
	err := s.getExecutor(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog.products WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return fmt.Errorf("товар %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

// ReplacePrices заменяет цены товара из указанного источника, цены других источников остаются
func (s *Storage) ReplacePrices(ctx context.Context, productID, source string, prices []models.PriceRecord) error {
	if err := s.productExists(ctx, productID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM catalog.product_prices WHERE product_id = $1 AND source = $2`, productID, source)
	for _, p := range prices {
		batch.Queue(`
			INSERT INTO catalog.product_prices (product_id, price_type, value, currency, source)
			VALUES ($1, $2, $3::numeric, $4, $5)`,
			productID, p.PriceType, p.Value.String(), p.Currency, source)
	}

	if _, err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to replace prices: %w", err)
	}
	return nil
}

func (s *Storage) ListPrices(ctx context.Context, productID string) ([]models.PriceRecord, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT product_id, price_type, value::text, currency, source
		FROM catalog.product_prices WHERE product_id = $1 ORDER BY source, price_type`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceRecord, 0)
	for rows.Next() {
		var (
			p     models.PriceRecord
			value string
		)
		if err := rows.Scan(&p.ProductID, &p.PriceType, &value, &p.Currency, &p.Source); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		if p.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("failed to decode price %q: %w", value, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Storage) ReplaceStock(ctx context.Context, productID string, stock []models.WarehouseStock) error {
	if err := s.productExists(ctx, productID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM catalog.warehouse_stock WHERE product_id = $1`, productID)
	for _, st := range stock {
		batch.Queue(`
			INSERT INTO catalog.warehouse_stock (product_id, warehouse_code, quantity)
			VALUES ($1, $2, $3)`,
			productID, st.WarehouseCode, st.Quantity)
	}

	if _, err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to replace stock: %w", err)
	}
	return nil
}

func (s *Storage) ListStock(ctx context.Context, productID string) ([]models.WarehouseStock, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT product_id, warehouse_code, quantity
		FROM catalog.warehouse_stock WHERE product_id = $1 ORDER BY warehouse_code`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock: %w", err)
	}
	defer rows.Close()

	out := make([]models.WarehouseStock, 0)
	for rows.Next() {
		var st models.WarehouseStock
		if err := rows.Scan(&st.ProductID, &st.WarehouseCode, &st.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Storage) UpdateProductQuality(ctx context.Context, productID string, result models.QualityResult) error {
	tag, err := s.getExecutor(ctx).Exec(ctx, `
		UPDATE catalog.products
		SET completeness_score = $2, is_ready = $3, quality_reasons = $4
		WHERE id = $1`,
		productID, result.Completeness, result.IsReady, reasonStrings(result.Reasons))
	if err != nil {
		return fmt.Errorf("failed to update product quality: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("товар %s: %w", productID, ports.ErrNotFound)
	}
	return nil
}

func reasonStrings(reasons []models.BlockingReason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}
