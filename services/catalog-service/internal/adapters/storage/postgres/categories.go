package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const supplierCategoryColumns = `id, supplier_id, external_id, name_ru, name_uk, parent_id, created_at, updated_at`

func scanSupplierCategory(row scanner) (*models.SupplierCategory, error) {
	var c models.SupplierCategory
	err := row.Scan(&c.ID, &c.SupplierID, &c.ExternalID, &c.Name.RU, &c.Name.UK, &c.ParentID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertSupplierCategory вставляет категорию или обновляет название существующей.
// Родитель новой категории пустой, у существующей не меняется.
func (s *Storage) UpsertSupplierCategory(ctx context.Context, category *models.SupplierCategory) (bool, error) {
	query := `
		INSERT INTO catalog.supplier_categories (id, supplier_id, external_id, name_ru, name_uk, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $6)
		ON CONFLICT (supplier_id, external_id)
		DO UPDATE SET
			name_ru = EXCLUDED.name_ru,
			name_uk = EXCLUDED.name_uk,
			updated_at = EXCLUDED.updated_at
		RETURNING id, parent_id, created_at, updated_at, (xmax = 0) AS inserted
	`

	id := category.ID
	if id == "" {
		id = uuid.New().String()
	}

	var inserted bool
	err := s.getExecutor(ctx).QueryRow(ctx, query,
		id, category.SupplierID, category.ExternalID, category.Name.RU, category.Name.UK, s.now(),
	).Scan(&category.ID, &category.ParentID, &category.CreatedAt, &category.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert supplier category %s: %w", category.ExternalID, err)
	}
	return inserted, nil
}

func (s *Storage) SetSupplierCategoryParent(ctx context.Context, id string, parentID *string) error {
	tag, err := s.getExecutor(ctx).Exec(ctx,
		`UPDATE catalog.supplier_categories SET parent_id = $2, updated_at = $3 WHERE id = $1`,
		id, parentID, s.now())
	if err != nil {
		return fmt.Errorf("failed to set parent of category %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("категория %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (s *Storage) GetSupplierCategory(ctx context.Context, id string) (*models.SupplierCategory, error) {
	row := s.getExecutor(ctx).QueryRow(ctx,
		`SELECT `+supplierCategoryColumns+` FROM catalog.supplier_categories WHERE id = $1`, id)
	c, err := scanSupplierCategory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get supplier category: %w", err)
	}
	return c, nil
}

func (s *Storage) GetSupplierCategoryByExternalID(ctx context.Context, supplierID, externalID string) (*models.SupplierCategory, error) {
	row := s.getExecutor(ctx).QueryRow(ctx,
		`SELECT `+supplierCategoryColumns+` FROM catalog.supplier_categories WHERE supplier_id = $1 AND external_id = $2`,
		supplierID, externalID)
	c, err := scanSupplierCategory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get supplier category: %w", err)
	}
	return c, nil
}

func (s *Storage) ListSupplierCategories(ctx context.Context, supplierID string) ([]models.SupplierCategory, error) {
	rows, err := s.getExecutor(ctx).Query(ctx,
		`SELECT `+supplierCategoryColumns+` FROM catalog.supplier_categories WHERE supplier_id = $1 ORDER BY seq`,
		supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list supplier categories: %w", err)
	}
	defer rows.Close()

	out := make([]models.SupplierCategory, 0)
	for rows.Next() {
		c, err := scanSupplierCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supplier category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Storage) CreateInternalCategory(ctx context.Context, category *models.InternalCategory) error {
	if category.ID == "" {
		category.ID = uuid.New().String()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = s.now()
	}

	_, err := s.getExecutor(ctx).Exec(ctx, `
		INSERT INTO catalog.internal_categories (id, name, name_uk, slug, description, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		category.ID, category.Name, category.NameUK, category.Slug, category.Description, category.ParentID, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("slug %q уже занят: %w", category.Slug, err)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("родительская категория: %w", ports.ErrNotFound)
		}
		return fmt.Errorf("failed to create internal category: %w", err)
	}
	return nil
}

const internalCategoryColumns = `id, name, name_uk, slug, description, parent_id, created_at`

func scanInternalCategory(row scanner) (*models.InternalCategory, error) {
	var c models.InternalCategory
	if err := row.Scan(&c.ID, &c.Name, &c.NameUK, &c.Slug, &c.Description, &c.ParentID, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) GetInternalCategory(ctx context.Context, id string) (*models.InternalCategory, error) {
	row := s.getExecutor(ctx).QueryRow(ctx,
		`SELECT `+internalCategoryColumns+` FROM catalog.internal_categories WHERE id = $1`, id)
	c, err := scanInternalCategory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get internal category: %w", err)
	}
	return c, nil
}

func (s *Storage) ListInternalCategories(ctx context.Context) ([]models.InternalCategory, error) {
	rows, err := s.getExecutor(ctx).Query(ctx,
		`SELECT `+internalCategoryColumns+` FROM catalog.internal_categories ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list internal categories: %w", err)
	}
	defer rows.Close()

	out := make([]models.InternalCategory, 0)
	for rows.Next() {
		c, err := scanInternalCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan internal category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Storage) InternalSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.getExecutor(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog.internal_categories WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (s *Storage) GetMapping(ctx context.Context, supplierCategoryID string) (*models.CategoryMapping, error) {
	var m models.CategoryMapping
	err := s.getExecutor(ctx).QueryRow(ctx, `
		SELECT supplier_category_id, internal_category_id, created_at
		FROM catalog.category_mappings WHERE supplier_category_id = $1`, supplierCategoryID,
	).Scan(&m.SupplierCategoryID, &m.InternalCategoryID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return &m, nil
}

func (s *Storage) ListMappings(ctx context.Context, supplierID string) ([]models.CategoryMapping, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT m.supplier_category_id, m.internal_category_id, m.created_at
		FROM catalog.category_mappings m
		JOIN catalog.supplier_categories c ON c.id = m.supplier_category_id
		WHERE c.supplier_id = $1
		ORDER BY c.seq`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	out := make([]models.CategoryMapping, 0)
	for rows.Next() {
		var m models.CategoryMapping
		if err := rows.Scan(&m.SupplierCategoryID, &m.InternalCategoryID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Storage) SaveMappings(ctx context.Context, mappings []models.CategoryMapping) error {
	now := s.now()
	batch := &pgx.Batch{}
	for _, m := range mappings {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(`
			INSERT INTO catalog.category_mappings (supplier_category_id, internal_category_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (supplier_category_id)
			DO UPDATE SET internal_category_id = EXCLUDED.internal_category_id, created_at = EXCLUDED.created_at`,
			m.SupplierCategoryID, m.InternalCategoryID, createdAt)
	}

	if _, err := s.sendBatch(ctx, batch); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("категория для сопоставления: %w", ports.ErrNotFound)
		}
		return fmt.Errorf("failed to save mappings: %w", err)
	}
	return nil
}

func (s *Storage) DeleteMapping(ctx context.Context, supplierCategoryID string) error {
	_, err := s.getExecutor(ctx).Exec(ctx,
		`DELETE FROM catalog.category_mappings WHERE supplier_category_id = $1`, supplierCategoryID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

func (s *Storage) UpsertBrand(ctx context.Context, brand *models.Brand) (bool, error) {
	id := brand.ID
	if id == "" {
		id = uuid.New().String()
	}

	var inserted bool
	err := s.getExecutor(ctx).QueryRow(ctx, `
		INSERT INTO catalog.brands (id, supplier_id, external_ref, name, logo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (supplier_id, external_ref)
		DO UPDATE SET name = EXCLUDED.name, logo_url = EXCLUDED.logo_url, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`,
		id, brand.SupplierID, brand.ExternalRef, brand.Name, brand.LogoURL, s.now(),
	).Scan(&brand.ID, &brand.CreatedAt, &brand.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert brand %s: %w", brand.ExternalRef, err)
	}
	return inserted, nil
}

func (s *Storage) ListBrands(ctx context.Context, supplierID string) ([]models.Brand, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT id, supplier_id, external_ref, name, logo_url, created_at, updated_at
		FROM catalog.brands WHERE supplier_id = $1 ORDER BY seq`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	defer rows.Close()

	out := make([]models.Brand, 0)
	for rows.Next() {
		var b models.Brand
		if err := rows.Scan(&b.ID, &b.SupplierID, &b.ExternalRef, &b.Name, &b.LogoURL, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan brand: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
