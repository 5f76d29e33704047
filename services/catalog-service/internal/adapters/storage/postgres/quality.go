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

func (s *Storage) GetQualityTemplate(ctx context.Context, internalCategoryID string) (*models.QualityTemplate, error) {
	var t models.QualityTemplate
	err := s.getExecutor(ctx).QueryRow(ctx, `
		SELECT internal_category_id, required_attributes, min_images, selling_price_required, updated_at
		FROM catalog.quality_templates WHERE internal_category_id = $1`, internalCategoryID,
	).Scan(&t.InternalCategoryID, &t.RequiredAttributes, &t.MinImages, &t.SellingPriceRequired, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quality template: %w", err)
	}
	return &t, nil
}

func (s *Storage) UpsertQualityTemplate(ctx context.Context, template *models.QualityTemplate) error {
	template.UpdatedAt = s.now()
	_, err := s.getExecutor(ctx).Exec(ctx, `
		INSERT INTO catalog.quality_templates (internal_category_id, required_attributes, min_images,
			selling_price_required, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (internal_category_id) DO UPDATE SET
			required_attributes = EXCLUDED.required_attributes,
			min_images = EXCLUDED.min_images,
			selling_price_required = EXCLUDED.selling_price_required,
			updated_at = EXCLUDED.updated_at`,
		template.InternalCategoryID, nonNil(template.RequiredAttributes), template.MinImages,
		template.SellingPriceRequired, template.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("внутренняя категория %s: %w", template.InternalCategoryID, ports.ErrNotFound)
		}
		return fmt.Errorf("failed to upsert quality template: %w", err)
	}
	return nil
}

func (s *Storage) AppendQualityLog(ctx context.Context, entry *models.QualityChangeLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	_, err := s.getExecutor(ctx).Exec(ctx, `
		INSERT INTO catalog.quality_change_logs (id, product_id, change_type, old_value, new_value, reason,
			triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ProductID, entry.ChangeType, entry.OldValue, entry.NewValue, entry.Reason,
		entry.TriggeredBy, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append quality log: %w", err)
	}
	return nil
}

func (s *Storage) ListQualityLogs(ctx context.Context, productID string) ([]models.QualityChangeLog, error) {
	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT id, product_id, change_type, old_value, new_value, reason, triggered_by, created_at
		FROM catalog.quality_change_logs WHERE product_id = $1
		ORDER BY created_at, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quality logs: %w", err)
	}
	defer rows.Close()

	out := make([]models.QualityChangeLog, 0)
	for rows.Next() {
		var l models.QualityChangeLog
		if err := rows.Scan(&l.ID, &l.ProductID, &l.ChangeType, &l.OldValue, &l.NewValue, &l.Reason,
			&l.TriggeredBy, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quality log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
