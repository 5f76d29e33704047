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
)

const importRunColumns = `id, supplier_id, user_id, filename, status, mode, stats, selected_categories,
	error_message, created_at, completed_at`

func scanImportRun(row scanner) (*models.ImportRun, error) {
	var (
		r     models.ImportRun
		stats []byte
	)
	err := row.Scan(&r.ID, &r.SupplierID, &r.UserID, &r.Filename, &r.Status, &r.Mode, &stats,
		&r.SelectedCategories, &r.ErrorMessage, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &r.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode import stats: %w", err)
		}
	}
	if len(r.SelectedCategories) == 0 {
		r.SelectedCategories = nil
	}
	return &r, nil
}

// CreateImportRun сохраняет запуск. Второй запуск в статусе processing
// для того же поставщика отклоняется частичным уникальным индексом.
func (s *Storage) CreateImportRun(ctx context.Context, run *models.ImportRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode import stats: %w", err)
	}

	_, err = s.getExecutor(ctx).Exec(ctx, `
		INSERT INTO catalog.import_runs (id, supplier_id, user_id, filename, status, mode, stats,
			selected_categories, error_message, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.SupplierID, run.UserID, run.Filename, string(run.Status), string(run.Mode), stats,
		nonNil(run.SelectedCategories), run.ErrorMessage, run.CreatedAt, run.CompletedAt)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == codeUniqueViolation && constraint == processingIndex {
			return ports.ErrImportInProgress
		}
		return fmt.Errorf("failed to create import run: %w", err)
	}
	return nil
}

func (s *Storage) UpdateImportRun(ctx context.Context, run *models.ImportRun) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode import stats: %w", err)
	}

	tag, err := s.getExecutor(ctx).Exec(ctx, `
		UPDATE catalog.import_runs
		SET status = $2, stats = $3, error_message = $4, completed_at = $5, filename = $6
		WHERE id = $1`,
		run.ID, string(run.Status), stats, run.ErrorMessage, run.CompletedAt, run.Filename)
	if err != nil {
		return fmt.Errorf("failed to update import run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("импорт %s: %w", run.ID, ports.ErrNotFound)
	}
	return nil
}

func (s *Storage) GetImportRun(ctx context.Context, id string) (*models.ImportRun, error) {
	row := s.getExecutor(ctx).QueryRow(ctx, `SELECT `+importRunColumns+` FROM catalog.import_runs WHERE id = $1`, id)
	r, err := scanImportRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}
	return r, nil
}

// ListImportRuns новые запуски первыми. Пустой supplierID означает всех поставщиков.
func (s *Storage) ListImportRuns(ctx context.Context, supplierID string, limit, offset int) ([]models.ImportRun, int64, error) {
	executor := s.getExecutor(ctx)

	var total int64
	err := executor.QueryRow(ctx,
		`SELECT COUNT(*) FROM catalog.import_runs WHERE ($1 = '' OR supplier_id = $1)`, supplierID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count import runs: %w", err)
	}
	if total == 0 {
		return []models.ImportRun{}, 0, nil
	}

	rows, err := executor.Query(ctx, `
		SELECT `+importRunColumns+` FROM catalog.import_runs
		WHERE ($1 = '' OR supplier_id = $1)
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`,
		supplierID, limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	out := make([]models.ImportRun, 0)
	for rows.Next() {
		r, err := scanImportRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan import run: %w", err)
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

func (s *Storage) LatestCompletedImport(ctx context.Context, supplierID string) (*models.ImportRun, error) {
	row := s.getExecutor(ctx).QueryRow(ctx, `
		SELECT `+importRunColumns+` FROM catalog.import_runs
		WHERE supplier_id = $1 AND status = $2
		ORDER BY seq DESC
		LIMIT 1`, supplierID, string(models.ImportStatusCompleted))
	r, err := scanImportRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest import: %w", err)
	}
	return r, nil
}

func (s *Storage) GetSnapshots(ctx context.Context, importID string, externalIDs []string) (map[string]models.SnapshotData, error) {
	out := make(map[string]models.SnapshotData, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	rows, err := s.getExecutor(ctx).Query(ctx, `
		SELECT product_external_id, data FROM catalog.import_snapshots
		WHERE import_id = $1 AND product_external_id = ANY($2)`, importID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ext  string
			raw  []byte
			data models.SnapshotData
		)
		if err := rows.Scan(&ext, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", ext, err)
		}
		out[ext] = data
	}
	return out, rows.Err()
}

func (s *Storage) SaveSnapshots(ctx context.Context, snapshots []models.ImportSnapshot) error {
	now := s.now()
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		data, err := json.Marshal(snap.Data)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot %s: %w", snap.ProductExternalID, err)
		}
		createdAt := snap.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(`
			INSERT INTO catalog.import_snapshots (import_id, supplier_id, product_id, product_external_id, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (import_id, product_external_id) DO UPDATE SET data = EXCLUDED.data`,
			snap.ImportID, snap.SupplierID, snap.ProductID, snap.ProductExternalID, data, createdAt)
	}

	if _, err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	return nil
}

func (s *Storage) SaveDiffs(ctx context.Context, diffs []models.ProductDiff) error {
	now := s.now()
	batch := &pgx.Batch{}
	for _, d := range diffs {
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(`
			INSERT INTO catalog.product_diffs (import_id, product_id, product_external_id, field, diff_type,
				old_value, new_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			d.ImportID, d.ProductID, d.ProductExternalID, d.Field, string(d.Type), d.OldValue, d.NewValue, createdAt)
	}

	if _, err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to save diffs: %w", err)
	}
	return nil
}

func (s *Storage) ListDiffs(ctx context.Context, importID string, limit, offset int) ([]models.ProductDiff, int64, error) {
	executor := s.getExecutor(ctx)

	var total int64
	if err := executor.QueryRow(ctx,
		`SELECT COUNT(*) FROM catalog.product_diffs WHERE import_id = $1`, importID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count diffs: %w", err)
	}
	if total == 0 {
		return []models.ProductDiff{}, 0, nil
	}

	rows, err := executor.Query(ctx, `
		SELECT import_id, product_id, product_external_id, field, diff_type, old_value, new_value, created_at
		FROM catalog.product_diffs WHERE import_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`, importID, limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list diffs: %w", err)
	}
	defer rows.Close()

	out := make([]models.ProductDiff, 0)
	for rows.Next() {
		var d models.ProductDiff
		if err := rows.Scan(&d.ImportID, &d.ProductID, &d.ProductExternalID, &d.Field, &d.Type,
			&d.OldValue, &d.NewValue, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan diff: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}
