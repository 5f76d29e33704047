// Package postgres хранилище каталога в PostgreSQL на pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/pkg/tx"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Коды ошибок PostgreSQL
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

const processingIndex = "import_runs_one_processing"

var _ ports.CatalogStore = (*Storage)(nil)

// Storage реализация ports.CatalogStore для PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	txm    tx.TxManager
	logger interfaces.LoggerPort
	now    func() time.Time
}

// NewPostgresStorage создает пул соединений и проверяет доступность базы
func NewPostgresStorage(ctx context.Context, connectionString string, logger interfaces.LoggerPort) (*Storage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s, err := NewPostgresStorageWithPool(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool, logger interfaces.LoggerPort) (*Storage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Storage{
		pool:   pool,
		txm:    tx.NewTxManager(pool, logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate создает схему catalog, если ее еще нет
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Do выполняет fn в транзакции. Вложенный вызов работает в точке сохранения внешней.
func (s *Storage) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.txm.Do(ctx, fn)
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает соединение с БД
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// getExecutor возвращает транзакцию из контекста или пул
func (s *Storage) getExecutor(ctx context.Context) executor {
	if t, ok := tx.GetTxFromContext(ctx); ok {
		return t
	}
	return s.pool
}

// sendBatch выполняет пачку запросов и возвращает первую ошибку.
// Без внешней транзакции пачка выполняется атомарно.
func (s *Storage) sendBatch(ctx context.Context, batch *pgx.Batch) ([]int64, error) {
	if batch.Len() == 0 {
		return nil, nil
	}

	br := s.getExecutor(ctx).SendBatch(ctx, batch)
	affected := make([]int64, 0, batch.Len())
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return nil, err
		}
		affected = append(affected, tag.RowsAffected())
	}
	return affected, br.Close()
}

// scanner общий интерфейс pgx.Row и pgx.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == codeUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == codeForeignKeyViolation
}

// limitArg превращает неположительный лимит в NULL, что в LIMIT означает "без ограничения"
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
