package ports

import "errors"

var (
	// ErrNotFound обновляемая сущность отсутствует в хранилище
	ErrNotFound = errors.New("not found")
	// ErrImportInProgress у поставщика уже есть импорт в статусе processing
	ErrImportInProgress = errors.New("import already in progress for supplier")
)
