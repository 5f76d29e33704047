package interfaces

import (
	"context"
)

// StoragePort определяет интерфейс для работы с постоянным хранилищем данных
// Реализация может использовать любую базу данных (PostgreSQL, память и т.д.)
type StoragePort interface {
	// Do выполняет fn внутри транзакции хранилища.
	// Ошибка fn приводит к откату, успешное выполнение фиксирует транзакцию.
	Do(ctx context.Context, fn func(ctx context.Context) error) error

	// Ping проверяет доступность хранилища
	Ping(ctx context.Context) error

	// Close закрывает соединение с хранилищем
	Close() error
}
