package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss возвращается, когда ключ отсутствует в кэше
var ErrCacheMiss = errors.New("cache miss")

// ErrLockNotHeld возвращается из Unlock, если блокировка истекла или принадлежит другому владельцу
var ErrLockNotHeld = errors.New("lock not held")

// CachePort определяет интерфейс для работы с системой кэширования
// Реализация может использовать Redis, Memcached или любую другую систему кэширования
type CachePort interface {
	// Get получает значение из кэша по ключу
	// Возвращает ErrCacheMiss, если значение не найдено
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кэше с указанным сроком действия
	// Если expiration равно 0, срок действия не устанавливается
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete удаляет значение из кэша по ключу
	Delete(ctx context.Context, key string) error

	// Exists проверяет наличие ключа
	Exists(ctx context.Context, key string) (bool, error)

	// Lock пытается получить блокировку с указанным ключом.
	// Возвращает токен владельца и true, если блокировка получена
	Lock(ctx context.Context, key string, expiration time.Duration) (token string, ok bool, err error)

	// Unlock освобождает блокировку, только если она все еще принадлежит token.
	// Иначе возвращает ErrLockNotHeld и чужую блокировку не трогает
	Unlock(ctx context.Context, key, token string) error

	// Close закрывает соединение с системой кэширования
	Close() error
}
