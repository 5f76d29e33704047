package cache

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache реализация CachePort в памяти процесса.
// Подходит для одного инстанса и тестов: блокировки не видны другим процессам.
type MemoryCache struct {
	store *gocache.Cache
	// lockMu делает сравнение токена и удаление в Unlock атомарными относительно Lock
	lockMu sync.Mutex
}

// NewMemoryCache создает кэш с периодической очисткой просроченных ключей
func NewMemoryCache(cleanupInterval time.Duration) interfaces.CachePort {
	return &MemoryCache{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func ttl(expiration time.Duration) time.Duration {
	if expiration <= 0 {
		return gocache.NoExpiration
	}
	return expiration
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, interfaces.ErrCacheMiss
	}
	return v.([]byte), nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.store.Set(key, buf, ttl(expiration))
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.store.Get(key)
	return ok, nil
}

// Lock использует Add: он возвращает ошибку, если ключ уже существует.
// Значением ключа становится токен владельца.
func (m *MemoryCache) Lock(_ context.Context, key string, expiration time.Duration) (string, bool, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	token := uuid.New().String()
	if err := m.store.Add(key, []byte(token), ttl(expiration)); err != nil {
		return "", false, nil
	}
	return token, true, nil
}

func (m *MemoryCache) Unlock(_ context.Context, key, token string) error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	v, ok := m.store.Get(key)
	if !ok || string(v.([]byte)) != token {
		return interfaces.ErrLockNotHeld
	}
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.store.Flush()
	return nil
}
