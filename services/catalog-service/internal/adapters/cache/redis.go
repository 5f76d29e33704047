package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
)

// RedisCache реализация CachePort поверх Redis.
// Используется для блокировки поставщика на время импорта, флагов отмены и прогресса.
type RedisCache struct {
	client *redis.Client
	locker *redislock.Client
	prefix string

	mu   sync.Mutex
	held map[string]*redislock.Lock // по токену
}

// RedisOptions параметры подключения. Нулевые значения пула и таймаутов заменяются значениями по умолчанию.
type RedisOptions struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Prefix добавляется ко всем ключам через ":"
	Prefix string
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// NewRedisCache создает подключение и проверяет его через PING
func NewRedisCache(ctx context.Context, opts RedisOptions) (interfaces.CachePort, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     orDefault(opts.PoolSize, 10),
		MinIdleConns: orDefault(opts.MinIdleConns, 5),
		MaxRetries:   orDefault(opts.MaxRetries, 3),
		DialTimeout:  orDefault(opts.DialTimeout, 3*time.Second),
		ReadTimeout:  orDefault(opts.ReadTimeout, 2*time.Second),
		WriteTimeout: orDefault(opts.WriteTimeout, 2*time.Second),
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisCache(client, opts.Prefix), nil
}

func newRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		locker: redislock.New(client),
		prefix: prefix,
		held:   make(map[string]*redislock.Lock),
	}
}

func (r *RedisCache) buildKey(key string) string {
	if r.prefix != "" {
		return r.prefix + ":" + key
	}
	return key
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, interfaces.ErrCacheMiss
		}
		return nil, fmt.Errorf("ошибка чтения ключа %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, r.buildKey(key), value, expiration).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.buildKey(key)).Err()
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ключа %s: %w", key, err)
	}
	return n > 0, nil
}

// Lock берет блокировку через redislock: SET NX со случайным токеном и TTL
func (r *RedisCache) Lock(ctx context.Context, key string, expiration time.Duration) (string, bool, error) {
	lock, err := r.locker.Obtain(ctx, r.buildKey(key), expiration, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ошибка получения блокировки %s: %w", key, err)
	}

	r.mu.Lock()
	r.held[lock.Token()] = lock
	r.mu.Unlock()
	return lock.Token(), true, nil
}

// Unlock снимает блокировку скриптом, который удаляет ключ только при совпадении токена
func (r *RedisCache) Unlock(ctx context.Context, key, token string) error {
	r.mu.Lock()
	lock, ok := r.held[token]
	if ok && lock.Key() == r.buildKey(key) {
		delete(r.held, token)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		return interfaces.ErrLockNotHeld
	}
	if err := lock.Release(ctx); err != nil {
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return interfaces.ErrLockNotHeld
		}
		return fmt.Errorf("ошибка снятия блокировки %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
