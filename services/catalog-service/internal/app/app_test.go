package app

import (
	"context"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/services/catalog-service/config"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{AppName: "catalog-test"}
	cfg.Storage.Driver = config.StorageDriverMemory
	cfg.Import.BatchSize = 50
	cfg.Import.BatchInterval = 10 * time.Millisecond
	cfg.Import.BatchTimeout = time.Second
	cfg.Import.DefaultCurrency = "UAH"
	cfg.Matching.Threshold = 60
	cfg.Kafka.EventsTopic = "catalog-events"
	return cfg
}

func TestNew_InMemory(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logger.NewNopLogger(), "catalog-test")
	require.NoError(t, err)

	assert.IsType(t, &memory.Store{}, a.Store)
	assert.IsType(t, &cache.MemoryCache{}, a.Cache)
	assert.IsType(t, &messaging.MemoryBus{}, a.Bus)
	assert.NotNil(t, a.Imports)
	assert.NotNil(t, a.Categories)
	assert.NotNil(t, a.Quality)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "повторное закрытие ничего не делает")
}

func TestPipelineConfig(t *testing.T) {
	pc := PipelineConfig(memoryConfig())

	assert.Equal(t, 50, pc.BatchSize)
	assert.Equal(t, 10*time.Millisecond, pc.BatchInterval)
	assert.Equal(t, time.Second, pc.BatchTimeout)
	assert.Equal(t, "UAH", pc.DefaultCurrency)
}
