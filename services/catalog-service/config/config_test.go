package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("catalog-test-missing")
	require.NoError(t, err)

	assert.Equal(t, "catalog-service", cfg.AppName)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 100, cfg.Import.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Import.BatchInterval)
	assert.Equal(t, 30*time.Second, cfg.Import.BatchTimeout)
	assert.Equal(t, "UAH", cfg.Import.DefaultCurrency)
	assert.Equal(t, 2*time.Hour, cfg.Import.LockTTL)
	assert.Equal(t, "catalog-events", cfg.Kafka.EventsTopic)
	assert.Equal(t, "catalog-import-commands", cfg.Kafka.CommandsTopic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 60, cfg.Matching.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Matching.PoolCacheTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "25")
	t.Setenv("IMPORT_BATCH_INTERVAL", "0s")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load("catalog-test-missing")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Import.BatchSize)
	assert.Equal(t, time.Duration(0), cfg.Import.BatchInterval)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "production", cfg.ENV)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Storage.Driver = StorageDriverMemory
		cfg.Import.BatchSize = 10
		cfg.Matching.Threshold = 60
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "корректная", mutate: func(c *Config) {}},
		{name: "неизвестный драйвер", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: true},
		{name: "нулевая пачка", mutate: func(c *Config) { c.Import.BatchSize = 0 }, wantErr: true},
		{name: "порог больше 100", mutate: func(c *Config) { c.Matching.Threshold = 101 }, wantErr: true},
		{name: "kafka без брокеров", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
