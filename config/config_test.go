package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/nexusevent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
store:
  data_dir: "/tmp/test_events"
  cache_capacity: 12
query:
  external_row_limit: 500
backup:
  compression: lz4
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check overridden values
	assert.Equal(t, "/tmp/test_events", cfg.Store.DataDir)
	assert.Equal(t, 12, cfg.Store.CacheCapacity)
	assert.Equal(t, 500, cfg.Query.ExternalRowLimit)
	assert.Equal(t, "lz4", cfg.Backup.Compression)

	// Check defaults that were not overridden
	assert.Equal(t, 50, cfg.Query.InnerRowLimit)
	assert.Equal(t, 4, cfg.Query.MaxConcurrent)
	assert.Equal(t, "24h", cfg.Repeat.Window)
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 30, cfg.Store.CacheCapacity)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "zstd", cfg.Backup.Compression)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
store:
  data_dir: "/tmp/test_events"
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("store:\n  sys_version: \"2.1\"\n"), 0644))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, "2.1", cfg.Store.SysVersion)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "./data/event", cfg.Store.DataDir)
	})
}

func TestParseDuration(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidHours", "24h", 24 * time.Hour},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"NilLogger", "5x", defaultDuration},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			assert.Equal(t, tc.expected, ParseDuration(tc.input, defaultDuration, testLogger))
		})
	}
}

func TestLoadQuotas(t *testing.T) {
	quotaJSON := `{
  "FAULT": {"StoreDay": 30, "PageSize": 4, "MaxFileSize": 512, "MaxFileNum": 3, "MaxSize": 10},
  "BEHAVIOR": {"StoreDay": 7, "PageSize": 16},
  "UNKNOWN": {"StoreDay": 1},
  "SECURITY": 5
}`
	quotas, err := LoadQuotas(strings.NewReader(quotaJSON))
	require.NoError(t, err)
	require.Len(t, quotas, 2)

	assert.Equal(t, Quota{
		StoreDuration: 30 * 24 * time.Hour,
		PageSize:      4,
		MaxFileSize:   512 * core.KiB,
		MaxFileCount:  3,
		MaxSize:       10 * core.MiB,
	}, quotas.Get(core.CategoryFault))

	behavior := quotas.Get(core.CategoryBehavior)
	assert.Equal(t, 7*24*time.Hour, behavior.StoreDuration)
	assert.Equal(t, uint8(16), behavior.PageSize)
	assert.Zero(t, behavior.MaxSize, "missing keys read as zero")

	assert.Equal(t, Quota{}, quotas.Get(core.CategorySecurity))
}

func TestLoadQuotas_Invalid(t *testing.T) {
	_, err := LoadQuotas(strings.NewReader(`{"FAULT": `))
	require.Error(t, err)

	_, err = LoadQuotas(strings.NewReader(`{"FAULT": {"StoreDay": "thirty"}}`))
	require.Error(t, err)
}

func TestLoadQuotaFile(t *testing.T) {
	quotas, err := LoadQuotaFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultQuotas(), quotas)

	quotas, err = LoadQuotaFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Len(t, quotas, len(core.Categories))

	path := filepath.Join(t.TempDir(), "event_store_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"STATISTIC": {"PageSize": 8}}`), 0644))
	quotas, err = LoadQuotaFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), quotas.Get(core.CategoryStatistic).PageSize)
}
