package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/nexusevent/core"
	"gopkg.in/yaml.v3"
)

// StoreConfig holds the storage engine configuration.
type StoreConfig struct {
	DataDir       string `yaml:"data_dir"`
	BackupDir     string `yaml:"backup_dir"`
	QuotaFile     string `yaml:"quota_file"`
	CacheCapacity int    `yaml:"cache_capacity"`
	SysVersion    string `yaml:"sys_version"`
	PatchVersion  string `yaml:"patch_version"`
	SyncWrites    bool   `yaml:"sync_writes"`
	// EvictInterval is how often the service checks quotas. Empty disables
	// periodic eviction.
	EvictInterval string `yaml:"evict_interval"`
}

// QueryConfig holds the query admission limits.
type QueryConfig struct {
	MaxInnerConditions int    `yaml:"max_inner_conditions"`
	InnerRowLimit      int    `yaml:"inner_row_limit"`
	ExternalRowLimit   int    `yaml:"external_row_limit"`
	MaxConcurrent      int    `yaml:"max_concurrent"`
	FrequencyInterval  string `yaml:"frequency_interval"`
	OverTime           string `yaml:"over_time"`
}

// BackupConfig holds the archive settings.
type BackupConfig struct {
	Compression string `yaml:"compression"` // "none", "snappy", "lz4" or "zstd"
}

// RepeatConfig holds the duplicate fault detection settings.
type RepeatConfig struct {
	Enabled bool   `yaml:"enabled"`
	Window  string `yaml:"window"`
	MaxRows int    `yaml:"max_rows"`
}

// OutlierConfig flags inserted events whose numeric parameter leaves
// [Min, Max].
type OutlierConfig struct {
	Domain string  `yaml:"domain"`
	Name   string  `yaml:"name"`
	Param  string  `yaml:"param"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Query   QueryConfig   `yaml:"query"`
	Backup  BackupConfig  `yaml:"backup"`
	Repeat  RepeatConfig  `yaml:"repeat"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`

	Outliers []OutlierConfig `yaml:"outliers"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			DataDir:       "./data/event",
			BackupDir:     "./data/backup",
			QuotaFile:     "",
			CacheCapacity: 30,
			SysVersion:    "1.0.0",
			PatchVersion:  "",
			SyncWrites:    false,
			EvictInterval: "10m",
		},
		Query: QueryConfig{
			MaxInnerConditions: 8,
			InnerRowLimit:      50,
			ExternalRowLimit:   1000,
			MaxConcurrent:      4,
			FrequencyInterval:  "1s",
			OverTime:           "20s",
		},
		Backup: BackupConfig{
			Compression: "zstd",
		},
		Repeat: RepeatConfig{
			Enabled: true,
			Window:  "24h",
			MaxRows: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "nexusevent.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Quota holds the storage limits of one event category.
type Quota struct {
	// StoreDuration is how long a file is kept; 0 keeps files forever.
	StoreDuration time.Duration
	// PageSize is in KiB, as written into file headers.
	PageSize uint8
	// MaxFileSize, in bytes, bounds one event file.
	MaxFileSize int64
	// MaxFileCount is the number of files kept per stream before older ones
	// become eviction candidates first.
	MaxFileCount int
	// MaxSize, in bytes, bounds the category across all streams.
	MaxSize int64
}

// Quotas maps categories to their limits. A category missing from the map
// has the zero Quota.
type Quotas map[core.Category]Quota

// Get returns the quota of c.
func (q Quotas) Get(c core.Category) Quota { return q[c] }

// quotaEntry is the quota file representation. Sizes use the file's units.
type quotaEntry struct {
	StoreDay    uint32 `json:"StoreDay"`
	PageSize    uint32 `json:"PageSize"`    // KiB
	MaxFileSize uint32 `json:"MaxFileSize"` // KiB
	MaxFileNum  uint32 `json:"MaxFileNum"`
	MaxSize     uint32 `json:"MaxSize"` // MiB
}

func (e quotaEntry) quota() Quota {
	return Quota{
		StoreDuration: time.Duration(e.StoreDay) * 24 * time.Hour,
		PageSize:      uint8(min(e.PageSize, 255)),
		MaxFileSize:   int64(e.MaxFileSize) * core.KiB,
		MaxFileCount:  int(e.MaxFileNum),
		MaxSize:       int64(e.MaxSize) * core.MiB,
	}
}

// DefaultQuotas returns the limits used when no quota file is configured.
func DefaultQuotas() Quotas {
	entry := func(maxSizeMiB uint32) Quota {
		return quotaEntry{StoreDay: 30, PageSize: 4, MaxFileSize: 1024, MaxFileNum: 3, MaxSize: maxSizeMiB}.quota()
	}
	return Quotas{
		core.CategoryFault:     entry(10),
		core.CategoryStatistic: entry(20),
		core.CategorySecurity:  entry(10),
		core.CategoryBehavior:  entry(20),
	}
}

// LoadQuotas parses a quota file: a JSON object keyed by category name
// ("FAULT", "STATISTIC", "SECURITY", "BEHAVIOR"). Unknown categories and
// non-object values are ignored; missing keys read as zero.
func LoadQuotas(r io.Reader) (Quotas, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode quota json: %w", err)
	}
	quotas := make(Quotas, len(raw))
	for key, msg := range raw {
		c, err := core.ParseCategory(key)
		if err != nil {
			continue
		}
		if len(msg) == 0 || msg[0] != '{' {
			continue
		}
		var e quotaEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("failed to decode quota for %s: %w", key, err)
		}
		quotas[c] = e.quota()
	}
	return quotas, nil
}

// LoadQuotaFile reads quotas from path. An empty path or a missing file
// yields DefaultQuotas.
func LoadQuotaFile(path string) (Quotas, error) {
	if path == "" {
		return DefaultQuotas(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultQuotas(), nil
		}
		return nil, fmt.Errorf("failed to open quota file %s: %w", path, err)
	}
	defer file.Close()
	return LoadQuotas(file)
}
