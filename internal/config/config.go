// Package config loads and validates the bulk pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// Config captures every configuration knob loaded via Viper.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Download DownloadConfig `mapstructure:"download"`
	Unpack   UnpackConfig   `mapstructure:"unpack"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// PathsConfig locates the destination tree.
type PathsConfig struct {
	Dest string `mapstructure:"dest"`
}

// ArchiveConfig describes the remote listing service.
type ArchiveConfig struct {
	DatalinkSyncURL   string        `mapstructure:"datalink_sync_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// DownloadConfig governs artifact selection and transfers.
type DownloadConfig struct {
	// Artifacts is an explicit selection spec; when empty the enabled
	// deliverables and products are used.
	Artifacts     string          `mapstructure:"artifacts"`
	Deliverables  map[string]bool `mapstructure:"deliverables"`
	Products      map[string]bool `mapstructure:"products"`
	MaxWorkers    int             `mapstructure:"max_workers"`
	RetryCount    int             `mapstructure:"retry_count"`
	RateLimit     time.Duration   `mapstructure:"rate_limit"`
	ComputeSHA256 bool            `mapstructure:"compute_sha256"`
}

// UnpackConfig is the archive extraction policy.
type UnpackConfig struct {
	UnpackAuxiliary           bool     `mapstructure:"unpack_auxiliary"`
	UnpackReadmeArchives      bool     `mapstructure:"unpack_readme_archives"`
	UnpackWeblogArchives      bool     `mapstructure:"unpack_weblog_archives"`
	UnpackOtherArchives       bool     `mapstructure:"unpack_other_archives"`
	RemoveArchivesAfterUnpack bool     `mapstructure:"remove_archives_after_unpack"`
	RecursiveUnpackEnabled    bool     `mapstructure:"recursive_unpack_enabled"`
	RecursiveUnpackPatterns   []string `mapstructure:"recursive_unpack_patterns"`
	RecursiveUnpackMaxPasses  int      `mapstructure:"recursive_unpack_max_passes"`
}

// RuntimeConfig bounds batch commands. A zero MaxRuntime means no budget.
type RuntimeConfig struct {
	MaxRuntime time.Duration `mapstructure:"max_runtime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ErrDestRequired is returned when no destination root is configured.
var ErrDestRequired = errors.New("destination is required: pass --dest or set paths.dest in config")

// Load builds a Config from an initialised Viper instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Archive.Timeout <= 0 {
		return fmt.Errorf("archive.timeout must be > 0")
	}
	if c.Archive.RequestsPerSecond < 0 {
		return fmt.Errorf("archive.requests_per_second must be >= 0")
	}
	if c.Archive.MaxRetries < 0 {
		return fmt.Errorf("archive.max_retries must be >= 0")
	}
	if c.Download.MaxWorkers <= 0 {
		return fmt.Errorf("download.max_workers must be > 0")
	}
	if c.Download.RetryCount <= 0 {
		return fmt.Errorf("download.retry_count must be > 0")
	}
	if c.Download.RateLimit < 0 {
		return fmt.Errorf("download.rate_limit must be >= 0")
	}
	if c.Unpack.RecursiveUnpackMaxPasses <= 0 {
		return fmt.Errorf("unpack.recursive_unpack_max_passes must be > 0")
	}
	for _, p := range c.Unpack.RecursiveUnpackPatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("unpack.recursive_unpack_patterns: invalid pattern %q", p)
		}
	}
	if c.Runtime.MaxRuntime < 0 {
		return fmt.Errorf("runtime.max_runtime must be >= 0")
	}
	return nil
}

// Dest resolves the destination root, preferring a command-line override.
func (c Config) Dest(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c.Paths.Dest != "" {
		return c.Paths.Dest, nil
	}
	return "", ErrDestRequired
}

// ArtifactSpec is the effective selection spec: the explicit artifacts
// value, else the enabled deliverables and products, else "default".
func (c Config) ArtifactSpec() string {
	if s := strings.TrimSpace(c.Download.Artifacts); s != "" {
		return s
	}
	var selected []string
	for _, group := range []map[string]bool{c.Download.Deliverables, c.Download.Products} {
		keys := make([]string, 0, len(group))
		for k, enabled := range group {
			if enabled {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		selected = append(selected, keys...)
	}
	if len(selected) == 0 {
		return "default"
	}
	return strings.Join(selected, ",")
}
