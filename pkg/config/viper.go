// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/unpack"
)

// EnvPrefix prefixes every environment override, e.g. ALMA_BULK_PATHS_DEST.
const EnvPrefix = "ALMA_BULK"

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.dest", "")

	v.SetDefault("archive.datalink_sync_url", "https://almascience.nrao.edu/datalink/sync")
	v.SetDefault("archive.timeout", "120s")
	v.SetDefault("archive.user_agent", "alma-bulk/0.1.0")
	v.SetDefault("archive.requests_per_second", 0)
	v.SetDefault("archive.max_retries", 0)

	v.SetDefault("download.artifacts", "")
	v.SetDefault("download.deliverables", map[string]bool{
		"calibration": true,
		"scripts":     true,
		"weblog":      true,
		"qa_reports":  true,
		"auxiliary":   true,
		"readme":      true,
		"raw":         false,
	})
	v.SetDefault("download.products", map[string]bool{
		"calibration_products": true,
		"continuum_images":     false,
		"cubes":                false,
		"admit":                false,
	})
	v.SetDefault("download.max_workers", 4)
	v.SetDefault("download.retry_count", 3)
	v.SetDefault("download.rate_limit", "0s")
	v.SetDefault("download.compute_sha256", false)

	v.SetDefault("unpack.unpack_auxiliary", true)
	v.SetDefault("unpack.unpack_readme_archives", true)
	v.SetDefault("unpack.unpack_weblog_archives", true)
	v.SetDefault("unpack.unpack_other_archives", false)
	v.SetDefault("unpack.remove_archives_after_unpack", true)
	v.SetDefault("unpack.recursive_unpack_enabled", true)
	v.SetDefault("unpack.recursive_unpack_patterns", unpack.DefaultRecursivePatterns)
	v.SetDefault("unpack.recursive_unpack_max_passes", 3)

	v.SetDefault("runtime.max_runtime", "0s")
	v.SetDefault("logging.development", false)
	v.SetDefault("server.addr", ":8080")
}

// InitConfig prepares v: defaults, search paths, environment overrides and
// the config file. An explicit cfgFile must exist; a missing file on the
// search paths is not an error.
func InitConfig(v *viper.Viper, cfgFile string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	SetDefaults(v)

	// --- Environment Variables ---
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// --- Read Config File ---
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		logger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/alma-bulk/")
	v.AddConfigPath("$HOME/.alma-bulk")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Debug("Config file not found; using defaults and environment variables.")
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	logger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	return nil
}
