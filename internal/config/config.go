// Package config loads tool configuration using Viper with TOML as the file
// format.
//
// Configuration is read from pack.toml in the user configuration directory
// (os.UserConfigDir()/pack) or from an explicit file. Every key can be
// overridden by an environment variable with the PACK_ prefix, with dots
// replaced by underscores: PACK_CACHE_MAX_BYTES overrides cache.max_bytes.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "pack"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "pack"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "PACK"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete tool configuration.
type Config struct {
	// Game identifies the game whose data the dependency cache holds.
	Game string `mapstructure:"game"`

	// GamePath is the game installation directory. Vanilla archives are
	// looked up in its data folder.
	GamePath string `mapstructure:"game_path"`

	// VanillaPacks lists the base game archives in load order, relative to
	// the data folder unless absolute.
	VanillaPacks []string `mapstructure:"vanilla_packs"`

	SchemaFile  string `mapstructure:"schema_file"`
	PatchesFile string `mapstructure:"patches_file"`
	BulkFile    string `mapstructure:"bulk_file"`

	Cache       CacheConfig       `mapstructure:"cache"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`

	// Workers sets decode and diagnostics parallelism: < 0 serial, 0 auto.
	Workers int `mapstructure:"workers"`

	// LazyLoad defers reading entry payloads until they are first used.
	LazyLoad bool `mapstructure:"lazy_load"`

	LogLevel string `mapstructure:"log_level"`
}

// CacheConfig configures the persisted dependency cache.
type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// DiagnosticsConfig configures the diagnostics engine.
type DiagnosticsConfig struct {
	DisabledRules    []string `mapstructure:"disabled_rules"`
	IgnoreFile       string   `mapstructure:"ignore_file"`
	BannedTables     []string `mapstructure:"banned_tables"`
	VanillaTableName string   `mapstructure:"vanilla_table_name"`
}

// LogLevels are the accepted values of log_level.
var LogLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cacheDir := filepath.Join(os.TempDir(), AppName)
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, AppName)
	}
	return &Config{
		Game:     "warhammer_3",
		LazyLoad: true,
		LogLevel: "info",
		Cache: CacheConfig{
			Dir:      cacheDir,
			MaxBytes: 2 << 30,
		},
		Diagnostics: DiagnosticsConfig{
			VanillaTableName: "data__",
		},
	}
}

// ConfigDir returns the pack configuration directory.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// LoadOptions selects where configuration is read from.
type LoadOptions struct {
	// ConfigFilePath is used exclusively when set; it must exist.
	ConfigFilePath string

	// ConfigDirPath replaces ConfigDir when set.
	ConfigDirPath string
}

// Load reads the configuration and returns it with the path of the file
// it came from, or "" when only defaults and environment overrides apply.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType(ConfigFileExt)

	resolvedPath := opts.ConfigFilePath
	if resolvedPath == "" {
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return nil, "", err
			}
		}
		resolvedPath = filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
		if !fileExists(resolvedPath) {
			resolvedPath = ""
		}
	} else if !fileExists(resolvedPath) {
		return nil, "", fmt.Errorf("config file not found: %s", resolvedPath)
	}

	if resolvedPath != "" {
		v.SetConfigFile(resolvedPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("failed to read config file %s: %w", resolvedPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("game", d.Game)
	v.SetDefault("game_path", d.GamePath)
	v.SetDefault("vanilla_packs", d.VanillaPacks)
	v.SetDefault("schema_file", d.SchemaFile)
	v.SetDefault("patches_file", d.PatchesFile)
	v.SetDefault("bulk_file", d.BulkFile)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.max_bytes", d.Cache.MaxBytes)
	v.SetDefault("diagnostics.disabled_rules", d.Diagnostics.DisabledRules)
	v.SetDefault("diagnostics.ignore_file", d.Diagnostics.IgnoreFile)
	v.SetDefault("diagnostics.banned_tables", d.Diagnostics.BannedTables)
	v.SetDefault("diagnostics.vanilla_table_name", d.Diagnostics.VanillaTableName)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("lazy_load", d.LazyLoad)
	v.SetDefault("log_level", d.LogLevel)
}

// Validate checks values Viper cannot type-check.
func (c *Config) Validate() error {
	if c.Game == "" {
		return fmt.Errorf("%w: game must be set", ErrInvalidConfig)
	}
	if !slices.Contains(LogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("%w: log_level %q, want one of %s", ErrInvalidConfig, c.LogLevel, strings.Join(LogLevels, ", "))
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("%w: cache.max_bytes must not be negative", ErrInvalidConfig)
	}
	return nil
}

// DataDir returns the data folder of the game installation.
func (c *Config) DataDir() string {
	if c.GamePath == "" {
		return ""
	}
	return filepath.Join(c.GamePath, "data")
}

// VanillaPaths resolves VanillaPacks against DataDir.
func (c *Config) VanillaPaths() []string {
	out := make([]string, 0, len(c.VanillaPacks))
	for _, p := range c.VanillaPacks {
		if !filepath.IsAbs(p) && c.DataDir() != "" {
			p = filepath.Join(c.DataDir(), p)
		}
		out = append(out, p)
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
