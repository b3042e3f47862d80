package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "SYNERGY"
	envConfigDefaultPath = "SYNERGY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "synergy.yaml"
)

// Load resolves the relay configuration and returns it with the config file
// path. Layers, lowest first: Default(), the yaml file, SYNERGY_* env vars.
// A missing file is created from Default() so operators have a template.
// Callers apply flag overrides with UpdateFrom.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, "", fmt.Errorf("encode defaults: %w", err)
	}

	path := resolveConfigPath(explicitPath)
	if err := ensureConfigFile(path, defaults); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to write default config")
	} else {
		logger.Debug().Str("path", path).Msg("config file ready")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	// The defaults document registers every key, including the room seeds,
	// so env lookups and Unmarshal see the full struct.
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, path, fmt.Errorf("load defaults: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, path, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, path, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	if base := os.Getenv(envConfigDefaultPath); base != "" {
		return filepath.Join(base, defaultConfigName)
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, defaultConfigName)
	}
	return defaultConfigName
}

// ensureConfigFile writes data to path unless a file is already there.
func ensureConfigFile(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil || !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
