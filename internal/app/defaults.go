package app

import (
	"fmt"
	"os"
	"path/filepath"

	"sealgate/internal/config"
)

// Environment variables that relocate sealgate's files.
const (
	ConfigPathEnv = "SEALGATE_CONFIG_PATH"
	HomeEnv       = "SEALGATE_HOME"
)

// Defaults are the application default paths.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SEALGATE_CONFIG_PATH: config file location (default: ~/.config/sealgate.toml)
//   - SEALGATE_HOME: base directory for sealgate data (default: ~/.local/share/sealgate)
func GetDefaults() (Defaults, error) {
	configPath, err := envOrHome(ConfigPathEnv, ".config", "sealgate.toml")
	if err != nil {
		return Defaults{}, err
	}

	baseDir, err := envOrHome(HomeEnv, ".local", "share", "sealgate")
	if err != nil {
		return Defaults{}, err
	}

	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// LoadConfig reads the config file named by d, fills unset directories from
// d, and validates the result.
func LoadConfig(d Defaults) (*config.Config, error) {
	cfg, err := config.ReadFromFile(d.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = d.BaseDir
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.BaseDir, "log")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", d.ConfigPath, err)
	}
	return cfg, nil
}

// envOrHome returns the value of env if set, otherwise the path under the
// user's home directory.
func envOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
