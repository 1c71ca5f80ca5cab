package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPassphraseEnv is the environment variable the store passphrase is
// read from when [store] passphrase_env is not set.
const DefaultPassphraseEnv = "SEALGATE_PASSPHRASE"

// DefaultStopTimeout is how long the wrapped service gets to exit after an
// interrupt before it is killed.
const DefaultStopTimeout = 10 * time.Second

// Config represents the main configuration for sealgate.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Store      StoreConfig      `toml:"store"`
	Encryption EncryptionConfig `toml:"encryption"`
	Service    ServiceConfig    `toml:"service"`
	Vaults     []VaultConfig    `toml:"vaults"`
}

// StoreConfig locates the store. The plaintext store is <dir>/<name>, the
// sealed store is <dir>/<name>.enc.
type StoreConfig struct {
	Dir           string `toml:"dir"`
	Name          string `toml:"name"`
	PassphraseEnv string `toml:"passphrase_env"`
}

// EncryptionConfig selects the parameter set used to seal the store.
type EncryptionConfig struct {
	Type             string `toml:"type"`                         // "legacy" (default) or "age"
	ScryptWorkFactor int    `toml:"scrypt_work_factor,omitempty"` // only used for type=age
}

// ServiceConfig describes the wrapped service started by secure-run.
type ServiceConfig struct {
	Command     []string `toml:"command"`
	StopTimeout string   `toml:"stop_timeout,omitempty"` // Go duration, e.g. "10s"
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3Endpoint     string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyEnv string `toml:"s3_access_key_env,omitempty"`
	S3SecretKeyEnv string `toml:"s3_secret_key_env,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// NewConfig creates a new Config rooted at baseDir with default store and
// encryption settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Dir:           filepath.Join(baseDir, "data"),
			Name:          "db.sqlite3",
			PassphraseEnv: DefaultPassphraseEnv,
		},
		Encryption: EncryptionConfig{
			Type: "legacy",
		},
		Service: ServiceConfig{
			StopTimeout: DefaultStopTimeout.String(),
		},
	}
}

// Validate checks the fields every operation depends on.
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if c.Store.Name == "" {
		return fmt.Errorf("store.name is required")
	}
	if filepath.Base(c.Store.Name) != c.Store.Name {
		return fmt.Errorf("store.name must be a file name, got %q", c.Store.Name)
	}
	switch c.Encryption.Type {
	case "", "legacy", "age":
	default:
		return fmt.Errorf("unknown encryption type: %q", c.Encryption.Type)
	}
	if _, err := c.Service.StopTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// PassphraseEnvName returns the configured passphrase variable or the default.
func (s StoreConfig) PassphraseEnvName() string {
	if s.PassphraseEnv == "" {
		return DefaultPassphraseEnv
	}
	return s.PassphraseEnv
}

// StopTimeoutDuration parses StopTimeout, falling back to DefaultStopTimeout.
func (s ServiceConfig) StopTimeoutDuration() (time.Duration, error) {
	if s.StopTimeout == "" {
		return DefaultStopTimeout, nil
	}
	d, err := time.ParseDuration(s.StopTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid service.stop_timeout %q: %w", s.StopTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("service.stop_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
