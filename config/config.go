// ABOUTME: Client configuration from a .env file, an optional YAML file under KIWI_HOME and KIWI_* environment variables.
// ABOUTME: Later sources win: defaults, then config.yaml, then the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIBaseURL      = "http://127.0.0.1:8787"
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRevertTimeout   = 30 * time.Second
	DefaultHistoryPageSize = 100

	CredentialKeyring = "keyring"
	CredentialMemory  = "memory"

	fileName = "config.yaml"
)

var (
	ErrInvalidBaseURL        = errors.New("KIWI_API_BASE_URL must be an absolute http or https URL")
	ErrInvalidCredentialType = errors.New("KIWI_CREDENTIAL_BACKEND must be \"keyring\" or \"memory\"")
)

// Config holds the client settings.
type Config struct {
	Home              string        `yaml:"-"`                  // KIWI_HOME, default ~/.kiwi
	APIBaseURL        string        `yaml:"api_base_url"`       // KIWI_API_BASE_URL
	RequestTimeout    time.Duration `yaml:"request_timeout"`    // KIWI_REQUEST_TIMEOUT
	RevertTimeout     time.Duration `yaml:"revert_timeout"`     // KIWI_REVERT_TIMEOUT
	HistoryPageSize   int           `yaml:"history_page_size"`  // KIWI_HISTORY_PAGE_SIZE
	LogFile           string        `yaml:"log_file"`           // KIWI_LOG_FILE, default $KIWI_HOME/kiwi.log
	CredentialBackend string        `yaml:"credential_backend"` // KIWI_CREDENTIAL_BACKEND
	User              string        `yaml:"user"`               // KIWI_USER, keyring account name
}

// Load reads envFile (if it exists; existing variables are never
// overridden), then $KIWI_HOME/config.yaml, then KIWI_* variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		Home:              os.Getenv("KIWI_HOME"),
		APIBaseURL:        DefaultAPIBaseURL,
		RequestTimeout:    DefaultRequestTimeout,
		RevertTimeout:     DefaultRevertTimeout,
		HistoryPageSize:   DefaultHistoryPageSize,
		CredentialBackend: CredentialKeyring,
	}
	if cfg.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = os.TempDir()
		}
		cfg.Home = filepath.Join(homeDir, ".kiwi")
	}

	if err := cfg.loadFile(filepath.Join(cfg.Home, fileName)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.Home, "kiwi.log")
	}
	if cfg.User == "" {
		cfg.User = envOrDefault("USER", "default")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KIWI_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("KIWI_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("KIWI_CREDENTIAL_BACKEND"); v != "" {
		c.CredentialBackend = v
	}
	if v := os.Getenv("KIWI_USER"); v != "" {
		c.User = v
	}
	for key, dst := range map[string]*time.Duration{
		"KIWI_REQUEST_TIMEOUT": &c.RequestTimeout,
		"KIWI_REVERT_TIMEOUT":  &c.RevertTimeout,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	if v := os.Getenv("KIWI_HISTORY_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KIWI_HISTORY_PAGE_SIZE: %w", err)
		}
		c.HistoryPageSize = n
	}
	return nil
}

// Validate checks the settings Load cannot default.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.APIBaseURL)
	}
	if c.CredentialBackend != CredentialKeyring && c.CredentialBackend != CredentialMemory {
		return fmt.Errorf("%w: %q", ErrInvalidCredentialType, c.CredentialBackend)
	}
	if c.RequestTimeout <= 0 || c.RevertTimeout <= 0 {
		return errors.New("request and revert timeouts must be positive")
	}
	if c.HistoryPageSize <= 0 {
		return errors.New("history page size must be positive")
	}
	return nil
}

// PrefsPath is the SQLite preferences database.
func (c *Config) PrefsPath() string {
	return filepath.Join(c.Home, "prefs.db")
}

// EnsureHome creates the home directory.
func (c *Config) EnsureHome() error {
	if err := os.MkdirAll(c.Home, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Home, err)
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
