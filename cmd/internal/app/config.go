package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime configuration. Values come from an optional
// YAML file overridden by MERGEMEET_* environment variables.
type Config struct {
	// APIBaseURL is the REST origin, e.g. "https://api.mergemeet.example".
	APIBaseURL string `yaml:"api_base_url"`

	// WSURL is the realtime endpoint. Derived from APIBaseURL when empty.
	WSURL string `yaml:"ws_url"`

	LogLevel string `yaml:"log_level"`

	// CredentialsPath is the sealed credential database. Empty disables
	// persistence; the in-memory copy remains authoritative either way.
	CredentialsPath string `yaml:"credentials_path"`

	// DeviceKeyPath holds the local sealing key, created on first use.
	DeviceKeyPath string `yaml:"device_key_path"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MetricsAddr serves prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	dataDir := EnvString("MERGEMEET_DATA_DIR", defaultDataDir())
	return Config{
		APIBaseURL:      EnvString("MERGEMEET_API_BASE_URL", "http://127.0.0.1:8000"),
		WSURL:           EnvString("MERGEMEET_WS_URL", ""),
		LogLevel:        EnvString("MERGEMEET_LOG_LEVEL", "info"),
		CredentialsPath: EnvString("MERGEMEET_CREDENTIALS_PATH", filepath.Join(dataDir, "credentials.db")),
		DeviceKeyPath:   EnvString("MERGEMEET_DEVICE_KEY_PATH", filepath.Join(dataDir, "device.key")),
		RequestTimeout:  EnvDuration("MERGEMEET_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:     EnvString("MERGEMEET_METRICS_ADDR", ""),
	}
}

// LoadConfigFile loads the YAML file at path, then applies environment
// overrides on top. A missing file with an empty path is not an error.
func LoadConfigFile(path string) (Config, error) {
	cfg := LoadConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}

	// Environment wins over the file; the file wins over defaults. Reload
	// env with the file values as the fallback layer.
	base := file
	if base.APIBaseURL != "" {
		cfg.APIBaseURL = EnvString("MERGEMEET_API_BASE_URL", base.APIBaseURL)
	}
	if base.WSURL != "" {
		cfg.WSURL = EnvString("MERGEMEET_WS_URL", base.WSURL)
	}
	if base.LogLevel != "" {
		cfg.LogLevel = EnvString("MERGEMEET_LOG_LEVEL", base.LogLevel)
	}
	if base.CredentialsPath != "" {
		cfg.CredentialsPath = EnvString("MERGEMEET_CREDENTIALS_PATH", base.CredentialsPath)
	}
	if base.DeviceKeyPath != "" {
		cfg.DeviceKeyPath = EnvString("MERGEMEET_DEVICE_KEY_PATH", base.DeviceKeyPath)
	}
	if base.RequestTimeout > 0 {
		cfg.RequestTimeout = EnvDuration("MERGEMEET_REQUEST_TIMEOUT", base.RequestTimeout)
	}
	if base.MetricsAddr != "" {
		cfg.MetricsAddr = EnvString("MERGEMEET_METRICS_ADDR", base.MetricsAddr)
	}
	return cfg, nil
}

// WebSocketURL resolves the realtime endpoint: the explicit WSURL when
// configured, otherwise APIBaseURL with the scheme swapped and the /ws
// path appended.
func (c Config) WebSocketURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	return wsBaseURL(c.APIBaseURL) + "/ws"
}

// wsBaseURL maps an http(s) origin to its ws(s) counterpart.
func wsBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mergemeet")
	}
	return ".mergemeet"
}
