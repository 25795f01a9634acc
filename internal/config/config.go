package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Host describes the track-hosting application the engine attaches to.
type Host struct {
	BaseURL              string `toml:"base_url"`
	EditRoutePattern     string `toml:"edit_route_pattern"`
	UploadRoutePattern   string `toml:"upload_route_pattern"`
	FormSelector         string `toml:"form_selector"`
	TrackNameSelector    string `toml:"track_name_selector"`
	AudioURLSelector     string `toml:"audio_url_selector"`
	KeySelector          string `toml:"key_selector"`
	ScaleSelector        string `toml:"scale_selector"`
	BPMSelector          string `toml:"bpm_selector"`
	ProducersSelector    string `toml:"producers_selector"`
	TagsSelector         string `toml:"tags_selector"`
	LicensingSelector    string `toml:"licensing_selector"`
	ExclPriceSelector    string `toml:"exclusive_price_selector"`
	ExclCurrencySelector string `toml:"exclusive_currency_selector"`
	DurationSelector     string `toml:"duration_selector"`
	ContainerSelector    string `toml:"container_selector"`
	SettleDelayMillis    int    `toml:"settle_delay_ms"`
	NavDebounceMillis    int    `toml:"nav_debounce_ms"`
	FallbackPollSeconds  int    `toml:"fallback_poll_seconds"`
	ElementWaitSeconds   int    `toml:"element_wait_seconds"`
	ElementWaitRetries   int    `toml:"element_wait_retries"`
}

// Remote contains configuration for the metadata/fingerprint service.
type Remote struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
	CacheTTL       int    `toml:"cache_ttl"`
}

// Cache selects the TTL cache backend for the remote data layer.
type Cache struct {
	Backend       string `toml:"backend"` // "memory" or "redis"
	MaxEntries    int    `toml:"max_entries"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// Fingerprint contains configuration for the acoustic fingerprint service.
type Fingerprint struct {
	ServiceURL     string `toml:"service_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Browser contains configuration for the chromedp host-page adapter.
type Browser struct {
	RemoteDebuggingURL string `toml:"remote_debugging_url"`
	Headless           bool   `toml:"headless"`
	UserAgent          string `toml:"user_agent"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Protected      bool   `toml:"protected"`
	Violations     bool   `toml:"violations"`
}

// Engine contains behavior toggles for the protection engine.
type Engine struct {
	AutoScan          bool `toml:"auto_scan"`
	StagingPruneHours int  `toml:"staging_prune_hours"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Host          Host          `toml:"host"`
	Remote        Remote        `toml:"remote"`
	Cache         Cache         `toml:"cache"`
	Fingerprint   Fingerprint   `toml:"fingerprint"`
	Browser       Browser       `toml:"browser"`
	Notifications Notifications `toml:"notifications"`
	Engine        Engine        `toml:"engine"`
	LogLevel      string        `toml:"log_level"`
	LogFormat     string        `toml:"log_format"`
}

// DefaultConfigPath returns the expanded default config location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/trackguard/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("trackguard.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StagingDBPath returns the location of the pending-submission database.
func (c *Config) StagingDBPath() string {
	return filepath.Join(c.Paths.DataDir, "staging.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "trackguardd.lock")
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			return home, nil
		}
		return filepath.Join(home, pathValue[2:]), nil
	}
	return filepath.Abs(pathValue)
}
