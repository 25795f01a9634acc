package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trackguard/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[host]
base_url = "https://tracks.example.com"

[remote]
base_url = "https://api.example.com/protect"
`)
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Remote.CacheTTL != 300 {
		t.Fatalf("expected default cache TTL 300, got %d", cfg.Remote.CacheTTL)
	}
	if cfg.Remote.RequestTimeout != 10 {
		t.Fatalf("expected default request timeout 10, got %d", cfg.Remote.RequestTimeout)
	}
	if cfg.Host.NavDebounceMillis != 100 {
		t.Fatalf("expected default nav debounce 100, got %d", cfg.Host.NavDebounceMillis)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("expected memory cache backend, got %q", cfg.Cache.Backend)
	}
}

func TestLoadRequiresHostBaseURL(t *testing.T) {
	path := writeConfig(t, `
[remote]
base_url = "https://api.example.com/protect"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "host.base_url") {
		t.Fatalf("expected host.base_url error, got %v", err)
	}
}

func TestLoadRejectsBadRoutePattern(t *testing.T) {
	path := writeConfig(t, `
[host]
base_url = "https://tracks.example.com"
edit_route_pattern = "([unclosed"

[remote]
base_url = "https://api.example.com/protect"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "edit_route_pattern") {
		t.Fatalf("expected edit_route_pattern error, got %v", err)
	}
}

func TestValidateRedisBackendNeedsAddr(t *testing.T) {
	path := writeConfig(t, `
[host]
base_url = "https://tracks.example.com"

[remote]
base_url = "https://api.example.com/protect"

[cache]
backend = "redis"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "redis_addr") {
		t.Fatalf("expected redis_addr error, got %v", err)
	}
}

func TestTrailingSlashesTrimmed(t *testing.T) {
	path := writeConfig(t, `
[host]
base_url = "https://tracks.example.com/"

[remote]
base_url = "https://api.example.com/protect/"
`)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.HasSuffix(cfg.Host.BaseURL, "/") || strings.HasSuffix(cfg.Remote.BaseURL, "/") {
		t.Fatalf("expected trimmed URLs, got %q and %q", cfg.Host.BaseURL, cfg.Remote.BaseURL)
	}
}
