package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("GC_TEST_KEY", "secret-123")
	os.Unsetenv("GC_TEST_MISSING")

	path := writeConfig(t, `{
		"server": {"port": 8080},
		"providers": [{
			"id": "main",
			"type": "anthropic",
			"api_key": "${GC_TEST_KEY}",
			"model": "${GC_TEST_MISSING:fallback-model}"
		}],
		"redis": {"url": "${GC_TEST_MISSING:}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("got %d providers, want 1", len(cfg.Providers))
	}
	if cfg.Providers[0].APIKey != "secret-123" {
		t.Errorf("api_key = %q, want env value", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[0].Model != "fallback-model" {
		t.Errorf("model = %q, want default", cfg.Providers[0].Model)
	}
	if cfg.Redis.URL != "" {
		t.Errorf("redis url = %q, want empty default", cfg.Redis.URL)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("GC_TEST_PORTVAR", "redis://override:6379/1")

	path := writeConfig(t, `{
		"redis": {"url": "${GC_TEST_PORTVAR:redis://localhost:6379/0}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Redis.URL != "redis://override:6379/1" {
		t.Errorf("redis url = %q, want env override", cfg.Redis.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed json")
	}
}
