package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != DefaultTimezone || cfg.CacheValidity != DefaultCacheValidity {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.MissedWindow != DefaultMissedWindow || again.Source.URL != DefaultAgendaURL {
		t.Errorf("round trip lost values: %+v", again)
	}
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "listen: 0.0.0.0:9000\ncache_validity: 30m\nsource:\n  kind: ICS\n  url: https://example.com/feed.ics\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.CacheValidity != 30*time.Minute {
		t.Errorf("CacheValidity = %s", cfg.CacheValidity)
	}
	if cfg.Source.Kind != SourceICS {
		t.Errorf("Kind = %q, want lower-cased ics", cfg.Source.Kind)
	}
	if cfg.MissedWindow != DefaultMissedWindow || cfg.DefaultLimit != DefaultLimit {
		t.Errorf("defaults not filled: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{
		"MCP_BEARER":      "s3cret",
		"ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
		"PORT":            "3000",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Auth.BearerToken != "s3cret" {
		t.Errorf("BearerToken = %q", cfg.Auth.BearerToken)
	}
	if got := strings.Join(cfg.Auth.AllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("AllowedOrigins = %q", got)
	}
	if cfg.Listen != "127.0.0.1:3000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	cfg.RefreshCron = "every now and then"
	cfg.Source.Kind = "carrier-pigeon"
	cfg.Source.HorizonDays = 40

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"Timezone", "RefreshCron", "Kind", "HorizonDays"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestWatcher_ReloadNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(path, func(string) string { return "" })
	var got *Config
	w.OnChange(func(c *Config) { got = c })

	cfg.Auth.BearerToken = "rotated"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got == nil || got.Auth.BearerToken != "rotated" {
		t.Fatalf("callback saw %+v", got)
	}
}

func TestWatcher_InvalidFileKeepsCallbacksQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("timezone: Nowhere/Land\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(path, func(string) string { return "" })
	called := false
	w.OnChange(func(*Config) { called = true })

	if _, err := w.Reload(); err == nil {
		t.Fatal("expected validation error")
	}
	if called {
		t.Error("callback invoked for invalid config")
	}
}
