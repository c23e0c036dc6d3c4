package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.TokenTTL() != 90*24*time.Hour {
		t.Fatalf("unexpected token ttl %v", cfg.TokenTTL())
	}
	if cfg.Server.BasePath != "/api/trust" || cfg.Store.Driver != DriverSQLite {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
auth:
  system_key: k1
notify:
  webhooks:
    - url: https://hooks.example.com/trust
      events: [case_wake]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Auth.SystemKey != "k1" || len(cfg.Notify.Webhooks) != 1 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Guest.TokenTTLDays != 90 {
		t.Fatalf("defaults lost: %+v", cfg.Guest)
	}
	if !cfg.Notify.Webhooks[0].Active() {
		t.Fatalf("webhook should be active")
	}
}

func TestValidateRejects(t *testing.T) {
	bad := []string{
		"store:\n  driver: mysql\n",
		"store:\n  driver: postgres\n",
		"guest:\n  token_ttl_days: 0\n",
		"notify:\n  webhooks:\n    - url: ftp://x\n",
		"otel:\n  exporter: zipkin\n",
	}
	for _, doc := range bad {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Guest.TokenTTLDays != 90 {
		t.Fatalf("expected defaults")
	}
}

func TestWatcherPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	if err := os.WriteFile(path, []byte("auth:\n  system_key: old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(path, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := os.WriteFile(path, []byte("auth:\n  system_key: new\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-w.Reloads():
			if cfg != nil && cfg.Auth.SystemKey == "new" {
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}
