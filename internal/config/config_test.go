package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	n := cfg.Notifications
	if n.Interval != time.Hour || n.Lookahead != 24*time.Hour || n.PromptDelay != 3*time.Second || n.ConsentCheck != 5*time.Second {
		t.Fatalf("unexpected durations %+v", n)
	}
	if !n.IsEnabled() || n.Consent != "ask" || n.NotifiedCapacity != 10000 {
		t.Fatalf("unexpected notification defaults %+v", n)
	}
	if len(cfg.Catalog.PanelCompanies) != 5 || !cfg.HasCompany("Waaree") || cfg.HasCompany("Acme") {
		t.Fatalf("unexpected catalog %+v", cfg.Catalog)
	}
}

func TestValidateRejectsShortTTL(t *testing.T) {
	_, err := FromYAML([]byte("notifications:\n  lookahead: 24h\n  notified_ttl: 2h\n"))
	if err == nil || !strings.Contains(err.Error(), "notified_ttl") {
		t.Fatalf("expected ttl error, got %v", err)
	}
	if _, err := FromYAML([]byte("notifications:\n  notified_ttl: 48h\n")); err != nil {
		t.Fatalf("ttl covering default lookahead rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"consent":       "notifications:\n  consent: maybe\n",
		"webhook":       "notifications:\n  webhooks:\n    - secret: x\n",
		"interval":      "notifications:\n  interval: 10ms\n",
		"consent_check": "notifications:\n  consent_check: -1s\n",
		"company":       "catalog:\n  panel_companies: [Waaree, Waaree]\n",
		"reserved":      "catalog:\n  panel_companies: [all]\n",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file must yield defaults: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load must fail without a config file")
	}
	raw := "notifications:\n  enabled: false\n  consent: granted\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notifications.IsEnabled() || cfg.Notifications.Consent != "granted" {
		t.Fatalf("unexpected notifications %+v", cfg.Notifications)
	}
}
