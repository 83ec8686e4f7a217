package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	relay "github.com/kjellberg/relayproxy/internal"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTemp(t, `
upstream:
  base_url: "https://api.anthropic.com/"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.BaseURL != "https://api.anthropic.com" {
		t.Errorf("base_url = %q, want trailing slash trimmed", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.TimeoutSeconds != 300 {
		t.Errorf("timeout = %d, want default 300", cfg.Upstream.TimeoutSeconds)
	}
	if got := cfg.Upstream.StoredBodyCap(); got != 1_048_576 {
		t.Errorf("cap = %d, want default 1048576", got)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want default :8080", cfg.Server.Addr)
	}
}

func TestLoadMissingBaseURLFails(t *testing.T) {
	path := writeTemp(t, `server:
  addr: ":9000"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing upstream.base_url")
	}
	if !errors.Is(err, relay.ErrConfig) {
		t.Errorf("error = %v, want wrapping relay.ErrConfig", err)
	}
}

func TestLoadExplicitZeroCap(t *testing.T) {
	path := writeTemp(t, `
upstream:
  base_url: "https://api.anthropic.com"
  max_stored_body_bytes: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Upstream.StoredBodyCap(); got != 0 {
		t.Errorf("cap = %d, want explicit 0 preserved", got)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "https://example.test")
	path := writeTemp(t, `
upstream:
  base_url: "${UPSTREAM_URL}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.BaseURL != "https://example.test" {
		t.Errorf("base_url = %q, want expanded env var", cfg.Upstream.BaseURL)
	}
}
