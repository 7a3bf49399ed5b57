package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/jnlpguard/internal/codebase"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.PromptEnabled {
		t.Error("expected PromptEnabled=true")
	}
	if cfg.TrustAll || cfg.TrustNone {
		t.Error("expected no automated trust override by default")
	}
	if cfg.Headless != nil {
		t.Errorf("expected headless unset, got %v", *cfg.Headless)
	}
	if cfg.ResolveTTL != 10*time.Second {
		t.Errorf("expected ResolveTTL=10s, got %s", cfg.ResolveTTL)
	}
	if !strings.HasSuffix(cfg.RememberDB, "remember.db") {
		t.Errorf("unexpected RememberDB %q", cfg.RememberDB)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/policy.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if !cfg.PromptEnabled {
		t.Error("expected defaults for missing file")
	}
	if cfg.WhitelistSet() != nil {
		t.Error("expected no whitelist by default")
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	content := `
prompt_enabled: false
trust_none: true
headless: true
whitelist:
  - "*.example.com"
  - "https://intranet:8443/apps"
resolve_ttl: 30s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PromptEnabled {
		t.Error("expected PromptEnabled=false")
	}
	if !cfg.TrustNone {
		t.Error("expected TrustNone=true")
	}
	if cfg.Headless == nil || !*cfg.Headless {
		t.Error("expected headless=true")
	}
	if cfg.ResolveTTL != 30*time.Second {
		t.Errorf("expected ResolveTTL=30s, got %s", cfg.ResolveTTL)
	}
	wl := cfg.WhitelistSet()
	if wl == nil || wl.Len() != 2 {
		t.Fatalf("expected 2 whitelist entries, got %v", wl)
	}
	if !wl.Matches("http://example.com/app.jnlp") {
		t.Error("expected whitelist to cover example.com")
	}
	// unspecified fields keep defaults
	if !strings.HasSuffix(cfg.AuditLog, "audit.jsonl") {
		t.Errorf("expected default AuditLog, got %q", cfg.AuditLog)
	}
}

func TestLoadConfigRejectsConflictingTrust(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("trust_all: true\ntrust_none: true\n"), 0600)

	_, err := LoadConfig(path)
	if !errors.Is(err, ErrConflictingTrust) {
		t.Errorf("expected ErrConflictingTrust, got %v", err)
	}
}

func TestLoadConfigRejectsBadWhitelist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("whitelist:\n  - \"http://\"\n"), 0600)

	_, err := LoadConfig(path)
	if !errors.Is(err, codebase.ErrInvalidPattern) {
		t.Errorf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("prompt_enabled: [oops"), 0600)

	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfigWithHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	os.WriteFile(path, []byte("trust_all: true\n"), 0600)

	_, h1, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatalf("LoadConfigWithHash: %v", err)
	}
	if !strings.HasPrefix(h1, "sha256:") || len(h1) != len("sha256:")+64 {
		t.Errorf("unexpected hash format %q", h1)
	}

	os.WriteFile(path, []byte("trust_all: false\n"), 0600)
	_, h2, _ := LoadConfigWithHash(path)
	if h1 == h2 {
		t.Error("expected hash to change with content")
	}

	_, h3, _ := LoadConfigWithHash(filepath.Join(dir, "missing.yaml"))
	_, h4, _ := LoadConfigWithHash(filepath.Join(dir, "also-missing.yaml"))
	if h3 != h4 {
		t.Error("expected stable hash for defaults")
	}
}

func TestIsHeadless(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name     string
		headless *bool
		detect   func() bool
		want     bool
	}{
		{"explicit true", &yes, func() bool { return false }, true},
		{"explicit false", &no, func() bool { return true }, false},
		{"detected", nil, func() bool { return true }, true},
		{"no detector", nil, nil, false},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Headless = tt.headless
		if got := cfg.IsHeadless(tt.detect); got != tt.want {
			t.Errorf("%s: IsHeadless = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(DefaultConfigYAML()), cfg); err != nil {
		t.Fatalf("default YAML does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default YAML does not validate: %v", err)
	}
	if !cfg.PromptEnabled || cfg.TrustAll || cfg.TrustNone {
		t.Error("default YAML should match DefaultConfig")
	}
}

func TestParseConfigRemoteRateLimits(t *testing.T) {
	cfg, err := ParseConfig([]byte("remote_rate_limits:\n  \"*\":\n    max_requests: 30\n    window: 1m\n  printer:\n    max_requests: 2\n    window: 10s\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if l := cfg.RemoteLimits.For("printer"); l.MaxRequests != 2 || l.Window != 10*time.Second {
		t.Errorf("expected printer limit 2/10s, got %+v", l)
	}
	if l := cfg.RemoteLimits.For("file-read"); l.MaxRequests != 30 || l.Window != time.Minute {
		t.Errorf("expected wildcard limit 30/1m, got %+v", l)
	}

	if _, err := ParseConfig([]byte("remote_rate_limits:\n  printer:\n    max_requests: -1\n")); err == nil {
		t.Error("expected negative limit rejected")
	}
}
