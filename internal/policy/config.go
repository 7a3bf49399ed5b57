package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/jnlpguard/internal/codebase"
	"github.com/ppiankov/jnlpguard/internal/ratelimit"
)

// ErrConflictingTrust is returned when trust_all and trust_none are both set.
var ErrConflictingTrust = errors.New("trust_all and trust_none are mutually exclusive")

// PolicyConfig holds the process-wide arbitration settings. It is
// constructed once per load and never mutated while a broker reads it.
type PolicyConfig struct {
	PromptEnabled bool          `yaml:"prompt_enabled"`
	TrustAll      bool          `yaml:"trust_all"`
	TrustNone     bool          `yaml:"trust_none"`
	Headless      *bool         `yaml:"headless,omitempty"`
	Whitelist     []string      `yaml:"whitelist,omitempty"`
	RememberDB    string        `yaml:"remember_db,omitempty"`
	TrustStore    string        `yaml:"truststore,omitempty"`
	AuditLog      string        `yaml:"audit_log,omitempty"`
	ResolveTTL    time.Duration `yaml:"resolve_ttl,omitempty"`

	// RemoteLimits bounds submissions per remote caller and decision
	// class, so one process cannot flood the operator with prompts.
	RemoteLimits ratelimit.Limits `yaml:"remote_rate_limits,omitempty"`

	whitelist *codebase.Set
}

// DefaultDir returns ~/.jnlpguard, or a relative .jnlpguard when the home
// directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jnlpguard"
	}
	return filepath.Join(home, ".jnlpguard")
}

// DefaultPath returns the policy file location used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "policy.yaml")
}

// DefaultConfig prompts for everything and remembers nothing on disk
// beyond the default state directory.
func DefaultConfig() *PolicyConfig {
	dir := DefaultDir()
	return &PolicyConfig{
		PromptEnabled: true,
		RememberDB:    filepath.Join(dir, "remember.db"),
		TrustStore:    filepath.Join(dir, "trusted.pem"),
		AuditLog:      filepath.Join(dir, "audit.jsonl"),
		ResolveTTL:    10 * time.Second,
	}
}

// LoadConfig loads the policy from a YAML file.
// Empty path falls back to ~/.jnlpguard/policy.yaml.
// Missing file returns defaults. Invalid YAML or settings return an error.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads the policy and returns the SHA-256 of the raw
// file bytes. When no file exists the hash is that of empty input.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return cfg, hashBytes(data), nil
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (*PolicyConfig, error) {
	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}
	return cfg, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Validate checks the settings and compiles the whitelist. It must be
// called again after any field is changed.
func (c *PolicyConfig) Validate() error {
	if c.TrustAll && c.TrustNone {
		return ErrConflictingTrust
	}
	if c.ResolveTTL < 0 {
		return fmt.Errorf("resolve_ttl must not be negative, got %s", c.ResolveTTL)
	}
	if err := c.RemoteLimits.Validate(); err != nil {
		return err
	}
	set, err := codebase.ParseWhitelist(c.Whitelist, false)
	if err != nil {
		return err
	}
	c.whitelist = set
	return nil
}

// WhitelistSet returns the compiled whitelist, nil when none is configured.
func (c *PolicyConfig) WhitelistSet() *codebase.Set {
	if c.whitelist == nil || c.whitelist.Len() == 0 {
		return nil
	}
	return c.whitelist
}

// IsHeadless reports whether prompts go to the text protocol. An unset
// headless key defers to detect, typically "stdin is not a terminal".
func (c *PolicyConfig) IsHeadless(detect func() bool) bool {
	if c.Headless != nil {
		return *c.Headless
	}
	if detect == nil {
		return false
	}
	return detect()
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# jnlpguard policy configuration
# Generated by: jnlpguard init-policy
#
# Arbitration order (cannot be changed):
#   1. trust_none -> every request refused
#   2. trust_all -> every request granted
#   3. whitelist -> applications from other codebases refused
#   4. allowed codebases (ALACA requests) -> uncovered URLs refused
#   5. remembered answers
#   6. prompt_enabled: false -> refused
#   7. headless text prompt or interactive prompt

# Ask a human when nothing above decides.
prompt_enabled: true

# Automated overrides. At most one may be true.
trust_all: false
trust_none: false

# Force the text protocol on stdin/stdout. Omit to detect from the terminal.
# headless: true

# Codebase patterns applications may be loaded from. Empty allows any.
# Pattern syntax: protocol://host:port/path, each part optional,
# "*" wildcards, and "*.example.com" also matches example.com.
whitelist: []

# How long a host resolution shown in network prompts is reused while idle.
resolve_ttl: 10s

# Per remote caller limits for "jnlpguard serve". Requests over the limit
# are refused without a prompt. "*" applies to every decision class.
# remote_rate_limits:
#   "*":
#     max_requests: 30
#     window: 1m

# State locations (defaults under ~/.jnlpguard).
# remember_db: ~/.jnlpguard/remember.db
# truststore: ~/.jnlpguard/trusted.pem
# audit_log: ~/.jnlpguard/audit.jsonl
`
}
