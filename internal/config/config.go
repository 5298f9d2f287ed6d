// Package config loads the server configuration. Precedence is environment
// over file over defaults: a YAML file (with ${VAR} substitution) is layered
// onto the built-in defaults, then HOSTBRIDGE_* environment variables
// override individual fields.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hostbridge/hostbridge/internal/policy"
)

// Config is the top-level configuration consumed by the serve command.
type Config struct {
	// DataDir holds the database, default secrets file, and age identity.
	DataDir string `yaml:"data_dir"`
	// ListenAddr is the host:port the HTTP server binds. The default binds
	// loopback only; exposing the server on other interfaces is a deliberate
	// operator decision.
	ListenAddr    string `yaml:"listen_addr"`
	WorkspaceRoot string `yaml:"workspace_root"`
	// AdminPassword guards the admin API. Empty disables admin routes
	// entirely rather than falling back to a well-known default.
	AdminPassword string `yaml:"admin_password"`
	LogLevel      string `yaml:"log_level"`
	// ToolTimeoutSeconds bounds a single handler execution in the dispatch
	// pipeline. Zero leaves handlers to their own per-tool timeouts.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`

	Secrets SecretsConfig `yaml:"secrets"`
	HITL    HITLConfig    `yaml:"hitl"`
	Audit   AuditConfig   `yaml:"audit"`
	Shell   ShellConfig   `yaml:"shell"`
	HTTP    HTTPConfig    `yaml:"http"`
	Policy  policy.Config `yaml:"policy"`
}

// SecretsConfig locates the secret store. A File ending in .age is treated
// as an encrypted vault and decrypted with IdentityFile at load.
type SecretsConfig struct {
	File         string `yaml:"file"`
	IdentityFile string `yaml:"identity_file"`
	// Watch reloads the store when the file changes on disk.
	Watch bool `yaml:"watch"`
}

// HITLConfig tunes the approval flow.
type HITLConfig struct {
	// TTLSeconds is how long a pending request waits for a decision before
	// expiring. Per-tool policy TTLs override it.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// AuditConfig tunes the audit log.
type AuditConfig struct {
	// RetentionDays is the purge horizon; non-positive keeps entries forever.
	RetentionDays int `yaml:"retention_days"`
	// SummaryLimitBytes caps the stored response summary per entry.
	SummaryLimitBytes int `yaml:"summary_limit_bytes"`
}

// ShellConfig extends the shell_execute tool.
type ShellConfig struct {
	// AllowCommands adds entries to the built-in command allowlist.
	AllowCommands         []string `yaml:"allow_commands"`
	DefaultTimeoutSeconds int      `yaml:"default_timeout_seconds"`
	MaxTimeoutSeconds     int      `yaml:"max_timeout_seconds"`
}

// HTTPConfig bounds the http_request tool's egress.
type HTTPConfig struct {
	BlockPrivateIPs        bool     `yaml:"block_private_ips"`
	BlockMetadataEndpoints bool     `yaml:"block_metadata_endpoints"`
	AllowDomains           []string `yaml:"allow_domains"`
	BlockDomains           []string `yaml:"block_domains"`
	DefaultTimeoutSeconds  int      `yaml:"default_timeout_seconds"`
	MaxTimeoutSeconds      int      `yaml:"max_timeout_seconds"`
	MaxResponseSizeKB      int      `yaml:"max_response_size_kb"`
}

// Default returns the built-in configuration: everything under
// ~/.hostbridge, loopback listener, egress guards on.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:    dataDir,
		ListenAddr: "127.0.0.1:8090",
		LogLevel:   "info",
		HITL:       HITLConfig{TTLSeconds: 300},
		Audit:      AuditConfig{RetentionDays: 30},
		HTTP: HTTPConfig{
			BlockPrivateIPs:        true,
			BlockMetadataEndpoints: true,
		},
	}
}

// defaultDataDir returns ~/.hostbridge, falling back to a CWD-relative
// directory if the home directory can't be resolved.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hostbridge"
	}
	return filepath.Join(home, ".hostbridge")
}

// DefaultFile returns the config file path consulted when HOSTBRIDGE_CONFIG
// is not set.
func DefaultFile() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// DBPath returns the sqlite database location under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "hostbridge.db")
}

// Level parses LogLevel into a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyEnv overrides individual fields from HOSTBRIDGE_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("HOSTBRIDGE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HOSTBRIDGE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("HOSTBRIDGE_WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	}
	if v := os.Getenv("HOSTBRIDGE_ADMIN_PASSWORD"); v != "" {
		c.AdminPassword = v
	}
	if v := os.Getenv("HOSTBRIDGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HOSTBRIDGE_SECRETS_FILE"); v != "" {
		c.Secrets.File = v
	}
	if v := os.Getenv("HOSTBRIDGE_SECRETS_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Secrets.Watch = b
		}
	}
}

// normalize fills derived defaults that depend on other fields.
func (c *Config) normalize() {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = filepath.Join(c.DataDir, "workspace")
	}
	if c.Secrets.File == "" {
		c.Secrets.File = filepath.Join(c.DataDir, "secrets.env")
	}
	if c.Secrets.IdentityFile == "" {
		c.Secrets.IdentityFile = filepath.Join(c.DataDir, "identity.key")
	}
	if c.HITL.TTLSeconds <= 0 {
		c.HITL.TTLSeconds = 300
	}
	// The approval TTL is one knob: per-tool policy TTLs override it, and
	// the policy default follows the hitl section unless set explicitly.
	if c.Policy.DefaultTTLSeconds <= 0 {
		c.Policy.DefaultTTLSeconds = c.HITL.TTLSeconds
	}
}

// validate rejects values the serve command cannot start with.
func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", c.ListenAddr, err)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (expected debug, info, warn, or error)", c.LogLevel)
	}
	if c.ToolTimeoutSeconds < 0 {
		return fmt.Errorf("tool_timeout_seconds must not be negative")
	}
	return nil
}
