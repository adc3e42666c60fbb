// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gateway's configuration.
//
// Configuration comes from a single YAML file named by the
// MCP_GATEWAY_CONFIG environment variable or the --config flag. There
// is no search path and no merging of multiple files; a deployment has
// exactly one config and it is auditable. Environment-specific
// sections (development, production) override base values when the
// configured environment matches.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1h30m". Bare integers are rejected: a config that says
// "timeout: 30" is ambiguous and should say "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" (line %d)", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q (line %d): %w", s, value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local machines; sandbox capability gaps are
	// tolerated with a warning.
	Development Environment = "development"
	// Production is for real deployments; capability gaps are fatal.
	Production Environment = "production"
)

// Config is the gateway's master configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// BindAddress is the REST surface listen address.
	// Default: 127.0.0.1:8080
	BindAddress string `yaml:"bind_address"`

	// RPCAddress is the CBOR RPC surface listen address. Empty
	// disables the RPC listener.
	RPCAddress string `yaml:"rpc_address"`

	// MetricsAddress serves /metrics and /health. Empty disables the
	// standalone metrics listener (metrics stay on the REST surface).
	MetricsAddress string `yaml:"metrics_address"`

	// PolicyDir is the directory of policy rule modules. Empty means
	// the compiled-in default bundle.
	PolicyDir string `yaml:"policy_dir"`

	// WorkspaceDir is the root under which file operations and
	// sandbox working directories live. Default: /workspace
	WorkspaceDir string `yaml:"workspace_dir"`

	// MaxConcurrentTasks bounds the number of children running at
	// once; further submissions queue FIFO. Default: 8
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// DefaultTimeout applies to tasks that do not declare one.
	// Default: 30s
	DefaultTimeout Duration `yaml:"default_timeout"`

	// MaxTimeout caps task-declared timeouts. Default: 10m
	MaxTimeout Duration `yaml:"max_timeout"`

	// RetentionWindow is how long terminal task records stay visible
	// before the reaper evicts them. Default: 1h
	RetentionWindow Duration `yaml:"retention_window"`

	// ReapInterval is how often the reaper runs. Default: 1m
	ReapInterval Duration `yaml:"reap_interval"`

	// LogLevel is debug, info, warn, or error. Default: info
	LogLevel string `yaml:"log_level"`

	// Sandbox configures the executor's confinement.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Audit configures the audit log.
	Audit AuditConfig `yaml:"audit"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// SandboxConfig configures the sandbox executor.
type SandboxConfig struct {
	// Enabled turns bubblewrap confinement on. When false every task
	// runs unconfined; only ever acceptable in development.
	Enabled bool `yaml:"enabled"`

	// PoolSize caps sandboxed children independently of
	// max_concurrent_tasks (the smaller bound wins). Zero means use
	// max_concurrent_tasks.
	PoolSize int `yaml:"pool_size"`

	// GracePeriod is how long a terminated child gets between
	// SIGTERM and SIGKILL. Default: 2s
	GracePeriod Duration `yaml:"grace_period"`

	// MaxCaptureBytes bounds per-stream captured output in the task
	// result. Live subscribers still see everything. Default: 1 MiB
	MaxCaptureBytes int `yaml:"max_capture_bytes"`

	// SeccompDir is where compiled seccomp filter programs live.
	// Empty disables the syscall filter (a warning is logged).
	SeccompDir string `yaml:"seccomp_dir"`

	// NoBwrap selects behavior when bubblewrap is missing: "error"
	// (refuse to start), "warn" (run unconfined, log loudly), or
	// "skip" (run unconfined silently). Default: error in
	// production, warn in development.
	NoBwrap string `yaml:"no_bwrap"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	// Path is the SQLite database file. Empty disables auditing.
	Path string `yaml:"path"`

	// PoolSize is the SQLite connection pool size. Default: 4
	PoolSize int `yaml:"pool_size"`
}

// Overrides holds the fields an environment section may replace.
type Overrides struct {
	BindAddress        string         `yaml:"bind_address,omitempty"`
	RPCAddress         string         `yaml:"rpc_address,omitempty"`
	MetricsAddress     string         `yaml:"metrics_address,omitempty"`
	PolicyDir          string         `yaml:"policy_dir,omitempty"`
	WorkspaceDir       string         `yaml:"workspace_dir,omitempty"`
	MaxConcurrentTasks int            `yaml:"max_concurrent_tasks,omitempty"`
	LogLevel           string         `yaml:"log_level,omitempty"`
	Sandbox            *SandboxConfig `yaml:"sandbox,omitempty"`
	Audit              *AuditConfig   `yaml:"audit,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment:        Development,
		BindAddress:        "127.0.0.1:8080",
		WorkspaceDir:       "/workspace",
		MaxConcurrentTasks: 8,
		DefaultTimeout:     Duration(30 * time.Second),
		MaxTimeout:         Duration(10 * time.Minute),
		RetentionWindow:    Duration(time.Hour),
		ReapInterval:       Duration(time.Minute),
		LogLevel:           "info",
		Sandbox: SandboxConfig{
			Enabled:         true,
			GracePeriod:     Duration(2 * time.Second),
			MaxCaptureBytes: 1 << 20,
		},
		Audit: AuditConfig{PoolSize: 4},
	}
}

// Load reads and validates a configuration file. Path may be empty,
// in which case MCP_GATEWAY_CONFIG is consulted; if that is also
// empty, Default() is returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MCP_GATEWAY_CONFIG")
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mcperr.Errorf(mcperr.ConfigError, "reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, mcperr.Errorf(mcperr.ConfigError, "parsing config %s: %w", path, err)
	}

	cfg.applyOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides merges the section matching cfg.Environment into the
// base values.
func (c *Config) applyOverrides() {
	var o *Overrides
	switch c.Environment {
	case Production:
		o = c.Production
	default:
		o = c.Development
	}
	if o == nil {
		return
	}
	if o.BindAddress != "" {
		c.BindAddress = o.BindAddress
	}
	if o.RPCAddress != "" {
		c.RPCAddress = o.RPCAddress
	}
	if o.MetricsAddress != "" {
		c.MetricsAddress = o.MetricsAddress
	}
	if o.PolicyDir != "" {
		c.PolicyDir = o.PolicyDir
	}
	if o.WorkspaceDir != "" {
		c.WorkspaceDir = o.WorkspaceDir
	}
	if o.MaxConcurrentTasks > 0 {
		c.MaxConcurrentTasks = o.MaxConcurrentTasks
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Sandbox != nil {
		c.Sandbox = *o.Sandbox
	}
	if o.Audit != nil {
		c.Audit = *o.Audit
	}
}

// Validate checks invariants that would otherwise surface as puzzling
// runtime failures.
func (c *Config) Validate() error {
	if c.Environment != Development && c.Environment != Production {
		return mcperr.Errorf(mcperr.ConfigError, "unknown environment %q", c.Environment)
	}
	if c.MaxConcurrentTasks < 1 {
		return mcperr.E(mcperr.ConfigError, "max_concurrent_tasks must be at least 1")
	}
	if c.DefaultTimeout.Std() < time.Second {
		return mcperr.E(mcperr.ConfigError, "default_timeout must be at least 1s")
	}
	if c.MaxTimeout < c.DefaultTimeout {
		return mcperr.E(mcperr.ConfigError, "max_timeout must be >= default_timeout")
	}
	if c.RetentionWindow <= 0 {
		return mcperr.E(mcperr.ConfigError, "retention_window must be positive")
	}
	if c.ReapInterval <= 0 {
		return mcperr.E(mcperr.ConfigError, "reap_interval must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return mcperr.Errorf(mcperr.ConfigError, "unknown log_level %q", c.LogLevel)
	}
	switch c.Sandbox.NoBwrap {
	case "", "skip", "warn", "error":
	default:
		return mcperr.Errorf(mcperr.ConfigError, "unknown sandbox.no_bwrap %q", c.Sandbox.NoBwrap)
	}
	if c.Sandbox.MaxCaptureBytes <= 0 {
		return mcperr.E(mcperr.ConfigError, "sandbox.max_capture_bytes must be positive")
	}
	return nil
}

// NoBwrapBehavior resolves the sandbox fallback behavior, applying
// the environment-sensitive default.
func (c *Config) NoBwrapBehavior() string {
	if c.Sandbox.NoBwrap != "" {
		return c.Sandbox.NoBwrap
	}
	if c.Environment == Production {
		return "error"
	}
	return "warn"
}

// String renders the config for startup logging. Single line,
// deliberately excludes nothing — there are no secrets in here.
func (c *Config) String() string {
	return fmt.Sprintf("env=%s bind=%s rpc=%s policy_dir=%s workspace=%s max_tasks=%d sandbox=%v",
		c.Environment, c.BindAddress, c.RPCAddress, c.PolicyDir, c.WorkspaceDir,
		c.MaxConcurrentTasks, c.Sandbox.Enabled)
}
