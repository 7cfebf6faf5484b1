// Package config provides hierarchical configuration loading for the
// lspmcp bridge daemon. Precedence: defaults < YAML file < environment
// variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration for the bridge daemon.
type Config struct {
	Workspace Workspace `yaml:"workspace"`
	Analyzer  Analyzer  `yaml:"analyzer"`
	LSP       LSP       `yaml:"lsp"`
	Logging   Logging   `yaml:"logging"`
}

// Workspace holds the analyzer's project root configuration.
type Workspace struct {
	Root string `yaml:"root"` // Canonicalized at startup; may be reset via set_workspace
}

// Analyzer holds the spawn configuration for the external LSP child process.
type Analyzer struct {
	Command []string          `yaml:"command"` // e.g. ["rust-analyzer"]
	Env     map[string]string `yaml:"env"`     // extra environment variables for the child
}

// LSP holds protocol-level timing knobs for the bridge's LSP client session.
type LSP struct {
	StartTimeout            time.Duration `yaml:"start_timeout"`             // max time to wait for initialize (default: 30s)
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout"`          // max time for graceful shutdown (default: 5s)
	RequestTimeout          time.Duration `yaml:"request_timeout"`           // per-request deadline for the pending table (default: 10s)
	DocumentOpenDelay       time.Duration `yaml:"document_open_delay"`       // settle time after didOpen before follow-up requests (default: 150ms)
	DiagnosticsPollInterval time.Duration `yaml:"diagnostics_poll_interval"` // cache poll interval (default: 100ms)
	DiagnosticsPollDeadline time.Duration `yaml:"diagnostics_poll_deadline"` // overall poll deadline (default: 2s)
	MaxDiagnostics          int           `yaml:"max_diagnostics"`           // cap per-URI cached diagnostics (default: 200, 0 = unbounded)
	WorkspaceSweepCap       int           `yaml:"workspace_sweep_cap"`       // max files opened by the fallback sweep (default: 128)
	WorkspaceSweepConcurr   int           `yaml:"workspace_sweep_concurrency"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`   // debug|info|warn|error (default: info)
	Service string `yaml:"service"` // attached to every log record (default: lspmcp)
	Async   bool   `yaml:"async"`   // buffer records through a worker pool (default: true)
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Workspace: Workspace{
			Root: ".",
		},
		Analyzer: Analyzer{
			Command: []string{"rust-analyzer"},
		},
		LSP: LSP{
			StartTimeout:            30 * time.Second,
			ShutdownTimeout:         5 * time.Second,
			RequestTimeout:          10 * time.Second,
			DocumentOpenDelay:       150 * time.Millisecond,
			DiagnosticsPollInterval: 100 * time.Millisecond,
			DiagnosticsPollDeadline: 2 * time.Second,
			MaxDiagnostics:          200,
			WorkspaceSweepCap:       128,
			WorkspaceSweepConcurr:   8,
		},
		Logging: Logging{
			Level:   "info",
			Service: "lspmcp",
			Async:   true,
		},
	}
}
