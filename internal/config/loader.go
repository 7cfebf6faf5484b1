package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "lspmcp.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset
// flags that should not override the config. Use ParseFlags to populate.
type CLIFlags struct {
	ConfigPath  *string
	LogLevel    *string
	AnalyzerCmd *string // space-separated, e.g. "rust-analyzer --log-file /tmp/ra.log"
	Workspace   string  // positional argument; empty means "use config/CWD"
}

// ParseFlags parses command-line arguments into CLIFlags. The single
// optional positional argument names a workspace directory.
// Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags

	fs := flag.NewFlagSet("lspmcp", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	analyzerCmd := fs.String("analyzer-cmd", "", "command used to spawn the analyzer child, e.g. \"rust-analyzer\"")

	if args == nil {
		args = os.Args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "log-level":
			flags.LogLevel = logLevel
		case "analyzer-cmd":
			flags.AnalyzerCmd = analyzerCmd
		}
	})

	if rest := fs.Args(); len(rest) > 0 {
		flags.Workspace = rest[0]
	}

	return flags, nil
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. The YAML path can be overridden
// via CLIFlags.ConfigPath.
func LoadWithCLI(flags CLIFlags) (*Config, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays CLI flag values onto cfg. Only non-nil flags override.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.AnalyzerCmd != nil && *flags.AnalyzerCmd != "" {
		cfg.Analyzer.Command = strings.Fields(*flags.AnalyzerCmd)
	}
	if flags.Workspace != "" {
		cfg.Workspace.Root = flags.Workspace
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist; a missing config file is not
// an error since every field has a usable default.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from trusted CLI/config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Workspace.Root, "LSPMCP_WORKSPACE_ROOT")
	setString(&cfg.Logging.Level, "LSPMCP_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LSPMCP_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LSPMCP_LOG_ASYNC")
	setDuration(&cfg.LSP.StartTimeout, "LSPMCP_LSP_START_TIMEOUT")
	setDuration(&cfg.LSP.ShutdownTimeout, "LSPMCP_LSP_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.LSP.RequestTimeout, "LSPMCP_LSP_REQUEST_TIMEOUT")
	setDuration(&cfg.LSP.DocumentOpenDelay, "LSPMCP_LSP_DOCUMENT_OPEN_DELAY")
	setDuration(&cfg.LSP.DiagnosticsPollInterval, "LSPMCP_LSP_DIAGNOSTICS_POLL_INTERVAL")
	setDuration(&cfg.LSP.DiagnosticsPollDeadline, "LSPMCP_LSP_DIAGNOSTICS_POLL_DEADLINE")
	setInt(&cfg.LSP.MaxDiagnostics, "LSPMCP_LSP_MAX_DIAGNOSTICS")
	setInt(&cfg.LSP.WorkspaceSweepCap, "LSPMCP_LSP_WORKSPACE_SWEEP_CAP")
	setInt(&cfg.LSP.WorkspaceSweepConcurr, "LSPMCP_LSP_WORKSPACE_SWEEP_CONCURRENCY")

	if v := os.Getenv("LSPMCP_ANALYZER_CMD"); v != "" {
		cfg.Analyzer.Command = strings.Fields(v)
	}
}

// validate checks that required fields are set and internally consistent.
func validate(cfg *Config) error {
	if len(cfg.Analyzer.Command) == 0 {
		return errors.New("analyzer.command is required")
	}
	if cfg.Workspace.Root == "" {
		return errors.New("workspace.root is required")
	}
	if cfg.LSP.WorkspaceSweepCap < 1 {
		return errors.New("lsp.workspace_sweep_cap must be >= 1")
	}
	if cfg.LSP.WorkspaceSweepConcurr < 1 {
		return errors.New("lsp.workspace_sweep_concurrency must be >= 1")
	}
	if cfg.LSP.RequestTimeout <= 0 {
		return errors.New("lsp.request_timeout must be > 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
