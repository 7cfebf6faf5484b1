package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if len(cfg.Analyzer.Command) != 1 || cfg.Analyzer.Command[0] != "rust-analyzer" {
		t.Errorf("expected default analyzer command [rust-analyzer], got %v", cfg.Analyzer.Command)
	}
	if cfg.LSP.RequestTimeout != 10*time.Second {
		t.Errorf("expected request timeout 10s, got %v", cfg.LSP.RequestTimeout)
	}
	if cfg.LSP.WorkspaceSweepCap != 128 {
		t.Errorf("expected workspace sweep cap 128, got %d", cfg.LSP.WorkspaceSweepCap)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
workspace:
  root: "/tmp/project"
analyzer:
  command: ["gopls", "serve"]
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Workspace.Root != "/tmp/project" {
		t.Errorf("expected workspace root /tmp/project, got %s", cfg.Workspace.Root)
	}
	if len(cfg.Analyzer.Command) != 2 || cfg.Analyzer.Command[0] != "gopls" {
		t.Errorf("expected analyzer command [gopls serve], got %v", cfg.Analyzer.Command)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.LSP.StartTimeout != 30*time.Second {
		t.Errorf("expected default start timeout, got %v", cfg.LSP.StartTimeout)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("LSPMCP_WORKSPACE_ROOT", "/env/workspace")
	t.Setenv("LSPMCP_LOG_LEVEL", "warn")
	t.Setenv("LSPMCP_LSP_REQUEST_TIMEOUT", "30s")
	t.Setenv("LSPMCP_LSP_WORKSPACE_SWEEP_CAP", "64")
	t.Setenv("LSPMCP_ANALYZER_CMD", "rust-analyzer --log-file /tmp/ra.log")

	loadEnv(&cfg)

	if cfg.Workspace.Root != "/env/workspace" {
		t.Errorf("expected workspace root /env/workspace, got %s", cfg.Workspace.Root)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.LSP.RequestTimeout != 30*time.Second {
		t.Errorf("expected request timeout 30s, got %v", cfg.LSP.RequestTimeout)
	}
	if cfg.LSP.WorkspaceSweepCap != 64 {
		t.Errorf("expected workspace sweep cap 64, got %d", cfg.LSP.WorkspaceSweepCap)
	}
	want := []string{"rust-analyzer", "--log-file", "/tmp/ra.log"}
	if len(cfg.Analyzer.Command) != len(want) {
		t.Fatalf("expected analyzer command %v, got %v", want, cfg.Analyzer.Command)
	}
	for i, w := range want {
		if cfg.Analyzer.Command[i] != w {
			t.Errorf("analyzer command[%d] = %q, want %q", i, cfg.Analyzer.Command[i], w)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty analyzer command",
			modify: func(c *Config) { c.Analyzer.Command = nil },
			errMsg: "analyzer.command is required",
		},
		{
			name:   "empty workspace root",
			modify: func(c *Config) { c.Workspace.Root = "" },
			errMsg: "workspace.root is required",
		},
		{
			name:   "zero workspace sweep cap",
			modify: func(c *Config) { c.LSP.WorkspaceSweepCap = 0 },
			errMsg: "lsp.workspace_sweep_cap must be >= 1",
		},
		{
			name:   "zero workspace sweep concurrency",
			modify: func(c *Config) { c.LSP.WorkspaceSweepConcurr = 0 },
			errMsg: "lsp.workspace_sweep_concurrency must be >= 1",
		},
		{
			name:   "zero request timeout",
			modify: func(c *Config) { c.LSP.RequestTimeout = 0 },
			errMsg: "lsp.request_timeout must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlagsPositionalWorkspace(t *testing.T) {
	flags, err := ParseFlags([]string{"/some/workspace"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if flags.Workspace != "/some/workspace" {
		t.Errorf("expected workspace /some/workspace, got %q", flags.Workspace)
	}
	if flags.LogLevel != nil {
		t.Errorf("expected LogLevel unset, got %v", *flags.LogLevel)
	}
}

func TestParseFlagsOnlySetsExplicitFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--log-level", "debug"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Fatalf("expected LogLevel debug, got %v", flags.LogLevel)
	}
	if flags.AnalyzerCmd != nil {
		t.Errorf("expected AnalyzerCmd unset, got %v", *flags.AnalyzerCmd)
	}
}

func TestLoadWithCLIFullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	logLevel := "error"
	flags := CLIFlags{
		ConfigPath: &yamlPath,
		LogLevel:   &logLevel,
		Workspace:  dir,
	}

	cfg, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatalf("LoadWithCLI: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("CLI flag should win over YAML: got %q, want error", cfg.Logging.Level)
	}
	if cfg.Workspace.Root != dir {
		t.Errorf("expected workspace root %q, got %q", dir, cfg.Workspace.Root)
	}
}

func TestLoadWithCLIMissingYAMLIsNotFatal(t *testing.T) {
	missing := "/nonexistent/path/to/config.yaml"
	flags := CLIFlags{ConfigPath: &missing, Workspace: t.TempDir()}

	cfg, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatalf("missing YAML should not error, got %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
}
