// Command lspmcp runs the protocol bridge daemon: it reads Model Context
// Protocol frames on stdin, translates tool calls into Language Server
// Protocol interactions against a spawned analyzer child, and writes
// responses on stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nullframe/lspmcp/internal/config"
	"github.com/nullframe/lspmcp/internal/dispatcher"
	"github.com/nullframe/lspmcp/internal/logger"
	"github.com/nullframe/lspmcp/internal/server"
	"github.com/nullframe/lspmcp/internal/session"
	"github.com/nullframe/lspmcp/internal/transport"
)

// Version is the daemon's own version string, echoed in initialize's
// serverInfo.version.
const Version = "0.1.0"

func main() {
	// Temporary bootstrap logger until config is loaded.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closer.Close()

	if err := validateStartup(cfg); err != nil {
		return err
	}

	slog.Info("config loaded",
		"workspace_root", cfg.Workspace.Root,
		"analyzer_command", cfg.Analyzer.Command,
		"log_level", cfg.Logging.Level,
	)

	sess, err := session.New(cfg)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	disp := dispatcher.New(sess, "lspmcp", Version)
	tr := transport.New(stdio{})
	srv := server.New(tr, disp, "lspmcp", Version, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LSP.ShutdownTimeout)
	defer cancel()
	if err := sess.Shutdown(shutdownCtx); err != nil {
		slog.Warn("session shutdown error", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("server loop: %w", runErr)
	}
	slog.Info("shutdown complete")
	return nil
}

// validateStartup fails fast on the two fatal startup conditions spec §6
// names: an analyzer binary that cannot be found, and a workspace path
// that does not resolve to a directory. The session itself still starts
// the analyzer lazily on first use; this is a pre-flight check only.
func validateStartup(cfg *config.Config) error {
	if len(cfg.Analyzer.Command) == 0 {
		return fmt.Errorf("no analyzer command configured")
	}
	if _, err := exec.LookPath(cfg.Analyzer.Command[0]); err != nil {
		return fmt.Errorf("analyzer binary not found: %s", cfg.Analyzer.Command[0])
	}

	root := cfg.Workspace.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid workspace path %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("invalid workspace path %q: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace path %q is not a directory", root)
	}
	return nil
}

// stdio adapts os.Stdin/os.Stdout to the single io.ReadWriter the Framed
// Transport expects.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
