package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nullframe/lspmcp/internal/config"
	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := config.Defaults()
	cfg.Workspace.Root = t.TempDir()
	s, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.resultCache.Close() })
	return s
}

func TestSessionStartsUnstarted(t *testing.T) {
	s := newTestSession(t)
	if got := s.Status(); got != lspDomain.ServerStatusUnstarted {
		t.Fatalf("status = %v, want unstarted", got)
	}
}

func TestCanonicalizeReturnsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	got, err := canonicalize(dir)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("canonicalize(%q) = %q, want absolute", dir, got)
	}
}

func TestCanonicalizeRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	mustWriteFile(t, file, "x")
	if _, err := canonicalize(file); err == nil {
		t.Fatal("expected error for a non-directory root")
	}
}

func TestDocVersionUnknownURIIsZero(t *testing.T) {
	s := newTestSession(t)
	if v := s.docVersion("file:///nope"); v != 0 {
		t.Fatalf("docVersion = %d, want 0", v)
	}
}

func TestResultCacheKeyVariesByDocVersion(t *testing.T) {
	a := resultCacheKey("hover", "file:///a", 1, "0:0")
	b := resultCacheKey("hover", "file:///a", 2, "0:0")
	if a == b {
		t.Fatal("cache keys for different doc versions must differ")
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
