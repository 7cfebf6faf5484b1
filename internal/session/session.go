// Package session implements the LSP client session: it owns the analyzer
// child process handle for the lifetime of a workspace, the open document
// registry, and the high-level operations the tool dispatcher calls into.
// Exactly one session exists per daemon process; set_workspace tears the
// current one down and starts a fresh one rather than mutating it in place.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	lspadapter "github.com/nullframe/lspmcp/internal/adapter/lsp"
	rcache "github.com/nullframe/lspmcp/internal/adapter/ristretto"
	"github.com/nullframe/lspmcp/internal/config"
	"github.com/nullframe/lspmcp/internal/domain"
	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
)

// document is one entry of the Open Document Registry.
type document struct {
	version int
	content string
}

// Session is the single LSP client session for the process. It is safe
// for concurrent use; document-lifecycle notifications to the analyzer are
// serialized under docMu so they are emitted in program order.
type Session struct {
	cfg *config.Config

	mu         sync.Mutex
	client     *lspadapter.Client
	root       string
	instanceID string

	docMu sync.Mutex
	docs  map[string]*document

	sweepSem *semaphore.Weighted
	sweepSF  singleflight.Group

	resultCache *rcache.Cache
}

// New constructs a Session that lazily starts the analyzer on first use.
func New(cfg *config.Config) (*Session, error) {
	cache, err := rcache.New(32 << 20) // 32MiB of cached hover/definition/references/completion results
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}
	return &Session{
		cfg:         cfg,
		docs:        make(map[string]*document),
		sweepSem:    semaphore.NewWeighted(int64(cfg.LSP.WorkspaceSweepConcurr)),
		resultCache: cache,
	}, nil
}

// NewWithClient builds a Session already wired to client against root,
// skipping analyzer spawn and the LSP handshake. Used by tests that drive
// a session end-to-end against a fake analyzer.
func NewWithClient(cfg *config.Config, client *lspadapter.Client, root, instanceID string) (*Session, error) {
	cache, err := rcache.New(32 << 20)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}
	return &Session{
		cfg:         cfg,
		client:      client,
		root:        root,
		instanceID:  instanceID,
		docs:        make(map[string]*document),
		sweepSem:    semaphore.NewWeighted(int64(cfg.LSP.WorkspaceSweepConcurr)),
		resultCache: cache,
	}, nil
}

// Status returns the current lifecycle state.
func (s *Session) Status() lspDomain.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return lspDomain.ServerStatusUnstarted
	}
	return s.client.Status()
}

// Start spawns the analyzer against root, performing the LSP handshake.
func (s *Session) Start(ctx context.Context, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, root)
}

func (s *Session) startLocked(ctx context.Context, root string) error {
	canon, err := canonicalize(root)
	if err != nil {
		return fmt.Errorf("canonicalize workspace root: %w", err)
	}

	s.instanceID = uuid.NewString()
	client := lspadapter.NewClient(s.cfg.Analyzer, &s.cfg.LSP, canon, s.instanceID)

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.LSP.StartTimeout)
	defer cancel()
	if err := client.Start(startCtx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSessionClosed, err)
	}

	s.client = client
	s.root = canon
	s.docMu.Lock()
	s.docs = make(map[string]*document)
	s.docMu.Unlock()
	return nil
}

// SetWorkspace resets the session to a new root. If the session is already
// Ready and the root is unchanged, this is a no-op.
func (s *Session) SetWorkspace(ctx context.Context, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	canon, err := canonicalize(root)
	if err != nil {
		return fmt.Errorf("canonicalize workspace root: %w", err)
	}

	if s.client != nil && s.client.Status() == lspDomain.ServerStatusReady && s.root == canon {
		return nil
	}

	if s.client != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.LSP.ShutdownTimeout)
		if err := s.client.Stop(shutdownCtx); err != nil {
			s.client.Kill()
		}
		cancel()
		s.client = nil
	}

	return s.startLocked(ctx, canon)
}

// Shutdown tears the session down, killing the child process on every
// exit path so no zombie survives the daemon.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	s.resultCache.Close()

	if client == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.LSP.ShutdownTimeout)
	defer cancel()
	if err := client.Stop(shutdownCtx); err != nil {
		client.Kill()
		return err
	}
	return nil
}

// ensure lazily starts the session against the configured default root if
// it has never been started.
func (s *Session) ensure(ctx context.Context) (*lspadapter.Client, error) {
	s.mu.Lock()
	client := s.client
	root := s.root
	s.mu.Unlock()

	if client != nil && client.Status() == lspDomain.ServerStatusReady {
		return client, nil
	}

	if root == "" {
		root = s.cfg.Workspace.Root
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.Status() == lspDomain.ServerStatusReady {
		return s.client, nil
	}
	if err := s.startLocked(ctx, root); err != nil {
		return nil, err
	}
	return s.client, nil
}

// InstanceID returns the uuid minted for the current workspace's session,
// attached to log lines so concurrent analyzer restarts are distinguishable.
func (s *Session) InstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID
}

// Root returns the canonicalized workspace root currently in effect.
func (s *Session) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// --- Document preconditions ---

// uriForPath converts an absolute filesystem path under the workspace root
// into a file:// URI.
func uriForPath(path string) string {
	return "file://" + path
}

func pathForURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// ensureOpen implements the §4.4 document preconditions: read the file from
// disk; open, or change+clear-cache+save, as needed; then settle for the
// configured document-open delay after a fresh didOpen.
func (s *Session) ensureOpen(ctx context.Context, client *lspadapter.Client, uri string) error {
	data, err := os.ReadFile(pathForURI(uri)) //nolint:gosec // path derives from the canonicalized workspace root
	if err != nil {
		return fmt.Errorf("read %s: %w", uri, err)
	}
	content := string(data)

	s.docMu.Lock()
	defer s.docMu.Unlock()

	doc, known := s.docs[uri]
	if !known {
		if err := client.OpenFile(uri, languageIDFor(uri), content, 1); err != nil {
			return fmt.Errorf("didOpen %s: %w", uri, err)
		}
		s.docs[uri] = &document{version: 1, content: content}
		if s.cfg.LSP.DocumentOpenDelay > 0 {
			select {
			case <-time.After(s.cfg.LSP.DocumentOpenDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	if doc.content == content {
		return nil // opening the same unchanged file twice does not advance the version
	}

	doc.version++
	doc.content = content
	client.ClearDiagnostics(uri) // must precede didChange so a later poll cannot see stale entries
	if err := client.ChangeFile(uri, content, doc.version); err != nil {
		return fmt.Errorf("didChange %s: %w", uri, err)
	}
	if err := client.SaveFile(uri, content); err != nil {
		return fmt.Errorf("didSave %s: %w", uri, err)
	}
	return nil
}

func languageIDFor(uri string) string {
	ext := strings.ToLower(filepath.Ext(uri))
	switch ext {
	case ".rs":
		return "rust"
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".ts":
		return "typescript"
	case ".js":
		return "javascript"
	default:
		return "plaintext"
	}
}

// canonicalize resolves root to an absolute path with symlinks resolved.
func canonicalize(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

// resultCacheKey derives a cache key from the open document's current
// version so an edit invalidates automatically — no explicit eviction needed.
func resultCacheKey(method, uri string, version int, extra string) string {
	return fmt.Sprintf("%s|%s|v%d|%s", method, uri, version, extra)
}

func (s *Session) docVersion(uri string) int {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	if d, ok := s.docs[uri]; ok {
		return d.version
	}
	return 0
}

func (s *Session) cacheGet(ctx context.Context, key string, out any) bool {
	data, ok, err := s.resultCache.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (s *Session) cacheSet(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.resultCache.Set(ctx, key, data, 5*time.Minute)
}
