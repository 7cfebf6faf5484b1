package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	lspadapter "github.com/nullframe/lspmcp/internal/adapter/lsp"
	"github.com/nullframe/lspmcp/internal/diagnostics"
	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
)

// Hover returns hover information for a position, cached by document version.
func (s *Session) Hover(ctx context.Context, uri string, pos lspDomain.Position) (*lspDomain.HoverResult, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}

	key := resultCacheKey("hover", uri, s.docVersion(uri), fmt.Sprintf("%d:%d", pos.Line, pos.Character))
	var cached lspDomain.HoverResult
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	result, err := client.Hover(ctx, uri, pos)
	if err != nil {
		return nil, err
	}
	if result != nil {
		s.cacheSet(ctx, key, result)
	}
	return result, nil
}

// Definition returns go-to-definition locations for a position.
func (s *Session) Definition(ctx context.Context, uri string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}

	key := resultCacheKey("definition", uri, s.docVersion(uri), fmt.Sprintf("%d:%d", pos.Line, pos.Character))
	var cached []lspDomain.Location
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	result, err := client.Definition(ctx, uri, pos)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// References returns all reference locations for a position.
func (s *Session) References(ctx context.Context, uri string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}

	key := resultCacheKey("references", uri, s.docVersion(uri), fmt.Sprintf("%d:%d", pos.Line, pos.Character))
	var cached []lspDomain.Location
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	result, err := client.References(ctx, uri, pos)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// Completion returns completion candidates for a position.
func (s *Session) Completion(ctx context.Context, uri string, pos lspDomain.Position) (json.RawMessage, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}

	key := resultCacheKey("completion", uri, s.docVersion(uri), fmt.Sprintf("%d:%d", pos.Line, pos.Character))
	var cached json.RawMessage
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	result, err := client.Completion(ctx, uri, pos)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// CodeActions returns available code actions for a range.
func (s *Session) CodeActions(ctx context.Context, uri string, rng lspDomain.Range) (json.RawMessage, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}
	return client.CodeActions(ctx, uri, rng)
}

// Symbols returns document symbols for uri, or workspace symbols when query is non-empty.
func (s *Session) Symbols(ctx context.Context, uri, query string) (json.RawMessage, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}

	if query != "" {
		return client.WorkspaceSymbols(ctx, query)
	}

	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}
	symbols, err := client.DocumentSymbols(ctx, uri)
	if err != nil {
		return nil, err
	}
	return json.Marshal(symbols)
}

// Format returns the edit list produced by textDocument/formatting.
func (s *Session) Format(ctx context.Context, uri string) ([]lspDomain.TextEdit, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}
	return client.Format(ctx, uri)
}

// Diagnostics is the single-file path: sync the document, then poll the
// push-diagnostics cache on a short interval until either diagnostics
// arrive or the overall poll deadline elapses.
func (s *Session) Diagnostics(ctx context.Context, uri string) ([]lspDomain.Diagnostic, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, client, uri); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(s.cfg.LSP.DiagnosticsPollDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.LSP.DiagnosticsPollInterval)
	defer ticker.Stop()

	for {
		if diags := client.Diagnostics(uri); diags != nil {
			return diags, nil
		}
		select {
		case <-ticker.C:
			continue
		case <-deadline.C:
			return client.Diagnostics(uri), nil // possibly empty; that is a valid result
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WorkspaceDiagnostics is the hard path: pull via workspace/diagnostic if
// supported, normalizing either documented response shape; otherwise (or
// if normalization yields nothing) fall back to a semaphore-bounded
// mechanical sweep of the workspace. Concurrent calls for the same
// session coalesce onto one in-flight sweep.
func (s *Session) WorkspaceDiagnostics(ctx context.Context) (diagnostics.Result, error) {
	v, err, _ := s.sweepSF.Do("workspace_diagnostics", func() (any, error) {
		return s.workspaceDiagnosticsUncached(ctx)
	})
	if err != nil {
		return diagnostics.Result{}, err
	}
	return v.(diagnostics.Result), nil
}

func (s *Session) workspaceDiagnosticsUncached(ctx context.Context) (diagnostics.Result, error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return diagnostics.Result{}, err
	}

	if client.WorkspaceDiagnosticsSupported() {
		raw, err := client.WorkspaceDiagnostic(ctx)
		if err == nil {
			files := diagnostics.NormalizeWorkspaceDiagnosticResponse(raw)
			if len(files) > 0 {
				return diagnostics.BuildResult(files), nil
			}
		}
	}

	return s.sweepFallback(ctx, client)
}

// sweepFallback enumerates the workspace, opens each file (honoring the
// document-open protocol), and reads back the push-diagnostics cache.
// File opens are bounded by WorkspaceSweepConcurr concurrent slots.
func (s *Session) sweepFallback(ctx context.Context, client *lspadapter.Client) (diagnostics.Result, error) {
	paths, err := diagnostics.WalkWorkspace(s.Root(), s.cfg.LSP.WorkspaceSweepCap)
	if err != nil {
		return diagnostics.Result{}, fmt.Errorf("walk workspace: %w", err)
	}

	var mu sync.Mutex
	files := make(map[string][]lspDomain.Diagnostic, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		g.Go(func() error {
			if err := s.sweepSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer s.sweepSem.Release(1)

			uri := uriForPath(p)
			if err := s.ensureOpen(gctx, client, uri); err != nil {
				return nil //nolint:nilerr // an unreadable/unopenable file is skipped, not fatal to the sweep
			}

			select {
			case <-time.After(s.cfg.LSP.DiagnosticsPollInterval):
			case <-gctx.Done():
				return gctx.Err()
			}

			diags := client.Diagnostics(uri)
			if diags == nil {
				return nil
			}
			mu.Lock()
			files[uri] = diags
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return diagnostics.Result{}, err
	}

	return diagnostics.BuildResult(files), nil
}
