package runner

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/davefern/mcpforge/internal/privacy"
	"github.com/davefern/mcpforge/internal/search"
	"github.com/davefern/mcpforge/internal/workspace"
)

// Env is the execution environment: exactly the primitives agent code
// and its generated bindings need, constructed once at process start
// and passed by reference. Nothing here is a global.
type Env struct {
	// ServersDir holds generated bindings, searched via SearchTools.
	ServersDir string

	// Workspace is the rooted file store for results.
	Workspace *workspace.Workspace

	// Logger is the agent-facing logger; its handler scrubs PII.
	Logger *slog.Logger

	// Scrubber redacts PII from arbitrary text.
	Scrubber *privacy.Scrubber

	// Net is the dialing capability. A denying implementation is
	// threaded in when network access is disabled.
	Net NetPolicy

	// busy marks an in-flight RunAsync so nested calls get their own
	// goroutine instead of deadlocking on the outer one.
	busy atomic.Bool
}

// SearchTools finds generated tool bindings without loading them.
func (e *Env) SearchTools(query string, detail search.DetailLevel) ([]search.Ref, error) {
	return search.Search(query, e.ServersDir, detail)
}

// Scrub redacts PII from text at the environment's configured level.
func (e *Env) Scrub(text string) string {
	return e.Scrubber.ScrubText(text)
}

// RunAsync bridges a blocking operation into synchronous-looking code.
// A top-level call runs the function directly. A nested call (made
// while another RunAsync is in flight on this Env) is handed to a fresh
// goroutine and the caller blocks on its completion, so re-entry never
// deadlocks on the outer operation.
func (e *Env) RunAsync(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if e.busy.CompareAndSwap(false, true) {
		defer e.busy.Store(false)
		return fn(ctx)
	}

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := fn(ctx)
		ch <- outcome{result, err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
