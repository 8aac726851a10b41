package frame

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Engine is the entry point of a backend: it resolves a source reference
// (table name, dataset name) into a Table handle.
type Engine interface {
	// Scan returns a lazy handle on the source. Implementations must not
	// materialize the source here; schema inspection and plan execution
	// happen through the returned Table.
	Scan(ctx context.Context, source string) (Table, error)
}

// Table is a lazy handle on one tabular source.
type Table interface {
	// Schema returns the ordered column descriptors of the source without
	// reading its rows.
	Schema(ctx context.Context) (Schema, error)

	// Collect materializes one plan.
	Collect(ctx context.Context, p Plan) (RowSet, error)

	// CollectAll materializes a batch of plans, possibly in parallel. The
	// returned slice is aligned with plans; a failed plan carries its error
	// in the corresponding BatchResult and never affects its siblings. The
	// second return value reports batch-level failure only.
	CollectAll(ctx context.Context, plans []Plan) ([]BatchResult, error)
}

// Config is the minimal configuration needed to open an engine backend.
//
// Edge cases:
//   - Kind must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Engine, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers an engine backend under a kind (e.g. "sqlite",
// "postgres").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - Consumers blank-import internal/frame/all to get every backend.
//
// Register panics on duplicate kinds: that is a programmer error, not a
// runtime condition.
func Register(kind string, fn func(ctx context.Context, cfg Config) (Engine, error)) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("frame: duplicate backend kind %q", kind))
	}
	factories[kind] = fn
}

// Open constructs an engine for the configured backend kind.
func Open(ctx context.Context, cfg Config) (Engine, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("frame: backend kind is required")
	}
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("frame: unknown backend kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	eng, err := fn(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("frame: open %s: %w", cfg.Kind, err)
	}
	return eng, nil
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
