package engine

import (
	"log/slog"

	"github.com/roach88/orq/internal/l2"
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/plan"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/store"
)

// Engine executes queries against one store and metamodel.
//
// Thread-safety model:
//   - Engine: safe for concurrent use; the compiler and region are shared
//   - Session, Query, Tx: owned by one goroutine
type Engine struct {
	store    *store.Store
	compiler *plan.Compiler
	region   l2.Region
	ids      IDGenerator
	logger   *slog.Logger

	strict         bool
	maxFetchDepth  int
	fetchBatchSize int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithRegion enables the second-level cache.
func WithRegion(r l2.Region) EngineOption {
	return func(e *Engine) {
		e.region = r
	}
}

// WithIDGenerator replaces the UUIDv7 execution ID generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithStrictParameters validates bound values against the types inferred
// for their parameters.
func WithStrictParameters(strict bool) EngineOption {
	return func(e *Engine) {
		e.strict = strict
	}
}

// WithMaxFetchDepth bounds how deep immediate select fetches load.
func WithMaxFetchDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxFetchDepth = depth
	}
}

// WithFetchBatchSize bounds the ids per nested load.
func WithFetchBatchSize(size int) EngineOption {
	return func(e *Engine) {
		e.fetchBatchSize = size
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine executing plans of compiler against s.
func New(s *store.Store, compiler *plan.Compiler, opts ...EngineOption) *Engine {
	def := result.DefaultOptions()
	e := &Engine{
		store:          s,
		compiler:       compiler,
		ids:            UUIDv7Generator{},
		logger:         slog.Default(),
		maxFetchDepth:  def.MaxFetchDepth,
		fetchBatchSize: def.BatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the metamodel queries are compiled against.
func (e *Engine) Model() *metamodel.Model {
	return e.compiler.Model
}

// Compiler returns the plan compiler.
func (e *Engine) Compiler() *plan.Compiler {
	return e.compiler
}

// Session opens a unit of work.
func (e *Engine) Session() *Session {
	return &Session{engine: e}
}

func (e *Engine) assemblerOptions(depth int) result.Options {
	return result.Options{
		MaxFetchDepth: e.maxFetchDepth,
		BatchSize:     e.fetchBatchSize,
		Depth:         depth,
	}
}
