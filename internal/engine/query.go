package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/orq/internal/l2"
	"github.com/roach88/orq/internal/lower"
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/param"
	"github.com/roach88/orq/internal/plan"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/scroll"
)

// Query is a compiled query with the bindings and options of its next
// invocations.
type Query struct {
	session  *Session
	in       *plan.Interpretation
	bindings *param.Bindings

	fetchGraph  []string
	filters     []lower.Filter
	firstResult int
	maxResults  int
	cacheable   bool
}

func newQuery(s *Session, in *plan.Interpretation) *Query {
	return &Query{
		session:  s,
		in:       in,
		bindings: param.NewBindings(in.Parameters(), s.engine.strict),
	}
}

// Text returns the query text.
func (q *Query) Text() string { return q.in.Text }

// IsSelect reports whether the query returns results rather than
// updating rows.
func (q *Query) IsSelect() bool { return q.in.IsSelect() }

// Parameters returns the declared parameters.
func (q *Query) Parameters() *param.Metadata { return q.in.Parameters() }

// IsBound reports whether p has a binding.
func (q *Query) IsBound(p *param.QueryParameter) bool { return q.bindings.IsBound(p) }

// SetParameter binds a value to a named (string) or ordinal (int)
// parameter.
func (q *Query) SetParameter(key any, value any, explicitType ...metamodel.BasicType) error {
	return q.bindings.SetParameter(key, value, explicitType...)
}

// SetParameterList binds a collection to a parameter used as an IN-list.
func (q *Query) SetParameterList(key any, values []any) error {
	return q.bindings.SetParameterList(key, values)
}

// SetFetchGraph fetch-joins the named association paths, relative to the
// selected root ("children" or "p.children").
func (q *Query) SetFetchGraph(paths ...string) *Query {
	q.fetchGraph = append([]string(nil), paths...)
	return q
}

// EnableFilter restricts every occurrence of entity (and its subtypes) to
// rows whose attribute compares with op to value. op defaults to "=".
func (q *Query) EnableFilter(name, entity, attribute, op string, value any) error {
	e, ok := q.session.engine.Model().Entity(entity)
	if !ok {
		return qerr.New(qerr.CodeSemanticUnknownEntity,
			fmt.Sprintf("filter %s: unknown entity %q", name, entity), qerr.Field("entity", entity))
	}
	q.filters = append(q.filters, lower.Filter{Name: name, Entity: e, Attribute: attribute, Op: op, Value: value})
	return nil
}

// SetFirstResult skips the first n results.
func (q *Query) SetFirstResult(n int) error {
	if n < 0 {
		return qerr.New(qerr.CodeParameterInvalidArgument,
			"first result must not be negative", qerr.Field("first_result", n))
	}
	q.firstResult = n
	return nil
}

// SetMaxResults limits the number of results; 0 means no limit.
func (q *Query) SetMaxResults(n int) error {
	if n < 0 {
		return qerr.New(qerr.CodeParameterInvalidArgument,
			"max results must not be negative", qerr.Field("max_results", n))
	}
	q.maxResults = n
	return nil
}

// SetCacheable stores List results in the second-level cache.
func (q *Query) SetCacheable(cacheable bool) *Query {
	q.cacheable = cacheable
	return q
}

// Validate fails when a declared parameter is unbound, naming it.
func (q *Query) Validate() error {
	return q.bindings.Validate()
}

// Plan compiles the query for its current bindings and options.
func (q *Query) Plan() (plan.Plan, error) {
	return q.session.engine.compiler.Compile(q.request())
}

// CacheKey returns the plan cache key of the query with its current
// bindings and options, if it has one.
func (q *Query) CacheKey() (plan.Key, bool) {
	return plan.KeyFor(q.request())
}

func (q *Query) request() plan.Request {
	return plan.Request{
		Query:      q.in,
		Bindings:   q.bindings,
		FetchGraph: q.fetchGraph,
		Filters:    q.filters,
	}
}

// SQL renders the statements the query runs with its current bindings,
// one per plan part.
func (q *Query) SQL() ([]string, error) {
	p, err := q.Plan()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.Parts()))
	for _, part := range p.Parts() {
		op, err := part.Operation(q.bindings)
		if err != nil {
			return nil, err
		}
		out = append(out, op.SQL)
	}
	return out, nil
}

// List runs the query and returns every result.
//
// A result is the selected value, or []any when several values are
// selected. Entities are *result.Object. A fetch-joined collection yields
// each root once.
func (q *Query) List(ctx context.Context) ([]any, error) {
	return q.list(ctx, nil, 0)
}

func (q *Query) list(ctx context.Context, registry *result.Registry, depth int) ([]any, error) {
	src, err := q.open(registry, depth, false)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if q.cacheable {
		if err := src.useCache(ctx); err != nil {
			return nil, err
		}
	}

	out := []any{}
	for {
		v, ok, err := src.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, v)
	}
	// Nested loads need the connection the rows may still hold.
	if err := src.Close(); err != nil {
		return nil, err
	}
	if err := src.finish(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Iterator yields results one at a time. It cannot be restarted.
type Iterator struct {
	src   *resultSource
	value any
	err   error
}

// Iterate runs the query and returns a lazy iterator over its results.
// Nested loads of each result run before it is returned. Assembly is lazy
// but the rows of each statement are read into memory when it is executed.
func (q *Query) Iterate(ctx context.Context) (*Iterator, error) {
	src, err := q.open(nil, 0, true)
	if err != nil {
		return nil, err
	}
	return &Iterator{src: src}, nil
}

// Next advances to the next result.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil || it.src.closed {
		return false
	}
	v, ok, err := it.src.Next(ctx)
	if err != nil {
		it.err = err
		_ = it.src.Close()
		return false
	}
	if !ok {
		_ = it.src.Close()
		return false
	}
	it.value = v
	return true
}

// Value returns the current result.
func (it *Iterator) Value() any { return it.value }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the underlying rows.
func (it *Iterator) Close() error { return it.src.Close() }

// Scroll runs the query and returns a cursor over its results. Rows are
// read as Iterate reads them.
func (q *Query) Scroll(ctx context.Context, mode scroll.Mode) (*scroll.Cursor, error) {
	src, err := q.open(nil, 0, true)
	if err != nil {
		return nil, err
	}
	return scroll.New(src, mode), nil
}

// ExecuteUpdate runs an update or delete and returns the affected row
// count. The cache spaces of the statement are invalidated; within a
// transaction the soft locks are released when it completes.
func (q *Query) ExecuteUpdate(ctx context.Context) (int64, error) {
	if q.in.IsSelect() {
		return 0, wrongStatement("executeUpdate", true)
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}
	p, err := q.Plan()
	if err != nil {
		return 0, err
	}

	e := q.session.engine
	execID := e.ids.Generate()

	var inv *l2.BulkInvalidation
	if e.region != nil {
		inv = l2.NewBulkInvalidation(e.region, p.Spaces())
		if err := inv.BeforeCompletion(); err != nil {
			return 0, fmt.Errorf("invalidate cache: %w", errors.Join(err, inv.AfterCompletion(false)))
		}
	}

	total, err := q.execParts(ctx, execID, p)
	if inv != nil {
		if tx := q.session.tx; tx != nil {
			tx.invalidations = append(tx.invalidations, inv)
		} else if cerr := inv.AfterCompletion(err == nil); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (q *Query) execParts(ctx context.Context, execID string, p plan.Plan) (int64, error) {
	e := q.session.engine
	var total int64
	for _, part := range p.Parts() {
		op, err := part.Operation(q.bindings)
		if err != nil {
			return 0, err
		}
		args, err := op.Args(q.bindings)
		if err != nil {
			return 0, err
		}
		e.logger.Debug("executing update", "execution_id", execID, "sql", op.SQL)
		n, err := q.session.executor().Exec(ctx, op.SQL, args...)
		if err != nil {
			return 0, executionError(err, qerr.CodeExecutionStatement, execID, op.SQL)
		}
		total += n
	}
	e.logger.Debug("update finished", "execution_id", execID, "rows", total)
	return total, nil
}

// open validates the bindings, compiles and prepares a result source.
func (q *Query) open(registry *result.Registry, depth int, lazy bool) (*resultSource, error) {
	if !q.in.IsSelect() {
		return nil, wrongStatement("list", false)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	p, err := q.Plan()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		registry = result.NewRegistry()
	}
	e := q.session.engine
	src := &resultSource{
		query:    q,
		execID:   e.ids.Generate(),
		plan:     p,
		registry: registry,
		depth:    depth,
		lazy:     lazy,
		skip:     q.firstResult,
		limit:    q.maxResults,
	}
	e.logger.Debug("query started", "execution_id", src.execID, "query", q.in.Text, "parts", len(p.Parts()))
	return src, nil
}
