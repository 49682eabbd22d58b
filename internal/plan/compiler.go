package plan

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/orq/internal/lower"
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/sqlast"
	"github.com/roach88/orq/internal/sqm"
)

// Compiler turns query text into plans against one metamodel.
//
// A Compiler is safe for concurrent use. With a nil Cache nothing is
// cached and every call compiles.
type Compiler struct {
	Model          *metamodel.Model
	Instantiations *result.InstantiationRegistry
	Cache          *Cache
	Logger         *slog.Logger

	interpretations sync.Map // Key -> *Interpretation
}

// NewCompiler creates a compiler. cache may be nil.
func NewCompiler(model *metamodel.Model, instantiations *result.InstantiationRegistry, cache *Cache) *Compiler {
	if instantiations == nil {
		instantiations = result.NewInstantiationRegistry()
	}
	return &Compiler{
		Model:          model,
		Instantiations: instantiations,
		Cache:          cache,
		Logger:         slog.Default(),
	}
}

// Interpret parses and analyzes text. resultType optionally names the
// entity each result is expected to be.
//
// With a cache, every call for the same text and result type returns the
// same Interpretation, so bindings made against its parameters fit any
// plan cached from it. Failures are never cached.
func (c *Compiler) Interpret(text, resultType string) (*Interpretation, error) {
	key := interpretationKey(text, resultType)
	if c.Cache != nil {
		if v, ok := c.interpretations.Load(key); ok {
			return v.(*Interpretation), nil
		}
	}

	syntax, err := parse.Parse(text)
	if err != nil {
		return nil, err
	}
	stmt, err := sqm.Analyze(c.context(resultType, nil), syntax)
	if err != nil {
		return nil, err
	}
	in := &Interpretation{Text: text, ResultType: resultType, Statement: stmt, syntax: syntax}
	if c.Cache != nil {
		v, _ := c.interpretations.LoadOrStore(key, in)
		return v.(*Interpretation), nil
	}
	return in, nil
}

// Compile returns the plan for req, from the cache when req has a key.
func (c *Compiler) Compile(req Request) (Plan, error) {
	if req.Query == nil {
		return nil, fmt.Errorf("plan: compile requires an interpretation")
	}
	key, cacheable := KeyFor(req)
	cacheable = cacheable && c.Cache != nil
	if cacheable {
		if p, ok := c.Cache.Get(key); ok {
			c.logger().Debug("plan cache hit", "cache_key", string(key))
			return p, nil
		}
	}

	p, err := c.build(req)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.Cache.Put(key, p)
		c.logger().Debug("plan cached", "cache_key", string(key))
	}
	return p, nil
}

// Reset drops every cached interpretation and plan.
func (c *Compiler) Reset() {
	c.interpretations.Clear()
	if c.Cache != nil {
		c.Cache.Clear()
	}
}

func (c *Compiler) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Compiler) context(resultType string, subs map[*metamodel.Entity]*metamodel.Entity) *sqm.Context {
	return &sqm.Context{
		Model:          c.Model,
		ResultType:     resultType,
		Instantiations: c.Instantiations,
		Substitutions:  subs,
	}
}

func (c *Compiler) build(req Request) (Plan, error) {
	opts := lower.Options{Filters: req.Filters, FetchGraph: req.FetchGraph}
	stmt := req.Query.Statement

	poly, err := polymorphicRoot(stmt)
	if err != nil {
		return nil, err
	}
	if poly == nil {
		return c.concrete(stmt, opts)
	}

	if s, ok := stmt.(*sqm.SelectStatement); ok && (len(s.OrderBy) > 0 || s.Limit != nil || s.Offset != nil) {
		return nil, qerr.Unsupported(
			fmt.Sprintf("order by, limit or offset over table-per-class type %s", poly.Name),
			qerr.Field("entity", poly.Name))
	}

	out := &AggregatePlan{}
	for _, sub := range poly.ConcreteSubtypes() {
		ctx := c.context(req.Query.ResultType, map[*metamodel.Entity]*metamodel.Entity{poly: sub})
		ctx.Parameters = req.Query.Parameters()
		split, err := sqm.Analyze(ctx, req.Query.syntax)
		if err != nil {
			return nil, err
		}
		part, err := c.concrete(split, opts)
		if err != nil {
			return nil, err
		}
		out.Plans = append(out.Plans, part)
	}
	c.logger().Debug("query split per subtype", "entity", poly.Name, "parts", len(out.Plans))
	return out, nil
}

func (c *Compiler) concrete(stmt sqm.Statement, opts lower.Options) (*ConcretePlan, error) {
	lowered, err := lower.Lower(c.Model, stmt, opts)
	if err != nil {
		return nil, err
	}
	op, err := sqlast.Render(lowered.Statement, nil)
	if err != nil {
		return nil, err
	}
	return &ConcretePlan{Statement: stmt, Lowered: lowered, operation: op}, nil
}

// polymorphicRoot returns the root entity whose rows live in the tables of
// several table-per-class types, or nil when every root maps to one table.
func polymorphicRoot(stmt sqm.Statement) (*metamodel.Entity, error) {
	var roots []*sqm.Root
	switch s := stmt.(type) {
	case *sqm.SelectStatement:
		roots = s.Roots
	case *sqm.UpdateStatement:
		roots = []*sqm.Root{s.Target}
	case *sqm.DeleteStatement:
		roots = []*sqm.Root{s.Target}
	}

	var found *metamodel.Entity
	for _, r := range roots {
		if !isPolymorphic(r.Entity) {
			continue
		}
		if found != nil {
			return nil, qerr.Unsupported(
				fmt.Sprintf("more than one table-per-class root (%s, %s)", found.Name, r.Entity.Name))
		}
		found = r.Entity
	}
	return found, nil
}

func isPolymorphic(e *metamodel.Entity) bool {
	return e.InheritanceStrategy() == metamodel.InheritanceTablePerClass && (e.Abstract || e.HasSubclasses())
}
