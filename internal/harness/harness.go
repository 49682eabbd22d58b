package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/orq/internal/engine"
	"github.com/roach88/orq/internal/l2"
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/plan"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/store"
	"github.com/roach88/orq/internal/testutil"
)

// Harness is the scenario execution engine.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	compiler *plan.Compiler
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a plan cache and
// an in-memory second-level cache region.
//
// Execution flow:
// 1. Create fresh in-memory database and apply the schema and setup
// 2. Load the mapping
// 3. Execute steps, checking their expect clauses
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	model, err := loadModel(scenario.Mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}

	schema := scenario.Schema
	if len(schema) == 0 {
		schema = []string{testutil.SchemaSQL, testutil.SeedSQL}
	}
	if err := st.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	for i, stmt := range scenario.Setup {
		if _, err := st.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	compiler := plan.NewCompiler(model, result.NewInstantiationRegistry(), plan.NewCache())
	compiler.Logger = logger

	h := &Harness{
		store:    st,
		compiler: compiler,
		logger:   logger,
		engine: engine.New(st, compiler,
			engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.ExecutionID)),
			engine.WithRegion(l2.NewMemoryRegion()),
			engine.WithLogger(logger),
		),
	}

	res := NewResult()
	session := h.engine.Session()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, session, i+1, step, res)
	}

	actx := &AssertionContext{
		Store: st,
		Cache: compiler.Cache,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(res, scenario.Assertions, actx) {
		res.AddError(msg)
	}
	return res, nil
}

func loadModel(path string) (*metamodel.Model, error) {
	if path == "" {
		return metamodel.CompileString(testutil.MappingCUE)
	}
	return metamodel.LoadFile(path)
}

func (h *Harness) executeStep(ctx context.Context, s *engine.Session, n int, step Step, res *Result) {
	event := TraceEvent{Step: n, Query: step.Query}
	err := h.runStep(ctx, s, step, &event)
	if err != nil {
		event.Error = string(qerr.CodeOf(err))
		if event.Error == "" {
			event.Error = err.Error()
		}
		h.logger.Debug("step failed", "step", n, "error", err)
	}
	res.AddTrace(event)

	for _, msg := range checkExpect(step.Expect, event, err) {
		res.AddError(fmt.Sprintf("step %d (%s): %s", n, step.Query, msg))
	}
}

func (h *Harness) runStep(ctx context.Context, s *engine.Session, step Step, event *TraceEvent) error {
	q, err := s.CreateQuery(step.Query)
	if err != nil {
		return err
	}
	for key, v := range step.Params {
		if err := q.SetParameter(parameterKey(key), v); err != nil {
			return err
		}
	}
	for key, values := range step.Lists {
		if err := q.SetParameterList(parameterKey(key), values); err != nil {
			return err
		}
	}
	if len(step.Fetch) > 0 {
		q.SetFetchGraph(step.Fetch...)
	}
	if err := q.SetFirstResult(step.FirstResult); err != nil {
		return err
	}
	if err := q.SetMaxResults(step.MaxResults); err != nil {
		return err
	}

	if err := q.Validate(); err != nil {
		return err
	}
	if event.SQL, err = q.SQL(); err != nil {
		return err
	}

	if !q.IsSelect() {
		n, err := q.ExecuteUpdate(ctx)
		if err != nil {
			return err
		}
		event.Affected = &n
		return nil
	}

	values, err := q.List(ctx)
	if err != nil {
		return err
	}
	event.Results = make([]any, len(values))
	for i, v := range values {
		event.Results[i] = Render(v)
	}
	return nil
}

// parameterKey maps "1" to ordinal 1 and anything else to a name.
func parameterKey(key string) any {
	if n, err := strconv.Atoi(key); err == nil {
		return n
	}
	return key
}

// Render converts a query result to plain values for comparison and JSON
// output: entities become snapshots, tuples lists.
func Render(v any) any {
	switch x := v.(type) {
	case *result.Object:
		return renderMap(x.Snapshot())
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Render(item)
		}
		return out
	case map[string]any:
		return renderMap(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func renderMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Render(v)
	}
	return out
}

func checkExpect(expect *Expect, event TraceEvent, err error) []string {
	if expect == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	if expect.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, got success", expect.Error)}
		}
		if event.Error != expect.Error {
			return []string{fmt.Sprintf("expected error %s, got %s (%v)", expect.Error, event.Error, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var errs []string
	if expect.Count != nil && len(event.Results) != *expect.Count {
		errs = append(errs, fmt.Sprintf("expected %d result(s), got %d", *expect.Count, len(event.Results)))
	}
	if expect.Results != nil {
		if len(expect.Results) > len(event.Results) {
			errs = append(errs, fmt.Sprintf("expected at least %d result(s), got %d", len(expect.Results), len(event.Results)))
		} else {
			for i, want := range expect.Results {
				if !matchValue(event.Results[i], want) {
					errs = append(errs, fmt.Sprintf("result %d: expected %v, got %v", i, want, event.Results[i]))
				}
			}
		}
	}
	if expect.Affected != nil {
		switch {
		case event.Affected == nil:
			errs = append(errs, fmt.Sprintf("expected %d affected row(s), got a select", *expect.Affected))
		case *event.Affected != *expect.Affected:
			errs = append(errs, fmt.Sprintf("expected %d affected row(s), got %d", *expect.Affected, *event.Affected))
		}
	}
	return errs
}
