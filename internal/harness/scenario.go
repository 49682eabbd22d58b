package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a query conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mapping is the path of a CUE mapping document. Empty uses the
	// fixture mapping of package testutil.
	Mapping string `yaml:"mapping,omitempty"`

	// Schema creates the tables. Empty uses the fixture schema and seed.
	Schema []string `yaml:"schema,omitempty"`

	// Setup statements run after the schema, before the steps.
	Setup []string `yaml:"setup,omitempty"`

	// Steps are the queries to run, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final database state.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// ExecutionID is the fixed execution ID of every step.
	ExecutionID string `yaml:"execution_id,omitempty"`
}

// Step runs one query.
type Step struct {
	Query string `yaml:"query"`

	// Params binds single values by name, or by position for keys like "1".
	Params map[string]any `yaml:"params,omitempty"`

	// Lists binds collections to IN-list parameters.
	Lists map[string][]any `yaml:"lists,omitempty"`

	// Fetch names association paths to fetch-join.
	Fetch []string `yaml:"fetch,omitempty"`

	FirstResult int `yaml:"first_result,omitempty"`
	MaxResults  int `yaml:"max_results,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the outcome of a step.
type Expect struct {
	// Error is the expected error code (e.g. "parameter.unbound").
	Error string `yaml:"error,omitempty"`

	// Count is the expected number of results.
	Count *int `yaml:"count,omitempty"`

	// Results are matched in order against the rendered results. Map
	// entries are a subset match; other values must be equal.
	Results []any `yaml:"results,omitempty"`

	// Affected is the expected row count of an update or delete.
	Affected *int64 `yaml:"affected,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of trace_contains, trace_count, final_state, plan_cache.
	Type string `yaml:"type"`

	// SQL is a fragment of a rendered statement (trace_contains, trace_count).
	SQL string `yaml:"sql,omitempty"`

	// Table is the table to query (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects exactly one row (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values, subset match (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of steps (trace_count) or plan cache
	// hits (plan_cache).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertPlanCache     = "plan_cache"
)

// LoadScenario reads and parses a scenario YAML file. The mapping path is
// resolved relative to the scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Mapping != "" && !filepath.IsAbs(scenario.Mapping) {
		scenario.Mapping = filepath.Join(filepath.Dir(path), scenario.Mapping)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}
	for i, step := range s.Steps {
		if step.Query == "" {
			return fmt.Errorf("steps[%d]: query is required", i)
		}
		if step.FirstResult < 0 || step.MaxResults < 0 {
			return fmt.Errorf("steps[%d]: first_result and max_results must be non-negative", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	switch a.Type {
	case AssertTraceContains:
		if a.SQL == "" {
			return fmt.Errorf("assertions[%d]: sql is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.SQL == "" {
			return fmt.Errorf("assertions[%d]: sql is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertPlanCache:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for plan_cache", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
