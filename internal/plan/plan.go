// Package plan compiles query text into executable plans and caches them.
//
// Compilation runs in two stages. Interpret parses and analyzes the text
// once; the result carries the parameter metadata callers bind against.
// Compile lowers an interpretation, with the options of one execution, to
// SQL and result descriptors. Plans whose shape cannot depend on the
// execution are cached by Key.
package plan

import (
	"github.com/roach88/orq/internal/lower"
	"github.com/roach88/orq/internal/param"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/sqlast"
	"github.com/roach88/orq/internal/sqm"
)

// Interpretation is an analyzed query. It is immutable and shared by every
// execution of the same text.
type Interpretation struct {
	Text       string
	ResultType string
	Statement  sqm.Statement

	syntax parse.Statement
}

// Parameters returns the parameters declared by the query.
func (i *Interpretation) Parameters() *param.Metadata {
	return i.Statement.Parameters()
}

// IsSelect reports whether the query returns rows.
func (i *Interpretation) IsSelect() bool {
	_, ok := i.Statement.(*sqm.SelectStatement)
	return ok
}

// Request is the input of one compilation.
type Request struct {
	Query    *Interpretation
	Bindings *param.Bindings

	// FetchGraph names associations to fetch-join in addition to those of
	// the query.
	FetchGraph []string

	// Filters are the load-time filters enabled for the execution.
	Filters []lower.Filter
}

// Plan is a compiled query. It is sealed: ConcretePlan and AggregatePlan
// are the only implementations.
type Plan interface {
	plan()

	// Parts returns the statements to execute, in order.
	Parts() []*ConcretePlan

	// Spaces returns the tables the plan reads or writes.
	Spaces() []string
}

// ConcretePlan is one SQL statement and the descriptors of its results.
type ConcretePlan struct {
	Statement sqm.Statement
	Lowered   *lower.Lowered

	// operation is rendered once at compile time for executions without
	// multi-valued bindings.
	operation *sqlast.Operation
}

func (*ConcretePlan) plan() {}

// Parts returns p.
func (p *ConcretePlan) Parts() []*ConcretePlan { return []*ConcretePlan{p} }

// Spaces returns the tables of the statement.
func (p *ConcretePlan) Spaces() []string { return p.Lowered.Spaces }

// Results returns the result descriptors of a select.
func (p *ConcretePlan) Results() []result.DomainResult { return p.Lowered.Results }

// Operation renders the statement for bindings. Multi-valued bindings are
// expanded for this call only; otherwise the operation rendered at compile
// time is returned.
func (p *ConcretePlan) Operation(b *param.Bindings) (*sqlast.Operation, error) {
	if !b.HasMultiValued() {
		return p.operation, nil
	}
	exp := b.Expand()
	defer exp.Clear()
	return sqlast.Render(p.Lowered.Statement, exp)
}

// AggregatePlan runs one statement per concrete subtype of a polymorphic
// table-per-class root and concatenates the results.
type AggregatePlan struct {
	Plans []*ConcretePlan
}

func (*AggregatePlan) plan() {}

// Parts returns the per-subtype plans.
func (p *AggregatePlan) Parts() []*ConcretePlan { return p.Plans }

// Spaces returns the tables of every part.
func (p *AggregatePlan) Spaces() []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range p.Plans {
		for _, s := range part.Spaces() {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
