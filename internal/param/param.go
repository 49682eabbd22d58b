// Package param declares query parameters and binds runtime values to them.
//
// A QueryParameter is declared once per distinct name (`:id`) or position
// (`?1`) in a statement. Every textual occurrence of the parameter becomes
// its own semantic node, but all occurrences share the one QueryParameter
// and therefore the one Binding.
//
// Bindings are per invocation. A multi-valued binding (IN-list) is expanded
// into N positional slots when the statement is rendered; the Expansion that
// records N lives only for that execution and is cleared afterwards so the
// same compiled plan can be rendered with a different list size next call.
package param

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/qerr"
)

// QueryParameter is a declared parameter of a statement.
//
// Exactly one of Name and Position is set. The anticipated type is inferred
// from the context of the first occurrence that allows inference and is
// assigned at most once.
type QueryParameter struct {
	Name     string
	Position int

	typ      metamodel.BasicType
	inferred bool

	// multiValued is set when an occurrence is the sole item of an IN-list,
	// which allows binding a collection.
	multiValued bool
}

// Named declares a named parameter.
func Named(name string) *QueryParameter {
	return &QueryParameter{Name: name}
}

// Positional declares an ordinal parameter.
func Positional(position int) *QueryParameter {
	return &QueryParameter{Position: position}
}

// Label returns `name` or `?N`; it is what errors report.
func (p *QueryParameter) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return "?" + strconv.Itoa(p.Position)
}

func (p *QueryParameter) String() string {
	if p.Name != "" {
		return ":" + p.Name
	}
	return p.Label()
}

// Type returns the anticipated type (TypeUnknown until inferred).
func (p *QueryParameter) Type() metamodel.BasicType {
	return p.typ
}

// InferType records the anticipated type. Only the first call with a known
// type has an effect; it reports whether this call assigned the type.
func (p *QueryParameter) InferType(t metamodel.BasicType) bool {
	if p.inferred || t == metamodel.TypeUnknown {
		return false
	}
	p.typ = t
	p.inferred = true
	return true
}

// AllowMultiValued marks the parameter as usable as an IN-list.
func (p *QueryParameter) AllowMultiValued() {
	p.multiValued = true
}

// AllowsMultiValued reports whether a collection may be bound.
func (p *QueryParameter) AllowsMultiValued() bool {
	return p.multiValued
}

// Metadata is the set of parameters declared by one statement.
type Metadata struct {
	params     []*QueryParameter
	byName     map[string]*QueryParameter
	byPosition map[int]*QueryParameter
}

// NewMetadata creates an empty parameter set.
func NewMetadata() *Metadata {
	return &Metadata{
		byName:     make(map[string]*QueryParameter),
		byPosition: make(map[int]*QueryParameter),
	}
}

// Declare returns the parameter for a name or position, creating it on first
// use. Mixing named and ordinal parameters in one statement is rejected.
func (m *Metadata) Declare(name string, position int) (*QueryParameter, error) {
	if name != "" {
		if len(m.byPosition) > 0 {
			return nil, qerr.New(qerr.CodeSemanticMixedParameters,
				"named and ordinal parameters cannot be mixed", qerr.FieldParameter(name))
		}
		if p, ok := m.byName[name]; ok {
			return p, nil
		}
		p := Named(name)
		m.byName[name] = p
		m.params = append(m.params, p)
		return p, nil
	}
	if len(m.byName) > 0 {
		return nil, qerr.New(qerr.CodeSemanticMixedParameters,
			"named and ordinal parameters cannot be mixed", qerr.FieldParameter("?"+strconv.Itoa(position)))
	}
	if p, ok := m.byPosition[position]; ok {
		return p, nil
	}
	p := Positional(position)
	m.byPosition[position] = p
	m.params = append(m.params, p)
	return p, nil
}

// Parameters returns the declared parameters, named ones in declaration order
// and ordinal ones sorted by position.
func (m *Metadata) Parameters() []*QueryParameter {
	out := append([]*QueryParameter(nil), m.params...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != "" || out[j].Name != "" {
			return false
		}
		return out[i].Position < out[j].Position
	})
	return out
}

// Len returns the number of declared parameters.
func (m *Metadata) Len() int {
	return len(m.params)
}

// Resolve finds a parameter by name (string), position (int) or identity
// (*QueryParameter).
func (m *Metadata) Resolve(key any) (*QueryParameter, error) {
	switch k := key.(type) {
	case *QueryParameter:
		for _, p := range m.params {
			if p == k {
				return p, nil
			}
		}
		return nil, unknown(k.Label())
	case string:
		if p, ok := m.byName[k]; ok {
			return p, nil
		}
		// "?2" and "2" address ordinal parameters from string-typed callers.
		raw := k
		if len(raw) > 1 && raw[0] == '?' {
			raw = raw[1:]
		}
		if n, err := strconv.Atoi(raw); err == nil {
			if p, ok := m.byPosition[n]; ok {
				return p, nil
			}
		}
		return nil, unknown(k)
	case int:
		if p, ok := m.byPosition[k]; ok {
			return p, nil
		}
		return nil, unknown("?" + strconv.Itoa(k))
	default:
		return nil, qerr.New(qerr.CodeParameterInvalidArgument,
			fmt.Sprintf("parameter key must be a name or a position, got %T", key))
	}
}

func unknown(label string) error {
	return qerr.New(qerr.CodeParameterUnknown,
		fmt.Sprintf("query has no parameter %s", label), qerr.FieldParameter(label))
}
