package param

import (
	"fmt"
	"reflect"
	"time"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/qerr"
)

// Binding holds the value(s) bound to one parameter for one invocation.
type Binding struct {
	Param *QueryParameter

	values      []any
	multiValued bool

	// explicitType overrides the anticipated type when given.
	explicitType metamodel.BasicType
}

// Value returns the single bound value.
func (b *Binding) Value() any {
	if len(b.values) == 0 {
		return nil
	}
	return b.values[0]
}

// Values returns all bound values.
func (b *Binding) Values() []any {
	return b.values
}

// IsMultiValued reports whether a collection was bound.
func (b *Binding) IsMultiValued() bool {
	return b.multiValued
}

// Type returns the explicit type, falling back to the anticipated one.
func (b *Binding) Type() metamodel.BasicType {
	if b.explicitType != metamodel.TypeUnknown {
		return b.explicitType
	}
	return b.Param.Type()
}

// Bindings binds runtime values to the parameters of one statement.
//
// A Bindings value belongs to a single invocation and is not safe for
// concurrent use.
type Bindings struct {
	meta     *Metadata
	bindings map[*QueryParameter]*Binding

	// Strict enables value type validation against the anticipated type.
	Strict bool
}

// NewBindings creates an empty binding set for meta.
func NewBindings(meta *Metadata, strict bool) *Bindings {
	if meta == nil {
		meta = NewMetadata()
	}
	return &Bindings{
		meta:     meta,
		bindings: make(map[*QueryParameter]*Binding, meta.Len()),
		Strict:   strict,
	}
}

// Metadata returns the declared parameters.
func (b *Bindings) Metadata() *Metadata {
	return b.meta
}

// SetParameter binds a single value. key is a name, a position or a
// *QueryParameter. An explicit type, when given, is used for validation
// instead of the anticipated type.
//
// Binding a slice to a parameter that is used as an IN-list is the same as
// calling SetParameterList.
func (b *Bindings) SetParameter(key any, value any, explicitType ...metamodel.BasicType) error {
	p, err := b.meta.Resolve(key)
	if err != nil {
		return err
	}
	if values, ok := asList(value); ok && p.AllowsMultiValued() {
		return b.bindList(p, values)
	}

	binding := &Binding{Param: p, values: []any{normalize(value)}}
	if len(explicitType) > 0 {
		binding.explicitType = explicitType[0]
	}
	if err := b.check(binding); err != nil {
		return err
	}
	b.bindings[p] = binding
	return nil
}

// SetParameterList binds a collection for IN-list expansion.
func (b *Bindings) SetParameterList(key any, values []any) error {
	p, err := b.meta.Resolve(key)
	if err != nil {
		return err
	}
	return b.bindList(p, values)
}

func (b *Bindings) bindList(p *QueryParameter, values []any) error {
	if !p.AllowsMultiValued() {
		return qerr.New(qerr.CodeParameterArity,
			fmt.Sprintf("parameter %s is not used in an IN-list and cannot take %d values", p.Label(), len(values)),
			qerr.FieldParameter(p.Label()), qerr.Field("values", len(values)))
	}
	normalized := make([]any, len(values))
	for i, v := range values {
		normalized[i] = normalize(v)
	}
	binding := &Binding{Param: p, values: normalized, multiValued: true}
	if err := b.check(binding); err != nil {
		return err
	}
	b.bindings[p] = binding
	return nil
}

// Binding returns the binding of p. A parameter declared by another
// analysis of the same text is matched by its name or position.
func (b *Bindings) Binding(p *QueryParameter) (*Binding, bool) {
	if binding, ok := b.bindings[p]; ok {
		return binding, true
	}
	var key any = p.Position
	if p.Name != "" {
		key = p.Name
	}
	same, err := b.meta.Resolve(key)
	if err != nil {
		return nil, false
	}
	binding, ok := b.bindings[same]
	return binding, ok
}

// IsBound reports whether p has a binding.
func (b *Bindings) IsBound(p *QueryParameter) bool {
	_, ok := b.bindings[p]
	return ok
}

// HasMultiValued reports whether any parameter is bound to a collection.
// Statements rendered from such bindings must not be cached.
func (b *Bindings) HasMultiValued() bool {
	if b == nil {
		return false
	}
	for _, binding := range b.bindings {
		if binding.multiValued {
			return true
		}
	}
	return false
}

// Validate fails when a declared parameter has no binding. The error names
// the first unbound parameter in declaration order.
func (b *Bindings) Validate() error {
	for _, p := range b.meta.Parameters() {
		if _, ok := b.bindings[p]; !ok {
			return qerr.New(qerr.CodeParameterUnbound,
				fmt.Sprintf("no value bound for parameter %s", p.Label()),
				qerr.FieldParameter(p.Label()))
		}
	}
	return nil
}

// Expand records the slot count of every multi-valued binding for one
// execution.
func (b *Bindings) Expand() *Expansion {
	exp := &Expansion{slots: make(map[*QueryParameter]int)}
	if b == nil {
		return exp
	}
	for p, binding := range b.bindings {
		if binding.multiValued {
			exp.slots[p] = len(binding.values)
		}
	}
	return exp
}

// Clear drops every binding.
func (b *Bindings) Clear() {
	clear(b.bindings)
}

func (b *Bindings) check(binding *Binding) error {
	if !b.Strict {
		return nil
	}
	want := binding.Type()
	if want == metamodel.TypeUnknown {
		return nil
	}
	for _, v := range binding.values {
		if v == nil {
			continue
		}
		if got := TypeOf(v); !want.Comparable(got) {
			return qerr.New(qerr.CodeParameterType,
				fmt.Sprintf("parameter %s expects %s, got %T", binding.Param.Label(), want, v),
				qerr.FieldParameter(binding.Param.Label()), qerr.Field("expected", want.String()))
		}
	}
	return nil
}

// Expansion is the per-execution slot layout of multi-valued bindings.
type Expansion struct {
	slots map[*QueryParameter]int
}

// Slots returns the number of positional slots for p, or -1 when p renders
// as a single slot.
func (e *Expansion) Slots(p *QueryParameter) int {
	if e == nil {
		return -1
	}
	if n, ok := e.slots[p]; ok {
		return n
	}
	return -1
}

// Empty reports whether nothing is expanded.
func (e *Expansion) Empty() bool {
	return e == nil || len(e.slots) == 0
}

// Clear forgets the expansion once the execution is complete.
func (e *Expansion) Clear() {
	if e != nil {
		clear(e.slots)
	}
}

// TypeOf maps a bound Go value to a basic type.
func TypeOf(v any) metamodel.BasicType {
	switch v.(type) {
	case string:
		return metamodel.TypeString
	case int64:
		return metamodel.TypeInteger
	case float64:
		return metamodel.TypeFloat
	case bool:
		return metamodel.TypeBoolean
	case time.Time:
		return metamodel.TypeTimestamp
	}
	return metamodel.TypeUnknown
}

// normalize widens Go integer and float kinds so drivers and comparisons see
// one representation.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

// asList unpacks any slice except []byte.
func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
