package result

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/orq/internal/qerr"
)

// Factory builds one result object from the selected argument values, in
// the order of the target's declared parameters.
type Factory func(args []any) (any, error)

// Target is a registered instantiation target for `select new Name(...)`.
type Target struct {
	Name string

	// Params names the constructor parameters. When set, arguments are
	// matched by alias (falling back to position) and the arity must match.
	Params []string

	Build Factory
}

// InstantiationRegistry holds the targets `select new` can name.
//
// Targets are resolved once when a statement is analyzed; row assembly only
// invokes the resolved Instantiator.
type InstantiationRegistry struct {
	mu      sync.RWMutex
	targets map[string]*Target
}

// NewInstantiationRegistry creates an empty registry.
func NewInstantiationRegistry() *InstantiationRegistry {
	return &InstantiationRegistry{targets: make(map[string]*Target)}
}

// Register adds a target under its (usually qualified) name.
func (r *InstantiationRegistry) Register(name string, params []string, build Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[name] = &Target{Name: name, Params: params, Build: build}
}

// RegisterStruct registers T under name. Selected arguments are assigned to
// the exported fields of T named by their aliases (case-insensitive); the
// field layout is computed here, once.
func RegisterStruct[T any](r *InstantiationRegistry, name string) {
	typ := reflect.TypeFor[T]()
	fields := make(map[string]int, typ.NumField())
	var params []string
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[strings.ToLower(f.Name)] = i
		params = append(params, f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[name] = &Target{
		Name:   name,
		Params: params,
		Build: func(args []any) (any, error) {
			out := reflect.New(typ).Elem()
			for i, arg := range args {
				if arg == nil {
					continue
				}
				field := out.Field(fields[strings.ToLower(params[i])])
				v := reflect.ValueOf(arg)
				if !v.Type().AssignableTo(field.Type()) {
					if !v.Type().ConvertibleTo(field.Type()) {
						return nil, fmt.Errorf("cannot assign %T to %s.%s", arg, typ.Name(), params[i])
					}
					v = v.Convert(field.Type())
				}
				field.Set(v)
			}
			return out.Interface(), nil
		},
	}
}

func (r *InstantiationRegistry) lookup(name string) (*Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.targets[name]; ok {
		return t, true
	}
	// Accept the simple name when it is unambiguous.
	var found *Target
	for key, t := range r.targets {
		if key == name || strings.HasSuffix(key, "."+name) {
			if found != nil {
				return nil, false
			}
			found = t
		}
	}
	return found, found != nil
}

// Instantiator is a resolved `select new` target. Build receives the
// argument values in selection order.
type Instantiator struct {
	Name  string
	build func(args []any) (any, error)
}

// Build creates one result object.
func (i *Instantiator) Build(args []any) (any, error) {
	return i.build(args)
}

// Resolve binds a target to the selected arguments. aliases holds the
// alias of each argument ("" when none).
func (r *InstantiationRegistry) Resolve(name string, aliases []string) (*Instantiator, error) {
	if r == nil {
		return nil, unresolved(name, "no instantiation targets registered")
	}
	target, ok := r.lookup(name)
	if !ok {
		return nil, unresolved(name, "no instantiation target registered under this name")
	}
	if target.Params == nil {
		return &Instantiator{Name: target.Name, build: target.Build}, nil
	}
	if len(target.Params) != len(aliases) {
		return nil, unresolved(name, fmt.Sprintf("target takes %d arguments, %d selected", len(target.Params), len(aliases)))
	}

	// order[i] is the argument feeding parameter i.
	order := make([]int, len(target.Params))
	for i := range order {
		order[i] = -1
	}
	used := make([]bool, len(aliases))
	for argIdx, alias := range aliases {
		if alias == "" {
			continue
		}
		for paramIdx, p := range target.Params {
			if strings.EqualFold(p, alias) && order[paramIdx] < 0 {
				order[paramIdx] = argIdx
				used[argIdx] = true
				break
			}
		}
	}
	next := 0
	for paramIdx := range order {
		if order[paramIdx] >= 0 {
			continue
		}
		for next < len(used) && used[next] {
			next++
		}
		if next >= len(used) {
			return nil, unresolved(name, "arguments do not match target parameters")
		}
		order[paramIdx] = next
		used[next] = true
	}

	build := target.Build
	return &Instantiator{
		Name: target.Name,
		build: func(args []any) (any, error) {
			ordered := make([]any, len(order))
			for i, idx := range order {
				ordered[i] = args[idx]
			}
			return build(ordered)
		},
	}, nil
}

// ListInstantiator builds `new list(...)` results.
func ListInstantiator() *Instantiator {
	return &Instantiator{Name: "list", build: func(args []any) (any, error) {
		return append([]any(nil), args...), nil
	}}
}

// MapInstantiator builds `new map(...)` results keyed by alias, or by the
// argument position when no alias is given.
func MapInstantiator(aliases []string) *Instantiator {
	keys := make([]string, len(aliases))
	for i, alias := range aliases {
		if alias == "" {
			alias = strconv.Itoa(i)
		}
		keys[i] = alias
	}
	return &Instantiator{Name: "map", build: func(args []any) (any, error) {
		out := make(map[string]any, len(keys))
		for i, key := range keys {
			out[key] = args[i]
		}
		return out, nil
	}}
}

func unresolved(name, reason string) error {
	return qerr.New(qerr.CodeSemanticUnknownType,
		fmt.Sprintf("cannot instantiate %s: %s", name, reason), qerr.Field("target", name))
}
