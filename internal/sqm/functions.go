package sqm

import (
	"fmt"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/parse"
	"github.com/roach88/orq/internal/qerr"
)

// functionDef describes a function the query language knows. Unknown
// functions are rejected instead of being passed through to SQL.
type functionDef struct {
	minArgs, maxArgs int
	aggregate        bool

	// argType, when known, is inferred for parameter arguments.
	argType metamodel.BasicType

	// result computes the result type from the analyzed arguments.
	result func(args []Expr) metamodel.BasicType
}

func fixed(t metamodel.BasicType) func([]Expr) metamodel.BasicType {
	return func([]Expr) metamodel.BasicType { return t }
}

// firstArg returns the type of the first argument with a known type.
func firstArg(args []Expr) metamodel.BasicType {
	for _, arg := range args {
		if t := arg.ValueType().BasicOf(); t != metamodel.TypeUnknown {
			return t
		}
	}
	return metamodel.TypeUnknown
}

const variadic = -1

var functions = map[string]functionDef{
	"upper":     {minArgs: 1, maxArgs: 1, argType: metamodel.TypeString, result: fixed(metamodel.TypeString)},
	"lower":     {minArgs: 1, maxArgs: 1, argType: metamodel.TypeString, result: fixed(metamodel.TypeString)},
	"trim":      {minArgs: 1, maxArgs: 1, argType: metamodel.TypeString, result: fixed(metamodel.TypeString)},
	"length":    {minArgs: 1, maxArgs: 1, argType: metamodel.TypeString, result: fixed(metamodel.TypeInteger)},
	"concat":    {minArgs: 2, maxArgs: variadic, argType: metamodel.TypeString, result: fixed(metamodel.TypeString)},
	"substring": {minArgs: 2, maxArgs: 3, result: fixed(metamodel.TypeString)},
	"coalesce":  {minArgs: 2, maxArgs: variadic, result: firstArg},
	"abs":       {minArgs: 1, maxArgs: 1, result: firstArg},
	"mod":       {minArgs: 2, maxArgs: 2, argType: metamodel.TypeInteger, result: fixed(metamodel.TypeInteger)},

	"current_date":      {result: fixed(metamodel.TypeDate)},
	"current_time":      {result: fixed(metamodel.TypeTime)},
	"current_timestamp": {result: fixed(metamodel.TypeTimestamp)},

	"count": {minArgs: 1, maxArgs: 1, aggregate: true, result: fixed(metamodel.TypeInteger)},
	"sum":   {minArgs: 1, maxArgs: 1, aggregate: true, result: firstArg},
	"avg":   {minArgs: 1, maxArgs: 1, aggregate: true, result: fixed(metamodel.TypeFloat)},
	"min":   {minArgs: 1, maxArgs: 1, aggregate: true, result: firstArg},
	"max":   {minArgs: 1, maxArgs: 1, aggregate: true, result: firstArg},
}

func (a *analyzer) function(n *parse.FuncCall) (Expr, error) {
	def, ok := functions[n.Name]
	if !ok {
		return nil, qerr.Unsupported("function "+n.Name, qerr.Field("function", n.Name))
	}
	if n.Star && n.Name != "count" {
		return nil, mismatch("%s(*) is not valid", n.Name)
	}
	if n.Distinct && !def.aggregate {
		return nil, mismatch("distinct is only valid in aggregate functions")
	}

	out := &Function{Name: n.Name, Distinct: n.Distinct, Star: n.Star, Aggregate: def.aggregate}
	if !n.Star {
		argc := len(n.Args)
		if argc < def.minArgs || (def.maxArgs != variadic && argc > def.maxArgs) {
			return nil, mismatch("wrong number of arguments to %s: %d", n.Name, argc)
		}
		for _, raw := range n.Args {
			arg, err := a.expr(raw)
			if err != nil {
				return nil, err
			}
			if def.argType != metamodel.TypeUnknown {
				a.infer(arg, basic(def.argType))
			}
			if t := arg.ValueType(); t.Embeddable != nil {
				return nil, qerr.Unsupported(fmt.Sprintf("embedded value as argument of %s", n.Name))
			} else if t.IsEntity() && n.Name != "count" {
				return nil, mismatch("%s cannot take an entity argument", n.Name)
			}
			out.Args = append(out.Args, arg)
		}
	}
	if n.Name == "sum" || n.Name == "avg" {
		if t := firstArg(out.Args); t != metamodel.TypeUnknown && !t.IsNumeric() {
			return nil, mismatch("%s needs a numeric argument, got %s", n.Name, t)
		}
	}
	out.Type = def.result(out.Args)
	return out, nil
}
