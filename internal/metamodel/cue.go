package metamodel

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Mapping documents are CUE values of the form:
//
//	namespace: "com.acme"
//	entities: {
//		Parent: {
//			table: "parent"
//			id: {name: "id", column: "id", type: "integer"}
//			attributes: {
//				name: {column: "name", type: "string"}
//				children: {kind: "one-to-many", target: "Child", mappedBy: "parent"}
//			}
//		}
//		Child: {
//			table: "child"
//			id: {name: "id", column: "id", type: "integer"}
//			attributes: {
//				parent: {kind: "many-to-one", target: "Parent", column: "parent_id", fetch: "eager"}
//			}
//		}
//	}
//	embeddables: {
//		Address: attributes: {city: {column: "city", type: "string"}}
//	}
//
// Field order in the document is the attribute order of the model.

// LoadFile reads and compiles a CUE mapping document.
func LoadFile(path string) (*Model, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	return Compile(v)
}

// CompileString compiles a CUE mapping document held in memory.
func CompileString(src string) (*Model, error) {
	ctx := cuecontext.New()
	return Compile(ctx.CompileString(src))
}

// Compile builds a Model from a CUE value.
func Compile(v cue.Value) (*Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	namespace := ""
	if nsVal := v.LookupPath(cue.ParsePath("namespace")); nsVal.Exists() {
		ns, err := nsVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		namespace = ns
	}

	embeddables, err := parseEmbeddables(v)
	if err != nil {
		return nil, err
	}

	entVal := v.LookupPath(cue.ParsePath("entities"))
	if !entVal.Exists() {
		return nil, &CompileError{Field: "entities", Message: "at least one entity is required", Pos: v.Pos()}
	}
	iter, err := entVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var entities []*Entity
	for iter.Next() {
		e, err := parseEntity(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		e.Package = namespace
		entities = append(entities, e)
	}

	return New(entities, embeddables)
}

func parseEmbeddables(v cue.Value) ([]*Embeddable, error) {
	embVal := v.LookupPath(cue.ParsePath("embeddables"))
	if !embVal.Exists() {
		return nil, nil
	}
	iter, err := embVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []*Embeddable
	for iter.Next() {
		emb := &Embeddable{Name: iter.Selector().Unquoted()}
		attrs, err := parseAttributes(iter.Value())
		if err != nil {
			return nil, err
		}
		emb.Attributes = attrs
		out = append(out, emb)
	}
	return out, nil
}

func parseEntity(name string, v cue.Value) (*Entity, error) {
	e := &Entity{Name: name}

	var err error
	if e.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}
	if e.SuperName, err = optionalString(v, "extends"); err != nil {
		return nil, err
	}
	if e.Abstract, err = optionalBool(v, "abstract"); err != nil {
		return nil, err
	}

	strategy, err := optionalString(v, "inheritance")
	if err != nil {
		return nil, err
	}
	switch strategy {
	case "":
	case "single-table":
		e.Strategy = InheritanceSingleTable
	case "joined":
		e.Strategy = InheritanceJoined
	case "table-per-class":
		e.Strategy = InheritanceTablePerClass
	default:
		return nil, &CompileError{Field: name + ".inheritance", Message: fmt.Sprintf("unknown strategy %q", strategy), Pos: v.Pos()}
	}

	if e.DiscriminatorColumn, err = optionalString(v, "discriminator.column"); err != nil {
		return nil, err
	}
	if e.DiscriminatorValue, err = optionalString(v, "discriminator.value"); err != nil {
		return nil, err
	}

	if idVal := v.LookupPath(cue.ParsePath("id")); idVal.Exists() {
		id, err := parseAttribute("", idVal)
		if err != nil {
			return nil, err
		}
		if id.Name == "" {
			id.Name = "id"
		}
		if id.Column == "" {
			id.Column = id.Name
		}
		id.Optional = false
		e.ID = id
	}

	if stVal := v.LookupPath(cue.ParsePath("secondaryTables")); stVal.Exists() {
		list, err := stVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			tableName, err := optionalString(list.Value(), "name")
			if err != nil {
				return nil, err
			}
			key, err := optionalString(list.Value(), "keyColumn")
			if err != nil {
				return nil, err
			}
			e.SecondaryTables = append(e.SecondaryTables, SecondaryTable{Name: tableName, KeyColumn: key})
		}
	}

	attrs, err := parseAttributes(v)
	if err != nil {
		return nil, err
	}
	e.Attributes = attrs
	return e, nil
}

func parseAttributes(v cue.Value) ([]*Attribute, error) {
	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrsVal.Exists() {
		return nil, nil
	}
	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []*Attribute
	for iter.Next() {
		attr, err := parseAttribute(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, attr)
	}
	return out, nil
}

func parseAttribute(name string, v cue.Value) (*Attribute, error) {
	attr := &Attribute{Name: name, Optional: true}

	var err error
	if n, err := optionalString(v, "name"); err != nil {
		return nil, err
	} else if n != "" {
		attr.Name = n
	}

	kind, err := optionalString(v, "kind")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "", "basic":
		attr.Kind = KindBasic
	case "embedded":
		attr.Kind = KindEmbedded
	case "many-to-one":
		attr.Kind = KindManyToOne
	case "one-to-one":
		attr.Kind = KindOneToOne
	case "one-to-many":
		attr.Kind = KindOneToMany
		attr.Optional = false
	default:
		return nil, &CompileError{Field: attr.Name + ".kind", Message: fmt.Sprintf("unknown attribute kind %q", kind), Pos: v.Pos()}
	}

	if attr.Column, err = optionalString(v, "column"); err != nil {
		return nil, err
	}
	if attr.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}
	if attr.Target, err = optionalString(v, "target"); err != nil {
		return nil, err
	}
	if attr.MappedBy, err = optionalString(v, "mappedBy"); err != nil {
		return nil, err
	}
	if attr.ColumnPrefix, err = optionalString(v, "prefix"); err != nil {
		return nil, err
	}

	typeName, err := optionalString(v, "type")
	if err != nil {
		return nil, err
	}
	if attr.Kind == KindBasic {
		if typeName == "" {
			typeName = "string"
		}
		t, ok := ParseBasicType(typeName)
		if !ok {
			return nil, &CompileError{Field: attr.Name + ".type", Message: fmt.Sprintf("unknown type %q", typeName), Pos: v.Pos()}
		}
		attr.Type = t
	}

	fetch, err := optionalString(v, "fetch")
	if err != nil {
		return nil, err
	}
	switch fetch {
	case "", "lazy", "delayed":
		attr.Timing = FetchDelayed
	case "eager", "immediate":
		attr.Timing = FetchImmediate
	default:
		return nil, &CompileError{Field: attr.Name + ".fetch", Message: fmt.Sprintf("unknown fetch timing %q", fetch), Pos: v.Pos()}
	}

	if optVal := v.LookupPath(cue.ParsePath("optional")); optVal.Exists() {
		opt, err := optVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		attr.Optional = opt
	}

	return attr, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return false, nil
	}
	b, err := val.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// CompileError is a mapping document error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
