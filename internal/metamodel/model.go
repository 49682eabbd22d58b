package metamodel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/orq/internal/qerr"
)

// Model is a resolved, immutable mapping metamodel.
//
// Build it with New (programmatic) or Compile / LoadFile (CUE documents).
// After construction every attribute's target, declaring entity and the
// hierarchy links are resolved; lookups are read-only and safe for
// concurrent use.
type Model struct {
	entities    []*Entity
	byName      map[string]*Entity
	embeddables map[string]*Embeddable
}

// New links the given entity and embeddable descriptors into a Model and
// validates it. The descriptors are owned by the model afterwards.
func New(entities []*Entity, embeddables []*Embeddable) (*Model, error) {
	m := &Model{
		byName:      make(map[string]*Entity, len(entities)*2),
		embeddables: make(map[string]*Embeddable, len(embeddables)),
	}

	for _, emb := range embeddables {
		if _, dup := m.embeddables[emb.Name]; dup {
			return nil, invalid("duplicate embeddable %q", emb.Name)
		}
		m.embeddables[emb.Name] = emb
		for _, attr := range emb.Attributes {
			attr.owner = emb
		}
	}

	for _, e := range entities {
		if _, dup := m.byName[e.Name]; dup {
			return nil, invalid("duplicate entity %q", e.Name)
		}
		m.byName[e.Name] = e
		if q := e.QualifiedName(); q != e.Name {
			m.byName[q] = e
		}
		m.entities = append(m.entities, e)
	}

	if err := m.link(); err != nil {
		return nil, err
	}
	if errs := m.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}
	return m, nil
}

// link resolves supertypes and attribute targets.
func (m *Model) link() error {
	for _, e := range m.entities {
		if e.SuperName != "" {
			super, ok := m.byName[e.SuperName]
			if !ok {
				return invalid("entity %s extends unknown entity %q", e.Name, e.SuperName)
			}
			e.super = super
			super.subtypes = append(super.subtypes, e)
		}
		if e.ID != nil {
			e.ID.declaring = e
		}
		for _, attr := range e.Attributes {
			attr.declaring = e
		}
	}

	resolve := func(attr *Attribute) error {
		switch {
		case attr.Kind.IsAssociation():
			target, ok := m.byName[attr.Target]
			if !ok {
				return invalid("attribute %s targets unknown entity %q", attr, attr.Target)
			}
			attr.entity = target
		case attr.Kind == KindEmbedded:
			emb, ok := m.embeddables[attr.Target]
			if !ok {
				return invalid("attribute %s embeds unknown type %q", attr, attr.Target)
			}
			attr.embeddable = emb
		}
		return nil
	}

	for _, e := range m.entities {
		for _, attr := range e.Attributes {
			if err := resolve(attr); err != nil {
				return err
			}
		}
	}
	for _, emb := range m.embeddables {
		for _, attr := range emb.Attributes {
			if attr.Kind.IsAssociation() {
				return invalid("embeddable %s: associations inside embeddables are not supported (%s)", emb.Name, attr.Name)
			}
			if err := resolve(attr); err != nil {
				return err
			}
		}
	}

	for _, e := range m.entities {
		if len(e.subtypes) > 0 && e.Root().Strategy == InheritanceNone {
			e.Root().Strategy = InheritanceSingleTable
		}
	}
	return nil
}

// Validate reports structural problems. It does not fail fast.
func (m *Model) Validate() []error {
	var errs []error
	for _, e := range m.entities {
		if e.super == nil && e.ID == nil {
			errs = append(errs, invalid("entity %s has no identifier", e.Name))
		}
		if e.Table == "" && !tableOptional(e) {
			errs = append(errs, invalid("entity %s has no table", e.Name))
		}
		if e.InheritanceStrategy() == InheritanceSingleTable && len(e.Root().subtypes) > 0 && e.Root().DiscriminatorColumn == "" {
			errs = append(errs, invalid("single-table hierarchy %s needs a discriminator column", e.Root().Name))
		}
		for _, attr := range e.Attributes {
			switch {
			case attr.Kind == KindBasic && attr.Column == "":
				errs = append(errs, invalid("attribute %s has no column", attr))
			case attr.Kind.IsToOne() && attr.MappedBy == "" && attr.Column == "":
				errs = append(errs, invalid("association %s needs a join column or mappedBy", attr))
			case attr.Kind == KindOneToMany && attr.MappedBy == "":
				errs = append(errs, invalid("collection %s needs mappedBy", attr))
			}
			if attr.Table != "" {
				if _, ok := e.SecondaryTable(attr.Table); !ok {
					errs = append(errs, invalid("attribute %s maps to undeclared secondary table %q", attr, attr.Table))
				}
			}
			if attr.MappedBy != "" && attr.entity != nil {
				owning, ok := attr.entity.Attribute(attr.MappedBy)
				if !ok || !owning.Kind.IsToOne() {
					errs = append(errs, invalid("attribute %s: mappedBy %q is not a to-one attribute of %s", attr, attr.MappedBy, attr.entity.Name))
				}
			}
		}
	}
	return errs
}

// Entity resolves an entity by simple or qualified name.
func (m *Model) Entity(name string) (*Entity, bool) {
	e, ok := m.byName[name]
	if ok {
		return e, true
	}
	// Qualified reference to an entity registered under its simple name.
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		e, ok = m.byName[name[idx+1:]]
		if ok && (e.Package == "" || e.QualifiedName() == name) {
			return e, true
		}
	}
	return nil, false
}

// Embeddable resolves an embeddable type by name.
func (m *Model) Embeddable(name string) (*Embeddable, bool) {
	e, ok := m.embeddables[name]
	return e, ok
}

// Entities returns all entities in declaration order.
func (m *Model) Entities() []*Entity {
	return m.entities
}

// EmbeddableNames returns the embeddable names sorted.
func (m *Model) EmbeddableNames() []string {
	names := make([]string, 0, len(m.embeddables))
	for name := range m.embeddables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inverse returns the attribute on the other side of a bidirectional
// association, or nil for a unidirectional one. When more than one attribute
// on the target claims to be the inverse the association is ambiguous and a
// graph error is returned.
func (m *Model) Inverse(attr *Attribute) (*Attribute, error) {
	if !attr.Kind.IsAssociation() || attr.entity == nil {
		return nil, nil
	}
	if attr.MappedBy != "" {
		owning, ok := attr.entity.Attribute(attr.MappedBy)
		if !ok {
			return nil, nil
		}
		return owning, nil
	}

	var found []*Attribute
	for _, cand := range attr.entity.AllAttributes() {
		if cand.MappedBy == attr.Name && cand.entity != nil && attr.declaring != nil && attr.declaring.IsSubtypeOf(cand.entity) {
			found = append(found, cand)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, f := range found {
			names[i] = f.String()
		}
		return nil, qerr.New(qerr.CodeGraphAmbiguousFetch,
			fmt.Sprintf("association %s has more than one inverse: %s", attr, strings.Join(names, ", ")),
			qerr.Field("attribute", attr.String()))
	}
}

// tableOptional: single-table subtypes live in the root table, abstract
// table-per-class types have no rows of their own.
func tableOptional(e *Entity) bool {
	switch e.InheritanceStrategy() {
	case InheritanceSingleTable:
		return e.super != nil
	case InheritanceTablePerClass:
		return e.Abstract
	}
	return false
}

func invalid(format string, args ...any) error {
	return qerr.New(qerr.CodeMetamodelInvalid, fmt.Sprintf(format, args...))
}
