package metamodel

// Helpers for programmatic model construction.
//
//	parent := &Entity{Name: "Parent", Table: "parent", ID: ID("id", "id", TypeInteger),
//		Attributes: []*Attribute{
//			Basic("name", "name", TypeString),
//			OneToMany("children", "Child", "parent", FetchDelayed),
//		}}

// ID declares an identifier attribute.
func ID(name, column string, typ BasicType) *Attribute {
	return &Attribute{Name: name, Kind: KindBasic, Column: column, Type: typ}
}

// Basic declares a basic attribute.
func Basic(name, column string, typ BasicType) *Attribute {
	return &Attribute{Name: name, Kind: KindBasic, Column: column, Type: typ, Optional: true}
}

// ManyToOne declares the owning side of a to-one association with a foreign
// key column.
func ManyToOne(name, target, column string, timing FetchTiming) *Attribute {
	return &Attribute{Name: name, Kind: KindManyToOne, Target: target, Column: column, Timing: timing, Optional: true}
}

// OneToOne declares a one-to-one association. Pass column for the owning side
// or mappedBy for the inverse side.
func OneToOne(name, target, column, mappedBy string, timing FetchTiming) *Attribute {
	return &Attribute{Name: name, Kind: KindOneToOne, Target: target, Column: column, MappedBy: mappedBy, Timing: timing, Optional: true}
}

// OneToMany declares an inverse collection.
func OneToMany(name, target, mappedBy string, timing FetchTiming) *Attribute {
	return &Attribute{Name: name, Kind: KindOneToMany, Target: target, MappedBy: mappedBy, Timing: timing}
}

// Embedded declares an embedded value of the given embeddable type.
func Embedded(name, embeddable, columnPrefix string) *Attribute {
	return &Attribute{Name: name, Kind: KindEmbedded, Target: embeddable, ColumnPrefix: columnPrefix, Optional: true}
}

// InTable moves the attribute to a secondary table.
func (a *Attribute) InTable(table string) *Attribute {
	a.Table = table
	return a
}

// Required marks the attribute as non-optional; required to-one associations
// are joined with inner joins.
func (a *Attribute) Required() *Attribute {
	a.Optional = false
	return a
}
