package result

import (
	"context"
	"fmt"

	"github.com/roach88/orq/internal/metamodel"
)

// Object is a materialized entity instance.
//
// Values maps attribute names to:
//   - basic attributes: the converted column value
//   - embedded attributes: map[string]any of member values (nil when all are null)
//   - to-one associations: *Object, *Ref or nil
//   - collections: []*Object or *Ref
type Object struct {
	Entity *metamodel.Entity
	ID     any
	Values map[string]any

	initialized bool
}

// Get returns the value of an attribute (the identifier included).
func (o *Object) Get(name string) any {
	if id := o.Entity.IDAttribute(); id != nil && id.Name == name {
		return o.ID
	}
	return o.Values[name]
}

// Initialized reports whether the state of the object has been read.
func (o *Object) Initialized() bool { return o.initialized }

// Related returns a to-one association, loading it when it is a Ref.
func (o *Object) Related(ctx context.Context, name string) (*Object, error) {
	switch v := o.Values[name].(type) {
	case nil:
		return nil, nil
	case *Object:
		return v, nil
	case *Ref:
		loaded, err := v.Load(ctx)
		if err != nil {
			return nil, err
		}
		obj, _ := loaded.(*Object)
		return obj, nil
	default:
		return nil, fmt.Errorf("%s.%s is not an association", o.Entity.Name, name)
	}
}

// Collection returns a plural association, loading it when it is a Ref.
func (o *Object) Collection(ctx context.Context, name string) ([]*Object, error) {
	switch v := o.Values[name].(type) {
	case nil:
		return nil, nil
	case []*Object:
		return v, nil
	case *Ref:
		loaded, err := v.Load(ctx)
		if err != nil {
			return nil, err
		}
		items, _ := loaded.([]*Object)
		return items, nil
	default:
		return nil, fmt.Errorf("%s.%s is not a collection", o.Entity.Name, name)
	}
}

func (o *Object) String() string {
	return fmt.Sprintf("%s#%v", o.Entity.Name, o.ID)
}

// Snapshot renders the object as plain maps for printing. Associations
// already visited on the way down render as "Entity#id"; unloaded refs
// render as "<unloaded Entity#id>".
func (o *Object) Snapshot() map[string]any {
	return o.snapshot(map[*Object]bool{})
}

func (o *Object) snapshot(visiting map[*Object]bool) map[string]any {
	visiting[o] = true
	defer delete(visiting, o)

	out := map[string]any{"@type": o.Entity.Name}
	if id := o.Entity.IDAttribute(); id != nil {
		out[id.Name] = o.ID
	}
	for name, v := range o.Values {
		out[name] = snapshotValue(v, visiting)
	}
	return out
}

func snapshotValue(v any, visiting map[*Object]bool) any {
	switch x := v.(type) {
	case *Object:
		if visiting[x] {
			return x.String()
		}
		return x.snapshot(visiting)
	case []*Object:
		items := make([]any, len(x))
		for i, item := range x {
			items[i] = snapshotValue(item, visiting)
		}
		return items
	case *Ref:
		if x.loaded {
			return snapshotValue(x.value, visiting)
		}
		return "<unloaded " + x.String() + ">"
	default:
		return v
	}
}

// registryKey identifies an instance: the hierarchy root keeps instances of
// different subtypes with the same id from colliding with each other.
type registryKey struct {
	root string
	id   any
}

// Registry is the per-execution instance arena. Every back reference of the
// object graph resolves through it, so a cycle in the data never turns into
// recursion.
//
// Nested loads started while assembling one execution (select fetches,
// explicit Ref loads) share the registry of that execution. A Registry is
// not safe for concurrent use.
type Registry struct {
	slots []*Object
	index map[registryKey]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[registryKey]int)}
}

func keyOf(entity *metamodel.Entity, id any) registryKey {
	if b, ok := id.([]byte); ok {
		id = string(b)
	}
	return registryKey{root: entity.Root().QualifiedName(), id: id}
}

// Lookup returns the instance registered for (entity hierarchy, id).
func (r *Registry) Lookup(entity *metamodel.Entity, id any) (*Object, bool) {
	slot, ok := r.index[keyOf(entity, id)]
	if !ok {
		return nil, false
	}
	return r.slots[slot], true
}

// Intern returns the instance for (entity hierarchy, id), creating it when
// absent. A more specific concrete type replaces a less specific one.
func (r *Registry) Intern(entity *metamodel.Entity, id any) *Object {
	key := keyOf(entity, id)
	if slot, ok := r.index[key]; ok {
		obj := r.slots[slot]
		if entity != obj.Entity && entity.IsSubtypeOf(obj.Entity) {
			obj.Entity = entity
		}
		return obj
	}
	obj := &Object{Entity: entity, ID: key.id, Values: make(map[string]any)}
	r.index[key] = len(r.slots)
	r.slots = append(r.slots, obj)
	return obj
}

// Slot returns the stable index of obj, or -1.
func (r *Registry) Slot(obj *Object) int {
	slot, ok := r.index[keyOf(obj.Entity, obj.ID)]
	if !ok || r.slots[slot] != obj {
		return -1
	}
	return slot
}

// Len returns the number of registered instances.
func (r *Registry) Len() int { return len(r.slots) }

// Ref is an unloaded association. It is loaded only by an explicit Load
// call, routed back through the Loader of the execution that created it.
//
// Owner and Attribute name the association the ref stands for; loading
// replaces the ref in the owner's values. A ref with ByOwner unset names the
// target by Entity and ID. ByOwner is set for collections and for the
// non-owning side of a one-to-one, whose targets are found through the
// owner's identifier.
type Ref struct {
	Entity    *metamodel.Entity
	ID        any
	Owner     *Object
	Attribute *metamodel.Attribute
	ByOwner   bool

	registry *Registry
	loader   Loader

	loaded bool
	value  any
}

// Loaded reports whether Load has completed.
func (r *Ref) Loaded() bool { return r.loaded }

// Load resolves the reference. A to-one ref yields *Object (or nil), a
// collection ref yields []*Object.
func (r *Ref) Load(ctx context.Context) (any, error) {
	if r.loaded {
		return r.value, nil
	}
	if !r.ByOwner {
		if obj, ok := r.registry.Lookup(r.Entity, r.ID); ok && obj.initialized {
			r.resolved(obj)
			return obj, nil
		}
		if r.loader == nil {
			return nil, fmt.Errorf("no loader for %s", r)
		}
		err := r.loader.LoadEntities(ctx, &LoadRequest{Registry: r.registry, Entity: r.Entity, IDs: []any{r.ID}, Depth: 1})
		if err != nil {
			return nil, err
		}
		obj, _ := r.registry.Lookup(r.Entity, r.ID)
		r.resolved(obj)
		return r.value, nil
	}

	if r.loader == nil {
		return nil, fmt.Errorf("no loader for %s", r)
	}
	byOwner, err := r.loader.LoadCollection(ctx, &LoadRequest{
		Registry:  r.registry,
		Entity:    r.Attribute.TargetEntity(),
		Attribute: r.Attribute,
		IDs:       []any{r.Owner.ID},
		Depth:     1,
	})
	if err != nil {
		return nil, err
	}
	items := byOwner[keyOf(r.Owner.Entity, r.Owner.ID).id]
	if r.Attribute.Kind.IsPlural() {
		if items == nil {
			items = []*Object{}
		}
		r.resolvedValue(items)
		return items, nil
	}
	var first *Object
	if len(items) > 0 {
		first = items[0]
	}
	r.resolved(first)
	return r.value, nil
}

// resolved stores a to-one value without creating a typed-nil interface.
func (r *Ref) resolved(obj *Object) {
	if obj == nil {
		r.resolvedValue(nil)
		return
	}
	r.resolvedValue(obj)
}

func (r *Ref) resolvedValue(v any) {
	r.loaded = true
	r.value = v
	if r.Owner != nil && r.Attribute != nil {
		r.Owner.Values[r.Attribute.Name] = v
	}
}

func (r *Ref) String() string {
	if r.ByOwner {
		return r.Owner.String() + "." + r.Attribute.Name
	}
	return fmt.Sprintf("%s#%v", r.Entity.Name, r.ID)
}
