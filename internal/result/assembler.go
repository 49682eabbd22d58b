package result

import (
	"context"
	"fmt"

	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
)

// Loader is the statement-execution collaborator used for nested loads:
// immediate select fetches after the rows are read, and explicit Ref loads.
// Both run within the Registry of the request.
type Loader interface {
	// LoadEntities loads the instances of Entity with the given ids into
	// the registry.
	LoadEntities(ctx context.Context, req *LoadRequest) error

	// LoadCollection loads the targets of Attribute for the owners with the
	// given ids, keyed by owner id.
	LoadCollection(ctx context.Context, req *LoadRequest) (map[any][]*Object, error)
}

// LoadRequest is one nested load.
type LoadRequest struct {
	Registry  *Registry
	Entity    *metamodel.Entity
	Attribute *metamodel.Attribute
	IDs       []any

	// Depth is the nesting level of the load; top-level executions are 0.
	Depth int
}

// Options bound the nested loads of one execution.
type Options struct {
	// MaxFetchDepth stops immediate select fetches from loading further;
	// deeper associations are left as Refs.
	MaxFetchDepth int

	// BatchSize is the maximum number of ids per nested load.
	BatchSize int

	// Depth is the nesting level of this execution.
	Depth int
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{MaxFetchDepth: 8, BatchSize: 100}
}

// Initializer resolves the entity instance at one navigable path for the
// current row.
type Initializer interface {
	Path() *navpath.Path
	Instance() *Object
}

// Assembler turns rows into results for one execution.
//
// Every row runs three phases over all initializers, parents first:
// resolveKey reads identifiers, resolveInstance finds or creates instances
// in the Registry, and initializeInstance populates instances not yet
// initialized. A row repeating an already initialized instance (fan-out of
// a collection join) only adds collection elements.
//
// An Assembler belongs to a single execution and is never shared.
type Assembler struct {
	results  []DomainResult
	registry *Registry
	loader   Loader
	opts     Options

	// initializers holds at most one initializer per path.
	initializers map[string]*entityInitializer
	order        []*entityInitializer

	// With dedupe set, the root of the current rows is held back until a
	// row of another root arrives or Flush is called.
	dedupe  bool
	seen    map[*Object]bool
	current *Object
	held    any
	holding bool

	collected map[collectedKey]map[*Object]bool

	pendingEntities    []pendingFetch
	pendingCollections []pendingFetch
}

type collectedKey struct {
	owner *Object
	attr  string
}

type pendingFetch struct {
	owner *Object
	attr  *metamodel.Attribute
	id    any
}

// NewAssembler prepares the initializers for results. A nil registry starts
// a fresh one.
func NewAssembler(results []DomainResult, registry *Registry, loader Loader, opts Options) *Assembler {
	if registry == nil {
		registry = NewRegistry()
	}
	def := DefaultOptions()
	if opts.MaxFetchDepth <= 0 {
		opts.MaxFetchDepth = def.MaxFetchDepth
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	a := &Assembler{
		results:      results,
		registry:     registry,
		loader:       loader,
		opts:         opts,
		initializers: make(map[string]*entityInitializer),
		seen:         make(map[*Object]bool),
		collected:    make(map[collectedKey]map[*Object]bool),
	}
	for _, r := range results {
		a.register(r)
	}
	if len(results) == 1 {
		if er, ok := results[0].(*EntityResult); ok && er.Mapping.HasCollectionJoin() {
			a.dedupe = true
		}
	}
	return a
}

func (a *Assembler) register(r DomainResult) {
	switch n := r.(type) {
	case *EntityResult:
		a.initializerFor(n.Mapping)
	case *InstantiationResult:
		for _, arg := range n.Args {
			a.register(arg)
		}
	}
}

// initializerFor returns the initializer registered for the mapping's path,
// creating it (and those of its joined fetches) on first use.
func (a *Assembler) initializerFor(m *EntityMapping) *entityInitializer {
	key := m.Path.Key()
	if in, ok := a.initializers[key]; ok {
		return in
	}
	in := &entityInitializer{mapping: m}
	a.initializers[key] = in
	a.order = append(a.order, in)
	for _, f := range m.Fetches {
		switch n := f.(type) {
		case *EntityJoinedFetch:
			a.initializerFor(n.Mapping)
		case *CollectionJoinedFetch:
			a.initializerFor(n.Element)
		}
	}
	return in
}

// Initializer returns the initializer registered for path.
func (a *Assembler) Initializer(path *navpath.Path) (Initializer, bool) {
	in, ok := a.initializers[path.Key()]
	if !ok {
		return nil, false
	}
	return in, true
}

// Registry returns the instance registry of this execution.
func (a *Assembler) Registry() *Registry { return a.registry }

// Process assembles one row. A single result is returned as is; several
// results as []any.
//
// When the result is an entity with a fetch-joined collection, its rows
// fan out and a root is complete only once they are all read. Process then
// returns a root on the first row of the next one, keep is false for the
// rows in between, and Flush releases the last root.
func (a *Assembler) Process(row []any) (value any, keep bool, err error) {
	for _, in := range a.order {
		in.resolveKey(row)
	}
	for _, in := range a.order {
		in.resolveInstance(a.registry)
	}
	for _, in := range a.order {
		if err := a.initialize(in, row); err != nil {
			return nil, false, err
		}
	}

	values := make([]any, len(a.results))
	for i, r := range a.results {
		if values[i], err = a.value(r, row); err != nil {
			return nil, false, err
		}
	}
	if a.dedupe {
		if obj, ok := values[0].(*Object); ok {
			if obj == a.current || a.seen[obj] {
				return nil, false, nil
			}
			a.seen[obj] = true
			a.current = obj
			prev, had := a.held, a.holding
			a.held, a.holding = obj, true
			if had {
				return prev, true, nil
			}
			return nil, false, nil
		}
	}
	if len(values) == 1 {
		return values[0], true, nil
	}
	return values, true, nil
}

// Flush returns the root held back by Process, if any. Call it once the
// rows are exhausted.
func (a *Assembler) Flush() (any, bool) {
	if !a.holding {
		return nil, false
	}
	v := a.held
	a.held, a.holding = nil, false
	return v, true
}

func (a *Assembler) value(r DomainResult, row []any) (any, error) {
	switch n := r.(type) {
	case *BasicResult:
		return Convert(row[n.Column], n.Type), nil
	case *EntityResult:
		if obj := a.initializers[n.Mapping.Path.Key()].instance; obj != nil {
			return obj, nil
		}
		return nil, nil
	case *EmbeddableResult:
		return embeddedValue(n.Embedded, row), nil
	case *InstantiationResult:
		args := make([]any, len(n.Args))
		for i, arg := range n.Args {
			v, err := a.value(arg, row)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		out, err := n.Target.Build(args)
		if err != nil {
			return nil, fmt.Errorf("instantiate %s: %w", n.Target.Name, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown domain result %T", r)
}

func (a *Assembler) initialize(in *entityInitializer, row []any) error {
	obj := in.instance
	if obj == nil {
		return nil
	}
	m := in.mapping
	if !obj.initialized {
		for _, cv := range m.Values {
			if !appliesTo(cv.Attribute, obj.Entity) {
				continue
			}
			obj.Values[cv.Attribute.Name] = Convert(row[cv.Column], cv.Attribute.Type)
		}
		for _, f := range m.Fetches {
			if !appliesTo(f.FetchedAttribute(), obj.Entity) {
				continue
			}
			if err := a.applyFetch(obj, f, row); err != nil {
				return err
			}
		}
		obj.initialized = true
	}

	for _, f := range m.Fetches {
		switch n := f.(type) {
		case *CollectionJoinedFetch:
			if appliesTo(n.Attribute, obj.Entity) {
				a.collect(obj, n)
			}
		case *EntityJoinedFetch:
			// An instance initialized by an earlier load may hold a Ref here.
			if _, done := obj.Values[n.Attribute.Name].(*Object); !done && appliesTo(n.Attribute, obj.Entity) {
				if child := a.initializers[n.Mapping.Path.Key()].instance; child != nil {
					obj.Values[n.Attribute.Name] = child
				}
			}
		}
	}
	return nil
}

// appliesTo reports whether attr exists on instances of concrete.
func appliesTo(attr *metamodel.Attribute, concrete *metamodel.Entity) bool {
	decl := attr.Declaring()
	return decl == nil || concrete.IsSubtypeOf(decl)
}

func (a *Assembler) applyFetch(obj *Object, f Fetch, row []any) error {
	name := f.FetchedAttribute().Name
	switch n := f.(type) {
	case *EmbeddableFetch:
		obj.Values[name] = embeddedValue(n, row)

	case *EntityJoinedFetch:
		if child := a.initializers[n.Mapping.Path.Key()].instance; child != nil {
			obj.Values[name] = child
		} else {
			obj.Values[name] = nil
		}

	case *EntitySelectFetch:
		fk := NormalizeID(row[n.FKColumn])
		if fk == nil {
			obj.Values[name] = nil
			return nil
		}
		target := n.Attribute.TargetEntity()
		if existing, ok := a.registry.Lookup(target, fk); ok && existing.initialized {
			obj.Values[name] = existing
			return nil
		}
		obj.Values[name] = a.ref(&Ref{Entity: target, ID: fk, Owner: obj, Attribute: n.Attribute})
		if a.loader != nil && a.opts.Depth < a.opts.MaxFetchDepth {
			a.pendingEntities = append(a.pendingEntities, pendingFetch{owner: obj, attr: n.Attribute, id: fk})
		}

	case *EntityDelayedFetch:
		target := n.Attribute.TargetEntity()
		if n.FKColumn < 0 {
			obj.Values[name] = a.ref(&Ref{Entity: target, Owner: obj, Attribute: n.Attribute, ByOwner: true})
			return nil
		}
		fk := NormalizeID(row[n.FKColumn])
		if fk == nil {
			obj.Values[name] = nil
			return nil
		}
		obj.Values[name] = a.ref(&Ref{Entity: target, ID: fk, Owner: obj, Attribute: n.Attribute})

	case *CollectionJoinedFetch:
		// Accumulated on every row by collect.

	case *CollectionSelectFetch:
		obj.Values[name] = a.ref(&Ref{Entity: n.Attribute.TargetEntity(), Owner: obj, Attribute: n.Attribute, ByOwner: true})
		if a.loader != nil && a.opts.Depth < a.opts.MaxFetchDepth {
			a.pendingCollections = append(a.pendingCollections, pendingFetch{owner: obj, attr: n.Attribute, id: obj.ID})
		}

	case *CollectionDelayedFetch:
		obj.Values[name] = a.ref(&Ref{Entity: n.Attribute.TargetEntity(), Owner: obj, Attribute: n.Attribute, ByOwner: true})

	case *CircularFetch:
		anc, ok := a.initializers[n.Ancestor.Key()]
		if !ok {
			return fmt.Errorf("no initializer for %s, ancestor of %s", n.Ancestor, n.Path)
		}
		ancestor := anc.instance
		switch {
		case ancestor == nil:
			obj.Values[name] = nil
		case n.Timing == metamodel.FetchImmediate:
			obj.Values[name] = ancestor
		default:
			obj.Values[name] = a.ref(&Ref{Entity: ancestor.Entity, ID: ancestor.ID, Owner: obj, Attribute: n.Attribute})
		}

	default:
		return fmt.Errorf("unknown fetch %T", f)
	}
	return nil
}

func (a *Assembler) ref(r *Ref) *Ref {
	r.registry = a.registry
	r.loader = a.loader
	return r
}

// collect adds the current element of a joined collection to its owner.
// The first row of an owner in this execution resets the collection, so a
// left join without elements yields an empty collection.
func (a *Assembler) collect(obj *Object, f *CollectionJoinedFetch) {
	key := collectedKey{owner: obj, attr: f.Attribute.Name}
	set, ok := a.collected[key]
	if !ok {
		set = make(map[*Object]bool)
		a.collected[key] = set
		obj.Values[f.Attribute.Name] = []*Object{}
	}
	elem := a.initializers[f.Element.Path.Key()].instance
	if elem == nil || set[elem] {
		return
	}
	set[elem] = true
	obj.Values[f.Attribute.Name] = append(obj.Values[f.Attribute.Name].([]*Object), elem)
}

func embeddedValue(f *EmbeddableFetch, row []any) any {
	out := make(map[string]any, len(f.Members)+len(f.Nested))
	empty := true
	for _, cv := range f.Members {
		v := Convert(row[cv.Column], cv.Attribute.Type)
		if v != nil {
			empty = false
		}
		out[cv.Attribute.Name] = v
	}
	for _, nested := range f.Nested {
		v := embeddedValue(nested, row)
		if v != nil {
			empty = false
		}
		out[nested.Attribute.Name] = v
	}
	if empty {
		return nil
	}
	return out
}

// Finish runs the nested loads of the immediate select fetches collected
// while processing rows, batched per target.
func (a *Assembler) Finish(ctx context.Context) error {
	entities, collections := a.pendingEntities, a.pendingCollections
	a.pendingEntities, a.pendingCollections = nil, nil
	if err := a.loadEntities(ctx, entities); err != nil {
		return err
	}
	return a.loadCollections(ctx, collections)
}

func (a *Assembler) loadEntities(ctx context.Context, pending []pendingFetch) error {
	var targets []*metamodel.Entity
	ids := make(map[*metamodel.Entity][]any)
	seen := make(map[registryKey]bool)
	for _, p := range pending {
		target := p.attr.TargetEntity().Root()
		key := keyOf(target, p.id)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := ids[target]; !ok {
			targets = append(targets, target)
		}
		ids[target] = append(ids[target], p.id)
	}

	for _, target := range targets {
		var missing []any
		for _, id := range ids[target] {
			if obj, ok := a.registry.Lookup(target, id); !ok || !obj.initialized {
				missing = append(missing, id)
			}
		}
		for _, batch := range batches(missing, a.opts.BatchSize) {
			req := &LoadRequest{Registry: a.registry, Entity: target, IDs: batch, Depth: a.opts.Depth + 1}
			if err := a.loader.LoadEntities(ctx, req); err != nil {
				return err
			}
		}
	}

	for _, p := range pending {
		if obj, ok := a.registry.Lookup(p.attr.TargetEntity(), p.id); ok && obj.initialized {
			p.owner.Values[p.attr.Name] = obj
		} else {
			p.owner.Values[p.attr.Name] = nil
		}
	}
	return nil
}

func (a *Assembler) loadCollections(ctx context.Context, pending []pendingFetch) error {
	var attrs []*metamodel.Attribute
	owners := make(map[*metamodel.Attribute][]any)
	for _, p := range pending {
		if _, ok := owners[p.attr]; !ok {
			attrs = append(attrs, p.attr)
		}
		owners[p.attr] = append(owners[p.attr], p.id)
	}

	loaded := make(map[*metamodel.Attribute]map[any][]*Object)
	for _, attr := range attrs {
		byOwner := make(map[any][]*Object)
		for _, batch := range batches(owners[attr], a.opts.BatchSize) {
			req := &LoadRequest{
				Registry:  a.registry,
				Entity:    attr.TargetEntity(),
				Attribute: attr,
				IDs:       batch,
				Depth:     a.opts.Depth + 1,
			}
			out, err := a.loader.LoadCollection(ctx, req)
			if err != nil {
				return err
			}
			for id, items := range out {
				byOwner[id] = append(byOwner[id], items...)
			}
		}
		loaded[attr] = byOwner
	}

	for _, p := range pending {
		items := loaded[p.attr][p.id]
		if p.attr.Kind.IsPlural() {
			if items == nil {
				items = []*Object{}
			}
			p.owner.Values[p.attr.Name] = items
			continue
		}
		if len(items) > 0 {
			p.owner.Values[p.attr.Name] = items[0]
		} else {
			p.owner.Values[p.attr.Name] = nil
		}
	}
	return nil
}

func batches(ids []any, size int) [][]any {
	var out [][]any
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

// NormalizeID maps a driver identifier value to the form used as registry
// key ([]byte becomes string).
func NormalizeID(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

type entityInitializer struct {
	mapping *EntityMapping

	// Row state, reset by resolveKey.
	id       any
	concrete *metamodel.Entity
	instance *Object
}

func (in *entityInitializer) Path() *navpath.Path { return in.mapping.Path }
func (in *entityInitializer) Instance() *Object   { return in.instance }

func (in *entityInitializer) resolveKey(row []any) {
	in.instance = nil
	in.id = NormalizeID(row[in.mapping.IDColumn])
	in.concrete = nil
	if in.id != nil {
		in.concrete = in.mapping.ConcreteType(row)
	}
}

func (in *entityInitializer) resolveInstance(reg *Registry) {
	if in.id == nil {
		return
	}
	in.instance = reg.Intern(in.concrete, in.id)
}
