package result

import (
	"github.com/roach88/orq/internal/metamodel"
	"github.com/roach88/orq/internal/navpath"
)

// CircularFetchDetector recognizes fetches that walk back along a
// bidirectional association, such as the `parent` of each element of
// `p.children`.
//
// For a fetch of attr under the entity at parent, the owner of parent is
// parent.Parent() for a to-one parent and parent.Parent().Parent() for a
// collection element (skipping the `{element}` segment). The fetch is
// circular when attr is the inverse of the association that led from that
// owner to parent: the value is then the owner's instance itself.
//
// The detector only decides whether to short-circuit. Eagerness stays that
// of the association.
type CircularFetchDetector struct {
	Model *metamodel.Model
}

// Detect returns the circular fetch for attr under parent, or nil when the
// fetch is not circular. producer is the association that produced parent
// (nil for query roots). Only to-one associations are short-circuited: a
// collection reached back from one of its elements holds the siblings too.
//
// An association with more than one candidate inverse cannot be resolved
// deterministically and yields a graph error.
func (d *CircularFetchDetector) Detect(parent *navpath.Path, producer, attr *metamodel.Attribute) (*CircularFetch, error) {
	if producer == nil || !attr.Kind.IsToOne() {
		return nil, nil
	}
	owner := parent.Parent()
	if parent.IsElement() && owner != nil {
		owner = owner.Parent()
	}
	if owner == nil {
		return nil, nil
	}
	inverse, err := d.Model.Inverse(producer)
	if err != nil {
		return nil, err
	}
	if inverse != attr {
		return nil, nil
	}
	return &CircularFetch{
		Path:      parent.Append(attr.Name),
		Attribute: attr,
		Ancestor:  owner,
		Timing:    attr.Timing,
	}, nil
}
