package engine

import (
	"context"
	"fmt"

	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
)

// loader runs the nested loads of an invocation as internal queries of
// the same session.
type loader struct {
	session *Session
}

var _ result.Loader = (*loader)(nil)

// LoadEntities loads the instances of req.Entity with the requested ids.
func (l *loader) LoadEntities(ctx context.Context, req *result.LoadRequest) error {
	e := req.Entity
	q, err := l.session.CreateQuery(fmt.Sprintf("from %s x where x.%s in :ids",
		e.QualifiedName(), e.IDAttribute().Name))
	if err != nil {
		return err
	}
	if err := q.SetParameterList("ids", req.IDs); err != nil {
		return err
	}
	_, err = q.list(ctx, req.Registry, req.Depth)
	return err
}

// LoadCollection loads the targets of req.Attribute for the owners with
// the requested ids through the inverse association.
func (l *loader) LoadCollection(ctx context.Context, req *result.LoadRequest) (map[any][]*result.Object, error) {
	attr := req.Attribute
	if attr.MappedBy == "" {
		return nil, qerr.Unsupported(fmt.Sprintf("loading %s without an inverse association", attr),
			qerr.Field("attribute", attr.String()))
	}
	inverse, ok := req.Entity.Attribute(attr.MappedBy)
	if !ok {
		return nil, qerr.New(qerr.CodeMetamodelInvalid,
			fmt.Sprintf("%s: %s has no attribute %s", attr, req.Entity.Name, attr.MappedBy))
	}
	ownerID := inverse.TargetEntity().IDAttribute().Name

	q, err := l.session.CreateQuery(fmt.Sprintf("select x.%[1]s.%[2]s, x from %[3]s x where x.%[1]s.%[2]s in :ids",
		attr.MappedBy, ownerID, req.Entity.QualifiedName()))
	if err != nil {
		return nil, err
	}
	if err := q.SetParameterList("ids", req.IDs); err != nil {
		return nil, err
	}
	values, err := q.list(ctx, req.Registry, req.Depth)
	if err != nil {
		return nil, err
	}

	out := make(map[any][]*result.Object)
	for _, v := range values {
		pair, ok := v.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		obj, ok := pair[1].(*result.Object)
		if !ok {
			continue
		}
		owner := result.NormalizeID(pair[0])
		out[owner] = append(out[owner], obj)
	}
	return out, nil
}
