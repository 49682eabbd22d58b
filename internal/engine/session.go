package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/orq/internal/l2"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
	"github.com/roach88/orq/internal/store"
)

// Session is a unit of work. It is not safe for concurrent use.
type Session struct {
	engine *Engine
	tx     *Tx
}

func (s *Session) executor() store.Executor {
	if s.tx != nil {
		return s.tx.tx
	}
	return s.engine.store
}

// CreateQuery compiles text. Parse and semantic errors are reported here,
// before anything runs.
func (s *Session) CreateQuery(text string) (*Query, error) {
	return s.CreateTypedQuery(text, "")
}

// CreateTypedQuery compiles text expecting each result to be an instance
// of resultType.
func (s *Session) CreateTypedQuery(text, resultType string) (*Query, error) {
	in, err := s.engine.compiler.Interpret(text, resultType)
	if err != nil {
		return nil, err
	}
	return newQuery(s, in), nil
}

// Load returns the instance of entity with the given id, or nil when there
// is none. Loads go through the second-level cache when one is configured.
func (s *Session) Load(ctx context.Context, entity string, id any) (*result.Object, error) {
	e, ok := s.engine.Model().Entity(entity)
	if !ok {
		return nil, qerr.New(qerr.CodeSemanticUnknownEntity,
			fmt.Sprintf("unknown entity %q", entity), qerr.Field("entity", entity))
	}
	q, err := s.CreateQuery(fmt.Sprintf("from %s x where x.%s = :id", e.QualifiedName(), e.IDAttribute().Name))
	if err != nil {
		return nil, err
	}
	if err := q.SetParameter("id", id); err != nil {
		return nil, err
	}
	values, err := q.SetCacheable(true).List(ctx)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	obj, _ := values[0].(*result.Object)
	return obj, nil
}

// Begin starts a transaction. Queries of the session run in it until it
// completes.
func (s *Session) Begin(ctx context.Context) (*Tx, error) {
	if s.tx != nil {
		return nil, fmt.Errorf("session already has an active transaction")
	}
	tx, err := s.engine.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	s.tx = &Tx{session: s, tx: tx}
	return s.tx, nil
}

// Tx is a session transaction. Completing it runs the after-completion
// callbacks of the cache invalidations registered during it.
type Tx struct {
	session       *Session
	tx            *store.Tx
	invalidations []*l2.BulkInvalidation
	done          bool
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already completed")
	}
	err := t.tx.Commit()
	return errors.Join(err, t.complete(err == nil))
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	err := t.tx.Rollback()
	return errors.Join(err, t.complete(false))
}

func (t *Tx) complete(committed bool) error {
	t.done = true
	t.session.tx = nil
	var errs []error
	for _, inv := range t.invalidations {
		if err := inv.AfterCompletion(committed); err != nil {
			errs = append(errs, err)
		}
	}
	t.invalidations = nil
	return errors.Join(errs...)
}
