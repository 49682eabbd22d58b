package engine

import (
	"context"

	"github.com/roach88/orq/internal/plan"
	"github.com/roach88/orq/internal/qerr"
	"github.com/roach88/orq/internal/result"
)

// rowCursor is a forward-only cursor over raw rows. *store.Rows implements
// it, as do rows replayed from the second-level cache.
type rowCursor interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close() error
}

// resultSource runs the parts of a plan in order and assembles their rows.
// It implements scroll.Source.
//
// Lazy sources run the nested loads of each result before returning it;
// eager ones batch them until finish.
type resultSource struct {
	query    *Query
	execID   string
	plan     plan.Plan
	registry *result.Registry
	depth    int
	lazy     bool

	skip     int
	limit    int
	returned int

	part       int
	rows       rowCursor
	sql        string
	asm        *result.Assembler
	assemblers []*result.Assembler

	// cached holds the raw rows of every part when they come from, or were
	// read for, the second-level cache.
	cached [][][]any

	closed bool
}

// Next returns the next result. The limit counts whole results: a root
// with a fetch-joined collection is returned only after all of its rows.
func (s *resultSource) Next(ctx context.Context) (any, bool, error) {
	if s.closed {
		return nil, false, nil
	}
	parts := s.plan.Parts()
	for {
		if s.limit > 0 && s.returned >= s.limit {
			return nil, false, nil
		}
		if s.rows == nil {
			if s.part >= len(parts) {
				return nil, false, nil
			}
			if err := s.openPart(ctx, parts[s.part]); err != nil {
				return nil, false, err
			}
		}
		var (
			v    any
			keep bool
		)
		if s.rows.Next() {
			row, err := s.rows.Values()
			if err != nil {
				return nil, false, executionError(err, qerr.CodeExecutionExtract, s.execID, s.sql)
			}
			v, keep, err = s.asm.Process(row)
			if err != nil {
				return nil, false, executionError(err, qerr.CodeExecutionExtract, s.execID, s.sql)
			}
		} else {
			err := s.rows.Err()
			_ = s.rows.Close()
			s.rows = nil
			s.part++
			if err != nil {
				return nil, false, executionError(err, qerr.CodeExecutionStatement, s.execID, s.sql)
			}
			v, keep = s.asm.Flush()
		}
		if !keep {
			continue
		}
		if s.lazy {
			if err := s.asm.Finish(ctx); err != nil {
				return nil, false, err
			}
		}
		if s.skip > 0 {
			s.skip--
			continue
		}
		s.returned++
		return v, true, nil
	}
}

func (s *resultSource) openPart(ctx context.Context, part *plan.ConcretePlan) error {
	q := s.query
	e := q.session.engine
	op, err := part.Operation(q.bindings)
	if err != nil {
		return err
	}
	s.sql = op.SQL
	s.asm = result.NewAssembler(part.Results(), s.registry, &loader{session: q.session}, e.assemblerOptions(s.depth))
	s.assemblers = append(s.assemblers, s.asm)

	if s.cached != nil {
		s.rows = &sliceRows{rows: s.cached[s.part]}
		return nil
	}

	// A lazy source runs nested loads while the part is being read; the
	// store may have a single connection, so the part is read up front.
	if s.lazy {
		rows, err := s.readPart(ctx, part)
		if err != nil {
			return err
		}
		s.rows = &sliceRows{rows: rows}
		return nil
	}

	args, err := op.Args(q.bindings)
	if err != nil {
		return err
	}
	e.logger.Debug("executing statement", "execution_id", s.execID, "sql", op.SQL, "depth", s.depth)
	rows, err := q.session.executor().Query(ctx, op.SQL, args...)
	if err != nil {
		return executionError(err, qerr.CodeExecutionStatement, s.execID, op.SQL)
	}
	s.rows = rows
	return nil
}

// finish runs the nested loads batched by an eager source.
func (s *resultSource) finish(ctx context.Context) error {
	for _, asm := range s.assemblers {
		if err := asm.Finish(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the open rows. It is safe to call more than once.
func (s *resultSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rows != nil {
		err := s.rows.Close()
		s.rows = nil
		return err
	}
	return nil
}

// readAll executes every part and reads its raw rows.
func (s *resultSource) readAll(ctx context.Context) ([][][]any, error) {
	out := make([][][]any, 0, len(s.plan.Parts()))
	for _, part := range s.plan.Parts() {
		rows, err := s.readPart(ctx, part)
		if err != nil {
			return nil, err
		}
		out = append(out, rows)
	}
	return out, nil
}

func (s *resultSource) readPart(ctx context.Context, part *plan.ConcretePlan) ([][]any, error) {
	q := s.query
	op, err := part.Operation(q.bindings)
	if err != nil {
		return nil, err
	}
	args, err := op.Args(q.bindings)
	if err != nil {
		return nil, err
	}
	q.session.engine.logger.Debug("executing statement", "execution_id", s.execID, "sql", op.SQL, "depth", s.depth)
	rows, err := q.session.executor().Query(ctx, op.SQL, args...)
	if err != nil {
		return nil, executionError(err, qerr.CodeExecutionStatement, s.execID, op.SQL)
	}
	defer rows.Close()

	out := [][]any{}
	for rows.Next() {
		v, err := rows.Values()
		if err != nil {
			return nil, executionError(err, qerr.CodeExecutionExtract, s.execID, op.SQL)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, executionError(err, qerr.CodeExecutionStatement, s.execID, op.SQL)
	}
	return out, nil
}

// sliceRows replays rows held in memory.
type sliceRows struct {
	rows [][]any
	next int
	cur  []any
}

func (r *sliceRows) Next() bool {
	if r.next >= len(r.rows) {
		return false
	}
	r.cur = r.rows[r.next]
	r.next++
	return true
}

func (r *sliceRows) Values() ([]any, error) { return r.cur, nil }
func (r *sliceRows) Err() error             { return nil }
func (r *sliceRows) Close() error           { return nil }
