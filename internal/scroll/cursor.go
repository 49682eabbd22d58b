// Package scroll provides a scrollable cursor over a forward-only row
// source.
//
// A Cursor is BEFORE_FIRST (position 0), POSITIONED on row n (1-based), or
// AFTER_LAST. The row count (maxPosition) is unknown until the source is
// first driven past its end and is remembered from then on, so Last after
// that point never re-reads the source.
//
// Backward movement needs the rows already read. Insensitive cursors keep
// every row read so far and replay from that buffer; ForwardOnly cursors
// keep only the current row and reject backward moves.
package scroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/orq/internal/qerr"
)

// Source yields rows in order. ok is false once the rows are exhausted.
type Source interface {
	Next(ctx context.Context) (row any, ok bool, err error)
	Close() error
}

// Mode selects how a Cursor may move.
type Mode int

const (
	// ForwardOnly cursors only move towards the end.
	ForwardOnly Mode = iota
	// Insensitive cursors move in both directions over a snapshot of the
	// rows read.
	Insensitive
)

func (m Mode) String() string {
	switch m {
	case ForwardOnly:
		return "forward-only"
	case Insensitive:
		return "insensitive"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ErrClosed is returned by operations on a closed Cursor.
var ErrClosed = errors.New("scroll: cursor is closed")

// Cursor navigates the rows of a Source. It is not safe for concurrent use.
type Cursor struct {
	src  Source
	mode Mode

	// rows holds rows base+1 .. base+len(rows).
	rows []any
	base int

	position int
	current  any

	exhausted   bool
	maxPosition int

	closed bool
}

// New wraps src.
func New(src Source, mode Mode) *Cursor {
	return &Cursor{src: src, mode: mode}
}

// Mode returns the movement mode.
func (c *Cursor) Mode() Mode { return c.mode }

// Get returns the current row, or nil when not positioned on a row.
func (c *Cursor) Get() any { return c.current }

// Position returns the 1-based position of the current row: 0 before the
// first row and maxPosition+1 after the last.
func (c *Cursor) Position() int { return c.position }

// MaxPosition returns the row count once it is known.
func (c *Cursor) MaxPosition() (int, bool) { return c.maxPosition, c.exhausted }

// IsFirst reports whether the cursor is on the first row.
func (c *Cursor) IsFirst() bool { return c.position == 1 }

// IsLast reports whether the cursor is on the last row. It may read one row
// ahead to find out.
func (c *Cursor) IsLast(ctx context.Context) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if c.position == 0 || c.afterLast() {
		return false, nil
	}
	more, err := c.fetch(ctx, c.position+1)
	if err != nil {
		return false, err
	}
	return !more, nil
}

// Next moves to the following row.
func (c *Cursor) Next(ctx context.Context) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if c.afterLast() {
		return false, nil
	}
	return c.moveTo(ctx, c.position+1)
}

// Previous moves to the preceding row.
func (c *Cursor) Previous(ctx context.Context) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if c.position == 0 {
		return false, nil
	}
	return c.moveTo(ctx, c.position-1)
}

// Scroll moves k rows, forwards for positive k and backwards for negative
// k. It stops and returns false when a boundary is reached first.
func (c *Cursor) Scroll(ctx context.Context, k int) (bool, error) {
	if k == 0 {
		return false, qerr.New(qerr.CodeParameterInvalidArgument,
			"scroll distance must not be 0", qerr.Field("distance", k))
	}
	step := c.Next
	if k < 0 {
		step = c.Previous
		k = -k
	}
	for range k {
		ok, err := step(ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// First moves to the first row.
func (c *Cursor) First(ctx context.Context) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	return c.moveTo(ctx, 1)
}

// Last moves to the last row, reading the rest of the source only when the
// row count is not yet known.
func (c *Cursor) Last(ctx context.Context) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if !c.exhausted {
		for {
			more, err := c.fetch(ctx, c.base+len(c.rows)+1)
			if err != nil {
				return false, err
			}
			if !more {
				break
			}
		}
	}
	if c.maxPosition == 0 {
		return false, nil
	}
	return c.moveTo(ctx, c.maxPosition)
}

// Absolute moves to row n. Negative n counts from the end: -1 is the last
// row. n must not be 0.
func (c *Cursor) Absolute(ctx context.Context, n int) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	switch {
	case n == 0:
		return false, qerr.New(qerr.CodeParameterInvalidArgument,
			"absolute position must not be 0", qerr.Field("position", n))
	case n < 0:
		if _, err := c.Last(ctx); err != nil {
			return false, err
		}
		target := c.maxPosition + 1 + n
		if target < 1 {
			return c.moveTo(ctx, 0)
		}
		return c.Absolute(ctx, target)
	case n == 1:
		return c.First(ctx)
	case c.exhausted && n == c.maxPosition:
		return c.Last(ctx)
	case c.exhausted && n > c.maxPosition:
		return c.moveTo(ctx, n)
	case n == c.position:
		return c.current != nil, nil
	}
	return c.Scroll(ctx, n-c.position)
}

// Close releases the source. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.rows = nil
	c.current = nil
	return c.src.Close()
}

func (c *Cursor) afterLast() bool {
	return c.exhausted && c.position > c.maxPosition
}

// moveTo positions the cursor on row n, before the first row for n < 1 or
// after the last when n is past the end.
func (c *Cursor) moveTo(ctx context.Context, n int) (bool, error) {
	if c.mode == ForwardOnly && n < c.position {
		return false, qerr.Unsupported(
			fmt.Sprintf("moving back to row %d on a %s cursor at row %d", n, c.mode, c.position),
			qerr.Field("position", c.position))
	}
	if n < 1 {
		c.position, c.current = 0, nil
		return false, nil
	}
	ok, err := c.fetch(ctx, n)
	if err != nil {
		return false, err
	}
	if !ok {
		c.position, c.current = c.maxPosition+1, nil
		c.discardBefore(c.position)
		return false, nil
	}
	c.position, c.current = n, c.rows[n-1-c.base]
	c.discardBefore(n)
	return true, nil
}

// fetch reads from the source until row n is available. It returns false
// when the source ends first.
func (c *Cursor) fetch(ctx context.Context, n int) (bool, error) {
	for c.base+len(c.rows) < n {
		if c.exhausted {
			return false, nil
		}
		row, ok, err := c.src.Next(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			c.exhausted = true
			c.maxPosition = c.base + len(c.rows)
			return false, nil
		}
		c.rows = append(c.rows, row)
	}
	return true, nil
}

// discardBefore drops rows a ForwardOnly cursor can no longer reach.
func (c *Cursor) discardBefore(n int) {
	if c.mode != ForwardOnly {
		return
	}
	drop := min(n-1-c.base, len(c.rows))
	if drop <= 0 {
		return
	}
	c.rows = c.rows[drop:]
	c.base += drop
}
