package scroll

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/qerr"
)

// countingSource counts rows pulled from the underlying slice.
type countingSource struct {
	*SliceSource
	pulls  int
	closed int
}

func (s *countingSource) Next(ctx context.Context) (any, bool, error) {
	row, ok, err := s.SliceSource.Next(ctx)
	if ok {
		s.pulls++
	}
	return row, ok, err
}

func (s *countingSource) Close() error {
	s.closed++
	return nil
}

func rows(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func newCursor(n int, mode Mode) (*Cursor, *countingSource) {
	src := &countingSource{SliceSource: FromSlice(rows(n))}
	return New(src, mode), src
}

func TestCursor_NextAndPrevious(t *testing.T) {
	ctx := context.Background()
	c, _ := newCursor(3, Insensitive)

	assert.Equal(t, 0, c.Position())
	assert.Nil(t, c.Get())

	for want := 1; want <= 3; want++ {
		ok, err := c.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, c.Get())
		assert.Equal(t, want, c.Position())
	}

	ok, err := c.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, c.Get())
	assert.Equal(t, 4, c.Position())
	max, known := c.MaxPosition()
	assert.True(t, known)
	assert.Equal(t, 3, max)

	ok, err = c.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "stays after last")

	ok, err = c.Previous(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, c.Get())

	for range 2 {
		_, err = c.Previous(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.Get())
	assert.True(t, c.IsFirst())

	ok, err = c.Previous(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Position())
}

func TestCursor_ScrollZeroIsInvalid(t *testing.T) {
	c, _ := newCursor(3, Insensitive)
	_, err := c.Scroll(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, qerr.HasCode(err, qerr.CodeParameterInvalidArgument))

	_, err = c.Absolute(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, qerr.HasCode(err, qerr.CodeParameterInvalidArgument))
}

func TestCursor_ScrollStopsAtBoundary(t *testing.T) {
	ctx := context.Background()
	c, _ := newCursor(5, Insensitive)

	ok, err := c.Scroll(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, c.Get())

	ok, err = c.Scroll(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 6, c.Position())

	ok, err = c.Scroll(ctx, -3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, c.Get())

	ok, err = c.Scroll(ctx, -5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Position())
}

func TestCursor_FirstThenNextEqualsAbsolute(t *testing.T) {
	ctx := context.Background()
	for n := 0; n < 4; n++ {
		a, _ := newCursor(5, Insensitive)
		_, err := a.First(ctx)
		require.NoError(t, err)
		for range n {
			_, err = a.Next(ctx)
			require.NoError(t, err)
		}

		b, _ := newCursor(5, Insensitive)
		ok, err := b.Absolute(ctx, n+1)
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, a.Get(), b.Get(), "n=%d", n)
		assert.Equal(t, a.Position(), b.Position(), "n=%d", n)
	}
}

func TestCursor_LastUsesKnownMaxPosition(t *testing.T) {
	ctx := context.Background()
	c, src := newCursor(4, Insensitive)

	ok, err := c.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, c.Get())
	assert.Equal(t, 4, src.pulls)

	_, err = c.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Get())

	ok, err = c.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, c.Get())
	assert.Equal(t, 4, src.pulls, "no re-scan")

	isLast, err := c.IsLast(ctx)
	require.NoError(t, err)
	assert.True(t, isLast)
}

func TestCursor_AbsoluteNegative(t *testing.T) {
	ctx := context.Background()
	c, _ := newCursor(5, Insensitive)

	ok, err := c.Absolute(ctx, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, c.Get())

	ok, err = c.Absolute(ctx, -2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, c.Get())

	ok, err = c.Absolute(ctx, -9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Position())

	ok, err = c.Absolute(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 6, c.Position())
}

func TestCursor_EmptySource(t *testing.T) {
	ctx := context.Background()
	c, _ := newCursor(0, Insensitive)

	ok, err := c.First(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, c.Get())
	max, known := c.MaxPosition()
	assert.True(t, known)
	assert.Equal(t, 0, max)
}

func TestCursor_ForwardOnly(t *testing.T) {
	ctx := context.Background()
	c, src := newCursor(4, ForwardOnly)

	ok, err := c.First(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	isLast, err := c.IsLast(ctx)
	require.NoError(t, err)
	assert.False(t, isLast)
	assert.Equal(t, 2, src.pulls, "IsLast reads one row ahead")

	ok, err = c.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, c.Get())
	assert.Equal(t, 2, src.pulls, "the row read ahead is reused")
	assert.Len(t, c.rows, 1, "rows behind the cursor are dropped")

	_, err = c.Previous(ctx)
	require.Error(t, err)
	assert.True(t, qerr.IsUnsupported(err))

	_, err = c.First(ctx)
	require.Error(t, err)
	assert.True(t, qerr.IsUnsupported(err))

	ok, err = c.Absolute(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, c.Get())
}

func TestCursor_Close(t *testing.T) {
	ctx := context.Background()
	c, src := newCursor(2, Insensitive)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, src.closed)

	_, err := c.Next(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestConcat(t *testing.T) {
	ctx := context.Background()
	c := New(Concat(FromSlice([]any{1, 2}), FromSlice(nil), FromSlice([]any{3})), Insensitive)

	var got []any
	for {
		ok, err := c.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, c.Get())
	}
	assert.Equal(t, []any{1, 2, 3}, got)
	require.NoError(t, c.Close())
}
