package scroll

import "context"

// SliceSource yields the elements of a slice.
type SliceSource struct {
	Rows []any
	next int
}

// FromSlice returns a source over rows.
func FromSlice(rows []any) *SliceSource {
	return &SliceSource{Rows: rows}
}

// Next returns the following element.
func (s *SliceSource) Next(ctx context.Context) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.next >= len(s.Rows) {
		return nil, false, nil
	}
	row := s.Rows[s.next]
	s.next++
	return row, true, nil
}

// Close does nothing.
func (s *SliceSource) Close() error { return nil }

// Concat yields the rows of each source in turn.
func Concat(sources ...Source) Source {
	return &concatSource{sources: sources}
}

type concatSource struct {
	sources []Source
}

func (s *concatSource) Next(ctx context.Context) (any, bool, error) {
	for len(s.sources) > 0 {
		row, ok, err := s.sources[0].Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return row, true, nil
		}
		if err := s.sources[0].Close(); err != nil {
			return nil, false, err
		}
		s.sources = s.sources[1:]
	}
	return nil, false, nil
}

func (s *concatSource) Close() error {
	var first error
	for _, src := range s.sources {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.sources = nil
	return first
}
