package store

import (
	"database/sql"
	"fmt"
)

// Rows is a forward-only cursor over a result set.
type Rows struct {
	rows    *sql.Rows
	columns []string
}

func newRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return &Rows{rows: rows, columns: cols}, nil
}

// Width returns the number of columns.
func (r *Rows) Width() int { return len(r.columns) }

// Columns returns the column names of the result set.
func (r *Rows) Columns() []string { return r.columns }

// Next advances to the next row.
func (r *Rows) Next() bool { return r.rows.Next() }

// Values scans the current row. Byte slices are copied; the driver may
// reuse its buffer on the next call.
func (r *Rows) Values() ([]any, error) {
	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = append([]byte(nil), b...)
		}
	}
	return values, nil
}

// Err returns the error, if any, encountered during iteration.
func (r *Rows) Err() error { return r.rows.Err() }

// Close releases the cursor. It is safe to call more than once.
func (r *Rows) Close() error { return r.rows.Close() }
