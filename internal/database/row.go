package database

import (
	"errors"

	"github.com/koustreak/featureserv/internal/errs"
)

// Record is one result row: column names in select-list order paired with
// the driver's Go-native values. Unlike a map it keeps column order, which
// ArcGIS clients rely on when rendering attribute tables.
type Record struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Record) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Len is the number of columns.
func (r Record) Len() int { return len(r.Columns) }

// Without returns a copy of r lacking the named columns.
func (r Record) Without(columns ...string) Record {
	skip := make(map[string]bool, len(columns))
	for _, c := range columns {
		skip[c] = true
	}
	out := Record{
		Columns: make([]string, 0, len(r.Columns)),
		Values:  make([]any, 0, len(r.Values)),
	}
	for i, c := range r.Columns {
		if skip[c] {
			continue
		}
		out.Columns = append(out.Columns, c)
		out.Values = append(out.Values, r.Values[i])
	}
	return out
}

// ScanRecords reads all rows from the result set.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRecords always closes the Rows; callers do not need to call Close().
func ScanRecords(rows Rows) ([]Record, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := make([]Record, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}

		result = append(result, Record{Columns: columns, Values: dest})
	}

	if err := rows.Err(); err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return result, nil
}
