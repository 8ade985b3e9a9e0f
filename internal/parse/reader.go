// Package parse turns raw file bytes into canonical transaction rows. Row
// readers are pull-based, finite and non-restartable: they buffer only
// enough input to assemble one logical row at a time.
package parse

import (
	"fmt"
	"strings"
)

// RawRow is one logical row as read from a file, before normalization.
// Values are keyed by the file's own header names.
type RawRow struct {
	// Index is the 1-based data-row index, not counting the header.
	Index   int
	Columns []string
	Values  map[string]string
}

// RowReader yields the rows of one file in order. Next returns io.EOF when
// the sequence is exhausted; the reader cannot be restarted.
type RowReader interface {
	// Columns reports the header, available after construction.
	Columns() []string
	Next() (RawRow, error)
	Close() error
}

// mapRecord pairs one record's cells with the header. Cells past the end of
// the header are kept under a positional key instead of being discarded, and
// the returned column list reflects those keys so downstream normalization
// visits them.
func mapRecord(columns, record []string) ([]string, map[string]string) {
	values := make(map[string]string, len(record))
	cols := columns
	for i, cell := range record {
		if i < len(columns) {
			values[columns[i]] = cell
			continue
		}
		if strings.TrimSpace(cell) == "" {
			continue
		}
		if len(cols) == len(columns) {
			cols = append([]string(nil), columns...)
		}
		key := fmt.Sprintf("column_%d", i+1)
		cols = append(cols, key)
		values[key] = cell
	}
	return cols, values
}
