package parse

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// xlsxReader iterates the first sheet of a workbook row by row. The zip
// container forces the workbook itself to be materialized, but rows are
// still yielded one at a time through excelize's streaming iterator.
type xlsxReader struct {
	file    *excelize.File
	rows    *excelize.Rows
	sheet   string
	columns []string
	index   int
}

func NewXLSXReader(r io.Reader) (RowReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open sheet %q: %w", sheet, err)
	}

	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("empty sheet %q", sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	return &xlsxReader{
		file:    f,
		rows:    rows,
		sheet:   sheet,
		columns: columns,
	}, nil
}

func (x *xlsxReader) Columns() []string { return x.columns }

func (x *xlsxReader) Sheet() string { return x.sheet }

func (x *xlsxReader) Next() (RawRow, error) {
	for x.rows.Next() {
		record, err := x.rows.Columns()
		if err != nil {
			return RawRow{}, fmt.Errorf("read row: %w", err)
		}

		if len(record) == 0 || strings.Join(record, "") == "" {
			continue
		}

		x.index++
		cols, values := mapRecord(x.columns, record)

		return RawRow{
			Index:   x.index,
			Columns: cols,
			Values:  values,
		}, nil
	}

	if err := x.rows.Error(); err != nil {
		return RawRow{}, fmt.Errorf("iterate rows: %w", err)
	}
	return RawRow{}, io.EOF
}

func (x *xlsxReader) Close() error {
	x.rows.Close()
	return x.file.Close()
}
