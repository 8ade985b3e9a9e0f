package parse

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// csvReader streams delimited text. The underlying bufio/csv machinery reads
// the input in fixed-size chunks and reassembles logical rows that span
// chunk boundaries, so memory stays bounded regardless of file size.
type csvReader struct {
	reader    *csv.Reader
	columns   []string
	delimiter rune
	index     int
}

// NewCSVReader sniffs the delimiter from the first line, reads the header and
// returns a reader positioned at the first data row.
func NewCSVReader(r io.Reader, bufSize int) (RowReader, error) {
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	br := bufio.NewReaderSize(r, bufSize)

	delim, err := sniffDelimiter(br)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	return &csvReader{
		reader:    cr,
		columns:   columns,
		delimiter: delim,
	}, nil
}

// sniffDelimiter peeks at the first line and picks whichever of comma, tab
// and semicolon occurs most often.
func sniffDelimiter(br *bufio.Reader) (rune, error) {
	sample, err := br.Peek(br.Size())
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, fmt.Errorf("peek sample: %w", err)
	}
	if idx := strings.IndexByte(string(sample), '\n'); idx >= 0 {
		sample = sample[:idx]
	}

	best := ','
	bestCount := strings.Count(string(sample), ",")
	for _, cand := range []struct {
		r rune
		s string
	}{{'\t', "\t"}, {';', ";"}} {
		if c := strings.Count(string(sample), cand.s); c > bestCount {
			best = cand.r
			bestCount = c
		}
	}
	return best, nil
}

func (c *csvReader) Columns() []string { return c.columns }

func (c *csvReader) Delimiter() string { return string(c.delimiter) }

func (c *csvReader) Next() (RawRow, error) {
	for {
		record, err := c.reader.Read()
		if err == io.EOF {
			return RawRow{}, io.EOF
		}
		if err != nil {
			return RawRow{}, fmt.Errorf("read row: %w", err)
		}

		// Skip fully blank rows
		if len(record) == 0 || strings.Join(record, "") == "" {
			continue
		}

		c.index++
		cols, values := mapRecord(c.columns, record)

		return RawRow{
			Index:   c.index,
			Columns: cols,
			Values:  values,
		}, nil
	}
}

func (c *csvReader) Close() error { return nil }
