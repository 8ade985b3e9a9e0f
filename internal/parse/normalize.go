package parse

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matchbot/reconcile/internal/domain"
)

// Mapping declares which header names feed each canonical field. Matching is
// case-insensitive and tolerant of surrounding/internal whitespace. Columns
// matching none of the lists are retained verbatim in the extras map.
type Mapping struct {
	DateColumns        []string
	AmountColumns      []string
	DescriptionColumns []string
}

// DefaultMapping covers the header spellings seen in bank and ledger
// exports.
func DefaultMapping() Mapping {
	return Mapping{
		DateColumns:        []string{"date", "transaction date", "txn date", "posted date", "value date"},
		AmountColumns:      []string{"amount", "value", "transaction amount", "debit amount", "total"},
		DescriptionColumns: []string{"description", "memo", "details", "narrative", "reference"},
	}
}

// dateFormats is the ordered list of accepted date layouts; first match
// wins.
var dateFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"02-01-2006",
	"01/02/2006",
	"2006/01/02",
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

func (m Mapping) matches(list []string, header string) bool {
	n := normalizeHeader(header)
	for _, cand := range list {
		if normalizeHeader(cand) == n {
			return true
		}
	}
	return false
}

func (m Mapping) roleOf(header string) string {
	switch {
	case m.matches(m.DateColumns, header):
		return "date"
	case m.matches(m.AmountColumns, header):
		return "amount"
	case m.matches(m.DescriptionColumns, header):
		return "description"
	}
	return ""
}

// Normalize converts a raw row into a canonical transaction. A mapped field
// whose value cannot be parsed is left nil with the raw string preserved in
// the extras map under its original header; degraded reports whether that
// happened for any canonical field. The row is never dropped.
func Normalize(row RawRow, fileID uuid.UUID, m Mapping) (domain.Transaction, bool) {
	tx := domain.Transaction{
		ID:       uuid.New(),
		FileID:   fileID,
		RowIndex: row.Index,
		Extras:   make(map[string]string),
	}

	degraded := false
	for _, col := range row.Columns {
		raw, ok := row.Values[col]
		if !ok {
			continue
		}
		value := strings.TrimSpace(raw)

		switch m.roleOf(col) {
		case "date":
			if value == "" {
				continue
			}
			if d, ok := parseDate(value); ok {
				tx.Date = &d
			} else {
				tx.Extras[col] = raw
				degraded = true
			}
		case "amount":
			if value == "" {
				continue
			}
			if a, ok := parseAmount(value); ok {
				tx.Amount = &a
			} else {
				tx.Extras[col] = raw
				degraded = true
			}
		case "description":
			if value != "" {
				tx.Description = &value
			}
		default:
			if value != "" {
				tx.Extras[col] = value
			}
		}
	}

	return tx, degraded
}

func parseDate(value string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if d, err := time.Parse(layout, value); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// parseAmount reads a fixed-precision decimal. Floating point is never used
// for money: cent-level drift in comparisons is unacceptable.
func parseAmount(value string) (decimal.Decimal, bool) {
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(value)

	// Accounting notation: (12.34) means -12.34
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
