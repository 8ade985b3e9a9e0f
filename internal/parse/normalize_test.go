package parse

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRow(values map[string]string) RawRow {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	return RawRow{Index: 1, Columns: columns, Values: values}
}

func TestNormalize_CanonicalFields(t *testing.T) {
	row := rawRow(map[string]string{
		"Date":        "2023-05-01",
		"Amount":      "125.50",
		"Description": "coffee",
	})

	tx, degraded := Normalize(row, uuid.New(), DefaultMapping())

	assert.False(t, degraded)
	require.NotNil(t, tx.Date)
	assert.Equal(t, "2023-05-01", tx.Date.Format("2006-01-02"))
	require.NotNil(t, tx.Amount)
	assert.Equal(t, "125.5", tx.Amount.String())
	require.NotNil(t, tx.Description)
	assert.Equal(t, "coffee", *tx.Description)
	assert.Empty(t, tx.Extras)
}

func TestNormalize_HeaderSynonymsAndCase(t *testing.T) {
	row := rawRow(map[string]string{
		"TRANSACTION  DATE": "2023-05-01",
		"Transaction Amount": "10.00",
		"Memo":               "note",
	})

	tx, degraded := Normalize(row, uuid.New(), DefaultMapping())

	assert.False(t, degraded)
	assert.NotNil(t, tx.Date)
	assert.NotNil(t, tx.Amount)
	require.NotNil(t, tx.Description)
	assert.Equal(t, "note", *tx.Description)
}

func TestNormalize_UnparseableDateDegradesNotDrops(t *testing.T) {
	row := rawRow(map[string]string{
		"date":   "sometime in may",
		"amount": "10.00",
	})

	tx, degraded := Normalize(row, uuid.New(), DefaultMapping())

	assert.True(t, degraded)
	assert.Nil(t, tx.Date)
	assert.Equal(t, "sometime in may", tx.Extras["date"])
	assert.NotNil(t, tx.Amount)
}

func TestNormalize_UnparseableAmountDegrades(t *testing.T) {
	row := rawRow(map[string]string{
		"date":   "2023-05-01",
		"amount": "ten dollars",
	})

	tx, degraded := Normalize(row, uuid.New(), DefaultMapping())

	assert.True(t, degraded)
	assert.Nil(t, tx.Amount)
	assert.Equal(t, "ten dollars", tx.Extras["amount"])
}

func TestNormalize_UnmappedColumnsGoToExtras(t *testing.T) {
	row := rawRow(map[string]string{
		"date":      "2023-05-01",
		"amount":    "5.00",
		"branch":    "downtown",
		"reference": "ref-1",
	})

	tx, degraded := Normalize(row, uuid.New(), DefaultMapping())

	assert.False(t, degraded)
	assert.Equal(t, "downtown", tx.Extras["branch"])
	// "reference" maps to description, not extras.
	require.NotNil(t, tx.Description)
	assert.Equal(t, "ref-1", *tx.Description)
}

func TestNormalize_OverflowCellsLandInExtras(t *testing.T) {
	input := "date,amount,description\n2023-05-01,1.00,coffee,loyalty-42\n"

	r, err := NewCSVReader(strings.NewReader(input), 0)
	require.NoError(t, err)
	defer r.Close()

	row, err := r.Next()
	require.NoError(t, err)

	tx, degraded := Normalize(row, uuid.New(), DefaultMapping())

	assert.False(t, degraded)
	assert.Equal(t, "loyalty-42", tx.Extras["column_4"])
}

func TestNormalize_EmptyValuesIgnored(t *testing.T) {
	row := rawRow(map[string]string{
		"date":   "",
		"amount": "   ",
	})

	tx, degraded := Normalize(row, uuid.New(), DefaultMapping())

	assert.False(t, degraded)
	assert.Nil(t, tx.Date)
	assert.Nil(t, tx.Amount)
	assert.Empty(t, tx.Extras)
}

func TestParseAmount_Formats(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100.00", "100"},
		{"$1,250.75", "1250.75"},
		{"€99.99", "99.99"},
		{"(12.34)", "-12.34"},
		{"-5.50", "-5.5"},
		{"1 000.00", "1000"},
	}

	for _, tc := range cases {
		got, ok := parseAmount(tc.in)
		require.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}

	_, ok := parseAmount("not a number")
	assert.False(t, ok)
}

func TestParseDate_Formats(t *testing.T) {
	for _, in := range []string{
		"2023-05-01",
		"2023-05-01T10:30:00Z",
		"01-05-2023",
		"05/01/2023",
		"2023/05/01",
	} {
		_, ok := parseDate(in)
		assert.True(t, ok, in)
	}

	_, ok := parseDate("yesterday")
	assert.False(t, ok)
}
