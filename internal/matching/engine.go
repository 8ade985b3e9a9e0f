// Package matching diffs the transactions of a source file against one
// comparison file at a time.
package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matchbot/reconcile/internal/domain"
)

// Engine runs the two-pass comparison: exact row-hash matching first, then a
// similarity pass that pairs leftover rows sharing a date with a near-equal
// amount. Tolerance is the maximum absolute amount difference the similarity
// pass accepts.
type Engine struct {
	tolerance decimal.Decimal
}

func NewEngine(tolerance decimal.Decimal) *Engine {
	return &Engine{tolerance: tolerance}
}

// Compare partitions every transaction of both slices into exactly one of
// matched, mismatched, source-only or comparison-only. Each comparison row is
// consumed at most once; ties in the similarity pass break on smallest amount
// difference, then lowest comparison row index.
func (e *Engine) Compare(source, comparison []domain.Transaction) domain.ComparisonOutcome {
	outcome := domain.ComparisonOutcome{
		Matched:        []domain.MatchedPair{},
		Mismatched:     []domain.MismatchedPair{},
		SourceOnly:     []uuid.UUID{},
		ComparisonOnly: []uuid.UUID{},
	}

	// Exact pass. Queue per hash so identical duplicate rows pair one-to-one
	// in row order instead of all matching the same counterpart.
	byHash := make(map[string][]int, len(comparison))
	for i := range comparison {
		byHash[comparison[i].RowHash] = append(byHash[comparison[i].RowHash], i)
	}

	usedComparison := make([]bool, len(comparison))
	var unmatchedSource []int

	for i := range source {
		queue := byHash[source[i].RowHash]
		if len(queue) > 0 {
			j := queue[0]
			byHash[source[i].RowHash] = queue[1:]
			usedComparison[j] = true
			outcome.Matched = append(outcome.Matched, domain.MatchedPair{
				SourceID:     source[i].ID,
				ComparisonID: comparison[j].ID,
			})
			continue
		}
		unmatchedSource = append(unmatchedSource, i)
	}

	// Similarity pass over the leftovers.
	for _, i := range unmatchedSource {
		j, ok := e.bestCandidate(&source[i], comparison, usedComparison)
		if !ok {
			outcome.SourceOnly = append(outcome.SourceOnly, source[i].ID)
			continue
		}
		usedComparison[j] = true
		outcome.Mismatched = append(outcome.Mismatched, domain.MismatchedPair{
			SourceID:     source[i].ID,
			ComparisonID: comparison[j].ID,
			Diffs:        fieldDiffs(&source[i], &comparison[j]),
		})
	}

	for j := range comparison {
		if !usedComparison[j] {
			outcome.ComparisonOnly = append(outcome.ComparisonOnly, comparison[j].ID)
		}
	}

	return outcome
}

// bestCandidate scans unused comparison rows for the closest similarity
// match: same calendar date, amount within tolerance. Requires both canonical
// fields on both sides; degraded rows never similarity-match.
func (e *Engine) bestCandidate(src *domain.Transaction, comparison []domain.Transaction, used []bool) (int, bool) {
	if src.Date == nil || src.Amount == nil {
		return 0, false
	}

	best := -1
	var bestDiff decimal.Decimal

	for j := range comparison {
		if used[j] {
			continue
		}
		cmp := &comparison[j]
		if cmp.Date == nil || cmp.Amount == nil {
			continue
		}
		if !sameDate(*src.Date, *cmp.Date) {
			continue
		}

		diff := src.Amount.Sub(*cmp.Amount).Abs()
		if diff.GreaterThan(e.tolerance) {
			continue
		}

		if best == -1 || diff.LessThan(bestDiff) ||
			(diff.Equal(bestDiff) && cmp.RowIndex < comparison[best].RowIndex) {
			best = j
			bestDiff = diff
		}
	}

	if best == -1 {
		return 0, false
	}
	return best, true
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// fieldDiffs lists the canonical fields that differ between a mismatched
// pair. Order is fixed: date, amount, description.
func fieldDiffs(src, cmp *domain.Transaction) []domain.FieldDiff {
	var diffs []domain.FieldDiff

	if sv, cv := formatDate(src.Date), formatDate(cmp.Date); sv != cv {
		diffs = append(diffs, domain.FieldDiff{Field: "date", SourceValue: sv, ComparisonValue: cv})
	}
	if sv, cv := formatAmount(src.Amount), formatAmount(cmp.Amount); sv != cv {
		diffs = append(diffs, domain.FieldDiff{Field: "amount", SourceValue: sv, ComparisonValue: cv})
	}
	if sv, cv := formatString(src.Description), formatString(cmp.Description); sv != cv {
		diffs = append(diffs, domain.FieldDiff{Field: "description", SourceValue: sv, ComparisonValue: cv})
	}

	return diffs
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func formatAmount(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func formatString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
