// Package hashing provides deterministic fingerprinting of transactions for
// integrity checks and duplicate detection.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/matchbot/reconcile/internal/domain"
)

// Field and record separators for the canonical serialization. Control
// characters keep user data from colliding with the framing.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// RowHash fingerprints one transaction's logical content: the canonical
// fields plus the extra-fields map with keys sorted. Identical logical rows
// hash identically regardless of the original column order.
func RowHash(tx domain.Transaction) string {
	h := sha256.New()

	writeField := func(key, value string) {
		h.Write([]byte(key))
		h.Write([]byte(fieldSep))
		h.Write([]byte(value))
		h.Write([]byte(recordSep))
	}

	writeField("date", formatDate(tx.Date))
	writeField("amount", formatAmount(tx))
	writeField("description", formatDescription(tx))

	keys := make([]string, 0, len(tx.Extras))
	for k := range tx.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(k, tx.Extras[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatAmount(tx domain.Transaction) string {
	if tx.Amount == nil {
		return ""
	}
	return tx.Amount.String()
}

func formatDescription(tx domain.Transaction) string {
	if tx.Description == nil {
		return ""
	}
	return *tx.Description
}

// FileHash is a hash-of-hashes over all row hashes in row-index order: a
// whole-file fingerprint independent of storage encoding. Row order matters;
// hashes must be supplied in the order the rows appeared.
func FileHash(rowHashes []string) string {
	h := sha256.New()
	for _, rh := range rowHashes {
		h.Write([]byte(rh))
		h.Write([]byte(recordSep))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FindDuplicates groups a single file's transactions by row hash and flags
// every member of a group beyond the first as a duplicate. The first
// occurrence by row index is the original.
func FindDuplicates(txs []domain.Transaction) []uuid.UUID {
	ordered := make([]domain.Transaction, len(txs))
	copy(ordered, txs)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RowIndex < ordered[j].RowIndex
	})

	seen := make(map[string]bool, len(ordered))
	var duplicates []uuid.UUID
	for _, tx := range ordered {
		if seen[tx.RowHash] {
			duplicates = append(duplicates, tx.ID)
			continue
		}
		seen[tx.RowHash] = true
	}
	return duplicates
}
