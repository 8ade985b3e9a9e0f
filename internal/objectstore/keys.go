// Package objectstore implements the blob storage boundary: presigned
// uploads in, byte-range reads out.
package objectstore

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// BuildKey lays out storage keys as uploads/<owner>/<fileID>/<name> so that
// per-owner listing and lifecycle rules stay possible on the bucket side.
func BuildKey(ownerID string, fileID uuid.UUID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", ownerID, fileID, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	if cleaned == "" || cleaned == "." {
		return "file"
	}
	return cleaned
}
