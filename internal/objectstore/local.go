package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matchbot/reconcile/internal/domain"
)

// LocalStore keeps objects under a directory tree. Development and test
// backend; presigned URLs are local:// pseudo-URLs and uploads land through
// Put instead of HTTP.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (l *LocalStore) path(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

func (l *LocalStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*domain.PresignedUpload, error) {
	return &domain.PresignedUpload{
		URL: "local://" + strings.TrimPrefix(key, "/"),
		Headers: map[string]string{
			"Content-Type": contentType,
		},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Put writes object bytes directly. Stands in for the client's presigned
// PUT in development and tests.
func (l *LocalStore) Put(ctx context.Context, key string, r io.Reader) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}

func (l *LocalStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek %s: %v", domain.ErrStorageUnavailable, key, err)
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return buf[:n], nil
}

func (l *LocalStore) Size(ctx context.Context, key string) (int64, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("%w: stat %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return info.Size(), nil
}
