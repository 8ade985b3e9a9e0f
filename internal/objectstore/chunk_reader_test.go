package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchbot/reconcile/internal/domain"
)

// flakyStore fails the first n ReadRange calls with a transient error, then
// delegates to a LocalStore.
type flakyStore struct {
	*LocalStore
	failures int
}

func (f *flakyStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("%w: injected", domain.ErrStorageUnavailable)
	}
	return f.LocalStore.ReadRange(ctx, key, offset, length)
}

// strictRangeStore mimics the S3 range contract: a range starting at or past
// the object's end is rejected outright instead of returning an empty body.
type strictRangeStore struct {
	data  []byte
	reads int
}

func (s *strictRangeStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*domain.PresignedUpload, error) {
	return &domain.PresignedUpload{}, nil
}

func (s *strictRangeStore) Size(ctx context.Context, key string) (int64, error) {
	return int64(len(s.data)), nil
}

func (s *strictRangeStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	s.reads++
	if offset >= int64(len(s.data)) {
		return nil, fmt.Errorf("%w: get %s: api error InvalidRange: the requested range is not satisfiable", domain.ErrStorageUnavailable, key)
	}
	end := offset + length
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	return s.data[offset:end], nil
}

func newTestStore(t *testing.T, content string) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "k", strings.NewReader(content)))
	return store
}

func TestChunkReader_ReadsWholeObject(t *testing.T) {
	content := strings.Repeat("abcdefgh", 1000)
	store := newTestStore(t, content)

	r := NewChunkReader(context.Background(), store, "k", 512)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestChunkReader_ChunkLargerThanObject(t *testing.T) {
	store := newTestStore(t, "tiny")

	r := NewChunkReader(context.Background(), store, "k", 64<<10)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(got))
}

func TestChunkReader_EmptyObject(t *testing.T) {
	store := newTestStore(t, "")

	r := NewChunkReader(context.Background(), store, "k", 512)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChunkReader_ObjectSizeExactMultipleOfChunk(t *testing.T) {
	store := &strictRangeStore{data: bytes.Repeat([]byte{'z'}, 128)}

	r := NewChunkReader(context.Background(), store, "k", 64,
		WithRetryAttempts(2),
		WithRetryBaseDelay(time.Millisecond),
	)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, store.data, got)
	// Exactly two range requests; never one past the object's end.
	assert.Equal(t, 2, store.reads)
}

func TestChunkReader_EmptyObjectStrictRange(t *testing.T) {
	store := &strictRangeStore{}

	r := NewChunkReader(context.Background(), store, "k", 64)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, store.reads)
}

func TestChunkReader_RetriesTransientFailures(t *testing.T) {
	content := strings.Repeat("x", 2048)
	store := newTestStore(t, content)
	flaky := &flakyStore{LocalStore: store, failures: 2}

	r := NewChunkReader(context.Background(), flaky, "k", 512,
		WithRetryAttempts(3),
		WithRetryBaseDelay(time.Millisecond),
	)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestChunkReader_ExhaustedRetriesSurface(t *testing.T) {
	store := newTestStore(t, "data")
	flaky := &flakyStore{LocalStore: store, failures: 10}

	r := NewChunkReader(context.Background(), flaky, "k", 512,
		WithRetryAttempts(2),
		WithRetryBaseDelay(time.Millisecond),
	)

	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestChunkReader_TerminalErrorNotRetried(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	r := NewChunkReader(context.Background(), store, "missing", 512,
		WithRetryAttempts(3),
		WithRetryBaseDelay(time.Millisecond),
	)

	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
