package objectstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/pkg/retry"
)

// ChunkReader adapts byte-range storage reads into an io.Reader: the
// extractor pulls fixed-size chunks sequentially and the parser on top
// reassembles rows that straddle chunk boundaries. The object size is
// stat'ed before the first read and requests never start at or past it;
// S3 answers a range starting at the object's end with InvalidRange, not
// an empty body. Transient storage failures are retried with bounded
// exponential backoff before the error is allowed out.
type ChunkReader struct {
	ctx       context.Context
	store     domain.ObjectStore
	key       string
	chunkSize int64
	attempts  int
	baseDelay time.Duration

	size   int64
	offset int64
	buf    []byte
	eof    bool
}

type ChunkReaderOption func(*ChunkReader)

func WithRetryAttempts(attempts int) ChunkReaderOption {
	return func(r *ChunkReader) { r.attempts = attempts }
}

func WithRetryBaseDelay(delay time.Duration) ChunkReaderOption {
	return func(r *ChunkReader) { r.baseDelay = delay }
}

func NewChunkReader(ctx context.Context, store domain.ObjectStore, key string, chunkSize int64, opts ...ChunkReaderOption) *ChunkReader {
	if chunkSize <= 0 {
		chunkSize = 64 << 10
	}
	r := &ChunkReader{
		ctx:       ctx,
		store:     store,
		key:       key,
		chunkSize: chunkSize,
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
		size:      -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ChunkReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
		if len(r.buf) == 0 {
			return 0, io.EOF
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *ChunkReader) fill() error {
	if r.size < 0 {
		if err := r.stat(); err != nil {
			return err
		}
	}
	if r.offset >= r.size {
		r.eof = true
		return nil
	}

	length := r.chunkSize
	if remaining := r.size - r.offset; remaining < length {
		length = remaining
	}

	var chunk []byte
	err := r.withRetry(func() error {
		var readErr error
		chunk, readErr = r.store.ReadRange(r.ctx, r.key, r.offset, length)
		return readErr
	})
	if err != nil {
		return err
	}

	r.offset += int64(len(chunk))
	r.buf = chunk
	if r.offset >= r.size || int64(len(chunk)) < length {
		r.eof = true
	}
	return nil
}

func (r *ChunkReader) stat() error {
	return r.withRetry(func() error {
		size, err := r.store.Size(r.ctx, r.key)
		if err != nil {
			return err
		}
		r.size = size
		return nil
	})
}

// withRetry retries transient failures and fails fast on anything else.
func (r *ChunkReader) withRetry(fn func() error) error {
	var terminal error
	err := retry.Do(r.ctx, func() error {
		callErr := fn()
		if callErr == nil {
			return nil
		}
		if errors.Is(callErr, domain.ErrStorageUnavailable) {
			return callErr
		}
		// Not transient; stop the retry loop and surface as-is.
		terminal = callErr
		return nil
	}, retry.WithMaxAttempts(r.attempts), retry.WithBaseDelay(r.baseDelay))
	if terminal != nil {
		return terminal
	}
	return err
}
