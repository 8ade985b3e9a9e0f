package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchbot/reconcile/internal/config"
	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/internal/objectstore"
	"github.com/matchbot/reconcile/internal/storage"
	"github.com/matchbot/reconcile/pkg/logger"
)

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxFileSize:           100 << 20,
		SizeTolerance:         1024,
		QualityThreshold:      0.10,
		AmountTolerance:       "0.01",
		BatchSize:             2,
		ChunkSize:             64 << 10,
		StorageRetryAttempts:  2,
		ExtractionTimeout:     time.Minute,
		ReconciliationTimeout: time.Minute,
		PresignTTL:            15 * time.Minute,
	}
}

func setupExtraction(t *testing.T, content string) (*storage.MemoryStore, *objectstore.LocalStore, *domain.UploadedFile, Extractor) {
	t.Helper()
	ctx := context.Background()

	repo := storage.NewMemoryStore()
	store, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	file := &domain.UploadedFile{
		ID:           uuid.New(),
		OwnerID:      "owner-1",
		Filename:     "bank.csv",
		ContentType:  "text/csv",
		Kind:         domain.FileKindCSV,
		DeclaredSize: int64(len(content)),
		Status:       domain.FileStatusPending,
	}
	file.StorageKey = objectstore.BuildKey(file.OwnerID, file.ID, file.Filename)

	require.NoError(t, repo.CreateFile(ctx, file))
	require.NoError(t, store.Put(ctx, file.StorageKey, strings.NewReader(content)))
	require.NoError(t, repo.SetFileUploaded(ctx, file.ID, int64(len(content))))
	require.NoError(t, repo.SetFileConfirmed(ctx, file.ID, nil))

	extractor := NewExtractor(repo, store, testLimits(), logger.NewNop())
	return repo, store, file, extractor
}

func TestExtractor_HappyPath(t *testing.T) {
	content := "date,amount,description\n" +
		"2023-05-01,100.00,rent\n" +
		"2023-05-02,20.50,groceries\n" +
		"2023-05-03,5.00,coffee\n"
	repo, _, file, extractor := setupExtraction(t, content)
	ctx := context.Background()

	require.NoError(t, extractor.Extract(ctx, file.ID))

	got, err := repo.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusReady, got.Status)
	assert.Equal(t, 3, got.RowCount)
	assert.Equal(t, 3, got.ProcessedRows)
	assert.NotEmpty(t, got.FileHash)
	assert.Equal(t, []string{"date", "amount", "description"}, got.Metadata.Columns)
	assert.Equal(t, ",", got.Metadata.Delimiter)

	txs, err := repo.GetTransactions(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.NotEmpty(t, tx.RowHash)
		assert.NotNil(t, tx.Date)
		assert.NotNil(t, tx.Amount)
	}
}

func TestExtractor_RowCountConservation(t *testing.T) {
	// One malformed row out of twenty stays under the quality threshold and
	// must still be persisted, degraded, not dropped.
	var b strings.Builder
	b.WriteString("date,amount,description\n")
	for i := 0; i < 19; i++ {
		b.WriteString("2023-05-01,10.00,ok\n")
	}
	b.WriteString("not-a-date,10.00,degraded row\n")

	repo, _, file, extractor := setupExtraction(t, b.String())
	ctx := context.Background()

	require.NoError(t, extractor.Extract(ctx, file.ID))

	got, err := repo.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusReady, got.Status)
	assert.Equal(t, 20, got.RowCount)

	txs, err := repo.GetTransactions(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, txs, 20)

	last := txs[19]
	assert.Nil(t, last.Date)
	assert.Equal(t, "not-a-date", last.Extras["date"])
}

func TestExtractor_QualityThresholdFails(t *testing.T) {
	// Two degraded rows out of ten exceeds the 10% threshold: the file fails
	// and no transactions survive.
	var b strings.Builder
	b.WriteString("date,amount,description\n")
	for i := 0; i < 8; i++ {
		b.WriteString("2023-05-01,10.00,ok\n")
	}
	b.WriteString("bad,10.00,one\n")
	b.WriteString("2023-05-01,bad,two\n")

	repo, _, file, extractor := setupExtraction(t, b.String())
	ctx := context.Background()

	err := extractor.Extract(ctx, file.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExtractionQuality)

	got, repoErr := repo.GetFile(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Equal(t, domain.ReasonQualityThreshold, got.FailureReason)

	txs, repoErr := repo.GetTransactions(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Empty(t, txs)
}

func TestExtractor_DuplicateRowsAllPersisted(t *testing.T) {
	content := "date,amount,description\n" +
		"2023-05-01,50.00,subscription\n" +
		"2023-05-01,50.00,subscription\n"
	repo, _, file, extractor := setupExtraction(t, content)
	ctx := context.Background()

	require.NoError(t, extractor.Extract(ctx, file.ID))

	txs, err := repo.GetTransactions(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, txs[0].RowHash, txs[1].RowHash)
}

func TestExtractor_BadFormatFails(t *testing.T) {
	repo, _, file, extractor := setupExtraction(t, "")
	ctx := context.Background()

	err := extractor.Extract(ctx, file.ID)
	require.Error(t, err)

	got, repoErr := repo.GetFile(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Equal(t, domain.ReasonBadFormat, got.FailureReason)
}

func TestExtractor_SecondClaimRejected(t *testing.T) {
	content := "date,amount\n2023-05-01,1.00\n"
	repo, _, file, extractor := setupExtraction(t, content)
	ctx := context.Background()

	require.NoError(t, repo.ClaimFileProcessing(ctx, file.ID))

	err := extractor.Extract(ctx, file.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyInProgress)
}

func TestExtractor_CancelWithoutRun(t *testing.T) {
	_, _, file, extractor := setupExtraction(t, "date,amount\n2023-05-01,1.00\n")

	assert.False(t, extractor.Cancel(file.ID))
}

// gateStore serves the first chunk normally, then signals and parks every
// later read until the run's context ends. This pins an extraction mid-stream
// so cancellation can be exercised deterministically.
type gateStore struct {
	*objectstore.LocalStore
	entered chan struct{}
	once    sync.Once
}

func (g *gateStore) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if offset == 0 {
		return g.LocalStore.ReadRange(ctx, key, offset, length)
	}
	g.once.Do(func() { close(g.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func manyRowsCSV(rows int) string {
	var b strings.Builder
	b.WriteString("date,amount,description\n")
	for i := 0; i < rows; i++ {
		b.WriteString("2023-05-01,10.00,recurring\n")
	}
	return b.String()
}

func TestExtractor_CancelMidExtraction(t *testing.T) {
	repo, store, file, _ := setupExtraction(t, manyRowsCSV(50))
	ctx := context.Background()

	gate := &gateStore{LocalStore: store, entered: make(chan struct{})}
	limits := testLimits()
	limits.ChunkSize = 64
	extractor := NewExtractor(repo, gate, limits, logger.NewNop())

	done := make(chan error, 1)
	go func() { done <- extractor.Extract(ctx, file.ID) }()

	<-gate.entered
	assert.True(t, extractor.Cancel(file.ID))

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCancelled)

	got, repoErr := repo.GetFile(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Equal(t, domain.ReasonCancelled, got.FailureReason)

	txs, repoErr := repo.GetTransactions(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Empty(t, txs, "a cancelled extraction leaves no transactions behind")
}

func TestExtractor_TimeoutReadsAsCancelled(t *testing.T) {
	repo, store, file, _ := setupExtraction(t, manyRowsCSV(50))
	ctx := context.Background()

	gate := &gateStore{LocalStore: store, entered: make(chan struct{})}
	limits := testLimits()
	limits.ChunkSize = 64
	limits.ExtractionTimeout = 50 * time.Millisecond
	extractor := NewExtractor(repo, gate, limits, logger.NewNop())

	err := extractor.Extract(ctx, file.ID)
	require.Error(t, err)

	got, repoErr := repo.GetFile(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Equal(t, domain.ReasonCancelled, got.FailureReason)

	txs, repoErr := repo.GetTransactions(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Empty(t, txs)
}
