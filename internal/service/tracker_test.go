package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/internal/eventbus"
	"github.com/matchbot/reconcile/internal/objectstore"
	"github.com/matchbot/reconcile/internal/storage"
	"github.com/matchbot/reconcile/pkg/logger"
)

func setupTracker(t *testing.T) (*storage.MemoryStore, *objectstore.LocalStore, Tracker) {
	t.Helper()

	repo := storage.NewMemoryStore()
	store, err := objectstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	log := logger.NewNop()
	bus := eventbus.New(log, &eventbus.Config{ChannelBuffer: 10, MaxRetries: 1})

	return repo, store, NewTracker(repo, store, bus, testLimits(), log)
}

func TestTracker_RegisterPendingUpload(t *testing.T) {
	repo, _, tracker := setupTracker(t)
	ctx := context.Background()

	file, presigned, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", 2048)
	require.NoError(t, err)

	assert.Equal(t, domain.FileStatusPending, file.Status)
	assert.Equal(t, domain.FileKindCSV, file.Kind)
	assert.Contains(t, file.StorageKey, "owner-1")
	assert.NotEmpty(t, presigned.URL)
	assert.False(t, presigned.ExpiresAt.IsZero())

	stored, err := repo.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), stored.DeclaredSize)
}

func TestTracker_RegisterPendingUpload_Validation(t *testing.T) {
	_, _, tracker := setupTracker(t)
	ctx := context.Background()

	cases := []struct {
		name         string
		ownerID      string
		filename     string
		contentType  string
		declaredSize int64
	}{
		{"missing owner", "", "f.csv", "text/csv", 10},
		{"missing filename", "o", "", "text/csv", 10},
		{"unsupported type", "o", "f.pdf", "application/pdf", 10},
		{"zero size", "o", "f.csv", "text/csv", 0},
		{"over limit", "o", "f.csv", "text/csv", (100 << 20) + 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := tracker.RegisterPendingUpload(ctx, tc.ownerID, tc.filename, tc.contentType, tc.declaredSize)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestTracker_MarkUploaded(t *testing.T) {
	_, store, tracker := setupTracker(t)
	ctx := context.Background()

	content := strings.Repeat("x", 500)
	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", int64(len(content)))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, file.StorageKey, strings.NewReader(content)))

	got, err := tracker.MarkUploaded(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusUploaded, got.Status)
	assert.Equal(t, int64(500), got.ActualSize)
}

func TestTracker_MarkUploaded_SizeMismatchFailsFile(t *testing.T) {
	repo, store, tracker := setupTracker(t)
	ctx := context.Background()

	// Declared 10 KB, actually 100 bytes: far past the tolerance.
	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", 10<<10)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, file.StorageKey, strings.NewReader(strings.Repeat("x", 100))))

	_, err = tracker.MarkUploaded(ctx, file.ID)
	assert.ErrorIs(t, err, domain.ErrSizeMismatch)

	got, repoErr := repo.GetFile(ctx, file.ID)
	require.NoError(t, repoErr)
	assert.Equal(t, domain.FileStatusFailed, got.Status)
	assert.Equal(t, domain.ReasonSizeExceeded, got.FailureReason)
}

func TestTracker_MarkUploaded_MissingObject(t *testing.T) {
	_, _, tracker := setupTracker(t)
	ctx := context.Background()

	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", 100)
	require.NoError(t, err)

	_, err = tracker.MarkUploaded(ctx, file.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTracker_ConfirmAndLink(t *testing.T) {
	_, store, tracker := setupTracker(t)
	ctx := context.Background()

	content := "date,amount\n2023-05-01,1.00\n"
	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", int64(len(content)))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, file.StorageKey, strings.NewReader(content)))
	_, err = tracker.MarkUploaded(ctx, file.ID)
	require.NoError(t, err)

	got, err := tracker.ConfirmAndLink(ctx, file.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusConfirmed, got.Status)
}

func TestTracker_ConfirmAndLink_UnknownJob(t *testing.T) {
	_, store, tracker := setupTracker(t)
	ctx := context.Background()

	content := "date,amount\n2023-05-01,1.00\n"
	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", int64(len(content)))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, file.StorageKey, strings.NewReader(content)))
	_, err = tracker.MarkUploaded(ctx, file.ID)
	require.NoError(t, err)

	missing := uuid.New()
	_, err = tracker.ConfirmAndLink(ctx, file.ID, &missing)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTracker_ConfirmBeforeUploadRejected(t *testing.T) {
	_, _, tracker := setupTracker(t)
	ctx := context.Background()

	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", 100)
	require.NoError(t, err)

	_, err = tracker.ConfirmAndLink(ctx, file.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestTracker_DeleteFile(t *testing.T) {
	repo, _, tracker := setupTracker(t)
	ctx := context.Background()

	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", 100)
	require.NoError(t, err)

	require.NoError(t, tracker.DeleteFile(ctx, file.ID))

	_, err = repo.GetFile(ctx, file.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTracker_DeleteProcessingFileRejected(t *testing.T) {
	repo, store, tracker := setupTracker(t)
	ctx := context.Background()

	content := "date,amount\n2023-05-01,1.00\n"
	file, _, err := tracker.RegisterPendingUpload(ctx, "owner-1", "bank.csv", "text/csv", int64(len(content)))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, file.StorageKey, strings.NewReader(content)))
	_, err = tracker.MarkUploaded(ctx, file.ID)
	require.NoError(t, err)
	_, err = tracker.ConfirmAndLink(ctx, file.ID, nil)
	require.NoError(t, err)
	require.NoError(t, repo.ClaimFileProcessing(ctx, file.ID))

	err = tracker.DeleteFile(ctx, file.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyInProgress)
}
