package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matchbot/reconcile/internal/domain"
)

// MemoryStore is the development and test repository. It mirrors the
// relational store's compare-and-swap transition semantics under a single
// mutex so lifecycle tests exercise the same guard behavior.
type MemoryStore struct {
	files        map[uuid.UUID]*domain.UploadedFile
	transactions map[uuid.UUID][]domain.Transaction
	jobs         map[uuid.UUID]*domain.ReconciliationJob
	results      []domain.ReconciliationResult
	mu           sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:        make(map[uuid.UUID]*domain.UploadedFile),
		transactions: make(map[uuid.UUID][]domain.Transaction),
		jobs:         make(map[uuid.UUID]*domain.ReconciliationJob),
	}
}

func (s *MemoryStore) CreateFile(ctx context.Context, file *domain.UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	file.CreatedAt = now
	file.UpdatedAt = now

	cp := *file
	s.files[file.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFile(ctx context.Context, id uuid.UUID) (*domain.UploadedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, exists := s.files[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := *file
	return &cp, nil
}

func (s *MemoryStore) DeleteFile(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.files, id)
	// Transactions cascade with their owning file.
	delete(s.transactions, id)
	return nil
}

// transition applies mutate iff the file's current status satisfies ok.
// This is the in-memory analogue of a conditional UPDATE.
func (s *MemoryStore) transition(id uuid.UUID, ok func(domain.FileStatus) error, mutate func(*domain.UploadedFile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, exists := s.files[id]
	if !exists {
		return domain.ErrNotFound
	}
	if err := ok(file.Status); err != nil {
		return err
	}
	mutate(file)
	file.UpdatedAt = time.Now()
	return nil
}

func requireStatus(entity string, want domain.FileStatus) func(domain.FileStatus) error {
	return func(current domain.FileStatus) error {
		if current != want {
			return &domain.StateError{Entity: entity, Current: string(current), Required: string(want)}
		}
		return nil
	}
}

func (s *MemoryStore) SetFileUploaded(ctx context.Context, id uuid.UUID, actualSize int64) error {
	return s.transition(id, requireStatus("file", domain.FileStatusPending), func(f *domain.UploadedFile) {
		f.Status = domain.FileStatusUploaded
		f.ActualSize = actualSize
	})
}

func (s *MemoryStore) SetFileConfirmed(ctx context.Context, id uuid.UUID, jobID *uuid.UUID) error {
	return s.transition(id, requireStatus("file", domain.FileStatusUploaded), func(f *domain.UploadedFile) {
		f.Status = domain.FileStatusConfirmed
		if jobID != nil {
			f.JobID = jobID
		}
	})
}

func (s *MemoryStore) ClaimFileProcessing(ctx context.Context, id uuid.UUID) error {
	return s.transition(id, func(current domain.FileStatus) error {
		if current == domain.FileStatusProcessing {
			return domain.ErrAlreadyInProgress
		}
		if current != domain.FileStatusConfirmed {
			return &domain.StateError{Entity: "file", Current: string(current), Required: string(domain.FileStatusConfirmed)}
		}
		return nil
	}, func(f *domain.UploadedFile) {
		f.Status = domain.FileStatusProcessing
	})
}

func (s *MemoryStore) SetFileReady(ctx context.Context, id uuid.UUID, rowCount int, fileHash string) error {
	return s.transition(id, requireStatus("file", domain.FileStatusProcessing), func(f *domain.UploadedFile) {
		f.Status = domain.FileStatusReady
		f.RowCount = rowCount
		f.ProcessedRows = rowCount
		f.FileHash = fileHash
	})
}

func (s *MemoryStore) SetFileFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transition(id, func(current domain.FileStatus) error {
		if current.Terminal() {
			return &domain.StateError{Entity: "file", Current: string(current), Required: "non-terminal"}
		}
		return nil
	}, func(f *domain.UploadedFile) {
		f.Status = domain.FileStatusFailed
		f.FailureReason = reason
	})
}

func (s *MemoryStore) SetFileMetadata(ctx context.Context, id uuid.UUID, md domain.FileMetadata) error {
	return s.transition(id, func(domain.FileStatus) error { return nil }, func(f *domain.UploadedFile) {
		f.Metadata = md
	})
}

func (s *MemoryStore) SetFileProgress(ctx context.Context, id uuid.UUID, processedRows int) error {
	return s.transition(id, func(domain.FileStatus) error { return nil }, func(f *domain.UploadedFile) {
		f.ProcessedRows = processedRows
	})
}

func (s *MemoryStore) CreateTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fileID := txs[0].FileID
	if _, exists := s.files[fileID]; !exists {
		return domain.ErrNotFound
	}

	s.transactions[fileID] = append(s.transactions[fileID], txs...)
	return nil
}

func (s *MemoryStore) GetTransactions(ctx context.Context, fileID uuid.UUID) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.files[fileID]; !exists {
		return nil, domain.ErrNotFound
	}

	txs := make([]domain.Transaction, len(s.transactions[fileID]))
	copy(txs, s.transactions[fileID])
	sort.Slice(txs, func(i, j int) bool { return txs[i].RowIndex < txs[j].RowIndex })
	return txs, nil
}

func (s *MemoryStore) DeleteTransactions(ctx context.Context, fileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.transactions, fileID)
	return nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *domain.ReconciliationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.ReconciliationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ClaimJobRunning(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return domain.ErrNotFound
	}
	if job.Status == domain.JobStatusRunning {
		return domain.ErrAlreadyInProgress
	}

	job.Status = domain.JobStatusRunning
	job.FailureReason = ""
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetJobCompleted(ctx context.Context, id uuid.UUID) error {
	return s.jobTransition(id, domain.JobStatusCompleted, "")
}

func (s *MemoryStore) SetJobFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.jobTransition(id, domain.JobStatusFailed, reason)
}

func (s *MemoryStore) jobTransition(id uuid.UUID, to domain.JobStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusRunning {
		return &domain.StateError{Entity: "job", Current: string(job.Status), Required: string(domain.JobStatusRunning)}
	}

	job.Status = to
	job.FailureReason = reason
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateResult(ctx context.Context, result *domain.ReconciliationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result.CreatedAt = time.Now()
	s.results = append(s.results, *result)
	return nil
}

func (s *MemoryStore) LatestResult(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// results is append-only, so the last match is the newest.
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].JobID == jobID {
			cp := s.results[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) ResultHistory(ctx context.Context, jobID uuid.UUID) ([]domain.ReconciliationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history []domain.ReconciliationResult
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].JobID == jobID {
			history = append(history, s.results[i])
		}
	}
	return history, nil
}
