package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/matchbot/reconcile/internal/domain"
)

// GormStore is the production repository over Postgres. Status transitions
// are conditional UPDATEs (WHERE id AND status), so the per-file and per-job
// guards hold across multiple worker processes without any shared memory.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&fileRecord{},
		&transactionRecord{},
		&jobRecord{},
		&resultRecord{},
	)
}

type fileRecord struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OwnerID       string     `gorm:"index"`
	JobID         *uuid.UUID `gorm:"index"`
	Filename      string
	StorageKey    string
	ContentType   string
	Kind          string
	DeclaredSize  int64
	ActualSize    int64
	Status        string `gorm:"index"`
	FileHash      string
	RowCount      int
	ProcessedRows int
	Metadata      datatypes.JSON
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (fileRecord) TableName() string { return "uploaded_files" }

type transactionRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	FileID      uuid.UUID `gorm:"index"`
	RowIndex    int
	Date        *time.Time
	Amount      decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	Description *string
	Extras      datatypes.JSONMap
	RowHash     string `gorm:"index"`
	CreatedAt   time.Time
}

func (transactionRecord) TableName() string { return "transactions" }

type jobRecord struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID           string    `gorm:"index"`
	SourceFileID      uuid.UUID `gorm:"index"`
	ComparisonFileIDs datatypes.JSON
	Status            string `gorm:"index"`
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (jobRecord) TableName() string { return "reconciliation_jobs" }

type resultRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID       uuid.UUID `gorm:"index"`
	Comparisons datatypes.JSON
	CreatedAt   time.Time `gorm:"index"`
}

func (resultRecord) TableName() string { return "reconciliation_results" }

func toFileRecord(f *domain.UploadedFile) (*fileRecord, error) {
	md, err := json.Marshal(f.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return &fileRecord{
		ID:            f.ID,
		OwnerID:       f.OwnerID,
		JobID:         f.JobID,
		Filename:      f.Filename,
		StorageKey:    f.StorageKey,
		ContentType:   f.ContentType,
		Kind:          string(f.Kind),
		DeclaredSize:  f.DeclaredSize,
		ActualSize:    f.ActualSize,
		Status:        string(f.Status),
		FileHash:      f.FileHash,
		RowCount:      f.RowCount,
		ProcessedRows: f.ProcessedRows,
		Metadata:      datatypes.JSON(md),
		FailureReason: f.FailureReason,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}, nil
}

func (r *fileRecord) toDomain() (*domain.UploadedFile, error) {
	var md domain.FileMetadata
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &md); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &domain.UploadedFile{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		JobID:         r.JobID,
		Filename:      r.Filename,
		StorageKey:    r.StorageKey,
		ContentType:   r.ContentType,
		Kind:          domain.FileKind(r.Kind),
		DeclaredSize:  r.DeclaredSize,
		ActualSize:    r.ActualSize,
		Status:        domain.FileStatus(r.Status),
		FileHash:      r.FileHash,
		RowCount:      r.RowCount,
		ProcessedRows: r.ProcessedRows,
		Metadata:      md,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func (s *GormStore) CreateFile(ctx context.Context, file *domain.UploadedFile) error {
	now := time.Now()
	file.CreatedAt = now
	file.UpdatedAt = now

	rec, err := toFileRecord(file)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) GetFile(ctx context.Context, id uuid.UUID) (*domain.UploadedFile, error) {
	var rec fileRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec.toDomain()
}

func (s *GormStore) DeleteFile(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&fileRecord{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Delete(&transactionRecord{}, "file_id = ?", id).Error
	})
}

// casFileUpdate is the compare-and-swap primitive: update iff the current
// status matches. Zero rows affected means the guard failed and the current
// state decides which error the caller sees.
func (s *GormStore) casFileUpdate(ctx context.Context, id uuid.UUID, from []domain.FileStatus, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&fileRecord{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.FileStatusProcessing {
		return domain.ErrAlreadyInProgress
	}
	return &domain.StateError{
		Entity:   "file",
		Current:  string(current.Status),
		Required: fmt.Sprint(from),
	}
}

func statusStrings(statuses []domain.FileStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s *GormStore) SetFileUploaded(ctx context.Context, id uuid.UUID, actualSize int64) error {
	return s.casFileUpdate(ctx, id, []domain.FileStatus{domain.FileStatusPending}, map[string]interface{}{
		"status":      string(domain.FileStatusUploaded),
		"actual_size": actualSize,
		"updated_at":  time.Now(),
	})
}

func (s *GormStore) SetFileConfirmed(ctx context.Context, id uuid.UUID, jobID *uuid.UUID) error {
	updates := map[string]interface{}{
		"status":     string(domain.FileStatusConfirmed),
		"updated_at": time.Now(),
	}
	if jobID != nil {
		updates["job_id"] = *jobID
	}
	return s.casFileUpdate(ctx, id, []domain.FileStatus{domain.FileStatusUploaded}, updates)
}

func (s *GormStore) ClaimFileProcessing(ctx context.Context, id uuid.UUID) error {
	return s.casFileUpdate(ctx, id, []domain.FileStatus{domain.FileStatusConfirmed}, map[string]interface{}{
		"status":     string(domain.FileStatusProcessing),
		"updated_at": time.Now(),
	})
}

func (s *GormStore) SetFileReady(ctx context.Context, id uuid.UUID, rowCount int, fileHash string) error {
	return s.casFileUpdate(ctx, id, []domain.FileStatus{domain.FileStatusProcessing}, map[string]interface{}{
		"status":         string(domain.FileStatusReady),
		"row_count":      rowCount,
		"processed_rows": rowCount,
		"file_hash":      fileHash,
		"updated_at":     time.Now(),
	})
}

func (s *GormStore) SetFileFailed(ctx context.Context, id uuid.UUID, reason string) error {
	nonTerminal := []domain.FileStatus{
		domain.FileStatusPending,
		domain.FileStatusUploaded,
		domain.FileStatusConfirmed,
		domain.FileStatusProcessing,
	}
	res := s.db.WithContext(ctx).Model(&fileRecord{}).
		Where("id = ? AND status IN ?", id, statusStrings(nonTerminal)).
		Updates(map[string]interface{}{
			"status":         string(domain.FileStatusFailed),
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.GetFile(ctx, id)
	if err != nil {
		return err
	}
	return &domain.StateError{Entity: "file", Current: string(current.Status), Required: "non-terminal"}
}

func (s *GormStore) SetFileMetadata(ctx context.Context, id uuid.UUID, md domain.FileMetadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&fileRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"metadata": datatypes.JSON(data), "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *GormStore) SetFileProgress(ctx context.Context, id uuid.UUID, processedRows int) error {
	res := s.db.WithContext(ctx).Model(&fileRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"processed_rows": processedRows, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toTransactionRecord(tx domain.Transaction) transactionRecord {
	extras := make(datatypes.JSONMap, len(tx.Extras))
	for k, v := range tx.Extras {
		extras[k] = v
	}

	var amount decimal.NullDecimal
	if tx.Amount != nil {
		amount = decimal.NullDecimal{Decimal: *tx.Amount, Valid: true}
	}

	return transactionRecord{
		ID:          tx.ID,
		FileID:      tx.FileID,
		RowIndex:    tx.RowIndex,
		Date:        tx.Date,
		Amount:      amount,
		Description: tx.Description,
		Extras:      extras,
		RowHash:     tx.RowHash,
	}
}

func (r *transactionRecord) toDomain() domain.Transaction {
	extras := make(map[string]string, len(r.Extras))
	for k, v := range r.Extras {
		if s, ok := v.(string); ok {
			extras[k] = s
		} else {
			extras[k] = fmt.Sprint(v)
		}
	}

	var amount *decimal.Decimal
	if r.Amount.Valid {
		a := r.Amount.Decimal
		amount = &a
	}

	return domain.Transaction{
		ID:          r.ID,
		FileID:      r.FileID,
		RowIndex:    r.RowIndex,
		Date:        r.Date,
		Amount:      amount,
		Description: r.Description,
		Extras:      extras,
		RowHash:     r.RowHash,
	}
}

func (s *GormStore) CreateTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	records := make([]transactionRecord, len(txs))
	for i, tx := range txs {
		records[i] = toTransactionRecord(tx)
	}
	return s.db.WithContext(ctx).CreateInBatches(records, 500).Error
}

func (s *GormStore) GetTransactions(ctx context.Context, fileID uuid.UUID) ([]domain.Transaction, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&fileRecord{}).Where("id = ?", fileID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domain.ErrNotFound
	}

	var records []transactionRecord
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("row_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, len(records))
	for i := range records {
		txs[i] = records[i].toDomain()
	}
	return txs, nil
}

func (s *GormStore) DeleteTransactions(ctx context.Context, fileID uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&transactionRecord{}, "file_id = ?", fileID).Error
}

func (s *GormStore) CreateJob(ctx context.Context, job *domain.ReconciliationJob) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	ids, err := json.Marshal(job.ComparisonFileIDs)
	if err != nil {
		return fmt.Errorf("marshal comparison file ids: %w", err)
	}

	return s.db.WithContext(ctx).Create(&jobRecord{
		ID:                job.ID,
		OwnerID:           job.OwnerID,
		SourceFileID:      job.SourceFileID,
		ComparisonFileIDs: datatypes.JSON(ids),
		Status:            string(job.Status),
		FailureReason:     job.FailureReason,
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
	}).Error
}

func (s *GormStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.ReconciliationJob, error) {
	var rec jobRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var ids []uuid.UUID
	if len(rec.ComparisonFileIDs) > 0 {
		if err := json.Unmarshal(rec.ComparisonFileIDs, &ids); err != nil {
			return nil, fmt.Errorf("unmarshal comparison file ids: %w", err)
		}
	}

	return &domain.ReconciliationJob{
		ID:                rec.ID,
		OwnerID:           rec.OwnerID,
		SourceFileID:      rec.SourceFileID,
		ComparisonFileIDs: ids,
		Status:            domain.JobStatus(rec.Status),
		FailureReason:     rec.FailureReason,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}, nil
}

func (s *GormStore) ClaimJobRunning(ctx context.Context, id uuid.UUID) error {
	claimable := []string{
		string(domain.JobStatusPending),
		string(domain.JobStatusCompleted),
		string(domain.JobStatusFailed),
	}
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND status IN ?", id, claimable).
		Updates(map[string]interface{}{
			"status":         string(domain.JobStatusRunning),
			"failure_reason": "",
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return domain.ErrAlreadyInProgress
}

func (s *GormStore) SetJobCompleted(ctx context.Context, id uuid.UUID) error {
	return s.casJobFromRunning(ctx, id, domain.JobStatusCompleted, "")
}

func (s *GormStore) SetJobFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.casJobFromRunning(ctx, id, domain.JobStatusFailed, reason)
}

func (s *GormStore) casJobFromRunning(ctx context.Context, id uuid.UUID, to domain.JobStatus, reason string) error {
	res := s.db.WithContext(ctx).Model(&jobRecord{}).
		Where("id = ? AND status = ?", id, string(domain.JobStatusRunning)).
		Updates(map[string]interface{}{
			"status":         string(to),
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return &domain.StateError{Entity: "job", Current: string(current.Status), Required: string(domain.JobStatusRunning)}
}

func (s *GormStore) CreateResult(ctx context.Context, result *domain.ReconciliationResult) error {
	result.CreatedAt = time.Now()

	payload, err := json.Marshal(result.Comparisons)
	if err != nil {
		return fmt.Errorf("marshal comparisons: %w", err)
	}

	return s.db.WithContext(ctx).Create(&resultRecord{
		ID:          result.ID,
		JobID:       result.JobID,
		Comparisons: datatypes.JSON(payload),
		CreatedAt:   result.CreatedAt,
	}).Error
}

func (r *resultRecord) toDomain() (*domain.ReconciliationResult, error) {
	var comparisons []domain.ComparisonOutcome
	if len(r.Comparisons) > 0 {
		if err := json.Unmarshal(r.Comparisons, &comparisons); err != nil {
			return nil, fmt.Errorf("unmarshal comparisons: %w", err)
		}
	}
	return &domain.ReconciliationResult{
		ID:          r.ID,
		JobID:       r.JobID,
		Comparisons: comparisons,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func (s *GormStore) LatestResult(ctx context.Context, jobID uuid.UUID) (*domain.ReconciliationResult, error) {
	var rec resultRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec.toDomain()
}

func (s *GormStore) ResultHistory(ctx context.Context, jobID uuid.UUID) ([]domain.ReconciliationResult, error) {
	var records []resultRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	results := make([]domain.ReconciliationResult, 0, len(records))
	for i := range records {
		r, err := records[i].toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, nil
}
