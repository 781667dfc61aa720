// Package reconciliation links bank statement lines and accounting invoices
// to verified payments, and owns bulk statement imports.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/telemetry"
)

var ErrBatchNotFound = errors.New("import batch not found")

type ReconciliationService struct {
	invoiceRepo     *repository.InvoiceRepository
	transactionRepo *repository.BankTransactionRepository
	paymentRepo     *repository.PaymentRepository
	verifier        *verification.Service
	db              *gorm.DB
	progressCache   sync.Map // batchID -> Progress
	imports         sync.WaitGroup
	now             func() time.Time
}

type Progress struct {
	ProcessedCount int    `json:"processed_count"`
	Total          int    `json:"total"`
	Status         string `json:"status"`
}

func NewReconciliationService(
	invoiceRepo *repository.InvoiceRepository,
	transactionRepo *repository.BankTransactionRepository,
	paymentRepo *repository.PaymentRepository,
	verifier *verification.Service,
) *ReconciliationService {
	return &ReconciliationService{
		invoiceRepo:     invoiceRepo,
		transactionRepo: transactionRepo,
		paymentRepo:     paymentRepo,
		verifier:        verifier,
		db:              invoiceRepo.DB(),
		now:             time.Now,
	}
}

// CreateBatch records the start of a bulk import.
func (s *ReconciliationService) CreateBatch(ctx context.Context, source, filename string, total int) (*models.ImportBatch, error) {
	now := s.now()
	batch := &models.ImportBatch{
		ID:        uuid.New(),
		Source:    source,
		Filename:  filename,
		TotalRows: total,
		Status:    models.BatchProcessing,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, fmt.Errorf("create import batch: %w", err)
	}
	s.progressCache.Store(batch.ID, Progress{Total: total, Status: models.BatchProcessing})
	return batch, nil
}

func (s *ReconciliationService) GetBatch(ctx context.Context, batchID uuid.UUID) (*models.ImportBatch, error) {
	var batch models.ImportBatch
	err := s.db.WithContext(ctx).First(&batch, "id = ?", batchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *ReconciliationService) UpdateBatchProgressCache(batchID uuid.UUID, processed int) {
	val, _ := s.progressCache.LoadOrStore(batchID, Progress{Status: models.BatchProcessing})
	p := val.(Progress)
	p.ProcessedCount = processed
	s.progressCache.Store(batchID, p)
}

// GetBatchProgress reports progress for imports started by this process.
func (s *ReconciliationService) GetBatchProgress(batchID uuid.UUID) (Progress, bool) {
	val, ok := s.progressCache.Load(batchID)
	if !ok {
		return Progress{}, false
	}
	return val.(Progress), true
}

// MarkBatchCompleted sets batch status to completed
func (s *ReconciliationService) MarkBatchCompleted(ctx context.Context, batchID uuid.UUID, imported, skipped int) error {
	s.progressCache.Store(batchID, Progress{
		ProcessedCount: imported + skipped,
		Total:          imported + skipped,
		Status:         models.BatchCompleted,
	})

	return s.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"imported_count": imported,
			"skipped_count":  skipped,
			"status":         models.BatchCompleted,
			"completed_at":   s.now(),
		}).Error
}

// MarkBatchFailed records that a background import stopped part way.
func (s *ReconciliationService) MarkBatchFailed(ctx context.Context, batchID uuid.UUID, cause error) error {
	val, _ := s.progressCache.LoadOrStore(batchID, Progress{})
	p := val.(Progress)
	p.Status = models.BatchFailed
	s.progressCache.Store(batchID, p)

	telemetry.Logger.Error("Statement import failed",
		zap.String("batch_id", batchID.String()),
		zap.Error(cause),
	)
	return s.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ?", batchID).
		Update("status", models.BatchFailed).Error
}

func (s *ReconciliationService) ListTransactions(ctx context.Context, status, cursor string, limit int) ([]models.BankTransaction, string, bool, error) {
	return s.transactionRepo.ListPage(ctx, status, cursor, limit)
}

func (s *ReconciliationService) GetBatchStats(ctx context.Context, batchID uuid.UUID) (repository.BatchStats, error) {
	return s.transactionRepo.StatsByBatch(ctx, batchID)
}

func (s *ReconciliationService) recordMatch(ctx context.Context, entry *models.MatchAuditLog) {
	entry.ID = uuid.New()
	entry.CreatedAt = s.now()
	if entry.PerformedBy == "" {
		entry.PerformedBy = "system"
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logMatchAuditFailure(entry, err)
	}
}
