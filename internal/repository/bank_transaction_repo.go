package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pop-reconciliation-backend/internal/models"
)

type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

func (r *BankTransactionRepository) Create(ctx context.Context, tx *models.BankTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.Status == "" {
		tx.Status = models.BankUnreconciled
	}
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *BankTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListUnreconciled returns unreconciled lines in insertion order.
func (r *BankTransactionRepository) ListUnreconciled(ctx context.Context) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("status = ?", models.BankUnreconciled).
		Order("created_at ASC").
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}

// FindUnreconciledDuplicate looks for an Unreconciled line with the same date,
// amount and reference. Reconciled lines are deliberately not considered.
func (r *BankTransactionRepository) FindUnreconciledDuplicate(ctx context.Context, date datatypes.Date, amount decimal.Decimal, reference string) (*models.BankTransaction, error) {
	var candidates []models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND reference = ?", models.BankUnreconciled, reference).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		c := &candidates[i]
		if models.SameDate(c.TransactionDate, date) && c.Amount.Equal(amount) {
			return c, nil
		}
	}
	return nil, nil
}

// MarkReconciled links an Unreconciled line to a payment.
func (r *BankTransactionRepository) MarkReconciled(ctx context.Context, id, paymentID uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&models.BankTransaction{}).
		Where("id = ? AND status = ?", id, models.BankUnreconciled).
		Updates(map[string]interface{}{
			"status":             models.BankReconciled,
			"matched_payment_id": paymentID,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyReconciled
	}
	return nil
}

func (r *BankTransactionRepository) DeleteByBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Delete(&models.BankTransaction{})
	return result.RowsAffected, result.Error
}

// ListPage is keyset pagination over id, optionally filtered by status.
func (r *BankTransactionRepository) ListPage(ctx context.Context, status, cursor string, limit int) ([]models.BankTransaction, string, bool, error) {
	var txs []models.BankTransaction
	query := r.db.WithContext(ctx).
		Order("id ASC").
		Limit(limit + 1)

	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}
	if cursor != "" {
		query = query.Where("id > ?", cursor)
	}

	if err := query.Find(&txs).Error; err != nil {
		return nil, "", false, err
	}

	hasMore := false
	var nextCursor string
	if len(txs) > limit {
		hasMore = true
		nextCursor = txs[limit-1].ID.String()
		txs = txs[:limit]
	}

	return txs, nextCursor, hasMore, nil
}

type BatchStats struct {
	Total       int64           `json:"total"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	UnreconciledCount int64           `json:"unreconciled_count"`
	UnreconciledSum   decimal.Decimal `json:"unreconciled_sum"`

	ReconciledCount int64           `json:"reconciled_count"`
	ReconciledSum   decimal.Decimal `json:"reconciled_sum"`
}

type statRow struct {
	Status string
	Count  int64
	Sum    decimal.Decimal
}

func (r *BankTransactionRepository) StatsByBatch(ctx context.Context, batchID uuid.UUID) (BatchStats, error) {
	var stats BatchStats
	var rows []statRow

	err := r.db.WithContext(ctx).Model(&models.BankTransaction{}).
		Where("batch_id = ?", batchID).
		Select("status, COUNT(*) as count, COALESCE(SUM(amount),0) as sum").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}

	for _, row := range rows {
		stats.Total += row.Count
		stats.TotalAmount = stats.TotalAmount.Add(row.Sum)

		switch models.BankTransactionStatus(row.Status) {
		case models.BankUnreconciled:
			stats.UnreconciledCount = row.Count
			stats.UnreconciledSum = row.Sum
		case models.BankReconciled:
			stats.ReconciledCount = row.Count
			stats.ReconciledSum = row.Sum
		}
	}

	return stats, nil
}
