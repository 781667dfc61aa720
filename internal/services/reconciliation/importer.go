package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/statement"
	"pop-reconciliation-backend/internal/telemetry"
)

const (
	SourceSimulated = "simulated"
	SourceManual    = "manual"
	SourceUpload    = "file_upload"
)

const (
	outcomeImported  = "imported"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
)

var ErrAlreadyReconciled = repository.ErrAlreadyReconciled

type ImportResult struct {
	BatchID uuid.UUID `json:"batch_id"`
	Count   int       `json:"count"`
	Skipped int       `json:"skipped"`
	Invalid int       `json:"invalid"`
}

// ImportTransactions inserts statement rows under a new batch. A row is
// skipped when an Unreconciled line with the same date, amount and reference
// already exists. Reconciled lines do not block a re-import.
func (s *ReconciliationService) ImportTransactions(ctx context.Context, source, filename string, rows []statement.Row) (*ImportResult, error) {
	batch, err := s.CreateBatch(ctx, source, filename, len(rows))
	if err != nil {
		return nil, err
	}
	return s.ImportRows(ctx, batch, rows)
}

// ImportRows fills a batch created by CreateBatch. Progress is visible
// through GetBatchProgress while it runs.
func (s *ReconciliationService) ImportRows(ctx context.Context, batch *models.ImportBatch, rows []statement.Row) (*ImportResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "reconciliation.ImportRows")
	defer span.End()

	res := &ImportResult{BatchID: batch.ID}
	for i, row := range rows {
		outcome, err := s.importRow(ctx, batch, row)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeImported:
			res.Count++
		case outcomeDuplicate:
			res.Skipped++
		case outcomeInvalid:
			res.Invalid++
			telemetry.Logger.Warn("Skipping statement row with bad date",
				zap.String("batch_id", batch.ID.String()),
				zap.Int("row", i),
				zap.String("date", row.Date),
			)
		}
		telemetry.ImportedRows.WithLabelValues(outcome).Inc()
		s.UpdateBatchProgressCache(batch.ID, i+1)
	}

	if err := s.MarkBatchCompleted(ctx, batch.ID, res.Count, res.Skipped+res.Invalid); err != nil {
		return res, err
	}

	telemetry.Logger.Info("Statement imported",
		zap.String("batch_id", batch.ID.String()),
		zap.String("source", batch.Source),
		zap.Int(outcomeImported, res.Count),
		zap.Int("skipped", res.Skipped),
		zap.Int(outcomeInvalid, res.Invalid),
	)
	return res, nil
}

// ImportInBackground runs ImportRows for a created batch on its own
// goroutine. A failed import marks the batch failed.
func (s *ReconciliationService) ImportInBackground(ctx context.Context, batch *models.ImportBatch, rows []statement.Row) {
	ctx = context.WithoutCancel(ctx)
	s.imports.Add(1)
	go func() {
		defer s.imports.Done()
		if _, err := s.ImportRows(ctx, batch, rows); err != nil {
			if markErr := s.MarkBatchFailed(ctx, batch.ID, err); markErr != nil {
				telemetry.Logger.Error("Failed to mark import batch failed",
					zap.String("batch_id", batch.ID.String()),
					zap.Error(markErr),
				)
			}
		}
	}()
}

// Wait blocks until imports started by ImportInBackground are done.
func (s *ReconciliationService) Wait() {
	s.imports.Wait()
}

func (s *ReconciliationService) importRow(ctx context.Context, batch *models.ImportBatch, row statement.Row) (string, error) {
	date, err := models.ParseDate(row.Date)
	if err != nil {
		return outcomeInvalid, nil
	}

	dup, err := s.transactionRepo.FindUnreconciledDuplicate(ctx, date, row.Amount, row.Reference)
	if err != nil {
		return "", fmt.Errorf("duplicate check: %w", err)
	}
	if dup != nil {
		return outcomeDuplicate, nil
	}

	batchID := batch.ID
	tx := &models.BankTransaction{
		BatchID:         &batchID,
		Source:          batch.Source,
		TransactionDate: date,
		Description:     row.Description,
		Amount:          row.Amount,
		Reference:       row.Reference,
		Status:          models.BankUnreconciled,
	}
	if err := s.transactionRepo.Create(ctx, tx); err != nil {
		return "", fmt.Errorf("insert bank transaction: %w", err)
	}
	return outcomeImported, nil
}

// UndoImport deletes every bank line of a batch, reconciled or not.
func (s *ReconciliationService) UndoImport(ctx context.Context, batchID uuid.UUID) (int64, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return 0, err
	}

	deleted, err := s.transactionRepo.DeleteByBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("delete batch rows: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ?", batchID).
		Update("status", models.BatchUndone).Error
	if err != nil {
		return deleted, err
	}
	s.progressCache.Delete(batchID)
	return deleted, nil
}

// SimulateBankTransaction inserts a line shaped like an instant transfer
// notification. A nil date means today.
func (s *ReconciliationService) SimulateBankTransaction(ctx context.Context, amount decimal.Decimal, reference string, date *datatypes.Date) (*models.BankTransaction, error) {
	d := models.NewDate(s.now())
	if date != nil {
		d = *date
	}
	tx := &models.BankTransaction{
		Source:          SourceSimulated,
		TransactionDate: d,
		Description:     fmt.Sprintf("INSTANT TRF FROM: %s / 123456", reference),
		Amount:          amount,
		Reference:       reference,
		Status:          models.BankUnreconciled,
	}
	if err := s.transactionRepo.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ManualMatch lets an operator link a bank line to a payment the matcher
// missed. Duplicate payments are refused.
func (s *ReconciliationService) ManualMatch(ctx context.Context, bankTxnID, paymentID uuid.UUID, performedBy string) (*models.BankTransaction, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", verification.ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return nil, err
	}
	if payment.VerificationStatus == models.StatusFlaggedDuplicate {
		return nil, verification.ErrDuplicatePayment
	}

	if err := s.transactionRepo.MarkReconciled(ctx, bankTxnID, paymentID); err != nil {
		return nil, err
	}
	if _, err := s.verifier.MarkBankVerified(ctx, paymentID); err != nil {
		return nil, err
	}

	tx, err := s.transactionRepo.GetByID(ctx, bankTxnID)
	if err != nil {
		return nil, err
	}

	txID := tx.ID
	s.recordMatch(ctx, &models.MatchAuditLog{
		Pass:              models.MatchPassManual,
		PaymentID:         paymentID,
		BankTransactionID: &txID,
		Amount:            tx.Amount,
		PerformedBy:       performedBy,
		Reason:            "manual match",
	})
	telemetry.ReconciliationMatches.WithLabelValues(models.MatchPassManual).Inc()
	return tx, nil
}
