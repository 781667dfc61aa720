package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/telemetry"
)

// AmountTolerance is the exclusive bound on the difference between two
// amounts that are considered equal.
var AmountTolerance = decimal.New(1, -2)

type Result struct {
	Matches        int `json:"matches"`
	BankMatches    int `json:"bank_matches"`
	InvoiceMatches int `json:"invoice_matches"`
}

// AmountsMatch reports |a - b| < 0.01.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(AmountTolerance)
}

// ReferencesMatch is a case-sensitive substring test in either direction.
// Empty references never match.
func ReferencesMatch(bankRef, paymentRef string) bool {
	if bankRef == "" || paymentRef == "" {
		return false
	}
	return strings.Contains(bankRef, paymentRef) || strings.Contains(paymentRef, bankRef)
}

// InvoiceReferenceMatch reports whether the payment reference carries the
// invoice number, ignoring case.
func InvoiceReferenceMatch(paymentRef, invoiceNumber string) bool {
	if invoiceNumber == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(paymentRef), strings.ToUpper(invoiceNumber))
}

// Reconcile runs the bank pass and then the invoice pass over the current
// state of the store. Payments verified by the bank pass are candidates for
// the invoice pass of the same run.
func (s *ReconciliationService) Reconcile(ctx context.Context) (Result, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "reconciliation.Reconcile")
	defer span.End()

	var res Result

	bank, err := s.matchBankTransactions(ctx)
	res.BankMatches = bank
	res.Matches = bank
	if err != nil {
		return res, fmt.Errorf("bank pass: %w", err)
	}

	invoices, err := s.matchInvoices(ctx)
	res.InvoiceMatches = invoices
	res.Matches += invoices
	if err != nil {
		return res, fmt.Errorf("invoice pass: %w", err)
	}

	telemetry.Logger.Info("Reconciliation finished",
		zap.Int("bank_matches", res.BankMatches),
		zap.Int("invoice_matches", res.InvoiceMatches),
	)
	return res, nil
}

// matchBankTransactions pairs each unreconciled bank line with the first
// AI_Matched payment of equal amount and overlapping reference. A matched
// payment leaves the candidate pool so it cannot take a second line.
//
// The bank line and the payment are two separate writes. If the second one
// fails, the line stays Reconciled against a payment that is still
// AI_Matched; the error is logged and the run carries on.
func (s *ReconciliationService) matchBankTransactions(ctx context.Context) (int, error) {
	txs, err := s.transactionRepo.ListUnreconciled(ctx)
	if err != nil {
		return 0, err
	}
	pool, err := s.paymentRepo.ListByStatus(ctx, models.StatusAIMatched)
	if err != nil {
		return 0, err
	}

	matches := 0
	for _, tx := range txs {
		idx := -1
		for i := range pool {
			p := &pool[i]
			if AmountsMatch(p.Extraction.Amount, tx.Amount) && ReferencesMatch(tx.Reference, p.Extraction.Reference) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		payment := pool[idx]

		if err := s.transactionRepo.MarkReconciled(ctx, tx.ID, payment.ID); err != nil {
			if errors.Is(err, repository.ErrAlreadyReconciled) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return matches, err
		}
		pool = append(pool[:idx], pool[idx+1:]...)

		if _, err := s.verifier.MarkBankVerified(ctx, payment.ID); err != nil {
			telemetry.Logger.Error("Bank line reconciled but payment not verified",
				zap.String("bank_transaction_id", tx.ID.String()),
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err),
			)
		}

		txID := tx.ID
		s.recordMatch(ctx, &models.MatchAuditLog{
			Pass:              models.MatchPassBank,
			PaymentID:         payment.ID,
			BankTransactionID: &txID,
			Amount:            tx.Amount,
			Reason:            fmt.Sprintf("amount %s, reference %q ~ %q", tx.Amount, tx.Reference, payment.Extraction.Reference),
		})
		telemetry.ReconciliationMatches.WithLabelValues(models.MatchPassBank).Inc()
		matches++
	}
	return matches, nil
}

// matchInvoices links each open, unlinked AUTHORISED invoice to the first
// AI_Matched or Bank_Verified payment with the same amount whose reference
// carries the invoice number. Payments already linked to an invoice are not
// candidates.
func (s *ReconciliationService) matchInvoices(ctx context.Context) (int, error) {
	invoices, err := s.invoiceRepo.ListOpenUnlinked(ctx)
	if err != nil {
		return 0, err
	}
	if len(invoices) == 0 {
		return 0, nil
	}

	payments, err := s.paymentRepo.ListByStatus(ctx, models.StatusAIMatched, models.StatusBankVerified)
	if err != nil {
		return 0, err
	}
	linked, err := s.invoiceRepo.LinkedPaymentIDs(ctx)
	if err != nil {
		return 0, err
	}
	pool := payments[:0]
	for _, p := range payments {
		if !linked[p.ID] {
			pool = append(pool, p)
		}
	}

	matches := 0
	for _, inv := range invoices {
		idx := -1
		for i := range pool {
			p := &pool[i]
			if AmountsMatch(inv.AmountDue, p.Extraction.Amount) && InvoiceReferenceMatch(p.Extraction.Reference, inv.InvoiceNumber) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		payment := pool[idx]

		if err := s.invoiceRepo.LinkPayment(ctx, inv.ID, payment.ID); err != nil {
			if errors.Is(err, repository.ErrAlreadyLinked) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return matches, err
		}
		pool = append(pool[:idx], pool[idx+1:]...)

		invID := inv.ID
		s.recordMatch(ctx, &models.MatchAuditLog{
			Pass:      models.MatchPassInvoice,
			PaymentID: payment.ID,
			InvoiceID: &invID,
			Amount:    inv.AmountDue,
			Reason:    fmt.Sprintf("invoice %s in reference %q", inv.InvoiceNumber, payment.Extraction.Reference),
		})
		telemetry.ReconciliationMatches.WithLabelValues(models.MatchPassInvoice).Inc()
		matches++
	}
	return matches, nil
}

func logMatchAuditFailure(entry *models.MatchAuditLog, err error) {
	telemetry.Logger.Warn("Failed to write match audit log",
		zap.String("pass", entry.Pass),
		zap.String("payment_id", entry.PaymentID.String()),
		zap.Error(err),
	)
}
