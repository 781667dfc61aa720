// Package report builds read-only views over the payment ledger.
package report

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pop-reconciliation-backend/internal/models"
)

type CustomerSummary struct {
	SenderID      string          `json:"sender_id"`
	Name          string          `json:"name"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	PaymentCount  int             `json:"payment_count"`
	LastPaymentAt time.Time       `json:"last_payment_at"`
	PaymentIDs    []uuid.UUID     `json:"payment_ids"`
}

// paid reports whether a payment counts towards a customer's total.
func paid(s models.VerificationStatus) bool {
	return s == models.StatusAIMatched || s == models.StatusBankVerified
}

// CustomerSummaries groups payments by sender, most recent payer first.
// Payments without a sender are left out.
func CustomerSummaries(payments []models.Payment) []CustomerSummary {
	index := make(map[string]*CustomerSummary)
	var order []string

	for i := range payments {
		p := &payments[i]
		sender := p.Source.SenderID
		if sender == "" {
			continue
		}

		c, ok := index[sender]
		if !ok {
			c = &CustomerSummary{SenderID: sender, Name: displayName(p, sender)}
			index[sender] = c
			order = append(order, sender)
		}

		if paid(p.VerificationStatus) {
			c.TotalPaid = c.TotalPaid.Add(p.Extraction.Amount)
		}
		c.PaymentCount++
		c.PaymentIDs = append(c.PaymentIDs, p.ID)
		if p.Source.ReceivedAt.After(c.LastPaymentAt) {
			c.LastPaymentAt = p.Source.ReceivedAt
		}

		// A payer name beats a placeholder taken from the sender or a reference.
		if name := p.Extraction.PayerName; name != "" && (c.Name == sender || c.Name == p.Extraction.Reference) {
			c.Name = name
		}
	}

	out := make([]CustomerSummary, 0, len(order))
	for _, sender := range order {
		out = append(out, *index[sender])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastPaymentAt.After(out[j].LastPaymentAt)
	})
	return out
}

func displayName(p *models.Payment, sender string) string {
	switch {
	case p.Extraction.PayerName != "":
		return p.Extraction.PayerName
	case p.Extraction.Reference != "":
		return p.Extraction.Reference
	default:
		return sender
	}
}
