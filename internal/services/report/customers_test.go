package report

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-reconciliation-backend/internal/models"
)

func payment(sender string, status models.VerificationStatus, amount, payer, ref string, at time.Time) models.Payment {
	return models.Payment{
		ID:                 uuid.New(),
		Source:             models.SourceMetadata{SenderID: sender, ReceivedAt: at},
		Extraction:         models.Extraction{Amount: decimal.RequireFromString(amount), PayerName: payer, Reference: ref},
		VerificationStatus: status,
	}
}

func TestCustomerSummaries(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	payments := []models.Payment{
		payment("2781", models.StatusAIMatched, "100.00", "", "INV-1", base),
		payment("2782", models.StatusBankVerified, "50.00", "", "", base.Add(time.Hour)),
		payment("2781", models.StatusManualFlag, "999.00", "", "", base.Add(2*time.Hour)),
		payment("2781", models.StatusBankVerified, "25.50", "J Smith", "INV-1", base.Add(30*time.Minute)),
		payment("", models.StatusAIMatched, "10.00", "", "", base),
	}

	got := CustomerSummaries(payments)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "2781", first.SenderID)
	assert.Equal(t, "J Smith", first.Name, "payer name replaces a reference placeholder")
	assert.True(t, first.TotalPaid.Equal(decimal.RequireFromString("125.50")), "flagged payments do not count")
	assert.Equal(t, 3, first.PaymentCount)
	assert.Equal(t, base.Add(2*time.Hour), first.LastPaymentAt)
	assert.Len(t, first.PaymentIDs, 3)

	second := got[1]
	assert.Equal(t, "2782", second.Name)
	assert.True(t, second.TotalPaid.Equal(decimal.NewFromInt(50)))
}

func TestCustomerSummariesIsPure(t *testing.T) {
	payments := []models.Payment{
		payment("2781", models.StatusAIMatched, "1.00", "", "", time.Now()),
	}
	a := CustomerSummaries(payments)
	b := CustomerSummaries(payments)
	assert.Equal(t, a, b)
	assert.Empty(t, CustomerSummaries(nil))
}
