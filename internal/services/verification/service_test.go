package verification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-reconciliation-backend/internal/events"
	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/testutil"
)

func setupService(t *testing.T) (*Service, *repository.PaymentRepository, *events.Recorder) {
	db := testutil.NewTestDB(t)
	payments := repository.NewPaymentRepository(db)
	recorder := &events.Recorder{}
	svc := NewService(payments, recorder).WithClock(func() time.Time { return now })
	return svc, payments, recorder
}

func TestServicePersistsBothStages(t *testing.T) {
	svc, payments, recorder := setupService(t)
	ctx := context.Background()

	p := &models.Payment{VerificationStatus: models.StatusPending}
	require.NoError(t, payments.Create(ctx, p))

	_, err := svc.CompleteExtraction(ctx, p.ID, extraction("100.00", "INV-001", 95, daysAgo(1)))
	require.NoError(t, err)
	_, err = svc.CompleteForensics(ctx, p.ID, forensics(0))
	require.NoError(t, err)

	stored, err := payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAIMatched, stored.VerificationStatus)
	assert.Equal(t, "100", stored.Extraction.Amount.String())
	assert.Equal(t, "INV-001", stored.Extraction.Reference)
	assert.Equal(t, models.RiskLow, stored.Fraud.RiskLevel)
	require.NotNil(t, stored.ImageHash)
	assert.Equal(t, "abc", *stored.ImageHash)

	evs := recorder.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, string(models.StatusPending), evs[0].PreviousState)
	assert.Equal(t, string(models.StatusManualFlag), evs[0].State)
	assert.Equal(t, string(models.StatusAIMatched), evs[1].State)
	assert.Equal(t, p.ID.String(), evs[1].PaymentID)
}

func TestServiceUnknownPayment(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.CompleteExtraction(context.Background(), uuid.New(), extraction("1", "x", 90, daysAgo(1)))
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = svc.MarkBankVerified(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMarkBankVerified(t *testing.T) {
	svc, payments, recorder := setupService(t)
	ctx := context.Background()

	ok := &models.Payment{VerificationStatus: models.StatusAIMatched}
	dup := &models.Payment{VerificationStatus: models.StatusFlaggedDuplicate}
	require.NoError(t, payments.Create(ctx, ok))
	require.NoError(t, payments.Create(ctx, dup))

	p, err := svc.MarkBankVerified(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBankVerified, p.VerificationStatus)

	_, err = svc.MarkBankVerified(ctx, dup.ID)
	assert.ErrorIs(t, err, ErrDuplicatePayment)

	stored, err := payments.GetByID(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFlaggedDuplicate, stored.VerificationStatus)
	assert.Len(t, recorder.Events(), 1)

	// A late extraction cannot move a bank-verified payment.
	p, err = svc.CompleteExtraction(ctx, ok.ID, extraction("0", "", 0, nil))
	require.NoError(t, err)
	assert.Equal(t, models.StatusBankVerified, p.VerificationStatus)
}
