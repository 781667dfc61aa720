package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pop-reconciliation-backend/internal/events"
	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/telemetry"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("payment is flagged as a duplicate")
)

// Service persists stage results through the state machine. Each update is a
// locked read-modify-write of one payment row.
type Service struct {
	payments  *repository.PaymentRepository
	publisher events.Publisher
	now       func() time.Time
}

func NewService(payments *repository.PaymentRepository, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &Service{
		payments:  payments,
		publisher: publisher,
		now:       time.Now,
	}
}

// WithClock overrides the time source used for rule checks and stage stamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CompleteExtraction(ctx context.Context, id uuid.UUID, r ExtractionResult) (*models.Payment, error) {
	return s.patch(ctx, id, func(p *models.Payment) error {
		ApplyExtraction(p, r, s.now())
		return nil
	})
}

func (s *Service) CompleteForensics(ctx context.Context, id uuid.UUID, r ForensicsResult) (*models.Payment, error) {
	return s.patch(ctx, id, func(p *models.Payment) error {
		ApplyForensics(p, r, s.now())
		return nil
	})
}

// MarkBankVerified moves a payment to Bank_Verified. Duplicates are refused.
func (s *Service) MarkBankVerified(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.patch(ctx, id, func(p *models.Payment) error {
		if p.VerificationStatus == models.StatusFlaggedDuplicate {
			return ErrDuplicatePayment
		}
		p.VerificationStatus = models.StatusBankVerified
		return nil
	})
}

func (s *Service) patch(ctx context.Context, id uuid.UUID, fn func(p *models.Payment) error) (*models.Payment, error) {
	var previous models.VerificationStatus
	p, err := s.payments.Patch(ctx, id, func(p *models.Payment) error {
		previous = p.VerificationStatus
		return fn(p)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if p.VerificationStatus != previous {
		s.statusChanged(ctx, p, previous)
	}
	return p, nil
}

func (s *Service) statusChanged(ctx context.Context, p *models.Payment, previous models.VerificationStatus) {
	telemetry.StatusTransitions.WithLabelValues(string(previous), string(p.VerificationStatus)).Inc()

	ev := events.StatusChanged{
		PaymentID:     p.ID.String(),
		State:         string(p.VerificationStatus),
		PreviousState: string(previous),
		Timestamp:     s.now(),
	}
	if err := s.publisher.PublishStatusChanged(ctx, ev); err != nil {
		telemetry.Logger.Warn("Failed to publish status change",
			zap.String("payment_id", ev.PaymentID),
			zap.Error(err),
		)
	}
}
