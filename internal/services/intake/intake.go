// Package intake turns inbound proof-of-payment images into payments and
// runs the two analysis stages against them.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/forensics"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/storage"
	"pop-reconciliation-backend/internal/telemetry"
)

var ErrEmptyImage = errors.New("image is empty")

type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) verification.ExtractionResult
}

type ForensicAnalyzer interface {
	Analyze(ctx context.Context, paymentID uuid.UUID, image []byte) (verification.ForensicsResult, error)
}

type Submission struct {
	Image    []byte
	MimeType string
	Source   models.SourceMetadata
}

type Service struct {
	payments  *repository.PaymentRepository
	verifier  *verification.Service
	blobs     storage.BlobStore
	extractor Extractor
	scorer    ForensicAnalyzer
	guard     MessageGuard
	media     MediaFetcher

	wg  sync.WaitGroup
	now func() time.Time
}

func NewService(
	payments *repository.PaymentRepository,
	verifier *verification.Service,
	blobs storage.BlobStore,
	extractor Extractor,
	scorer ForensicAnalyzer,
	guard MessageGuard,
	media MediaFetcher,
) *Service {
	if guard == nil {
		guard = NewMemoryGuard(MessageTTL)
	}
	return &Service{
		payments:  payments,
		verifier:  verifier,
		blobs:     blobs,
		extractor: extractor,
		scorer:    scorer,
		guard:     guard,
		media:     media,
		now:       time.Now,
	}
}

// CreatePayment stores the image and inserts a payment for it. A payment
// whose image hash is already on file is born Flagged_Duplicate.
func (s *Service) CreatePayment(ctx context.Context, sub Submission) (*models.Payment, error) {
	if len(sub.Image) == 0 {
		return nil, ErrEmptyImage
	}

	hash := forensics.Hash(sub.Image)
	existing, err := s.payments.FindByImageHash(ctx, hash, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}

	id := uuid.New()
	key := storage.Key(hash, id, storage.ExtensionFor(sub.MimeType))
	if err := s.blobs.Put(ctx, key, sub.Image); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	if sub.Source.ReceivedAt.IsZero() {
		sub.Source.ReceivedAt = s.now()
	}
	p := &models.Payment{
		ID:                 id,
		ImageHash:          &hash,
		BlobKey:            key,
		Source:             sub.Source,
		VerificationStatus: models.StatusPending,
	}
	if existing != nil {
		p.VerificationStatus = models.StatusFlaggedDuplicate
		telemetry.Logger.Warn("Duplicate proof of payment",
			zap.String("payment_id", id.String()),
			zap.String("original_payment_id", existing.ID.String()),
			zap.String("image_hash", hash),
		)
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

// Analyze runs extraction and forensics concurrently and hands each result
// to the state machine as soon as it is ready. One stage failing does not
// stop the other. Duplicates are not analyzed.
func (s *Service) Analyze(ctx context.Context, p *models.Payment, image []byte, mimeType string) error {
	if p.VerificationStatus == models.StatusFlaggedDuplicate {
		return nil
	}

	ctx, span := telemetry.Tracer.Start(ctx, "intake.Analyze")
	defer span.End()

	var g errgroup.Group
	g.Go(func() error {
		res := s.extractor.Extract(ctx, image, mimeType)
		if _, err := s.verifier.CompleteExtraction(ctx, p.ID, res); err != nil {
			return fmt.Errorf("extraction: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		res, err := s.scorer.Analyze(ctx, p.ID, image)
		if err != nil {
			telemetry.Logger.Warn("Forensics failed",
				zap.String("payment_id", p.ID.String()),
				zap.Error(err),
			)
			return nil
		}
		if _, err := s.verifier.CompleteForensics(ctx, p.ID, res); err != nil {
			return fmt.Errorf("forensics: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Submit creates the payment and analyzes it in the background. The caller
// gets the payment as created, before either stage has reported.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Payment, error) {
	p, err := s.CreatePayment(ctx, sub)
	if err != nil {
		return nil, err
	}

	created := *p
	s.background(ctx, func(ctx context.Context) error {
		return s.Analyze(ctx, &created, sub.Image, sub.MimeType)
	})
	return p, nil
}

// HandleMessage processes one chat message end to end. Non-image messages
// and redeliveries are ignored.
func (s *Service) HandleMessage(ctx context.Context, msg InboundMessage) error {
	if msg.Type != MessageTypeImage || msg.MediaID == "" {
		return nil
	}

	first, err := s.guard.FirstDelivery(ctx, msg.MessageID)
	if err != nil {
		telemetry.Logger.Warn("Message guard unavailable, processing anyway",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
		first = true
	}
	if !first {
		telemetry.Logger.Info("Ignoring redelivered message", zap.String("message_id", msg.MessageID))
		return nil
	}

	p, media, err := s.fetchAndCreate(ctx, msg)
	if err != nil {
		s.releaseMessage(ctx, msg.MessageID)
		return err
	}

	telemetry.Logger.Info("Payment received",
		zap.String("payment_id", p.ID.String()),
		zap.String("message_id", msg.MessageID),
		zap.String("status", string(p.VerificationStatus)),
	)
	return s.Analyze(ctx, p, media.Data, media.MimeType)
}

// fetchAndCreate downloads the message's image and creates its payment.
func (s *Service) fetchAndCreate(ctx context.Context, msg InboundMessage) (*models.Payment, *Media, error) {
	if s.media == nil {
		return nil, nil, fmt.Errorf("no media client configured")
	}
	media, err := s.media.Fetch(ctx, msg.MediaID)
	if err != nil {
		return nil, nil, err
	}
	if media.MimeType == "" {
		media.MimeType = msg.MimeType
	}

	p, err := s.CreatePayment(ctx, Submission{
		Image:    media.Data,
		MimeType: media.MimeType,
		Source: models.SourceMetadata{
			ChannelID:  msg.ChannelID,
			MessageID:  msg.MessageID,
			SenderID:   msg.SenderID,
			ReceivedAt: msg.ReceivedAt,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return p, media, nil
}

func (s *Service) releaseMessage(ctx context.Context, messageID string) {
	if err := s.guard.Release(ctx, messageID); err != nil {
		telemetry.Logger.Warn("Failed to release message id",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

// Dispatch handles every message of a webhook delivery in the background so
// the delivery can be acknowledged at once.
func (s *Service) Dispatch(ctx context.Context, payload WebhookPayload) int {
	messages := payload.Messages(s.now())
	for _, msg := range messages {
		msg := msg
		s.background(ctx, func(ctx context.Context) error {
			return s.HandleMessage(ctx, msg)
		})
	}
	return len(messages)
}

// Wait blocks until background work started by Submit and Dispatch is done.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) background(ctx context.Context, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(ctx); err != nil {
			telemetry.Logger.Error("Background intake failed", zap.Error(err))
		}
	}()
}
