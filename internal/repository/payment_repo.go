package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pop-reconciliation-backend/internal/models"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) DB() *gorm.DB {
	return r.db
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByImageHash returns some other payment carrying hash, or nil when there
// is none. Pass uuid.Nil to exclude nothing.
func (r *PaymentRepository) FindByImageHash(ctx context.Context, hash string, excludeID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).
		Where("image_hash = ? AND id <> ?", hash, excludeID).
		Order("created_at ASC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByStatus returns payments in any of the given statuses, oldest first.
func (r *PaymentRepository) ListByStatus(ctx context.Context, statuses ...models.VerificationStatus) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("verification_status IN ?", statuses).
		Order("created_at ASC").
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListRecent(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListAll(ctx context.Context) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&payments).Error
	return payments, err
}

// Patch is a single-record read-modify-write. The row is locked for the
// duration of fn on databases that support SELECT ... FOR UPDATE.
func (r *PaymentRepository) Patch(ctx context.Context, id uuid.UUID, fn func(p *models.Payment) error) (*models.Payment, error) {
	var patched models.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&patched, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(&patched); err != nil {
			return err
		}
		return tx.Save(&patched).Error
	})
	if err != nil {
		return nil, fmt.Errorf("patch payment %s: %w", id, err)
	}
	return &patched, nil
}
