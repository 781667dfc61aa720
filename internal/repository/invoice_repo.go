package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pop-reconciliation-backend/internal/models"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// DB returns the shared handle. Import batches and audit entries have no
// repository of their own and are written through it.
func (r *InvoiceRepository) DB() *gorm.DB {
	return r.db
}

// Upsert writes the provider's view of an invoice keyed on ExternalID. The
// local payment link is never touched by a sync.
func (r *InvoiceRepository) Upsert(ctx context.Context, inv *models.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"invoice_number", "contact_name", "amount_due", "amount_paid",
			"date", "due_date", "status", "currency_code", "updated_at",
		}),
	}).Create(inv).Error
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// List returns invoices, optionally restricted to one provider status.
func (r *InvoiceRepository) List(ctx context.Context, status string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).Model(&models.Invoice{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("date DESC").Find(&invoices).Error
	return invoices, err
}

// ListOpenUnlinked returns AUTHORISED invoices with no payment attached.
func (r *InvoiceRepository) ListOpenUnlinked(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_id IS NULL", models.InvoiceAuthorised).
		Order("created_at ASC").
		Order("id ASC").
		Find(&invoices).Error
	return invoices, err
}

func (r *InvoiceRepository) LinkPayment(ctx context.Context, id, paymentID uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND payment_id IS NULL", id).
		Updates(map[string]interface{}{
			"payment_id": paymentID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyLinked
	}
	return nil
}

// LinkedPaymentIDs is the set of payments already attached to some invoice.
func (r *InvoiceRepository) LinkedPaymentIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("payment_id IS NOT NULL").
		Pluck("payment_id", &ids).Error
	if err != nil {
		return nil, err
	}
	linked := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		linked[id] = true
	}
	return linked, nil
}
