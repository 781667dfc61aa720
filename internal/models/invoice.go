package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceAuthorised is the only provider status the matcher acts on.
const InvoiceAuthorised = "AUTHORISED"

type Invoice struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	ExternalID    string          `json:"external_id" gorm:"uniqueIndex"`
	InvoiceNumber string          `json:"invoice_number" gorm:"index"`
	ContactName   string          `json:"contact_name"`
	AmountDue     decimal.Decimal `json:"amount_due" gorm:"type:decimal(20,4)"`
	AmountPaid    decimal.Decimal `json:"amount_paid" gorm:"type:decimal(20,4)"`
	Date          datatypes.Date  `json:"date"`
	DueDate       datatypes.Date  `json:"due_date"`
	Status        string          `json:"status" gorm:"index"`
	CurrencyCode  string          `json:"currency_code"`
	PaymentID     *uuid.UUID      `json:"payment_id" gorm:"type:uuid;index"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
