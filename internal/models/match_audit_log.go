package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MatchPassBank    = "bank"
	MatchPassInvoice = "invoice"
	MatchPassManual  = "manual"
)

type MatchAuditLog struct {
	ID                uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	Pass              string          `json:"pass" gorm:"index"`
	PaymentID         uuid.UUID       `json:"payment_id" gorm:"type:uuid;index"`
	BankTransactionID *uuid.UUID      `json:"bank_transaction_id" gorm:"type:uuid"`
	InvoiceID         *uuid.UUID      `json:"invoice_id" gorm:"type:uuid"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:decimal(20,4)"`
	PerformedBy       string          `json:"performed_by"`
	Reason            string          `json:"reason"`
	CreatedAt         time.Time       `json:"created_at"`
}
