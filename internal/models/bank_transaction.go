package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type BankTransactionStatus string

const (
	BankUnreconciled BankTransactionStatus = "Unreconciled"
	BankReconciled   BankTransactionStatus = "Reconciled"
)

// BankTransaction is one statement line. Amount is credit-positive.
type BankTransaction struct {
	ID               uuid.UUID             `json:"id" gorm:"type:uuid;primaryKey"`
	BatchID          *uuid.UUID            `json:"batch_id" gorm:"type:uuid;index"`
	Source           string                `json:"source"`
	TransactionDate  datatypes.Date        `json:"date" gorm:"column:transaction_date"`
	Description      string                `json:"description"`
	Amount           decimal.Decimal       `json:"amount" gorm:"type:decimal(20,4)"`
	Reference        string                `json:"reference"`
	Status           BankTransactionStatus `json:"status" gorm:"index"`
	MatchedPaymentID *uuid.UUID            `json:"matched_payment_id" gorm:"type:uuid"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}
