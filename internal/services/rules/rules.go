// Package rules holds the deterministic business checks run over an
// extraction before a payment can be auto-matched.
package rules

import (
	"time"

	"pop-reconciliation-backend/internal/models"
)

const (
	FlagMissingAmount    = "Missing Amount"
	FlagMissingDate      = "Missing Date"
	FlagMissingReference = "Missing Reference"
	FlagFutureDate       = "Future Date Detected"
	FlagStaleDate        = "Date is older than 60 days"
)

// FutureSkew is how far ahead of now a payment date may be before it is
// treated as a future date.
const FutureSkew = 24 * time.Hour

const staleDays = 60

// Validate returns the rule flags raised by e, in a fixed order. An empty
// result means every rule passed.
func Validate(e models.Extraction, now time.Time) []string {
	var flags []string

	if e.Amount.IsZero() {
		flags = append(flags, FlagMissingAmount)
	}
	if e.Date == nil {
		flags = append(flags, FlagMissingDate)
	}
	if e.Reference == "" {
		flags = append(flags, FlagMissingReference)
	}

	if e.Date != nil {
		paid := time.Time(*e.Date)
		if paid.After(now.Add(FutureSkew)) {
			flags = append(flags, FlagFutureDate)
		}
		if paid.Before(now.AddDate(0, 0, -staleDays)) {
			flags = append(flags, FlagStaleDate)
		}
	}

	return flags
}
