// Package statement turns uploaded bank statements into normalized rows for
// the import deduplicator.
package statement

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pop-reconciliation-backend/internal/models"
)

// Row is one normalized statement line. Amount is credit-positive.
type Row struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

// Normalizer defines the interface for the different statement formats.
type Normalizer interface {
	Normalize(data []byte) ([]Row, error)
}

// ForFilename picks a parser from the file extension.
func ForFilename(name string) (Normalizer, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return &CSVParser{}, nil
	case ".xlsx":
		return &XLSXParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported statement format %q", filepath.Ext(name))
	}
}

const referenceLen = 20

// DefaultReference is used when a statement has no reference column.
func DefaultReference(description string) string {
	r := []rune(strings.TrimSpace(description))
	if len(r) > referenceLen {
		r = r[:referenceLen]
	}
	return string(r)
}

var (
	currencyRe = regexp.MustCompile(`[^\d,\.\-]`)
	parensRe   = regexp.MustCompile(`^\((.+)\)$`)
	compactRe  = regexp.MustCompile(`^\d{8}$`)
)

// CleanAmount parses a locale-formatted amount such as "R 1,234.56",
// "1.234,56", "(50.00)" or "-12". An empty or dash value is zero.
func CleanAmount(amountStr string) (decimal.Decimal, error) {
	s := strings.TrimSpace(amountStr)
	if s == "" || s == "-" || strings.EqualFold(s, "nan") {
		return decimal.Zero, nil
	}

	negative := false
	if m := parensRe.FindStringSubmatch(s); m != nil {
		negative = true
		s = m[1]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}

	clean := currencyRe.ReplaceAllString(s, "")
	if strings.HasPrefix(clean, "-") {
		negative = !negative
		clean = strings.TrimPrefix(clean, "-")
	}
	if clean == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", amountStr)
	}

	lastComma := strings.LastIndex(clean, ",")
	lastDot := strings.LastIndex(clean, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The separator that comes last is the decimal one.
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		// "1,500" groups thousands, "12,50" is a decimal comma.
		if strings.Count(clean, ",") == 1 && len(clean)-lastComma-1 != 3 {
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case strings.Count(clean, ".") > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	val, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", amountStr, err)
	}
	if negative {
		val = val.Neg()
	}
	return val, nil
}

// NormalizeDate returns s as an ISO-8601 calendar date.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if compactRe.MatchString(s) {
		t, err := time.Parse("20060102", s)
		if err != nil {
			return "", err
		}
		return t.Format("2006-01-02"), nil
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return "", err
	}
	return time.Time(d).Format("2006-01-02"), nil
}
