package statement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	dateColumns = []string{
		"date", "transaction date", "trans date", "posted date",
		"value date", "posting date", "txndate", "transactiondate",
	}
	descriptionColumns = []string{
		"description", "narration", "details", "transaction description",
		"particulars", "memo", "payee",
	}
	amountColumns    = []string{"amount", "value", "total"}
	debitColumns     = []string{"debit", "debit amount", "dr", "money out", "withdrawal"}
	creditColumns    = []string{"credit", "credit amount", "cr", "money in", "deposit"}
	referenceColumns = []string{"reference", "ref", "transaction ref", "trans ref", "id"}
)

type columns map[string]int

func indexColumns(header []string) columns {
	cols := make(columns, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	return cols
}

// isHeader reports whether a row names at least a date and an amount source.
func isHeader(row []string) bool {
	cols := indexColumns(row)
	_, hasDate := cols.find(dateColumns)
	_, hasAmount := cols.find(amountColumns)
	_, hasCredit := cols.find(creditColumns)
	_, hasDebit := cols.find(debitColumns)
	return hasDate && (hasAmount || hasCredit || hasDebit)
}

func (c columns) find(names []string) (int, bool) {
	for _, n := range names {
		if i, ok := c[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func (c columns) get(row []string, names []string) string {
	i, ok := c.find(names)
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// rowsFromTable maps a header plus data rows onto statement rows. Rows with a
// zero or unreadable amount, or an unreadable date, are dropped.
func rowsFromTable(header []string, records [][]string) []Row {
	cols := indexColumns(header)
	today := time.Now().Format("2006-01-02")

	var out []Row
	for _, rec := range records {
		amount, ok := tableAmount(cols, rec)
		if !ok || amount.IsZero() {
			continue
		}

		date := today
		if raw := cols.get(rec, dateColumns); raw != "" {
			iso, err := NormalizeDate(raw)
			if err != nil {
				continue
			}
			date = iso
		}

		description := cols.get(rec, descriptionColumns)
		if description == "" {
			description = cols.get(rec, referenceColumns)
		}
		if description == "" {
			description = "Unknown"
		}

		reference := cols.get(rec, referenceColumns)
		if reference == "" {
			reference = DefaultReference(description)
		}

		out = append(out, Row{
			Date:        date,
			Amount:      amount,
			Description: description,
			Reference:   reference,
		})
	}
	return out
}

func tableAmount(cols columns, rec []string) (decimal.Decimal, bool) {
	if raw := cols.get(rec, amountColumns); raw != "" {
		amount, err := CleanAmount(raw)
		return amount, err == nil
	}

	debitRaw := cols.get(rec, debitColumns)
	creditRaw := cols.get(rec, creditColumns)
	if debitRaw == "" && creditRaw == "" {
		return decimal.Zero, false
	}
	debit, err := CleanAmount(debitRaw)
	if err != nil {
		return decimal.Zero, false
	}
	credit, err := CleanAmount(creditRaw)
	if err != nil {
		return decimal.Zero, false
	}
	return credit.Sub(debit.Abs()), true
}
