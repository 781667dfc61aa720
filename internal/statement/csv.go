package statement

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

const headerScanRows = 20

type CSVParser struct{}

func (p *CSVParser) Normalize(data []byte) ([]Row, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	if isStandardBank(records) {
		return standardBankRows(records), nil
	}

	for i := 0; i < len(records) && i < headerScanRows; i++ {
		if isHeader(records[i]) {
			return rowsFromTable(records[i], records[i+1:]), nil
		}
	}
	return nil, fmt.Errorf("could not find a statement header with date and amount columns")
}

// sniffDelimiter picks the most frequent candidate separator on the first
// non-empty line.
func sniffDelimiter(data []byte) rune {
	line := ""
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}

	best, bestCount := ',', strings.Count(line, ",")
	for _, c := range []rune{';', '\t', '|'} {
		if n := strings.Count(line, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// Standard Bank exports are header-less: HIST, yyyymmdd, branch, amount,
// description, extra description.
func isStandardBank(records [][]string) bool {
	for _, row := range records {
		if len(row) > 0 && row[0] == "HIST" {
			return true
		}
	}
	return false
}

func standardBankRows(records [][]string) []Row {
	var out []Row
	for _, row := range records {
		if len(row) < 5 || row[0] != "HIST" {
			continue
		}
		date, err := NormalizeDate(row[1])
		if err != nil {
			continue
		}
		amount, err := CleanAmount(row[3])
		if err != nil || amount.IsZero() {
			continue
		}
		description := strings.TrimSpace(row[4])
		if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
			description += " " + strings.TrimSpace(row[5])
		}
		out = append(out, Row{
			Date:        date,
			Amount:      amount,
			Description: description,
			Reference:   DefaultReference(description),
		})
	}
	return out
}
