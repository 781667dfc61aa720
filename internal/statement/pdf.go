package statement

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// A PDF statement line starts with a date and ends with the amount, optionally
// followed by a running balance. Whatever sits between is the description.
var pdfLineRe = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4}|\d{2}-\d{2}-\d{4})\s+(.+?)\s+(\(?-?[R$€£]?-?\d[\d,.]*\)?-?)(?:\s+-?[R$€£]?-?\d[\d,.]*)?$`,
)

type PDFParser struct{}

func (p *PDFParser) Normalize(data []byte) ([]Row, error) {
	content, err := readPDFText(data)
	if err != nil {
		return nil, err
	}
	return parseStatementText(content), nil
}

func parseStatementText(content string) []Row {
	var out []Row
	for _, line := range strings.Split(content, "\n") {
		m := pdfLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		date, err := NormalizeDate(m[1])
		if err != nil {
			continue
		}
		amount, err := CleanAmount(m[3])
		if err != nil || amount.IsZero() {
			continue
		}
		description := strings.TrimSpace(m[2])
		out = append(out, Row{
			Date:        date,
			Amount:      amount,
			Description: description,
			Reference:   DefaultReference(description),
		})
	}
	return out
}

func readPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var buf bytes.Buffer
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, _ := p.GetPlainText(nil)
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}
