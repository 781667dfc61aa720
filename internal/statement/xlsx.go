package statement

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

type XLSXParser struct{}

func (p *XLSXParser) Normalize(data []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		if isHeader(rows[i]) {
			return rowsFromTable(rows[i], rows[i+1:]), nil
		}
	}
	return nil, fmt.Errorf("could not find a statement header in sheet %q", sheets[0])
}
