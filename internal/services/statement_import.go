package services

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizbooks/backend/internal/models"
)

const defaultDateLayout = "2006-01-02"

// parsedStatementLine is one row of a bank export after column mapping.
type parsedStatementLine struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Reference   string
}

// parseStatement tokenizes raw delimited bank-export text and applies
// the column mapping. Bank export layouts vary, so the mapping decides
// which column holds which field; the mapping layer is where malformed
// input surfaces as ErrInvalidColumnMapping.
func parseStatement(content string, mapping models.ColumnMapping) ([]parsedStatementLine, error) {
	// An omitted mapping decodes to the zero value. All three required
	// fields pointing at column 0 is not a real layout, so treat it as
	// the conventional date,amount,description export.
	if mapping.DateColumn == 0 && mapping.AmountColumn == 0 && mapping.DescriptionColumn == 0 {
		mapping.AmountColumn = 1
		mapping.DescriptionColumn = 2
		if mapping.ReferenceColumn == 0 {
			mapping.ReferenceColumn = -1
		}
	}
	if mapping.DateColumn < 0 || mapping.AmountColumn < 0 || mapping.DescriptionColumn < 0 {
		return nil, fmt.Errorf("%w: date, amount and description columns are required", ErrInvalidColumnMapping)
	}

	delimiter := ','
	if mapping.Delimiter != "" {
		runes := []rune(mapping.Delimiter)
		if len(runes) != 1 {
			return nil, fmt.Errorf("%w: delimiter must be a single character", ErrInvalidColumnMapping)
		}
		delimiter = runes[0]
	}
	layout := mapping.DateLayout
	if layout == "" {
		layout = defaultDateLayout
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidColumnMapping, err)
	}
	if mapping.SkipHeader && len(records) > 0 {
		records = records[1:]
	}

	maxColumn := mapping.DateColumn
	if mapping.AmountColumn > maxColumn {
		maxColumn = mapping.AmountColumn
	}
	if mapping.DescriptionColumn > maxColumn {
		maxColumn = mapping.DescriptionColumn
	}
	if mapping.ReferenceColumn > maxColumn {
		maxColumn = mapping.ReferenceColumn
	}

	lines := make([]parsedStatementLine, 0, len(records))
	for i, record := range records {
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		if len(record) <= maxColumn {
			return nil, fmt.Errorf("%w: row %d has %d columns, mapping needs %d",
				ErrInvalidColumnMapping, i+1, len(record), maxColumn+1)
		}

		date, err := time.Parse(layout, strings.TrimSpace(record[mapping.DateColumn]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: bad date %q", ErrInvalidColumnMapping, i+1, record[mapping.DateColumn])
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(record[mapping.AmountColumn]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: bad amount %q", ErrInvalidColumnMapping, i+1, record[mapping.AmountColumn])
		}

		line := parsedStatementLine{
			Date:        date,
			Amount:      amount,
			Description: strings.TrimSpace(record[mapping.DescriptionColumn]),
		}
		if mapping.ReferenceColumn >= 0 {
			line.Reference = strings.TrimSpace(record[mapping.ReferenceColumn])
		}
		lines = append(lines, line)
	}

	return lines, nil
}
