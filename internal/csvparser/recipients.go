package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"PulseCampaign/internal/models"
)

// DefaultMaxRows caps an import when the caller passes no limit.
const DefaultMaxRows = 10000

// Columns names the header cells to read. Matching is case-insensitive;
// Name and DOB are optional.
type Columns struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	DOB   string `json:"dob"`
}

func (c Columns) withDefaults() Columns {
	if strings.TrimSpace(c.Email) == "" {
		c.Email = "email"
	}
	return c
}

// ParseRecipients reads a CSV with a header row into recipients. Rows
// without a valid-looking address are skipped, duplicates by email keep the
// first occurrence and unparsable birth dates are dropped.
//
// maxRows limits how many data rows are read (excluding header).
func ParseRecipients(r io.Reader, cols Columns, maxRows int) ([]models.Recipient, error) {
	cols = cols.withDefaults()

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, err
	}

	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	emailIdx := columnIndex(normalized, cols.Email)
	if emailIdx == -1 {
		return nil, fmt.Errorf("column %q not found, available columns: %s", cols.Email, strings.Join(headers, ", "))
	}
	nameIdx := columnIndex(normalized, cols.Name)
	dobIdx := columnIndex(normalized, cols.DOB)

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	var rows []models.Recipient
	for read := 0; read < maxRows; read++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		address := field(record, emailIdx)
		if !ValidAddress(address) {
			continue
		}

		rec := models.Recipient{
			Email: address,
			Name:  field(record, nameIdx),
		}
		if raw := field(record, dobIdx); raw != "" {
			if dob, ok := ParseDOB(raw); ok {
				rec.DOB = &dob
			}
		}

		rows = append(rows, rec)
	}

	return Dedupe(rows), nil
}

func columnIndex(normalized []string, name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return -1
	}
	for i, h := range normalized {
		if h == name {
			return i
		}
	}
	return -1
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
