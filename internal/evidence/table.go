package evidence

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// FinancialTableExtractor produces claims from CSV financial disclosures
// (reserve attestations, collateral schedules, NAV reports). Each data cell
// becomes one "header = value" claim with a row:col cell locator, preserving
// row-major document order.
type FinancialTableExtractor struct{}

func (e *FinancialTableExtractor) Extract(name string, content []byte) ([]Claim, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1 // ragged rows are tolerated; cells keep their position
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil // header-only or empty: zero claims
	}

	header := records[0]
	var claims []Claim
	for row := 1; row < len(records); row++ {
		for col, cell := range records[row] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			key := fmt.Sprintf("col%d", col+1)
			if col < len(header) && strings.TrimSpace(header[col]) != "" {
				key = strings.TrimSpace(header[col])
			}
			claims = append(claims, Claim{
				Text: fmt.Sprintf("%s = %s", key, cell),
				Loc:  Locator{File: name, Cell: fmt.Sprintf("%d:%d", row+1, col+1)},
			})
		}
	}
	return claims, nil
}

// ReportTextExtractor produces claims from free-form report prose (auditor
// reports, disclosures, risk summaries). Every non-empty line is a claim:
// downstream triggers filter by term, the extractor does not pre-judge
// relevance.
type ReportTextExtractor struct{}

func (e *ReportTextExtractor) Extract(name string, content []byte) ([]Claim, error) {
	var claims []Claim
	for i, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		claims = append(claims, Claim{
			Text: line,
			Loc:  Locator{File: name, Line: i + 1},
		})
	}
	return claims, nil
}
