package analyzer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gruntyhq/grunty/pkg/models"
)

const (
	// typeSampleRows bounds how many rows are inspected for type inference.
	typeSampleRows = 1000
	// previewRows is how many data rows are kept as a sample.
	previewRows = 11
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"02/01/2006",
	"Jan 2, 2006",
}

// AnalyzeCSV parses CSV content and infers a lightweight structural summary:
// column names with inferred types, total row count, and a small sample of
// rows. Type inference looks at the first typeSampleRows data rows only.
func AnalyzeCSV(content []byte) (*models.CSVAnalysis, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	columns := make([]models.CSVColumn, len(header))
	for i, name := range header {
		columns[i] = models.CSVColumn{Name: strings.TrimSpace(name)}
	}

	// candidates[i] tracks which types column i could still be.
	type candidate struct {
		boolean bool
		number  bool
		date    bool
		seen    bool
	}
	candidates := make([]candidate, len(header))
	for i := range candidates {
		candidates[i] = candidate{boolean: true, number: true, date: true}
	}

	var sample [][]string
	totalRows := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", totalRows+2, err)
		}

		totalRows++

		if len(sample) < previewRows {
			row := make([]string, len(header))
			copy(row, record)
			sample = append(sample, row)
		}

		if totalRows > typeSampleRows {
			continue
		}

		for i := range candidates {
			if i >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[i])
			if value == "" {
				continue
			}
			c := &candidates[i]
			c.seen = true
			if c.boolean && !isBool(value) {
				c.boolean = false
			}
			if c.number && !isNumber(value) {
				c.number = false
			}
			if c.date && !isDate(value) {
				c.date = false
			}
		}
	}

	for i := range columns {
		columns[i].Type = resolveType(candidates[i].seen, candidates[i].boolean, candidates[i].number, candidates[i].date)
	}

	return &models.CSVAnalysis{
		Columns:    columns,
		TotalRows:  totalRows,
		SampleRows: sample,
	}, nil
}

func resolveType(seen, boolean, number, date bool) string {
	if !seen {
		return "string"
	}
	switch {
	case boolean:
		return "boolean"
	case number:
		return "number"
	case date:
		return "date"
	default:
		return "string"
	}
}

func isBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "0", "1":
		return true
	}
	return false
}

func isNumber(value string) bool {
	cleaned := strings.ReplaceAll(value, ",", "")
	_, err := strconv.ParseFloat(cleaned, 64)
	return err == nil
}

func isDate(value string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// Describe renders an analysis as a short text block for prompting.
func Describe(name string, analysis *models.CSVAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s (%d rows)\n", name, analysis.TotalRows)
	b.WriteString("Columns:\n")
	for _, col := range analysis.Columns {
		fmt.Fprintf(&b, "  - %s (%s)\n", col.Name, col.Type)
	}
	if len(analysis.SampleRows) > 0 {
		b.WriteString("Sample rows:\n")
		for _, row := range analysis.SampleRows {
			fmt.Fprintf(&b, "  %s\n", strings.Join(row, ", "))
		}
	}
	return b.String()
}
