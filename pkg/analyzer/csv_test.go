package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeCSVTypeInference(t *testing.T) {
	content := []byte(`name,amount,signup_date,active
Alice,"1,200.50",2024-01-15,true
Bob,87,2024-02-03,false
Carol,-3.5,2024-03-21,yes
`)

	analysis, err := AnalyzeCSV(content)
	require.NoError(t, err)

	require.Len(t, analysis.Columns, 4)
	assert.Equal(t, "name", analysis.Columns[0].Name)
	assert.Equal(t, "string", analysis.Columns[0].Type)
	assert.Equal(t, "number", analysis.Columns[1].Type)
	assert.Equal(t, "date", analysis.Columns[2].Type)
	assert.Equal(t, "boolean", analysis.Columns[3].Type)

	assert.Equal(t, 3, analysis.TotalRows)
	assert.Len(t, analysis.SampleRows, 3)
}

func TestAnalyzeCSVBooleanBeatsNumber(t *testing.T) {
	// 0/1 columns read as boolean, not number.
	content := []byte("flag\n0\n1\n1\n0\n")

	analysis, err := AnalyzeCSV(content)
	require.NoError(t, err)
	assert.Equal(t, "boolean", analysis.Columns[0].Type)
}

func TestAnalyzeCSVMixedColumnFallsBackToString(t *testing.T) {
	content := []byte("value\n42\nhello\n2024-01-01\n")

	analysis, err := AnalyzeCSV(content)
	require.NoError(t, err)
	assert.Equal(t, "string", analysis.Columns[0].Type)
}

func TestAnalyzeCSVEmptyValuesIgnored(t *testing.T) {
	// Blank cells do not disqualify a type.
	content := []byte("amount\n10\n\n20\n")

	analysis, err := AnalyzeCSV(content)
	require.NoError(t, err)
	assert.Equal(t, "number", analysis.Columns[0].Type)
}

func TestAnalyzeCSVAllEmptyColumnIsString(t *testing.T) {
	content := []byte("a,b\n1,\n2,\n")

	analysis, err := AnalyzeCSV(content)
	require.NoError(t, err)
	assert.Equal(t, "number", analysis.Columns[0].Type)
	assert.Equal(t, "string", analysis.Columns[1].Type)
}

func TestAnalyzeCSVSampleCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 100; i++ {
		b.WriteString("1\n")
	}

	analysis, err := AnalyzeCSV([]byte(b.String()))
	require.NoError(t, err)
	assert.Equal(t, 100, analysis.TotalRows)
	assert.Len(t, analysis.SampleRows, previewRows)
}

func TestAnalyzeCSVRaggedRows(t *testing.T) {
	content := []byte("a,b,c\n1,2\n3,4,5,6\n")

	analysis, err := AnalyzeCSV(content)
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.TotalRows)
}

func TestAnalyzeCSVEmpty(t *testing.T) {
	_, err := AnalyzeCSV(nil)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	analysis, err := AnalyzeCSV([]byte("city,pop\nOslo,700000\n"))
	require.NoError(t, err)

	out := Describe("cities.csv", analysis)
	assert.Contains(t, out, "File: cities.csv (1 rows)")
	assert.Contains(t, out, "- city (string)")
	assert.Contains(t, out, "- pop (number)")
	assert.Contains(t, out, "Oslo, 700000")
}
