// Package parsers turns the accounting system's book ledger export and the
// bank statement export into entries ready for enrichment.
//
// Both exports arrive as CSV or XLSX. Reading yields a Table of trimmed string
// rows; the book and bank parsers then locate the header row, resolve the
// configured columns accent and case insensitively, and coerce every row into
// a models.Entry. Invalid rows are collected and reported together.
//
// Example usage:
//
//	config := parsers.DefaultParserConfig()
//	loader, err := parsers.NewLoader(config, opener, log)
//	dataset, err := loader.Load(ctx, bookURI, bankURI)
package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ledger-reconciliation-service/pkg/errors"
)

// Format identifies the container of an export
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// TableOptions controls how a raw export is read
type TableOptions struct {
	Delimiter rune
	Encoding  string
	Sheet     string
}

// Table is an export read into rows of trimmed cells. Rows[i] is spreadsheet row i+1.
type Table struct {
	Source string
	Format Format
	Rows   [][]string
}

// DetectFormat picks the format from the file extension, falling back to the
// zip signature every XLSX workbook starts with
func DetectFormat(name string, head []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx":
		return FormatXLSX
	case ".csv", ".txt":
		return FormatCSV
	}
	if bytes.HasPrefix(head, []byte("PK\x03\x04")) {
		return FormatXLSX
	}
	return FormatCSV
}

// ReadTable reads a CSV or XLSX export
func ReadTable(source string, r io.Reader, opts TableOptions) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.InputError(errors.CodeUnreadableFile, source, err)
	}

	table := &Table{Source: source, Format: DetectFormat(source, data)}
	switch table.Format {
	case FormatXLSX:
		table.Rows, err = readXLSX(data, opts.Sheet)
	default:
		table.Rows, err = readCSV(data, opts)
	}
	if err != nil {
		return nil, errors.InputError(errors.CodeUnreadableFile, source, err)
	}

	for _, row := range table.Rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
	}
	if len(table.Rows) > 0 && len(table.Rows[0]) > 0 {
		table.Rows[0][0] = strings.TrimPrefix(table.Rows[0][0], "\ufeff")
	}

	return table, nil
}

func readCSV(data []byte, opts TableOptions) ([][]string, error) {
	enc, err := lookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}

	var src io.Reader = bytes.NewReader(data)
	if enc != nil {
		src = transform.NewReader(src, enc.NewDecoder())
	}

	reader := csv.NewReader(src)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	return reader.ReadAll()
}

// readXLSX returns the raw cell values of one sheet. Raw values keep amounts
// unformatted and dates as serial numbers.
func readXLSX(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

// IsEmptyRow reports whether every cell of row is blank
func IsEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// NormalizeHeader folds a header for comparison: accents removed, lowercased,
// inner whitespace collapsed
func NormalizeHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// FindHeaderRow returns the index of the first row holding a cell equal to
// anchor after normalization, or -1
func FindHeaderRow(rows [][]string, anchor string) int {
	want := NormalizeHeader(anchor)
	for i, row := range rows {
		for _, cell := range row {
			if NormalizeHeader(cell) == want {
				return i
			}
		}
	}
	return -1
}

// FirstNonEmptyRow returns the index of the first row with any content, or -1
func FirstNonEmptyRow(rows [][]string) int {
	for i, row := range rows {
		if !IsEmptyRow(row) {
			return i
		}
	}
	return -1
}

// headerMap resolves column names to positions within one header row
type headerMap struct {
	headers []string
	index   map[string]int
}

func newHeaderMap(headers []string) *headerMap {
	hm := &headerMap{headers: headers, index: make(map[string]int, len(headers))}
	for i, h := range headers {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		if _, dup := hm.index[key]; !dup {
			hm.index[key] = i
		}
	}
	return hm
}

// column returns the position of name, or -1. An empty name is never present.
func (hm *headerMap) column(name string) int {
	if strings.TrimSpace(name) == "" {
		return -1
	}
	if i, ok := hm.index[NormalizeHeader(name)]; ok {
		return i
	}
	return -1
}

// resolve maps every named column; required columns that are absent are returned
func (hm *headerMap) resolve(names map[string]string, required []string) (map[string]int, []string) {
	positions := make(map[string]int, len(names))
	for field, name := range names {
		positions[field] = hm.column(name)
	}

	var missing []string
	for _, field := range required {
		if positions[field] < 0 {
			missing = append(missing, names[field])
		}
	}
	return positions, missing
}

// cellAt returns the trimmed cell at position i, or "" when the row is short
func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
