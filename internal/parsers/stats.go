package parsers

import "fmt"

// ParseStats holds statistics about parsing one export
type ParseStats struct {
	Source string `json:"source"`
	Format Format `json:"format"`

	// HeaderRow is the 1-based spreadsheet row holding the column headers
	HeaderRow int `json:"header_row"`

	// RawRows counts non-empty data rows before any filtering
	RawRows int `json:"raw_rows"`

	EmptyRows   int `json:"empty_rows"`
	FilteredOut int `json:"filtered_out"`
	RowsValid   int `json:"rows_valid"`
	ErrorCount  int `json:"error_count"`
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("%s: header at row %d, %d rows (%d kept, %d filtered, %d empty), %d errors",
		ps.Source, ps.HeaderRow, ps.RawRows, ps.RowsValid, ps.FilteredOut, ps.EmptyRows, ps.ErrorCount)
}
