// Package reporter renders reconciliation results.
//
// Reports are written to any io.Writer in one of three formats:
//   - Console: human-readable summary for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per matched record and per unmatched entry
//
// The XLSX exporter writes the workbook set consumed by the accounting team
// (results, trace, unmatched per side, alerts) through an afero filesystem.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeMatchRecords bool `json:"include_match_records"`
	IncludeUnmatched    bool `json:"include_unmatched"`
	IncludeAlerts       bool `json:"include_alerts"`
	IncludeTrace        bool `json:"include_trace"`

	// MaxListItems caps console lists; 0 prints everything
	MaxListItems int  `json:"max_list_items"`
	SortByAmount bool `json:"sort_by_amount"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:              FormatConsole,
		IncludeMatchRecords: false,
		IncludeUnmatched:    true,
		IncludeAlerts:       true,
		IncludeTrace:        false,
		MaxListItems:        10,
		SortByAmount:        false,
		CSVDelimiter:        ',',
		CSVHeaders:          true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' {
		return fmt.Errorf("invalid CSV delimiter: %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a report of result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil || result.Summary == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// errWriter keeps the first write error so console output can be checked once
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	if err != nil {
		ew.err = err
	}
	return n, err
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, writer io.Writer) error {
	ew := &errWriter{w: writer}
	rg.writeConsole(result, ew)
	return ew.err
}

func (rg *ReportGenerator) writeConsole(result *reconciler.Result, w io.Writer) {
	s := result.Summary

	fmt.Fprintf(w, "RECONCILIATION REPORT\n")
	fmt.Fprintf(w, "Run: %s\n", result.RunID)
	if result.Request != nil && result.Request.Period() != "" {
		fmt.Fprintf(w, "Period: %s\n", result.Request.Period())
	}
	fmt.Fprintf(w, "Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Processing Duration: %v\n\n", result.Duration)

	fmt.Fprintf(w, "=== SUMMARY ===\n")
	rg.printSummaryTable(s, w)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "=== AMOUNTS ===\n")
	fmt.Fprintf(w, "Total Book Amount:   %s\n", s.TotalBookAmount.StringFixed(2))
	fmt.Fprintf(w, "Matched Amount:      %s\n", s.MatchedAmount.StringFixed(2))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "=== CRITERIA ===\n")
	rg.printCriteriaTable(s, w)
	fmt.Fprintf(w, "\n")

	if len(s.Passes) > 0 {
		fmt.Fprintf(w, "=== PASSES ===\n")
		for _, p := range s.Passes {
			fmt.Fprintf(w, "%-20s events: %-6d book: %-6d bank: %d\n", p.Name, p.Events, p.Book, p.Bank)
		}
		fmt.Fprintf(w, "\n")
	}

	if len(s.MatchedByBank) > 0 {
		fmt.Fprintf(w, "=== MATCHED BY BANK ===\n")
		for _, name := range s.Banks() {
			fmt.Fprintf(w, "%-30s %d\n", name, s.MatchedByBank[name])
		}
		fmt.Fprintf(w, "\n")
	}

	if result.Matching == nil {
		return
	}

	if rg.config.IncludeUnmatched && len(result.Matching.UnmatchedBook) > 0 {
		fmt.Fprintf(w, "=== UNMATCHED BOOK ENTRIES ===\n")
		rg.printEntryList(result.Matching.UnmatchedBook, w)
		fmt.Fprintf(w, "\n")
	}

	if rg.config.IncludeUnmatched && len(result.Matching.UnmatchedBank) > 0 {
		fmt.Fprintf(w, "=== UNMATCHED BANK ENTRIES ===\n")
		rg.printEntryList(result.Matching.UnmatchedBank, w)
		fmt.Fprintf(w, "\n")
	}

	if rg.config.IncludeAlerts && len(result.Matching.Alerts) > 0 {
		fmt.Fprintf(w, "=== ALERTS ===\n")
		fmt.Fprintf(w, "Total Alerts: %d\n\n", len(result.Matching.Alerts))
		for i, a := range result.Matching.Alerts {
			if rg.truncated(i, len(result.Matching.Alerts), w) {
				break
			}
			fmt.Fprintf(w, "  %d. Book: %s, Bank: %s (%s)\n", i+1, a.BookReference, a.BankReferences, a.Reason)
		}
		fmt.Fprintf(w, "\n")
	}
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

// csvHeaders are the columns of the flat CSV report
var csvHeaders = []string{
	"Status",
	"Event",
	"Origin",
	"Reference",
	"Reference_Key",
	"Amount",
	"Adjusted_Amount",
	"Date",
	"Strategy",
	"Bank",
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	if result.Matching != nil {
		if rg.config.IncludeMatchRecords {
			for _, r := range result.Matching.MatchRecords {
				record := []string{
					"Matched",
					fmt.Sprintf("%d", r.EventID),
					r.Origin.String(),
					r.Reference,
					r.ReferenceKey,
					r.Amount.StringFixed(2),
					r.AdjustedAmount.StringFixed(2),
					r.Date.Format("2006-01-02"),
					string(r.Strategy),
					r.BankName,
				}
				if err := csvWriter.Write(record); err != nil {
					return fmt.Errorf("failed to write match record: %w", err)
				}
			}
		}

		if rg.config.IncludeUnmatched {
			unmatched := append(append([]*models.Entry(nil), result.Matching.UnmatchedBook...), result.Matching.UnmatchedBank...)
			for _, e := range unmatched {
				record := []string{
					"Unmatched",
					"",
					e.Origin.String(),
					e.Reference,
					e.ReferenceKey,
					e.Amount.StringFixed(2),
					e.AdjustedAmount.StringFixed(2),
					e.Date.Format("2006-01-02"),
					"",
					e.BankName,
				}
				if err := csvWriter.Write(record); err != nil {
					return fmt.Errorf("failed to write unmatched entry: %w", err)
				}
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(s *reconciler.Summary, w io.Writer) {
	fmt.Fprintf(w, "Book Entries:\n")
	fmt.Fprintf(w, "  Total:     %d\n", s.TotalBook)
	fmt.Fprintf(w, "  Matched:   %d (%.1f%%)\n", s.MatchedBook, rg.calculatePercentage(s.MatchedBook, s.TotalBook))
	fmt.Fprintf(w, "  Unmatched: %d (%.1f%%)\n", s.UnmatchedBook, rg.calculatePercentage(s.UnmatchedBook, s.TotalBook))

	fmt.Fprintf(w, "\nBank Entries:\n")
	fmt.Fprintf(w, "  Raw rows:  %d\n", s.RawBankTotal)
	fmt.Fprintf(w, "  Total:     %d\n", s.TotalBank)
	fmt.Fprintf(w, "  Matched:   %d (%.1f%%)\n", s.MatchedBank, rg.calculatePercentage(s.MatchedBank, s.TotalBank))
	fmt.Fprintf(w, "  Unmatched: %d (%.1f%%)\n", s.UnmatchedBank, rg.calculatePercentage(s.UnmatchedBank, s.TotalBank))

	fmt.Fprintf(w, "\nEvents: %d, Alerts: %d\n", s.Events, s.Alerts)
}

func (rg *ReportGenerator) printCriteriaTable(s *reconciler.Summary, w io.Writer) {
	fmt.Fprintf(w, "%-12s %8s %8s %10s %10s\n", "Criterion", "Book", "Bank", "Book %", "Bank %")
	for _, c := range s.Criteria {
		fmt.Fprintf(w, "%-12s %8d %8d %10s %10s\n",
			c.Criterion, c.Book, c.Bank, c.BookPercent.StringFixed(2), c.BankPercent.StringFixed(2))
	}
}

func (rg *ReportGenerator) printEntryList(entries []*models.Entry, w io.Writer) {
	if rg.config.SortByAmount {
		entries = append([]*models.Entry(nil), entries...)
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Amount.Abs().GreaterThan(entries[j].Amount.Abs())
		})
	}

	fmt.Fprintf(w, "Total: %d\n\n", len(entries))
	for i, e := range entries {
		if rg.truncated(i, len(entries), w) {
			break
		}
		fmt.Fprintf(w, "  %d. Ref: %s, Key: %s, Amount: %s, Date: %s\n",
			i+1,
			e.Reference,
			e.ReferenceKey,
			e.Amount.StringFixed(2),
			e.Date.Format("2006-01-02"))
	}
}

// truncated prints the overflow line and reports whether the list should stop at i
func (rg *ReportGenerator) truncated(i, total int, w io.Writer) bool {
	limit := rg.config.MaxListItems
	if limit == 0 || i < limit {
		return false
	}
	fmt.Fprintf(w, "  ... and %d more\n", total-limit)
	return true
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.Result) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":       result.RunID,
		"summary":      result.Summary,
		"processed_at": result.ProcessedAt,
	}
	if result.Request != nil {
		output["request"] = result.Request
	}
	if result.BookStats != nil {
		output["book_stats"] = result.BookStats
	}
	if result.BankStats != nil {
		output["bank_stats"] = result.BankStats
	}

	m := result.Matching
	if m == nil {
		return output
	}

	if rg.config.IncludeMatchRecords {
		output["match_records"] = m.MatchRecords
	}
	if rg.config.IncludeTrace {
		output["trace"] = models.DedupeTrace(m.Trace)
	}
	if rg.config.IncludeUnmatched {
		output["unmatched_book"] = m.UnmatchedBook
		output["unmatched_bank"] = m.UnmatchedBank
	}
	if rg.config.IncludeAlerts {
		output["alerts"] = m.Alerts
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
