package parsers

import (
	"fmt"
	"io"
	"regexp"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// BankParser parses the bank statement export
type BankParser struct {
	config *ParserConfig
	debit  *debitMatcher
	filter *regexp.Regexp
	logger logger.Logger
}

// NewBankParser creates a new BankParser with the given configuration
func NewBankParser(config *ParserConfig, log logger.Logger) (*BankParser, error) {
	if config == nil {
		config = DefaultParserConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parsing", config.BankDescriptionFilter, err)
	}

	debit, err := newDebitMatcher(config.DebitPattern)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parsing.debit_pattern", config.DebitPattern, err)
	}

	var filter *regexp.Regexp
	if config.BankDescriptionFilter != "" {
		filter = regexp.MustCompile(config.BankDescriptionFilter)
	}

	return &BankParser{
		config: config,
		debit:  debit,
		filter: filter,
		logger: log.WithComponent("bank_parser"),
	}, nil
}

// Parse reads and parses a bank statement export
func (bp *BankParser) Parse(source string, r io.Reader) ([]*models.Entry, *ParseStats, error) {
	table, err := ReadTable(source, r, bp.config.tableOptions())
	if err != nil {
		return nil, nil, err
	}
	return bp.ParseTable(table)
}

// ParseTable parses an already read bank statement. The first non-empty row
// holds the headers. Rows whose description does not match the settlement
// filter are dropped before validation; RawRows still counts them.
func (bp *BankParser) ParseTable(table *Table) ([]*models.Entry, *ParseStats, error) {
	stats := &ParseStats{Source: table.Source, Format: table.Format}

	bp.logger.WithFields(logger.Fields{
		"source": table.Source,
		"format": table.Format,
		"rows":   len(table.Rows),
	}).Info("Starting bank statement parsing")

	headerIdx := FirstNonEmptyRow(table.Rows)
	if headerIdx < 0 {
		return nil, stats, errors.HeaderNotFoundError(table.Source, bp.config.BankColumns.Reference)
	}
	stats.HeaderRow = headerIdx + 1

	cols := bp.config.BankColumns
	names := map[string]string{
		fieldReference:     cols.Reference,
		fieldDescription:   cols.Description,
		fieldDate:          cols.Date,
		fieldAmount:        cols.Amount,
		fieldType:          cols.Type,
		fieldAccount:       cols.Account,
		fieldLedgerAccount: cols.LedgerAccount,
		fieldSubAccount:    cols.SubAccount,
		fieldBankName:      cols.BankName,
	}
	required := []string{fieldReference, fieldDate, fieldAmount, fieldAccount}
	if bp.filter != nil {
		required = append(required, fieldDescription)
	}

	positions, missing := newHeaderMap(table.Rows[headerIdx]).resolve(names, required)
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_columns":   missing,
			"available_headers": table.Rows[headerIdx],
		}).Error("Required bank columns are missing")
		return nil, stats, errors.MissingColumnsError(table.Source, missing)
	}

	var entries []*models.Entry
	var rowErrs []error

	for i := headerIdx + 1; i < len(table.Rows); i++ {
		row := table.Rows[i]
		if IsEmptyRow(row) {
			stats.EmptyRows++
			continue
		}
		stats.RawRows++

		if bp.filter != nil && !bp.filter.MatchString(cellAt(row, positions[fieldDescription])) {
			stats.FilteredOut++
			continue
		}

		entry, err := bp.parseRow(table.Source, i+1, row, positions)
		if err != nil {
			rowErrs = append(rowErrs, err)
			continue
		}
		entries = append(entries, entry)
	}

	stats.ErrorCount = len(rowErrs)
	if err := errors.Combine(table.Source, rowErrs...); err != nil {
		bp.logger.WithError(err).WithField("error_count", stats.ErrorCount).Error("Bank statement has invalid rows")
		return nil, stats, err
	}
	stats.RowsValid = len(entries)

	bp.logger.WithFields(logger.Fields{
		"source":       table.Source,
		"raw_rows":     stats.RawRows,
		"entries":      stats.RowsValid,
		"filtered_out": stats.FilteredOut,
	}).Info("Bank statement parsing completed")

	return entries, stats, nil
}

func (bp *BankParser) parseRow(source string, rowNum int, row []string, pos map[string]int) (*models.Entry, error) {
	cols := bp.config.BankColumns

	reference := cellAt(row, pos[fieldReference])
	if reference == "" {
		return nil, errors.RowError(source, rowNum, cols.Reference, "", fmt.Errorf("reference is empty"))
	}

	amountStr := cellAt(row, pos[fieldAmount])
	amount, err := parseAmount(amountStr)
	if err != nil {
		return nil, errors.RowError(source, rowNum, cols.Amount, amountStr, err)
	}

	dateStr := cellAt(row, pos[fieldDate])
	date, err := parseDate(dateStr, bp.config.dateFormats())
	if err != nil {
		return nil, errors.RowError(source, rowNum, cols.Date, dateStr, err)
	}

	kind := cellAt(row, pos[fieldType])
	entry := models.NewBankEntry(
		reference,
		bp.debit.apply(amount, kind),
		date,
		cleanAccount(cellAt(row, pos[fieldAccount])),
		cellAt(row, pos[fieldDescription]),
	)
	entry.Row = rowNum
	entry.Type = kind
	entry.LedgerAccount = cellAt(row, pos[fieldLedgerAccount])
	entry.SubAccount = cellAt(row, pos[fieldSubAccount])
	entry.BankName = cellAt(row, pos[fieldBankName])
	return entry, nil
}
