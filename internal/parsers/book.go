package parsers

import (
	"fmt"
	"io"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

const (
	fieldReference     = "reference"
	fieldProvider      = "provider"
	fieldDescription   = "description"
	fieldDate          = "date"
	fieldAmount        = "amount"
	fieldType          = "type"
	fieldAccount       = "account"
	fieldLedgerAccount = "ledger_account"
	fieldSubAccount    = "sub_account"
	fieldBankName      = "bank_name"
)

// BookParser parses the accounting system's book ledger export
type BookParser struct {
	config *ParserConfig
	debit  *debitMatcher
	logger logger.Logger
}

// NewBookParser creates a new BookParser with the given configuration
func NewBookParser(config *ParserConfig, log logger.Logger) (*BookParser, error) {
	if config == nil {
		config = DefaultParserConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parsing", config.BookHeaderAnchor, err)
	}

	debit, err := newDebitMatcher(config.DebitPattern)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parsing.debit_pattern", config.DebitPattern, err)
	}

	return &BookParser{
		config: config,
		debit:  debit,
		logger: log.WithComponent("book_parser"),
	}, nil
}

// Parse reads and parses a book ledger export
func (bp *BookParser) Parse(source string, r io.Reader) ([]*models.Entry, *ParseStats, error) {
	table, err := ReadTable(source, r, bp.config.tableOptions())
	if err != nil {
		return nil, nil, err
	}
	return bp.ParseTable(table)
}

// ParseTable parses an already read book ledger. Rows above the row holding
// the header anchor are discarded. Any invalid row fails the whole ledger.
func (bp *BookParser) ParseTable(table *Table) ([]*models.Entry, *ParseStats, error) {
	stats := &ParseStats{Source: table.Source, Format: table.Format}

	bp.logger.WithFields(logger.Fields{
		"source": table.Source,
		"format": table.Format,
		"rows":   len(table.Rows),
	}).Info("Starting book ledger parsing")

	headerIdx := FindHeaderRow(table.Rows, bp.config.BookHeaderAnchor)
	if headerIdx < 0 {
		return nil, stats, errors.HeaderNotFoundError(table.Source, bp.config.BookHeaderAnchor)
	}
	stats.HeaderRow = headerIdx + 1

	cols := bp.config.BookColumns
	names := map[string]string{
		fieldReference: cols.Reference,
		fieldProvider:  cols.Provider,
		fieldDate:      cols.Date,
		fieldAmount:    cols.Amount,
		fieldType:      cols.Type,
		fieldAccount:   cols.Account,
	}
	positions, missing := newHeaderMap(table.Rows[headerIdx]).resolve(names,
		[]string{fieldReference, fieldDate, fieldAmount, fieldAccount})
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_columns":   missing,
			"available_headers": table.Rows[headerIdx],
		}).Error("Required book columns are missing")
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

		entry, err := bp.parseRow(table.Source, i+1, row, positions)
		if err != nil {
			rowErrs = append(rowErrs, err)
			continue
		}
		entries = append(entries, entry)
	}

	stats.ErrorCount = len(rowErrs)
	if err := errors.Combine(table.Source, rowErrs...); err != nil {
		bp.logger.WithError(err).WithField("error_count", stats.ErrorCount).Error("Book ledger has invalid rows")
		return nil, stats, err
	}
	stats.RowsValid = len(entries)

	bp.logger.WithFields(logger.Fields{
		"source":     table.Source,
		"header_row": stats.HeaderRow,
		"entries":    stats.RowsValid,
		"empty_rows": stats.EmptyRows,
	}).Info("Book ledger parsing completed")

	return entries, stats, nil
}

func (bp *BookParser) parseRow(source string, rowNum int, row []string, pos map[string]int) (*models.Entry, error) {
	cols := bp.config.BookColumns

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
	entry := models.NewBookEntry(
		reference,
		bp.debit.apply(amount, kind),
		date,
		cleanAccount(cellAt(row, pos[fieldAccount])),
		cellAt(row, pos[fieldProvider]),
	)
	entry.Row = rowNum
	entry.Type = kind
	return entry, nil
}
