package parsers

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"ledger-reconciliation-service/internal/models"
)

// BookColumns names the book ledger columns as they appear in the export
type BookColumns struct {
	Reference string `mapstructure:"reference" yaml:"reference"`
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Date      string `mapstructure:"date" yaml:"date"`
	Amount    string `mapstructure:"amount" yaml:"amount"`
	Type      string `mapstructure:"type" yaml:"type"`
	Account   string `mapstructure:"account" yaml:"account"`
}

// BankColumns names the bank statement columns as they appear in the export
type BankColumns struct {
	Reference     string `mapstructure:"reference" yaml:"reference"`
	Description   string `mapstructure:"description" yaml:"description"`
	Date          string `mapstructure:"date" yaml:"date"`
	Amount        string `mapstructure:"amount" yaml:"amount"`
	Type          string `mapstructure:"type" yaml:"type"`
	Account       string `mapstructure:"account" yaml:"account"`
	LedgerAccount string `mapstructure:"ledger_account" yaml:"ledger_account"`
	SubAccount    string `mapstructure:"sub_account" yaml:"sub_account"`
	BankName      string `mapstructure:"bank_name" yaml:"bank_name"`
}

// ParserConfig holds everything needed to turn the two exports into entries
type ParserConfig struct {
	// BookHeaderAnchor is a header cell that identifies the book header row;
	// rows above it are report preamble
	BookHeaderAnchor string `mapstructure:"book_header_anchor" yaml:"book_header_anchor"`

	// BankDescriptionFilter keeps only bank rows whose description matches
	BankDescriptionFilter string `mapstructure:"bank_description_filter" yaml:"bank_description_filter"`

	// DebitPattern matches the lowercased type of rows whose amount is negated
	DebitPattern string `mapstructure:"debit_pattern" yaml:"debit_pattern"`

	DateFormats []string `mapstructure:"date_formats" yaml:"date_formats"`

	// CSV only
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter"`
	Encoding  string `mapstructure:"encoding" yaml:"encoding"`

	// XLSX only; empty means the first sheet
	Sheet string `mapstructure:"sheet" yaml:"sheet"`

	BookColumns BookColumns `mapstructure:"book_columns" yaml:"book_columns"`
	BankColumns BankColumns `mapstructure:"bank_columns" yaml:"bank_columns"`
}

// DefaultParserConfig returns the layout of the accounting system and bank exports
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		BookHeaderAnchor:      "Cuenta Bancaria",
		BankDescriptionFilter: `AB.LOTE|LIQUIDACI`,
		DebitPattern:          `^d[ée]bit[oe]?$`,
		DateFormats:           append([]string(nil), models.DefaultDateFormats...),
		Delimiter:             ",",
		Encoding:              "utf-8",
		BookColumns: BookColumns{
			Reference: "Numero de Transacción",
			Provider:  "Proveedor",
			Date:      "Fecha Contable",
			Amount:    "Monto",
			Type:      "Tipo",
			Account:   "Cuenta Bancaria",
		},
		BankColumns: BankColumns{
			Reference:     "Referencia",
			Description:   "Descripción",
			Date:          "Fecha Efectiva",
			Amount:        "Monto",
			Type:          "Tipo",
			Account:       "Cuenta Bancaria",
			LedgerAccount: "Cuenta Contable",
			SubAccount:    "Sub Cuenta",
			BankName:      "Banco",
		},
	}
}

// Validate checks if the parser configuration is valid
func (pc *ParserConfig) Validate() error {
	if strings.TrimSpace(pc.BookHeaderAnchor) == "" {
		return fmt.Errorf("book header anchor cannot be empty")
	}

	if _, err := regexp.Compile(pc.BankDescriptionFilter); err != nil {
		return fmt.Errorf("invalid bank description filter: %w", err)
	}

	if strings.TrimSpace(pc.DebitPattern) == "" {
		return fmt.Errorf("debit pattern cannot be empty")
	}
	if _, err := regexp.Compile(pc.DebitPattern); err != nil {
		return fmt.Errorf("invalid debit pattern: %w", err)
	}

	if len([]rune(pc.Delimiter)) > 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", pc.Delimiter)
	}

	if _, err := lookupEncoding(pc.Encoding); err != nil {
		return err
	}

	required := map[string]string{
		"book_columns.reference": pc.BookColumns.Reference,
		"book_columns.date":      pc.BookColumns.Date,
		"book_columns.amount":    pc.BookColumns.Amount,
		"book_columns.account":   pc.BookColumns.Account,
		"bank_columns.reference": pc.BankColumns.Reference,
		"bank_columns.date":      pc.BankColumns.Date,
		"bank_columns.amount":    pc.BankColumns.Amount,
		"bank_columns.account":   pc.BankColumns.Account,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
	}

	return nil
}

// tableOptions returns the reader settings derived from the configuration
func (pc *ParserConfig) tableOptions() TableOptions {
	opts := TableOptions{Delimiter: ',', Encoding: pc.Encoding, Sheet: pc.Sheet}
	if r := []rune(pc.Delimiter); len(r) == 1 {
		opts.Delimiter = r[0]
	}
	return opts
}

func (pc *ParserConfig) dateFormats() []string {
	if len(pc.DateFormats) == 0 {
		return models.DefaultDateFormats
	}
	return pc.DateFormats
}

// lookupEncoding maps a configured CSV encoding name to a decoder; nil means UTF-8
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}
