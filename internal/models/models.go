package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Origin identifies which ledger an entry comes from
type Origin string

const (
	// OriginBook is the internal accounting ledger ("Libro")
	OriginBook Origin = "Libro"
	// OriginBank is the bank settlement statement ("Banco")
	OriginBank Origin = "Banco"
)

// String returns the string representation of Origin
func (o Origin) String() string {
	return string(o)
}

// IsValid checks if the origin is one of the two ledgers
func (o Origin) IsValid() bool {
	return o == OriginBook || o == OriginBank
}

// DefaultPercent is the label used when no fee applies
const DefaultPercent = "0%"

// Entry is one row of either ledger. Raw fields come from ingestion, derived
// fields are filled by enrichment. Matched state is owned by the matcher's
// record store, not by the entry.
type Entry struct {
	// Index is the position of the entry within its side, in input order
	Index  int    `json:"index"`
	Row    int    `json:"row"`
	Origin Origin `json:"origin"`

	Account     string          `json:"account"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Type        string          `json:"type,omitempty"`

	// Bank only
	LedgerAccount string `json:"ledger_account,omitempty"`
	SubAccount    string `json:"sub_account,omitempty"`
	BankName      string `json:"bank_name,omitempty"`

	// Reference decoding
	CardType     string `json:"card_type"`
	Store        string `json:"store"`
	Batch        string `json:"batch"`
	ReferenceKey string `json:"reference_key"`

	// Fee normalization
	AdjustedAmount    decimal.Decimal `json:"adjusted_amount"`
	Commission        decimal.Decimal `json:"commission"`
	CommissionPercent string          `json:"commission_percent"`
	Tax               decimal.Decimal `json:"tax"`
	TaxPercent        string          `json:"tax_percent"`
}

// NewBookEntry creates a book-side entry with default fee labels
func NewBookEntry(reference string, amount decimal.Decimal, date time.Time, account, provider string) *Entry {
	return newEntry(OriginBook, reference, amount, date, account, provider)
}

// NewBankEntry creates a bank-side entry with default fee labels
func NewBankEntry(reference string, amount decimal.Decimal, date time.Time, account, description string) *Entry {
	return newEntry(OriginBank, reference, amount, date, account, description)
}

func newEntry(origin Origin, reference string, amount decimal.Decimal, date time.Time, account, description string) *Entry {
	return &Entry{
		Origin:            origin,
		Account:           account,
		Reference:         reference,
		Amount:            amount,
		Date:              date,
		Description:       description,
		AdjustedAmount:    amount.RoundBank(2),
		CommissionPercent: DefaultPercent,
		TaxPercent:        DefaultPercent,
	}
}

// Validate checks the fields every downstream stage relies on
func (e *Entry) Validate() error {
	if !e.Origin.IsValid() {
		return fmt.Errorf("invalid origin: %q", e.Origin)
	}
	if strings.TrimSpace(e.Reference) == "" {
		return fmt.Errorf("reference cannot be empty")
	}
	if e.Date.IsZero() {
		return fmt.Errorf("date cannot be zero")
	}
	return nil
}

// HasReferenceKey reports whether the reference decoded to a usable join key
func (e *Entry) HasReferenceKey() bool {
	return e.ReferenceKey != ""
}

// String returns a string representation of the Entry
func (e *Entry) String() string {
	return fmt.Sprintf("%s{Ref: %s, Key: %s, Amount: %s, Adjusted: %s, Date: %s}",
		e.Origin, e.Reference, e.ReferenceKey, e.Amount.String(), e.AdjustedAmount.StringFixed(2), e.Date.Format("2006-01-02"))
}

// MarshalJSON renders amounts as fixed strings and the date as a calendar day
func (e *Entry) MarshalJSON() ([]byte, error) {
	type Alias Entry
	return json.Marshal(&struct {
		Amount         string `json:"amount"`
		AdjustedAmount string `json:"adjusted_amount"`
		Commission     string `json:"commission"`
		Tax            string `json:"tax"`
		Date           string `json:"date"`
		*Alias
	}{
		Amount:         e.Amount.String(),
		AdjustedAmount: e.AdjustedAmount.StringFixed(2),
		Commission:     e.Commission.String(),
		Tax:            e.Tax.String(),
		Date:           e.Date.Format("2006-01-02"),
		Alias:          (*Alias)(e),
	})
}

// ParseDecimalFromString parses a decimal amount, tolerating currency symbols
// and thousand separators
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// DefaultDateFormats lists the layouts accepted for ledger dates
var DefaultDateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2/1/2006",
	"02/01/2006 15:04:05",
	"01-02-06",
	"2006/01/02",
}

// ParseTimeWithFormats parses a date trying each layout in order
func ParseTimeWithFormats(s string, formats []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}
	if len(formats) == 0 {
		formats = DefaultDateFormats
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// TruncateToDay drops the time of day, keeping the calendar date in UTC
func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CompareAmountsWithTolerance reports |a - b| <= tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// OffsetsWithinTolerance reports |a + b| <= tolerance. The two ledgers record
// the same payment with opposite signs, so a matching pair sums to about zero.
func OffsetsWithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Add(b).Abs().LessThanOrEqual(tolerance)
}

// CompareDatesWithTolerance compares two dates within a day tolerance, inclusive
func CompareDatesWithTolerance(a, b time.Time, toleranceDays int) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}

	maxDiff := time.Duration(toleranceDays) * 24 * time.Hour
	return diff <= maxDiff
}
