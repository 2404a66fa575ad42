package parsers

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"ledger-reconciliation-service/internal/models"
)

var nonDigits = regexp.MustCompile(`\D`)

// cleanAccount keeps only the digits of a bank account number
func cleanAccount(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// parseAmount coerces an amount cell. XLSX raw values arrive as plain numbers,
// CSV values may carry currency symbols and thousand separators.
func parseAmount(s string) (decimal.Decimal, error) {
	if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
		return d, nil
	}
	return models.ParseDecimalFromString(s)
}

// parseDate tries each layout, then an Excel serial day number
func parseDate(s string, formats []string) (time.Time, error) {
	t, err := models.ParseTimeWithFormats(s, formats)
	if err == nil {
		return t, nil
	}

	serial, serr := cast.ToFloat64E(strings.TrimSpace(s))
	if serr != nil || serial <= 0 {
		return time.Time{}, err
	}
	t, serr = excelize.ExcelDateToTime(serial, false)
	if serr != nil {
		return time.Time{}, fmt.Errorf("invalid excel serial date %q: %w", s, serr)
	}
	return models.TruncateToDay(t), nil
}

// debitMatcher flips the sign of amounts whose type matches the debit pattern
type debitMatcher struct {
	pattern *regexp.Regexp
}

func newDebitMatcher(pattern string) (*debitMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &debitMatcher{pattern: re}, nil
}

func (dm *debitMatcher) isDebit(kind string) bool {
	return dm.pattern.MatchString(strings.ToLower(strings.TrimSpace(kind)))
}

// apply returns amount negated when kind is a debit
func (dm *debitMatcher) apply(amount decimal.Decimal, kind string) decimal.Decimal {
	if dm.isDebit(kind) {
		return amount.Neg()
	}
	return amount
}
