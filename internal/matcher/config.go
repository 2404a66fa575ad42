// Package matcher implements the multi-pass matching engine that pairs book
// ledger entries with bank statement entries.
//
// The engine runs ordered strategies over a shared record store. Every pass
// only sees entries that are still unmatched, so an earlier pass always wins
// a contested candidate:
//  1. Direct reference: equal reference key, date window, equal or offsetting amount
//  2. Many bank to one book: a combination of bank entries sharing the key
//  3. Many book to one bank: exactly two book entries sharing the key
//  4. Similar reference: offsetting amount, date window, close reference key
//
// After matching, a non-mutating alert scan flags near misses whose store
// codes differ, and an integrity check verifies the per-side counts.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	engine := matcher.NewMatchingEngine(config, log)
//	result, err := engine.Reconcile(bookEntries, bankEntries)
package matcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimezoneMode defines how entry dates are normalized before date windows are applied.
type TimezoneMode int

const (
	// TimezoneIgnore compares calendar dates only. This is the default: ledgers
	// carry accounting and settlement days, not instants.
	TimezoneIgnore TimezoneMode = iota

	// TimezoneUTC normalizes all times to UTC before comparison.
	TimezoneUTC

	// TimezoneBusiness converts times to BusinessTimezone before taking the date.
	TimezoneBusiness
)

// String returns the string representation of TimezoneMode
func (tm TimezoneMode) String() string {
	switch tm {
	case TimezoneIgnore:
		return "Ignore"
	case TimezoneUTC:
		return "UTC"
	case TimezoneBusiness:
		return "Business"
	default:
		return "Unknown"
	}
}

// ParseTimezoneMode parses the configuration name of a timezone mode
func ParseTimezoneMode(s string) (TimezoneMode, error) {
	switch s {
	case "", "ignore", "Ignore":
		return TimezoneIgnore, nil
	case "utc", "UTC":
		return TimezoneUTC, nil
	case "business", "Business":
		return TimezoneBusiness, nil
	default:
		return TimezoneIgnore, fmt.Errorf("unknown timezone mode %q", s)
	}
}

// MatchingConfig holds the tolerances and bounds used by every pass.
type MatchingConfig struct {
	// AmountTolerance is the largest allowed |sum of bank + sum of book| for a match
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// DateWindowDays bounds direct and similar-reference matches, inclusive
	DateWindowDays int `json:"date_window_days"`

	// AlertWindowDays bounds the near-miss alert scan, inclusive
	AlertWindowDays int `json:"alert_window_days"`

	// MaxCombinationCandidates caps how many bank entries sharing a key are
	// considered by the many-bank-to-one-book pass. Extra entries, in input
	// order, are left for later passes.
	MaxCombinationCandidates int `json:"max_combination_candidates"`

	// MaxCombinationSize caps the subset size tried by the same pass; 0 means
	// up to the number of candidates
	MaxCombinationSize int `json:"max_combination_size"`

	TimezoneHandling TimezoneMode `json:"timezone_handling"`
	BusinessTimezone string       `json:"business_timezone"`
}

// DefaultMatchingConfig returns the production tolerances
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:          decimal.RequireFromString("0.05"),
		DateWindowDays:           5,
		AlertWindowDays:          3,
		MaxCombinationCandidates: 16,
		MaxCombinationSize:       0,
		TimezoneHandling:         TimezoneIgnore,
		BusinessTimezone:         "UTC",
	}
}

// StrictMatchingConfig returns tighter tolerances for spot checks
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:          decimal.RequireFromString("0.01"),
		DateWindowDays:           2,
		AlertWindowDays:          1,
		MaxCombinationCandidates: 8,
		MaxCombinationSize:       3,
		TimezoneHandling:         TimezoneIgnore,
		BusinessTimezone:         "UTC",
	}
}

// RelaxedMatchingConfig returns looser tolerances for month-end catch-up runs
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:          decimal.RequireFromString("0.10"),
		DateWindowDays:           7,
		AlertWindowDays:          5,
		MaxCombinationCandidates: 20,
		MaxCombinationSize:       0,
		TimezoneHandling:         TimezoneIgnore,
		BusinessTimezone:         "UTC",
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", mc.AmountTolerance)
	}

	if mc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", mc.DateWindowDays)
	}

	if mc.AlertWindowDays < 0 {
		return fmt.Errorf("alert window days cannot be negative: %d", mc.AlertWindowDays)
	}

	if mc.MaxCombinationCandidates < 2 || mc.MaxCombinationCandidates > 24 {
		return fmt.Errorf("max combination candidates must be between 2 and 24: %d", mc.MaxCombinationCandidates)
	}

	if mc.MaxCombinationSize < 0 || mc.MaxCombinationSize == 1 {
		return fmt.Errorf("max combination size must be 0 or at least 2: %d", mc.MaxCombinationSize)
	}

	if mc.TimezoneHandling == TimezoneBusiness {
		if _, err := time.LoadLocation(mc.BusinessTimezone); err != nil {
			return fmt.Errorf("invalid business timezone '%s': %w", mc.BusinessTimezone, err)
		}
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// combinationSizeLimit returns the largest subset size to try for n candidates
func (mc *MatchingConfig) combinationSizeLimit(n int) int {
	if mc.MaxCombinationSize > 0 && mc.MaxCombinationSize < n {
		return mc.MaxCombinationSize
	}
	return n
}

// IsWithinDays checks if two dates are within the given number of days, inclusive
func (mc *MatchingConfig) IsWithinDays(date1, date2 time.Time, days int) bool {
	diff := mc.NormalizeTime(date1).Sub(mc.NormalizeTime(date2))
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(days)*24*time.Hour
}

// NormalizeTime normalizes time according to the timezone handling configuration
func (mc *MatchingConfig) NormalizeTime(t time.Time) time.Time {
	switch mc.TimezoneHandling {
	case TimezoneUTC:
		return t.UTC()
	case TimezoneBusiness:
		if loc, err := time.LoadLocation(mc.BusinessTimezone); err == nil {
			t = t.In(loc)
		}
		year, month, day := t.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	default:
		year, month, day := t.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{AmountTolerance: %s, DateWindow: %d days, AlertWindow: %d days, MaxCombinationCandidates: %d, MaxCombinationSize: %d, Timezone: %s}",
		mc.AmountTolerance, mc.DateWindowDays, mc.AlertWindowDays, mc.MaxCombinationCandidates, mc.MaxCombinationSize, mc.TimezoneHandling)
}
