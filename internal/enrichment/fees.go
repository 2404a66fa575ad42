package enrichment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledger-reconciliation-service/internal/models"
)

// FeeSchedule describes the commission and tax applied to entries of the
// card-acquiring account before matching
type FeeSchedule struct {
	// AccountMarker selects the accounts that carry fees
	AccountMarker string
	// CommissionRate is charged on book entries only
	CommissionRate decimal.Decimal
	// TaxRate is charged when TaxMarker appears near the start of the reference
	TaxRate   decimal.Decimal
	TaxMarker string
	// TaxMarkerWindow is how many leading reference characters are inspected
	TaxMarkerWindow int
}

// DefaultFeeSchedule returns the production commission and tax rates
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		AccountMarker:   "1682",
		CommissionRate:  decimal.RequireFromString("0.001"),
		TaxRate:         decimal.RequireFromString("0.0431"),
		TaxMarker:       "C",
		TaxMarkerWindow: 3,
	}
}

// Validate checks the schedule for unusable values
func (f FeeSchedule) Validate() error {
	if f.CommissionRate.IsNegative() {
		return fmt.Errorf("commission rate cannot be negative, got %s", f.CommissionRate)
	}
	if f.TaxRate.IsNegative() {
		return fmt.Errorf("tax rate cannot be negative, got %s", f.TaxRate)
	}
	if len([]rune(f.TaxMarker)) != 1 {
		return fmt.Errorf("tax marker must be a single character, got %q", f.TaxMarker)
	}
	if f.TaxMarkerWindow < 1 {
		return fmt.Errorf("tax marker window must be at least 1, got %d", f.TaxMarkerWindow)
	}
	return nil
}

// Apply computes the fee fields and the adjusted amount of e.
//
// Commission is applied first, then tax on the commission-adjusted amount.
// Each fee is computed on the running amount rounded to cents while the
// running amount itself compounds unrounded; only AdjustedAmount is rounded.
// Rounding is half-to-even.
func (f FeeSchedule) Apply(e *models.Entry) {
	amount := e.Amount
	e.Commission = decimal.Zero
	e.Tax = decimal.Zero
	e.CommissionPercent = models.DefaultPercent
	e.TaxPercent = models.DefaultPercent

	if f.AccountMarker != "" && strings.Contains(e.Account, f.AccountMarker) {
		if e.Origin == models.OriginBook {
			e.Commission = amount.RoundBank(2).Mul(f.CommissionRate)
			amount = amount.Mul(decimal.NewFromInt(1).Add(f.CommissionRate))
			e.CommissionPercent = percentLabel(f.CommissionRate)
		}
		if f.hasTaxMarker(e.Reference) {
			e.Tax = amount.RoundBank(2).Mul(f.TaxRate)
			amount = amount.Mul(decimal.NewFromInt(1).Add(f.TaxRate))
			e.TaxPercent = percentLabel(f.TaxRate)
		}
	}

	e.AdjustedAmount = amount.RoundBank(2)
}

// hasTaxMarker reports whether the marker appears, in either case, among the
// first TaxMarkerWindow characters of the reference
func (f FeeSchedule) hasTaxMarker(reference string) bool {
	r := []rune(reference)
	if len(r) > f.TaxMarkerWindow {
		r = r[:f.TaxMarkerWindow]
	}
	return strings.Contains(strings.ToUpper(string(r)), strings.ToUpper(f.TaxMarker))
}

// percentLabel renders a rate as a two-decimal percentage, 0.001 -> "0.10%"
func percentLabel(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
