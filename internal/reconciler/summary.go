package reconciler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ledger-reconciliation-service/internal/matcher"
	"ledger-reconciliation-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Summary provides a high-level overview of one run
type Summary struct {
	TotalBook     int `json:"total_book"`
	TotalBank     int `json:"total_bank"`
	RawBankTotal  int `json:"raw_bank_total"`
	MatchedBook   int `json:"matched_book"`
	MatchedBank   int `json:"matched_bank"`
	UnmatchedBook int `json:"unmatched_book"`
	UnmatchedBank int `json:"unmatched_bank"`
	Events        int `json:"events"`
	Alerts        int `json:"alerts"`

	// TotalBookAmount sums |amount| over every book entry
	TotalBookAmount decimal.Decimal `json:"total_book_amount"`
	// MatchedAmount sums |amount| over matched book entries
	MatchedAmount decimal.Decimal `json:"matched_amount"`

	// MatchedByBank counts matched bank records per bank name
	MatchedByBank map[string]int `json:"matched_by_bank"`

	Criteria []CriterionStat      `json:"criteria"`
	Passes   []matcher.PassStats `json:"passes"`
}

// CriterionStat is one line of the per-criterion report
type CriterionStat struct {
	Criterion   models.Criterion `json:"criterion"`
	Book        int              `json:"book"`
	Bank        int              `json:"bank"`
	BookPercent decimal.Decimal  `json:"book_percent"`
	BankPercent decimal.Decimal  `json:"bank_percent"`
}

// Summarize builds the run summary. rawBank is the bank row count before the
// settlement filter.
func Summarize(book []*models.Entry, rawBank int, result *matcher.ReconciliationResult) *Summary {
	s := &Summary{
		TotalBook:       result.Summary.TotalBook,
		TotalBank:       result.Summary.TotalBank,
		RawBankTotal:    rawBank,
		MatchedBook:     result.Summary.MatchedBook,
		MatchedBank:     result.Summary.MatchedBank,
		UnmatchedBook:   result.Summary.UnmatchedBook,
		UnmatchedBank:   result.Summary.UnmatchedBank,
		Events:          result.Summary.Events,
		Alerts:          result.Summary.Alerts,
		TotalBookAmount: decimal.Zero,
		MatchedAmount:   decimal.Zero,
		MatchedByBank:   make(map[string]int),
		Passes:          result.Summary.Passes,
	}

	for _, e := range book {
		s.TotalBookAmount = s.TotalBookAmount.Add(e.Amount.Abs())
	}
	for _, e := range result.MatchedBook {
		s.MatchedAmount = s.MatchedAmount.Add(e.Amount.Abs())
	}

	for _, r := range result.MatchRecords {
		if r.Origin == models.OriginBank && r.BankName != "" {
			s.MatchedByBank[r.BankName]++
		}
	}

	for _, c := range models.Criteria {
		counts := result.Counts[c]
		s.Criteria = append(s.Criteria, CriterionStat{
			Criterion:   c,
			Book:        counts.Book,
			Bank:        counts.Bank,
			BookPercent: percent(counts.Book, s.MatchedBook),
			BankPercent: percent(counts.Bank, s.MatchedBank),
		})
	}

	return s
}

// percent returns part/total as a percentage with two decimals, 0 when total is 0
func percent(part, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(hundred).
		Round(2)
}

// MatchRate returns the share of book entries matched, as a percentage
func (s *Summary) MatchRate() decimal.Decimal {
	return percent(s.MatchedBook, s.TotalBook)
}

// Banks returns the bank names of MatchedByBank in sorted order
func (s *Summary) Banks() []string {
	names := make([]string, 0, len(s.MatchedByBank))
	for name := range s.MatchedByBank {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns a one-line description of the run totals
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "book %d/%d matched, bank %d/%d matched (%d raw), %d events, %d alerts",
		s.MatchedBook, s.TotalBook, s.MatchedBank, s.TotalBank, s.RawBankTotal, s.Events, s.Alerts)
	return b.String()
}
