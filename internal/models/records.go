package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy names a matching pass as it appears in the trace
type Strategy string

const (
	StrategyDirect           Strategy = "Referencia_2_Directa"
	StrategyDirectTolerance  Strategy = "Referencia_2_Directa_Tolerancia"
	StrategyMultipleBank     Strategy = "Multiple Banco"
	StrategyMultipleBook     Strategy = "Multiple_Libro"
	StrategySimilarReference Strategy = "conciliar_por_referencias_similares"
)

// AlertReasonSimilarCriteria tags a near miss whose store codes differ
const AlertReasonSimilarCriteria = "conciliar_por_criterios_similares"

// ReferenceDelimiter joins references when one side of an event has several entries
const ReferenceDelimiter = ","

// Criterion is the label used in the aggregate report
type Criterion string

const (
	Criterion1 Criterion = "Criterio 1"
	Criterion2 Criterion = "Criterio 2"
	Criterion3 Criterion = "Criterio 3"
	Criterion4 Criterion = "Criterio 4"
	Criterion5 Criterion = "Criterio 5"
)

// Criteria lists every criterion in report order
var Criteria = []Criterion{Criterion1, Criterion2, Criterion3, Criterion4, Criterion5}

// Criterion maps a strategy onto its report label. Criterio 2 has no pass.
func (s Strategy) Criterion() Criterion {
	switch s {
	case StrategyMultipleBank:
		return Criterion3
	case StrategyMultipleBook:
		return Criterion4
	case StrategySimilarReference:
		return Criterion5
	default:
		return Criterion1
	}
}

const (
	bookLedgerAccount = "110104"
	subAccountTwo     = "0031"
	subAccountDefault = "0040"
	typeTagBook       = "Debito"
	typeTagBank       = "Credito"
)

// MatchRecord is one output row per entry taking part in a reconciliation event
type MatchRecord struct {
	EventID           int             `json:"event_id"`
	Origin            Origin          `json:"origin"`
	Account           string          `json:"account"`
	LedgerAccount     string          `json:"ledger_account"`
	SubAccount        string          `json:"sub_account"`
	Description       string          `json:"description"`
	CardType          string          `json:"card_type"`
	Store             string          `json:"store"`
	Batch             string          `json:"batch"`
	ReferenceKey      string          `json:"reference_key"`
	Reference         string          `json:"reference"`
	TypeTag           string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	DisplayAmount     decimal.Decimal `json:"display_amount"`
	CommissionPercent string          `json:"commission_percent"`
	Commission        decimal.Decimal `json:"commission"`
	TaxPercent        string          `json:"tax_percent"`
	Tax               decimal.Decimal `json:"tax"`
	AdjustedAmount    decimal.Decimal `json:"adjusted_amount"`
	Date              time.Time       `json:"date"`
	BankName          string          `json:"bank_name,omitempty"`
	Strategy          Strategy        `json:"strategy"`
}

// NewMatchRecord builds the output row for e
func NewMatchRecord(e *Entry, strategy Strategy, eventID int) MatchRecord {
	r := MatchRecord{
		EventID:           eventID,
		Origin:            e.Origin,
		Account:           e.Account,
		Description:       e.Description,
		CardType:          e.CardType,
		Store:             e.Store,
		Batch:             e.Batch,
		ReferenceKey:      e.ReferenceKey,
		Reference:         e.Reference,
		Amount:            e.Amount,
		CommissionPercent: e.CommissionPercent,
		Commission:        e.Commission,
		TaxPercent:        e.TaxPercent,
		Tax:               e.Tax,
		AdjustedAmount:    e.AdjustedAmount,
		Date:              e.Date,
		Strategy:          strategy,
	}

	// display amounts come from the raw amount, before fees
	whole := e.Amount.Truncate(0).Abs()
	if e.Origin == OriginBook {
		r.LedgerAccount = bookLedgerAccount
		r.SubAccount = bookSubAccount(e.Account)
		r.TypeTag = typeTagBook
		r.DisplayAmount = whole.Neg()
	} else {
		r.LedgerAccount = e.LedgerAccount
		r.SubAccount = e.SubAccount
		r.TypeTag = typeTagBank
		r.DisplayAmount = whole
		r.BankName = e.BankName
	}

	return r
}

// bookSubAccount picks the sub-account from the last digit of the bank account
func bookSubAccount(account string) string {
	if strings.HasSuffix(account, "2") {
		return subAccountTwo
	}
	return subAccountDefault
}

// MarshalJSON renders amounts as fixed strings
func (r MatchRecord) MarshalJSON() ([]byte, error) {
	type Alias MatchRecord
	return json.Marshal(&struct {
		Amount         string `json:"amount"`
		DisplayAmount  string `json:"display_amount"`
		Commission     string `json:"commission"`
		Tax            string `json:"tax"`
		AdjustedAmount string `json:"adjusted_amount"`
		Date           string `json:"date"`
		Alias
	}{
		Amount:         r.Amount.String(),
		DisplayAmount:  r.DisplayAmount.String(),
		Commission:     r.Commission.StringFixed(4),
		Tax:            r.Tax.StringFixed(4),
		AdjustedAmount: r.AdjustedAmount.StringFixed(2),
		Date:           r.Date.Format("2006-01-02"),
		Alias:          Alias(r),
	})
}

// TraceEntry records one reconciliation event
type TraceEntry struct {
	BookReference string   `json:"book_reference"`
	BankReference string   `json:"bank_reference"`
	Strategy      Strategy `json:"strategy"`
}

// NewTraceEntry joins the references of each side with ReferenceDelimiter
func NewTraceEntry(book, bank []*Entry, strategy Strategy) TraceEntry {
	return TraceEntry{
		BookReference: JoinReferences(book),
		BankReference: JoinReferences(bank),
		Strategy:      strategy,
	}
}

// JoinReferences joins the raw references of entries in order
func JoinReferences(entries []*Entry) string {
	refs := make([]string, len(entries))
	for i, e := range entries {
		refs[i] = e.Reference
	}
	return strings.Join(refs, ReferenceDelimiter)
}

// DedupeTrace drops repeated trace rows, keeping first occurrences in order
func DedupeTrace(trace []TraceEntry) []TraceEntry {
	seen := make(map[TraceEntry]struct{}, len(trace))
	out := make([]TraceEntry, 0, len(trace))
	for _, t := range trace {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// AlertEntry flags an unmatched pair that is amount and date compatible but
// whose store codes differ
type AlertEntry struct {
	BookReference  string `json:"book_reference"`
	BankReferences string `json:"bank_references"`
	Reason         string `json:"reason"`
}

// SideCounts counts entries per ledger
type SideCounts struct {
	Book int `json:"book"`
	Bank int `json:"bank"`
}

// StrategyCounts holds per-criterion counts of matched entries
type StrategyCounts map[Criterion]SideCounts

// NewStrategyCounts returns counts with every criterion present at zero
func NewStrategyCounts() StrategyCounts {
	counts := make(StrategyCounts, len(Criteria))
	for _, c := range Criteria {
		counts[c] = SideCounts{}
	}
	return counts
}

// Add records book and bank entries consumed by one event of strategy s
func (sc StrategyCounts) Add(s Strategy, book, bank int) {
	c := s.Criterion()
	cur := sc[c]
	cur.Book += book
	cur.Bank += bank
	sc[c] = cur
}

// Finalize sets Criterio 1 to the matched totals not explained by criteria 2..5
func (sc StrategyCounts) Finalize(matchedBook, matchedBank int) {
	book, bank := matchedBook, matchedBank
	for _, c := range Criteria[1:] {
		book -= sc[c].Book
		bank -= sc[c].Bank
	}
	sc[Criterion1] = SideCounts{Book: book, Bank: bank}
}
