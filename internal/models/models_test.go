package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestOrigin_IsValid(t *testing.T) {
	tests := []struct {
		origin Origin
		valid  bool
	}{
		{OriginBook, true},
		{OriginBank, true},
		{"Otro", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.origin), func(t *testing.T) {
			if got := tt.origin.IsValid(); got != tt.valid {
				t.Errorf("Origin.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestNewBookEntry(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := NewBookEntry("1C123000045X", mustDecimal(t, "-50.005"), date, "01021682", "Proveedor A")

	if e.Origin != OriginBook {
		t.Errorf("expected book origin, got %s", e.Origin)
	}
	if e.CommissionPercent != DefaultPercent || e.TaxPercent != DefaultPercent {
		t.Errorf("expected default fee labels, got %s / %s", e.CommissionPercent, e.TaxPercent)
	}
	// banker's rounding: -50.005 -> -50.00
	if !e.AdjustedAmount.Equal(mustDecimal(t, "-50.00")) {
		t.Errorf("expected adjusted -50.00, got %s", e.AdjustedAmount)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("expected valid entry, got %v", err)
	}
}

func TestEntry_Validate(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		entry     *Entry
		wantError bool
	}{
		{"valid bank", NewBankEntry("REF1", decimal.NewFromInt(5), date, "1", "AB.LOTE 1"), false},
		{"empty reference", NewBankEntry("  ", decimal.NewFromInt(5), date, "1", "x"), true},
		{"zero date", NewBookEntry("REF1", decimal.NewFromInt(5), time.Time{}, "1", "x"), true},
		{"bad origin", &Entry{Origin: "X", Reference: "R", Date: date}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestNewMatchRecord(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("book", func(t *testing.T) {
		e := NewBookEntry("1C123000045X", mustDecimal(t, "-100.00"), date, "0102000002", "Proveedor")
		e.AdjustedAmount = mustDecimal(t, "-104.41")

		r := NewMatchRecord(e, StrategyDirect, 7)
		if r.LedgerAccount != "110104" {
			t.Errorf("expected book ledger account 110104, got %s", r.LedgerAccount)
		}
		if r.SubAccount != "0031" {
			t.Errorf("expected sub-account 0031 for account ending in 2, got %s", r.SubAccount)
		}
		if r.TypeTag != "Debito" {
			t.Errorf("expected Debito, got %s", r.TypeTag)
		}
		if !r.DisplayAmount.Equal(decimal.NewFromInt(-100)) {
			t.Errorf("expected display -100 from the raw amount, got %s", r.DisplayAmount)
		}
		if !r.AdjustedAmount.Equal(mustDecimal(t, "-104.41")) {
			t.Errorf("expected adjusted amount -104.41 to pass through, got %s", r.AdjustedAmount)
		}
		if r.EventID != 7 || r.BankName != "" {
			t.Errorf("unexpected event/bank: %d %q", r.EventID, r.BankName)
		}
	})

	t.Run("bank", func(t *testing.T) {
		e := NewBankEntry("99887766", mustDecimal(t, "-20.90"), date, "0102000005", "AB.LOTE 12")
		e.AdjustedAmount = mustDecimal(t, "-21.80")
		e.LedgerAccount = "110120"
		e.SubAccount = "0007"
		e.BankName = "BANCO FONDO COMUN"

		r := NewMatchRecord(e, StrategyMultipleBank, 1)
		if r.SubAccount != "0007" || r.LedgerAccount != "110120" {
			t.Errorf("expected bank accounts to pass through, got %s / %s", r.LedgerAccount, r.SubAccount)
		}
		if r.TypeTag != "Credito" {
			t.Errorf("expected Credito, got %s", r.TypeTag)
		}
		if !r.DisplayAmount.Equal(decimal.NewFromInt(20)) {
			t.Errorf("expected display 20, got %s", r.DisplayAmount)
		}
		if r.BankName != "BANCO FONDO COMUN" {
			t.Errorf("expected bank name, got %q", r.BankName)
		}
	})
}

func TestMatchRecord_MarshalJSON(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := NewBookEntry("REF", mustDecimal(t, "-50"), date, "1", "P")
	data, err := json.Marshal(NewMatchRecord(e, StrategyDirect, 1))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["adjusted_amount"] != "-50.00" {
		t.Errorf("expected adjusted_amount -50.00, got %v", out["adjusted_amount"])
	}
	if out["date"] != "2024-03-01" {
		t.Errorf("expected date 2024-03-01, got %v", out["date"])
	}
	if out["strategy"] != string(StrategyDirect) {
		t.Errorf("expected strategy, got %v", out["strategy"])
	}
}

func TestStrategyCriterion(t *testing.T) {
	tests := map[Strategy]Criterion{
		StrategyDirect:           Criterion1,
		StrategyDirectTolerance:  Criterion1,
		StrategyMultipleBank:     Criterion3,
		StrategyMultipleBook:     Criterion4,
		StrategySimilarReference: Criterion5,
	}
	for s, want := range tests {
		if got := s.Criterion(); got != want {
			t.Errorf("%s.Criterion() = %s, want %s", s, got, want)
		}
	}
}

func TestStrategyCounts(t *testing.T) {
	counts := NewStrategyCounts()
	counts.Add(StrategyDirect, 1, 1)
	counts.Add(StrategyMultipleBank, 1, 3)
	counts.Add(StrategyMultipleBook, 2, 1)
	counts.Add(StrategySimilarReference, 1, 1)
	counts.Finalize(6, 7)

	want := map[Criterion]SideCounts{
		Criterion1: {Book: 2, Bank: 2},
		Criterion2: {},
		Criterion3: {Book: 1, Bank: 3},
		Criterion4: {Book: 2, Bank: 1},
		Criterion5: {Book: 1, Bank: 1},
	}
	for c, w := range want {
		if counts[c] != w {
			t.Errorf("%s = %+v, want %+v", c, counts[c], w)
		}
	}
}

func TestDedupeTrace(t *testing.T) {
	trace := []TraceEntry{
		{BookReference: "A", BankReference: "B", Strategy: StrategyDirect},
		{BookReference: "A", BankReference: "B", Strategy: StrategyDirect},
		{BookReference: "A", BankReference: "B", Strategy: StrategySimilarReference},
	}
	got := DedupeTrace(trace)
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[1].Strategy != StrategySimilarReference {
		t.Errorf("expected order preserved, got %+v", got)
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"100.50", "100.5", false},
		{"$1,234.56", "1234.56", false},
		{" -12 ", "-12", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false},
		{"05/03/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), false},
		{"2024-03-05 10:30:00", time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC), false},
		{"not a date", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeWithFormats(tt.input, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTolerances(t *testing.T) {
	tol := mustDecimal(t, "0.05")

	if !OffsetsWithinTolerance(mustDecimal(t, "-50.00"), mustDecimal(t, "50.05"), tol) {
		t.Error("expected -50.00 and 50.05 to offset within 0.05")
	}
	if OffsetsWithinTolerance(mustDecimal(t, "-50.00"), mustDecimal(t, "50.06"), tol) {
		t.Error("expected -50.00 and 50.06 to fall outside 0.05")
	}
	if !CompareAmountsWithTolerance(mustDecimal(t, "10.00"), mustDecimal(t, "10.05"), tol) {
		t.Error("expected 10.00 and 10.05 within 0.05")
	}

	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !CompareDatesWithTolerance(d, d.AddDate(0, 0, 5), 5) {
		t.Error("expected 5 days to be inside a 5 day window")
	}
	if CompareDatesWithTolerance(d, d.AddDate(0, 0, -6), 5) {
		t.Error("expected 6 days to be outside a 5 day window")
	}

	if got := TruncateToDay(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)); !got.Equal(d) {
		t.Errorf("TruncateToDay = %v, want %v", got, d)
	}
}
