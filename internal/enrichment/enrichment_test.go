package enrichment

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/logger"
)

func TestDecodeReference(t *testing.T) {
	tests := []struct {
		reference string
		want      ReferenceParts
	}{
		{"1C123000045X", ReferenceParts{CardType: "C", Store: "123", Batch: "045", Key: "123045"}},
		{"XD12345", ReferenceParts{CardType: "D", Store: "123", Batch: "234", Key: "123234"}},
		{"9E5550001117", ReferenceParts{CardType: "E", Store: "555", Batch: "111", Key: "555111"}},
		{"A123456", ReferenceParts{CardType: "A", Store: "123", Batch: "456", Key: "123456"}},
		{"V001ABC789", ReferenceParts{CardType: "V", Store: "001", Batch: "789", Key: "001789"}},
		{"1c123000045X", ReferenceParts{CardType: "1", Store: "c12", Batch: "45X", Key: "c1245X"}},
		{"ABCDEF", ReferenceParts{}},
		{"", ReferenceParts{}},
	}

	for _, tt := range tests {
		t.Run(tt.reference, func(t *testing.T) {
			got := DecodeReference(tt.reference)
			if got != tt.want {
				t.Errorf("DecodeReference(%q) = %+v, want %+v", tt.reference, got, tt.want)
			}
			if again := DecodeReference(tt.reference); again != got {
				t.Errorf("decoding is not deterministic: %+v vs %+v", got, again)
			}
		})
	}
}

func TestDecodeReferenceTotality(t *testing.T) {
	for n := 0; n < 15; n++ {
		ref := ""
		for i := 0; i < n; i++ {
			ref += string(rune('0' + i%10))
		}
		p := DecodeReference(ref)
		if n < 7 {
			if p != (ReferenceParts{}) {
				t.Errorf("len %d: expected empty parts, got %+v", n, p)
			}
			continue
		}
		if len(p.Store) != 3 || len(p.Batch) != 3 || p.Key != p.Store+p.Batch {
			t.Errorf("len %d: expected 3+3 key, got %+v", n, p)
		}
	}
}

func TestCompareReferenceKeys(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want Similarity
	}{
		{"identical", "123045", "123045", SimilarMatch},
		{"one batch mismatch", "123045", "123046", SimilarMatch},
		{"two batch mismatches", "123045", "123946", SimilarMatch},
		{"three batch mismatches", "123045", "123999", NoRelation},
		{"store differs", "124045", "123045", StoreMismatch},
		{"store differs and batch far", "124045", "123999", NoRelation},
		{"empty key", "", "123045", NoRelation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareReferenceKeys(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareReferenceKeys(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := CompareReferenceKeys(tt.b, tt.a); got != tt.want {
				t.Errorf("comparison is not symmetric for %q, %q: got %v", tt.b, tt.a, got)
			}
		})
	}
}

func TestFeeScheduleApply(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fees := DefaultFeeSchedule()

	tests := []struct {
		name           string
		entry          *models.Entry
		wantAdjusted   string
		wantCommission string
		wantTax        string
		wantCommPct    string
		wantTaxPct     string
	}{
		{
			name:           "book with commission and tax",
			entry:          models.NewBookEntry("1C123000045X", decimal.RequireFromString("-100.00"), date, "01021682", "P"),
			wantAdjusted:   "-104.41",
			wantCommission: "-0.1",
			wantTax:        "-4.31431",
			wantCommPct:    "0.10%",
			wantTaxPct:     "4.31%",
		},
		{
			name:           "lowercase marker",
			entry:          models.NewBookEntry("c99000045X", decimal.RequireFromString("-100.00"), date, "1682", "P"),
			wantAdjusted:   "-104.41",
			wantCommission: "-0.1",
			wantTax:        "-4.31431",
			wantCommPct:    "0.10%",
			wantTaxPct:     "4.31%",
		},
		{
			name:           "book with commission only",
			entry:          models.NewBookEntry("123C00045X", decimal.RequireFromString("-100.00"), date, "01021682", "P"),
			wantAdjusted:   "-100.10",
			wantCommission: "-0.1",
			wantTax:        "0",
			wantCommPct:    "0.10%",
			wantTaxPct:     "0%",
		},
		{
			name:           "bank with tax only",
			entry:          models.NewBankEntry("1C123000045X", decimal.RequireFromString("104.41"), date, "01021682", "AB.LOTE"),
			wantAdjusted:   "108.91",
			wantCommission: "0",
			wantTax:        "4.500071",
			wantCommPct:    "0%",
			wantTaxPct:     "4.31%",
		},
		{
			name:           "account without marker",
			entry:          models.NewBookEntry("1C123000045X", decimal.RequireFromString("-50.125"), date, "01020001", "P"),
			wantAdjusted:   "-50.12",
			wantCommission: "0",
			wantTax:        "0",
			wantCommPct:    "0%",
			wantTaxPct:     "0%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fees.Apply(tt.entry)

			if !tt.entry.AdjustedAmount.Equal(decimal.RequireFromString(tt.wantAdjusted)) {
				t.Errorf("adjusted = %s, want %s", tt.entry.AdjustedAmount, tt.wantAdjusted)
			}
			if !tt.entry.Commission.Equal(decimal.RequireFromString(tt.wantCommission)) {
				t.Errorf("commission = %s, want %s", tt.entry.Commission, tt.wantCommission)
			}
			if !tt.entry.Tax.Equal(decimal.RequireFromString(tt.wantTax)) {
				t.Errorf("tax = %s, want %s", tt.entry.Tax, tt.wantTax)
			}
			if tt.entry.CommissionPercent != tt.wantCommPct || tt.entry.TaxPercent != tt.wantTaxPct {
				t.Errorf("percents = %s / %s, want %s / %s",
					tt.entry.CommissionPercent, tt.entry.TaxPercent, tt.wantCommPct, tt.wantTaxPct)
			}
		})
	}
}

func TestFeeScheduleValidate(t *testing.T) {
	valid := DefaultFeeSchedule()
	if err := valid.Validate(); err != nil {
		t.Errorf("default schedule should be valid: %v", err)
	}

	bad := DefaultFeeSchedule()
	bad.TaxMarker = "CC"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for multi-character marker")
	}

	bad = DefaultFeeSchedule()
	bad.CommissionRate = decimal.RequireFromString("-0.1")
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative commission")
	}
}

func TestEnricherPreservesOrder(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := make([]*models.Entry, 200)
	for i := range entries {
		ref := fmt.Sprintf("V%03d0000%03d", i%1000, i)
		entries[i] = models.NewBankEntry(ref, decimal.NewFromInt(int64(i)), date, "0102", "AB.LOTE")
		entries[i].Index = i
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{Stage: "enrich", Total: 200, Logger: logger.Discard()})
	NewEnricher(DefaultFeeSchedule(), 8, logger.Discard()).Enrich(entries, tracker)

	for i, e := range entries {
		if e.Index != i {
			t.Fatalf("entry %d moved to position %d", e.Index, i)
		}
		want := fmt.Sprintf("%03d%03d", i%1000, i)
		if e.ReferenceKey != want {
			t.Errorf("entry %d: key %q, want %q", i, e.ReferenceKey, want)
		}
	}
	if got := tracker.GetStats().Current; got != 200 {
		t.Errorf("expected 200 progress ticks, got %d", got)
	}
}
