package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-reconciliation-service/internal/enrichment"
	"ledger-reconciliation-service/internal/models"
)

var baseDate = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

// decoded fills the reference tokens the way the enrichment stage does
func decoded(e *models.Entry) *models.Entry {
	p := enrichment.DecodeReference(e.Reference)
	e.CardType, e.Store, e.Batch, e.ReferenceKey = p.CardType, p.Store, p.Batch, p.Key
	return e
}

func bookEntry(ref, amount string, dayOffset int) *models.Entry {
	return decoded(models.NewBookEntry(ref, decimal.RequireFromString(amount), baseDate.AddDate(0, 0, dayOffset), "01020001", "Proveedor"))
}

func bankEntry(ref, amount string, dayOffset int) *models.Entry {
	e := decoded(models.NewBankEntry(ref, decimal.RequireFromString(amount), baseDate.AddDate(0, 0, dayOffset), "01020001", "AB.LOTE"))
	e.LedgerAccount, e.SubAccount, e.BankName = "110201", "0001", "Banco Uno"
	return e
}

func references(entries []*models.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Reference
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewEntryIndex(t *testing.T) {
	entries := []*models.Entry{
		bankEntry("A123000456", "50.00", 0),
		bankEntry("A123999456", "20.00", 0),
		bankEntry("SHORT", "10.00", 0),
		bankEntry("A777000111", "10.00", 0),
	}
	idx := NewEntryIndex(models.OriginBank, entries)

	if idx.Len() != 4 || idx.Origin() != models.OriginBank {
		t.Fatalf("unexpected index shape: len %d origin %s", idx.Len(), idx.Origin())
	}
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("entry %q: index %d, want %d", e.Reference, e.Index, i)
		}
	}

	stats := idx.GetIndexStats()
	if stats.DistinctKeys != 2 {
		t.Errorf("expected 2 distinct keys, got %d", stats.DistinctKeys)
	}
	if stats.LargestGroup != 2 {
		t.Errorf("expected largest group 2, got %d", stats.LargestGroup)
	}
	if stats.Undecoded != 1 {
		t.Errorf("expected 1 undecoded entry, got %d", stats.Undecoded)
	}
}

func TestEntryIndex_UnmatchedByKey(t *testing.T) {
	entries := []*models.Entry{
		bankEntry("A123000456", "50.00", 0),
		bankEntry("SHORT", "10.00", 0),
		bankEntry("B123111456", "20.00", 0),
		bankEntry("NOPE", "10.00", 0),
	}
	idx := NewEntryIndex(models.OriginBank, entries)

	got := references(idx.UnmatchedByKey("123456"))
	if !equalStrings(got, []string{"A123000456", "B123111456"}) {
		t.Errorf("unexpected key lookup: %v", got)
	}

	if got := idx.UnmatchedByKey(""); got != nil {
		t.Errorf("empty key must never join, got %v", references(got))
	}

	if err := idx.MarkMatched(entries[0]); err != nil {
		t.Fatalf("MarkMatched failed: %v", err)
	}
	got = references(idx.UnmatchedByKey("123456"))
	if !equalStrings(got, []string{"B123111456"}) {
		t.Errorf("matched entry still returned: %v", got)
	}
}

func TestEntryIndex_UnmatchedOffsetting(t *testing.T) {
	entries := []*models.Entry{
		bankEntry("A100000001", "50.04", 0),
		bankEntry("A100000002", "49.90", 0),
		bankEntry("A100000003", "50.00", 0),
		bankEntry("A100000004", "-50.00", 0),
		bankEntry("A100000005", "49.95", 0),
	}
	idx := NewEntryIndex(models.OriginBank, entries)

	got := references(idx.UnmatchedOffsetting(decimal.RequireFromString("-50.00"), decimal.RequireFromString("0.05")))
	want := []string{"A100000001", "A100000003", "A100000005"}
	if !equalStrings(got, want) {
		t.Errorf("offsetting lookup = %v, want %v (input order)", got, want)
	}

	_ = idx.MarkMatched(entries[2])
	got = references(idx.UnmatchedOffsetting(decimal.RequireFromString("-50.00"), decimal.RequireFromString("0.05")))
	if !equalStrings(got, []string{"A100000001", "A100000005"}) {
		t.Errorf("matched entry still returned: %v", got)
	}
}

func TestEntryIndex_MarkMatched(t *testing.T) {
	entries := []*models.Entry{bankEntry("A123000456", "50.00", 0)}
	idx := NewEntryIndex(models.OriginBank, entries)

	if err := idx.MarkMatched(entries[0]); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	if err := idx.MarkMatched(entries[0]); err == nil {
		t.Error("expected error when matching an entry twice")
	}

	foreign := bankEntry("A999000456", "1.00", 0)
	foreign.Index = 5
	if err := idx.MarkMatched(foreign); err == nil {
		t.Error("expected error for an entry outside the index")
	}

	if idx.MatchedCount() != 1 || len(idx.Matched()) != 1 || len(idx.Unmatched()) != 0 {
		t.Errorf("unexpected counts: matched %d unmatched %d", len(idx.Matched()), len(idx.Unmatched()))
	}
}

func TestRecordStore_MarkAll(t *testing.T) {
	book := []*models.Entry{bookEntry("A123000456", "-50.00", 0)}
	bank := []*models.Entry{bankEntry("A123000456", "50.00", 0)}
	store := NewRecordStore(book, bank)

	if err := store.MarkAll(book[0], bank[0]); err != nil {
		t.Fatalf("MarkAll failed: %v", err)
	}
	if !store.Book.IsMatched(book[0]) || !store.Bank.IsMatched(bank[0]) {
		t.Error("both sides should be matched")
	}
}

func TestForEachCombination(t *testing.T) {
	var got [][]int
	forEachCombination(4, 2, func(p []int) bool {
		got = append(got, append([]int(nil), p...))
		return false
	})

	want := [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
	if len(got) != len(want) {
		t.Fatalf("got %d combinations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Errorf("combination %d = %v, want %v", i, got[i], want[i])
		}
	}

	visits := 0
	stopped := forEachCombination(5, 3, func(p []int) bool {
		visits++
		return visits == 4
	})
	if !stopped || visits != 4 {
		t.Errorf("expected early stop after 4 visits, got stopped=%v visits=%d", stopped, visits)
	}

	if forEachCombination(2, 3, func([]int) bool { return true }) {
		t.Error("k > n should visit nothing")
	}
}

func TestCountCombinations(t *testing.T) {
	tests := []struct {
		n, k, limit, want int
	}{
		{4, 2, 1000, 6},
		{16, 8, 1000000, 12870},
		{16, 8, 100, 100},
		{3, 5, 10, 0},
	}
	for _, tt := range tests {
		if got := countCombinations(tt.n, tt.k, tt.limit); got != tt.want {
			t.Errorf("countCombinations(%d, %d, %d) = %d, want %d", tt.n, tt.k, tt.limit, got, tt.want)
		}
	}
}
