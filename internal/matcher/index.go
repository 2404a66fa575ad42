package matcher

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"ledger-reconciliation-service/internal/models"
)

// EntryIndex holds one side of the reconciliation with its matched flags and
// the lookups the passes need. All lookups return entries in input order.
type EntryIndex struct {
	origin  models.Origin
	entries []*models.Entry
	matched []bool

	// keyIndex maps reference keys to entry positions
	keyIndex map[string][]int

	// amountIndex is sorted by adjusted amount, then position
	amountIndex []int
}

// NewEntryIndex indexes entries. Each entry's Index is set to its position.
func NewEntryIndex(origin models.Origin, entries []*models.Entry) *EntryIndex {
	idx := &EntryIndex{
		origin:      origin,
		entries:     entries,
		matched:     make([]bool, len(entries)),
		keyIndex:    make(map[string][]int),
		amountIndex: make([]int, len(entries)),
	}

	for i, e := range entries {
		e.Index = i
		if e.HasReferenceKey() {
			idx.keyIndex[e.ReferenceKey] = append(idx.keyIndex[e.ReferenceKey], i)
		}
		idx.amountIndex[i] = i
	}

	sort.SliceStable(idx.amountIndex, func(a, b int) bool {
		return entries[idx.amountIndex[a]].AdjustedAmount.LessThan(entries[idx.amountIndex[b]].AdjustedAmount)
	})

	return idx
}

// Origin returns the side this index holds
func (idx *EntryIndex) Origin() models.Origin {
	return idx.origin
}

// Len returns the number of entries
func (idx *EntryIndex) Len() int {
	return len(idx.entries)
}

// Entries returns all entries in input order
func (idx *EntryIndex) Entries() []*models.Entry {
	return idx.entries
}

// IsMatched reports whether e has been consumed by a pass
func (idx *EntryIndex) IsMatched(e *models.Entry) bool {
	return idx.matched[e.Index]
}

// MarkMatched flags e as consumed. Matching an entry twice is an engine defect.
func (idx *EntryIndex) MarkMatched(e *models.Entry) error {
	if e.Index < 0 || e.Index >= len(idx.entries) || idx.entries[e.Index] != e {
		return fmt.Errorf("%s entry %q does not belong to this index", idx.origin, e.Reference)
	}
	if idx.matched[e.Index] {
		return fmt.Errorf("%s entry %q is already matched", idx.origin, e.Reference)
	}
	idx.matched[e.Index] = true
	return nil
}

// Unmatched returns the entries not yet consumed
func (idx *EntryIndex) Unmatched() []*models.Entry {
	out := make([]*models.Entry, 0, len(idx.entries))
	for i, e := range idx.entries {
		if !idx.matched[i] {
			out = append(out, e)
		}
	}
	return out
}

// Matched returns the entries consumed by any pass
func (idx *EntryIndex) Matched() []*models.Entry {
	out := make([]*models.Entry, 0, len(idx.entries))
	for i, e := range idx.entries {
		if idx.matched[i] {
			out = append(out, e)
		}
	}
	return out
}

// MatchedCount returns how many entries have been consumed
func (idx *EntryIndex) MatchedCount() int {
	n := 0
	for _, m := range idx.matched {
		if m {
			n++
		}
	}
	return n
}

// UnmatchedByKey returns unmatched entries sharing key. An empty key matches nothing.
func (idx *EntryIndex) UnmatchedByKey(key string) []*models.Entry {
	if key == "" {
		return nil
	}
	positions := idx.keyIndex[key]
	out := make([]*models.Entry, 0, len(positions))
	for _, i := range positions {
		if !idx.matched[i] {
			out = append(out, idx.entries[i])
		}
	}
	return out
}

// UnmatchedOffsetting returns unmatched entries whose adjusted amount a
// satisfies |a + amount| <= tolerance
func (idx *EntryIndex) UnmatchedOffsetting(amount, tolerance decimal.Decimal) []*models.Entry {
	target := amount.Neg()
	lo := target.Sub(tolerance)
	hi := target.Add(tolerance)

	start := sort.Search(len(idx.amountIndex), func(k int) bool {
		return idx.entries[idx.amountIndex[k]].AdjustedAmount.GreaterThanOrEqual(lo)
	})

	var positions []int
	for k := start; k < len(idx.amountIndex); k++ {
		i := idx.amountIndex[k]
		if idx.entries[i].AdjustedAmount.GreaterThan(hi) {
			break
		}
		if !idx.matched[i] {
			positions = append(positions, i)
		}
	}

	sort.Ints(positions)
	out := make([]*models.Entry, len(positions))
	for k, i := range positions {
		out[k] = idx.entries[i]
	}
	return out
}

// IndexStats provides statistics about an index
type IndexStats struct {
	Entries      int `json:"entries"`
	Matched      int `json:"matched"`
	DistinctKeys int `json:"distinct_keys"`
	LargestGroup int `json:"largest_group"`
	Undecoded    int `json:"undecoded"`
}

// GetIndexStats returns statistics about the index
func (idx *EntryIndex) GetIndexStats() IndexStats {
	stats := IndexStats{
		Entries:      len(idx.entries),
		Matched:      idx.MatchedCount(),
		DistinctKeys: len(idx.keyIndex),
	}
	indexed := 0
	for _, positions := range idx.keyIndex {
		indexed += len(positions)
		if len(positions) > stats.LargestGroup {
			stats.LargestGroup = len(positions)
		}
	}
	stats.Undecoded = len(idx.entries) - indexed
	return stats
}

// RecordStore holds both sides of a run
type RecordStore struct {
	Book *EntryIndex
	Bank *EntryIndex
}

// NewRecordStore indexes both ledgers
func NewRecordStore(book, bank []*models.Entry) *RecordStore {
	return &RecordStore{
		Book: NewEntryIndex(models.OriginBook, book),
		Bank: NewEntryIndex(models.OriginBank, bank),
	}
}

// side returns the index holding entries of origin
func (rs *RecordStore) side(origin models.Origin) *EntryIndex {
	if origin == models.OriginBook {
		return rs.Book
	}
	return rs.Bank
}

// MarkAll flags every entry of an event as matched
func (rs *RecordStore) MarkAll(entries ...*models.Entry) error {
	for _, e := range entries {
		if err := rs.side(e.Origin).MarkMatched(e); err != nil {
			return err
		}
	}
	return nil
}
