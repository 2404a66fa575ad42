package matcher

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/logger"
)

// generateMonth builds n direct pairs, n/10 split settlements and n/10 orphans
// per side. Store codes are disjoint between the groups so passes cannot
// cross-match. n must stay below 700.
func generateMonth(n int) (book, bank []*models.Entry) {
	for i := 0; i < n; i++ {
		ref := fmt.Sprintf("A%03d00%03d", i%1000, i%1000)
		amount := fmt.Sprintf("%d.%02d", 10+i, i%100)
		book = append(book, bookEntry(ref, "-"+amount, i%20))
		bank = append(bank, bankEntry(ref, amount, i%20+i%3))
	}
	for i := 0; i < n/10; i++ {
		ref := fmt.Sprintf("B9%02d11%03d", i, i)
		book = append(book, bookEntry(ref, fmt.Sprintf("-%d.00", 200+i), 0))
		bank = append(bank, bankEntry(ref, "150.00", 25))
		bank = append(bank, bankEntry(ref, fmt.Sprintf("%d.00", 50+i), 25))
	}
	for i := 0; i < n/10; i++ {
		book = append(book, bookEntry(fmt.Sprintf("C8%02d22%03d", i, i), "-1.11", 0))
		bank = append(bank, bankEntry(fmt.Sprintf("F7%02d33%03d", i, 999-i), "7777.77", 28))
	}
	return book, bank
}

func TestFullReconciliationWorkflow(t *testing.T) {
	book, bank := generateMonth(200)

	start := time.Now()
	result := reconcile(t, nil, book, bank)
	t.Logf("reconciled %d book / %d bank entries in %v", len(book), len(bank), time.Since(start))

	if result.Summary.MatchedBook != 220 {
		t.Errorf("matched book = %d, want 220", result.Summary.MatchedBook)
	}
	if result.Summary.MatchedBank != 240 {
		t.Errorf("matched bank = %d, want 240", result.Summary.MatchedBank)
	}
	if result.Summary.UnmatchedBook != 20 || result.Summary.UnmatchedBank != 20 {
		t.Errorf("unmatched = %d/%d, want 20/20", result.Summary.UnmatchedBook, result.Summary.UnmatchedBank)
	}

	if got := result.Counts[models.Criterion1]; got.Book != 200 || got.Bank != 200 {
		t.Errorf("Criterio 1 = %+v", got)
	}
	if got := result.Counts[models.Criterion3]; got.Book != 20 || got.Bank != 40 {
		t.Errorf("Criterio 3 = %+v", got)
	}

	// every entry appears in exactly one record
	seen := make(map[*models.Entry]bool)
	for _, e := range append(result.MatchedBook, result.MatchedBank...) {
		if seen[e] {
			t.Fatalf("entry %s matched twice", e)
		}
		seen[e] = true
	}
	if len(result.MatchRecords) != 460 {
		t.Errorf("expected 460 match records, got %d", len(result.MatchRecords))
	}
	if len(models.DedupeTrace(result.Trace)) != result.Summary.Events {
		t.Errorf("trace rows should be unique per event")
	}
}

func TestReconcileIsDeterministic(t *testing.T) {
	book, bank := generateMonth(100)
	first := reconcile(t, nil, book, bank)

	book, bank = generateMonth(100)
	second := reconcile(t, nil, book, bank)

	if len(first.Trace) != len(second.Trace) {
		t.Fatalf("trace lengths differ: %d vs %d", len(first.Trace), len(second.Trace))
	}
	for i := range first.Trace {
		if first.Trace[i] != second.Trace[i] {
			t.Errorf("trace row %d differs: %+v vs %+v", i, first.Trace[i], second.Trace[i])
		}
	}
}

func TestConcurrentReconciliation(t *testing.T) {
	engine := NewMatchingEngine(nil, logger.Discard())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			book, bank := generateMonth(50)
			result, err := engine.Reconcile(book, bank)
			if err != nil {
				errs <- err
				return
			}
			if result.Summary.MatchedBook != 55 {
				errs <- fmt.Errorf("matched book = %d, want 55", result.Summary.MatchedBook)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
