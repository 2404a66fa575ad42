package matcher

import (
	"github.com/shopspring/decimal"

	"ledger-reconciliation-service/internal/enrichment"
	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/logger"
)

// maxLoggedSubsets bounds the search-space figure reported in logs
const maxLoggedSubsets = 1 << 20

// matchDirectReference pairs each unmatched book entry with the first bank
// entry sharing its reference key inside the date window. An equal adjusted
// amount is tried before an offsetting one.
func (s *runState) matchDirectReference() error {
	for _, book := range s.store.Book.Unmatched() {
		candidates := s.inWindow(book, s.store.Bank.UnmatchedByKey(book.ReferenceKey), s.cfg.DateWindowDays)
		if len(candidates) == 0 {
			continue
		}

		strategy := models.StrategyDirect
		bank := firstWhere(candidates, func(b *models.Entry) bool {
			return b.AdjustedAmount.Equal(book.AdjustedAmount)
		})
		if bank == nil {
			strategy = models.StrategyDirectTolerance
			bank = firstWhere(candidates, func(b *models.Entry) bool {
				return models.OffsetsWithinTolerance(b.AdjustedAmount, book.AdjustedAmount, s.cfg.AmountTolerance)
			})
		}
		if bank == nil {
			continue
		}

		if err := s.emit(strategy, []*models.Entry{book}, []*models.Entry{bank}); err != nil {
			return err
		}
	}
	return nil
}

// matchMultipleBank settles one book entry against a combination of two or
// more bank entries sharing its key. Sizes are tried in increasing order and
// combinations lexicographically; the first one whose sum offsets the book
// amount wins. No date window applies.
func (s *runState) matchMultipleBank() error {
	for _, book := range s.store.Book.Unmatched() {
		candidates := s.store.Bank.UnmatchedByKey(book.ReferenceKey)
		if len(candidates) < 2 {
			continue
		}
		if len(candidates) > s.cfg.MaxCombinationCandidates {
			s.logger.WithFields(logger.Fields{
				"book_reference": book.Reference,
				"candidates":     len(candidates),
				"limit":          s.cfg.MaxCombinationCandidates,
				"pair_subsets":   countCombinations(len(candidates), 2, maxLoggedSubsets),
			}).Warn("Too many bank candidates for combination search, truncating")
			candidates = candidates[:s.cfg.MaxCombinationCandidates]
		}

		combo := s.findOffsettingCombination(book.AdjustedAmount, candidates)
		if combo == nil {
			continue
		}

		if err := s.emit(models.StrategyMultipleBank, []*models.Entry{book}, combo); err != nil {
			return err
		}
	}
	return nil
}

// findOffsettingCombination returns the first subset of candidates, size two
// and up, whose adjusted amounts offset amount within tolerance
func (s *runState) findOffsettingCombination(amount decimal.Decimal, candidates []*models.Entry) []*models.Entry {
	limit := s.cfg.combinationSizeLimit(len(candidates))

	var found []*models.Entry
	for k := 2; k <= limit && found == nil; k++ {
		forEachCombination(len(candidates), k, func(positions []int) bool {
			sum := decimal.Zero
			for _, p := range positions {
				sum = sum.Add(candidates[p].AdjustedAmount)
			}
			if !models.OffsetsWithinTolerance(sum, amount, s.cfg.AmountTolerance) {
				return false
			}
			found = make([]*models.Entry, len(positions))
			for i, p := range positions {
				found[i] = candidates[p]
			}
			return true
		})
	}
	return found
}

// matchMultipleBook settles one bank entry against exactly two unmatched book
// entries sharing its key whose sum offsets it
func (s *runState) matchMultipleBook() error {
	for _, bank := range s.store.Bank.Unmatched() {
		books := s.store.Book.UnmatchedByKey(bank.ReferenceKey)
		if len(books) != 2 {
			continue
		}

		sum := books[0].AdjustedAmount.Add(books[1].AdjustedAmount)
		if !models.OffsetsWithinTolerance(sum, bank.AdjustedAmount, s.cfg.AmountTolerance) {
			continue
		}

		if err := s.emit(models.StrategyMultipleBook, books, []*models.Entry{bank}); err != nil {
			return err
		}
	}
	return nil
}

// matchSimilarReference pairs book and bank entries with offsetting amounts
// inside the date window whose reference keys share the store code and differ
// in at most two batch positions
func (s *runState) matchSimilarReference() error {
	for _, book := range s.store.Book.Unmatched() {
		candidates := s.inWindow(book, s.store.Bank.UnmatchedOffsetting(book.AdjustedAmount, s.cfg.AmountTolerance), s.cfg.DateWindowDays)

		bank := firstWhere(candidates, func(b *models.Entry) bool {
			return enrichment.CompareReferenceKeys(book.ReferenceKey, b.ReferenceKey) == enrichment.SimilarMatch
		})
		if bank == nil {
			continue
		}

		if err := s.emit(models.StrategySimilarReference, []*models.Entry{book}, []*models.Entry{bank}); err != nil {
			return err
		}
	}
	return nil
}

// inWindow keeps the candidates dated within days of book
func (s *runState) inWindow(book *models.Entry, candidates []*models.Entry, days int) []*models.Entry {
	return filterByWindow(s.cfg, book, candidates, days)
}

func filterByWindow(cfg *MatchingConfig, book *models.Entry, candidates []*models.Entry, days int) []*models.Entry {
	out := candidates[:0:0]
	for _, c := range candidates {
		if cfg.IsWithinDays(book.Date, c.Date, days) {
			out = append(out, c)
		}
	}
	return out
}

func firstWhere(entries []*models.Entry, pred func(*models.Entry) bool) *models.Entry {
	for _, e := range entries {
		if pred(e) {
			return e
		}
	}
	return nil
}
