package matcher

import (
	"ledger-reconciliation-service/internal/enrichment"
	"ledger-reconciliation-service/internal/models"
)

// ScanAlerts flags unmatched book entries that have an offsetting unmatched
// bank entry inside the alert window whose store code differs. The alert lists
// every amount and date compatible bank reference. Matched state is not touched.
func ScanAlerts(cfg *MatchingConfig, store *RecordStore) []models.AlertEntry {
	var alerts []models.AlertEntry

	for _, book := range store.Book.Unmatched() {
		candidates := filterByWindow(cfg, book,
			store.Bank.UnmatchedOffsetting(book.AdjustedAmount, cfg.AmountTolerance), cfg.AlertWindowDays)

		for _, bank := range candidates {
			if enrichment.CompareReferenceKeys(book.ReferenceKey, bank.ReferenceKey) != enrichment.StoreMismatch {
				continue
			}
			alerts = append(alerts, models.AlertEntry{
				BookReference:  book.Reference,
				BankReferences: models.JoinReferences(candidates),
				Reason:         models.AlertReasonSimilarCriteria,
			})
			break
		}
	}

	return alerts
}
