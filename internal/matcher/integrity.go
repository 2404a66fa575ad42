package matcher

import (
	"ledger-reconciliation-service/internal/models"
	apperrors "ledger-reconciliation-service/pkg/errors"
)

// CheckIntegrity verifies that matched plus unmatched equals the total on each
// side and that every match record refers to a matched entry
func CheckIntegrity(store *RecordStore, result *ReconciliationResult) error {
	sides := []struct {
		idx       *EntryIndex
		matched   []*models.Entry
		unmatched []*models.Entry
	}{
		{store.Book, result.MatchedBook, result.UnmatchedBook},
		{store.Bank, result.MatchedBank, result.UnmatchedBank},
	}

	for _, side := range sides {
		if len(side.matched)+len(side.unmatched) != side.idx.Len() || side.idx.MatchedCount() != len(side.matched) {
			return apperrors.IntegrityError(string(side.idx.Origin()), len(side.matched), len(side.unmatched), side.idx.Len())
		}
	}

	// one record per consumed entry
	var bookRecords, bankRecords int
	for _, r := range result.MatchRecords {
		if r.Origin == models.OriginBook {
			bookRecords++
		} else {
			bankRecords++
		}
	}
	if bookRecords != len(result.MatchedBook) {
		return apperrors.IntegrityError(string(models.OriginBook), bookRecords, len(result.UnmatchedBook), store.Book.Len())
	}
	if bankRecords != len(result.MatchedBank) {
		return apperrors.IntegrityError(string(models.OriginBank), bankRecords, len(result.UnmatchedBank), store.Bank.Len())
	}

	return nil
}
