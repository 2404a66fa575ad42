package enrichment

import (
	"runtime"

	"github.com/sourcegraph/conc/iter"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/logger"
)

// Enricher decodes references and normalizes amounts for every entry.
// Entries are independent, so they are processed by a bounded worker pool;
// input order is untouched.
type Enricher struct {
	fees    FeeSchedule
	workers int
	logger  logger.Logger
}

// NewEnricher creates an enricher. workers <= 0 uses GOMAXPROCS.
func NewEnricher(fees FeeSchedule, workers int, log logger.Logger) *Enricher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Enricher{
		fees:    fees,
		workers: workers,
		logger:  log.WithComponent("enrichment"),
	}
}

// EnrichEntry fills the derived fields of a single entry
func (en *Enricher) EnrichEntry(e *models.Entry) {
	parts := DecodeReference(e.Reference)
	e.CardType = parts.CardType
	e.Store = parts.Store
	e.Batch = parts.Batch
	e.ReferenceKey = parts.Key

	en.fees.Apply(e)
}

// Enrich fills the derived fields of all entries. progress may be nil.
func (en *Enricher) Enrich(entries []*models.Entry, progress *logger.ProgressTracker) {
	it := iter.Iterator[*models.Entry]{MaxGoroutines: en.workers}
	it.ForEach(entries, func(e **models.Entry) {
		en.EnrichEntry(*e)
		if progress != nil {
			progress.Increment()
		}
	})

	undecoded := 0
	for _, e := range entries {
		if !e.HasReferenceKey() {
			undecoded++
		}
	}
	if undecoded > 0 {
		en.logger.WithFields(logger.Fields{
			"entries":   len(entries),
			"undecoded": undecoded,
		}).Warn("Some references are too short to decode and will not match on reference key")
	}
}
