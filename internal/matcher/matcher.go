package matcher

import (
	"ledger-reconciliation-service/internal/models"
	apperrors "ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// MatchingEngine runs the ordered passes over one book ledger and one bank statement
type MatchingEngine struct {
	Config *MatchingConfig
	logger logger.Logger
}

// ReconciliationResult holds everything a run produces
type ReconciliationResult struct {
	MatchRecords  []models.MatchRecord
	Trace         []models.TraceEntry
	Alerts        []models.AlertEntry
	UnmatchedBook []*models.Entry
	UnmatchedBank []*models.Entry
	MatchedBook   []*models.Entry
	MatchedBank   []*models.Entry
	Counts        models.StrategyCounts
	Summary       ReconciliationSummary
}

// ReconciliationSummary provides aggregate statistics about the run
type ReconciliationSummary struct {
	TotalBook     int         `json:"total_book"`
	TotalBank     int         `json:"total_bank"`
	MatchedBook   int         `json:"matched_book"`
	MatchedBank   int         `json:"matched_bank"`
	UnmatchedBook int         `json:"unmatched_book"`
	UnmatchedBank int         `json:"unmatched_bank"`
	Events        int         `json:"events"`
	Alerts        int         `json:"alerts"`
	Passes        []PassStats `json:"passes"`
}

// PassStats counts what one pass consumed
type PassStats struct {
	Name   string `json:"name"`
	Events int    `json:"events"`
	Book   int    `json:"book"`
	Bank   int    `json:"bank"`
}

// matchPass is one stage of the pipeline. Passes run in order and each one
// only sees entries left unmatched by the previous ones.
type matchPass struct {
	name string
	run  func(*runState) error
}

// passes lists the matching strategies in execution order
var passes = []matchPass{
	{name: "direct_reference", run: (*runState).matchDirectReference},
	{name: "multiple_bank", run: (*runState).matchMultipleBank},
	{name: "multiple_book", run: (*runState).matchMultipleBook},
	{name: "similar_reference", run: (*runState).matchSimilarReference},
}

// runState carries the record store and the outputs through the passes
type runState struct {
	cfg     *MatchingConfig
	store   *RecordStore
	logger  logger.Logger
	records []models.MatchRecord
	trace   []models.TraceEntry
	counts  models.StrategyCounts
	events  int

	// current pass counters
	pass PassStats
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig, log logger.Logger) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &MatchingEngine{
		Config: config,
		logger: log.WithComponent("matcher"),
	}
}

// Reconcile matches enriched book and bank entries. Entries must already carry
// their reference keys and adjusted amounts. The only error outcomes are an
// invalid configuration and an integrity violation.
func (me *MatchingEngine) Reconcile(book, bank []*models.Entry) (*ReconciliationResult, error) {
	if err := me.Config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "matching", me.Config.String(), err)
	}

	state := &runState{
		cfg:    me.Config,
		store:  NewRecordStore(book, bank),
		logger: me.logger,
		counts: models.NewStrategyCounts(),
	}

	me.logger.WithFields(logger.Fields{
		"book_entries": len(book),
		"bank_entries": len(bank),
		"book_index":   state.store.Book.GetIndexStats(),
		"bank_index":   state.store.Bank.GetIndexStats(),
	}).Debug("Record store built")

	var passStats []PassStats
	for _, p := range passes {
		state.pass = PassStats{Name: p.name}
		if err := p.run(state); err != nil {
			return nil, apperrors.InternalError(apperrors.CodeUnexpectedError, "pass "+p.name, err)
		}
		passStats = append(passStats, state.pass)

		me.logger.WithFields(logger.Fields{
			"pass":   p.name,
			"events": state.pass.Events,
			"book":   state.pass.Book,
			"bank":   state.pass.Bank,
		}).Info("Matching pass completed")
	}

	alerts := ScanAlerts(me.Config, state.store)

	result := &ReconciliationResult{
		MatchRecords:  state.records,
		Trace:         state.trace,
		Alerts:        alerts,
		UnmatchedBook: state.store.Book.Unmatched(),
		UnmatchedBank: state.store.Bank.Unmatched(),
		MatchedBook:   state.store.Book.Matched(),
		MatchedBank:   state.store.Bank.Matched(),
		Counts:        state.counts,
	}

	if err := CheckIntegrity(state.store, result); err != nil {
		me.logger.WithError(err).Error("Integrity check failed")
		return nil, err
	}

	result.Counts.Finalize(len(result.MatchedBook), len(result.MatchedBank))
	result.Summary = ReconciliationSummary{
		TotalBook:     state.store.Book.Len(),
		TotalBank:     state.store.Bank.Len(),
		MatchedBook:   len(result.MatchedBook),
		MatchedBank:   len(result.MatchedBank),
		UnmatchedBook: len(result.UnmatchedBook),
		UnmatchedBank: len(result.UnmatchedBank),
		Events:        state.events,
		Alerts:        len(alerts),
		Passes:        passStats,
	}

	me.logger.WithFields(logger.Fields{
		"matched_book":   result.Summary.MatchedBook,
		"matched_bank":   result.Summary.MatchedBank,
		"unmatched_book": result.Summary.UnmatchedBook,
		"unmatched_bank": result.Summary.UnmatchedBank,
		"alerts":         result.Summary.Alerts,
	}).Info("Reconciliation completed")

	return result, nil
}

// emit records one reconciliation event: marks every entry matched, appends one
// MatchRecord per entry (book side first) and one trace row.
func (s *runState) emit(strategy models.Strategy, book, bank []*models.Entry) error {
	participants := make([]*models.Entry, 0, len(book)+len(bank))
	participants = append(participants, book...)
	participants = append(participants, bank...)
	if err := s.store.MarkAll(participants...); err != nil {
		return err
	}

	s.events++
	for _, e := range participants {
		s.records = append(s.records, models.NewMatchRecord(e, strategy, s.events))
	}
	s.trace = append(s.trace, models.NewTraceEntry(book, bank, strategy))
	s.counts.Add(strategy, len(book), len(bank))

	s.pass.Events++
	s.pass.Book += len(book)
	s.pass.Bank += len(bank)

	s.logger.WithFields(logger.Fields{
		"strategy": strategy,
		"event":    s.events,
		"book":     models.JoinReferences(book),
		"bank":     models.JoinReferences(bank),
	}).Debug("Match recorded")
	return nil
}

// ValidateConfiguration validates the engine configuration
func (me *MatchingEngine) ValidateConfiguration() error {
	return me.Config.Validate()
}

// GetConfiguration returns the current matching configuration
func (me *MatchingEngine) GetConfiguration() *MatchingConfig {
	return me.Config
}

// UpdateConfiguration swaps the matching configuration after validating it
func (me *MatchingEngine) UpdateConfiguration(config *MatchingConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	me.Config = config
	return nil
}
