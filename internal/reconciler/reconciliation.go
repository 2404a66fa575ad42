package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger-reconciliation-service/internal/enrichment"
	"ledger-reconciliation-service/internal/matcher"
	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/parsers"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// Service runs one reconciliation: load, enrich, match, summarize
type Service struct {
	mu       sync.RWMutex
	config   *Config
	loader   *parsers.Loader
	enricher *enrichment.Enricher
	engine   *matcher.MatchingEngine
	logger   logger.Logger

	progressCallbacks []ProgressCallback
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Parsing  *parsers.ParserConfig
	Fees     enrichment.FeeSchedule
	Matching *matcher.MatchingConfig

	// Workers bounds the enrichment pool; 0 uses GOMAXPROCS
	Workers int

	// ProgressReporting logs per-entry progress during enrichment
	ProgressReporting bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Parsing:  parsers.DefaultParserConfig(),
		Fees:     enrichment.DefaultFeeSchedule(),
		Matching: matcher.DefaultMatchingConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Parsing == nil {
		return fmt.Errorf("parsing configuration is required")
	}
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", c.Workers)
	}
	if err := c.Parsing.Validate(); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	if err := c.Fees.Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	return nil
}

// Request identifies the two inputs and the accounting period of a run
type Request struct {
	BookURI    string `json:"archivo_libro"`
	BankURI    string `json:"archivo_banco"`
	Month      int    `json:"month"`
	Year       int    `json:"year"`
	ExternalID string `json:"id,omitempty"`

	// RunID is assigned by the caller when the run is recorded before it
	// starts; empty means one is generated
	RunID string `json:"-"`
}

// Validate validates the reconciliation request
func (r *Request) Validate() error {
	if r.BookURI == "" {
		return fmt.Errorf("book ledger location is required")
	}
	if r.BankURI == "" {
		return fmt.Errorf("bank statement location is required")
	}
	if r.Month < 0 || r.Month > 12 {
		return fmt.Errorf("month must be between 0 (unset) and 12, got %d", r.Month)
	}
	if r.Year < 0 {
		return fmt.Errorf("year cannot be negative, got %d", r.Year)
	}
	return nil
}

// Period returns the accounting period as YYYY-MM, or "" when unset
func (r *Request) Period() string {
	if r.Month == 0 || r.Year == 0 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", r.Year, r.Month)
}

// Result contains the complete results of one run
type Result struct {
	RunID       string                        `json:"run_id"`
	Request     *Request                      `json:"request,omitempty"`
	Summary     *Summary                      `json:"summary"`
	Matching    *matcher.ReconciliationResult `json:"-"`
	BookStats   *parsers.ParseStats           `json:"book_stats,omitempty"`
	BankStats   *parsers.ParseStats           `json:"bank_stats,omitempty"`
	ProcessedAt time.Time                     `json:"processed_at"`
	Duration    time.Duration                 `json:"duration"`
}

// NewService creates a reconciliation service reading inputs through opener.
// opener may be nil when only ReconcileEntries is used.
func NewService(config *Config, opener parsers.Opener, log logger.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciliation", nil, err)
	}

	loader, err := parsers.NewLoader(config.Parsing, opener, log)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:   config,
		loader:   loader,
		enricher: enrichment.NewEnricher(config.Fees, config.Workers, log),
		engine:   matcher.NewMatchingEngine(config.Matching, log),
		logger:   log.WithComponent("reconciler"),
	}, nil
}

// AddProgressCallback registers a callback notified at each pipeline step
func (s *Service) AddProgressCallback(callback ProgressCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressCallbacks = append(s.progressCallbacks, callback)
}

// Run loads both inputs and reconciles them
func (s *Service) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInput, errors.CodeInvalidRequest, "invalid reconciliation request").
			WithSuggestion("provide both input locations and a valid period")
	}

	progress := s.newProgress()
	startTime := time.Now()

	s.logger.WithFields(logger.Fields{
		"book":   req.BookURI,
		"bank":   req.BankURI,
		"period": req.Period(),
	}).Info("Starting reconciliation run")

	progress.step("Loading inputs")
	var ds *parsers.Dataset
	err := logger.TimedStage("load", s.logger, func() error {
		var err error
		ds, err = s.loader.Load(ctx, req.BookURI, req.BankURI)
		return err
	})
	if err != nil {
		return nil, err
	}

	result, err := s.reconcile(ds, progress)
	if err != nil {
		return nil, err
	}

	if req.RunID != "" {
		result.RunID = req.RunID
	}
	result.Request = req
	result.ProcessedAt = startTime
	result.Duration = time.Since(startTime)
	progress.step("Completed")

	s.logger.WithFields(logger.Fields{
		"run_id":   result.RunID,
		"duration": result.Duration.String(),
	}).Info("Reconciliation run completed")

	return result, nil
}

// ReconcileEntries reconciles already parsed entries. rawBank is the bank row
// count before the settlement filter; pass len(bank) when there was none.
func (s *Service) ReconcileEntries(book, bank []*models.Entry, rawBank int) (*Result, error) {
	ds := &parsers.Dataset{
		Book:      book,
		Bank:      bank,
		BookStats: &parsers.ParseStats{Source: "memory", RawRows: len(book), RowsValid: len(book)},
		BankStats: &parsers.ParseStats{Source: "memory", RawRows: rawBank, RowsValid: len(bank)},
	}

	startTime := time.Now()
	result, err := s.reconcile(ds, s.newProgress())
	if err != nil {
		return nil, err
	}
	result.ProcessedAt = startTime
	result.Duration = time.Since(startTime)
	return result, nil
}

func (s *Service) reconcile(ds *parsers.Dataset, progress *progressState) (*Result, error) {
	s.mu.RLock()
	enricher, engine, reporting := s.enricher, s.engine, s.config.ProgressReporting
	s.mu.RUnlock()

	progress.step("Enriching entries")
	var tracker *logger.ProgressTracker
	if reporting {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Stage:  "enrichment",
			Total:  int64(len(ds.Book) + len(ds.Bank)),
			Logger: s.logger,
		})
	}
	all := make([]*models.Entry, 0, len(ds.Book)+len(ds.Bank))
	all = append(all, ds.Book...)
	all = append(all, ds.Bank...)
	enricher.Enrich(all, tracker)
	if tracker != nil {
		tracker.Complete()
	}

	progress.step("Matching")
	var matched *matcher.ReconciliationResult
	err := logger.TimedStage("match", s.logger, func() error {
		var err error
		matched, err = engine.Reconcile(ds.Book, ds.Bank)
		return err
	})
	if err != nil {
		return nil, err
	}

	progress.step("Summarizing")
	rawBank := len(ds.Bank)
	if ds.BankStats != nil {
		rawBank = ds.BankStats.RawRows
	}

	return &Result{
		RunID:     uuid.NewString(),
		Summary:   Summarize(ds.Book, rawBank, matched),
		Matching:  matched,
		BookStats: ds.BookStats,
		BankStats: ds.BankStats,
	}, nil
}

// UpdateConfiguration swaps the fee schedule and matching tolerances used by
// subsequent runs. Parsing settings are fixed for the life of the service.
func (s *Service) UpdateConfiguration(fees enrichment.FeeSchedule, matching *matcher.MatchingConfig) error {
	if err := fees.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "fees", nil, err)
	}
	if err := matching.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", matching.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := *s.config
	cfg.Fees = fees
	cfg.Matching = matching.Clone()
	s.config = &cfg
	s.enricher = enrichment.NewEnricher(cfg.Fees, cfg.Workers, s.logger)
	s.engine = matcher.NewMatchingEngine(cfg.Matching, s.logger)

	s.logger.WithField("matching", cfg.Matching.String()).Info("Configuration updated")
	return nil
}

// GetConfiguration returns the current configuration
func (s *Service) GetConfiguration() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}
