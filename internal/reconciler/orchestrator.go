// Package reconciler provides high-level orchestration for a reconciliation run.
//
// The Service coordinates one run of the pipeline:
//   - Loading the book ledger and bank statement
//   - Reference decoding and fee normalization
//   - Multi-pass matching, alert scan and integrity check
//   - Summary generation
//
// The Orchestrator wraps a Service with the run lifecycle: the run is
// recorded as RUNNING, exports are written and uploaded, per-criterion
// statistics are published, and the run ends as ACTUALIZADO or ERROR.
//
// Example usage:
//
//	service, err := reconciler.NewService(config, opener, log)
//	orchestrator := reconciler.NewOrchestrator(service, log,
//		reconciler.WithRunRecorder(runs),
//		reconciler.WithExporter(exporter),
//	)
//	outcome, err := orchestrator.Process(ctx, &reconciler.Request{
//		BookURI: "libro.xlsx",
//		BankURI: "banco.xlsx",
//		Month:   3,
//		Year:    2024,
//	})
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// Run statuses
const (
	StatusRunning = "RUNNING"
	StatusUpdated = "ACTUALIZADO"
	StatusError   = "ERROR"
)

// RunRecorder tracks the lifecycle of runs
type RunRecorder interface {
	Start(ctx context.Context, runID string, req *Request) error
	Complete(ctx context.Context, runID string, summary *Summary, exports []string) error
	Fail(ctx context.Context, runID string, cause error) error
}

// Exporter writes the result artifacts of a run and returns their locations
type Exporter interface {
	Export(ctx context.Context, result *Result) ([]string, error)
}

// ArtifactUploader copies exported artifacts to remote storage and returns
// their remote locations
type ArtifactUploader interface {
	Upload(ctx context.Context, runID string, paths []string) ([]string, error)
}

// StatsPublisher receives the per-criterion statistics of a finished run
type StatsPublisher interface {
	Publish(ctx context.Context, result *Result) error
}

// Outcome is what a completed orchestrated run produced
type Outcome struct {
	Result  *Result  `json:"result"`
	Exports []string `json:"exports,omitempty"`
}

// Orchestrator runs a Service and hands its result to the configured sinks
type Orchestrator struct {
	service    *Service
	recorder   RunRecorder
	exporter   Exporter
	uploader   ArtifactUploader
	publishers []StatsPublisher
	logger     logger.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRunRecorder records run status transitions
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithExporter writes run artifacts
func WithExporter(e Exporter) Option {
	return func(o *Orchestrator) { o.exporter = e }
}

// WithUploader uploads exported artifacts
func WithUploader(u ArtifactUploader) Option {
	return func(o *Orchestrator) { o.uploader = u }
}

// WithStatsPublisher adds a statistics sink
func WithStatsPublisher(p StatsPublisher) Option {
	return func(o *Orchestrator) { o.publishers = append(o.publishers, p) }
}

// NewOrchestrator creates a new orchestrator around service
func NewOrchestrator(service *Service, log logger.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	o := &Orchestrator{
		service: service,
		logger:  log.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Service returns the wrapped reconciliation service
func (o *Orchestrator) Service() *Service {
	return o.service
}

// Process runs one reconciliation through every configured sink. A failure at
// any step marks the run as ERROR.
func (o *Orchestrator) Process(ctx context.Context, req *Request) (*Outcome, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	log := o.logger.WithField("run_id", req.RunID)

	if err := req.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInput, errors.CodeInvalidRequest, "invalid reconciliation request")
	}

	if o.recorder != nil {
		if err := o.recorder.Start(ctx, req.RunID, req); err != nil {
			log.WithError(err).Error("Failed to record run start")
			return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodePersistFailed, "failed to record run start")
		}
	}

	outcome, err := o.process(ctx, req)
	if err != nil {
		log.WithError(err).Error("Reconciliation run failed")
		o.fail(ctx, req.RunID, err)
		return nil, err
	}

	if o.recorder != nil {
		if err := o.recorder.Complete(ctx, req.RunID, outcome.Result.Summary, outcome.Exports); err != nil {
			log.WithError(err).Error("Failed to record run completion")
			return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodePersistFailed, "failed to record run completion")
		}
	}

	log.WithFields(logger.Fields{
		"status":  StatusUpdated,
		"exports": len(outcome.Exports),
	}).Info("Run finished")
	return outcome, nil
}

func (o *Orchestrator) process(ctx context.Context, req *Request) (*Outcome, error) {
	result, err := o.service.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{Result: result}

	if o.exporter != nil {
		paths, err := o.exporter.Export(ctx, result)
		if err != nil {
			return nil, err
		}
		outcome.Exports = paths

		if o.uploader != nil && len(paths) > 0 {
			uris, err := o.uploader.Upload(ctx, result.RunID, paths)
			if err != nil {
				return nil, err
			}
			outcome.Exports = uris
		}
	}

	for _, p := range o.publishers {
		if err := p.Publish(ctx, result); err != nil {
			return nil, err
		}
	}

	return outcome, nil
}

// fail records the failure even when ctx was cancelled
func (o *Orchestrator) fail(ctx context.Context, runID string, cause error) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.recorder.Fail(ctx, runID, cause); err != nil {
		o.logger.WithError(err).WithField("run_id", runID).Error("Failed to record run failure")
	}
}

// Progress tracks the pipeline step of a running reconciliation
type Progress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called to report reconciliation progress
type ProgressCallback func(*Progress)

var pipelineSteps = map[string]int{
	"Loading inputs":    0,
	"Enriching entries": 1,
	"Matching":          2,
	"Summarizing":       3,
	"Completed":         4,
}

type progressState struct {
	mu        sync.Mutex
	callbacks []ProgressCallback
	current   Progress
}

func (s *Service) newProgress() *progressState {
	s.mu.RLock()
	callbacks := append([]ProgressCallback(nil), s.progressCallbacks...)
	s.mu.RUnlock()

	return &progressState{
		callbacks: callbacks,
		current: Progress{
			TotalSteps: len(pipelineSteps) - 1,
			StartTime:  time.Now(),
		},
	}
}

func (ps *progressState) step(name string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.current.CurrentStep = name
	ps.current.CompletedSteps = pipelineSteps[name]
	ps.current.ElapsedTime = time.Since(ps.current.StartTime)
	ps.current.PercentComplete = float64(ps.current.CompletedSteps) / float64(ps.current.TotalSteps) * 100

	snapshot := ps.current
	for _, callback := range ps.callbacks {
		callback(&snapshot)
	}
}
