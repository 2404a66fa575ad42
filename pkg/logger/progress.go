package logger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ProgressTracker counts processed items of a stage. Increment is safe to call
// from concurrent enrichment workers.
type ProgressTracker struct {
	logger      Logger
	stage       string
	total       int64
	current     atomic.Int64
	startTime   time.Time
	logInterval time.Duration

	mu          sync.Mutex
	lastLogTime time.Time
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Stage       string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 2 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		stage:       config.Stage,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"stage": config.Stage,
		"total": config.Total,
	}).Debug("Stage started")

	return tracker
}

// Increment increments the progress counter by 1
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Add increments the progress counter by the given amount
func (p *ProgressTracker) Add(delta int64) {
	current := p.current.Add(delta)

	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.lastLogTime = now
		p.logger.WithFields(p.fields(current, now)).Info("Progress update")
	}
}

// Complete logs final statistics for the stage
func (p *ProgressTracker) Complete() {
	p.logger.WithFields(p.fields(p.current.Load(), time.Now())).Info("Stage completed")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	current := p.current.Load()
	duration := time.Since(p.startTime)

	var percentage float64
	if p.total > 0 {
		percentage = float64(current) / float64(p.total) * 100
	}

	return ProgressStats{
		Stage:      p.stage,
		Total:      p.total,
		Current:    current,
		Percentage: percentage,
		Duration:   duration,
	}
}

func (p *ProgressTracker) fields(current int64, now time.Time) Fields {
	fields := Fields{
		"stage":     p.stage,
		"processed": current,
		"elapsed":   now.Sub(p.startTime).String(),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(current)/float64(p.total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Stage      string        `json:"stage"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) in %v", ps.Stage, ps.Current, ps.Total, ps.Percentage, ps.Duration)
	}
	return fmt.Sprintf("%s: %d processed in %v", ps.Stage, ps.Current, ps.Duration)
}

// TimedStage runs fn and logs its duration and outcome
func TimedStage(stage string, logger Logger, fn func() error) error {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	start := time.Now()
	err := fn()
	fields := Fields{"stage": stage, "duration": time.Since(start).String()}

	if err != nil {
		logger.WithError(err).WithFields(fields).Error("Stage failed")
	} else {
		logger.WithFields(fields).Debug("Stage finished")
	}
	return err
}
