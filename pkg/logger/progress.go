package logger

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultProgressInterval = 5 * time.Second

// ProgressConfig configures a ProgressTracker
type ProgressConfig struct {
	Operation string
	// Total is the expected number of units; 0 when unknown
	Total int64
	// LogInterval is the minimum time between progress lines
	LogInterval time.Duration
	Logger      Logger
}

// ProgressTracker logs the progress of a long loop at most once per interval
type ProgressTracker struct {
	log       Logger
	operation string
	total     int64
	interval  time.Duration
	started   time.Time
	processed atomic.Int64

	mu      sync.Mutex
	lastLog time.Time
}

// NewProgressTracker starts tracking an operation
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	log := config.Logger
	if log == nil {
		log = GetGlobalLogger()
	}
	interval := config.LogInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	now := time.Now()
	return &ProgressTracker{
		log:       log.WithComponent("progress"),
		operation: config.Operation,
		total:     config.Total,
		interval:  interval,
		started:   now,
		lastLog:   now,
	}
}

// Increment records one processed unit
func (p *ProgressTracker) Increment() {
	p.processed.Add(1)

	now := time.Now()
	p.mu.Lock()
	due := now.Sub(p.lastLog) >= p.interval
	if due {
		p.lastLog = now
	}
	p.mu.Unlock()

	if due {
		stats := p.GetStats()
		p.log.WithFields(stats.fields()).Info("Progress update")
	}
}

// Complete logs the final statistics at debug level
func (p *ProgressTracker) Complete() {
	p.log.WithFields(p.GetStats().fields()).Debug("Operation completed")
}

// CompleteWithError logs the statistics of an aborted operation
func (p *ProgressTracker) CompleteWithError(err error) {
	p.log.WithError(err).WithFields(p.GetStats().fields()).Warn("Operation aborted")
}

// GetStats returns a snapshot of the progress
func (p *ProgressTracker) GetStats() ProgressStats {
	stats := ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.processed.Load(),
		Duration:  time.Since(p.started),
	}
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.Rate = float64(stats.Current) / secs
	}
	if stats.Total > 0 {
		stats.Percentage = float64(stats.Current) / float64(stats.Total) * 100
	}
	return stats
}

// ProgressStats is a snapshot of a ProgressTracker
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
}

func (ps ProgressStats) fields() Fields {
	f := Fields{
		"operation": ps.Operation,
		"processed": ps.Current,
		"duration":  ps.Duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", ps.Rate),
	}
	if ps.Total > 0 {
		f["total"] = ps.Total
		f["percentage"] = fmt.Sprintf("%.1f%%", ps.Percentage)
	}
	return f
}

// String renders the snapshot for terminal output
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) at %.2f/sec",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed at %.2f/sec, elapsed: %v",
		ps.Operation, ps.Current, ps.Rate, ps.Duration)
}

// OperationLogger logs the steps and outcome of one service call with its duration
type OperationLogger struct {
	log     Logger
	fields  Fields
	started time.Time
}

// NewOperationLogger starts logging an operation
func NewOperationLogger(operation string, log Logger) *OperationLogger {
	if log == nil {
		log = GetGlobalLogger()
	}
	return &OperationLogger{
		log:     log,
		fields:  Fields{"operation": operation},
		started: time.Now(),
	}
}

// WithField adds a field to every later line
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// WithFields adds fields to every later line
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	for k, v := range fields {
		ol.fields[k] = v
	}
	return ol
}

// Step logs an intermediate step at debug level
func (ol *OperationLogger) Step(step string) {
	ol.log.WithFields(ol.fields).WithField("step", step).Debug("Operation step")
}

// Success logs the successful end of the operation
func (ol *OperationLogger) Success(message string) {
	ol.finish("success").Info(message)
}

// Error logs the failed end of the operation
func (ol *OperationLogger) Error(err error, message string) {
	ol.finish("error").WithError(err).Error(message)
}

// Warning logs a recoverable problem during the operation
func (ol *OperationLogger) Warning(message string) {
	ol.log.WithFields(ol.fields).Warn(message)
}

func (ol *OperationLogger) finish(status string) Logger {
	return ol.log.WithFields(ol.fields).WithFields(Fields{
		"duration": time.Since(ol.started).String(),
		"status":   status,
	})
}
