// Package reconciler runs the settlement reconciliation workflow.
//
// A batch moves DRAFT -> IMPORTED -> MATCHED -> CLOSED:
//   - ImportBatch parses a statement and replaces the batch items
//   - AutoMatch pairs PENDING items with received card payments
//   - ResolveItem, IgnoreItem, FlagItem and ConfirmSuggested record operator decisions
//   - CloseBatch finalizes a batch once every item is terminal
//
// Each operation runs in one store transaction and every batch status change
// is a conditional update, so concurrent callers cannot both win.
//
// Example usage:
//
//	service, err := reconciler.NewReconciliationService(st, nil, reconciler.DefaultConfig())
//	result, err := service.ImportBatch(ctx, reconciler.ImportRequest{...})
//	matched, err := service.AutoMatch(ctx, tenantID, batchID)
package reconciler

import (
	"fmt"
	"time"

	"settlement-reconciliation-service/internal/matcher"
	"settlement-reconciliation-service/internal/parsers"
	"settlement-reconciliation-service/internal/payments"
	"settlement-reconciliation-service/internal/store"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	Matching *matcher.MatchingConfig `json:"matching"`
	Parsing  *parsers.ParseConfig    `json:"parsing"`

	// ExcludeBookedPayments hides payments already booked by items of other batches
	ExcludeBookedPayments bool `json:"exclude_booked_payments"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Matching:              matcher.DefaultMatchingConfig(),
		Parsing:               parsers.DefaultParseConfig(),
		ExcludeBookedPayments: true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if c.Parsing == nil {
		return fmt.Errorf("parsing configuration is required")
	}
	if err := c.Parsing.Validate(); err != nil {
		return fmt.Errorf("invalid parsing configuration: %w", err)
	}
	return nil
}

// ReconciliationService implements the batch workflow
type ReconciliationService struct {
	store    store.Store
	finder   payments.Finder
	parser   *parsers.StatementParser
	selector matcher.Selector
	config   *Config
	logger   logger.Logger
	now      func() time.Time
}

// NewReconciliationService creates a service. A nil finder reads payments
// from the store's own database.
func NewReconciliationService(st store.Store, finder payments.Finder, config *Config) (*ReconciliationService, error) {
	if st == nil {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "store", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "reconciler", nil, err)
	}

	log := logger.GetGlobalLogger().WithComponent("reconciler")
	return &ReconciliationService{
		store:  st,
		finder: finder,
		parser: parsers.NewStatementParser(config.Parsing).WithLogger(log),
		config: config,
		logger: log,
		now:    time.Now,
	}, nil
}

// WithLogger replaces the service logger
func (s *ReconciliationService) WithLogger(log logger.Logger) *ReconciliationService {
	s.logger = log.WithComponent("reconciler")
	s.parser.WithLogger(log)
	return s
}

// WithSelector replaces the candidate selection strategy used by AutoMatch
func (s *ReconciliationService) WithSelector(selector matcher.Selector) *ReconciliationService {
	s.selector = selector
	return s
}

// WithClock replaces the time source
func (s *ReconciliationService) WithClock(now func() time.Time) *ReconciliationService {
	s.now = now
	return s
}

// GetMatchingConfig returns a copy of the matching configuration
func (s *ReconciliationService) GetMatchingConfig() *matcher.MatchingConfig {
	return s.config.Matching.Clone()
}

func (s *ReconciliationService) paymentFinder() payments.Finder {
	if s.finder != nil {
		return s.finder
	}
	return s.store
}

func (s *ReconciliationService) engine() *matcher.Engine {
	return matcher.NewEngine(s.config.Matching, s.selector).WithLogger(s.logger)
}
