package matcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// Engine runs the matching cascade over a batch
type Engine struct {
	config   *MatchingConfig
	selector Selector
	logger   logger.Logger
}

// Result summarizes one run
type Result struct {
	Matched   int `json:"matched"`
	Suggested int `json:"suggested"`
	Unmatched int `json:"unmatched"`
	// Candidates is the number of payments considered
	Candidates int `json:"candidates"`
}

// MatchDetails is stored on each matched item for audit
type MatchDetails struct {
	Strategy         Strategy `json:"strategy"`
	Confidence       int      `json:"confidence"`
	CandidateCount   int      `json:"candidateCount"`
	DateGapDays      int      `json:"dateGapDays"`
	AmountDifference string   `json:"amountDifference"`
	Tolerance        string   `json:"tolerance"`
}

// NewEngine creates a matching engine. A nil config uses the defaults and a
// nil selector uses the cascade.
func NewEngine(config *MatchingConfig, selector Selector) *Engine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if selector == nil {
		selector = NewCascadeSelector(config)
	}
	return &Engine{
		config:   config,
		selector: selector,
		logger:   logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// WithLogger replaces the engine's logger
func (e *Engine) WithLogger(log logger.Logger) *Engine {
	e.logger = log.WithComponent("matcher")
	return e
}

// Run matches items against payments in item order. Items are updated in
// place; a payment is used by at most one item. Cancellation of ctx aborts
// the run with a reconciliation error and leaves the items partially updated,
// so callers must not persist them.
func (e *Engine) Run(ctx context.Context, items []*models.Item, payments []*models.Payment) (*Result, error) {
	consumed := make(map[uuid.UUID]bool, len(payments))
	result := &Result{Candidates: len(payments)}

	opLogger := logger.NewOperationLogger("auto_match", e.logger).WithFields(logger.Fields{
		"items":    len(items),
		"payments": len(payments),
	})
	opLogger.Step("starting")

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "auto_match",
		Total:       int64(len(items)),
		LogInterval: e.config.ProgressLogInterval,
		Logger:      e.logger,
	})

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			cancelErr := apperrors.ReconciliationError(apperrors.CodeCancelled, "auto_match", err)
			progress.CompleteWithError(cancelErr)
			return nil, cancelErr
		}

		selection := e.selector.Select(item, payments, consumed)
		if selection == nil {
			item.ClearMatch()
			item.Status = models.ItemStatusUnmatched
			result.Unmatched++
			progress.Increment()
			continue
		}
		if consumed[selection.Payment.ID] {
			return nil, apperrors.ReconciliationError(apperrors.CodeMatchingFailed, "auto_match",
				fmt.Errorf("selector returned consumed payment %s", selection.Payment.ID))
		}

		consumed[selection.Payment.ID] = true
		e.apply(item, selection)

		if item.Status == models.ItemStatusAutoMatched {
			result.Matched++
		} else {
			result.Suggested++
		}
		progress.Increment()
	}

	progress.Complete()
	opLogger.WithFields(logger.Fields{
		"matched":   result.Matched,
		"suggested": result.Suggested,
		"unmatched": result.Unmatched,
	}).Success("finished")

	return result, nil
}

func (e *Engine) apply(item *models.Item, selection *Selection) {
	item.ApplyPayment(selection.Payment)
	item.MatchConfidence = selection.Confidence
	if selection.Confidence >= e.config.AutoAcceptThreshold {
		item.Status = models.ItemStatusAutoMatched
	} else {
		item.Status = models.ItemStatusSuggestedMatch
	}

	difference := decimal.Zero
	if item.DifferenceAmount.Valid {
		difference = item.DifferenceAmount.Decimal
	}
	details := MatchDetails{
		Strategy:         selection.Strategy,
		Confidence:       selection.Confidence,
		CandidateCount:   selection.Candidates,
		DateGapDays:      selection.DateGapDays,
		AmountDifference: difference.StringFixed(2),
		Tolerance:        e.config.GetAmountTolerance(selection.Payment.Amount).StringFixed(4),
	}
	if raw, err := json.Marshal(details); err == nil {
		item.MatchDetails = raw
	}
}

// DecodeMatchDetails reads the details stored on an item
func DecodeMatchDetails(item *models.Item) (*MatchDetails, error) {
	if len(item.MatchDetails) == 0 {
		return nil, nil
	}
	var details MatchDetails
	if err := json.Unmarshal(item.MatchDetails, &details); err != nil {
		return nil, err
	}
	return &details, nil
}
