package matcher

import (
	"strings"

	"github.com/google/uuid"

	"settlement-reconciliation-service/internal/models"
)

// Strategy names the rule that produced a match
type Strategy string

const (
	StrategyNSU             Strategy = "NSU"
	StrategyAuthCodeAmount  Strategy = "AUTH_CODE_AMOUNT"
	StrategyBrandAmountDate Strategy = "BRAND_AMOUNT_DATE"
	StrategyAmountDate      Strategy = "AMOUNT_DATE"
	StrategyNone            Strategy = "NONE"
)

// Confidence scores of the cascade strategies
const (
	ConfidenceNSU    = 95
	ConfidenceAuth   = 85
	ConfidenceBrand  = 70
	ConfidenceAmount = 50
)

// Confidence returns the score attached to a strategy
func (s Strategy) Confidence() int {
	switch s {
	case StrategyNSU:
		return ConfidenceNSU
	case StrategyAuthCodeAmount:
		return ConfidenceAuth
	case StrategyBrandAmountDate:
		return ConfidenceBrand
	case StrategyAmountDate:
		return ConfidenceAmount
	default:
		return 0
	}
}

// Selection is the payment chosen for an item
type Selection struct {
	Payment    *models.Payment
	Strategy   Strategy
	Confidence int
	// Candidates is the number of unconsumed payments that were scored
	Candidates int
	// DateGapDays is the absolute date difference between item and payment
	DateGapDays int
}

// Selector picks the payment for one item among the unconsumed candidates.
// Implementations must not return a consumed payment.
type Selector interface {
	Select(item *models.Item, candidates []*models.Payment, consumed map[uuid.UUID]bool) *Selection
}

// CascadeSelector is the greedy priority-ordered selector
type CascadeSelector struct {
	config *MatchingConfig
}

// NewCascadeSelector creates a cascade selector
func NewCascadeSelector(config *MatchingConfig) *CascadeSelector {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &CascadeSelector{config: config}
}

// Select scores every unconsumed candidate and returns the best one, or nil.
// An NSU hit returns immediately; otherwise ties keep the first candidate found.
func (cs *CascadeSelector) Select(item *models.Item, candidates []*models.Payment, consumed map[uuid.UUID]bool) *Selection {
	var best *Selection
	scored := 0

	for _, payment := range candidates {
		if payment == nil || consumed[payment.ID] {
			continue
		}
		scored++

		strategy := cs.Evaluate(item, payment)
		if strategy == StrategyNone {
			continue
		}

		if strategy == StrategyNSU {
			return cs.selection(item, payment, strategy, scored)
		}
		if best == nil || strategy.Confidence() > best.Confidence {
			best = cs.selection(item, payment, strategy, 0)
		}
	}

	if best != nil {
		best.Candidates = scored
	}
	return best
}

// Evaluate returns the first strategy that pairs item and payment
func (cs *CascadeSelector) Evaluate(item *models.Item, payment *models.Payment) Strategy {
	if item.ExternalID != "" && payment.NSU != "" && item.ExternalID == payment.NSU {
		return StrategyNSU
	}

	amountOK := cs.config.IsWithinAmountTolerance(item.ExternalAmount, payment.Amount)
	if !amountOK {
		return StrategyNone
	}

	if item.ExternalRef != "" && payment.AuthorizationCode != "" && item.ExternalRef == payment.AuthorizationCode {
		return StrategyAuthCodeAmount
	}

	paid := payment.EffectiveDate()

	if item.CardBrand != "" && payment.CardBrand != "" &&
		strings.EqualFold(item.CardBrand, payment.CardBrand) &&
		cs.config.IsWithinDays(item.ExternalDate, paid, cs.config.BrandDateWindowDays) {
		return StrategyBrandAmountDate
	}

	if cs.config.IsWithinDays(item.ExternalDate, paid, cs.config.AmountDateWindowDays) {
		return StrategyAmountDate
	}

	return StrategyNone
}

func (cs *CascadeSelector) selection(item *models.Item, payment *models.Payment, strategy Strategy, scored int) *Selection {
	return &Selection{
		Payment:     payment,
		Strategy:    strategy,
		Confidence:  strategy.Confidence(),
		Candidates:  scored,
		DateGapDays: cs.config.DaysBetween(item.ExternalDate, payment.EffectiveDate()),
	}
}
