package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

var baseDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newItem(amount string, days int) *models.Item {
	return &models.Item{
		ID:             uuid.New(),
		ExternalDate:   baseDate.AddDate(0, 0, days),
		ExternalAmount: decimal.RequireFromString(amount),
		Status:         models.ItemStatusPending,
	}
}

func newPayment(amount string, days int) *models.Payment {
	received := baseDate.AddDate(0, 0, days).Add(15 * time.Hour)
	return &models.Payment{
		ID:         uuid.New(),
		TenantID:   "tenant-1",
		Method:     models.PaymentMethodCreditCard,
		Status:     models.PaymentStatusReceived,
		Amount:     decimal.RequireFromString(amount),
		ReceivedAt: &received,
		CreatedAt:  received,
	}
}

func testEngine() *Engine {
	return NewEngine(nil, nil).WithLogger(logger.NewNopLogger())
}

func TestEngine_ScenarioA_NSU(t *testing.T) {
	item := newItem("150.00", 0)
	item.ExternalID = "NSU001"
	item.ExternalRef = "AUTH1"
	item.CardBrand = "VISA"

	payment := newPayment("149.50", 5)
	payment.NSU = "NSU001"

	result, err := testEngine().Run(context.Background(), []*models.Item{item}, []*models.Payment{payment})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Matched != 1 || result.Suggested != 0 || result.Unmatched != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if item.Status != models.ItemStatusAutoMatched {
		t.Errorf("expected AUTO_MATCHED, got %s", item.Status)
	}
	if item.MatchConfidence != ConfidenceNSU {
		t.Errorf("expected confidence 95, got %d", item.MatchConfidence)
	}
	if item.MatchedPaymentID == nil || *item.MatchedPaymentID != payment.ID {
		t.Errorf("expected payment %s to be matched", payment.ID)
	}
	if item.DifferenceAmount.Decimal.StringFixed(2) != "0.50" {
		t.Errorf("expected difference 0.50, got %s", item.DifferenceAmount.Decimal.StringFixed(2))
	}

	details, err := DecodeMatchDetails(item)
	if err != nil || details == nil {
		t.Fatalf("expected match details, got %v (%v)", details, err)
	}
	if details.Strategy != StrategyNSU || details.DateGapDays != 5 {
		t.Errorf("unexpected details %+v", details)
	}
}

func TestEngine_NSUTakesPriority(t *testing.T) {
	item := newItem("100.00", 0)
	item.ExternalID = "NSU-9"
	item.ExternalRef = "A1"
	item.CardBrand = "VISA"

	byAuth := newPayment("100.00", 0)
	byAuth.AuthorizationCode = "A1"
	byAuth.CardBrand = "VISA"

	byNSU := newPayment("250.00", 30)
	byNSU.NSU = "NSU-9"

	_, err := testEngine().Run(context.Background(), []*models.Item{item}, []*models.Payment{byAuth, byNSU})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *item.MatchedPaymentID != byNSU.ID {
		t.Errorf("expected the NSU candidate to win over an earlier auth candidate")
	}
	if item.DifferenceAmount.Decimal.StringFixed(2) != "-150.00" {
		t.Errorf("expected difference -150.00, got %s", item.DifferenceAmount.Decimal.StringFixed(2))
	}
}

func TestEngine_EmptyNSUNeverMatches(t *testing.T) {
	item := newItem("100.00", 0)
	payment := newPayment("500.00", 40)

	result, _ := testEngine().Run(context.Background(), []*models.Item{item}, []*models.Payment{payment})
	if result.Unmatched != 1 || item.Status != models.ItemStatusUnmatched {
		t.Errorf("empty NSU values must not be treated as equal, got %s", item.Status)
	}
}

func TestEngine_AmountToleranceBoundary(t *testing.T) {
	tests := []struct {
		name     string
		external string
		payment  string
		matched  bool
	}{
		{"exactly one percent above", "101.00", "100.00", true},
		{"exactly one percent below", "99.00", "100.00", true},
		{"one cent over above", "101.01", "100.00", false},
		{"one cent over below", "98.99", "100.00", false},
		{"equal amounts", "100.00", "100.00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newItem(tt.external, 0)
			item.ExternalRef = "AUTH"
			payment := newPayment(tt.payment, 20)
			payment.AuthorizationCode = "AUTH"

			_, err := testEngine().Run(context.Background(), []*models.Item{item}, []*models.Payment{payment})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.matched {
				if item.Status != models.ItemStatusAutoMatched || item.MatchConfidence != ConfidenceAuth {
					t.Errorf("expected auth match at 85, got %s/%d", item.Status, item.MatchConfidence)
				}
			} else if item.Status != models.ItemStatusUnmatched {
				t.Errorf("expected UNMATCHED, got %s", item.Status)
			}
		})
	}
}

func TestEngine_ScenarioB(t *testing.T) {
	tests := []struct {
		name       string
		gapDays    int
		status     models.ItemStatus
		confidence int
	}{
		{"one day apart", 1, models.ItemStatusAutoMatched, ConfidenceBrand},
		{"two days apart", 2, models.ItemStatusAutoMatched, ConfidenceBrand},
		{"three days apart falls to amount", 3, models.ItemStatusSuggestedMatch, ConfidenceAmount},
		{"four days apart", 4, models.ItemStatusUnmatched, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newItem("100.00", 0)
			item.CardBrand = "visa"
			payment := newPayment("101.00", tt.gapDays)
			payment.CardBrand = "VISA"

			_, err := testEngine().Run(context.Background(), []*models.Item{item}, []*models.Payment{payment})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if item.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, item.Status)
			}
			if item.MatchConfidence != tt.confidence {
				t.Errorf("expected confidence %d, got %d", tt.confidence, item.MatchConfidence)
			}
			if tt.status == models.ItemStatusUnmatched && item.MatchedPaymentID != nil {
				t.Error("unmatched item must not reference a payment")
			}
		})
	}
}

func TestEngine_ScenarioC_GreedyConsumption(t *testing.T) {
	first := newItem("80.00", 0)
	second := newItem("80.00", 0)
	payment := newPayment("80.00", 1)

	result, err := testEngine().Run(context.Background(), []*models.Item{first, second}, []*models.Payment{payment})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.MatchedPaymentID == nil || *first.MatchedPaymentID != payment.ID {
		t.Error("first item must claim the payment")
	}
	if second.Status != models.ItemStatusUnmatched {
		t.Errorf("second item must be UNMATCHED, got %s", second.Status)
	}
	if result.Suggested != 1 || result.Unmatched != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestEngine_TiesKeepFirstCandidate(t *testing.T) {
	item := newItem("50.00", 0)
	firstPayment := newPayment("50.00", 1)
	secondPayment := newPayment("50.00", 0)

	_, err := testEngine().Run(context.Background(), []*models.Item{item}, []*models.Payment{firstPayment, secondPayment})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *item.MatchedPaymentID != firstPayment.ID {
		t.Error("equal scores must keep the first candidate found")
	}
}

func TestEngine_HigherStrategyWinsAcrossCandidates(t *testing.T) {
	item := newItem("200.00", 0)
	item.ExternalRef = "AX"
	item.CardBrand = "MASTER"

	amountOnly := newPayment("200.00", 0)
	brand := newPayment("200.00", 1)
	brand.CardBrand = "master"
	auth := newPayment("199.00", 10)
	auth.AuthorizationCode = "AX"

	_, err := testEngine().Run(context.Background(), []*models.Item{item}, []*models.Payment{amountOnly, brand, auth})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *item.MatchedPaymentID != auth.ID || item.MatchConfidence != ConfidenceAuth {
		t.Errorf("expected auth candidate at 85, got confidence %d", item.MatchConfidence)
	}
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testEngine().Run(ctx, []*models.Item{newItem("10.00", 0)}, []*models.Payment{newPayment("10.00", 0)})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	reconErr, ok := apperrors.AsReconcilerError(err)
	if !ok || reconErr.Code != apperrors.CodeCancelled {
		t.Errorf("expected cancelled error, got %v", err)
	}
}

type fixedSelector struct {
	payment *models.Payment
}

func (f fixedSelector) Select(item *models.Item, candidates []*models.Payment, consumed map[uuid.UUID]bool) *Selection {
	return &Selection{Payment: f.payment, Strategy: StrategyAmountDate, Confidence: 99}
}

func TestEngine_CustomSelector(t *testing.T) {
	payment := newPayment("10.00", 0)
	engine := NewEngine(nil, fixedSelector{payment: payment}).WithLogger(logger.NewNopLogger())

	item := newItem("12.00", 0)
	if _, err := engine.Run(context.Background(), []*models.Item{item}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Status != models.ItemStatusAutoMatched || item.MatchConfidence != 99 {
		t.Errorf("expected selector confidence to drive status, got %s/%d", item.Status, item.MatchConfidence)
	}

	again := newItem("12.00", 0)
	if _, err := engine.Run(context.Background(), []*models.Item{item, again}, nil); err == nil {
		t.Error("expected error when a selector returns a consumed payment")
	}
}
