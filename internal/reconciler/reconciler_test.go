package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-service/internal/matcher"
	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/store"
	"settlement-reconciliation-service/internal/templates"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

const (
	tenant = "tenant-1"
	user   = "user-1"
)

var clock = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	store    *store.GormStore
	service  *ReconciliationService
	template *models.Template
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(store.Options{
		Driver:          store.DriverSQLite,
		DSN:             "file::memory:",
		MigratePayments: true,
		Logger:          logger.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := templates.NewRegistry(st).WithLogger(logger.NewNopLogger())
	_, err = registry.SeedDefaultTemplates(ctx, tenant)
	require.NoError(t, err)
	generic, err := registry.GetByName(ctx, tenant, templates.GenericTemplateName)
	require.NoError(t, err)

	service, err := NewReconciliationService(st, nil, DefaultConfig())
	require.NoError(t, err)
	service.WithLogger(logger.NewNopLogger()).WithClock(func() time.Time { return clock })

	return &fixture{ctx: ctx, store: st, service: service, template: generic}
}

func (f *fixture) payment(t *testing.T, amount, nsu, brand string, day int) *models.Payment {
	t.Helper()
	received := time.Date(2026, 3, day, 15, 0, 0, 0, time.UTC)
	p := &models.Payment{
		ID:         uuid.New(),
		TenantID:   tenant,
		Method:     models.PaymentMethodCreditCard,
		Status:     models.PaymentStatusReceived,
		Amount:     decimal.RequireFromString(amount),
		NSU:        nsu,
		CardBrand:  brand,
		ReceivedAt: &received,
		CreatedAt:  received,
	}
	require.NoError(t, f.store.InsertPayments(f.ctx, p))
	return p
}

func (f *fixture) importStatement(t *testing.T, content string) (*models.Batch, *ImportResult) {
	t.Helper()
	batch, err := f.service.CreateBatch(f.ctx, tenant, "statement.csv", &f.template.ID)
	require.NoError(t, err)
	result, err := f.service.ImportBatch(f.ctx, ImportRequest{
		TenantID: tenant,
		BatchID:  batch.ID,
		Content:  []byte(content),
	})
	require.NoError(t, err)
	return batch, result
}

func (f *fixture) items(t *testing.T, batchID uuid.UUID) []*models.Item {
	t.Helper()
	items, err := f.service.ListItems(f.ctx, tenant, batchID)
	require.NoError(t, err)
	return items
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	rerr, ok := apperrors.AsReconcilerError(err)
	require.True(t, ok, "expected a ReconcilerError, got %v", err)
	assert.Equal(t, code, rerr.Code, rerr.Message)
}

const statement = "10/03/2026;NSU001;AUTH1;VISA;1234;1;150,00\n" +
	"12/03/2026;;;MASTERCARD;;;200,00\n" +
	"14/03/2026;;;VISA;;;80,00\n" +
	"not-a-date;;;;;;1,00\n"

func TestReconciliationService_FullWorkflow(t *testing.T) {
	f := newFixture(t)
	nsuPayment := f.payment(t, "150.00", "NSU001", "VISA", 10)
	f.payment(t, "200.00", "", "MASTERCARD", 15)
	manualPayment := f.payment(t, "79.00", "", "VISA", 20)

	batch, imported := f.importStatement(t, statement)
	assert.Equal(t, 3, imported.Imported)
	assert.Equal(t, 1, imported.ErrorCount)
	assert.Equal(t, "430.00", imported.TotalAmount.StringFixed(2))

	t.Run("reimport replaces items", func(t *testing.T) {
		again, err := f.service.ImportBatch(f.ctx, ImportRequest{TenantID: tenant, BatchID: batch.ID, Content: []byte(statement)})
		require.NoError(t, err)
		assert.Equal(t, 3, again.Imported)

		loaded, err := f.service.GetBatch(f.ctx, tenant, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusImported, loaded.Status)
		assert.Equal(t, 3, loaded.TotalItems)
		assert.Equal(t, 3, loaded.UnmatchedCount)
		assert.Len(t, f.items(t, batch.ID), 3)

		summary, err := f.service.Summary(f.ctx, tenant, batch.ID)
		require.NoError(t, err)
		assert.True(t, summary.TotalAmount.Equal(loaded.TotalAmount), "batch total must equal the item sum")
	})

	t.Run("close requires a matched batch", func(t *testing.T) {
		_, err := f.service.CloseBatch(f.ctx, tenant, batch.ID, user)
		requireCode(t, err, apperrors.CodeInvalidState)
	})

	t.Run("auto-match", func(t *testing.T) {
		result, err := f.service.AutoMatch(f.ctx, tenant, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Matched)
		assert.Equal(t, 1, result.Suggested)
		assert.Equal(t, 1, result.Unmatched)
		assert.Equal(t, models.BatchStatusMatched, result.Batch.Status)
		assert.Equal(t, 2, result.Batch.MatchedCount)
		assert.Equal(t, 1, result.Batch.UnmatchedCount)

		items := f.items(t, batch.ID)
		assert.Equal(t, models.ItemStatusAutoMatched, items[0].Status)
		assert.Equal(t, matcher.ConfidenceNSU, items[0].MatchConfidence)
		assert.Equal(t, nsuPayment.ID, *items[0].MatchedPaymentID)
		assert.Equal(t, models.ItemStatusSuggestedMatch, items[1].Status)
		assert.Equal(t, matcher.ConfidenceAmount, items[1].MatchConfidence)
		assert.Equal(t, models.ItemStatusUnmatched, items[2].Status)

		details, err := matcher.DecodeMatchDetails(items[1])
		require.NoError(t, err)
		assert.Equal(t, matcher.StrategyAmountDate, details.Strategy)
		assert.Equal(t, 3, details.DateGapDays)

		_, err = f.service.AutoMatch(f.ctx, tenant, batch.ID)
		requireCode(t, err, apperrors.CodeInvalidState)
		_, err = f.service.ImportBatch(f.ctx, ImportRequest{TenantID: tenant, BatchID: batch.ID, Content: []byte(statement)})
		requireCode(t, err, apperrors.CodeInvalidState)
	})

	t.Run("close guard", func(t *testing.T) {
		result, err := f.service.CloseBatch(f.ctx, tenant, batch.ID, user)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, 2, result.Unresolved)
		assert.Contains(t, result.Message, "2 items")

		loaded, err := f.service.GetBatch(f.ctx, tenant, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusMatched, loaded.Status)
	})

	items := f.items(t, batch.ID)
	unmatched := items[2]

	t.Run("double booking is rejected", func(t *testing.T) {
		_, err := f.service.ResolveItem(f.ctx, tenant, unmatched.ID, Resolution{MatchedPaymentID: &nsuPayment.ID}, user)
		requireCode(t, err, apperrors.CodePaymentDuplicated)

		unknown := uuid.New()
		_, err = f.service.ResolveItem(f.ctx, tenant, unmatched.ID, Resolution{MatchedPaymentID: &unknown}, user)
		assert.True(t, apperrors.IsNotFound(err))

		_, err = f.service.ResolveItem(f.ctx, tenant, unmatched.ID, Resolution{}, "")
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("resolve with another payment", func(t *testing.T) {
		resolved, err := f.service.ResolveItem(f.ctx, tenant, unmatched.ID, Resolution{
			MatchedPaymentID: &manualPayment.ID,
			Notes:            "customer paid less",
		}, user)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusResolved, resolved.Status)
		assert.Equal(t, models.ResolutionManualMatch, resolved.ResolutionType)
		assert.Equal(t, 100, resolved.MatchConfidence)
		assert.Equal(t, "1.00", resolved.DifferenceAmount.Decimal.StringFixed(2))
		assert.Equal(t, user, resolved.ResolvedByUserID)

		history, err := f.service.ItemHistory(f.ctx, tenant, unmatched.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, models.AuditActionResolve, history[0].Action)
		assert.Equal(t, models.ItemStatusUnmatched, history[0].PreviousStatus)
		assert.Equal(t, models.ItemStatusResolved, history[0].NewStatus)
	})

	t.Run("confirm suggestions", func(t *testing.T) {
		result, err := f.service.ConfirmSuggested(f.ctx, tenant, batch.ID, user)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Confirmed)
		assert.Empty(t, result.Skipped)

		item, err := f.service.GetItem(f.ctx, tenant, items[1].ID)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusManualMatched, item.Status)
		assert.Equal(t, models.ResolutionBulkConfirmed, item.ResolutionType)
	})

	t.Run("close", func(t *testing.T) {
		result, err := f.service.CloseBatch(f.ctx, tenant, batch.ID, user)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, models.BatchStatusClosed, result.Batch.Status)

		loaded, err := f.service.GetBatch(f.ctx, tenant, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusClosed, loaded.Status)
		assert.Equal(t, 3, loaded.MatchedCount)
		assert.Equal(t, 1, loaded.DivergentCount)
		assert.Equal(t, 0, loaded.IgnoredCount)
		assert.Equal(t, user, loaded.ClosedByUserID)
		require.NotNil(t, loaded.ClosedAt)
	})

	t.Run("closed batch is frozen", func(t *testing.T) {
		_, err := f.service.IgnoreItem(f.ctx, tenant, items[0].ID, "late", user)
		requireCode(t, err, apperrors.CodeInvalidState)
		_, err = f.service.CloseBatch(f.ctx, tenant, batch.ID, user)
		requireCode(t, err, apperrors.CodeInvalidState)
	})
}

func TestReconciliationService_ScenarioB_DateGaps(t *testing.T) {
	tests := []struct {
		name       string
		paymentDay int
		status     models.ItemStatus
		confidence int
	}{
		{"one day", 16, models.ItemStatusAutoMatched, matcher.ConfidenceBrand},
		{"two days", 17, models.ItemStatusAutoMatched, matcher.ConfidenceBrand},
		{"three days", 18, models.ItemStatusSuggestedMatch, matcher.ConfidenceAmount},
		{"four days", 19, models.ItemStatusUnmatched, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.payment(t, "200.00", "", "visa", tt.paymentDay)
			batch, _ := f.importStatement(t, "15/03/2026;;;VISA;;;200,00\n")

			_, err := f.service.AutoMatch(f.ctx, tenant, batch.ID)
			require.NoError(t, err)

			item := f.items(t, batch.ID)[0]
			assert.Equal(t, tt.status, item.Status)
			assert.Equal(t, tt.confidence, item.MatchConfidence)
		})
	}
}

func TestReconciliationService_ScenarioC_PaymentConsumedOnce(t *testing.T) {
	f := newFixture(t)
	p := f.payment(t, "100.00", "", "VISA", 10)
	batch, _ := f.importStatement(t, "10/03/2026;;;VISA;;;100,00\n10/03/2026;;;VISA;;;100,00\n")

	result, err := f.service.AutoMatch(f.ctx, tenant, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Unmatched)

	items := f.items(t, batch.ID)
	assert.Equal(t, models.ItemStatusAutoMatched, items[0].Status)
	assert.Equal(t, p.ID, *items[0].MatchedPaymentID)
	assert.Equal(t, models.ItemStatusUnmatched, items[1].Status)

	_, err = f.service.ResolveItem(f.ctx, tenant, items[1].ID, Resolution{MatchedPaymentID: &p.ID}, user)
	requireCode(t, err, apperrors.CodePaymentDuplicated)

	resolved, err := f.service.ResolveItem(f.ctx, tenant, items[1].ID, Resolution{
		MatchedPaymentID:      &p.ID,
		AllowDuplicatePayment: true,
	}, user)
	require.NoError(t, err)
	assert.Equal(t, p.ID, *resolved.MatchedPaymentID)
}

func TestReconciliationService_BookedPaymentsAreExcluded(t *testing.T) {
	f := newFixture(t)
	f.payment(t, "100.00", "NSU9", "VISA", 10)

	first, _ := f.importStatement(t, "10/03/2026;NSU9;;VISA;;;100,00\n")
	_, err := f.service.AutoMatch(f.ctx, tenant, first.ID)
	require.NoError(t, err)

	second, _ := f.importStatement(t, "10/03/2026;NSU9;;VISA;;;100,00\n")
	result, err := f.service.AutoMatch(f.ctx, tenant, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Matched)
	assert.Equal(t, 1, result.Unmatched)
	assert.Equal(t, 0, result.Candidates)
}

func TestReconciliationService_DecisionsWaitForAutoMatch(t *testing.T) {
	f := newFixture(t)
	p := f.payment(t, "100.00", "NSU7", "VISA", 10)
	batch, _ := f.importStatement(t, "10/03/2026;NSU7;;VISA;;;100,00\n10/03/2026;;;VISA;;;100,00\n")
	items := f.items(t, batch.ID)
	require.Len(t, items, 2)

	_, err := f.service.ResolveItem(f.ctx, tenant, items[0].ID, Resolution{MatchedPaymentID: &p.ID}, user)
	requireCode(t, err, apperrors.CodeInvalidState)
	_, err = f.service.IgnoreItem(f.ctx, tenant, items[1].ID, "not ours", user)
	requireCode(t, err, apperrors.CodeInvalidState)
	_, err = f.service.FlagItem(f.ctx, tenant, items[1].ID, models.ItemStatusDisputed, "chargeback", user)
	requireCode(t, err, apperrors.CodeInvalidState)

	result, err := f.service.AutoMatch(f.ctx, tenant, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Unmatched)

	booked := 0
	for _, item := range f.items(t, batch.ID) {
		if item.MatchedPaymentID != nil && *item.MatchedPaymentID == p.ID {
			booked++
		}
	}
	assert.Equal(t, 1, booked, "a payment is booked by at most one item of the batch")

	var open *models.Item
	for _, item := range f.items(t, batch.ID) {
		if item.Status == models.ItemStatusUnmatched {
			open = item
		}
	}
	require.NotNil(t, open)
	_, err = f.service.ResolveItem(f.ctx, tenant, open.ID, Resolution{MatchedPaymentID: &p.ID}, user)
	requireCode(t, err, apperrors.CodePaymentDuplicated)

	_, err = f.service.IgnoreItem(f.ctx, tenant, open.ID, "not ours", user)
	require.NoError(t, err)
	closed, err := f.service.CloseBatch(f.ctx, tenant, batch.ID, user)
	require.NoError(t, err)
	assert.True(t, closed.Success)
	assert.Equal(t, models.BatchStatusClosed, closed.Batch.Status)
}

func TestReconciliationService_FlagAndIgnore(t *testing.T) {
	f := newFixture(t)
	batch, _ := f.importStatement(t, "10/03/2026;;;VISA;;;100,00\n11/03/2026;;;VISA;;;50,00\n")
	_, err := f.service.AutoMatch(f.ctx, tenant, batch.ID)
	require.NoError(t, err)
	items := f.items(t, batch.ID)

	_, err = f.service.FlagItem(f.ctx, tenant, items[0].ID, models.ItemStatusIgnored, "", user)
	assert.True(t, apperrors.IsValidation(err))

	flagged, err := f.service.FlagItem(f.ctx, tenant, items[0].ID, models.ItemStatusDisputed, "chargeback opened", user)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusDisputed, flagged.Status)

	ignored, err := f.service.IgnoreItem(f.ctx, tenant, items[1].ID, "test transaction", user)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusIgnored, ignored.Status)
	assert.Equal(t, models.ResolutionNotApplicable, ignored.ResolutionType)

	loaded, err := f.service.GetBatch(f.ctx, tenant, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.DivergentCount)
	assert.Equal(t, 1, loaded.IgnoredCount)
	assert.Equal(t, 0, loaded.UnmatchedCount)

	result, err := f.service.CloseBatch(f.ctx, tenant, batch.ID, user)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Unresolved)

	_, err = f.service.IgnoreItem(f.ctx, tenant, items[0].ID, "written off", user)
	require.NoError(t, err)
	result, err = f.service.CloseBatch(f.ctx, tenant, batch.ID, user)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Batch.IgnoredCount)
	assert.Equal(t, 0, result.Batch.MatchedCount)
}

func TestReconciliationService_ImportErrors(t *testing.T) {
	f := newFixture(t)

	noTemplate, err := f.service.CreateBatch(f.ctx, tenant, "x.csv", nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		req   ImportRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "missing template",
			req:  ImportRequest{TenantID: tenant, BatchID: noTemplate.ID, Content: []byte("10/03/2026;;;;;;1,00")},
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsValidation(err))
			},
		},
		{
			name: "no valid rows",
			req:  ImportRequest{TenantID: tenant, BatchID: noTemplate.ID, TemplateID: &f.template.ID, FileName: "bad.csv", Content: []byte("garbage;row\n")},
			check: func(t *testing.T, err error) {
				requireCode(t, err, apperrors.CodeNoValidRows)
			},
		},
		{
			name: "unknown batch",
			req:  ImportRequest{TenantID: tenant, BatchID: uuid.New(), TemplateID: &f.template.ID, Content: []byte("x")},
			check: func(t *testing.T, err error) {
				requireCode(t, err, apperrors.CodeBatchNotFound)
			},
		},
		{
			name: "other tenant",
			req:  ImportRequest{TenantID: "tenant-2", BatchID: noTemplate.ID, TemplateID: &f.template.ID, Content: []byte("x")},
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsNotFound(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.ImportBatch(f.ctx, tt.req)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	loaded, err := f.service.GetBatch(f.ctx, tenant, noTemplate.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusDraft, loaded.Status, "failed imports leave the batch untouched")
}

// racingSelector moves the batch out of IMPORTED while auto-match is running
type racingSelector struct {
	inner   matcher.Selector
	race    func()
	started bool
}

func (r *racingSelector) Select(item *models.Item, candidates []*models.Payment, consumed map[uuid.UUID]bool) *matcher.Selection {
	if !r.started {
		r.started = true
		r.race()
	}
	return r.inner.Select(item, candidates, consumed)
}

func TestReconciliationService_AutoMatchLosesStatusRace(t *testing.T) {
	f := newFixture(t)
	f.payment(t, "100.00", "NSU1", "VISA", 10)
	batch, _ := f.importStatement(t, "10/03/2026;NSU1;;VISA;;;100,00\n")

	f.service.WithSelector(&racingSelector{
		inner: matcher.NewCascadeSelector(f.service.GetMatchingConfig()),
		race: func() {
			err := f.store.TransitionBatch(f.ctx, tenant, batch.ID,
				[]models.BatchStatus{models.BatchStatusImported},
				map[string]interface{}{"status": models.BatchStatusMatched})
			require.NoError(t, err)
		},
	})

	_, err := f.service.AutoMatch(f.ctx, tenant, batch.ID)
	requireCode(t, err, apperrors.CodeConcurrentUpdate)

	items := f.items(t, batch.ID)
	assert.Equal(t, models.ItemStatusPending, items[0].Status, "the losing run must not write items")
}

func TestNewReconciliationService_Config(t *testing.T) {
	f := newFixture(t)

	bad := DefaultConfig()
	bad.Matching.AmountTolerancePercent = -1
	_, err := NewReconciliationService(f.store, nil, bad)
	assert.Error(t, err)

	_, err = NewReconciliationService(nil, nil, nil)
	assert.Error(t, err)

	service, err := NewReconciliationService(f.store, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, service.GetMatchingConfig().AmountTolerancePercent)
}
