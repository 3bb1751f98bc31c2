package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/payments"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

const tenant = "tenant-1"

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(Options{
		Driver:          DriverSQLite,
		DSN:             "file::memory:",
		MigratePayments: true,
		Logger:          logger.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTemplate(name string) *models.Template {
	tpl := &models.Template{
		TenantID:         tenant,
		Name:             name,
		AcquirerName:     "Acquirer",
		Delimiter:        ";",
		DateFormat:       "dd/MM/yyyy",
		DecimalSeparator: ",",
	}
	tpl.SetMapping(models.ColumnMapping{Date: 0, GrossAmount: 1, NSU: models.Col(2)})
	return tpl
}

func TestGormStore_Templates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tpl := testTemplate("Cielo")
	require.NoError(t, s.CreateTemplate(ctx, tpl))
	assert.NotEqual(t, uuid.Nil, tpl.ID)

	err := s.CreateTemplate(ctx, testTemplate("Cielo"))
	require.Error(t, err)
	assert.True(t, apperrors.IsBusinessRule(err))

	created, err := s.CreateTemplateIfAbsent(ctx, testTemplate("Cielo"))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.CreateTemplateIfAbsent(ctx, testTemplate("Rede"))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := s.GetTemplate(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cielo", got.Name)
	require.NotNil(t, got.Mapping().NSU)
	assert.Equal(t, 2, *got.Mapping().NSU)

	_, err = s.GetTemplate(ctx, "other-tenant", tpl.ID)
	assert.True(t, apperrors.IsNotFound(err))

	got.SkipRows = 2
	got.Name = "Cielo v2"
	require.NoError(t, s.UpdateTemplate(ctx, got))
	reloaded, err := s.GetTemplate(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.SkipRows)
	assert.Equal(t, "Cielo v2", reloaded.Name)

	reloaded.Name = "Rede"
	assert.True(t, apperrors.IsBusinessRule(s.UpdateTemplate(ctx, reloaded)))

	list, err := s.ListTemplates(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Cielo v2", list[0].Name)
}

func TestGormStore_TransitionBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	batch := &models.Batch{TenantID: tenant, FileName: "march.csv"}
	require.NoError(t, s.CreateBatch(ctx, batch))
	assert.Equal(t, models.BatchStatusDraft, batch.Status)

	err := s.TransitionBatch(ctx, tenant, batch.ID,
		[]models.BatchStatus{models.BatchStatusDraft, models.BatchStatusImported},
		map[string]interface{}{"status": models.BatchStatusImported, "total_items": 3})
	require.NoError(t, err)

	got, err := s.GetBatch(ctx, tenant, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusImported, got.Status)
	assert.Equal(t, 3, got.TotalItems)

	err = s.TransitionBatch(ctx, tenant, batch.ID,
		[]models.BatchStatus{models.BatchStatusMatched},
		map[string]interface{}{"status": models.BatchStatusClosed})
	require.Error(t, err)
	assert.True(t, apperrors.IsBusinessRule(err))
	reconErr, ok := apperrors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeConcurrentUpdate, reconErr.Code)

	err = s.TransitionBatch(ctx, tenant, uuid.New(),
		[]models.BatchStatus{models.BatchStatusDraft}, map[string]interface{}{"status": models.BatchStatusImported})
	assert.True(t, apperrors.IsNotFound(err))

	batches, err := s.ListBatches(ctx, tenant, models.BatchStatusImported)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
	batches, err = s.ListBatches(ctx, tenant, models.BatchStatusClosed)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func newItems(batchID uuid.UUID, amounts ...string) []*models.Item {
	items := make([]*models.Item, len(amounts))
	for i, a := range amounts {
		items[i] = &models.Item{
			TenantID:       tenant,
			BatchID:        batchID,
			LineNumber:     len(amounts) - i,
			ExternalDate:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			ExternalAmount: decimal.RequireFromString(a),
		}
	}
	return items
}

func TestGormStore_Items(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	batch := &models.Batch{TenantID: tenant}
	require.NoError(t, s.CreateBatch(ctx, batch))

	require.NoError(t, s.ReplaceItems(ctx, batch.ID, newItems(batch.ID, "10.00", "20.00", "30.50")))
	require.NoError(t, s.ReplaceItems(ctx, batch.ID, newItems(batch.ID, "1.00", "2.25")))

	items, err := s.ListItems(ctx, ItemFilter{TenantID: tenant, BatchID: batch.ID})
	require.NoError(t, err)
	require.Len(t, items, 2, "reimport must replace the previous items")
	assert.Equal(t, 1, items[0].LineNumber)
	assert.Equal(t, models.ItemStatusPending, items[0].Status)

	paymentID := uuid.New()
	items[0].Status = models.ItemStatusAutoMatched
	items[0].MatchedPaymentID = &paymentID
	require.NoError(t, s.SaveItems(ctx, items[0]))

	pending, err := s.ListItems(ctx, ItemFilter{BatchID: batch.ID, Statuses: []models.ItemStatus{models.ItemStatusPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stats, err := s.ItemStats(ctx, batch.ID)
	require.NoError(t, err)
	counts := CountsByStatus(stats)
	assert.Equal(t, 1, counts[models.ItemStatusAutoMatched])
	assert.Equal(t, 1, counts[models.ItemStatusPending])

	booked, err := s.FindBookedItems(ctx, batch.ID, paymentID)
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, items[0].ID, booked[0].ID)

	other := &models.Batch{TenantID: tenant}
	require.NoError(t, s.CreateBatch(ctx, other))
	ids, err := s.BookedPaymentIDs(ctx, tenant, other.ID)
	require.NoError(t, err)
	assert.True(t, ids[paymentID])
	ids, err = s.BookedPaymentIDs(ctx, tenant, batch.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.GetItem(ctx, "other-tenant", items[0].ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGormStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	batch := &models.Batch{TenantID: tenant}
	require.NoError(t, s.CreateBatch(ctx, batch))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Store) error {
		if err := tx.ReplaceItems(ctx, batch.ID, newItems(batch.ID, "5.00")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryStorage))

	items, err := s.ListItems(ctx, ItemFilter{BatchID: batch.ID})
	require.NoError(t, err)
	assert.Empty(t, items)

	rule := apperrors.BusinessRuleError(apperrors.CodeInvalidState, "refused")
	err = s.InTx(ctx, func(tx Store) error { return rule })
	assert.Same(t, rule, err)
}

func TestGormStore_Payments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	day := func(d int) *time.Time {
		v := time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC)
		return &v
	}
	inWindow := &models.Payment{ID: uuid.New(), TenantID: tenant, Method: models.PaymentMethodCreditCard,
		Status: models.PaymentStatusReceived, Amount: decimal.RequireFromString("10.00"), ReceivedAt: day(10), CreatedAt: *day(1)}
	fallbackDate := &models.Payment{ID: uuid.New(), TenantID: tenant, Method: models.PaymentMethodDebitCard,
		Status: models.PaymentStatusReceived, Amount: decimal.RequireFromString("11.00"), CreatedAt: *day(12)}
	pix := &models.Payment{ID: uuid.New(), TenantID: tenant, Method: models.PaymentMethodPix,
		Status: models.PaymentStatusReceived, Amount: decimal.RequireFromString("12.00"), ReceivedAt: day(10), CreatedAt: *day(10)}
	pending := &models.Payment{ID: uuid.New(), TenantID: tenant, Method: models.PaymentMethodCreditCard,
		Status: models.PaymentStatusPending, Amount: decimal.RequireFromString("13.00"), ReceivedAt: day(10), CreatedAt: *day(10)}
	outside := &models.Payment{ID: uuid.New(), TenantID: tenant, Method: models.PaymentMethodCreditCard,
		Status: models.PaymentStatusReceived, Amount: decimal.RequireFromString("14.00"), ReceivedAt: day(25), CreatedAt: *day(25)}
	otherTenant := &models.Payment{ID: uuid.New(), TenantID: "other", Method: models.PaymentMethodCreditCard,
		Status: models.PaymentStatusReceived, Amount: decimal.RequireFromString("15.00"), ReceivedAt: day(10), CreatedAt: *day(10)}

	require.NoError(t, s.InsertPayments(ctx, inWindow, fallbackDate, pix, pending, outside, otherTenant))

	from := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	found, err := s.FindPayments(ctx, payments.CardQuery(tenant, from, to))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, inWindow.ID, found[0].ID)
	assert.Equal(t, fallbackDate.ID, found[1].ID)
	assert.Equal(t, "10.00", found[0].Amount.StringFixed(2))

	q := payments.CardQuery(tenant, from, to)
	q.Exclude = map[uuid.UUID]bool{inWindow.ID: true}
	found, err = s.FindPayments(ctx, q)
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = s.GetPayment(ctx, "other", inWindow.ID)
	assert.True(t, apperrors.IsNotFound(err))
	got, err := s.GetPayment(ctx, tenant, inWindow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodCreditCard, got.Method)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Options{Driver: "oracle", DSN: "x", Logger: logger.NewNopLogger()})
	require.Error(t, err)
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryConfiguration))
}
