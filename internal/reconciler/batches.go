package reconciler

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/store"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// BatchSummary is a batch with its items aggregated by status
type BatchSummary struct {
	Batch       *models.Batch      `json:"batch"`
	ByStatus    []store.StatusStat `json:"byStatus"`
	Unresolved  int                `json:"unresolved"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
	// MatchedAmount sums the external amounts of items holding a payment
	MatchedAmount decimal.Decimal `json:"matchedAmount"`
}

// CreateBatch opens a DRAFT batch. The template is optional and can be chosen at import.
func (s *ReconciliationService) CreateBatch(ctx context.Context, tenantID, fileName string, templateID *uuid.UUID) (*models.Batch, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.ValidationError(apperrors.CodeMissingField, "tenant", tenantID, nil)
	}
	if templateID != nil {
		if _, err := s.store.GetTemplate(ctx, tenantID, *templateID); err != nil {
			return nil, err
		}
	}

	batch := &models.Batch{
		TenantID:    tenantID,
		Status:      models.BatchStatusDraft,
		FileName:    fileName,
		TemplateID:  templateID,
		TotalAmount: decimal.Zero,
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"tenant":   tenantID,
		"batch_id": batch.ID.String(),
	}).Info("Batch created")
	return batch, nil
}

// GetBatch returns a tenant-owned batch
func (s *ReconciliationService) GetBatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*models.Batch, error) {
	return s.store.GetBatch(ctx, tenantID, batchID)
}

// ListBatches returns the tenant's batches, newest first, optionally by status
func (s *ReconciliationService) ListBatches(ctx context.Context, tenantID string, statuses ...models.BatchStatus) ([]*models.Batch, error) {
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, apperrors.ValidationError(apperrors.CodeInvalidValue, "status", st, nil)
		}
	}
	return s.store.ListBatches(ctx, tenantID, statuses...)
}

// ListItems returns the items of a tenant-owned batch in file order
func (s *ReconciliationService) ListItems(ctx context.Context, tenantID string, batchID uuid.UUID, statuses ...models.ItemStatus) ([]*models.Item, error) {
	if _, err := s.store.GetBatch(ctx, tenantID, batchID); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, store.ItemFilter{TenantID: tenantID, BatchID: batchID, Statuses: statuses})
}

// GetItem returns a tenant-owned item
func (s *ReconciliationService) GetItem(ctx context.Context, tenantID string, itemID uuid.UUID) (*models.Item, error) {
	return s.store.GetItem(ctx, tenantID, itemID)
}

// ItemHistory returns the manual actions recorded for an item
func (s *ReconciliationService) ItemHistory(ctx context.Context, tenantID string, itemID uuid.UUID) ([]*models.ItemAuditLog, error) {
	if _, err := s.store.GetItem(ctx, tenantID, itemID); err != nil {
		return nil, err
	}
	return s.store.ListAuditLogs(ctx, tenantID, itemID)
}

// Summary aggregates a batch's items by status
func (s *ReconciliationService) Summary(ctx context.Context, tenantID string, batchID uuid.UUID) (*BatchSummary, error) {
	batch, err := s.store.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.ItemStats(ctx, batchID)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{
		Batch:         batch,
		ByStatus:      stats,
		TotalAmount:   decimal.Zero,
		MatchedAmount: decimal.Zero,
	}
	for _, stat := range stats {
		summary.TotalAmount = summary.TotalAmount.Add(stat.Sum)
		if stat.Status.IsMatched() {
			summary.MatchedAmount = summary.MatchedAmount.Add(stat.Sum)
		}
		if !stat.Status.IsTerminal() {
			summary.Unresolved += int(stat.Count)
		}
	}
	return summary, nil
}

// refreshCounters recomputes the batch counters from its items while the
// batch is still open for resolution
func refreshCounters(ctx context.Context, tx store.Store, batch *models.Batch) error {
	stats, err := tx.ItemStats(ctx, batch.ID)
	if err != nil {
		return err
	}
	counters := models.WorkingCounters(store.CountsByStatus(stats))
	counters.Apply(batch)

	return tx.TransitionBatch(ctx, batch.TenantID, batch.ID,
		[]models.BatchStatus{models.BatchStatusImported, models.BatchStatusMatched},
		store.CounterColumns(counters))
}
