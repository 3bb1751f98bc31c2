package reconciler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/store"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// CloseResult reports the outcome of a close attempt
type CloseResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Batch   *models.Batch `json:"batch"`
	// Unresolved is the number of items that blocked the close
	Unresolved int `json:"unresolved"`
}

// CloseBatch finalizes a MATCHED batch. While any item is unresolved the
// batch is left unchanged and the result reports the count.
func (s *ReconciliationService) CloseBatch(ctx context.Context, tenantID string, batchID uuid.UUID, userID string) (*CloseResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	result := &CloseResult{}
	err := s.store.InTx(ctx, func(tx store.Store) error {
		batch, err := tx.GetBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if batch.Status != models.BatchStatusMatched {
			return apperrors.BusinessRuleError(apperrors.CodeInvalidState,
				"only MATCHED batches can be closed").
				WithContext("status", string(batch.Status))
		}

		unresolved, err := tx.ListItems(ctx, store.ItemFilter{
			TenantID: tenantID,
			BatchID:  batchID,
			Statuses: models.UnresolvedItemStatuses,
		})
		if err != nil {
			return err
		}
		if len(unresolved) > 0 {
			result.Batch = batch
			result.Unresolved = len(unresolved)
			result.Message = fmt.Sprintf("%d items are still unresolved", len(unresolved))
			return nil
		}

		items, err := tx.ListItems(ctx, store.ItemFilter{TenantID: tenantID, BatchID: batchID})
		if err != nil {
			return err
		}
		counters := closingCounters(items)
		closedAt := s.now()

		updates := store.CounterColumns(counters)
		updates["status"] = models.BatchStatusClosed
		updates["closed_at"] = closedAt
		updates["closed_by_user_id"] = userID
		if err := tx.TransitionBatch(ctx, tenantID, batchID, []models.BatchStatus{models.BatchStatusMatched}, updates); err != nil {
			return err
		}

		counters.Apply(batch)
		batch.Status = models.BatchStatusClosed
		batch.ClosedAt = &closedAt
		batch.ClosedByUserID = userID

		result.Success = true
		result.Batch = batch
		result.Message = fmt.Sprintf("batch closed: %d matched, %d divergent, %d ignored",
			counters.Matched, counters.Divergent, counters.Ignored)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logger.Fields{
		"tenant":   tenantID,
		"batch_id": batchID.String(),
		"user":     userID,
	}
	if result.Success {
		s.logger.WithFields(fields).Info(result.Message)
	} else {
		s.logger.WithFields(fields).WithField("unresolved", result.Unresolved).Warn("Batch not closed")
	}
	return result, nil
}

// closingCounters computes the final counters of a batch whose items are all terminal
func closingCounters(items []*models.Item) models.Counters {
	var c models.Counters
	for _, item := range items {
		if item.Status.IsMatched() {
			c.Matched++
		}
		if item.Status == models.ItemStatusIgnored {
			c.Ignored++
		}
		if item.Status.IsTerminal() && item.HasDifference() {
			c.Divergent++
		}
	}
	return c
}
