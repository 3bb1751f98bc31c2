package reconciler

import (
	"context"

	"github.com/google/uuid"

	"settlement-reconciliation-service/internal/matcher"
	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/payments"
	"settlement-reconciliation-service/internal/store"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// AutoMatchResult reports the outcome of an auto-match run
type AutoMatchResult struct {
	matcher.Result
	Batch *models.Batch `json:"batch"`
}

// AutoMatch pairs the PENDING items of an IMPORTED batch with received card
// payments and moves the batch to MATCHED.
func (s *ReconciliationService) AutoMatch(ctx context.Context, tenantID string, batchID uuid.UUID) (*AutoMatchResult, error) {
	opLogger := logger.NewOperationLogger("auto_match", s.logger).WithFields(logger.Fields{
		"tenant":   tenantID,
		"batch_id": batchID.String(),
	})

	batch, err := s.store.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchStatusImported {
		return nil, apperrors.BusinessRuleError(apperrors.CodeInvalidState,
			"auto-match requires an IMPORTED batch").
			WithContext("status", string(batch.Status))
	}

	items, err := s.store.ListItems(ctx, store.ItemFilter{
		TenantID: tenantID,
		BatchID:  batchID,
		Statuses: []models.ItemStatus{models.ItemStatusPending},
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.BusinessRuleError(apperrors.CodeInvalidState, "batch has no pending items to match")
	}

	opLogger.Step("loading candidate payments")
	from, to := s.config.Matching.CandidateWindow(batch.PeriodStart, batch.PeriodEnd, s.now())
	query := payments.CardQuery(tenantID, from, to)
	if s.config.ExcludeBookedPayments {
		booked, err := s.store.BookedPaymentIDs(ctx, tenantID, batchID)
		if err != nil {
			return nil, err
		}
		query.Exclude = booked
	}
	candidates, err := s.paymentFinder().FindPayments(ctx, query)
	if err != nil {
		return nil, err
	}

	result, err := s.engine().Run(ctx, items, candidates)
	if err != nil {
		opLogger.Error(err, "Matching aborted")
		return nil, err
	}

	opLogger.Step("storing match results")
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.SaveItems(ctx, items...); err != nil {
			return err
		}
		stats, err := tx.ItemStats(ctx, batchID)
		if err != nil {
			return err
		}
		counters := models.WorkingCounters(store.CountsByStatus(stats))
		updates := store.CounterColumns(counters)
		updates["status"] = models.BatchStatusMatched

		if err := tx.TransitionBatch(ctx, tenantID, batchID, []models.BatchStatus{models.BatchStatusImported}, updates); err != nil {
			return err
		}
		batch, err = tx.GetBatch(ctx, tenantID, batchID)
		return err
	})
	if err != nil {
		opLogger.Error(err, "Match results were not stored")
		return nil, err
	}

	opLogger.WithFields(logger.Fields{
		"matched":    result.Matched,
		"suggested":  result.Suggested,
		"unmatched":  result.Unmatched,
		"candidates": result.Candidates,
	}).Success("Auto-match completed")

	return &AutoMatchResult{Result: *result, Batch: batch}, nil
}
