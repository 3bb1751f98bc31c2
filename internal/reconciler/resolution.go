package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/store"
	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// Resolution is an operator decision on one item
type Resolution struct {
	ResolutionType models.ResolutionType `json:"resolutionType"`
	Notes          string                `json:"notes,omitempty"`
	// MatchedPaymentID re-points the item to another payment
	MatchedPaymentID *uuid.UUID `json:"matchedPaymentId,omitempty"`
	// AllowDuplicatePayment lets the payment be booked by more than one item of the batch
	AllowDuplicatePayment bool `json:"allowDuplicatePayment,omitempty"`
}

// SkippedItem is a suggestion ConfirmSuggested left untouched
type SkippedItem struct {
	ItemID     uuid.UUID `json:"itemId"`
	LineNumber int       `json:"lineNumber"`
	Reason     string    `json:"reason"`
}

// ConfirmResult reports a bulk confirmation
type ConfirmResult struct {
	Confirmed int           `json:"confirmed"`
	Skipped   []SkippedItem `json:"skipped"`
}

// ResolveItem marks an item RESOLVED. When a payment is given the item is
// re-pointed to it and its amounts are recomputed.
func (s *ReconciliationService) ResolveItem(ctx context.Context, tenantID string, itemID uuid.UUID, resolution Resolution, userID string) (*models.Item, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	resolutionType := resolution.ResolutionType
	if resolutionType == "" {
		resolutionType = models.ResolutionOther
		if resolution.MatchedPaymentID != nil {
			resolutionType = models.ResolutionManualMatch
		}
	}
	if !resolutionType.IsValid() {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidValue, "resolutionType", resolutionType, nil)
	}

	var payment *models.Payment
	if resolution.MatchedPaymentID != nil {
		p, err := s.paymentFinder().GetPayment(ctx, tenantID, *resolution.MatchedPaymentID)
		if err != nil {
			return nil, err
		}
		payment = p
	}

	var resolved *models.Item
	err := s.store.InTx(ctx, func(tx store.Store) error {
		item, batch, err := loadOpenItem(ctx, tx, tenantID, itemID)
		if err != nil {
			return err
		}
		previous, previousPayment := item.Status, item.MatchedPaymentID

		if payment != nil {
			item.ApplyPayment(payment)
		}
		if item.MatchedPaymentID != nil && !resolution.AllowDuplicatePayment {
			if err := guardDoubleBooking(ctx, tx, item); err != nil {
				return err
			}
		}

		now := s.now()
		item.Status = models.ItemStatusResolved
		item.MatchConfidence = 100
		item.ResolutionType = resolutionType
		item.ResolutionNotes = resolution.Notes
		item.ResolvedAt = &now
		item.ResolvedByUserID = userID

		if err := s.record(ctx, tx, item, models.AuditActionResolve, previous, previousPayment, userID, resolution.Notes); err != nil {
			return err
		}
		resolved = item
		return refreshCounters(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"tenant":     tenantID,
		"item_id":    itemID.String(),
		"resolution": string(resolutionType),
		"user":       userID,
	}).Info("Item resolved")
	return resolved, nil
}

// IgnoreItem marks an item IGNORED so it no longer blocks closing
func (s *ReconciliationService) IgnoreItem(ctx context.Context, tenantID string, itemID uuid.UUID, reason, userID string) (*models.Item, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	var ignored *models.Item
	err := s.store.InTx(ctx, func(tx store.Store) error {
		item, batch, err := loadOpenItem(ctx, tx, tenantID, itemID)
		if err != nil {
			return err
		}
		previous, previousPayment := item.Status, item.MatchedPaymentID

		now := s.now()
		item.Status = models.ItemStatusIgnored
		item.ResolutionType = models.ResolutionNotApplicable
		item.ResolutionNotes = reason
		item.ResolvedAt = &now
		item.ResolvedByUserID = userID

		if err := s.record(ctx, tx, item, models.AuditActionIgnore, previous, previousPayment, userID, reason); err != nil {
			return err
		}
		ignored = item
		return refreshCounters(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"tenant":  tenantID,
		"item_id": itemID.String(),
		"user":    userID,
	}).Info("Item ignored")
	return ignored, nil
}

// FlagItem marks an item DIVERGENT or DISPUTED for follow-up
func (s *ReconciliationService) FlagItem(ctx context.Context, tenantID string, itemID uuid.UUID, flag models.ItemStatus, reason, userID string) (*models.Item, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if !flag.IsFlag() {
		return nil, apperrors.ValidationError(apperrors.CodeInvalidValue, "status", flag, nil).
			WithSuggestion("use DIVERGENT or DISPUTED")
	}

	var flagged *models.Item
	err := s.store.InTx(ctx, func(tx store.Store) error {
		item, batch, err := loadOpenItem(ctx, tx, tenantID, itemID)
		if err != nil {
			return err
		}
		previous, previousPayment := item.Status, item.MatchedPaymentID

		item.Status = flag
		item.ResolutionNotes = reason
		item.ResolvedAt = nil
		item.ResolvedByUserID = ""

		if err := s.record(ctx, tx, item, models.AuditActionFlag, previous, previousPayment, userID, reason); err != nil {
			return err
		}
		flagged = item
		return refreshCounters(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"tenant":  tenantID,
		"item_id": itemID.String(),
		"flag":    string(flag),
		"user":    userID,
	}).Info("Item flagged")
	return flagged, nil
}

// ConfirmSuggested accepts every SUGGESTED_MATCH item of a MATCHED batch as
// MANUAL_MATCHED. Suggestions whose payment is already booked are skipped.
func (s *ReconciliationService) ConfirmSuggested(ctx context.Context, tenantID string, batchID uuid.UUID, userID string) (*ConfirmResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	result := &ConfirmResult{Skipped: make([]SkippedItem, 0)}
	err := s.store.InTx(ctx, func(tx store.Store) error {
		batch, err := tx.GetBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if !batch.Status.AcceptsResolution() {
			return apperrors.BusinessRuleError(apperrors.CodeInvalidState,
				"suggestions can only be confirmed on a MATCHED batch").
				WithContext("status", string(batch.Status))
		}

		suggested, err := tx.ListItems(ctx, store.ItemFilter{
			TenantID: tenantID,
			BatchID:  batchID,
			Statuses: []models.ItemStatus{models.ItemStatusSuggestedMatch},
		})
		if err != nil {
			return err
		}

		for _, item := range suggested {
			if item.MatchedPaymentID == nil {
				result.Skipped = append(result.Skipped, SkippedItem{
					ItemID: item.ID, LineNumber: item.LineNumber, Reason: "no suggested payment",
				})
				continue
			}
			if err := guardDoubleBooking(ctx, tx, item); err != nil {
				if !apperrors.IsBusinessRule(err) {
					return err
				}
				result.Skipped = append(result.Skipped, SkippedItem{
					ItemID: item.ID, LineNumber: item.LineNumber, Reason: err.Error(),
				})
				continue
			}

			now := s.now()
			item.Status = models.ItemStatusManualMatched
			item.MatchConfidence = 100
			item.ResolutionType = models.ResolutionBulkConfirmed
			item.ResolvedAt = &now
			item.ResolvedByUserID = userID
			if err := s.record(ctx, tx, item, models.AuditActionConfirm, models.ItemStatusSuggestedMatch, item.MatchedPaymentID, userID, ""); err != nil {
				return err
			}
			result.Confirmed++
		}
		return refreshCounters(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"tenant":    tenantID,
		"batch_id":  batchID.String(),
		"confirmed": result.Confirmed,
		"skipped":   len(result.Skipped),
	}).Info("Suggested matches confirmed")
	return result, nil
}

// loadOpenItem returns an item whose batch still accepts resolutions
func loadOpenItem(ctx context.Context, tx store.Store, tenantID string, itemID uuid.UUID) (*models.Item, *models.Batch, error) {
	item, err := tx.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, nil, err
	}
	batch, err := tx.GetBatch(ctx, tenantID, item.BatchID)
	if err != nil {
		return nil, nil, err
	}
	if !batch.Status.AcceptsResolution() {
		return nil, nil, apperrors.BusinessRuleError(apperrors.CodeInvalidState,
			fmt.Sprintf("items of a %s batch cannot be changed", batch.Status)).
			WithContext("batch_id", batch.ID.String()).
			WithContext("status", string(batch.Status))
	}
	return item, batch, nil
}

// guardDoubleBooking fails when another item of the batch already books the item's payment
func guardDoubleBooking(ctx context.Context, tx store.Store, item *models.Item) error {
	booked, err := tx.FindBookedItems(ctx, item.BatchID, *item.MatchedPaymentID)
	if err != nil {
		return err
	}
	for _, other := range booked {
		if other.ID == item.ID {
			continue
		}
		return apperrors.BusinessRuleError(apperrors.CodePaymentDuplicated,
			fmt.Sprintf("payment %s is already booked by line %d", item.MatchedPaymentID, other.LineNumber)).
			WithContext("payment_id", item.MatchedPaymentID.String()).
			WithContext("item_id", other.ID.String()).
			WithSuggestion("set allowDuplicatePayment to book it twice")
	}
	return nil
}

func (s *ReconciliationService) record(ctx context.Context, tx store.Store, item *models.Item, action models.AuditAction,
	previous models.ItemStatus, previousPayment *uuid.UUID, userID, reason string) error {
	if err := tx.SaveItems(ctx, item); err != nil {
		return err
	}
	return tx.CreateAuditLog(ctx, models.NewAuditLog(action, previous, previousPayment, item, userID, reason))
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.ValidationError(apperrors.CodeMissingField, "user", nil, nil)
	}
	return nil
}
