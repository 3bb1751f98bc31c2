// Package store persists templates, batches, items and audit logs.
//
// Every batch status change goes through TransitionBatch, a single
// conditional UPDATE guarded by the expected source statuses. When no row is
// affected the caller lost a race (or the batch was in the wrong state) and
// receives a business-rule error.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/payments"
)

// ItemFilter narrows ListItems
type ItemFilter struct {
	TenantID string
	BatchID  uuid.UUID
	Statuses []models.ItemStatus
}

// StatusStat is the count and sum of external amounts for one item status
type StatusStat struct {
	Status models.ItemStatus
	Count  int64
	Sum    decimal.Decimal
}

// Store is the persistence contract used by the reconciliation service
type Store interface {
	payments.Finder

	// InTx runs fn inside a single transaction. The Store passed to fn must be
	// used for every read and write of the operation.
	InTx(ctx context.Context, fn func(tx Store) error) error

	CreateTemplate(ctx context.Context, tpl *models.Template) error
	// CreateTemplateIfAbsent inserts tpl unless the tenant already has a template with its name
	CreateTemplateIfAbsent(ctx context.Context, tpl *models.Template) (bool, error)
	UpdateTemplate(ctx context.Context, tpl *models.Template) error
	GetTemplate(ctx context.Context, tenantID string, id uuid.UUID) (*models.Template, error)
	GetTemplateByName(ctx context.Context, tenantID, name string) (*models.Template, error)
	ListTemplates(ctx context.Context, tenantID string) ([]*models.Template, error)

	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, tenantID string, id uuid.UUID) (*models.Batch, error)
	ListBatches(ctx context.Context, tenantID string, statuses ...models.BatchStatus) ([]*models.Batch, error)
	// TransitionBatch applies updates only while the batch is in one of from
	TransitionBatch(ctx context.Context, tenantID string, id uuid.UUID, from []models.BatchStatus, updates map[string]interface{}) error

	// ReplaceItems deletes every item of the batch and inserts items
	ReplaceItems(ctx context.Context, batchID uuid.UUID, items []*models.Item) error
	ListItems(ctx context.Context, filter ItemFilter) ([]*models.Item, error)
	GetItem(ctx context.Context, tenantID string, id uuid.UUID) (*models.Item, error)
	SaveItems(ctx context.Context, items ...*models.Item) error
	ItemStats(ctx context.Context, batchID uuid.UUID) ([]StatusStat, error)
	// FindBookedItems returns items of the batch that book paymentID
	FindBookedItems(ctx context.Context, batchID, paymentID uuid.UUID) ([]*models.Item, error)
	// BookedPaymentIDs returns payments booked by items of other batches of the tenant
	BookedPaymentIDs(ctx context.Context, tenantID string, excludeBatchID uuid.UUID) (map[uuid.UUID]bool, error)

	CreateAuditLog(ctx context.Context, entry *models.ItemAuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, itemID uuid.UUID) ([]*models.ItemAuditLog, error)
}

// CountsByStatus flattens stats into a status to count map
func CountsByStatus(stats []StatusStat) map[models.ItemStatus]int {
	counts := make(map[models.ItemStatus]int, len(stats))
	for _, s := range stats {
		counts[s.Status] += int(s.Count)
	}
	return counts
}

// CounterColumns converts counters into TransitionBatch updates
func CounterColumns(c models.Counters) map[string]interface{} {
	return map[string]interface{}{
		"matched_count":   c.Matched,
		"unmatched_count": c.Unmatched,
		"divergent_count": c.Divergent,
		"ignored_count":   c.Ignored,
	}
}
