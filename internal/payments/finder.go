// Package payments reads internally recorded payments. The reconciliation
// engine never writes to the payments table.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"settlement-reconciliation-service/internal/models"
)

// Query selects candidate payments for a tenant
type Query struct {
	TenantID string
	Methods  []models.PaymentMethod
	Status   models.PaymentStatus
	From     time.Time
	To       time.Time
	// Exclude drops payments already booked elsewhere
	Exclude map[uuid.UUID]bool
}

// CardQuery returns the query used by auto-match: received card payments in [from, to]
func CardQuery(tenantID string, from, to time.Time) Query {
	return Query{
		TenantID: tenantID,
		Methods:  models.CardPaymentMethods,
		Status:   models.PaymentStatusReceived,
		From:     from,
		To:       to,
	}
}

// Validate checks the query before it reaches the database
func (q Query) Validate() error {
	if q.TenantID == "" {
		return fmt.Errorf("tenant is required")
	}
	if len(q.Methods) == 0 {
		return fmt.Errorf("at least one payment method is required")
	}
	if q.To.Before(q.From) {
		return fmt.Errorf("window end %s is before start %s", q.To.Format(time.RFC3339), q.From.Format(time.RFC3339))
	}
	return nil
}

// Filter removes excluded payments, keeping order
func (q Query) Filter(found []*models.Payment) []*models.Payment {
	if len(q.Exclude) == 0 {
		return found
	}
	kept := make([]*models.Payment, 0, len(found))
	for _, p := range found {
		if !q.Exclude[p.ID] {
			kept = append(kept, p)
		}
	}
	return kept
}

// Finder is the read-only view of the payments owned by the sales subsystem
type Finder interface {
	// FindPayments returns payments matching q ordered by effective date
	FindPayments(ctx context.Context, q Query) ([]*models.Payment, error)
	// GetPayment returns a tenant-owned payment or a not-found error
	GetPayment(ctx context.Context, tenantID string, id uuid.UUID) (*models.Payment, error)
}
