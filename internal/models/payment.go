package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is an internally recorded payment owned by the sales subsystem.
// The reconciliation engine only reads it.
type Payment struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          string          `gorm:"not null;index" json:"tenantId"`
	Method            PaymentMethod   `gorm:"index" json:"method"`
	Status            PaymentStatus   `gorm:"index" json:"status"`
	Amount            decimal.Decimal `gorm:"type:numeric(15,2)" json:"amount"`
	NSU               string          `json:"nsu,omitempty"`
	AuthorizationCode string          `json:"authorizationCode,omitempty"`
	CardBrand         string          `json:"cardBrand,omitempty"`
	ReceivedAt        *time.Time      `json:"receivedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// TableName overrides the default table name
func (Payment) TableName() string {
	return "payments"
}

// EffectiveDate returns the date used for matching: receivedAt when known, otherwise createdAt
func (p *Payment) EffectiveDate() time.Time {
	if p.ReceivedAt != nil && !p.ReceivedAt.IsZero() {
		return *p.ReceivedAt
	}
	return p.CreatedAt
}

// String returns a string representation of the Payment
func (p *Payment) String() string {
	return fmt.Sprintf("Payment{ID: %s, Amount: %s, NSU: %s, Date: %s}",
		p.ID, p.Amount.StringFixed(2), p.NSU, p.EffectiveDate().Format("2006-01-02"))
}
