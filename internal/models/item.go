package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Item is one external settlement line inside a batch
type Item struct {
	ID               uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         string              `gorm:"not null;index" json:"tenantId"`
	BatchID          uuid.UUID           `gorm:"type:uuid;not null;index" json:"batchId"`
	LineNumber       int                 `json:"lineNumber"`
	ExternalDate     time.Time           `gorm:"index" json:"externalDate"`
	ExternalAmount   decimal.Decimal     `gorm:"type:numeric(15,2)" json:"externalAmount"`
	ExternalID       string              `gorm:"index" json:"externalId,omitempty"`
	ExternalRef      string              `json:"externalRef,omitempty"`
	CardBrand        string              `json:"cardBrand,omitempty"`
	CardLastDigits   string              `json:"cardLastDigits,omitempty"`
	Installments     *int                `json:"installments,omitempty"`
	NetAmount        decimal.NullDecimal `gorm:"type:numeric(15,2)" json:"netAmount"`
	FeeAmount        decimal.NullDecimal `gorm:"type:numeric(15,2)" json:"feeAmount"`
	RawData          datatypes.JSON      `json:"rawData,omitempty"`
	Status           ItemStatus          `gorm:"not null;index" json:"status"`
	MatchedPaymentID *uuid.UUID          `gorm:"type:uuid;index" json:"matchedPaymentId,omitempty"`
	InternalAmount   decimal.NullDecimal `gorm:"type:numeric(15,2)" json:"internalAmount"`
	DifferenceAmount decimal.NullDecimal `gorm:"type:numeric(15,2)" json:"differenceAmount"`
	MatchConfidence  int                 `json:"matchConfidence"`
	MatchDetails     datatypes.JSON      `json:"matchDetails,omitempty"`
	ResolutionType   ResolutionType      `json:"resolutionType,omitempty"`
	ResolutionNotes  string              `json:"resolutionNotes,omitempty"`
	ResolvedAt       *time.Time          `json:"resolvedAt,omitempty"`
	ResolvedByUserID string              `json:"resolvedByUserId,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// TableName overrides the default table name
func (Item) TableName() string {
	return "reconciliation_items"
}

// BeforeCreate assigns an ID and the initial status
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Status == "" {
		i.Status = ItemStatusPending
	}
	return nil
}

// ApplyPayment records a payment as the item's counterpart and
// computes the amount difference, rounded to cents.
func (i *Item) ApplyPayment(p *Payment) {
	id := p.ID
	i.MatchedPaymentID = &id
	i.InternalAmount = decimal.NewNullDecimal(p.Amount)
	i.DifferenceAmount = decimal.NewNullDecimal(i.ExternalAmount.Sub(p.Amount).Round(2))
}

// ClearMatch removes any match outcome from the item
func (i *Item) ClearMatch() {
	i.MatchedPaymentID = nil
	i.InternalAmount = decimal.NullDecimal{}
	i.DifferenceAmount = decimal.NullDecimal{}
	i.MatchConfidence = 0
	i.MatchDetails = nil
}

// HasDifference reports whether the matched amounts disagree
func (i *Item) HasDifference() bool {
	return i.DifferenceAmount.Valid && !i.DifferenceAmount.Decimal.IsZero()
}

// String returns a string representation of the Item
func (i *Item) String() string {
	return fmt.Sprintf("Item{Line: %d, Date: %s, Amount: %s, NSU: %s, Status: %s}",
		i.LineNumber, i.ExternalDate.Format("2006-01-02"), i.ExternalAmount.StringFixed(2), i.ExternalID, i.Status)
}
