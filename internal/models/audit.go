package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditAction names an operator action recorded against an item
type AuditAction string

const (
	AuditActionResolve AuditAction = "RESOLVE"
	AuditActionIgnore  AuditAction = "IGNORE"
	AuditActionFlag    AuditAction = "FLAG"
	AuditActionConfirm AuditAction = "CONFIRM"
)

// ItemAuditLog records every manual change to an item
type ItemAuditLog struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        string      `gorm:"not null;index" json:"tenantId"`
	BatchID         uuid.UUID   `gorm:"type:uuid;index" json:"batchId"`
	ItemID          uuid.UUID   `gorm:"type:uuid;index" json:"itemId"`
	Action          AuditAction `json:"action"`
	PreviousStatus  ItemStatus  `json:"previousStatus"`
	NewStatus       ItemStatus  `json:"newStatus"`
	PreviousPayment *uuid.UUID  `gorm:"type:uuid" json:"previousPayment,omitempty"`
	NewPayment      *uuid.UUID  `gorm:"type:uuid" json:"newPayment,omitempty"`
	PerformedBy     string      `json:"performedBy"`
	Reason          string      `json:"reason,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// TableName overrides the default table name
func (ItemAuditLog) TableName() string {
	return "reconciliation_item_audit_logs"
}

// BeforeCreate assigns an ID when none was set
func (a *ItemAuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// NewAuditLog captures an item's state before and after a manual action
func NewAuditLog(action AuditAction, before ItemStatus, beforePayment *uuid.UUID, after *Item, userID, reason string) *ItemAuditLog {
	return &ItemAuditLog{
		TenantID:        after.TenantID,
		BatchID:         after.BatchID,
		ItemID:          after.ID,
		Action:          action,
		PreviousStatus:  before,
		NewStatus:       after.Status,
		PreviousPayment: beforePayment,
		NewPayment:      after.MatchedPaymentID,
		PerformedBy:     userID,
		Reason:          reason,
	}
}

// AllModels lists every table the store migrates
func AllModels() []interface{} {
	return []interface{}{
		&Template{},
		&Batch{},
		&Item{},
		&ItemAuditLog{},
	}
}
