package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Batch is one reconciliation period, backed by one uploaded statement
type Batch struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       string          `gorm:"not null;index" json:"tenantId"`
	Status         BatchStatus     `gorm:"not null;index" json:"status"`
	FileName       string          `json:"fileName"`
	TemplateID     *uuid.UUID      `gorm:"type:uuid" json:"templateId,omitempty"`
	PeriodStart    *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd      *time.Time      `json:"periodEnd,omitempty"`
	TotalItems     int             `json:"totalItems"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(15,2)" json:"totalAmount"`
	MatchedCount   int             `json:"matchedCount"`
	UnmatchedCount int             `json:"unmatchedCount"`
	DivergentCount int             `json:"divergentCount"`
	IgnoredCount   int             `json:"ignoredCount"`
	ImportedAt     *time.Time      `json:"importedAt,omitempty"`
	ClosedAt       *time.Time      `json:"closedAt,omitempty"`
	ClosedByUserID string          `json:"closedByUserId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TableName overrides the default table name
func (Batch) TableName() string {
	return "reconciliation_batches"
}

// BeforeCreate assigns an ID and the initial status
func (b *Batch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BatchStatusDraft
	}
	return nil
}

// HasPeriod reports whether the batch period is known
func (b *Batch) HasPeriod() bool {
	return b.PeriodStart != nil && b.PeriodEnd != nil
}

// String returns a string representation of the Batch
func (b *Batch) String() string {
	return fmt.Sprintf("Batch{ID: %s, Status: %s, Items: %d, Total: %s}",
		b.ID, b.Status, b.TotalItems, b.TotalAmount.StringFixed(2))
}

// Counters holds the aggregate item counts stored on a batch
type Counters struct {
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Divergent int `json:"divergent"`
	Ignored   int `json:"ignored"`
}

// Apply copies the counters onto the batch
func (c Counters) Apply(b *Batch) {
	b.MatchedCount = c.Matched
	b.UnmatchedCount = c.Unmatched
	b.DivergentCount = c.Divergent
	b.IgnoredCount = c.Ignored
}

// WorkingCounters derives the counters shown while a batch is still open.
// Suggested matches count as matched and flagged items as divergent.
func WorkingCounters(byStatus map[ItemStatus]int) Counters {
	return Counters{
		Matched: byStatus[ItemStatusAutoMatched] + byStatus[ItemStatusSuggestedMatch] +
			byStatus[ItemStatusManualMatched] + byStatus[ItemStatusResolved],
		Unmatched: byStatus[ItemStatusPending] + byStatus[ItemStatusUnmatched],
		Divergent: byStatus[ItemStatusDivergent] + byStatus[ItemStatusDisputed],
		Ignored:   byStatus[ItemStatusIgnored],
	}
}
