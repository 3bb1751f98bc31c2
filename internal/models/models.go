package models

import (
	"fmt"
	"strings"
)

// BatchStatus represents the lifecycle state of a reconciliation batch
type BatchStatus string

const (
	// BatchStatusDraft is a batch that has been created but holds no items
	BatchStatusDraft BatchStatus = "DRAFT"
	// BatchStatusImported is a batch whose statement has been parsed into items
	BatchStatusImported BatchStatus = "IMPORTED"
	// BatchStatusMatched is a batch that went through auto-match
	BatchStatusMatched BatchStatus = "MATCHED"
	// BatchStatusClosed is a finalized batch; nothing may change afterwards
	BatchStatusClosed BatchStatus = "CLOSED"
)

// String returns the string representation of BatchStatus
func (s BatchStatus) String() string {
	return string(s)
}

// IsValid checks if the batch status is known
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusDraft, BatchStatusImported, BatchStatusMatched, BatchStatusClosed:
		return true
	}
	return false
}

// AcceptsImport reports whether a statement may be (re)imported in this state
func (s BatchStatus) AcceptsImport() bool {
	return s == BatchStatusDraft || s == BatchStatusImported
}

// AcceptsResolution reports whether items may be resolved in this state.
// Items are decided by operators only after auto-match has run.
func (s BatchStatus) AcceptsResolution() bool {
	return s == BatchStatusMatched
}

// ItemStatus represents the match state of a single settlement line
type ItemStatus string

const (
	ItemStatusPending        ItemStatus = "PENDING"
	ItemStatusAutoMatched    ItemStatus = "AUTO_MATCHED"
	ItemStatusSuggestedMatch ItemStatus = "SUGGESTED_MATCH"
	ItemStatusManualMatched  ItemStatus = "MANUAL_MATCHED"
	ItemStatusUnmatched      ItemStatus = "UNMATCHED"
	ItemStatusDivergent      ItemStatus = "DIVERGENT"
	ItemStatusDisputed       ItemStatus = "DISPUTED"
	ItemStatusResolved       ItemStatus = "RESOLVED"
	ItemStatusIgnored        ItemStatus = "IGNORED"
)

// AllItemStatuses lists every item status in lifecycle order
var AllItemStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusAutoMatched,
	ItemStatusSuggestedMatch,
	ItemStatusManualMatched,
	ItemStatusUnmatched,
	ItemStatusDivergent,
	ItemStatusDisputed,
	ItemStatusResolved,
	ItemStatusIgnored,
}

// UnresolvedItemStatuses are the statuses that block closing a batch
var UnresolvedItemStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusUnmatched,
	ItemStatusSuggestedMatch,
	ItemStatusDivergent,
	ItemStatusDisputed,
}

// BookingItemStatuses are the statuses that hold a payment for the double-booking guard
var BookingItemStatuses = []ItemStatus{
	ItemStatusAutoMatched,
	ItemStatusManualMatched,
	ItemStatusResolved,
}

// String returns the string representation of ItemStatus
func (s ItemStatus) String() string {
	return string(s)
}

// IsValid checks if the item status is known
func (s ItemStatus) IsValid() bool {
	for _, status := range AllItemStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the item no longer blocks closing its batch
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusAutoMatched, ItemStatusManualMatched, ItemStatusResolved, ItemStatusIgnored:
		return true
	}
	return false
}

// IsMatched reports whether the item counts as matched on a closed batch
func (s ItemStatus) IsMatched() bool {
	return s == ItemStatusAutoMatched || s == ItemStatusManualMatched || s == ItemStatusResolved
}

// IsFlag reports whether the status is a manual flag
func (s ItemStatus) IsFlag() bool {
	return s == ItemStatusDivergent || s == ItemStatusDisputed
}

// ParseItemStatus parses a case-insensitive item status
func ParseItemStatus(value string) (ItemStatus, error) {
	status := ItemStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid item status: %s", value)
	}
	return status, nil
}

// ResolutionType records how an operator settled an item
type ResolutionType string

const (
	ResolutionManualMatch      ResolutionType = "MANUAL_MATCH"
	ResolutionAcceptDifference ResolutionType = "ACCEPT_DIFFERENCE"
	ResolutionFeeAdjustment    ResolutionType = "FEE_ADJUSTMENT"
	ResolutionChargeback       ResolutionType = "CHARGEBACK"
	ResolutionWriteOff         ResolutionType = "WRITE_OFF"
	ResolutionBulkConfirmed    ResolutionType = "BULK_CONFIRMED"
	ResolutionNotApplicable    ResolutionType = "NOT_APPLICABLE"
	ResolutionOther            ResolutionType = "OTHER"
)

// IsValid checks if the resolution type is known
func (r ResolutionType) IsValid() bool {
	switch r {
	case ResolutionManualMatch, ResolutionAcceptDifference, ResolutionFeeAdjustment,
		ResolutionChargeback, ResolutionWriteOff, ResolutionBulkConfirmed,
		ResolutionNotApplicable, ResolutionOther:
		return true
	}
	return false
}

// ParseResolutionType parses a case-insensitive resolution type
func ParseResolutionType(value string) (ResolutionType, error) {
	rt := ResolutionType(strings.ToUpper(strings.TrimSpace(value)))
	if !rt.IsValid() {
		return "", fmt.Errorf("invalid resolution type: %s", value)
	}
	return rt, nil
}

// PaymentMethod is the method recorded on an internal payment
type PaymentMethod string

const (
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard  PaymentMethod = "DEBIT_CARD"
	PaymentMethodPix        PaymentMethod = "PIX"
	PaymentMethodCash       PaymentMethod = "CASH"
)

// CardPaymentMethods are the methods settled by card acquirers
var CardPaymentMethods = []PaymentMethod{PaymentMethodCreditCard, PaymentMethodDebitCard}

// PaymentStatus is the status of an internal payment
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusReceived PaymentStatus = "RECEIVED"
	PaymentStatusCanceled PaymentStatus = "CANCELED"
)
