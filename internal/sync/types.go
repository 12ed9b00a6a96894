package sync

import (
	"fmt"
	"time"

	"github.com/xelth-com/eckposgo/internal/models"
)

// Well-known entity types submitted by the POS services
const (
	EntityReceipt     = "Receipt"
	EntityReceiptItem = "ReceiptItem"
	EntityPayment     = "Payment"
	EntityProduct     = "Product"
	EntityCategory    = "Category"
	EntityInventory   = "Inventory"
	EntityStockTake   = "StockTake"
	EntityCustomer    = "Customer"
	EntityGiftCard    = "GiftCard"
	EntityShift       = "Shift"
)

// Audit actions that are not resolution type names
const (
	ActionDetected      = "Detected"
	ActionPendingManual = "PendingManual"
	ActionIgnored       = "Ignored"
	ActionPurged        = "Purged"
)

// IgnoredNotesPrefix marks notes of conflicts closed without a verdict
const IgnoredNotesPrefix = "[IGNORED]"

// DetectRequest carries both copies of one record as submitted by a sync caller
type DetectRequest struct {
	EntityType      string    `json:"entityType"`
	EntityID        int64     `json:"entityId"`
	LocalData       string    `json:"localData"`
	RemoteData      string    `json:"remoteData"`
	LocalTimestamp  time.Time `json:"localTimestamp"`
	RemoteTimestamp time.Time `json:"remoteTimestamp"`
}

// ManualResolveRequest is an operator's verdict on one conflict
type ManualResolveRequest struct {
	ConflictID string                `json:"conflictId"`
	Resolution models.ResolutionType `json:"resolution"`
	UserID     string                `json:"userId"`
	Notes      string                `json:"notes,omitempty"`
	MergedData string                `json:"mergedData,omitempty"` // required for Merged
}

// Result is the outcome of one resolution attempt.
// Success=false with NewStatus=PendingManual is a policy deferral, not a failure.
type Result struct {
	Success           bool                  `json:"success"`
	Message           string                `json:"message"`
	Code              string                `json:"code,omitempty"` // error class of a failed attempt
	ConflictID        string                `json:"conflictId,omitempty"`
	OldStatus         models.ConflictStatus `json:"oldStatus,omitempty"`
	NewStatus         models.ConflictStatus `json:"newStatus,omitempty"`
	AppliedResolution models.ResolutionType `json:"appliedResolution,omitempty"`
	ResultingData     string                `json:"resultingData,omitempty"`
}

// Deferred reports whether the attempt was parked for a human
func (r *Result) Deferred() bool {
	return !r.Success && r.NewStatus == models.ConflictStatusPendingManual
}

// Failure returns the error class of a failed attempt, nil on success or deferral
func (r *Result) Failure() error {
	if r.Code == "" {
		return nil
	}
	return &ConflictError{Code: r.Code, Message: r.Message}
}

func failed(class *ConflictError, conflictID, format string, args ...any) *Result {
	return &Result{
		ConflictID: conflictID,
		Code:       class.Code,
		Message:    fmt.Sprintf(format, args...),
	}
}

// Summary aggregates active conflicts for dashboards
type Summary struct {
	Total         int64            `json:"total"`
	PendingManual int64            `json:"pendingManual"`
	AutoResolved  int64            `json:"autoResolved"`
	Detected      int64            `json:"detected"`
	Resolved      int64            `json:"resolved"`
	Ignored       int64            `json:"ignored"`
	ByEntityType  map[string]int64 `json:"byEntityType"`
}
