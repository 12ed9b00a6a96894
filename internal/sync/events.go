package sync

import (
	"time"

	"github.com/xelth-com/eckposgo/internal/models"
)

// EventType tags a conflict lifecycle notification
type EventType string

const (
	EventDetected      EventType = "conflict.detected"
	EventAutoResolved  EventType = "conflict.auto_resolved"
	EventPendingManual EventType = "conflict.pending_manual"
	EventResolved      EventType = "conflict.resolved"
	EventIgnored       EventType = "conflict.ignored"
	EventPurged        EventType = "conflicts.purged"
)

// Event is published after a conflict mutation has been committed
type Event struct {
	Type       EventType             `json:"type"`
	ConflictID string                `json:"conflictId,omitempty"`
	EntityType string                `json:"entityType,omitempty"`
	EntityID   int64                 `json:"entityId,omitempty"`
	Status     models.ConflictStatus `json:"status,omitempty"`
	Resolution models.ResolutionType `json:"resolution,omitempty"`
	UserID     *string               `json:"userId,omitempty"`
	Count      int                   `json:"count,omitempty"`
	At         time.Time             `json:"at"`
}

// Notifier receives committed conflict events. Publish must not block.
type Notifier interface {
	Publish(Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Event)

func (f NotifierFunc) Publish(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

func eventFor(c *models.Conflict, typ EventType, at time.Time) Event {
	return Event{
		Type:       typ,
		ConflictID: c.ID,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Status:     c.Status,
		Resolution: c.AppliedResolution,
		UserID:     c.ResolvedByUserID,
		At:         at,
	}
}
