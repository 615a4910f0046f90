package models

import (
	"fmt"
	"time"
)

// SendKind identifies the kind of customer notification. A given
// (order, kind) pair is sent at most once.
type SendKind string

const (
	SendKindOrderConfirmed     SendKind = "order_confirmed"
	SendKindEnteringProduction SendKind = "entering_production"
	SendKindTrackingAdded      SendKind = "tracking_added"
)

type SendStatus string

const (
	SendStatusPending   SendStatus = "pending"
	SendStatusSent      SendStatus = "sent"
	SendStatusCancelled SendStatus = "cancelled"
	SendStatusFailed    SendStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s SendStatus) Terminal() bool {
	return s == SendStatusSent || s == SendStatusCancelled || s == SendStatusFailed
}

// PreconditionKind selects how a Precondition is evaluated at fire time.
type PreconditionKind string

const (
	// PreconditionStatusEquals requires the order status to still equal
	// Expected.
	PreconditionStatusEquals PreconditionKind = "status_equals"
	// PreconditionFieldPresent requires the named order field to still be
	// set. Only "tracking_number" is meaningful today.
	PreconditionFieldPresent PreconditionKind = "field_present"
)

// Precondition is the snapshot captured at enqueue time of the business
// condition that must still hold when the sweep fires. It is re-evaluated
// against the current order, never against schedule-time state.
type Precondition struct {
	Kind     PreconditionKind `json:"kind"`
	Field    string           `json:"field,omitempty"`
	Expected string           `json:"expected,omitempty"`
}

// Evaluate returns nil when the condition still holds, or a human-readable
// reason describing the mismatch.
func (p Precondition) Evaluate(order *Order) error {
	switch p.Kind {
	case PreconditionStatusEquals:
		if string(order.Status) != p.Expected {
			return fmt.Errorf("order status is %q, expected %q", order.Status, p.Expected)
		}
		return nil
	case PreconditionFieldPresent:
		switch p.Field {
		case "tracking_number":
			if order.TrackingNumber == nil || *order.TrackingNumber == "" {
				return fmt.Errorf("order field %q is no longer set", p.Field)
			}
			return nil
		default:
			return fmt.Errorf("unknown precondition field: %q", p.Field)
		}
	default:
		return fmt.Errorf("unknown precondition kind: %q", p.Kind)
	}
}

// ScheduledSend is one item in the notification queue: send at ScheduledAt
// unless the precondition no longer holds.
type ScheduledSend struct {
	ID           int64        `json:"id"`
	OrderID      int64        `json:"orderId"`
	SendKind     SendKind     `json:"sendKind"`
	ToAddress    string       `json:"toAddress"`
	ScheduledAt  time.Time    `json:"scheduledAt"`
	Precondition Precondition `json:"precondition"`
	Status       SendStatus   `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// CompletedSend is the audit record consulted before every send. It lives
// in its own table, independent of the queue, so the at-most-once
// guarantee does not depend on queue state alone.
type CompletedSend struct {
	ID       int64     `json:"id"`
	OrderID  int64     `json:"orderId"`
	SendKind SendKind  `json:"sendKind"`
	SentAt   time.Time `json:"sentAt"`
}
