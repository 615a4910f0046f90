package models

import (
	"strings"
	"time"
)

// OrderStatus values mirror the production workflow states the notifier
// revalidates against. The pipeline only ever reads them.
type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "draft"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProduction OrderStatus = "in_production"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Order is the business record communications and scheduled sends attach
// to. Mailroom reads identity and status only; it never creates, mutates
// or closes orders.
type Order struct {
	ID              int64       `json:"id"`
	CustomerEmail   string      `json:"customerEmail"`
	AlternateEmails []string    `json:"alternateEmails,omitempty"`
	Status          OrderStatus `json:"status"`
	TrackingNumber  *string     `json:"trackingNumber,omitempty"`
	Closed          bool        `json:"closed"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// MatchesIdentity reports whether addr equals the order's primary or any
// alternate email, case-insensitively.
func (o *Order) MatchesIdentity(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if strings.ToLower(o.CustomerEmail) == addr {
		return true
	}
	for _, alt := range o.AlternateEmails {
		if strings.ToLower(alt) == addr {
			return true
		}
	}
	return false
}
