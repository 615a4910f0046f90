package models

import (
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Category is the closed classification enum. Unknown values are rejected
// at write time rather than stored as free-form strings.
type Category string

const (
	CategoryPrimary       Category = "primary"
	CategoryNotifications Category = "notifications"
	CategoryPromotional   Category = "promotional"
	// CategorySpam is only reachable through a manual sender filter; no
	// heuristic assigns it.
	CategorySpam Category = "spam"
)

// ParseCategory validates a category string against the closed enum.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryPrimary, CategoryNotifications, CategoryPromotional, CategorySpam:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category: %q", s)
	}
}

// TriageState records how a communication was linked, which downstream
// consumers use to decide whether a link still needs a human look.
type TriageState string

const (
	// TriageUnassigned means no link could be established automatically.
	TriageUnassigned TriageState = "unassigned"
	// TriageNeedsReview means the link was set by a heuristic.
	TriageNeedsReview TriageState = "needs_review"
	// TriageManual means a human set or confirmed the link.
	TriageManual TriageState = "manual"
)

// Communication is the persisted record of a single real-world message.
// At most one row exists per message; the dedup engine enforces this
// before insert and a unique index on rfc_message_id backstops the
// residual race between the webhook and the poller.
type Communication struct {
	ID                int64       `json:"id"`
	Direction         Direction   `json:"direction"`
	FromAddress       string      `json:"fromAddress"`
	ToAddresses       []string    `json:"toAddresses"`
	Subject           string      `json:"subject"`
	BodyHTML          string      `json:"bodyHtml"`
	BodyPreview       string      `json:"bodyPreview"`
	ProviderMessageID string      `json:"providerMessageId"`
	RFCMessageID      string      `json:"rfcMessageId"`
	ThreadID          string      `json:"threadId"`
	Category          Category    `json:"category"`
	OrderID           *int64      `json:"orderId,omitempty"`
	TriageState       TriageState `json:"triageState"`
	ReceivedAt        time.Time   `json:"receivedAt"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}
