package models

import "time"

// SenderFilter is a user-authored categorization rule keyed by a full
// sender address or a bare domain. A matching filter wins unconditionally
// over the heuristics, which is what makes "apply to future emails"
// meaningful.
type SenderFilter struct {
	ID int64 `json:"id"`
	// Pattern is either "user@example.com" or "example.com".
	Pattern   string    `json:"pattern"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
