package models

import "time"

// ExternalMessage is the ephemeral representation of a mailbox message as
// delivered by the provider, before deduplication and persistence. It is
// never stored as-is.
type ExternalMessage struct {
	// ProviderMessageID is the provider-assigned identifier. It may be
	// absent when the same message is re-delivered through a different
	// path.
	ProviderMessageID string `json:"providerMessageId"`
	// RFCMessageID is the globally unique RFC 822 Message-ID header. May
	// be absent on malformed messages.
	RFCMessageID string    `json:"rfcMessageId"`
	From         string    `json:"from"`
	To           []string  `json:"to"`
	Subject      string    `json:"subject"`
	BodyHTML     string    `json:"bodyHtml"`
	BodyText     string    `json:"bodyText"`
	ThreadID     string    `json:"threadId"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// Validate enforces the one hard requirement on an inbound message: a
// received timestamp. Everything else degrades gracefully through the
// dedup strategy chain.
func (m *ExternalMessage) Validate() error {
	if m.ReceivedAt.IsZero() {
		return ConfigError{Message: "external message is missing received timestamp"}
	}
	return nil
}
