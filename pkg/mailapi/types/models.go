package types

import "time"

// ClientConfig holds the settings for a mail provider API client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Mailbox    string
	Timeout    time.Duration
	RetryCount int
}

// ProviderMessage is the wire representation of a mailbox message as the
// provider API returns it.
type ProviderMessage struct {
	ID           string   `json:"id"`
	RFCMessageID string   `json:"rfcMessageId"`
	ThreadID     string   `json:"threadId"`
	From         string   `json:"from"`
	To           []string `json:"to"`
	Subject      string   `json:"subject"`
	BodyHTML     string   `json:"bodyHtml"`
	BodyText     string   `json:"bodyText"`
	ReceivedAt   int64    `json:"receivedAt"` // unix milliseconds
}

// ListMessagesResponse is the provider's paginated list envelope.
type ListMessagesResponse struct {
	Messages      []ProviderMessage `json:"messages"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

// SendEmailRequest is the outbound send payload.
type SendEmailRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"bodyHtml"`
	Mailbox  string `json:"mailbox,omitempty"`
}

// SendEmailResponse is the provider's acknowledgement of a send.
type SendEmailResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}
