package models

// Mail provider webhook event types
const (
	EventMessageReceived = "message.received"
)

// MailWebhookPayload is the minimal push notification the provider
// delivers. It carries only identifiers; the full message is fetched
// through the provider API afterwards.
type MailWebhookPayload struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
	Mailbox   string `json:"mailbox"`
	Payload   struct {
		MessageID string `json:"messageId"`
		ThreadID  string `json:"threadId"`
		From      string `json:"from"`
	} `json:"payload"`
}
