package types

import (
	"context"
	"time"
)

// Client is the narrow capability the pipeline holds on the mail
// provider. Message fetching is injected into the ingestion coordinator
// only; nothing else talks to the mailbox directly.
type Client interface {
	// GetMessage fetches the full message for a provider message id, as
	// needed after a push notification that carries only identifiers.
	GetMessage(ctx context.Context, messageID string) (*ProviderMessage, error)
	// ListMessages returns messages received since the given time,
	// following pagination to exhaustion.
	ListMessages(ctx context.Context, since time.Time) ([]ProviderMessage, error)
	// SendEmail delivers an outbound notification. The pipeline treats
	// this as an opaque capability with an error result.
	SendEmail(ctx context.Context, to, subject, htmlBody string) (*SendEmailResponse, error)
}
