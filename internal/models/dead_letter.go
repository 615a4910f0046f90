package models

import (
	"encoding/json"
	"time"
)

// OperationType identifies the kind of failed operation a dead letter
// captures. The set is open-ended; these two are built in.
type OperationType string

const (
	OperationEmailImport OperationType = "email_import"
	OperationEmailSend   OperationType = "email_send"
)

type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "pending"
	DeadLetterRetrying DeadLetterStatus = "retrying"
	DeadLetterResolved DeadLetterStatus = "resolved"
	DeadLetterFailed   DeadLetterStatus = "failed"
	DeadLetterIgnored  DeadLetterStatus = "ignored"
)

// DeadLetter is a persisted record of a failed operation with enough
// payload to replay it. Rows are appended on first failure and only ever
// transition forward; resolved/failed/ignored are terminal.
type DeadLetter struct {
	ID            int64         `json:"id"`
	OperationType OperationType `json:"operationType"`
	// OperationKey is a stable idempotency key for the failed operation,
	// e.g. the provider message id for an import.
	OperationKey string           `json:"operationKey"`
	ErrorMessage string           `json:"errorMessage"`
	ErrorCode    string           `json:"errorCode,omitempty"`
	Payload      json.RawMessage  `json:"payload"`
	RetryCount   int              `json:"retryCount"`
	MaxRetries   int              `json:"maxRetries"`
	NextRetryAt  time.Time        `json:"nextRetryAt"`
	Status       DeadLetterStatus `json:"status"`
	Note         string           `json:"note,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}
