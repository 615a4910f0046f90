package validation

import (
	"fmt"
	"net/mail"
	"strings"

	"mailroom/internal/constants"
	"mailroom/internal/errors"
)

// ValidateEmailAddress validates an email address using RFC 5322 parsing
// plus length bounds.
func ValidateEmailAddress(address string) error {
	if address == "" {
		return errors.New(errors.ErrCodeInvalidInput, "email address cannot be empty")
	}

	if len(address) > constants.MaxEmailAddressLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("email address too long (max %d characters)", constants.MaxEmailAddressLength))
	}

	if _, err := mail.ParseAddress(address); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "invalid email address format")
	}

	return nil
}

// ValidateMessageID validates a provider or RFC message id.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
		}
	}

	return nil
}

// NormalizeAddress extracts the bare address from a possibly
// display-named form and lowercases it for comparison.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	return strings.ToLower(address)
}

// DomainOf returns the domain part of an address, or an empty string when
// there is none.
func DomainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
