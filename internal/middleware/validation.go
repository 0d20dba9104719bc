package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxBodyLength bounds inbound message text.
const MaxBodyLength = 100000

// ValidateInbound validates the From and Body fields of a webhook delivery.
func ValidateInbound(from, body string) error {
	if strings.TrimSpace(from) == "" {
		return errors.New("From is required")
	}
	if !strings.ContainsAny(from, "0123456789") {
		return errors.New("From contains no phone number")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("Body is required")
	}
	if len(body) > MaxBodyLength {
		return errors.New("Body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("Body must be valid UTF-8")
	}
	return nil
}

// ValidateConversationKey validates a canonical conversation key path parameter.
func ValidateConversationKey(key string) error {
	if len(key) == 0 || len(key) > 20 {
		return errors.New("invalid conversation key length")
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return errors.New("conversation key must be digits only")
		}
	}
	return nil
}
