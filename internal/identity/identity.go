// Package identity canonicalizes raw sender identifiers into conversation keys.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultCountryCode is prepended to numbers that carry no country code.
	DefaultCountryCode = "52"
	// DefaultTrunkPrefix is the national dialing prefix replaced by the country code.
	DefaultTrunkPrefix = "0"
)

// ErrInvalidIdentifier is returned when a raw identifier carries no digits.
var ErrInvalidIdentifier = errors.New("identifier contains no digits")

// Key is the canonical, digits-only sender identifier. It is the sole identity of a conversation.
type Key string

// String returns the key as a plain string.
func (k Key) String() string {
	return string(k)
}

// WhatsAppAddress formats the key as a WhatsApp channel address.
func (k Key) WhatsAppAddress() string {
	return "whatsapp:+" + string(k)
}

// Normalizer maps raw identifiers to keys. It is pure and safe for concurrent use.
type Normalizer struct {
	countryCode string
	trunkPrefix string
}

// NewNormalizer validates the dialing plan. The country code must not begin with the
// trunk prefix, otherwise normalizing twice would not be stable.
func NewNormalizer(countryCode, trunkPrefix string) (*Normalizer, error) {
	if countryCode == "" || digitsOnly(countryCode) != countryCode {
		return nil, fmt.Errorf("invalid country code %q", countryCode)
	}
	if len(trunkPrefix) != 1 || digitsOnly(trunkPrefix) != trunkPrefix {
		return nil, fmt.Errorf("invalid trunk prefix %q", trunkPrefix)
	}
	if strings.HasPrefix(countryCode, trunkPrefix) {
		return nil, fmt.Errorf("country code %q starts with trunk prefix %q", countryCode, trunkPrefix)
	}
	return &Normalizer{countryCode: countryCode, trunkPrefix: trunkPrefix}, nil
}

// CountryCode returns the configured country code.
func (n *Normalizer) CountryCode() string {
	return n.countryCode
}

// Normalize strips every non-digit and applies the dialing plan:
// a leading trunk prefix is replaced by the country code, a number already
// starting with the country code is kept, anything else gets the country code prepended.
// With no digits the result is the country code alone.
func (n *Normalizer) Normalize(raw string) Key {
	digits := digitsOnly(raw)

	switch {
	case strings.HasPrefix(digits, n.trunkPrefix):
		return Key(n.countryCode + digits[len(n.trunkPrefix):])
	case strings.HasPrefix(digits, n.countryCode):
		return Key(digits)
	default:
		return Key(n.countryCode + digits)
	}
}

// Parse is Normalize with validation: raw must contain at least one digit.
func (n *Normalizer) Parse(raw string) (Key, error) {
	if digitsOnly(raw) == "" {
		return "", ErrInvalidIdentifier
	}
	return n.Normalize(raw), nil
}

var defaultNormalizer = &Normalizer{
	countryCode: DefaultCountryCode,
	trunkPrefix: DefaultTrunkPrefix,
}

// Default returns the normalizer for the default dialing plan.
func Default() *Normalizer {
	return defaultNormalizer
}

// Normalize applies the default dialing plan.
func Normalize(raw string) Key {
	return defaultNormalizer.Normalize(raw)
}

// Parse applies the default dialing plan with validation.
func Parse(raw string) (Key, error) {
	return defaultNormalizer.Parse(raw)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
