package messaging

import (
	"strings"
	"unicode"
)

// PhoneNormalizer turns raw provider phone strings into a stable lookup key.
//
// The rule is lossy: a number that does not start with the default prefix gets
// it prepended, so a foreign number can never be told apart from a domestic one
// missing its country code.
type PhoneNormalizer struct {
	prefix string
}

func NewPhoneNormalizer(defaultPrefix string) PhoneNormalizer {
	return PhoneNormalizer{prefix: strings.TrimLeft(strings.TrimSpace(defaultPrefix), "+")}
}

// Normalize strips '+' and whitespace and prepends the default prefix when it
// is missing. It is total: blank input yields the bare prefix, so callers that
// need a phone must check the raw value first. Normalize(Normalize(x)) == Normalize(x).
func (n PhoneNormalizer) Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r == '+' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	key := b.String()
	if !strings.HasPrefix(key, n.prefix) {
		key = n.prefix + key
	}
	return key
}

// Prefix returns the configured default country prefix.
func (n PhoneNormalizer) Prefix() string {
	return n.prefix
}
