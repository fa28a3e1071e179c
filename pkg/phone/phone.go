package phone

import (
	"errors"
	"strings"
)

// NormalizeE164 canonicalizes a dialable phone number into E.164 form.
//
// Accepted inputs: "+15551234567", "15551234567", "(555) 123-4567",
// "555.123.4567", with any mix of spaces, dots, dashes and parens.
// Ten-digit numbers are assumed NANP and get a +1 prefix.
//
// Numbers that cannot be made dialable return ErrUnparsable; callers in the
// admission path count these as skipped rather than failing the batch.
func NormalizeE164(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrUnparsable
	}

	hasPlus := strings.HasPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) < 7 || len(digits) > 15:
		return "", ErrUnparsable
	case hasPlus:
		if digits[0] == '0' {
			return "", ErrUnparsable
		}
		return "+" + digits, nil
	case len(digits) == 10:
		// NANP without country code.
		return "+1" + digits, nil
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, nil
	case digits[0] == '0':
		return "", ErrUnparsable
	default:
		return "+" + digits, nil
	}
}

var ErrUnparsable = errors.New("phone: unparsable number")

// IsE164 reports whether s is already in canonical E.164 form.
func IsE164(s string) bool {
	if !strings.HasPrefix(s, "+") {
		return false
	}
	digits := s[1:]
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	if digits[0] == '0' {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
