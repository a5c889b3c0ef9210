package phone

import (
	"errors"
	"strings"
)

// ErrInvalid is returned when the input cannot be normalized to E.164.
var ErrInvalid = errors.New("invalid phone number")

// Normalize converts raw input to E.164: a leading +, then 8 to 15 digits
// with the first digit 1-9. Spaces, dashes, dots and parentheses are
// stripped; a leading 00 international prefix is rewritten to +. Idempotent
// for any value it accepts.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalid
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator noise, dropped
		default:
			return "", ErrInvalid
		}
	}

	cleaned := b.String()
	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}
	if !strings.HasPrefix(cleaned, "+") {
		return "", ErrInvalid
	}

	digits := cleaned[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalid
	}
	if digits[0] < '1' || digits[0] > '9' {
		return "", ErrInvalid
	}

	return cleaned, nil
}
