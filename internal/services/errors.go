package services

import (
	"errors"
	"fmt"
)

// Expected, caller-visible failures. Handlers map these onto stable error
// codes; anything else is an infrastructure failure.
var (
	ErrInvalidChannel = errors.New("unsupported channel, only sms is available")
	ErrInvalidPhone   = errors.New("phone number must be E.164 (+ followed by 8-15 digits)")
	ErrInvalidCode    = errors.New("code must be a 4-8 digit number")
	ErrInvalidState   = errors.New("challenge can no longer be verified")
	ErrExpired        = errors.New("code has expired, request a new one")
	ErrMaxAttempts    = errors.New("maximum verification attempts exceeded")
)

// RateLimitError is returned when the sliding window denies issuance. Wait
// is the whole-seconds hint until the oldest in-window challenge ages out.
type RateLimitError struct {
	WaitSeconds int
	Reason      string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (retry in %ds)", e.Reason, e.WaitSeconds)
}

// MismatchError reports a wrong code together with the remaining attempt
// budget. Never carries the correct code or its digest.
type MismatchError struct {
	AttemptsRemaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("incorrect code, %d attempts remaining", e.AttemptsRemaining)
}
