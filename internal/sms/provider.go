package sms

import (
	"context"
	"errors"
	"strings"
)

// Result describes the outcome of one delivery attempt. Fallback results
// carry the triggering reason; primary results carry the provider receipt.
type Result struct {
	Provider       string
	SID            string
	Status         string
	Fallback       bool
	FallbackReason string
}

// Sender delivers a message body to an E.164 target.
type Sender interface {
	Send(ctx context.Context, to, body string) (*Result, error)
}

// Delivery error categories. Only some categories make an error eligible
// for the next strategy in the chain; anything uncategorized propagates as
// a hard failure.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryAuth
	CategorySenderRejected
	CategoryTimeout
	CategoryNotConfigured
)

// DeliveryError is a classified provider failure.
type DeliveryError struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Classify maps an arbitrary delivery failure onto a category, matching the
// known transient/config failure shapes by message when the error does not
// already carry one.
func Classify(err error) ErrorCategory {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not configured"):
		return CategoryNotConfigured
	case strings.Contains(msg, "401") || strings.Contains(msg, "authenticat"):
		return CategoryAuth
	case strings.Contains(msg, "alphanumeric") || strings.Contains(msg, "sender"):
		return CategorySenderRejected
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CategoryTimeout
	}
	return CategoryUnknown
}

// EligibleForFallback reports whether a failed primary delivery may collapse
// to the inline development fallback.
func EligibleForFallback(err error) bool {
	switch Classify(err) {
	case CategoryAuth, CategorySenderRejected, CategoryTimeout, CategoryNotConfigured:
		return true
	}
	return false
}

// IsSenderRejected reports whether the failure specifically indicates the
// sender identity was refused, which unlocks the numeric-sender retry tier.
func IsSenderRejected(err error) bool {
	return Classify(err) == CategorySenderRejected
}
