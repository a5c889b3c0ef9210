package sms

import (
	"context"
	"log"

	"verify-backend/internal/models"
)

// Primary is the contract the chain needs from the real provider. Satisfied
// by HTTPProvider; stubbed in tests.
type Primary interface {
	Send(ctx context.Context, to, body string) (*Result, error)
	SendNumeric(ctx context.Context, to, body string) (*Result, error)
	IsConfigured() bool
	HasNumericSender() bool
}

// Chain is the ordered delivery strategy list: preferred sender identity,
// numeric-sender retry, inline development fallback. Strategies are tried in
// order until one succeeds; errors not eligible for the next tier propagate
// as hard failures.
type Chain struct {
	primary       Primary
	forceFallback bool
}

func NewChain(primary Primary, forceFallback bool) *Chain {
	return &Chain{
		primary:       primary,
		forceFallback: forceFallback,
	}
}

// Send runs the chain for one message. A fallback result means the message
// was NOT sent through any channel; the caller surfaces the code inline and
// records the reason. No new code is ever generated here.
func (c *Chain) Send(ctx context.Context, to, body string) (*Result, error) {
	if c.forceFallback {
		return fallbackResult("fallback force-enabled by configuration"), nil
	}

	// Missing credentials never reach the network
	if !c.primary.IsConfigured() {
		return fallbackResult("sms provider credentials not configured"), nil
	}

	res, err := c.primary.Send(ctx, to, body)
	if err == nil {
		return res, nil
	}

	// Tier 2: retry with the numeric sender when the preferred identity was
	// rejected and a numeric sender exists
	if IsSenderRejected(err) && c.primary.HasNumericSender() {
		log.Printf("[SMS] sender identity rejected, retrying with numeric sender: %v", err)
		res, retryErr := c.primary.SendNumeric(ctx, to, body)
		if retryErr == nil {
			return res, nil
		}
		err = retryErr
	}

	if EligibleForFallback(err) {
		log.Printf("[SMS] delivery failed, collapsing to inline fallback: %v", err)
		return fallbackResult(err.Error()), nil
	}

	return nil, err
}

func fallbackResult(reason string) *Result {
	return &Result{
		Provider:       models.ProviderFallbackDev,
		Fallback:       true,
		FallbackReason: reason,
	}
}
