package ratelimit

import (
	"time"
)

// Policy holds the issuance and verification limits for a single target.
// MaxAttempts is carried here because it is part of the same configured
// policy, even though the verify path consumes it.
type Policy struct {
	MaxRequests int
	Window      time.Duration
	MaxAttempts int
}

// Sample is one prior challenge for the target under evaluation.
type Sample struct {
	CreatedAt time.Time
	Status    string
	SendCount int
}

// Decision is the outcome of a window evaluation.
type Decision struct {
	Allowed     bool
	Reason      string
	WaitSeconds int
}

// Evaluate applies a sliding-window counter over the prior challenges for a
// target. The window is recomputed relative to now on every call, so old
// challenges progressively age out. When the ceiling is hit, WaitSeconds is
// the time until the oldest in-window challenge leaves the window, rounded
// up to whole seconds.
func Evaluate(prior []Sample, policy Policy, now time.Time) Decision {
	if policy.MaxRequests <= 0 || policy.Window <= 0 {
		return Decision{Allowed: true}
	}

	cutoff := now.Add(-policy.Window)

	var inWindow int
	var oldest time.Time
	for _, s := range prior {
		if !s.CreatedAt.After(cutoff) {
			continue
		}
		inWindow++
		if oldest.IsZero() || s.CreatedAt.Before(oldest) {
			oldest = s.CreatedAt
		}
	}

	if inWindow < policy.MaxRequests {
		return Decision{Allowed: true}
	}

	remaining := policy.Window - now.Sub(oldest)
	wait := int((remaining + time.Second - 1) / time.Second)
	if wait < 1 {
		wait = 1
	}

	return Decision{
		Allowed:     false,
		Reason:      "too many verification requests for this phone number",
		WaitSeconds: wait,
	}
}
