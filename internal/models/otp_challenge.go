package models

import "time"

// Challenge status lifecycle: pending -> sent -> {verified|expired|failed|cancelled}.
// pending is the instant-of-creation state before a delivery attempt is
// recorded. verified is terminal success; the rest are terminal failures.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusVerified  = "verified"
	StatusExpired   = "expired"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Delivery channels. Only SMS is supported; anything else is rejected
// before any side effect.
const (
	ChannelSMS = "sms"
)

// Delivery providers.
const (
	ProviderPrimarySMS  = "primary_sms"
	ProviderFallbackDev = "fallback_dev"
)

// Attempt results for the audit log.
const (
	AttemptResultSuccess  = "success"
	AttemptResultMismatch = "mismatch"
)

// OtpChallenge is one OTP verification lifecycle instance. The plaintext
// code is never persisted; only its SHA-256 digest is stored, set once at
// creation.
type OtpChallenge struct {
	ID           string            `json:"id" db:"id"`
	Context      string            `json:"context" db:"context"`
	Channel      string            `json:"channel" db:"channel"`
	Target       string            `json:"target" db:"target"`
	CodeHash     string            `json:"-" db:"code_hash"` // Never expose the digest in JSON responses
	Status       string            `json:"status" db:"status"`
	Provider     string            `json:"provider,omitempty" db:"provider"`
	Metadata     *DeliveryMetadata `json:"metadata,omitempty" db:"metadata"`
	AttemptCount int               `json:"attempt_count" db:"attempt_count"`
	SendCount    int               `json:"send_count" db:"send_count"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
	ExpiresAt    time.Time         `json:"expires_at" db:"expires_at"`
	VerifiedAt   *time.Time        `json:"verified_at,omitempty" db:"verified_at"`
}

// IsExpired computes expiry from the stored deadline. Expiry is a function
// of (now, expiresAt) at every read site; the persisted expired status is a
// best-effort cache write, not the source of truth.
func (c *OtpChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsTerminal reports whether the status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusVerified, StatusExpired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is legal
// under the state machine. Anything else must fail loudly, never silently
// succeed.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusCancelled
	case StatusSent:
		switch to {
		case StatusVerified, StatusExpired, StatusFailed, StatusCancelled:
			return true
		}
	}
	return false
}

// Metadata kinds for typed delivery receipts.
const (
	MetadataKindPrimary  = "primary"
	MetadataKindFallback = "fallback"
)

// DeliveryMetadata is the typed delivery receipt stored with a challenge:
// either a primary-provider receipt (message sid + provider status) or a
// fallback record carrying the triggering reason. Extra holds
// forward-compatible provider fields for audit logging.
type DeliveryMetadata struct {
	Kind   string            `json:"kind"`
	SID    string            `json:"sid,omitempty"`
	Status string            `json:"status,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// OtpAttemptRecord is an append-only audit row, one per verification call.
// Never updated or deleted.
type OtpAttemptRecord struct {
	ID          int64     `json:"id" db:"id"`
	ChallengeID string    `json:"challenge_id" db:"challenge_id"`
	Result      string    `json:"result" db:"result"`
	IPAddress   *string   `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   *string   `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RequestOTPRequest is the body of POST /otp/request.
type RequestOTPRequest struct {
	Phone   string `json:"phone"`
	Context string `json:"context,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// RequestOTPResponse is the success body of POST /otp/request. DevOTP and
// FallbackReason are set only when delivery degraded to the inline fallback.
type RequestOTPResponse struct {
	Success        bool   `json:"success"`
	ChallengeID    string `json:"challenge_id"`
	ExpiresIn      int    `json:"expires_in"`
	ResendCooldown int    `json:"resend_cooldown"`
	Fallback       bool   `json:"fallback"`
	DevOTP         string `json:"dev_otp,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Provider       string `json:"provider"`
	Message        string `json:"message"`
}

// VerifyOTPRequest is the body of POST /otp/verify.
type VerifyOTPRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// VerifyOTPResponse is the success body of POST /otp/verify.
type VerifyOTPResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Context    string `json:"context"`
	VerifiedAt string `json:"verified_at,omitempty"`
}

// PaymentWebhookPayload is the inbound payment callback shape this subsystem
// authenticates before the payment collaborator processes it.
type PaymentWebhookPayload struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CorrelationID string `json:"correlation_id"`
	ProviderTxnID string `json:"provider_txn_id"`
	Signature     string `json:"signature"`
	Event         string `json:"event,omitempty"`
}
