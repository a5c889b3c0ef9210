package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"verify-backend/internal/cache"
	"verify-backend/internal/metrics"
	"verify-backend/internal/models"
	"verify-backend/internal/otp"
	"verify-backend/internal/phone"
	"verify-backend/internal/ratelimit"
	"verify-backend/internal/repositories"
	"verify-backend/internal/sms"

	"github.com/google/uuid"
)

var codePattern = regexp.MustCompile(`^[0-9]{4,8}$`)

// ChallengeStore is the persistence contract for challenges.
type ChallengeStore interface {
	Create(ctx context.Context, c *models.OtpChallenge) error
	GetByID(ctx context.Context, id string) (*models.OtpChallenge, error)
	ListRecentByTarget(ctx context.Context, target string, limit int) ([]models.OtpChallenge, error)
	MarkSent(ctx context.Context, id, provider string, metadata *models.DeliveryMetadata) error
	UpdateStatus(ctx context.Context, id, status string) error
	MarkVerified(ctx context.Context, id string, verifiedAt time.Time) error
	IncrementAttemptCAS(ctx context.Context, id string, expected int) (bool, error)
}

// AttemptLog appends verification audit rows.
type AttemptLog interface {
	Create(ctx context.Context, rec *models.OtpAttemptRecord) error
}

// Config carries every policy constant the service needs, injected at
// construction so tests run with deterministic policies.
type Config struct {
	CodeLength     int
	TTL            time.Duration
	ResendCooldown time.Duration
	MaxRequests    int
	Window         time.Duration
	MaxAttempts    int

	// FailOpenOnStoreError chooses availability over strictness when the
	// rate-limit window read fails: true admits the request with a logged
	// warning, false denies it.
	FailOpenOnStoreError bool
}

type ChallengeService struct {
	store    ChallengeStore
	attempts AttemptLog
	sender   sms.Sender
	cfg      Config
	now      func() time.Time
}

func NewChallengeService(store ChallengeStore, attempts AttemptLog, sender sms.Sender, cfg Config) *ChallengeService {
	return &ChallengeService{
		store:    store,
		attempts: attempts,
		sender:   sender,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *ChallengeService) SetClock(now func() time.Time) {
	s.now = now
}

// RequestParams is the validated-at-the-edge input for issuing a challenge.
type RequestParams struct {
	Phone   string
	Context string
	Channel string
}

// RequestChallenge issues a new OTP challenge: channel gate, E.164
// normalization, sliding-window rate limit, code generation, insert,
// delivery chain, sent transition. Validation failures occur before any
// store access or side effect.
func (s *ChallengeService) RequestChallenge(ctx context.Context, params RequestParams) (*models.RequestOTPResponse, error) {
	channel := params.Channel
	if channel == "" {
		channel = models.ChannelSMS
	}
	if channel != models.ChannelSMS {
		return nil, ErrInvalidChannel
	}

	target, err := phone.Normalize(params.Phone)
	if err != nil {
		return nil, ErrInvalidPhone
	}

	otpContext := params.Context
	if otpContext == "" {
		otpContext = "signup"
	}

	now := s.now()
	if err := s.checkRateLimit(ctx, target, now); err != nil {
		return nil, err
	}

	code, err := otp.GenerateCode(s.cfg.CodeLength, otp.DefaultAlphabet)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	challenge := &models.OtpChallenge{
		ID:        uuid.NewString(),
		Context:   otpContext,
		Channel:   channel,
		Target:    target,
		CodeHash:  otp.HashCode(code),
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	if err := s.store.Create(ctx, challenge); err != nil {
		return nil, err
	}
	cache.InvalidateWindow(ctx, target)

	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes. Do not share this code with anyone.",
		code, int(s.cfg.TTL.Minutes()))

	result, err := s.sender.Send(ctx, target, body)
	if err != nil {
		// Not eligible for fallback: surface as a hard delivery failure.
		// The response must never include the code.
		log.Printf("[OTP] delivery failed hard for challenge %s: %v", challenge.ID, err)
		return nil, fmt.Errorf("delivery failed: %w", err)
	}

	var metadata *models.DeliveryMetadata
	if result.Fallback {
		metadata = &models.DeliveryMetadata{
			Kind:   models.MetadataKindFallback,
			Reason: result.FallbackReason,
		}
	} else {
		metadata = &models.DeliveryMetadata{
			Kind:   models.MetadataKindPrimary,
			SID:    result.SID,
			Status: result.Status,
		}
	}

	if err := s.store.MarkSent(ctx, challenge.ID, result.Provider, metadata); err != nil {
		return nil, err
	}

	metrics.OTPChallengesIssued.WithLabelValues(result.Provider).Inc()

	resp := &models.RequestOTPResponse{
		Success:        true,
		ChallengeID:    challenge.ID,
		ExpiresIn:      int(s.cfg.TTL.Seconds()),
		ResendCooldown: int(s.cfg.ResendCooldown.Seconds()),
		Fallback:       result.Fallback,
		Provider:       result.Provider,
		Message:        "verification code sent",
	}
	if result.Fallback {
		resp.DevOTP = code
		resp.FallbackReason = result.FallbackReason
		resp.Message = "delivery degraded: code returned inline for development use"
	}

	return resp, nil
}

// checkRateLimit evaluates the sliding window for a target. The prior
// challenge timestamps come from the Redis cache when warm, otherwise from
// a bounded most-recent-first store query.
func (s *ChallengeService) checkRateLimit(ctx context.Context, target string, now time.Time) error {
	var samples []ratelimit.Sample

	if cached, ok := cache.GetWindow(ctx, target); ok {
		for _, t := range cached {
			samples = append(samples, ratelimit.Sample{CreatedAt: t})
		}
	} else {
		prior, err := s.store.ListRecentByTarget(ctx, target, s.cfg.MaxRequests+2)
		if err != nil {
			if s.cfg.FailOpenOnStoreError {
				// Availability over strictness: admit with a warning.
				log.Printf("[OTP] rate-limit window read failed, failing open: %v", err)
				return nil
			}
			return err
		}

		times := make([]time.Time, 0, len(prior))
		for _, c := range prior {
			samples = append(samples, ratelimit.Sample{
				CreatedAt: c.CreatedAt,
				Status:    c.Status,
				SendCount: c.SendCount,
			})
			times = append(times, c.CreatedAt)
		}
		cache.SetWindow(ctx, target, times, s.cfg.Window)
	}

	decision := ratelimit.Evaluate(samples, ratelimit.Policy{
		MaxRequests: s.cfg.MaxRequests,
		Window:      s.cfg.Window,
		MaxAttempts: s.cfg.MaxAttempts,
	}, now)

	if !decision.Allowed {
		metrics.OTPRateLimited.Inc()
		return &RateLimitError{WaitSeconds: decision.WaitSeconds, Reason: decision.Reason}
	}
	return nil
}

// VerifyParams is the input for checking a code against a challenge.
type VerifyParams struct {
	ChallengeID string
	Code        string
	IPAddress   string
	UserAgent   string
}

// VerifyChallenge checks a candidate code: shape gate, load, idempotent
// success, state gate, computed expiry, attempt budget, constant-time digest
// comparison, unconditional audit record, CAS-guarded attempt increment.
func (s *ChallengeService) VerifyChallenge(ctx context.Context, params VerifyParams) (*models.VerifyOTPResponse, error) {
	if !codePattern.MatchString(params.Code) {
		return nil, ErrInvalidCode
	}

	ch, err := s.store.GetByID(ctx, params.ChallengeID)
	if err != nil {
		return nil, err
	}

	// Re-verifying an already-verified challenge confirms the same fact
	if ch.Status == models.StatusVerified {
		return s.verifiedResponse(ch), nil
	}

	if ch.Status == models.StatusFailed || ch.Status == models.StatusCancelled {
		return nil, ErrInvalidState
	}

	now := s.now()

	// Expiry is computed, not just stored; persisting the transition is a
	// best-effort cache write. A stale-status refusal means a concurrent call
	// moved the challenge to a terminal state after our read, so report that
	// state instead of clobbering it.
	if ch.IsExpired(now) {
		if err := s.store.UpdateStatus(ctx, ch.ID, models.StatusExpired); err != nil {
			if errors.Is(err, repositories.ErrStaleStatus) {
				return s.resolveTerminal(ctx, ch.ID)
			}
			log.Printf("[OTP] failed to persist expiry for challenge %s: %v", ch.ID, err)
		}
		metrics.OTPVerifications.WithLabelValues("expired").Inc()
		return nil, ErrExpired
	}

	if ch.AttemptCount >= s.cfg.MaxAttempts {
		if err := s.store.UpdateStatus(ctx, ch.ID, models.StatusFailed); err != nil {
			if errors.Is(err, repositories.ErrStaleStatus) {
				return s.resolveTerminal(ctx, ch.ID)
			}
			log.Printf("[OTP] failed to persist attempt exhaustion for challenge %s: %v", ch.ID, err)
		}
		metrics.OTPVerifications.WithLabelValues("exhausted").Inc()
		return nil, ErrMaxAttempts
	}

	match := otp.DigestsEqual(otp.HashCode(params.Code), ch.CodeHash)

	s.recordAttempt(ctx, ch.ID, match, params.IPAddress, params.UserAgent)

	attempts, raceWinner, err := s.consumeAttempt(ctx, ch)
	if err != nil {
		return nil, err
	}
	if raceWinner != nil {
		// A concurrent call verified this challenge first; confirm the
		// same fact idempotently.
		return s.verifiedResponse(raceWinner), nil
	}

	if !match {
		if attempts >= s.cfg.MaxAttempts {
			if err := s.store.UpdateStatus(ctx, ch.ID, models.StatusFailed); err != nil && !errors.Is(err, repositories.ErrStaleStatus) {
				log.Printf("[OTP] failed to persist attempt exhaustion for challenge %s: %v", ch.ID, err)
			}
		}
		metrics.OTPVerifications.WithLabelValues("mismatch").Inc()
		return nil, &MismatchError{AttemptsRemaining: s.cfg.MaxAttempts - attempts}
	}

	verifiedAt := s.now()
	if err := s.store.MarkVerified(ctx, ch.ID, verifiedAt); err != nil {
		if errors.Is(err, repositories.ErrStaleStatus) {
			return s.resolveTerminal(ctx, ch.ID)
		}
		return nil, err
	}
	metrics.OTPVerifications.WithLabelValues("success").Inc()

	ch.Status = models.StatusVerified
	ch.VerifiedAt = &verifiedAt
	return s.verifiedResponse(ch), nil
}

// consumeAttempt increments the attempt counter with a compare-and-swap on
// the expected prior value, so two racing attempts can never both slip past
// the budget. Returns the counter value after the increment, or the current
// challenge when a concurrent call already verified it.
func (s *ChallengeService) consumeAttempt(ctx context.Context, ch *models.OtpChallenge) (int, *models.OtpChallenge, error) {
	expected := ch.AttemptCount
	for {
		ok, err := s.store.IncrementAttemptCAS(ctx, ch.ID, expected)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			return expected + 1, nil, nil
		}

		// Lost the race; re-read and re-apply the state and budget gates
		cur, err := s.store.GetByID(ctx, ch.ID)
		if err != nil {
			return 0, nil, err
		}
		if cur.Status == models.StatusVerified {
			return 0, cur, nil
		}
		if models.IsTerminal(cur.Status) {
			return 0, nil, ErrInvalidState
		}
		if cur.AttemptCount >= s.cfg.MaxAttempts {
			if err := s.store.UpdateStatus(ctx, ch.ID, models.StatusFailed); err != nil && !errors.Is(err, repositories.ErrStaleStatus) {
				log.Printf("[OTP] failed to persist attempt exhaustion for challenge %s: %v", ch.ID, err)
			}
			return 0, nil, ErrMaxAttempts
		}
		expected = cur.AttemptCount
	}
}

// recordAttempt appends the audit row for every verification call, success
// or mismatch. Audit failures are logged, never fail the verification.
func (s *ChallengeService) recordAttempt(ctx context.Context, challengeID string, match bool, ip, userAgent string) {
	result := models.AttemptResultMismatch
	if match {
		result = models.AttemptResultSuccess
	}

	rec := &models.OtpAttemptRecord{
		ChallengeID: challengeID,
		Result:      result,
	}
	if ip != "" {
		rec.IPAddress = &ip
	}
	if userAgent != "" {
		rec.UserAgent = &userAgent
	}

	if err := s.attempts.Create(ctx, rec); err != nil {
		log.Printf("[OTP] failed to record attempt for challenge %s: %v", challengeID, err)
	}
}

// resolveTerminal re-reads a challenge after a status write lost to a
// concurrent transition and reports the state that won: a verified winner is
// confirmed idempotently, everything else maps to its usual error.
func (s *ChallengeService) resolveTerminal(ctx context.Context, id string) (*models.VerifyOTPResponse, error) {
	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch cur.Status {
	case models.StatusVerified:
		return s.verifiedResponse(cur), nil
	case models.StatusExpired:
		return nil, ErrExpired
	default:
		return nil, ErrInvalidState
	}
}

func (s *ChallengeService) verifiedResponse(ch *models.OtpChallenge) *models.VerifyOTPResponse {
	resp := &models.VerifyOTPResponse{
		Success: true,
		Message: "code verified",
		Context: ch.Context,
	}
	if ch.VerifiedAt != nil {
		resp.VerifiedAt = ch.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
