package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verify-backend/internal/models"
	"verify-backend/internal/repositories"
	"verify-backend/internal/sms"
)

// fakeStore is an in-memory ChallengeStore.
type fakeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.OtpChallenge
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{challenges: make(map[string]*models.OtpChallenge)}
}

func (f *fakeStore) Create(ctx context.Context, c *models.OtpChallenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.challenges[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*models.OtpChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.challenges[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListRecentByTarget(ctx context.Context, target string, limit int) ([]models.OtpChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.OtpChallenge
	for _, c := range f.challenges {
		if c.Target == target {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, id, provider string, metadata *models.DeliveryMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.challenges[id]
	if c.Status != models.StatusPending {
		return repositories.ErrStaleStatus
	}
	c.Status = models.StatusSent
	c.Provider = provider
	c.Metadata = metadata
	c.SendCount = 1
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.challenges[id]
	if models.IsTerminal(c.Status) {
		return repositories.ErrStaleStatus
	}
	c.Status = status
	return nil
}

func (f *fakeStore) MarkVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.challenges[id]
	if c.Status != models.StatusSent {
		return repositories.ErrStaleStatus
	}
	c.Status = models.StatusVerified
	c.VerifiedAt = &verifiedAt
	return nil
}

func (f *fakeStore) IncrementAttemptCAS(ctx context.Context, id string, expected int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.challenges[id]
	if c.AttemptCount != expected {
		return false, nil
	}
	c.AttemptCount++
	return true, nil
}

func (f *fakeStore) get(id string) *models.OtpChallenge {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.challenges[id]
	return &cp
}

// staleReadStore serves one stale snapshot for the next GetByID, standing in
// for a request that read the row before a concurrent write committed.
type staleReadStore struct {
	*fakeStore
	next *models.OtpChallenge
}

func (s *staleReadStore) GetByID(ctx context.Context, id string) (*models.OtpChallenge, error) {
	if s.next != nil {
		snap := *s.next
		s.next = nil
		return &snap, nil
	}
	return s.fakeStore.GetByID(ctx, id)
}

// fakeAttemptLog collects audit rows.
type fakeAttemptLog struct {
	mu      sync.Mutex
	records []models.OtpAttemptRecord
}

func (f *fakeAttemptLog) Create(ctx context.Context, rec *models.OtpAttemptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeAttemptLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fallbackSender always degrades to the inline dev fallback, which makes the
// issued code observable through DevOTP.
type fallbackSender struct{}

func (fallbackSender) Send(ctx context.Context, to, body string) (*sms.Result, error) {
	return &sms.Result{
		Provider:       models.ProviderFallbackDev,
		Fallback:       true,
		FallbackReason: "sms provider credentials not configured",
	}, nil
}

// primarySender always succeeds through the primary provider with a receipt.
type primarySender struct{}

func (primarySender) Send(ctx context.Context, to, body string) (*sms.Result, error) {
	return &sms.Result{
		Provider: models.ProviderPrimarySMS,
		SID:      "SM123",
		Status:   "queued",
	}, nil
}

// errorSender fails hard, as a non-fallback-eligible delivery error would.
type errorSender struct{ err error }

func (s errorSender) Send(ctx context.Context, to, body string) (*sms.Result, error) {
	return nil, s.err
}

type fixture struct {
	service *ChallengeService
	store   *fakeStore
	log     *fakeAttemptLog
	clock   time.Time
}

func newFixture(t *testing.T, sender sms.Sender) *fixture {
	t.Helper()
	f := &fixture{
		store: newFakeStore(),
		log:   &fakeAttemptLog{},
		clock: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewChallengeService(f.store, f.log, sender, Config{
		CodeLength:           6,
		TTL:                  5 * time.Minute,
		ResendCooldown:       time.Minute,
		MaxRequests:          3,
		Window:               10 * time.Minute,
		MaxAttempts:          5,
		FailOpenOnStoreError: true,
	})
	f.service.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) request(t *testing.T, phone string) *models.RequestOTPResponse {
	t.Helper()
	resp, err := f.service.RequestChallenge(context.Background(), RequestParams{Phone: phone})
	require.NoError(t, err)
	return resp
}

func TestRequestChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a challenge with inline fallback", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})

		resp := f.request(t, "+14155552671")
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.ChallengeID)
		assert.Equal(t, 300, resp.ExpiresIn)
		assert.Equal(t, 60, resp.ResendCooldown)
		assert.True(t, resp.Fallback)
		assert.Len(t, resp.DevOTP, 6)
		assert.NotEmpty(t, resp.FallbackReason)
		assert.Equal(t, models.ProviderFallbackDev, resp.Provider)

		stored := f.store.get(resp.ChallengeID)
		assert.Equal(t, models.StatusSent, stored.Status)
		assert.Equal(t, "+14155552671", stored.Target)
		assert.Equal(t, "signup", stored.Context)
		assert.Equal(t, 1, stored.SendCount)
		assert.NotEqual(t, resp.DevOTP, stored.CodeHash)
		require.NotNil(t, stored.Metadata)
		assert.Equal(t, models.MetadataKindFallback, stored.Metadata.Kind)
	})

	t.Run("primary delivery never returns the code inline", func(t *testing.T) {
		f := newFixture(t, primarySender{})

		resp := f.request(t, "+14155552671")
		assert.True(t, resp.Success)
		assert.False(t, resp.Fallback)
		assert.Empty(t, resp.DevOTP)
		assert.Empty(t, resp.FallbackReason)
		assert.Equal(t, models.ProviderPrimarySMS, resp.Provider)

		stored := f.store.get(resp.ChallengeID)
		assert.Equal(t, models.StatusSent, stored.Status)
		require.NotNil(t, stored.Metadata)
		assert.Equal(t, models.MetadataKindPrimary, stored.Metadata.Kind)
		assert.Equal(t, "SM123", stored.Metadata.SID)
	})

	t.Run("keeps the caller context", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		resp, err := f.service.RequestChallenge(ctx, RequestParams{Phone: "+14155552671", Context: "login"})
		require.NoError(t, err)
		assert.Equal(t, "login", f.store.get(resp.ChallengeID).Context)
	})

	t.Run("rejects non-sms channels before any side effect", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		_, err := f.service.RequestChallenge(ctx, RequestParams{Phone: "+14155552671", Channel: "email"})
		assert.ErrorIs(t, err, ErrInvalidChannel)
		assert.Empty(t, f.store.challenges)
	})

	t.Run("rejects malformed phone numbers", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		_, err := f.service.RequestChallenge(ctx, RequestParams{Phone: "not-a-number"})
		assert.ErrorIs(t, err, ErrInvalidPhone)
		assert.Empty(t, f.store.challenges)
	})

	t.Run("hard delivery failure surfaces without the code", func(t *testing.T) {
		f := newFixture(t, errorSender{err: errors.New("invalid destination number")})
		_, err := f.service.RequestChallenge(ctx, RequestParams{Phone: "+14155552671"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "delivery failed")
	})
}

func TestRequestChallengeRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("denies the request over the window ceiling", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})

		for i := 0; i < 3; i++ {
			f.request(t, "+14155552671")
			f.advance(time.Minute)
		}

		_, err := f.service.RequestChallenge(ctx, RequestParams{Phone: "+14155552671"})
		var rle *RateLimitError
		require.ErrorAs(t, err, &rle)
		assert.Greater(t, rle.WaitSeconds, 0)
	})

	t.Run("different targets are limited independently", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		for i := 0; i < 3; i++ {
			f.request(t, "+14155552671")
		}
		resp := f.request(t, "+442079460958")
		assert.True(t, resp.Success)
	})

	t.Run("window slides and old challenges age out", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		for i := 0; i < 3; i++ {
			f.request(t, "+14155552671")
		}
		f.advance(11 * time.Minute)
		resp := f.request(t, "+14155552671")
		assert.True(t, resp.Success)
	})

	t.Run("fails open when the window read breaks", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		f.store.listErr = errors.New("connection refused")
		resp, err := f.service.RequestChallenge(ctx, RequestParams{Phone: "+14155552671"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
	})

	t.Run("fails closed when configured strict", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		f.service.cfg.FailOpenOnStoreError = false
		f.store.listErr = errors.New("connection refused")
		_, err := f.service.RequestChallenge(ctx, RequestParams{Phone: "+14155552671"})
		assert.Error(t, err)
	})
}

func TestVerifyChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("correct code verifies", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		issued := f.request(t, "+14155552671")

		resp, err := f.service.VerifyChallenge(ctx, VerifyParams{
			ChallengeID: issued.ChallengeID,
			Code:        issued.DevOTP,
			IPAddress:   "203.0.113.9",
			UserAgent:   "test-agent",
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "signup", resp.Context)
		assert.NotEmpty(t, resp.VerifiedAt)

		stored := f.store.get(issued.ChallengeID)
		assert.Equal(t, models.StatusVerified, stored.Status)
		require.NotNil(t, stored.VerifiedAt)
		assert.Equal(t, 1, stored.AttemptCount)
		assert.Equal(t, 1, f.log.count())
		assert.Equal(t, models.AttemptResultSuccess, f.log.records[0].Result)
	})

	t.Run("re-verifying a verified challenge is idempotent", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		issued := f.request(t, "+14155552671")

		_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		require.NoError(t, err)

		again, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		require.NoError(t, err)
		assert.True(t, again.Success)
		// Attempt counter did not move on the idempotent path
		assert.Equal(t, 1, f.store.get(issued.ChallengeID).AttemptCount)
	})

	t.Run("wrong code reports remaining attempts and logs the miss", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		issued := f.request(t, "+14155552671")

		wrong := "000000"
		if wrong == issued.DevOTP {
			wrong = "000001"
		}
		_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: wrong})
		var me *MismatchError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, 4, me.AttemptsRemaining)
		assert.Equal(t, models.AttemptResultMismatch, f.log.records[0].Result)
	})

	t.Run("attempt exhaustion fails the challenge and blocks further tries", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		issued := f.request(t, "+14155552671")

		wrong := "000000"
		if wrong == issued.DevOTP {
			wrong = "000001"
		}
		for i := 0; i < 5; i++ {
			_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: wrong})
			var me *MismatchError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, 4-i, me.AttemptsRemaining)
		}

		assert.Equal(t, models.StatusFailed, f.store.get(issued.ChallengeID).Status)

		// Even the correct code is rejected once the challenge failed
		_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("late expiry check cannot overwrite a concurrent verification", func(t *testing.T) {
		base := newFakeStore()
		store := &staleReadStore{fakeStore: base}
		clock := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		svc := NewChallengeService(store, &fakeAttemptLog{}, fallbackSender{}, Config{
			CodeLength:  6,
			TTL:         5 * time.Minute,
			MaxRequests: 3,
			Window:      10 * time.Minute,
			MaxAttempts: 5,
		})
		svc.SetClock(func() time.Time { return clock })

		issued, err := svc.RequestChallenge(ctx, RequestParams{Phone: "+14155552671"})
		require.NoError(t, err)

		// Snapshot the sent row as a second, slower request would have read it
		snap, err := base.GetByID(ctx, issued.ChallengeID)
		require.NoError(t, err)

		_, err = svc.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		require.NoError(t, err)

		// The slow request still holds the pre-verification snapshot and by
		// now the deadline has passed
		store.next = snap
		clock = clock.Add(5*time.Minute + 2*time.Second)

		resp, err := svc.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, models.StatusVerified, base.get(issued.ChallengeID).Status)
	})

	t.Run("expiry is computed lazily at verification time", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		issued := f.request(t, "+14155552671")

		f.advance(5*time.Minute + time.Second)
		_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		assert.ErrorIs(t, err, ErrExpired)
		assert.Equal(t, models.StatusExpired, f.store.get(issued.ChallengeID).Status)
	})

	t.Run("verification inside the ttl succeeds", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		issued := f.request(t, "+14155552671")

		f.advance(5 * time.Minute) // exactly at the deadline, still valid
		_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		assert.NoError(t, err)
	})

	t.Run("rejects malformed codes before loading the challenge", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: "whatever", Code: "12ab56"})
		assert.ErrorIs(t, err, ErrInvalidCode)

		_, err = f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: "whatever", Code: "123"})
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("unknown challenge id returns not found", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		_, err := f.service.VerifyChallenge(ctx, VerifyParams{
			ChallengeID: "11111111-1111-1111-1111-111111111111",
			Code:        "123456",
		})
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("cancelled challenges cannot be verified", func(t *testing.T) {
		f := newFixture(t, fallbackSender{})
		issued := f.request(t, "+14155552671")
		require.NoError(t, f.store.UpdateStatus(ctx, issued.ChallengeID, models.StatusCancelled))

		_, err := f.service.VerifyChallenge(ctx, VerifyParams{ChallengeID: issued.ChallengeID, Code: issued.DevOTP})
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}
