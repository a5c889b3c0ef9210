package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"verify-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound marks a lookup for a challenge id that does not exist.
var ErrNotFound = errors.New("challenge not found")

// ErrStaleStatus marks a status write that lost to a concurrent transition:
// the row no longer holds a status the requested transition is legal from.
// Terminal states are never overwritten; callers re-read and report the
// state that won.
var ErrStaleStatus = errors.New("challenge status changed concurrently")

// Store failure kinds, kept distinct so operators can tell a missing schema
// from a permissions problem from a generic outage.
type StoreErrorKind int

const (
	StoreGeneric StoreErrorKind = iota
	StoreTableMissing
	StorePermissionDenied
)

// StoreError wraps an infrastructure failure with its kind.
type StoreError struct {
	Kind StoreErrorKind
	Err  error
}

func (e *StoreError) Error() string { return e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// wrapStoreErr classifies a pgx error by SQLSTATE: undefined_table (42P01)
// and insufficient_privilege (42501) get their own kinds.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01":
			return &StoreError{Kind: StoreTableMissing, Err: err}
		case "42501":
			return &StoreError{Kind: StorePermissionDenied, Err: err}
		}
	}
	return &StoreError{Kind: StoreGeneric, Err: err}
}

type ChallengeRepository struct {
	DB *pgxpool.Pool
}

func NewChallengeRepository(db *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{DB: db}
}

// Create inserts a new challenge in pending status. The code hash is written
// exactly once here and never mutated afterwards.
func (r *ChallengeRepository) Create(ctx context.Context, c *models.OtpChallenge) error {
	meta, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO otp_challenges(id, context, channel, target, code_hash, status, provider, metadata, attempt_count, send_count, created_at, updated_at, expires_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.DB.Exec(ctx, query,
		c.ID,
		c.Context,
		c.Channel,
		c.Target,
		c.CodeHash,
		c.Status,
		c.Provider,
		meta,
		c.AttemptCount,
		c.SendCount,
		c.CreatedAt,
		c.UpdatedAt,
		c.ExpiresAt,
	)
	return wrapStoreErr(err)
}

// GetByID retrieves a challenge by id. Not-found is distinct from any
// infrastructure failure.
func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*models.OtpChallenge, error) {
	query := `
		SELECT id, context, channel, target, code_hash, status, COALESCE(provider, ''), metadata, attempt_count, send_count, created_at, updated_at, expires_at, verified_at
		FROM otp_challenges
		WHERE id = $1
	`

	var c models.OtpChallenge
	var meta []byte
	err := r.DB.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Context,
		&c.Channel,
		&c.Target,
		&c.CodeHash,
		&c.Status,
		&c.Provider,
		&meta,
		&c.AttemptCount,
		&c.SendCount,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ExpiresAt,
		&c.VerifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}

	if len(meta) > 0 {
		var m models.DeliveryMetadata
		if err := json.Unmarshal(meta, &m); err == nil {
			c.Metadata = &m
		}
	}

	return &c, nil
}

// ListRecentByTarget returns the most recent challenges for a phone number,
// newest first, capped at limit. Feeds the sliding-window rate limiter.
func (r *ChallengeRepository) ListRecentByTarget(ctx context.Context, target string, limit int) ([]models.OtpChallenge, error) {
	query := `
		SELECT id, status, send_count, created_at, expires_at
		FROM otp_challenges
		WHERE target = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.DB.Query(ctx, query, target, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var challenges []models.OtpChallenge
	for rows.Next() {
		var c models.OtpChallenge
		if err := rows.Scan(&c.ID, &c.Status, &c.SendCount, &c.CreatedAt, &c.ExpiresAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		challenges = append(challenges, c)
	}

	return challenges, rows.Err()
}

// MarkSent records the delivery outcome: pending -> sent with provider,
// typed metadata and send_count = 1. The status predicate rejects the write
// if the challenge already left pending.
func (r *ChallengeRepository) MarkSent(ctx context.Context, id, provider string, metadata *models.DeliveryMetadata) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE otp_challenges
		SET status = $2, provider = $3, metadata = $4, send_count = 1, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	tag, err := r.DB.Exec(ctx, query, id, models.StatusSent, provider, meta, models.StatusPending)
	if err != nil {
		return wrapStoreErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// UpdateStatus moves a challenge to a (usually terminal) status. The status
// predicate only matches non-terminal rows, so a write racing a concurrent
// verification cannot overwrite the terminal state; the loser gets
// ErrStaleStatus and must re-read.
func (r *ChallengeRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE otp_challenges
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`
	tag, err := r.DB.Exec(ctx, query, id, status, models.StatusPending, models.StatusSent)
	if err != nil {
		return wrapStoreErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkVerified sets terminal success with the verification timestamp. Only a
// sent challenge can verify; pending rows never had a delivery recorded and
// terminal rows stay as they are.
func (r *ChallengeRepository) MarkVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	query := `
		UPDATE otp_challenges
		SET status = $2, verified_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	tag, err := r.DB.Exec(ctx, query, id, models.StatusVerified, verifiedAt, models.StatusSent)
	if err != nil {
		return wrapStoreErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// IncrementAttemptCAS bumps attempt_count only if it still holds the
// expected value. Two racing verification attempts cannot both pass the
// budget check: the loser sees no row updated and must re-read.
func (r *ChallengeRepository) IncrementAttemptCAS(ctx context.Context, id string, expected int) (bool, error) {
	query := `
		UPDATE otp_challenges
		SET attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $1 AND attempt_count = $2
	`
	tag, err := r.DB.Exec(ctx, query, id, expected)
	if err != nil {
		return false, wrapStoreErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func marshalMetadata(m *models.DeliveryMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery metadata: %w", err)
	}
	return data, nil
}
