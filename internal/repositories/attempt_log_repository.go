package repositories

import (
	"context"

	"verify-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptLogRepository writes the append-only verification audit trail.
// Rows are never updated or deleted.
type AttemptLogRepository struct {
	DB *pgxpool.Pool
}

func NewAttemptLogRepository(db *pgxpool.Pool) *AttemptLogRepository {
	return &AttemptLogRepository{DB: db}
}

// Create appends one attempt record.
func (r *AttemptLogRepository) Create(ctx context.Context, rec *models.OtpAttemptRecord) error {
	query := `
		INSERT INTO otp_attempts(challenge_id, result, ip_address, user_agent)
		VALUES($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.DB.QueryRow(ctx, query,
		rec.ChallengeID,
		rec.Result,
		rec.IPAddress,
		rec.UserAgent,
	).Scan(&rec.ID, &rec.CreatedAt)
	return wrapStoreErr(err)
}

// ListByChallenge returns the audit rows for a challenge, oldest first.
func (r *AttemptLogRepository) ListByChallenge(ctx context.Context, challengeID string, limit int) ([]models.OtpAttemptRecord, error) {
	query := `
		SELECT id, challenge_id, result, ip_address, user_agent, created_at
		FROM otp_attempts
		WHERE challenge_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.DB.Query(ctx, query, challengeID, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var records []models.OtpAttemptRecord
	for rows.Next() {
		var rec models.OtpAttemptRecord
		if err := rows.Scan(&rec.ID, &rec.ChallengeID, &rec.Result, &rec.IPAddress, &rec.UserAgent, &rec.CreatedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
