package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Submissions ---

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	now := time.Now().UTC()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.Status == "" {
		sub.Status = models.StatusProcessing
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (id, job_id, user_email, type, model, source, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, string(sub.JobID), sub.UserEmail, string(sub.Type), string(sub.Model), sub.Source,
		string(sub.Status), sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, userEmail string, limit int) ([]*models.Submission, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, user_email, type, model, source, status, created_at, updated_at
		 FROM submissions WHERE user_email = $1 ORDER BY created_at DESC, id LIMIT $2`, userEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs := []*models.Submission{}
	for rows.Next() {
		var (
			sub                           models.Submission
			jobID, jobType, model, status string
		)
		if err := rows.Scan(&sub.ID, &jobID, &sub.UserEmail, &jobType, &model, &sub.Source,
			&status, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.JobID = models.JobID(jobID)
		sub.Type = models.JobType(jobType)
		sub.Model = models.ModelType(model)
		sub.Status = models.JobStatus(status)
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) UpdateSubmissionStatus(ctx context.Context, jobID models.JobID, status models.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $2, updated_at = NOW() WHERE job_id = $1`,
		string(jobID), string(status))
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
