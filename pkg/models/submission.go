package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission records a job submitted through the gateway so users can find
// their reports again.
type Submission struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     JobID     `db:"job_id"     json:"job_id"`
	UserEmail string    `db:"user_email" json:"user_email"`
	Type      JobType   `db:"type"       json:"type"`
	Model     ModelType `db:"model"      json:"model,omitempty"`
	Source    string    `db:"source"     json:"source"`
	Status    JobStatus `db:"status"     json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
