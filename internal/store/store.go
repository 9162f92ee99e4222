package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/anomalyreport/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// DefaultListLimit and MaxListLimit bound ListSubmissions.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateSubmission(ctx context.Context, sub *models.Submission) error
	ListSubmissions(ctx context.Context, userEmail string, limit int) ([]*models.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, jobID models.JobID, status models.JobStatus) error
}
