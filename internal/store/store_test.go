package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/anomalyreport/internal/store"
	"github.com/kiranshivaraju/anomalyreport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("anomalyreport_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr)
	require.NoError(t, err)

	// Running twice is a no-op.
	require.NoError(t, store.RunMigrations(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newSubmission(jobID models.JobID, email string) *models.Submission {
	return &models.Submission{
		JobID:     jobID,
		UserEmail: email,
		Type:      models.JobTypeVideo,
		Model:     models.ModelRGB,
		Source:    "clip.mp4",
	}
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	assert.NoError(t, s.Ping(context.Background()))
}

// --- Submission Tests ---

func TestSubmission_CreateAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("101", "ann@example.com")
	require.NoError(t, s.CreateSubmission(ctx, sub))
	assert.NotEqual(t, uuid.Nil, sub.ID)
	assert.Equal(t, models.StatusProcessing, sub.Status)

	stream := &models.Submission{
		JobID:     "102",
		UserEmail: "ann@example.com",
		Type:      models.JobTypeStream,
		Source:    "rtsp://cam/1",
		CreatedAt: sub.CreatedAt.Add(time.Second),
	}
	require.NoError(t, s.CreateSubmission(ctx, stream))
	require.NoError(t, s.CreateSubmission(ctx, newSubmission("200", "bob@example.com")))

	subs, err := s.ListSubmissions(ctx, "ann@example.com", 0)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// Newest first.
	assert.Equal(t, models.JobID("102"), subs[0].JobID)
	assert.Equal(t, models.JobTypeStream, subs[0].Type)
	assert.Equal(t, models.ModelType(""), subs[0].Model)
	assert.Equal(t, models.JobID("101"), subs[1].JobID)
	assert.Equal(t, models.ModelRGB, subs[1].Model)
	assert.Equal(t, "clip.mp4", subs[1].Source)
}

func TestSubmission_ListLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []models.JobID{"1", "2", "3"} {
		require.NoError(t, s.CreateSubmission(ctx, newSubmission(id, "ann@example.com")))
	}

	subs, err := s.ListSubmissions(ctx, "ann@example.com", 2)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestSubmission_ListEmpty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	subs, err := s.ListSubmissions(context.Background(), "nobody@example.com", 10)
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

func TestSubmission_DuplicateJobID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("7", "ann@example.com")))
	err := s.CreateSubmission(ctx, newSubmission("7", "ann@example.com"))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestSubmission_UpdateStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, newSubmission("55", "ann@example.com")))
	require.NoError(t, s.UpdateSubmissionStatus(ctx, "55", models.StatusCanceled))

	subs, err := s.ListSubmissions(ctx, "ann@example.com", 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, models.StatusCanceled, subs[0].Status)
	assert.False(t, subs[0].UpdatedAt.Before(subs[0].CreatedAt))
}

func TestSubmission_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	err := s.UpdateSubmissionStatus(context.Background(), "missing", models.StatusSuccess)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
