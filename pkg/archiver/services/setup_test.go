package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/services"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/testutil"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/config"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tools"
	"github.com/stretchr/testify/require"
)

var admin = models.Caller{UserRef: "admin", Admin: true}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func syncDispatch(ctx context.Context, _ string, fn tools.ToolFunc) {
	_ = fn(ctx)
}

type env struct {
	repo  repositories.ArchiveJobRepository
	store *artifactstore.FSStore
	clock *fakeClock
	svc   *services.ArchiveJobService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.NewDB(t)

	store, err := artifactstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	clock := newClock()
	repo := repositories.NewArchiveJobRepository(db)
	svc := services.NewArchiveJobService(repo, store, services.Options{
		PublicBaseURL:          "https://archive.example.com",
		UploadTTL:              time.Hour,
		JobTimeout:             2 * time.Hour,
		ArchiveFilenamePattern: config.DefaultArchiveFilenamePattern,
		AttemptFilenamePattern: config.DefaultAttemptFilenamePattern,
	}).WithClock(clock.Now).WithDispatcher(syncDispatch)

	return &env{repo: repo, store: store, clock: clock, svc: svc}
}

func defaultInput() *models.CreateJobInput {
	return &models.CreateJobInput{
		CourseID: "2",
		CmID:     "5",
		QuizID:   "1",
		Attempts: []models.AttemptRef{{UserID: "u1", AttemptID: "a1"}, {UserID: "u2", AttemptID: "a2"}},
		Settings: models.JobSettings{ExportAttempts: true},
	}
}

func (e *env) createJob(t *testing.T, in *models.CreateJobInput) *models.ArchiveJob {
	t.Helper()
	job, err := e.svc.CreateJob(context.Background(), admin, in)
	require.NoError(t, err)
	return job
}

func (e *env) update(t *testing.T, job *models.ArchiveJob, status models.Status) models.ResultCode {
	t.Helper()
	code, err := e.svc.UpdateStatus(context.Background(), &models.UpdateStatusInput{
		JobID:   job.JobID,
		WSToken: job.AccessToken,
		Status:  status,
	})
	require.NoError(t, err)
	return code
}

func (e *env) status(t *testing.T, jobid string) models.Status {
	t.Helper()
	job, err := e.repo.GetByJobID(context.Background(), jobid)
	require.NoError(t, err)
	return job.Status
}

// finishWithArtifact drives job through FINALIZING, uploads data and
// processes it.
func (e *env) finishWithArtifact(t *testing.T, job *models.ArchiveJob, data []byte) {
	t.Helper()
	ctx := context.Background()
	require.Equal(t, models.ResultOK, e.update(t, job, models.StatusFinalizing))

	up, err := e.svc.StoreUpload(ctx, &models.UploadInput{JobID: job.JobID, WSToken: job.AccessToken, Filename: "archive.tar.gz", Content: data})
	require.NoError(t, err)
	require.Equal(t, models.ResultOK, up.Status)

	code, err := e.svc.ProcessUploadedArtifact(ctx, &models.ArtifactUploadedInput{
		JobID:     job.JobID,
		WSToken:   job.AccessToken,
		Artifact:  models.ArtifactDescriptor{Ref: up.Ref},
		Sha256Sum: artifactstore.Hash(data),
	})
	require.NoError(t, err)
	require.Equal(t, models.ResultOK, code)
}
