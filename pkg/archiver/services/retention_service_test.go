package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/services"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRetention(secs int64) *models.CreateJobInput {
	in := defaultInput()
	in.Settings.RetentionSeconds = &secs
	return in
}

// Scenario C
func TestRetention_DeletesExpiredArtifacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.createJob(t, withRetention(60))
	e.finishWithArtifact(t, job, []byte("archive"))

	got, err := e.repo.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	ref := *got.ArtifactRef

	r := services.NewRetentionService(e.repo, e.store).WithClock(e.clock.Now)

	n, err := r.DeleteExpiredArtifacts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(61 * time.Second)
	n, err = r.DeleteExpiredArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusDeleted, e.status(t, job.JobID))
	_, _, err = e.store.Get(ctx, ref)
	assert.ErrorIs(t, err, artifactstore.ErrNotFound)

	n, err = r.DeleteExpiredArtifacts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetention_SkipsJobsWithoutAutodelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	keep := e.createJob(t, defaultInput())
	e.finishWithArtifact(t, keep, []byte("keep"))
	disabled := e.createJob(t, withRetention(0))
	e.finishWithArtifact(t, disabled, []byte("disabled"))

	e.clock.Advance(365 * 24 * time.Hour)
	n, err := services.NewRetentionService(e.repo, e.store).WithClock(e.clock.Now).DeleteExpiredArtifacts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.StatusFinished, e.status(t, keep.JobID))
	assert.Equal(t, models.StatusFinished, e.status(t, disabled.JobID))
}

func TestRetention_IgnoresUnfinishedJobs(t *testing.T) {
	e := newEnv(t)
	job := e.createJob(t, withRetention(60))
	require.Equal(t, models.ResultOK, e.update(t, job, models.StatusRunning))

	e.clock.Advance(time.Hour)
	n, err := services.NewRetentionService(e.repo, e.store).WithClock(e.clock.Now).DeleteExpiredArtifacts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.StatusRunning, e.status(t, job.JobID))
}

type failingDeleteStore struct {
	*artifactstore.FSStore
	mu   sync.Mutex
	fail map[string]bool
}

func (s *failingDeleteStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	fail := s.fail[ref]
	s.mu.Unlock()
	if fail {
		return errors.New("permission denied")
	}
	return s.FSStore.Delete(ctx, ref)
}

func TestRetention_FailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var jobs []*models.ArchiveJob
	for i := 0; i < 5; i++ {
		job := e.createJob(t, withRetention(60))
		e.finishWithArtifact(t, job, []byte{byte(i)})
		jobs = append(jobs, job)
	}
	broken, err := e.repo.GetByJobID(ctx, jobs[2].JobID)
	require.NoError(t, err)

	store := &failingDeleteStore{FSStore: e.store, fail: map[string]bool{*broken.ArtifactRef: true}}
	r := services.NewRetentionService(e.repo, store).WithClock(e.clock.Now)

	e.clock.Advance(2 * time.Minute)
	n, err := r.DeleteExpiredArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	for i, job := range jobs {
		if i == 2 {
			assert.Equal(t, models.StatusFinished, e.status(t, job.JobID))
			continue
		}
		assert.Equal(t, models.StatusDeleted, e.status(t, job.JobID))
	}

	// the failed job is retried on the next run
	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	n, err = r.DeleteExpiredArtifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusDeleted, e.status(t, jobs[2].JobID))
}

func TestRetention_ConcurrentRunsDeleteOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e.finishWithArtifact(t, e.createJob(t, withRetention(60)), []byte{byte(i)})
	}
	e.clock.Advance(time.Hour)

	a := services.NewRetentionService(e.repo, e.store).WithClock(e.clock.Now)
	b := services.NewRetentionService(e.repo, e.store).WithClock(e.clock.Now)

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, r := range []*services.RetentionService{a, b} {
		wg.Add(1)
		go func(i int, r *services.RetentionService) {
			defer wg.Done()
			n, err := r.DeleteExpiredArtifacts(ctx)
			assert.NoError(t, err)
			counts[i] = n
		}(i, r)
	}
	wg.Wait()
	assert.Equal(t, 3, counts[0]+counts[1])
}

func TestTempFileCleanup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := e.clock.Now()

	expired, err := e.store.PutTemp(ctx, []byte("old"), "job-old", "old.tar.gz", now.Add(-time.Minute))
	require.NoError(t, err)
	fresh, err := e.store.PutTemp(ctx, []byte("new"), "job-new", "new.tar.gz", now.Add(time.Hour))
	require.NoError(t, err)

	n, err := services.NewTempFileService(e.store).WithClock(e.clock.Now).Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, err = e.store.GetTemp(ctx, expired)
	assert.ErrorIs(t, err, artifactstore.ErrNotFound)
	data, _, err := e.store.GetTemp(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestTempFileCleanup_AbandonedUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.createJob(t, defaultInput())
	require.Equal(t, models.ResultOK, e.update(t, job, models.StatusFinalizing))

	up, err := e.svc.StoreUpload(ctx, &models.UploadInput{JobID: job.JobID, WSToken: job.AccessToken, Filename: "archive.tar.gz", Content: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, models.ResultOK, up.Status)

	cleaner := services.NewTempFileService(e.store).WithClock(e.clock.Now)
	n, err := cleaner.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(2 * time.Hour)
	n, err = cleaner.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	code, err := e.svc.ProcessUploadedArtifact(ctx, &models.ArtifactUploadedInput{
		JobID: job.JobID, WSToken: job.AccessToken, Artifact: models.ArtifactDescriptor{Ref: up.Ref}, Sha256Sum: artifactstore.Hash([]byte("x")),
	})
	require.NoError(t, err)
	assert.NotEqual(t, models.ResultOK, code)
}
