package repositories_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	return testutil.NewDB(t)
}

func newJob(now time.Time) *models.ArchiveJob {
	return &models.ArchiveJob{
		JobID:           uuid.NewString(),
		CourseRef:       "2",
		ModuleRef:       "5",
		QuizRef:         "1",
		OwnerRef:        "lecturer",
		Status:          models.StatusUninitialized,
		AccessToken:     "tok",
		TokenValidUntil: now.Add(time.Hour),
		CreatedAt:       now,
		UpdatedAt:       now,
		Attempts: []models.ArchiveJobAttempt{
			{Position: 0, UserRef: "u1", AttemptRef: "a1"},
			{Position: 1, UserRef: "u2", AttemptRef: "a2"},
		},
		Settings: []models.ArchiveJobSetting{
			{Key: "export_attempts", Value: "true"},
		},
	}
}

func TestArchiveJobRepository_CreateAndGet(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUninitialized, got.Status)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, "a1", got.Attempts[0].AttemptRef)
	assert.Equal(t, "true", got.SettingsMap()["export_attempts"])
	assert.Nil(t, got.Tsp)
	assert.False(t, got.HasArtifact())
}

func TestArchiveJobRepository_DuplicateJobID(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	require.NoError(t, repo.Create(ctx, job))

	dup := newJob(now)
	dup.JobID = job.JobID
	assert.ErrorIs(t, repo.Create(ctx, dup), repositories.ErrDuplicateJobID)
}

func TestArchiveJobRepository_GetMissing(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	_, err := repo.GetByJobID(context.Background(), "missing")
	assert.ErrorIs(t, err, repositories.ErrJobNotFound)
}

func TestArchiveJobRepository_ListByQuiz(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	older := newJob(now.Add(-time.Hour))
	newer := newJob(now)
	other := newJob(now)
	other.QuizRef = "99"
	for _, j := range []*models.ArchiveJob{older, newer, other} {
		require.NoError(t, repo.Create(ctx, j))
	}

	jobs, err := repo.ListByQuiz(ctx, "2", "5", "1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.JobID, jobs[0].JobID)
	assert.Equal(t, older.JobID, jobs[1].JobID)
}

func TestArchiveJobRepository_UpdateStatusCompareAndSet(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	require.NoError(t, repo.Create(ctx, job))

	ok, err := repo.UpdateStatus(ctx, job.JobID, models.StatusUninitialized, models.StatusRunning, datatypes.JSON(`{"progress":10}`), now, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale source status loses
	ok, err = repo.UpdateStatus(ctx, job.JobID, models.StatusUninitialized, models.StatusFailed, nil, now, true)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.JSONEq(t, `{"progress":10}`, string(got.StatusExtra))

	ok, err = repo.UpdateStatus(ctx, job.JobID, models.StatusRunning, models.StatusFailed, nil, now, true)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = repo.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Nil(t, got.Extras())
	assert.False(t, got.HasWriteAccess(models.Anonymous, "tok", now))
	assert.True(t, got.HasReadAccess(models.Anonymous, "tok"))
}

func TestArchiveJobRepository_UpdateStatusConcurrent(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	require.NoError(t, repo.Create(ctx, job))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, to := range []models.Status{models.StatusFinished, models.StatusFailed, models.StatusTimeout, models.StatusRunning} {
		wg.Add(1)
		go func(to models.Status) {
			defer wg.Done()
			ok, err := repo.UpdateStatus(ctx, job.JobID, models.StatusUninitialized, to, nil, now, false)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestArchiveJobRepository_LinkArtifactOnce(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.LinkArtifact(ctx, job.JobID, "first", "aa", now))
	assert.ErrorIs(t, repo.LinkArtifact(ctx, job.JobID, "second", "bb", now), repositories.ErrArtifactAlreadyLinked)
	assert.ErrorIs(t, repo.LinkArtifact(ctx, "missing", "x", "cc", now), repositories.ErrJobNotFound)

	got, err := repo.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	require.True(t, got.HasArtifact())
	assert.Equal(t, "first", *got.ArtifactRef)
	assert.Equal(t, "aa", *got.ArtifactChecksum)
}

func TestArchiveJobRepository_ClearArtifact(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	job.Status = models.StatusFinished
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.LinkArtifact(ctx, job.JobID, "ref", "aa", now))

	ok, err := repo.ClearArtifact(ctx, job.JobID, "ref", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClearArtifact(ctx, job.JobID, "ref", now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.Status)
	assert.False(t, got.HasArtifact())
	assert.Nil(t, got.ArtifactChecksum)
}

func TestArchiveJobRepository_MarkDeleted(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	running := newJob(now)
	running.Status = models.StatusRunning
	finished := newJob(now)
	finished.Status = models.StatusFinished
	require.NoError(t, repo.Create(ctx, running))
	require.NoError(t, repo.Create(ctx, finished))

	ok, err := repo.MarkDeleted(ctx, running.JobID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkDeleted(ctx, finished.JobID, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArchiveJobRepository_FindExpired(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	expired := newJob(now)
	expired.Status = models.StatusFinished
	expired.RetentionTime = &past

	notYet := newJob(now)
	notYet.Status = models.StatusFinished
	notYet.RetentionTime = &future

	running := newJob(now)
	running.Status = models.StatusRunning
	running.RetentionTime = &past

	keep := newJob(now)
	keep.Status = models.StatusFinished

	for _, j := range []*models.ArchiveJob{expired, notYet, running, keep} {
		require.NoError(t, repo.Create(ctx, j))
	}

	jobs, err := repo.FindExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, expired.JobID, jobs[0].JobID)
}

func TestArchiveJobRepository_FindStale(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newJob(now.Add(-3 * time.Hour))
	stale.Status = models.StatusRunning
	fresh := newJob(now)
	fresh.Status = models.StatusRunning
	done := newJob(now.Add(-3 * time.Hour))
	done.Status = models.StatusFinished
	for _, j := range []*models.ArchiveJob{stale, fresh, done} {
		require.NoError(t, repo.Create(ctx, j))
	}

	jobs, err := repo.FindStale(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stale.JobID, jobs[0].JobID)
}

func TestArchiveJobRepository_SaveTspOnce(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	require.NoError(t, repo.Create(ctx, job))

	rec := &models.TspRecord{JobID: job.JobID, CreatedAt: now, ServerIdentity: "https://tsa.example", Query: []byte{1}, Reply: []byte{2}}
	require.NoError(t, repo.SaveTsp(ctx, rec))
	assert.ErrorIs(t, repo.SaveTsp(ctx, &models.TspRecord{JobID: job.JobID, CreatedAt: now}), repositories.ErrAlreadySigned)

	got, err := repo.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	require.NotNil(t, got.Tsp)
	assert.Equal(t, "https://tsa.example", got.Tsp.ServerIdentity)
	assert.Equal(t, []byte{2}, got.Tsp.Reply)
}

func TestArchiveJobRepository_Backups(t *testing.T) {
	repo := repositories.NewArchiveJobRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	job := newJob(now)
	backupID := uuid.NewString()
	job.Backups = []models.BackupRecord{{BackupID: backupID, Kind: models.BackupKindCourse, Status: models.BackupPending}}
	require.NoError(t, repo.Create(ctx, job))

	b, err := repo.GetBackup(ctx, backupID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, b.JobID)
	assert.Equal(t, models.BackupPending, b.Status)

	ref, sum := "blob", "ff"
	ok, err := repo.UpdateBackup(ctx, &models.BackupRecord{BackupID: backupID, Status: models.BackupFinished, Filename: "course.mbz", ArtifactRef: &ref, Checksum: &sum}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateBackup(ctx, &models.BackupRecord{BackupID: backupID, Status: models.BackupFailed}, now)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err = repo.GetBackup(ctx, backupID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupFinished, b.Status)
	assert.Equal(t, "course.mbz", b.Filename)

	_, err = repo.GetBackup(ctx, "missing")
	assert.ErrorIs(t, err, repositories.ErrBackupNotFound)
}
