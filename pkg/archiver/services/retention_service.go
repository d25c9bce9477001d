package services

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// RetentionService deletes artifacts whose retention time has passed.
type RetentionService struct {
	repo          repositories.ArchiveJobRepository
	store         artifactstore.Store
	now           func() time.Time
	maxConcurrent int64
	group         singleflight.Group
}

func NewRetentionService(repo repositories.ArchiveJobRepository, store artifactstore.Store) *RetentionService {
	return &RetentionService{
		repo:          repo,
		store:         store,
		now:           func() time.Time { return time.Now().UTC() },
		maxConcurrent: 4,
	}
}

func (r *RetentionService) WithClock(now func() time.Time) *RetentionService {
	r.now = now
	return r
}

// DeleteExpiredArtifacts removes the artifact of every FINISHED job whose
// retention time has passed and returns how many were deleted. Overlapping
// calls in this process share one sweep; across processes the row
// compare-and-set makes sure each artifact is counted once. A failing job is
// logged and skipped.
func (r *RetentionService) DeleteExpiredArtifacts(ctx context.Context) (int, error) {
	v, err, _ := r.group.Do("retention", func() (any, error) {
		return r.sweep(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *RetentionService) sweep(ctx context.Context) (int, error) {
	jobs, err := r.repo.FindExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}

	var deleted, failed atomic.Int64
	sem := semaphore.NewWeighted(r.maxConcurrent)
	g, gctx := errgroup.WithContext(ctx)

	for _, job := range jobs {
		job := job
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			ok, err := deleteJobArtifact(gctx, r.repo, r.store, &job, r.now())
			if err != nil {
				log.Printf("[retention] job=%s: %v", job.JobID, err)
				failed.Add(1)
				return nil
			}
			if ok {
				log.Printf("[retention] job=%s artifact deleted", job.JobID)
				deleted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("[retention] deleted %d expired artifacts (%d failed, %d candidates)", deleted.Load(), failed.Load(), len(jobs))
	return int(deleted.Load()), ctx.Err()
}
