package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
)

// TimeoutStaleJobs drives jobs that outlived the configured job timeout to
// TIMEOUT. A job that completes concurrently is left alone.
func (s *ArchiveJobService) TimeoutStaleJobs(ctx context.Context) (int, error) {
	jobs, err := s.repo.FindStale(ctx, s.now().Add(-s.opts.JobTimeout))
	if err != nil {
		return 0, err
	}
	extra, _ := json.Marshal(map[string]string{"reason": "job exceeded maximum runtime"})

	timedOut := 0
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return timedOut, err
		}
		job := &jobs[i]
		err := s.setStatus(ctx, job, models.StatusTimeout, extra)
		switch {
		case err == nil:
			timedOut++
		case errors.Is(err, models.ErrAlreadyComplete):
		default:
			log.Printf("[archive] timeout job=%s: %v", job.JobID, err)
		}
	}
	if timedOut > 0 {
		log.Printf("[archive] timed out %d stale jobs", timedOut)
	}
	return timedOut, nil
}
