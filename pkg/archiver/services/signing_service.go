package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tsp"
)

// SignJob binds a trusted timestamp to the artifact checksum of a job.
// Transport failures are returned wrapped in ErrSigningFailed and leave the
// job untouched. The call is never retried here.
func (s *ArchiveJobService) SignJob(ctx context.Context, caller models.Caller, jobid string) (*models.TspRecord, error) {
	if s.signer == nil {
		return nil, ErrSigningDisabled
	}
	job, err := s.repo.GetByJobID(ctx, jobid)
	if err != nil {
		return nil, err
	}
	if !job.HasWriteAccess(caller, "", s.now()) {
		return nil, ErrAccessDenied
	}
	if job.Tsp != nil {
		return nil, ErrAlreadySigned
	}
	if !job.HasArtifact() || job.ArtifactChecksum == nil {
		return nil, ErrNoArtifact
	}
	digest, err := hex.DecodeString(*job.ArtifactChecksum)
	if err != nil {
		return nil, fmt.Errorf("%w: stored checksum is not hex", ErrChecksumMismatch)
	}

	res, err := s.signer.Timestamp(ctx, digest)
	if err != nil {
		log.Printf("[tsp] job=%s signing failed: %v", job.JobID, err)
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	rec := &models.TspRecord{
		JobID:          job.JobID,
		CreatedAt:      s.now(),
		ServerIdentity: res.ServerIdentity,
		Query:          res.Query,
		Reply:          res.Reply,
	}
	if err := s.repo.SaveTsp(ctx, rec); err != nil {
		if errors.Is(err, repositories.ErrAlreadySigned) {
			return nil, ErrAlreadySigned
		}
		return nil, err
	}
	log.Printf("[tsp] job=%s signed by %s at %s", job.JobID, res.ServerIdentity, res.Time.Format(time.RFC3339))
	return rec, nil
}

// VerifySignature re-checks the stored timestamp reply against the artifact
// checksum and returns the time it attests.
func (s *ArchiveJobService) VerifySignature(ctx context.Context, caller models.Caller, jobid string) (*models.TspRecord, time.Time, error) {
	job, err := s.GetJob(ctx, caller, jobid)
	if err != nil {
		return nil, time.Time{}, err
	}
	if job.Tsp == nil {
		return nil, time.Time{}, ErrNotSigned
	}
	if job.ArtifactChecksum == nil {
		return job.Tsp, time.Time{}, ErrNoArtifact
	}
	digest, err := hex.DecodeString(*job.ArtifactChecksum)
	if err != nil {
		return job.Tsp, time.Time{}, ErrChecksumMismatch
	}
	at, err := tsp.Verify(job.Tsp.Reply, digest)
	if err != nil {
		return job.Tsp, time.Time{}, fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
	}
	return job.Tsp, at, nil
}
