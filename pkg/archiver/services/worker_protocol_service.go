package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
)

// Business outcomes of the worker calls are result codes. Only storage
// faults come back as errors.

// UpdateStatus handles a status report of the archive worker.
func (s *ArchiveJobService) UpdateStatus(ctx context.Context, in *models.UpdateStatusInput) (models.ResultCode, error) {
	job, err := s.repo.GetByJobID(ctx, in.JobID)
	if errors.Is(err, repositories.ErrJobNotFound) {
		return models.ResultUpdateFailed, nil
	}
	if err != nil {
		return "", err
	}

	tok := in.Token()
	if !job.HasReadAccess(models.Anonymous, tok) {
		return models.ResultAccessDenied, nil
	}
	if job.IsComplete() {
		return models.ResultJobAlreadyCompleted, nil
	}
	if !job.HasWriteAccess(models.Anonymous, tok, s.now()) {
		return models.ResultAccessDenied, nil
	}
	if !in.Status.IsValid() {
		log.Printf("[worker] job=%s sent unknown status %q", job.JobID, in.Status)
		return models.ResultUpdateFailed, nil
	}

	err = s.setStatus(ctx, job, in.Status, in.StatusExtras)
	switch {
	case err == nil:
		return models.ResultOK, nil
	case errors.Is(err, models.ErrAlreadyComplete):
		return models.ResultJobAlreadyCompleted, nil
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, ErrStatusConflict):
		log.Printf("[worker] job=%s rejected status %s: %v", job.JobID, in.Status, err)
		return models.ResultUpdateFailed, nil
	default:
		return "", err
	}
}

// StoreUpload puts the packaged archive into the temporary upload area.
func (s *ArchiveJobService) StoreUpload(ctx context.Context, in *models.UploadInput) (*models.UploadResponse, error) {
	job, err := s.repo.GetByJobID(ctx, in.JobID)
	if errors.Is(err, repositories.ErrJobNotFound) {
		return &models.UploadResponse{Status: models.ResultJobNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !job.HasWriteAccess(models.Anonymous, in.Token(), s.now()) {
		return &models.UploadResponse{Status: models.ResultAccessDenied}, nil
	}
	if job.Status != models.StatusFinalizing || job.HasArtifact() {
		return &models.UploadResponse{Status: models.ResultNoArtifactUploadExpected}, nil
	}
	if !validUploadName(in.Filename) || len(in.Content) == 0 {
		return &models.UploadResponse{Status: models.ResultInvalidUpload}, nil
	}

	ref, err := s.store.PutTemp(ctx, in.Content, job.JobID, in.Filename, s.now().Add(s.opts.UploadTTL))
	if err != nil {
		return nil, err
	}
	log.Printf("[upload] job=%s stored %d bytes as %s", job.JobID, len(in.Content), ref)
	return &models.UploadResponse{Status: models.ResultOK, Ref: ref}, nil
}

func validUploadName(name string) bool {
	if name == "" || len(name) > 255 || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// ProcessUploadedArtifact moves a verified upload into the permanent store,
// binds it to the job and finishes the job.
func (s *ArchiveJobService) ProcessUploadedArtifact(ctx context.Context, in *models.ArtifactUploadedInput) (models.ResultCode, error) {
	job, err := s.repo.GetByJobID(ctx, in.JobID)
	if errors.Is(err, repositories.ErrJobNotFound) {
		return models.ResultAccessDenied, nil
	}
	if err != nil {
		return "", err
	}
	if !job.HasWriteAccess(models.Anonymous, in.Token(), s.now()) {
		return models.ResultAccessDenied, nil
	}
	if job.Status != models.StatusFinalizing || job.HasArtifact() {
		return models.ResultNoArtifactUploadExpected, nil
	}

	data, upload, err := s.store.GetTemp(ctx, in.Artifact.Ref)
	if err != nil {
		log.Printf("[upload] job=%s upload %s not found: %v", job.JobID, in.Artifact.Ref, err)
		return models.ResultUploadedArtifactNotFound, nil
	}
	if upload.JobID != job.JobID {
		log.Printf("[upload] job=%s upload %s belongs to another job", job.JobID, in.Artifact.Ref)
		return models.ResultUploadedArtifactNotFound, nil
	}
	checksum := artifactstore.Hash(data)
	if !strings.EqualFold(checksum, strings.TrimSpace(in.Sha256Sum)) {
		log.Printf("[upload] job=%s checksum mismatch for %s", job.JobID, in.Artifact.Ref)
		return models.ResultArtifactChecksumInvalid, nil
	}

	ref, err := s.store.Put(ctx, data, artifactstore.Metadata{
		Filename:    path.Base(in.Artifact.Ref),
		ContentType: contentTypeFor(in.Artifact.Ref),
		JobID:       job.JobID,
		Size:        int64(len(data)),
		Checksum:    checksum,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return "", err
	}
	if err := s.repo.LinkArtifact(ctx, job.JobID, ref, checksum, s.now()); err != nil {
		if delErr := s.store.Delete(ctx, ref); delErr != nil {
			log.Printf("[upload] job=%s cleanup of %s failed: %v", job.JobID, ref, delErr)
		}
		if errors.Is(err, repositories.ErrArtifactAlreadyLinked) {
			return models.ResultNoArtifactUploadExpected, nil
		}
		return "", err
	}
	if err := s.store.DeleteTemp(ctx, in.Artifact.Ref); err != nil && !errors.Is(err, artifactstore.ErrNotFound) {
		log.Printf("[upload] job=%s temp cleanup of %s failed: %v", job.JobID, in.Artifact.Ref, err)
	}
	log.Printf("[upload] job=%s linked artifact %s sha256=%s", job.JobID, ref, checksum)

	if err := s.setStatus(ctx, job, models.StatusFinished, nil); err != nil {
		log.Printf("[upload] job=%s could not finish: %v", job.JobID, err)
		return models.ResultUpdateFailed, nil
	}

	if s.opts.Autosign && s.signer != nil {
		jobid := job.JobID
		s.dispatch(context.Background(), "tsp", func(ctx context.Context) error {
			_, err := s.SignJob(ctx, models.Caller{UserRef: "autosign", Admin: true}, jobid)
			return err
		})
	}
	return models.ResultOK, nil
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".zip"):
		return "application/zip"
	case strings.HasSuffix(name, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// QueryBackupStatus tells the worker whether a requested backup is ready.
func (s *ArchiveJobService) QueryBackupStatus(ctx context.Context, in *models.BackupStatusInput) (*models.BackupStatusResponse, error) {
	job, err := s.repo.GetByJobID(ctx, in.JobID)
	if errors.Is(err, repositories.ErrJobNotFound) {
		return &models.BackupStatusResponse{Status: models.ResultJobNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !job.HasReadAccess(models.Anonymous, in.Token()) {
		return &models.BackupStatusResponse{Status: models.ResultAccessDenied}, nil
	}

	backup, err := s.repo.GetBackup(ctx, in.BackupID)
	if errors.Is(err, repositories.ErrBackupNotFound) || (err == nil && backup.JobID != job.JobID) {
		return &models.BackupStatusResponse{Status: models.ResultBackupNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	switch backup.Status {
	case models.BackupPending:
		return &models.BackupStatusResponse{Status: models.ResultBackupPending}, nil
	case models.BackupFailed:
		return &models.BackupStatusResponse{Status: models.ResultBackupFailed}, nil
	}
	desc := &models.BackupDescriptor{
		BackupID:    backup.BackupID,
		Filename:    backup.Filename,
		DownloadURL: fmt.Sprintf("%s/v1/jobs/%s/backups/%s/download", s.PublicBaseURL(), job.JobID, backup.BackupID),
	}
	if backup.Checksum != nil {
		desc.Sha256Sum = *backup.Checksum
	}
	return &models.BackupStatusResponse{Status: models.ResultSuccess, Backup: desc}, nil
}

// GetBackupFile returns the verified content of a finished backup for a
// holder of the job token.
func (s *ArchiveJobService) GetBackupFile(ctx context.Context, in *models.BackupStatusInput) (*Artifact, error) {
	job, err := s.repo.GetByJobID(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	if !job.HasReadAccess(models.Anonymous, in.Token()) {
		return nil, ErrAccessDenied
	}
	backup, err := s.repo.GetBackup(ctx, in.BackupID)
	if err != nil {
		return nil, err
	}
	if backup.JobID != job.JobID || backup.Status != models.BackupFinished || backup.ArtifactRef == nil {
		return nil, repositories.ErrBackupNotFound
	}
	expected := ""
	if backup.Checksum != nil {
		expected = *backup.Checksum
	}
	return s.readVerified(ctx, job.JobID, *backup.ArtifactRef, expected)
}

// MarkBackupStatus records the outcome of a backup produced by the host.
func (s *ArchiveJobService) MarkBackupStatus(ctx context.Context, caller models.Caller, in *models.BackupUpdateInput) (*models.BackupRecord, error) {
	if !caller.Admin {
		return nil, ErrAccessDenied
	}
	if !in.Status.IsValid() || in.Status == models.BackupPending {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidBackup, in.Status)
	}
	backup, err := s.repo.GetBackup(ctx, in.BackupID)
	if err != nil {
		return nil, err
	}
	if backup.Status != models.BackupPending {
		return nil, ErrBackupFinal
	}

	update := &models.BackupRecord{BackupID: backup.BackupID, Status: in.Status}
	if in.Status == models.BackupFinished {
		if len(in.Content) == 0 || !validUploadName(in.Filename) {
			return nil, fmt.Errorf("%w: finished backup needs filename and content", ErrInvalidBackup)
		}
		sum := artifactstore.Hash(in.Content)
		ref, err := s.store.Put(ctx, in.Content, artifactstore.Metadata{
			Filename:    in.Filename,
			ContentType: "application/vnd.moodle.backup",
			JobID:       backup.JobID,
			Size:        int64(len(in.Content)),
			Checksum:    sum,
			CreatedAt:   s.now(),
		})
		if err != nil {
			return nil, err
		}
		update.Filename = in.Filename
		update.ArtifactRef = &ref
		update.Checksum = &sum
	}

	ok, err := s.repo.UpdateBackup(ctx, update, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if update.ArtifactRef != nil {
			_ = s.store.Delete(ctx, *update.ArtifactRef)
		}
		return nil, ErrBackupFinal
	}
	log.Printf("[backup] backup=%s job=%s -> %s", backup.BackupID, backup.JobID, in.Status)
	return s.repo.GetBackup(ctx, in.BackupID)
}
