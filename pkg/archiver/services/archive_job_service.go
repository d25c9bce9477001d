package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/problem"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/token"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/worker"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/filenamepattern"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tools"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tsp"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var (
	ErrAccessDenied     = errors.New("access denied")
	ErrAlreadySigned    = errors.New("archive job already signed")
	ErrNoArtifact       = errors.New("archive job has no artifact")
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
	ErrSigningDisabled  = errors.New("timestamping is disabled")
	ErrSigningFailed    = errors.New("timestamping failed")
	ErrStatusConflict   = errors.New("status changed concurrently")
	ErrBackupFinal      = errors.New("backup already finished or failed")
	ErrInvalidBackup    = errors.New("invalid backup update")
	ErrNotSigned        = errors.New("archive job is not signed")
)

// maxStatusRetries bounds the compare-and-set loop of setStatus.
const maxStatusRetries = 3

// Timestamper obtains RFC 3161 timestamps.
type Timestamper interface {
	Timestamp(ctx context.Context, digest []byte) (*tsp.Result, error)
}

// WorkerSubmitter hands new jobs to the archive worker.
type WorkerSubmitter interface {
	Submit(ctx context.Context, req worker.SubmitRequest) (*worker.SubmitResponse, error)
}

// Options carries the configuration the service needs.
type Options struct {
	PublicBaseURL          string
	UploadTTL              time.Duration
	JobTimeout             time.Duration
	DefaultRetention       *time.Duration
	ArchiveFilenamePattern string
	AttemptFilenamePattern string
	Autosign               bool
}

// Artifact is a verified blob read back from the store.
type Artifact struct {
	Filename    string
	ContentType string
	Checksum    string
	Data        []byte
}

// ArchiveJobService implements the archive job lifecycle.
type ArchiveJobService struct {
	repo     repositories.ArchiveJobRepository
	store    artifactstore.Store
	opts     Options
	signer   Timestamper
	worker   WorkerSubmitter
	now      func() time.Time
	dispatch func(ctx context.Context, name string, fn tools.ToolFunc)
}

func NewArchiveJobService(repo repositories.ArchiveJobRepository, store artifactstore.Store, opts Options) *ArchiveJobService {
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = 24 * time.Hour
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Hour
	}
	return &ArchiveJobService{
		repo:     repo,
		store:    store,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		dispatch: tools.Dispatch,
	}
}

// WithSigner enables timestamping.
func (s *ArchiveJobService) WithSigner(t Timestamper) *ArchiveJobService {
	s.signer = t
	return s
}

// WithWorker enables submission of new jobs to the archive worker.
func (s *ArchiveJobService) WithWorker(w WorkerSubmitter) *ArchiveJobService {
	s.worker = w
	return s
}

func (s *ArchiveJobService) WithClock(now func() time.Time) *ArchiveJobService {
	s.now = now
	return s
}

func (s *ArchiveJobService) WithDispatcher(d func(ctx context.Context, name string, fn tools.ToolFunc)) *ArchiveJobService {
	s.dispatch = d
	return s
}

// Now returns the service clock.
func (s *ArchiveJobService) Now() time.Time {
	return s.now()
}

func (s *ArchiveJobService) PublicBaseURL() string {
	return strings.TrimRight(s.opts.PublicBaseURL, "/")
}

// CreateJob validates the request, registers a new UNINITIALIZED job and
// submits it to the archive worker when one is configured.
func (s *ArchiveJobService) CreateJob(ctx context.Context, caller models.Caller, in *models.CreateJobInput) (*models.ArchiveJob, error) {
	if !caller.Admin {
		return nil, ErrAccessDenied
	}
	settings, err := s.normalizeSettings(in)
	if err != nil {
		return nil, err
	}

	tok, err := token.New()
	if err != nil {
		return nil, err
	}
	now := s.now()
	job := &models.ArchiveJob{
		JobID:           uuid.NewString(),
		CourseRef:       in.CourseID,
		ModuleRef:       in.CmID,
		QuizRef:         in.QuizID,
		OwnerRef:        caller.UserRef,
		Status:          models.StatusUninitialized,
		AccessToken:     tok,
		TokenValidUntil: now.Add(s.opts.JobTimeout),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if r := settings.Retention(); r != nil {
		expires := now.Add(*r)
		job.RetentionTime = &expires
	}
	for i, a := range in.Attempts {
		job.Attempts = append(job.Attempts, models.ArchiveJobAttempt{Position: i, UserRef: a.UserID, AttemptRef: a.AttemptID})
	}
	snapshot := settings.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		job.Settings = append(job.Settings, models.ArchiveJobSetting{Key: k, Value: snapshot[k]})
	}
	if settings.ExportCourseBackup {
		job.Backups = append(job.Backups, models.BackupRecord{BackupID: uuid.NewString(), Kind: models.BackupKindCourse, Status: models.BackupPending})
	}
	if settings.ExportQuizBackup {
		job.Backups = append(job.Backups, models.BackupRecord{BackupID: uuid.NewString(), Kind: models.BackupKindQuiz, Status: models.BackupPending})
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}
	log.Printf("[archive] created job=%s quiz=%s/%s/%s attempts=%d", job.JobID, job.CourseRef, job.ModuleRef, job.QuizRef, len(job.Attempts))

	if s.worker != nil {
		s.submit(ctx, job, settings)
	}
	return s.repo.GetByJobID(ctx, job.JobID)
}

func (s *ArchiveJobService) submit(ctx context.Context, job *models.ArchiveJob, settings models.JobSettings) {
	req := worker.SubmitRequest{
		CallbackURL: s.PublicBaseURL() + "/v1",
		JobID:       job.JobID,
		WSToken:     job.AccessToken,
		CourseID:    job.CourseRef,
		CmID:        job.ModuleRef,
		QuizID:      job.QuizRef,
		Settings:    settings,
	}
	for _, a := range job.Attempts {
		req.Attempts = append(req.Attempts, models.AttemptRef{UserID: a.UserRef, AttemptID: a.AttemptRef})
	}
	for _, b := range job.Backups {
		req.Backups = append(req.Backups, worker.BackupRef{BackupID: b.BackupID, Kind: b.Kind})
	}

	resp, err := s.worker.Submit(ctx, req)
	if err != nil {
		log.Printf("[worker] submit job=%s failed: %v", job.JobID, err)
		extra, _ := json.Marshal(map[string]string{"error": "worker unavailable"})
		if err := s.setStatus(ctx, job, models.StatusFailed, extra); err != nil {
			log.Printf("[worker] mark job=%s failed: %v", job.JobID, err)
		}
		return
	}
	if resp.Status == models.StatusUninitialized {
		return
	}
	if err := s.setStatus(ctx, job, resp.Status, nil); err != nil {
		log.Printf("[worker] job=%s initial status %s rejected: %v", job.JobID, resp.Status, err)
	}
}

func (s *ArchiveJobService) normalizeSettings(in *models.CreateJobInput) (models.JobSettings, error) {
	settings := in.Settings
	var invalid []problem.InvalidParam

	if settings.ArchiveFilenamePattern == "" {
		settings.ArchiveFilenamePattern = s.opts.ArchiveFilenamePattern
	}
	if settings.AttemptFilenamePattern == "" {
		settings.AttemptFilenamePattern = s.opts.AttemptFilenamePattern
	}
	if err := filenamepattern.ValidateKind(filenamepattern.KindArchive, settings.ArchiveFilenamePattern); err != nil {
		invalid = append(invalid, problem.InvalidParam{Name: "settings.archiveFilenamePattern", Reason: err.Error()})
	}
	if err := filenamepattern.ValidateKind(filenamepattern.KindAttempt, settings.AttemptFilenamePattern); err != nil {
		invalid = append(invalid, problem.InvalidParam{Name: "settings.attemptFilenamePattern", Reason: err.Error()})
	}

	if settings.ExportAttempts {
		if settings.PaperFormat == "" {
			settings.PaperFormat = "A4"
		}
		if !models.IsPaperFormat(settings.PaperFormat) {
			invalid = append(invalid, problem.InvalidParam{Name: "settings.paperFormat", Reason: fmt.Sprintf("unsupported paper format %q", settings.PaperFormat)})
		}
		if len(in.Attempts) == 0 {
			invalid = append(invalid, problem.InvalidParam{Name: "attempts", Reason: "at least one attempt is required when exporting attempts"})
		}
	}
	for section := range settings.ExportReportSections {
		if !models.IsReportSection(section) {
			invalid = append(invalid, problem.InvalidParam{Name: "settings.exportReportSections", Reason: fmt.Sprintf("unknown report section %q", section)})
		}
	}
	if !settings.ExportAttempts && !settings.ExportCourseBackup && !settings.ExportQuizBackup {
		invalid = append(invalid, problem.InvalidParam{Name: "settings", Reason: "nothing to export"})
	}

	switch {
	case settings.RetentionSeconds == nil && s.opts.DefaultRetention != nil:
		secs := int64(s.opts.DefaultRetention.Seconds())
		settings.RetentionSeconds = &secs
	case settings.RetentionSeconds != nil && *settings.RetentionSeconds < 0:
		invalid = append(invalid, problem.InvalidParam{Name: "settings.retentionSeconds", Reason: "must not be negative"})
	}

	if len(invalid) > 0 {
		return settings, problem.NewBadRequest("body", "invalid archive job settings", invalid...)
	}
	return settings, nil
}

// GetJob returns a job the caller may read.
func (s *ArchiveJobService) GetJob(ctx context.Context, caller models.Caller, jobid string) (*models.ArchiveJob, error) {
	job, err := s.repo.GetByJobID(ctx, jobid)
	if err != nil {
		return nil, err
	}
	if !job.HasReadAccess(caller, "") {
		return nil, ErrAccessDenied
	}
	return job, nil
}

// ListJobs returns all jobs of a quiz, most recent first.
func (s *ArchiveJobService) ListJobs(ctx context.Context, caller models.Caller, courseRef, moduleRef, quizRef string) ([]models.ArchiveJob, error) {
	if !caller.Admin && !caller.Auditor {
		return nil, ErrAccessDenied
	}
	return s.repo.ListByQuiz(ctx, courseRef, moduleRef, quizRef)
}

// SetStatus applies an administrative status change along the normal
// transition table.
func (s *ArchiveJobService) SetStatus(ctx context.Context, caller models.Caller, jobid string, to models.Status, extras json.RawMessage) (*models.ArchiveJob, error) {
	job, err := s.repo.GetByJobID(ctx, jobid)
	if err != nil {
		return nil, err
	}
	if !job.HasWriteAccess(caller, "", s.now()) {
		return nil, ErrAccessDenied
	}
	if err := s.setStatus(ctx, job, to, extras); err != nil {
		return nil, err
	}
	return job, nil
}

// setStatus moves job to the new status with a compare-and-set on the status
// it was read with. A lost race re-reads the job and validates again.
func (s *ArchiveJobService) setStatus(ctx context.Context, job *models.ArchiveJob, to models.Status, extras json.RawMessage) error {
	var extra datatypes.JSON
	if len(extras) > 0 && string(extras) != "null" {
		extra = datatypes.JSON(extras)
	}
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		if err := models.CheckTransition(job.Status, to); err != nil {
			return err
		}
		now := s.now()
		ok, err := s.repo.UpdateStatus(ctx, job.JobID, job.Status, to, extra, now, to.RevokesToken())
		if err != nil {
			return err
		}
		if ok {
			log.Printf("[archive] job=%s status %s -> %s", job.JobID, job.Status, to)
			job.Status = to
			job.StatusExtra = extra
			job.UpdatedAt = now
			if to.RevokesToken() {
				job.TokenValidUntil = now
			}
			return nil
		}
		fresh, err := s.repo.GetByJobID(ctx, job.JobID)
		if err != nil {
			return err
		}
		*job = *fresh
	}
	return ErrStatusConflict
}

// GetArtifact returns the verified artifact of a job. It returns nil when no
// artifact is bound or the blob is gone.
func (s *ArchiveJobService) GetArtifact(ctx context.Context, caller models.Caller, jobid string) (*Artifact, error) {
	job, err := s.repo.GetByJobID(ctx, jobid)
	if err != nil {
		return nil, err
	}
	if !job.HasReadAccess(caller, "") {
		return nil, ErrAccessDenied
	}
	if !job.HasArtifact() {
		return nil, nil
	}
	expected := ""
	if job.ArtifactChecksum != nil {
		expected = *job.ArtifactChecksum
	}
	return s.readVerified(ctx, job.JobID, *job.ArtifactRef, expected)
}

func (s *ArchiveJobService) readVerified(ctx context.Context, jobid, ref, expected string) (*Artifact, error) {
	data, meta, err := s.store.Get(ctx, ref)
	if errors.Is(err, artifactstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sum := artifactstore.Hash(data)
	if !strings.EqualFold(sum, expected) {
		log.Printf("[archive] integrity fault job=%s ref=%s expected=%s actual=%s", jobid, ref, expected, sum)
		return nil, ErrChecksumMismatch
	}
	return &Artifact{
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Checksum:    sum,
		Data:        data,
	}, nil
}

// DeleteArtifact removes the artifact of a job and marks it DELETED. It is
// idempotent and reports whether this call performed the deletion.
func (s *ArchiveJobService) DeleteArtifact(ctx context.Context, caller models.Caller, jobid string) (bool, error) {
	job, err := s.repo.GetByJobID(ctx, jobid)
	if err != nil {
		return false, err
	}
	if !job.HasWriteAccess(caller, "", s.now()) {
		return false, ErrAccessDenied
	}
	deleted, err := deleteJobArtifact(ctx, s.repo, s.store, job, s.now())
	if err != nil {
		return false, err
	}
	if deleted {
		log.Printf("[archive] job=%s artifact deleted by %s", job.JobID, caller.UserRef)
	}
	return deleted, nil
}

// deleteJobArtifact is the administrative transition shared by manual
// deletion and the retention sweep. The blob goes first so a failed delete
// leaves the row bound and the next run retries it.
func deleteJobArtifact(ctx context.Context, repo repositories.ArchiveJobRepository, store artifactstore.Store, job *models.ArchiveJob, now time.Time) (bool, error) {
	if _, ok := models.DeleteTarget(job.Status, job.HasArtifact()); !ok {
		return false, nil
	}
	if !job.HasArtifact() {
		return repo.MarkDeleted(ctx, job.JobID, now)
	}
	ref := *job.ArtifactRef
	if err := store.Delete(ctx, ref); err != nil {
		return false, fmt.Errorf("delete artifact %s: %w", ref, err)
	}
	return repo.ClearArtifact(ctx, job.JobID, ref, now)
}
