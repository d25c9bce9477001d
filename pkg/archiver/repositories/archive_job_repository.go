package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound           = errors.New("archive job not found")
	ErrDuplicateJobID        = errors.New("archive job id already exists")
	ErrArtifactAlreadyLinked = errors.New("artifact already linked to job")
	ErrAlreadySigned         = errors.New("archive job already signed")
	ErrBackupNotFound        = errors.New("backup not found")
)

// ArchiveJobRepository is the job registry. Every mutating method is a
// compare-and-set against the current row so concurrent callers cannot
// bypass the state machine.
type ArchiveJobRepository interface {
	Create(ctx context.Context, job *models.ArchiveJob) error
	GetByJobID(ctx context.Context, jobid string) (*models.ArchiveJob, error)
	ListByQuiz(ctx context.Context, courseRef, moduleRef, quizRef string) ([]models.ArchiveJob, error)

	// UpdateStatus moves the job from -> to. It reports false when the job is
	// no longer in status from.
	UpdateStatus(ctx context.Context, jobid string, from, to models.Status, extra datatypes.JSON, now time.Time, revokeToken bool) (bool, error)
	LinkArtifact(ctx context.Context, jobid, ref, checksum string, now time.Time) error
	// ClearArtifact unbinds ref and marks the job DELETED. It reports false
	// when ref was no longer bound.
	ClearArtifact(ctx context.Context, jobid, ref string, now time.Time) (bool, error)
	// MarkDeleted moves a FINISHED job without artifact to DELETED.
	MarkDeleted(ctx context.Context, jobid string, now time.Time) (bool, error)
	FindExpired(ctx context.Context, now time.Time) ([]models.ArchiveJob, error)
	// FindStale returns incomplete jobs created at or before cutoff.
	FindStale(ctx context.Context, cutoff time.Time) ([]models.ArchiveJob, error)

	SaveTsp(ctx context.Context, rec *models.TspRecord) error

	GetBackup(ctx context.Context, backupid string) (*models.BackupRecord, error)
	UpdateBackup(ctx context.Context, backup *models.BackupRecord, now time.Time) (bool, error)
}

type archiveJobRepository struct {
	db *gorm.DB
}

func NewArchiveJobRepository(db *gorm.DB) ArchiveJobRepository {
	return &archiveJobRepository{db: db}
}

func (r *archiveJobRepository) Create(ctx context.Context, job *models.ArchiveJob) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ArchiveJob{}).Where("jobid = ?", job.JobID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateJobID
		}
		return tx.Create(job).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateJobID
	}
	return err
}

func (r *archiveJobRepository) GetByJobID(ctx context.Context, jobid string) (*models.ArchiveJob, error) {
	var job models.ArchiveJob
	err := r.db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Settings").
		Preload("Tsp").
		Preload("Backups").
		Where("jobid = ?", jobid).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *archiveJobRepository) ListByQuiz(ctx context.Context, courseRef, moduleRef, quizRef string) ([]models.ArchiveJob, error) {
	var jobs []models.ArchiveJob
	err := r.db.WithContext(ctx).
		Preload("Tsp").
		Where("course_ref = ? AND module_ref = ? AND quiz_ref = ?", courseRef, moduleRef, quizRef).
		Order("created_at DESC").
		Order("id DESC").
		Find(&jobs).Error
	return jobs, err
}

func (r *archiveJobRepository) UpdateStatus(ctx context.Context, jobid string, from, to models.Status, extra datatypes.JSON, now time.Time, revokeToken bool) (bool, error) {
	fields := map[string]any{
		"status":       to,
		"status_extra": extra,
		"updated_at":   now,
	}
	if revokeToken {
		fields["token_valid_until"] = now
	}
	res := r.db.WithContext(ctx).
		Model(&models.ArchiveJob{}).
		Where("jobid = ? AND status = ?", jobid, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *archiveJobRepository) LinkArtifact(ctx context.Context, jobid, ref, checksum string, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.ArchiveJob{}).
		Where("jobid = ? AND artifact_ref IS NULL", jobid).
		Updates(map[string]any{
			"artifact_ref":      ref,
			"artifact_checksum": checksum,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.GetByJobID(ctx, jobid); err != nil {
		return err
	}
	return ErrArtifactAlreadyLinked
}

func (r *archiveJobRepository) ClearArtifact(ctx context.Context, jobid, ref string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ArchiveJob{}).
		Where("jobid = ? AND artifact_ref = ?", jobid, ref).
		Updates(map[string]any{
			"artifact_ref":      nil,
			"artifact_checksum": nil,
			"status":            models.StatusDeleted,
			"status_extra":      nil,
			"token_valid_until": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *archiveJobRepository) MarkDeleted(ctx context.Context, jobid string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ArchiveJob{}).
		Where("jobid = ? AND status = ? AND artifact_ref IS NULL", jobid, models.StatusFinished).
		Updates(map[string]any{
			"status":            models.StatusDeleted,
			"status_extra":      nil,
			"token_valid_until": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *archiveJobRepository) FindExpired(ctx context.Context, now time.Time) ([]models.ArchiveJob, error) {
	var jobs []models.ArchiveJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND retention_time IS NOT NULL AND retention_time <= ?", models.StatusFinished, now).
		Order("retention_time ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *archiveJobRepository) FindStale(ctx context.Context, cutoff time.Time) ([]models.ArchiveJob, error) {
	var complete []models.Status
	for _, st := range models.AllStatuses() {
		if st.IsComplete() {
			complete = append(complete, st)
		}
	}
	var jobs []models.ArchiveJob
	err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND created_at <= ?", complete, cutoff).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *archiveJobRepository) SaveTsp(ctx context.Context, rec *models.TspRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.TspRecord{}).Where("jobid = ?", rec.JobID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadySigned
		}
		return tx.Create(rec).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadySigned
	}
	if err != nil && !errors.Is(err, ErrAlreadySigned) {
		return fmt.Errorf("save tsp record: %w", err)
	}
	return err
}

func (r *archiveJobRepository) GetBackup(ctx context.Context, backupid string) (*models.BackupRecord, error) {
	var b models.BackupRecord
	err := r.db.WithContext(ctx).Where("backupid = ?", backupid).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBackup stores the outcome of a pending backup. Finished or failed
// backups are never rewritten.
func (r *archiveJobRepository) UpdateBackup(ctx context.Context, backup *models.BackupRecord, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BackupRecord{}).
		Where("backupid = ? AND status = ?", backup.BackupID, models.BackupPending).
		Updates(map[string]any{
			"status":       backup.Status,
			"filename":     backup.Filename,
			"artifact_ref": backup.ArtifactRef,
			"checksum":     backup.Checksum,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
