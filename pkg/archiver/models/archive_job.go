package models

import (
	"encoding/json"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/token"
	"gorm.io/datatypes"
)

// ArchiveJob tracks one archival run for one quiz.
type ArchiveJob struct {
	ID               uint           `gorm:"column:id;primaryKey" json:"-"`
	JobID            string         `gorm:"column:jobid;uniqueIndex;size:36;not null" json:"jobid"`
	CourseRef        string         `gorm:"column:course_ref;size:64;index:idx_archive_jobs_quiz,priority:1" json:"courseId"`
	ModuleRef        string         `gorm:"column:module_ref;size:64;index:idx_archive_jobs_quiz,priority:2" json:"cmId"`
	QuizRef          string         `gorm:"column:quiz_ref;size:64;index:idx_archive_jobs_quiz,priority:3" json:"quizId"`
	OwnerRef         string         `gorm:"column:owner_ref;size:64" json:"ownerId"`
	Status           Status         `gorm:"column:status;size:32;index;not null" json:"status"`
	StatusExtra      datatypes.JSON `gorm:"column:status_extra" json:"statusExtra,omitempty"`
	AccessToken      string         `gorm:"column:access_token;size:128" json:"-"`
	TokenValidUntil  time.Time      `gorm:"column:token_valid_until" json:"-"`
	RetentionTime    *time.Time     `gorm:"column:retention_time;index" json:"retentionTime,omitempty"`
	ArtifactRef      *string        `gorm:"column:artifact_ref;size:255" json:"-"`
	ArtifactChecksum *string        `gorm:"column:artifact_checksum;size:64" json:"artifactChecksum,omitempty"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt        time.Time      `gorm:"column:updated_at" json:"updatedAt"`

	Attempts []ArchiveJobAttempt `gorm:"foreignKey:JobID;references:JobID" json:"attempts,omitempty"`
	Settings []ArchiveJobSetting `gorm:"foreignKey:JobID;references:JobID" json:"-"`
	Tsp      *TspRecord          `gorm:"foreignKey:JobID;references:JobID" json:"tsp,omitempty"`
	Backups  []BackupRecord      `gorm:"foreignKey:JobID;references:JobID" json:"backups,omitempty"`
}

// ArchiveJobAttempt is one entry of the job manifest.
type ArchiveJobAttempt struct {
	ID         uint   `gorm:"column:id;primaryKey" json:"-"`
	JobID      string `gorm:"column:jobid;size:36;index;not null" json:"-"`
	Position   int    `gorm:"column:position" json:"-"`
	UserRef    string `gorm:"column:user_ref;size:64" json:"userId"`
	AttemptRef string `gorm:"column:attempt_ref;size:64" json:"attemptId"`
}

// ArchiveJobSetting is one key of the settings snapshot taken at creation.
type ArchiveJobSetting struct {
	ID    uint   `gorm:"column:id;primaryKey"`
	JobID string `gorm:"column:jobid;size:36;uniqueIndex:idx_archive_job_settings_key,priority:1;not null"`
	Key   string `gorm:"column:setting_key;size:128;uniqueIndex:idx_archive_job_settings_key,priority:2"`
	Value string `gorm:"column:setting_value;type:text"`
}

// TspRecord is the trusted timestamp bound to a job's artifact.
type TspRecord struct {
	ID             uint      `gorm:"column:id;primaryKey" json:"-"`
	JobID          string    `gorm:"column:jobid;size:36;uniqueIndex;not null" json:"-"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"createdAt"`
	ServerIdentity string    `gorm:"column:server_identity;size:255" json:"server"`
	Query          []byte    `gorm:"column:query_blob" json:"-"`
	Reply          []byte    `gorm:"column:reply_blob" json:"-"`
}

// Caller identifies who is acting on a job. It replaces any ambient notion of
// a current user.
type Caller struct {
	UserRef string
	Admin   bool
	// Auditor may read every job but never write.
	Auditor bool
}

// Anonymous is a caller that only holds whatever token it presents.
var Anonymous = Caller{}

// IsComplete reports whether the job is in a terminal state.
func (j *ArchiveJob) IsComplete() bool {
	return j.Status.IsComplete()
}

// HasReadAccess allows administrators and any holder of the job token, even an
// invalidated one.
func (j *ArchiveJob) HasReadAccess(caller Caller, supplied string) bool {
	matches := token.Equal(j.AccessToken, supplied)
	return caller.Admin || caller.Auditor || matches
}

// HasWriteAccess allows administrators and holders of the unexpired job token.
func (j *ArchiveJob) HasWriteAccess(caller Caller, supplied string, now time.Time) bool {
	matches := token.Equal(j.AccessToken, supplied)
	if caller.Admin {
		return true
	}
	return matches && now.Before(j.TokenValidUntil)
}

// Extras returns the payload of the current status, nil when there is none.
func (j *ArchiveJob) Extras() json.RawMessage {
	if len(j.StatusExtra) == 0 || string(j.StatusExtra) == "null" {
		return nil
	}
	return json.RawMessage(j.StatusExtra)
}

func (j *ArchiveJob) IsAutodeleteEnabled() bool {
	return j.RetentionTime != nil
}

func (j *ArchiveJob) HasArtifact() bool {
	return j.ArtifactRef != nil && *j.ArtifactRef != ""
}

// SettingsMap returns the settings snapshot as a flat map.
func (j *ArchiveJob) SettingsMap() map[string]string {
	out := make(map[string]string, len(j.Settings))
	for _, s := range j.Settings {
		out[s.Key] = s.Value
	}
	return out
}
