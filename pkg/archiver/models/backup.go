package models

import "time"

type BackupStatus string

const (
	BackupPending  BackupStatus = "PENDING"
	BackupFinished BackupStatus = "FINISHED"
	BackupFailed   BackupStatus = "FAILED"
)

type BackupKind string

const (
	BackupKindCourse BackupKind = "course"
	BackupKindQuiz   BackupKind = "quiz"
)

// BackupRecord tracks a host backup requested alongside an archive job. The
// backup itself is produced by the host; this record only mirrors its state.
type BackupRecord struct {
	ID          uint         `gorm:"column:id;primaryKey" json:"-"`
	BackupID    string       `gorm:"column:backupid;uniqueIndex;size:36;not null" json:"backupId"`
	JobID       string       `gorm:"column:jobid;size:36;index;not null" json:"-"`
	Kind        BackupKind   `gorm:"column:kind;size:16" json:"kind"`
	Status      BackupStatus `gorm:"column:status;size:16" json:"status"`
	Filename    string       `gorm:"column:filename;size:255" json:"filename,omitempty"`
	ArtifactRef *string      `gorm:"column:artifact_ref;size:255" json:"-"`
	Checksum    *string      `gorm:"column:checksum;size:64" json:"sha256sum,omitempty"`
	CreatedAt   time.Time    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time    `gorm:"column:updated_at" json:"updatedAt"`
}

func (s BackupStatus) IsValid() bool {
	switch s {
	case BackupPending, BackupFinished, BackupFailed:
		return true
	}
	return false
}
