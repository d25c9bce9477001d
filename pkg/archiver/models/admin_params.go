package models

import (
	"encoding/json"
	"time"
)

type AttemptRef struct {
	UserID    string `json:"userId" binding:"required"`
	AttemptID string `json:"attemptId" binding:"required"`
}

// CreateJobInput is the body of POST /admin/jobs.
type CreateJobInput struct {
	CourseID string       `json:"courseId" binding:"required"`
	CmID     string       `json:"cmId" binding:"required"`
	QuizID   string       `json:"quizId" binding:"required"`
	Attempts []AttemptRef `json:"attempts" binding:"dive"`
	Settings JobSettings  `json:"settings"`
}

type JobParams struct {
	JobID string `path:"jobid"`
}

type QuizJobsParams struct {
	CourseID string `path:"courseid"`
	CmID     string `path:"cmid"`
	QuizID   string `path:"quizid"`
}

type AdminStatusInput struct {
	JobID        string          `path:"jobid"`
	Status       Status          `json:"status" binding:"required"`
	StatusExtras json.RawMessage `json:"statusextras,omitempty"`
}

// BackupUpdateInput lets the host report progress of a backup it produces.
type BackupUpdateInput struct {
	BackupID string       `path:"backupid"`
	Status   BackupStatus `json:"status" binding:"required"`
	Filename string       `json:"filename,omitempty"`
	Content  []byte       `json:"content,omitempty"`
}

// JobSummary is the external view of an archive job.
type JobSummary struct {
	JobID          string          `json:"jobid"`
	CourseID       string          `json:"courseId"`
	CmID           string          `json:"cmId"`
	QuizID         string          `json:"quizId"`
	OwnerID        string          `json:"ownerId"`
	Status         Status          `json:"status"`
	StatusExtras   json.RawMessage `json:"statusextras,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	RetentionTime  *time.Time      `json:"retentionTime,omitempty"`
	Autodelete     bool            `json:"autodelete"`
	HasArtifact    bool            `json:"hasArtifact"`
	ArtifactSha256 string          `json:"artifactSha256,omitempty"`
	Signed         bool            `json:"signed"`
	Links          *Links          `json:"_links,omitempty"`
}

// JobDetail adds the manifest, settings snapshot and related records.
type JobDetail struct {
	JobSummary
	Attempts []ArchiveJobAttempt `json:"attempts"`
	Settings map[string]string   `json:"settings"`
	Tsp      *TspRecord          `json:"tsp,omitempty"`
	Backups  []BackupRecord      `json:"backups,omitempty"`
}

// Link represents a hypermedia link
type Link struct {
	Href string `json:"href"`
}

type Links struct {
	Self     *Link `json:"self"`
	Artifact *Link `json:"artifact,omitempty"`
}

// TspVerification is the result of re-checking a stored timestamp.
type TspVerification struct {
	Server    string    `json:"server"`
	CreatedAt time.Time `json:"createdAt"`
	Time      time.Time `json:"time"`
}

// DeleteResult reports whether a delete call removed anything.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}
