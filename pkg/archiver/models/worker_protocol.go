package models

import (
	"encoding/json"
	"strings"
)

// ResultCode is returned to the archive worker in the "status" field.
type ResultCode string

const (
	ResultOK                       ResultCode = "OK"
	ResultSuccess                  ResultCode = "SUCCESS"
	ResultAccessDenied             ResultCode = "E_ACCESS_DENIED"
	ResultJobAlreadyCompleted      ResultCode = "E_JOB_ALREADY_COMPLETED"
	ResultUpdateFailed             ResultCode = "E_UPDATE_FAILED"
	ResultJobNotFound              ResultCode = "E_JOB_NOT_FOUND"
	ResultNoArtifactUploadExpected ResultCode = "E_NO_ARTIFACT_UPLOAD_EXPECTED"
	ResultUploadedArtifactNotFound ResultCode = "E_UPLOADED_ARTIFACT_NOT_FOUND"
	ResultArtifactChecksumInvalid  ResultCode = "E_ARTIFACT_CHECKSUM_INVALID"
	ResultBackupFailed             ResultCode = "E_BACKUP_FAILED"
	ResultBackupPending            ResultCode = "E_BACKUP_PENDING"
	ResultBackupNotFound           ResultCode = "E_BACKUP_NOT_FOUND"
	ResultInvalidUpload            ResultCode = "E_INVALID_UPLOAD"
)

// workerToken returns the job token, taken from the body/query field or from
// a bearer Authorization header.
func workerToken(wstoken, authorization string) string {
	if wstoken != "" {
		return wstoken
	}
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimPrefix(authorization, "Bearer ")
	}
	return ""
}

type UpdateStatusInput struct {
	JobID         string          `path:"jobid"`
	Authorization string          `header:"Authorization" json:"-"`
	WSToken       string          `json:"wstoken,omitempty"`
	Status        Status          `json:"status" binding:"required"`
	StatusExtras  json.RawMessage `json:"statusextras,omitempty"`
}

func (in UpdateStatusInput) Token() string { return workerToken(in.WSToken, in.Authorization) }

type UploadInput struct {
	JobID         string `path:"jobid"`
	Authorization string `header:"Authorization" json:"-"`
	WSToken       string `json:"wstoken,omitempty"`
	Filename      string `json:"filename" binding:"required"`
	Content       []byte `json:"content" binding:"required"`
}

func (in UploadInput) Token() string { return workerToken(in.WSToken, in.Authorization) }

// ArtifactDescriptor points at an upload in the temporary area.
type ArtifactDescriptor struct {
	Ref string `json:"ref" binding:"required"`
}

type ArtifactUploadedInput struct {
	JobID         string             `path:"jobid"`
	Authorization string             `header:"Authorization" json:"-"`
	WSToken       string             `json:"wstoken,omitempty"`
	Artifact      ArtifactDescriptor `json:"artifact" binding:"required"`
	Sha256Sum     string             `json:"sha256sum" binding:"required"`
}

func (in ArtifactUploadedInput) Token() string { return workerToken(in.WSToken, in.Authorization) }

type BackupStatusInput struct {
	JobID         string `path:"jobid"`
	BackupID      string `path:"backupid"`
	WSToken       string `query:"wstoken"`
	Authorization string `header:"Authorization"`
}

func (in BackupStatusInput) Token() string { return workerToken(in.WSToken, in.Authorization) }

type StatusResponse struct {
	Status ResultCode `json:"status"`
}

type UploadResponse struct {
	Status ResultCode `json:"status"`
	Ref    string     `json:"ref,omitempty"`
}

type BackupStatusResponse struct {
	Status ResultCode        `json:"status"`
	Backup *BackupDescriptor `json:"backup,omitempty"`
}

type BackupDescriptor struct {
	BackupID    string `json:"backupId"`
	Filename    string `json:"filename"`
	Sha256Sum   string `json:"sha256sum,omitempty"`
	DownloadURL string `json:"downloadUrl"`
}
