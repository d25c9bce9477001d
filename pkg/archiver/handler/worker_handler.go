package handler

import (
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/problem"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/services"
	"github.com/gin-gonic/gin"
)

// WorkerController serves the callbacks of the archive worker. Business
// outcomes travel in the status field of a 200 response; only faults become
// problem responses.
type WorkerController struct {
	Service *services.ArchiveJobService
}

func NewWorkerController(s *services.ArchiveJobService) *WorkerController {
	return &WorkerController{Service: s}
}

// UpdateStatus handles POST /jobs/:jobid/status
func (c *WorkerController) UpdateStatus(ctx *gin.Context, body *models.UpdateStatusInput) (*models.StatusResponse, error) {
	code, err := c.Service.UpdateStatus(ctx.Request.Context(), body)
	if err != nil {
		return nil, err
	}
	return &models.StatusResponse{Status: code}, nil
}

// Upload handles POST /jobs/:jobid/uploads
func (c *WorkerController) Upload(ctx *gin.Context, body *models.UploadInput) (*models.UploadResponse, error) {
	return c.Service.StoreUpload(ctx.Request.Context(), body)
}

// ArtifactUploaded handles POST /jobs/:jobid/artifact
func (c *WorkerController) ArtifactUploaded(ctx *gin.Context, body *models.ArtifactUploadedInput) (*models.StatusResponse, error) {
	code, err := c.Service.ProcessUploadedArtifact(ctx.Request.Context(), body)
	if err != nil {
		return nil, err
	}
	return &models.StatusResponse{Status: code}, nil
}

// BackupStatus handles GET /jobs/:jobid/backups/:backupid
func (c *WorkerController) BackupStatus(ctx *gin.Context, params *models.BackupStatusInput) (*models.BackupStatusResponse, error) {
	return c.Service.QueryBackupStatus(ctx.Request.Context(), params)
}

// DownloadBackup handles GET /jobs/:jobid/backups/:backupid/download
func (c *WorkerController) DownloadBackup(ctx *gin.Context) {
	in := &models.BackupStatusInput{
		JobID:         ctx.Param("jobid"),
		BackupID:      ctx.Param("backupid"),
		WSToken:       ctx.Query("wstoken"),
		Authorization: ctx.GetHeader("Authorization"),
	}
	art, err := c.Service.GetBackupFile(ctx.Request.Context(), in)
	if err != nil {
		abortWithProblem(ctx, toProblem(err, in.BackupID))
		return
	}
	if art == nil {
		abortWithProblem(ctx, problem.NewNotFound(in.BackupID, "Backup file not found"))
		return
	}
	sendArtifact(ctx, art)
}
