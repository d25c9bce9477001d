package handler

import (
	"fmt"
	"net/http"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/problem"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/util"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/middleware"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/services"
	"github.com/gin-gonic/gin"
)

// AdminController binds the administrative HTTP API to the ArchiveJobService.
type AdminController struct {
	Service *services.ArchiveJobService
}

func NewAdminController(s *services.ArchiveJobService) *AdminController {
	return &AdminController{Service: s}
}

// CreateJob handles POST /admin/jobs
func (c *AdminController) CreateJob(ctx *gin.Context, body *models.CreateJobInput) (*models.JobDetail, error) {
	job, err := c.Service.CreateJob(ctx.Request.Context(), middleware.CallerFrom(ctx), body)
	if err != nil {
		return nil, toProblem(err, "body")
	}
	return util.ToJobDetail(job), nil
}

// ListQuizJobs handles GET /admin/quizzes/:courseid/:cmid/:quizid/jobs
func (c *AdminController) ListQuizJobs(ctx *gin.Context, params *models.QuizJobsParams) ([]models.JobSummary, error) {
	jobs, err := c.Service.ListJobs(ctx.Request.Context(), middleware.CallerFrom(ctx), params.CourseID, params.CmID, params.QuizID)
	if err != nil {
		return nil, toProblem(err, params.QuizID)
	}
	ctx.Header("X-Total-Count", fmt.Sprintf("%d", len(jobs)))
	return util.ToJobSummaries(jobs), nil
}

// RetrieveJob handles GET /admin/jobs/:jobid
func (c *AdminController) RetrieveJob(ctx *gin.Context, params *models.JobParams) (*models.JobDetail, error) {
	job, err := c.Service.GetJob(ctx.Request.Context(), middleware.CallerFrom(ctx), params.JobID)
	if err != nil {
		return nil, toProblem(err, params.JobID)
	}
	return util.ToJobDetail(job), nil
}

// SetStatus handles POST /admin/jobs/:jobid/status
func (c *AdminController) SetStatus(ctx *gin.Context, body *models.AdminStatusInput) (*models.JobSummary, error) {
	if !body.Status.IsValid() {
		return nil, problem.NewBadRequest("body", "Unknown status",
			problem.InvalidParam{Name: "status", Reason: fmt.Sprintf("%q is not a job status", body.Status)},
		)
	}
	job, err := c.Service.SetStatus(ctx.Request.Context(), middleware.CallerFrom(ctx), body.JobID, body.Status, body.StatusExtras)
	if err != nil {
		return nil, toProblem(err, body.JobID)
	}
	summary := util.ToJobSummary(job)
	return &summary, nil
}

// DeleteArtifact handles DELETE /admin/jobs/:jobid/artifact
func (c *AdminController) DeleteArtifact(ctx *gin.Context, params *models.JobParams) (*models.DeleteResult, error) {
	deleted, err := c.Service.DeleteArtifact(ctx.Request.Context(), middleware.CallerFrom(ctx), params.JobID)
	if err != nil {
		return nil, toProblem(err, params.JobID)
	}
	return &models.DeleteResult{Deleted: deleted}, nil
}

// SignJob handles POST /admin/jobs/:jobid/sign
func (c *AdminController) SignJob(ctx *gin.Context, params *models.JobParams) (*models.TspRecord, error) {
	rec, err := c.Service.SignJob(ctx.Request.Context(), middleware.CallerFrom(ctx), params.JobID)
	if err != nil {
		return nil, toProblem(err, params.JobID)
	}
	return rec, nil
}

// VerifyTsp handles GET /admin/jobs/:jobid/tsp
func (c *AdminController) VerifyTsp(ctx *gin.Context, params *models.JobParams) (*models.TspVerification, error) {
	rec, at, err := c.Service.VerifySignature(ctx.Request.Context(), middleware.CallerFrom(ctx), params.JobID)
	if err != nil {
		return nil, toProblem(err, params.JobID)
	}
	return &models.TspVerification{Server: rec.ServerIdentity, CreatedAt: rec.CreatedAt, Time: at}, nil
}

// UpdateBackup handles PUT /admin/backups/:backupid
func (c *AdminController) UpdateBackup(ctx *gin.Context, body *models.BackupUpdateInput) (*models.BackupRecord, error) {
	rec, err := c.Service.MarkBackupStatus(ctx.Request.Context(), middleware.CallerFrom(ctx), body)
	if err != nil {
		return nil, toProblem(err, body.BackupID)
	}
	return rec, nil
}

// DownloadArtifact handles GET /admin/jobs/:jobid/artifact. It streams raw
// bytes and is therefore a plain gin handler.
func (c *AdminController) DownloadArtifact(ctx *gin.Context) {
	jobid := ctx.Param("jobid")
	art, err := c.Service.GetArtifact(ctx.Request.Context(), middleware.CallerFrom(ctx), jobid)
	if err != nil {
		abortWithProblem(ctx, toProblem(err, jobid))
		return
	}
	if art == nil {
		abortWithProblem(ctx, problem.NewNotFound(jobid, "Archive job has no artifact"))
		return
	}
	sendArtifact(ctx, art)
}

func sendArtifact(ctx *gin.Context, art *services.Artifact) {
	contentType := art.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.Header("X-Checksum-Sha256", art.Checksum)
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	ctx.Data(http.StatusOK, contentType, art.Data)
}

func abortWithProblem(ctx *gin.Context, err error) {
	status, body := ErrorHook(ctx, err)
	ctx.AbortWithStatusJSON(status, body)
}
