package util

import (
	"fmt"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
)

func ToJobSummary(job *models.ArchiveJob) models.JobSummary {
	summary := models.JobSummary{
		JobID:         job.JobID,
		CourseID:      job.CourseRef,
		CmID:          job.ModuleRef,
		QuizID:        job.QuizRef,
		OwnerID:       job.OwnerRef,
		Status:        job.Status,
		StatusExtras:  job.Extras(),
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		RetentionTime: job.RetentionTime,
		Autodelete:    job.IsAutodeleteEnabled(),
		HasArtifact:   job.HasArtifact(),
		Signed:        job.Tsp != nil,
		Links: &models.Links{
			Self: &models.Link{Href: fmt.Sprintf("/v1/admin/jobs/%s", job.JobID)},
		},
	}
	if job.HasArtifact() {
		if job.ArtifactChecksum != nil {
			summary.ArtifactSha256 = *job.ArtifactChecksum
		}
		summary.Links.Artifact = &models.Link{Href: fmt.Sprintf("/v1/admin/jobs/%s/artifact", job.JobID)}
	}
	return summary
}

func ToJobDetail(job *models.ArchiveJob) *models.JobDetail {
	attempts := job.Attempts
	if attempts == nil {
		attempts = []models.ArchiveJobAttempt{}
	}
	return &models.JobDetail{
		JobSummary: ToJobSummary(job),
		Attempts:   attempts,
		Settings:   job.SettingsMap(),
		Tsp:        job.Tsp,
		Backups:    job.Backups,
	}
}

func ToJobSummaries(jobs []models.ArchiveJob) []models.JobSummary {
	out := make([]models.JobSummary, 0, len(jobs))
	for i := range jobs {
		out = append(out, ToJobSummary(&jobs[i]))
	}
	return out
}
