package archiver

import (
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/handler"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/middleware"
	"github.com/gin-gonic/gin"
	"github.com/loopfz/gadgeto/tonic"
	"github.com/wI2L/fizz"
	"github.com/wI2L/fizz/openapi"
)

var (
	apiVersionHeader = fizz.Header(
		"API-Version",
		"API version of the response",
		"",
	)

	notFoundResponse = fizz.Response(
		"404",
		"Not Found",
		nil,
		nil,
		nil,
	)
)

func NewRouter(apiVersion, jwtSecret string, admin *handler.AdminController, worker *handler.WorkerController) *fizz.Fizz {
	g := gin.Default()
	g.Use(APIVersionMiddleware(apiVersion))
	f := fizz.NewFromEngine(g)

	gen := f.Generator()
	gen.API().Components.Headers["API-Version"] = &openapi.HeaderOrRef{
		Header: &openapi.Header{
			Description: "API version of the response",
			Schema: &openapi.SchemaOrRef{
				Schema: &openapi.Schema{
					Type: "string",
				},
			},
		},
	}

	info := &openapi.Info{
		Title:       "Quiz archiver API v1",
		Description: "Lifecycle of quiz archive jobs and the callbacks of the archive worker",
		Version:     apiVersion,
	}

	root := f.Group("/v1", "API v1", "Quiz archiver V1 routes")

	// Worker callbacks authenticate with the per-job token.
	jobs := root.Group("/jobs", "Worker", "Archive worker callbacks")
	jobs.POST("/:jobid/status",
		[]fizz.OperationOption{
			fizz.ID("updateJobStatus"),
			fizz.Summary("Report the status of an archive job"),
			apiVersionHeader,
		},
		tonic.Handler(worker.UpdateStatus, 200),
	)
	jobs.POST("/:jobid/uploads",
		[]fizz.OperationOption{
			fizz.ID("uploadArtifact"),
			fizz.Summary("Upload a packaged archive to the temporary area"),
			apiVersionHeader,
		},
		tonic.Handler(worker.Upload, 200),
	)
	jobs.POST("/:jobid/artifact",
		[]fizz.OperationOption{
			fizz.ID("notifyArtifactUploaded"),
			fizz.Summary("Bind an uploaded archive to its job"),
			apiVersionHeader,
		},
		tonic.Handler(worker.ArtifactUploaded, 200),
	)
	jobs.GET("/:jobid/backups/:backupid",
		[]fizz.OperationOption{
			fizz.ID("queryBackupStatus"),
			fizz.Summary("Query the status of a requested backup"),
			apiVersionHeader,
		},
		tonic.Handler(worker.BackupStatus, 200),
	)

	read := root.Group("/admin", "Read", "Read archive jobs", middleware.RequireAccess(jwtSecret, middleware.ScopeRead))
	read.GET("/quizzes/:courseid/:cmid/:quizid/jobs",
		[]fizz.OperationOption{
			fizz.ID("listQuizJobs"),
			fizz.Summary("List the archive jobs of a quiz"),
			apiVersionHeader,
		},
		tonic.Handler(admin.ListQuizJobs, 200),
	)
	read.GET("/jobs/:jobid",
		[]fizz.OperationOption{
			fizz.ID("retrieveJob"),
			fizz.Summary("Retrieve an archive job"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(admin.RetrieveJob, 200),
	)
	read.GET("/jobs/:jobid/tsp",
		[]fizz.OperationOption{
			fizz.ID("verifyJobTimestamp"),
			fizz.Summary("Verify the trusted timestamp of an archive job"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(admin.VerifyTsp, 200),
	)

	write := root.Group("/admin", "Write", "Manage archive jobs", middleware.RequireAccess(jwtSecret, middleware.ScopeAdmin))
	write.POST("/jobs",
		[]fizz.OperationOption{
			fizz.ID("createJob"),
			fizz.Summary("Create an archive job"),
			apiVersionHeader,
		},
		tonic.Handler(admin.CreateJob, 201),
	)
	write.POST("/jobs/:jobid/status",
		[]fizz.OperationOption{
			fizz.ID("setJobStatus"),
			fizz.Summary("Change the status of an archive job"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(admin.SetStatus, 200),
	)
	write.DELETE("/jobs/:jobid/artifact",
		[]fizz.OperationOption{
			fizz.ID("deleteJobArtifact"),
			fizz.Summary("Delete the artifact of an archive job"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(admin.DeleteArtifact, 200),
	)
	write.POST("/jobs/:jobid/sign",
		[]fizz.OperationOption{
			fizz.ID("signJob"),
			fizz.Summary("Timestamp the artifact of an archive job"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(admin.SignJob, 201),
	)
	write.PUT("/backups/:backupid",
		[]fizz.OperationOption{
			fizz.ID("updateBackup"),
			fizz.Summary("Record the outcome of a backup"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(admin.UpdateBackup, 200),
	)

	// Binary downloads bypass tonic and the OpenAPI document.
	e := f.Engine()
	e.GET("/v1/admin/jobs/:jobid/artifact", middleware.RequireAccess(jwtSecret, middleware.ScopeRead), admin.DownloadArtifact)
	e.GET("/v1/jobs/:jobid/backups/:backupid/download", worker.DownloadBackup)

	f.GET("/v1/openapi.json", []fizz.OperationOption{}, f.OpenAPI(info, "json"))

	return f
}

type apiVersionWriter struct {
	gin.ResponseWriter
	version string
}

func (w *apiVersionWriter) WriteHeader(code int) {
	if code >= 200 && code < 300 {
		w.Header().Set("API-Version", w.version)
	}
	w.ResponseWriter.WriteHeader(code)
}

func APIVersionMiddleware(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &apiVersionWriter{c.Writer, version}
		c.Next()
	}
}
