package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/database"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/handler"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/helpers/worker"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/services"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/config"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/jobs"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/tsp"
	"github.com/joho/godotenv"
	"github.com/loopfz/gadgeto/tonic"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

func init() {
	tonic.SetErrorHook(handler.ErrorHook)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	store, err := artifactstore.NewFSStore(cfg.ArtifactDir)
	if err != nil {
		log.Fatalf("artifact store unavailable: %v", err)
	}

	repo := repositories.NewArchiveJobRepository(db)
	svc := services.NewArchiveJobService(repo, store, services.Options{
		PublicBaseURL:          cfg.PublicBaseURL,
		UploadTTL:              cfg.UploadTTL,
		JobTimeout:             cfg.JobTimeout,
		DefaultRetention:       cfg.DefaultRetention,
		ArchiveFilenamePattern: cfg.ArchiveFilenamePattern,
		AttemptFilenamePattern: cfg.AttemptFilenamePattern,
		Autosign:               cfg.TSP.Autosign,
	})
	if cfg.TSP.Enabled {
		svc.WithSigner(tsp.New(cfg.TSP.ServerURL, cfg.TSP.Timeout))
		log.Printf("[tsp] timestamping via %s (autosign=%t)", cfg.TSP.ServerURL, cfg.TSP.Autosign)
	}
	if cfg.Worker.URL != "" {
		svc.WithWorker(worker.New(cfg.Worker.URL, cfg.Worker.APIKey, 30*time.Second))
		log.Printf("[worker] submitting jobs to %s", cfg.Worker.URL)
	} else {
		log.Println("[WARN] WORKER_URL not set; jobs stay UNINITIALIZED until a worker reports")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retention := services.NewRetentionService(repo, store)
	tempfiles := services.NewTempFileService(store)
	if _, err := jobs.ScheduleMaintenance(ctx, jobs.Schedules{
		Retention: cfg.RetentionSchedule,
		TempFiles: cfg.TempFileSchedule,
		Timeouts:  cfg.TimeoutSchedule,
	}, jobs.Tasks{
		Retention: retention.DeleteExpiredArtifacts,
		TempFiles: tempfiles.Cleanup,
		Timeouts:  svc.TimeoutStaleJobs,
	}); err != nil {
		log.Fatalf("scheduling maintenance failed: %v", err)
	}

	router := archiver.NewRouter(version, cfg.JWTSecret, handler.NewAdminController(svc), handler.NewWorkerController(svc))
	if cfg.JWTSecret == "" {
		log.Println("[WARN] JWT_SECRET not set; admin tokens are not signature checked")
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Server is running on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
