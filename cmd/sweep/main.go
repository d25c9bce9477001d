package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/database"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/repositories"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/services"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/artifactstore"
	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/config"
)

// sweep runs the maintenance passes once, for use from an external scheduler.
func main() {
	retention := flag.Bool("retention", true, "delete artifacts whose retention time has passed")
	tempfiles := flag.Bool("tempfiles", true, "remove expired temporary uploads")
	timeouts := flag.Bool("timeouts", true, "move stale jobs to TIMEOUT")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf(".env not loaded: %v", err)
	}

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
	ctx := context.Background()

	failed := false
	run := func(name string, fn func(context.Context) (int, error)) {
		n, err := fn(ctx)
		if err != nil {
			log.Printf("[%s] failed after %d items: %v", name, n, err)
			failed = true
			return
		}
		log.Printf("[%s] done: %d items", name, n)
	}

	if *retention {
		run("retention", services.NewRetentionService(repo, store).DeleteExpiredArtifacts)
	}
	if *tempfiles {
		run("tempfiles", services.NewTempFileService(store).Cleanup)
	}
	if *timeouts {
		svc := services.NewArchiveJobService(repo, store, services.Options{JobTimeout: cfg.JobTimeout})
		run("timeouts", svc.TimeoutStaleJobs)
	}
	if failed {
		os.Exit(1)
	}
}
