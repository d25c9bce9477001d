package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/filenamepattern"
	"github.com/robfig/cron/v3"
)

const (
	DefaultArchiveFilenamePattern = "quiz-archive-${courseshortname}-${courseid}-${quizname}-${quizid}_${date}-${time}"
	DefaultAttemptFilenamePattern = "attempt-${attemptid}-${username}_${date}-${time}"
)

type Database struct {
	Driver     string
	Host       string
	User       string
	Password   string
	Name       string
	Schema     string
	SQLitePath string
	LogLevel   string
}

type Worker struct {
	URL    string
	APIKey string
}

type TSP struct {
	Enabled   bool
	ServerURL string
	Autosign  bool
	Timeout   time.Duration
}

// Config is the validated runtime configuration.
type Config struct {
	ListenAddr    string
	PublicBaseURL string
	ArtifactDir   string
	JWTSecret     string

	UploadTTL        time.Duration
	JobTimeout       time.Duration
	DefaultRetention *time.Duration

	RetentionSchedule string
	TempFileSchedule  string
	TimeoutSchedule   string

	ArchiveFilenamePattern string
	AttemptFilenamePattern string

	Database Database
	Worker   Worker
	TSP      TSP
}

// Load reads the configuration from the environment. Call godotenv.Load first
// to pick up a .env file.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:             env("LISTEN_ADDR", ":1337"),
		PublicBaseURL:          env("PUBLIC_BASE_URL", ""),
		ArtifactDir:            env("ARTIFACT_DIR", "./data"),
		JWTSecret:              env("JWT_SECRET", ""),
		RetentionSchedule:      env("RETENTION_SCHEDULE", "@daily"),
		TempFileSchedule:       env("TEMPFILE_SCHEDULE", "@daily"),
		TimeoutSchedule:        env("TIMEOUT_SCHEDULE", "@every 5m"),
		ArchiveFilenamePattern: env("ARCHIVE_FILENAME_PATTERN", DefaultArchiveFilenamePattern),
		AttemptFilenamePattern: env("ATTEMPT_FILENAME_PATTERN", DefaultAttemptFilenamePattern),
		Database: Database{
			Driver:     env("DB_DRIVER", "postgres"),
			Host:       env("DB_HOSTNAME", ""),
			User:       env("DB_USERNAME", ""),
			Password:   os.Getenv("DB_PASSWORD"),
			Name:       env("DB_DBNAME", ""),
			Schema:     env("DB_SCHEMA", ""),
			SQLitePath: env("SQLITE_PATH", "archiver.db"),
			LogLevel:   env("DB_LOG_LEVEL", "warn"),
		},
		Worker: Worker{
			URL:    env("WORKER_URL", ""),
			APIKey: env("WORKER_API_KEY", ""),
		},
		TSP: TSP{
			ServerURL: env("TSP_SERVER_URL", ""),
		},
	}

	var err error
	if cfg.UploadTTL, err = minutes("UPLOAD_TTL_MINUTES", 24*60); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = minutes("JOB_TIMEOUT_MINUTES", 120); err != nil {
		return nil, err
	}
	if raw := env("JOB_RETENTION_SECONDS", ""); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("JOB_RETENTION_SECONDS must be a positive integer, got %q", raw)
		}
		d := time.Duration(secs) * time.Second
		cfg.DefaultRetention = &d
	}
	if cfg.TSP.Enabled, err = boolean("TSP_ENABLED"); err != nil {
		return nil, err
	}
	if cfg.TSP.Autosign, err = boolean("TSP_AUTOSIGN"); err != nil {
		return nil, err
	}
	timeout, err := strconv.Atoi(env("TSP_TIMEOUT_SECONDS", "30"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("TSP_TIMEOUT_SECONDS must be a positive integer")
	}
	cfg.TSP.Timeout = time.Duration(timeout) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			return fmt.Errorf("missing DB env vars; need DB_HOSTNAME, DB_USERNAME, DB_DBNAME")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	for name, spec := range map[string]string{
		"RETENTION_SCHEDULE": c.RetentionSchedule,
		"TEMPFILE_SCHEDULE":  c.TempFileSchedule,
		"TIMEOUT_SCHEDULE":   c.TimeoutSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := filenamepattern.ValidateKind(filenamepattern.KindArchive, c.ArchiveFilenamePattern); err != nil {
		return fmt.Errorf("ARCHIVE_FILENAME_PATTERN: %w", err)
	}
	if err := filenamepattern.ValidateKind(filenamepattern.KindAttempt, c.AttemptFilenamePattern); err != nil {
		return fmt.Errorf("ATTEMPT_FILENAME_PATTERN: %w", err)
	}
	if c.Worker.URL != "" {
		if _, err := url.ParseRequestURI(c.Worker.URL); err != nil {
			return fmt.Errorf("invalid WORKER_URL: %w", err)
		}
	}
	if c.TSP.Enabled {
		if _, err := url.ParseRequestURI(c.TSP.ServerURL); err != nil {
			return fmt.Errorf("TSP_ENABLED requires a valid TSP_SERVER_URL: %w", err)
		}
	}
	return nil
}

// DSN builds the postgres connection string.
func (d Database) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   d.Host,
		Path:   d.Name,
	}
	if !strings.Contains(d.Host, ":") {
		u.Host = d.Host + ":5432"
	}
	u.User = url.UserPassword(d.User, d.Password)

	q := u.Query()
	if d.Schema != "" {
		q.Set("search_path", d.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func minutes(key string, def int) (time.Duration, error) {
	raw := env(key, strconv.Itoa(def))
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return time.Duration(v) * time.Minute, nil
}

func boolean(key string) (bool, error) {
	raw := env(key, "false")
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, raw)
	}
	return v, nil
}
