package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/developer-overheid-nl/don-quiz-archiver/pkg/archiver/models"
)

const apiVersion = 1

var ErrNotConfigured = errors.New("archive worker url not configured")

type BackupRef struct {
	BackupID string            `json:"backupid"`
	Kind     models.BackupKind `json:"kind"`
}

// SubmitRequest hands a new job to the archive worker. The worker calls back
// on CallbackURL with WSToken.
type SubmitRequest struct {
	APIVersion  int                 `json:"api_version"`
	CallbackURL string              `json:"callback_url"`
	JobID       string              `json:"jobid"`
	WSToken     string              `json:"wstoken"`
	CourseID    string              `json:"courseid"`
	CmID        string              `json:"cmid"`
	QuizID      string              `json:"quizid"`
	Attempts    []models.AttemptRef `json:"attempts"`
	Settings    models.JobSettings  `json:"task_settings"`
	Backups     []BackupRef         `json:"backups,omitempty"`
}

type SubmitResponse struct {
	JobID  string        `json:"jobid"`
	Status models.Status `json:"status"`
}

// Client submits jobs to the archive worker.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimSpace(baseURL),
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) buildURL(endpoint string) (*url.URL, error) {
	if c.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	pu, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_URL: %w", err)
	}
	pu.Path = path.Join(pu.Path, endpoint)
	return pu, nil
}

// Submit posts the job and returns the status the worker accepted it with.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	req.APIVersion = apiVersion
	data, err := c.doJSONRequest(ctx, "archive", req)
	if err != nil {
		return nil, err
	}
	var out SubmitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid worker response: %w", err)
	}
	if out.JobID != "" && out.JobID != req.JobID {
		return nil, fmt.Errorf("worker answered for job %s, expected %s", out.JobID, req.JobID)
	}
	if !out.Status.IsValid() {
		return nil, fmt.Errorf("worker returned unknown status %q", out.Status)
	}
	return &out, nil
}

func (c *Client) doJSONRequest(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	pu, err := c.buildURL(endpoint)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pu.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-api-key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("worker %s request failed: %s body=%s", endpoint, resp.Status, string(data))
	}
	return data, nil
}
