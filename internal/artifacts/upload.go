package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File is one result file to upload.
type File struct {
	JobID     string
	LocalPath string
	Key       string
}

// Uploader sends result files to remote storage.
type Uploader interface {
	Upload(ctx context.Context, f File) error
}

// NopUploader discards uploads.
type NopUploader struct{}

func (NopUploader) Upload(context.Context, File) error { return nil }

// HTTPUploader posts files to the robot server using the agent's API key.
type HTTPUploader struct {
	ServerURL  string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPUploader creates an uploader for the given server.
func NewHTTPUploader(serverURL, apiKey string) *HTTPUploader {
	return &HTTPUploader{
		ServerURL: strings.TrimSuffix(serverURL, "/"),
		APIKey:    apiKey,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Upload sends POST /api/v1/jobs/{job_id}/files as multipart form data with
// the storage key and the file contents.
func (u *HTTPUploader) Upload(ctx context.Context, f File) error {
	file, err := os.Open(f.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.LocalPath, err)
	}
	defer file.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("key", f.Key); err != nil {
		return fmt.Errorf("failed to write key field: %w", err)
	}
	if err := w.WriteField("job_id", f.JobID); err != nil {
		return fmt.Errorf("failed to write job_id field: %w", err)
	}
	part, err := w.CreateFormFile("file", filepath.Base(f.LocalPath))
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/jobs/%s/files", u.ServerURL, url.PathEscape(f.JobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", u.APIKey))

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload of %s returned status %d: %s", f.Key, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
