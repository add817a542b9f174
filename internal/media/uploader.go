package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPUploader posts recording artifacts to the platform's upload endpoint
// as multipart form data and returns the durable URL from the response.
type HTTPUploader struct {
	url    string
	client *http.Client
	log    *logrus.Entry
}

func NewHTTPUploader(url string, log *logrus.Entry) *HTTPUploader {
	return &HTTPUploader{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Minute},
		log:    log,
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read recording: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return result.URL, nil
}
