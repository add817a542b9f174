// Package classroom talks to the platform's session lifecycle endpoints.
package classroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Client calls the classroom session API. A failed end-session call is the
// caller's to report; it never blocks local teardown.
type Client struct {
	base   string
	client *http.Client
	log    *logrus.Entry
}

func NewClient(base string, log *logrus.Entry) *Client {
	return &Client{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// StartSession registers the beginning of a live class and returns the
// server-assigned session id.
func (c *Client) StartSession(ctx context.Context, classroomID string) (string, error) {
	url := fmt.Sprintf("%s/classroom/%s/session/start", c.base, classroomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("start session: status %d", resp.StatusCode)
	}

	var result struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse start response: %w", err)
	}
	if result.Session.ID == "" {
		return "", fmt.Errorf("start response missing session id")
	}
	return result.Session.ID, nil
}

// EndSession finalizes the class server-side, attaching the recording URL
// when one exists.
func (c *Client) EndSession(ctx context.Context, classroomID, sessionID, recordingURL string) error {
	payload, err := json.Marshal(map[string]string{
		"sessionId":    sessionID,
		"recordingUrl": recordingURL,
	})
	if err != nil {
		return fmt.Errorf("marshal end request: %w", err)
	}

	url := fmt.Sprintf("%s/classroom/%s/session/end", c.base, classroomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build end request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("end session: status %d", resp.StatusCode)
	}
	return nil
}
