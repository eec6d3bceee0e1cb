// Package tasks files F1 summary tasks with their workbook attachment in an
// Asana-compatible task tracker.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"listing_f1s/internal/retry"

	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://app.asana.com/api/1.0"

// Sink is the narrow task-tracker surface the publisher needs.
type Sink interface {
	ExistingTitles(ctx context.Context, projectID string) ([]string, error)
	CreateTask(ctx context.Context, task NewTask) (string, error)
	AddToSection(ctx context.Context, sectionID, taskID string) error
	Attach(ctx context.Context, taskID, name, contentType string, data []byte) error
}

type NewTask struct {
	ProjectIDs []string `json:"projects"`
	Name       string   `json:"name"`
	HTMLNotes  string   `json:"html_notes,omitempty"`
	TagIDs     []string `json:"tags,omitempty"`
}

type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("task API %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return !errors.Is(err, context.Canceled)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      retry.Config
}

func NewClient(baseURL, token string, cfg retry.Config) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg.Retryable = retryable
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: cfg,
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type taskRef struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

type page struct {
	Data     []taskRef `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

// ExistingTitles lists the names of every task in a project.
func (c *Client) ExistingTitles(ctx context.Context, projectID string) ([]string, error) {
	var titles []string
	offset := ""
	for {
		q := url.Values{"opt_fields": {"name"}, "limit": {"100"}}
		if offset != "" {
			q.Set("offset", offset)
		}
		path := fmt.Sprintf("/projects/%s/tasks?%s", url.PathEscape(projectID), q.Encode())

		body, err := c.do(ctx, "list tasks", http.MethodGet, path, "", nil)
		if err != nil {
			return nil, err
		}
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode task list: %w", err)
		}
		for _, t := range p.Data {
			titles = append(titles, t.Name)
		}
		if p.NextPage == nil || p.NextPage.Offset == "" {
			break
		}
		offset = p.NextPage.Offset
	}
	log.Debug().Str("project", projectID).Int("tasks", len(titles)).Msg("Listed existing tasks")
	return titles, nil
}

func (c *Client) CreateTask(ctx context.Context, task NewTask) (string, error) {
	payload, err := json.Marshal(map[string]NewTask{"data": task})
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}
	body, err := c.do(ctx, "create task", http.MethodPost, "/tasks", "application/json", payload)
	if err != nil {
		return "", err
	}
	var env envelope
	var ref taskRef
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("failed to decode created task: %w", err)
	}
	if err := json.Unmarshal(env.Data, &ref); err != nil || ref.GID == "" {
		return "", fmt.Errorf("created task response has no gid: %s", string(body))
	}
	return ref.GID, nil
}

func (c *Client) AddToSection(ctx context.Context, sectionID, taskID string) error {
	payload, err := json.Marshal(map[string]map[string]string{"data": {"task": taskID}})
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/sections/%s/addTask", url.PathEscape(sectionID))
	_, err = c.do(ctx, "add to section", http.MethodPost, path, "application/json", payload)
	return err
}

// Attach uploads data as a multipart "file" field.
func (c *Client) Attach(ctx context.Context, taskID, name, contentType string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish attachment: %w", err)
	}

	path := fmt.Sprintf("/tasks/%s/attachments", url.PathEscape(taskID))
	_, err = c.do(ctx, "attach", http.MethodPost, path, mw.FormDataContentType(), buf.Bytes())
	return err
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, payload []byte) ([]byte, error) {
	return retry.WithRetry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to make request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		log.Debug().Str("op", op).Int("status_code", resp.StatusCode).Msg("Task API response")

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if len(respBody) > 512 {
				respBody = respBody[:512]
			}
			return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		return respBody, nil
	})
}
