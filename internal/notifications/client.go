package notifications

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
	maxNoticesShown  = 10
)

// Client posts plain-text messages to an ntfy topic.
type Client struct {
	httpClient *http.Client
	baseURL    string
	topic      string
	enabled    bool
	priority   string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	// Circuit breaker state
	failures    int
	lastFailure time.Time
	circuitOpen bool
	mutex       sync.Mutex
	// Metrics
	totalSent    int64
	totalFailed  int64
	totalRetries int64
}

// RunSummary describes one enrichment run.
type RunSummary struct {
	Marketplace string
	Stage       string
	// Complete is set when every stage ran for every sheet.
	Complete    bool
	Listed      int
	Retained    int
	Sheets      int
	NewCodes    int
	Tasks       int
	OutputURI   string
	Notices     []string
}

type NotificationError struct {
	Type       string
	StatusCode int
	Attempt    int
	Underlying error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification failed [%s] attempt %d: %v", e.Type, e.Attempt, e.Underlying)
}

func (e *NotificationError) Unwrap() error { return e.Underlying }

func (e *NotificationError) IsRetryable() bool {
	switch e.Type {
	case "network", "server", "timeout", "rate_limit":
		return true
	case "auth", "client", "circuit_open":
		return false
	default:
		return e.StatusCode >= 500
	}
}

func NewClient(baseURL, topic string, enabled bool, priority string, maxRetries int, baseDelay, maxDelay time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		topic:      topic,
		enabled:    enabled,
		priority:   priority,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// NotifyRun sends the end-of-run summary. Incomplete runs and runs with
// notices go out at high priority.
func (c *Client) NotifyRun(ctx context.Context, summary RunSummary) error {
	if !c.enabled {
		return nil
	}
	priority := c.priority
	if !summary.Complete || len(summary.Notices) > 0 {
		priority = "high"
	}
	log.Info().
		Str("marketplace", summary.Marketplace).
		Int("notices", len(summary.Notices)).
		Msg("Sending run summary notification")
	return c.send(ctx, FormatSummary(summary), priority)
}

// FormatSummary renders a summary as a short multi-line message.
func FormatSummary(s RunSummary) string {
	var sb strings.Builder
	if s.Complete {
		sb.WriteString(fmt.Sprintf("F1 run for %s complete\n", s.Marketplace))
	} else {
		sb.WriteString(fmt.Sprintf("F1 run for %s reached %s\n", s.Marketplace, s.Stage))
	}
	sb.WriteString(fmt.Sprintf("%d of %d listing rows retained across %d sheets\n", s.Retained, s.Listed, s.Sheets))
	if s.NewCodes > 0 {
		sb.WriteString(fmt.Sprintf("%d SKUs need a new code\n", s.NewCodes))
	}
	if s.Tasks > 0 {
		sb.WriteString(fmt.Sprintf("%d tasks created\n", s.Tasks))
	}
	if s.OutputURI != "" {
		sb.WriteString(fmt.Sprintf("Workbook: %s\n", s.OutputURI))
	}

	shown := len(s.Notices)
	if shown > maxNoticesShown {
		shown = maxNoticesShown
	}
	for _, n := range s.Notices[:shown] {
		sb.WriteString(fmt.Sprintf("! %s\n", n))
	}
	if len(s.Notices) > shown {
		sb.WriteString(fmt.Sprintf("... and %d more notices\n", len(s.Notices)-shown))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// SendNotification posts message at the configured priority.
func (c *Client) SendNotification(ctx context.Context, message string) error {
	if !c.enabled {
		log.Debug().Msg("Notifications disabled, skipping")
		return nil
	}
	return c.send(ctx, message, c.priority)
}

func (c *Client) send(ctx context.Context, message, priority string) error {
	if c.isCircuitOpen() {
		log.Warn().Msg("Circuit breaker open, skipping notification")
		return &NotificationError{
			Type:       "circuit_open",
			Underlying: fmt.Errorf("circuit breaker is open"),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			log.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying notification after delay")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.incrementRetries()
		}

		err := c.sendSingleNotification(ctx, message, priority, attempt+1)
		if err == nil {
			c.recordSuccess()
			return nil
		}
		lastErr = err

		if notifErr, ok := err.(*NotificationError); ok && !notifErr.IsRetryable() {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Msg("Non-retryable error, giving up")
			c.recordFailure()
			return err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Msg("Notification attempt failed")
	}

	c.recordFailure()
	return &NotificationError{
		Type:       "max_retries_exceeded",
		Attempt:    c.maxRetries + 1,
		Underlying: lastErr,
	}
}

func (c *Client) sendSingleNotification(ctx context.Context, message, priority string, attempt int) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, c.topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(message))
	if err != nil {
		return &NotificationError{Type: "client", Attempt: attempt, Underlying: err}
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "Listing F1s")
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotificationError{Type: "network", Attempt: attempt, Underlying: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &NotificationError{
			Type:       categorizeHTTPError(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Attempt:    attempt,
			Underlying: fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	log.Debug().
		Int("status_code", resp.StatusCode).
		Int("attempt", attempt).
		Msg("Notification sent successfully")
	return nil
}

func (c *Client) isCircuitOpen() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.circuitOpen && time.Since(c.lastFailure) > breakerCooldown {
		c.circuitOpen = false
		c.failures = 0
		log.Info().Msg("Circuit breaker moving to half-open state")
	}
	return c.circuitOpen
}

func (c *Client) recordSuccess() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalSent++
	c.failures = 0
	if c.circuitOpen {
		c.circuitOpen = false
		log.Info().Msg("Circuit breaker closed after successful notification")
	}
}

func (c *Client) recordFailure() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalFailed++
	c.failures++
	c.lastFailure = time.Now()

	if c.failures >= breakerThreshold && !c.circuitOpen {
		c.circuitOpen = true
		log.Warn().
			Int("failures", c.failures).
			Msg("Circuit breaker opened due to consecutive failures")
	}
}

func (c *Client) incrementRetries() {
	c.mutex.Lock()
	c.totalRetries++
	c.mutex.Unlock()
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))

	// +/-25% jitter
	jitter := rand.Float64()*0.5 - 0.25
	backoff = backoff * (1 + jitter)

	if maxBackoff := float64(c.maxDelay); backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Duration(backoff)
}

func categorizeHTTPError(statusCode int) string {
	switch {
	case statusCode == 401 || statusCode == 403:
		return "auth"
	case statusCode == 429:
		return "rate_limit"
	case statusCode >= 400 && statusCode < 500:
		return "client"
	case statusCode >= 500:
		return "server"
	default:
		return "unknown"
	}
}

// GetMetrics returns current notification metrics
func (c *Client) GetMetrics() (sent, failed, retries int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.totalSent, c.totalFailed, c.totalRetries
}
