package ratings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"listing_f1s/internal/listing"
	"listing_f1s/internal/metrics"
	"listing_f1s/internal/retry"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultAccept = "application/json"
	maxErrorBody  = 512
	maxReauthCall = 3
)

// TokenSource hands out bearer tokens; each call should return a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config tunes a Client.
type Config struct {
	BaseURL string
	// Path is a format string taking the identifier.
	Path string
	// Accept is sent on every request. Defaults to application/json.
	Accept string
	// Interval is the minimum spacing between any two calls.
	Interval time.Duration
	// MaxReauth is how many token refreshes a single identifier may trigger on 401.
	MaxReauth int
	Retry     retry.Config
}

// Client fetches product ratings one identifier at a time, never faster than
// Config.Interval.
type Client struct {
	baseURL   string
	path      string
	accept    string
	client    *http.Client
	tokens    TokenSource
	limiter   *rate.Limiter
	retry     retry.Config
	maxReauth int

	tokenMutex sync.Mutex
	token      string

	apiCallCount int64
	apiCallMutex sync.Mutex
}

func NewClient(cfg Config, tokens TokenSource) *Client {
	accept := cfg.Accept
	if accept == "" {
		accept = defaultAccept
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	maxReauth := cfg.MaxReauth
	if maxReauth < 0 {
		maxReauth = 0
	}
	if maxReauth > maxReauthCall {
		maxReauth = maxReauthCall
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		path:    cfg.Path,
		accept:  accept,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokens:    tokens,
		limiter:   rate.NewLimiter(limit, 1),
		retry:     cfg.Retry,
		maxReauth: maxReauth,
	}
}

// IncrementAPICall safely increments the API call counter
func (c *Client) IncrementAPICall() {
	c.apiCallMutex.Lock()
	c.apiCallCount++
	c.apiCallMutex.Unlock()
}

// GetAPICallCount returns the current API call count
func (c *Client) GetAPICallCount() int64 {
	c.apiCallMutex.Lock()
	defer c.apiCallMutex.Unlock()
	return c.apiCallCount
}

// Fetch returns the ratings for ean. It never returns an error: 404 and
// exhausted 429 retries are Absent, anything else unexpected is Failed.
func (c *Client) Fetch(ctx context.Context, ean string) Result {
	res := Result{EAN: ean}
	if !listing.ValidEAN(ean) {
		res.Outcome, res.Err = Failed, fmt.Errorf("%q: %w", ean, ErrInvalidIdentifier)
		log.Warn().Str("ean", ean).Msg("Skipping identifier that is not numeric")
		return res
	}

	cfg := c.retry
	cfg.Retryable = func(err error) bool {
		return statusOf(err) == http.StatusTooManyRequests
	}
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		res.Backoff += delay
		metrics.RatingRetries.Inc()
		log.Warn().
			Str("ean", ean).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Rate limited by ratings API; backing off")
	}
	cfg.BeforeAttempt = c.limiter.Wait

	ratings, err := c.fetchWithReauth(ctx, ean, cfg)

	switch status := statusOf(err); {
	case err == nil:
		res.Outcome, res.Ratings = Found, ratings
		log.Debug().Str("ean", ean).Int("buckets", len(ratings)).Msg("Fetched ratings")
	case status == http.StatusNotFound:
		res.Outcome = Absent
		log.Info().Str("ean", ean).Msg("No ratings for EAN; skipping")
	case status == http.StatusTooManyRequests:
		res.Outcome, res.Err = Absent, err
		log.Warn().Str("ean", ean).Dur("backoff", res.Backoff).Msg("Rate limit retries exhausted; skipping EAN")
	default:
		res.Outcome, res.Err = Failed, err
		log.Error().Err(err).Str("ean", ean).Int("status_code", status).Msg("Failed to fetch ratings")
	}
	return res
}

// fetchWithReauth runs the 429 retry loop with the current token and starts
// it over with a fresh token on 401, at most maxReauth times.
func (c *Client) fetchWithReauth(ctx context.Context, ean string, cfg retry.Config) ([]Rating, error) {
	for reauth := 0; ; reauth++ {
		token, err := c.currentToken(ctx)
		if err != nil {
			return nil, err
		}
		ratings, err := retry.WithRetry(ctx, cfg, func(ctx context.Context) ([]Rating, error) {
			return c.get(ctx, ean, token)
		})
		if statusOf(err) != http.StatusUnauthorized || reauth >= c.maxReauth {
			return ratings, err
		}
		log.Warn().Str("ean", ean).Int("reauth", reauth+1).Msg("401 from ratings API; reauthorizing")
		if err := c.refreshToken(ctx, token); err != nil {
			return nil, err
		}
	}
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// refreshToken replaces stale unless another caller already did.
func (c *Client) refreshToken(ctx context.Context, stale string) error {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	if c.token != stale {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("reauthorization failed: %w", err)
	}
	c.token = token
	return nil
}

// get issues one request. Spacing is enforced by the caller through the
// limiter, before the attempt timeout starts.
func (c *Client) get(ctx context.Context, ean, token string) ([]Rating, error) {
	endpoint := c.baseURL + fmt.Sprintf(c.path, url.PathEscape(ean))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", c.accept)

	c.IncrementAPICall()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	metrics.RatingRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	log.Debug().Str("ean", ean).Int("status_code", resp.StatusCode).Msg("Received ratings response")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload ratingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return payload.Ratings, nil
}
