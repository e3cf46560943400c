package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Mode selects how much history a fetch asks the feed for
type Mode string

const (
	ModeRecent      Mode = "recent"
	ModeFullHistory Mode = "full-history"
)

const (
	// RecentResultLimit covers a 5-minute window even under irregular delivery.
	RecentResultLimit = 100
	// FullHistoryResultLimit is the feed's maximum page size.
	FullHistoryResultLimit = 8000
)

// ParseMode parses a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRecent:
		return ModeRecent, nil
	case ModeFullHistory:
		return ModeFullHistory, nil
	}
	return "", fmt.Errorf("unknown ingestion mode %q (expected %q or %q)", s, ModeRecent, ModeFullHistory)
}

// ResultLimit returns the number of points requested for the mode
func (m Mode) ResultLimit() int {
	if m == ModeFullHistory {
		return FullHistoryResultLimit
	}
	return RecentResultLimit
}

// FetchError reports a failed feed request or an unreadable payload
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed request %s failed: HTTP status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("feed request %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// retryable reports whether a later attempt may succeed
func (e *FetchError) retryable() bool {
	if e.StatusCode == 0 {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		return !errors.As(e.Err, &syntaxErr) && !errors.As(e.Err, &typeErr)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ClientConfig holds feed client settings
type ClientConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
}

// Client fetches raw records from the external feed
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	retryBase  time.Duration
	logger     *zap.Logger
}

// NewClient creates a new feed client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxRetries: uint64(cfg.MaxRetries),
		retryBase:  cfg.RetryBaseDelay,
		logger:     logger,
	}
}

// WithResultLimit appends the result-count parameter to a feed URL
func WithResultLimit(feedURL string, limit int) string {
	separator := "?"
	if strings.Contains(feedURL, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%sresults=%d", feedURL, separator, limit)
}

// Fetch requests the feed for the given mode and decodes its payload
func (c *Client) Fetch(ctx context.Context, feedURL string, mode Mode) (*Payload, error) {
	url := WithResultLimit(feedURL, mode.ResultLimit())
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))

	var payload *Payload
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := c.fetchOnce(ctx, url)
		if err != nil {
			var fetchErr *FetchError
			if errors.As(err, &fetchErr) && fetchErr.retryable() && uint64(attempt) <= c.maxRetries {
				c.logger.Warn("feed request failed, retrying",
					zap.Error(err),
					zap.Int("attempt", attempt),
				)
				return retry.RetryableError(err)
			}
			return err
		}
		payload = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func (c *Client) fetchOnce(ctx context.Context, url string) (*Payload, error) {
	masked := MaskAPIKey(url)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: masked, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: masked, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: masked, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	c.logger.Debug("feed response",
		zap.String("url", masked),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: masked, StatusCode: resp.StatusCode}
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{URL: masked, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return &payload, nil
}

var apiKeyPattern = regexp.MustCompile(`(?i)(api_key=)[^&]+`)

// MaskAPIKey hides a read key carried in the feed URL for logging
func MaskAPIKey(url string) string {
	return apiKeyPattern.ReplaceAllString(url, "${1}***")
}
