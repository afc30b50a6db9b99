package ygg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/yggsync/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const userAgent = "yggsync/1.0"

// maxErrorBody bounds how much of an error response ends up in logs
const maxErrorBody = 512

// Client wraps the yggapi HTTP endpoints. All calls share one limiter so the
// configured delay holds across categories.
type Client struct {
	baseURL    string
	perPage    int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewClient creates a new yggapi client
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg.YggBaseURL == "" {
		return nil, fmt.Errorf("ygg API base URL is required")
	}
	if _, err := url.Parse(cfg.YggBaseURL); err != nil {
		return nil, fmt.Errorf("invalid ygg API base URL: %w", err)
	}

	perPage := cfg.ItemsPerPage
	if perPage <= 0 {
		perPage = 100
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.YggBaseURL, "/"),
		perPage: perPage,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		limiter: newLimiter(cfg.APIDelay),
		logger:  logger,
	}, nil
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// PerPage returns the listing page size requested from the API
func (c *Client) PerPage() int {
	return c.perPage
}

// ListPage fetches one listing page for a source category code. Pages start
// at 1; an empty slice means the listing is exhausted.
func (c *Client) ListPage(ctx context.Context, categoryCode int, page int) ([]TorrentSummary, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("category_id", strconv.Itoa(categoryCode))
	params.Set("order_by", "uploaded_at")
	params.Set("per_page", strconv.Itoa(c.perPage))

	var items []TorrentSummary
	if err := c.get(ctx, "/torrents", params, &items); err != nil {
		return nil, fmt.Errorf("listing page %d of category %d: %w", page, categoryCode, err)
	}
	for _, item := range items {
		if item.UploadedAt.Unparsed != "" {
			c.logger.WithFields(logrus.Fields{
				"torrent_id":  item.ID,
				"uploaded_at": item.UploadedAt.Unparsed,
			}).Warn("Unrecognised upload timestamp, keeping torrent without it")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"category_id": categoryCode,
		"page":        page,
		"count":       len(items),
	}).Debug("Fetched listing page")

	return items, nil
}

// FetchDetail fetches the detail record of one torrent
func (c *Client) FetchDetail(ctx context.Context, id int64) (*TorrentDetail, error) {
	var detail TorrentDetail
	path := "/torrent/" + strconv.FormatInt(id, 10)
	if err := c.get(ctx, path, nil, &detail); err != nil {
		return nil, fmt.Errorf("fetching detail of torrent %d: %w", id, err)
	}
	return &detail, nil
}

// get waits for the limiter, performs the request and decodes the JSON body
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	c.logger.WithField("url", fullURL).Debug("Making ygg API request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"body":        string(body),
		}).Warn("ygg API returned non-OK status")
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrSourceUnavailable, err)
	}
	return nil
}

// parseRetryAfter understands both the delta-seconds and HTTP-date forms
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
