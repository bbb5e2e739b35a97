// Package registry is the ClinicalTrials.gov API v2 client. It implements
// trial.RegistryGateway: Search lists recruiting studies for a condition,
// Fetch retrieves one study by NCT id. All calls pass through a token-bucket
// rate limiter so batch matching cannot hammer the public API.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/trialsense/trialsense/internal/domain/trial"
)

const (
	// maxPageSize is the largest study page the client will request. The API
	// rejects some larger values with 400s, and matching never needs more.
	maxPageSize = 20

	// maxLocations caps how many recruiting sites are kept per study.
	maxLocations = 10
)

// ErrStudyNotFound is returned by Fetch when the registry has no study for
// the given NCT id. It wraps trial.ErrNotFound so domain callers can detect
// a miss without depending on this package.
var ErrStudyNotFound = fmt.Errorf("registry: %w", trial.ErrNotFound)

// Error is a non-2xx response from the registry.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry: http %d: %s", e.StatusCode, e.Body)
}

// Config holds registry client settings. Zero values select defaults.
type Config struct {
	BaseURL  string
	PageSize int
	RPS      float64
	Timeout  time.Duration
}

// Client talks to the registry over HTTP.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

var _ trial.RegistryGateway = (*Client)(nil)

// NewClient creates a registry client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://clinicaltrials.gov/api/v2"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// Burst of 2 lets a search and an immediate detail fetch proceed
		// without waiting.
		limiter: rate.NewLimiter(rate.Limit(rps), 2),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Search queries the registry for recruiting studies. Results come back in
// the registry's relevance order, which downstream stages preserve.
func (c *Client) Search(ctx context.Context, q trial.SearchQuery) ([]trial.Trial, error) {
	condition := strings.TrimSpace(q.Condition)
	term := strings.TrimSpace(q.Term)
	if condition == "" && term == "" {
		return nil, fmt.Errorf("registry: condition or term required")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = c.pageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	params := url.Values{}
	if condition != "" {
		params.Set("query.cond", condition)
	}
	if term != "" {
		params.Set("query.term", term)
	}
	params.Set("filter.overallStatus", "RECRUITING")
	params.Set("pageSize", strconv.Itoa(limit))
	params.Set("format", "json")

	var payload struct {
		Studies []study `json:"studies"`
	}
	if err := c.get(ctx, "/studies", params, &payload); err != nil {
		return nil, err
	}

	now := time.Now()
	trials := make([]trial.Trial, 0, len(payload.Studies))
	for _, s := range payload.Studies {
		trials = append(trials, s.toTrial(now))
	}
	c.logger.Debug().
		Str("condition", condition).
		Str("term", term).
		Int("count", len(trials)).
		Msg("registry search")
	return trials, nil
}

// Fetch retrieves a single study by NCT id.
func (c *Client) Fetch(ctx context.Context, nctID string) (*trial.Trial, error) {
	nctID = strings.TrimSpace(nctID)
	if nctID == "" {
		return nil, fmt.Errorf("registry: nct id required")
	}

	params := url.Values{}
	params.Set("format", "json")

	var s study
	if err := c.get(ctx, "/studies/"+url.PathEscape(nctID), params, &s); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrStudyNotFound
		}
		return nil, err
	}

	t := s.toTrial(time.Now())
	if t.NCTID == "" {
		return nil, ErrStudyNotFound
	}
	return &t, nil
}

// get waits on the rate limiter, issues the request, and decodes a 2xx JSON
// body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("registry: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("registry: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read at most 1KB of the error body.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	c.logger.Debug().
		Str("path", path).
		Dur("elapsed", time.Since(start)).
		Msg("registry request")
	return nil
}
