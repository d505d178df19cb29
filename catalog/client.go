// Package catalog is the HTTP client for the upstream music catalog.
// It is the fetch capability behind the prefetch scheduler, so it must
// be safe to call repeatedly for the same id.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/soundshelf/go-catalog/logger"
)

// Version is stamped at build time.
var Version = "dev"

const defaultRetries = 5

// Error carries the request context of a failed catalog call.
type Error struct {
	URL    string
	Method string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(url, method string, status int, body string, err error) *Error {
	return &Error{
		URL:    url,
		Method: method,
		Status: status,
		Body:   body,
		Err:    err,
	}
}

// config holds the resolved configuration for a Client.
type config struct {
	client  *http.Client
	retries int
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*config)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.client = client }
}

// WithRetries sets how many attempts a request gets before giving up.
func WithRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithRateLimit throttles outgoing requests. Public catalog APIs
// typically allow about one request per second per client.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *config) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// Client talks JSON to the catalog API with bounded retries and
// exponential backoff on transient failures.
type Client struct {
	baseURL string
	token   string
	cfg     config
	logger  logger.Logger
}

// New returns a catalog Client rooted at baseURL. token may be empty
// for anonymous access.
func New(log logger.Logger, baseURL, token string, opts ...Option) *Client {
	cfg := config{client: http.DefaultClient, retries: defaultRetries}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		cfg:     cfg,
		logger:  log.WithPrefix("[catalog]"),
	}
}

// UserAgent identifies this client to the catalog API.
func UserAgent() string {
	return "soundshelf-catalog/" + Version
}

// Release fetches one release by MBID. The signature matches
// prefetch.FetcherFunc so the scheduler can use it directly.
func (c *Client) Release(ctx context.Context, mbid string) (Release, error) {
	var release Release
	err := c.get(ctx, path.Join("release", mbid), &release)
	return release, err
}

// ReleaseGroup fetches one release group by MBID.
func (c *Client) ReleaseGroup(ctx context.Context, mbid string) (ReleaseGroup, error) {
	var group ReleaseGroup
	err := c.get(ctx, path.Join("release-group", mbid), &group)
	return group, err
}

// Collection fetches a collection with its member release ids.
func (c *Client) Collection(ctx context.Context, mbid string) (Collection, error) {
	var collection Collection
	err := c.get(ctx, path.Join("collection", mbid), &collection)
	return collection, err
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
			return true
		} else if msg := err.Error(); strings.Contains(msg, "EOF") {
			return true
		}
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

func (c *Client) get(ctx context.Context, pathParam string, response any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return newError(c.baseURL, http.MethodGet, 0, "", fmt.Errorf("error parsing base url: %w", err))
	}
	if basePath := u.Path; basePath == "" || basePath == "/" {
		u.Path = "/" + pathParam
	} else {
		u.Path = path.Join(basePath, pathParam)
	}

	c.logger.Trace("sending request: GET %s", u.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return newError(u.String(), http.MethodGet, 0, "", fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	var resp *http.Response
	for i := 0; i < c.cfg.retries; i++ {
		isLast := i == c.cfg.retries-1
		if c.cfg.limiter != nil {
			if err := c.cfg.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		resp, err = c.cfg.client.Do(req)
		if shouldRetry(resp, err) && !isLast {
			c.logger.Trace("catalog returned retryable error, retrying...")
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			// exponential backoff
			v := 150 * math.Pow(2, float64(i))
			time.Sleep(time.Duration(v) * time.Millisecond)
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return newError(u.String(), http.MethodGet, 0, "", fmt.Errorf("error sending request: %w", err))
		}
		break
	}
	defer resp.Body.Close()
	c.logger.Debug("response status: %s", resp.Status)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(u.String(), http.MethodGet, resp.StatusCode, "", fmt.Errorf("error reading response body: %w", err))
	}

	if resp.StatusCode > 299 {
		return newError(u.String(), http.MethodGet, resp.StatusCode, string(respBody), fmt.Errorf("request failed with status (%s)", resp.Status))
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			return newError(u.String(), http.MethodGet, resp.StatusCode, string(respBody), fmt.Errorf("error JSON decoding response: %w", err))
		}
	}
	return nil
}
