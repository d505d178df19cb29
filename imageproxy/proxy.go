// Package imageproxy serves resized cover art through a validated fetch
// pipeline backed by a content-addressable on-disk cache. Validation
// happens before any network or disk access; cached entries are
// immutable and never revalidated.
package imageproxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"

	"github.com/soundshelf/go-catalog/logger"
)

const (
	// MinDimension and MaxDimension bound the target box. Out-of-range
	// values clamp rather than fail.
	MinDimension = 1
	MaxDimension = 2000

	// MinQuality and MaxQuality bound the JPEG re-encode quality.
	MinQuality = 1
	MaxQuality = 100

	// DefaultWidth, DefaultHeight and DefaultQuality apply when the
	// request omits the corresponding parameter.
	DefaultWidth   = 180
	DefaultHeight  = 180
	DefaultQuality = 80

	// maxBodyBytes caps how much we read from the origin.
	maxBodyBytes = 20 << 20
)

// DefaultFetchTimeout caps a single origin fetch.
const DefaultFetchTimeout = 10 * time.Second

// Doer is the subset of *http.Client the proxy needs. Tests inject a
// counting stub to prove validation short-circuits before any fetch.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// config holds the resolved configuration for a Proxy.
type config struct {
	client        Doer
	fetchTimeout  time.Duration
	maxConcurrent int64
	userAgent     string
}

// Option configures a Proxy.
type Option func(*config)

// WithHTTPClient replaces the origin HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(c *config) { c.client = client }
}

// WithFetchTimeout sets the per-fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithMaxConcurrent bounds concurrent origin fetch and transform work.
func WithMaxConcurrent(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithUserAgent sets the User-Agent sent to origins.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

// Proxy resolves (url, w, h, q) requests to transformed image bytes.
type Proxy struct {
	cfg       config
	log       logger.Logger
	cache     *DiskCache
	allowlist []string
	sem       *semaphore.Weighted
}

// New returns a Proxy caching transformed images under cacheDir. Only
// hosts matching an allowlist entry, exactly or as a subdomain, are
// fetched.
func New(log logger.Logger, cacheDir string, allowlist []string, opts ...Option) (*Proxy, error) {
	cfg := config{
		client:        http.DefaultClient,
		fetchTimeout:  DefaultFetchTimeout,
		maxConcurrent: 8,
		userAgent:     "soundshelf-imageproxy/1.0",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cache, err := NewDiskCache(cacheDir)
	if err != nil {
		return nil, errors.Wrap(err, "creating image cache dir")
	}
	hosts := make([]string, 0, len(allowlist))
	for _, h := range allowlist {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Proxy{
		cfg:       cfg,
		log:       log.WithPrefix("[imageproxy]"),
		cache:     cache,
		allowlist: hosts,
		sem:       semaphore.NewWeighted(cfg.maxConcurrent),
	}, nil
}

// Cache exposes the underlying disk cache for diagnostics.
func (p *Proxy) Cache() *DiskCache {
	return p.cache
}

// Resolve validates, clamps and serves the transformed image for
// sourceURL. Hits return stored bytes; misses fetch the origin
// (bypassing intermediate HTTP caches), crop-to-fill resize, re-encode
// as JPEG and persist. Concurrent misses on one key may redundantly
// recompute; the result is deterministic so the race is harmless.
func (p *Proxy) Resolve(ctx context.Context, sourceURL string, width, height, quality int) ([]byte, string, error) {
	if sourceURL == "" {
		return nil, "", errors.Wrap(ErrMissingParam, "url is required")
	}
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, "", errors.Wrap(ErrMissingParam, "url is not a valid http(s) URL")
	}
	if !p.hostAllowed(u.Hostname()) {
		return nil, "", errors.Wrapf(ErrDisallowedHost, "%s", u.Hostname())
	}

	width = clamp(width, MinDimension, MaxDimension)
	height = clamp(height, MinDimension, MaxDimension)
	quality = clamp(quality, MinQuality, MaxQuality)

	key := Fingerprint(sourceURL, width, height, quality)
	if data, ok := p.cache.Get(key); ok {
		p.log.Trace("cache hit %s", key)
		return data, "image/jpeg", nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, "", errors.Wrap(ErrUpstreamUnreachable, err.Error())
	}
	defer p.sem.Release(1)

	raw, err := p.fetch(ctx, sourceURL)
	if err != nil {
		return nil, "", err
	}

	data, err := transform(raw, width, height, quality)
	if err != nil {
		return nil, "", errors.Wrap(ErrTransform, err.Error())
	}

	if err := p.cache.Put(key, data); err != nil {
		// The caller still gets their bytes; only warm-cache benefit is lost.
		p.log.Warn("failed to persist %s: %v", key, err)
	}
	return data, "image/jpeg", nil
}

func (p *Proxy) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, errors.Wrap(ErrMissingParam, err.Error())
	}
	// Bypass intermediate HTTP caches; the disk cache is authoritative.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", p.cfg.userAgent)

	resp, err := p.cfg.client.Do(req)
	if err != nil {
		// Transient by taxonomy, so reduced severity.
		p.log.Debug("origin fetch failed: %v", err)
		return nil, errors.Wrap(ErrUpstreamUnreachable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		p.log.Debug("origin read failed: %v", err)
		return nil, errors.Wrap(ErrUpstreamUnreachable, err.Error())
	}
	return data, nil
}

// hostAllowed reports whether host exactly matches, or is a subdomain
// of, an allowlist entry.
func (p *Proxy) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range p.allowlist {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
