// Package config loads the daemon configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration parses human-friendly values like "90s", "1h30m" or "2d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type CacheConfig struct {
	Capacity    int      `yaml:"capacity"`
	TTL         Duration `yaml:"ttl"`
	ExpiryCheck Duration `yaml:"expiry_check"`
}

type PrefetchConfig struct {
	Workers      int      `yaml:"workers"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
	RateLimit    float64  `yaml:"rate_limit"`
}

type ImagesConfig struct {
	CacheDir      string   `yaml:"cache_dir"`
	Allowlist     []string `yaml:"allowlist"`
	FetchTimeout  Duration `yaml:"fetch_timeout"`
	MaxConcurrent int64    `yaml:"max_concurrent"`
}

type UpstreamConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Token     string  `yaml:"token"`
	RateLimit float64 `yaml:"rate_limit"`
	Retries   int     `yaml:"retries"`
}

type Config struct {
	Listen   string         `yaml:"listen"`
	Cache    CacheConfig    `yaml:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Images   ImagesConfig   `yaml:"images"`
	Upstream UpstreamConfig `yaml:"upstream"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen: "127.0.0.1:8480",
		Cache: CacheConfig{
			Capacity:    500,
			TTL:         Duration(time.Hour),
			ExpiryCheck: Duration(time.Minute),
		},
		Prefetch: PrefetchConfig{
			Workers:      3,
			FetchTimeout: Duration(15 * time.Second),
			RateLimit:    1,
		},
		Images: ImagesConfig{
			CacheDir:      defaultCacheDir(),
			Allowlist:     []string{"coverartarchive.org", "archive.org"},
			FetchTimeout:  Duration(10 * time.Second),
			MaxConcurrent: 8,
		},
		Upstream: UpstreamConfig{
			BaseURL:   "https://musicbrainz.org/ws/2",
			RateLimit: 1,
			Retries:   5,
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/soundshelf/images"
	}
	return "./image-cache"
}

// Load reads path if it exists, merges it over the defaults, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, errors.Wrapf(err, "reading config %s", path)
		}
		if err == nil {
			if err := yaml.Unmarshal(buf, &cfg); err != nil {
				return cfg, errors.Wrapf(err, "parsing config %s", path)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CATALOG_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CATALOG_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("CATALOG_UPSTREAM_TOKEN"); v != "" {
		cfg.Upstream.Token = v
	}
	if v := os.Getenv("CATALOG_IMAGE_CACHE_DIR"); v != "" {
		cfg.Images.CacheDir = v
	}
	if v := os.Getenv("CATALOG_IMAGE_ALLOWLIST"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		cfg.Images.Allowlist = hosts
	}
}

func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}
	if len(c.Images.Allowlist) == 0 {
		return errors.New("images.allowlist must have at least one origin")
	}
	if c.Cache.Capacity <= 0 {
		return errors.New("cache.capacity must be positive")
	}
	if c.Prefetch.Workers <= 0 {
		return errors.New("prefetch.workers must be positive")
	}
	return nil
}
