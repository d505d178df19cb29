// catalogd runs the catalog caching daemon: metadata cache, prefetch
// workers, image proxy and the HTTP API in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soundshelf/go-catalog/catalog"
	"github.com/soundshelf/go-catalog/config"
	"github.com/soundshelf/go-catalog/httpapi"
	"github.com/soundshelf/go-catalog/imageproxy"
	"github.com/soundshelf/go-catalog/logger"
	"github.com/soundshelf/go-catalog/metacache"
	"github.com/soundshelf/go-catalog/prefetch"
	"github.com/soundshelf/go-catalog/stats"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "catalogd",
		Short:        "Catalog caching daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := logger.NewConsoleLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheOpts := []metacache.Option{
		metacache.WithCapacity(cfg.Cache.Capacity),
		metacache.WithTTL(cfg.Cache.TTL.Std()),
		metacache.WithExpiryCheck(cfg.Cache.ExpiryCheck.Std()),
	}
	releases := metacache.New[catalog.Release](ctx, cacheOpts...)
	defer releases.Close()
	releaseGroups := metacache.New[catalog.ReleaseGroup](ctx, cacheOpts...)
	defer releaseGroups.Close()

	client := catalog.New(log, cfg.Upstream.BaseURL, cfg.Upstream.Token,
		catalog.WithRateLimit(cfg.Upstream.RateLimit, 1),
		catalog.WithRetries(cfg.Upstream.Retries),
	)

	scheduler := prefetch.New(ctx, log, releases,
		prefetch.FetcherFunc[catalog.Release](client.Release),
		prefetch.WithWorkers(cfg.Prefetch.Workers),
		prefetch.WithFetchTimeout(cfg.Prefetch.FetchTimeout.Std()),
		prefetch.WithRateLimit(cfg.Prefetch.RateLimit, cfg.Prefetch.Workers),
	)
	defer scheduler.Close()

	proxy, err := imageproxy.New(log, cfg.Images.CacheDir, cfg.Images.Allowlist,
		imageproxy.WithFetchTimeout(cfg.Images.FetchTimeout.Std()),
		imageproxy.WithMaxConcurrent(cfg.Images.MaxConcurrent),
	)
	if err != nil {
		return err
	}

	aggregator := stats.New(releases, releaseGroups, scheduler)
	server := httpapi.New(log, scheduler, aggregator, proxy.Handler())
	return server.ListenAndServe(ctx, cfg.Listen)
}
