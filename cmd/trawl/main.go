// Command trawl runs the crawler: the embedded crawl driver, the
// coordinator API for distributed workers, a worker node, and seed-file
// maintenance.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/FranksOps/trawl/internal/config"
	"github.com/FranksOps/trawl/internal/coordinator"
	"github.com/FranksOps/trawl/internal/crawl"
	"github.com/FranksOps/trawl/internal/dedupe"
	"github.com/FranksOps/trawl/internal/fetch"
	"github.com/FranksOps/trawl/internal/frontier"
	"github.com/FranksOps/trawl/internal/metrics"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/internal/report"
	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/internal/store/postgres"
	"github.com/FranksOps/trawl/internal/store/sqlite"
	"github.com/FranksOps/trawl/internal/worker"
	"github.com/FranksOps/trawl/internal/writer"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "trawl",
		Short:         "Distributed breadth-first web crawler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to trawl.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	loadEnv := func() (config.Config, *slog.Logger, error) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return config.Config{}, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(newCrawlCmd(loadEnv))
	root.AddCommand(newServeCmd(loadEnv))
	root.AddCommand(newWorkCmd(loadEnv))
	root.AddCommand(newSeedCmd(loadEnv))
	return root
}

// openStore connects and migrates; any failure here is fatal to the process.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		st, err = sqlite.New(cfg.DatabaseURL)
	case "postgres":
		st, err = postgres.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newCrawlCmd(loadEnv func() (config.Config, *slog.Logger, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run the embedded crawl driver against the seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}

			seeds, err := crawl.LoadSeeds(cfg.SeedFile)
			if err != nil {
				return err
			}
			if len(seeds) == 0 {
				return fmt.Errorf("no seeds found in %s", cfg.SeedFile)
			}

			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if cfg.MetricsPort > 0 {
				msrv := metrics.Start(cfg.MetricsPort)
				defer msrv.Stop(ctx)
			}

			deduper := dedupe.New(st, logger)
			w := writer.New(st, deduper, cfg.WriteQueueSize, logger)
			w.Start(ctx)

			fr := frontier.New(st, w, logger)
			if err := fr.Load(ctx); err != nil {
				return err
			}
			if _, err := fr.SeedIfEmpty(ctx, seeds); err != nil {
				return err
			}

			fetcher, err := fetch.New(fetch.Config{
				UserAgent:         cfg.UserAgent,
				Timeout:           cfg.FetchTimeout,
				MaxBodyBytes:      cfg.MaxBodyBytes,
				DomainDelay:       cfg.DomainDelay,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Jitter:            cfg.Jitter,
			}, logger)
			if err != nil {
				return err
			}
			defer fetcher.Stop()

			blocked, err := st.BlockedDomains(ctx)
			if err != nil {
				return err
			}
			var tos *policy.TOSProber
			if !cfg.IgnoreTOS {
				tos, err = policy.NewTOSProber(cfg.TOSKeywords, cfg.UserAgent, blocked,
					func(ctx context.Context, domain string) error {
						return w.Enqueue(ctx, writer.BlockDomain{Domain: domain})
					}, logger)
				if err != nil {
					return err
				}
			}

			patterns, err := st.BlacklistedDomains(ctx)
			if err != nil {
				return err
			}

			gate := policy.NewGate(policy.GateConfig{
				MaxDepth:      cfg.MaxDepth,
				UserAgent:     cfg.UserAgent,
				RespectRobots: cfg.RespectRobots,
				Blacklist:     policy.NewBlacklist(patterns),
				Robots:        policy.NewRobotsAuditor(fetcher, logger),
				TOS:           tos,
			}, logger)

			crawler := crawl.New(crawl.Config{
				Threads:  cfg.Threads,
				MaxDepth: cfg.MaxDepth,
				MaxTags:  cfg.MaxTags,
			}, fetcher, gate, fr, w, logger)

			sigCtx, stop := signalContext()
			defer stop()
			go func() {
				<-sigCtx.Done()
				logger.Info("shutdown requested, finishing current batch")
				crawler.RequestStop()
			}()

			summary, runErr := crawler.Run(ctx)

			w.Close()
			if err := w.Wait(cfg.DrainTimeout); err != nil {
				logger.Error("writer drain", "err", err)
			}

			if err := report.WriteText(os.Stdout, summary); err != nil {
				logger.Error("report", "err", err)
			}
			if runErr != nil && runErr != context.Canceled {
				return runErr
			}
			return nil
		},
	}
}

func newServeCmd(loadEnv func() (config.Config, *slog.Logger, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator API for distributed workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret must be configured for serve")
			}

			ctx, stop := signalContext()
			defer stop()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if cfg.MetricsPort > 0 {
				msrv := metrics.Start(cfg.MetricsPort)
				defer msrv.Stop(ctx)
			}

			w := writer.New(st, nil, cfg.WriteQueueSize, logger)
			w.Start(context.Background())

			patterns, err := st.BlacklistedDomains(ctx)
			if err != nil {
				return err
			}

			sweeper := dedupe.NewSweeper(st, cfg.DedupeEnabled, cfg.DedupeInterval, logger)
			srv := coordinator.New(coordinator.Config{
				Listen:           cfg.Listen,
				JWTSecret:        cfg.JWTSecret,
				SubmitSecret:     cfg.SubmitSecret,
				BatchLimit:       cfg.BatchLimit,
				MaxURLsPerSubmit: cfg.MaxURLsPerSubmit,
				MinTags:          cfg.CoordinatorMinTags,
			}, st, w, policy.NewBlacklist(patterns), sweeper, logger)

			serveErr := srv.Start(ctx)

			w.Close()
			if err := w.Wait(cfg.DrainTimeout); err != nil {
				logger.Error("writer drain", "err", err)
			}
			return serveErr
		},
	}
}

func newWorkCmd(loadEnv func() (config.Config, *slog.Logger, error)) *cobra.Command {
	var (
		coordinatorURL string
		token          string
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run a distributed worker against a coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			if coordinatorURL == "" {
				return fmt.Errorf("--coordinator is required")
			}

			client, err := worker.NewClient(coordinatorURL, token, cfg.SubmitSecret, logger)
			if err != nil {
				return err
			}
			fetcher, err := fetch.New(fetch.Config{
				UserAgent:         cfg.UserAgent,
				Timeout:           cfg.FetchTimeout,
				MaxBodyBytes:      cfg.MaxBodyBytes,
				DomainDelay:       cfg.DomainDelay,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Jitter:            cfg.Jitter,
			}, logger)
			if err != nil {
				return err
			}
			defer fetcher.Stop()

			wk := worker.New(worker.Config{
				Threads:       cfg.Threads,
				MinTags:       cfg.CoordinatorMinTags,
				MaxTags:       cfg.MaxTags,
				UserAgent:     cfg.UserAgent,
				EnforceRobots: cfg.RespectRobots,
			}, client, fetcher, policy.NewRobotsAuditor(fetcher, logger), logger)

			ctx, stop := signalContext()
			defer stop()
			if err := wk.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&coordinatorURL, "coordinator", "", "coordinator base URL")
	cmd.Flags().StringVar(&token, "token", "", "godmode bearer token")
	return cmd
}

func newSeedCmd(loadEnv func() (config.Config, *slog.Logger, error)) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the seed file into the pending set",
		Long: `Load the seed file into the pending set. With --forget, seeds are
removed from the visited set instead, so the next crawl re-enqueues them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			seeds, err := crawl.LoadSeeds(cfg.SeedFile)
			if err != nil {
				return err
			}

			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if forget {
				n, err := st.RemoveVisited(ctx, seeds)
				if err != nil {
					return err
				}
				logger.Info("seeds forgotten, next crawl will re-enqueue", "removed", n)
				return nil
			}

			for _, s := range seeds {
				if err := st.EnqueuePending(ctx, s, 0); err != nil {
					return err
				}
			}
			logger.Info("seeds enqueued", "count", len(seeds))
			return nil
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "remove seeds from the visited set")
	return cmd
}
