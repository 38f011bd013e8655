// Command serprank fetches SERP data through the configured providers and
// turns it into ranking intelligence for a target domain.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/serprank/internal/analyzer"
	"github.com/FranksOps/serprank/internal/budget"
	"github.com/FranksOps/serprank/internal/cache"
	"github.com/FranksOps/serprank/internal/client"
	"github.com/FranksOps/serprank/internal/config"
	"github.com/FranksOps/serprank/internal/fingerprint"
	"github.com/FranksOps/serprank/internal/metrics"
	"github.com/FranksOps/serprank/internal/provider"
	"github.com/FranksOps/serprank/internal/report"
	"github.com/FranksOps/serprank/internal/serp"
	"github.com/FranksOps/serprank/internal/storage"
	"github.com/FranksOps/serprank/internal/storage/postgres"
	"github.com/FranksOps/serprank/internal/storage/sqlite"
	"github.com/FranksOps/serprank/pkg/httpclient"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "serprank",
		Short:         "SERP acquisition and ranking intelligence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default serprank.yaml)")

	root.AddCommand(searchCmd(), analyzeCmd(), warmupCmd(), spendCmd())

	// Ctrl-C cancels in-flight searches instead of killing the process
	// mid-write.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "serprank:", err)
		os.Exit(1)
	}
}

func searchCmd() *cobra.Command {
	var (
		providerName string
		location     string
		device       string
		num          int
		bypassCache  bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one query through the fallback chain and print the SERP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			opts := serp.SearchOptions{
				Location:    location,
				Device:      serp.Device(device),
				Num:         num,
				Provider:    providerName,
				BypassCache: bypassCache,
			}
			res, err := app.client.Search(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return emit(res)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "force a specific provider")
	cmd.Flags().StringVar(&location, "location", "", "geographic location")
	cmd.Flags().StringVar(&device, "device", "desktop", "desktop or mobile")
	cmd.Flags().IntVar(&num, "num", 10, "number of results")
	cmd.Flags().BoolVar(&bypassCache, "no-cache", false, "skip the cache")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		queriesPath  string
		takeSnapshot bool
		compareWith  string
		format       string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fetch SERPs for a query set and analyze target rankings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if app.cfg.Analyzer.TargetDomain == "" {
				return fmt.Errorf("analyzer.target_domain must be configured")
			}
			queries, err := loadQueries(queriesPath)
			if err != nil {
				return err
			}

			batch, err := app.client.BatchSearch(cmd.Context(), queries, serp.SearchOptions{}, client.BatchOptions{
				StopOnBudgetExceeded: true,
				Progress: func(p client.BatchProgress) {
					app.logger.Info("query done",
						"completed", p.Completed, "total", p.Total,
						"query", p.Query, "cached", p.Cached, "error", p.Err)
				},
			})
			if err != nil {
				return err
			}
			if batch.Aborted {
				app.logger.Warn("batch aborted on budget ceiling",
					"succeeded", batch.Succeeded, "skipped", batch.Skipped)
			}

			an := analyzer.New(analyzer.Config{
				TargetDomain:      app.cfg.Analyzer.TargetDomain,
				Competitors:       app.cfg.Analyzer.Competitors,
				IncludeSubdomains: app.cfg.Analyzer.IncludeSubdomains,
				TrackSerpFeatures: app.cfg.Analyzer.TrackSerpFeatures,
			}, app.logger)

			result := an.AnalyzeRankings(queries, batch.Results)
			if takeSnapshot {
				snap := an.TakeSnapshot(result)
				app.logger.Info("snapshot stored", "id", snap.ID)
			}
			if compareWith != "" {
				cmp, err := an.CompareWithSnapshot(compareWith, result)
				if err != nil {
					return err
				}
				return emit(map[string]any{"analysis": result, "comparison": cmp})
			}
			switch format {
			case "text":
				return report.WriteText(os.Stdout, result)
			case "json":
				return report.WriteJSON(os.Stdout, result)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&queriesPath, "queries", "q", "queries.json", "path to the generated query list")
	cmd.Flags().BoolVar(&takeSnapshot, "snapshot", false, "store a snapshot of the resulting positions")
	cmd.Flags().StringVar(&compareWith, "compare", "", "snapshot ID to diff against")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	return cmd
}

func warmupCmd() *cobra.Command {
	var queriesPath string
	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Pre-fetch a query set into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if app.cache == nil {
				return fmt.Errorf("cache is not configured")
			}
			queries, err := loadQueries(queriesPath)
			if err != nil {
				return err
			}
			texts := make([]string, len(queries))
			for i, q := range queries {
				texts[i] = q.Text
			}
			warmed := app.cache.Warmup(cmd.Context(), texts, serp.SearchOptions{}, app.client.Search)
			app.logger.Info("warmup complete", "warmed", warmed, "total", len(texts))
			return nil
		},
	}
	cmd.Flags().StringVarP(&queriesPath, "queries", "q", "queries.json", "path to the generated query list")
	return cmd
}

func spendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spend",
		Short: "Print current budget consumption and projection",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()
			return emit(app.budget.Snapshot())
		},
	}
}

// app holds the wired components for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *client.Client
	cache   *cache.Manager
	budget  *budget.Manager
	metrics *metrics.Server
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel)
	a := &app{cfg: cfg, logger: logger}

	// Cache store.
	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		store, err = cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
	default:
		store = cache.NewMemoryStore()
	}
	a.cache = cache.NewManager(store, cache.Config{
		TTL:            cfg.Cache.TTL,
		StaleRetention: cfg.Cache.StaleRetention,
		Namespace:      cfg.Cache.Namespace,
		Compress:       cfg.Cache.Compress,
	}, logger)

	// Budget, mirrored to Redis when both are configured.
	var mirror budget.SpendMirror
	if cfg.Budget.MirrorToRedis && cfg.Cache.Backend == "redis" {
		counter, err := cache.NewSpendCounter(store, cfg.Cache.Namespace)
		if err != nil {
			logger.Warn("spend mirror unavailable", "error", err)
		} else {
			mirror = counter
		}
	}
	a.budget = budget.NewManager(budget.Config{
		DailyBudget:       cfg.Budget.Daily,
		MonthlyBudget:     cfg.Budget.Monthly,
		WarningThreshold:  cfg.Budget.WarningThreshold,
		CriticalThreshold: cfg.Budget.CriticalThreshold,
		OnAlert: func(alert budget.Alert) {
			logger.Warn("budget alert",
				"level", alert.Level, "period", alert.Period,
				"spend", alert.Spend, "budget", alert.Budget)
		},
	}, mirror, logger)

	// Audit backend.
	var audit storage.Backend
	switch cfg.Storage.Backend {
	case "sqlite":
		audit, err = sqlite.New(cfg.Storage.Path)
	case "postgres":
		audit, err = postgres.New(ctx, cfg.Storage.DSN)
	default:
		audit = storage.NewMemory()
	}
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Providers.
	registry := provider.NewRegistry()
	httpc, err := httpclient.New(httpclient.Config{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	for _, pc := range cfg.Providers {
		var impl serp.Provider
		switch pc.Name {
		case "serpapi":
			impl = provider.NewSerpAPI(pc.APIKey, pc.Endpoint, httpc)
		case "serper":
			impl = provider.NewSerper(pc.APIKey, pc.Endpoint, httpc)
		case "google_scrape":
			impl, err = provider.NewGoogleScrape(provider.GoogleScrapeConfig{
				Endpoint:    pc.Endpoint,
				Fingerprint: fingerprint.Profile(cfg.Scrape.Fingerprint),
				UserAgents:  cfg.Scrape.UserAgents,
				Proxies:     cfg.Scrape.Proxies,
				ProxyFile:   cfg.Scrape.ProxyFile,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
		default:
			return nil, fmt.Errorf("unknown provider %q", pc.Name)
		}
		if err := registry.Register(pc, impl); err != nil {
			return nil, err
		}
	}

	a.client = client.New(client.Config{
		Registry:         registry,
		Cache:            a.cache,
		Budget:           a.budget,
		Audit:            audit,
		Logger:           logger,
		BreakerEnabled:   cfg.Client.BreakerEnabled,
		BreakerThreshold: cfg.Client.BreakerThreshold,
		BreakerTimeout:   cfg.Client.BreakerTimeout,
		Burst:            cfg.Client.Burst,
		Concurrency:      cfg.Client.Concurrency,
		QueueSize:        cfg.Client.QueueSize,
		MaxRetries:       cfg.Client.MaxRetries,
		RetryBackoff:     cfg.Client.RetryBackoff,
		CacheFallback:    cfg.Client.CacheFallback,
	})

	if cfg.Metrics.Enabled {
		a.metrics = metrics.Start(cfg.Metrics.Port)
		logger.Info("metrics listening", "port", cfg.Metrics.Port)
	}
	return a, nil
}

func (a *app) close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close failed", "error", err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", "error", err)
		}
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Stop(ctx); err != nil {
			a.logger.Warn("metrics stop failed", "error", err)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadQueries reads a JSON array of generated queries.
func loadQueries(path string) ([]serp.GeneratedQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	var queries []serp.GeneratedQuery
	if err := json.Unmarshal(data, &queries); err != nil {
		return nil, fmt.Errorf("parse queries %s: %w", path, err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries in %s", path)
	}
	return queries, nil
}

func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
