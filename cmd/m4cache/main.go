package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"m4cache/pkg/cache"
	"m4cache/pkg/config"
	"m4cache/pkg/db"
	"m4cache/pkg/db/maintenance"
	"m4cache/pkg/geo"
	"m4cache/pkg/logging"
	"m4cache/pkg/model"
	"m4cache/pkg/probe"
	"m4cache/pkg/request"
	"m4cache/pkg/routing"
	"m4cache/pkg/store"
	"m4cache/pkg/tiles"
	"m4cache/pkg/tracker"
	"m4cache/pkg/version"
)

const defaultConfigPath = "configs/m4cache.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	noPrefetch = flag.Bool("no-prefetch", false, "Skip downloading the configured prefetch areas")
	routeFlag  = flag.String("route", "", "Compute the walking route between two stores, as FROM_ID:TO_ID")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{prefetch: !*noPrefetch, route: *routeFlag}
	if err := run(ctx, *configPath, opts); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	prefetch bool
	route    string // "FROM_ID:TO_ID", empty for none
}

// App holds the wired cache components handed to the application layer.
type App struct {
	Config   *config.Config
	Provider *config.UnifiedProvider
	Store    *store.Cache
	Tiles    *tiles.Cache
	Routes   *routing.Service
	Tracker  *tracker.Tracker
}

// Close releases the cache database.
func (a *App) Close() error {
	return a.Store.Close()
}

func run(ctx context.Context, path string, opts runOptions) error {
	appCfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("m4cache started", "version", version.Version, "data_dir", appCfg.DataDir)

	app := newApp(ctx, appCfg)
	defer app.Close()

	results := probe.Run(ctx, []probe.Probe{
		probe.DirWritable("tile cache dir", appCfg.TileDir()),
		probe.Ready("cache database", app.Store),
	})
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	if _, err := maintenance.Run(ctx, app.Store, app.Provider, app.Tiles, appCfg.Seed.StoresCSV); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	if opts.prefetch {
		res, err := prefetchAreas(ctx, app.Tiles, appCfg.Tiles.Prefetch)
		if err != nil {
			return err
		}
		if res.Total() > 0 {
			slog.Info("Prefetch finished",
				"downloaded", res.Downloaded, "skipped", res.Skipped,
				"failed", res.Failed, "out_of_range", res.OutOfRange)
		}
	}

	if opts.route != "" {
		if err := printRoute(ctx, app.Routes, opts.route); err != nil {
			return err
		}
	}

	logStats(app.Tracker)
	if line := logging.LastWarning.GetLastLine(); line != "" {
		fmt.Fprintln(os.Stderr, "Last warning:", line)
	}
	return nil
}

// newApp wires the cache components. A database that cannot be opened leaves
// the store degraded instead of failing.
func newApp(ctx context.Context, cfg *config.Config) *App {
	tr := tracker.New()

	st := store.NewCache(db.NewConnector(cfg.DBPath()),
		store.WithImageRetention(cfg.Images.Retention.Std()))
	st.InitNonFatal(ctx)

	p := config.NewProvider(cfg, st)

	client := request.New(tr, request.Options{
		Timeout:     cfg.Tiles.Timeout.Std(),
		UserAgent:   cfg.Tiles.UserAgent,
		Throttle:    cfg.Tiles.Throttle.Std(),
		MaxAttempts: cfg.Request.Retries,
		BaseDelay:   cfg.Request.Backoff.BaseDelay.Std(),
		MaxDelay:    cfg.Request.Backoff.MaxDelay.Std(),
		Logger:      logging.RequestLogger,
	})

	tc := tiles.New(cache.NewFileStore(cfg.TileDir()), client, tr, tiles.Config{
		BaseURL:     p.TileBaseURL(ctx),
		Extension:   cfg.Tiles.Extension,
		Concurrency: p.TileConcurrency(ctx),
	})

	return &App{
		Config:   cfg,
		Provider: p,
		Store:    st,
		Tiles:    tc,
		Routes:   routing.NewService(st),
		Tracker:  tr,
	}
}

// prefetchAreas downloads every configured area at each of its zooms.
// Only setup failures and cancellation abort the run.
func prefetchAreas(ctx context.Context, tc *tiles.Cache, areas []config.AreaConfig) (tiles.Result, error) {
	var total tiles.Result
	for _, a := range areas {
		for _, z := range a.Zooms {
			res, err := tc.DownloadArea(ctx, a.Lat, a.Lon, z, a.Radius.Kilometers())
			total.Downloaded += res.Downloaded
			total.Skipped += res.Skipped
			total.Failed += res.Failed
			total.OutOfRange += res.OutOfRange
			if err != nil {
				return total, fmt.Errorf("prefetch %s z%d: %w", a.Name, z, err)
			}
			slog.Info("Prefetched area", "area", a.Name, "zoom", z,
				"downloaded", res.Downloaded, "skipped", res.Skipped, "failed", res.Failed)
		}
	}
	return total, nil
}

func printRoute(ctx context.Context, svc *routing.Service, pair string) error {
	from, to, ok := strings.Cut(pair, ":")
	if !ok || from == "" || to == "" {
		return fmt.Errorf("invalid -route %q, want FROM_ID:TO_ID", pair)
	}
	r, err := svc.CalculateRouteBetweenStores(ctx, from, to)
	if err != nil {
		return fmt.Errorf("route %s -> %s: %w", from, to, err)
	}
	line, err := formatRoute(from, to, r)
	if err != nil {
		return err
	}
	fmt.Println(line)
	return nil
}

// formatRoute describes a route between two stores for the terminal.
func formatRoute(fromID, toID string, r *model.Route) (string, error) {
	a, err := geo.ParseLocationKey(r.FromLocation)
	if err != nil {
		return "", err
	}
	b, err := geo.ParseLocationKey(r.ToLocation)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s) -> %s (%s): %.0f m heading %03.0f, %d s walking",
		fromID, a.Key(), toID, b.Key(), r.DistanceMeters, geo.Bearing(a, b), r.DurationSeconds), nil
}

func logStats(tr *tracker.Tracker) {
	snap := tr.Snapshot()
	for _, name := range tr.Providers() {
		s := snap[name]
		slog.Info("Tile provider stats", "provider", name,
			"hits", s.CacheHits, "misses", s.CacheMisses,
			"fetched", s.FetchSuccess, "failed", s.FetchFailure, "bytes", s.BytesFetched)
	}
}
