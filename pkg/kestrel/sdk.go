// Package kestrel is the public SDK for building a scraper on top of the
// driver described by spec §4: register steps and entry points, then hand
// them to a Driver that owns the Store, Scheduler, Rate Limiter,
// Speculation Engine, and Fetcher for the run's lifetime.
//
// Example usage:
//
//	s := kestrel.NewScraper("catalog-scraper", "1.0.0")
//	s.Step(kestrel.StepMetadata{Name: "parse_home"}, parseHome, []string{"response"})
//	s.Entry("seed_home", func(params map[string]any) (*types.Request, error) {
//	    return &types.Request{URL: "https://example.com", Continuation: "parse_home"}, nil
//	})
//
//	driver, err := kestrel.Open(context.Background(), s, kestrel.Options{DBPath: "./run.db"})
//	driver.Run(context.Background(), nil)
//	driver.Shutdown(context.Background())
package kestrel

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/waylight/kestrel/internal/archive"
	"github.com/waylight/kestrel/internal/codec"
	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/fetch"
	"github.com/waylight/kestrel/internal/lifecycle"
	"github.com/waylight/kestrel/internal/ratelimit"
	"github.com/waylight/kestrel/internal/scheduler"
	"github.com/waylight/kestrel/internal/speculate"
	"github.com/waylight/kestrel/internal/step"
)

// StepMetadata mirrors internal/step.Metadata: it is re-exported here so a
// scraper author never has to import an internal package to register a step.
type StepMetadata = step.Metadata

// SlotConfig mirrors internal/speculate.SlotConfig.
type SlotConfig = speculate.SlotConfig

// EntryFunc mirrors internal/speculate.EntryFunc.
type EntryFunc = speculate.EntryFunc

// Scraper collects step and entry-point registrations before a Driver is
// opened. It has no runtime state of its own — it is purely a registration
// builder, mirroring the teacher's Crawler-before-Start option pattern but
// for step/entry declarations instead of functional options.
type Scraper struct {
	Name    string
	Version string

	registry      *step.Registry
	directEntries map[string]lifecycle.DirectEntry
	slots         []speculate.SlotConfig
}

// NewScraper builds an empty Scraper identified by name/version (persisted
// into RunMetadata on Open).
func NewScraper(name, version string) *Scraper {
	return &Scraper{
		Name:          name,
		Version:       version,
		registry:      step.NewRegistry(),
		directEntries: make(map[string]lifecycle.DirectEntry),
	}
}

// Step registers a parse step. fn must be a func(...) ([]types.Yield,
// error) whose parameters are named by paramNames in declaration order
// (spec §4.4.2's fixed injectable parameter names).
func (s *Scraper) Step(meta StepMetadata, fn any, paramNames []string) error {
	st, err := step.Register(meta, fn, paramNames)
	if err != nil {
		return fmt.Errorf("kestrel: registering step %q: %w", meta.Name, err)
	}
	return s.registry.Add(st)
}

// Entry registers a non-speculative seed entry point, invoked during the
// run's seed phase (spec §4.8 step 2).
func (s *Scraper) Entry(name string, fn lifecycle.DirectEntry) {
	s.directEntries[name] = fn
}

// Speculate registers a speculative entry point (spec §4.6): the
// Speculation Engine owns its id-enumeration and outcome tracking for the
// run's lifetime.
func (s *Scraper) Speculate(cfg SlotConfig) {
	s.slots = append(s.slots, cfg)
}

// Options configures Open.
type Options struct {
	Config         *config.Config // nil uses config.DefaultConfig()
	Resume         bool
	InstallSignals bool
	ArchiveDir     string // defaults to "./archives" if empty
	Logger         *slog.Logger
}

// Driver is the running façade over a Scraper: every collaborator spec §4
// names, wired together and ready for Run.
type Driver struct {
	cfg     *config.Config
	runtime *lifecycle.Runtime
	archive *archive.Writer
	fetcher scheduler.Fetcher
	logger  *slog.Logger

	stopEvent      <-chan struct{}
	restoreSignals func()
}

// Open runs the open sequence (spec §4.8) for s: opens the Store, builds
// the Rate Limiter/Speculation Engine/Fetcher/Scheduler from cfg, and
// returns a Driver ready for Run.
func Open(ctx context.Context, s *Scraper, opts Options) (*Driver, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))
	}

	archiveDir := opts.ArchiveDir
	if archiveDir == "" {
		archiveDir = "./archives"
	}

	rt, stopEvent, restore, err := lifecycle.Open(ctx, lifecycle.Options{
		DBPath:         cfg.Store.Path,
		Resume:         opts.Resume,
		ScraperName:    s.Name,
		ScraperVersion: s.Version,
		DirectEntries:  s.directEntries,
		InstallSignals: opts.InstallSignals,
	}, logger)
	if err != nil {
		return nil, err
	}

	limiterState, err := rt.Store.LoadRateLimiterState(ctx)
	if err != nil {
		rt.Store.Close()
		return nil, fmt.Errorf("kestrel: loading rate limiter state: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		InitialTokens:       cfg.RateLimiter.InitialTokens,
		InitialRate:         cfg.RateLimiter.InitialRate,
		BucketSize:          cfg.RateLimiter.BucketSize,
		MinRate:             cfg.RateLimiter.MinRate,
		MaxRate:             cfg.RateLimiter.MaxRate,
		Jitter:              cfg.RateLimiter.Jitter,
		SuccessStreakToGrow: cfg.RateLimiter.SuccessStreakToGrow,
	}, limiterState)

	var specEngine *speculate.Engine
	if len(s.slots) > 0 {
		specEngine = speculate.New(rt.Store, s.slots)
	}

	c, err := codec.New(cfg.Codec.DictCacheSize)
	if err != nil {
		rt.Store.Close()
		return nil, fmt.Errorf("kestrel: building codec: %w", err)
	}

	var fetcher scheduler.Fetcher
	switch cfg.Fetcher.Type {
	case "browser":
		fetcher, err = fetch.NewBrowserFetcher(cfg, logger)
	default:
		fetcher, err = fetch.NewHTTPFetcher(cfg, logger)
	}
	if err != nil {
		rt.Store.Close()
		return nil, fmt.Errorf("kestrel: building fetcher: %w", err)
	}

	archiveWriter, err := archive.NewWriter(rt.Store, archiveDir)
	if err != nil {
		rt.Store.Close()
		return nil, err
	}

	sch := scheduler.New(rt.Store, fetcher, limiter, c, s.registry, specEngine, archiveWriter, scheduler.Config{
		NumWorkers:      cfg.Scheduler.NumWorkers,
		BaseDelay:       cfg.Scheduler.BaseDelay,
		Jitter:          cfg.Scheduler.Jitter,
		MaxBackoff:      cfg.Scheduler.MaxBackoff,
		MaxTotalBackoff: cfg.Scheduler.MaxTotalBackoff,
		MaxRetries:      cfg.Scheduler.MaxRetries,
		DrainPollEvery:  cfg.Scheduler.DrainPollEvery,
		CodecLevel:      cfg.Codec.Level,
	}, logger)

	rt.Scheduler = sch
	rt.Speculation = specEngine
	rt.Limiter = limiter

	return &Driver{
		cfg:            cfg,
		runtime:        rt,
		archive:        archiveWriter,
		fetcher:        fetcher,
		logger:         logger,
		stopEvent:      stopEvent,
		restoreSignals: restore,
	}, nil
}

// Run executes the run sequence (spec §4.8): seed, drain, set final status.
// seedParams follows spec §4.8 step 2's nil/empty/named distinction — see
// lifecycle.Runtime.Seed.
func (d *Driver) Run(ctx context.Context, seedParams []lifecycle.SeedInvocation) error {
	return d.runtime.Run(ctx, seedParams, d.stopEvent)
}

// Archive exposes the content-hashed archival writer for steps that mark a
// request as archival rather than parsed.
func (d *Driver) Archive() *archive.Writer { return d.archive }

// Runtime exposes the underlying lifecycle.Runtime (Store, Scheduler,
// Speculation Engine) for CLI tooling and ad hoc queries.
func (d *Driver) Runtime() *lifecycle.Runtime { return d.runtime }

// Shutdown restores signal handlers, persists rate-limiter state, and
// closes the Store (spec §4.8 step 5). Closing a fetcher that implements
// io.Closer releases its resources too.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.restoreSignals()
	if closer, ok := d.fetcher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			d.logger.Error("closing fetcher failed", "error", err)
		}
	}
	return d.runtime.Shutdown(ctx)
}
