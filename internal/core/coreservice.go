package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jo-hoe/potd/internal/backend/cache"
	"github.com/jo-hoe/potd/internal/backend/commands"
	"github.com/jo-hoe/potd/internal/backend/commandstructure"
	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/metrics"
	"github.com/jo-hoe/potd/internal/scraper"
	"github.com/jo-hoe/potd/internal/summarizer"
	"github.com/jo-hoe/potd/internal/workerpool"
)

// ErrNotFound is returned when no picture (or no image payload) exists for a request.
var ErrNotFound = errors.New("picture not found")

type Variant string

const (
	VariantOriginal Variant = "original"
	VariantDithered Variant = "dithered"
	// VariantDisplay is the original run through the display pipeline.
	VariantDisplay Variant = "display"
)

func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantOriginal, VariantDithered, VariantDisplay:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variant %q, expected original, dithered or display", s)
	}
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	variantCache    cache.VariantCache
	orchestrator    *scraper.Orchestrator
	pool            *workerpool.Pool
	metrics         *metrics.Metrics
	location        *time.Location
	renders         singleflight.Group
	now             func() time.Time
}

type options struct {
	fetcher    scraper.Fetcher
	downloader scraper.Downloader
	summarizer summarizer.Summarizer
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*options)

// WithFetcher replaces the HTTP page fetcher.
func WithFetcher(f scraper.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithDownloader replaces the HTTP image downloader.
func WithDownloader(d scraper.Downloader) Option {
	return func(o *options) { o.downloader = d }
}

func WithSummarizer(s summarizer.Summarizer) Option {
	return func(o *options) { o.summarizer = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for deciding the current picture date.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewCoreService(config *ServiceConfig, opts ...Option) (*CoreService, error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.fetcher == nil || o.downloader == nil {
		client := scraper.NewHTTPClient(config.Source.Timeout, config.Source.UserAgent)
		if o.fetcher == nil {
			o.fetcher = client
		}
		if o.downloader == nil {
			o.downloader = client
		}
	}
	if o.summarizer == nil {
		s, err := summarizer.New(config.Summarizer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize summarizer: %w", err)
		}
		o.summarizer = s
	}

	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	variantCache, err := cache.NewVariantCache(context.Background(), config.Cache)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize variant cache: %w", err)
	}
	slog.Info("variant cache initialized", "type", config.Cache.Type)

	pool := workerpool.New(config.Image.Workers)
	location := config.Location()

	orchestrator, err := scraper.NewOrchestrator(scraper.Config{
		SourceURL:         config.Source.URL,
		UserAgent:         config.Source.UserAgent,
		RegionID:          config.Source.RegionID,
		Location:          location,
		Policy:            config.Resilience,
		LockPath:          config.LockPath,
		SVGFallbackWidth:  config.Image.SVGFallbackWidth,
		SVGFallbackHeight: config.Image.SVGFallbackHeight,
	}, scraper.Dependencies{
		Store:      databaseService,
		Fetcher:    o.fetcher,
		Downloader: o.downloader,
		Summarizer: o.summarizer,
		Pool:       pool,
		Metrics:    o.metrics,
	})
	if err != nil {
		_ = variantCache.Close()
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}
	orchestrator.SetClock(o.now)

	return &CoreService{
		config:          config,
		databaseService: databaseService,
		variantCache:    variantCache,
		orchestrator:    orchestrator,
		pool:            pool,
		metrics:         o.metrics,
		location:        location,
		now:             o.now,
	}, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func (service *CoreService) Metrics() *metrics.Metrics {
	return service.metrics
}

// Today is the current calendar date in the configured time zone.
func (service *CoreService) Today() time.Time {
	return database.DateOf(service.now().In(service.location))
}

// TodayOrLatest returns today's picture, falling back to the most recent one.
// It returns ErrNotFound when nothing is stored yet.
func (service *CoreService) TodayOrLatest(ctx context.Context) (*database.Picture, error) {
	today := service.Today()
	picture, err := service.databaseService.FindByDate(ctx, today)
	if err != nil {
		return nil, err
	}
	if picture != nil {
		return picture, nil
	}

	slog.Warn("no picture for today, falling back to latest", "date", database.FormatDate(today))
	picture, err = service.databaseService.FindLatest(ctx)
	if err != nil {
		return nil, err
	}
	if picture == nil {
		slog.Error("fallback failed, no pictures stored")
		return nil, ErrNotFound
	}
	slog.Info("serving latest picture", "date", database.FormatDate(picture.Date))
	return picture, nil
}

func (service *CoreService) PictureByDate(ctx context.Context, date time.Time) (*database.Picture, error) {
	picture, err := service.databaseService.FindByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if picture == nil {
		return nil, ErrNotFound
	}
	return picture, nil
}

// Render returns the requested image variant of the picture stored for date.
// Original and dithered variants are scaled with the optional dimensions; the
// display variant ignores them. Results are cached.
func (service *CoreService) Render(ctx context.Context, date time.Time, variant Variant, width, height *int) ([]byte, error) {
	if variant == VariantDisplay {
		width, height = nil, nil
	}
	key := cache.VariantKey(database.FormatDate(date), string(variant), width, height)

	if data, ok := service.cachedVariant(ctx, key); ok {
		return data, nil
	}

	v, err, _ := service.renders.Do(key, func() (any, error) {
		picture, err := service.PictureByDate(ctx, date)
		if err != nil {
			return nil, err
		}

		source := picture.OriginalImage
		if variant == VariantDithered {
			source = picture.DitheredImage
		}
		if len(source) == 0 {
			return nil, fmt.Errorf("%w: no %s image for %s", ErrNotFound, variant, database.FormatDate(date))
		}

		data, err := workerpool.Go(ctx, service.pool, func() ([]byte, error) {
			if variant == VariantDisplay {
				return commandstructure.ExecuteCommands(source, service.config.Display.Commands)
			}
			return commands.Scale(source, width, height)
		})
		if err != nil {
			return nil, fmt.Errorf("render %s image for %s: %w", variant, database.FormatDate(date), err)
		}

		if err := service.variantCache.Set(ctx, key, data); err != nil {
			slog.Warn("failed to cache rendered variant", "key", key, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (service *CoreService) cachedVariant(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := service.variantCache.Get(ctx, key)
	if err != nil {
		slog.Warn("variant cache lookup failed", "key", key, "error", err)
		return nil, false
	}
	service.metrics.ObserveVariantCache(ok)
	return data, ok
}

// Scrape runs the acquisition once.
func (service *CoreService) Scrape(ctx context.Context) (*scraper.Result, error) {
	return service.orchestrator.Run(ctx)
}

// RunScheduler scrapes once immediately and then every interval until ctx is
// done. Failed runs are logged; the next tick retries.
func (service *CoreService) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := service.Scrape(ctx)
		if err != nil {
			slog.Error("scheduled scrape failed", "error", err)
		} else {
			slog.Info("scheduled scrape finished", "outcome", result.Outcome, "date", database.FormatDate(result.Date))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (service *CoreService) Close() error {
	return errors.Join(service.variantCache.Close(), service.databaseService.Close())
}
