package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/jo-hoe/potd/internal/backend/commands"
	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/metrics"
	"github.com/jo-hoe/potd/internal/resilience"
	"github.com/jo-hoe/potd/internal/summarizer"
	"github.com/jo-hoe/potd/internal/workerpool"
)

type Outcome string

const (
	// OutcomeCreated: a new picture was downloaded and stored.
	OutcomeCreated Outcome = "created"
	// OutcomeReused: a new picture was stored with the assets of an earlier
	// picture sharing its image URL.
	OutcomeReused Outcome = "reused"
	// OutcomeExists: today's picture was already stored.
	OutcomeExists Outcome = "exists"
	// OutcomeSkipped: the run was rejected by the rate limiter, the circuit
	// breaker or another process holding the run lock.
	OutcomeSkipped Outcome = "skipped"

	outcomeFailed = "failed"
)

type Result struct {
	Outcome Outcome
	Date    time.Time
	Reason  string
	Picture *database.Picture
}

type Config struct {
	SourceURL string
	UserAgent string
	RegionID  string
	Location  *time.Location
	Policy    resilience.Policy
	// LockPath enables a cross-process run lock when set.
	LockPath          string
	SVGFallbackWidth  int
	SVGFallbackHeight int
}

type Dependencies struct {
	Store      database.DatabaseService
	Fetcher    Fetcher
	Downloader Downloader
	Summarizer summarizer.Summarizer
	Pool       *workerpool.Pool
	Metrics    *metrics.Metrics
}

// Orchestrator runs the daily acquisition of the picture of the day.
type Orchestrator struct {
	config Config
	deps   Dependencies
	guard  *resilience.Guard
	group  singleflight.Group
	now    func() time.Time
}

func NewOrchestrator(config Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Store == nil || deps.Fetcher == nil || deps.Downloader == nil {
		return nil, errors.New("orchestrator needs a store, a fetcher and a downloader")
	}
	if config.SourceURL == "" {
		return nil, errors.New("orchestrator needs a source URL")
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.RegionID == "" {
		config.RegionID = DefaultRegionID
	}
	if deps.Summarizer == nil {
		deps.Summarizer = summarizer.Disabled{}
	}
	if deps.Pool == nil {
		deps.Pool = workerpool.New(0)
	}

	guard, err := resilience.NewGuard(config.Policy, IsRetryable)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		config: config,
		deps:   deps,
		guard:  guard,
		now:    time.Now,
	}, nil
}

// SetClock replaces time.Now when deciding the date of a run.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Today is the calendar day a run started now would store.
func (o *Orchestrator) Today() time.Time {
	return database.DateOf(o.now().In(o.config.Location))
}

// Run performs one acquisition for today. Duplicate calls for the same day
// made while a run is in flight share its result.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	date := o.Today()
	v, err, shared := o.group.Do(database.FormatDate(date), func() (any, error) {
		return o.run(ctx, date)
	})
	if shared {
		slog.Debug("joined in-flight scrape run", "date", database.FormatDate(date))
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// acquisition is what the guarded span hands to the rest of the run.
type acquisition struct {
	extraction *Extraction
	original   []byte
	dithered   []byte
	reusedFrom *database.Picture
}

func (o *Orchestrator) run(ctx context.Context, date time.Time) (result *Result, err error) {
	started := time.Now()
	day := database.FormatDate(date)
	defer func() {
		outcome := outcomeFailed
		if result != nil {
			outcome = string(result.Outcome)
		}
		if o.deps.Metrics != nil {
			o.deps.Metrics.ObserveRun(outcome, time.Since(started))
		}
	}()

	slog.Info("starting picture of the day scrape", "date", day)

	if o.config.LockPath != "" {
		// TryLock succeeds on an instance that already holds the lock; one instance per run.
		lock := flock.New(o.config.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire run lock %s: %w", o.config.LockPath, err)
		}
		if !locked {
			slog.Info("another run holds the scrape lock, skipping", "date", day, "lock", o.config.LockPath)
			return &Result{Outcome: OutcomeSkipped, Date: date, Reason: "run lock held by another run"}, nil
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				slog.Error("failed to release run lock", "lock", o.config.LockPath, "error", err)
			}
		}()
	}

	existing, err := o.deps.Store.FindByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("check existing picture for %s: %w", day, err)
	}
	if existing != nil {
		slog.Info("picture of the day already stored, skipping", "date", day)
		return &Result{Outcome: OutcomeExists, Date: date, Picture: existing}, nil
	}

	var acq *acquisition
	err = o.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		acq, err = o.acquire(ctx)
		return err
	})
	if errors.Is(err, resilience.ErrRejected) {
		slog.Warn("scrape run skipped", "date", day, "reason", err)
		return &Result{Outcome: OutcomeSkipped, Date: date, Reason: err.Error()}, nil
	}
	if err != nil {
		attrs := []any{"date", day, "error", err}
		if acq != nil {
			attrs = append(attrs, "image_url", acq.extraction.ImageURL)
		}
		if errors.Is(err, ErrExtraction) {
			slog.Error("scrape failed, source page layout changed", attrs...)
		} else {
			slog.Error("scrape failed", attrs...)
		}
		return nil, fmt.Errorf("scrape %s: %w", day, err)
	}

	picture := &database.Picture{
		Date:          date,
		Description:   acq.extraction.Description,
		Credit:        acq.extraction.Credit,
		ImageURL:      acq.extraction.ImageURL,
		OriginalImage: acq.original,
		DitheredImage: acq.dithered,
	}
	outcome := OutcomeCreated
	if acq.reusedFrom != nil {
		outcome = OutcomeReused
		picture.ShortDescription = acq.reusedFrom.ShortDescription
	} else {
		picture.ShortDescription = summarizer.SummarizeOrPlaceholder(ctx, o.deps.Summarizer, picture.Description)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scrape %s interrupted before persisting: %w", day, err)
	}
	stored, err := o.deps.Store.Insert(ctx, picture)
	if errors.Is(err, database.ErrConflict) {
		slog.Info("picture of the day was stored concurrently", "date", day)
		return &Result{Outcome: OutcomeExists, Date: date}, nil
	}
	if err != nil {
		slog.Error("failed to store picture of the day", "date", day, "image_url", picture.ImageURL, "error", err)
		return nil, fmt.Errorf("store picture for %s: %w", day, err)
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.SetLastSuccess(time.Now())
	}
	slog.Info("stored picture of the day", "date", day, "outcome", outcome, "image_url", stored.ImageURL)
	return &Result{Outcome: outcome, Date: date, Picture: stored}, nil
}

// acquire fetches and parses the page, then either reuses the assets of an
// earlier picture with the same image URL or downloads and transforms the
// image.
func (o *Orchestrator) acquire(ctx context.Context) (*acquisition, error) {
	slog.Info("fetching source page", "url", o.config.SourceURL)
	doc, err := o.deps.Fetcher.Fetch(ctx, o.config.SourceURL, o.config.UserAgent)
	if err != nil {
		return nil, err
	}

	extraction, err := ExtractRegion(doc, o.config.RegionID, o.config.SourceURL)
	if err != nil {
		return nil, err
	}
	slog.Info("found featured picture", "image_ref", extraction.RawImageRef, "image_url", extraction.ImageURL)
	acq := &acquisition{extraction: extraction}

	previous, err := o.deps.Store.FindByImageURL(ctx, extraction.ImageURL)
	if err != nil {
		return acq, fmt.Errorf("look up image %s: %w", extraction.ImageURL, err)
	}
	if previous != nil {
		slog.Info("image already stored, reusing assets and summary",
			"image_url", extraction.ImageURL, "from_date", database.FormatDate(previous.Date))
		acq.original = previous.OriginalImage
		acq.dithered = previous.DitheredImage
		acq.reusedFrom = previous
		return acq, nil
	}

	slog.Info("downloading image", "image_url", extraction.ImageURL)
	data, err := o.deps.Downloader.Download(ctx, extraction.ImageURL)
	if err != nil {
		return acq, err
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveDownload(len(data))
	}
	slog.Info("image downloaded", "image_url", extraction.ImageURL, "bytes", len(data))

	err = o.deps.Pool.Run(ctx, func() error {
		original, dithered, err := o.transform(data)
		acq.original, acq.dithered = original, dithered
		return err
	})
	if err != nil {
		return acq, fmt.Errorf("transform %s: %w", extraction.ImageURL, err)
	}
	return acq, nil
}

// transform normalizes the download to PNG, rasterizing vector sources, and
// produces the dithered variant.
func (o *Orchestrator) transform(data []byte) (original, dithered []byte, err error) {
	converter := commands.NewPngConverterCommandWithFallback(o.config.SVGFallbackWidth, o.config.SVGFallbackHeight)
	original, err = converter.Execute(data)
	if err != nil {
		return nil, nil, err
	}
	dithered, err = commands.Dither(original)
	if err != nil {
		return nil, nil, err
	}
	return original, dithered, nil
}
