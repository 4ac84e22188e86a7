package scraper

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/net/html"

	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/metrics"
	"github.com/jo-hoe/potd/internal/resilience"
	"github.com/jo-hoe/potd/internal/summarizer"
	"github.com/jo-hoe/potd/internal/workerpool"
)

const sourceURL = "https://en.wikipedia.org/wiki/Main_Page"

type fakeFetcher struct {
	mu    sync.Mutex
	page  string
	errs  []error // consumed one per call before the page is served
	calls int

	// when set, Fetch signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ string) (*html.Node, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return html.Parse(strings.NewReader(f.page))
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDownloader struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls int
}

func (d *fakeDownloader) Download(context.Context, string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.data, d.err
}

func (d *fakeDownloader) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeSummarizer struct {
	mu      sync.Mutex
	summary string
	err     error
	calls   int
}

func (s *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.summary, s.err
}

func (s *fakeSummarizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := range 12 {
		for x := range 16 {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func pageWithImage(src string) string {
	return strings.Replace(featuredPage,
		"//upload.wikimedia.org/wikipedia/commons/thumb/a/a4/Grey_heron.jpg/300px-Grey_heron.jpg", src, 1)
}

func fastPolicy() resilience.Policy {
	p := resilience.DefaultPolicy()
	p.RetryDelay = time.Millisecond
	p.RateWindow = time.Nanosecond
	p.RateLimit = 1000
	return p
}

type harness struct {
	orchestrator *Orchestrator
	store        database.DatabaseService
	fetcher      *fakeFetcher
	downloader   *fakeDownloader
	summarizer   *fakeSummarizer
	day          time.Time
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	store, err := database.NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:      store,
		fetcher:    &fakeFetcher{page: featuredPage},
		downloader: &fakeDownloader{data: testPNG(t)},
		summarizer: &fakeSummarizer{summary: "A heron waits in the shallows."},
		day:        time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}

	config := Config{
		SourceURL: sourceURL,
		UserAgent: "potd-test",
		Location:  time.UTC,
		Policy:    fastPolicy(),
	}
	if configure != nil {
		configure(&config)
	}

	o, err := NewOrchestrator(config, Dependencies{
		Store:      store,
		Fetcher:    h.fetcher,
		Downloader: h.downloader,
		Summarizer: h.summarizer,
		Pool:       workerpool.New(2),
		Metrics:    metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	o.now = func() time.Time { return h.day }
	h.orchestrator = o
	return h
}

func (h *harness) run(t *testing.T) *Result {
	t.Helper()
	result, err := h.orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return result
}

func TestRun_CreatesPicture(t *testing.T) {
	h := newHarness(t, nil)

	result := h.run(t)
	if result.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s (%s)", result.Outcome, result.Reason)
	}

	stored, err := h.store.FindByDate(context.Background(), database.DateOf(h.day))
	if err != nil || stored == nil {
		t.Fatalf("expected stored picture, got %v, %v", stored, err)
	}
	if stored.Description != "The grey heron is a long-legged wading bird of the family Ardeidae." {
		t.Errorf("unexpected description %q", stored.Description)
	}
	if stored.Credit != "Jane Doe" {
		t.Errorf("unexpected credit %q", stored.Credit)
	}
	if stored.ImageURL != "https://upload.wikimedia.org/wikipedia/commons/a/a4/Grey_heron.jpg" {
		t.Errorf("unexpected image url %q", stored.ImageURL)
	}
	if stored.ShortDescription != "A heron waits in the shallows." {
		t.Errorf("unexpected short description %q", stored.ShortDescription)
	}
	if !bytes.Equal(stored.OriginalImage, h.downloader.data) {
		t.Error("original image must be the downloaded bytes")
	}
	dithered, err := png.Decode(bytes.NewReader(stored.DitheredImage))
	if err != nil {
		t.Fatalf("dithered image is not a PNG: %v", err)
	}
	if dithered.Bounds().Dx() != 16 || dithered.Bounds().Dy() != 12 {
		t.Errorf("dithered image has size %v", dithered.Bounds())
	}
}

func TestRun_SameDayIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)

	result := h.run(t)
	if result.Outcome != OutcomeExists {
		t.Fatalf("expected exists, got %s", result.Outcome)
	}
	if h.fetcher.Calls() != 1 || h.downloader.Calls() != 1 || h.summarizer.Calls() != 1 {
		t.Errorf("second run must not fetch, download or summarize: fetch=%d download=%d summarize=%d",
			h.fetcher.Calls(), h.downloader.Calls(), h.summarizer.Calls())
	}
}

func TestRun_ReusesAssetsOfRecurringImage(t *testing.T) {
	h := newHarness(t, nil)
	first := h.run(t)

	h.day = h.day.AddDate(0, 0, 1)
	h.summarizer.summary = "this must not be used"
	second := h.run(t)

	if second.Outcome != OutcomeReused {
		t.Fatalf("expected reused, got %s", second.Outcome)
	}
	if h.downloader.Calls() != 1 || h.summarizer.Calls() != 1 {
		t.Errorf("recurring image must not be downloaded or summarized again: download=%d summarize=%d",
			h.downloader.Calls(), h.summarizer.Calls())
	}
	a, b := first.Picture, second.Picture
	if !bytes.Equal(a.OriginalImage, b.OriginalImage) || !bytes.Equal(a.DitheredImage, b.DitheredImage) {
		t.Error("image bytes must be copied from the earlier picture")
	}
	if a.ShortDescription != b.ShortDescription {
		t.Errorf("short description %q must be copied, got %q", a.ShortDescription, b.ShortDescription)
	}
	if !b.Date.Equal(database.DateOf(h.day)) {
		t.Errorf("new picture stored under %v", b.Date)
	}
}

func TestRun_SummarizerFailureUsesPlaceholder(t *testing.T) {
	h := newHarness(t, nil)
	h.summarizer.err = summarizer.ErrSummarization

	result := h.run(t)
	if result.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", result.Outcome)
	}
	if result.Picture.ShortDescription != summarizer.Placeholder {
		t.Errorf("expected placeholder, got %q", result.Picture.ShortDescription)
	}
}

func TestRun_ExtractionFailureStoresNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.page = `<html><body><div id="mp-itn">news</div></body></html>`

	_, err := h.orchestrator.Run(context.Background())
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if h.fetcher.Calls() != 1 {
		t.Errorf("layout errors must not be retried, fetch calls=%d", h.fetcher.Calls())
	}
	assertNothingStored(t, h)
}

func TestRun_DecodeFailureStoresNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.downloader.data = []byte("definitely not an image")

	_, err := h.orchestrator.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for undecodable image")
	}
	if h.downloader.Calls() != 1 {
		t.Errorf("decode errors must not be retried, download calls=%d", h.downloader.Calls())
	}
	assertNothingStored(t, h)
}

func TestRun_RetriesTransientFetchErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.errs = []error{ErrFetch, ErrFetch}

	result := h.run(t)
	if result.Outcome != OutcomeCreated {
		t.Fatalf("expected created after retries, got %s", result.Outcome)
	}
	if h.fetcher.Calls() != 3 {
		t.Errorf("expected 3 fetch attempts, got %d", h.fetcher.Calls())
	}
}

func TestRun_DownloadFailureGivesUp(t *testing.T) {
	h := newHarness(t, nil)
	h.downloader.err = ErrDownload

	_, err := h.orchestrator.Run(context.Background())
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("expected ErrDownload, got %v", err)
	}
	if h.downloader.Calls() != 4 {
		t.Errorf("expected one attempt plus 3 retries, got %d", h.downloader.Calls())
	}
	assertNothingStored(t, h)
}

func TestRun_RateLimitedRunIsSkipped(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Policy.RateWindow = 10 * time.Minute
		c.Policy.RateLimit = 1
	})
	h.run(t)

	h.day = h.day.AddDate(0, 0, 1)
	result := h.run(t)
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", result.Outcome)
	}
	if h.fetcher.Calls() != 1 {
		t.Errorf("rate limited run must not fetch, calls=%d", h.fetcher.Calls())
	}
}

func TestRun_OpenBreakerIsSkipped(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Policy.MaxRetries = 0
		c.Policy.RequestVolumeThreshold = 1
		c.Policy.FailureRatioThreshold = 1
	})
	h.fetcher.errs = []error{ErrFetch}

	if _, err := h.orchestrator.Run(context.Background()); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	result := h.run(t)
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped while breaker is open, got %s", result.Outcome)
	}
	if h.fetcher.Calls() != 1 {
		t.Errorf("open breaker must not contact the source, calls=%d", h.fetcher.Calls())
	}
}

func TestRun_SkipsWhenLockHeldElsewhere(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "potd.lock")
	h := newHarness(t, func(c *Config) { c.LockPath = lockPath })

	other := flock.New(lockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("failed to take lock: %v", err)
	}

	result := h.run(t)
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", result.Outcome)
	}

	if err := other.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if result := h.run(t); result.Outcome != OutcomeCreated {
		t.Fatalf("expected created once the lock is free, got %s", result.Outcome)
	}
}

func TestRun_OverlappingRunsForDifferentDaysShareTheLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "potd.lock")
	h := newHarness(t, func(c *Config) { c.LockPath = lockPath })
	h.fetcher.entered = make(chan struct{}, 1)
	h.fetcher.release = make(chan struct{})

	type runResult struct {
		result *Result
		err    error
	}
	first := make(chan runResult, 1)
	go func() {
		result, err := h.orchestrator.Run(context.Background())
		first <- runResult{result, err}
	}()
	<-h.fetcher.entered

	h.day = h.day.AddDate(0, 0, 1)
	second, err := h.orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Outcome != OutcomeSkipped {
		t.Errorf("expected the overlapping run to be skipped, got %s", second.Outcome)
	}

	close(h.fetcher.release)
	got := <-first
	if got.err != nil {
		t.Fatalf("first run: %v", got.err)
	}
	if got.result.Outcome != OutcomeCreated {
		t.Errorf("expected the first run to create, got %s", got.result.Outcome)
	}

	other := flock.New(lockPath)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("lock should be free after both runs, locked=%v err=%v", locked, err)
	}
	_ = other.Unlock()
}

// conflictStore reports every insert as a duplicate date.
type conflictStore struct {
	database.DatabaseService
}

func (conflictStore) Insert(context.Context, *database.Picture) (*database.Picture, error) {
	return nil, database.ErrConflict
}

func TestRun_ConcurrentInsertReportsExists(t *testing.T) {
	h := newHarness(t, nil)
	o, err := NewOrchestrator(Config{
		SourceURL: sourceURL,
		Location:  time.UTC,
		Policy:    fastPolicy(),
	}, Dependencies{
		Store:      conflictStore{DatabaseService: h.store},
		Fetcher:    h.fetcher,
		Downloader: h.downloader,
		Summarizer: h.summarizer,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	o.now = func() time.Time { return h.day }

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("conflict must not surface as an error: %v", err)
	}
	if result.Outcome != OutcomeExists {
		t.Errorf("expected exists, got %s", result.Outcome)
	}
	if h.downloader.Calls() != 1 {
		t.Errorf("expected the run to reach persistence, downloads=%d", h.downloader.Calls())
	}
}

func TestRun_RasterizesVectorSources(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.SVGFallbackWidth = 64
		c.SVGFallbackHeight = 64
	})
	h.fetcher.page = pageWithImage("//upload.wikimedia.org/wikipedia/commons/thumb/1/1f/Map.svg/800px-Map.svg.png")
	h.downloader.data = []byte(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="40" height="20"><rect x="0" y="0" width="20" height="20" fill="black"/></svg>`)

	result := h.run(t)
	if result.Picture.ImageURL != "https://upload.wikimedia.org/wikipedia/commons/1/1f/Map.svg" {
		t.Errorf("unexpected image url %q", result.Picture.ImageURL)
	}
	original, err := png.Decode(bytes.NewReader(result.Picture.OriginalImage))
	if err != nil {
		t.Fatalf("stored original must be the rasterized PNG: %v", err)
	}
	if original.Bounds().Dx() != 40 || original.Bounds().Dy() != 20 {
		t.Errorf("expected 40x20 raster, got %v", original.Bounds())
	}
}

func TestRun_ConcurrentTriggersStoreOnePicture(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orchestrator.Run(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Run: %v", err)
	}

	if h.downloader.Calls() != 1 {
		t.Errorf("expected a single download, got %d", h.downloader.Calls())
	}
	stored, err := h.store.FindByDate(context.Background(), database.DateOf(h.day))
	if err != nil || stored == nil {
		t.Fatalf("expected stored picture, got %v, %v", stored, err)
	}
}

func TestRun_CancelledContextStoresNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.orchestrator.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled run")
	}
	assertNothingStored(t, h)
}

func assertNothingStored(t *testing.T, h *harness) {
	t.Helper()
	latest, err := h.store.FindLatest(context.Background())
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected no stored picture, found one for %s", database.FormatDate(latest.Date))
	}
}
