package imot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/man0l/real-estate-analyzer/config"
	"github.com/man0l/real-estate-analyzer/models"
	"github.com/man0l/real-estate-analyzer/utils"
)

const (
	listWaitTimeout   = 30 * time.Second
	detailWaitTimeout = 30 * time.Second
	// The detail and list pages render their content inside tables; the
	// first table appearing is the readiness signal.
	contentSelector = "table"
)

// Store is the persistence surface the crawler needs.
type Store interface {
	SaveProperty(ctx context.Context, p *models.Property) error
	SaveMetadata(ctx context.Context, key string, value any) error
}

// Scraper drives the paginated crawl: list pages in ascending order,
// listings within a page in document order, one navigation at a time.
type Scraper struct {
	cfg       *config.Config
	logger    *utils.Logger
	store     Store
	extractor *Extractor
	retry     *utils.RetryConfig
	visited   *utils.URLSet

	processed int
}

// New creates a ready-to-use imot.bg Scraper.
func New(cfg *config.Config, logger *utils.Logger, store Store, extractor *Extractor) *Scraper {
	return &Scraper{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		extractor: extractor,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		visited: utils.NewURLSet(),
	}
}

// Scrape runs the full crawl. The passed context is the cancellation token:
// it is checked between pages and between listings, so an interrupt lets the
// in-flight listing persist and the gathered metadata flush before exit.
func (s *Scraper) Scrape(runCtx context.Context) error {
	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[imot] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.cfg.UserAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	// The browser lives on its own context so an interrupt never tears a
	// navigation down mid-listing; runCtx is only consulted between units.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	firstURL := fmt.Sprintf("%s&f1=1", s.cfg.BaseURL)
	s.logger.Info("[imot] Starting crawl at %s", firstURL)

	var firstDoc *goquery.Document
	err := s.retry.Do(runCtx, "first-list-page", func() error {
		doc, err := s.fetchPage(browserCtx, firstURL, listWaitTimeout, false)
		if err != nil {
			return err
		}
		firstDoc = doc
		return nil
	})
	if err != nil {
		return fmt.Errorf("imot: load first page: %w", err)
	}

	meta := ExtractMetadata(firstDoc)
	totalPages := TotalPages(firstDoc)
	s.logger.Info("[imot] Found %d pages to crawl", totalPages)

	// Metadata flushes even when traversal stops early.
	defer s.flushMetadata(meta)

	doc := firstDoc
	for page := 1; page <= totalPages; page++ {
		if interrupted(runCtx) {
			s.logger.Warn("[imot] Interrupt received — stopping before page %d", page)
			return nil
		}

		if page > 1 {
			pageURL := fmt.Sprintf("%s&f1=%d", s.cfg.BaseURL, page)
			s.logger.Info("[imot] Navigating to page %d: %s", page, pageURL)
			var err error
			doc, err = s.fetchPage(browserCtx, pageURL, listWaitTimeout, false)
			if err != nil {
				s.logger.Warn("[imot] Page %d failed: %v — skipping", page, err)
				continue
			}
		}

		links := ListingLinks(doc)
		s.logger.Info("[imot] Page %d/%d — found %d listings", page, totalPages, len(links))

		for _, link := range links {
			if interrupted(runCtx) {
				s.logger.Warn("[imot] Interrupt received — stopping after %d listings", s.processed)
				return nil
			}
			s.processListing(browserCtx, link)
		}
	}

	s.logger.Info("[imot] Crawl complete — %d listings persisted", s.processed)
	return nil
}

// processListing fetches, extracts and persists one detail page. Failures
// are logged and skipped so the crawl always makes forward progress.
func (s *Scraper) processListing(browserCtx context.Context, detailURL string) {
	id, err := PropertyID(detailURL)
	if err != nil {
		s.logger.Debug("[imot] Skipping link without adv id: %s", detailURL)
		return
	}
	if !s.visited.Add(id) {
		s.logger.Debug("[imot] Skipping duplicate listing %s", id)
		return
	}

	s.logger.Info("[imot] Processing listing %s", id)

	doc, err := s.fetchPage(browserCtx, detailURL, detailWaitTimeout, true)
	if err != nil {
		s.logger.Warn("[imot] Listing %s failed: %v — skipping", id, err)
		return
	}

	property := s.extractor.ExtractDetail(doc, id, detailURL)
	if err := s.persist(property); err != nil {
		s.logger.Error("[imot] Listing %s persist failed: %v", id, err)
		return
	}
	s.processed++
}

// persist writes one listing under its own bounded context, so an
// interrupt that cancelled the run while the page was still loading never
// discards the record that was just extracted.
func (s *Scraper) persist(p *models.Property) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.store.SaveProperty(ctx, p)
}

// fetchPage navigates, waits for the primary content container within the
// bounded timeout, optionally expands the truncated description, and parses
// the rendered markup.
func (s *Scraper) fetchPage(browserCtx context.Context, pageURL string, timeout time.Duration, expandDescription bool) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(contentSelector, chromedp.ByQuery),
	}
	if expandDescription {
		actions = append(actions,
			chromedp.Evaluate(`(function(){
				var more = document.querySelector('#dots_link_more');
				if (more) { more.click(); return true; }
				return false;
			})()`, nil),
			chromedp.Sleep(500*time.Millisecond),
		)
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

func (s *Scraper) flushMetadata(meta models.SearchMetadata) {
	// Persist whatever aggregates were gathered, even after an interrupt.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	entries := map[string]any{
		"avg_price_per_sqm": meta.AvgPricePerSqm,
		"total_listings":    meta.TotalListings,
		"search_criteria":   meta.SearchCriteria,
	}
	for key, value := range entries {
		if err := s.store.SaveMetadata(ctx, key, value); err != nil {
			s.logger.Error("[imot] Metadata %q flush failed: %v", key, err)
		}
	}
}

// Processed returns how many listings were persisted in this run.
func (s *Scraper) Processed() int {
	return s.processed
}

func interrupted(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// findChromeBinary locates the Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
