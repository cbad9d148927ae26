package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/stabilize"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// ChromeOptions configures a ChromeRenderer
type ChromeOptions struct {
	ExecPath           string // Empty = let chromedp locate Chrome
	Headless           bool
	UserAgent          string
	MaxTabs            int
	NavigationTimeout  time.Duration
	LinkExtractTimeout time.Duration
	Links              LinkOptions
}

// partialLoadProbeTimeout bounds the readyState/title check after a navigation timeout
const partialLoadProbeTimeout = 2 * time.Second

// ChromeRenderer loads pages in tabs of one shared headless Chrome and waits for them to settle
// before reading the DOM.
type ChromeRenderer struct {
	opts          ChromeOptions
	detector      *stabilize.Detector
	tabs          *semaphore.Weighted
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	log           *logrus.Entry
}

// allocatorOptions builds the Chrome command line
func allocatorOptions(opts ChromeOptions) []chromedp.ExecAllocatorOption {
	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	return execOpts
}

// NewChromeRenderer starts the browser. Close must be called to shut it down.
func NewChromeRenderer(opts ChromeOptions, detector *stabilize.Detector, log *logrus.Entry) (*ChromeRenderer, error) {
	if opts.MaxTabs <= 0 {
		opts.MaxTabs = 1
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.LinkExtractTimeout <= 0 {
		opts.LinkExtractTimeout = 10 * time.Second
	}
	rendererLog := log.WithField("component", "chrome_renderer")

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(rendererLog.Debugf),
		chromedp.WithErrorf(rendererLog.Debugf),
	)

	// An empty Run launches the browser process
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("%w: starting chrome: %w", utils.ErrRenderer, err)
	}
	rendererLog.Infof("Chrome started (headless=%v, max_tabs=%d)", opts.Headless, opts.MaxTabs)

	return &ChromeRenderer{
		opts:          opts,
		detector:      detector,
		tabs:          semaphore.NewWeighted(int64(opts.MaxTabs)),
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		log:           rendererLog,
	}, nil
}

// Close shuts down the browser
func (r *ChromeRenderer) Close() {
	r.cancelBrowser()
	r.cancelAlloc()
}

// Render navigates a fresh tab to rawURL, waits for the page to settle and extracts its links.
// Failures are returned as *NavigationError, renderer faults wrap utils.ErrRenderer, and a done
// ctx is returned as its own error.
func (r *ChromeRenderer) Render(ctx context.Context, rawURL string) (*models.PageVisit, error) {
	if err := r.tabs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.tabs.Release(1)

	pageLog := r.log.WithField("url", rawURL)

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: opening tab: %w", utils.ErrRenderer, err)
	}

	status, err := r.navigate(tabCtx, rawURL, pageLog)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	outcome, err := r.detector.WaitQuiet(tabCtx, newChromeTarget(tabCtx, pageLog))
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !outcome.Quiet {
		pageLog.Debugf("Page did not settle within %v (inflight=%d), extracting anyway", outcome.Elapsed, outcome.InflightAtEnd)
	}

	visit, err := r.snapshot(tabCtx, rawURL, pageLog)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	visit.StatusCode = status
	visit.Quiet = outcome.Quiet
	visit.StabilizeElapsed = outcome.Elapsed
	return visit, nil
}

// navigate loads rawURL and returns the main document status (0 if not observed).
// A timeout still counts as loaded when the document got far enough to be read.
func (r *ChromeRenderer) navigate(tabCtx context.Context, rawURL string, pageLog *logrus.Entry) (int, error) {
	navCtx, cancel := context.WithTimeout(tabCtx, r.opts.NavigationTimeout)
	defer cancel()

	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(rawURL))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			if r.partiallyLoaded(tabCtx) {
				pageLog.Debug("Navigation timed out but the document is usable")
				return 0, nil
			}
			return 0, &NavigationError{Kind: KindTimeout, URL: rawURL, Err: err}
		}
		return 0, TransportError(rawURL, err)
	}

	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	if !IsSuccessStatus(status) {
		return status, StatusError(rawURL, status)
	}
	return status, nil
}

func (r *ChromeRenderer) partiallyLoaded(tabCtx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(tabCtx, partialLoadProbeTimeout)
	defer cancel()

	var readyState, title string
	if err := chromedp.Run(probeCtx,
		chromedp.Evaluate(stabilize.ReadyStateExpr, &readyState),
		chromedp.Title(&title),
	); err != nil {
		return false
	}
	return readyState == "interactive" || readyState == "complete" || strings.TrimSpace(title) != ""
}

// snapshot reads the settled DOM and extracts title and links
func (r *ChromeRenderer) snapshot(tabCtx context.Context, rawURL string, pageLog *logrus.Entry) (*models.PageVisit, error) {
	linkCtx, cancel := context.WithTimeout(tabCtx, r.opts.LinkExtractTimeout)
	defer cancel()

	var html, location, title string
	if err := chromedp.Run(linkCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.Title(&title),
	); err != nil {
		return nil, fmt.Errorf("%w: reading DOM of %s: %w", utils.ErrRenderer, rawURL, err)
	}

	finalURL, err := url.Parse(location)
	if err != nil || finalURL.Host == "" {
		finalURL, _ = url.Parse(rawURL)
	}

	visit := &models.PageVisit{
		URL:         rawURL,
		Title:       strings.TrimSpace(title),
		ContentHash: utils.ContentSHA256([]byte(html)),
	}
	if final := finalURL.String(); final != rawURL {
		visit.FinalURL = final
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		pageLog.Warnf("Failed to parse rendered HTML: %v", err)
		return visit, nil
	}
	visit.Links = ExtractLinks(doc, finalURL, r.opts.Links, pageLog)
	pageLog.Debugf("Rendered page with %d links", len(visit.Links))
	return visit, nil
}
