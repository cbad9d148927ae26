package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

const defaultMaxBodyBytes = 10 << 20

// PageFetcher performs one HTTP attempt; fetch.Fetcher satisfies it
type PageFetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// StaticOptions configures a StaticRenderer
type StaticOptions struct {
	Timeout      time.Duration // Per-page request budget
	MaxBodyBytes int64
	Links        LinkOptions
}

// StaticRenderer loads pages with a plain HTTP GET and parses the served HTML.
// It runs no scripts, so every page it loads is reported as quiet.
type StaticRenderer struct {
	fetcher PageFetcher
	opts    StaticOptions
	log     *logrus.Entry
}

// NewStaticRenderer creates a StaticRenderer
func NewStaticRenderer(fetcher PageFetcher, opts StaticOptions, log *logrus.Entry) *StaticRenderer {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &StaticRenderer{
		fetcher: fetcher,
		opts:    opts,
		log:     log.WithField("component", "static_renderer"),
	}
}

// Render fetches rawURL once and extracts its title and links.
// Failures are returned as *NavigationError; a done ctx is returned as its own error.
func (r *StaticRenderer) Render(ctx context.Context, rawURL string) (*models.PageVisit, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	pageLog := r.log.WithField("url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		if resp != nil {
			status := resp.StatusCode
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, StatusError(rawURL, status)
		}
		return nil, TransportError(rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.MaxBodyBytes))
	if err != nil {
		return nil, TransportError(rawURL, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err))
	}

	visit := &models.PageVisit{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		Quiet:       true,
		ContentHash: utils.ContentSHA256(data),
	}
	finalURL := resp.Request.URL
	if final := finalURL.String(); final != rawURL {
		visit.FinalURL = final
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		pageLog.Debugf("Non-HTML content type '%s', no links extracted", resp.Header.Get("Content-Type"))
		return visit, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		// The page loaded; a broken document just yields no links
		pageLog.Warnf("Failed to parse HTML: %v", err)
		return visit, nil
	}
	visit.Title = DocumentTitle(doc)
	visit.Links = ExtractLinks(doc, finalURL, r.opts.Links, pageLog)
	pageLog.Debugf("Loaded page with %d links", len(visit.Links))
	return visit, nil
}

// isHTML treats a missing content type as HTML
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
