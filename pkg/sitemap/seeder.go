package sitemap

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/parse"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

const (
	// DefaultMaxURLs caps how many page locations one crawl takes from sitemaps.
	DefaultMaxURLs = 1000
	// maxNestedSitemaps bounds how many children of a sitemap index are fetched.
	maxNestedSitemaps = 10
	maxSitemapBytes   = 10 << 20
)

// BodyFetcher is the subset of fetch.Fetcher the seeder needs
type BodyFetcher interface {
	GetBody(ctx context.Context, rawURL string, maxBytes int64) ([]byte, int, error)
}

// Seeder collects page URLs from a site's sitemaps at crawl start
type Seeder struct {
	fetcher BodyFetcher
	maxURLs int
	timeout time.Duration
	log     *logrus.Entry
}

// NewSeeder creates a Seeder. maxURLs <= 0 uses DefaultMaxURLs; timeout bounds the whole Seed call.
func NewSeeder(fetcher BodyFetcher, maxURLs int, timeout time.Duration, log *logrus.Entry) *Seeder {
	if maxURLs <= 0 {
		maxURLs = DefaultMaxURLs
	}
	return &Seeder{
		fetcher: fetcher,
		maxURLs: maxURLs,
		timeout: timeout,
		log:     log.WithField("component", "sitemap_seeder"),
	}
}

// seedRun is the per-call bookkeeping of Seed.
type seedRun struct {
	locs    []string
	locSeen map[string]bool
	seen    map[string]bool // sitemap URLs already fetched
	nested  int
	loaded  bool
	failed  bool
	maxURLs int
}

func (r *seedRun) full() bool {
	return len(r.locs) >= r.maxURLs
}

// Seed fetches <origin>/sitemap.xml for startURL plus any extra sitemap URLs (e.g. robots.txt
// directives) and returns up to the configured number of <loc> entries in document order.
// Sitemap indexes are followed one level deep. Failures never abort: the outcome says whether
// anything was loaded, nothing was there, or fetching/parsing failed.
func (s *Seeder) Seed(ctx context.Context, startURL string, extra []string) ([]string, models.SitemapOutcome) {
	u, err := url.Parse(startURL)
	if err != nil || u.Host == "" {
		s.log.Warnf("Cannot derive sitemap location from '%s'", startURL)
		return nil, models.SitemapFailed
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	candidates := append([]string{(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/sitemap.xml"}).String()}, extra...)
	run := &seedRun{locSeen: make(map[string]bool), seen: make(map[string]bool), maxURLs: s.maxURLs}

	for _, sitemapURL := range candidates {
		if run.full() || ctx.Err() != nil {
			break
		}
		s.process(ctx, run, sitemapURL, true)
	}

	outcome := models.SitemapMissing
	switch {
	case run.loaded:
		outcome = models.SitemapLoaded
	case run.failed:
		outcome = models.SitemapFailed
	}
	s.log.WithFields(logrus.Fields{"urls": len(run.locs), "outcome": outcome}).Info("Sitemap seeding finished")
	return run.locs, outcome
}

// process fetches one sitemap. Index entries are followed only when allowIndex is set.
func (s *Seeder) process(ctx context.Context, run *seedRun, sitemapURL string, allowIndex bool) {
	key := parse.CanonicalizeURL(sitemapURL)
	if run.seen[key] {
		return
	}
	run.seen[key] = true
	smLog := s.log.WithField("sitemap_url", sitemapURL)

	body, status, err := s.fetcher.GetBody(ctx, sitemapURL, maxSitemapBytes)
	if err != nil {
		if status != 0 || errors.Is(err, utils.ErrServerHTTPError) {
			smLog.Debugf("Sitemap not available (status %d)", status)
			return
		}
		smLog.Warnf("Fetching sitemap failed: %v", err)
		run.failed = true
		return
	}

	doc, err := parse.DecodeSitemap(body, run.maxURLs-len(run.locs))
	if err != nil {
		smLog.Warnf("Parsing sitemap failed: %v", err)
		run.failed = true
		return
	}
	run.loaded = true

	if doc.Kind == parse.SitemapURLSet {
		added := 0
		for _, loc := range doc.Locs {
			if run.full() || run.locSeen[loc] {
				continue
			}
			run.locSeen[loc] = true
			run.locs = append(run.locs, loc)
			added++
		}
		smLog.Debugf("Collected %d URLs", added)
		return
	}

	if !allowIndex {
		smLog.Debug("Ignoring nested sitemap index")
		return
	}
	for _, child := range doc.Locs {
		if run.full() || ctx.Err() != nil || run.nested >= maxNestedSitemaps {
			break
		}
		run.nested++
		s.process(ctx, run, child, false)
	}
}
