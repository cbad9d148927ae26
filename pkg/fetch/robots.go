package fetch

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

const maxRobotsBytes = 512 << 10

// RobotsPolicy holds the robots.txt rules that apply to one crawl. The zero value allows everything.
// It is loaded once at crawl start and read-only afterwards.
type RobotsPolicy struct {
	agent   string
	data    *robotstxt.RobotsData
	group   *robotstxt.Group
	outcome models.RobotsOutcome
}

// AllowAllRobots returns a policy with no rules, recording why none were loaded.
func AllowAllRobots(agent string, outcome models.RobotsOutcome) *RobotsPolicy {
	return &RobotsPolicy{agent: agent, outcome: outcome}
}

// LoadRobots fetches <origin>/robots.txt for startURL and selects the group for agent: the group
// whose User-agent is the longest prefix of agent wins, else the "*" group.
// Every failure degrades to an allow-all policy; the outcome says which case occurred.
func LoadRobots(ctx context.Context, fetcher *Fetcher, startURL, agent string, timeout time.Duration, log *logrus.Entry) *RobotsPolicy {
	u, err := url.Parse(startURL)
	if err != nil || u.Host == "" {
		log.Warnf("Cannot derive robots.txt location from '%s': %v", startURL, err)
		return AllowAllRobots(agent, models.RobotsFailed)
	}
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	robotsLog := log.WithField("robots_url", robotsURL)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, status, err := fetcher.GetBody(ctx, robotsURL, maxRobotsBytes)
	if err != nil {
		if status != 0 || isStatusError(err) {
			robotsLog.Infof("No robots.txt (status %d), allowing all", status)
			return AllowAllRobots(agent, models.RobotsMissing)
		}
		robotsLog.Warnf("Fetching robots.txt failed, allowing all: %v", err)
		return AllowAllRobots(agent, models.RobotsFailed)
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Parsing robots.txt failed, allowing all: %v", err)
		return AllowAllRobots(agent, models.RobotsFailed)
	}

	policy := &RobotsPolicy{
		agent:   agent,
		data:    data,
		group:   data.FindGroup(agent),
		outcome: models.RobotsLoaded,
	}
	robotsLog.WithFields(logrus.Fields{
		"agent":       agent,
		"crawl_delay": policy.CrawlDelay(),
		"sitemaps":    len(data.Sitemaps),
	}).Info("Loaded robots.txt")
	return policy
}

// isStatusError reports whether err came from a non-2xx response rather than the network.
func isStatusError(err error) bool {
	return errors.Is(err, utils.ErrAuthRequired) ||
		errors.Is(err, utils.ErrNotFound) ||
		errors.Is(err, utils.ErrClientHTTPError) ||
		errors.Is(err, utils.ErrServerHTTPError) ||
		errors.Is(err, utils.ErrOtherHTTPError)
}

// Outcome reports how the rules were obtained.
func (p *RobotsPolicy) Outcome() models.RobotsOutcome {
	if p == nil {
		return models.RobotsUnset
	}
	return p.outcome
}

// IsDisallowed reports whether the agent's group forbids rawURL. Unparseable URLs are not
// disallowed here; scope checks reject them.
func (p *RobotsPolicy) IsDisallowed(rawURL string) bool {
	if p == nil || p.group == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return !p.group.Test(u.RequestURI())
}

// Sitemaps returns the Sitemap directives listed in robots.txt.
func (p *RobotsPolicy) Sitemaps() []string {
	if p == nil || p.data == nil {
		return nil
	}
	return p.data.Sitemaps
}

// CrawlDelay returns the Crawl-delay of the selected group, or zero.
func (p *RobotsPolicy) CrawlDelay() time.Duration {
	if p == nil || p.group == nil {
		return 0
	}
	return p.group.CrawlDelay
}
