package frontier

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/fetch"
	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/queue"
	"github.com/Sriram-PR/settle-crawler/pkg/scope"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// crawlState is everything one Crawl call owns. Only the scheduler goroutine touches it.
type crawlState struct {
	seed   string
	policy *scope.Policy // nil rejects every URL
	robots *fetch.RobotsPolicy
	queue  *queue.FIFO

	discoveredOrder []string
	discovered      map[string]bool
	visited         map[string]bool
	retries         map[string]int
	attempts        map[string]int
	failed          []models.FailedEntry
	pages           []models.PageVisit

	sitemapOutcome models.SitemapOutcome
}

func newCrawlState(seed string, policy *scope.Policy, q *queue.FIFO) *crawlState {
	return &crawlState{
		seed:       seed,
		policy:     policy,
		queue:      q,
		discovered: make(map[string]bool),
		visited:    make(map[string]bool),
		retries:    make(map[string]int),
		attempts:   make(map[string]int),
	}
}

// discover adds a new URL to the discovered set and the frontier
func (st *crawlState) discover(item models.FrontierItem) {
	st.discovered[item.URL] = true
	st.discoveredOrder = append(st.discoveredOrder, item.URL)
	st.queue.Push(item)
}

func (st *crawlState) markVisited(rawURL string) {
	st.visited[rawURL] = true
}

// fail retires a URL as visited with a FailedEntry
func (st *crawlState) fail(rawURL string, err error, retryCount int) {
	st.failed = append(st.failed, models.FailedEntry{
		URL:        rawURL,
		Reason:     err.Error(),
		Category:   utils.CategorizeError(err),
		RetryCount: retryCount,
	})
	st.markVisited(rawURL)
	delete(st.retries, rawURL)
}

// checkScopeAndRobots is the part of the gate shared by link admission and pop time
func (st *crawlState) checkScopeAndRobots(rawURL string) error {
	if st.policy == nil {
		return fmt.Errorf("%w: no usable start URL", utils.ErrScopeViolation)
	}
	if err := st.policy.Check(rawURL); err != nil {
		return err
	}
	if st.robots.IsDisallowed(rawURL) {
		return fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, rawURL)
	}
	return nil
}

// admitLink decides whether a newly found link may enter the discovered set.
// Depth is not checked here; over-deep links are discovered and left unvisited.
func (st *crawlState) admitLink(rawURL string) bool {
	return st.checkScopeAndRobots(rawURL) == nil
}

// checkGate is the full pop-time gate
func (st *crawlState) checkGate(item models.FrontierItem, maxDepth int) error {
	if maxDepth >= 0 && item.Depth > maxDepth {
		return fmt.Errorf("%w: depth %d > %d", utils.ErrMaxDepthExceeded, item.Depth, maxDepth)
	}
	return st.checkScopeAndRobots(item.URL)
}

// nextBatch pops up to limit items that pass the gate. Already-visited and rejected items are
// dropped without a retry or FailedEntry.
func (st *crawlState) nextBatch(limit, maxDepth int, crawlLog *logrus.Entry) []models.FrontierItem {
	var batch []models.FrontierItem
	for len(batch) < limit {
		item, ok := st.queue.Pop()
		if !ok {
			break
		}
		if st.visited[item.URL] {
			continue
		}
		if err := st.checkGate(item, maxDepth); err != nil {
			if !isPolicyExclusion(err) {
				crawlLog.WithField("url", item.URL).Warnf("Unexpected gate error: %v", err)
			}
			crawlLog.WithFields(logrus.Fields{"url": item.URL, "depth": item.Depth}).Debugf("Dropped: %v", err)
			continue
		}
		batch = append(batch, item)
	}
	return batch
}
