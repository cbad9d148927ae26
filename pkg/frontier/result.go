package frontier

import (
	"time"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
)

// assembleResult partitions the discovered URLs into visited and unvisited, both in discovery
// order. Failed URLs are already in the visited set, so FailedURLs is a subset of VisitedURLs.
func assembleResult(state *crawlState, termination models.Termination, startedAt time.Time) *models.CrawlResult {
	result := &models.CrawlResult{
		StartURL:       state.seed,
		VisitedURLs:    make([]string, 0, len(state.visited)),
		UnvisitedURLs:  make([]string, 0, len(state.discoveredOrder)-len(state.visited)),
		FailedURLs:     make([]models.FailedEntry, 0, len(state.failed)),
		Termination:    termination,
		Attempts:       make(map[string]int, len(state.attempts)),
		Pages:          state.pages,
		RobotsOutcome:  state.robots.Outcome(),
		SitemapOutcome: state.sitemapOutcome,
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
	}

	for _, u := range state.discoveredOrder {
		if state.visited[u] {
			result.VisitedURLs = append(result.VisitedURLs, u)
		} else {
			result.UnvisitedURLs = append(result.UnvisitedURLs, u)
		}
	}
	for _, entry := range state.failed {
		if state.visited[entry.URL] {
			result.FailedURLs = append(result.FailedURLs, entry)
		}
	}
	for u, n := range state.attempts {
		result.Attempts[u] = n
	}
	if result.Pages == nil {
		result.Pages = []models.PageVisit{}
	}
	return result
}
