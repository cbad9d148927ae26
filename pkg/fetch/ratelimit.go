package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// hostEntry tracks one host's request spacing and concurrency.
type hostEntry struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	delay   time.Duration
}

// RateLimiter enforces per-host politeness: a minimum spacing between request starts and a cap on
// concurrent requests. A single limiter is shared by every crawl so limits hold across sites.
type RateLimiter struct {
	mu           sync.Mutex
	hosts        map[string]*hostEntry
	defaultDelay time.Duration
	maxPerHost   int64
	log          *logrus.Entry
}

// NewRateLimiter creates a RateLimiter. A maxPerHost of zero or less defaults to 2.
func NewRateLimiter(defaultDelay time.Duration, maxPerHost int, log *logrus.Entry) *RateLimiter {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
	}
	return &RateLimiter{
		hosts:        make(map[string]*hostEntry),
		defaultDelay: defaultDelay,
		maxPerHost:   limit,
		log:          log,
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

func (rl *RateLimiter) entry(host string) *hostEntry {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.hosts[host]
	if !ok {
		e = &hostEntry{
			limiter: rate.NewLimiter(limitFor(rl.defaultDelay), 1),
			sem:     semaphore.NewWeighted(rl.maxPerHost),
			delay:   rl.defaultDelay,
		}
		rl.hosts[host] = e
	}
	return e
}

// SetDelay raises the spacing for host to delay (e.g. a robots.txt Crawl-delay).
// A delay shorter than the current one is ignored.
func (rl *RateLimiter) SetDelay(host string, delay time.Duration) {
	e := rl.entry(host)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if delay <= e.delay {
		return
	}
	e.delay = delay
	e.limiter.SetLimit(limitFor(delay))
	rl.log.WithFields(logrus.Fields{"host": host, "delay": delay}).Info("Per-host delay raised")
}

// Delay returns the current spacing for host.
func (rl *RateLimiter) Delay(host string) time.Duration {
	e := rl.entry(host)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return e.delay
}

// Acquire blocks until a request to host may start: a concurrency slot is held and the spacing
// since the previous request has elapsed. The returned release must be called when the request
// finishes. On error nothing is held.
func (rl *RateLimiter) Acquire(ctx context.Context, host string) (release func(), err error) {
	e := rl.entry(host)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	start := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		e.sem.Release(1)
		return nil, err
	}
	if waited := time.Since(start); waited > time.Millisecond {
		rl.log.WithFields(logrus.Fields{"host": host, "waited": waited}).Debug("Rate limit applied")
	}
	var once sync.Once
	return func() { once.Do(func() { e.sem.Release(1) }) }, nil
}
