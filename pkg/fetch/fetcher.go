package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/config"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// Fetcher makes HTTP requests with the configured retry policy on top of an http.Client
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	initDelay  time.Duration
	maxDelay   time.Duration
	log        *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:     client,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		initDelay:  cfg.InitialRetryDelay,
		maxDelay:   cfg.MaxRetryDelay,
		log:        log,
	}
}

// statusError maps a non-2xx status to a sentinel-wrapped error. The message keeps the numeric
// code so CategorizeError can tell 401 from 403 and 404 from 410.
func statusError(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d %s", utils.ErrAuthRequired, code, http.StatusText(code))
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: status %d %s", utils.ErrNotFound, code, http.StatusText(code))
	case code >= 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, code, http.StatusText(code))
	case code >= 400:
		return fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, code, http.StatusText(code))
	default:
		return fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, code, http.StatusText(code))
	}
}

func drainAndClose(resp *http.Response) {
	if resp == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Fetch performs a single attempt. On a non-2xx status the response is returned together with a
// status error and the caller must close its body.
func (f *Fetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrNetwork, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	return resp, statusError(resp)
}

// FetchWithRetry performs an HTTP request, retrying network errors, 5xx and 429 with exponential
// backoff and jitter. Other 4xx and unexpected statuses are returned at once with the response,
// whose body the caller must close.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	reqLog := f.log.WithField("url", req.URL.String())

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		}

		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": f.maxRetries, "delay": delay}).Debug("Retrying request...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		resp, err := f.Fetch(ctx, req)
		if err == nil {
			reqLog.WithField("attempt", attempt).Debug("Successfully fetched")
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			drainAndClose(resp)
			return nil, err
		}

		lastErr = err
		switch {
		case resp == nil:
			reqLog.WithField("attempt", attempt).Debugf("Network error: %v", err)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "status_code": resp.StatusCode}).Debug("Retryable status")
			drainAndClose(resp)
		default:
			return resp, err
		}
	}

	reqLog.Debugf("All %d fetch attempts failed. Last error: %v", f.maxRetries+1, lastErr)
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// backoff returns initial * 2^(attempt-1) capped at the max delay, with +/-10% jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.initDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (f.maxDelay > 0 && delay > f.maxDelay) {
		delay = f.maxDelay
	}
	if delay <= 0 {
		return 0
	}
	var jitter time.Duration
	if spread := int64(delay) / 5; spread > 0 {
		jitter = time.Duration(rand.Int63n(spread)) - delay/10
	}
	if delay+jitter < 0 {
		return 0
	}
	return delay + jitter
}

// GetBody fetches rawURL with retries and returns at most maxBytes of a 2xx body.
// The status code is returned whenever a response was received.
func (f *Fetcher) GetBody(ctx context.Context, rawURL string, maxBytes int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			drainAndClose(resp)
		}
		return nil, status, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return data, resp.StatusCode, nil
}
