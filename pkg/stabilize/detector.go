package stabilize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// Expressions the detector asks the target to evaluate.
const (
	ReadyStateExpr = `document.readyState`
	FontsReadyExpr = `(document.fonts && document.fonts.ready) ? document.fonts.ready.then(() => true) : true`
)

// RequestEvent is a network lifecycle change reported by a Target
type RequestEvent int

const (
	RequestStarted RequestEvent = iota
	RequestFinished
	RequestFailed
)

// Subscription is an observation hook registered on a Target. Release must be safe to call more than once.
type Subscription interface {
	Release()
}

type onceSubscription struct {
	once sync.Once
	fn   func()
}

func (s *onceSubscription) Release() {
	s.once.Do(s.fn)
}

// NewSubscription wraps fn so that it runs at most once no matter how often Release is called
func NewSubscription(fn func()) Subscription {
	if fn == nil {
		fn = func() {}
	}
	return &onceSubscription{fn: fn}
}

// Target is a navigated page the detector can observe.
// Probe evaluates expr in the page, awaiting a returned promise, and stores the result in out.
type Target interface {
	OnRequest(fn func(RequestEvent)) (Subscription, error)
	OnMutation(ctx context.Context, fn func()) (Subscription, error)
	Probe(ctx context.Context, expr string, out any) error
}

// Options tunes the quiet detection
type Options struct {
	NetworkIdleThreshold int           // Network is quiet at or below this many in-flight requests
	DOMQuietWindow       time.Duration // Required time since the last DOM mutation
	Timeout              time.Duration // Overall budget for one WaitQuiet call
	ReadyCap             time.Duration // Cap on the document-ready wait
	PollInterval         time.Duration
	SettleDelay          time.Duration // Extra sleep after quiet is reached
}

// DefaultOptions returns the detector defaults
func DefaultOptions() Options {
	return Options{
		NetworkIdleThreshold: 2,
		DOMQuietWindow:       800 * time.Millisecond,
		Timeout:              30 * time.Second,
		ReadyCap:             8 * time.Second,
		PollInterval:         100 * time.Millisecond,
		SettleDelay:          200 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.NetworkIdleThreshold < 0 {
		o.NetworkIdleThreshold = def.NetworkIdleThreshold
	}
	if o.DOMQuietWindow <= 0 {
		o.DOMQuietWindow = def.DOMQuietWindow
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.ReadyCap <= 0 {
		o.ReadyCap = def.ReadyCap
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	return o
}

// Outcome reports how a wait ended. Quiet false with a nil error means the deadline passed first.
type Outcome struct {
	Quiet         bool
	Elapsed       time.Duration
	ReadyErr      error // Swallowed failure of the document-ready wait
	FontsErr      error // Swallowed failure of the font-loading wait
	InflightAtEnd int
}

// Detector decides when a rendered page has stopped changing
type Detector struct {
	opts Options
	log  *logrus.Entry
}

// NewDetector creates a Detector. Zero or negative durations fall back to DefaultOptions. A zero
// NetworkIdleThreshold or SettleDelay is kept; only a negative threshold gets the default.
func NewDetector(opts Options, log *logrus.Entry) *Detector {
	return &Detector{
		opts: opts.withDefaults(),
		log:  log.WithField("component", "stabilizer"),
	}
}

// Options returns the effective options
func (d *Detector) Options() Options {
	return d.opts
}

// quietState holds the two signals, updated from target callbacks
type quietState struct {
	inflight     atomic.Int64
	lastMutation atomic.Int64 // UnixNano
}

func (s *quietState) onRequest(ev RequestEvent) {
	if ev == RequestStarted {
		s.inflight.Add(1)
		return
	}
	for {
		cur := s.inflight.Load()
		if cur <= 0 {
			return
		}
		if s.inflight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (s *quietState) onMutation() {
	s.lastMutation.Store(time.Now().UnixNano())
}

func (s *quietState) quiet(threshold int, window time.Duration) bool {
	if s.inflight.Load() > int64(threshold) {
		return false
	}
	return time.Since(time.Unix(0, s.lastMutation.Load())) >= window
}

// WaitQuiet blocks until the target's network and DOM are both quiet, or until the timeout.
// Both observation hooks are released on every return path, including panics raised by the target.
// The error is non-nil only when ctx ends or a hook cannot be registered.
func (d *Detector) WaitQuiet(ctx context.Context, target Target) (Outcome, error) {
	start := time.Now()
	deadline := start.Add(d.opts.Timeout)
	out := Outcome{}

	state := &quietState{}
	state.lastMutation.Store(start.UnixNano())

	netSub, err := target.OnRequest(state.onRequest)
	if err != nil {
		return out, fmt.Errorf("%w: network observer: %w", utils.ErrRenderer, err)
	}
	defer netSub.Release()

	mutSub, err := target.OnMutation(ctx, state.onMutation)
	if err != nil {
		return out, fmt.Errorf("%w: mutation observer: %w", utils.ErrRenderer, err)
	}
	defer mutSub.Release()

	readyCap := min(d.opts.ReadyCap, d.opts.Timeout)
	out.ReadyErr = d.waitReady(ctx, target, readyCap)
	if ctx.Err() != nil {
		return d.finish(out, start, state), ctx.Err()
	}

	out.FontsErr = d.waitFonts(ctx, target, min(readyCap, time.Until(deadline)))
	if ctx.Err() != nil {
		return d.finish(out, start, state), ctx.Err()
	}

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for !out.Quiet && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return d.finish(out, start, state), ctx.Err()
		case <-ticker.C:
		}
		out.Quiet = state.quiet(d.opts.NetworkIdleThreshold, d.opts.DOMQuietWindow)
	}

	if out.Quiet && d.opts.SettleDelay > 0 {
		settle := time.NewTimer(d.opts.SettleDelay)
		defer settle.Stop()
		select {
		case <-ctx.Done():
			return d.finish(out, start, state), ctx.Err()
		case <-settle.C:
		}
	}

	out = d.finish(out, start, state)
	d.log.WithFields(logrus.Fields{
		"quiet":    out.Quiet,
		"elapsed":  out.Elapsed,
		"inflight": out.InflightAtEnd,
	}).Debug("Stabilization wait finished")
	return out, nil
}

func (d *Detector) finish(out Outcome, start time.Time, state *quietState) Outcome {
	out.Elapsed = time.Since(start)
	out.InflightAtEnd = int(state.inflight.Load())
	return out
}

// waitReady polls document.readyState until interactive or complete
func (d *Detector) waitReady(ctx context.Context, target Target, limit time.Duration) error {
	readyCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	for {
		var readyState string
		if err := target.Probe(readyCtx, ReadyStateExpr, &readyState); err != nil {
			d.log.Debugf("Document ready probe failed: %v", err)
			return err
		}
		if readyState == "interactive" || readyState == "complete" {
			return nil
		}
		select {
		case <-readyCtx.Done():
			return readyCtx.Err()
		case <-time.After(d.opts.PollInterval):
		}
	}
}

func (d *Detector) waitFonts(ctx context.Context, target Target, limit time.Duration) error {
	if limit <= 0 {
		return context.DeadlineExceeded
	}
	fontsCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var loaded bool
	if err := target.Probe(fontsCtx, FontsReadyExpr, &loaded); err != nil {
		d.log.Debugf("Font loading wait failed: %v", err)
		return err
	}
	if !loaded {
		return errors.New("fonts not ready")
	}
	return nil
}
