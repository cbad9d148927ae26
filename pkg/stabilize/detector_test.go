package stabilize

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fastOptions keeps tests quick while preserving the relative ordering of the windows
func fastOptions() Options {
	return Options{
		NetworkIdleThreshold: 2,
		DOMQuietWindow:       50 * time.Millisecond,
		Timeout:              400 * time.Millisecond,
		ReadyCap:             100 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
		SettleDelay:          5 * time.Millisecond,
	}
}

type fakeTarget struct {
	mu         sync.Mutex
	requestFn  func(RequestEvent)
	mutationFn func()

	netReleased int
	mutReleased int

	readyState string
	readyErr   error
	fontsErr   error
	requestErr error
	mutErr     error
	panicOn    string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{readyState: "complete"}
}

func (f *fakeTarget) OnRequest(fn func(RequestEvent)) (Subscription, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	f.mu.Lock()
	f.requestFn = fn
	f.mu.Unlock()
	return NewSubscription(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.netReleased++
		f.requestFn = nil
	}), nil
}

func (f *fakeTarget) OnMutation(ctx context.Context, fn func()) (Subscription, error) {
	if f.mutErr != nil {
		return nil, f.mutErr
	}
	f.mu.Lock()
	f.mutationFn = fn
	f.mu.Unlock()
	return NewSubscription(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.mutReleased++
		f.mutationFn = nil
	}), nil
}

func (f *fakeTarget) Probe(ctx context.Context, expr string, out any) error {
	if f.panicOn == expr {
		panic("probe exploded")
	}
	switch expr {
	case ReadyStateExpr:
		if f.readyErr != nil {
			return f.readyErr
		}
		*(out.(*string)) = f.readyState
	case FontsReadyExpr:
		if f.fontsErr != nil {
			return f.fontsErr
		}
		*(out.(*bool)) = true
	}
	return nil
}

func (f *fakeTarget) fireRequest(ev RequestEvent) {
	f.mu.Lock()
	fn := f.requestFn
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (f *fakeTarget) fireMutation() {
	f.mu.Lock()
	fn := f.mutationFn
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTarget) releases() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.netReleased, f.mutReleased
}

// busyTarget fires events from inside OnMutation so they land after subscription
type busyTarget struct {
	*fakeTarget
	onSubscribed func(f *fakeTarget)
}

func (b *busyTarget) OnMutation(ctx context.Context, fn func()) (Subscription, error) {
	sub, err := b.fakeTarget.OnMutation(ctx, fn)
	if err == nil && b.onSubscribed != nil {
		b.onSubscribed(b.fakeTarget)
	}
	return sub, err
}

func TestWaitQuiet_QuietPage(t *testing.T) {
	target := newFakeTarget()
	d := NewDetector(fastOptions(), testLogger())

	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, out.Quiet)
	assert.GreaterOrEqual(t, out.Elapsed, 50*time.Millisecond)
	assert.Less(t, out.Elapsed, 400*time.Millisecond)
	assert.NoError(t, out.ReadyErr)
	assert.NoError(t, out.FontsErr)

	net, mut := target.releases()
	assert.Equal(t, 1, net)
	assert.Equal(t, 1, mut)
}

func TestWaitQuiet_ToleratesThresholdInflight(t *testing.T) {
	target := &busyTarget{fakeTarget: newFakeTarget(), onSubscribed: func(f *fakeTarget) {
		f.fireRequest(RequestStarted)
		f.fireRequest(RequestStarted)
	}}
	d := NewDetector(fastOptions(), testLogger())

	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, out.Quiet)
	assert.Equal(t, 2, out.InflightAtEnd)
}

func TestWaitQuiet_BusyNetworkTimesOut(t *testing.T) {
	target := &busyTarget{fakeTarget: newFakeTarget(), onSubscribed: func(f *fakeTarget) {
		for i := 0; i < 3; i++ {
			f.fireRequest(RequestStarted)
		}
	}}
	d := NewDetector(fastOptions(), testLogger())

	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err, "a deadline is not an error")
	assert.False(t, out.Quiet)
	assert.Equal(t, 3, out.InflightAtEnd)
	assert.GreaterOrEqual(t, out.Elapsed, 400*time.Millisecond)

	net, mut := target.releases()
	assert.Equal(t, 1, net)
	assert.Equal(t, 1, mut)
}

func TestWaitQuiet_InflightFlooredAtZero(t *testing.T) {
	target := &busyTarget{fakeTarget: newFakeTarget(), onSubscribed: func(f *fakeTarget) {
		for i := 0; i < 5; i++ {
			f.fireRequest(RequestFinished)
		}
		f.fireRequest(RequestFailed)
		for i := 0; i < 3; i++ {
			f.fireRequest(RequestStarted)
		}
	}}
	opts := fastOptions()
	opts.Timeout = 100 * time.Millisecond
	d := NewDetector(opts, testLogger())

	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, out.Quiet, "extra finish events must not hide later requests")
	assert.Equal(t, 3, out.InflightAtEnd)
}

func TestWaitQuiet_ContinuousMutationsTimesOut(t *testing.T) {
	target := newFakeTarget()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				target.fireMutation()
			}
		}
	}()

	d := NewDetector(fastOptions(), testLogger())
	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, out.Quiet)
}

func TestWaitQuiet_ContextCancelled(t *testing.T) {
	target := &busyTarget{fakeTarget: newFakeTarget(), onSubscribed: func(f *fakeTarget) {
		for i := 0; i < 5; i++ {
			f.fireRequest(RequestStarted)
		}
	}}
	opts := fastOptions()
	opts.Timeout = 5 * time.Second
	d := NewDetector(opts, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := d.WaitQuiet(ctx, target)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, out.Quiet)
	assert.Less(t, time.Since(start), time.Second)

	net, mut := target.releases()
	assert.Equal(t, 1, net)
	assert.Equal(t, 1, mut)
}

func TestWaitQuiet_SubscriptionFailure(t *testing.T) {
	target := newFakeTarget()
	target.mutErr = errors.New("binding refused")
	d := NewDetector(fastOptions(), testLogger())

	_, err := d.WaitQuiet(context.Background(), target)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrRenderer)

	net, mut := target.releases()
	assert.Equal(t, 1, net, "network hook registered before the failure must be released")
	assert.Equal(t, 0, mut)
}

func TestWaitQuiet_RequestSubscriptionFailure(t *testing.T) {
	target := newFakeTarget()
	target.requestErr = errors.New("network domain unavailable")
	d := NewDetector(fastOptions(), testLogger())

	_, err := d.WaitQuiet(context.Background(), target)
	assert.ErrorIs(t, err, utils.ErrRenderer)
	net, mut := target.releases()
	assert.Zero(t, net)
	assert.Zero(t, mut)
}

func TestWaitQuiet_PanicReleasesHooks(t *testing.T) {
	target := newFakeTarget()
	target.panicOn = FontsReadyExpr
	d := NewDetector(fastOptions(), testLogger())

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_, _ = d.WaitQuiet(context.Background(), target)
	}()

	net, mut := target.releases()
	assert.Equal(t, 1, net)
	assert.Equal(t, 1, mut)
}

func TestWaitQuiet_ReadyFailureSwallowed(t *testing.T) {
	target := newFakeTarget()
	target.readyErr = errors.New("execution context destroyed")
	d := NewDetector(fastOptions(), testLogger())

	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err)
	assert.Error(t, out.ReadyErr)
	assert.True(t, out.Quiet)
}

func TestWaitQuiet_FontsFailureSwallowed(t *testing.T) {
	target := newFakeTarget()
	target.fontsErr = errors.New("document.fonts unavailable")
	d := NewDetector(fastOptions(), testLogger())

	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, out.Quiet)
	assert.EqualError(t, out.FontsErr, "document.fonts unavailable")
	assert.NoError(t, out.ReadyErr)

	net, mut := target.releases()
	assert.Equal(t, 1, net)
	assert.Equal(t, 1, mut)
}

func TestWaitQuiet_ReadyCapped(t *testing.T) {
	target := newFakeTarget()
	target.readyState = "loading"
	opts := fastOptions()
	opts.ReadyCap = 30 * time.Millisecond
	d := NewDetector(opts, testLogger())

	out, err := d.WaitQuiet(context.Background(), target)
	require.NoError(t, err)
	assert.ErrorIs(t, out.ReadyErr, context.DeadlineExceeded)
	assert.True(t, out.Quiet)
}

func TestNewSubscription_ReleaseOnce(t *testing.T) {
	calls := 0
	sub := NewSubscription(func() { calls++ })
	sub.Release()
	sub.Release()
	assert.Equal(t, 1, calls)

	NewSubscription(nil).Release()
}

func TestOptions_Defaults(t *testing.T) {
	got := NewDetector(Options{NetworkIdleThreshold: -1}, testLogger()).Options()
	def := DefaultOptions()
	assert.Equal(t, def.NetworkIdleThreshold, got.NetworkIdleThreshold)
	assert.Equal(t, def.DOMQuietWindow, got.DOMQuietWindow)
	assert.Equal(t, def.Timeout, got.Timeout)
	assert.Equal(t, def.ReadyCap, got.ReadyCap)
	assert.Equal(t, def.PollInterval, got.PollInterval)

	// Zero threshold and zero settle delay are meaningful and kept
	got = NewDetector(Options{}, testLogger()).Options()
	assert.Zero(t, got.NetworkIdleThreshold)
	assert.Zero(t, got.SettleDelay)
}
