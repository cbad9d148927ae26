package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/stabilize"
)

const (
	mutationBinding = "__settleMutation"

	// Coalesces bursts of mutations within one task into a single binding call
	observerScript = `(() => {
  if (window.__settleObserver) { window.__settleObserver.disconnect(); }
  let queued = false;
  const notify = () => {
    if (queued) { return; }
    queued = true;
    setTimeout(() => {
      queued = false;
      try { window.` + mutationBinding + `(''); } catch (e) {}
    }, 0);
  };
  const obs = new MutationObserver(notify);
  obs.observe(document.documentElement || document, {subtree: true, childList: true, attributes: true, characterData: true});
  window.__settleObserver = obs;
  return true;
})()`

	disconnectScript = `(() => {
  if (window.__settleObserver) { window.__settleObserver.disconnect(); window.__settleObserver = undefined; }
  return true;
})()`

	releaseTimeout = time.Second
)

// chromeTarget exposes a chromedp tab to the stabilization detector
type chromeTarget struct {
	ctx context.Context // chromedp tab context
	log *logrus.Entry
}

func newChromeTarget(tabCtx context.Context, log *logrus.Entry) *chromeTarget {
	return &chromeTarget{ctx: tabCtx, log: log}
}

// OnRequest counts each network request once, from its first RequestWillBeSent (redirects reuse
// the request ID) to LoadingFinished or LoadingFailed.
func (t *chromeTarget) OnRequest(fn func(stabilize.RequestEvent)) (stabilize.Subscription, error) {
	listenCtx, cancel := context.WithCancel(t.ctx)
	var active atomic.Bool
	active.Store(true)

	var mu sync.Mutex
	pending := make(map[network.RequestID]bool)

	chromedp.ListenTarget(listenCtx, func(ev any) {
		if !active.Load() {
			return
		}
		var id network.RequestID
		event := stabilize.RequestStarted
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			id = e.RequestID
		case *network.EventLoadingFinished:
			id, event = e.RequestID, stabilize.RequestFinished
		case *network.EventLoadingFailed:
			id, event = e.RequestID, stabilize.RequestFailed
		default:
			return
		}

		mu.Lock()
		if event == stabilize.RequestStarted {
			if pending[id] {
				mu.Unlock()
				return
			}
			pending[id] = true
		} else {
			if !pending[id] {
				mu.Unlock()
				return
			}
			delete(pending, id)
		}
		mu.Unlock()
		fn(event)
	})

	return stabilize.NewSubscription(func() {
		active.Store(false)
		cancel()
	}), nil
}

// OnMutation installs a MutationObserver over the whole document that reports through a
// runtime binding.
func (t *chromeTarget) OnMutation(ctx context.Context, fn func()) (stabilize.Subscription, error) {
	listenCtx, cancel := context.WithCancel(t.ctx)
	var active atomic.Bool
	active.Store(true)

	chromedp.ListenTarget(listenCtx, func(ev any) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == mutationBinding && active.Load() {
			fn()
		}
	})

	var installed bool
	if err := chromedp.Run(ctx,
		runtime.AddBinding(mutationBinding),
		chromedp.Evaluate(observerScript, &installed),
	); err != nil {
		active.Store(false)
		cancel()
		return nil, err
	}

	return stabilize.NewSubscription(func() {
		active.Store(false)
		cancel()

		// Best effort: the tab may already be closing
		releaseCtx, cancelRelease := context.WithTimeout(t.ctx, releaseTimeout)
		defer cancelRelease()
		var ok bool
		if err := chromedp.Run(releaseCtx,
			chromedp.Evaluate(disconnectScript, &ok),
			runtime.RemoveBinding(mutationBinding),
		); err != nil {
			t.log.Debugf("Mutation observer cleanup failed: %v", err)
		}
	}), nil
}

// Probe evaluates expr in the page, awaiting a returned promise
func (t *chromeTarget) Probe(ctx context.Context, expr string, out any) error {
	return chromedp.Run(ctx, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}
