package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	cdpruntime "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpTransport adapts a chromedp tab session to the Transport
// interface. Commands run on the tab's executor; network lifecycle
// events observed by chromedp are re-dispatched by protocol method
// name.
type ChromedpTransport struct {
	tabCtx context.Context
	cancel context.CancelFunc

	eventMu sync.RWMutex
	onEvent func(method string, ev any)
}

// AttachChromedp connects to a running browser over the given devtools
// HTTP endpoint and attaches to the first page target whose URL
// contains urlFilter (any page when empty).
func AttachChromedp(ctx context.Context, cdpURL, urlFilter string) (*ChromedpTransport, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(allocCtx)
	defer tempCancel()
	if err := chromedp.Run(tempCtx); err != nil {
		allocCancel()
		return nil, fmt.Errorf("cdp: connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("cdp: enumerate targets: %w", err)
	}

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if urlFilter != "" && !strings.Contains(strings.ToLower(t.URL), strings.ToLower(urlFilter)) {
			continue
		}
		tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(t.TargetID))
		transport := &ChromedpTransport{
			tabCtx: tabCtx,
			cancel: func() { tabCancel(); allocCancel() },
		}
		chromedp.ListenTarget(tabCtx, transport.route)
		slog.Info("attached to page target", "target_id", t.TargetID, "url", t.URL)
		return transport, nil
	}

	allocCancel()
	return nil, fmt.Errorf("cdp: no page target matching %q", urlFilter)
}

func (t *ChromedpTransport) Send(ctx context.Context, method string, params, result any) error {
	runCtx := t.tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		return cdpruntime.ExecutorFromContext(c).Execute(c, method, params, result)
	}))
}

func (t *ChromedpTransport) OnEvent(fn func(method string, ev any)) {
	t.eventMu.Lock()
	t.onEvent = fn
	t.eventMu.Unlock()
}

func (t *ChromedpTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// route maps chromedp's typed events back onto method-name dispatch.
// Only the network lifecycle events the recorder consumes are routed.
func (t *ChromedpTransport) route(ev any) {
	var method cdproto.MethodType
	switch ev.(type) {
	case *network.EventRequestWillBeSent:
		method = cdproto.EventNetworkRequestWillBeSent
	case *network.EventResponseReceived:
		method = cdproto.EventNetworkResponseReceived
	case *network.EventDataReceived:
		method = cdproto.EventNetworkDataReceived
	case *network.EventLoadingFinished:
		method = cdproto.EventNetworkLoadingFinished
	case *network.EventLoadingFailed:
		method = cdproto.EventNetworkLoadingFailed
	case *network.EventWebSocketCreated:
		method = cdproto.EventNetworkWebSocketCreated
	case *network.EventWebSocketFrameSent:
		method = cdproto.EventNetworkWebSocketFrameSent
	case *network.EventWebSocketFrameReceived:
		method = cdproto.EventNetworkWebSocketFrameReceived
	case *network.EventWebSocketClosed:
		method = cdproto.EventNetworkWebSocketClosed
	default:
		return
	}

	t.eventMu.RLock()
	fn := t.onEvent
	t.eventMu.RUnlock()
	if fn != nil {
		fn(string(method), ev)
	}
}
