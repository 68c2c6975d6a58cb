package capture

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/traffic_agent/internal/cdp"
	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// CommandSender issues protocol commands; satisfied by *cdp.Facade.
type CommandSender interface {
	SendCommand(ctx context.Context, method string, params, result any) error
}

// EventBus manages named event subscriptions; satisfied by *cdp.Facade.
type EventBus interface {
	Subscribe(event string, h cdp.EventHandler) int64
	Unsubscribe(event string, id int64)
}

// EventSink receives correlated lifecycle notifications from the
// monitor; the terminal notifications return the downstream handoff
// error, if any.
type EventSink interface {
	RequestStarted(entry *types.InFlightRequest)
	RequestEnriched(requestID string, headers map[string]string)
	ResponseReceived(requestID string, resp *types.ResponseData)
	RequestCompleted(requestID string, comp types.CompletionData) error
	RequestFailed(requestID string, fail types.FailureData) error
}

// Monitor owns the network lifecycle subscriptions and the
// authoritative in-flight arena keyed by requestId. Terminal entries
// stay in the arena for inspection until Clear.
type Monitor struct {
	sender CommandSender
	bus    EventBus
	sink   EventSink

	maxBodyBytes int
	bodyTimeout  time.Duration
	cookieDelay  time.Duration

	mu       sync.RWMutex
	inflight map[string]*types.InFlightRequest

	subs []subscription
}

type subscription struct {
	event string
	id    int64
}

func NewMonitor(bus EventBus, sender CommandSender, sink EventSink, maxBodyBytes int) *Monitor {
	return &Monitor{
		sender:       sender,
		bus:          bus,
		sink:         sink,
		maxBodyBytes: maxBodyBytes,
		bodyTimeout:  10 * time.Second,
		cookieDelay:  50 * time.Millisecond,
		inflight:     make(map[string]*types.InFlightRequest),
	}
}

// Start registers the five network lifecycle subscriptions. Callers
// must Start before enabling the Network domain so that no early
// events are missed.
func (m *Monitor) Start() {
	m.subscribe(string(cdproto.EventNetworkRequestWillBeSent), func(ev any) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			m.onRequestWillBeSent(e)
		} else {
			slog.Warn("unexpected payload for requestWillBeSent", "type_of", typeName(ev))
		}
	})
	m.subscribe(string(cdproto.EventNetworkResponseReceived), func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok {
			m.onResponseReceived(e)
		} else {
			slog.Warn("unexpected payload for responseReceived", "type_of", typeName(ev))
		}
	})
	m.subscribe(string(cdproto.EventNetworkDataReceived), func(ev any) {
		if e, ok := ev.(*network.EventDataReceived); ok {
			m.onDataReceived(e)
		}
	})
	m.subscribe(string(cdproto.EventNetworkLoadingFinished), func(ev any) {
		if e, ok := ev.(*network.EventLoadingFinished); ok {
			m.onLoadingFinished(e)
		} else {
			slog.Warn("unexpected payload for loadingFinished", "type_of", typeName(ev))
		}
	})
	m.subscribe(string(cdproto.EventNetworkLoadingFailed), func(ev any) {
		if e, ok := ev.(*network.EventLoadingFailed); ok {
			m.onLoadingFailed(e)
		} else {
			slog.Warn("unexpected payload for loadingFailed", "type_of", typeName(ev))
		}
	})
}

// Stop removes the monitor's subscriptions. In-flight entries are left
// in place; outstanding body fetches resolve into the arena only if
// their entry still exists.
func (m *Monitor) Stop() {
	for _, s := range m.subs {
		m.bus.Unsubscribe(s.event, s.id)
	}
	m.subs = nil
}

func (m *Monitor) subscribe(event string, h cdp.EventHandler) {
	id := m.bus.Subscribe(event, h)
	m.subs = append(m.subs, subscription{event: event, id: id})
}

func (m *Monitor) onRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	requestID := string(ev.RequestID)

	req := types.RequestData{
		RequestID:    requestID,
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		Headers:      headerMapToStringMap(ev.Request.Headers),
		PostData:     decodePostData(ev.Request),
		ResourceType: string(ev.Type),
		FrameID:      string(ev.FrameID),
		Initiator:    initiatorDescriptor(ev.Initiator),
		Timestamp:    time.Now().UTC(),
	}
	if ref, ok := headerLookup(req.Headers, "Referer"); ok {
		req.Referrer = ref
	}

	entry := &types.InFlightRequest{
		RequestID: requestID,
		State:     types.LifecyclePending,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	if ev.RedirectResponse != nil {
		// The protocol either reuses the same requestId across a
		// redirect hop or issues a new id whose redirectResponse
		// points at the previous hop's URL. Tolerate both.
		if prev, ok := m.inflight[requestID]; ok && !prev.State.Terminal() {
			entry.RedirectChain = append(append([]string(nil), prev.RedirectChain...), requestID)
		} else if parent := m.redirectParentLocked(requestID, ev.RedirectResponse.URL); parent != nil {
			parent.RedirectChain = append(parent.RedirectChain, requestID)
		}
	}
	m.inflight[requestID] = entry
	snapshot := entry.Clone()
	m.mu.Unlock()

	m.sink.RequestStarted(snapshot)

	if _, ok := headerLookup(req.Headers, "Cookie"); !ok {
		go m.enrichCookies(requestID, req.URL)
	}
}

// redirectParentLocked scans for the in-flight entry whose URL the
// redirect response points back at. Caller holds m.mu.
func (m *Monitor) redirectParentLocked(newID, prevURL string) *types.InFlightRequest {
	for id, entry := range m.inflight {
		if id == newID || entry.State.Terminal() {
			continue
		}
		if entry.Request.URL == prevURL {
			return entry
		}
	}
	return nil
}

func (m *Monitor) onResponseReceived(ev *network.EventResponseReceived) {
	requestID := string(ev.RequestID)

	m.mu.Lock()
	entry, ok := m.inflight[requestID]
	if !ok || entry.State.Terminal() {
		m.mu.Unlock()
		if !ok {
			slog.Warn("response for untracked request dropped", "request_id", requestID)
		}
		return
	}
	resp := responseData(ev.Response)
	entry.Response = resp
	entry.State = types.LifecycleResponseReceived
	snapshot := *resp
	m.mu.Unlock()

	m.sink.ResponseReceived(requestID, &snapshot)
}

func (m *Monitor) onDataReceived(ev *network.EventDataReceived) {
	m.mu.Lock()
	if entry, ok := m.inflight[string(ev.RequestID)]; ok && !entry.State.Terminal() {
		entry.EncodedBytes += ev.EncodedDataLength
	}
	m.mu.Unlock()
}

func (m *Monitor) onLoadingFinished(ev *network.EventLoadingFinished) {
	requestID := string(ev.RequestID)

	m.mu.Lock()
	entry, ok := m.inflight[requestID]
	if !ok || entry.State.Terminal() {
		m.mu.Unlock()
		if !ok {
			slog.Warn("loadingFinished for untracked request dropped", "request_id", requestID)
		}
		return
	}
	hasResponse := entry.Response != nil
	if ev.EncodedDataLength > 0 {
		entry.EncodedBytes = int64(ev.EncodedDataLength)
	}
	m.mu.Unlock()

	go m.finishRequest(requestID, hasResponse)
}

// finishRequest performs the out-of-band body fetch and drives the
// Completed transition. A fetch failure is recorded as data on the
// entry, never treated as a failure of the request itself.
func (m *Monitor) finishRequest(requestID string, hasResponse bool) {
	var body *types.BodyData
	if hasResponse {
		body = m.fetchBody(requestID)
	}

	m.mu.Lock()
	entry, ok := m.inflight[requestID]
	if !ok || entry.State.Terminal() {
		// Session was cleared while the fetch was outstanding.
		m.mu.Unlock()
		return
	}
	entry.Body = body
	if entry.Response != nil {
		entry.Response.Body = body
	}
	entry.State = types.LifecycleCompleted
	comp := types.CompletionData{
		Body:          body,
		RedirectChain: append([]string(nil), entry.RedirectChain...),
		EncodedBytes:  entry.EncodedBytes,
	}
	m.mu.Unlock()

	if err := m.sink.RequestCompleted(requestID, comp); err != nil {
		slog.Error("finalized record handoff failed", "request_id", requestID, "error", err)
	}
}

func (m *Monitor) fetchBody(requestID string) *types.BodyData {
	ctx, cancel := context.WithTimeout(context.Background(), m.bodyTimeout)
	defer cancel()

	var res network.GetResponseBodyReturns
	err := m.sender.SendCommand(ctx, network.CommandGetResponseBody,
		&network.GetResponseBodyParams{RequestID: network.RequestID(requestID)}, &res)
	if err != nil {
		slog.Debug("response body unavailable", "request_id", requestID, "error", err)
		return &types.BodyData{Unavailable: true, Reason: err.Error()}
	}

	body := &types.BodyData{
		Body:          res.Body,
		Base64Encoded: res.Base64encoded,
		Size:          int64(len(res.Body)),
	}
	if m.maxBodyBytes > 0 && len(res.Body) > m.maxBodyBytes {
		kept, _, originalSize, bodyHash := truncateStringBytes(res.Body, m.maxBodyBytes)
		body.Body = kept
		body.Truncated = true
		body.OriginalSize = originalSize
		body.SHA256 = bodyHash
	}
	return body
}

func (m *Monitor) onLoadingFailed(ev *network.EventLoadingFailed) {
	requestID := string(ev.RequestID)

	m.mu.Lock()
	entry, ok := m.inflight[requestID]
	if !ok || entry.State.Terminal() {
		m.mu.Unlock()
		if !ok {
			slog.Warn("loadingFailed for untracked request dropped", "request_id", requestID)
		}
		return
	}
	errData := &types.ErrorData{
		Text:          ev.ErrorText,
		Canceled:      ev.Canceled,
		BlockedReason: string(ev.BlockedReason),
	}
	entry.Error = errData
	entry.State = types.LifecycleFailed
	fail := types.FailureData{
		Error:         *errData,
		RedirectChain: append([]string(nil), entry.RedirectChain...),
	}
	m.mu.Unlock()

	if err := m.sink.RequestFailed(requestID, fail); err != nil {
		slog.Error("failed record handoff failed", "request_id", requestID, "error", err)
	}
}

// enrichCookies queries the browser cookie jar for the request URL and
// merges a synthesized Cookie header into the stored snapshot if the
// entry still exists and still lacks one. Best-effort: failures are
// logged and absorbed.
func (m *Monitor) enrichCookies(requestID, rawURL string) {
	time.Sleep(m.cookieDelay)

	ctx, cancel := context.WithTimeout(context.Background(), m.bodyTimeout)
	defer cancel()

	var res network.GetCookiesReturns
	err := m.sender.SendCommand(ctx, network.CommandGetCookies,
		&network.GetCookiesParams{URLs: []string{rawURL}}, &res)
	if err != nil {
		slog.Debug("cookie enrichment failed", "request_id", requestID, "error", err)
		return
	}
	if len(res.Cookies) == 0 {
		return
	}

	pairs := make([]string, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	cookieHeader := strings.Join(pairs, "; ")

	m.mu.Lock()
	entry, ok := m.inflight[requestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, exists := headerLookup(entry.Request.Headers, "Cookie"); exists {
		m.mu.Unlock()
		return
	}
	if entry.Request.Headers == nil {
		entry.Request.Headers = make(map[string]string)
	}
	entry.Request.Headers["Cookie"] = cookieHeader
	m.mu.Unlock()

	m.sink.RequestEnriched(requestID, map[string]string{"Cookie": cookieHeader})
}

// GetRequest returns a copy of the in-flight entry for the request id.
func (m *Monitor) GetRequest(requestID string) (*types.InFlightRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.inflight[requestID]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// GetAllRequests returns copies of every tracked entry, ordered by
// creation time.
func (m *Monitor) GetAllRequests() []*types.InFlightRequest {
	m.mu.RLock()
	out := make([]*types.InFlightRequest, 0, len(m.inflight))
	for _, entry := range m.inflight {
		out = append(out, entry.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Clear drops every tracked entry. Outstanding fetch results for
// cleared entries are discarded when they resolve.
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.inflight = make(map[string]*types.InFlightRequest)
	m.mu.Unlock()
}
