package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/traffic_agent/internal/cdp"
	"github.com/dgnsrekt/traffic_agent/internal/types"
)

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]map[int64]cdp.EventHandler
	nextID   int64
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]map[int64]cdp.EventHandler)}
}

func (b *fakeBus) Subscribe(event string, h cdp.EventHandler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[int64]cdp.EventHandler)
	}
	b.handlers[event][b.nextID] = h
	return b.nextID
}

func (b *fakeBus) Unsubscribe(event string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers[event], id)
}

func (b *fakeBus) emit(event string, payload any) {
	b.mu.Lock()
	hs := make([]cdp.EventHandler, 0, len(b.handlers[event]))
	for _, h := range b.handlers[event] {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}

type fakeSender struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (s *fakeSender) SendCommand(ctx context.Context, method string, params, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch method {
	case network.CommandGetResponseBody:
		p := params.(*network.GetResponseBodyParams)
		if res, ok := result.(*network.GetResponseBodyReturns); ok {
			res.Body = s.bodies[string(p.RequestID)]
		}
	case network.CommandGetCookies:
		// Empty jar; enrichment becomes a no-op.
	}
	return nil
}

func emitRequest(bus *fakeBus, id, url string) {
	bus.emit(string(cdproto.EventNetworkRequestWillBeSent), &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request: &network.Request{
			URL:     url,
			Method:  "GET",
			Headers: network.Headers{"Accept": "application/json", "Cookie": "sid=abc"},
		},
		Type: network.ResourceTypeXHR,
	})
}

func waitForSave(t *testing.T, saved chan struct{}) {
	t.Helper()
	select {
	case <-saved:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a stored record")
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Run("successful_exchange_produces_one_completed_record", func(t *testing.T) {
		bus := newFakeBus()
		sender := &fakeSender{bodies: map[string]string{"R1": `{"ok":true}`}}
		store := &fakeStore{saved: make(chan struct{}, 4)}

		p := NewPipeline(bus, sender, store, 0)
		p.StartSession("S1", nil)
		p.Start()
		defer p.Stop()

		emitRequest(bus, "R1", "https://example.com/api?x=1")
		bus.emit(string(cdproto.EventNetworkResponseReceived), &network.EventResponseReceived{
			RequestID: "R1",
			Response: &network.Response{
				URL:      "https://example.com/api?x=1",
				Status:   200,
				MimeType: "application/json",
				Headers:  network.Headers{"Content-Type": "application/json"},
			},
		})
		bus.emit(string(cdproto.EventNetworkDataReceived), &network.EventDataReceived{
			RequestID: "R1", DataLength: 11, EncodedDataLength: 42,
		})
		bus.emit(string(cdproto.EventNetworkLoadingFinished), &network.EventLoadingFinished{RequestID: "R1"})
		waitForSave(t, store.saved)

		records := store.stored()
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		record := records[0]
		if record.State != types.LifecycleCompleted {
			t.Fatalf("expected completed, got %q", record.State)
		}
		if record.SessionID != "S1" || record.RequestID != "R1" {
			t.Fatalf("bad record identity: %+v", record)
		}
		if record.Request.QueryString != "x=1" {
			t.Fatalf("expected query string x=1, got %q", record.Request.QueryString)
		}
		if record.Response == nil || record.Response.Status != 200 {
			t.Fatalf("expected 200 response, got %+v", record.Response)
		}
		if record.Response.Body == nil || record.Response.Body.Body != `{"ok":true}` {
			t.Fatalf("expected fetched body, got %+v", record.Response.Body)
		}
		if record.Response.Preview == nil || record.Response.Preview.Type != "json" {
			t.Fatalf("expected json preview, got %+v", record.Response.Preview)
		}
		parsed, ok := record.Response.Preview.Parsed.(map[string]any)
		if !ok || parsed["ok"] != true {
			t.Fatalf("expected parsed body, got %+v", record.Response.Preview.Parsed)
		}

		// Terminal entries stay visible in the arena until the next
		// session reset.
		flight := p.InFlight()
		if len(flight) != 1 || flight[0].State != types.LifecycleCompleted {
			t.Fatalf("expected one completed in-flight entry, got %+v", flight)
		}
	})

	t.Run("failed_exchange_produces_one_failed_record", func(t *testing.T) {
		bus := newFakeBus()
		store := &fakeStore{saved: make(chan struct{}, 4)}

		p := NewPipeline(bus, &fakeSender{}, store, 0)
		p.StartSession("S1", nil)
		p.Start()
		defer p.Stop()

		emitRequest(bus, "R1", "https://example.com/broken")
		bus.emit(string(cdproto.EventNetworkLoadingFailed), &network.EventLoadingFailed{
			RequestID: "R1",
			ErrorText: "net::ERR_CONNECTION_REFUSED",
		})
		waitForSave(t, store.saved)

		// A late loadingFinished after the terminal failure changes nothing.
		bus.emit(string(cdproto.EventNetworkLoadingFinished), &network.EventLoadingFinished{RequestID: "R1"})
		time.Sleep(50 * time.Millisecond)

		records := store.stored()
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		if records[0].State != types.LifecycleFailed {
			t.Fatalf("expected failed, got %q", records[0].State)
		}
		if records[0].Error == nil || records[0].Error.Text != "net::ERR_CONNECTION_REFUSED" {
			t.Fatalf("expected failure details, got %+v", records[0].Error)
		}
	})

	t.Run("stop_session_drops_pending_exchanges", func(t *testing.T) {
		bus := newFakeBus()
		store := &fakeStore{saved: make(chan struct{}, 4)}

		p := NewPipeline(bus, &fakeSender{}, store, 0)
		p.StartSession("S1", nil)
		p.Start()
		defer p.Stop()

		emitRequest(bus, "R1", "https://example.com/api")
		p.StopSession()

		if got := p.ActiveSession(); got != "" {
			t.Fatalf("expected no active session, got %q", got)
		}
		if len(p.InFlight()) != 0 {
			t.Fatalf("expected cleared arena, got %d entries", len(p.InFlight()))
		}

		bus.emit(string(cdproto.EventNetworkLoadingFinished), &network.EventLoadingFinished{RequestID: "R1"})
		time.Sleep(50 * time.Millisecond)
		if len(store.stored()) != 0 {
			t.Fatalf("expected nothing stored after session stop, got %d", len(store.stored()))
		}
	})
}
