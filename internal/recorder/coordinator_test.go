package recorder

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dgnsrekt/traffic_agent/internal/filter"
	"github.com/dgnsrekt/traffic_agent/internal/types"
)

type fakeStore struct {
	mu      sync.Mutex
	records []*types.RequestResponseRecord
	saveErr error
	saved   chan struct{}
}

func (s *fakeStore) SaveRequestResponse(record *types.RequestResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records = append(s.records, record)
	if s.saved != nil {
		select {
		case s.saved <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) stored() []*types.RequestResponseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.RequestResponseRecord(nil), s.records...)
}

func newTestCoordinator() (*Coordinator, *fakeStore) {
	store := &fakeStore{}
	c := NewCoordinator(store)
	c.SetSession("S1", nil)
	return c, store
}

func sampleRequest(id string) types.RequestData {
	return types.RequestData{
		RequestID:   id,
		URL:         "https://example.com/api?x=1",
		Method:      "GET",
		QueryString: "x=1",
		Headers:     map[string]string{"Accept": "application/json"},
	}
}

func TestCoordinatorLifecycle(t *testing.T) {
	t.Run("complete_lifecycle_stores_exactly_one_record", func(t *testing.T) {
		c, store := newTestCoordinator()

		c.HandleRequest(sampleRequest("R1"))
		c.HandleResponse("R1", &types.ResponseData{Status: 200, MimeType: "application/json"})
		err := c.HandleRequestComplete("R1", types.CompletionData{
			Body: &types.BodyData{Body: `{"ok":true}`, Size: 11},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		records := store.stored()
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		record := records[0]
		if record.State != types.LifecycleCompleted {
			t.Fatalf("expected completed, got %q", record.State)
		}
		if record.SessionID != "S1" || record.RequestID != "R1" || record.ID == "" {
			t.Fatalf("bad record identity: %+v", record)
		}
		if record.Response == nil || record.Response.Status != 200 {
			t.Fatalf("expected response snapshot, got %+v", record.Response)
		}
		if record.Response.Body == nil || record.Response.Body.Body != `{"ok":true}` {
			t.Fatalf("expected merged body, got %+v", record.Response.Body)
		}
		if record.Response.Preview == nil || record.Response.Preview.Type != "json" {
			t.Fatalf("expected json preview, got %+v", record.Response.Preview)
		}
		parsed, ok := record.Response.Preview.Parsed.(map[string]any)
		if !ok || parsed["ok"] != true {
			t.Fatalf("expected parsed preview, got %+v", record.Response.Preview.Parsed)
		}
		if record.Request.QueryString != "x=1" {
			t.Fatalf("expected query string x=1, got %q", record.Request.QueryString)
		}
	})

	t.Run("failure_stores_exactly_one_failed_record", func(t *testing.T) {
		c, store := newTestCoordinator()

		c.HandleRequest(sampleRequest("R1"))
		err := c.HandleRequestFailed("R1", types.FailureData{
			Error: types.ErrorData{Text: "net::ERR_CONNECTION_REFUSED"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		records := store.stored()
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		if records[0].State != types.LifecycleFailed {
			t.Fatalf("expected failed, got %q", records[0].State)
		}
		if records[0].Error == nil || records[0].Error.Text != "net::ERR_CONNECTION_REFUSED" {
			t.Fatalf("expected error data, got %+v", records[0].Error)
		}
		if records[0].Response != nil {
			t.Fatalf("expected no response on early failure, got %+v", records[0].Response)
		}
	})

	t.Run("terminal_handoff_happens_at_most_once", func(t *testing.T) {
		c, store := newTestCoordinator()

		c.HandleRequest(sampleRequest("R1"))
		if err := c.HandleRequestComplete("R1", types.CompletionData{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := c.HandleRequestFailed("R1", types.FailureData{Error: types.ErrorData{Text: "late"}}); err != nil {
			t.Fatalf("late failure must be a no-op, got %v", err)
		}
		if err := c.HandleRequestComplete("R1", types.CompletionData{}); err != nil {
			t.Fatalf("duplicate completion must be a no-op, got %v", err)
		}

		if len(store.stored()) != 1 {
			t.Fatalf("expected exactly one stored record, got %d", len(store.stored()))
		}
	})

	t.Run("events_without_prior_request_are_no_ops", func(t *testing.T) {
		c, store := newTestCoordinator()

		c.HandleResponse("ghost", &types.ResponseData{Status: 200})
		if err := c.HandleRequestComplete("ghost", types.CompletionData{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := c.HandleRequestFailed("ghost", types.FailureData{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.stored()) != 0 {
			t.Fatalf("expected no records, got %d", len(store.stored()))
		}
	})

	t.Run("no_active_session_drops_requests", func(t *testing.T) {
		store := &fakeStore{}
		c := NewCoordinator(store)

		c.HandleRequest(sampleRequest("R1"))
		if err := c.HandleRequestComplete("R1", types.CompletionData{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.stored()) != 0 {
			t.Fatalf("expected no records without a session, got %d", len(store.stored()))
		}
	})

	t.Run("redirect_chain_lands_on_the_record", func(t *testing.T) {
		c, store := newTestCoordinator()

		c.HandleRequest(sampleRequest("1"))
		if err := c.HandleRequestComplete("1", types.CompletionData{RedirectChain: []string{"2"}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		records := store.stored()
		if len(records) != 1 || len(records[0].RedirectChain) != 1 || records[0].RedirectChain[0] != "2" {
			t.Fatalf("expected redirect chain [2], got %+v", records)
		}
	})

	t.Run("storage_errors_propagate_from_terminal_handlers", func(t *testing.T) {
		store := &fakeStore{saveErr: fmt.Errorf("disk full")}
		c := NewCoordinator(store)
		c.SetSession("S1", nil)

		c.HandleRequest(sampleRequest("R1"))
		if err := c.HandleRequestComplete("R1", types.CompletionData{}); err == nil {
			t.Fatalf("expected storage error to propagate")
		}
	})
}

func TestCoordinatorFilters(t *testing.T) {
	t.Run("filter_change_before_completion_governs_final_record", func(t *testing.T) {
		c, store := newTestCoordinator()

		c.HandleRequest(sampleRequest("R1"))
		c.HandleResponse("R1", &types.ResponseData{Status: 200, MimeType: "text/html"})

		c.SetFilters(filter.Config{Headers: true, Payload: true, Preview: true, Response: false})
		err := c.HandleRequestComplete("R1", types.CompletionData{
			Body: &types.BodyData{Body: "<html></html>"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		record := store.stored()[0]
		if record.Response.Body != nil {
			t.Fatalf("expected raw body dropped, got %+v", record.Response.Body)
		}
		if record.Response.Preview == nil || record.Response.Preview.Formatted != "<html></html>" {
			t.Fatalf("expected html preview, got %+v", record.Response.Preview)
		}
		if record.Response.Preview.Type != "html" {
			t.Fatalf("expected preview type html, got %q", record.Response.Preview.Type)
		}
	})

	t.Run("headers_toggle_governs_request_snapshot", func(t *testing.T) {
		c, store := newTestCoordinator()
		c.SetFilters(filter.Config{Headers: false, Payload: true, Preview: true, Response: true})

		c.HandleRequest(sampleRequest("R1"))
		if err := c.HandleRequestComplete("R1", types.CompletionData{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		record := store.stored()[0]
		if len(record.Request.Headers) != 0 {
			t.Fatalf("expected empty request headers, got %v", record.Request.Headers)
		}
	})

	t.Run("enrichment_respects_headers_toggle", func(t *testing.T) {
		c, _ := newTestCoordinator()

		c.HandleRequest(sampleRequest("R1"))
		c.HandleRequestEnriched("R1", map[string]string{"Cookie": "sid=abc"})

		c.mu.Lock()
		got := c.pending["R1"].Request.Headers["Cookie"]
		c.mu.Unlock()
		if got != "sid=abc" {
			t.Fatalf("expected enriched cookie header, got %q", got)
		}

		c.SetFilters(filter.Config{Headers: false, Payload: true, Preview: true, Response: true})
		c.HandleRequest(sampleRequest("R2"))
		c.HandleRequestEnriched("R2", map[string]string{"Cookie": "sid=abc"})

		c.mu.Lock()
		headers := c.pending["R2"].Request.Headers
		c.mu.Unlock()
		if len(headers) != 0 {
			t.Fatalf("expected enrichment skipped with headers off, got %v", headers)
		}
	})

	t.Run("set_session_resets_pending_state", func(t *testing.T) {
		c, store := newTestCoordinator()

		c.HandleRequest(sampleRequest("R1"))
		c.SetSession("S2", nil)
		if err := c.HandleRequestComplete("R1", types.CompletionData{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(store.stored()) != 0 {
			t.Fatalf("expected pending state dropped on session change, got %d records", len(store.stored()))
		}
		if c.SessionID() != "S2" {
			t.Fatalf("expected session S2, got %q", c.SessionID())
		}
	})
}
