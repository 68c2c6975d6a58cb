package recorder

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/traffic_agent/internal/filter"
	"github.com/dgnsrekt/traffic_agent/internal/storage"
	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// RecordObserver is notified after a finalized record has been
// persisted. Used for live streaming; may be nil.
type RecordObserver interface {
	RecordFinalized(record *types.RequestResponseRecord)
}

// Coordinator binds one active recording session to the capture
// pipeline and hands finalized records to storage exactly once, on the
// first terminal transition. One Coordinator serves one session at a
// time; concurrent sessions need a pipeline each.
type Coordinator struct {
	store    storage.Store
	filters  *filter.Engine
	observer RecordObserver

	mu        sync.Mutex
	sessionID string
	pending   map[string]*types.RequestResponseRecord

	newID func() string
}

func NewCoordinator(store storage.Store) *Coordinator {
	return &Coordinator{
		store:   store,
		filters: filter.NewEngine(filter.DefaultConfig()),
		pending: make(map[string]*types.RequestResponseRecord),
		newID:   newRecordID,
	}
}

// SetObserver attaches a finalized-record observer. Call before
// events start flowing.
func (c *Coordinator) SetObserver(observer RecordObserver) {
	c.observer = observer
}

// SetSession activates a session, resetting any in-flight record
// state. A nil cfg keeps the current filter configuration. Must be
// called before the Network domain is enabled so early events find an
// active session.
func (c *Coordinator) SetSession(sessionID string, cfg *filter.Config) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.pending = make(map[string]*types.RequestResponseRecord)
	c.mu.Unlock()

	if cfg != nil {
		c.filters.SetConfig(*cfg)
	}
	slog.Info("recording session set", "session_id", sessionID)
}

// SessionID returns the active session id, empty when none is set.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetFilters replaces the filter configuration. Only records finalized
// after the change are affected.
func (c *Coordinator) SetFilters(cfg filter.Config) {
	c.filters.SetConfig(cfg)
}

func (c *Coordinator) Filters() filter.Config {
	return c.filters.Config()
}

// HandleRequest opens a pending record for the request. Warn-and-return
// when no session is active.
func (c *Coordinator) HandleRequest(req types.RequestData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		slog.Warn("request event with no active session dropped", "request_id", req.RequestID)
		return
	}

	c.pending[req.RequestID] = &types.RequestResponseRecord{
		ID:        c.newID(),
		SessionID: c.sessionID,
		RequestID: req.RequestID,
		CreatedAt: time.Now().UTC(),
		State:     types.LifecyclePending,
		Request:   c.filters.ApplyToRequest(req),
	}
}

// HandleRequestEnriched merges background-refined headers (cookie
// enrichment) into a still-pending record. Skipped when the headers
// toggle is off or the record is gone.
func (c *Coordinator) HandleRequestEnriched(requestID string, headers map[string]string) {
	if !c.filters.Config().Headers {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.pending[requestID]
	if !ok || record.State.Terminal() {
		return
	}
	if record.Request.Headers == nil {
		record.Request.Headers = make(map[string]string)
	}
	for k, v := range headers {
		if _, exists := record.Request.Headers[k]; !exists {
			record.Request.Headers[k] = v
		}
	}
}

// HandleResponse attaches the filtered response snapshot. No-op for
// untracked request ids.
func (c *Coordinator) HandleResponse(requestID string, resp *types.ResponseData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.pending[requestID]
	if !ok {
		slog.Warn("response for untracked record dropped", "request_id", requestID)
		return
	}
	record.Response = c.filters.ApplyToResponse(resp)
	record.State = types.LifecycleResponseReceived
}

// HandleRequestComplete merges the fetched body, re-applies the
// response filter so body and preview reflect the final filter state,
// and hands the record to storage. The record leaves the pending map
// before the handoff, so a requestId can never be stored twice.
func (c *Coordinator) HandleRequestComplete(requestID string, comp types.CompletionData) error {
	c.mu.Lock()
	record, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		slog.Warn("completion for untracked record dropped", "request_id", requestID)
		return nil
	}
	delete(c.pending, requestID)

	if record.Response != nil && comp.Body != nil {
		merged := *record.Response
		body := *comp.Body
		merged.Body = &body
		record.Response = c.filters.ApplyToResponse(&merged)
	}
	record.State = types.LifecycleCompleted
	record.RedirectChain = comp.RedirectChain
	c.mu.Unlock()

	return c.save(record)
}

// HandleRequestFailed attaches the failure details and hands the
// record to storage. Failed requests are persisted too, with whatever
// response data arrived before the failure.
func (c *Coordinator) HandleRequestFailed(requestID string, fail types.FailureData) error {
	c.mu.Lock()
	record, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		slog.Warn("failure for untracked record dropped", "request_id", requestID)
		return nil
	}
	delete(c.pending, requestID)

	errData := fail.Error
	record.Error = &errData
	record.State = types.LifecycleFailed
	record.RedirectChain = fail.RedirectChain
	c.mu.Unlock()

	return c.save(record)
}

// Clear deactivates the session and drops in-flight record state.
// Subsequent events are warn-dropped until a new session is set.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.sessionID = ""
	c.pending = make(map[string]*types.RequestResponseRecord)
	c.mu.Unlock()
}

func (c *Coordinator) save(record *types.RequestResponseRecord) error {
	if err := c.store.SaveRequestResponse(record); err != nil {
		return fmt.Errorf("save record %s: %w", record.ID, err)
	}
	if c.observer != nil {
		c.observer.RecordFinalized(record)
	}
	return nil
}

func newRecordID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("rec-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
