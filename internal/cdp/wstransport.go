package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WSTransport is a minimal CDP client speaking directly to a page
// target's debugger WebSocket. It avoids the heavy session
// initialisation of full driver libraries; only the commands the
// recorder itself issues go over the wire.
type WSTransport struct {
	httpBase string // e.g. "http://127.0.0.1:9220"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan *cdproto.Message
	pendingMu sync.Mutex

	eventMu sync.RWMutex
	onEvent func(method string, ev any)
}

// devtools /json/list entry; target.Info does not carry the debugger
// WebSocket URL, so this is decoded separately.
type targetListEntry struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func NewWSTransport(httpBase string) *WSTransport {
	return &WSTransport{
		httpBase: strings.TrimRight(httpBase, "/"),
		pending:  make(map[int64]chan *cdproto.Message),
	}
}

// Connect finds the first page target whose URL contains urlFilter
// (any page when empty) and dials its debugger WebSocket.
func (t *WSTransport) Connect(ctx context.Context, urlFilter string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	targets, err := t.listTargets(ctx)
	if err != nil {
		return fmt.Errorf("cdp: list targets: %w", err)
	}

	var wsURL string
	for _, entry := range targets {
		if entry.Type != "page" {
			continue
		}
		if urlFilter != "" && !strings.Contains(strings.ToLower(entry.URL), strings.ToLower(urlFilter)) {
			continue
		}
		wsURL = entry.WebSocketDebuggerURL
		break
	}
	if wsURL == "" {
		return fmt.Errorf("cdp: no page target matching %q", urlFilter)
	}

	slog.Debug("cdp transport connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("cdp: dial: %w", err)
	}

	t.conn = conn
	t.pendingMu.Lock()
	t.pending = make(map[int64]chan *cdproto.Message)
	t.pendingMu.Unlock()
	go t.readLoop()
	return nil
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	return nil
}

// OnEvent registers the downstream event sink. Events arriving before
// registration are dropped.
func (t *WSTransport) OnEvent(fn func(method string, ev any)) {
	t.eventMu.Lock()
	t.onEvent = fn
	t.eventMu.Unlock()
}

// Send issues a command and waits for the response matching its id.
func (t *WSTransport) Send(ctx context.Context, method string, params, result any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	id := t.seq.Add(1)
	msg := cdproto.Message{ID: id, Method: cdproto.MethodType(method)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		msg.Params = raw
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ch := make(chan *cdproto.Message, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()

	t.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	t.mu.Unlock()
	if err != nil {
		t.deletePending(id)
		return fmt.Errorf("send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("connection closed")
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		t.deletePending(id)
		return ctx.Err()
	}
}

// readLoop dispatches responses to waiters and events to the sink.
func (t *WSTransport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdp read loop exit", "error", err)
			t.closeAllPending()
			return
		}

		var msg cdproto.Message
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		switch {
		case msg.ID > 0:
			t.pendingMu.Lock()
			ch, ok := t.pending[msg.ID]
			if ok {
				delete(t.pending, msg.ID)
			}
			t.pendingMu.Unlock()
			if ok {
				ch <- &msg
			}
		case msg.Method != "":
			ev, err := cdproto.UnmarshalMessage(&msg)
			if err != nil {
				slog.Debug("unknown event shape dropped", "method", msg.Method, "error", err)
				continue
			}
			t.eventMu.RLock()
			fn := t.onEvent
			t.eventMu.RUnlock()
			if fn != nil {
				fn(string(msg.Method), ev)
			}
		}
	}
}

func (t *WSTransport) closeAllPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func (t *WSTransport) deletePending(id int64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (t *WSTransport) listTargets(ctx context.Context) ([]targetListEntry, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, t.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var targets []targetListEntry
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("/json/list: %w", err)
	}
	return targets, nil
}
