package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// FrameStore is the durable sink for captured WebSocket events.
type FrameStore interface {
	SaveWebSocketEvent(ev *types.WebSocketEvent) error
}

// FrameObserver receives every captured WebSocket event after it has
// been persisted. Used for live streaming; may be nil.
type FrameObserver interface {
	WebSocketEvent(ev *types.WebSocketEvent)
}

// WebSocketMonitor captures WebSocket lifecycle and frame traffic for
// the attached page. Connections are tracked from webSocketCreated so
// frames can be attributed to their URL; frames for connections opened
// before capture started are dropped.
type WebSocketMonitor struct {
	bus      EventBus
	store    FrameStore
	observer FrameObserver

	sessionFn     func() string
	maxFrameBytes int

	mu          sync.RWMutex
	connections map[string]*types.WebSocketConnection

	subs []subscription
}

func NewWebSocketMonitor(bus EventBus, store FrameStore, sessionFn func() string, maxFrameBytes int) *WebSocketMonitor {
	return &WebSocketMonitor{
		bus:           bus,
		store:         store,
		sessionFn:     sessionFn,
		maxFrameBytes: maxFrameBytes,
		connections:   make(map[string]*types.WebSocketConnection),
	}
}

// SetObserver attaches a live observer. Call before Start.
func (w *WebSocketMonitor) SetObserver(observer FrameObserver) {
	w.observer = observer
}

func (w *WebSocketMonitor) Start() {
	w.subscribe(string(cdproto.EventNetworkWebSocketCreated), func(ev any) {
		if e, ok := ev.(*network.EventWebSocketCreated); ok {
			w.onCreated(e)
		}
	})
	w.subscribe(string(cdproto.EventNetworkWebSocketFrameSent), func(ev any) {
		if e, ok := ev.(*network.EventWebSocketFrameSent); ok {
			w.onFrame(string(e.RequestID), e.Response, "frame_sent", "outgoing")
		}
	})
	w.subscribe(string(cdproto.EventNetworkWebSocketFrameReceived), func(ev any) {
		if e, ok := ev.(*network.EventWebSocketFrameReceived); ok {
			w.onFrame(string(e.RequestID), e.Response, "frame_received", "incoming")
		}
	})
	w.subscribe(string(cdproto.EventNetworkWebSocketClosed), func(ev any) {
		if e, ok := ev.(*network.EventWebSocketClosed); ok {
			w.onClosed(e)
		}
	})
}

func (w *WebSocketMonitor) Stop() {
	for _, s := range w.subs {
		w.bus.Unsubscribe(s.event, s.id)
	}
	w.subs = nil
}

func (w *WebSocketMonitor) subscribe(event string, h func(ev any)) {
	id := w.bus.Subscribe(event, h)
	w.subs = append(w.subs, subscription{event: event, id: id})
}

func (w *WebSocketMonitor) onCreated(ev *network.EventWebSocketCreated) {
	requestID := string(ev.RequestID)

	w.mu.Lock()
	w.connections[requestID] = &types.WebSocketConnection{
		RequestID: requestID,
		URL:       ev.URL,
		CreatedAt: time.Now().UTC(),
	}
	w.mu.Unlock()

	w.emit(&types.WebSocketEvent{
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		URL:       ev.URL,
		EventType: "created",
	})
}

func (w *WebSocketMonitor) onFrame(requestID string, frame *network.WebSocketFrame, eventType, direction string) {
	if frame == nil {
		return
	}

	w.mu.RLock()
	conn, ok := w.connections[requestID]
	w.mu.RUnlock()
	if !ok {
		return
	}

	payload, truncated, originalSize, payloadHash := truncateStringBytes(frame.PayloadData, w.maxFrameBytes)
	w.emit(&types.WebSocketEvent{
		Timestamp:    time.Now().UTC(),
		RequestID:    requestID,
		URL:          conn.URL,
		EventType:    eventType,
		Direction:    direction,
		Opcode:       int(frame.Opcode),
		PayloadData:  payload,
		Truncated:    truncated,
		OriginalSize: originalSize,
		SHA256:       payloadHash,
	})
}

func (w *WebSocketMonitor) onClosed(ev *network.EventWebSocketClosed) {
	requestID := string(ev.RequestID)

	w.mu.Lock()
	conn, ok := w.connections[requestID]
	if ok {
		delete(w.connections, requestID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	w.emit(&types.WebSocketEvent{
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		URL:       conn.URL,
		EventType: "closed",
	})
}

func (w *WebSocketMonitor) emit(ev *types.WebSocketEvent) {
	ev.SessionID = w.sessionFn()
	if ev.SessionID == "" {
		return
	}
	if err := w.store.SaveWebSocketEvent(ev); err != nil {
		slog.Error("failed to persist websocket event", "request_id", ev.RequestID, "error", err)
	}
	if w.observer != nil {
		w.observer.WebSocketEvent(ev)
	}
}

// ActiveConnections returns the number of open tracked sockets.
func (w *WebSocketMonitor) ActiveConnections() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.connections)
}

// ClearConnections drops connection tracking state.
func (w *WebSocketMonitor) ClearConnections() {
	w.mu.Lock()
	w.connections = make(map[string]*types.WebSocketConnection)
	w.mu.Unlock()
}
