package types

import "time"

// WebSocketEvent is one captured WebSocket lifecycle or frame event,
// persisted as a JSON line alongside the request/response records of
// its session.
type WebSocketEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id,omitempty"`
	RequestID    string    `json:"request_id"`
	URL          string    `json:"url"`
	EventType    string    `json:"event_type"`
	Direction    string    `json:"direction,omitempty"`
	Opcode       int       `json:"opcode,omitempty"`
	PayloadData  string    `json:"payload_data,omitempty"`
	Truncated    bool      `json:"truncated,omitempty"`
	OriginalSize int       `json:"original_size,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
}

// WebSocketConnection tracks an open WebSocket for frame attribution.
type WebSocketConnection struct {
	RequestID string
	URL       string
	CreatedAt time.Time
}
