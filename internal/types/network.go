package types

import "time"

// LifecycleState tracks where a network exchange is in its lifetime.
type LifecycleState string

const (
	LifecyclePending          LifecycleState = "pending"
	LifecycleResponseReceived LifecycleState = "response_received"
	LifecycleCompleted        LifecycleState = "completed"
	LifecycleFailed           LifecycleState = "failed"
)

// Terminal reports whether no further events are processed for this state.
func (s LifecycleState) Terminal() bool {
	return s == LifecycleCompleted || s == LifecycleFailed
}

// RequestData is the request half of a network exchange. The identity
// fields (RequestID, URL, Method, ResourceType, Referrer, QueryString,
// Initiator, FrameID, Timestamp) always survive filtering; Headers and
// PostData are subject to the per-session filter toggles.
type RequestData struct {
	RequestID    string            `json:"request_id"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	PostData     string            `json:"post_data,omitempty"`
	QueryString  string            `json:"query_string,omitempty"`
	Referrer     string            `json:"referrer,omitempty"`
	Initiator    string            `json:"initiator,omitempty"`
	ResourceType string            `json:"resource_type,omitempty"`
	FrameID      string            `json:"frame_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// BodyData is the out-of-band fetched response body. Unavailable marks
// a fetch that failed without failing the exchange itself.
type BodyData struct {
	Body          string `json:"body,omitempty"`
	Base64Encoded bool   `json:"base64_encoded,omitempty"`
	Size          int64  `json:"size"`
	Unavailable   bool   `json:"unavailable,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Truncated     bool   `json:"truncated,omitempty"`
	OriginalSize  int    `json:"original_size,omitempty"`
	SHA256        string `json:"sha256,omitempty"`
}

// ResponseData is the response half of a network exchange.
type ResponseData struct {
	Status            int               `json:"status"`
	StatusText        string            `json:"status_text,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	MimeType          string            `json:"mime_type,omitempty"`
	FromCache         bool              `json:"from_cache,omitempty"`
	FromServiceWorker bool              `json:"from_service_worker,omitempty"`
	Protocol          string            `json:"protocol,omitempty"`
	RemoteIPAddress   string            `json:"remote_ip_address,omitempty"`
	RemotePort        int64             `json:"remote_port,omitempty"`
	Body              *BodyData         `json:"body,omitempty"`
	Preview           *Preview          `json:"preview,omitempty"`
}

// Preview is a derived, human-readable rendering of a response body,
// independent of the raw body filter toggle.
type Preview struct {
	Type      string `json:"type"`
	Formatted string `json:"formatted"`
	Parsed    any    `json:"parsed,omitempty"`
}

// ErrorData captures a loading failure.
type ErrorData struct {
	Text          string `json:"text"`
	Canceled      bool   `json:"canceled,omitempty"`
	BlockedReason string `json:"blocked_reason,omitempty"`
}

// InFlightRequest is the transient per-exchange state owned by the
// network monitor, keyed by the transport-assigned request id.
type InFlightRequest struct {
	RequestID     string         `json:"request_id"`
	State         LifecycleState `json:"state"`
	Request       RequestData    `json:"request"`
	Response      *ResponseData  `json:"response,omitempty"`
	Body          *BodyData      `json:"body,omitempty"`
	Error         *ErrorData     `json:"error,omitempty"`
	RedirectChain []string       `json:"redirect_chain,omitempty"`
	EncodedBytes  int64          `json:"encoded_bytes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Clone returns a deep copy safe to hand outside the monitor's lock.
func (r *InFlightRequest) Clone() *InFlightRequest {
	out := *r
	out.Request.Headers = cloneHeaders(r.Request.Headers)
	if r.Response != nil {
		resp := *r.Response
		resp.Headers = cloneHeaders(r.Response.Headers)
		out.Response = &resp
	}
	if r.Body != nil {
		body := *r.Body
		out.Body = &body
	}
	if r.Error != nil {
		errData := *r.Error
		out.Error = &errData
	}
	out.RedirectChain = append([]string(nil), r.RedirectChain...)
	return &out
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// CompletionData carries everything the coordinator needs when an
// exchange reaches its Completed state.
type CompletionData struct {
	Body          *BodyData `json:"body,omitempty"`
	RedirectChain []string  `json:"redirect_chain,omitempty"`
	EncodedBytes  int64     `json:"encoded_bytes,omitempty"`
}

// FailureData carries everything the coordinator needs when an
// exchange reaches its Failed state.
type FailureData struct {
	Error         ErrorData `json:"error"`
	RedirectChain []string  `json:"redirect_chain,omitempty"`
}

// RequestResponseRecord is the durable unit handed to storage. It is
// created once, on the first terminal transition, and is immutable
// after handoff.
type RequestResponseRecord struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	RequestID     string         `json:"request_id"`
	CreatedAt     time.Time      `json:"created_at"`
	State         LifecycleState `json:"state"`
	Request       RequestData    `json:"request"`
	Response      *ResponseData  `json:"response,omitempty"`
	Error         *ErrorData     `json:"error,omitempty"`
	RedirectChain []string       `json:"redirect_chain,omitempty"`
}
