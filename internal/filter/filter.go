package filter

import (
	"sync"

	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// Config holds the four independent data-retention toggles. All
// default on. Changing a toggle mid-session affects only records
// finalized after the change.
type Config struct {
	Headers  bool `json:"headers"`
	Payload  bool `json:"payload"`
	Preview  bool `json:"preview"`
	Response bool `json:"response"`
}

// DefaultConfig returns the all-on configuration.
func DefaultConfig() Config {
	return Config{Headers: true, Payload: true, Preview: true, Response: true}
}

// Engine applies the retention configuration to request and response
// snapshots before they are finalized. Apply functions never mutate
// their input.
type Engine struct {
	mu  sync.RWMutex
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// ApplyToRequest returns a filtered copy of req. Structural fields
// (id, url, method, resource type, referrer, query string, initiator,
// frame id, timestamp) always pass through.
func (e *Engine) ApplyToRequest(req types.RequestData) types.RequestData {
	cfg := e.Config()

	out := req
	if cfg.Headers {
		out.Headers = copyHeaders(req.Headers)
	} else {
		out.Headers = map[string]string{}
	}
	if !cfg.Payload {
		out.PostData = ""
	}
	return out
}

// ApplyToResponse returns a filtered copy of resp. Status, status
// text, mime type, cache flags, protocol and remote endpoint always
// pass through. The preview is derived from the raw body before the
// response toggle decides whether the raw body itself is retained.
func (e *Engine) ApplyToResponse(resp *types.ResponseData) *types.ResponseData {
	if resp == nil {
		return nil
	}
	cfg := e.Config()

	out := *resp
	if cfg.Headers {
		out.Headers = copyHeaders(resp.Headers)
	} else {
		out.Headers = map[string]string{}
	}

	out.Preview = nil
	if cfg.Preview && resp.Body != nil && !resp.Body.Unavailable {
		out.Preview = BuildPreview(resp.Body.Body, resp.Body.Base64Encoded, resp.MimeType)
	}

	if cfg.Response {
		if resp.Body != nil {
			body := *resp.Body
			out.Body = &body
		}
	} else {
		out.Body = nil
	}
	return &out
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
