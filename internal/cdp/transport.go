package cdp

import "context"

// Transport is a bidirectional channel to a browser target: it sends
// protocol commands and surfaces asynchronous named events. The
// recorder consumes this interface; two implementations ship with the
// repo (raw WebSocket and chromedp-backed).
type Transport interface {
	// Send issues a command and decodes the result into result when
	// result is non-nil. It returns an error on transport failure or a
	// protocol-level error response.
	Send(ctx context.Context, method string, params, result any) error

	// OnEvent registers the single downstream event sink. Events are
	// delivered as typed cdproto payloads tagged with their protocol
	// method name.
	OnEvent(fn func(method string, ev any))

	Close() error
}
