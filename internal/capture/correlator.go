package capture

import (
	"net/url"
	"strings"

	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// RecordSink is the business-level entry point surface; satisfied by
// the recording coordinator.
type RecordSink interface {
	HandleRequest(req types.RequestData)
	HandleRequestEnriched(requestID string, headers map[string]string)
	HandleResponse(requestID string, resp *types.ResponseData)
	HandleRequestComplete(requestID string, comp types.CompletionData) error
	HandleRequestFailed(requestID string, fail types.FailureData) error
}

// Correlator converts monitor notifications into coordinator entry
// point calls, normalizing fields the monitor leaves protocol-shaped.
// It keeps no state of its own: the monitor's arena is the single
// authoritative in-flight map, and redirect bookkeeping lives there.
type Correlator struct {
	sink RecordSink
}

func NewCorrelator(sink RecordSink) *Correlator {
	return &Correlator{sink: sink}
}

func (c *Correlator) RequestStarted(entry *types.InFlightRequest) {
	req := entry.Request
	req.QueryString = queryStringFromURL(req.URL)
	c.sink.HandleRequest(req)
}

func (c *Correlator) RequestEnriched(requestID string, headers map[string]string) {
	c.sink.HandleRequestEnriched(requestID, headers)
}

func (c *Correlator) ResponseReceived(requestID string, resp *types.ResponseData) {
	c.sink.HandleResponse(requestID, resp)
}

func (c *Correlator) RequestCompleted(requestID string, comp types.CompletionData) error {
	return c.sink.HandleRequestComplete(requestID, comp)
}

func (c *Correlator) RequestFailed(requestID string, fail types.FailureData) error {
	return c.sink.HandleRequestFailed(requestID, fail)
}

// queryStringFromURL extracts the query portion of a URL. Malformed
// URLs fall back to a substring scan after the first '?' instead of
// failing the event.
func queryStringFromURL(raw string) string {
	if parsed, err := url.Parse(raw); err == nil {
		return parsed.RawQuery
	}
	if i := strings.Index(raw, "?"); i >= 0 {
		return raw[i+1:]
	}
	return ""
}
