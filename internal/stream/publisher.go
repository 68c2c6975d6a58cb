package stream

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// RecordsFeed is the built-in feed carrying every finalized
// request/response record as JSON.
const RecordsFeed = "records"

// Publisher routes captured traffic onto broker feeds: finalized
// records always go to the records feed, WebSocket frames go to the
// configured feeds whose URL pattern they match.
type Publisher struct {
	broker *Broker
	feeds  []FeedConfig
}

func NewPublisher(broker *Broker, feeds []FeedConfig) *Publisher {
	return &Publisher{broker: broker, feeds: feeds}
}

// RecordFinalized publishes a finalized record to the records feed.
func (p *Publisher) RecordFinalized(record *types.RequestResponseRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal record for streaming", "record_id", record.ID, "error", err)
		return
	}
	p.broker.Publish(Event{Feed: RecordsFeed, Payload: string(data)})
}

// WebSocketEvent publishes incoming frame payloads to every matching
// configured feed.
func (p *Publisher) WebSocketEvent(ev *types.WebSocketEvent) {
	if ev.EventType != "frame_received" && ev.EventType != "frame_sent" {
		return
	}
	if ev.PayloadData == "" {
		return
	}

	for _, feed := range p.feeds {
		if !strings.Contains(ev.URL, feed.URLPattern) {
			continue
		}
		if len(feed.MessageTypes) > 0 {
			msgType := extractMessageType(ev.PayloadData, feed.typeField())
			if !containsString(feed.MessageTypes, msgType) {
				continue
			}
		}
		p.broker.Publish(Event{Feed: feed.Name, Payload: ev.PayloadData})
	}
}

func (f FeedConfig) typeField() string {
	if f.TypeField != "" {
		return f.TypeField
	}
	return "type"
}

func containsString(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// extractMessageType pulls the named field from a JSON frame payload.
// Socket.io-style length framing (~m~NNN~m~{...}) is stripped first.
func extractMessageType(payload, field string) string {
	data := payload
	if strings.HasPrefix(data, "~m~") {
		idx := strings.Index(data[3:], "~m~")
		if idx >= 0 {
			data = data[3+idx+3:]
		}
	}

	data = strings.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return ""
	}
	raw, ok := obj[field]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}
