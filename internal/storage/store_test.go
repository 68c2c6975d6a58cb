package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/traffic_agent/internal/types"
)

func readRecords(t *testing.T, path string) []types.RequestResponseRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []types.RequestResponseRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record types.RequestResponseRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		out = append(out, record)
	}
	return out
}

func sessionFile(baseDir, sessionID string) string {
	date := time.Now().UTC().Format("2006-01-02")
	return filepath.Join(baseDir, date, sessionID, "requests.jsonl")
}

func TestJSONLStore(t *testing.T) {
	t.Run("records_land_in_per_session_files", func(t *testing.T) {
		dir := t.TempDir()
		store := NewJSONLStore(dir, 16, 10)

		for _, record := range []*types.RequestResponseRecord{
			{ID: "a", SessionID: "s1", RequestID: "R1", State: types.LifecycleCompleted,
				Request: types.RequestData{URL: "https://example.com/one", Method: "GET"}},
			{ID: "b", SessionID: "s2", RequestID: "R2", State: types.LifecycleFailed,
				Request: types.RequestData{URL: "https://example.com/two", Method: "POST"}},
			{ID: "c", SessionID: "s1", RequestID: "R3", State: types.LifecycleCompleted,
				Request: types.RequestData{URL: "https://example.com/three", Method: "GET"}},
		} {
			if err := store.SaveRequestResponse(record); err != nil {
				t.Fatalf("save %s: %v", record.ID, err)
			}
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}

		s1 := readRecords(t, sessionFile(dir, "s1"))
		if len(s1) != 2 || s1[0].ID != "a" || s1[1].ID != "c" {
			t.Fatalf("unexpected s1 records: %+v", s1)
		}
		if s1[0].Request.URL != "https://example.com/one" {
			t.Fatalf("unexpected request snapshot: %+v", s1[0].Request)
		}

		s2 := readRecords(t, sessionFile(dir, "s2"))
		if len(s2) != 1 || s2[0].State != types.LifecycleFailed {
			t.Fatalf("unexpected s2 records: %+v", s2)
		}
	})

	t.Run("empty_session_id_falls_back_to_unassigned", func(t *testing.T) {
		dir := t.TempDir()
		store := NewJSONLStore(dir, 16, 10)

		if err := store.SaveRequestResponse(&types.RequestResponseRecord{ID: "a", RequestID: "R1"}); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}

		records := readRecords(t, sessionFile(dir, "unassigned"))
		if len(records) != 1 || records[0].ID != "a" {
			t.Fatalf("unexpected records: %+v", records)
		}
	})

	t.Run("websocket_events_land_in_their_own_file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewJSONLStore(dir, 16, 10)

		if err := store.SaveWebSocketEvent(&types.WebSocketEvent{
			SessionID: "s1", RequestID: "WS1", URL: "wss://example.com/feed", EventType: "created",
		}); err != nil {
			t.Fatalf("save ws event: %v", err)
		}
		if err := store.SaveRequestResponse(&types.RequestResponseRecord{ID: "a", SessionID: "s1"}); err != nil {
			t.Fatalf("save record: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}

		date := time.Now().UTC().Format("2006-01-02")
		wsPath := filepath.Join(dir, date, "s1", "websocket.jsonl")
		f, err := os.Open(wsPath)
		if err != nil {
			t.Fatalf("open %s: %v", wsPath, err)
		}
		defer f.Close()
		var ev types.WebSocketEvent
		scanner := bufio.NewScanner(f)
		if !scanner.Scan() {
			t.Fatalf("expected one websocket event line")
		}
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal ws event: %v", err)
		}
		if ev.RequestID != "WS1" || ev.EventType != "created" {
			t.Fatalf("unexpected ws event: %+v", ev)
		}

		if records := readRecords(t, sessionFile(dir, "s1")); len(records) != 1 {
			t.Fatalf("expected request record untouched, got %+v", records)
		}
	})

	t.Run("mirror_writes_static_resource_bodies", func(t *testing.T) {
		dir := t.TempDir()
		store := NewJSONLStore(dir, 16, 10)
		store.EnableResourceMirror()

		save := func(record *types.RequestResponseRecord) {
			t.Helper()
			if err := store.SaveRequestResponse(record); err != nil {
				t.Fatalf("save %s: %v", record.ID, err)
			}
		}
		save(&types.RequestResponseRecord{
			ID: "a", SessionID: "s1", State: types.LifecycleCompleted,
			Request: types.RequestData{URL: "https://example.com/static/app.js", ResourceType: "Script"},
			Response: &types.ResponseData{
				Body: &types.BodyData{Body: "console.log(1)"},
			},
		})
		// API traffic stays in JSONL only.
		save(&types.RequestResponseRecord{
			ID: "b", SessionID: "s1", State: types.LifecycleCompleted,
			Request: types.RequestData{URL: "https://example.com/api/data", ResourceType: "XHR"},
			Response: &types.ResponseData{
				Body: &types.BodyData{Body: `{"ok":true}`},
			},
		})
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}

		date := time.Now().UTC().Format("2006-01-02")
		jsPath := filepath.Join(dir, date, "s1", "resources", "example.com", "js", "app.js")
		data, err := os.ReadFile(jsPath)
		if err != nil {
			t.Fatalf("read mirrored resource: %v", err)
		}
		if string(data) != "console.log(1)" {
			t.Fatalf("unexpected mirrored content: %q", data)
		}

		resourceRoot := filepath.Join(dir, date, "s1", "resources")
		matches, err := filepath.Glob(filepath.Join(resourceRoot, "*", "*", "*"))
		if err != nil {
			t.Fatalf("glob mirrored files: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected only the script mirrored, got %v", matches)
		}
	})

	t.Run("save_after_close_reopens_a_writer", func(t *testing.T) {
		dir := t.TempDir()
		store := NewJSONLStore(dir, 16, 10)

		if err := store.SaveRequestResponse(&types.RequestResponseRecord{ID: "a", SessionID: "s1"}); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
		if err := store.SaveRequestResponse(&types.RequestResponseRecord{ID: "b", SessionID: "s1"}); err != nil {
			t.Fatalf("save after close: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}

		records := readRecords(t, sessionFile(dir, "s1"))
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %+v", records)
		}
	})
}
