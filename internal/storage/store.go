package storage

import (
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/traffic_agent/internal/types"
)

// Store is the durable sink for finalized request/response records.
// Implementations must tolerate retried saves of the same record id.
type Store interface {
	SaveRequestResponse(record *types.RequestResponseRecord) error
	Close() error
}

const (
	requestsFile  = "requests.jsonl"
	websocketFile = "websocket.jsonl"
)

// JSONLStore persists records as JSON lines in date-partitioned,
// per-session files. One async writer is created lazily per session
// file. With a mirror attached, completed static resource bodies are
// additionally written out as raw files.
type JSONLStore struct {
	baseDir    string
	maxSizeMB  int
	bufferSize int
	mirror     *ResourceWriter

	writers map[string]*sessionWriter
	mu      sync.RWMutex
}

func NewJSONLStore(baseDir string, bufferSize, maxSizeMB int) *JSONLStore {
	return &JSONLStore{
		baseDir:    baseDir,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]*sessionWriter),
	}
}

// EnableResourceMirror turns on raw-file mirroring for static resource
// bodies. Call before the first save.
func (s *JSONLStore) EnableResourceMirror() {
	s.mirror = NewResourceWriter(s.baseDir)
}

func (s *JSONLStore) SaveRequestResponse(record *types.RequestResponseRecord) error {
	if err := s.writerFor(record.SessionID, requestsFile).Write(record); err != nil {
		return err
	}
	s.mirrorResource(record)
	return nil
}

// SaveWebSocketEvent appends a WebSocket event to the session's frame
// file.
func (s *JSONLStore) SaveWebSocketEvent(ev *types.WebSocketEvent) error {
	return s.writerFor(ev.SessionID, websocketFile).Write(ev)
}

// mirrorResource writes the raw body of a completed static resource to
// a typed directory. Best-effort; failures are logged.
func (s *JSONLStore) mirrorResource(record *types.RequestResponseRecord) {
	if s.mirror == nil || record.State != types.LifecycleCompleted {
		return
	}
	typeDir := MapResourceType(record.Request.ResourceType)
	if typeDir == "" {
		return
	}
	if record.Response == nil || record.Response.Body == nil {
		return
	}
	body := record.Response.Body
	if body.Unavailable || body.Body == "" {
		return
	}

	data := []byte(body.Body)
	if body.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body.Body)
		if err != nil {
			slog.Debug("resource body base64 decode failed", "record_id", record.ID, "error", err)
			return
		}
		data = decoded
	}

	sessionID := record.SessionID
	if sessionID == "" {
		sessionID = "unassigned"
	}
	host := HostSegmentFromURL(record.Request.URL)
	filename := FilenameFromURL(record.Request.URL)
	if err := s.mirror.WriteRaw(sessionID, host, typeDir, filename, data); err != nil {
		slog.Error("failed to mirror resource", "record_id", record.ID, "error", err)
	}
}

func (s *JSONLStore) writerFor(sessionID, filename string) *sessionWriter {
	if sessionID == "" {
		sessionID = "unassigned"
	}
	key := sessionID + "/" + filename

	s.mu.RLock()
	w, ok := s.writers[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[key]; ok {
		return w
	}

	w = newSessionWriter(s.baseDir, sessionID, filename, s.bufferSize, s.maxSizeMB)
	s.writers[key] = w
	slog.Info("opened session record store", "session_id", sessionID, "file", filename, "base_dir", s.baseDir)
	return w
}

// Close closes all session writers, flushing pending records.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for key, w := range s.writers {
		if err := w.Close(); err != nil {
			slog.Error("failed to close session writer", "writer", key, "error", err)
			lastErr = err
		}
	}
	s.writers = make(map[string]*sessionWriter)
	return lastErr
}
