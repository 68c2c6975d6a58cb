package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// sessionWriter appends JSON lines for one recording session to
// date-organized files, rotating via lumberjack when a file grows past
// the size limit.
type sessionWriter struct {
	baseDir   string
	sessionID string
	filename  string
	maxSizeMB int

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup

	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex
}

func newSessionWriter(baseDir, sessionID, filename string, bufferSize, maxSizeMB int) *sessionWriter {
	w := &sessionWriter{
		baseDir:   baseDir,
		sessionID: sessionID,
		filename:  filename,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record for async persistence. A full buffer drops the
// record with a warning rather than blocking the capture pipeline.
func (w *sessionWriter) Write(record any) error {
	// Checked on its own first: a combined select would pick at random
	// between a closed done channel and a ready buffer slot.
	select {
	case <-w.done:
		return fmt.Errorf("session writer closed")
	default:
	}

	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("record buffer full, dropping record", "session_id", w.sessionID)
		return fmt.Errorf("buffer full")
	}
}

// Close shuts the writer down and flushes what it can within a bounded
// drain window.
func (w *sessionWriter) Close() error {
	close(w.done)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-timeout:
			slog.Warn("session writer close timeout, records may be lost", "session_id", w.sessionID)
			goto done
		default:
			goto done
		}
	}

done:
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *sessionWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *sessionWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal record", "session_id", w.sessionID, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	currentDate := time.Now().UTC().Format("2006-01-02")
	if w.logger == nil || currentDate != w.currentDate {
		w.rotateForDate(currentDate)
	}
	if w.logger == nil {
		return
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write record", "session_id", w.sessionID, "error", err)
	}
}

func (w *sessionWriter) rotateForDate(date string) {
	if w.logger != nil {
		w.logger.Close()
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date, w.sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("failed to create session directory", "dir", dir, "error", err)
		return
	}

	w.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, w.filename),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Debug("opened session record file", "session_id", w.sessionID, "date", date)
}
