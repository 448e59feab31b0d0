package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// FileSink appends newline-delimited JSON events to one file per session
// under dir, named "<session_id>.jsonl" One *os.File handle is kept
// open per session and guarded by a mutex so concurrent agents in the same
// hierarchy can emit without interleaving partial lines.
type FileSink struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileSink returns a FileSink rooted at dir, creating dir if needed.
func NewFileSink(dir string, log zerolog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, demerr.Wrap(demerr.Storage, "event.NewFileSink", "create events directory", err)
	}
	return &FileSink{dir: dir, log: log, files: make(map[string]*os.File)}, nil
}

// Emit implements Sink.
func (f *FileSink) Emit(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := e.SessionID.String()
	fh, ok := f.files[key]
	if !ok {
		path := filepath.Join(f.dir, key+".jsonl")
		var err error
		fh, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return demerr.Wrap(demerr.Storage, "event.FileSink.Emit", "open event file", err)
		}
		f.files[key] = fh
	}

	line, err := json.Marshal(e)
	if err != nil {
		return demerr.Wrap(demerr.Other, "event.FileSink.Emit", "marshal event", err)
	}
	if _, err := fh.Write(append(line, '\n')); err != nil {
		return demerr.Wrap(demerr.Storage, "event.FileSink.Emit", "append event", err)
	}
	f.log.Debug().Str("session_id", key).Str("event_type", string(e.EventType)).Msg("event appended")
	return nil
}

// Close closes every open session file handle.
func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for id, fh := range f.files {
		if err := fh.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close event file for session %s: %w", id, err)
		}
	}
	f.files = make(map[string]*os.File)
	return firstErr
}

// Read implements Reader by a full-scan of the session's file.
func (f *FileSink) Read(_ context.Context, sessionID string) ([]Event, error) {
	path := filepath.Join(f.dir, sessionID+".jsonl")
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, demerr.Wrap(demerr.Storage, "event.FileSink.Read", "open event file", err)
	}
	defer fh.Close()

	var out []Event
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, demerr.Wrap(demerr.Corrupted, "event.FileSink.Read", "decode event line", err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, demerr.Wrap(demerr.Storage, "event.FileSink.Read", "scan event file", err)
	}
	return out, nil
}
