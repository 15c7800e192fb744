package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
)

const (
	maxEntries = 10000
	maxAgeSec  = 30 * 86400
)

// Log is an append-only newline-delimited JSON journal of triage
// decisions. Appends are serialized by the caller (the pipeline lane);
// the internal mutex keeps appends and reads from racing a rotation.
type Log struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Log {
	return &Log{path: path}
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) Append(entry model.EventLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// ReadSince returns entries with timestamp >= since. Blank and
// unparsable lines are skipped.
func (l *Log) ReadSince(since float64) ([]model.EventLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readSinceLocked(since)
}

func (l *Log) readSinceLocked(since float64) ([]model.EventLogEntry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []model.EventLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry model.EventLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Timestamp >= since {
			out = append(out, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Rotate drops entries older than 30 days and truncates to the newest
// 10,000, rewriting the file through a rename. No-op while the journal
// holds 10,000 entries or fewer. Returns the number dropped.
func (l *Log) Rotate(now float64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.readSinceLocked(0)
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxEntries {
		return 0, nil
	}
	total := len(entries)
	cutoff := now - maxAgeSec
	kept := entries[:0]
	for _, e := range entries {
		if e.Timestamp >= cutoff {
			kept = append(kept, e)
		}
	}
	if len(kept) > maxEntries {
		kept = kept[len(kept)-maxEntries:]
	}
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)
	for _, e := range kept {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return total - len(kept), nil
}
