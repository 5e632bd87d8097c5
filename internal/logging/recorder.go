package logging

import (
	"slices"
	"sync"

	"github.com/arloliu/custodian/types"
)

// Entry is one message captured by a Recorder.
type Entry struct {
	Level         string
	Message       string
	KeysAndValues []any
}

// Value returns the value logged for key, if present.
func (e Entry) Value(key string) (any, bool) {
	for i := 0; i+1 < len(e.KeysAndValues); i += 2 {
		if k, ok := e.KeysAndValues[i].(string); ok && k == key {
			return e.KeysAndValues[i+1], true
		}
	}

	return nil, false
}

// Recorder captures log entries in memory. It is safe for concurrent use
// and is intended for asserting on log output in tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

var _ types.Logger = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Debug(msg string, kv ...any) { r.add("DEBUG", msg, kv) }
func (r *Recorder) Info(msg string, kv ...any)  { r.add("INFO", msg, kv) }
func (r *Recorder) Warn(msg string, kv ...any)  { r.add("WARN", msg, kv) }
func (r *Recorder) Error(msg string, kv ...any) { r.add("ERROR", msg, kv) }

// Fatal records the entry at FATAL level without exiting.
func (r *Recorder) Fatal(msg string, kv ...any) { r.add("FATAL", msg, kv) }

// Entries returns a copy of all captured entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.entries)
}

// Count returns how many entries were captured at level with message msg.
// An empty msg matches every message at that level.
func (r *Recorder) Count(level, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.Level == level && (msg == "" || e.Message == msg) {
			n++
		}
	}

	return n
}

// Reset drops all captured entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

func (r *Recorder) add(level, msg string, kv []any) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, KeysAndValues: slices.Clone(kv)})
	r.mu.Unlock()
}
