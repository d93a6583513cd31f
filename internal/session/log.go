package session

import (
	"sync"
	"time"
)

// Entry is one accumulated log line.
type Entry struct {
	Index   int       `json:"index"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Log is an append-only, index-addressable feed of engine messages.
// It implements engine.LogSink and is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append adds msg to the end of the log.
func (l *Log) Append(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Index:   len(l.entries),
		Time:    l.now(),
		Message: msg,
	})
}

// Len returns the number of entries appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Since returns the entries with index >= since, in insertion order.
// A negative index or one beyond the current length yields an empty slice.
func (l *Log) Since(since int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if since < 0 || since > len(l.entries) {
		return []Entry{}
	}
	out := make([]Entry, len(l.entries)-since)
	copy(out, l.entries[since:])
	return out
}

// All returns every entry in insertion order.
func (l *Log) All() []Entry {
	return l.Since(0)
}
