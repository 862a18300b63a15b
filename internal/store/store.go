package store

import (
    "sync"
    "time"

    "goldboard/internal/quote"
)

// Store owns the last-known Quote and a bounded FIFO history for a single
// instrument. Readers never observe a torn update: the latest quote and its
// position in history change under one lock. Expensive work (fetching,
// parsing, encoding) happens strictly outside the critical section.
type Store struct {
    mu        sync.RWMutex
    latest    *quote.Quote
    history   []quote.Quote
    capacity  int
    connected bool
}

func New(capacity int) *Store {
    if capacity <= 0 { capacity = 720 }
    return &Store{
        history:   make([]quote.Quote, 0, capacity),
        capacity:  capacity,
        connected: true,
    }
}

// Write atomically replaces the latest quote and appends it to history,
// evicting the oldest entry when over capacity. A quote observed earlier than
// the newest history entry is dropped to keep ObservedAt non-decreasing; the
// return value reports whether the quote was accepted.
func (s *Store) Write(q quote.Quote) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if n := len(s.history); n > 0 && q.ObservedAt.Before(s.history[n-1].ObservedAt) {
        return false
    }
    s.latest = &q
    s.history = append(s.history, q)
    if len(s.history) > s.capacity {
        over := len(s.history) - s.capacity
        s.history = append(s.history[:0], s.history[over:]...)
    }
    s.connected = true
    return true
}

// ReadLatest returns the last-known quote, or ok=false if nothing has been
// observed yet.
func (s *Store) ReadLatest() (quote.Quote, bool) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    if s.latest == nil {
        return quote.Quote{}, false
    }
    return *s.latest, true
}

// ReadHistory returns a snapshot of the history at a single point in time,
// filtered to quotes observed at or after since. A zero since returns
// everything. The returned slice is a copy and safe to hold across writes.
func (s *Store) ReadHistory(since time.Time) []quote.Quote {
    s.mu.RLock()
    defer s.mu.RUnlock()
    start := 0
    if !since.IsZero() {
        // History is ordered by ObservedAt, so scan to the first kept entry.
        for start < len(s.history) && s.history[start].ObservedAt.Before(since) {
            start++
        }
    }
    out := make([]quote.Quote, len(s.history)-start)
    copy(out, s.history[start:])
    return out
}

// Len reports the current history length.
func (s *Store) Len() int {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return len(s.history)
}

// SetConnected flips the connectivity flag. The refresh loop clears it when a
// whole tick fails; the last-known quote is left untouched so readers keep
// seeing the best available data, explicitly marked stale.
func (s *Store) SetConnected(ok bool) {
    s.mu.Lock()
    s.connected = ok
    s.mu.Unlock()
}

func (s *Store) Connected() bool {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return s.connected
}

// Seed loads persisted history at startup, keeping order and the capacity
// bound. The newest entry becomes the latest quote.
func (s *Store) Seed(quotes []quote.Quote) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if len(quotes) > s.capacity {
        quotes = quotes[len(quotes)-s.capacity:]
    }
    s.history = append(s.history[:0], quotes...)
    if n := len(s.history); n > 0 {
        q := s.history[n-1]
        s.latest = &q
    }
}
