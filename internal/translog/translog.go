// Package translog is the bounded, newest-first log of emitted
// transmissions. It keeps no in-memory copy: every call reads the backing
// store so checks always see persisted state.
package translog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCapacity is the number of transmissions retained.
const DefaultCapacity = 50

// Key is the store key the log lives under.
const Key = "transmissions"

// ErrNotFound is returned by MarkRead for unknown ids.
var ErrNotFound = errors.New("transmission not found")

// Transmission is one emitted message attributed to a voice. EntityName is
// the voice's stable id; DisplayName may change freely.
type Transmission struct {
	ID             string    `json:"id"`
	EntityType     string    `json:"entityType"`
	EntityName     string    `json:"entityName"`
	DisplayName    string    `json:"displayName,omitempty"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Mode           string    `json:"mode"`
	PatternContext string    `json:"patternContext,omitempty"`
	Read           bool      `json:"read"`
	Fallback       bool      `json:"fallback,omitempty"`
	Forced         bool      `json:"forced,omitempty"`
}

// KV is the persistence the log needs. Get reports absence with ok=false.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
}

// Log is the transmission log over a KV store.
type Log struct {
	kv       KV
	capacity int
	logger   *zap.Logger
	mu       sync.Mutex
}

// New creates a log. A capacity <= 0 uses DefaultCapacity.
func New(kv KV, capacity int, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{kv: kv, capacity: capacity, logger: logger}
}

// Capacity returns the retention bound.
func (l *Log) Capacity() int {
	return l.capacity
}

// load reads the persisted list. Absent, unreadable or corrupt state is an
// empty log.
func (l *Log) load() []Transmission {
	data, ok, err := l.kv.Get(Key)
	if err != nil {
		l.logger.Warn("read transmission log, treating as empty", zap.Error(err))
		return nil
	}
	if !ok || len(data) == 0 {
		return nil
	}
	var items []Transmission
	if err := json.Unmarshal(data, &items); err != nil {
		l.logger.Warn("decode transmission log, treating as empty", zap.Error(err))
		return nil
	}
	return items
}

func (l *Log) save(items []Transmission) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal transmissions: %w", err)
	}
	if err := l.kv.Set(Key, data); err != nil {
		return fmt.Errorf("write transmissions: %w", err)
	}
	return nil
}

// Append inserts t keeping newest-first order and evicts the oldest entries
// beyond capacity.
func (l *Log) Append(t Transmission) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.load()
	i := sort.Search(len(items), func(i int) bool {
		return !items[i].Timestamp.After(t.Timestamp)
	})
	items = append(items, Transmission{})
	copy(items[i+1:], items[i:])
	items[i] = t
	if len(items) > l.capacity {
		items = items[:l.capacity]
	}
	return l.save(items)
}

// MarkRead flips the read flag of one transmission.
func (l *Log) MarkRead(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.load()
	for i := range items {
		if items[i].ID != id {
			continue
		}
		if items[i].Read {
			return nil
		}
		items[i].Read = true
		return l.save(items)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// MarkAllRead flips every unread transmission and returns how many changed.
func (l *Log) MarkAllRead() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.load()
	n := 0
	for i := range items {
		if !items[i].Read {
			items[i].Read = true
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, l.save(items)
}

// CountSince counts an entity's transmissions at or after since.
func (l *Log) CountSince(entityName string, since time.Time) int {
	n := 0
	for _, t := range l.load() {
		if t.EntityName == entityName && !t.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// LatestFor returns the entity's newest transmission.
func (l *Log) LatestFor(entityName string) (Transmission, bool) {
	for _, t := range l.load() {
		if t.EntityName == entityName {
			return t, true
		}
	}
	return Transmission{}, false
}

// UnreadCount counts unread transmissions.
func (l *Log) UnreadCount() int {
	n := 0
	for _, t := range l.load() {
		if !t.Read {
			n++
		}
	}
	return n
}

// Len returns the number of retained transmissions.
func (l *Log) Len() int {
	return len(l.load())
}

// List returns a newest-first page. A limit <= 0 returns everything after
// offset.
func (l *Log) List(offset, limit int) []Transmission {
	return page(l.load(), offset, limit)
}

// ListUnread pages over unread transmissions only, newest first.
func (l *Log) ListUnread(offset, limit int) []Transmission {
	items := l.load()
	unread := items[:0:0]
	for _, t := range items {
		if !t.Read {
			unread = append(unread, t)
		}
	}
	return page(unread, offset, limit)
}

func page(items []Transmission, offset, limit int) []Transmission {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
