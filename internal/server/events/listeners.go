package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives events inside the process. A returned error or a panic
// is logged and does not affect other listeners.
type Listener func(Event) error

type namespace uint8

const (
	// nsEvent keys listeners on the wire type of a published event.
	nsEvent namespace = iota
	// nsAction keys listeners on the bare type of a dashboard action.
	nsAction
	// nsAny holds wildcard listeners.
	nsAny
)

func (n namespace) String() string {
	switch n {
	case nsEvent:
		return "event"
	case nsAction:
		return "action"
	default:
		return "any"
	}
}

type listenerKey struct {
	ns namespace
	t  Type
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// listenerTable maps (namespace, type) to callbacks in registration order.
type listenerTable struct {
	mu     sync.RWMutex
	nextID uint64
	byKey  map[listenerKey][]listenerEntry
	logger *zerolog.Logger
}

func newListenerTable(logger *zerolog.Logger) *listenerTable {
	return &listenerTable{
		byKey:  make(map[listenerKey][]listenerEntry),
		logger: logger,
	}
}

// add registers fn under key and returns a func that removes it.
func (l *listenerTable) add(key listenerKey, fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.byKey[key] = append(l.byKey[key], listenerEntry{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(key, id) })
	}
}

func (l *listenerTable) remove(key listenerKey, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byKey[key]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(l.byKey, key)
		return
	}
	l.byKey[key] = entries
}

// emit calls every listener registered under key. Listeners run on the
// caller's goroutine, outside the table lock.
func (l *listenerTable) emit(key listenerKey, e Event) {
	l.mu.RLock()
	entries := l.byKey[key]
	l.mu.RUnlock()

	for _, entry := range entries {
		l.call(key, entry.fn, e)
	}
}

func (l *listenerTable) call(key listenerKey, fn Listener, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error().
				Str("namespace", key.ns.String()).
				Str("event_type", string(e.Type)).
				Str("server_id", e.ServerID).
				Str("panic", fmt.Sprint(rec)).
				Msg("Event listener panicked")
		}
	}()

	if err := fn(e); err != nil {
		l.logger.Error().
			Err(err).
			Str("namespace", key.ns.String()).
			Str("event_type", string(e.Type)).
			Str("server_id", e.ServerID).
			Msg("Event listener failed")
	}
}

func (l *listenerTable) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, entries := range l.byKey {
		n += len(entries)
	}
	return n
}

func (l *listenerTable) clear() {
	l.mu.Lock()
	l.byKey = make(map[listenerKey][]listenerEntry)
	l.mu.Unlock()
}
