package scheduler

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventResponse  EventKind = "response"
	EventException EventKind = "exception"
)

// Event is broadcast for every execution of a task built with Inform.
type Event struct {
	Kind     EventKind
	Response any
	Err      error
	Result   *Result
}

type Listener func(e Event)

// Events is the in-process notification channel of a Scheduler.
//
// Delivery is synchronous on the goroutine that finished the execution.
// There is no buffering and no replay for late subscribers.
type Events struct {
	mu   sync.RWMutex
	log  zerolog.Logger
	subs []*subscription
}

type subscription struct {
	kind EventKind // empty matches every kind
	fn   Listener
}

func newEvents(log zerolog.Logger) *Events {
	return &Events{log: log}
}

// On attaches fn to one event kind and returns a func that detaches it.
func (e *Events) On(kind EventKind, fn Listener) (off func()) {
	return e.add(&subscription{kind: kind, fn: fn})
}

// Subscribe attaches fn to every event kind.
func (e *Events) Subscribe(fn Listener) (off func()) {
	return e.add(&subscription{fn: fn})
}

func (e *Events) add(s *subscription) func() {
	e.mu.Lock()
	e.subs = append(e.subs, s)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.subs = slices.DeleteFunc(e.subs, func(x *subscription) bool { return x == s })
			e.mu.Unlock()
		})
	}
}

// Listeners returns the number of attached listeners.
func (e *Events) Listeners() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Events) publish(ev Event) {
	// Snapshot so listeners may detach themselves while being called.
	e.mu.RLock()
	subs := slices.Clone(e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		if s.kind != "" && s.kind != ev.Kind {
			continue
		}
		e.deliver(s.fn, ev)
	}
}

func (e *Events) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("event", string(ev.Kind)).Msg("event listener panicked")
		}
	}()
	fn(ev)
}
