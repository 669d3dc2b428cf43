package crosschain

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type entry[T any] struct {
	rec   T
	done  chan struct{}
	timer *time.Timer
}

// tracker stores request records and enforces that a record never leaves a terminal status.
// All status changes go through update or finish.
type tracker[T any] struct {
	terminal func(T) bool
	touch    func(*T, time.Time, bool)
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[T]
}

func newTracker[T any](terminal func(T) bool, touch func(*T, time.Time, bool)) *tracker[T] {
	return &tracker[T]{
		terminal: terminal,
		touch:    touch,
		now:      time.Now,
		entries:  make(map[string]*entry[T]),
	}
}

func (t *tracker[T]) add(id string, rec T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[id] = &entry[T]{rec: rec, done: make(chan struct{})}
}

func (t *tracker[T]) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.entries, id)
	}
}

func (t *tracker[T]) get(id string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	return e.rec, true
}

// update applies fn to a non-terminal record. fn must not make the record terminal.
// A non-nil expire is scheduled to run after d, once per record.
func (t *tracker[T]) update(id string, fn func(*T), d time.Duration, expire func()) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || t.terminal(e.rec) {
		var zero T
		if ok {
			zero = e.rec
		}
		return zero, false
	}
	fn(&e.rec)
	t.touch(&e.rec, t.now(), false)
	if expire != nil && e.timer == nil {
		e.timer = time.AfterFunc(d, expire)
	}
	return e.rec, true
}

// finish applies fn, which must make the record terminal, unless the record
// is already terminal. It reports whether fn was applied.
func (t *tracker[T]) finish(id string, fn func(*T)) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	if t.terminal(e.rec) {
		return e.rec, false
	}
	fn(&e.rec)
	t.touch(&e.rec, t.now(), true)
	if e.timer != nil {
		e.timer.Stop()
	}
	close(e.done)
	return e.rec, true
}

// wait blocks until the record is terminal or ctx is done.
func (t *tracker[T]) wait(ctx context.Context, id string) (T, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		rec, _ := t.get(id)
		return rec, ctx.Err()
	}
	rec, _ := t.get(id)
	return rec, nil
}

// counts returns the number of records and how many of them are not terminal.
func (t *tracker[T]) counts() (total, active int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		total++
		if !t.terminal(e.rec) {
			active++
		}
	}
	return total, active
}

func (t *tracker[T]) stopTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
