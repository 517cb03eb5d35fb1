package proxy

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/jobsync/internal/metrics"
	"github.com/3leaps/jobsync/pkg/scheduler"
)

type listenerEntry struct {
	l scheduler.Listener
}

// Fanout re-broadcasts events to external listeners.
//
// Each delivery iterates a snapshot of the registered set. A listener that
// returns an error or panics is evicted once the pass completes; the others
// still receive the event. Fanout is safe for concurrent use.
type Fanout struct {
	mu      sync.RWMutex
	entries []*listenerEntry
	logger  *zap.Logger
}

// NewFanout returns an empty fanout.
func NewFanout(logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{logger: logger}
}

// Add registers l. Adding a listener that is already registered is a no-op;
// non-comparable listeners (bare ListenerFunc values) are always added.
func (f *Fanout) Add(l scheduler.Listener) {
	if l == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexOf(l) >= 0 {
		return
	}
	f.entries = append(f.entries, &listenerEntry{l: l})
}

// Remove unregisters l. Removing an unknown listener is a no-op.
func (f *Fanout) Remove(l scheduler.Listener) {
	if l == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexOf(l); i >= 0 {
		f.entries = append(f.entries[:i], f.entries[i+1:]...)
	}
}

// Len returns the number of registered listeners.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Deliver hands ev to every registered listener in registration order.
func (f *Fanout) Deliver(ctx context.Context, ev scheduler.Event) {
	f.mu.RLock()
	snapshot := append([]*listenerEntry(nil), f.entries...)
	f.mu.RUnlock()

	var failed []*listenerEntry
	for _, e := range snapshot {
		if err := f.call(ctx, e.l, ev); err != nil {
			f.logger.Warn("Evicting event listener after delivery error",
				zap.String("event", string(ev.Kind())),
				zap.String("job_id", ev.JobRef()),
				zap.String("listener", fmt.Sprintf("%T", e.l)),
				zap.Error(err),
			)
			failed = append(failed, e)
		}
	}
	if len(failed) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	for _, e := range f.entries {
		if !containsEntry(failed, e) {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(f.entries); i++ {
		f.entries[i] = nil
	}
	f.entries = kept
	metrics.ListenerEvictions.Add(float64(len(failed)))
}

func (f *Fanout) call(ctx context.Context, l scheduler.Listener, ev scheduler.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.HandleEvent(ctx, ev)
}

// indexOf must be called with f.mu held.
func (f *Fanout) indexOf(l scheduler.Listener) int {
	if !reflect.TypeOf(l).Comparable() {
		return -1
	}
	for i, e := range f.entries {
		if reflect.TypeOf(e.l).Comparable() && e.l == l {
			return i
		}
	}
	return -1
}

func containsEntry(list []*listenerEntry, e *listenerEntry) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
