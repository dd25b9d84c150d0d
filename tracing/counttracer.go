package tracing

import (
	"sort"
	"sync"

	"github.com/chronos-systems/vmsim/sim/hooking"
)

// CountTracer counts how many times each kind of event happened.
type CountTracer struct {
	lock   sync.Mutex
	counts map[string]uint64
}

// NewCountTracer creates a new CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{counts: make(map[string]uint64)}
}

// Func counts the event.
func (t *CountTracer) Func(ctx hooking.HookCtx) {
	if ctx.Pos == nil {
		return
	}

	t.lock.Lock()
	t.counts[ctx.Pos.Name]++
	t.lock.Unlock()
}

// Count returns how many events of a kind were seen.
func (t *CountTracer) Count(kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[kind]
}

// Kinds returns the kinds of events seen so far, sorted by name.
func (t *CountTracer) Kinds() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	kinds := make([]string, 0, len(t.counts))
	for k := range t.counts {
		kinds = append(kinds, k)
	}

	sort.Strings(kinds)

	return kinds
}

// Snapshot returns a copy of all the counters.
func (t *CountTracer) Snapshot() map[string]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make(map[string]uint64, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}

	return out
}
