package tracing

import (
	"log"
	"sync"

	"github.com/chronos-systems/vmsim/sim/hooking"
)

// LogTracer writes one line for every event it receives.
type LogTracer struct {
	*log.Logger

	lock sync.Mutex
	seq  uint64
	only map[string]bool
}

// NewLogTracer creates a LogTracer. When kinds is not empty, only the named
// hook positions are logged.
func NewLogTracer(logger *log.Logger, kinds ...string) *LogTracer {
	t := &LogTracer{Logger: logger}

	if len(kinds) > 0 {
		t.only = make(map[string]bool)
		for _, k := range kinds {
			t.only[k] = true
		}
	}

	return t
}

// Func logs the event.
func (t *LogTracer) Func(ctx hooking.HookCtx) {
	e, ok := Decode(ctx)
	if !ok {
		return
	}

	if t.only != nil && !t.only[e.Kind] {
		return
	}

	t.lock.Lock()
	t.seq++
	e.Seq = t.seq
	t.lock.Unlock()

	t.Printf("#%d %s", e.Seq, e)
}
