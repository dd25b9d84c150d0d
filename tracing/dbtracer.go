package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/chronos-systems/vmsim/datarecording"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

// EventTable is the table that DBTracer writes to.
const EventTable = "vm_events"

// DBTracer stores every event it receives in a DataRecorder.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder
	seq     uint64
	enabled bool
}

// NewDBTracer creates a new DBTracer. Tracing starts enabled.
func NewDBTracer(dataRecorder datarecording.DataRecorder) *DBTracer {
	dataRecorder.CreateTable(EventTable, Event{})

	t := &DBTracer{
		backend: dataRecorder,
		enabled: true,
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// IsTracing returns whether events are being recorded.
func (t *DBTracer) IsTracing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.enabled
}

// EnableTracing resumes recording.
func (t *DBTracer) EnableTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = true
}

// StopTracing drops events until EnableTracing is called again.
func (t *DBTracer) StopTracing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = false
}

// Func records the event.
func (t *DBTracer) Func(ctx hooking.HookCtx) {
	e, ok := Decode(ctx)
	if !ok {
		return
	}

	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}

	t.seq++
	e.Seq = t.seq
	t.mu.Unlock()

	t.backend.InsertData(EventTable, e)
}

// Recorded returns the number of events handed to the backend.
func (t *DBTracer) Recorded() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.seq
}

// Terminate flushes the backend.
func (t *DBTracer) Terminate() {
	t.backend.Flush()
}
