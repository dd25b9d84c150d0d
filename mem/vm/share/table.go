// Package share keeps the reference counts of physical frames that are
// mapped by more than one page table entry.
//
// The table only does bookkeeping. It never maps, unmaps, or frees frames.
package share

import (
	"errors"
	"sort"
	"sync"

	"github.com/chronos-systems/vmsim/mem/vm"
)

// DefaultCapacity is the number of records a table holds unless told
// otherwise.
const DefaultCapacity = 512

// ErrTableFull is returned when a new frame is shared while every record is
// in use.
var ErrTableFull = errors.New("share table is full")

const (
	bucketEmpty     = -1
	bucketTombstone = -2
	hashMultiplier  = 2654435761
)

// Record is the reference count of one shared frame.
type Record struct {
	Frame vm.Addr
	Refs  int
}

type slot struct {
	valid bool
	Record
}

// Table is a fixed capacity set of share records with a hash index keyed by
// frame.
type Table struct {
	sync.Mutex

	slots   []slot
	clock   int
	buckets []int
	used    int
}

// NewTable creates a table that can track capacity frames.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		panic("share table capacity must be positive")
	}

	t := &Table{
		slots:   make([]slot, capacity),
		buckets: make([]int, 2*capacity),
	}

	for i := range t.buckets {
		t.buckets[i] = bucketEmpty
	}

	return t
}

// Capacity returns the number of records the table can hold.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Len returns the number of frames currently shared.
func (t *Table) Len() int {
	t.Lock()
	defer t.Unlock()

	return t.used
}

// Share adds a reference to frame and returns the new count. The first
// reference creates the record.
func (t *Table) Share(frame vm.Addr) (int, error) {
	frame = vm.PageRoundDown(frame)

	t.Lock()
	defer t.Unlock()

	if i := t.lookup(frame); i >= 0 {
		t.slots[i].Refs++
		return t.slots[i].Refs, nil
	}

	i := t.allocSlot()
	if i < 0 {
		return 0, ErrTableFull
	}

	t.slots[i].Frame = frame
	t.slots[i].Refs = 1
	t.insert(frame, i)

	return 1, nil
}

// Unshare drops one reference to frame and returns how many are left. The
// record is removed when the count reaches zero. Unknown frames report zero.
func (t *Table) Unshare(frame vm.Addr) int {
	frame = vm.PageRoundDown(frame)

	t.Lock()
	defer t.Unlock()

	i := t.lookup(frame)
	if i < 0 {
		return 0
	}

	t.slots[i].Refs--
	left := t.slots[i].Refs
	if left <= 0 {
		t.remove(frame)
		t.freeSlot(i)
		left = 0
	}

	return left
}

// Refs returns the reference count of frame, or zero if it is not shared.
func (t *Table) Refs(frame vm.Addr) int {
	frame = vm.PageRoundDown(frame)

	t.Lock()
	defer t.Unlock()

	i := t.lookup(frame)
	if i < 0 {
		return 0
	}

	return t.slots[i].Refs
}

// Records returns every record ordered by frame.
func (t *Table) Records() []Record {
	t.Lock()
	defer t.Unlock()

	records := make([]Record, 0, t.used)
	for _, s := range t.slots {
		if s.valid {
			records = append(records, s.Record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Frame < records[j].Frame
	})

	return records
}

// allocSlot advances the clock hand to the next free slot and claims it. It
// returns -1 when every slot is taken.
func (t *Table) allocSlot() int {
	if t.clock >= len(t.slots) || t.clock < 0 {
		t.clock = 0
	}

	for n := 0; n < len(t.slots); n++ {
		i := t.clock
		t.clock = (t.clock + 1) % len(t.slots)

		if !t.slots[i].valid {
			t.slots[i] = slot{valid: true}
			t.used++

			return i
		}
	}

	return -1
}

func (t *Table) freeSlot(i int) {
	if i < 0 || i >= len(t.slots) {
		vm.Halt("share", "freeing record %d outside the table", i)
	}

	if !t.slots[i].valid {
		vm.Halt("share", "freeing record %d twice", i)
	}

	t.slots[i] = slot{}
	t.used--
}

func (t *Table) hash(frame vm.Addr) int {
	return int((uint64(frame>>vm.PageShift) * hashMultiplier) %
		uint64(len(t.buckets)))
}

func (t *Table) lookup(frame vm.Addr) int {
	b := t.hash(frame)

	for n := 0; n < len(t.buckets); n++ {
		i := t.buckets[b]

		switch {
		case i == bucketEmpty:
			return -1
		case i >= 0 && t.slots[i].Frame == frame:
			return i
		}

		b = (b + 1) % len(t.buckets)
	}

	return -1
}

func (t *Table) insert(frame vm.Addr, i int) {
	b := t.hash(frame)

	for n := 0; n < len(t.buckets); n++ {
		if t.buckets[b] < 0 {
			t.buckets[b] = i
			return
		}

		b = (b + 1) % len(t.buckets)
	}

	vm.Halt("share", "hash index is full")
}

func (t *Table) remove(frame vm.Addr) {
	b := t.hash(frame)

	for n := 0; n < len(t.buckets); n++ {
		i := t.buckets[b]
		if i == bucketEmpty {
			return
		}

		if i >= 0 && t.slots[i].Frame == frame {
			t.buckets[b] = bucketTombstone
			return
		}

		b = (b + 1) % len(t.buckets)
	}
}
