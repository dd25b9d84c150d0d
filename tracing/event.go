// Package tracing turns the hooks fired by the frame allocator and the memory
// manager into log lines, counters, and database rows.
package tracing

import (
	"fmt"
	"strings"

	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

// Event is the flat form of a hook invocation. All fields are primitive so
// that an Event can be stored as a table row.
type Event struct {
	Seq    uint64
	Domain string
	Kind   string
	Dir    uint32
	Virt   uint32
	Frame  uint32
	Flags  string
	Refs   int
	Detail string
}

func (e Event) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s", e.Domain, e.Kind)

	if e.Dir != 0 {
		fmt.Fprintf(&b, " dir=0x%08x", e.Dir)
	}

	if e.Virt != 0 {
		fmt.Fprintf(&b, " virt=0x%08x", e.Virt)
	}

	if e.Frame != 0 {
		fmt.Fprintf(&b, " frame=0x%08x", e.Frame)
	}

	if e.Flags != "" {
		fmt.Fprintf(&b, " flags=%s", e.Flags)
	}

	if e.Refs != 0 {
		fmt.Fprintf(&b, " refs=%d", e.Refs)
	}

	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}

	return b.String()
}

// Decode flattens a hook context. It returns false for hook items it does not
// understand.
func Decode(ctx hooking.HookCtx) (Event, bool) {
	e := Event{Kind: "unknown", Domain: "?"}

	if ctx.Pos != nil {
		e.Kind = ctx.Pos.Name
	}

	if named, ok := ctx.Domain.(hooking.Named); ok {
		e.Domain = named.Name()
	}

	switch item := ctx.Item.(type) {
	case vm.Addr:
		e.Frame = uint32(item)
	case vm.Dir:
		e.Dir = uint32(item)
	case vmm.MappingEvent:
		e.Dir = uint32(item.Dir)
		e.Virt = uint32(item.Virt)
		e.Frame = uint32(item.Frame)
		e.Flags = item.Flags.String()
	case vmm.ShareEvent:
		e.Frame = uint32(item.Frame)
		e.Refs = item.Refs
	default:
		return e, false
	}

	e.Detail = detailString(ctx.Detail)

	return e, true
}

func detailString(detail interface{}) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case vm.Dir:
		if d == 0 {
			return ""
		}

		return "parent " + d.String()
	case vm.Addr:
		return "was " + d.String()
	case int:
		return fmt.Sprintf("%d pages", d)
	default:
		return fmt.Sprint(d)
	}
}

// Attach registers hook with every domain.
func Attach(hook hooking.Hook, domains ...hooking.Hookable) {
	for _, d := range domains {
		d.AcceptHook(hook)
	}
}
