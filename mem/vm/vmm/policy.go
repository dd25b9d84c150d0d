package vmm

import (
	"fmt"
	"strings"
)

// ForkPolicy selects how Fork duplicates the user half of an address space.
type ForkPolicy int

const (
	// FullCopy gives the child a private copy of every user page.
	FullCopy ForkPolicy = iota

	// ShareCOW maps every user page into the child and defers the copy to
	// the first write.
	ShareCOW
)

func (p ForkPolicy) String() string {
	switch p {
	case FullCopy:
		return "copy"
	case ShareCOW:
		return "cow"
	default:
		return fmt.Sprintf("ForkPolicy(%d)", int(p))
	}
}

// ParseForkPolicy converts "copy" or "cow" into a policy.
func ParseForkPolicy(s string) (ForkPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "copy", "full", "fullcopy":
		return FullCopy, nil
	case "cow", "share", "sharecow":
		return ShareCOW, nil
	default:
		return FullCopy, fmt.Errorf("unknown fork policy %q", s)
	}
}
