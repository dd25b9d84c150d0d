package vm

import "strings"

// Flags is the portable set of mapping intents. Every paging format
// translates it into its own bit layout and back.
type Flags uint32

// The portable flags. A paging format that cannot represent one of them
// ignores it when encoding and synthesizes a sensible value when decoding.
const (
	FlagPresent Flags = 1 << iota
	FlagRead
	FlagWrite
	FlagUser
	FlagKernel
	FlagNoCache
	FlagWriteThrough
	FlagAccessed
	FlagDirty
	FlagGlobal
	FlagExec
	FlagShared
	FlagCopyOnWrite
	FlagLargePage
)

// Commonly used flag combinations.
const (
	KernelDirFlags   = FlagRead | FlagWrite
	KernelTableFlags = FlagRead | FlagWrite
	UserDirFlags     = FlagUser | FlagRead | FlagWrite
	UserTableFlags   = FlagUser | FlagRead | FlagWrite
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagPresent, "P"},
	{FlagRead, "R"},
	{FlagWrite, "W"},
	{FlagUser, "U"},
	{FlagKernel, "K"},
	{FlagNoCache, "NC"},
	{FlagWriteThrough, "WT"},
	{FlagAccessed, "A"},
	{FlagDirty, "D"},
	{FlagGlobal, "G"},
	{FlagExec, "X"},
	{FlagShared, "S"},
	{FlagCopyOnWrite, "COW"},
	{FlagLargePage, "LP"},
}

// Has returns true if all the given flags are set.
func (f Flags) Has(flags Flags) bool {
	return f&flags == flags
}

// HasAny returns true if at least one of the given flags is set.
func (f Flags) HasAny(flags Flags) bool {
	return f&flags != 0
}

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}

	parts := make([]string, 0, len(flagNames))
	for _, n := range flagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}

	return strings.Join(parts, "|")
}
