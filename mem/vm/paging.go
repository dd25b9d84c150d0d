package vm

// Paging isolates every detail of a concrete two-level page table format.
// Implementations must be pure: no method may have side effects.
type Paging interface {
	// Name returns the name of the architecture.
	Name() string

	// EntriesPerTable returns how many entries a directory or a table holds.
	EntriesPerTable() int

	// DirIndex returns the directory slot that covers virt.
	DirIndex(virt Addr) int

	// TableIndex returns the table slot that maps virt.
	TableIndex(virt Addr) int

	// DirBase returns the first virtual address covered by a directory slot.
	DirBase(index int) Addr

	// EncodeDirFlags translates portable flags into directory entry bits.
	EncodeDirFlags(flags Flags) uint32

	// DecodeDirFlags translates directory entry bits into portable flags.
	DecodeDirFlags(bits uint32) Flags

	// EncodeTableFlags translates portable flags into table entry bits.
	EncodeTableFlags(flags Flags) uint32

	// DecodeTableFlags translates table entry bits into portable flags.
	DecodeTableFlags(bits uint32) Flags

	// DirFlagsSupported lists the portable flags a directory entry can
	// store.
	DirFlagsSupported() Flags

	// TableFlagsSupported lists the portable flags a table entry can store.
	TableFlagsSupported() Flags

	// MakeEntry combines a frame address with encoded flag bits.
	MakeEntry(frame Addr, bits uint32) uint32

	// EntryFrame extracts the frame address of an entry.
	EntryFrame(entry uint32) Addr

	// EntryBits extracts the flag bits of an entry.
	EntryBits(entry uint32) uint32
}
