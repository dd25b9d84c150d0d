// Package i386 implements the 32-bit, non-PAE, two-level paging format.
package i386

import "github.com/chronos-systems/vmsim/mem/vm"

// Page directory entry bits.
const (
	dirPresent      uint32 = 1 << 0
	dirWrite        uint32 = 1 << 1
	dirUser         uint32 = 1 << 2
	dirWriteThrough uint32 = 1 << 3
	dirCacheDisable uint32 = 1 << 4
	dirAccessed     uint32 = 1 << 5
	dirLargePage    uint32 = 1 << 7
)

// Page table entry bits. Bits 9 to 11 are left to the operating system and
// hold the sharing state.
const (
	tblPresent      uint32 = 1 << 0
	tblWrite        uint32 = 1 << 1
	tblUser         uint32 = 1 << 2
	tblWriteThrough uint32 = 1 << 3
	tblCacheDisable uint32 = 1 << 4
	tblAccessed     uint32 = 1 << 5
	tblDirty        uint32 = 1 << 6
	tblGlobal       uint32 = 1 << 8
	tblShared       uint32 = 1 << 9
	tblCopyOnWrite  uint32 = 1 << 10
)

const (
	entryCount = 1024
	dirShift   = 22
	tableShift = 12
	indexMask  = 0x3FF
	bitsMask   = vm.PageSize - 1
)

type bitMap struct {
	flag vm.Flags
	bit  uint32
}

var dirBits = []bitMap{
	{vm.FlagPresent, dirPresent},
	{vm.FlagWrite, dirWrite},
	{vm.FlagUser, dirUser},
	{vm.FlagWriteThrough, dirWriteThrough},
	{vm.FlagNoCache, dirCacheDisable},
	{vm.FlagAccessed, dirAccessed},
	{vm.FlagLargePage, dirLargePage},
}

var tableBits = []bitMap{
	{vm.FlagPresent, tblPresent},
	{vm.FlagWrite, tblWrite},
	{vm.FlagUser, tblUser},
	{vm.FlagWriteThrough, tblWriteThrough},
	{vm.FlagNoCache, tblCacheDisable},
	{vm.FlagAccessed, tblAccessed},
	{vm.FlagDirty, tblDirty},
	{vm.FlagGlobal, tblGlobal},
	{vm.FlagShared, tblShared},
	{vm.FlagCopyOnWrite, tblCopyOnWrite},
}

// Paging is the i386 implementation of vm.Paging.
type Paging struct{}

// New returns the i386 paging format.
func New() Paging {
	return Paging{}
}

// Name returns "i386".
func (Paging) Name() string {
	return "i386"
}

// EntriesPerTable returns 1024.
func (Paging) EntriesPerTable() int {
	return entryCount
}

// DirIndex returns bits 22 to 31 of virt.
func (Paging) DirIndex(virt vm.Addr) int {
	return int((uint32(virt) >> dirShift) & indexMask)
}

// TableIndex returns bits 12 to 21 of virt.
func (Paging) TableIndex(virt vm.Addr) int {
	return int((uint32(virt) >> tableShift) & indexMask)
}

// DirBase returns the first address covered by a directory slot.
func (Paging) DirBase(index int) vm.Addr {
	return vm.Addr(uint32(index) << dirShift)
}

// EncodeDirFlags translates portable flags into directory entry bits.
func (Paging) EncodeDirFlags(flags vm.Flags) uint32 {
	return encode(dirBits, flags)
}

// DecodeDirFlags translates directory entry bits into portable flags.
func (Paging) DecodeDirFlags(bits uint32) vm.Flags {
	return synthesize(decode(dirBits, bits))
}

// EncodeTableFlags translates portable flags into table entry bits.
func (Paging) EncodeTableFlags(flags vm.Flags) uint32 {
	return encode(tableBits, flags)
}

// DecodeTableFlags translates table entry bits into portable flags.
func (Paging) DecodeTableFlags(bits uint32) vm.Flags {
	return synthesize(decode(tableBits, bits))
}

// DirFlagsSupported lists the flags a directory entry stores.
func (Paging) DirFlagsSupported() vm.Flags {
	return supported(dirBits)
}

// TableFlagsSupported lists the flags a table entry stores.
func (Paging) TableFlagsSupported() vm.Flags {
	return supported(tableBits)
}

// MakeEntry combines a frame address with encoded flag bits.
func (Paging) MakeEntry(frame vm.Addr, bits uint32) uint32 {
	return uint32(vm.PageRoundDown(frame)) | (bits & bitsMask)
}

// EntryFrame extracts the frame address of an entry.
func (Paging) EntryFrame(entry uint32) vm.Addr {
	return vm.PageRoundDown(vm.Addr(entry))
}

// EntryBits extracts the flag bits of an entry.
func (Paging) EntryBits(entry uint32) uint32 {
	return entry & bitsMask
}

func encode(table []bitMap, flags vm.Flags) uint32 {
	var bits uint32
	for _, m := range table {
		if flags.Has(m.flag) {
			bits |= m.bit
		}
	}

	return bits
}

func decode(table []bitMap, bits uint32) vm.Flags {
	var flags vm.Flags
	for _, m := range table {
		if bits&m.bit != 0 {
			flags |= m.flag
		}
	}

	return flags
}

// synthesize fills in what the hardware implies but cannot store: present
// pages are always readable and executable, and a page without the user bit
// belongs to the kernel.
func synthesize(flags vm.Flags) vm.Flags {
	if flags.Has(vm.FlagPresent) {
		flags |= vm.FlagRead | vm.FlagExec
	}

	if !flags.Has(vm.FlagUser) {
		flags |= vm.FlagKernel
	}

	return flags
}

func supported(table []bitMap) vm.Flags {
	var flags vm.Flags
	for _, m := range table {
		flags |= m.flag
	}

	return flags
}
