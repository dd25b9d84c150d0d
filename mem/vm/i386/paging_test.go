package i386

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
)

var _ = Describe("Paging", func() {
	var p Paging

	BeforeEach(func() {
		p = New()
	})

	It("should split a virtual address into indices", func() {
		Expect(p.DirIndex(0xFEFF4123)).To(Equal(0x3FB))
		Expect(p.TableIndex(0xFEFF4123)).To(Equal(0x3F4))
		Expect(p.DirBase(0x3FB)).To(Equal(vm.Addr(0xFEC00000)))
		Expect(p.EntriesPerTable()).To(Equal(1024))
	})

	It("should place flags in the hardware bits", func() {
		bits := p.EncodeTableFlags(vm.FlagPresent | vm.FlagWrite | vm.FlagUser)
		Expect(bits).To(Equal(uint32(0x7)))

		Expect(p.EncodeTableFlags(vm.FlagGlobal)).To(Equal(uint32(0x100)))
		Expect(p.EncodeDirFlags(vm.FlagLargePage)).To(Equal(uint32(0x80)))
	})

	It("should map present to the present bit", func() {
		Expect(p.EncodeTableFlags(vm.FlagPresent)).To(Equal(uint32(1)))
	})

	It("should ignore flags the format cannot store", func() {
		Expect(p.EncodeDirFlags(vm.FlagGlobal | vm.FlagDirty)).To(BeZero())
		Expect(p.EncodeTableFlags(vm.FlagRead | vm.FlagExec | vm.FlagKernel)).
			To(BeZero())
	})

	It("should synthesize readable, executable and kernel", func() {
		flags := p.DecodeTableFlags(p.EncodeTableFlags(vm.FlagPresent))
		Expect(flags).To(Equal(
			vm.FlagPresent | vm.FlagRead | vm.FlagExec | vm.FlagKernel))

		userFlags := p.DecodeTableFlags(
			p.EncodeTableFlags(vm.FlagPresent | vm.FlagUser))
		Expect(userFlags.Has(vm.FlagKernel)).To(BeFalse())
	})

	It("should round trip every representable table flag combination", func() {
		mask := p.TableFlagsSupported()
		for f := vm.Flags(0); f < vm.FlagLargePage<<1; f++ {
			got := p.DecodeTableFlags(p.EncodeTableFlags(f))
			Expect(got & mask).To(Equal(f & mask))
		}
	})

	It("should round trip every representable directory flag combination", func() {
		mask := p.DirFlagsSupported()
		for f := vm.Flags(0); f < vm.FlagLargePage<<1; f++ {
			got := p.DecodeDirFlags(p.EncodeDirFlags(f))
			Expect(got & mask).To(Equal(f & mask))
		}
	})

	It("should build and split entries", func() {
		entry := p.MakeEntry(0x12345678, 0xFFFFF)
		Expect(entry).To(Equal(uint32(0x12345FFF)))
		Expect(p.EntryFrame(entry)).To(Equal(vm.Addr(0x12345000)))
		Expect(p.EntryBits(entry)).To(Equal(uint32(0xFFF)))
	})
})
