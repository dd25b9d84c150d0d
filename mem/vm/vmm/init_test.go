package vmm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
)

var _ = Describe("Init", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(MakeBuilder())
		f.m.IdentityMap(0, 2*vm.PageSize, f.m.KernelDir(),
			vm.KernelDirFlags, vm.KernelTableFlags)
	})

	It("should prepare the kernel address space", func() {
		free := f.frames.FreeCount()

		f.m.Init()

		Expect(f.m.FindPage(0, false, f.m.KernelDir(), 0, 0)).To(BeZero())
		Expect(f.m.FindPage(vm.PageSize, false, f.m.KernelDir(), 0, 0)).
			To(Equal(vm.Addr(vm.PageSize)))

		first, count := vm.KernelStack.Pages()
		for i := 0; i < count; i++ {
			va := first + vm.Addr(i)*vm.PageSize
			Expect(f.m.FindPage(va, false, f.m.KernelDir(), 0, 0)).NotTo(BeZero())
		}

		// 18 loader pages come back; one table and five stack pages go.
		Expect(f.frames.FreeCount()).To(Equal(free + 18 - 6))
		Expect(f.frames.Check()).To(Succeed())

		Expect(f.cpu.PagingEnabled()).To(BeTrue())
		Expect(f.cpu.ActiveDirectory()).To(Equal(f.m.KernelDir()))
		Expect(vm.KernelStack.Contains(f.cpu.StackPointer())).To(BeTrue())
		Expect(f.cpu.CLIDepth()).To(BeZero())
	})

	It("should make the kernel stack visible to new spaces", func() {
		f.m.Init()

		dir := f.m.NewAddressSpace()

		Expect(f.m.FindPage(vm.KVMKStackStart, false, dir, 0, 0)).
			To(Equal(f.m.FindPage(vm.KVMKStackStart, false, f.m.KernelDir(), 0, 0)))
	})
})
