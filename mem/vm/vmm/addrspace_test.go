package vmm

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
)

var _ = Describe("Address space lifecycle", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(MakeBuilder())
	})

	It("should inherit the kernel half with its flags", func() {
		dir := f.m.NewAddressSpace()

		kernel := f.m.FindPage(kernelText, false, f.m.KernelDir(), 0, 0)
		Expect(f.m.FindPage(kernelText, false, dir, 0, 0)).To(Equal(kernel))
		Expect(f.m.PageFlags(kernelText, dir)).
			To(Equal(f.m.PageFlags(kernelText, f.m.KernelDir())))
		Expect(f.m.PageFlags(kernelText, dir).Has(vm.FlagWrite)).To(BeFalse())
		Expect(f.m.Spaces()).To(ConsistOf(dir))
	})

	It("should give every space its own zeroed kernel stack", func() {
		a := f.m.NewAddressSpace()
		b := f.m.NewAddressSpace()

		first, count := vm.ProcKernelStack.Pages()
		Expect(count).To(Equal(5))

		for i := 0; i < count; i++ {
			va := first + vm.Addr(i)*vm.PageSize
			fa := f.m.FindPage(va, false, a, 0, 0)
			fb := f.m.FindPage(va, false, b, 0, 0)

			Expect(fa).NotTo(BeZero())
			Expect(fa).NotTo(Equal(fb))
			Expect(f.page(fa)).To(Equal(make([]byte, vm.PageSize)))
		}
	})

	It("should leave out the per-process regions of the kernel directory", func() {
		f.m.MapPage(f.frames.Alloc(), vm.UVMKStackStart, f.m.KernelDir(),
			vm.KernelDirFlags, vm.KernelTableFlags)
		f.m.MapPage(f.frames.Alloc(), vm.SVMKStackStart, f.m.KernelDir(),
			vm.KernelDirFlags, vm.KernelTableFlags)
		dir := vm.Dir(f.frames.Alloc())

		f.m.CopyKernel(dir)

		Expect(f.m.FindPage(vm.UVMKStackStart, false, dir, 0, 0)).To(BeZero())
		Expect(f.m.FindPage(vm.SVMKStackStart, false, dir, 0, 0)).To(BeZero())
		Expect(f.m.FindPage(kernelText, false, dir, 0, 0)).NotTo(BeZero())
	})

	Context("with the full copy policy", func() {
		It("should copy every user page", func() {
			parent := f.m.NewAddressSpace()
			Expect(f.m.MapPages(0x400000, 2*vm.PageSize, parent,
				vm.UserDirFlags, vm.UserTableFlags)).To(Succeed())
			f.m.MapPage(f.frames.Alloc(), 0x800000, parent,
				vm.UserDirFlags, vm.FlagUser)
			_, err := f.m.Store(parent, 0x400FF0, pattern(0x20, 3))
			Expect(err).NotTo(HaveOccurred())

			child, err := f.m.Fork(parent)
			Expect(err).NotTo(HaveOccurred())

			for _, va := range []vm.Addr{0x400000, 0x401000, 0x800000} {
				pf := f.m.FindPage(va, false, parent, 0, 0)
				cf := f.m.FindPage(va, false, child, 0, 0)

				Expect(cf).NotTo(BeZero())
				Expect(cf).NotTo(Equal(pf))
				Expect(f.page(cf)).To(Equal(f.page(pf)))
				Expect(f.m.PageFlags(va, child)).
					To(Equal(f.m.PageFlags(va, parent)))
			}

			Expect(f.m.Shares()).To(BeEmpty())
		})

		It("should copy the kernel stack", func() {
			parent := f.m.NewAddressSpace()
			top := f.m.FindPage(vm.UVMKStackEnd, false, parent, 0, 0)
			f.fill(top, 0x42)

			child, err := f.m.Fork(parent)
			Expect(err).NotTo(HaveOccurred())

			copied := f.m.FindPage(vm.UVMKStackEnd, false, child, 0, 0)
			Expect(copied).NotTo(Equal(top))
			Expect(f.page(copied)).To(Equal(bytes.Repeat([]byte{0x42}, vm.PageSize)))
		})
	})

	It("should rebuild a kernel stack over stale entries", func() {
		a := f.m.NewAddressSpace()
		b := f.m.NewAddressSpace()
		stale := f.m.FindPage(vm.UVMKStackStart, false, b, 0, 0)
		f.fill(f.m.FindPage(vm.UVMKStackStart, false, a, 0, 0), 0x11)

		f.m.RebuildKernelStack(b, a)

		fresh := f.m.FindPage(vm.UVMKStackStart, false, b, 0, 0)
		Expect(fresh).NotTo(Equal(stale))
		Expect(f.page(fresh)).To(Equal(bytes.Repeat([]byte{0x11}, vm.PageSize)))
	})

	It("should borrow another kernel stack", func() {
		a := f.m.NewAddressSpace()
		b := f.m.NewAddressSpace()

		f.m.SetUserKernelStack(b, a)

		Expect(f.m.FindPage(vm.UVMKStackStart, false, b, 0, 0)).
			To(Equal(f.m.FindPage(vm.UVMKStackStart, false, a, 0, 0)))
	})

	It("should free the user half only", func() {
		dir := f.m.NewAddressSpace()
		free := f.frames.FreeCount()
		Expect(f.m.MapPages(0x400000, 3*vm.PageSize, dir,
			vm.UserDirFlags, vm.UserTableFlags)).To(Succeed())

		f.m.FreeUserSpace(dir)

		Expect(f.frames.FreeCount()).To(Equal(free))
		Expect(f.m.Mappings(dir, 0, vm.UVMTop)).To(BeEmpty())
		Expect(f.m.FindPage(vm.UVMKStackStart, false, dir, 0, 0)).NotTo(BeZero())
	})

	DescribeTable("should return every frame a forked space owned",
		func(policy ForkPolicy) {
			f = newFixture(MakeBuilder().WithForkPolicy(policy))
			free := f.frames.FreeCount()

			parent := f.m.NewAddressSpace()
			Expect(f.m.MapPages(0x400000, 4*vm.PageSize, parent,
				vm.UserDirFlags, vm.UserTableFlags)).To(Succeed())
			Expect(f.m.MapPages(0x10000000, vm.PageSize, parent,
				vm.UserDirFlags, vm.UserTableFlags)).To(Succeed())

			child, err := f.m.Fork(parent)
			Expect(err).NotTo(HaveOccurred())
			grandchild, err := f.m.Fork(child)
			Expect(err).NotTo(HaveOccurred())

			f.m.DestroyAddressSpace(child)
			f.m.DestroyAddressSpace(parent)
			f.m.DestroyAddressSpace(grandchild)

			Expect(f.frames.FreeCount()).To(Equal(free))
			Expect(f.frames.Check()).To(Succeed())
			Expect(f.m.Shares()).To(BeEmpty())
			Expect(f.m.Spaces()).To(BeEmpty())
		},
		Entry("full copy", FullCopy),
		Entry("share", ShareCOW),
	)

	It("should refuse to destroy the kernel directory", func() {
		err := vm.RecoverFatal(func() {
			f.m.DestroyAddressSpace(f.m.KernelDir())
		})
		Expect(err).To(HaveOccurred())
	})

	It("should refuse to destroy the active space", func() {
		dir := f.m.NewAddressSpace()
		f.cpu.EnablePaging(dir)

		err := vm.RecoverFatal(func() { f.m.DestroyAddressSpace(dir) })

		Expect(err).To(MatchError(ContainSubstring("active")))
		Expect(f.cpu.ActiveDirectory()).To(Equal(dir))
	})
})
