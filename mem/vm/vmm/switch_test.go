package vmm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
)

var _ = Describe("Safe switch", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(MakeBuilder())
	})

	It("should do nothing while paging is off", func() {
		g := f.m.EnterForeign()
		Expect(f.cpu.CLIDepth()).To(BeZero())
		g.Leave()
		Expect(f.cpu.CLIDepth()).To(BeZero())
	})

	It("should hold a critical section on the kernel directory", func() {
		f.cpu.EnablePaging(f.m.KernelDir())
		f.cpu.EnableInterrupts()

		g := f.m.EnterForeign()
		Expect(f.cpu.CLIDepth()).To(Equal(1))
		Expect(f.cpu.InterruptsEnabled()).To(BeFalse())

		g.Leave()
		g.Leave()
		Expect(f.cpu.CLIDepth()).To(BeZero())
		Expect(f.cpu.InterruptsEnabled()).To(BeTrue())
	})

	Context("when a user space is active", func() {
		var user vm.Dir

		BeforeEach(func() {
			user = f.m.NewAddressSpace()
			f.cpu.EnablePaging(user)
			f.cpu.EnableInterrupts()
			f.cpu.SetStackPointer(vm.UVMKStackEnd &^ 0xF)
		})

		It("should switch to the kernel directory and stack", func() {
			g := f.m.EnterForeign()

			Expect(f.cpu.ActiveDirectory()).To(Equal(f.m.KernelDir()))
			Expect(vm.KernelStack.Contains(f.cpu.StackPointer())).To(BeTrue())
			Expect(f.cpu.InterruptsEnabled()).To(BeFalse())

			g.Leave()

			Expect(f.cpu.ActiveDirectory()).To(Equal(user))
			Expect(f.cpu.StackPointer()).To(Equal(vm.UVMKStackEnd &^ 0xF))
			Expect(f.cpu.InterruptsEnabled()).To(BeTrue())
		})

		It("should keep the stack when already on the kernel stack", func() {
			f.cpu.SetStackPointer(vm.KVMKStackStart + 0x100)

			g := f.m.EnterForeign()
			Expect(f.cpu.StackPointer()).To(Equal(vm.KVMKStackStart + 0x100))
			g.Leave()
		})

		It("should keep interrupts off until the outermost leave", func() {
			outer := f.m.EnterForeign()
			inner := f.m.EnterForeign()

			Expect(f.cpu.ActiveDirectory()).To(Equal(f.m.KernelDir()))
			inner.Leave()
			Expect(f.cpu.InterruptsEnabled()).To(BeFalse())
			Expect(f.cpu.ActiveDirectory()).To(Equal(f.m.KernelDir()))

			outer.Leave()
			Expect(f.cpu.InterruptsEnabled()).To(BeTrue())
			Expect(f.cpu.ActiveDirectory()).To(Equal(user))
		})

		It("should ignore a second leave", func() {
			outer := f.m.EnterForeign()
			inner := f.m.EnterForeign()
			inner.Leave()
			inner.Leave()

			Expect(f.cpu.CLIDepth()).To(Equal(1))
			outer.Leave()
			Expect(f.cpu.CLIDepth()).To(BeZero())
		})

		It("should restore the space after a primitive", func() {
			f.m.MapPage(f.frames.Alloc(), 0x400000, user,
				vm.UserDirFlags, vm.UserTableFlags)

			Expect(f.cpu.ActiveDirectory()).To(Equal(user))
			Expect(f.cpu.InterruptsEnabled()).To(BeTrue())
		})

		It("should restore the space after a halt", func() {
			f.m.MapPage(f.frames.Alloc(), 0x400000, user, 0, 0)

			err := vm.RecoverFatal(func() {
				f.m.MapPage(f.frames.Alloc(), 0x400000, user, 0, 0)
			})

			Expect(err).To(HaveOccurred())
			Expect(f.cpu.ActiveDirectory()).To(Equal(user))
			Expect(f.cpu.CLIDepth()).To(BeZero())
		})
	})
})
