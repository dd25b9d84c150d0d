package cpu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
)

var _ = Describe("CPU", func() {
	var c *CPU

	BeforeEach(func() {
		c = New()
	})

	It("should start with paging and interrupts off", func() {
		Expect(c.PagingEnabled()).To(BeFalse())
		Expect(c.InterruptsEnabled()).To(BeFalse())
	})

	It("should load the directory register", func() {
		c.EnablePaging(0x1000)
		Expect(c.PagingEnabled()).To(BeTrue())
		Expect(c.ActiveDirectory()).To(Equal(vm.Dir(0x1000)))

		c.LoadDirectory(0x5000)
		Expect(c.ActiveDirectory()).To(Equal(vm.Dir(0x5000)))

		c.DisablePaging()
		Expect(c.PagingEnabled()).To(BeFalse())
	})

	Context("when interrupts are enabled", func() {
		BeforeEach(func() {
			c.EnableInterrupts()
		})

		It("should enable interrupts after the outermost pop", func() {
			c.PushCLI()
			c.PushCLI()
			Expect(c.CLIDepth()).To(Equal(2))
			Expect(c.InterruptsEnabled()).To(BeFalse())

			c.PopCLI()
			Expect(c.InterruptsEnabled()).To(BeFalse())

			c.PopCLI()
			Expect(c.InterruptsEnabled()).To(BeTrue())
			Expect(c.CLIDepth()).To(BeZero())
		})

		It("should clamp an unbalanced pop", func() {
			c.PopCLI()
			Expect(c.CLIDepth()).To(BeZero())
			Expect(c.InterruptsEnabled()).To(BeTrue())
		})
	})

	Context("when interrupts are already disabled", func() {
		It("should keep them disabled after the matching pop", func() {
			c.PushCLI()
			Expect(c.CLIDepth()).To(Equal(2))

			c.PopCLI()
			Expect(c.InterruptsEnabled()).To(BeFalse())
			Expect(c.CLIDepth()).To(Equal(1))
		})

		It("should forget pushes on reset", func() {
			c.PushCLI()
			c.ResetCLI()
			Expect(c.CLIDepth()).To(BeZero())
		})
	})

	It("should release a critical section once", func() {
		c.EnableInterrupts()

		outer := c.EnterCritical()
		inner := c.EnterCritical()
		inner.Release()
		inner.Release()
		Expect(c.InterruptsEnabled()).To(BeFalse())

		outer.Release()
		Expect(c.InterruptsEnabled()).To(BeTrue())
	})

	It("should track the stack pointer", func() {
		c.SetStackPointer(0xFEFFE000)
		Expect(c.StackPointer()).To(Equal(vm.Addr(0xFEFFE000)))
	})
})
