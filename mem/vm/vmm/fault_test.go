package vmm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
)

var _ = Describe("Fault handling", func() {
	var (
		f     *fixture
		dir   vm.Dir
		stack *StackBounds
	)

	const stackEnd = vm.Addr(0x10000000)

	BeforeEach(func() {
		f = newFixture(MakeBuilder())
		dir = f.m.NewAddressSpace()
		Expect(f.m.MapPages(stackEnd, vm.PageSize, dir,
			vm.UserDirFlags, vm.UserTableFlags)).To(Succeed())
		stack = &StackBounds{
			StackEnd: stackEnd,
			HeapEnd:  0x800000,
			Limit:    stackEnd - vm.UVMMinStack,
		}
	})

	It("should grow the stack down to the fault", func() {
		addr := stackEnd - 3*vm.PageSize + 0x10

		Expect(f.m.HandleFault(dir, addr, stack)).To(Succeed())

		Expect(stack.StackEnd).To(Equal(stackEnd - 3*vm.PageSize))
		for i := 1; i <= 3; i++ {
			va := stackEnd - vm.Addr(i)*vm.PageSize
			Expect(f.m.FindPage(va, false, dir, 0, 0)).NotTo(BeZero())
		}

		_, err := f.m.Store(dir, addr, []byte{1})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should not grow beyond the tolerance", func() {
		addr := stackEnd - (vm.StackTolerance+1)*vm.PageSize

		err := f.m.HandleFault(dir, addr, stack)

		Expect(err).To(MatchError(vm.ErrSegfault))
		Expect(stack.StackEnd).To(Equal(stackEnd))
	})

	It("should not grow into the heap", func() {
		stack.HeapEnd = stackEnd - 2*vm.PageSize - 1

		err := f.m.HandleFault(dir, stackEnd-2*vm.PageSize, stack)

		Expect(err).To(MatchError(vm.ErrStackOverflow))
	})

	It("should not grow past the limit", func() {
		stack.Limit = stackEnd - vm.PageSize

		err := f.m.HandleFault(dir, stackEnd-2*vm.PageSize, stack)

		Expect(err).To(MatchError(vm.ErrStackOverflow))
	})

	It("should report other faults as segmentation faults", func() {
		err := f.m.HandleFault(dir, 0x20000000, stack)
		Expect(err).To(MatchError(vm.ErrSegfault))
	})

	It("should fault on kernel pages", func() {
		_, err := f.m.Load(dir, kernelText, 4)

		var fault *PageFault
		Expect(err).To(BeAssignableToTypeOf(fault))
		Expect(err.Error()).To(ContainSubstring("protection"))
	})

	It("should fault on absent pages", func() {
		n, err := f.m.Store(dir, stackEnd+vm.PageSize-2, []byte{1, 2, 3, 4})

		Expect(n).To(Equal(2))
		Expect(err).To(MatchError(ContainSubstring("not present")))
	})
})
