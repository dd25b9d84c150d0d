package vmm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

var _ = Describe("Hooks", func() {
	var (
		f         *fixture
		positions []string
	)

	BeforeEach(func() {
		f = newFixture(MakeBuilder().WithForkPolicy(ShareCOW))
		positions = nil
		f.m.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == HookPosMap || ctx.Pos == HookPosUnmap {
				return
			}

			positions = append(positions, ctx.Pos.Name)
		}))
	})

	It("should report the life of a shared page", func() {
		parent := f.m.NewAddressSpace()
		Expect(f.m.MapPages(0x400000, vm.PageSize, parent,
			vm.UserDirFlags, vm.UserTableFlags)).To(Succeed())
		child, err := f.m.Fork(parent)
		Expect(err).NotTo(HaveOccurred())

		Expect(f.m.HandleFault(child, 0x400000, nil)).To(Succeed())
		f.m.DestroyAddressSpace(child)

		Expect(positions).To(Equal([]string{
			"SpaceCreate",
			"Share", "Share",
			"SpaceCreate",
			"Unshare", "COWBreak",
			"SpaceDestroy",
		}))
	})

	It("should report stack growth", func() {
		dir := f.m.NewAddressSpace()
		stack := &StackBounds{StackEnd: 0x10000000}

		Expect(f.m.HandleFault(dir, 0x0FFFF000, stack)).To(Succeed())

		Expect(positions).To(Equal([]string{"SpaceCreate", "StackGrow"}))
	})
})
