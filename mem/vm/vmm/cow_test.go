package vmm

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/vm"
)

var _ = Describe("Copy-on-write", func() {
	var (
		f *fixture
		a vm.Dir
		p vm.Addr
	)

	const page = vm.Addr(0x400000)

	BeforeEach(func() {
		f = newFixture(MakeBuilder().
			WithForkPolicy(ShareCOW).
			WithParanoid(true))
		a = f.m.NewAddressSpace()
		p = f.frames.Alloc()
		f.fill(p, 0xAA)
		f.m.MapPage(p, page, a, vm.UserDirFlags, vm.UserTableFlags)
	})

	It("should mark private pages and leave shared ones", func() {
		q := f.frames.Alloc()
		f.m.MapPage(q, page+vm.PageSize, a, vm.UserDirFlags, vm.UserTableFlags)
		Expect(f.m.SharePage(page+vm.PageSize, a)).To(Succeed())

		Expect(f.m.MarkCOW(a)).To(Succeed())

		Expect(f.m.IsCOW(a, page)).To(BeTrue())
		Expect(f.m.PageFlags(page, a).Has(vm.FlagWrite)).To(BeFalse())
		Expect(f.m.ShareCount(p)).To(Equal(1))

		Expect(f.m.IsCOW(a, page+vm.PageSize)).To(BeFalse())
		Expect(f.m.ShareCount(q)).To(Equal(1))
	})

	It("should give the writer a private copy", func() {
		b, err := f.m.Fork(a)
		Expect(err).NotTo(HaveOccurred())

		Expect(f.m.FindPage(page, false, b, 0, 0)).To(Equal(p))
		Expect(f.m.ShareCount(p)).To(Equal(2))
		Expect(f.m.IsShared(page, a)).To(BeTrue())
		Expect(f.m.IsShared(page, b)).To(BeTrue())

		_, err = f.m.Store(b, page+8, []byte{0x55})
		var fault *PageFault
		Expect(err).To(BeAssignableToTypeOf(fault))
		Expect(err.(*PageFault).Present).To(BeTrue())

		Expect(f.m.HandleFault(b, page+8, nil)).To(Succeed())
		n, err := f.m.Store(b, page+8, []byte{0x55})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		private := f.m.FindPage(page, false, b, 0, 0)
		Expect(private).NotTo(Equal(p))
		Expect(f.m.IsCOW(b, page)).To(BeFalse())
		Expect(f.m.IsShared(page, b)).To(BeFalse())
		Expect(f.m.PageFlags(page, b).Has(vm.FlagWrite)).To(BeTrue())

		data, err := f.m.Load(b, page, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(data[8]).To(Equal(byte(0x55)))
		Expect(data[7]).To(Equal(byte(0xAA)))

		Expect(f.page(p)).To(Equal(bytes.Repeat([]byte{0xAA}, vm.PageSize)))
		Expect(f.m.FindPage(page, false, a, 0, 0)).To(Equal(p))
		Expect(f.m.ShareCount(p)).To(Equal(1))
	})

	It("should make the last holder writable in place", func() {
		b, err := f.m.Fork(a)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.m.Uncow(b, page)).To(Succeed())

		free := f.frames.FreeCount()
		Expect(f.m.Uncow(a, page)).To(Succeed())

		Expect(f.frames.FreeCount()).To(Equal(free))
		Expect(f.m.FindPage(page, false, a, 0, 0)).To(Equal(p))
		Expect(f.m.PageFlags(page, a).Has(vm.FlagWrite)).To(BeTrue())
		Expect(f.m.IsShared(page, a)).To(BeFalse())
		Expect(f.m.Shares()).To(BeEmpty())
	})

	It("should refuse to break a private page", func() {
		err := f.m.Uncow(a, page)
		Expect(err).To(MatchError(ErrNotCOW))
	})

	It("should bump shared pages once per child", func() {
		b, err := f.m.Fork(a)
		Expect(err).NotTo(HaveOccurred())
		c, err := f.m.Fork(a)
		Expect(err).NotTo(HaveOccurred())

		Expect(f.m.ShareCount(p)).To(Equal(3))
		Expect(f.m.FindPage(page, false, c, 0, 0)).To(Equal(p))

		f.m.DestroyAddressSpace(b)
		Expect(f.m.ShareCount(p)).To(Equal(2))
	})

	It("should keep explicitly shared pages writable in the child", func() {
		q := f.frames.Alloc()
		f.m.MapPage(q, page+vm.PageSize, a, vm.UserDirFlags, vm.UserTableFlags)
		Expect(f.m.SharePage(page+vm.PageSize, a)).To(Succeed())

		b, err := f.m.Fork(a)
		Expect(err).NotTo(HaveOccurred())

		_, err = f.m.Store(b, page+vm.PageSize, []byte{1, 2, 3})
		Expect(err).NotTo(HaveOccurred())

		data, err := f.m.Load(a, page+vm.PageSize, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{1, 2, 3}))
		Expect(f.m.ShareCount(q)).To(Equal(2))
	})
})
