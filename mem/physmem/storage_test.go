package physmem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Storage", func() {
	It("should read and write in single unit", func() {
		storage := NewStorage(4096)
		Expect(storage.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(0, 2)
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = storage.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := NewStorage(8192)
		Expect(storage.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(4094, 4)
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
		Expect(storage.UnitCount()).To(Equal(2))
	})

	It("should read untouched memory as zeros", func() {
		storage := NewStorage(8192)

		res, err := storage.Read(100, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(make([]byte, 8)))
	})

	It("should return error if accessing over the capacity", func() {
		storage := NewStorage(4096)

		err := storage.Write(4095, []byte{1, 2})
		Expect(err).To(MatchError(ErrBeyondCapacity))

		_, err = storage.Read(4097, 1)
		Expect(err).To(MatchError(ErrBeyondCapacity))
	})

	It("should store words in little endian", func() {
		storage := NewStorage(4096)
		Expect(storage.WriteUint32(8, 0x11223344)).To(Succeed())

		res, _ := storage.Read(8, 4)
		Expect(res).To(Equal([]byte{0x44, 0x33, 0x22, 0x11}))

		v, err := storage.ReadUint32(8)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint32(0x11223344)))
	})

	It("should zero and copy pages", func() {
		storage := NewStorage(3 * 4096)
		Expect(storage.Write(0x1000, []byte{9, 9, 9})).To(Succeed())

		Expect(storage.CopyPage(0x2000, 0x1004)).To(Succeed())
		res, _ := storage.Read(0x2000, 3)
		Expect(res).To(Equal([]byte{9, 9, 9}))

		Expect(storage.ZeroPage(0x1FFF)).To(Succeed())
		res, _ = storage.Read(0x1000, 3)
		Expect(res).To(Equal([]byte{0, 0, 0}))

		Expect(storage.CopyPage(0x3000, 0x1000)).To(MatchError(ErrBeyondCapacity))
	})
})
