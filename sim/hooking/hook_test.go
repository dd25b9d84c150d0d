package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingHook struct {
	calls []HookCtx
}

func (h *recordingHook) Func(ctx HookCtx) {
	h.calls = append(h.calls, ctx)
}

var posTest = &HookPos{Name: "Test"}

var _ = Describe("HookableBase", func() {
	var domain *HookableBase

	BeforeEach(func() {
		domain = &HookableBase{}
	})

	It("should invoke hooks in registration order", func() {
		var order []string

		first := &recordingHook{}
		domain.AcceptHook(first)
		domain.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "func") }))

		domain.InvokeHook(HookCtx{Pos: posTest, Item: 42})

		Expect(domain.NumHooks()).To(Equal(2))
		Expect(first.calls).To(HaveLen(1))
		Expect(first.calls[0].Pos).To(BeIdenticalTo(posTest))
		Expect(first.calls[0].Item).To(Equal(42))
		Expect(order).To(Equal([]string{"func"}))
	})

	It("should refuse the same hook twice", func() {
		hook := &recordingHook{}
		domain.AcceptHook(hook)

		Expect(func() { domain.AcceptHook(hook) }).To(Panic())
	})

	It("should accept several hook funcs", func() {
		f := HookFunc(func(HookCtx) {})

		domain.AcceptHook(f)
		domain.AcceptHook(f)

		Expect(domain.Hooks()).To(HaveLen(2))
	})
})
