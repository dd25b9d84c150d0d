package vm

import (
	"errors"
	"fmt"
	"log"
)

// Errors returned by operations that run in process context. They never
// indicate corruption.
var (
	ErrNotMapped     = errors.New("virtual address is not mapped")
	ErrEmptyRange    = errors.New("range does not cover a single page")
	ErrRangeOverflow = errors.New("range runs past the end of the address space")
	ErrSegfault      = errors.New("segmentation fault")
	ErrStackOverflow = errors.New("stack cannot grow any further")
)

// FatalError describes a condition that leaves the kernel in an unknown
// state. It is only ever raised through Halt.
type FatalError struct {
	Module  string
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Halt logs the diagnostic and stops the kernel by panicking with a
// *FatalError.
func Halt(module, format string, args ...interface{}) {
	err := &FatalError{
		Module:  module,
		Message: fmt.Sprintf(format, args...),
	}

	log.Printf("kernel panic: %s", err)

	panic(err)
}

// RecoverFatal converts a kernel halt raised inside fn into an error. Any
// other panic is propagated.
func RecoverFatal(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		fatal, ok := r.(*FatalError)
		if !ok {
			panic(r)
		}

		err = fatal
	}()

	fn()

	return nil
}
