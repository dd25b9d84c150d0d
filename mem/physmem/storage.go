// Package physmem provides the physical memory of the simulated machine.
package physmem

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/chronos-systems/vmsim/mem/vm"
)

// ErrBeyondCapacity is returned when an access touches a byte that the
// machine does not have.
var ErrBeyondCapacity = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the physical memory of the machine.
//
// The storage manages the memory in units of one frame. For the units that
// are never touched by Read and Write, no memory is allocated and they read
// back as zeros.
type Storage struct {
	sync.Mutex
	unitSize uint64
	capacity uint64
	data     map[vm.Addr][]byte
}

// NewStorage creates a storage object with the specified capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	storage := new(Storage)

	storage.unitSize = vm.PageSize
	storage.capacity = capacity
	storage.data = make(map[vm.Addr][]byte)

	return storage
}

// Capacity returns the size of the storage in bytes.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// UnitCount returns how many frames have ever been touched.
func (s *Storage) UnitCount() int {
	s.Lock()
	defer s.Unlock()

	return len(s.data)
}

func (s *Storage) checkRange(addr vm.Addr, length uint64) error {
	if uint64(addr)+length > s.capacity {
		return ErrBeyondCapacity
	}

	return nil
}

func (s *Storage) createOrGetUnit(addr vm.Addr) []byte {
	base := vm.PageRoundDown(addr)

	unit, ok := s.data[base]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[base] = unit
	}

	return unit
}

// Read returns a copy of length bytes starting at addr.
func (s *Storage) Read(addr vm.Addr, length uint64) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	if err := s.checkRange(addr, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	s.read(addr, res)

	return res, nil
}

func (s *Storage) read(addr vm.Addr, res []byte) {
	curr := uint64(addr)
	offset := uint64(0)
	length := uint64(len(res))

	for offset < length {
		unit := s.createOrGetUnit(vm.Addr(curr))
		inUnit := curr % s.unitSize
		n := min(length-offset, s.unitSize-inUnit)

		copy(res[offset:offset+n], unit[inUnit:inUnit+n])
		offset += n
		curr += n
	}
}

// Write stores data starting at addr.
func (s *Storage) Write(addr vm.Addr, data []byte) error {
	s.Lock()
	defer s.Unlock()

	if err := s.checkRange(addr, uint64(len(data))); err != nil {
		return err
	}

	s.write(addr, data)

	return nil
}

func (s *Storage) write(addr vm.Addr, data []byte) {
	curr := uint64(addr)
	offset := uint64(0)
	length := uint64(len(data))

	for offset < length {
		unit := s.createOrGetUnit(vm.Addr(curr))
		inUnit := curr % s.unitSize
		n := min(length-offset, s.unitSize-inUnit)

		copy(unit[inUnit:inUnit+n], data[offset:offset+n])
		offset += n
		curr += n
	}
}

// ReadUint32 reads a little-endian 32-bit word.
func (s *Storage) ReadUint32(addr vm.Addr) (uint32, error) {
	buf, err := s.Read(addr, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf), nil
}

// WriteUint32 writes a little-endian 32-bit word.
func (s *Storage) WriteUint32(addr vm.Addr, value uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)

	return s.Write(addr, buf)
}

// ZeroPage clears the frame that holds addr.
func (s *Storage) ZeroPage(addr vm.Addr) error {
	frame := vm.PageRoundDown(addr)

	s.Lock()
	defer s.Unlock()

	if err := s.checkRange(frame, vm.PageSize); err != nil {
		return err
	}

	unit := s.createOrGetUnit(frame)
	clear(unit)

	return nil
}

// CopyPage copies the whole frame src into the frame dst.
func (s *Storage) CopyPage(dst, src vm.Addr) error {
	dst = vm.PageRoundDown(dst)
	src = vm.PageRoundDown(src)

	s.Lock()
	defer s.Unlock()

	if err := s.checkRange(dst, vm.PageSize); err != nil {
		return err
	}

	if err := s.checkRange(src, vm.PageSize); err != nil {
		return err
	}

	copy(s.createOrGetUnit(dst), s.createOrGetUnit(src))

	return nil
}
