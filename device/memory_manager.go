package device

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// A Blob is a contiguous allocation on a device.
type Blob struct {
	dev   Device
	data  []byte
	freed atomic.Bool
}

// Device returns the device the blob lives on.
func (b *Blob) Device() Device {
	return b.dev
}

// Len returns the size of the blob in bytes.
func (b *Blob) Len() int {
	return len(b.data)
}

// Bytes returns the host-addressable storage of the blob. It is nil once the blob is freed.
func (b *Blob) Bytes() []byte {
	if b.freed.Load() {
		return nil
	}
	return b.data
}

// MemoryManager allocates and frees memory on one kind of device.
type MemoryManager interface {
	Allocate(byteSize int, dev Device) (*Blob, error)
	Free(blob *Blob) error
}

var (
	managersMu sync.RWMutex
	managers   = map[Type]MemoryManager{
		CPU:  &cpuMemoryManager{},
		CUDA: &cudaMemoryManager{},
	}

	allocated = map[Type]*atomic.Int64{
		CPU:  atomic.NewInt64(0),
		CUDA: atomic.NewInt64(0),
	}
)

// RegisterMemoryManager installs the memory manager used for a device type, replacing any
// previous one.
func RegisterMemoryManager(t Type, mm MemoryManager) {
	managersMu.Lock()
	defer managersMu.Unlock()
	managers[t] = mm
	if _, ok := allocated[t]; !ok {
		allocated[t] = atomic.NewInt64(0)
	}
}

func memoryManagerFor(dev Device) (MemoryManager, error) {
	managersMu.RLock()
	defer managersMu.RUnlock()
	mm, ok := managers[dev.Type]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedDevice, "no memory manager for %s", dev)
	}
	return mm, nil
}

// Allocate allocates byteSize bytes on dev.
func Allocate(byteSize int, dev Device) (*Blob, error) {
	if byteSize < 0 {
		return nil, NewAllocationError("negative allocation size %d", byteSize)
	}
	mm, err := memoryManagerFor(dev)
	if err != nil {
		return nil, err
	}
	blob, err := mm.Allocate(byteSize, dev)
	if err != nil {
		return nil, err
	}
	managersMu.RLock()
	allocated[dev.Type].Add(int64(blob.Len()))
	managersMu.RUnlock()
	return blob, nil
}

// Free releases a blob. Freeing nil or an already freed blob is a no-op.
func Free(blob *Blob) error {
	if blob == nil || blob.freed.Load() {
		return nil
	}
	mm, err := memoryManagerFor(blob.dev)
	if err != nil {
		return err
	}
	if err := mm.Free(blob); err != nil {
		return err
	}
	if blob.freed.CompareAndSwap(false, true) {
		managersMu.RLock()
		allocated[blob.dev.Type].Sub(int64(len(blob.data)))
		managersMu.RUnlock()
		blob.data = nil
	}
	return nil
}

// Copy copies the contents of src into dst. dst must be at least as large as src.
func Copy(dst, src *Blob) error {
	if dst == nil || src == nil {
		return errors.New("cannot copy to or from a nil blob")
	}
	if dst.freed.Load() || src.freed.Load() {
		return errors.New("cannot copy to or from a freed blob")
	}
	if dst.dev.Type != CPU {
		return NewNotImplementedError("copy", dst.dev)
	}
	if src.dev.Type != CPU {
		return NewNotImplementedError("copy", src.dev)
	}
	if dst.Len() < src.Len() {
		return errors.Errorf("copy destination holds %d bytes, source has %d", dst.Len(), src.Len())
	}
	copy(dst.data, src.data)
	return nil
}

// AllocatedBytes returns the number of bytes currently allocated on devices of type t.
func AllocatedBytes(t Type) int64 {
	managersMu.RLock()
	defer managersMu.RUnlock()
	counter, ok := allocated[t]
	if !ok {
		return 0
	}
	return counter.Load()
}

type cpuMemoryManager struct{}

func (mm *cpuMemoryManager) Allocate(byteSize int, dev Device) (blob *Blob, err error) {
	// make panics rather than returning an error when the size cannot be satisfied.
	defer func() {
		if r := recover(); r != nil {
			blob = nil
			err = NewAllocationError("cpu malloc of %d bytes failed: %v", byteSize, r)
		}
	}()
	return &Blob{dev: dev, data: make([]byte, byteSize)}, nil
}

func (mm *cpuMemoryManager) Free(blob *Blob) error {
	return nil
}

type cudaMemoryManager struct{}

func (mm *cudaMemoryManager) Allocate(byteSize int, dev Device) (*Blob, error) {
	return nil, NewNotImplementedError("allocate", dev)
}

func (mm *cudaMemoryManager) Free(blob *Blob) error {
	return NewNotImplementedError("free", blob.dev)
}
