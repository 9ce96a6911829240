// Package hashmap provides fixed-width key/value hashmaps whose backend is chosen by device.
package hashmap

import (
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/densevo/device"
)

// ErrKeySize is returned when a key or value does not have the width the map was created with.
var ErrKeySize = errors.New("wrong key or value size")

// ErrReleased is returned by operations on a hashmap after Release.
var ErrReleased = errors.New("hashmap is released")

// Hashmap maps fixed-width byte keys to fixed-width byte values.
type Hashmap interface {
	// Insert stores value under key. It reports false if the key is already present or the map
	// is full.
	Insert(key, value []byte) (bool, error)
	// Find returns a copy of the value stored under key.
	Find(key []byte) ([]byte, bool, error)
	// Erase removes key, reporting whether it was present.
	Erase(key []byte) (bool, error)
	Size() int
	MaxKeys() int
	Device() device.Device
	// Release frees the device memory of the map. It is idempotent.
	Release() error
}

// Constructor builds a Hashmap for one device type.
type Constructor func(maxKeys, keySize, valueSize int, dev device.Device) (Hashmap, error)

var (
	registryMu sync.RWMutex
	registry   = map[device.Type]Constructor{
		device.CPU:  newCPUHashmap,
		device.CUDA: newCUDAHashmap,
	}
)

// Register installs the constructor used for a device type.
func Register(t device.Type, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = ctor
}

// Deregister removes the constructor for a device type.
func Deregister(t device.Type) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, t)
}

// Create builds a hashmap on dev holding up to maxKeys entries of the given key and value widths.
func Create(maxKeys, keySize, valueSize int, dev device.Device) (Hashmap, error) {
	if maxKeys <= 0 || keySize <= 0 || valueSize <= 0 {
		return nil, device.NewAllocationError(
			"hashmap needs positive capacity and sizes, got maxKeys=%d keySize=%d valueSize=%d",
			maxKeys, keySize, valueSize)
	}
	registryMu.RLock()
	ctor, ok := registry[dev.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(device.ErrUnsupportedDevice, "no hashmap backend for %s", dev)
	}
	return ctor(maxKeys, keySize, valueSize, dev)
}

func newCUDAHashmap(maxKeys, keySize, valueSize int, dev device.Device) (Hashmap, error) {
	return nil, device.NewNotImplementedError("hashmap", dev)
}
