package hashmap

import (
	"github.com/pkg/errors"

	"go.viam.com/densevo/device"
)

// cpuHashmap keeps values in a single device blob; the map only stores slot indices.
type cpuHashmap struct {
	keySize   int
	valueSize int
	maxKeys   int
	dev       device.Device

	slots     map[string]int
	freeSlots []int
	values    *device.Blob
}

func newCPUHashmap(maxKeys, keySize, valueSize int, dev device.Device) (Hashmap, error) {
	values, err := device.Allocate(maxKeys*valueSize, dev)
	if err != nil {
		return nil, err
	}
	freeSlots := make([]int, maxKeys)
	for i := range freeSlots {
		freeSlots[i] = maxKeys - 1 - i
	}
	return &cpuHashmap{
		keySize:   keySize,
		valueSize: valueSize,
		maxKeys:   maxKeys,
		dev:       dev,
		slots:     make(map[string]int, maxKeys),
		freeSlots: freeSlots,
		values:    values,
	}, nil
}

func (hm *cpuHashmap) checkKey(key []byte) error {
	if hm.values == nil {
		return ErrReleased
	}
	if len(key) != hm.keySize {
		return errors.Wrapf(ErrKeySize, "key has %d bytes, expected %d", len(key), hm.keySize)
	}
	return nil
}

func (hm *cpuHashmap) slot(i int) []byte {
	return hm.values.Bytes()[i*hm.valueSize : (i+1)*hm.valueSize]
}

func (hm *cpuHashmap) Insert(key, value []byte) (bool, error) {
	if err := hm.checkKey(key); err != nil {
		return false, err
	}
	if len(value) != hm.valueSize {
		return false, errors.Wrapf(ErrKeySize, "value has %d bytes, expected %d", len(value), hm.valueSize)
	}
	if _, ok := hm.slots[string(key)]; ok {
		return false, nil
	}
	if len(hm.freeSlots) == 0 {
		return false, nil
	}
	idx := hm.freeSlots[len(hm.freeSlots)-1]
	hm.freeSlots = hm.freeSlots[:len(hm.freeSlots)-1]
	copy(hm.slot(idx), value)
	hm.slots[string(key)] = idx
	return true, nil
}

func (hm *cpuHashmap) Find(key []byte) ([]byte, bool, error) {
	if err := hm.checkKey(key); err != nil {
		return nil, false, err
	}
	idx, ok := hm.slots[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, hm.valueSize)
	copy(out, hm.slot(idx))
	return out, true, nil
}

func (hm *cpuHashmap) Erase(key []byte) (bool, error) {
	if err := hm.checkKey(key); err != nil {
		return false, err
	}
	idx, ok := hm.slots[string(key)]
	if !ok {
		return false, nil
	}
	delete(hm.slots, string(key))
	hm.freeSlots = append(hm.freeSlots, idx)
	return true, nil
}

func (hm *cpuHashmap) Size() int {
	return len(hm.slots)
}

func (hm *cpuHashmap) MaxKeys() int {
	return hm.maxKeys
}

func (hm *cpuHashmap) Device() device.Device {
	return hm.dev
}

func (hm *cpuHashmap) Release() error {
	if hm.values == nil {
		return nil
	}
	if err := device.Free(hm.values); err != nil {
		return err
	}
	hm.values = nil
	hm.slots = map[string]int{}
	hm.freeSlots = nil
	return nil
}
