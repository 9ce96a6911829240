// Package device contains the device abstraction used for buffer allocation: device tags, the
// memory manager dispatch and its error taxonomy.
package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type is the kind of device memory lives on.
type Type int

const (
	// CPU is host memory.
	CPU Type = iota
	// CUDA is memory on a CUDA capable GPU.
	CUDA
)

func (t Type) String() string {
	switch t {
	case CPU:
		return "cpu"
	case CUDA:
		return "gpu"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Device identifies a device by type and ordinal.
type Device struct {
	Type Type
	ID   int
}

// Host is the default CPU device.
var Host = Device{Type: CPU}

func (d Device) String() string {
	if d.ID == 0 {
		return d.Type.String()
	}
	return fmt.Sprintf("%s:%d", d.Type, d.ID)
}

// Parse parses a device tag such as "cpu", "gpu", "cuda" or "cuda:1".
func Parse(tag string) (Device, error) {
	name, ordinal, hasOrdinal := strings.Cut(strings.ToLower(strings.TrimSpace(tag)), ":")
	var dev Device
	switch name {
	case "cpu":
		dev.Type = CPU
	case "gpu", "cuda":
		dev.Type = CUDA
	default:
		return Device{}, errors.Wrapf(ErrUnsupportedDevice, "unrecognized device %q", tag)
	}
	if hasOrdinal {
		id, err := strconv.Atoi(ordinal)
		if err != nil || id < 0 {
			return Device{}, errors.Wrapf(ErrUnsupportedDevice, "bad device ordinal in %q", tag)
		}
		dev.ID = id
	}
	return dev, nil
}
