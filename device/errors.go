package device

import "github.com/pkg/errors"

var (
	// ErrAllocation is returned when device storage cannot be created: bad dimensions, a
	// buffer created twice without a release, or a failed host allocation.
	ErrAllocation = errors.New("allocation error")

	// ErrNotImplemented is returned by device backends that have not been ported. It is fatal to
	// the call that hit it, not to the process.
	ErrNotImplemented = errors.New("not implemented for device")

	// ErrUnsupportedDevice is returned when dispatching on a device type nothing is registered for.
	ErrUnsupportedDevice = errors.New("unsupported device")
)

// NewAllocationError returns an ErrAllocation carrying the given reason.
func NewAllocationError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrAllocation, format, args...)
}

// NewNotImplementedError returns an ErrNotImplemented for the named operation on dev.
func NewNotImplementedError(op string, dev Device) error {
	return errors.Wrapf(ErrNotImplemented, "%s on %s", op, dev)
}
