package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/densevo/device"
)

// A Buffer is a typed, fixed-capacity 2D allocation on a device. Pixels are stored row-major.
// A 1D buffer is a Buffer with height 1.
type Buffer[T device.Scalar] struct {
	width  int
	height int
	dev    device.Device

	blob *device.Blob
	data []T
}

// NewBuffer returns an uncreated buffer that allocates on dev.
func NewBuffer[T device.Scalar](dev device.Device) *Buffer[T] {
	return &Buffer[T]{dev: dev}
}

// Create allocates storage for width*height elements. It fails if the buffer already holds an
// allocation or if either dimension is not positive.
func (b *Buffer[T]) Create(width, height int) error {
	if b.blob != nil {
		return device.NewAllocationError("buffer already created (%dx%d), release it first", b.width, b.height)
	}
	if width <= 0 || height <= 0 {
		return device.NewAllocationError("invalid buffer size (%d, %d)", width, height)
	}
	blob, err := device.Allocate(width*height*device.ElemSize[T](), b.dev)
	if err != nil {
		return err
	}
	b.blob = blob
	b.data = device.View[T](blob)
	b.width = width
	b.height = height
	return nil
}

// Release frees the storage. Releasing an uncreated buffer is a no-op.
func (b *Buffer[T]) Release() error {
	if b.blob == nil {
		return nil
	}
	err := device.Free(b.blob)
	b.blob = nil
	b.data = nil
	b.width, b.height = 0, 0
	return err
}

// Created reports whether the buffer currently holds an allocation.
func (b *Buffer[T]) Created() bool {
	return b.blob != nil
}

// Width returns the number of columns.
func (b *Buffer[T]) Width() int {
	return b.width
}

// Height returns the number of rows.
func (b *Buffer[T]) Height() int {
	return b.height
}

// Size returns the dimensions as a point.
func (b *Buffer[T]) Size() image.Point {
	return image.Point{b.width, b.height}
}

// Device returns the device the buffer allocates on.
func (b *Buffer[T]) Device() device.Device {
	return b.dev
}

func (b *Buffer[T]) kxy(x, y int) int {
	return (y * b.width) + x
}

// In reports whether (x, y) is inside the buffer.
func (b *Buffer[T]) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}

// At returns the element at (x, y).
func (b *Buffer[T]) At(x, y int) T {
	return b.data[b.kxy(x, y)]
}

// Set sets the element at (x, y).
func (b *Buffer[T]) Set(x, y int, v T) {
	b.data[b.kxy(x, y)] = v
}

// Upload copies host data into the buffer. len(data) must equal width*height.
func (b *Buffer[T]) Upload(data []T) error {
	if !b.Created() {
		return errors.New("cannot upload to an uncreated buffer")
	}
	if len(data) != len(b.data) {
		return errors.Errorf("upload of %d elements into a buffer of %d", len(data), len(b.data))
	}
	copy(b.data, data)
	return nil
}

// Download copies the buffer contents back to a new host slice.
func (b *Buffer[T]) Download() []T {
	out := make([]T, len(b.data))
	copy(out, b.data)
	return out
}

// Memset sets every element to v.
func (b *Buffer[T]) Memset(v T) {
	for i := range b.data {
		b.data[i] = v
	}
}

// CopyFrom copies other into b, creating b with other's size if needed.
func (b *Buffer[T]) CopyFrom(other *Buffer[T]) error {
	if !other.Created() {
		return errors.New("cannot copy from an uncreated buffer")
	}
	if !b.Created() {
		if err := b.Create(other.width, other.height); err != nil {
			return err
		}
	}
	if b.width != other.width || b.height != other.height {
		return errors.Errorf("cannot copy a %dx%d buffer into a %dx%d buffer",
			other.width, other.height, b.width, b.height)
	}
	return device.Copy(b.blob, other.blob)
}

// View returns a read-only view of the current contents. The view aliases the buffer and must
// not outlive a Release.
func (b *Buffer[T]) View() BufferView[T] {
	return BufferView[T]{width: b.width, height: b.height, data: b.data}
}

// A BufferView is a read-only handle onto a buffer's storage, cheap to copy by value.
type BufferView[T device.Scalar] struct {
	width  int
	height int
	data   []T
}

// Width returns the number of columns.
func (v BufferView[T]) Width() int {
	return v.width
}

// Height returns the number of rows.
func (v BufferView[T]) Height() int {
	return v.height
}

// At returns the element at (x, y).
func (v BufferView[T]) At(x, y int) T {
	return v.data[(y*v.width)+x]
}

// Interp bilinearly interpolates at the sub-pixel location (x, y). The caller must make sure
// that floor(x)+1 and floor(y)+1 are inside the view.
func (v BufferView[T]) Interp(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	ax := x - float64(x0)
	ay := y - float64(y0)

	v00 := float64(v.At(x0, y0))
	v10 := float64(v.At(x0+1, y0))
	v01 := float64(v.At(x0, y0+1))
	v11 := float64(v.At(x0+1, y0+1))
	return (1-ay)*((1-ax)*v00+ax*v10) + ay*((1-ax)*v01+ax*v11)
}

// Corners returns the four samples that Interp(x, y) blends.
func (v BufferView[T]) Corners(x, y float64) [4]T {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	return [4]T{v.At(x0, y0), v.At(x0+1, y0), v.At(x0, y0+1), v.At(x0+1, y0+1)}
}
