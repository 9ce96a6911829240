package device

import "unsafe"

// Scalar is an element type that can be viewed directly over blob storage.
type Scalar interface {
	~uint8 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~float32 | ~float64
}

// ElemSize returns the size in bytes of one element of T.
func ElemSize[T Scalar]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// View reinterprets the blob storage as a slice of T. The slice aliases the blob and is only
// valid until the blob is freed.
func View[T Scalar](b *Blob) []T {
	data := b.Bytes()
	size := ElemSize[T]()
	if len(data) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), len(data)/size)
}
