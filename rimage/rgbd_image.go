package rimage

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/densevo/device"
)

// IsValidDepth reports whether a depth sample (meters) holds a measurement. Zero, negative
// and non-finite depths are holes.
func IsValidDepth(d float32) bool {
	return d > 0 && !math.IsInf(float64(d), 0)
}

// RGBDImage is a depth map in meters paired with a normalized [0, 1] intensity image of the
// same size.
type RGBDImage struct {
	depth     *Buffer[float32]
	intensity *Buffer[float32]
}

// NewEmptyRGBDImage returns an uncreated RGBDImage that allocates on dev.
func NewEmptyRGBDImage(dev device.Device) *RGBDImage {
	return &RGBDImage{
		depth:     NewBuffer[float32](dev),
		intensity: NewBuffer[float32](dev),
	}
}

// NewRGBDImage creates an RGBDImage from host depth and intensity data of the given size.
func NewRGBDImage(width, height int, depth, intensity []float32, dev device.Device) (*RGBDImage, error) {
	if width <= 0 || height <= 0 {
		return nil, device.NewAllocationError("invalid frame size (%d, %d)", width, height)
	}
	if len(depth) != width*height || len(intensity) != width*height {
		return nil, errors.Errorf("frame of %dx%d needs %d samples, got depth=%d intensity=%d",
			width, height, width*height, len(depth), len(intensity))
	}
	img := NewEmptyRGBDImage(dev)
	if err := img.Create(width, height); err != nil {
		return nil, err
	}
	if err := multierr.Combine(img.depth.Upload(depth), img.intensity.Upload(intensity)); err != nil {
		return nil, multierr.Combine(err, img.Release())
	}
	return img, nil
}

// Create allocates both channels.
func (img *RGBDImage) Create(width, height int) error {
	if err := img.depth.Create(width, height); err != nil {
		return err
	}
	if err := img.intensity.Create(width, height); err != nil {
		return multierr.Combine(err, img.depth.Release())
	}
	return nil
}

// Release frees both channels.
func (img *RGBDImage) Release() error {
	return multierr.Combine(img.depth.Release(), img.intensity.Release())
}

// Created reports whether the image holds storage.
func (img *RGBDImage) Created() bool {
	return img.depth.Created() && img.intensity.Created()
}

// Width returns the number of columns.
func (img *RGBDImage) Width() int {
	return img.depth.Width()
}

// Height returns the number of rows.
func (img *RGBDImage) Height() int {
	return img.depth.Height()
}

// Depth returns the depth channel.
func (img *RGBDImage) Depth() *Buffer[float32] {
	return img.depth
}

// Intensity returns the intensity channel.
func (img *RGBDImage) Intensity() *Buffer[float32] {
	return img.intensity
}

// CopyFrom copies both channels of other into img.
func (img *RGBDImage) CopyFrom(other *RGBDImage) error {
	if err := img.depth.CopyFrom(other.depth); err != nil {
		return err
	}
	return img.intensity.CopyFrom(other.intensity)
}

// View returns read-only views of both channels.
func (img *RGBDImage) View() RGBDView {
	return RGBDView{Depth: img.depth.View(), Intensity: img.intensity.View()}
}

// RGBDView is a read-only handle to an RGBDImage's channels.
type RGBDView struct {
	Depth     BufferView[float32]
	Intensity BufferView[float32]
}
