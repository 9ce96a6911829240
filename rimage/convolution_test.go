package rimage

import (
	"image"
	"testing"

	"go.viam.com/test"

	"go.viam.com/densevo/device"
)

func TestSobelKernels(t *testing.T) {
	kx, ky := GetSobelX(), GetSobelY()
	test.That(t, kx.Size(), test.ShouldResemble, image.Point{3, 3})
	test.That(t, kx.AbsSum(), test.ShouldEqual, SobelNormalization)
	test.That(t, ky.AbsSum(), test.ShouldEqual, SobelNormalization)
	test.That(t, kx.At(2, 1), test.ShouldEqual, 2.)
	test.That(t, ky.At(1, 2), test.ShouldEqual, 2.)
	test.That(t, kx.At(1, 1), test.ShouldEqual, 0.)
}

func TestBufferSobel(t *testing.T) {
	const width, height = 6, 5
	b := NewBuffer[float64](device.Host)
	test.That(t, b.Create(width, height), test.ShouldBeNil)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			b.Set(x, y, 3*float64(x)-2*float64(y))
		}
	}
	dx := NewBuffer[float64](device.Host)
	dy := NewBuffer[float64](device.Host)
	test.That(t, b.Sobel(dx, dy, true), test.ShouldBeNil)
	test.That(t, dx.Size(), test.ShouldResemble, b.Size())
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			test.That(t, dx.At(x, y), test.ShouldAlmostEqual, 3.)
			test.That(t, dy.At(x, y), test.ShouldAlmostEqual, -2.)
		}
	}
	test.That(t, dx.At(0, 2), test.ShouldEqual, 0.)
	test.That(t, dy.At(3, height-1), test.ShouldEqual, 0.)

	wrong := NewBuffer[float64](device.Host)
	test.That(t, wrong.Create(2, 2), test.ShouldBeNil)
	test.That(t, b.Sobel(wrong, dy, false), test.ShouldNotBeNil)

	empty := NewBuffer[float64](device.Host)
	test.That(t, empty.Sobel(dx, dy, false), test.ShouldNotBeNil)
}
