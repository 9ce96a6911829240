package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/utils"
)

// Kernel is a small convolution matrix, indexed Content[y][x].
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// At returns the kernel coefficient at (x, y).
func (k Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// Size returns the kernel dimensions.
func (k Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// AbsSum returns the sum of absolute coefficients, the factor that normalizes a filter.
func (k Kernel) AbsSum() float64 {
	sum := 0.
	for _, row := range k.Content {
		for _, v := range row {
			sum += math.Abs(v)
		}
	}
	return sum
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	},
		3,
		3,
	}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	},
		3,
		3,
	}
}

// SobelNormalization is the factor that turns an unnormalized Sobel response into a central
// difference gradient per pixel.
const SobelNormalization = 8.

func prepareGradientOutputs[T device.Scalar](src, dx, dy *Buffer[T]) error {
	if !src.Created() {
		return errors.New("cannot compute gradients of an uncreated buffer")
	}
	for _, out := range []*Buffer[T]{dx, dy} {
		if !out.Created() {
			if err := out.Create(src.width, src.height); err != nil {
				return err
			}
			continue
		}
		if out.width != src.width || out.height != src.height {
			return errors.Errorf("gradient output is %dx%d, source is %dx%d",
				out.width, out.height, src.width, src.height)
		}
	}
	return nil
}

// Sobel writes the horizontal and vertical 3x3 Sobel responses of b into dx and dy, creating
// them if needed. Border pixels get a zero gradient. When normalize is false the raw kernel
// response is stored.
func (b *Buffer[T]) Sobel(dx, dy *Buffer[T], normalize bool) error {
	if err := prepareGradientOutputs(b, dx, dy); err != nil {
		return err
	}
	kx, ky := GetSobelX(), GetSobelY()
	scale := 1.
	if normalize {
		scale = 1 / SobelNormalization
	}
	utils.ParallelForEachPixel(b.Size(), func(x, y int) {
		if x == 0 || y == 0 || x == b.width-1 || y == b.height-1 {
			dx.Set(x, y, 0)
			dy.Set(x, y, 0)
			return
		}
		var sumX, sumY float64
		for j := 0; j < 3; j++ {
			for i := 0; i < 3; i++ {
				v := float64(b.At(x+i-1, y+j-1))
				sumX += v * kx.At(i, j)
				sumY += v * ky.At(i, j)
			}
		}
		dx.Set(x, y, T(sumX*scale))
		dy.Set(x, y, T(sumY*scale))
	})
	return nil
}

// SobelWithHoles is Sobel for depth maps: a gradient whose 3x3 support touches an invalid
// depth is set to NaN so consumers can reject it.
func SobelWithHoles(depth, dx, dy *Buffer[float32], normalize bool) error {
	if err := depth.Sobel(dx, dy, normalize); err != nil {
		return err
	}
	nan := float32(math.NaN())
	utils.ParallelForEachPixel(depth.Size(), func(x, y int) {
		for j := -1; j <= 1; j++ {
			for i := -1; i <= 1; i++ {
				if !depth.In(x+i, y+j) {
					continue
				}
				if !IsValidDepth(depth.At(x+i, y+j)) {
					dx.Set(x, y, nan)
					dy.Set(x, y, nan)
					return
				}
			}
		}
	})
	return nil
}
