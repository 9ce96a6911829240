package rimage

import (
	"github.com/pkg/errors"

	"go.viam.com/densevo/utils"
)

// DownsampleDepth fills dst, which must be half the size of src (floored), with 2x2 box
// averages of src. Holes do not contribute to an average; a pixel whose four sources are all
// holes stays a hole (0).
func DownsampleDepth(src, dst *Buffer[float32]) error {
	if err := checkHalfSize(src, dst); err != nil {
		return err
	}
	utils.ParallelForEachPixel(dst.Size(), func(x, y int) {
		var sum float32
		var n int
		for j := 0; j < 2; j++ {
			for i := 0; i < 2; i++ {
				d := src.At(2*x+i, 2*y+j)
				if IsValidDepth(d) {
					sum += d
					n++
				}
			}
		}
		if n == 0 {
			dst.Set(x, y, 0)
			return
		}
		dst.Set(x, y, sum/float32(n))
	})
	return nil
}

// DownsampleIntensity fills dst with the 2x2 area average of src.
func DownsampleIntensity(src, dst *Buffer[float32]) error {
	if err := checkHalfSize(src, dst); err != nil {
		return err
	}
	utils.ParallelForEachPixel(dst.Size(), func(x, y int) {
		sum := src.At(2*x, 2*y) + src.At(2*x+1, 2*y) + src.At(2*x, 2*y+1) + src.At(2*x+1, 2*y+1)
		dst.Set(x, y, sum/4)
	})
	return nil
}

func checkHalfSize(src, dst *Buffer[float32]) error {
	if !src.Created() || !dst.Created() {
		return errors.New("downsampling needs created buffers")
	}
	if dst.Width() != src.Width()/2 || dst.Height() != src.Height()/2 {
		return errors.Errorf("cannot downsample %dx%d into %dx%d",
			src.Width(), src.Height(), dst.Width(), dst.Height())
	}
	return nil
}
