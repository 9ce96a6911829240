package rimage

import (
	"math"

	"go.viam.com/densevo/device"
)

// NewTexturedRGBDImage generates a synthetic frame with smoothly varying depth around
// baseDepth and a multi-frequency intensity texture. It is meant for tests and examples that
// need a well conditioned scene.
func NewTexturedRGBDImage(width, height int, baseDepth float64, dev device.Device) (*RGBDImage, error) {
	depth := make([]float32, width*height)
	intensity := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			u := float64(x) / float64(width)
			v := float64(y) / float64(height)
			depth[y*width+x] = float32(baseDepth + 0.2*math.Sin(2*math.Pi*u) + 0.15*math.Cos(3*math.Pi*v) + 0.1*u*v)
			intensity[y*width+x] = float32(0.5 +
				0.2*math.Sin(4*math.Pi*u+1)*math.Cos(2*math.Pi*v) +
				0.15*math.Sin(6*math.Pi*v+0.5) +
				0.1*math.Cos(5*math.Pi*(u+v)))
		}
	}
	return NewRGBDImage(width, height, depth, intensity, dev)
}
