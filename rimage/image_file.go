package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	// register TIFF decoding for 16-bit depth captures.
	_ "golang.org/x/image/tiff"

	"go.viam.com/densevo/device"
)

// NewRGBDImageFromImages converts a depth image and a color image of the same size into an
// RGBDImage. Depth pixels are read as 16-bit values and multiplied by depthScale to get
// meters (0.001 for millimeter captures). Color is converted to grayscale and normalized to
// [0, 1].
func NewRGBDImageFromImages(depthImg, colorImg image.Image, depthScale float64, dev device.Device) (*RGBDImage, error) {
	if depthImg == nil || colorImg == nil {
		return nil, errors.New("depth and color images are both required")
	}
	if depthScale <= 0 {
		return nil, errors.Errorf("depth scale must be positive, got %v", depthScale)
	}
	db, cb := depthImg.Bounds(), colorImg.Bounds()
	if db.Dx() != cb.Dx() || db.Dy() != cb.Dy() {
		return nil, errors.Errorf("depth image is %dx%d but color image is %dx%d", db.Dx(), db.Dy(), cb.Dx(), cb.Dy())
	}
	width, height := db.Dx(), db.Dy()

	depth := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(depthImg.At(db.Min.X+x, db.Min.Y+y)).(color.Gray16)
			depth[y*width+x] = float32(float64(g.Y) * depthScale)
		}
	}

	gray := imaging.Grayscale(colorImg)
	intensity := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// after Grayscale every channel carries the luminance
			intensity[y*width+x] = float32(gray.Pix[y*gray.Stride+x*4]) / 255
		}
	}
	return NewRGBDImage(width, height, depth, intensity, dev)
}

// ReadRGBDImageFromFiles loads a depth image and a color image from disk and converts them with
// NewRGBDImageFromImages.
func ReadRGBDImageFromFiles(depthPath, colorPath string, depthScale float64, dev device.Device) (*RGBDImage, error) {
	depthImg, err := imaging.Open(depthPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening depth image %q", depthPath)
	}
	colorImg, err := imaging.Open(colorPath)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening color image %q", colorPath)
	}
	return NewRGBDImageFromImages(depthImg, colorImg, depthScale, dev)
}
