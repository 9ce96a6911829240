package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px" mapstructure:"width_px"`
	Height int     `json:"height_px" mapstructure:"height_px"`
	Fx     float64 `json:"fx" mapstructure:"fx"`
	Fy     float64 `json:"fy" mapstructure:"fy"`
	Ppx    float64 `json:"ppx" mapstructure:"ppx"`
	Ppy    float64 `json:"ppy" mapstructure:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	// open json file
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		err = errors.Wrap(err, "error opening JSON file")
		return nil, err
	}
	defer func() {
		//nolint:errcheck
		jsonFile.Close()
	}()
	// read our opened jsonFile as a byte array.
	byteValue, err2 := io.ReadAll(jsonFile)
	if err2 != nil {
		err2 = errors.Wrap(err2, "error reading JSON data")
		return nil, err2
	}
	// Parse into map
	intrinsics := &PinholeCameraIntrinsics{}
	err = json.Unmarshal(byteValue, intrinsics)
	if err != nil {
		err = errors.Wrap(err, "error parsing JSON string")
		return nil, err
	}
	return intrinsics, nil
}

// PixelToPoint transforms a pixel with depth to a 3D point cloud.
// The intrinsics parameters should be the ones of the sensor used to obtain the image that
// contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	// get x and y
	xm := xOverZ * z
	ym := yOverZ * z
	return xm, ym, z
}

// BackProject is PixelToPoint returning an r3.Vector.
func (params *PinholeCameraIntrinsics) BackProject(x, y, z float64) r3.Vector {
	px, py, pz := params.PixelToPoint(x, y, z)
	return r3.Vector{X: px, Y: py, Z: pz}
}

// Project projects a 3D point onto the sub-pixel image plane location, without rounding. The
// point must be in front of the camera (Z > 0).
func (params *PinholeCameraIntrinsics) Project(p r3.Vector) r2.Point {
	return r2.Point{
		X: (p.X/p.Z)*params.Fx + params.Ppx,
		Y: (p.Y/p.Z)*params.Fy + params.Ppy,
	}
}

// Downsample returns the intrinsics of an image downsampled by two: focal lengths and
// principal point are halved, and width and height are halved with integer flooring.
func (params PinholeCameraIntrinsics) Downsample() PinholeCameraIntrinsics {
	return PinholeCameraIntrinsics{
		Width:  params.Width / 2,
		Height: params.Height / 2,
		Fx:     params.Fx * 0.5,
		Fy:     params.Fy * 0.5,
		Ppx:    params.Ppx * 0.5,
		Ppy:    params.Ppy * 0.5,
	}
}

// IntrinsicsPyramid returns the intrinsics for each level of an image pyramid with the given
// number of levels; level 0 is params itself.
func (params PinholeCameraIntrinsics) IntrinsicsPyramid(levels int) []PinholeCameraIntrinsics {
	if levels <= 0 {
		return nil
	}
	out := make([]PinholeCameraIntrinsics, levels)
	out[0] = params
	for i := 1; i < levels; i++ {
		out[i] = out[i-1].Downsample()
	}
	return out
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}
