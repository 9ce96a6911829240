package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"
)

func writeFrame(t *testing.T, dir, name string) (string, string) {
	t.Helper()
	const size = 48
	depthImg := image.NewGray16(image.Rect(0, 0, size, size))
	colorImg := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			u, v := float64(x)/size, float64(y)/size
			depthImg.SetGray16(x, y, color.Gray16{Y: uint16(1000 + 150*math.Sin(2*math.Pi*u) + 100*math.Cos(math.Pi*v))})
			g := uint8(128 + 60*math.Sin(4*math.Pi*u+1)*math.Cos(2*math.Pi*v) + 50*math.Sin(6*math.Pi*v))
			colorImg.SetNRGBA(x, y, color.NRGBA{g, g, g, 255})
		}
	}
	depthPath := filepath.Join(dir, name+"_depth.png")
	colorPath := filepath.Join(dir, name+"_color.png")
	test.That(t, imaging.Save(depthImg, depthPath), test.ShouldBeNil)
	test.That(t, imaging.Save(colorImg, colorPath), test.ShouldBeNil)
	return depthPath, colorPath
}

func TestRunOdometry(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{"levels": 3, "intrinsic_parameters": {"width_px": 48, "height_px": 48, "fx": 40, "fy": 40, "ppx": 24, "ppy": 24}}`
	test.That(t, os.WriteFile(cfgPath, []byte(cfg), 0o600), test.ShouldBeNil)
	depthPath, colorPath := writeFrame(t, dir, "frame")
	sotPath := filepath.Join(dir, "sot.png")

	var out bytes.Buffer
	err := newApp(&out).Run([]string{
		"rgbd-odometry",
		"--config", cfgPath,
		"--source-depth", depthPath, "--source-color", colorPath,
		"--target-depth", depthPath, "--target-color", colorPath,
		"--source-on-target", sotPath,
		"--trace-iterations",
	})
	test.That(t, err, test.ShouldBeNil)

	var result motionOutput
	test.That(t, json.Unmarshal(out.Bytes(), &result), test.ShouldBeNil)
	test.That(t, result.Iterations, test.ShouldEqual, 30)
	test.That(t, result.Inliers, test.ShouldBeGreaterThan, 0)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			expected := 0.
			if row == col {
				expected = 1
			}
			test.That(t, result.Transform[row][col], test.ShouldAlmostEqual, expected, 1e-6)
		}
	}
	test.That(t, result.Quaternion[0], test.ShouldAlmostEqual, 1, 1e-9)

	sot, err := imaging.Open(sotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sot.Bounds().Dx(), test.ShouldEqual, 48)
}

func TestRunOdometryMissingConfig(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run([]string{
		"rgbd-odometry",
		"--config", filepath.Join(t.TempDir(), "missing.json"),
		"--source-depth", "a", "--source-color", "b",
		"--target-depth", "c", "--target-color", "d",
	})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunOdometryRequiresIntrinsics(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	test.That(t, os.WriteFile(cfgPath, []byte(`{"levels": 2}`), 0o600), test.ShouldBeNil)
	var out bytes.Buffer
	err := newApp(&out).Run([]string{
		"rgbd-odometry",
		"--config", cfgPath,
		"--source-depth", "a", "--source-color", "b",
		"--target-depth", "c", "--target-color", "d",
	})
	test.That(t, err, test.ShouldNotBeNil)
}
