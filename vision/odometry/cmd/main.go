// Package main estimates the camera motion between two RGBD captures on disk.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/densevo/logging"
	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/spatialmath"
	"go.viam.com/densevo/utils"
	"go.viam.com/densevo/vision/odometry"
)

const (
	// Flags.
	flagConfig         = "config"
	flagSourceDepth    = "source-depth"
	flagSourceColor    = "source-color"
	flagTargetDepth    = "target-depth"
	flagTargetColor    = "target-color"
	flagSourceOnTarget = "source-on-target"
	flagDebug          = "debug"
	flagTrace          = "trace-iterations"
)

// motionOutput is what the tool prints on success.
type motionOutput struct {
	Transform   [4][4]float64 `json:"transform"`
	Translation [3]float64    `json:"translation_m"`
	Quaternion  [4]float64    `json:"quaternion_wxyz"`
	Iterations  int           `json:"iterations"`
	Inliers     int           `json:"inliers"`
	AvgError    float64       `json:"avg_error"`
	MeanError   float64       `json:"mean_avg_error"`
	MaxError    float64       `json:"max_avg_error"`
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	var logger logging.Logger
	return &cli.App{
		Name:      "rgbd-odometry",
		Usage:     "estimate the rigid motion between two RGBD frames",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load odometry configuration from `FILE`",
				Required: true,
			},
			&cli.StringFlag{Name: flagSourceDepth, Usage: "16-bit depth image of the source frame", Required: true},
			&cli.StringFlag{Name: flagSourceColor, Usage: "color image of the source frame", Required: true},
			&cli.StringFlag{Name: flagTargetDepth, Usage: "16-bit depth image of the target frame", Required: true},
			&cli.StringFlag{Name: flagTargetColor, Usage: "color image of the target frame", Required: true},
			&cli.StringFlag{
				Name:  flagSourceOnTarget,
				Usage: "write the finest level source-on-target image to `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagTrace,
				Usage: "log every Gauss-Newton iteration without enabling debug logging elsewhere",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("rgbd-odometry")
			} else {
				logger = logging.NewLogger("rgbd-odometry")
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return runOdometry(c, logger)
		},
	}
}

func runOdometry(c *cli.Context, logger logging.Logger) error {
	cfg, err := odometry.LoadRGBDOdometryConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	if cfg.CamIntrinsics == nil {
		return errors.New("config needs intrinsic_parameters")
	}
	if c.String(flagSourceOnTarget) != "" {
		cfg.RecordSourceOnTarget = true
	}
	dev, err := cfg.Dev()
	if err != nil {
		return err
	}

	var source, target *rimage.RGBDImage
	elapsed, err := utils.RunInParallel(c.Context, []utils.SimpleFunc{
		func(ctx context.Context) error {
			var err error
			source, err = rimage.ReadRGBDImageFromFiles(c.String(flagSourceDepth), c.String(flagSourceColor), 1/cfg.DepthScale, dev)
			return err
		},
		func(ctx context.Context) error {
			var err error
			target, err = rimage.ReadRGBDImageFromFiles(c.String(flagTargetDepth), c.String(flagTargetColor), 1/cfg.DepthScale, dev)
			return err
		},
	})
	if err != nil {
		return errors.Wrap(err, "loading frames")
	}
	logger.Debugw("frames loaded", "elapsed", elapsed, "width", source.Width(), "height", source.Height())
	defer func() {
		//nolint:errcheck
		source.Release()
		//nolint:errcheck
		target.Release()
	}()

	odo, err := odometry.NewRGBDOdometryFromConfig(cfg, logger.Sublogger("odometry"))
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		odo.Release()
	}()

	ctx := c.Context
	if c.Bool(flagTrace) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	m, err := odo.Compute(ctx, source, target)
	if err != nil {
		return err
	}
	summary, err := odo.Summary()
	if err != nil {
		logger.Warnw("no odometry iterations ran", "error", err)
	}
	logger.Infow("odometry done",
		"iterations", summary.Iterations, "inliers", summary.FinalInliers, "avg_error", summary.FinalAvgError)

	if path := c.String(flagSourceOnTarget); path != "" {
		sot, err := odo.SourceOnTarget(0)
		if err != nil {
			return err
		}
		if err := imaging.Save(bufferToGray(sot), path); err != nil {
			return errors.Wrapf(err, "saving source-on-target image %q", path)
		}
	}

	result := motionOutput{
		Iterations: summary.Iterations,
		Inliers:    summary.FinalInliers,
		AvgError:   summary.FinalAvgError,
		MeanError:  summary.MeanAvgError,
		MaxError:   summary.MaxAvgError,
	}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			result.Transform[row][col] = m.At(row, col)
		}
	}
	tr := spatialmath.TransformTranslation(m)
	result.Translation = [3]float64{tr.X, tr.Y, tr.Z}
	q := summary.Rotation
	result.Quaternion = [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// bufferToGray maps a [0, 1] intensity buffer to an 8-bit image.
func bufferToGray(b *rimage.Buffer[float32]) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.Width(), b.Height()))
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			v := b.At(x, y)
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.Pix[y*img.Stride+x] = uint8(v*255 + 0.5)
		}
	}
	return img
}
