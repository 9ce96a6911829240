package odometry

import (
	"context"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
	"go.viam.com/densevo/spatialmath"
)

// IterationStats describes one Gauss-Newton iteration.
type IterationStats struct {
	Level     int
	Iteration int
	Error     float64
	AvgError  float64
	Inliers   int
	StepNorm  float64
}

// Apply runs the coarse to fine Gauss-Newton loop on the prepared frames, updating the
// transform once per iteration. On failure the transform keeps the value of the last
// successful iteration.
func (odo *RGBDOdometry) Apply(ctx context.Context) error {
	if !odo.prepared {
		return ErrNotPrepared
	}
	if len(odo.intrinsics) != odo.numLevels {
		return transform.NewNoIntrinsicsError("odometry intrinsics are not set")
	}
	if err := odo.checkIntrinsicsSize(); err != nil {
		return err
	}
	odo.history = odo.history[:0]
	for level := odo.numLevels - 1; level >= 0; level-- {
		for iter := 0; iter < odo.iterations[level]; iter++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := odo.iterate(ctx, level, iter)
			if err != nil {
				return err
			}
			if odo.convergenceThreshold > 0 && st.StepNorm < odo.convergenceThreshold {
				odo.logger.Debugw("level converged", "level", level, "iter", iter, "step", st.StepNorm)
				break
			}
		}
	}
	return nil
}

// checkIntrinsicsSize rejects intrinsics whose image size disagrees with the prepared frames.
// A zero width and height means the size is taken from the frames.
func (odo *RGBDOdometry) checkIntrinsicsSize() error {
	intr := odo.intrinsics[0]
	if intr.Width == 0 && intr.Height == 0 {
		return nil
	}
	finest, err := odo.source.Level(0)
	if err != nil {
		return err
	}
	if intr.Width != finest.Width() || intr.Height != finest.Height() {
		return transform.NewNoIntrinsicsError(fmt.Sprintf("intrinsics are for %dx%d images but the frames are %dx%d",
			intr.Width, intr.Height, finest.Width(), finest.Height()))
	}
	return nil
}

func (odo *RGBDOdometry) iterate(ctx context.Context, level, iter int) (IterationStats, error) {
	odo.results.Memset(0)
	if err := ComputeResiduals(ctx, odo.Snapshot(), level, odo.results); err != nil {
		return IterationStats{}, err
	}
	ne, err := ExtractResults(odo.results.Download())
	if err != nil {
		return IterationStats{}, err
	}
	st := IterationStats{
		Level:     level,
		Iteration: iter,
		Error:     ne.Error,
		AvgError:  ne.AvgError(),
		Inliers:   ne.Inliers,
	}
	odo.logger.CDebugw(ctx, "odometry iteration",
		"level", level, "iter", iter, "error", st.Error, "avg_error", st.AvgError, "inliers", st.Inliers)

	dx, err := ne.Solve()
	if err != nil {
		return st, &SingularSystemError{Level: level, Iteration: iter, Inliers: ne.Inliers, Reason: err.Error()}
	}
	xi := spatialmath.Twist(dx)
	odo.transform = spatialmath.ExpSE3(xi).Mul4(odo.transform)
	st.StepNorm = xi.Norm()
	odo.history = append(odo.history, st)
	return st, nil
}

// Compute prepares the two frames and runs Apply, returning the estimated source to target
// transform.
func (odo *RGBDOdometry) Compute(ctx context.Context, source, target *rimage.RGBDImage) (mgl64.Mat4, error) {
	if err := odo.PrepareData(ctx, source, target); err != nil {
		return odo.transform, err
	}
	if err := odo.Apply(ctx); err != nil {
		return odo.transform, err
	}
	return odo.transform, nil
}

// History returns the statistics of the iterations of the last Apply call.
func (odo *RGBDOdometry) History() []IterationStats {
	return append([]IterationStats(nil), odo.history...)
}

// Summary condenses a run of the odometry.
type Summary struct {
	Iterations     int
	FinalInliers   int
	FinalAvgError  float64
	MeanAvgError   float64
	MedianAvgError float64
	MaxAvgError    float64
	Translation    r3.Vector
	Rotation       quat.Number
}

// Summary returns statistics over the iterations of the last Apply call and the resulting pose.
func (odo *RGBDOdometry) Summary() (Summary, error) {
	sum := Summary{
		Iterations:  len(odo.history),
		Translation: spatialmath.TransformTranslation(odo.transform),
		Rotation:    spatialmath.TransformQuaternion(odo.transform),
	}
	if len(odo.history) == 0 {
		return sum, errors.New("odometry has not run any iteration")
	}
	last := odo.history[len(odo.history)-1]
	sum.FinalInliers = last.Inliers
	sum.FinalAvgError = last.AvgError

	avgErrors := make(stats.Float64Data, len(odo.history))
	for i, st := range odo.history {
		avgErrors[i] = st.AvgError
	}
	var err error
	if sum.MeanAvgError, err = stats.Mean(avgErrors); err != nil {
		return sum, err
	}
	if sum.MedianAvgError, err = stats.Median(avgErrors); err != nil {
		return sum, err
	}
	if sum.MaxAvgError, err = stats.Max(avgErrors); err != nil {
		return sum, err
	}
	return sum, nil
}
