package odometry

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
	"go.viam.com/densevo/spatialmath"
	"go.viam.com/densevo/utils"
)

// ComputeResiduals evaluates the photometric and geometric residuals of every source pixel of
// the given level and adds the resulting normal equations into results, which must hold at
// least ReductionSize values. Rows are split across workers that each sum into a private
// partial; the partials are added into results in worker order once all workers finish, so the
// output does not depend on scheduling.
func ComputeResiduals(ctx context.Context, snap Snapshot, level int, results *rimage.Buffer[float64]) error {
	if level < 0 || level >= snap.NumLevels() {
		return errors.Wrapf(rimage.ErrLevelOutOfRange, "level %d of %d", level, snap.NumLevels())
	}
	if len(snap.Source) <= level || len(snap.Target) <= level ||
		len(snap.TargetDx) <= level || len(snap.TargetDy) <= level {
		return errors.Wrapf(ErrNotPrepared, "snapshot has no images for level %d", level)
	}
	if !results.Created() || results.Width()*results.Height() < ReductionSize {
		return errors.Errorf("results buffer must hold %d values", ReductionSize)
	}

	k := newResidualKernel(snap, level)
	width, height := k.src.Depth.Width(), k.src.Depth.Height()
	if width != k.tgt.Depth.Width() || height != k.tgt.Depth.Height() {
		return errors.Errorf("source level is %dx%d but target level is %dx%d",
			width, height, k.tgt.Depth.Width(), k.tgt.Depth.Height())
	}

	var partials []partialSums
	err := utils.GroupWorkParallel(
		ctx,
		height,
		func(numGroups int) {
			partials = make([]partialSums, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			acc := &partials[groupNum]
			return func(memberNum, y int) {
				for x := 0; x < width; x++ {
					k.pixel(x, y, acc)
				}
			}, nil
		},
	)
	if err != nil {
		return err
	}

	for i := 0; i < ReductionSize; i++ {
		sum := results.At(i%results.Width(), i/results.Width())
		for g := range partials {
			sum += partials[g][i]
		}
		results.Set(i%results.Width(), i/results.Width(), sum)
	}
	return nil
}

type residualKernel struct {
	intrinsics transform.PinholeCameraIntrinsics
	transform  mgl64.Mat4

	src, tgt, dx, dy rimage.RGBDView
	sourceOnTarget   *rimage.Buffer[float32]

	// size of the target level, which bounds every sample.
	width, height int

	sqrtD, sqrtI         float64
	near, far, depthDiff float64
	gradScale            float64
}

func newResidualKernel(snap Snapshot, level int) *residualKernel {
	k := &residualKernel{
		intrinsics: snap.Intrinsics[level],
		transform:  snap.Transform,
		src:        snap.Source[level],
		tgt:        snap.Target[level],
		dx:         snap.TargetDx[level],
		dy:         snap.TargetDy[level],
		sqrtD:      snap.SqrtCoeffD,
		sqrtI:      snap.SqrtCoeffI,
		near:       snap.DepthNear,
		far:        snap.DepthFar,
		depthDiff:  snap.DepthDiff,
		gradScale:  snap.GradientScale,
		width:      snap.Target[level].Depth.Width(),
		height:     snap.Target[level].Depth.Height(),
	}
	if level < len(snap.SourceOnTarget) {
		k.sourceOnTarget = snap.SourceOnTarget[level]
	}
	return k
}

// pixel processes the source pixel (x, y) and reports whether it was an inlier.
func (k *residualKernel) pixel(x, y int, acc *partialSums) bool {
	inlier := k.accumulate(x, y, acc)
	if k.sourceOnTarget != nil && !inlier {
		k.sourceOnTarget.Set(x, y, 0)
	}
	return inlier
}

func (k *residualKernel) accumulate(x, y int, acc *partialSums) bool {
	dSource := k.src.Depth.At(x, y)
	if !rimage.IsValidDepth(dSource) {
		return false
	}
	p := k.intrinsics.BackProject(float64(x), float64(y), float64(dSource))
	q := spatialmath.TransformPoint(k.transform, p)
	if q.Z <= 0 || q.Z < k.near || q.Z > k.far {
		return false
	}
	uv := k.intrinsics.Project(q)
	if !k.sampleable(uv) {
		return false
	}
	for _, d := range k.tgt.Depth.Corners(uv.X, uv.Y) {
		if !rimage.IsValidDepth(d) {
			return false
		}
	}
	dTarget := k.tgt.Depth.Interp(uv.X, uv.Y)
	diff := dTarget - q.Z
	if math.Abs(diff) > k.depthDiff {
		return false
	}

	gxD := k.gradScale * k.dx.Depth.Interp(uv.X, uv.Y)
	gyD := k.gradScale * k.dy.Depth.Interp(uv.X, uv.Y)
	gxI := k.gradScale * k.dx.Intensity.Interp(uv.X, uv.Y)
	gyI := k.gradScale * k.dy.Intensity.Interp(uv.X, uv.Y)
	if math.IsNaN(gxD) || math.IsNaN(gyD) || math.IsNaN(gxI) || math.IsNaN(gyI) {
		return false
	}
	iTarget := k.tgt.Intensity.Interp(uv.X, uv.Y)
	iSource := float64(k.src.Intensity.At(x, y))

	// d(u, v)/dq of the pinhole projection.
	invZ := 1 / q.Z
	du := r3.Vector{X: k.intrinsics.Fx * invZ, Z: -k.intrinsics.Fx * q.X * invZ * invZ}
	dv := r3.Vector{Y: k.intrinsics.Fy * invZ, Z: -k.intrinsics.Fy * q.Y * invZ * invZ}

	var jI, jD [numParams]float64
	cI := du.Mul(gxI).Add(dv.Mul(gyI))
	twistJacobian(&jI, q, cI, k.sqrtI)
	cD := du.Mul(gxD).Add(dv.Mul(gyD)).Sub(r3.Vector{Z: 1})
	twistJacobian(&jD, q, cD, k.sqrtD)

	acc.addResidual(&jI, k.sqrtI*(iTarget-iSource))
	acc.addResidual(&jD, k.sqrtD*diff)
	acc.addInlier()

	if k.sourceOnTarget != nil {
		k.sourceOnTarget.Set(x, y, float32(iTarget))
	}
	return true
}

// sampleable reports whether the bilinear footprint of uv stays off the one pixel border of the
// target level, where Sobel gradients are not defined.
func (k *residualKernel) sampleable(uv r2.Point) bool {
	return uv.X >= 1 && uv.Y >= 1 && uv.X < float64(k.width-2) && uv.Y < float64(k.height-2)
}

// twistJacobian writes scale * c^T [I | -[q]x] into j. With a left perturbation of the
// transform, dq/dxi = [I | -[q]x] for xi = [v; w].
func twistJacobian(j *[numParams]float64, q, c r3.Vector, scale float64) {
	rot := q.Cross(c)
	j[0], j[1], j[2] = scale*c.X, scale*c.Y, scale*c.Z
	j[3], j[4], j[5] = scale*rot.X, scale*rot.Y, scale*rot.Z
}
