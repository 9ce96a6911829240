// Package odometry estimates the rigid motion between two RGBD frames by dense photometric and
// geometric alignment over an image pyramid.
package odometry

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/logging"
	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
	"go.viam.com/densevo/spatialmath"
)

// RGBDOdometry owns the pyramids, the reduction buffer and the current source to target
// transform of a dense odometry problem. It must not be used from multiple goroutines.
type RGBDOdometry struct {
	numLevels int
	dev       device.Device
	logger    logging.Logger

	sigma      float64
	sqrtCoeffD float64
	sqrtCoeffI float64
	depthNear  float64
	depthFar   float64
	depthDiff  float64

	intrinsics           []transform.PinholeCameraIntrinsics
	iterations           []int
	convergenceThreshold float64
	recordSourceOnTarget bool

	source         *rimage.RGBDPyramid
	target         *rimage.RGBDPyramid
	targetDx       *rimage.RGBDPyramid
	targetDy       *rimage.RGBDPyramid
	sourceOnTarget []*rimage.Buffer[float32]
	results        *rimage.Buffer[float64]

	created  bool
	prepared bool

	transform mgl64.Mat4
	history   []IterationStats
}

// NewRGBDOdometry returns an odometry with numLevels pyramid levels allocating on dev. The
// transform starts at identity, every level runs DefaultIterations iterations and the
// parameters are the package defaults until changed.
func NewRGBDOdometry(numLevels int, dev device.Device, logger logging.Logger) (*RGBDOdometry, error) {
	if numLevels < 1 {
		return nil, errors.Errorf("odometry needs at least one pyramid level, got %d", numLevels)
	}
	if logger == nil {
		logger = logging.Global().Sublogger("odometry")
	}
	pyramids := make([]*rimage.RGBDPyramid, 4)
	for i := range pyramids {
		p, err := rimage.NewRGBDPyramid(numLevels, dev)
		if err != nil {
			return nil, err
		}
		pyramids[i] = p
	}
	odo := &RGBDOdometry{
		numLevels:  numLevels,
		dev:        dev,
		logger:     logger,
		source:     pyramids[0],
		target:     pyramids[1],
		targetDx:   pyramids[2],
		targetDy:   pyramids[3],
		results:    rimage.NewBuffer[float64](dev),
		iterations: make([]int, numLevels),
		transform:  mgl64.Ident4(),
	}
	for i := range odo.iterations {
		odo.iterations[i] = DefaultIterations
	}
	odo.SetParameters(DefaultSigma, 0, DefaultDepthFar, DefaultDepthDiffMax)
	return odo, nil
}

// NewRGBDOdometryFromConfig builds an odometry from a validated config. Unlike SetParameters,
// the configured near threshold is applied.
func NewRGBDOdometryFromConfig(cfg *RGBDOdometryConfig, logger logging.Logger) (*RGBDOdometry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dev, err := cfg.Dev()
	if err != nil {
		return nil, err
	}
	odo, err := NewRGBDOdometry(cfg.Levels, dev, logger)
	if err != nil {
		return nil, err
	}
	odo.SetParameters(*cfg.Sigma, cfg.DepthNear, cfg.DepthFar, cfg.DepthDiffMax)
	odo.SetDepthNearThreshold(cfg.DepthNear)
	if err := odo.SetIterations(cfg.Iterations); err != nil {
		return nil, err
	}
	odo.SetConvergenceThreshold(cfg.ConvergenceThreshold)
	odo.RecordSourceOnTarget(cfg.RecordSourceOnTarget)
	if cfg.CamIntrinsics != nil {
		odo.SetIntrinsics(*cfg.CamIntrinsics)
	}
	return odo, nil
}

// NumLevels returns the number of pyramid levels.
func (odo *RGBDOdometry) NumLevels() int {
	return odo.numLevels
}

// SetParameters sets the robust weighting and the validity thresholds. sigma weighs the
// geometric term against the photometric one. The near threshold in use is not changed by
// this call and stays at its previous value (0 unless SetDepthNearThreshold was called).
func (odo *RGBDOdometry) SetParameters(sigma, depthNear, depthFar, depthDiff float64) {
	odo.sigma = sigma
	odo.sqrtCoeffD = math.Sqrt(sigma)
	odo.sqrtCoeffI = math.Sqrt(1 - sigma)
	if depthNear != odo.depthNear {
		odo.logger.Debugw("SetParameters ignores the near threshold, use SetDepthNearThreshold",
			"requested", depthNear, "in_use", odo.depthNear)
	}
	odo.depthFar = depthFar
	odo.depthDiff = depthDiff
}

// SetDepthNearThreshold sets the minimum depth a warped point may have to count as an inlier.
func (odo *RGBDOdometry) SetDepthNearThreshold(near float64) {
	odo.depthNear = near
}

// SetIntrinsics sets the intrinsics of level 0; every coarser level halves its predecessor.
func (odo *RGBDOdometry) SetIntrinsics(intrinsics transform.PinholeCameraIntrinsics) {
	odo.intrinsics = intrinsics.IntrinsicsPyramid(odo.numLevels)
}

// Intrinsics returns the intrinsics of a level.
func (odo *RGBDOdometry) Intrinsics(level int) (transform.PinholeCameraIntrinsics, error) {
	if level < 0 || level >= len(odo.intrinsics) {
		return transform.PinholeCameraIntrinsics{}, errors.Wrapf(rimage.ErrLevelOutOfRange,
			"no intrinsics for level %d", level)
	}
	return odo.intrinsics[level], nil
}

// SetIterations sets the per level iteration budget, indexed by level with 0 the finest.
func (odo *RGBDOdometry) SetIterations(iterations []int) error {
	if len(iterations) != odo.numLevels {
		return errors.Errorf("got %d iteration counts for %d levels", len(iterations), odo.numLevels)
	}
	for _, n := range iterations {
		if n < 0 {
			return errors.Errorf("iteration counts cannot be negative, got %v", iterations)
		}
	}
	odo.iterations = append(odo.iterations[:0], iterations...)
	return nil
}

// SetConvergenceThreshold makes a level stop iterating once the increment norm drops below
// threshold. Zero disables the early exit.
func (odo *RGBDOdometry) SetConvergenceThreshold(threshold float64) {
	odo.convergenceThreshold = threshold
}

// RecordSourceOnTarget enables filling the per level source-on-target images during Apply. The
// images are allocated by the next PrepareData.
func (odo *RGBDOdometry) RecordSourceOnTarget(enabled bool) {
	odo.recordSourceOnTarget = enabled
}

// Transform returns the current source to target transform.
func (odo *RGBDOdometry) Transform() mgl64.Mat4 {
	return odo.transform
}

// SetTransform sets the initial guess of the source to target transform.
func (odo *RGBDOdometry) SetTransform(m mgl64.Mat4) error {
	if err := spatialmath.CheckRigidTransform(m, 1e-6); err != nil {
		return err
	}
	odo.transform = m
	return nil
}

// Create allocates the pyramids and the reduction buffer for frames of width x height.
func (odo *RGBDOdometry) Create(width, height int) error {
	if odo.created {
		return device.NewAllocationError("odometry already created, release it first")
	}
	for _, p := range []*rimage.RGBDPyramid{odo.source, odo.target, odo.targetDx, odo.targetDy} {
		if err := p.Create(width, height); err != nil {
			return multierr.Combine(err, odo.Release())
		}
	}
	if err := odo.results.Create(ReductionSize, 1); err != nil {
		return multierr.Combine(err, odo.Release())
	}
	odo.created = true
	return nil
}

// createSourceOnTarget allocates the per level source-on-target images the first time a
// prepared run needs them.
func (odo *RGBDOdometry) createSourceOnTarget() error {
	if odo.sourceOnTarget != nil {
		return nil
	}
	buffers := make([]*rimage.Buffer[float32], odo.numLevels)
	for i := range buffers {
		level, err := odo.source.Level(i)
		if err != nil {
			return err
		}
		buffers[i] = rimage.NewBuffer[float32](odo.dev)
		if err := buffers[i].Create(level.Width(), level.Height()); err != nil {
			for _, b := range buffers[:i] {
				err = multierr.Append(err, b.Release())
			}
			return err
		}
	}
	odo.sourceOnTarget = buffers
	return nil
}

// Release frees everything Create allocated. It is idempotent.
func (odo *RGBDOdometry) Release() error {
	err := multierr.Combine(
		odo.source.Release(),
		odo.target.Release(),
		odo.targetDx.Release(),
		odo.targetDy.Release(),
		odo.results.Release(),
	)
	for _, b := range odo.sourceOnTarget {
		if b != nil {
			err = multierr.Append(err, b.Release())
		}
	}
	odo.sourceOnTarget = nil
	odo.created = false
	odo.prepared = false
	return err
}

// PrepareData builds the source and target pyramids and the target gradients. The two frames
// must have the same size; the odometry is created at that size if it is not yet.
func (odo *RGBDOdometry) PrepareData(ctx context.Context, source, target *rimage.RGBDImage) error {
	if source == nil || target == nil || !source.Created() || !target.Created() {
		return errors.New("source and target frames must be created")
	}
	if source.Width() != target.Width() || source.Height() != target.Height() {
		return errors.Errorf("source is %dx%d but target is %dx%d",
			source.Width(), source.Height(), target.Width(), target.Height())
	}
	if !odo.created {
		if err := odo.Create(source.Width(), source.Height()); err != nil {
			return err
		}
	}
	odo.prepared = false
	if odo.recordSourceOnTarget {
		if err := odo.createSourceOnTarget(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrap(odo.source.Build(source), "building source pyramid")
	})
	g.Go(func() error {
		if err := odo.target.Build(target); err != nil {
			return errors.Wrap(err, "building target pyramid")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.Wrap(odo.target.Sobel(odo.targetDx, odo.targetDy, false), "target gradients")
	})
	if err := g.Wait(); err != nil {
		return err
	}
	odo.prepared = true
	return nil
}

// Snapshot derives the read-only state a kernel launch needs from the current state.
func (odo *RGBDOdometry) Snapshot() Snapshot {
	snap := Snapshot{
		Intrinsics:    append([]transform.PinholeCameraIntrinsics(nil), odo.intrinsics...),
		Transform:     odo.transform,
		SqrtCoeffD:    odo.sqrtCoeffD,
		SqrtCoeffI:    odo.sqrtCoeffI,
		DepthNear:     odo.depthNear,
		DepthFar:      odo.depthFar,
		DepthDiff:     odo.depthDiff,
		GradientScale: 1 / rimage.SobelNormalization,
	}
	if odo.created {
		snap.Source = odo.source.Views()
		snap.Target = odo.target.Views()
		snap.TargetDx = odo.targetDx.Views()
		snap.TargetDy = odo.targetDy.Views()
		if odo.recordSourceOnTarget {
			snap.SourceOnTarget = odo.sourceOnTarget
		}
	}
	return snap
}

// SourceOnTarget returns the last recorded source-on-target image of a level. It fails with
// ErrNotRecorded unless recording was enabled before the last PrepareData.
func (odo *RGBDOdometry) SourceOnTarget(level int) (*rimage.Buffer[float32], error) {
	if level < 0 || level >= odo.numLevels {
		return nil, errors.Wrapf(rimage.ErrLevelOutOfRange, "level %d", level)
	}
	if odo.sourceOnTarget == nil {
		return nil, ErrNotRecorded
	}
	return odo.sourceOnTarget[level], nil
}
