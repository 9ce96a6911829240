package odometry

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/logging"
	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
	"go.viam.com/densevo/spatialmath"
)

func testIntrinsics() transform.PinholeCameraIntrinsics {
	return transform.PinholeCameraIntrinsics{Width: 64, Height: 64, Fx: 50, Fy: 50, Ppx: 32, Ppy: 32}
}

func newTestOdometry(t *testing.T) *RGBDOdometry {
	t.Helper()
	odo, err := NewRGBDOdometry(3, device.Host, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	odo.SetParameters(0.5, 0, 4, 0.07)
	odo.SetIntrinsics(testIntrinsics())
	t.Cleanup(func() {
		test.That(t, odo.Release(), test.ShouldBeNil)
	})
	return odo
}

// planeFrame renders a textured plane Z = 1 + 0.3X, given in target camera coordinates, as
// seen from a camera translated by offset from the target camera.
func planeFrame(t *testing.T, intr transform.PinholeCameraIntrinsics, offset r3.Vector) *rimage.RGBDImage {
	t.Helper()
	const z0, slope = 1.0, 0.3
	texture := func(x, y float64) float64 {
		return 0.5 + 0.2*math.Sin(5*x+1)*math.Cos(4*y) + 0.15*math.Sin(6*y+0.5) + 0.1*math.Cos(3*(x+y))
	}
	depth := make([]float32, intr.Width*intr.Height)
	intensity := make([]float32, intr.Width*intr.Height)
	for y := 0; y < intr.Height; y++ {
		for x := 0; x < intr.Width; x++ {
			u := (float64(x) - intr.Ppx) / intr.Fx
			v := (float64(y) - intr.Ppy) / intr.Fy
			s := (z0 + slope*offset.X - offset.Z) / (1 - slope*u)
			depth[y*intr.Width+x] = float32(s)
			intensity[y*intr.Width+x] = float32(texture(s*u+offset.X, s*v+offset.Y))
		}
	}
	img, err := rimage.NewRGBDImage(intr.Width, intr.Height, depth, intensity, device.Host)
	test.That(t, err, test.ShouldBeNil)
	return img
}

func TestSetParametersKeepsNearThreshold(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	odo, err := NewRGBDOdometry(3, device.Host, logger)
	test.That(t, err, test.ShouldBeNil)

	odo.SetParameters(0.64, 0.3, 3, 0.05)
	snap := odo.Snapshot()
	test.That(t, snap.DepthNear, test.ShouldEqual, 0.)
	test.That(t, snap.DepthFar, test.ShouldEqual, 3.)
	test.That(t, snap.DepthDiff, test.ShouldEqual, 0.05)
	test.That(t, snap.SqrtCoeffD, test.ShouldAlmostEqual, 0.8)
	test.That(t, snap.SqrtCoeffI, test.ShouldAlmostEqual, 0.6)
	test.That(t, logs.FilterMessageSnippet("ignores the near threshold").Len(), test.ShouldEqual, 1)

	odo.SetDepthNearThreshold(0.3)
	test.That(t, odo.Snapshot().DepthNear, test.ShouldEqual, 0.3)
	odo.SetParameters(0.64, 0.3, 3, 0.05)
	test.That(t, odo.Snapshot().DepthNear, test.ShouldEqual, 0.3)
	test.That(t, logs.FilterMessageSnippet("ignores the near threshold").Len(), test.ShouldEqual, 1)
}

func TestSetIntrinsics(t *testing.T) {
	odo := newTestOdometry(t)
	for level, expected := range []transform.PinholeCameraIntrinsics{
		{Width: 64, Height: 64, Fx: 50, Fy: 50, Ppx: 32, Ppy: 32},
		{Width: 32, Height: 32, Fx: 25, Fy: 25, Ppx: 16, Ppy: 16},
		{Width: 16, Height: 16, Fx: 12.5, Fy: 12.5, Ppx: 8, Ppy: 8},
	} {
		intr, err := odo.Intrinsics(level)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, intr, test.ShouldResemble, expected)
	}
	_, err := odo.Intrinsics(3)
	test.That(t, errors.Is(err, rimage.ErrLevelOutOfRange), test.ShouldBeTrue)
}

func TestCreateRelease(t *testing.T) {
	odo := newTestOdometry(t)
	test.That(t, odo.Create(64, 64), test.ShouldBeNil)
	err := odo.Create(64, 64)
	test.That(t, errors.Is(err, device.ErrAllocation), test.ShouldBeTrue)
	test.That(t, odo.Release(), test.ShouldBeNil)
	test.That(t, odo.Release(), test.ShouldBeNil)
	test.That(t, odo.Create(32, 32), test.ShouldBeNil)

	err = odo.Create(0, 32)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestApplyRequiresPreparedData(t *testing.T) {
	odo := newTestOdometry(t)
	test.That(t, errors.Is(odo.Apply(context.Background()), ErrNotPrepared), test.ShouldBeTrue)

	odo2, err := NewRGBDOdometry(3, device.Host, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, odo2.PrepareData(context.Background(), frame, frame), test.ShouldBeNil)
	err = odo2.Apply(context.Background())
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, odo2.Release(), test.ShouldBeNil)
}

func TestPrepareDataSizeMismatch(t *testing.T) {
	odo := newTestOdometry(t)
	a, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	b, err := rimage.NewTexturedRGBDImage(32, 32, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, odo.PrepareData(context.Background(), a, b), test.ShouldNotBeNil)
}

func TestIdentitySingleIteration(t *testing.T) {
	odo := newTestOdometry(t)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, odo.PrepareData(context.Background(), frame, frame), test.ShouldBeNil)

	results := rimage.NewBuffer[float64](device.Host)
	test.That(t, results.Create(ReductionSize, 1), test.ShouldBeNil)
	defer results.Release()
	results.Memset(0)

	test.That(t, ComputeResiduals(context.Background(), odo.Snapshot(), 0, results), test.ShouldBeNil)
	ne, err := ExtractResults(results.Download())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ne.Inliers, test.ShouldBeGreaterThan, 60*60/2)
	test.That(t, ne.Error, test.ShouldAlmostEqual, 0, 1e-9)
	for i := 0; i < numParams; i++ {
		test.That(t, ne.Jtr.AtVec(i), test.ShouldAlmostEqual, 0, 1e-6)
	}
	dx, err := ne.Solve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.Twist(dx).Norm(), test.ShouldAlmostEqual, 0, 1e-6)

	err = ComputeResiduals(context.Background(), odo.Snapshot(), 3, results)
	test.That(t, errors.Is(err, rimage.ErrLevelOutOfRange), test.ShouldBeTrue)
}

func TestComputeResidualsDeterministic(t *testing.T) {
	odo := newTestOdometry(t)
	source := planeFrame(t, testIntrinsics(), r3.Vector{X: 0.02, Y: -0.01})
	target := planeFrame(t, testIntrinsics(), r3.Vector{})
	test.That(t, odo.PrepareData(context.Background(), source, target), test.ShouldBeNil)

	results := rimage.NewBuffer[float64](device.Host)
	test.That(t, results.Create(ReductionSize, 1), test.ShouldBeNil)
	defer results.Release()

	run := func() []float64 {
		results.Memset(0)
		test.That(t, ComputeResiduals(context.Background(), odo.Snapshot(), 0, results), test.ShouldBeNil)
		return results.Download()
	}
	first := run()
	test.That(t, first[inlierOffset], test.ShouldBeGreaterThan, 0)
	for i := 0; i < 3; i++ {
		test.That(t, run(), test.ShouldResemble, first)
	}
}

func TestIdentityScenario(t *testing.T) {
	odo := newTestOdometry(t)
	odo.RecordSourceOnTarget(true)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)

	m, err := odo.Compute(context.Background(), frame, frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.ApproxEqualThreshold(mgl64.Ident4(), 1e-6), test.ShouldBeTrue)
	test.That(t, spatialmath.CheckRigidTransform(m, 1e-9), test.ShouldBeNil)

	history := odo.History()
	test.That(t, len(history), test.ShouldEqual, 30)
	test.That(t, history[0].Level, test.ShouldEqual, 2)
	test.That(t, history[29].Level, test.ShouldEqual, 0)
	for _, st := range history {
		test.That(t, st.Inliers, test.ShouldBeGreaterThan, 0)
		test.That(t, st.AvgError, test.ShouldAlmostEqual, 0, 1e-9)
	}

	summary, err := odo.Summary()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Iterations, test.ShouldEqual, 30)
	test.That(t, summary.Rotation.Real, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, summary.Translation.Norm(), test.ShouldAlmostEqual, 0, 1e-6)

	sot, err := odo.SourceOnTarget(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sot, test.ShouldNotBeNil)
	test.That(t, sot.At(32, 32), test.ShouldAlmostEqual, frame.Intensity().At(32, 32), 1e-5)
	test.That(t, sot.At(63, 63), test.ShouldEqual, float32(0))
}

func TestAllInvalidDepthIsSingular(t *testing.T) {
	odo := newTestOdometry(t)
	frame, err := rimage.NewRGBDImage(64, 64, make([]float32, 64*64), make([]float32, 64*64), device.Host)
	test.That(t, err, test.ShouldBeNil)

	initial := mgl64.Translate3D(0.1, 0, 0)
	test.That(t, odo.SetTransform(initial), test.ShouldBeNil)

	_, err = odo.Compute(context.Background(), frame, frame)
	test.That(t, errors.Is(err, ErrSingularSystem), test.ShouldBeTrue)
	var singular *SingularSystemError
	test.That(t, errors.As(err, &singular), test.ShouldBeTrue)
	test.That(t, singular.Level, test.ShouldEqual, 2)
	test.That(t, singular.Iteration, test.ShouldEqual, 0)
	test.That(t, singular.Inliers, test.ShouldEqual, 0)
	test.That(t, odo.Transform(), test.ShouldResemble, initial)
}

func TestSmallMotionRecovery(t *testing.T) {
	odo := newTestOdometry(t)
	offset := r3.Vector{X: 0.02, Y: -0.015, Z: 0.01}
	source := planeFrame(t, testIntrinsics(), offset)
	target := planeFrame(t, testIntrinsics(), r3.Vector{})

	m, err := odo.Compute(context.Background(), source, target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.CheckRigidTransform(m, 1e-9), test.ShouldBeNil)

	tr := spatialmath.TransformTranslation(m)
	test.That(t, tr.X, test.ShouldAlmostEqual, offset.X, 2e-3)
	test.That(t, tr.Y, test.ShouldAlmostEqual, offset.Y, 2e-3)
	test.That(t, tr.Z, test.ShouldAlmostEqual, offset.Z, 2e-3)
	test.That(t, spatialmath.TransformQuaternion(m).Real, test.ShouldBeGreaterThan, 0.99999)

	history := odo.History()
	test.That(t, history[len(history)-1].AvgError, test.ShouldBeLessThan, history[0].AvgError)
}

func TestConvergenceThreshold(t *testing.T) {
	odo := newTestOdometry(t)
	odo.SetConvergenceThreshold(1e-3)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	_, err = odo.Compute(context.Background(), frame, frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(odo.History()), test.ShouldEqual, 3)
}

func TestApplyCanceled(t *testing.T) {
	odo := newTestOdometry(t)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, odo.PrepareData(context.Background(), frame, frame), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, errors.Is(odo.Apply(ctx), context.Canceled), test.ShouldBeTrue)
	test.That(t, odo.Transform(), test.ShouldResemble, mgl64.Ident4())
}

func TestRigidityOverIterations(t *testing.T) {
	odo := newTestOdometry(t)
	source := planeFrame(t, testIntrinsics(), r3.Vector{X: -0.01, Z: 0.02})
	target := planeFrame(t, testIntrinsics(), r3.Vector{})
	test.That(t, odo.PrepareData(context.Background(), source, target), test.ShouldBeNil)
	test.That(t, odo.SetIterations([]int{2, 2, 2}), test.ShouldBeNil)
	for i := 0; i < 5; i++ {
		test.That(t, odo.Apply(context.Background()), test.ShouldBeNil)
		test.That(t, spatialmath.CheckRigidTransform(odo.Transform(), 1e-9), test.ShouldBeNil)
	}
}

func TestNewRGBDOdometryFromConfig(t *testing.T) {
	intr := testIntrinsics()
	cfg := &RGBDOdometryConfig{
		Levels:        2,
		DepthNear:     0.1,
		CamIntrinsics: &intr,
	}
	odo, err := NewRGBDOdometryFromConfig(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, odo.NumLevels(), test.ShouldEqual, 2)
	snap := odo.Snapshot()
	test.That(t, snap.DepthNear, test.ShouldEqual, 0.1)
	test.That(t, snap.NumLevels(), test.ShouldEqual, 2)

	_, err = NewRGBDOdometryFromConfig(&RGBDOdometryConfig{Device: "gpu:0"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
}

func TestIntrinsicsWithoutImageSize(t *testing.T) {
	odo := newTestOdometry(t)
	odo.SetIntrinsics(transform.PinholeCameraIntrinsics{Fx: 50, Fy: 50, Ppx: 32, Ppy: 32})
	odo.RecordSourceOnTarget(true)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)

	m, err := odo.Compute(context.Background(), frame, frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.ApproxEqualThreshold(mgl64.Ident4(), 1e-6), test.ShouldBeTrue)

	history := odo.History()
	test.That(t, len(history), test.ShouldEqual, 30)
	final := history[len(history)-1]
	test.That(t, final.Level, test.ShouldEqual, 0)
	test.That(t, final.Inliers, test.ShouldBeGreaterThan, 59*59)
	test.That(t, final.Inliers, test.ShouldBeLessThanOrEqualTo, 61*61)
}

func TestIntrinsicsSizeMismatch(t *testing.T) {
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)

	for _, size := range []int{128, 32} {
		odo := newTestOdometry(t)
		odo.SetIntrinsics(transform.PinholeCameraIntrinsics{Width: size, Height: size, Fx: 50, Fy: 50, Ppx: 32, Ppy: 32})
		_, err := odo.Compute(context.Background(), frame, frame)
		test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "64x64")
		test.That(t, odo.History(), test.ShouldBeEmpty)
		test.That(t, odo.Transform(), test.ShouldResemble, mgl64.Ident4())
	}
}

func TestBorderPixelsAreNotSampled(t *testing.T) {
	odo := newTestOdometry(t)
	odo.RecordSourceOnTarget(true)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, odo.PrepareData(context.Background(), frame, frame), test.ShouldBeNil)

	results := rimage.NewBuffer[float64](device.Host)
	test.That(t, results.Create(ReductionSize, 1), test.ShouldBeNil)
	defer results.Release()
	results.Memset(0)
	test.That(t, ComputeResiduals(context.Background(), odo.Snapshot(), 0, results), test.ShouldBeNil)

	sot, err := odo.SourceOnTarget(0)
	test.That(t, err, test.ShouldBeNil)
	// the outermost rows and columns carry no Sobel gradient
	for i := 0; i < 64; i++ {
		test.That(t, sot.At(0, i), test.ShouldEqual, float32(0))
		test.That(t, sot.At(63, i), test.ShouldEqual, float32(0))
		test.That(t, sot.At(i, 0), test.ShouldEqual, float32(0))
		test.That(t, sot.At(i, 63), test.ShouldEqual, float32(0))
	}
	test.That(t, sot.At(2, 32), test.ShouldAlmostEqual, frame.Intensity().At(2, 32), 1e-5)
	test.That(t, sot.At(32, 60), test.ShouldAlmostEqual, frame.Intensity().At(32, 60), 1e-5)
}

func TestRecordSourceOnTargetAfterPrepare(t *testing.T) {
	odo := newTestOdometry(t)
	frame, err := rimage.NewTexturedRGBDImage(64, 64, 1, device.Host)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, odo.PrepareData(context.Background(), frame, frame), test.ShouldBeNil)

	_, err = odo.SourceOnTarget(0)
	test.That(t, errors.Is(err, ErrNotRecorded), test.ShouldBeTrue)

	odo.RecordSourceOnTarget(true)
	_, err = odo.Compute(context.Background(), frame, frame)
	test.That(t, err, test.ShouldBeNil)
	for level := 0; level < odo.NumLevels(); level++ {
		sot, err := odo.SourceOnTarget(level)
		test.That(t, err, test.ShouldBeNil)
		w, h := rimage.PyramidLevelSize(64, 64, level)
		test.That(t, sot.Width(), test.ShouldEqual, w)
		test.That(t, sot.Height(), test.ShouldEqual, h)
	}
	sot, err := odo.SourceOnTarget(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sot.At(32, 32), test.ShouldAlmostEqual, frame.Intensity().At(32, 32), 1e-5)
}
