package odometry

import (
	"github.com/go-gl/mathgl/mgl64"

	"go.viam.com/densevo/rimage"
	"go.viam.com/densevo/rimage/transform"
)

// Snapshot is the read-only state a residual kernel launch sees. It aliases the pyramids of
// the RGBDOdometry it came from and is only valid until their next rebuild or release.
type Snapshot struct {
	Intrinsics []transform.PinholeCameraIntrinsics
	Transform  mgl64.Mat4

	SqrtCoeffD float64
	SqrtCoeffI float64

	DepthNear float64
	DepthFar  float64
	DepthDiff float64

	// GradientScale multiplies the stored target gradients into per-pixel derivatives.
	GradientScale float64

	Source   []rimage.RGBDView
	Target   []rimage.RGBDView
	TargetDx []rimage.RGBDView
	TargetDy []rimage.RGBDView

	// SourceOnTarget, when set, receives per level the target intensity sampled at every
	// inlier source pixel, and 0 elsewhere.
	SourceOnTarget []*rimage.Buffer[float32]
}

// NumLevels returns the number of pyramid levels the snapshot covers.
func (s Snapshot) NumLevels() int {
	return len(s.Intrinsics)
}
