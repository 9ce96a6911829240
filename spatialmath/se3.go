package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Twist is an element of the se(3) Lie algebra, ordered translation first: [vx vy vz wx wy wz].
type Twist [6]float64

// Translation returns the translational part of the twist.
func (xi Twist) Translation() mgl64.Vec3 {
	return mgl64.Vec3{xi[0], xi[1], xi[2]}
}

// Rotation returns the rotational (axis-angle) part of the twist.
func (xi Twist) Rotation() mgl64.Vec3 {
	return mgl64.Vec3{xi[3], xi[4], xi[5]}
}

// Norm returns the Euclidean norm of the six coordinates.
func (xi Twist) Norm() float64 {
	sum := 0.
	for _, v := range xi {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// IsFinite reports whether every coordinate is a finite number.
func (xi Twist) IsFinite() bool {
	for _, v := range xi {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Skew returns the cross product matrix [v]x such that [v]x * u = v x u.
func Skew(v mgl64.Vec3) mgl64.Mat3 {
	var m mgl64.Mat3
	m.Set(0, 1, -v[2])
	m.Set(0, 2, v[1])
	m.Set(1, 0, v[2])
	m.Set(1, 2, -v[0])
	m.Set(2, 0, -v[1])
	m.Set(2, 1, v[0])
	return m
}

// small angles switch to Taylor expansions of the exponential map coefficients.
const expTaylorThreshold = 1e-8

// ExpSO3 maps an axis-angle vector to a rotation matrix with Rodrigues' formula.
func ExpSO3(w mgl64.Vec3) mgl64.Mat3 {
	a, b, _ := expCoefficients(w.LenSqr())
	wx := Skew(w)
	return mgl64.Ident3().Add(wx.Mul(a)).Add(wx.Mul3(wx).Mul(b))
}

// expCoefficients returns sin(t)/t, (1-cos(t))/t^2 and (t-sin(t))/t^3 for t^2 = theta2.
func expCoefficients(theta2 float64) (float64, float64, float64) {
	if theta2 < expTaylorThreshold {
		return 1 - theta2/6, 0.5 - theta2/24, 1./6 - theta2/120
	}
	theta := math.Sqrt(theta2)
	s, c := math.Sincos(theta)
	return s / theta, (1 - c) / theta2, (theta - s) / (theta2 * theta)
}

// ExpSE3 maps a twist to the rigid transform it generates:
//
//	R = I + a[w]x + b[w]x^2
//	t = (I + b[w]x + c[w]x^2) v
func ExpSE3(xi Twist) mgl64.Mat4 {
	w := xi.Rotation()
	a, b, c := expCoefficients(w.LenSqr())
	wx := Skew(w)
	wx2 := wx.Mul3(wx)
	rot := mgl64.Ident3().Add(wx.Mul(a)).Add(wx2.Mul(b))
	v := mgl64.Ident3().Add(wx.Mul(b)).Add(wx2.Mul(c))
	t := v.Mul3x1(xi.Translation())
	return NewTransform(rot, t)
}

// NewTransform assembles a homogeneous transform from a rotation and a translation.
func NewTransform(rot mgl64.Mat3, t mgl64.Vec3) mgl64.Mat4 {
	m := rot.Mat4()
	m.SetCol(3, mgl64.Vec4{t[0], t[1], t[2], 1})
	return m
}

// TransformPoint applies a homogeneous rigid transform to a point.
func TransformPoint(m mgl64.Mat4, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// ErrNotRigid is returned when a 4x4 matrix is not a proper rigid transform.
var ErrNotRigid = errors.New("matrix is not a rigid transform")

// CheckRigidTransform verifies that m is a homogeneous rigid transform within tol: an
// orthonormal rotation block with determinant 1 and a bottom row of [0 0 0 1].
func CheckRigidTransform(m mgl64.Mat4, tol float64) error {
	for i := 0; i < 16; i++ {
		if math.IsNaN(m[i]) || math.IsInf(m[i], 0) {
			return errors.Wrap(ErrNotRigid, "non-finite entry")
		}
	}
	rot := m.Mat3()
	if det := rot.Det(); math.Abs(det-1) > tol {
		return errors.Wrapf(ErrNotRigid, "rotation determinant is %v", det)
	}
	if !rot.Transpose().Mul3(rot).ApproxEqualThreshold(mgl64.Ident3(), tol) {
		return errors.Wrap(ErrNotRigid, "rotation is not orthonormal")
	}
	if !m.Row(3).ApproxEqualThreshold(mgl64.Vec4{0, 0, 0, 1}, tol) {
		return errors.Wrapf(ErrNotRigid, "bottom row is %v", m.Row(3))
	}
	return nil
}

// TransformQuaternion returns the rotation of a rigid transform as a unit quaternion.
func TransformQuaternion(m mgl64.Mat4) quat.Number {
	q := mgl64.Mat4ToQuat(m).Normalize()
	return quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
}

// TransformTranslation returns the translation of a rigid transform.
func TransformTranslation(m mgl64.Mat4) r3.Vector {
	return r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
}
