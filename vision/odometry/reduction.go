package odometry

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layout of the reduction buffer: the upper triangle of JtJ row by row, then Jtr, then the
// summed squared error and the inlier count.
const (
	numParams    = 6
	numJtJ       = numParams * (numParams + 1) / 2
	jtrOffset    = numJtJ
	errorOffset  = jtrOffset + numParams
	inlierOffset = errorOffset + 1

	// ReductionSize is the number of scalars a residual kernel launch reduces into.
	ReductionSize = inlierOffset + 1
)

type partialSums [ReductionSize]float64

// addResidual accumulates one residual r with jacobian j.
func (p *partialSums) addResidual(j *[numParams]float64, r float64) {
	cnt := 0
	for row := 0; row < numParams; row++ {
		for col := row; col < numParams; col++ {
			p[cnt] += j[row] * j[col]
			cnt++
		}
	}
	for row := 0; row < numParams; row++ {
		p[jtrOffset+row] += j[row] * r
	}
	p[errorOffset] += r * r
}

func (p *partialSums) addInlier() {
	p[inlierOffset]++
}

// NormalEquations is the Gauss-Newton system unpacked from a reduction buffer.
type NormalEquations struct {
	JtJ     *mat.SymDense
	Jtr     *mat.VecDense
	Error   float64
	Inliers int
}

// ExtractResults unpacks a downloaded reduction buffer into a symmetric JtJ, Jtr, the squared
// error and the inlier count.
func ExtractResults(results []float64) (NormalEquations, error) {
	if len(results) < ReductionSize {
		return NormalEquations{}, errors.Errorf("reduction buffer holds %d values, need %d", len(results), ReductionSize)
	}
	jtj := mat.NewSymDense(numParams, nil)
	cnt := 0
	for i := 0; i < numParams; i++ {
		for j := i; j < numParams; j++ {
			jtj.SetSym(i, j, results[cnt])
			cnt++
		}
	}
	jtr := mat.NewVecDense(numParams, nil)
	for i := 0; i < numParams; i++ {
		jtr.SetVec(i, results[jtrOffset+i])
	}
	return NormalEquations{
		JtJ:     jtj,
		Jtr:     jtr,
		Error:   results[errorOffset],
		Inliers: int(math.Round(results[inlierOffset])),
	}, nil
}

// AvgError is the mean squared error per inlier, or 0 without inliers.
func (ne NormalEquations) AvgError() float64 {
	if ne.Inliers == 0 {
		return 0
	}
	return ne.Error / float64(ne.Inliers)
}

// Solve returns the increment dx solving JtJ dx = -Jtr. It fails when there are no inliers,
// when JtJ is not positive definite, or when the solution is not finite.
func (ne NormalEquations) Solve() ([numParams]float64, error) {
	var dx [numParams]float64
	if ne.Inliers == 0 {
		return dx, errors.New("no inliers")
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(ne.JtJ); !ok {
		return dx, errors.New("cholesky factorization failed")
	}
	var rhs mat.VecDense
	rhs.ScaleVec(-1, ne.Jtr)
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, &rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return dx, err
		}
	}
	for i := range dx {
		dx[i] = sol.AtVec(i)
	}
	if floats.HasNaN(dx[:]) || math.IsInf(floats.Norm(dx[:], 2), 0) {
		return dx, errors.New("increment is not finite")
	}
	return dx, nil
}
