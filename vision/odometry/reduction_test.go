package odometry

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestExtractResultsRoundTrip(t *testing.T) {
	jacobians := [][numParams]float64{
		{1, 2, 3, 4, 5, 6},
		{-0.5, 0.25, 0, 1.5, -2, 0.75},
	}
	residuals := []float64{0.3, -1.2}

	var p partialSums
	for i := range jacobians {
		p.addResidual(&jacobians[i], residuals[i])
	}
	p.addInlier()

	ne, err := ExtractResults(p[:])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ne.Inliers, test.ShouldEqual, 1)
	test.That(t, ne.Error, test.ShouldAlmostEqual, 0.3*0.3+1.2*1.2)
	test.That(t, ne.AvgError(), test.ShouldAlmostEqual, ne.Error)

	for i := 0; i < numParams; i++ {
		expectedJtr := 0.
		for k := range jacobians {
			expectedJtr += jacobians[k][i] * residuals[k]
		}
		test.That(t, ne.Jtr.AtVec(i), test.ShouldAlmostEqual, expectedJtr)
		for j := 0; j < numParams; j++ {
			expected := 0.
			for k := range jacobians {
				expected += jacobians[k][i] * jacobians[k][j]
			}
			test.That(t, ne.JtJ.At(i, j), test.ShouldAlmostEqual, expected)
		}
	}
}

func TestExtractResultsLayout(t *testing.T) {
	results := make([]float64, ReductionSize)
	for i := range results {
		results[i] = float64(i)
	}
	ne, err := ExtractResults(results)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ne.JtJ.At(0, 0), test.ShouldEqual, 0.)
	test.That(t, ne.JtJ.At(0, 5), test.ShouldEqual, 5.)
	test.That(t, ne.JtJ.At(5, 0), test.ShouldEqual, 5.)
	test.That(t, ne.JtJ.At(1, 1), test.ShouldEqual, 6.)
	test.That(t, ne.JtJ.At(5, 5), test.ShouldEqual, 20.)
	test.That(t, ne.Jtr.AtVec(0), test.ShouldEqual, 21.)
	test.That(t, ne.Jtr.AtVec(5), test.ShouldEqual, 26.)
	test.That(t, ne.Error, test.ShouldEqual, 27.)
	test.That(t, ne.Inliers, test.ShouldEqual, 28)

	_, err = ExtractResults(results[:ReductionSize-1])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSolve(t *testing.T) {
	jtj := mat.NewSymDense(numParams, nil)
	jtr := mat.NewVecDense(numParams, nil)
	for i := 0; i < numParams; i++ {
		jtj.SetSym(i, i, 2)
		jtr.SetVec(i, float64(i+1))
	}
	ne := NormalEquations{JtJ: jtj, Jtr: jtr, Inliers: 10}
	dx, err := ne.Solve()
	test.That(t, err, test.ShouldBeNil)
	for i := range dx {
		test.That(t, dx[i], test.ShouldAlmostEqual, -float64(i+1)/2)
	}

	ne.Inliers = 0
	_, err = ne.Solve()
	test.That(t, err, test.ShouldNotBeNil)

	singular := NormalEquations{JtJ: mat.NewSymDense(numParams, nil), Jtr: jtr, Inliers: 10}
	_, err = singular.Solve()
	test.That(t, err, test.ShouldNotBeNil)
}
