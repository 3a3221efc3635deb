package align

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// stateDimension is the minimal parameterization of a rigid transform:
// three translation components plus the quaternion imaginary parts.
const stateDimension = 6

// solverState carries the Gauss-Newton scratch buffers shared by the aligner
// variants: the normal equations, per-point error bookkeeping and the
// convergence outcome. Buffers are re-initialized by every Linearize call and
// must not be shared between concurrent alignment runs.
type solverState struct {
	h *mat.Dense
	b *mat.VecDense

	pointErrors []float64
	inlierMask  []bool

	numInliers  int
	numOutliers int
	totalError  float64

	informationMatrix *mat.Dense
	converged         bool
}

func newSolverState() solverState {
	return solverState{
		h: mat.NewDense(stateDimension, stateDimension, nil),
		b: mat.NewVecDense(stateDimension, nil),
	}
}

// resetBuffers resizes the per-point buffers to the bound observation count
// and resets the convergence outcome.
func (s *solverState) resetBuffers(numPoints int) {
	s.pointErrors = make([]float64, numPoints)
	s.inlierMask = make([]bool, numPoints)
	s.informationMatrix = nil
	s.converged = false
}

// resetAccumulators zeroes H, b and the running totals at the start of a
// linearization pass.
func (s *solverState) resetAccumulators() {
	s.h.Zero()
	s.b.Zero()
	s.numInliers = 0
	s.numOutliers = 0
	s.totalError = 0
}

// accumulate folds one observation into the normal equations:
// H += JᵗΩJ, b += JᵗΩe.
func (s *solverState) accumulate(jacobian, omega *mat.Dense, pointError *mat.VecDense) {
	var jtOmega mat.Dense
	jtOmega.Mul(jacobian.T(), omega)

	var hContribution mat.Dense
	hContribution.Mul(&jtOmega, jacobian)
	s.h.Add(s.h, &hContribution)

	var bContribution mat.VecDense
	bContribution.MulVec(&jtOmega, pointError)
	s.b.AddVec(s.b, &bContribution)
}

// solve damps H in place and solves H dx = -b. The damped H stays recorded so
// the information matrix of the final round can be captured by converge.
func (s *solverState) solve(damping float64) ([]float64, error) {
	for i := 0; i < stateDimension; i++ {
		s.h.Set(i, i, s.h.At(i, i)+damping)
	}

	sym := mat.NewSymDense(stateDimension, nil)
	for i := 0; i < stateDimension; i++ {
		for j := i; j < stateDimension; j++ {
			sym.SetSym(i, j, 0.5*(s.h.At(i, j)+s.h.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, errors.New("damped normal equations are not positive definite")
	}

	negB := mat.NewVecDense(stateDimension, nil)
	negB.ScaleVec(-1, s.b)
	var dx mat.VecDense
	if err := chol.SolveVecTo(&dx, negB); err != nil {
		return nil, err
	}
	return dx.RawVector().Data, nil
}

// runToConvergence drives oneRound until the error delta falls below the
// configured threshold, then polishes with three inlier-only rounds and
// records the information matrix. A hit of the iteration cap is reported as a
// diagnostic, not an error; the caller keeps the best-effort estimate.
func (s *solverState) runToConvergence(config *Config, logger golog.Logger, name string, oneRound func(ignoreOutliers bool)) {
	totalErrorPrevious := 0.0
	for iteration := 0; iteration < config.MaximumNumberOfIterations; iteration++ {
		oneRound(false)

		if config.ErrorDeltaForConvergence > math.Abs(totalErrorPrevious-s.totalError) {
			oneRound(true)
			oneRound(true)
			oneRound(true)
			s.informationMatrix = mat.DenseCopyOf(s.h)
			s.converged = true
			return
		}
		totalErrorPrevious = s.totalError

		if iteration == config.MaximumNumberOfIterations-1 {
			s.converged = false
			processed := s.numInliers + s.numOutliers
			averageError := 0.0
			if processed > 0 {
				averageError = s.totalError / float64(processed)
			}
			logger.Warnw(name+": system did not converge",
				"total_error", s.totalError,
				"average_error", averageError,
				"inliers", s.numInliers,
				"outliers", s.numOutliers,
			)
		}
	}
}

// TotalError returns the accumulated squared error of the last linearization.
func (s *solverState) TotalError() float64 { return s.totalError }

// NumberOfInliers returns the inlier count of the last linearization.
func (s *solverState) NumberOfInliers() int { return s.numInliers }

// NumberOfOutliers returns the outlier count of the last linearization.
func (s *solverState) NumberOfOutliers() int { return s.numOutliers }

// PointErrors returns the per-point squared errors of the last linearization;
// skipped points hold -1.
func (s *solverState) PointErrors() []float64 { return s.pointErrors }

// InlierMask returns the per-point inlier classification of the last
// linearization.
func (s *solverState) InlierMask() []bool { return s.inlierMask }

// InformationMatrix returns the damped Hessian approximation recorded at
// convergence, or nil if the system has not converged.
func (s *solverState) InformationMatrix() *mat.Dense { return s.informationMatrix }

// HasConverged reports whether the last Converge call reached the error-delta
// criterion within the iteration cap.
func (s *solverState) HasConverged() bool { return s.converged }
