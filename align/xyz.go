package align

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/terraspect/vslam/spatial"
)

// PointPair is one 3D-to-3D observation for the point-to-point aligner: a
// point in the query frame and its corresponding point in the reference frame.
type PointPair struct {
	Query     r3.Vector
	Reference r3.Vector
}

// XYZAligner solves the rigid transform mapping query points onto reference
// points, following the same damped Gauss-Newton skeleton as the reprojection
// aligner but with a plain Euclidean residual. It is the variant used for
// loop-closure geometric verification. Not re-entrant.
type XYZAligner struct {
	solverState
	config *Config
	logger golog.Logger

	pairs            []PointPair
	queryToReference spatial.Transform
}

// NewXYZAligner returns an unbound point-to-point aligner.
func NewXYZAligner(config *Config, logger golog.Logger) *XYZAligner {
	return &XYZAligner{solverState: newSolverState(), config: config, logger: logger}
}

// Initialize binds the aligner to a set of point pairs and an initial
// query-to-reference estimate.
func (aligner *XYZAligner) Initialize(pairs []PointPair, initial spatial.Transform) error {
	if len(pairs) == 0 {
		return errors.New("cannot align without point pairs")
	}
	aligner.pairs = pairs
	aligner.queryToReference = initial
	aligner.resetBuffers(len(pairs))
	return nil
}

// Linearize performs one pass over all point pairs, accumulating the normal
// equations of the Euclidean residual. Translation and rotation blocks are
// both always active; there is no depth-dependent weighting.
func (aligner *XYZAligner) Linearize(ignoreOutliers bool) {
	aligner.resetAccumulators()

	for index, pair := range aligner.pairs {
		aligner.pointErrors[index] = -1
		aligner.inlierMask[index] = false

		omega := mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		})

		predicted := aligner.queryToReference.Apply(pair.Query)
		pointError := mat.NewVecDense(3, []float64{
			predicted.X - pair.Reference.X,
			predicted.Y - pair.Reference.Y,
			predicted.Z - pair.Reference.Z,
		})
		chi := mat.Dot(pointError, pointError)
		aligner.pointErrors[index] = chi

		if chi > aligner.config.MaximumErrorKernel {
			aligner.numOutliers++
			if ignoreOutliers {
				continue
			}
			omega.Scale(aligner.config.MaximumErrorKernel/chi, omega)
		} else {
			aligner.inlierMask[index] = true
			aligner.numInliers++
		}
		aligner.totalError += chi

		jacobian := mat.NewDense(3, stateDimension, nil)
		for i := 0; i < 3; i++ {
			jacobian.Set(i, i, 1)
		}
		skew := spatial.Skew(predicted)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				jacobian.Set(i, j+3, -2*skew.At(i, j))
			}
		}

		aligner.accumulate(jacobian, omega, pointError)
	}
}

// OneRound linearizes the system once, solves the damped normal equations and
// applies the incremental transform to the query-to-reference estimate.
func (aligner *XYZAligner) OneRound(ignoreOutliers bool) {
	aligner.Linearize(ignoreOutliers)

	dx, err := aligner.solve(aligner.config.Damping)
	if err != nil {
		aligner.logger.Warnw("XYZAligner: skipping transform update", "error", err)
		return
	}
	aligner.queryToReference = spatial.Retract(dx).Compose(aligner.queryToReference).Orthonormalized()
}

// Converge iterates OneRound until the change in total error falls below the
// convergence threshold, then polishes on inliers only.
func (aligner *XYZAligner) Converge() {
	aligner.runToConvergence(aligner.config, aligner.logger, "XYZAligner", aligner.OneRound)
}

// QueryToReference returns the current query-to-reference estimate.
func (aligner *XYZAligner) QueryToReference() spatial.Transform { return aligner.queryToReference }
