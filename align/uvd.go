package align

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/terraspect/vslam/spatial"
	"github.com/terraspect/vslam/worldmap"
)

// Map resolves the identifier cross-references of a bound frame. It is
// satisfied by *worldmap.WorldMap.
type Map interface {
	Landmark(worldmap.LandmarkID) (*worldmap.Landmark, bool)
	Point(worldmap.FrameID, int) (*worldmap.FramePoint, bool)
}

// UVDAligner refines a frame's robot-to-world pose against the local map by
// minimizing the (pixel x, pixel y, depth) reprojection residual over the
// frame's active points with a robust outlier kernel. One instance serves one
// alignment at a time; it is not re-entrant.
type UVDAligner struct {
	solverState
	config *Config
	logger golog.Logger

	worldMap Map
	frame    *worldmap.Frame

	robotToWorld  spatial.Transform
	worldToRobot  spatial.Transform
	cameraToWorld spatial.Transform
	worldToCamera spatial.Transform

	cameraMatrix *mat.Dense
	imageRows    int
	imageCols    int
}

// NewUVDAligner returns an unbound reprojection aligner.
func NewUVDAligner(config *Config, logger golog.Logger) *UVDAligner {
	return &UVDAligner{solverState: newSolverState(), config: config, logger: logger}
}

// Initialize binds the aligner to a frame's active points and a starting
// robot-to-world estimate, precomputing the camera wrappers and resetting the
// per-point buffers. Every active point must carry a previous-point link and
// lie within the camera's field of view at its observed image coordinates;
// a violation is a front-end contract breach and is rejected here, at the
// input boundary.
func (aligner *UVDAligner) Initialize(worldMap Map, frame *worldmap.Frame, robotToWorld spatial.Transform) error {
	points := frame.ActivePoints()
	if len(points) == 0 {
		return errors.New("cannot align a frame without active points")
	}
	cam := frame.Camera()
	for index, point := range points {
		if _, _, ok := point.Previous(); !ok {
			return errors.Errorf("active point %d has no previous-point link", index)
		}
		if !cam.InFieldOfView(r2.Point{X: point.Image.X, Y: point.Image.Y}) {
			return errors.Errorf("active point %d lies outside the field of view", index)
		}
	}

	aligner.worldMap = worldMap
	aligner.frame = frame
	aligner.resetBuffers(len(points))

	aligner.robotToWorld = robotToWorld
	aligner.worldToRobot = robotToWorld.Inverse()
	aligner.cameraToWorld = robotToWorld.Compose(cam.CameraToRobot)
	aligner.worldToCamera = aligner.cameraToWorld.Inverse()
	aligner.cameraMatrix = cam.Intrinsics.CameraMatrix()
	aligner.imageRows = cam.Intrinsics.Height
	aligner.imageCols = cam.Intrinsics.Width
	return nil
}

// Linearize performs one pass over all active points, accumulating the 6x6
// information matrix H, the vector b, per-point squared errors and the
// inlier/outlier classification.
func (aligner *UVDAligner) Linearize(ignoreOutliers bool) {
	aligner.resetAccumulators()

	for index, point := range aligner.frame.ActivePoints() {
		aligner.pointErrors[index] = -1
		aligner.inlierMask[index] = false

		// the depth component is trusted an order of magnitude more than the
		// pixel components
		omega := mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 10,
		})

		// predict camera-frame coordinates, preferring a validated landmark
		// estimate over the previous point's coordinates
		var predictedInCamera r3.Vector
		fromLandmark := false
		if landmarkID, ok := point.Landmark(); ok {
			if landmark, found := aligner.worldMap.Landmark(landmarkID); found && landmark.AreCoordinatesValidated() {
				predictedInCamera = aligner.worldToCamera.Apply(landmark.Coordinates())
				fromLandmark = true
			}
		}
		if !fromLandmark {
			previousFrame, previousIndex, _ := point.Previous()
			previous, found := aligner.worldMap.Point(previousFrame, previousIndex)
			if !found {
				continue
			}
			predictedInCamera = aligner.worldToCamera.Apply(previous.World)
			omega.Scale(aligner.config.WeightFramePoint, omega)
		}

		depth := predictedInCamera.Z
		if depth <= 0 || depth > aligner.config.MaximumDepthFarMeters {
			continue
		}

		// homogeneous projection and perspective division, with the depth
		// restored in the third component
		predictedUVD := matVecApply(aligner.cameraMatrix, predictedInCamera)
		predictedInImage := r3.Vector{X: predictedUVD.X / depth, Y: predictedUVD.Y / depth, Z: depth}
		if predictedInImage.X < 0 || predictedInImage.X > float64(aligner.imageCols) ||
			predictedInImage.Y < 0 || predictedInImage.Y > float64(aligner.imageRows) {
			continue
		}

		// visualization only
		point.Reprojection = predictedInImage

		pointError := mat.NewVecDense(3, []float64{
			predictedInImage.X - point.Image.X,
			predictedInImage.Y - point.Image.Y,
			predictedInImage.Z - point.Camera.Z,
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

		// transform jacobian: translation only constrains near points,
		// rotation always contributes through the cross-product term
		jacobianTransform := mat.NewDense(3, stateDimension, nil)
		if depth < aligner.config.MaximumDepthNearMeters {
			for i := 0; i < 3; i++ {
				jacobianTransform.Set(i, i, 1)
			}
		}
		skew := spatial.Skew(predictedInCamera)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				jacobianTransform.Set(i, j+3, -2*skew.At(i, j))
			}
		}

		// jacobian of the perspective division
		inverseDepth := 1 / depth
		inverseDepthSquared := inverseDepth * inverseDepth
		jacobianProjection := mat.NewDense(3, 3, []float64{
			inverseDepth, 0, -predictedUVD.X * inverseDepthSquared,
			0, inverseDepth, -predictedUVD.Y * inverseDepthSquared,
			0, 0, 1,
		})

		var projectedTransform mat.Dense
		projectedTransform.Mul(aligner.cameraMatrix, jacobianTransform)
		var jacobian mat.Dense
		jacobian.Mul(jacobianProjection, &projectedTransform)

		// depth estimates are least reliable toward the limits of the
		// operating range; attenuate confidence accordingly
		if depth < aligner.config.MaximumDepthNearMeters {
			omega.Scale((aligner.config.MaximumDepthNearMeters-depth)/aligner.config.MaximumDepthNearMeters, omega)
		} else {
			omega.Scale((aligner.config.MaximumDepthFarMeters-depth)/aligner.config.MaximumDepthFarMeters, omega)
		}

		aligner.accumulate(&jacobian, omega, pointError)
	}
}

// OneRound linearizes the system once, solves the damped normal equations and
// applies the incremental transform to the world-to-camera estimate.
func (aligner *UVDAligner) OneRound(ignoreOutliers bool) {
	aligner.Linearize(ignoreOutliers)

	dx, err := aligner.solve(aligner.config.Damping)
	if err != nil {
		aligner.logger.Warnw("UVDAligner: skipping pose update", "error", err)
		return
	}
	aligner.worldToCamera = spatial.Retract(dx).Compose(aligner.worldToCamera).Orthonormalized()
}

// Converge iterates OneRound until the change in total error falls below the
// convergence threshold, then polishes on inliers only and updates the bound
// frame's pose. Non-convergence at the iteration cap is reported, not fatal;
// the frame keeps the best-effort estimate.
func (aligner *UVDAligner) Converge() {
	aligner.runToConvergence(aligner.config, aligner.logger, "UVDAligner", aligner.OneRound)

	aligner.cameraToWorld = aligner.worldToCamera.Inverse()
	aligner.robotToWorld = aligner.cameraToWorld.Compose(aligner.frame.Camera().RobotToCamera)
	aligner.worldToRobot = aligner.robotToWorld.Inverse()
	aligner.frame.SetRobotToWorld(aligner.robotToWorld)
}

// RobotToWorld returns the current robot-to-world estimate.
func (aligner *UVDAligner) RobotToWorld() spatial.Transform { return aligner.robotToWorld }

// WorldToCamera returns the current world-to-camera estimate.
func (aligner *UVDAligner) WorldToCamera() spatial.Transform { return aligner.worldToCamera }

func matVecApply(m *mat.Dense, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z,
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z,
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z,
	}
}
