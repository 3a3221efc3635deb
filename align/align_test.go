package align

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/terraspect/vslam/camera"
	"github.com/terraspect/vslam/spatial"
	"github.com/terraspect/vslam/worldmap"
)

func testCamera(t *testing.T) *camera.Model {
	t.Helper()
	model, err := camera.NewModel(&camera.PinholeIntrinsics{
		Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240,
	}, spatial.NewTransform())
	test.That(t, err, test.ShouldBeNil)
	return model
}

func sceneWorldPoints() []r3.Vector {
	var points []r3.Vector
	for _, x := range []float64{-0.4, -0.1, 0.2, 0.4} {
		for _, y := range []float64{-0.3, 0, 0.3} {
			for _, z := range []float64{1.5, 2.5, 4} {
				points = append(points, r3.Vector{X: x, Y: y, Z: z})
			}
		}
	}
	return points
}

// buildScene creates a previous frame at identity and a current frame whose
// observations were generated at trueRobotToWorld, each point backed by a
// validated landmark.
func buildScene(t *testing.T, trueRobotToWorld spatial.Transform) (*worldmap.WorldMap, *worldmap.Frame) {
	t.Helper()
	wm := worldmap.NewWorldMap(golog.NewTestLogger(t))
	cam := testCamera(t)

	previous := wm.CreateFrame(cam, spatial.NewTransform())
	current := wm.CreateFrame(cam, trueRobotToWorld)

	worldToCamera := trueRobotToWorld.Compose(cam.CameraToRobot).Inverse()
	for _, worldPoint := range sceneWorldPoints() {
		landmark := wm.CreateLandmark(worldPoint)
		landmark.UpdateCoordinates(worldPoint)
		landmark.UpdateCoordinates(worldPoint)

		previousIndex := previous.AddPoint(&worldmap.FramePoint{World: worldPoint})

		inCamera := worldToCamera.Apply(worldPoint)
		point := &worldmap.FramePoint{
			Image:  cam.Intrinsics.Project(inCamera),
			Camera: inCamera,
			World:  worldPoint,
		}
		point.SetPrevious(previous.ID(), previousIndex)
		point.SetLandmark(landmark.ID())
		current.AddPoint(point)
	}
	return wm, current
}

func orthonormalityDrift(tf spatial.Transform) float64 {
	var drift mat.Dense
	drift.Mul(tf.Rotation.T(), tf.Rotation)
	for i := 0; i < 3; i++ {
		drift.Set(i, i, drift.At(i, i)-1)
	}
	return mat.Norm(&drift, 2)
}

func TestInitializeRejectsBadInput(t *testing.T) {
	logger := golog.NewTestLogger(t)
	wm := worldmap.NewWorldMap(logger)
	cam := testCamera(t)
	aligner := NewUVDAligner(NewConfig(), logger)

	empty := wm.CreateFrame(cam, spatial.NewTransform())
	test.That(t, aligner.Initialize(wm, empty, spatial.NewTransform()), test.ShouldNotBeNil)

	// a point without a previous-point link violates the front-end contract
	noPrev := wm.CreateFrame(cam, spatial.NewTransform())
	noPrev.AddPoint(&worldmap.FramePoint{Image: r3.Vector{X: 320, Y: 240, Z: 2}})
	test.That(t, aligner.Initialize(wm, noPrev, spatial.NewTransform()), test.ShouldNotBeNil)

	// a point observed outside the image bounds is equally rejected
	outOfView := wm.CreateFrame(cam, spatial.NewTransform())
	bad := &worldmap.FramePoint{Image: r3.Vector{X: -5, Y: 240, Z: 2}}
	bad.SetPrevious(noPrev.ID(), 0)
	outOfView.AddPoint(bad)
	test.That(t, aligner.Initialize(wm, outOfView, spatial.NewTransform()), test.ShouldNotBeNil)
}

func TestLinearizePartitionsProcessedPoints(t *testing.T) {
	logger := golog.NewTestLogger(t)
	truePose := spatial.NewTransform()
	wm, frame := buildScene(t, truePose)

	// a coarse initial guess leaves a mix of inliers and outliers
	guess := spatial.NewTransform()
	guess.Translation = r3.Vector{X: 0.05, Z: -0.04}
	config := NewConfig()
	config.MaximumErrorKernel = 50

	aligner := NewUVDAligner(config, logger)
	test.That(t, aligner.Initialize(wm, frame, guess), test.ShouldBeNil)
	aligner.Linearize(false)

	processed := 0
	for index, chi := range aligner.PointErrors() {
		if chi < 0 {
			// skipped points are never classified
			test.That(t, aligner.InlierMask()[index], test.ShouldBeFalse)
			continue
		}
		processed++
		if aligner.InlierMask()[index] {
			test.That(t, chi, test.ShouldBeLessThanOrEqualTo, config.MaximumErrorKernel)
		} else {
			test.That(t, chi, test.ShouldBeGreaterThan, config.MaximumErrorKernel)
		}
	}
	test.That(t, processed, test.ShouldEqual, aligner.NumberOfInliers()+aligner.NumberOfOutliers())
	test.That(t, processed, test.ShouldBeGreaterThan, 0)
}

func TestZeroResidualConvergesImmediately(t *testing.T) {
	logger := golog.NewTestLogger(t)
	truePose := spatial.NewTransform()
	truePose.Translation = r3.Vector{X: 0.1, Y: -0.05}
	wm, frame := buildScene(t, truePose)

	aligner := NewUVDAligner(NewConfig(), logger)
	test.That(t, aligner.Initialize(wm, frame, truePose), test.ShouldBeNil)

	aligner.Linearize(false)
	test.That(t, aligner.TotalError(), test.ShouldBeLessThan, 1e-9)
	test.That(t, aligner.NumberOfOutliers(), test.ShouldEqual, 0)

	// one round at the true pose must not disturb the estimate
	aligner.OneRound(false)
	aligner.Linearize(false)
	test.That(t, aligner.TotalError(), test.ShouldBeLessThan, 1e-9)

	aligner.Converge()
	test.That(t, aligner.HasConverged(), test.ShouldBeTrue)
	test.That(t, aligner.InformationMatrix(), test.ShouldNotBeNil)
	test.That(t, frame.RobotToWorld().Translation.X, test.ShouldAlmostEqual, 0.1, 1e-6)
}

func TestConvergeRecoversPerturbedPose(t *testing.T) {
	logger := golog.NewTestLogger(t)
	truePose := spatial.NewTransform()
	wm, frame := buildScene(t, truePose)

	guess := spatial.NewTransform()
	guess.Translation = r3.Vector{X: 0.03, Y: -0.02, Z: 0.04}

	aligner := NewUVDAligner(NewConfig(), logger)
	test.That(t, aligner.Initialize(wm, frame, guess), test.ShouldBeNil)
	aligner.Converge()

	test.That(t, aligner.HasConverged(), test.ShouldBeTrue)
	recovered := frame.RobotToWorld()
	test.That(t, recovered.Translation.X, test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, recovered.Translation.Y, test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, recovered.Translation.Z, test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, recovered.RotationAngle(), test.ShouldAlmostEqual, 0, 1e-3)
}

func TestRotationStaysOrthonormal(t *testing.T) {
	logger := golog.NewTestLogger(t)
	wm, frame := buildScene(t, spatial.NewTransform())

	guess := spatial.NewTransform()
	guess.Translation = r3.Vector{X: 0.05, Y: 0.05, Z: -0.05}
	aligner := NewUVDAligner(NewConfig(), logger)
	test.That(t, aligner.Initialize(wm, frame, guess), test.ShouldBeNil)

	for i := 0; i < 30; i++ {
		aligner.OneRound(false)
		test.That(t, orthonormalityDrift(aligner.WorldToCamera()), test.ShouldBeLessThan, 1e-9)
	}
}

func TestDepthGatesSkipPoints(t *testing.T) {
	logger := golog.NewTestLogger(t)
	wm := worldmap.NewWorldMap(logger)
	cam := testCamera(t)

	previous := wm.CreateFrame(cam, spatial.NewTransform())
	frame := wm.CreateFrame(cam, spatial.NewTransform())

	// behind the camera and beyond the far limit: both skipped
	for _, worldPoint := range []r3.Vector{{X: 0, Y: 0, Z: -1}, {X: 0, Y: 0, Z: 50}} {
		previousIndex := previous.AddPoint(&worldmap.FramePoint{World: worldPoint})
		point := &worldmap.FramePoint{Image: r3.Vector{X: 320, Y: 240, Z: worldPoint.Z}, Camera: worldPoint, World: worldPoint}
		point.SetPrevious(previous.ID(), previousIndex)
		frame.AddPoint(point)
	}

	aligner := NewUVDAligner(NewConfig(), logger)
	test.That(t, aligner.Initialize(wm, frame, spatial.NewTransform()), test.ShouldBeNil)
	aligner.Linearize(false)
	test.That(t, aligner.NumberOfInliers(), test.ShouldEqual, 0)
	test.That(t, aligner.NumberOfOutliers(), test.ShouldEqual, 0)
	for _, chi := range aligner.PointErrors() {
		test.That(t, chi, test.ShouldEqual, -1)
	}
}

func TestXYZAlignerRecoversTransform(t *testing.T) {
	logger := golog.NewTestLogger(t)

	theta := 0.08
	truth := spatial.NewTransformFromRotationTranslation(mat.NewDense(3, 3, []float64{
		math.Cos(theta), -math.Sin(theta), 0,
		math.Sin(theta), math.Cos(theta), 0,
		0, 0, 1,
	}), r3.Vector{X: 0.2, Y: -0.1, Z: 0.15})

	var pairs []PointPair
	for _, p := range sceneWorldPoints() {
		pairs = append(pairs, PointPair{Query: p, Reference: truth.Apply(p)})
	}

	aligner := NewXYZAligner(NewConfig(), logger)
	test.That(t, aligner.Initialize(pairs, spatial.NewTransform()), test.ShouldBeNil)
	aligner.Converge()

	test.That(t, aligner.HasConverged(), test.ShouldBeTrue)
	solved := aligner.QueryToReference()
	for _, p := range sceneWorldPoints()[:4] {
		want := truth.Apply(p)
		got := solved.Apply(p)
		test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-3)
		test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-3)
		test.That(t, got.Z, test.ShouldAlmostEqual, want.Z, 1e-3)
	}
	test.That(t, orthonormalityDrift(solved), test.ShouldBeLessThan, 1e-9)
}

func TestXYZAlignerRejectsEmptyInput(t *testing.T) {
	aligner := NewXYZAligner(NewConfig(), golog.NewTestLogger(t))
	test.That(t, aligner.Initialize(nil, spatial.NewTransform()), test.ShouldNotBeNil)
}

func TestXYZAlignerDownWeightsOutliers(t *testing.T) {
	logger := golog.NewTestLogger(t)
	truth := spatial.NewTransform()
	truth.Translation = r3.Vector{X: 0.3}

	var pairs []PointPair
	for _, p := range sceneWorldPoints() {
		pairs = append(pairs, PointPair{Query: p, Reference: truth.Apply(p)})
	}
	// corrupt two correspondences far beyond the kernel
	pairs[0].Reference = pairs[0].Reference.Add(r3.Vector{X: 8})
	pairs[1].Reference = pairs[1].Reference.Add(r3.Vector{Y: -7})

	config := NewConfig()
	config.MaximumErrorKernel = 0.5
	aligner := NewXYZAligner(config, logger)
	test.That(t, aligner.Initialize(pairs, spatial.NewTransform()), test.ShouldBeNil)
	aligner.Converge()

	test.That(t, aligner.HasConverged(), test.ShouldBeTrue)
	test.That(t, aligner.NumberOfOutliers(), test.ShouldEqual, 2)
	solved := aligner.QueryToReference()
	test.That(t, solved.Translation.X, test.ShouldAlmostEqual, 0.3, 1e-2)
	test.That(t, solved.Translation.Y, test.ShouldAlmostEqual, 0, 1e-2)
}
