// Command vslam runs the estimation core over a synthetic corridor sequence:
// per-frame pose alignment against the local map, place recognition over the
// finalized local maps, and geometric verification of the detected closures.
package main

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/terraspect/vslam/align"
	"github.com/terraspect/vslam/camera"
	"github.com/terraspect/vslam/placedb"
	"github.com/terraspect/vslam/reloc"
	"github.com/terraspect/vslam/spatial"
	"github.com/terraspect/vslam/worldmap"
)

var logger = golog.NewLogger("vslam")

const (
	frameStep    = 0.2
	framesPerRun = 16
	// the second pass over the corridor carries this much accumulated drift
	driftY = 0.3
)

type observation struct {
	frame worldmap.FrameID
	index int
}

func main() {
	cam, err := camera.NewModel(&camera.PinholeIntrinsics{
		Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240,
	}, spatial.NewTransform())
	if err != nil {
		logger.Fatal(err)
	}

	worldMap := worldmap.NewWorldMap(logger)
	relocConfig := reloc.NewConfig()
	relocConfig.MinimumInterspace = 4
	relocConfig.MinimumMatchingRatio = 0.3
	relocConfig.MinimumMatchedLandmarks = 3
	relocConfig.MaximumDescriptorDistance = 1

	database := placedb.NewLinear(-1, logger)
	relocalizer := reloc.NewRelocalizer(relocConfig, database, worldMap, logger)
	aligner := align.NewUVDAligner(align.NewConfig(), logger)

	// the first pass lays down the landmarks; the second revisits the same
	// corridor with drifted pose estimates and freshly triangulated duplicates
	runCorridor(worldMap, cam, aligner, relocalizer, 0)
	runCorridor(worldMap, cam, aligner, relocalizer, driftY)

	relocalizer.RegisterClosures()
	for _, closure := range relocalizer.Closures() {
		if !closure.Verified {
			logger.Warnw("closure rejected",
				"query", closure.Query.ID(), "reference", closure.Reference.ID())
			continue
		}
		worldMap.CloseLocalMaps(closure.Query, closure.Reference, closure.QueryToReference)
		logger.Infow("closure verified",
			"query", closure.Query.ID(),
			"reference", closure.Reference.ID(),
			"correspondences", len(closure.Correspondences),
			"recovered_drift_y", closure.QueryToReference.Translation.Y,
		)
	}
	relocalizer.Clear()

	logger.Infow("sequence complete",
		"local_maps", len(worldMap.LocalMaps()),
		"relocalized", worldMap.Relocalized(),
	)
}

// landmarkSlots returns the corridor wall points visible from x, keyed by the
// slot offsets they occupy along the corridor.
func landmarkSlots(x float64) []r3.Vector {
	return []r3.Vector{
		{X: x - 0.5, Y: -0.4, Z: 2.5},
		{X: x, Y: 0.3, Z: 3},
		{X: x + 0.5, Y: -0.2, Z: 3.5},
		{X: x + 1, Y: 0.4, Z: 2},
	}
}

// signature returns the appearance descriptor of a corridor slot; revisits of
// the same slot produce the same descriptor.
func signature(slot int) worldmap.Descriptor {
	descriptor := make(worldmap.Descriptor, 64)
	descriptor[(2*slot)%64] = 1
	descriptor[(2*slot+1)%64] = 1
	return descriptor
}

func runCorridor(
	worldMap *worldmap.WorldMap,
	cam *camera.Model,
	aligner *align.UVDAligner,
	relocalizer *reloc.Relocalizer,
	drift float64,
) {
	lastObserved := map[int]observation{}
	landmarksBySlot := map[int]*worldmap.Landmark{}

	for step := 0; step < framesPerRun; step++ {
		truePose := spatial.NewTransform()
		truePose.Translation = r3.Vector{X: float64(step) * frameStep, Y: drift}
		frame := worldMap.CreateFrame(cam, truePose)
		worldToCamera := truePose.Compose(cam.CameraToRobot).Inverse()

		for offset, position := range landmarkSlots(truePose.Translation.X) {
			slot := step + offset
			landmark, known := landmarksBySlot[slot]
			if !known {
				coordinates := position.Add(r3.Vector{Y: drift})
				landmark = worldMap.CreateLandmark(coordinates)
				landmark.UpdateCoordinates(coordinates)
				landmark.UpdateCoordinates(coordinates)
				landmark.AddAppearance(signature(slot))
				landmarksBySlot[slot] = landmark
			}

			inCamera := worldToCamera.Apply(landmark.Coordinates())
			if inCamera.Z <= 0.5 {
				continue
			}
			point := &worldmap.FramePoint{
				Image:  cam.Intrinsics.Project(inCamera),
				Camera: inCamera,
				World:  landmark.Coordinates(),
			}
			point.SetLandmark(landmark.ID())
			if previous, seen := lastObserved[slot]; seen {
				point.SetPrevious(previous.frame, previous.index)
			}
			lastObserved[slot] = observation{frame.ID(), frame.AddPoint(point)}
		}

		if len(frame.ActivePoints()) > 0 {
			guess := spatial.NewTransform()
			guess.Translation = truePose.Translation.Add(r3.Vector{X: 0.02, Y: -0.01})
			if err := aligner.Initialize(worldMap, frame, guess); err != nil {
				logger.Warnw("skipping frame alignment", "frame", frame.ID(), "error", err)
			} else {
				aligner.Converge()
				worldMap.SetRobotToWorldPrevious(frame.RobotToWorld())
			}
		}

		if localMap, created := worldMap.CreateLocalMapIfNeeded(); created {
			relocalizer.DetectClosures(localMap)
		}
	}
}
