package worldmap

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/terraspect/vslam/camera"
	"github.com/terraspect/vslam/spatial"
)

// Local-map generation thresholds: translational movement, rotational
// movement, and a minimum frame count for reasonable trajectory granularity.
const (
	minimumDistanceTraveledForLocalMap = 0.5 // meters
	minimumDegreesRotatedForLocalMap   = 0.5
	minimumNumberOfFramesForLocalMap   = 4
)

// WorldMap is the process-wide arena owning all frames, landmarks and local
// maps. All cross references elsewhere in the system are identifiers resolved
// through it. Not safe for concurrent use; the pipeline is single threaded.
type WorldMap struct {
	logger golog.Logger

	frames    map[FrameID]*Frame
	landmarks map[LandmarkID]*Landmark
	localMaps []*LocalMap

	nextFrameID    FrameID
	nextLandmarkID LandmarkID
	nextLocalMapID LocalMapID

	rootFrame     FrameID
	currentFrame  FrameID
	previousFrame FrameID

	lastGoodRobotPose spatial.Transform
	relocalized       bool

	// frame window buffer for local map generation
	frameQueue             []FrameID
	distanceTraveledWindow float64
	degreesRotatedWindow   float64
}

// NewWorldMap returns an empty world map.
func NewWorldMap(logger golog.Logger) *WorldMap {
	return &WorldMap{
		logger:            logger,
		frames:            map[FrameID]*Frame{},
		landmarks:         map[LandmarkID]*Landmark{},
		lastGoodRobotPose: spatial.NewTransform(),
	}
}

// CreateFrame appends a new frame with the given camera model and pose
// estimate, updating the root/current/previous frame tracking and the travel
// window used for local map generation.
func (wm *WorldMap) CreateFrame(cam *camera.Model, robotToWorld spatial.Transform) *Frame {
	wm.nextFrameID++
	frame := &Frame{id: wm.nextFrameID, camera: cam}
	frame.SetRobotToWorld(robotToWorld)
	wm.frames[frame.id] = frame

	if wm.rootFrame == 0 {
		wm.rootFrame = frame.id
	}
	if previous, ok := wm.frames[wm.currentFrame]; ok {
		wm.previousFrame = wm.currentFrame
		motion := previous.WorldToRobot().Compose(robotToWorld)
		wm.distanceTraveledWindow += motion.Translation.Norm()
		wm.degreesRotatedWindow += motion.RotationAngle() * 180 / math.Pi
	}
	wm.currentFrame = frame.id
	wm.frameQueue = append(wm.frameQueue, frame.id)
	return frame
}

// CreateLandmark allocates a new landmark at the given world coordinates.
func (wm *WorldMap) CreateLandmark(coordinates r3.Vector) *Landmark {
	wm.nextLandmarkID++
	landmark := &Landmark{id: wm.nextLandmarkID, coordinates: coordinates}
	wm.landmarks[landmark.id] = landmark
	return landmark
}

// CreateLocalMapIfNeeded finalizes the current frame window into a new local
// map once enough travel or rotation has accumulated over enough frames. It
// returns the new local map and true, or nil and false if the thresholds are
// not met yet.
func (wm *WorldMap) CreateLocalMapIfNeeded() (*LocalMap, bool) {
	if len(wm.frameQueue) < minimumNumberOfFramesForLocalMap {
		return nil, false
	}
	if wm.distanceTraveledWindow < minimumDistanceTraveledForLocalMap &&
		wm.degreesRotatedWindow < minimumDegreesRotatedForLocalMap {
		return nil, false
	}

	wm.nextLocalMapID++
	localMap := &LocalMap{
		id:          wm.nextLocalMapID,
		frames:      append([]FrameID{}, wm.frameQueue...),
		appearances: wm.collectWindowAppearances(),
	}
	wm.localMaps = append(wm.localMaps, localMap)
	wm.logger.Debugw("created local map",
		"id", localMap.id,
		"frames", len(localMap.frames),
		"appearances", len(localMap.appearances),
		"distance_traveled_m", wm.distanceTraveledWindow,
		"degrees_rotated", wm.degreesRotatedWindow,
	)
	wm.ResetWindow()
	return localMap, true
}

// collectWindowAppearances gathers the appearance descriptors of every
// landmark observed in the current frame window, each at most once.
func (wm *WorldMap) collectWindowAppearances() []*Appearance {
	var appearances []*Appearance
	seenLandmarks := map[LandmarkID]bool{}
	for _, frameID := range wm.frameQueue {
		frame := wm.frames[frameID]
		for _, point := range frame.Points() {
			landmarkID, ok := point.Landmark()
			if !ok || seenLandmarks[landmarkID] {
				continue
			}
			seenLandmarks[landmarkID] = true
			if landmark, ok := wm.landmarks[landmarkID]; ok {
				appearances = append(appearances, landmark.Appearances()...)
			}
		}
	}
	return appearances
}

// ResetWindow clears the frame window buffer for local map generation.
func (wm *WorldMap) ResetWindow() {
	wm.frameQueue = wm.frameQueue[:0]
	wm.distanceTraveledWindow = 0
	wm.degreesRotatedWindow = 0
}

// Frame resolves a frame identifier.
func (wm *WorldMap) Frame(id FrameID) (*Frame, bool) {
	frame, ok := wm.frames[id]
	return frame, ok
}

// Landmark resolves a landmark identifier.
func (wm *WorldMap) Landmark(id LandmarkID) (*Landmark, bool) {
	landmark, ok := wm.landmarks[id]
	return landmark, ok
}

// Point resolves a (frame, point index) reference.
func (wm *WorldMap) Point(frame FrameID, index int) (*FramePoint, bool) {
	f, ok := wm.frames[frame]
	if !ok || index < 0 || index >= len(f.points) {
		return nil, false
	}
	return f.points[index], true
}

// LocalMaps returns all local maps in creation order.
func (wm *WorldMap) LocalMaps() []*LocalMap { return wm.localMaps }

// RootFrame returns the first frame ever created, if any.
func (wm *WorldMap) RootFrame() (*Frame, bool) { return wm.Frame(wm.rootFrame) }

// CurrentFrame returns the most recently created frame, if any.
func (wm *WorldMap) CurrentFrame() (*Frame, bool) { return wm.Frame(wm.currentFrame) }

// PreviousFrame returns the frame before the current one, if any.
func (wm *WorldMap) PreviousFrame() (*Frame, bool) { return wm.Frame(wm.previousFrame) }

// CurrentLocalMap returns the most recently finalized local map, if any.
func (wm *WorldMap) CurrentLocalMap() (*LocalMap, bool) {
	if len(wm.localMaps) == 0 {
		return nil, false
	}
	return wm.localMaps[len(wm.localMaps)-1], true
}

// SetRobotToWorldPrevious records the last known good robot pose.
func (wm *WorldMap) SetRobotToWorldPrevious(pose spatial.Transform) {
	wm.lastGoodRobotPose = pose
}

// RobotToWorldPrevious returns the last known good robot pose.
func (wm *WorldMap) RobotToWorldPrevious() spatial.Transform {
	return wm.lastGoodRobotPose
}

// CloseLocalMaps records a verified loop closure between two local maps and
// marks the map as relocalized. The closure edge itself is consumed by the
// pose-graph optimizer downstream.
func (wm *WorldMap) CloseLocalMaps(query, reference *LocalMap, queryToReference spatial.Transform) {
	wm.relocalized = true
	wm.logger.Infow("closed local maps",
		"query", query.ID(),
		"reference", reference.ID(),
		"translation_m", queryToReference.Translation.Norm(),
	)
}

// Relocalized reports whether any loop closure has been accepted.
func (wm *WorldMap) Relocalized() bool { return wm.relocalized }

// Clear releases all owned entities and resets the world map to its initial
// empty state.
func (wm *WorldMap) Clear() {
	wm.frames = map[FrameID]*Frame{}
	wm.landmarks = map[LandmarkID]*Landmark{}
	wm.localMaps = nil
	wm.rootFrame = 0
	wm.currentFrame = 0
	wm.previousFrame = 0
	wm.relocalized = false
	wm.lastGoodRobotPose = spatial.NewTransform()
	wm.ResetWindow()
}
