// Package worldmap holds the shared SLAM data model: frames, frame points,
// landmarks, local maps and the world map arena that owns them all.
// Cross references between entities are stable identifiers into the arena,
// never owning pointers.
package worldmap

import (
	"github.com/golang/geo/r3"

	"github.com/terraspect/vslam/camera"
	"github.com/terraspect/vslam/spatial"
)

// FrameID identifies a Frame within its WorldMap.
type FrameID uint64

// FramePoint is one tracked observation within a frame: image coordinates
// (pixel x, pixel y, depth), camera-frame coordinates and the world
// coordinates the front-end triangulated at capture time.
type FramePoint struct {
	Image  r3.Vector
	Camera r3.Vector
	World  r3.Vector

	// Reprojection caches the last predicted image coordinates written by the
	// alignment engine, for visualization only.
	Reprojection r3.Vector

	prevFrame   FrameID
	prevIndex   int
	hasPrev     bool
	landmark    LandmarkID
	hasLandmark bool
}

// Previous returns the frame and point index of the corresponding observation
// in the previous frame, if any. Newly spawned points have none.
func (fp *FramePoint) Previous() (FrameID, int, bool) {
	return fp.prevFrame, fp.prevIndex, fp.hasPrev
}

// SetPrevious links this point to its observation in the previous frame.
func (fp *FramePoint) SetPrevious(frame FrameID, index int) {
	fp.prevFrame = frame
	fp.prevIndex = index
	fp.hasPrev = true
}

// Landmark returns the associated landmark, if any.
func (fp *FramePoint) Landmark() (LandmarkID, bool) {
	return fp.landmark, fp.hasLandmark
}

// SetLandmark associates this point with a landmark.
func (fp *FramePoint) SetLandmark(id LandmarkID) {
	fp.landmark = id
	fp.hasLandmark = true
}

// Frame is one robot-pose sample with its tracked points.
type Frame struct {
	id           FrameID
	camera       *camera.Model
	robotToWorld spatial.Transform
	worldToRobot spatial.Transform
	points       []*FramePoint
	active       []*FramePoint
}

// ID returns the frame identifier.
func (f *Frame) ID() FrameID { return f.id }

// Camera returns the camera model attached to this frame.
func (f *Frame) Camera() *camera.Model { return f.camera }

// RobotToWorld returns the current pose estimate of this frame.
func (f *Frame) RobotToWorld() spatial.Transform { return f.robotToWorld }

// WorldToRobot returns the inverse of the current pose estimate.
func (f *Frame) WorldToRobot() spatial.Transform { return f.worldToRobot }

// SetRobotToWorld updates the pose estimate and its cached inverse. The
// alignment engine calls this once per convergence.
func (f *Frame) SetRobotToWorld(pose spatial.Transform) {
	f.robotToWorld = pose
	f.worldToRobot = pose.Inverse()
}

// Points returns all points of this frame, newly spawned ones included.
func (f *Frame) Points() []*FramePoint { return f.points }

// ActivePoints returns the ordered subset of points carrying a previous-point
// link; only these are handed to the alignment engine.
func (f *Frame) ActivePoints() []*FramePoint { return f.active }

// AddPoint appends a point and returns its index within the frame. The
// previous-point link must be set before adding for the point to count as
// active.
func (f *Frame) AddPoint(point *FramePoint) int {
	f.points = append(f.points, point)
	if point.hasPrev {
		f.active = append(f.active, point)
	}
	return len(f.points) - 1
}
