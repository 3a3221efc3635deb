// Package camera models the pinhole camera consumed read-only by the
// alignment engine: intrinsics, image bounds and the robot/camera extrinsics.
package camera

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/terraspect/vslam/spatial"
)

// ErrNoIntrinsics is returned when intrinsic parameters are missing or degenerate.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeIntrinsics holds the parameters of a perspective projection from the
// camera frame onto the image plane.
type PinholeIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeIntrinsics have valid inputs.
func (params *PinholeIntrinsics) CheckValid() error {
	if params == nil {
		return errors.Wrap(ErrNoIntrinsics, "intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid image size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 || params.Fy <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal lengths (%v, %v)", params.Fx, params.Fy)
	}
	return nil
}

// CameraMatrix creates a new camera matrix from the intrinsics and returns it.
func (params *PinholeIntrinsics) CameraMatrix() *mat.Dense {
	k := mat.NewDense(3, 3, nil)
	k.Set(0, 0, params.Fx)
	k.Set(0, 2, params.Ppx)
	k.Set(1, 1, params.Fy)
	k.Set(1, 2, params.Ppy)
	k.Set(2, 2, 1)
	return k
}

// Project does a perspective projection of a camera-frame 3D point to image
// coordinates with the depth restored in the third component.
func (params *PinholeIntrinsics) Project(point r3.Vector) r3.Vector {
	return r3.Vector{
		X: (params.Fx*point.X + params.Ppx*point.Z) / point.Z,
		Y: (params.Fy*point.Y + params.Ppy*point.Z) / point.Z,
		Z: point.Z,
	}
}

// LoadIntrinsics loads PinholeIntrinsics from a json file.
func LoadIntrinsics(file string) (*PinholeIntrinsics, error) {
	var params PinholeIntrinsics
	filePath := filepath.Clean(file)
	configFile, err := os.Open(filePath) //nolint:gosec
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err != nil {
		return nil, err
	}
	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(&params); err != nil {
		return nil, err
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return &params, nil
}

// Model is the full camera model attached to each frame: intrinsics plus the
// rigid transform between the robot base and the camera.
type Model struct {
	Intrinsics    *PinholeIntrinsics
	CameraToRobot spatial.Transform
	RobotToCamera spatial.Transform
}

// NewModel returns a camera model with the given intrinsics and camera-to-robot
// extrinsic; the inverse extrinsic is precomputed.
func NewModel(intrinsics *PinholeIntrinsics, cameraToRobot spatial.Transform) (*Model, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return &Model{
		Intrinsics:    intrinsics,
		CameraToRobot: cameraToRobot,
		RobotToCamera: cameraToRobot.Inverse(),
	}, nil
}

// InFieldOfView reports whether the pixel coordinates fall within the image bounds.
func (m *Model) InFieldOfView(pixel r2.Point) bool {
	return pixel.X >= 0 && pixel.X <= float64(m.Intrinsics.Width) &&
		pixel.Y >= 0 && pixel.Y <= float64(m.Intrinsics.Height)
}
