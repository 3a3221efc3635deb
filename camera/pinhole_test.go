package camera

import (
	"errors"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/terraspect/vslam/spatial"
)

var testIntrinsics = &PinholeIntrinsics{
	Width:  640,
	Height: 480,
	Fx:     500,
	Fy:     500,
	Ppx:    320,
	Ppy:    240,
}

func TestCheckValid(t *testing.T) {
	test.That(t, testIntrinsics.CheckValid(), test.ShouldBeNil)

	bad := &PinholeIntrinsics{Width: 640, Height: 480}
	err := bad.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	var nilParams *PinholeIntrinsics
	test.That(t, nilParams.CheckValid(), test.ShouldNotBeNil)
}

func TestProject(t *testing.T) {
	// a point on the optical axis projects to the principal point
	uvd := testIntrinsics.Project(r3.Vector{X: 0, Y: 0, Z: 2})
	test.That(t, uvd.X, test.ShouldAlmostEqual, 320)
	test.That(t, uvd.Y, test.ShouldAlmostEqual, 240)
	test.That(t, uvd.Z, test.ShouldAlmostEqual, 2)

	// projection agrees with K*p followed by perspective division
	p := r3.Vector{X: 0.4, Y: -0.2, Z: 2.5}
	k := testIntrinsics.CameraMatrix()
	uvd = testIntrinsics.Project(p)
	test.That(t, uvd.X, test.ShouldAlmostEqual, (k.At(0, 0)*p.X+k.At(0, 2)*p.Z)/p.Z)
	test.That(t, uvd.Y, test.ShouldAlmostEqual, (k.At(1, 1)*p.Y+k.At(1, 2)*p.Z)/p.Z)
}

func TestInFieldOfView(t *testing.T) {
	model, err := NewModel(testIntrinsics, spatial.NewTransform())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, model.InFieldOfView(r2.Point{X: 320, Y: 240}), test.ShouldBeTrue)
	// bounds are inclusive
	test.That(t, model.InFieldOfView(r2.Point{X: 0, Y: 0}), test.ShouldBeTrue)
	test.That(t, model.InFieldOfView(r2.Point{X: 640, Y: 480}), test.ShouldBeTrue)
	test.That(t, model.InFieldOfView(r2.Point{X: -1, Y: 240}), test.ShouldBeFalse)
	test.That(t, model.InFieldOfView(r2.Point{X: 320, Y: 480.5}), test.ShouldBeFalse)
}
