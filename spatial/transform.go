// Package spatial implements the rigid-transform primitives shared by the
// alignment and relocalization engines.
package spatial

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is a rigid transform between two 3D frames, stored as a 3x3
// rotation matrix and a translation vector. The zero value is not usable;
// use NewTransform or one of the constructors.
type Transform struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewTransform returns the identity transform.
func NewTransform() Transform {
	return Transform{
		Rotation: mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		}),
	}
}

// NewTransformFromRotationTranslation returns a transform from a 3x3 rotation
// matrix and a translation vector. The rotation matrix is copied.
func NewTransformFromRotationTranslation(rotation *mat.Dense, translation r3.Vector) Transform {
	return Transform{
		Rotation:    mat.DenseCopyOf(rotation),
		Translation: translation,
	}
}

// Apply transforms a point: R*p + t.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	r := t.Rotation
	return r3.Vector{
		X: r.At(0, 0)*p.X + r.At(0, 1)*p.Y + r.At(0, 2)*p.Z + t.Translation.X,
		Y: r.At(1, 0)*p.X + r.At(1, 1)*p.Y + r.At(1, 2)*p.Z + t.Translation.Y,
		Z: r.At(2, 0)*p.X + r.At(2, 1)*p.Y + r.At(2, 2)*p.Z + t.Translation.Z,
	}
}

// Compose returns t*other, the transform applying other first and t second.
func (t Transform) Compose(other Transform) Transform {
	rotation := mat.NewDense(3, 3, nil)
	rotation.Mul(t.Rotation, other.Rotation)
	return Transform{
		Rotation:    rotation,
		Translation: t.Apply(other.Translation),
	}
}

// Inverse returns the inverse transform: (Rᵗ, -Rᵗt).
func (t Transform) Inverse() Transform {
	rotation := mat.NewDense(3, 3, nil)
	rotation.CloneFrom(t.Rotation.T())
	inv := Transform{Rotation: rotation}
	neg := inv.Apply(t.Translation)
	inv.Translation = r3.Vector{X: -neg.X, Y: -neg.Y, Z: -neg.Z}
	return inv
}

// RotationAngle returns the angle of the rotation component in radians.
func (t Transform) RotationAngle() float64 {
	trace := t.Rotation.At(0, 0) + t.Rotation.At(1, 1) + t.Rotation.At(2, 2)
	cos := (trace - 1) / 2
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos)
}

// Orthonormalized returns a copy of t with the rotation block pulled back onto
// the manifold via a first-order Gram-Schmidt correction,
// R - 0.5*R*(RᵗR - I), countering numerical drift after repeated retractions.
func (t Transform) Orthonormalized() Transform {
	var drift mat.Dense
	drift.Mul(t.Rotation.T(), t.Rotation)
	for i := 0; i < 3; i++ {
		drift.Set(i, i, drift.At(i, i)-1)
	}
	var correction mat.Dense
	correction.Mul(t.Rotation, &drift)
	rotation := mat.NewDense(3, 3, nil)
	rotation.CloneFrom(t.Rotation)
	correction.Scale(0.5, &correction)
	rotation.Sub(rotation, &correction)
	return Transform{Rotation: rotation, Translation: t.Translation}
}

// Skew returns the skew-symmetric cross-product matrix of p.
func Skew(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// Retract maps a minimal 6-vector increment (tx, ty, tz, qx, qy, qz) back onto
// the rigid-transform manifold. The rotation part holds the imaginary
// components of a unit quaternion; the real component is completed to unit
// norm, or the vector is renormalized if it already exceeds it.
func Retract(dx []float64) Transform {
	q := quat.Number{Imag: dx[3], Jmag: dx[4], Kmag: dx[5]}
	normSq := q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag
	if normSq >= 1 {
		scale := 1 / math.Sqrt(normSq)
		q.Imag *= scale
		q.Jmag *= scale
		q.Kmag *= scale
	} else {
		q.Real = math.Sqrt(1 - normSq)
	}
	return Transform{
		Rotation:    rotationMatrixFromQuaternion(q),
		Translation: r3.Vector{X: dx[0], Y: dx[1], Z: dx[2]},
	}
}

func rotationMatrixFromQuaternion(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}
