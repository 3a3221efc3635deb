package worldmap

import (
	"github.com/golang/geo/r3"
)

// LandmarkID identifies a Landmark within its WorldMap.
type LandmarkID uint64

// Descriptor is one binary appearance descriptor, stored as a vector of
// zeros and ones compared under Hamming distance.
type Descriptor []float64

// Appearance binds one descriptor to the landmark it was observed on. The
// place database indexes appearances and may absorb near-duplicates, so the
// same *Appearance is shared between the landmark and its local maps.
type Appearance struct {
	Landmark   LandmarkID
	Descriptor Descriptor
}

// Landmark is a persistent 3D map point with its appearance history.
type Landmark struct {
	id                   LandmarkID
	coordinates          r3.Vector
	coordinatesValidated bool
	observations         int
	appearances          []*Appearance
}

// observations needed before the coordinate estimate counts as validated.
const minObservationsForValidation = 2

// ID returns the landmark identifier.
func (l *Landmark) ID() LandmarkID { return l.id }

// Coordinates returns the world coordinates of the landmark.
func (l *Landmark) Coordinates() r3.Vector { return l.coordinates }

// AreCoordinatesValidated reports whether enough observations have been fused
// for the coordinate estimate to be trusted by the alignment engine.
func (l *Landmark) AreCoordinatesValidated() bool { return l.coordinatesValidated }

// UpdateCoordinates fuses a new coordinate observation. Validation flips once
// the observation count crosses the confidence threshold and never reverts.
func (l *Landmark) UpdateCoordinates(coordinates r3.Vector) {
	l.coordinates = coordinates
	l.observations++
	if l.observations >= minObservationsForValidation {
		l.coordinatesValidated = true
	}
}

// AddAppearance records a new appearance descriptor for this landmark and
// returns the shared appearance entry.
func (l *Landmark) AddAppearance(descriptor Descriptor) *Appearance {
	appearance := &Appearance{Landmark: l.id, Descriptor: descriptor}
	l.appearances = append(l.appearances, appearance)
	return appearance
}

// Appearances returns the appearance descriptors recorded for this landmark.
func (l *Landmark) Appearances() []*Appearance { return l.appearances }

// ReplaceAppearance swaps an absorbed appearance for the surviving one after a
// place-database merge, keeping the landmark's bookkeeping consistent with the
// database's internal state.
func (l *Landmark) ReplaceAppearance(absorbed, surviving *Appearance) {
	for i, appearance := range l.appearances {
		if appearance == absorbed {
			l.appearances[i] = surviving
			return
		}
	}
}
