package reloc

import (
	"gonum.org/v1/gonum/mat"

	"github.com/terraspect/vslam/spatial"
	"github.com/terraspect/vslam/worldmap"
)

// Candidate is one raw descriptor match grouped under its query landmark:
// a (query landmark, reference landmark, descriptor distance) tuple produced
// while organizing a reference local map's matches.
type Candidate struct {
	Query     worldmap.LandmarkID
	Reference worldmap.LandmarkID
	Distance  float64
}

// Correspondence is a disambiguated landmark-to-landmark match. Votes is the
// number of candidates agreeing on the reference landmark; Confidence is that
// count over the size of the query landmark's candidate list.
type Correspondence struct {
	Query      worldmap.LandmarkID
	Reference  worldmap.LandmarkID
	Votes      int
	Confidence float64
}

// Closure is a loop-closure hypothesis between a query and a reference local
// map, pending geometric verification. The relocalization engine owns its
// closures until Clear releases them.
type Closure struct {
	Query     *worldmap.LocalMap
	Reference *worldmap.LocalMap

	// MatchedLandmarks is the number of distinct query landmarks with any
	// candidate against the reference; MatchingRatio is the matched fraction
	// of the query's descriptors.
	MatchedLandmarks int
	MatchingRatio    float64

	Correspondences []Correspondence

	// Geometric verification output, populated by RegisterClosures.
	QueryToReference spatial.Transform
	Information      *mat.Dense
	Verified         bool
}
