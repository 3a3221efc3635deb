// Package placedb implements the incremental appearance-descriptor index
// consumed by the relocalization engine. Entries are grouped per added local
// map, so a query returns one match list per previously indexed place.
package placedb

import (
	"github.com/edaniels/golog"

	"github.com/terraspect/vslam/utils"
	"github.com/terraspect/vslam/worldmap"
)

// Match is one descriptor match between a query appearance and an indexed
// reference appearance.
type Match struct {
	Query     *worldmap.Appearance
	Reference *worldmap.Appearance
	Distance  float64
}

// Merge reports that an added appearance was absorbed by a near-duplicate
// already in the index. The owner is the landmark the absorbed appearance
// belongs to; its bookkeeping must be rewired to the surviving appearance.
type Merge struct {
	Absorbed  *worldmap.Appearance
	Surviving *worldmap.Appearance
	Owner     worldmap.LandmarkID
}

// Linear is a brute-force Hamming index over appearance descriptors. It keeps
// the per-place grouping and merge reporting of an approximate tree index
// while staying exact; the relocalization engine depends only on the
// Add/MatchAndAdd/Merges surface.
type Linear struct {
	logger        golog.Logger
	places        [][]*worldmap.Appearance
	mergeDistance float64
	pendingMerges []Merge
}

// NewLinear returns an empty index. Appearances added at or below
// mergeDistance of an indexed appearance are absorbed instead of indexed;
// a negative mergeDistance disables merging.
func NewLinear(mergeDistance float64, logger golog.Logger) *Linear {
	return &Linear{logger: logger, mergeDistance: mergeDistance}
}

// Size returns the number of indexed local maps.
func (db *Linear) Size() int { return len(db.places) }

// Add indexes the appearances of one local map without querying.
func (db *Linear) Add(appearances []*worldmap.Appearance) {
	kept := make([]*worldmap.Appearance, 0, len(appearances))
	for _, appearance := range appearances {
		if surviving := db.findMergeTarget(appearance); surviving != nil {
			db.pendingMerges = append(db.pendingMerges, Merge{
				Absorbed:  appearance,
				Surviving: surviving,
				Owner:     appearance.Landmark,
			})
			continue
		}
		kept = append(kept, appearance)
	}
	db.places = append(db.places, kept)
}

// MatchAndAdd queries the index with the appearances of one local map and
// simultaneously indexes them. The result maps the insertion index of every
// previously added local map to the query's nearest-neighbor matches against
// it, one per query appearance, at or below maxDistance.
func (db *Linear) MatchAndAdd(appearances []*worldmap.Appearance, maxDistance float64) map[int][]Match {
	matchesPerPlace := make(map[int][]Match, len(db.places))
	if len(appearances) > 0 {
		queryDescriptors := descriptorRows(appearances)
		for placeIndex, indexed := range db.places {
			if len(indexed) == 0 {
				continue
			}
			distances, err := utils.PairwiseHammingDistances(queryDescriptors, descriptorRows(indexed))
			if err != nil {
				db.logger.Errorw("skipping reference place with incompatible descriptors", "place", placeIndex, "error", err)
				continue
			}
			nearest := utils.GetArgMinDistancesPerRow(distances)
			var matches []Match
			for queryIndex, referenceIndex := range nearest {
				distance := distances.At(queryIndex, referenceIndex)
				if distance > maxDistance {
					continue
				}
				matches = append(matches, Match{
					Query:     appearances[queryIndex],
					Reference: indexed[referenceIndex],
					Distance:  distance,
				})
			}
			if len(matches) > 0 {
				matchesPerPlace[placeIndex] = matches
			}
		}
	}
	db.Add(appearances)
	return matchesPerPlace
}

// Merges drains the merge events accumulated since the last call.
func (db *Linear) Merges() []Merge {
	merges := db.pendingMerges
	db.pendingMerges = nil
	return merges
}

func (db *Linear) findMergeTarget(appearance *worldmap.Appearance) *worldmap.Appearance {
	if db.mergeDistance < 0 {
		return nil
	}
	for _, indexed := range db.places {
		for _, candidate := range indexed {
			d, err := utils.HammingDistance(candidate.Descriptor, appearance.Descriptor)
			if err != nil {
				continue
			}
			if d <= db.mergeDistance {
				return candidate
			}
		}
	}
	return nil
}

func descriptorRows(appearances []*worldmap.Appearance) [][]float64 {
	rows := make([][]float64, len(appearances))
	for i, appearance := range appearances {
		rows[i] = appearance.Descriptor
	}
	return rows
}
