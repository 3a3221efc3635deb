package reloc

import (
	"sort"

	"github.com/edaniels/golog"

	"github.com/terraspect/vslam/align"
	"github.com/terraspect/vslam/placedb"
	"github.com/terraspect/vslam/spatial"
	"github.com/terraspect/vslam/worldmap"
)

// PlaceDatabase is the appearance index consumed by the relocalizer. It is
// satisfied by *placedb.Linear; internals beyond this surface are opaque.
type PlaceDatabase interface {
	Size() int
	Add(appearances []*worldmap.Appearance)
	MatchAndAdd(appearances []*worldmap.Appearance, maxDistance float64) map[int][]placedb.Match
	Merges() []placedb.Merge
}

// MapResolver resolves landmark identifiers to their entities. It is
// satisfied by *worldmap.WorldMap.
type MapResolver interface {
	Landmark(worldmap.LandmarkID) (*worldmap.Landmark, bool)
}

// Relocalizer detects and verifies loop closures over the monotonically
// growing sequence of local maps. It owns its pending closures and the
// per-cycle used-reference mask exclusively between DetectClosures/
// RegisterClosures and the matching Clear; the pipeline is single threaded.
type Relocalizer struct {
	config   *Config
	logger   golog.Logger
	database PlaceDatabase
	worldMap MapResolver
	aligner  *align.XYZAligner

	addedLocalMaps []*worldmap.LocalMap
	closures       []*Closure
	usedReferences map[worldmap.LandmarkID]bool
}

// NewRelocalizer returns a relocalizer over the given place database and map.
func NewRelocalizer(config *Config, database PlaceDatabase, worldMap MapResolver, logger golog.Logger) *Relocalizer {
	logger.Info("relocalizer constructed")
	return &Relocalizer{
		config:         config,
		logger:         logger,
		database:       database,
		worldMap:       worldMap,
		aligner:        align.NewXYZAligner(config.Aligner, logger),
		usedReferences: map[worldmap.LandmarkID]bool{},
	}
}

// DetectClosures ingests a newly finalized local map. During warm-up the map
// is only indexed; once enough places are known, its descriptors are matched
// against all references outside the interspace window and one closure
// hypothesis is buffered per reference that survives the evidence gates.
func (r *Relocalizer) DetectClosures(query *worldmap.LocalMap) {
	if query == nil {
		return
	}
	r.addedLocalMaps = append(r.addedLocalMaps, query)

	if r.database.Size() < r.config.MinimumInterspace {
		r.database.Add(query.Appearances())
	} else {
		r.matchAgainstReferences(query)
	}

	r.applyMerges(query)
}

func (r *Relocalizer) matchAgainstReferences(query *worldmap.LocalMap) {
	matchesPerReference := r.database.MatchAndAdd(query.Appearances(), r.config.MaximumDescriptorDistance)
	numQueryAppearances := len(query.Appearances())
	if numQueryAppearances == 0 {
		return
	}

	// the most recent interspace places (the query included) are never
	// eligible references
	maximumReferenceIndex := r.database.Size() - r.config.MinimumInterspace
	for referenceIndex := 0; referenceIndex < maximumReferenceIndex; referenceIndex++ {
		matches := matchesPerReference[referenceIndex]
		matchingRatio := float64(len(matches)) / float64(numQueryAppearances)
		if matchingRatio < r.config.MinimumMatchingRatio {
			continue
		}
		reference := r.addedLocalMaps[referenceIndex]
		r.logger.Debugw("evaluating reference local map",
			"reference", reference.ID(),
			"matches", len(matches),
			"query_appearances", numQueryAppearances,
			"ratio", matchingRatio,
		)

		candidatesPerLandmark := map[worldmap.LandmarkID][]Candidate{}
		for _, match := range matches {
			queryLandmark := match.Query.Landmark
			candidatesPerLandmark[queryLandmark] = append(candidatesPerLandmark[queryLandmark], Candidate{
				Query:     queryLandmark,
				Reference: match.Reference.Landmark,
				Distance:  match.Distance,
			})
		}
		if len(candidatesPerLandmark) < r.config.MinimumMatchedLandmarks {
			continue
		}

		// resolve candidates in ascending query-landmark order; resolution
		// claims references first come first served, so the order matters
		queryLandmarks := make([]worldmap.LandmarkID, 0, len(candidatesPerLandmark))
		for landmarkID := range candidatesPerLandmark {
			queryLandmarks = append(queryLandmarks, landmarkID)
		}
		sort.Slice(queryLandmarks, func(i, j int) bool { return queryLandmarks[i] < queryLandmarks[j] })

		for landmarkID := range r.usedReferences {
			delete(r.usedReferences, landmarkID)
		}
		var correspondences []Correspondence
		for _, landmarkID := range queryLandmarks {
			if correspondence, ok := r.resolveCorrespondenceNN(candidatesPerLandmark[landmarkID]); ok {
				correspondences = append(correspondences, correspondence)
			}
		}

		r.closures = append(r.closures, &Closure{
			Query:            query,
			Reference:        reference,
			MatchedLandmarks: len(candidatesPerLandmark),
			MatchingRatio:    matchingRatio,
			Correspondences:  correspondences,
		})
	}
}

// resolveCorrespondenceNN reduces one query landmark's candidate list to at
// most one correspondence by counting votes per reference landmark. A
// reference already claimed in this cycle cannot be claimed again, and the
// winning count must strictly exceed the vote threshold.
func (r *Relocalizer) resolveCorrespondenceNN(candidates []Candidate) (Correspondence, bool) {
	votes := map[worldmap.LandmarkID]int{}
	var best *Candidate
	bestVotes := 0
	for index := range candidates {
		candidate := &candidates[index]
		if r.usedReferences[candidate.Reference] {
			continue
		}
		votes[candidate.Reference]++
		if votes[candidate.Reference] > bestVotes {
			bestVotes = votes[candidate.Reference]
			best = candidate
		}
	}
	if best == nil || bestVotes <= r.config.MinimumVotes {
		return Correspondence{}, false
	}
	r.usedReferences[best.Reference] = true
	return Correspondence{
		Query:      best.Query,
		Reference:  best.Reference,
		Votes:      bestVotes,
		Confidence: float64(bestVotes) / float64(len(candidates)),
	}, true
}

// applyMerges drains the place database's descriptor merge events and rewires
// the affected local map and landmark bookkeeping to the surviving
// appearances.
func (r *Relocalizer) applyMerges(query *worldmap.LocalMap) {
	merges := r.database.Merges()
	if len(merges) == 0 {
		return
	}
	for _, merge := range merges {
		query.ReplaceAppearance(merge.Absorbed, merge.Surviving)
		if landmark, ok := r.worldMap.Landmark(merge.Owner); ok {
			landmark.ReplaceAppearance(merge.Absorbed, merge.Surviving)
		}
	}
	r.logger.Debugw("merged appearances", "count", len(merges))
}

// RegisterClosures geometrically verifies every pending closure by solving
// the query-to-reference transform over its landmark correspondences with the
// point-to-point aligner. Results are stored on the closures; acceptance is
// the caller's decision.
func (r *Relocalizer) RegisterClosures() {
	for _, closure := range r.closures {
		pairs := make([]align.PointPair, 0, len(closure.Correspondences))
		for _, correspondence := range closure.Correspondences {
			queryLandmark, okQuery := r.worldMap.Landmark(correspondence.Query)
			referenceLandmark, okReference := r.worldMap.Landmark(correspondence.Reference)
			if !okQuery || !okReference {
				continue
			}
			pairs = append(pairs, align.PointPair{
				Query:     queryLandmark.Coordinates(),
				Reference: referenceLandmark.Coordinates(),
			})
		}
		if err := r.aligner.Initialize(pairs, spatial.NewTransform()); err != nil {
			r.logger.Warnw("skipping closure verification",
				"query", closure.Query.ID(),
				"reference", closure.Reference.ID(),
				"error", err,
			)
			continue
		}
		r.aligner.Converge()

		closure.QueryToReference = r.aligner.QueryToReference()
		closure.Information = r.aligner.InformationMatrix()
		closure.Verified = r.aligner.HasConverged()
	}
}

// Closures returns the pending closures of the current detection cycle.
func (r *Relocalizer) Closures() []*Closure { return r.closures }

// Clear releases all pending closures and resets the per-cycle
// correspondence mask. It must be called once the closures have been consumed.
func (r *Relocalizer) Clear() {
	r.closures = nil
	r.usedReferences = map[worldmap.LandmarkID]bool{}
}
