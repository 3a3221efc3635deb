package worldmap

// LocalMapID identifies a LocalMap within its WorldMap.
type LocalMapID uint64

// LocalMap aggregates consecutive frames into one "place" for loop-closure
// purposes. Once the next local map starts it is immutable except for the
// appearance bookkeeping driven by place-database merge events.
type LocalMap struct {
	id          LocalMapID
	frames      []FrameID
	appearances []*Appearance
}

// ID returns the local map identifier.
func (lm *LocalMap) ID() LocalMapID { return lm.id }

// Frames returns the identifiers of the constituent frames.
func (lm *LocalMap) Frames() []FrameID { return lm.frames }

// Appearances returns the landmark appearance descriptors visible from this
// local map; this is the query/index payload for place recognition.
func (lm *LocalMap) Appearances() []*Appearance { return lm.appearances }

// ReplaceAppearance swaps an absorbed appearance for the surviving one after a
// place-database merge.
func (lm *LocalMap) ReplaceAppearance(absorbed, surviving *Appearance) {
	for i, appearance := range lm.appearances {
		if appearance == absorbed {
			lm.appearances[i] = surviving
			return
		}
	}
}
