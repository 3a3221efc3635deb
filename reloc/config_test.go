package reloc

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestNewConfigIsValid(t *testing.T) {
	test.That(t, NewConfig().Validate("default"), test.ShouldBeNil)
}

func TestValidateCatchesBadValues(t *testing.T) {
	config := NewConfig()
	config.MinimumInterspace = 0
	config.MinimumMatchingRatio = 2
	err := config.Validate("test")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "min_interspace_queries")
	test.That(t, err.Error(), test.ShouldContainSubstring, "min_matching_ratio")
}

func TestLoadConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reloc.json")
	contents := `{
		"min_interspace_queries": 3,
		"min_matching_ratio": 0.2,
		"min_matched_landmarks": 10,
		"min_votes_per_correspondence": 1,
		"max_descriptor_distance": 30
	}`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	config, err := LoadConfiguration(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, config.MinimumInterspace, test.ShouldEqual, 3)
	test.That(t, config.MinimumMatchedLandmarks, test.ShouldEqual, 10)
	// aligner section omitted: defaults are filled in
	test.That(t, config.Aligner, test.ShouldNotBeNil)
	test.That(t, config.Aligner.Validate(path), test.ShouldBeNil)
}
