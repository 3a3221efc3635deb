// Package reloc implements the relocalization engine: it feeds local-map
// appearance descriptors into the place database, turns raw descriptor
// matches into vote-disambiguated landmark correspondences and verifies the
// resulting loop-closure hypotheses geometrically.
package reloc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/terraspect/vslam/align"
)

// Config contains the relocalization parameters.
type Config struct {
	// MinimumInterspace is the number of most recent local maps excluded from
	// matching; until that many places are indexed the engine only adds.
	MinimumInterspace int `json:"min_interspace_queries"`
	// MinimumMatchingRatio gates reference local maps by matched query
	// descriptor fraction.
	MinimumMatchingRatio float64 `json:"min_matching_ratio"`
	// MinimumMatchedLandmarks gates reference local maps by the number of
	// distinct query landmarks with any candidate.
	MinimumMatchedLandmarks int `json:"min_matched_landmarks"`
	// MinimumVotes is the vote count a correspondence must strictly exceed.
	MinimumVotes int `json:"min_votes_per_correspondence"`
	// MaximumDescriptorDistance is the matching gate handed to the place
	// database.
	MaximumDescriptorDistance float64 `json:"max_descriptor_distance"`
	// Aligner parameterizes the point-to-point verification solver.
	Aligner *align.Config `json:"aligner"`
}

// NewConfig returns a config with the default relocalization parameters.
func NewConfig() *Config {
	return &Config{
		MinimumInterspace:         5,
		MinimumMatchingRatio:      0.1,
		MinimumMatchedLandmarks:   5,
		MinimumVotes:              0,
		MaximumDescriptorDistance: 25,
		Aligner:                   align.NewConfig(),
	}
}

// LoadConfiguration loads a Config from a json file.
func LoadConfiguration(file string) (*Config, error) {
	var config Config
	filePath := filepath.Clean(file)
	configFile, err := os.Open(filePath) //nolint:gosec
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err != nil {
		return nil, err
	}
	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(&config); err != nil {
		return nil, err
	}
	if config.Aligner == nil {
		config.Aligner = align.NewConfig()
	}
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	var err error
	if config.MinimumInterspace < 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_interspace_queries should be >= 1")))
	}
	if config.MinimumMatchingRatio <= 0 || config.MinimumMatchingRatio > 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_matching_ratio should be in (0, 1]")))
	}
	if config.MinimumMatchedLandmarks < 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_matched_landmarks should be >= 1")))
	}
	if config.MinimumVotes < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("min_votes_per_correspondence should be >= 0")))
	}
	if config.MaximumDescriptorDistance < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_descriptor_distance should be >= 0")))
	}
	if config.Aligner == nil {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("aligner config is required")))
	} else if alignerErr := config.Aligner.Validate(path); alignerErr != nil {
		err = multierr.Append(err, alignerErr)
	}
	return err
}
