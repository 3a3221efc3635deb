// Package align implements the iterative nonlinear least-squares engines that
// refine rigid transforms against point observations: a reprojection (image +
// depth) variant used for frame-to-map tracking and a Euclidean point-to-point
// variant used for loop-closure verification.
package align

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Config contains the parameters shared by both aligner variants.
type Config struct {
	// MaximumNumberOfIterations bounds the Gauss-Newton loop; it is the only
	// protection against non-termination.
	MaximumNumberOfIterations int `json:"max_iterations"`
	// ErrorDeltaForConvergence is the absolute change in total error below
	// which the system counts as converged.
	ErrorDeltaForConvergence float64 `json:"error_delta_for_convergence"`
	// Damping scales the identity term added to H before every solve.
	Damping float64 `json:"damping"`
	// MaximumErrorKernel is the squared-error threshold of the robust kernel;
	// residuals above it are classified outliers and down-weighted.
	MaximumErrorKernel float64 `json:"max_error_kernel"`
	// MaximumDepthNearMeters separates near points, which constrain
	// translation, from far points, which constrain rotation only.
	MaximumDepthNearMeters float64 `json:"max_depth_near_m"`
	// MaximumDepthFarMeters is the depth beyond which points are dropped.
	MaximumDepthFarMeters float64 `json:"max_depth_far_m"`
	// WeightFramePoint down-weights points predicted from the previous frame
	// point instead of a validated landmark.
	WeightFramePoint float64 `json:"weight_framepoint"`
}

// NewConfig returns a config with the default alignment parameters.
func NewConfig() *Config {
	return &Config{
		MaximumNumberOfIterations: 100,
		ErrorDeltaForConvergence:  1e-5,
		Damping:                   1,
		MaximumErrorKernel:        9,
		MaximumDepthNearMeters:    5,
		MaximumDepthFarMeters:     20,
		WeightFramePoint:          0.1,
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
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	var err error
	if config.MaximumNumberOfIterations < 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_iterations should be >= 1")))
	}
	if config.ErrorDeltaForConvergence <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("error_delta_for_convergence should be positive")))
	}
	if config.Damping < 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("damping should be non-negative")))
	}
	if config.MaximumErrorKernel <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("max_error_kernel should be positive")))
	}
	if config.MaximumDepthNearMeters <= 0 || config.MaximumDepthFarMeters <= config.MaximumDepthNearMeters {
		err = multierr.Append(err, utils.NewConfigValidationError(path,
			errors.New("depth limits should satisfy 0 < max_depth_near_m < max_depth_far_m")))
	}
	if config.WeightFramePoint <= 0 || config.WeightFramePoint > 1 {
		err = multierr.Append(err, utils.NewConfigValidationError(path, errors.New("weight_framepoint should be in (0, 1]")))
	}
	return err
}
