package odometry

import (
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/densevo/device"
	"go.viam.com/densevo/rimage/transform"
)

// Defaults used by Validate for unset fields.
const (
	DefaultLevels          = 3
	DefaultIterations      = 10
	DefaultSigma           = 0.5
	DefaultDepthFar        = 4.0
	DefaultDepthDiffMax    = 0.07
	DefaultDepthScale      = 1000.0
	defaultDeviceTag       = "cpu"
	maxSupportedPyramidLvl = 16
)

// RGBDOdometryConfig contains the parameters needed for dense odometry between two RGBD frames.
type RGBDOdometryConfig struct {
	Levels int `json:"levels"`
	// Iterations is indexed by pyramid level, level 0 being the finest.
	Iterations           []int    `json:"iterations"`
	Sigma                *float64 `json:"sigma"`
	DepthNear            float64  `json:"depth_near_m"`
	DepthFar             float64  `json:"depth_far_m"`
	DepthDiffMax         float64  `json:"depth_diff_max_m"`
	ConvergenceThreshold float64  `json:"convergence_threshold"`
	// DepthScale is the number of depth image units per meter, 1000 for millimeters.
	DepthScale           float64                            `json:"depth_scale"`
	Device               string                             `json:"device"`
	RecordSourceOnTarget bool                               `json:"record_source_on_target"`
	CamIntrinsics        *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
}

// Validate fills in defaults and checks that the configuration is usable.
func (cfg *RGBDOdometryConfig) Validate() error {
	if cfg.Levels == 0 {
		cfg.Levels = DefaultLevels
	}
	if cfg.Levels < 1 || cfg.Levels > maxSupportedPyramidLvl {
		return errors.Errorf("levels must be between 1 and %d, got %d", maxSupportedPyramidLvl, cfg.Levels)
	}
	if len(cfg.Iterations) == 0 {
		cfg.Iterations = lo.Times(cfg.Levels, func(int) int { return DefaultIterations })
	}
	if len(cfg.Iterations) != cfg.Levels {
		return errors.Errorf("got %d iteration counts for %d levels", len(cfg.Iterations), cfg.Levels)
	}
	if lo.SomeBy(cfg.Iterations, func(n int) bool { return n < 0 }) {
		return errors.Errorf("iteration counts cannot be negative, got %v", cfg.Iterations)
	}
	if cfg.Sigma == nil {
		cfg.Sigma = lo.ToPtr(DefaultSigma)
	}
	if *cfg.Sigma < 0 || *cfg.Sigma > 1 {
		return errors.Errorf("sigma must be in [0, 1], got %v", *cfg.Sigma)
	}
	if cfg.DepthFar == 0 {
		cfg.DepthFar = DefaultDepthFar
	}
	if cfg.DepthDiffMax == 0 {
		cfg.DepthDiffMax = DefaultDepthDiffMax
	}
	if cfg.DepthScale == 0 {
		cfg.DepthScale = DefaultDepthScale
	}
	if cfg.Device == "" {
		cfg.Device = defaultDeviceTag
	}

	var err error
	if cfg.DepthNear < 0 || cfg.DepthFar <= cfg.DepthNear {
		err = multierr.Append(err, errors.Errorf("invalid depth range [%v, %v]", cfg.DepthNear, cfg.DepthFar))
	}
	if cfg.DepthDiffMax < 0 {
		err = multierr.Append(err, errors.Errorf("depth_diff_max_m cannot be negative, got %v", cfg.DepthDiffMax))
	}
	if cfg.ConvergenceThreshold < 0 {
		err = multierr.Append(err, errors.Errorf("convergence_threshold cannot be negative, got %v", cfg.ConvergenceThreshold))
	}
	if cfg.DepthScale < 0 {
		err = multierr.Append(err, errors.Errorf("depth_scale cannot be negative, got %v", cfg.DepthScale))
	}
	if _, parseErr := device.Parse(cfg.Device); parseErr != nil {
		err = multierr.Append(err, parseErr)
	}
	if cfg.CamIntrinsics != nil {
		err = multierr.Append(err, cfg.CamIntrinsics.CheckValid())
	}
	return err
}

// Dev returns the parsed device of the config.
func (cfg *RGBDOdometryConfig) Dev() (device.Device, error) {
	return device.Parse(cfg.Device)
}

// LoadRGBDOdometryConfig loads and validates an odometry configuration from a json file.
func LoadRGBDOdometryConfig(path string) (*RGBDOdometryConfig, error) {
	configFile, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "opening odometry config")
	}
	defer func() {
		//nolint:errcheck
		configFile.Close()
	}()

	var cfg RGBDOdometryConfig
	if err := json.NewDecoder(configFile).Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding odometry config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewConfigFromAttributes decodes and validates a configuration from a generic attribute map,
// as found nested in larger json configs.
func NewConfigFromAttributes(attrs map[string]interface{}) (*RGBDOdometryConfig, error) {
	var cfg RGBDOdometryConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
