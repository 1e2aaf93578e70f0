package upfg

import (
	"os"

	"github.com/spf13/viper"
)

// Config holds the runtime-tunable knobs that are not part of a specific
// mission's vehicle/target data: guidance convergence behavior, default
// step sizes, and solver iteration caps (SPEC_FULL.md section 4.8).
type Config struct {
	ConvergenceTolerance   float64
	MaxConsecutiveFailures int
	DefaultDtGuidance      float64
	DefaultDtSim           float64
	CSEMaxIterations       int
}

// DefaultConfig returns the built-in defaults used when no configuration
// file is present. Unlike the teacher's smdConfig, which panics at
// bootstrap if SMD_CONFIG's directory has no config file, a missing file
// here is the ordinary case: mission parameters arrive from an external
// collaborator (the excluded JSON mission-file reader), not from this
// package's own config file, so there is nothing to panic about.
func DefaultConfig() Config {
	return Config{
		ConvergenceTolerance:   0.01,
		MaxConsecutiveFailures: 5,
		DefaultDtGuidance:      1.0,
		DefaultDtSim:           1.0,
		CSEMaxIterations:       cseMaxIterations,
	}
}

// LoadConfig reads overrides from a config file located the way the
// teacher's smdConfig locates one: a directory named by the UPFG_CONFIG
// environment variable (falling back to the current directory), holding a
// file named "upfg_config" in any viper-supported format. Values present in
// the file override DefaultConfig(); a missing file is not an error.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	dir := os.Getenv("UPFG_CONFIG")
	if dir == "" {
		dir = "."
	}

	v := viper.New()
	v.SetConfigName("upfg_config")
	v.AddConfigPath(dir)
	v.SetDefault("guidance.convergence_tolerance", cfg.ConvergenceTolerance)
	v.SetDefault("guidance.max_consecutive_failures", cfg.MaxConsecutiveFailures)
	v.SetDefault("guidance.default_dt_guidance", cfg.DefaultDtGuidance)
	v.SetDefault("simulator.default_dt_sim", cfg.DefaultDtSim)
	v.SetDefault("cse.max_iterations", cfg.CSEMaxIterations)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return cfg, nil
		}
		return cfg, &ConfigError{Field: "file", Value: err.Error()}
	}

	cfg.ConvergenceTolerance = v.GetFloat64("guidance.convergence_tolerance")
	cfg.MaxConsecutiveFailures = v.GetInt("guidance.max_consecutive_failures")
	cfg.DefaultDtGuidance = v.GetFloat64("guidance.default_dt_guidance")
	cfg.DefaultDtSim = v.GetFloat64("simulator.default_dt_sim")
	cfg.CSEMaxIterations = v.GetInt("cse.max_iterations")

	if cfg.ConvergenceTolerance <= 0 {
		return cfg, &ConfigError{Field: "guidance.convergence_tolerance", Value: cfg.ConvergenceTolerance}
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		return cfg, &ConfigError{Field: "guidance.max_consecutive_failures", Value: cfg.MaxConsecutiveFailures}
	}
	if cfg.DefaultDtGuidance <= 0 {
		return cfg, &ConfigError{Field: "guidance.default_dt_guidance", Value: cfg.DefaultDtGuidance}
	}
	if cfg.DefaultDtSim <= 0 {
		return cfg, &ConfigError{Field: "simulator.default_dt_sim", Value: cfg.DefaultDtSim}
	}
	if cfg.CSEMaxIterations <= 0 {
		return cfg, &ConfigError{Field: "cse.max_iterations", Value: cfg.CSEMaxIterations}
	}

	return cfg, nil
}
