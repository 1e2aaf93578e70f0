package upfg

import "errors"

// Sentinel error kinds, checked with errors.Is by callers that need to
// distinguish guidance failure modes from ordinary Go errors (spec.md
// section 7).
var (
	// ErrConfig marks a malformed or out-of-range runtime configuration
	// value (spec.md section 7, error kind 1).
	ErrConfig = errors.New("upfg: invalid configuration")

	// ErrGuidanceDivergence marks a UPFG cycle whose time-to-go flipped sign
	// or grew more than tenfold for MaxConsecutiveFailures consecutive
	// cycles, or a cycle that exceeded its restart bound or could not
	// allocate the remaining velocity-to-go to its stages (spec.md section
	// 7, error kind 2).
	ErrGuidanceDivergence = errors.New("upfg: guidance failed to converge")

	// ErrPropellantExhausted marks the terminal stage running its tanks
	// dry before the commanded burn completed (spec.md section 7, error
	// kind 3).
	ErrPropellantExhausted = errors.New("upfg: propellant exhausted")
)

// ConfigError wraps ErrConfig with the offending field and value.
type ConfigError struct {
	Field string
	Value interface{}
}

func (e *ConfigError) Error() string {
	return "upfg: invalid configuration: " + e.Field
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// GuidanceDivergence wraps ErrGuidanceDivergence with the cycle count and
// last computed time-to-go, for diagnostics.
type GuidanceDivergence struct {
	Cycles  int
	LastTgo float64
}

func (e *GuidanceDivergence) Error() string {
	return "upfg: guidance failed to converge after consecutive cycles"
}

func (e *GuidanceDivergence) Unwrap() error { return ErrGuidanceDivergence }

// PropellantExhaustedError wraps ErrPropellantExhausted with the stage ID
// that ran dry.
type PropellantExhaustedError struct {
	StageID int
}

func (e *PropellantExhaustedError) Error() string {
	return "upfg: propellant exhausted"
}

func (e *PropellantExhaustedError) Unwrap() error { return ErrPropellantExhausted }
