package upfg

import (
	"fmt"

	kitlog "github.com/go-kit/kit/log"
)

// ModeKind is the closed set of ascent-program modes (spec.md section 4.6).
// Represented as a tagged union on GuidanceProgram rather than a dynamic
// dispatch table of per-mode types, per DESIGN NOTES.
type ModeKind uint8

const (
	ModePrelaunch ModeKind = iota
	ModeAscent
	ModeOrbitInsertion
	ModeFinalBurn
	ModeIdle
	ModeAbort
)

func (m ModeKind) String() string {
	switch m {
	case ModePrelaunch:
		return "prelaunch"
	case ModeAscent:
		return "ascent"
	case ModeOrbitInsertion:
		return "orbit-insertion"
	case ModeFinalBurn:
		return "final-burn"
	case ModeIdle:
		return "idle"
	case ModeAbort:
		return "abort"
	default:
		panic(fmt.Sprintf("unknown mode %d", m))
	}
}

// GravitySubMode is Ascent's three internal sub-states (spec.md section
// 4.6's gravity-turn submode).
type GravitySubMode uint8

const (
	GravitySub0 GravitySubMode = iota // thrust along local up
	GravitySub1                       // pitched over, azimuth-corrected
	GravitySub2                       // ECEF-prograde hold
)

// consecutiveConvergedForFinalBurn is spec.md section 8's five-consecutive-
// cycles convergence property, required before OrbitInsertion commits to
// FinalBurn.
const consecutiveConvergedForFinalBurn = 5

// ProgramConfig holds the tunable thresholds for the ascent program, the
// mission-specific counterpart to spec.md section 6's Guidance.programConfig.
type ProgramConfig struct {
	PrelaunchHold                float64 // s, elapsed time before Ascent
	PitchTime                    float64 // s, when Ascent enters sub1
	PitchAngleDeg                float64 // degrees, sub1's pitch-over angle
	GravityTurnAltitudeThreshold float64 // m, Ascent -> OrbitInsertion
	UPFGTgoThreshold             float64 // s, OrbitInsertion -> FinalBurn
	FinalBurnTime                float64 // s, FinalBurn -> Idle
}

// DefaultProgramConfig returns spec.md section 4.6's stated defaults, plus
// a conservative default FinalBurnTime (not given an explicit default in
// spec.md; this package treats it as a mission-supplied tuning value with
// a short fallback to avoid an unbounded FinalBurn hold).
func DefaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		PrelaunchHold:                0,
		PitchTime:                    17,
		PitchAngleDeg:                1.5,
		GravityTurnAltitudeThreshold: 30_000,
		UPFGTgoThreshold:             5,
		FinalBurnTime:                10,
	}
}

// GuidanceProgram drives the ascent-mode FSM. It owns the embedded UPFG
// predictor for OrbitInsertion and holds the last steering vector across
// mode transitions and convergence holds.
type GuidanceProgram struct {
	Mode ModeKind
	Sub  GravitySubMode

	ElapsedInMode float64

	LaunchLat float64

	Upfg *UPFGState

	lastSteering Vec3
	cfg          ProgramConfig
	logger       kitlog.Logger
}

// NewGuidanceProgram constructs a GuidanceProgram in Prelaunch, owning the
// given UPFGState for later use in OrbitInsertion.
func NewGuidanceProgram(cfg ProgramConfig, launchLat float64, upfg *UPFGState, logger kitlog.Logger) *GuidanceProgram {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &GuidanceProgram{
		Mode:      ModePrelaunch,
		Sub:       GravitySub0,
		LaunchLat: launchLat,
		Upfg:      upfg,
		cfg:       cfg,
		logger:    kitlog.With(logger, "subsys", "fsm"),
	}
}

// Steering returns the currently commanded thrust unit vector.
func (p *GuidanceProgram) Steering() Vec3 {
	return p.lastSteering
}

// ActiveMode reports the current top-level mode.
func (p *GuidanceProgram) ActiveMode() ModeKind {
	return p.Mode
}

// GuidanceInfo returns the (steering_unit_vector, active_mode) pair spec.md
// section 6's get_guidance_info() read accessor exposes.
func (p *GuidanceProgram) GuidanceInfo() (Vec3, ModeKind) {
	return p.lastSteering, p.Mode
}

// Step advances the program by dt seconds of elapsed mode time, given the
// current simulator state, target and vehicle. stagingFlag is forwarded
// unchanged to UPFG when the active mode is OrbitInsertion; UPFG's only use
// of it is zeroing its internal tb (spec.md section 5).
func (p *GuidanceProgram) Step(sim *Simulator, target Target, vehicle *Vehicle, dt float64, stagingFlag bool, runtimeCfg Config) error {
	p.ElapsedInMode += dt
	st := sim.CurrentSimState()

	// Propellant exhaustion below the last stage is a clean termination, not
	// an abort (spec.md section 7, error kind 3): the FSM settles in Idle
	// and the caller observes the reason via the returned error.
	if p.Mode != ModeIdle && p.Mode != ModeAbort && sim.PropellantExhausted() {
		err := &PropellantExhaustedError{StageID: vehicle.CurrentStage().ID}
		p.logger.Log("level", "notice", "event", "propellant_exhausted", "err", err)
		p.transition(ModeIdle)
		return err
	}

	switch p.Mode {
	case ModePrelaunch:
		p.lastSteering = st.R.Unit()
		if p.ElapsedInMode >= p.cfg.PrelaunchHold {
			p.transition(ModeAscent)
			p.Sub = GravitySub0
		}

	case ModeAscent:
		p.stepAscent(st, target)
		if st.Alt > p.cfg.GravityTurnAltitudeThreshold {
			p.Upfg.Setup(target, st.R, st.V)
			p.transition(ModeOrbitInsertion)
		}

	case ModeOrbitInsertion:
		result, err := p.Upfg.Cycle(vehicle, target, st.R, st.V, st.T, st.Mass, stagingFlag, runtimeCfg)
		if err != nil {
			p.logger.Log("level", "notice", "event", "guidance_divergence", "err", err)
			p.transition(ModeAbort)
			return err
		}
		p.lastSteering = result.Steering
		// spec.md section 8 requires five consecutive converged cycles
		// (|tgo_new - tgo_old|/tgo_old < 0.01) before committing to FinalBurn,
		// not a single lucky cycle near the threshold.
		if result.Tgo > 0 && result.Tgo < p.cfg.UPFGTgoThreshold && p.Upfg.ConsecutiveConverged >= consecutiveConvergedForFinalBurn {
			p.transition(ModeFinalBurn)
		}

	case ModeFinalBurn:
		// Holds whatever steering UPFG last supplied; does not recompute.
		if p.ElapsedInMode >= p.cfg.FinalBurnTime {
			p.transition(ModeIdle)
		}

	case ModeIdle, ModeAbort:
		// Terminal: no steering recomputation, no further transitions.

	default:
		panic(fmt.Sprintf("unknown mode %d", p.Mode))
	}

	return nil
}

func (p *GuidanceProgram) transition(to ModeKind) {
	p.logger.Log("level", "info", "event", "mode_transition", "from", p.Mode.String(), "to", to.String())
	p.Mode = to
	p.ElapsedInMode = 0
}

// stepAscent implements the three gravity-turn sub-states (spec.md section
// 4.6).
func (p *GuidanceProgram) stepAscent(st SimState, target Target) {
	up := EastUnit(st.R).Cross(NorthUnit(st.R)).Unit()

	switch p.Sub {
	case GravitySub0:
		p.lastSteering = up
		if p.ElapsedInMode >= p.cfg.PitchTime {
			p.Sub = GravitySub1
		}

	case GravitySub1:
		east := EastUnit(st.R)
		pitched := Rodrigues(up, east, Deg2rad(p.cfg.PitchAngleDeg))
		azimuth := LaunchAzimuthRotating(p.LaunchLat, target.Inclination, target.CutoffSpeed)
		rotated := Rodrigues(pitched, up, -azimuth)
		p.lastSteering = rotated

		_, vEcef := EciToEcef(st.R, st.V, st.T)
		vEcefUnit := vEcef.Unit()
		if !vEcefUnit.IsZero() && p.lastSteering.Dot(vEcefUnit) > 0.9995 {
			p.Sub = GravitySub2
		}

	case GravitySub2:
		_, vEcef := EciToEcef(st.R, st.V, st.T)
		vEcefUnit := vEcef.Unit()
		if !vEcefUnit.IsZero() {
			p.lastSteering = vEcefUnit
		}

	default:
		panic(fmt.Sprintf("unknown gravity-turn sub-state %d", p.Sub))
	}
}
