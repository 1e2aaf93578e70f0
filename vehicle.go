package upfg

import (
	"fmt"

	kitlog "github.com/go-kit/kit/log"
)

// StageMode selects how a Stage's acceleration behaves as propellant burns.
type StageMode uint8

const (
	// ConstantThrust holds vacuum thrust fixed; acceleration rises as mass
	// drops.
	ConstantThrust StageMode = iota + 1
	// ConstantAccel throttles thrust to hold a fixed acceleration ceiling
	// once thrust-to-weight reaches GLim*G0.
	ConstantAccel
)

func (m StageMode) String() string {
	switch m {
	case ConstantThrust:
		return "constant-thrust"
	case ConstantAccel:
		return "constant-accel"
	default:
		panic(fmt.Sprintf("unknown stage mode %d", m))
	}
}

// Stage is a single vehicle stage. MassDry must be <= MassTotal; Thrust and
// Isp must be strictly positive (spec.md section 3's Vehicle invariants).
type Stage struct {
	ID        int
	Mode      StageMode
	GLim      float64 // acceleration ceiling, in g0, only meaningful for ConstantAccel
	MassTotal float64 // wet mass, kg
	MassDry   float64 // dry mass, kg
	Thrust    float64 // vacuum thrust, N
	Isp       float64 // specific impulse, s
}

// Validate checks the Stage invariants from spec.md section 3.
func (s Stage) Validate() error {
	if s.MassDry > s.MassTotal {
		return fmt.Errorf("upfg: stage %d: dry mass %g exceeds wet mass %g", s.ID, s.MassDry, s.MassTotal)
	}
	if s.Thrust <= 0 {
		return fmt.Errorf("upfg: stage %d: thrust must be positive, got %g", s.ID, s.Thrust)
	}
	if s.Isp <= 0 {
		return fmt.Errorf("upfg: stage %d: isp must be positive, got %g", s.ID, s.Isp)
	}
	return nil
}

// Propellant returns the stage's usable propellant mass.
func (s Stage) Propellant() float64 {
	return s.MassTotal - s.MassDry
}

// Vehicle is an ordered list of stages, index 0 being the currently burning
// stage. Shared-readable by the Simulator, UPFG and the guidance FSM; only
// the staging path (AdvanceStage, SplitIfAccelLimited) mutates it.
type Vehicle struct {
	Stages []Stage
	logger kitlog.Logger
}

// NewVehicle validates and wraps a stage list into a Vehicle.
func NewVehicle(stages []Stage, logger kitlog.Logger) (*Vehicle, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("upfg: vehicle requires at least one stage")
	}
	for _, s := range stages {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	cp := make([]Stage, len(stages))
	copy(cp, stages)
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &Vehicle{Stages: cp, logger: kitlog.With(logger, "subsys", "vehicle")}, nil
}

// CurrentStage returns the currently burning stage (index 0).
func (v *Vehicle) CurrentStage() *Stage {
	if len(v.Stages) == 0 {
		panic("upfg: vehicle has no stages left")
	}
	return &v.Stages[0]
}

// AdvanceStage drops the currently burning stage. Must be called exactly
// when live mass falls below the current stage's dry mass.
func (v *Vehicle) AdvanceStage() {
	if len(v.Stages) == 0 {
		panic("upfg: cannot advance stage: vehicle has no stages")
	}
	dropped := v.Stages[0]
	v.Stages = v.Stages[1:]
	v.logger.Log("level", "notice", "event", "staging", "dropped_id", dropped.ID, "remaining", len(v.Stages))
}

// SplitIfAccelLimited performs the opportunistic constant-thrust ->
// constant-acceleration stage split described in spec.md section 4.3. If
// the current stage is ConstantAccel and the instantaneous thrust/mass has
// reached the acceleration ceiling, stage 0 is replaced by two stages whose
// combined propellant equals the original's: a ConstantThrust prefix
// covering the propellant already burned at constant thrust, and a
// ConstantAccel remainder. Returns true if a split was performed.
func (v *Vehicle) SplitIfAccelLimited(liveMass float64) bool {
	stage := v.CurrentStage()
	if stage.Mode != ConstantAccel {
		return false
	}
	accel := stage.Thrust / liveMass
	limit := stage.GLim * G0
	if accel < limit {
		// Not yet acceleration-limited; still behaves as constant thrust.
		return false
	}
	// The split mass is where thrust/mass == limit, i.e. mass == Thrust/limit.
	splitMass := stage.Thrust / limit
	if splitMass >= stage.MassTotal || splitMass <= stage.MassDry {
		// Already past (or exactly at) the split point; nothing to split.
		return false
	}
	prefix := Stage{
		ID:        stage.ID,
		Mode:      ConstantThrust,
		MassTotal: stage.MassTotal,
		MassDry:   splitMass,
		Thrust:    stage.Thrust,
		Isp:       stage.Isp,
	}
	remainder := Stage{
		ID:        stage.ID,
		Mode:      ConstantAccel,
		GLim:      stage.GLim,
		MassTotal: splitMass,
		MassDry:   stage.MassDry,
		Thrust:    stage.Thrust,
		Isp:       stage.Isp,
	}
	newStages := make([]Stage, 0, len(v.Stages)+1)
	newStages = append(newStages, prefix, remainder)
	newStages = append(newStages, v.Stages[1:]...)
	v.Stages = newStages
	v.logger.Log("level", "info", "event", "stage_split", "stage_id", stage.ID, "split_mass", splitMass)
	return true
}

// DropLastStage removes the terminal stage, used by UPFG (spec.md section
// 4.5 step 3) when the burn-time allocation shows more stages exist than
// are needed to deliver the remaining velocity-to-go. Operates on a clone
// so the live vehicle is untouched until the caller commits it.
func (v *Vehicle) DropLastStage() {
	if len(v.Stages) <= 1 {
		panic("upfg: cannot drop last remaining stage")
	}
	v.Stages = v.Stages[:len(v.Stages)-1]
}

// Clone returns a deep copy of the vehicle, for UPFG's speculative
// terminal-stage drop, which must not be visible to the live vehicle. (The
// opportunistic stage split is applied to the vehicle UPFG was given.)
func (v *Vehicle) Clone() *Vehicle {
	cp := make([]Stage, len(v.Stages))
	copy(cp, v.Stages)
	return &Vehicle{Stages: cp, logger: v.logger}
}
