package upfg

import (
	"errors"
	"testing"

	"github.com/gonum/floats"
)

func TestProgramPrelaunchToAscentTransition(t *testing.T) {
	cfg := DefaultProgramConfig()
	cfg.PrelaunchHold = 2
	initial := NewStateFromGround(Deg2rad(28.5), 0, 50_000)
	vehicle, _ := NewVehicle(saturnVUpperStages(), nil)
	sim := NewSimulator(initial, 1, vehicle, nil)
	defer sim.Close()

	g := NewUPFGState(nil, nil)
	prog := NewGuidanceProgram(cfg, Deg2rad(28.5), g, nil)
	runtimeCfg := DefaultConfig()
	tgt := upperStageTarget()

	if err := prog.Step(sim, tgt, vehicle, 1, false, runtimeCfg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if prog.ActiveMode() != ModePrelaunch {
		t.Fatalf("should still be in prelaunch after 1s of a 2s hold")
	}
	if err := prog.Step(sim, tgt, vehicle, 1.5, false, runtimeCfg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if prog.ActiveMode() != ModeAscent {
		t.Fatalf("expected ascent after the prelaunch hold elapsed, got %s", prog.ActiveMode())
	}
}

func TestProgramAscentSub0ThrustAlongUp(t *testing.T) {
	cfg := DefaultProgramConfig()
	cfg.PrelaunchHold = 0
	initial := NewStateFromGround(Deg2rad(28.5), 0, 50_000)
	vehicle, _ := NewVehicle(saturnVUpperStages(), nil)
	sim := NewSimulator(initial, 1, vehicle, nil)
	defer sim.Close()

	g := NewUPFGState(nil, nil)
	prog := NewGuidanceProgram(cfg, Deg2rad(28.5), g, nil)
	runtimeCfg := DefaultConfig()
	tgt := upperStageTarget()

	// One step clears Prelaunch; the next runs Ascent sub0.
	prog.Step(sim, tgt, vehicle, 0, false, runtimeCfg)
	if err := prog.Step(sim, tgt, vehicle, 1, false, runtimeCfg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	st := sim.CurrentSimState()
	up := EastUnit(st.R).Cross(NorthUnit(st.R)).Unit()
	if !floats.EqualWithinAbs(prog.Steering().Dot(up), 1, 1e-9) {
		t.Fatalf("sub0 should thrust along local up: steering=%v up=%v", prog.Steering(), up)
	}
	steering, mode := prog.GuidanceInfo()
	if steering != prog.Steering() || mode != prog.ActiveMode() {
		t.Fatalf("GuidanceInfo should mirror Steering()/ActiveMode(): got (%v, %s)", steering, mode)
	}
}

func TestProgramAscentToOrbitInsertionTransition(t *testing.T) {
	cfg := DefaultProgramConfig()
	cfg.GravityTurnAltitudeThreshold = 30_000
	initial := NewStateFromAir(Deg2rad(28.5), 0, 45_000, Deg2rad(50), 2400, 90, 400_000)
	vehicle, _ := NewVehicle(saturnVUpperStages(), nil)
	sim := NewSimulator(initial, 1, vehicle, nil)
	defer sim.Close()

	g := NewUPFGState(nil, nil)
	prog := NewGuidanceProgram(cfg, Deg2rad(28.5), g, nil)
	prog.Mode = ModeAscent
	runtimeCfg := DefaultConfig()
	tgt := upperStageTarget()

	if err := prog.Step(sim, tgt, vehicle, 1, false, runtimeCfg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if prog.ActiveMode() != ModeOrbitInsertion {
		t.Fatalf("expected orbit insertion once altitude exceeds the gravity-turn threshold, got %s", prog.ActiveMode())
	}
	if g.Phase != UPFGInitialized {
		t.Fatalf("entering orbit insertion should have run UPFG Setup, got phase %s", g.Phase)
	}
}

func TestProgramFinalBurnHoldsSteering(t *testing.T) {
	cfg := DefaultProgramConfig()
	cfg.FinalBurnTime = 5
	initial := NewStateFromGround(0, 0, 50_000)
	vehicle, _ := NewVehicle(saturnVUpperStages(), nil)
	sim := NewSimulator(initial, 1, vehicle, nil)
	defer sim.Close()

	g := NewUPFGState(nil, nil)
	prog := NewGuidanceProgram(cfg, 0, g, nil)
	prog.Mode = ModeFinalBurn
	prog.lastSteering = Vec3{0, 1, 0}
	runtimeCfg := DefaultConfig()
	tgt := upperStageTarget()

	if err := prog.Step(sim, tgt, vehicle, 1, false, runtimeCfg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if prog.Steering() != (Vec3{0, 1, 0}) {
		t.Fatalf("final burn must hold the last steering vector unchanged, got %v", prog.Steering())
	}
	if prog.ActiveMode() != ModeFinalBurn {
		t.Fatalf("should remain in final burn before its configured duration elapses")
	}
	if err := prog.Step(sim, tgt, vehicle, 10, false, runtimeCfg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if prog.ActiveMode() != ModeIdle {
		t.Fatalf("expected idle once the final burn duration elapses, got %s", prog.ActiveMode())
	}
}

func TestProgramSurfacesPropellantExhaustion(t *testing.T) {
	cfg := DefaultProgramConfig()
	initial := NewStateFromGround(0, 0, 50_000)
	stages := saturnVUpperStages()
	vehicle, _ := NewVehicle(stages, nil)
	sim := NewSimulator(initial, 1, vehicle, nil)
	defer sim.Close()

	// Drive the last stage dry by stepping the integrator under full thrust
	// from a live mass already close to the stage's dry mass.
	for i := 0; i < 2000; i++ {
		sim.SetThrust(Vec3{0, 0, 1}, stages[0])
		sim.Step()
	}
	if !sim.PropellantExhausted() {
		t.Fatalf("expected the single remaining stage to run dry after sustained thrust")
	}

	g := NewUPFGState(nil, nil)
	prog := NewGuidanceProgram(cfg, 0, g, nil)
	prog.Mode = ModeAscent
	runtimeCfg := DefaultConfig()
	tgt := upperStageTarget()

	err := prog.Step(sim, tgt, vehicle, 1, false, runtimeCfg)
	var pe *PropellantExhaustedError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a *PropellantExhaustedError, got %v", err)
	}
	if pe.StageID != stages[0].ID {
		t.Fatalf("expected the exhausted stage id %d, got %d", stages[0].ID, pe.StageID)
	}
	if !errors.Is(err, ErrPropellantExhausted) {
		t.Fatalf("expected errors.Is to recognize ErrPropellantExhausted")
	}
	if prog.ActiveMode() != ModeIdle {
		t.Fatalf("propellant exhaustion should terminate cleanly in idle, got %s", prog.ActiveMode())
	}
}
