package upfg

import (
	"testing"

	"github.com/gonum/floats"
)

func TestNewStateFromAirScenario(t *testing.T) {
	// spec.md section 8, scenario 5.
	st := NewStateFromAir(0, 0, 400_000, 0, 7800, 90, 50_000)
	if !floats.EqualWithinAbs(st.R[0], RE+400_000, 1e-6) {
		t.Fatalf("r.x: got %f want %f", st.R[0], RE+400_000)
	}
	if !floats.EqualWithinAbs(st.R[1], 0, 1e-6) || !floats.EqualWithinAbs(st.R[2], 0, 1e-6) {
		t.Fatalf("r.y/r.z should be zero at lat=lon=0: got %v", st.R)
	}
	if !floats.EqualWithinAbs(st.V.Norm(), 7800, 1e-6) {
		t.Fatalf("|v|: got %f want 7800", st.V.Norm())
	}
	if st.T != 0 {
		t.Fatalf("t: got %f want 0", st.T)
	}
}

func TestSimulatorSingleStep(t *testing.T) {
	// spec.md section 8, scenario 6.
	stage := Stage{ID: 1, Mode: ConstantThrust, MassTotal: 50_000, MassDry: 1, Thrust: 1e6, Isp: 300}
	vehicle, err := NewVehicle([]Stage{stage}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	initial := NewStateFromGround(0, 0, 50_000)
	sim := NewSimulator(initial, 1, vehicle, nil)
	defer sim.Close()

	sim.SetThrust(Vec3{1, 0, 0}, stage)

	r0, v0, _, m0 := sim.GetState()
	accel := GravAccel(r0).Add(Vec3{1, 0, 0}.Scale(stage.Thrust / m0))
	wantR := r0.Add(v0.Add(accel.Scale(1)).Scale(1))
	wantMass := m0 - 1*stage.Thrust/(G0*stage.Isp)

	sim.Step()

	hist := sim.GetHistory()
	if len(hist) != 1 {
		t.Fatalf("history length: got %d want 1", len(hist))
	}

	r1, _, _, m1 := sim.GetState()
	if !floats.EqualWithinAbs(r1.Sub(wantR).Norm(), 0, 1.0) {
		t.Fatalf("position after one step: got %v want %v", r1, wantR)
	}
	if !floats.EqualWithinAbs(m1, wantMass, 1e-6) {
		t.Fatalf("mass after one step: got %f want %f", m1, wantMass)
	}
}

func TestSimulatorStagingAdvancesVehicle(t *testing.T) {
	stages := []Stage{
		{ID: 1, Mode: ConstantThrust, MassTotal: 1000, MassDry: 900, Thrust: 2e5, Isp: 50},
		{ID: 2, Mode: ConstantThrust, MassTotal: 500, MassDry: 100, Thrust: 1e5, Isp: 300},
	}
	vehicle, _ := NewVehicle(stages, nil)
	initial := NewStateFromGround(0, 0, 1000)
	sim := NewSimulator(initial, 1, vehicle, nil)
	defer sim.Close()

	sim.SetThrust(Vec3{1, 0, 0}, stages[0])
	staged := false
	for i := 0; i < 10 && !staged; i++ {
		staged = sim.Step()
	}
	if !staged {
		t.Fatalf("expected staging to occur within 10 steps of burning through stage 1's propellant")
	}
	if len(vehicle.Stages) != 1 || vehicle.Stages[0].ID != 2 {
		t.Fatalf("vehicle should have advanced to stage 2: %+v", vehicle.Stages)
	}
}
