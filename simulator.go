package upfg

import (
	"fmt"
	"sync"

	kitlog "github.com/go-kit/kit/log"
)

// SimState is a snapshot of the vehicle's Cartesian/derived state at a
// point in simulated time. History entries are immutable once appended
// (spec.md section 3, Trajectory history).
type SimState struct {
	R, V   Vec3
	T      float64
	Mass   float64
	Kepler Kepler

	Lat, Lon, Alt float64
}

// deriveMisc recomputes the latitude/longitude/altitude fields of a
// SimState from its position vector, treating R as an ECI vector at time T
// (i.e. rotating to ECEF first).
func (s *SimState) deriveMisc() {
	rEcef, _ := EciToEcef(s.R, s.V, s.T)
	sph := cartesianToSpherical(rEcef)
	s.Lat = sph[1]
	s.Lon = sph[2]
	s.Alt = sph[0] - RE
}

func cartesianToSpherical(r Vec3) [3]float64 {
	n := r.Norm()
	if n == 0 {
		return [3]float64{0, 0, 0}
	}
	return [3]float64{n, asinClamped(r[2] / n), atan2(r[1], r[0])}
}

// Simulator owns the live SimState and the append-only trajectory history.
// It is exclusively responsible for advancing physics via forward-Euler
// integration and for detecting propellant exhaustion at the end of a
// stage (spec.md section 4.4). Guarded by mu so it can be safely driven by
// a physics task concurrently with a guidance task writing the steering
// vector (spec.md section 5).
type Simulator struct {
	mu sync.Mutex

	state       SimState
	thrustUnit  Vec3
	thrustStage Stage

	dt      float64
	vehicle *Vehicle
	logger  kitlog.Logger

	history     []SimState
	historyChan chan SimState
	historyWG   sync.WaitGroup

	stagingFlag    bool
	propellantDone bool
}

// NewSimulator constructs a Simulator with the given initial state, step
// size and vehicle. The background history-draining goroutine (grounded on
// the teacher's mission.go histChan pattern) is started immediately.
func NewSimulator(initial SimState, dt float64, vehicle *Vehicle, logger kitlog.Logger) *Simulator {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	initial.deriveMisc()
	s := &Simulator{
		state:       initial,
		dt:          dt,
		vehicle:     vehicle,
		logger:      kitlog.With(logger, "subsys", "phys"),
		history:     make([]SimState, 0, 1024),
		historyChan: make(chan SimState, 1000),
	}
	s.historyWG.Add(1)
	go func() {
		defer s.historyWG.Done()
		for st := range s.historyChan {
			s.mu.Lock()
			s.history = append(s.history, st)
			s.mu.Unlock()
		}
	}()
	return s
}

// NewStateFromAir builds the SimState for an air-start initial condition
// (spec.md section 4.4): lat/lon/altitude plus speed/fpa/heading in ECI.
func NewStateFromAir(lat, lon, altitude, fpa, speed, heading, mass float64) SimState {
	r := SphToCart(lat, lon, RE+altitude)
	v := ComputeVelocity(r, speed, fpa, heading)
	st := SimState{R: r, V: v, T: 0, Mass: mass}
	st.Kepler = CartToKepler(r, v, Mu)
	st.deriveMisc()
	return st
}

// NewStateFromGround builds the SimState for a ground-start initial
// condition: zero velocity in ECEF, rotated into ECI so the surface's
// eastward rotational speed is represented (spec.md section 4.4).
func NewStateFromGround(lat, lon, mass float64) SimState {
	r := SphToCart(lat, lon, RE)
	vEcef := Vec3{}
	_, vEci := EcefToEci(r, vEcef, 0)
	st := SimState{R: r, V: vEci, T: 0, Mass: mass}
	st.Kepler = CartToKepler(r, vEci, Mu)
	st.deriveMisc()
	return st
}

// SetThrust stores the commanded thrust direction and magnitude (unit
// vector scaled by the given stage's thrust), consumed on the next Step.
func (s *Simulator) SetThrust(unit Vec3, stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thrustUnit = unit
	s.thrustStage = stage
}

// Step advances the simulator by one integrator tick using explicit
// forward-Euler integration (spec.md section 4.4):
//
//	a = grav_accel(r) + thrust_unit * stage.thrust / mass
//	v = v + a*dt
//	r = r + v*dt
//	mass = mass - dt*|thrust_vector|/(g0*isp)
//	t = t + dt
//
// A clone of the pre-step state is appended to history before the state is
// overwritten. Returns whether staging occurred this step.
func (s *Simulator) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Clone-before-overwrite: history entries are immutable once written.
	s.historyChan <- s.state

	thrustVec := s.thrustUnit.Scale(s.thrustStage.Thrust)
	accel := GravAccel(s.state.R).Add(thrustVec.Scale(1 / s.state.Mass))

	newV := s.state.V.Add(accel.Scale(s.dt))
	newR := s.state.R.Add(newV.Scale(s.dt))

	massFlow := thrustVec.Norm() / (G0 * s.maxIsp())
	newMass := s.state.Mass - s.dt*massFlow
	newT := s.state.T + s.dt

	s.state = SimState{R: newR, V: newV, T: newT, Mass: newMass}
	s.state.Kepler = CartToKepler(newR, newV, Mu)
	s.state.deriveMisc()

	s.stagingFlag = false
	if s.vehicle != nil && len(s.vehicle.Stages) > 0 {
		stage := s.vehicle.CurrentStage()
		if newMass < stage.MassDry {
			if len(s.vehicle.Stages) > 1 {
				s.vehicle.AdvanceStage()
				s.stagingFlag = true
			} else {
				s.propellantDone = true
				s.logger.Log("level", "notice", "event", "propellant_exhausted", "t", newT)
			}
		}
	}
	return s.stagingFlag
}

// maxIsp returns the isp of the stage whose thrust is currently commanded,
// defaulting to the vehicle's current stage if none was explicitly set.
func (s *Simulator) maxIsp() float64 {
	if s.thrustStage.Isp > 0 {
		return s.thrustStage.Isp
	}
	if s.vehicle != nil && len(s.vehicle.Stages) > 0 {
		return s.vehicle.CurrentStage().Isp
	}
	return 1 // avoid divide-by-zero when no stage/thrust has been set yet
}

// StagingFlag reports whether the most recent Step triggered a stage
// advance. One-shot: cleared by Step on every call, and idempotent to
// observe multiple times before the next Step (spec.md section 5).
func (s *Simulator) StagingFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stagingFlag
}

// PropellantExhausted reports whether the last stage has run out of
// propellant (spec.md section 7, error kind 3).
func (s *Simulator) PropellantExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.propellantDone
}

// GetState returns the current (r, v, t, mass), satisfying spec.md
// section 6's get_state() read accessor.
func (s *Simulator) GetState() (r, v Vec3, t, mass float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.R, s.state.V, s.state.T, s.state.Mass
}

// CurrentSimState returns a copy of the full current state.
func (s *Simulator) CurrentSimState() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetHistory returns a copy of the trajectory history accumulated so far.
// Never exposes interior references, per spec.md section 6.
func (s *Simulator) GetHistory() []SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimState, len(s.history))
	copy(out, s.history)
	return out
}

// Close drains and stops the history-collection goroutine. Safe to call
// once, after the last Step.
func (s *Simulator) Close() {
	close(s.historyChan)
	s.historyWG.Wait()
}

func (s *Simulator) String() string {
	return fmt.Sprintf("t=%.1f r=%.1f v=%.3f mass=%.1f", s.state.T, s.state.R.Norm(), s.state.V.Norm(), s.state.Mass)
}
