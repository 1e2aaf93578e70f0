package upfg

import (
	"fmt"
	"math"
	"time"

	kitlog "github.com/go-kit/kit/log"
)

// UPFGPhase is the UPFG predictor's own internal state, distinct from the
// ascent-program mode FSM (guidance.go). Stage-flag events reset the
// carried burn-time tb but never roll the phase backward.
type UPFGPhase uint8

const (
	UPFGUninitialized UPFGPhase = iota
	UPFGInitialized
	UPFGConverging
	UPFGConverged
)

func (p UPFGPhase) String() string {
	switch p {
	case UPFGUninitialized:
		return "uninitialized"
	case UPFGInitialized:
		return "initialized"
	case UPFGConverging:
		return "converging"
	case UPFGConverged:
		return "converged"
	default:
		panic(fmt.Sprintf("unknown upfg phase %d", p))
	}
}

// maxCycleRestarts bounds the number of times a single Cycle call may
// restart itself (opportunistic stage split, or dropping a surplus
// terminal stage) before it is treated as non-convergent vehicle data
// rather than legitimate re-planning.
const maxCycleRestarts = 8

// UPFGState is the full set of variables UPFG carries between cycles
// (spec.md section 3's UPFGState). The CSE warm-start bag is embedded
// directly, per DESIGN NOTES, rather than kept in a separate map.
type UPFGState struct {
	Cse CSEWarmStart

	Rbias Vec3
	Rd    Vec3
	Rgrav Vec3

	Tb    float64
	TLast float64
	Tgo   float64
	VLast Vec3
	Vgo   Vec3

	// LastRgo is the most recently computed position-to-go, carried purely
	// for the get_upfg_display() read accessor (spec.md section 6); no
	// guidance math reads it back.
	LastRgo Vec3

	Phase                UPFGPhase
	ConsecutiveConverged int
	FailCount            int

	lastSteering Vec3

	logger kitlog.Logger
	tele   *RunTelemetry
}

// NewUPFGState returns a zero-valued UPFGState ready for Setup.
func NewUPFGState(logger kitlog.Logger, tele *RunTelemetry) *UPFGState {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &UPFGState{
		Phase:  UPFGUninitialized,
		logger: kitlog.With(logger, "subsys", "upfg"),
		tele:   tele,
	}
}

// Setup seeds rd and vgo from the target geometry and the current state,
// ahead of the first Cycle call (spec.md section 8, scenario 1). It does
// not attempt the full thrust-integral solve: rd is the projection of the
// current position into the target orbital plane, scaled to the target
// cutoff radius, and vgo is the velocity still required to reach the
// desired cutoff velocity from the current velocity.
func (g *UPFGState) Setup(target Target, r, v Vec3) {
	iy := target.Normal.Scale(-1)
	rp := r.Sub(iy.Scale(iy.Dot(r)))
	rpUnit := rp.Unit()
	if rpUnit.IsZero() {
		rpUnit = r.Unit()
	}
	g.Rd = rpUnit.Scale(target.CutoffRadius)

	ix := g.Rd.Unit()
	iz := ix.Cross(iy)
	horiz := iz.Cross(ix).Unit()
	sFpa, cFpa := math.Sincos(target.CutoffFlightPathAngle)
	vDesired := ix.Scale(target.CutoffSpeed * sFpa).Add(horiz.Scale(target.CutoffSpeed * cFpa))

	g.Vgo = vDesired.Sub(v)
	g.Rgrav = Vec3{}
	g.Rbias = Vec3{}
	g.VLast = v
	g.TLast = 0
	g.Tb = 0
	g.Tgo = 0
	g.Phase = UPFGInitialized
	g.ConsecutiveConverged = 0
	g.FailCount = 0
	g.lastSteering = ix
}

// thrustMoments holds the L, J, S, Q, H thrust integrals accumulated over
// the remaining burn (spec.md section 4.5 step 4). P is tracked in name
// only, carried for symmetry with the five canonical integrals but not
// consumed by this cycle's guidance-vector solve.
type thrustMoments struct {
	L, J, S, Q, H, P float64
}

// stageParam is the per-stage burn-time/exhaust-velocity block from
// spec.md section 4.5 step 1.
type stageParam struct {
	stage Stage
	ve    float64
	tau   float64
	tb    float64
}

func computeStageParams(stages []Stage, liveMass float64) []stageParam {
	out := make([]stageParam, len(stages))
	for i, st := range stages {
		ve := st.Isp * G0
		wet := st.MassTotal
		if i == 0 {
			wet = liveMass
		}
		massflow := st.Thrust / ve
		a0 := st.Thrust / wet
		tau := ve / a0
		tb := (wet - st.MassDry) / massflow
		if i == 0 && tau <= tb+1e-3 {
			tau = tb + 1e-3
		}
		out[i] = stageParam{stage: st, ve: ve, tau: tau, tb: tb}
	}
	return out
}

func stageImpulse(p stageParam, dt float64) float64 {
	switch p.stage.Mode {
	case ConstantAccel:
		return p.stage.GLim * G0 * dt
	default:
		return p.ve * math.Log(p.tau/(p.tau-dt))
	}
}

func stageBurnTimeForImpulse(p stageParam, impulse float64) float64 {
	switch p.stage.Mode {
	case ConstantAccel:
		limit := p.stage.GLim * G0
		if limit <= 0 {
			return 0
		}
		return impulse / limit
	default:
		return p.tau * (1 - math.Exp(-impulse/p.ve))
	}
}

func stageLocalMoments(p stageParam, dt float64) thrustMoments {
	if dt <= 0 {
		return thrustMoments{}
	}
	switch p.stage.Mode {
	case ConstantAccel:
		a := p.stage.GLim * G0
		l := a * dt
		j := a * dt * dt / 2
		q := a * dt * dt * dt / 6
		return thrustMoments{L: l, J: j, S: j, Q: q, H: q}
	default:
		l := stageImpulse(p, dt)
		j := p.tau*l - p.ve*dt
		s := p.ve*dt - (p.tau-dt)*l
		q := s*p.tau - j*dt
		h := j*p.tau - l*dt*dt/2
		return thrustMoments{L: l, J: j, S: s, Q: q, H: h}
	}
}

// offsetMoments translates a stage's locally-computed moments into the
// "time since now" frame by adding the contribution already accumulated
// from prior stages (spec.md section 4.5 step 4's "offset by (tgo_i-1, L,
// J, H) accumulated from prior stages").
func offsetMoments(acc thrustMoments, local thrustMoments, dt float64) thrustMoments {
	return thrustMoments{
		L: local.L,
		J: local.J + acc.L*dt,
		S: local.S + acc.L*dt,
		Q: local.Q + acc.S*dt + acc.L*dt*dt/2,
		H: local.H + acc.J*dt,
	}
}

// CycleResult is what one UPFG evaluation hands back to its caller.
type CycleResult struct {
	Steering  Vec3
	Throttle  float64
	Tgo       float64
	Converged bool
}

// Cycle runs one UPFG predictor-corrector evaluation (spec.md section 4.5).
// stagingFlag must be true exactly once per physics-observed stage
// separation; UPFG's only reaction to it is zeroing its internal tb, and
// repeated delivery before the flag is cleared by the caller is harmless.
func (g *UPFGState) Cycle(vehicle *Vehicle, target Target, r, v Vec3, t, mass float64, stagingFlag bool, cfg Config) (CycleResult, error) {
	start := time.Now()
	if g.Phase == UPFGUninitialized {
		g.Setup(target, r, v)
	}

	work := vehicle
	restarts := 0

	for {
		if restarts > maxCycleRestarts {
			g.FailCount++
			return CycleResult{Steering: g.lastSteering, Throttle: 1, Tgo: g.Tgo}, &GuidanceDivergence{Cycles: restarts, LastTgo: g.Tgo}
		}
		stages := work.Stages
		if len(stages) == 0 {
			return CycleResult{Steering: g.lastSteering}, fmt.Errorf("upfg: vehicle has no stages")
		}

		// Step 1: stage parameter block, including the opportunistic split.
		if work.SplitIfAccelLimited(mass) {
			restarts++
			continue
		}
		params := computeStageParams(stages, mass)
		params[0].tb -= g.Tb
		if params[0].tb < 0 {
			params[0].tb = 0
		}

		// Step 2: accelerations.
		dvSensed := v.Sub(g.VLast)
		g.Vgo = g.Vgo.Sub(dvSensed)
		g.VLast = v
		if stagingFlag {
			g.Tb = 0
		}

		// Step 3: burn-time allocation.
		var lSum float64
		for i := 0; i < len(params)-1; i++ {
			lSum += stageImpulse(params[i], params[i].tb)
		}
		vgoMag := g.Vgo.Norm()
		lastIdx := len(params) - 1
		lTerminal := vgoMag - lSum
		if lTerminal < 0 {
			if len(stages) <= 1 {
				g.FailCount++
				return CycleResult{Steering: g.lastSteering, Throttle: 1, Tgo: g.Tgo}, &GuidanceDivergence{Cycles: restarts, LastTgo: g.Tgo}
			}
			work = work.Clone()
			work.DropLastStage()
			restarts++
			continue
		}
		terminalTb := stageBurnTimeForImpulse(params[lastIdx], lTerminal)

		tgoCum := 0.0
		for i := 0; i < lastIdx; i++ {
			tgoCum += params[i].tb
		}
		tgoNew := tgoCum + terminalTb

		// Failure check: a catastrophically diverging tgo aborts this cycle
		// rather than propagating a panic across the guidance boundary.
		if g.Tgo != 0 && (math.Signbit(tgoNew) != math.Signbit(g.Tgo) || math.Abs(tgoNew) > 10*math.Abs(g.Tgo)) {
			g.FailCount++
			err := &GuidanceDivergence{Cycles: restarts, LastTgo: g.Tgo}
			if g.tele != nil {
				g.tele.ObserveFailure()
			}
			if g.FailCount >= cfg.MaxConsecutiveFailures {
				return CycleResult{Steering: g.lastSteering, Throttle: 1, Tgo: g.Tgo}, err
			}
			return CycleResult{Steering: g.lastSteering, Throttle: 1, Tgo: g.Tgo, Converged: false}, nil
		}

		// Step 4: thrust integrals.
		var moments thrustMoments
		for i, p := range params {
			dt := p.tb
			if i == lastIdx {
				dt = terminalTb
			}
			local := stageLocalMoments(p, dt)
			off := offsetMoments(moments, local, dt)
			moments.L += off.L
			moments.J += off.J
			moments.S += off.S
			moments.Q += off.Q
			moments.H += off.H
		}
		L, J, S, Q, H := moments.L, moments.J, moments.S, moments.Q, moments.H

		// Step 5: guidance vectors.
		lambda := g.Vgo.Unit()
		if lambda.IsZero() {
			lambda = g.lastSteering
		}
		if g.Tgo > 0 {
			ratio := tgoNew / g.Tgo
			g.Rgrav = g.Rgrav.Scale(ratio * ratio)
		}

		iy := target.Normal.Scale(-1)
		iz := g.Rd.Cross(iy).Unit()

		rgo := g.Rd.Sub(r.Add(v.Scale(tgoNew)).Add(g.Rgrav))
		rgo = rgo.Sub(iz.Scale(iz.Dot(rgo)))
		rgo = rgo.Add(g.Rbias)
		g.LastRgo = rgo

		denom := Q - S*J/L
		if math.Abs(denom) < cseMinDenominator {
			denom = math.Copysign(cseMinDenominator, denom)
		}
		lambdadot := rgo.Sub(lambda.Scale(S)).Scale(1 / denom)

		jOverL := J / L
		iF := lambda.Sub(lambdadot.Scale(jOverL)).Unit()
		if iF.IsZero() {
			iF = lambda
		}

		phi := math.Acos(clamp(iF.Dot(lambda), -1, 1))
		var phidot float64
		if math.Abs(J) > cseMinDenominator {
			phidot = -phi * L / J
		}

		vthrustScalar := L - 0.5*L*phi*phi - J*phi*phidot - 0.5*H*phidot*phidot
		vthrust := lambda.Scale(vthrustScalar)

		rthrustScalar := S - S*phi*phi/6 - Q*phi*phidot/2
		lambdadotUnit := lambdadot.Unit()
		rthrust := lambda.Scale(rthrustScalar).Sub(lambdadotUnit.Scale(S*phi + Q*phidot))

		vbias := g.Vgo.Sub(vthrust)
		g.Rbias = rgo.Sub(rthrust)

		// Step 6: free-flight estimation via CSE.
		rc1 := r.Sub(rthrust.Scale(0.1)).Sub(vthrust.Scale(tgoNew / 30))
		vc1 := v.Add(rthrust.Scale(1.2 / math.Max(tgoNew, cseMinDenominator))).Sub(vthrust.Scale(0.1))
		rend, vend, newWarm, err := ConicStateExtrapolate(rc1, vc1, tgoNew, Mu, g.Cse, cfg.CSEMaxIterations)
		if err != nil {
			g.FailCount++
			return CycleResult{Steering: g.lastSteering, Throttle: 1, Tgo: g.Tgo}, fmt.Errorf("upfg: free-flight estimate: %w", err)
		}
		g.Cse = newWarm
		rgravNew := rend.Sub(rc1).Sub(vc1.Scale(tgoNew))
		vgrav := vend.Sub(vc1)

		// Step 7: target update.
		rp := r.Add(v.Scale(tgoNew)).Add(rgravNew).Add(rthrust)
		rpInPlane := rp.Sub(iy.Scale(iy.Dot(rp)))
		rpUnit := rpInPlane.Unit()
		if rpUnit.IsZero() {
			rpUnit = g.Rd.Unit()
		}
		g.Rd = rpUnit.Scale(target.CutoffRadius)
		g.Rgrav = rgravNew

		ix := g.Rd.Unit()
		izNew := ix.Cross(iy)
		horiz := izNew.Cross(ix).Unit()
		sFpa, cFpa := math.Sincos(target.CutoffFlightPathAngle)
		vDesired := ix.Scale(target.CutoffSpeed * sFpa).Add(horiz.Scale(target.CutoffSpeed * cFpa))
		g.Vgo = vDesired.Sub(v).Sub(vgrav).Add(vbias)

		// Step 8: thrust throttle, for a mode-2 current stage.
		throttle := 1.0
		cur := stages[0]
		if cur.Mode == ConstantAccel {
			liveAccel := cur.Thrust / mass
			if liveAccel > 0 {
				throttle = clamp(cur.GLim*G0/liveAccel, 0, 1)
			}
		}
		steering := iF.Scale(throttle)

		// Step 9: convergence.
		converged := false
		if g.Tgo > 0 {
			if math.Abs(tgoNew-g.Tgo)/g.Tgo < cfg.ConvergenceTolerance {
				converged = true
			}
		}
		if converged {
			g.ConsecutiveConverged++
			g.Phase = UPFGConverged
		} else {
			g.ConsecutiveConverged = 0
			if g.Phase == UPFGInitialized {
				g.Phase = UPFGConverging
			}
		}

		out := steering
		if !converged {
			out = g.lastSteering
		}
		g.lastSteering = out

		g.Tgo = tgoNew
		g.Tb += t - g.TLast
		g.TLast = t
		g.FailCount = 0

		g.logger.Log("level", "debug", "event", "cycle", "tgo", tgoNew, "converged", converged)
		if g.tele != nil {
			g.tele.ObserveCycle(time.Since(start), tgoNew, converged)
		}

		return CycleResult{Steering: out, Throttle: throttle, Tgo: tgoNew, Converged: converged}, nil
	}
}

// UPFGDisplay is the {tb, tgo, |vgo|, |rgo|, |rgrav|, |rbias|} table spec.md
// section 6's get_upfg_display() exposes to telemetry/visualization
// consumers.
type UPFGDisplay struct {
	Tb       float64
	Tgo      float64
	VgoMag   float64
	RgoMag   float64
	RgravMag float64
	RbiasMag float64
}

// Display returns the current get_upfg_display() snapshot. A pure read: it
// never mutates g.
func (g *UPFGState) Display() UPFGDisplay {
	return UPFGDisplay{
		Tb:       g.Tb,
		Tgo:      g.Tgo,
		VgoMag:   g.Vgo.Norm(),
		RgoMag:   g.LastRgo.Norm(),
		RgravMag: g.Rgrav.Norm(),
		RbiasMag: g.Rbias.Norm(),
	}
}
