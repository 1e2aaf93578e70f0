package upfg

import (
	"fmt"
	"math"

	"github.com/gonum/floats"
)

// cseMaxIterations is the hard iteration cap for the universal-variable
// solver (spec.md section 4.2's imax). No consumer may block beyond this.
const cseMaxIterations = 10

// cseConvergenceEps is the convergence tolerance on the propagated time,
// expressed in the solver's reduced (dimensionless) units.
const cseConvergenceEps = 1e-6

// cseMinDenominator is the smallest magnitude any divisor in the solver may
// have; anything smaller is clamped to this value (sign-preserving) to avoid
// singularities, per spec.md section 4.2's contract.
const cseMinDenominator = 1e-6

// CSEWarmStart is the small, fixed bag of reduced-unit state the Conic State
// Extrapolator carries between calls to seed its next initial guess. Per
// DESIGN NOTES it is a fixed record embedded in UPFGState, not a
// process-wide map keyed by string.
type CSEWarmStart struct {
	Dtcp float64 // reduced time-of-flight converged to on the previous call
	Xcp  float64 // universal anomaly converged to on the previous call
	A    float64 // reciprocal semi-major axis (reduced units) on that call
	D    float64 // Stumpff c2(psi) at convergence
	E    float64 // Stumpff c3(psi) at convergence
}

// ConicStateExtrapolate propagates (r0, v0) forward by dt seconds under
// two-body gravity (mu) using a warm-started universal-variable Kepler
// solver, returning the new state and the updated warm-start bag. maxIter
// caps both the secant/bracketing loop and the bracket-doubling search
// (spec.md section 4.2's imax); callers thread Config.CSEMaxIterations
// through here rather than relying on a fixed package constant. maxIter <= 0
// falls back to the package default (cseMaxIterations).
//
// It is a deterministic pure function of (r0, v0, dt, warm, maxIter):
// repeated calls with identical inputs return identical outputs, and
// dt == 0 returns (r0, v0) unchanged. It fails only for a zero position
// vector or a non-positive mu.
func ConicStateExtrapolate(r0, v0 Vec3, dt float64, mu float64, warm CSEWarmStart, maxIter int) (r, v Vec3, newWarm CSEWarmStart, err error) {
	if r0.IsZero() {
		return Vec3{}, Vec3{}, warm, fmt.Errorf("upfg: cse: zero position vector")
	}
	if mu <= 0 {
		return Vec3{}, Vec3{}, warm, fmt.Errorf("upfg: cse: non-positive mu %g", mu)
	}
	if dt == 0 {
		return r0, v0, warm, nil
	}
	if maxIter <= 0 {
		maxIter = cseMaxIterations
	}

	// Step 1: normalize to reduced (canonical) units so mu == 1 and
	// |r0hat| == 1, per spec.md section 4.2 step 1.
	du := r0.Norm()
	vu := math.Sqrt(mu / du)
	tu := du / vu
	r0hat := r0.Scale(1 / du)
	v0hat := v0.Scale(1 / vu)
	dthat := dt / tu
	vr0 := r0hat.Dot(v0hat)

	alpha := 2 - v0hat.Dot(v0hat) // reduced: 2/|r0hat| - |v0hat|^2, |r0hat|==1

	x, hasSeed := seedUniversalAnomaly(warm, alpha, dthat)
	if !hasSeed {
		x = initialGuess(alpha, dthat, vr0)
	}

	xlo, xhi := bracketUniversalAnomaly(x, alpha, dthat, vr0, maxIter)

	var rMag, c2, c3 float64
	converged := false
	for iter := 0; iter < maxIter; iter++ {
		psi := x * x * alpha
		c2, c3 = stumpffC2C3(psi)
		rMag = x*x*c2 + vr0*x*(1-psi*c3) + (1 - psi*c2)
		dtCalc := x*x*x*c3 + vr0*x*x*c2 + x*(1-psi*c3)

		residual := dthat - dtCalc
		if math.Abs(residual) < cseConvergenceEps {
			converged = true
			break
		}

		// Track the bracket: dtCalc(x) is monotonically increasing in x.
		if dtCalc < dthat {
			xlo = x
		} else {
			xhi = x
		}

		deriv := rMag
		if math.Abs(deriv) < cseMinDenominator {
			deriv = math.Copysign(cseMinDenominator, deriv)
		}
		xNewton := x + residual/deriv

		if xNewton > xlo && xNewton < xhi {
			x = xNewton
		} else {
			x = 0.5 * (xlo + xhi)
		}
	}
	_ = converged // best-effort: even a non-converged cycle returns its best x

	f := 1 - x*x*c2
	g := dthat - x*x*x*c3
	rMagSafe := rMag
	if math.Abs(rMagSafe) < cseMinDenominator {
		rMagSafe = math.Copysign(cseMinDenominator, rMagSafe)
	}
	psiFinal := x * x * alpha
	fdot := x * (psiFinal*c3 - 1) / rMagSafe
	gdot := 1 - x*x*c2/rMagSafe

	rReduced := r0hat.Scale(f).Add(v0hat.Scale(g))
	vReduced := r0hat.Scale(fdot).Add(v0hat.Scale(gdot))

	r = rReduced.Scale(du)
	v = vReduced.Scale(vu)

	newWarm = CSEWarmStart{Dtcp: dthat, Xcp: x, A: alpha, D: c2, E: c3}
	return r, v, newWarm, nil
}

// seedUniversalAnomaly scales the previous call's converged universal
// anomaly to the new target time, when the warm-start bag looks usable
// (same energy regime, nonzero previous time-of-flight). This is the
// "warm-started universal variables" contract from spec.md section 4.2.
func seedUniversalAnomaly(warm CSEWarmStart, alpha, dthat float64) (float64, bool) {
	if warm.Dtcp == 0 || warm.Xcp == 0 {
		return 0, false
	}
	if math.Signbit(warm.A) != math.Signbit(alpha) {
		return 0, false
	}
	ratio := dthat / warm.Dtcp
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, false
	}
	return warm.Xcp * math.Sqrt(ratio), true
}

// initialGuess picks a starting universal anomaly per spec.md section 4.2
// step 2: elliptic orbits use the mean-motion linear guess (after removing
// whole revolutions); parabolic/hyperbolic orbits use the energy-scaled
// guess that the subsequent doubling-bracket step will refine.
func initialGuess(alpha, dthat, vr0 float64) float64 {
	if alpha > 1e-10 {
		period := 2 * math.Pi / math.Sqrt(alpha*alpha*alpha)
		reduced := math.Mod(dthat, period)
		return math.Sqrt(alpha) * reduced
	}
	if alpha < -1e-10 {
		a := 1 / alpha
		sign := 1.0
		if dthat < 0 {
			sign = -1.0
		}
		num := -2 * alpha * dthat
		denom := vr0 + sign*math.Sqrt(-a)*(1-alpha)
		if math.Abs(denom) < cseMinDenominator {
			denom = math.Copysign(cseMinDenominator, denom)
		}
		arg := num / denom
		if arg <= 0 {
			return sign * math.Sqrt(-a)
		}
		return sign * math.Sqrt(-a) * math.Log(arg)
	}
	return dthat
}

// bracketUniversalAnomaly returns [xlo, xhi] such that the true root lies
// between them, doubling the bound away from the seed for parabolic and
// hyperbolic orbits per spec.md section 4.2 step 2. maxIter caps the
// doubling search the same way it caps the caller's secant loop.
func bracketUniversalAnomaly(xSeed, alpha, dthat, vr0 float64, maxIter int) (xlo, xhi float64) {
	if alpha > 1e-10 {
		period := 2 * math.Pi / math.Sqrt(alpha*alpha*alpha)
		span := math.Sqrt(alpha) * period
		return xSeed - span, xSeed + span
	}
	// Parabolic/hyperbolic: double outward from the seed until the
	// propagated time brackets dthat.
	step := math.Max(math.Abs(xSeed), 1)
	lo, hi := xSeed-step, xSeed+step
	for i := 0; i < maxIter; i++ {
		_, dtHi := evalDt(hi, alpha, vr0)
		_, dtLo := evalDt(lo, alpha, vr0)
		if dtLo <= dthat && dthat <= dtHi {
			return lo, hi
		}
		step *= 2
		lo, hi = xSeed-step, xSeed+step
	}
	return lo, hi
}

func evalDt(x, alpha, vr0 float64) (rMag, dt float64) {
	psi := x * x * alpha
	c2, c3 := stumpffC2C3(psi)
	rMag = x*x*c2 + vr0*x*(1-psi*c3) + (1 - psi*c2)
	dt = x*x*x*c3 + vr0*x*x*c2 + x*(1-psi*c3)
	return
}

// stumpffC2C3 evaluates the universal Stumpff functions c2, c3 at argument
// psi. Near psi == 0 a truncated power series (the USS "k up to 10 terms"
// of spec.md section 4.2) is used to avoid cancellation error; away from
// zero the closed trigonometric/hyperbolic forms are used directly.
func stumpffC2C3(psi float64) (c2, c3 float64) {
	if psi > 1e-6 {
		sqPsi := math.Sqrt(psi)
		s, c := math.Sincos(sqPsi)
		c2 = (1 - c) / psi
		c3 = (sqPsi - s) / (sqPsi * psi)
		return
	}
	if psi < -1e-6 {
		sqPsi := math.Sqrt(-psi)
		c2 = (1 - math.Cosh(sqPsi)) / psi
		c3 = (math.Sinh(sqPsi) - sqPsi) / math.Sqrt(math.Pow(-psi, 3))
		return
	}
	// Series expansion around psi == 0.
	c2, c3 = 1.0/2, 1.0/6
	term2, term3 := 1.0/2, 1.0/6
	for k := 1; k <= 10; k++ {
		term2 *= -psi / float64((2*k+1)*(2*k+2))
		term3 *= -psi / float64((2*k+2)*(2*k+3))
		c2 += term2
		c3 += term3
	}
	return
}

// cseResidualWithinTolerance reports whether the propagated time matches
// the requested time to the spec's reduced-unit tolerance.
func cseResidualWithinTolerance(got, want float64) bool {
	return floats.EqualWithinAbs(got, want, cseConvergenceEps)
}
