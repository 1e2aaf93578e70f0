package upfg

import (
	"math"

	"github.com/gonum/floats"
)

// Target is the immutable target-orbit geometry UPFG steers toward,
// derived once from the mission's orbit spec plus the current launch
// latitude/longitude (spec.md section 4.7). Periapsis is always the
// commanded cutoff point, so CutoffFlightPathAngle is exactly zero: by
// definition radial velocity vanishes at periapsis, independent of
// eccentricity (spec.md section 9, Open Question on flight-path angle).
type Target struct {
	PeriapsisRadius float64
	ApoapsisRadius  float64
	Eccentricity    float64

	CutoffRadius          float64
	CutoffSpeed           float64
	CutoffFlightPathAngle float64

	Inclination float64
	LAN         float64
	Normal      Vec3
}

// NewTarget derives the target geometry from an orbit spec (periapsis and
// apoapsis altitude in km, inclination in degrees, and an optional LAN in
// degrees) plus the vehicle's current launch latitude/longitude (radians).
// When lanDeg is nil the LAN is solved from the spherical triangle relating
// launch latitude, inclination and longitude (spec.md section 4.7); if that
// geometry is unreachable (the resulting asin argument has |arg| > 1) LAN
// falls back to 0, per spec.md section 9's resolution of that open
// question.
func NewTarget(peKm, apKm, incDeg float64, lanDeg *float64, launchLat, launchLon float64) Target {
	pe := peKm*1000 + RE
	ap := apKm*1000 + RE
	ecc := (ap - pe) / (ap + pe)
	sma := (pe + ap) / 2
	vd := math.Sqrt(Mu * (2/pe - 1/sma))
	incRad := Deg2rad(incDeg)

	var lan float64
	if lanDeg != nil {
		lan = Deg2rad(*lanDeg)
	} else {
		lan = autoLAN(launchLat, launchLon, incRad)
	}

	return Target{
		PeriapsisRadius:       pe,
		ApoapsisRadius:        ap,
		Eccentricity:          ecc,
		CutoffRadius:          pe,
		CutoffSpeed:           vd,
		CutoffFlightPathAngle: 0,
		Inclination:           incRad,
		LAN:                   lan,
		Normal:                OrbitNormal(incRad, lan),
	}
}

// autoLAN solves the spherical triangle relating launch latitude, orbital
// inclination and longitude for the ascending node, falling back to 0 when
// the launch site cannot reach the requested inclination.
func autoLAN(lat, lon, incRad float64) float64 {
	b := math.Asin(math.Tan(lat) / math.Tan(incRad))
	if math.IsNaN(b) {
		return 0
	}
	return lon - b
}

// TargetDisplayRow is one row of the (param, actual, target) table spec.md
// section 6's get_target_display() exposes to telemetry/visualization
// consumers.
type TargetDisplayRow struct {
	Param         string
	Actual        float64
	Target        float64
	WithinEpsilon bool
}

// Display builds the get_target_display() table comparing the vehicle's
// current osculating elements against this Target's {ap, pe, inc, LAN, ecc}.
// WithinEpsilon uses the teacher's gonum/floats.EqualWithinAbs idiom with a
// 1e-3 relative-scale tolerance, purely as a telemetry convenience flag; it
// never feeds back into guidance decisions.
func (t Target) Display(current Kepler) []TargetDisplayRow {
	eps := func(actual, target float64) bool {
		tol := 1e-3 * math.Max(1, math.Abs(target))
		return floats.EqualWithinAbs(actual, target, tol)
	}
	rows := []struct {
		param          string
		actual, target float64
	}{
		{"ap", current.Apoapsis, t.ApoapsisRadius},
		{"pe", current.Periapsis, t.PeriapsisRadius},
		{"inc", current.I, t.Inclination},
		{"LAN", current.LAN, t.LAN},
		{"ecc", current.E, t.Eccentricity},
	}
	out := make([]TargetDisplayRow, len(rows))
	for i, r := range rows {
		out[i] = TargetDisplayRow{Param: r.param, Actual: r.actual, Target: r.target, WithinEpsilon: eps(r.actual, r.target)}
	}
	return out
}
