package upfg

import (
	"math"

	"github.com/gonum/floats"
	"github.com/gonum/matrix/mat64"
)

// Vec3 is a 3-element vector. Passed and returned by value so the hot
// guidance and integration paths never allocate for ordinary vector math.
type Vec3 [3]float64

// Norm returns the Euclidean norm of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Unit returns the unit vector of v, or the zero vector if v is (numerically)
// the zero vector. Callers on the guidance hot path that need a
// previous-value fallback (spec.md section 7.4) hold onto their own last
// known-good unit vector and substitute it when Unit returns zero.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if floats.EqualWithinAbs(n, 0, 1e-12) {
		return Vec3{}
	}
	return Vec3{v[0] / n, v[1] / n, v[2] / n}
}

// IsZero reports whether v is the zero vector to within 1e-12.
func (v Vec3) IsZero() bool {
	return floats.EqualWithinAbs(v.Norm(), 0, 1e-12)
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns s*v.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{s * v[0], s * v[1], s * v[2]}
}

// Dot returns the inner product of v and w.
func (v Vec3) Dot(w Vec3) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Cross returns v x w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Slice returns v as a freshly allocated []float64, for interop with
// gonum/matrix or other callers that need a slice.
func (v Vec3) Slice() []float64 {
	return []float64{v[0], v[1], v[2]}
}

// VecFromSlice builds a Vec3 from the first three elements of s.
func VecFromSlice(s []float64) Vec3 {
	return Vec3{s[0], s[1], s[2]}
}

// SphToCart converts spherical coordinates (latitude, longitude, radius) to
// a Cartesian vector with Z as the polar axis.
func SphToCart(lat, lon, r float64) Vec3 {
	sLat, cLat := math.Sincos(lat)
	sLon, cLon := math.Sincos(lon)
	return Vec3{r * cLat * cLon, r * cLat * sLon, r * sLat}
}

// EastUnit returns the local east-pointing unit vector at position r.
func EastUnit(r Vec3) Vec3 {
	return Vec3{-r[1], r[0], 0}.Unit()
}

// NorthUnit returns the local north-pointing unit vector at position r.
func NorthUnit(r Vec3) Vec3 {
	return r.Unit().Cross(EastUnit(r)).Unit()
}

// ComputeVelocity builds a velocity vector from speed, flight-path angle and
// heading (measured east-of-north) at local position r.
func ComputeVelocity(r Vec3, speed, fpa, heading float64) Vec3 {
	east := EastUnit(r)
	north := NorthUnit(r)
	up := r.Unit()
	sFpa, cFpa := math.Sincos(fpa)
	sHdg, cHdg := math.Sincos(heading)
	horiz := north.Scale(cHdg).Add(east.Scale(sHdg))
	return horiz.Scale(speed * cFpa).Add(up.Scale(speed * sFpa))
}

// Rodrigues rotates v about the unit axis by angle (radians) using Rodrigues'
// rotation formula.
func Rodrigues(v, axis Vec3, angle float64) Vec3 {
	s, c := math.Sincos(angle)
	term1 := v.Scale(c)
	term2 := axis.Cross(v).Scale(s)
	term3 := axis.Scale(axis.Dot(v) * (1 - c))
	return term1.Add(term2).Add(term3)
}

// OrbitNormal returns the unit orbit-normal vector for the given inclination
// and longitude of ascending node.
func OrbitNormal(incRad, lanRad float64) Vec3 {
	sInc, cInc := math.Sincos(incRad)
	sLan, cLan := math.Sincos(lanRad)
	return Vec3{sInc * sLan, -sInc * cLan, cInc}
}

// GravAccel returns the two-body gravitational acceleration at position r.
func GravAccel(r Vec3) Vec3 {
	n := r.Norm()
	return r.Scale(-Mu / (n * n * n))
}

// rotAboutZ returns the 3x3 rotation matrix about the Z axis by angle theta,
// built on gonum/matrix/mat64 the way the teacher's rotation.go builds its
// R1/R2/R3 matrices.
func rotAboutZ(theta float64) *mat64.Dense {
	s, c := math.Sincos(theta)
	return mat64.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

func mulDenseVec(m *mat64.Dense, v Vec3) Vec3 {
	vVec := mat64.NewVector(3, v.Slice())
	var out mat64.Vector
	out.MulVec(m, vVec)
	return Vec3{out.At(0, 0), out.At(1, 0), out.At(2, 0)}
}

// EciToEcef rotates a position/velocity pair from ECI to ECEF at time t
// (seconds since the ECI/ECEF frames coincided).
func EciToEcef(r, v Vec3, t float64) (Vec3, Vec3) {
	theta := OmegaE * t
	rot := rotAboutZ(theta)
	rEcef := mulDenseVec(rot, r)
	omega := Vec3{0, 0, OmegaE}
	vInertialLessRot := v.Sub(omega.Cross(r))
	vEcef := mulDenseVec(rot, vInertialLessRot)
	return rEcef, vEcef
}

// EcefToEci rotates a position/velocity pair from ECEF to ECI at time t.
func EcefToEci(r, v Vec3, t float64) (Vec3, Vec3) {
	theta := -OmegaE * t
	rot := rotAboutZ(theta)
	rEci := mulDenseVec(rot, r)
	vRotated := mulDenseVec(rot, v)
	omega := Vec3{0, 0, OmegaE}
	vEci := vRotated.Add(omega.Cross(rEci))
	return rEci, vEci
}

// LaunchAzimuthRotating returns the launch azimuth (radians, measured east of
// north) needed to reach the given inclination from the given latitude,
// accounting for the Earth's rotation, given the target orbital speed.
func LaunchAzimuthRotating(lat, incRad, vOrbit float64) float64 {
	a := math.Asin(math.Cos(incRad) / math.Cos(lat))
	sA, cA := math.Sincos(a)
	return math.Atan2(vOrbit*sA-OmegaE*RE*math.Cos(lat), vOrbit*cA)
}

// Kepler holds the classical orbital elements derived from a Cartesian
// state, plus the derived apoapsis/periapsis radii, in the convention of
// spec.md section 4.1's cart_to_kepler.
type Kepler struct {
	A, E, I, LAN, ArgP, Nu, MeanAnomaly float64
	Apoapsis, Periapsis                float64
}

// CartToKepler derives the classical orbital elements from a Cartesian
// position/velocity pair about a body with gravitational parameter mu.
// The equatorial edge case (zero node vector) sets LAN = ArgP = 0, per
// spec.md section 4.1.
func CartToKepler(r, v Vec3, mu float64) Kepler {
	hVec := r.Cross(v)
	nVec := Vec3{0, 0, 1}.Cross(hVec)
	nMag := nVec.Norm()
	rMag := r.Norm()
	vMag := v.Norm()

	xi := vMag*vMag/2 - mu/rMag
	a := -mu / (2 * xi)

	var eVec Vec3
	for i := 0; i < 3; i++ {
		eVec[i] = ((vMag*vMag-mu/rMag)*r[i] - r.Dot(v)*v[i]) / mu
	}
	e := eVec.Norm()

	i := math.Acos(clamp(hVec[2]/hVec.Norm(), -1, 1))

	var lan, argp float64
	if floats.EqualWithinAbs(nMag, 0, 1e-9) {
		lan = 0
		argp = 0
	} else {
		lan = math.Acos(clamp(nVec[0]/nMag, -1, 1))
		if nVec[1] < 0 {
			lan = 2*math.Pi - lan
		}
		if e > 1e-9 {
			argp = math.Acos(clamp(nVec.Dot(eVec)/(nMag*e), -1, 1))
			if eVec[2] < 0 {
				argp = 2*math.Pi - argp
			}
		}
	}

	var nu float64
	if e > 1e-9 {
		nu = math.Acos(clamp(eVec.Dot(r)/(e*rMag), -1, 1))
	} else if !floats.EqualWithinAbs(nMag, 0, 1e-9) {
		nu = math.Acos(clamp(nVec.Dot(r)/(nMag*rMag), -1, 1))
		if r[2] < 0 {
			nu = 2*math.Pi - nu
		}
	} else {
		nu = math.Acos(clamp(r[0]/rMag, -1, 1))
		if r[1] < 0 {
			nu = 2*math.Pi - nu
		}
	}
	if r.Dot(v) < 0 && e > 1e-9 {
		nu = 2*math.Pi - nu
	}

	sinE, cosE := sinCosE(e, nu)
	eAnom := math.Atan2(sinE, cosE)
	meanAnomaly := eAnom - e*sinE

	return Kepler{
		A: a, E: e, I: i, LAN: lan, ArgP: argp, Nu: nu,
		MeanAnomaly: meanAnomaly,
		Apoapsis:    a * (1 + e),
		Periapsis:   a * (1 - e),
	}
}

func sinCosE(e, nu float64) (sinE, cosE float64) {
	sNu, cNu := math.Sincos(nu)
	denom := 1 + e*cNu
	sinE = math.Sqrt(math.Max(0, 1-e*e)) * sNu / denom
	cosE = (e + cNu) / denom
	return
}

func asinClamped(x float64) float64 {
	return math.Asin(clamp(x, -1, 1))
}

func atan2(y, x float64) float64 {
	return math.Atan2(y, x)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
