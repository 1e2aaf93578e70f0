package upfg

import "math"

// Physical constants. These must match bit-for-bit across the core for
// trajectories to be reproducible (spec.md section 6).
const (
	// RE is the Earth's mean radius, in meters.
	RE = 6_371_000.0
	// Mu is the Earth gravitational parameter, in m^3/s^2.
	Mu = 3.986e14
	// G0 is standard gravity, in m/s^2.
	G0 = 9.80665
	// OmegaE is the Earth rotation rate, in rad/s.
	OmegaE = 7.2921150e-5

	deg2rad = math.Pi / 180
	rad2deg = 1 / deg2rad
)

// Deg2rad converts degrees to radians.
func Deg2rad(a float64) float64 { return a * deg2rad }

// Rad2deg converts radians to degrees.
func Rad2deg(a float64) float64 { return a * rad2deg }
