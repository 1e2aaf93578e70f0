package upfg

import (
	"os"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/soniakeys/meeus/julian"
)

// NewLogger builds the package's structured logfmt logger, timestamped and
// leveled the way the teacher's spacecraft.go SCLogInit builds its logger.
// Callers typically wrap the result with kitlog.With to add a "subsys" tag
// before handing it to a Vehicle/Simulator/UPFGState.
func NewLogger(w *os.File) kitlog.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
	return logger
}

// RunTelemetry is the per-run identity and metric set a caller may thread
// through the guidance/physics tasks. Nothing here is persisted across
// runs; it exists purely for in-process observability (SPEC_FULL.md
// section 4.10).
type RunTelemetry struct {
	RunID string

	registry      *prometheus.Registry
	cycleDuration prometheus.Histogram
	cycleCount    *prometheus.CounterVec
	tgoGauge      prometheus.Gauge
}

// NewRunTelemetry creates a fresh run identity and registers its collectors
// against reg. reg may be nil, in which case the collectors are created but
// never registered: the guidance core never opens an HTTP listener or picks
// a registry on the caller's behalf.
func NewRunTelemetry(reg *prometheus.Registry) *RunTelemetry {
	rt := &RunTelemetry{
		RunID: uuid.New().String(),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "upfg",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of a single UPFG guidance cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		cycleCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upfg",
			Name:      "cycles_total",
			Help:      "UPFG guidance cycles processed, partitioned by outcome.",
		}, []string{"outcome"}),
		tgoGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "upfg",
			Name:      "time_to_go_seconds",
			Help:      "Most recently computed burn time-to-go.",
		}),
	}
	if reg != nil {
		reg.MustRegister(rt.cycleDuration, rt.cycleCount, rt.tgoGauge)
	}
	rt.registry = reg
	return rt
}

// GetRunID returns this run's identifier, spec.md section 6's
// get_run_id() read accessor (SPEC_FULL.md section 6 expansion).
func (rt *RunTelemetry) GetRunID() string {
	return rt.RunID
}

// GetMetricsRegistry returns the Prometheus registry this run's collectors
// were registered against, or nil if the caller supplied none at
// construction (SPEC_FULL.md section 6 expansion). The core never opens an
// HTTP listener on this registry itself.
func (rt *RunTelemetry) GetMetricsRegistry() *prometheus.Registry {
	return rt.registry
}

// ObserveCycle records the outcome of one guidance cycle.
func (rt *RunTelemetry) ObserveCycle(d time.Duration, tgo float64, converged bool) {
	if rt == nil {
		return
	}
	rt.cycleDuration.Observe(d.Seconds())
	rt.tgoGauge.Set(tgo)
	outcome := "converged"
	if !converged {
		outcome = "converging"
	}
	rt.cycleCount.WithLabelValues(outcome).Inc()
}

// ObserveFailure records a guidance cycle that returned an error.
func (rt *RunTelemetry) ObserveFailure() {
	if rt == nil {
		return
	}
	rt.cycleCount.WithLabelValues("failed").Inc()
}

// MissionClock wraps the wall-clock epoch a mission started at, separate
// from the internal simulation time t carried by SimState. JulianDay is
// display-only: no production guidance or physics decision depends on it.
type MissionClock struct {
	Epoch time.Time
}

// NewMissionClock captures epoch as the mission's t=0 wall-clock reference.
func NewMissionClock(epoch time.Time) MissionClock {
	return MissionClock{Epoch: epoch}
}

// At returns the wall-clock time corresponding to internal simulation time
// t seconds past the mission epoch.
func (m MissionClock) At(t float64) time.Time {
	return m.Epoch.Add(time.Duration(t * float64(time.Second)))
}

// JulianDay returns the Julian day number for simulation time t, for
// display/logging purposes only, mirroring the teacher's celestial.go use
// of julian.TimeToJD for ephemeris lookups.
func (m MissionClock) JulianDay(t float64) float64 {
	return julian.TimeToJD(m.At(t))
}
