package recon

import (
	"math"
	"strconv"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// rtsDetFloor is the determinant below which the predicted covariance
// is treated as singular and the smoother falls back to the forward
// estimate for that step.
const rtsDetFloor = 1e-12

// axisState is the constant-velocity state of one coordinate axis.
type axisState struct {
	pos float64
	vel float64
	// Covariance, row-major 2x2.
	p [4]float64
}

// axisStep stores both halves of one forward-filter step, needed by the
// backward smoothing pass.
type axisStep struct {
	dt        float64
	predicted axisState
	corrected axisState
}

// kalmanAxis runs the forward constant-velocity filter and the backward
// RTS pass on one scalar channel over the full high-rate timebase.
// measurements maps a three-decimal timestamp key to the measured
// value; instants without a measurement are predict-only. r and q are
// already in the channel's squared units.
func kalmanAxis(timebase []float64, measurements map[string]float64, r, q, initialP float64) []float64 {
	n := len(timebase)
	if n == 0 {
		return nil
	}

	steps := make([]axisStep, n)

	// Initial state: first measurement if one exists at t0, else zero
	// position with wide-open covariance either way.
	state := axisState{p: [4]float64{initialP, 0, 0, initialP}}
	if v, ok := measurements[timestampKey(timebase[0])]; ok {
		state.pos = v
	}
	steps[0] = axisStep{predicted: state, corrected: state}
	if v, ok := measurements[timestampKey(timebase[0])]; ok {
		steps[0].corrected = scalarUpdate(state, v, r)
	}

	for i := 1; i < n; i++ {
		dt := timebase[i] - timebase[i-1]
		prev := steps[i-1].corrected

		pred := prev
		if dt > 0 {
			pred = predictAxis(prev, dt, q)
		}

		corr := pred
		if v, ok := measurements[timestampKey(timebase[i])]; ok {
			corr = scalarUpdate(pred, v, r)
		}

		steps[i] = axisStep{dt: dt, predicted: pred, corrected: corr}
	}

	// Backward Rauch-Tung-Striebel pass.
	smoothed := make([]axisState, n)
	smoothed[n-1] = steps[n-1].corrected
	for i := n - 2; i >= 0; i-- {
		next := steps[i+1]
		cur := steps[i].corrected

		// A zero-dt step has no predict, so the duplicate instant
		// carries the same smoothed estimate as its successor.
		if next.dt <= 0 {
			smoothed[i] = smoothed[i+1]
			continue
		}

		det := next.predicted.p[0]*next.predicted.p[3] - next.predicted.p[1]*next.predicted.p[2]
		if math.Abs(det) < rtsDetFloor {
			smoothed[i] = cur
			continue
		}

		inv := [4]float64{
			next.predicted.p[3] / det, -next.predicted.p[1] / det,
			-next.predicted.p[2] / det, next.predicted.p[0] / det,
		}

		// C = P+ * F(dt)^T * (P-)^-1 with F = [[1, dt], [0, 1]].
		dt := next.dt
		pf := [4]float64{
			cur.p[0] + dt*cur.p[1], cur.p[1],
			cur.p[2] + dt*cur.p[3], cur.p[3],
		}
		c := [4]float64{
			pf[0]*inv[0] + pf[1]*inv[2], pf[0]*inv[1] + pf[1]*inv[3],
			pf[2]*inv[0] + pf[3]*inv[2], pf[2]*inv[1] + pf[3]*inv[3],
		}

		dPos := smoothed[i+1].pos - next.predicted.pos
		dVel := smoothed[i+1].vel - next.predicted.vel

		smoothed[i] = axisState{
			pos: cur.pos + c[0]*dPos + c[1]*dVel,
			vel: cur.vel + c[2]*dPos + c[3]*dVel,
		}
	}

	out := make([]float64, n)
	for i, s := range smoothed {
		out[i] = s.pos
	}
	return out
}

// predictAxis advances the state by dt under the constant-velocity
// model with continuous-time process noise intensity q.
func predictAxis(s axisState, dt, q float64) axisState {
	out := axisState{
		pos: s.pos + dt*s.vel,
		vel: s.vel,
	}

	// P' = F P F^T + Qd(dt)
	p00 := s.p[0] + dt*(s.p[1]+s.p[2]) + dt*dt*s.p[3]
	p01 := s.p[1] + dt*s.p[3]
	p10 := s.p[2] + dt*s.p[3]
	p11 := s.p[3]

	dt2 := dt * dt
	out.p = [4]float64{
		p00 + dt2*dt2/4*q, p01 + dt2*dt/2*q,
		p10 + dt2*dt/2*q, p11 + dt2*q,
	}
	return out
}

// scalarUpdate applies a position-only measurement with variance r.
func scalarUpdate(s axisState, z, r float64) axisState {
	innov := z - s.pos
	sVar := s.p[0] + r
	if sVar <= 0 {
		return s
	}
	k0 := s.p[0] / sVar
	k1 := s.p[2] / sVar

	out := axisState{
		pos: s.pos + k0*innov,
		vel: s.vel + k1*innov,
	}
	out.p = [4]float64{
		(1 - k0) * s.p[0], (1 - k0) * s.p[1],
		s.p[2] - k1*s.p[0], s.p[3] - k1*s.p[1],
	}
	return out
}

// ApplyKalmanRTS reconstructs a dense positional estimate by running
// the forward/backward smoother independently on the latitude and
// longitude channels over the full high-rate timebase. The configured
// variances are in metres and converted to degrees at the lap's
// reference latitude before use.
func ApplyKalmanRTS(fixes []telemetry.DownsampledFix, timebase []float64, cfg *config.TuningConfig) []telemetry.Fix {
	if len(fixes) == 0 || len(timebase) == 0 {
		return nil
	}

	latMeas := make(map[string]float64, len(fixes))
	lonMeas := make(map[string]float64, len(fixes))
	for _, f := range fixes {
		key := timestampKey(f.Timestamp)
		latMeas[key] = f.Lat
		lonMeas[key] = f.Lon
	}

	// Metres to degrees at the reference latitude. The filter operates
	// on raw lat/lon, so variances scale by the squared conversion.
	k := cfg.GetMetersPerDegLat()
	lat0 := fixes[0].Lat
	latScale := 1 / k
	lonScale := 1 / (k * math.Cos(lat0*math.Pi/180))

	r := cfg.GetKalmanR()
	q := cfg.GetKalmanQ()
	initialP := cfg.GetKalmanInitialP()

	lats := kalmanAxis(timebase, latMeas, r*latScale*latScale, q*latScale*latScale, initialP)
	lons := kalmanAxis(timebase, lonMeas, r*lonScale*lonScale, q*lonScale*lonScale, initialP)

	out := make([]telemetry.Fix, len(timebase))
	for i, t := range timebase {
		out[i] = telemetry.Fix{Timestamp: t, Lat: lats[i], Lon: lons[i]}
	}
	return out
}

// timestampKey renders a timestamp with exactly three decimal places.
// Both the metric aggregator and the measurement lookup use this same
// quantisation so scores are reproducible bit-exactly.
func timestampKey(t float64) string {
	return strconv.FormatFloat(t, 'f', 3, 64)
}
