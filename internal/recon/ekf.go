package recon

import (
	"math"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/mat"
	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// EKF state vector indices: east/north position (m), east/north
// velocity (m/s), heading (rad, clockwise from north), body-frame
// accelerometer biases (m/s²).
const (
	ekfPx = iota
	ekfPy
	ekfVx
	ekfVy
	ekfPsi
	ekfBax
	ekfBay

	ekfStateDim = 7
)

// Initial covariance diagonal at heading acquisition.
var ekfInitialVariances = [ekfStateDim]float64{10, 10, 1, 1, 0.1, 0.1, 0.1}

// ekfLifecycle is the filter's state machine. The filter starts
// uninitialised and transitions to running on the first fix fast
// enough to trust its bearing; running is terminal for the lap.
type ekfLifecycle int

const (
	ekfUninit ekfLifecycle = iota
	ekfRunning
)

// Ekf is the seven-state fuser of positional fixes and body-frame
// inertial measurements. It owns its state vector and covariance; only
// its own methods mutate them.
type Ekf struct {
	lifecycle ekfLifecycle

	// Local tangent-plane reference, set at initialisation.
	lat0 float64
	lon0 float64

	x []float64
	p mat.Matrix

	// Noise intensities and physical constants, captured from config at
	// construction.
	sigmaAccel2  float64
	sigmaGyro2   float64
	sigmaBias2   float64
	defaultR     float64
	gravity      float64
	metersPerDeg float64

	skippedUpdates int
}

// NewEkf builds an uninitialised filter with the configured noise
// intensities.
func NewEkf(cfg *config.TuningConfig) *Ekf {
	sa := cfg.GetEkfSigmaAccel()
	sg := cfg.GetEkfSigmaGyro()
	sb := cfg.GetEkfSigmaBias()
	return &Ekf{
		sigmaAccel2:  sa * sa,
		sigmaGyro2:   sg * sg,
		sigmaBias2:   sb * sb,
		defaultR:     cfg.GetEkfGpsPosNoise(),
		gravity:      cfg.GetGravity(),
		metersPerDeg: cfg.GetMetersPerDegLat(),
	}
}

// Init establishes the tangent-plane reference at the fix and seeds
// the state from its speed and bearing.
func (e *Ekf) Init(fix telemetry.DownsampledFix) {
	e.lat0 = fix.Lat
	e.lon0 = fix.Lon

	psi := fix.Bearing * math.Pi / 180

	e.x = make([]float64, ekfStateDim)
	e.x[ekfPsi] = geo.NormalizeAngle(psi)
	e.x[ekfVx] = fix.Speed * math.Sin(psi)
	e.x[ekfVy] = fix.Speed * math.Cos(psi)

	e.p = mat.Zero(ekfStateDim, ekfStateDim)
	for i, v := range ekfInitialVariances {
		e.p[i][i] = v
	}

	e.lifecycle = ekfRunning
}

// Running reports whether the filter has acquired a heading.
func (e *Ekf) Running() bool {
	return e.lifecycle == ekfRunning
}

// Predict propagates the state through one IMU sample. The sample's
// lateral/longitudinal channels are proper acceleration in G and its
// yaw rate is in deg/s; the source conventions are inverted relative
// to the filter frame (lateral positive right, yaw positive clockwise),
// so fixed negations are applied here. A non-positive dt is a no-op.
func (e *Ekf) Predict(sample telemetry.EnrichedPoint, dt float64) {
	if e.lifecycle != ekfRunning || dt <= 0 {
		return
	}

	g := e.gravity
	aLat := -sample.LateralAcc*g - e.x[ekfBax]
	aLon := sample.LongitudinalAcc*g - e.x[ekfBay]
	omegaZ := -sample.YawRate * math.Pi / 180

	psi := e.x[ekfPsi]
	sinPsi, cosPsi := math.Sin(psi), math.Cos(psi)

	// Body to world: heading clockwise from north, east +x, north +y.
	axW := aLat*cosPsi + aLon*sinPsi
	ayW := -aLat*sinPsi + aLon*cosPsi

	// Constant-acceleration integration.
	e.x[ekfPx] += e.x[ekfVx]*dt + 0.5*axW*dt*dt
	e.x[ekfPy] += e.x[ekfVy]*dt + 0.5*ayW*dt*dt
	e.x[ekfVx] += axW * dt
	e.x[ekfVy] += ayW * dt
	e.x[ekfPsi] = geo.NormalizeAngle(psi + omegaZ*dt)
	// Biases evolve as a random walk: no deterministic change.

	// Jacobian of the transition about the pre-update state.
	f := mat.Identity(ekfStateDim)
	f[ekfPx][ekfVx] = dt
	f[ekfPy][ekfVy] = dt

	// d(axW)/dpsi = ayW, d(ayW)/dpsi = -axW.
	halfDt2 := 0.5 * dt * dt
	f[ekfPx][ekfPsi] = halfDt2 * ayW
	f[ekfPy][ekfPsi] = -halfDt2 * axW
	f[ekfVx][ekfPsi] = dt * ayW
	f[ekfVy][ekfPsi] = -dt * axW

	// d(aLat)/dbax = -1, d(aLon)/dbay = -1.
	f[ekfPx][ekfBax] = -halfDt2 * cosPsi
	f[ekfPx][ekfBay] = -halfDt2 * sinPsi
	f[ekfPy][ekfBax] = halfDt2 * sinPsi
	f[ekfPy][ekfBay] = -halfDt2 * cosPsi
	f[ekfVx][ekfBax] = -dt * cosPsi
	f[ekfVx][ekfBay] = -dt * sinPsi
	f[ekfVy][ekfBax] = dt * sinPsi
	f[ekfVy][ekfBay] = -dt * cosPsi

	q := mat.Zero(ekfStateDim, ekfStateDim)
	dt2 := dt * dt
	qPos := e.sigmaAccel2 * dt2 * dt2 / 4
	qVel := e.sigmaAccel2 * dt2
	q[ekfPx][ekfPx] = qPos
	q[ekfPy][ekfPy] = qPos
	q[ekfVx][ekfVx] = qVel
	q[ekfVy][ekfVy] = qVel
	q[ekfPsi][ekfPsi] = e.sigmaGyro2 * dt2
	q[ekfBax][ekfBax] = e.sigmaBias2 * dt
	q[ekfBay][ekfBay] = e.sigmaBias2 * dt

	e.p = mat.Symmetrize(mat.Add(mat.Mul(f, mat.Mul(e.p, mat.Transpose(f))), q))
}

// Update corrects the state with a positional fix. The fix's reported
// accuracy sets the measurement noise; a singular innovation covariance
// skips the update rather than aborting the lap.
func (e *Ekf) Update(fix telemetry.DownsampledFix) {
	if e.lifecycle != ekfRunning {
		return
	}

	zx, zy := geo.ToLocal(fix.Lat, fix.Lon, e.lat0, e.lon0, e.metersPerDeg)

	r := fix.Accuracy
	if r <= 0 {
		r = e.defaultR
	}
	r2 := r * r

	// S = H P H^T + R with H selecting (px, py).
	s := mat.Matrix{
		{e.p[ekfPx][ekfPx] + r2, e.p[ekfPx][ekfPy]},
		{e.p[ekfPy][ekfPx], e.p[ekfPy][ekfPy] + r2},
	}
	sInv, ok := mat.Inverse2(s)
	if !ok {
		e.skippedUpdates++
		monitoring.Logf("ekf: singular innovation covariance, skipping update at t=%.3f", fix.Timestamp)
		return
	}

	// K = P H^T S^-1, a 7x2 gain.
	var k [ekfStateDim][2]float64
	for i := 0; i < ekfStateDim; i++ {
		phx := e.p[i][ekfPx]
		phy := e.p[i][ekfPy]
		k[i][0] = phx*sInv[0][0] + phy*sInv[1][0]
		k[i][1] = phx*sInv[0][1] + phy*sInv[1][1]
	}

	innovX := zx - e.x[ekfPx]
	innovY := zy - e.x[ekfPy]
	for i := 0; i < ekfStateDim; i++ {
		e.x[i] += k[i][0]*innovX + k[i][1]*innovY
	}
	e.x[ekfPsi] = geo.NormalizeAngle(e.x[ekfPsi])

	// P = (I - K H) P.
	ikh := mat.Identity(ekfStateDim)
	for i := 0; i < ekfStateDim; i++ {
		ikh[i][ekfPx] -= k[i][0]
		ikh[i][ekfPy] -= k[i][1]
	}
	e.p = mat.Symmetrize(mat.Mul(ikh, e.p))
}

// Position returns the current estimate converted back to lat/lon.
func (e *Ekf) Position() (lat, lon float64) {
	return geo.ToGPS(e.x[ekfPx], e.x[ekfPy], e.lat0, e.lon0, e.metersPerDeg)
}

// Heading returns the current heading in radians, in (-pi, pi].
func (e *Ekf) Heading() float64 {
	return e.x[ekfPsi]
}

// Covariance returns a copy of the current covariance matrix.
func (e *Ekf) Covariance() mat.Matrix {
	return mat.Clone(e.p)
}

// Biases returns the current body-frame accelerometer bias estimates.
func (e *Ekf) Biases() (bax, bay float64) {
	return e.x[ekfBax], e.x[ekfBay]
}

// SkippedUpdates reports how many positional updates were dropped on a
// singular innovation covariance.
func (e *Ekf) SkippedUpdates() int {
	return e.skippedUpdates
}

// ApplyEkf runs the full EKF driver over one lap: it initialises on
// the first fix whose reported speed clears the heading-validity
// threshold, then walks the enriched stream from that index, predicting
// every IMU sample and fusing each fix as its timestamp comes due. One
// output sample is emitted per IMU sample from the initialisation index
// onward. Returns nil when no fix is fast enough to initialise.
func ApplyEkf(enriched []telemetry.EnrichedPoint, fixes []telemetry.DownsampledFix, cfg *config.TuningConfig) []telemetry.Fix {
	minSpeed := cfg.GetEkfMinSpeedForHeading()

	initIdx := -1
	for i, f := range fixes {
		if f.Speed > minSpeed {
			initIdx = i
			break
		}
	}
	if initIdx < 0 {
		return nil
	}

	initFix := fixes[initIdx]
	startIdx := initFix.OriginalIndex
	if startIdx < 0 || startIdx >= len(enriched) {
		// Fix indices refer to the enriched stream; out of range means
		// the caller passed mismatched sequences.
		return nil
	}

	e := NewEkf(cfg)
	e.Init(initFix)

	out := make([]telemetry.Fix, 0, len(enriched)-startIdx)
	lat, lon := e.Position()
	out = append(out, telemetry.Fix{Timestamp: enriched[startIdx].Timestamp, Lat: lat, Lon: lon})

	nextFix := initIdx + 1
	for i := startIdx + 1; i < len(enriched); i++ {
		dt := enriched[i].Timestamp - enriched[i-1].Timestamp
		e.Predict(enriched[i], dt)

		if nextFix < len(fixes) && enriched[i].Timestamp >= fixes[nextFix].Timestamp {
			e.Update(fixes[nextFix])
			nextFix++
		}

		lat, lon = e.Position()
		out = append(out, telemetry.Fix{Timestamp: enriched[i].Timestamp, Lat: lat, Lon: lon})
	}
	return out
}
