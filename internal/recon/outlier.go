package recon

import (
	"math"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// Physics-score weights. The implied-acceleration criterion dominates
// because it is the hardest to fake with plausible noise.
const (
	accelScoreWeight  = 2.0
	yawScoreWeight    = 1.5
	speedScoreWeight  = 1.0
	latAccScoreWeight = 1.0

	// minLatAccSpeed is the reported speed below which the lateral
	// acceleration criterion is unreliable and skipped.
	minLatAccSpeed = 2.0

	// triangleMinBase keeps the leg/base ratio finite when the outer
	// points nearly coincide.
	triangleMinBase = 0.1
)

// Simple-mode limits.
const (
	simpleMaxImpliedSpeed = 100.0 // m/s
	simpleMaxJumpMeters   = 200.0
)

// OutlierScores breaks a physics verdict down by criterion.
type OutlierScores struct {
	Accel  float64
	Yaw    float64
	Speed  float64
	LatAcc float64
}

// Total combines the criterion scores with their fixed weights.
func (s OutlierScores) Total() float64 {
	return accelScoreWeight*s.Accel +
		yawScoreWeight*s.Yaw +
		speedScoreWeight*s.Speed +
		latAccScoreWeight*s.LatAcc
}

// Rejection records one rejected fix with the evidence against it.
type Rejection struct {
	Fix        telemetry.DownsampledFix
	Reason     string
	Scores     OutlierScores
	TotalScore float64
}

// FilterResult partitions an input fix sequence. Kept preserves input
// order; the rejector never reorders survivors.
type FilterResult struct {
	Kept     []telemetry.DownsampledFix
	Rejected []Rejection
}

// FilterOutliers validates a time-ordered fix sequence against its
// inertial channels and splits it into survivors and rejections. The
// rejector is pure: it never errors, and a disabled configuration
// keeps everything.
func FilterOutliers(fixes []telemetry.DownsampledFix, cfg *config.TuningConfig) FilterResult {
	if !cfg.GetOutlierEnabled() || len(fixes) == 0 {
		return FilterResult{Kept: append([]telemetry.DownsampledFix(nil), fixes...)}
	}

	switch cfg.GetOutlierMethod() {
	case config.OutlierMethodSimple:
		return filterSimple(fixes)
	default:
		return filterPhysics(fixes, cfg)
	}
}

// filterSimple rejects on implied speed and jump distance alone.
func filterSimple(fixes []telemetry.DownsampledFix) FilterResult {
	result := FilterResult{Kept: []telemetry.DownsampledFix{fixes[0]}}

	for i := 1; i < len(fixes); i++ {
		prev := result.Kept[len(result.Kept)-1]
		cur := fixes[i]

		dist := geo.Haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
		dt := cur.Timestamp - prev.Timestamp

		if dist > simpleMaxJumpMeters {
			result.Rejected = append(result.Rejected, Rejection{Fix: cur, Reason: "jump distance exceeded"})
			continue
		}
		if dt > 0 && dist/dt > simpleMaxImpliedSpeed {
			result.Rejected = append(result.Rejected, Rejection{Fix: cur, Reason: "implied speed exceeded"})
			continue
		}
		result.Kept = append(result.Kept, cur)
	}
	return result
}

// filterPhysics runs the multi-criterion physics scoring plus the
// triangle-window single-point test.
func filterPhysics(fixes []telemetry.DownsampledFix, cfg *config.TuningConfig) FilterResult {
	threshold := cfg.GetOutlierAnomalyThreshold()

	triangle := make([]bool, len(fixes))
	if cfg.GetOutlierUseTemporalCheck() {
		for i := 1; i+1 < len(fixes); i++ {
			triangle[i] = triangleTest(fixes[i-1], fixes[i], fixes[i+1], cfg)
		}
	}

	// The first fix is always kept; vPrev tracks the implied speed of
	// the previous accepted fix so one legitimately fast sample does
	// not cascade into rejecting its successors.
	result := FilterResult{Kept: []telemetry.DownsampledFix{fixes[0]}}
	vPrev := fixes[0].Speed

	for i := 1; i < len(fixes); i++ {
		prev := result.Kept[len(result.Kept)-1]
		cur := fixes[i]

		scores, vImplied := physicsScores(prev, cur, vPrev, cfg)
		total := scores.Total()

		reject := total > threshold
		reason := "anomaly score exceeded"
		if !reject && triangle[i] && total > threshold/2 {
			reject = true
			reason = "triangle window"
		}

		if reject {
			result.Rejected = append(result.Rejected, Rejection{
				Fix:        cur,
				Reason:     reason,
				Scores:     scores,
				TotalScore: total,
			})
			continue
		}

		result.Kept = append(result.Kept, cur)
		if vImplied >= 0 {
			vPrev = vImplied
		}
	}
	return result
}

// physicsScores computes the per-criterion excesses for cur against the
// previous accepted fix. Returns the implied speed (or -1 for a
// non-positive time delta, which scores zero everywhere).
func physicsScores(prev, cur telemetry.DownsampledFix, vPrev float64, cfg *config.TuningConfig) (OutlierScores, float64) {
	var s OutlierScores

	dt := cur.Timestamp - prev.Timestamp
	if dt <= 0 {
		return s, -1
	}

	g := cfg.GetGravity()
	vImplied := geo.Haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon) / dt

	// Implied acceleration against the hard kinematic ceiling.
	aMax := cfg.GetOutlierMaxAccelG() * g
	aImplied := math.Abs(vImplied-vPrev) / dt
	if aImplied > aMax {
		s.Accel = (aImplied - aMax) / aMax
	}

	// GPS-derived yaw rate against the averaged inertial yaw rate.
	// Bearings grow clockwise while the yaw sensor reads positive
	// counter-clockwise, so the sensor is negated into the GPS frame.
	gpsYaw := geo.SignedAngleDiffDeg(cur.Bearing, prev.Bearing) / dt
	imuYaw := -(prev.YawRate + cur.YawRate) / 2
	maxYawDiff := cfg.GetOutlierMaxYawRateDiff()
	if yawDiff := math.Abs(gpsYaw - imuYaw); yawDiff > maxYawDiff {
		s.Yaw = (yawDiff - maxYawDiff) / maxYawDiff
	}

	// Reported speed against the implied speed.
	if cur.Speed > 0 {
		maxSpeedDiff := cfg.GetOutlierMaxSpeedDiff()
		if speedDiff := math.Abs(vImplied - cur.Speed); speedDiff > maxSpeedDiff {
			s.Speed = (speedDiff - maxSpeedDiff) / maxSpeedDiff
		}
	}

	// Expected lateral acceleration from yaw rate and speed against the
	// measured channel. Only meaningful once the car is moving.
	if cur.Speed > minLatAccSpeed {
		omega := math.Abs(cur.YawRate) * math.Pi / 180
		expectedLatG := omega * cur.Speed / g
		maxLatDiff := cfg.GetOutlierMaxLatAccDiff()
		if latDiff := math.Abs(expectedLatG - math.Abs(cur.LateralAcc)); latDiff > maxLatDiff {
			s.LatAcc = (latDiff - maxLatDiff) / maxLatDiff
		}
	}

	return s, vImplied
}

// triangleTest flags a single-point spatial spike: the two legs through
// the candidate are much longer than the base between its neighbours,
// and the candidate sits far off the base segment.
func triangleTest(prev, cur, next telemetry.DownsampledFix, cfg *config.TuningConfig) bool {
	leg1 := geo.Haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	leg2 := geo.Haversine(cur.Lat, cur.Lon, next.Lat, next.Lon)
	base := geo.Haversine(prev.Lat, prev.Lon, next.Lat, next.Lon)

	ratio := (leg1 + leg2) / math.Max(base, triangleMinBase)
	if ratio <= cfg.GetOutlierTriangleRatio() {
		return false
	}

	return perpDistance(prev, cur, next, cfg.GetMetersPerDegLat()) > cfg.GetOutlierMinPerpDistance()
}

// perpDistance returns the perpendicular distance in metres from cur to
// the segment joining prev and next, computed on the local tangent
// plane anchored at prev with the configured conversion factor.
func perpDistance(prev, cur, next telemetry.DownsampledFix, metersPerDeg float64) float64 {
	x1, y1 := 0.0, 0.0
	x2, y2 := geo.ToLocal(next.Lat, next.Lon, prev.Lat, prev.Lon, metersPerDeg)
	px, py := geo.ToLocal(cur.Lat, cur.Lon, prev.Lat, prev.Lon, metersPerDeg)

	dx, dy := x2-x1, y2-y1
	segLen2 := dx*dx + dy*dy
	if segLen2 == 0 {
		return math.Hypot(px, py)
	}

	// Project onto the segment, clamped to its extent.
	t := (px*dx + py*dy) / segLen2
	t = math.Max(0, math.Min(1, t))
	cx, cy := x1+t*dx, y1+t*dy
	return math.Hypot(px-cx, py-cy)
}
