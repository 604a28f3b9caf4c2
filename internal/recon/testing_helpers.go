package recon

import (
	"math"
	"math/rand"

	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// newTestRand returns a seeded source for reproducible noise fixtures.
func newTestRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Test fixture geometry: a constant-speed circular lap centred near
// Monza, with inertial channels consistent with the positional ones.

const (
	testCenterLat = 45.6188
	testCenterLon = 9.2811
)

// circularLapOpts parameterises the synthetic lap generator.
type circularLapOpts struct {
	Lap      int
	Hz       float64
	Duration float64 // seconds
	Speed    float64 // m/s
	// ZeroInertial generates the degenerate variant: all inertial
	// channels read zero while the positional channels still follow
	// the circle.
	ZeroInertial bool
}

// syntheticCircularLap generates one lap of a circular track driven
// clockwise at constant speed, with bearing, yaw rate and lateral
// acceleration consistent with the source sensor conventions (yaw
// positive counter-clockwise, lateral positive left).
func syntheticCircularLap(opts circularLapOpts) []telemetry.Point {
	n := int(opts.Duration*opts.Hz) + 1
	radius := opts.Speed * opts.Duration / (2 * math.Pi)
	omega := opts.Speed / radius // rad/s, clockwise

	const gravity = 9.81

	points := make([]telemetry.Point, 0, n)
	for i := 0; i < n; i++ {
		t := float64(i) / opts.Hz
		theta := omega * t // position angle, clockwise from north

		east := radius * math.Sin(theta)
		north := radius * math.Cos(theta)
		lat := testCenterLat + north/111320.0
		lon := testCenterLon + east/(111320.0*math.Cos(testCenterLat*math.Pi/180))

		// Heading is tangent to the circle: 90 degrees ahead of the
		// position angle for clockwise travel.
		bearingDeg := math.Mod(theta*180/math.Pi+90, 360)

		p := telemetry.Point{
			Timestamp: t,
			Lat:       lat,
			Lon:       lon,
			Speed:     opts.Speed,
			Bearing:   bearingDeg,
			Accuracy:  1.0,
			Lap:       opts.Lap,
		}
		if !opts.ZeroInertial {
			// Source conventions: yaw positive counter-clockwise, so a
			// clockwise turn reads negative; lateral positive left, so
			// the rightward centripetal acceleration reads negative.
			p.YawRate = -omega * 180 / math.Pi
			p.LateralAcc = -(opts.Speed * omega) / gravity
		}
		points = append(points, p)
	}
	return points
}

// defaultTestLap is the S1 fixture: 60 s circular lap at 20 m/s
// sampled at 25 Hz (1501 samples).
func defaultTestLap(lap int) []telemetry.Point {
	return syntheticCircularLap(circularLapOpts{
		Lap:      lap,
		Hz:       25,
		Duration: 60,
		Speed:    20,
	})
}
