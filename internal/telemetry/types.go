// Package telemetry owns the session data model: the fused sensor
// sample type, the tabular session-file parser, lap partitioning, and
// stream enrichment (cumulative distance, lap position, lap time).
package telemetry

import "errors"

// Surfaced input errors. Everything else downstream is absorbed locally.
var (
	// ErrNoValidSamples is returned when a session file yields no
	// parseable rows.
	ErrNoValidSamples = errors.New("telemetry: no valid samples")
	// ErrNoLaps is returned when no lap partition can be formed.
	ErrNoLaps = errors.New("telemetry: no laps found")
)

// DefaultAccuracyMeters is assumed when a sample reports no positional
// accuracy estimate.
const DefaultAccuracyMeters = 5.0

// Point is one fused sensor sample. Immutable once emitted by the
// parser.
type Point struct {
	Timestamp float64 // seconds, as parsed; Enrich origin-normalises it to 0 at lap start
	Lat       float64 // degrees, WGS-84
	Lon       float64 // degrees, WGS-84
	Speed     float64 // m/s, >= 0
	Bearing   float64 // degrees [0, 360), clockwise from true north
	Accuracy  float64 // metres, > 0

	Lap int // partitioning tag, >= 0

	// Body-frame inertial channels, synchronous with the positional
	// sample.
	LateralAcc      float64 // proper acceleration, G units, positive left in source data
	LongitudinalAcc float64 // proper acceleration, G units
	YawRate         float64 // deg/s about the body vertical axis
}

// EnrichedPoint is a Point plus the along-path derived fields.
type EnrichedPoint struct {
	Point

	Distance    float64 // metres along path from lap start
	LapPosition float64 // Distance / total lap distance, in [0, 1]
	LapTime     float64 // seconds since lap start
}

// Fix is a positional-only triple. Every reconstructor outputs a
// sequence of these.
type Fix struct {
	Timestamp float64
	Lat       float64
	Lon       float64
}

// DownsampledFix is a Fix that retains the index of the enriched sample
// it was taken from, plus the sample's speed, bearing and inertial
// channels for the physics outlier checks.
type DownsampledFix struct {
	Fix

	OriginalIndex int

	Speed           float64
	Bearing         float64
	Accuracy        float64
	LateralAcc      float64
	LongitudinalAcc float64
	YawRate         float64
}
