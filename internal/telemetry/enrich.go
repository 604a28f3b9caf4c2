package telemetry

import (
	"sort"

	"github.com/banshee-data/trajectory.report/internal/geo"
)

// SplitLaps partitions samples by lap tag, preserving input order
// within each lap. Returns the sorted lap numbers and the per-lap
// sample slices. Laps with no samples do not appear.
func SplitLaps(points []Point) ([]int, map[int][]Point) {
	perLap := make(map[int][]Point)
	for _, p := range points {
		perLap[p.Lap] = append(perLap[p.Lap], p)
	}

	laps := make([]int, 0, len(perLap))
	for lap := range perLap {
		laps = append(laps, lap)
	}
	sort.Ints(laps)
	return laps, perLap
}

// Enrich derives the along-path fields for one lap: cumulative
// great-circle distance, normalised lap position and lap-relative time.
// The first point gets distance 0 and lap position 0; the last gets lap
// position 1. Timestamps are origin-normalised so the lap starts at 0.
func Enrich(points []Point) []EnrichedPoint {
	if len(points) == 0 {
		return nil
	}

	out := make([]EnrichedPoint, len(points))
	t0 := points[0].Timestamp

	var cum float64
	for i, p := range points {
		if i > 0 {
			prev := points[i-1]
			cum += geo.Haversine(prev.Lat, prev.Lon, p.Lat, p.Lon)
		}
		norm := p
		norm.Timestamp = p.Timestamp - t0
		out[i] = EnrichedPoint{
			Point:    norm,
			Distance: cum,
			LapTime:  p.Timestamp - t0,
		}
	}

	total := out[len(out)-1].Distance
	if total > 0 {
		for i := range out {
			out[i].LapPosition = out[i].Distance / total
		}
	}
	// Pin the endpoints regardless of accumulation roundoff.
	out[0].LapPosition = 0
	if len(out) > 1 {
		out[len(out)-1].LapPosition = 1
	}
	return out
}

// TotalDistance returns the along-path length of an enriched lap.
func TotalDistance(points []EnrichedPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Distance
}

// Duration returns the lap duration in seconds.
func Duration(points []EnrichedPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].LapTime
}
