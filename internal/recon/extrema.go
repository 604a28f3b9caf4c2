package recon

import (
	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
	"github.com/banshee-data/trajectory.report/internal/units"
)

// ExtremumType distinguishes braking points from top-speed points.
type ExtremumType string

const (
	ExtremumMin ExtremumType = "min"
	ExtremumMax ExtremumType = "max"
)

// SpeedExtremum is one annotated local extremum of the smoothed speed
// trace.
type SpeedExtremum struct {
	Type        ExtremumType `json:"type"`
	Index       int          `json:"index"`
	LapPosition float64      `json:"lap_position"`
	SpeedMps    float64      `json:"speed_mps"`
	SpeedKmh    float64      `json:"speed_kmh"`
}

// DetectSpeedExtrema finds the significant local minima and maxima of
// the lap's speed trace: smooth with a centred moving average, take
// strict local extrema above the speed floor, merge same-type runs
// keeping the stronger, then iteratively drop adjacent opposite-type
// pairs whose magnitude difference is insignificant, re-merging after
// each removal until a full pass changes nothing.
func DetectSpeedExtrema(enriched []telemetry.EnrichedPoint, cfg *config.TuningConfig) []SpeedExtremum {
	if len(enriched) < 3 {
		return nil
	}

	speeds := make([]float64, len(enriched))
	for i, p := range enriched {
		speeds[i] = p.Speed
	}
	smoothed := movingAverage(speeds, cfg.GetExtremaWindowSize())

	minSpeed := cfg.GetExtremaMinSpeed()
	var found []SpeedExtremum
	for i := 1; i+1 < len(smoothed); i++ {
		var kind ExtremumType
		switch {
		case smoothed[i] > smoothed[i-1] && smoothed[i] > smoothed[i+1]:
			kind = ExtremumMax
		case smoothed[i] < smoothed[i-1] && smoothed[i] < smoothed[i+1]:
			kind = ExtremumMin
		default:
			continue
		}
		if smoothed[i] <= minSpeed {
			continue
		}
		found = append(found, SpeedExtremum{
			Type:        kind,
			Index:       i,
			LapPosition: enriched[i].LapPosition,
			SpeedMps:    smoothed[i],
			SpeedKmh:    units.ConvertSpeed(smoothed[i], units.KPH),
		})
	}

	found = mergeSameType(found)
	minDelta := cfg.GetExtremaMinDeltaKmh() / 3.6
	for {
		removed := dropWeakPair(&found, minDelta)
		if !removed {
			break
		}
		found = mergeSameType(found)
	}
	return found
}

// movingAverage smooths with a centred window of the given half-width,
// truncated at the series ends.
func movingAverage(vs []float64, halfWidth int) []float64 {
	out := make([]float64, len(vs))
	for i := range vs {
		lo := i - halfWidth
		if lo < 0 {
			lo = 0
		}
		hi := i + halfWidth + 1
		if hi > len(vs) {
			hi = len(vs)
		}
		var sum float64
		for j := lo; j < hi; j++ {
			sum += vs[j]
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// mergeSameType collapses consecutive extrema of the same type,
// keeping the stronger: the smaller minimum, the larger maximum.
func mergeSameType(in []SpeedExtremum) []SpeedExtremum {
	var out []SpeedExtremum
	for _, e := range in {
		if len(out) == 0 || out[len(out)-1].Type != e.Type {
			out = append(out, e)
			continue
		}
		last := &out[len(out)-1]
		if (e.Type == ExtremumMin && e.SpeedMps < last.SpeedMps) ||
			(e.Type == ExtremumMax && e.SpeedMps > last.SpeedMps) {
			*last = e
		}
	}
	return out
}

// dropWeakPair removes the first adjacent opposite-type pair whose
// speed difference is below minDelta. Reports whether anything was
// removed.
func dropWeakPair(extrema *[]SpeedExtremum, minDelta float64) bool {
	es := *extrema
	for i := 0; i+1 < len(es); i++ {
		a, b := es[i], es[i+1]
		if a.Type == b.Type {
			continue
		}
		diff := a.SpeedMps - b.SpeedMps
		if diff < 0 {
			diff = -diff
		}
		if diff < minDelta {
			*extrema = append(es[:i], es[i+2:]...)
			return true
		}
	}
	return false
}
