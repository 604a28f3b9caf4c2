package recon

import (
	"math"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// AccuracyMetrics summarises the positional error of one reconstruction
// against ground truth, in metres. With no timestamp matches all
// statistics report +Inf and Count is zero.
type AccuracyMetrics struct {
	RMSE     float64 `json:"rmse"`
	MAE      float64 `json:"mae"`
	MaxError float64 `json:"max_error"`
	Count    int     `json:"count"`
}

// ComputeMetrics matches estimate samples to ground-truth samples by
// timestamp, quantised to three decimal places, and aggregates the
// great-circle residuals. The three-decimal key is part of the
// contract: it makes scores reproducible bit-exactly across
// implementations.
func ComputeMetrics(truth []telemetry.EnrichedPoint, estimate []telemetry.Fix) AccuracyMetrics {
	byKey := make(map[string]telemetry.Fix, len(estimate))
	for _, f := range estimate {
		byKey[timestampKey(f.Timestamp)] = f
	}

	var sumSq, sumAbs, maxErr float64
	count := 0
	for _, g := range truth {
		f, ok := byKey[timestampKey(g.Timestamp)]
		if !ok {
			continue
		}
		err := geo.Haversine(g.Lat, g.Lon, f.Lat, f.Lon)
		sumSq += err * err
		sumAbs += err
		if err > maxErr {
			maxErr = err
		}
		count++
	}

	if count == 0 {
		return AccuracyMetrics{
			RMSE:     math.Inf(1),
			MAE:      math.Inf(1),
			MaxError: math.Inf(1),
		}
	}

	return AccuracyMetrics{
		RMSE:     math.Sqrt(sumSq / float64(count)),
		MAE:      sumAbs / float64(count),
		MaxError: maxErr,
		Count:    count,
	}
}
