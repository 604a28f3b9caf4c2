package recon

import (
	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// ChartData is a downsampled summary of a lap's scalar channels,
// suitable for charting without shipping the full 25 Hz stream.
type ChartData struct {
	Timestamps    []float64 `json:"timestamps"`
	Speed         []float64 `json:"speed"`
	LateralG      []float64 `json:"lateral_g"`
	LongitudinalG []float64 `json:"longitudinal_g"`
	Distance      []float64 `json:"distance"`
	LapPosition   []float64 `json:"lap_position"`
	Bearing       []float64 `json:"bearing"`
}

// BuildChartData strides the enriched stream down to roughly the
// configured chart cadence.
func BuildChartData(enriched []telemetry.EnrichedPoint, cfg *config.TuningConfig) ChartData {
	stride := int(cfg.GetImuHz() / cfg.GetChartHz())
	if stride < 1 {
		stride = 1
	}

	var cd ChartData
	for i := 0; i < len(enriched); i += stride {
		p := enriched[i]
		cd.Timestamps = append(cd.Timestamps, p.Timestamp)
		cd.Speed = append(cd.Speed, p.Speed)
		cd.LateralG = append(cd.LateralG, p.LateralAcc)
		cd.LongitudinalG = append(cd.LongitudinalG, p.LongitudinalAcc)
		cd.Distance = append(cd.Distance, p.Distance)
		cd.LapPosition = append(cd.LapPosition, p.LapPosition)
		cd.Bearing = append(cd.Bearing, p.Bearing)
	}
	return cd
}
