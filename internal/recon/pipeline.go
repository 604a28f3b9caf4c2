package recon

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// Reconstructor names, used as keys in LapResult maps and in persisted
// metrics.
const (
	ReconLinear    = "linear"
	ReconSpline    = "spline"
	ReconKalmanRTS = "kalman_rts"
	ReconEkfRaw    = "ekf_raw"
	ReconEkfBest   = "ekf_best"
	ReconEkfSpline = "ekf_spline"
)

// Path names for the clean and noisy variants.
const (
	PathClean = "clean"
	PathNoisy = "noisy"
)

// ekfSmoothStride thins the raw EKF output to 5 Hz control points
// before the spline re-fit that produces the ekf_spline variant.
const ekfSmoothStride = 5

// OutlierCounts tallies rejections per path.
type OutlierCounts struct {
	Clean int `json:"clean"`
	Noisy int `json:"noisy"`
	Total int `json:"total"`
}

// PathResult carries one variant (clean or noisy) through the
// pipeline: the surviving fixes, every reconstructor's output, and the
// per-reconstructor accuracy against ground truth.
type PathResult struct {
	Fixes           []telemetry.DownsampledFix
	Rejected        []Rejection
	Reconstructions map[string][]telemetry.Fix
	Metrics         map[string]AccuracyMetrics
	EkfBest         *config.EkfSweepEntry
}

// LapResult aggregates everything the pipeline derives for one lap.
type LapResult struct {
	Lap           int
	Enriched      []telemetry.EnrichedPoint
	Clean         PathResult
	Noisy         *PathResult // nil when noise injection is disabled
	Outliers      OutlierCounts
	Duration      float64
	TotalDistance float64
	Extrema       []SpeedExtremum
	Chart         ChartData
}

// Results is the output of Process.
type Results struct {
	Laps        []int
	SelectedLap int
	PerLap      map[int]*LapResult
}

// Process runs the full reconstruction pipeline over a session's
// samples: split into laps, then per lap enrich, downsample, inject
// noise, filter outliers, reconstruct with every strategy and score
// each against the enriched ground truth. Laps are independent and run
// concurrently; no lap is split across goroutines. The only surfaced
// error is invalid input; empty laps are skipped silently.
func Process(samples []telemetry.Point, cfg *config.TuningConfig) (*Results, error) {
	if len(samples) == 0 {
		return nil, telemetry.ErrNoValidSamples
	}

	lapNumbers, perLapSamples := telemetry.SplitLaps(samples)
	if len(lapNumbers) == 0 {
		return nil, telemetry.ErrNoLaps
	}

	results := &Results{PerLap: make(map[int]*LapResult)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, lap := range lapNumbers {
		wg.Add(1)
		go func(lap int, lapSamples []telemetry.Point) {
			defer wg.Done()
			lr := processLap(lap, lapSamples, cfg)
			if lr == nil {
				return
			}
			mu.Lock()
			results.PerLap[lap] = lr
			mu.Unlock()
		}(lap, perLapSamples[lap])
	}
	wg.Wait()

	for lap := range results.PerLap {
		results.Laps = append(results.Laps, lap)
	}
	sort.Ints(results.Laps)
	if len(results.Laps) == 0 {
		return nil, telemetry.ErrNoLaps
	}
	results.SelectedLap = selectLap(results)
	return results, nil
}

// processLap runs one lap through the pipeline. Returns nil for laps
// too short to reconstruct.
func processLap(lap int, samples []telemetry.Point, cfg *config.TuningConfig) *LapResult {
	if len(samples) < 2 {
		return nil
	}

	enriched := telemetry.Enrich(samples)
	timebase := make([]float64, len(enriched))
	for i, p := range enriched {
		timebase[i] = p.Timestamp
	}

	downsampled := Downsample(enriched, cfg)
	if len(downsampled) < 2 {
		return nil
	}

	lr := &LapResult{
		Lap:           lap,
		Enriched:      enriched,
		Duration:      telemetry.Duration(enriched),
		TotalDistance: telemetry.TotalDistance(enriched),
		Extrema:       DetectSpeedExtrema(enriched, cfg),
		Chart:         BuildChartData(enriched, cfg),
	}

	lr.Clean = runPath(enriched, timebase, downsampled, cfg)
	lr.Outliers.Clean = len(lr.Clean.Rejected)

	if cfg.GetNoiseEnabled() {
		// Each lap derives its noise stream from the session seed so
		// concurrent laps stay reproducible.
		rng := rand.New(rand.NewSource(cfg.GetRandomSeed() + int64(lap)))
		noisy := InjectNoise(downsampled, cfg, rng)
		np := runPath(enriched, timebase, noisy, cfg)
		lr.Noisy = &np
		lr.Outliers.Noisy = len(np.Rejected)
	}
	lr.Outliers.Total = lr.Outliers.Clean + lr.Outliers.Noisy

	monitoring.Logf("lap %d: %d samples, %d fixes, %d outliers, %.1f m over %.1f s",
		lap, len(enriched), len(downsampled), lr.Outliers.Total, lr.TotalDistance, lr.Duration)
	return lr
}

// runPath filters one fix variant and runs every reconstructor on the
// survivors.
func runPath(enriched []telemetry.EnrichedPoint, timebase []float64, fixes []telemetry.DownsampledFix, cfg *config.TuningConfig) PathResult {
	filtered := FilterOutliers(fixes, cfg)

	pr := PathResult{
		Fixes:           filtered.Kept,
		Rejected:        filtered.Rejected,
		Reconstructions: make(map[string][]telemetry.Fix),
		Metrics:         make(map[string]AccuracyMetrics),
	}

	pr.Reconstructions[ReconLinear] = ApplyLinear(filtered.Kept, timebase)
	pr.Reconstructions[ReconSpline] = ApplyCatmullRom(filtered.Kept, timebase)
	pr.Reconstructions[ReconKalmanRTS] = ApplyKalmanRTS(filtered.Kept, timebase, cfg)

	ekfRaw := ApplyEkf(enriched, filtered.Kept, cfg)
	if len(ekfRaw) > 0 {
		pr.Reconstructions[ReconEkfRaw] = ekfRaw
		pr.Reconstructions[ReconEkfSpline] = smoothWithSpline(ekfRaw, ekfSmoothStride)
	}

	if best := RunEkfSweep(enriched, filtered.Kept, cfg); best != nil {
		pr.Reconstructions[ReconEkfBest] = best.Output
		entry := best.Entry
		pr.EkfBest = &entry
	}

	for name, out := range pr.Reconstructions {
		pr.Metrics[name] = ComputeMetrics(enriched, out)
	}
	return pr
}

// Downsample takes every (imu_hz/gps_hz)-th enriched sample as a
// positional fix, tagging each with its source index.
func Downsample(enriched []telemetry.EnrichedPoint, cfg *config.TuningConfig) []telemetry.DownsampledFix {
	ratio := int(math.Round(cfg.GetImuHz() / cfg.GetGpsHz()))
	if ratio < 1 {
		ratio = 1
	}

	var out []telemetry.DownsampledFix
	for i := 0; i < len(enriched); i += ratio {
		p := enriched[i]
		out = append(out, telemetry.DownsampledFix{
			Fix: telemetry.Fix{
				Timestamp: p.Timestamp,
				Lat:       p.Lat,
				Lon:       p.Lon,
			},
			OriginalIndex:   i,
			Speed:           p.Speed,
			Bearing:         p.Bearing,
			Accuracy:        p.Accuracy,
			LateralAcc:      p.LateralAcc,
			LongitudinalAcc: p.LongitudinalAcc,
			YawRate:         p.YawRate,
		})
	}
	return out
}

// InjectNoise displaces each fix by an independent Gaussian offset with
// the configured standard deviation, converting metres to degrees at
// the fix's own latitude.
func InjectNoise(fixes []telemetry.DownsampledFix, cfg *config.TuningConfig, rng *rand.Rand) []telemetry.DownsampledFix {
	stddev := cfg.GetNoiseStddevMeters()
	k := cfg.GetMetersPerDegLat()

	out := make([]telemetry.DownsampledFix, len(fixes))
	for i, f := range fixes {
		noisy := f
		dNorth := geo.Gaussian(rng, 0, stddev)
		dEast := geo.Gaussian(rng, 0, stddev)
		noisy.Lat += dNorth / k
		noisy.Lon += dEast / (k * math.Cos(f.Lat*math.Pi/180))
		out[i] = noisy
	}
	return out
}

// selectLap picks the fastest lap: the smallest positive duration,
// falling back to the first lap. Laps are not checked for covering a
// full circuit.
func selectLap(results *Results) int {
	best := results.Laps[0]
	bestDuration := math.Inf(1)
	for _, lap := range results.Laps {
		lr := results.PerLap[lap]
		if lr.Duration > 0 && lr.Duration < bestDuration {
			best = lap
			bestDuration = lr.Duration
		}
	}
	return best
}
