package recon

import (
	"math"
	"testing"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
	"github.com/google/go-cmp/cmp"
)

func noiseOff(cfg *config.TuningConfig) *config.TuningConfig {
	off := false
	cfg.NoiseEnabled = &off
	return cfg
}

func TestProcessIdentityScenario(t *testing.T) {
	// Clean circular lap, no injected noise: every reconstructor
	// should track tightly and nothing should be rejected.
	cfg := noiseOff(config.EmptyTuningConfig())
	samples := defaultTestLap(1)

	results, err := Process(samples, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(results.Laps) != 1 || results.Laps[0] != 1 {
		t.Fatalf("laps = %v, want [1]", results.Laps)
	}

	lr := results.PerLap[1]
	if lr.Noisy != nil {
		t.Fatal("noisy path present with noise disabled")
	}
	if lr.Outliers.Total != 0 {
		t.Fatalf("clean lap rejected %d fixes", lr.Outliers.Total)
	}

	bounds := map[string]float64{
		ReconLinear:    1.5,
		ReconSpline:    0.5,
		ReconKalmanRTS: 0.5,
		ReconEkfRaw:    2.5,
	}
	for name, bound := range bounds {
		m, ok := lr.Clean.Metrics[name]
		if !ok {
			t.Fatalf("no metrics for %s", name)
		}
		if m.RMSE > bound {
			t.Errorf("%s rmse %.3f m, want < %.1f m", name, m.RMSE, bound)
		}
		if !(m.MAE <= m.RMSE && m.RMSE <= m.MaxError) {
			t.Errorf("%s metric ordering violated: %+v", name, m)
		}
	}

	if lr.Clean.EkfBest == nil {
		t.Fatal("sweep selected no ekf_best")
	}
	best := lr.Clean.Metrics[ReconEkfBest]
	raw := lr.Clean.Metrics[ReconEkfRaw]
	if best.RMSE > raw.RMSE+1e-9 {
		t.Errorf("ekf_best rmse %.3f worse than ekf_raw %.3f", best.RMSE, raw.RMSE)
	}
}

func TestProcessNoiseScenario(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	minM, maxM := 3.0, 8.0 // stddev 5.5 m
	cfg.NoiseMinMeters = &minM
	cfg.NoiseMaxMeters = &maxM

	samples := defaultTestLap(0)
	results, err := Process(samples, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	lr := results.PerLap[0]
	if lr.Noisy == nil {
		t.Fatal("noisy path missing")
	}

	linear := lr.Noisy.Metrics[ReconLinear]
	if linear.RMSE < 3 || linear.RMSE > 9 {
		t.Errorf("noisy linear rmse %.3f m, want roughly 4-8 m", linear.RMSE)
	}

	// With uncorrelated 5.5 m noise the spline overshoots chords; it
	// should not beat linear.
	spline := lr.Noisy.Metrics[ReconSpline]
	if spline.RMSE < linear.RMSE {
		t.Errorf("noisy spline rmse %.3f unexpectedly beats linear %.3f", spline.RMSE, linear.RMSE)
	}

	// Heavy noise may trip the rejector occasionally, but not often.
	totalFixes := len(lr.Noisy.Fixes) + len(lr.Noisy.Rejected)
	if lr.Outliers.Noisy > totalFixes/10 {
		t.Errorf("rejected %d of %d noisy fixes, want <= 10%%", lr.Outliers.Noisy, totalFixes)
	}
}

func TestProcessSingleOutlierScenario(t *testing.T) {
	cfg := noiseOff(config.EmptyTuningConfig())
	enriched := telemetry.Enrich(defaultTestLap(0))
	timebase := make([]float64, len(enriched))
	for i, p := range enriched {
		timebase[i] = p.Timestamp
	}
	fixes := Downsample(enriched, cfg)

	// Baseline without the spike.
	baseKept := FilterOutliers(fixes, cfg).Kept
	baseSpline := ComputeMetrics(enriched, ApplyCatmullRom(baseKept, timebase))

	// Displace the fix at t=30 by 200 m orthogonally to the path
	// (radially outward from the circle's centre).
	spiked := make([]telemetry.DownsampledFix, len(fixes))
	copy(spiked, fixes)
	f := spiked[30]
	east, north := geo.ToLocal(f.Lat, f.Lon, testCenterLat, testCenterLon, geo.MetersPerDegLat)
	r := math.Hypot(east, north)
	scale := (r + 200) / r
	lat, lon := geo.ToGPS(east*scale, north*scale, testCenterLat, testCenterLon, geo.MetersPerDegLat)
	spiked[30].Lat = lat
	spiked[30].Lon = lon

	result := FilterOutliers(spiked, cfg)
	var rejected bool
	for _, rej := range result.Rejected {
		if rej.Fix.OriginalIndex == spiked[30].OriginalIndex {
			rejected = true
		}
	}
	if !rejected {
		t.Fatalf("200 m spike not rejected; rejections: %+v", result.Rejected)
	}

	spline := ComputeMetrics(enriched, ApplyCatmullRom(result.Kept, timebase))
	if spline.RMSE > baseSpline.RMSE*1.2+0.05 {
		t.Errorf("spline rmse after rejection %.3f m, want within 20%% of baseline %.3f m", spline.RMSE, baseSpline.RMSE)
	}
}

func TestProcessDuplicateTimestamps(t *testing.T) {
	cfg := noiseOff(config.EmptyTuningConfig())
	samples := defaultTestLap(0)
	// Duplicate a run of timestamps mid-lap; predicts become no-ops.
	for i := 500; i < 505; i++ {
		samples[i].Timestamp = samples[499].Timestamp
		samples[i].Lat = samples[499].Lat
		samples[i].Lon = samples[499].Lon
	}

	results, err := Process(samples, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	lr := results.PerLap[0]
	if len(lr.Clean.Reconstructions[ReconEkfRaw]) == 0 {
		t.Fatal("ekf produced no output on duplicate-timestamp lap")
	}
}

func TestProcessDeterministicWithSeed(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	seed := int64(1234)
	cfg.RandomSeed = &seed

	samples := defaultTestLap(0)

	a, err := Process(samples, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	b, err := Process(samples, cfg.Clone())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	la, lb := a.PerLap[0], b.PerLap[0]
	if diff := cmp.Diff(la.Noisy.Fixes, lb.Noisy.Fixes); diff != "" {
		t.Fatalf("noisy fixes differ across identical seeds (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(la.Noisy.Metrics, lb.Noisy.Metrics); diff != "" {
		t.Fatalf("noisy metrics differ across identical seeds (-a +b):\n%s", diff)
	}
}

func TestProcessMultipleLaps(t *testing.T) {
	cfg := noiseOff(config.EmptyTuningConfig())

	var samples []telemetry.Point
	samples = append(samples, defaultTestLap(0)...)
	samples = append(samples, syntheticCircularLap(circularLapOpts{
		Lap: 1, Hz: 25, Duration: 55, Speed: 22,
	})...)

	results, err := Process(samples, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(results.Laps) != 2 {
		t.Fatalf("laps = %v, want two laps", results.Laps)
	}
	// Lap 1 is faster (55 s vs 60 s) and should be selected.
	if results.SelectedLap != 1 {
		t.Fatalf("selected lap %d, want 1", results.SelectedLap)
	}
	for _, lap := range results.Laps {
		lr := results.PerLap[lap]
		if lr.Duration <= 0 || lr.TotalDistance <= 0 {
			t.Fatalf("lap %d missing aggregates: %+v", lap, lr)
		}
	}
}

func TestProcessSkipsEmptyLaps(t *testing.T) {
	cfg := noiseOff(config.EmptyTuningConfig())

	samples := defaultTestLap(0)
	// A lap tag with a single sample cannot be reconstructed and is
	// skipped silently.
	samples = append(samples, telemetry.Point{Timestamp: 0, Lat: 45, Lon: 9, Lap: 7})

	results, err := Process(samples, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := results.PerLap[7]; ok {
		t.Fatal("single-sample lap was not skipped")
	}
	if len(results.Laps) != 1 {
		t.Fatalf("laps = %v, want [0]", results.Laps)
	}
}

func TestProcessNoSamples(t *testing.T) {
	if _, err := Process(nil, config.EmptyTuningConfig()); err != telemetry.ErrNoValidSamples {
		t.Fatalf("err = %v, want ErrNoValidSamples", err)
	}
}

func TestProcessTimestampsMatchTruth(t *testing.T) {
	cfg := noiseOff(config.EmptyTuningConfig())
	samples := defaultTestLap(0)

	results, err := Process(samples, cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	lr := results.PerLap[0]

	truthKeys := make(map[string]bool, len(lr.Enriched))
	for _, g := range lr.Enriched {
		truthKeys[timestampKey(g.Timestamp)] = true
	}
	for name, out := range lr.Clean.Reconstructions {
		for _, f := range out {
			if !truthKeys[timestampKey(f.Timestamp)] {
				t.Fatalf("%s emitted timestamp %f not on the truth timebase", name, f.Timestamp)
			}
		}
	}
}

func TestDownsampleTagsSourceIndex(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	enriched := telemetry.Enrich(defaultTestLap(0))

	fixes := Downsample(enriched, cfg)
	if len(fixes) != 61 {
		t.Fatalf("got %d fixes from 1501 samples at ratio 25, want 61", len(fixes))
	}
	for _, f := range fixes {
		src := enriched[f.OriginalIndex]
		if src.Timestamp != f.Timestamp || src.Lat != f.Lat {
			t.Fatalf("fix does not match its source sample: %+v", f)
		}
	}
}

func TestInjectNoiseStatistics(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	minM, maxM := 4.0, 6.0 // stddev 5
	cfg.NoiseMinMeters = &minM
	cfg.NoiseMaxMeters = &maxM

	enriched := telemetry.Enrich(defaultTestLap(0))
	fixes := Downsample(enriched, cfg)

	// Average displacement over many draws should approach the
	// Rayleigh mean stddev*sqrt(pi/2) ~ 6.27 m.
	var sum float64
	n := 0
	for seed := int64(0); seed < 50; seed++ {
		noisy := InjectNoise(fixes, cfg, newTestRand(seed))
		for i := range fixes {
			sum += geo.Haversine(fixes[i].Lat, fixes[i].Lon, noisy[i].Lat, noisy[i].Lon)
			n++
		}
	}
	mean := sum / float64(n)
	if mean < 5.5 || mean > 7.0 {
		t.Fatalf("mean displacement %.2f m, want ~6.3 m for stddev 5", mean)
	}
}
