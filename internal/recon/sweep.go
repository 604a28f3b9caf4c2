package recon

import (
	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/monitoring"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// SweepResult is the winning trial of an EKF parameter sweep.
type SweepResult struct {
	Entry   config.EkfSweepEntry
	Output  []telemetry.Fix
	Metrics AccuracyMetrics
}

// RunEkfSweep runs the EKF once per configured parameter tuple and
// returns the trial with the smallest RMSE against ground truth. Each
// trial runs on its own config clone; the caller's config is never
// mutated. Returns nil when no trial produces output (e.g. the lap
// never reaches heading-init speed).
func RunEkfSweep(enriched []telemetry.EnrichedPoint, fixes []telemetry.DownsampledFix, cfg *config.TuningConfig) *SweepResult {
	var best *SweepResult

	for _, entry := range cfg.GetEkfSweep() {
		trial := cfg.Clone()
		trial.EkfSigmaAccel = &entry.SigmaAccel
		trial.EkfSigmaGyro = &entry.SigmaGyro
		trial.EkfSigmaBias = &entry.SigmaBias
		trial.EkfGpsPosNoise = &entry.GpsPosNoise

		out := ApplyEkf(enriched, fixes, trial)
		if len(out) == 0 {
			continue
		}
		m := ComputeMetrics(enriched, out)
		if m.Count == 0 {
			continue
		}
		if best == nil || m.RMSE < best.Metrics.RMSE {
			best = &SweepResult{Entry: entry, Output: out, Metrics: m}
		}
	}

	if best != nil {
		monitoring.Logf("ekf sweep: best rmse %.3f m with sigma_accel=%.3f sigma_gyro=%.3f sigma_bias=%.4f gps_noise=%.1f",
			best.Metrics.RMSE, best.Entry.SigmaAccel, best.Entry.SigmaGyro, best.Entry.SigmaBias, best.Entry.GpsPosNoise)
	}
	return best
}
