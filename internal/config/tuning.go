package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// EkfSweepEntry is one trial of the EKF parameter sweep: process and
// measurement noise intensities applied for a full lap run.
type EkfSweepEntry struct {
	SigmaAccel  float64 `json:"sigma_accel"`
	SigmaGyro   float64 `json:"sigma_gyro"`
	SigmaBias   float64 `json:"sigma_bias"`
	GpsPosNoise float64 `json:"gps_pos_noise"`
}

// TuningConfig represents the root configuration for the reconstruction
// pipeline. All fields are optional pointers so a partial JSON file can
// override just the values it names; the Get* methods supply defaults
// for everything else.
type TuningConfig struct {
	// Sampling cadences
	ImuHz *float64 `json:"imu_hz,omitempty"`
	GpsHz *float64 `json:"gps_hz,omitempty"`

	// Noise injection for the noisy path
	NoiseEnabled   *bool    `json:"noise_enabled,omitempty"`
	NoiseMinMeters *float64 `json:"noise_min_meters,omitempty"`
	NoiseMaxMeters *float64 `json:"noise_max_meters,omitempty"`
	RandomSeed     *int64   `json:"random_seed,omitempty"`

	// 1-D Kalman + RTS smoother
	KalmanR        *float64 `json:"kalman_r,omitempty"`
	KalmanQ        *float64 `json:"kalman_q,omitempty"`
	KalmanInitialP *float64 `json:"kalman_initial_p,omitempty"`

	// 7-state EKF
	EkfSigmaAccel         *float64        `json:"ekf_sigma_accel,omitempty"`
	EkfSigmaGyro          *float64        `json:"ekf_sigma_gyro,omitempty"`
	EkfSigmaBias          *float64        `json:"ekf_sigma_bias,omitempty"`
	EkfGpsPosNoise        *float64        `json:"ekf_gps_pos_noise,omitempty"`
	EkfMinSpeedForHeading *float64        `json:"ekf_min_speed_for_heading,omitempty"`
	EkfSweep              []EkfSweepEntry `json:"ekf_sweep,omitempty"`

	// Outlier rejector
	OutlierEnabled          *bool    `json:"outlier_enabled,omitempty"`
	OutlierMethod           *string  `json:"outlier_method,omitempty"` // "physics" or "simple"
	OutlierMaxAccelG        *float64 `json:"outlier_max_accel_g,omitempty"`
	OutlierMaxYawRateDiff   *float64 `json:"outlier_max_yaw_rate_diff,omitempty"`
	OutlierMaxSpeedDiff     *float64 `json:"outlier_max_speed_diff,omitempty"`
	OutlierMaxLatAccDiff    *float64 `json:"outlier_max_lat_acc_diff,omitempty"`
	OutlierAnomalyThreshold *float64 `json:"outlier_anomaly_threshold,omitempty"`
	OutlierUseTemporalCheck *bool    `json:"outlier_use_temporal_check,omitempty"`
	OutlierMinPerpDistance  *float64 `json:"outlier_min_perp_distance,omitempty"`
	OutlierTriangleRatio    *float64 `json:"outlier_triangle_ratio,omitempty"`

	// Physical constants
	Gravity         *float64 `json:"gravity,omitempty"`
	MetersPerDegLat *float64 `json:"meters_per_deg_lat,omitempty"`

	// Chart/report summaries
	ChartHz *float64 `json:"chart_hz,omitempty"`

	// Speed extrema detector
	ExtremaWindowSize  *int     `json:"extrema_window_size,omitempty"`
	ExtremaMinSpeed    *float64 `json:"extrema_min_speed,omitempty"`
	ExtremaMinDeltaKmh *float64 `json:"extrema_min_delta_kmh,omitempty"`
}

// Outlier method names.
const (
	OutlierMethodPhysics = "physics"
	OutlierMethodSimple  = "simple"
)

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/storage/sqlite/ etc.
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Clone returns a deep copy of c. The EKF parameter sweep mutates its
// trial configuration, so each trial gets its own copy rather than a
// shared pointer.
func (c *TuningConfig) Clone() *TuningConfig {
	out := &TuningConfig{}
	if c == nil {
		return out
	}
	if c.ImuHz != nil {
		out.ImuHz = ptrFloat64(*c.ImuHz)
	}
	if c.GpsHz != nil {
		out.GpsHz = ptrFloat64(*c.GpsHz)
	}
	if c.NoiseEnabled != nil {
		out.NoiseEnabled = ptrBool(*c.NoiseEnabled)
	}
	if c.NoiseMinMeters != nil {
		out.NoiseMinMeters = ptrFloat64(*c.NoiseMinMeters)
	}
	if c.NoiseMaxMeters != nil {
		out.NoiseMaxMeters = ptrFloat64(*c.NoiseMaxMeters)
	}
	if c.RandomSeed != nil {
		out.RandomSeed = ptrInt64(*c.RandomSeed)
	}
	if c.KalmanR != nil {
		out.KalmanR = ptrFloat64(*c.KalmanR)
	}
	if c.KalmanQ != nil {
		out.KalmanQ = ptrFloat64(*c.KalmanQ)
	}
	if c.KalmanInitialP != nil {
		out.KalmanInitialP = ptrFloat64(*c.KalmanInitialP)
	}
	if c.EkfSigmaAccel != nil {
		out.EkfSigmaAccel = ptrFloat64(*c.EkfSigmaAccel)
	}
	if c.EkfSigmaGyro != nil {
		out.EkfSigmaGyro = ptrFloat64(*c.EkfSigmaGyro)
	}
	if c.EkfSigmaBias != nil {
		out.EkfSigmaBias = ptrFloat64(*c.EkfSigmaBias)
	}
	if c.EkfGpsPosNoise != nil {
		out.EkfGpsPosNoise = ptrFloat64(*c.EkfGpsPosNoise)
	}
	if c.EkfMinSpeedForHeading != nil {
		out.EkfMinSpeedForHeading = ptrFloat64(*c.EkfMinSpeedForHeading)
	}
	if c.EkfSweep != nil {
		out.EkfSweep = make([]EkfSweepEntry, len(c.EkfSweep))
		copy(out.EkfSweep, c.EkfSweep)
	}
	if c.OutlierEnabled != nil {
		out.OutlierEnabled = ptrBool(*c.OutlierEnabled)
	}
	if c.OutlierMethod != nil {
		out.OutlierMethod = ptrString(*c.OutlierMethod)
	}
	if c.OutlierMaxAccelG != nil {
		out.OutlierMaxAccelG = ptrFloat64(*c.OutlierMaxAccelG)
	}
	if c.OutlierMaxYawRateDiff != nil {
		out.OutlierMaxYawRateDiff = ptrFloat64(*c.OutlierMaxYawRateDiff)
	}
	if c.OutlierMaxSpeedDiff != nil {
		out.OutlierMaxSpeedDiff = ptrFloat64(*c.OutlierMaxSpeedDiff)
	}
	if c.OutlierMaxLatAccDiff != nil {
		out.OutlierMaxLatAccDiff = ptrFloat64(*c.OutlierMaxLatAccDiff)
	}
	if c.OutlierAnomalyThreshold != nil {
		out.OutlierAnomalyThreshold = ptrFloat64(*c.OutlierAnomalyThreshold)
	}
	if c.OutlierUseTemporalCheck != nil {
		out.OutlierUseTemporalCheck = ptrBool(*c.OutlierUseTemporalCheck)
	}
	if c.OutlierMinPerpDistance != nil {
		out.OutlierMinPerpDistance = ptrFloat64(*c.OutlierMinPerpDistance)
	}
	if c.OutlierTriangleRatio != nil {
		out.OutlierTriangleRatio = ptrFloat64(*c.OutlierTriangleRatio)
	}
	if c.Gravity != nil {
		out.Gravity = ptrFloat64(*c.Gravity)
	}
	if c.MetersPerDegLat != nil {
		out.MetersPerDegLat = ptrFloat64(*c.MetersPerDegLat)
	}
	if c.ChartHz != nil {
		out.ChartHz = ptrFloat64(*c.ChartHz)
	}
	if c.ExtremaWindowSize != nil {
		out.ExtremaWindowSize = ptrInt(*c.ExtremaWindowSize)
	}
	if c.ExtremaMinSpeed != nil {
		out.ExtremaMinSpeed = ptrFloat64(*c.ExtremaMinSpeed)
	}
	if c.ExtremaMinDeltaKmh != nil {
		out.ExtremaMinDeltaKmh = ptrFloat64(*c.ExtremaMinDeltaKmh)
	}
	return out
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ImuHz != nil && *c.ImuHz <= 0 {
		return fmt.Errorf("imu_hz must be positive, got %f", *c.ImuHz)
	}
	if c.GpsHz != nil && *c.GpsHz <= 0 {
		return fmt.Errorf("gps_hz must be positive, got %f", *c.GpsHz)
	}
	if c.ImuHz != nil && c.GpsHz != nil && *c.GpsHz > *c.ImuHz {
		return fmt.Errorf("gps_hz (%f) cannot exceed imu_hz (%f)", *c.GpsHz, *c.ImuHz)
	}
	if c.NoiseMinMeters != nil && *c.NoiseMinMeters < 0 {
		return fmt.Errorf("noise_min_meters must be non-negative, got %f", *c.NoiseMinMeters)
	}
	if c.NoiseMaxMeters != nil && c.NoiseMinMeters != nil && *c.NoiseMaxMeters < *c.NoiseMinMeters {
		return fmt.Errorf("noise_max_meters (%f) below noise_min_meters (%f)", *c.NoiseMaxMeters, *c.NoiseMinMeters)
	}
	if c.KalmanR != nil && *c.KalmanR <= 0 {
		return fmt.Errorf("kalman_r must be positive, got %f", *c.KalmanR)
	}
	if c.KalmanQ != nil && *c.KalmanQ <= 0 {
		return fmt.Errorf("kalman_q must be positive, got %f", *c.KalmanQ)
	}
	if c.OutlierMethod != nil {
		switch *c.OutlierMethod {
		case OutlierMethodPhysics, OutlierMethodSimple:
		default:
			return fmt.Errorf("outlier_method must be %q or %q, got %q",
				OutlierMethodPhysics, OutlierMethodSimple, *c.OutlierMethod)
		}
	}
	if c.OutlierAnomalyThreshold != nil && *c.OutlierAnomalyThreshold <= 0 {
		return fmt.Errorf("outlier_anomaly_threshold must be positive, got %f", *c.OutlierAnomalyThreshold)
	}
	if c.OutlierTriangleRatio != nil && *c.OutlierTriangleRatio <= 1 {
		return fmt.Errorf("outlier_triangle_ratio must exceed 1, got %f", *c.OutlierTriangleRatio)
	}
	if c.Gravity != nil && *c.Gravity <= 0 {
		return fmt.Errorf("gravity must be positive, got %f", *c.Gravity)
	}
	if c.MetersPerDegLat != nil && *c.MetersPerDegLat <= 0 {
		return fmt.Errorf("meters_per_deg_lat must be positive, got %f", *c.MetersPerDegLat)
	}
	if c.ChartHz != nil && *c.ChartHz <= 0 {
		return fmt.Errorf("chart_hz must be positive, got %f", *c.ChartHz)
	}
	if c.ExtremaWindowSize != nil && *c.ExtremaWindowSize < 1 {
		return fmt.Errorf("extrema_window_size must be at least 1, got %d", *c.ExtremaWindowSize)
	}
	for i, e := range c.EkfSweep {
		if e.SigmaAccel <= 0 || e.SigmaGyro <= 0 || e.SigmaBias <= 0 || e.GpsPosNoise <= 0 {
			return fmt.Errorf("ekf_sweep[%d] has non-positive noise intensity: %+v", i, e)
		}
	}
	return nil
}

// GetImuHz returns the imu_hz value or the default.
func (c *TuningConfig) GetImuHz() float64 {
	if c.ImuHz == nil {
		return 25.0
	}
	return *c.ImuHz
}

// GetGpsHz returns the gps_hz value or the default.
func (c *TuningConfig) GetGpsHz() float64 {
	if c.GpsHz == nil {
		return 1.0
	}
	return *c.GpsHz
}

// GetNoiseEnabled returns the noise_enabled value or the default.
func (c *TuningConfig) GetNoiseEnabled() bool {
	if c.NoiseEnabled == nil {
		return true
	}
	return *c.NoiseEnabled
}

// GetNoiseMinMeters returns the noise_min_meters value or the default.
func (c *TuningConfig) GetNoiseMinMeters() float64 {
	if c.NoiseMinMeters == nil {
		return 1.0
	}
	return *c.NoiseMinMeters
}

// GetNoiseMaxMeters returns the noise_max_meters value or the default.
func (c *TuningConfig) GetNoiseMaxMeters() float64 {
	if c.NoiseMaxMeters == nil {
		return 3.0
	}
	return *c.NoiseMaxMeters
}

// GetNoiseStddevMeters returns the standard deviation applied by the
// noisy-path simulation: the mean of the configured min/max half-widths.
func (c *TuningConfig) GetNoiseStddevMeters() float64 {
	return (c.GetNoiseMinMeters() + c.GetNoiseMaxMeters()) / 2
}

// GetRandomSeed returns the random_seed value or the default.
func (c *TuningConfig) GetRandomSeed() int64 {
	if c.RandomSeed == nil {
		return 1
	}
	return *c.RandomSeed
}

// GetKalmanR returns the kalman_r measurement variance (m²) or the default.
func (c *TuningConfig) GetKalmanR() float64 {
	if c.KalmanR == nil {
		return 0.01
	}
	return *c.KalmanR
}

// GetKalmanQ returns the kalman_q process variance (m²/s³) or the default.
func (c *TuningConfig) GetKalmanQ() float64 {
	if c.KalmanQ == nil {
		return 1.0
	}
	return *c.KalmanQ
}

// GetKalmanInitialP returns the kalman_initial_p value or the default.
func (c *TuningConfig) GetKalmanInitialP() float64 {
	if c.KalmanInitialP == nil {
		return 100.0
	}
	return *c.KalmanInitialP
}

// GetEkfSigmaAccel returns the ekf_sigma_accel value (m/s²) or the default.
func (c *TuningConfig) GetEkfSigmaAccel() float64 {
	if c.EkfSigmaAccel == nil {
		return 0.5
	}
	return *c.EkfSigmaAccel
}

// GetEkfSigmaGyro returns the ekf_sigma_gyro value (rad/s) or the default.
func (c *TuningConfig) GetEkfSigmaGyro() float64 {
	if c.EkfSigmaGyro == nil {
		return 0.02
	}
	return *c.EkfSigmaGyro
}

// GetEkfSigmaBias returns the ekf_sigma_bias random-walk intensity or the default.
func (c *TuningConfig) GetEkfSigmaBias() float64 {
	if c.EkfSigmaBias == nil {
		return 0.001
	}
	return *c.EkfSigmaBias
}

// GetEkfGpsPosNoise returns the ekf_gps_pos_noise value (m) or the default.
func (c *TuningConfig) GetEkfGpsPosNoise() float64 {
	if c.EkfGpsPosNoise == nil {
		return 5.0
	}
	return *c.EkfGpsPosNoise
}

// GetEkfMinSpeedForHeading returns the heading-init speed threshold (m/s) or the default.
func (c *TuningConfig) GetEkfMinSpeedForHeading() float64 {
	if c.EkfMinSpeedForHeading == nil {
		return 2.0
	}
	return *c.EkfMinSpeedForHeading
}

// GetEkfSweep returns the EKF parameter grid or the design-time default.
func (c *TuningConfig) GetEkfSweep() []EkfSweepEntry {
	if len(c.EkfSweep) > 0 {
		return c.EkfSweep
	}
	return []EkfSweepEntry{
		{SigmaAccel: 0.5, SigmaGyro: 0.02, SigmaBias: 0.001, GpsPosNoise: 5.0},
		{SigmaAccel: 0.3, SigmaGyro: 0.02, SigmaBias: 0.001, GpsPosNoise: 3.0},
		{SigmaAccel: 1.0, SigmaGyro: 0.05, SigmaBias: 0.001, GpsPosNoise: 5.0},
		{SigmaAccel: 0.5, SigmaGyro: 0.01, SigmaBias: 0.0005, GpsPosNoise: 8.0},
		{SigmaAccel: 2.0, SigmaGyro: 0.05, SigmaBias: 0.005, GpsPosNoise: 3.0},
	}
}

// GetOutlierEnabled returns the outlier_enabled value or the default.
func (c *TuningConfig) GetOutlierEnabled() bool {
	if c.OutlierEnabled == nil {
		return true
	}
	return *c.OutlierEnabled
}

// GetOutlierMethod returns the outlier_method value or the default.
func (c *TuningConfig) GetOutlierMethod() string {
	if c.OutlierMethod == nil {
		return OutlierMethodPhysics
	}
	return *c.OutlierMethod
}

// GetOutlierMaxAccelG returns the implied-acceleration threshold (G) or the default.
func (c *TuningConfig) GetOutlierMaxAccelG() float64 {
	if c.OutlierMaxAccelG == nil {
		return 2.0
	}
	return *c.OutlierMaxAccelG
}

// GetOutlierMaxYawRateDiff returns the yaw-rate mismatch threshold (deg/s) or the default.
func (c *TuningConfig) GetOutlierMaxYawRateDiff() float64 {
	if c.OutlierMaxYawRateDiff == nil {
		return 45.0
	}
	return *c.OutlierMaxYawRateDiff
}

// GetOutlierMaxSpeedDiff returns the speed mismatch threshold (m/s) or the default.
func (c *TuningConfig) GetOutlierMaxSpeedDiff() float64 {
	if c.OutlierMaxSpeedDiff == nil {
		return 15.0
	}
	return *c.OutlierMaxSpeedDiff
}

// GetOutlierMaxLatAccDiff returns the lateral-G mismatch threshold or the default.
func (c *TuningConfig) GetOutlierMaxLatAccDiff() float64 {
	if c.OutlierMaxLatAccDiff == nil {
		return 0.8
	}
	return *c.OutlierMaxLatAccDiff
}

// GetOutlierAnomalyThreshold returns the total-score reject threshold or the default.
func (c *TuningConfig) GetOutlierAnomalyThreshold() float64 {
	if c.OutlierAnomalyThreshold == nil {
		return 4.0
	}
	return *c.OutlierAnomalyThreshold
}

// GetOutlierUseTemporalCheck returns the triangle-window gate or the default.
func (c *TuningConfig) GetOutlierUseTemporalCheck() bool {
	if c.OutlierUseTemporalCheck == nil {
		return true
	}
	return *c.OutlierUseTemporalCheck
}

// GetOutlierMinPerpDistance returns the triangle perpendicular distance (m) or the default.
func (c *TuningConfig) GetOutlierMinPerpDistance() float64 {
	if c.OutlierMinPerpDistance == nil {
		return 15.0
	}
	return *c.OutlierMinPerpDistance
}

// GetOutlierTriangleRatio returns the triangle leg/base ratio or the default.
func (c *TuningConfig) GetOutlierTriangleRatio() float64 {
	if c.OutlierTriangleRatio == nil {
		return 2.5
	}
	return *c.OutlierTriangleRatio
}

// GetGravity returns standard gravity (m/s²) or the default.
func (c *TuningConfig) GetGravity() float64 {
	if c.Gravity == nil {
		return 9.81
	}
	return *c.Gravity
}

// GetMetersPerDegLat returns the flat-earth conversion factor or the default.
func (c *TuningConfig) GetMetersPerDegLat() float64 {
	if c.MetersPerDegLat == nil {
		return 111320.0
	}
	return *c.MetersPerDegLat
}

// GetChartHz returns the chart-summary cadence or the default.
func (c *TuningConfig) GetChartHz() float64 {
	if c.ChartHz == nil {
		return 2.0
	}
	return *c.ChartHz
}

// GetExtremaWindowSize returns the smoothing half-width (samples) or the default.
func (c *TuningConfig) GetExtremaWindowSize() int {
	if c.ExtremaWindowSize == nil {
		return 25
	}
	return *c.ExtremaWindowSize
}

// GetExtremaMinSpeed returns the extrema floor (m/s) or the default.
func (c *TuningConfig) GetExtremaMinSpeed() float64 {
	if c.ExtremaMinSpeed == nil {
		return 5.0
	}
	return *c.ExtremaMinSpeed
}

// GetExtremaMinDeltaKmh returns the opposite-pair magnitude floor (km/h) or the default.
func (c *TuningConfig) GetExtremaMinDeltaKmh() float64 {
	if c.ExtremaMinDeltaKmh == nil {
		return 20.0
	}
	return *c.ExtremaMinDeltaKmh
}
