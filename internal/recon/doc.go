// Package recon owns the trajectory reconstruction core: downsampling
// and noise injection, physics-based outlier rejection, the linear and
// Catmull-Rom resamplers, the per-axis Kalman filter with RTS
// smoothing, the seven-state EKF fusing positional fixes with inertial
// measurements, error metrics against ground truth, speed extrema
// detection, and the per-lap pipeline that composes them.
//
// The core is pure CPU work over in-memory slices supplied by the
// caller: no I/O, no persistence, no rendering. Laps are independent;
// no lap is ever split across goroutines.
package recon
