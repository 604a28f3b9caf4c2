package recon

import (
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// interpLinear evaluates piecewise-linear interpolation of the scalar
// series (ts, vs) at t. ts must be sorted ascending; t must lie within
// [ts[seg], ts[seg+1]] for the given segment index.
func interpLinear(ts, vs []float64, seg int, t float64) float64 {
	t0, t1 := ts[seg], ts[seg+1]
	if t1 == t0 {
		return vs[seg]
	}
	u := (t - t0) / (t1 - t0)
	return vs[seg] + u*(vs[seg+1]-vs[seg])
}

// interpCatmullRom evaluates the Catmull-Rom spline through the scalar
// series (ts, vs) at t within segment seg. The spline is expressed in
// cubic Hermite form with finite-difference tangents scaled for the
// irregular time axis, so it passes through vs[seg] at ts[seg] and
// vs[seg+1] at ts[seg+1] exactly. Endpoints are clamped by duplicating
// the boundary control point.
func interpCatmullRom(ts, vs []float64, seg int, t float64) float64 {
	n := len(ts)
	t1, t2 := ts[seg], ts[seg+1]
	h := t2 - t1
	if h == 0 {
		return vs[seg]
	}

	p1, p2 := vs[seg], vs[seg+1]

	// Clamped virtual neighbours at the ends.
	var t0, p0 float64
	if seg == 0 {
		t0, p0 = t1, p1
	} else {
		t0, p0 = ts[seg-1], vs[seg-1]
	}
	var t3, p3 float64
	if seg+2 >= n {
		t3, p3 = t2, p2
	} else {
		t3, p3 = ts[seg+2], vs[seg+2]
	}

	// Tangents: central difference over the neighbour span, scaled to
	// the segment width.
	var m1, m2 float64
	if t2 != t0 {
		m1 = (p2 - p0) / (t2 - t0) * h
	} else {
		m1 = p2 - p1
	}
	if t3 != t1 {
		m2 = (p3 - p1) / (t3 - t1) * h
	} else {
		m2 = p2 - p1
	}

	u := (t - t1) / h
	u2 := u * u
	u3 := u2 * u

	h00 := 2*u3 - 3*u2 + 1
	h10 := u3 - 2*u2 + u
	h01 := -2*u3 + 3*u2
	h11 := u3 - u2

	return h00*p1 + h10*m1 + h01*p2 + h11*m2
}

type scalarKernel func(ts, vs []float64, seg int, t float64) float64

// resample evaluates the kernel per channel (lat, lon) at every
// timebase instant covered by the fix span. Instants before the first
// fix or after the last are omitted, so the output is a contiguous
// time-ordered subsequence of the timebase.
func resample(fixes []telemetry.DownsampledFix, timebase []float64, kernel scalarKernel) []telemetry.Fix {
	if len(fixes) < 2 {
		return nil
	}

	ts := make([]float64, len(fixes))
	lats := make([]float64, len(fixes))
	lons := make([]float64, len(fixes))
	for i, f := range fixes {
		ts[i] = f.Timestamp
		lats[i] = f.Lat
		lons[i] = f.Lon
	}

	out := make([]telemetry.Fix, 0, len(timebase))
	seg := 0
	for _, t := range timebase {
		if t < ts[0] || t > ts[len(ts)-1] {
			continue
		}
		for seg+2 < len(ts) && t > ts[seg+1] {
			seg++
		}
		out = append(out, telemetry.Fix{
			Timestamp: t,
			Lat:       kernel(ts, lats, seg, t),
			Lon:       kernel(ts, lons, seg, t),
		})
	}
	return out
}

// ApplyLinear reconstructs a dense positional estimate by linear
// interpolation of the fix sequence over the high-rate timebase. Exact
// at control-point timestamps.
func ApplyLinear(fixes []telemetry.DownsampledFix, timebase []float64) []telemetry.Fix {
	return resample(fixes, timebase, interpLinear)
}

// ApplyCatmullRom reconstructs a dense positional estimate by
// Catmull-Rom spline interpolation of the fix sequence over the
// high-rate timebase.
func ApplyCatmullRom(fixes []telemetry.DownsampledFix, timebase []float64) []telemetry.Fix {
	return resample(fixes, timebase, interpCatmullRom)
}

// smoothWithSpline re-fits a Catmull-Rom spline through a thinned
// subset of a dense estimate and re-evaluates it on the estimate's own
// timebase. Used to knock high-frequency jitter out of the raw EKF
// output.
func smoothWithSpline(dense []telemetry.Fix, stride int) []telemetry.Fix {
	if stride < 2 || len(dense) < 2*stride {
		out := make([]telemetry.Fix, len(dense))
		copy(out, dense)
		return out
	}

	var controls []telemetry.DownsampledFix
	for i := 0; i < len(dense); i += stride {
		controls = append(controls, telemetry.DownsampledFix{Fix: dense[i]})
	}
	// Keep the final point so the span covers the whole estimate.
	last := dense[len(dense)-1]
	if controls[len(controls)-1].Timestamp < last.Timestamp {
		controls = append(controls, telemetry.DownsampledFix{Fix: last})
	}

	timebase := make([]float64, len(dense))
	for i, f := range dense {
		timebase[i] = f.Timestamp
	}
	return resample(controls, timebase, interpCatmullRom)
}
