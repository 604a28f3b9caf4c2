// Package report renders a lap's reconstruction results for human
// review: a go-echarts HTML page with the speed trace, the
// per-reconstructor error comparison and the trajectory overlay, plus a
// gonum/plot PNG of error over lap time.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trajectory.report/internal/geo"
	"github.com/banshee-data/trajectory.report/internal/recon"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// trajectoryMaxPoints caps the scatter payload so a 25 Hz lap does not
// produce a multi-megabyte HTML file.
const trajectoryMaxPoints = 2000

// ErrorSummary condenses one reconstructor's residual distribution.
type ErrorSummary struct {
	Reconstructor string
	RMSE          float64
	MAE           float64
	MaxError      float64
	P50           float64
	P95           float64
}

// WriteHTMLReport renders the lap's charts into
// <dir>/lap_<n>_<path>.html and returns the written path.
func WriteHTMLReport(dir string, lr *recon.LapResult, pathName string) (string, error) {
	pr := pathFor(lr, pathName)
	if pr == nil {
		return "", fmt.Errorf("lap %d has no %q path", lr.Lap, pathName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	page := components.NewPage()
	page.AddCharts(
		speedChart(lr),
		errorChart(lr, pr),
		trajectoryChart(lr, pr),
	)

	outPath := filepath.Join(dir, fmt.Sprintf("lap_%d_%s.html", lr.Lap, pathName))
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return outPath, nil
}

// Summarise computes the residual distribution of every reconstructor
// on the given path, ordered by RMSE ascending.
func Summarise(lr *recon.LapResult, pathName string) []ErrorSummary {
	pr := pathFor(lr, pathName)
	if pr == nil {
		return nil
	}

	var out []ErrorSummary
	for name, output := range pr.Reconstructions {
		m := pr.Metrics[name]
		residuals := residualSeries(lr.Enriched, output)

		s := ErrorSummary{
			Reconstructor: name,
			RMSE:          m.RMSE,
			MAE:           m.MAE,
			MaxError:      m.MaxError,
		}
		if len(residuals) > 0 {
			sort.Float64s(residuals)
			s.P50 = stat.Quantile(0.5, stat.Empirical, residuals, nil)
			s.P95 = stat.Quantile(0.95, stat.Empirical, residuals, nil)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RMSE < out[j].RMSE })
	return out
}

func pathFor(lr *recon.LapResult, pathName string) *recon.PathResult {
	switch pathName {
	case recon.PathClean:
		return &lr.Clean
	case recon.PathNoisy:
		return lr.Noisy
	default:
		return nil
	}
}

// residualSeries returns the per-timestamp haversine residuals of an
// estimate against the enriched ground truth, in truth order.
func residualSeries(truth []telemetry.EnrichedPoint, estimate []telemetry.Fix) []float64 {
	byKey := make(map[string]telemetry.Fix, len(estimate))
	for _, f := range estimate {
		byKey[fmt.Sprintf("%.3f", f.Timestamp)] = f
	}

	var out []float64
	for _, g := range truth {
		f, ok := byKey[fmt.Sprintf("%.3f", g.Timestamp)]
		if !ok {
			continue
		}
		out = append(out, geo.Haversine(g.Lat, g.Lon, f.Lat, f.Lon))
	}
	return out
}

// speedChart plots the ~2 Hz speed trace with extrema markers.
func speedChart(lr *recon.LapResult) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("lap %d speed", lr.Lap)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lap time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed (m/s)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	xs := make([]string, len(lr.Chart.Timestamps))
	speed := make([]opts.LineData, len(lr.Chart.Timestamps))
	for i, t := range lr.Chart.Timestamps {
		xs[i] = fmt.Sprintf("%.1f", t)
		speed[i] = opts.LineData{Value: lr.Chart.Speed[i]}
	}
	line.SetXAxis(xs).AddSeries("speed", speed)

	if len(lr.Extrema) > 0 {
		scatter := charts.NewScatter()
		points := make([]opts.ScatterData, 0, len(lr.Extrema))
		for _, e := range lr.Extrema {
			points = append(points, opts.ScatterData{
				Value:      []interface{}{fmt.Sprintf("%.1f", lr.Enriched[e.Index].Timestamp), e.SpeedMps},
				SymbolSize: 12,
			})
		}
		scatter.AddSeries("extrema", points)
		line.Overlap(scatter)
	}
	return line
}

// errorChart plots every reconstructor's residual over lap time.
func errorChart(lr *recon.LapResult, pr *recon.PathResult) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "reconstruction error"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lap time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "error (m)"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	// Stride residuals to at most trajectoryMaxPoints to bound payload size.
	stride := 1
	if len(lr.Enriched) > trajectoryMaxPoints {
		stride = len(lr.Enriched)/trajectoryMaxPoints + 1
	}

	var xs []string
	for i := 0; i < len(lr.Enriched); i += stride {
		xs = append(xs, fmt.Sprintf("%.1f", lr.Enriched[i].Timestamp))
	}
	line.SetXAxis(xs)

	for _, name := range sortedReconNames(pr) {
		residuals := residualSeries(lr.Enriched, pr.Reconstructions[name])
		if len(residuals) == 0 {
			continue
		}
		// residualSeries is aligned to truth order but may start after
		// the first truth sample (the EKF starts at its init index);
		// pad from the front so strides line up with the x axis.
		offset := len(lr.Enriched) - len(residuals)
		var data []opts.LineData
		for i := 0; i < len(lr.Enriched); i += stride {
			if i < offset {
				data = append(data, opts.LineData{Value: nil})
				continue
			}
			data = append(data, opts.LineData{Value: residuals[i-offset]})
		}
		line.AddSeries(name, data)
	}
	return line
}

// trajectoryChart overlays ground truth with each reconstruction in
// local metres.
func trajectoryChart(lr *recon.LapResult, pr *recon.PathResult) components.Charter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "trajectory (local metres)"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	if len(lr.Enriched) == 0 {
		return scatter
	}
	lat0, lon0 := lr.Enriched[0].Lat, lr.Enriched[0].Lon

	stride := len(lr.Enriched)/trajectoryMaxPoints + 1
	truth := make([]opts.ScatterData, 0, trajectoryMaxPoints)
	for i := 0; i < len(lr.Enriched); i += stride {
		p := lr.Enriched[i]
		east, north := geo.ToLocal(p.Lat, p.Lon, lat0, lon0, geo.MetersPerDegLat)
		truth = append(truth, opts.ScatterData{Value: []interface{}{east, north}, SymbolSize: 3})
	}
	scatter.AddSeries("truth", truth)

	for _, name := range sortedReconNames(pr) {
		output := pr.Reconstructions[name]
		if len(output) == 0 {
			continue
		}
		pts := make([]opts.ScatterData, 0, trajectoryMaxPoints)
		outStride := len(output)/trajectoryMaxPoints + 1
		for i := 0; i < len(output); i += outStride {
			east, north := geo.ToLocal(output[i].Lat, output[i].Lon, lat0, lon0, geo.MetersPerDegLat)
			pts = append(pts, opts.ScatterData{Value: []interface{}{east, north}, SymbolSize: 2})
		}
		scatter.AddSeries(name, pts)
	}
	return scatter
}

func sortedReconNames(pr *recon.PathResult) []string {
	names := make([]string, 0, len(pr.Reconstructions))
	for name := range pr.Reconstructions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
