package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trajectory.report/internal/recon"
)

// plotPalette holds distinct line colors for the reconstructor series.
var plotPalette = []color.Color{
	color.RGBA{R: 0xd6, G: 0x2c, B: 0x2c, A: 0xff},
	color.RGBA{R: 0x2c, G: 0x6e, B: 0xd6, A: 0xff},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x45, A: 0xff},
	color.RGBA{R: 0xc2, G: 0x7d, B: 0x0e, A: 0xff},
	color.RGBA{R: 0x7d, G: 0x2c, B: 0xd6, A: 0xff},
	color.RGBA{R: 0x4a, G: 0x4a, B: 0x4a, A: 0xff},
}

func plotColor(i int) color.Color {
	return plotPalette[i%len(plotPalette)]
}

// WriteErrorPlot saves a PNG of each reconstructor's residual over lap
// time to <dir>/lap_<n>_<path>_error.png and returns the written path.
func WriteErrorPlot(dir string, lr *recon.LapResult, pathName string) (string, error) {
	pr := pathFor(lr, pathName)
	if pr == nil {
		return "", fmt.Errorf("lap %d has no %q path", lr.Lap, pathName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("lap %d reconstruction error (%s)", lr.Lap, pathName)
	p.X.Label.Text = "lap time (s)"
	p.Y.Label.Text = "error (m)"

	names := make([]string, 0, len(pr.Reconstructions))
	for name := range pr.Reconstructions {
		names = append(names, name)
	}
	sort.Strings(names)

	colorIdx := 0
	for _, name := range names {
		output := pr.Reconstructions[name]
		residuals := residualSeries(lr.Enriched, output)
		if len(residuals) == 0 {
			continue
		}
		offset := len(lr.Enriched) - len(residuals)

		pts := make(plotter.XYs, len(residuals))
		for i, r := range residuals {
			pts[i].X = lr.Enriched[offset+i].Timestamp
			pts[i].Y = r
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("build %s line: %w", name, err)
		}
		line.Width = vg.Points(1)
		line.Color = plotColor(colorIdx)
		colorIdx++

		p.Add(line)
		p.Legend.Add(name, line)
	}

	outPath := filepath.Join(dir, fmt.Sprintf("lap_%d_%s_error.png", lr.Lap, pathName))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, outPath); err != nil {
		return "", fmt.Errorf("save error plot: %w", err)
	}
	return outPath, nil
}
