package recon

import (
	"math"
	"testing"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
)

// speedProfileLap builds an enriched lap whose speed follows the given
// function of lap fraction, at 25 Hz for the given duration.
func speedProfileLap(duration float64, speed func(frac float64) float64) []telemetry.EnrichedPoint {
	n := int(duration*25) + 1
	out := make([]telemetry.EnrichedPoint, n)
	for i := range out {
		frac := float64(i) / float64(n-1)
		out[i] = telemetry.EnrichedPoint{
			Point:       telemetry.Point{Timestamp: float64(i) * 0.04, Speed: speed(frac)},
			LapPosition: frac,
		}
	}
	return out
}

func TestExtremaFindsBrakingPoints(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	// Two fast straights separated by two slow corners: speed swings
	// between ~15 and ~55 m/s, well above the 20 km/h delta floor.
	lap := speedProfileLap(120, func(frac float64) float64 {
		return 35 + 20*math.Sin(2*2*math.Pi*frac)
	})

	extrema := DetectSpeedExtrema(lap, cfg)
	var minima, maxima int
	for _, e := range extrema {
		switch e.Type {
		case ExtremumMin:
			minima++
			if e.SpeedMps > 20 {
				t.Errorf("minimum at %.1f m/s looks wrong", e.SpeedMps)
			}
		case ExtremumMax:
			maxima++
			if e.SpeedMps < 50 {
				t.Errorf("maximum at %.1f m/s looks wrong", e.SpeedMps)
			}
		}
		if math.Abs(e.SpeedKmh-e.SpeedMps*3.6) > 1e-9 {
			t.Errorf("km/h conversion wrong: %+v", e)
		}
	}
	if maxima != 2 || minima < 1 || minima > 2 {
		t.Fatalf("got %d maxima / %d minima, want 2 maxima and 1-2 minima: %+v", maxima, minima, extrema)
	}
}

func TestExtremaAlternatesTypes(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	lap := speedProfileLap(120, func(frac float64) float64 {
		return 35 + 20*math.Sin(3*2*math.Pi*frac)
	})

	extrema := DetectSpeedExtrema(lap, cfg)
	for i := 1; i < len(extrema); i++ {
		if extrema[i].Type == extrema[i-1].Type {
			t.Fatalf("consecutive extrema share type at %d: %+v", i, extrema)
		}
	}
}

func TestExtremaDropsShallowRipples(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	// A 1 m/s ripple (3.6 km/h) is far below the 20 km/h floor and
	// must not produce annotations.
	lap := speedProfileLap(60, func(frac float64) float64 {
		return 30 + 1*math.Sin(4*2*math.Pi*frac)
	})

	extrema := DetectSpeedExtrema(lap, cfg)
	if len(extrema) != 0 {
		t.Fatalf("shallow ripples produced %d extrema: %+v", len(extrema), extrema)
	}
}

func TestExtremaIgnoresSlowSpeeds(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	// The whole profile sits below the 5 m/s floor.
	lap := speedProfileLap(60, func(frac float64) float64 {
		return 2 + 1.5*math.Sin(2*2*math.Pi*frac)
	})

	if extrema := DetectSpeedExtrema(lap, cfg); len(extrema) != 0 {
		t.Fatalf("sub-threshold speeds produced extrema: %+v", extrema)
	}
}

func TestExtremaShortLap(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	if extrema := DetectSpeedExtrema(nil, cfg); extrema != nil {
		t.Fatal("nil lap should yield nil")
	}
	two := speedProfileLap(0.04, func(float64) float64 { return 10 })
	if extrema := DetectSpeedExtrema(two, cfg); len(extrema) != 0 {
		t.Fatal("two-sample lap should yield nothing")
	}
}

func TestMovingAverageFlatSeries(t *testing.T) {
	vs := []float64{5, 5, 5, 5, 5}
	out := movingAverage(vs, 2)
	for i, v := range out {
		if v != 5 {
			t.Fatalf("flat series changed at %d: %f", i, v)
		}
	}
}

func TestMergeSameTypeKeepsStronger(t *testing.T) {
	in := []SpeedExtremum{
		{Type: ExtremumMax, SpeedMps: 50},
		{Type: ExtremumMax, SpeedMps: 55},
		{Type: ExtremumMin, SpeedMps: 20},
		{Type: ExtremumMin, SpeedMps: 15},
		{Type: ExtremumMax, SpeedMps: 48},
	}
	out := mergeSameType(in)
	if len(out) != 3 {
		t.Fatalf("got %d extrema, want 3: %+v", len(out), out)
	}
	if out[0].SpeedMps != 55 || out[1].SpeedMps != 15 || out[2].SpeedMps != 48 {
		t.Fatalf("wrong survivors: %+v", out)
	}
}
