package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/trajectory.report/internal/monitoring"
)

// Session-file column indices. The format is a comma-separated table
// preceded by a fixed-size metadata header.
const (
	headerLines = 13

	colTimestamp       = 0
	colLap             = 2
	colAccuracy        = 5
	colBearing         = 7
	colLat             = 11
	colLon             = 12
	colSpeed           = 14
	colLateralAcc      = 17
	colLongitudinalAcc = 19
	colYawRate         = 28

	// minColumns is the highest referenced index plus one.
	minColumns = colYawRate + 1
)

// ParseSessionFile reads a recorded session from path and returns its
// samples in file order. Rows whose timestamp or lat/lon fail numeric
// parsing are skipped; missing optional channels parse as zero and the
// accuracy defaults to DefaultAccuracyMeters.
func ParseSessionFile(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	points, err := ParseSession(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return points, nil
}

// ParseSession reads session rows from r. It skips the metadata header,
// then parses each data row per the column layout above.
func ParseSession(r io.Reader) ([]Point, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var points []Point
	var skipped int
	line := 0
	for scanner.Scan() {
		line++
		if line <= headerLines {
			continue
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		p, ok := parseRow(text)
		if !ok {
			skipped++
			continue
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if skipped > 0 {
		monitoring.Logf("session parser skipped %d unparseable rows", skipped)
	}
	if len(points) == 0 {
		return nil, ErrNoValidSamples
	}
	return points, nil
}

// parseRow parses one data row. A row is rejected only when timestamp
// or lat/lon are not numeric; all other fields degrade to defaults.
func parseRow(text string) (Point, bool) {
	fields := strings.Split(text, ",")
	if len(fields) < minColumns {
		return Point{}, false
	}

	ts, err := strconv.ParseFloat(strings.TrimSpace(fields[colTimestamp]), 64)
	if err != nil {
		return Point{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[colLat]), 64)
	if err != nil {
		return Point{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[colLon]), 64)
	if err != nil {
		return Point{}, false
	}

	p := Point{
		Timestamp:       ts,
		Lat:             lat,
		Lon:             lon,
		Lap:             int(floatField(fields, colLap, 0)),
		Accuracy:        floatField(fields, colAccuracy, 0),
		Bearing:         floatField(fields, colBearing, 0),
		Speed:           floatField(fields, colSpeed, 0),
		LateralAcc:      floatField(fields, colLateralAcc, 0),
		LongitudinalAcc: floatField(fields, colLongitudinalAcc, 0),
		YawRate:         floatField(fields, colYawRate, 0),
	}
	if p.Accuracy <= 0 {
		p.Accuracy = DefaultAccuracyMeters
	}
	return p, true
}

func floatField(fields []string, idx int, fallback float64) float64 {
	if idx >= len(fields) {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[idx]), 64)
	if err != nil {
		return fallback
	}
	return v
}
