// Command trajectory reconstructs a high-rate vehicle trajectory from a
// recorded telemetry session and reports how well each reconstruction
// strategy tracks the ground truth.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/recon"
	"github.com/banshee-data/trajectory.report/internal/report"
	sqlitestore "github.com/banshee-data/trajectory.report/internal/storage/sqlite"
	"github.com/banshee-data/trajectory.report/internal/telemetry"
	"github.com/banshee-data/trajectory.report/internal/version"
)

var (
	sessionFile   = flag.String("file", "", "Path to the recorded session file (required)")
	configFile    = flag.String("config", "", "Path to a tuning config JSON (defaults apply when omitted)")
	dbFile        = flag.String("db", "", "SQLite database to persist run metrics (skipped when omitted)")
	migrationsDir = flag.String("migrations", "migrations", "Path to the schema migrations directory")
	reportDir     = flag.String("report-dir", "", "Directory for HTML/PNG reports (skipped when omitted)")
	lapFlag       = flag.Int("lap", -1, "Lap to report on (default: the selected fastest lap)")
	seedFlag      = flag.Int64("seed", 0, "Override the noise RNG seed (0 keeps the configured seed)")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("trajectory %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *sessionFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if *seedFlag != 0 {
		cfg.RandomSeed = seedFlag
	}

	samples, err := telemetry.ParseSessionFile(*sessionFile)
	if err != nil {
		log.Fatalf("parse session: %v", err)
	}
	log.Printf("parsed %d samples from %s", len(samples), *sessionFile)

	results, err := recon.Process(samples, cfg)
	if err != nil {
		log.Fatalf("process session: %v", err)
	}
	log.Printf("processed %d laps, selected lap %d", len(results.Laps), results.SelectedLap)

	lap := results.SelectedLap
	if *lapFlag >= 0 {
		if _, ok := results.PerLap[*lapFlag]; !ok {
			log.Fatalf("lap %d not present; available: %v", *lapFlag, results.Laps)
		}
		lap = *lapFlag
	}
	printSummary(results.PerLap[lap])

	if *dbFile != "" {
		persist(cfg, results)
	}
	if *reportDir != "" {
		render(results.PerLap[lap])
	}
}

func printSummary(lr *recon.LapResult) {
	fmt.Printf("\nlap %d: %.1f s, %.1f m, %d outliers (clean %d / noisy %d)\n",
		lr.Lap, lr.Duration, lr.TotalDistance,
		lr.Outliers.Total, lr.Outliers.Clean, lr.Outliers.Noisy)

	printPath := func(name string, summaries []report.ErrorSummary) {
		if len(summaries) == 0 {
			return
		}
		fmt.Printf("\n  %s path:\n", name)
		fmt.Printf("    %-12s %8s %8s %8s %8s %8s\n", "strategy", "rmse", "mae", "max", "p50", "p95")
		for _, s := range summaries {
			fmt.Printf("    %-12s %8.3f %8.3f %8.3f %8.3f %8.3f\n",
				s.Reconstructor, s.RMSE, s.MAE, s.MaxError, s.P50, s.P95)
		}
	}
	printPath(recon.PathClean, report.Summarise(lr, recon.PathClean))
	printPath(recon.PathNoisy, report.Summarise(lr, recon.PathNoisy))

	if len(lr.Extrema) > 0 {
		fmt.Printf("\n  speed extrema:\n")
		for _, e := range lr.Extrema {
			fmt.Printf("    %-3s at %4.1f%% of lap: %.1f km/h\n", e.Type, e.LapPosition*100, e.SpeedKmh)
		}
	}
}

func persist(cfg *config.TuningConfig, results *recon.Results) {
	db, err := sql.Open("sqlite", *dbFile)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := sqlitestore.MigrateUp(db, *migrationsDir); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	store := sqlitestore.NewResultStore(db)
	runID, err := store.SaveRun(*sessionFile, cfg, results)
	if err != nil {
		log.Fatalf("save run: %v", err)
	}
	log.Printf("saved run %s to %s", runID, *dbFile)
}

func render(lr *recon.LapResult) {
	htmlPath, err := report.WriteHTMLReport(*reportDir, lr, recon.PathClean)
	if err != nil {
		log.Fatalf("write html report: %v", err)
	}
	log.Printf("wrote %s", htmlPath)

	if lr.Noisy != nil {
		noisyPath, err := report.WriteHTMLReport(*reportDir, lr, recon.PathNoisy)
		if err != nil {
			log.Fatalf("write noisy html report: %v", err)
		}
		log.Printf("wrote %s", noisyPath)
	}

	plotPath, err := report.WriteErrorPlot(*reportDir, lr, recon.PathClean)
	if err != nil {
		log.Fatalf("write error plot: %v", err)
	}
	log.Printf("wrote %s", plotPath)
}
