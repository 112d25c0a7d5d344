// Command locate runs the RSSI localization pipeline over a batch of stored
// detections and records the resulting position estimates, then optionally
// serves them over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wildtrack-data/telemetry.report/internal/api"
	"github.com/wildtrack-data/telemetry.report/internal/config"
	"github.com/wildtrack-data/telemetry.report/internal/db"
	"github.com/wildtrack-data/telemetry.report/internal/monitoring"
	"github.com/wildtrack-data/telemetry.report/internal/telemetry"
)

var (
	dbPath     = flag.String("db", "telemetry.db", "Path to the sqlite database")
	configPath = flag.String("config", "config/tuning.defaults.json", "Path to the tuning JSON file")
	tagID      = flag.String("tag", "", "Restrict the run to one tag (default: all tags)")
	fromStr    = flag.String("from", "", "Start of the detection window, RFC 3339 (required unless -serve-only)")
	toStr      = flag.String("to", "", "End of the detection window, RFC 3339 (required unless -serve-only)")
	listen     = flag.String("listen", "", "Listen address for the results API (empty: do not serve)")
	serveOnly  = flag.Bool("serve-only", false, "Skip the pipeline and only serve existing results")
	migrations = flag.String("migrations", "", "Run pending schema migrations from this directory before anything else")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", *dbPath, err)
	}
	defer database.Close()

	if *migrations != "" {
		if err := database.MigrateUp(*migrations); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}

	if !*serveOnly {
		if err := runPipeline(database); err != nil {
			log.Fatalf("pipeline failed: %v", err)
		}
	}

	if *listen != "" {
		server := api.NewServer(database)
		monitoring.Logf("serving results on %s", *listen)
		if err := http.ListenAndServe(*listen, server.ServeMux()); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}
}

func runPipeline(database *db.DB) error {
	tuning, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		return err
	}
	engineCfg := tuning.EngineConfig()

	from, err := time.Parse(time.RFC3339, *fromStr)
	if err != nil {
		log.Fatalf("invalid -from %q: %v", *fromStr, err)
	}
	to, err := time.Parse(time.RFC3339, *toStr)
	if err != nil {
		log.Fatalf("invalid -to %q: %v", *toStr, err)
	}

	pipeline, err := telemetry.NewPipeline(engineCfg)
	if err != nil {
		return err
	}

	nodes, err := database.LoadNodes()
	if err != nil {
		return err
	}
	dets, err := database.DetectionsBetween(*tagID, from, to)
	if err != nil {
		return err
	}
	monitoring.Logf("loaded %d detections across %d nodes", len(dets), len(nodes))

	runID := uuid.NewString()
	cfgJSON, err := json.Marshal(tuning)
	if err != nil {
		return err
	}
	if err := database.RecordRun(runID, time.Now(), string(cfgJSON)); err != nil {
		return err
	}

	done := monitoring.Timed("pipeline")
	estimates, stats, err := pipeline.Run(context.Background(), dets, nodes)
	done()
	if err != nil {
		return err
	}

	if err := database.RecordEstimates(runID, estimates); err != nil {
		return err
	}
	if err := database.FinishRun(runID, time.Now(), stats); err != nil {
		return err
	}

	monitoring.Logf("run %s: %d/%d buckets solved (skipped: %d insufficient, %d singular, %d diverged)",
		runID, stats.Solved, stats.Buckets,
		stats.SkippedInsufficient, stats.SkippedSingular, stats.SkippedDiverged)
	return nil
}
