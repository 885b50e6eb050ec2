package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Gohla/musium/internal/catalog"
	"github.com/Gohla/musium/internal/musync"
	"github.com/Gohla/musium/internal/remote"
	"github.com/Gohla/musium/internal/report"
	"github.com/Gohla/musium/internal/scan"
	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

// applyLogFlags configures the logger from the global flags
func applyLogFlags() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
}

// openStore opens the catalog database named by the --db flag
func openStore() (*catalog.Store, error) {
	dbPath := viper.GetString("db")
	util.DebugLog("Opening database: %s", dbPath)

	store, err := catalog.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return store, nil
}

// newEventLogger creates the JSONL run log under the artifacts directory
func newEventLogger() (*report.EventLogger, error) {
	outputDir := viper.GetString("events-dir")
	if outputDir == "" {
		outputDir = "artifacts"
	}

	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}

	return report.NewEventLogger(outputDir, logLevel)
}

// buildRunner wires the sync runner with an observer per source kind
func buildRunner(store *catalog.Store, events *report.EventLogger) *musync.Runner {
	runner := musync.NewRunner(store, events)

	runner.Register(source.KindLocal, scan.New(&scan.Config{
		Concurrency: viper.GetInt("concurrency"),
	}))

	runner.Register(source.KindSpotify, remote.New(&remote.Config{
		BaseURL:           stringOr("spotify.api-url", "https://api.spotify.com/v1"),
		TokenURL:          stringOr("spotify.token-url", "https://accounts.spotify.com/api/token"),
		ClientID:          viper.GetString("spotify.client-id"),
		ClientSecret:      viper.GetString("spotify.client-secret"),
		PageLimit:         viper.GetInt("spotify.page-limit"),
		RequestsPerSecond: viper.GetFloat64("spotify.requests-per-second"),
	}, store))

	return runner
}

func stringOr(key, fallback string) string {
	if value := viper.GetString(key); value != "" {
		return value
	}
	return fallback
}

// printSummary writes one sync run's counters to the terminal
func printSummary(sourceID int64, summary *musync.Summary) {
	fmt.Printf("Source %d:\n", sourceID)
	fmt.Printf("  artists created:     %d\n", summary.ArtistsCreated)
	fmt.Printf("  albums created:      %d\n", summary.AlbumsCreated)
	fmt.Printf("  tracks created:      %d\n", summary.TracksCreated)
	fmt.Printf("  tracks relinked:     %d\n", summary.TracksRelinked)
	fmt.Printf("  tracks updated:      %d\n", summary.TracksUpdated)
	fmt.Printf("  tracks soft-deleted: %d\n", summary.TracksSoftDeleted)
	fmt.Printf("  tracks unchanged:    %d\n", summary.TracksUnchanged)
	if summary.DuplicatesSkipped > 0 {
		fmt.Printf("  duplicates skipped:  %d\n", summary.DuplicatesSkipped)
	}
	if len(summary.Diagnostics) > 0 {
		fmt.Printf("  diagnostics:         %d (see event log)\n", len(summary.Diagnostics))
	}
}
