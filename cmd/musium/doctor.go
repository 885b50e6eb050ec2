package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the catalog and its sources",
	Long: `Run diagnostic checks to ensure musium can operate correctly.

This command checks:
- Database accessibility and integrity
- Source configuration (local directories exist and are readable,
  remote sources carry credentials)

Use this command to troubleshoot issues before running a sync.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	applyLogFlags()
	util.InfoLog("=== Musium Doctor - Diagnostics ===")

	results := []checkResult{checkDatabase(viper.GetString("db"))}

	store, err := openStore()
	if err == nil {
		defer store.Close()
		sources, listErr := store.ListSources()
		if listErr != nil {
			results = append(results, checkResult{
				name: "sources", message: listErr.Error(), error: true,
			})
		} else {
			for _, src := range sources {
				results = append(results, checkSource(src))
			}
			if len(sources) == 0 {
				results = append(results, checkResult{
					name:    "sources",
					message: "no sources provisioned; use 'musium source add-local'",
					warning: true,
				})
			}
		}
	}

	failed := 0
	for _, result := range results {
		switch {
		case result.error:
			util.ErrorLog("[FAIL] %s: %s", result.name, result.message)
			failed++
		case result.warning:
			util.WarnLog("[WARN] %s: %s", result.name, result.message)
		default:
			util.SuccessLog("[OK]   %s: %s", result.name, result.message)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDatabase(dbPath string) checkResult {
	result := checkResult{name: "database"}

	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		result.message = fmt.Sprintf("%s does not exist yet; it is created on first use", dbPath)
		result.warning = true
		return result
	}

	store, err := openStore()
	if err != nil {
		result.message = err.Error()
		result.error = true
		return result
	}
	defer store.Close()

	if err := store.CheckIntegrity(); err != nil {
		result.message = err.Error()
		result.error = true
		return result
	}

	stats, err := store.GetStats()
	if err != nil {
		result.message = err.Error()
		result.error = true
		return result
	}

	result.message = fmt.Sprintf("%s ok (%d tracks, %d albums, %d artists)",
		dbPath, stats.Tracks, stats.Albums, stats.Artists)
	return result
}

func checkSource(src *source.Source) checkResult {
	result := checkResult{name: fmt.Sprintf("source %d (%s)", src.ID, src.Kind)}

	if !src.Enabled {
		result.message = "disabled"
		result.warning = true
		return result
	}

	switch src.Kind {
	case source.KindLocal:
		info, err := os.Stat(src.Local.Directory)
		if err != nil {
			result.message = fmt.Sprintf("directory unreadable: %v", err)
			result.error = true
			return result
		}
		if !info.IsDir() {
			result.message = fmt.Sprintf("%s is not a directory", src.Local.Directory)
			result.error = true
			return result
		}
		result.message = src.Local.Directory
	default:
		if src.Remote == nil || src.Remote.RefreshToken == "" {
			result.message = "missing refresh token; re-provision the source"
			result.error = true
			return result
		}
		result.message = fmt.Sprintf("credential valid until %s", src.Remote.TokenExpiry.Format("2006-01-02 15:04"))
	}

	return result
}
