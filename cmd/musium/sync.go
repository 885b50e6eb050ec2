package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Gohla/musium/internal/util"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-id]",
	Short: "Reconcile one source (or all) against the catalog",
	Long: `Reconcile what sources currently report against the canonical catalog.

For a local source this scans the directory tree, hashing audio content
so renamed files keep their catalog identity. For a remote source it
pages through the linked account. Each run applies its changes in a
single transaction: missing items are soft-deleted, moved items are
relinked, retagged items are refreshed and new items are imported.

With --all, every enabled source is synced, local directories first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Bool("all", false, "sync every enabled source")
	syncCmd.Flags().IntP("concurrency", "c", 4, "scan worker count for local sources")
	syncCmd.Flags().String("events-dir", "artifacts", "directory for JSONL run logs")

	viper.BindPFlag("concurrency", syncCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("events-dir", syncCmd.Flags().Lookup("events-dir"))
}

func runSync(cmd *cobra.Command, args []string) error {
	applyLogFlags()
	all, _ := cmd.Flags().GetBool("all")

	if all == (len(args) == 1) {
		return fmt.Errorf("specify either a source id or --all")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := newEventLogger()
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}
	defer events.Close()

	// Ctrl-C aborts the run; the partial sync never reaches the catalog.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := buildRunner(store, events)

	if all {
		summaries, err := runner.SyncAll(ctx)
		ids := make([]int64, 0, len(summaries))
		for id := range summaries {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			printSummary(id, summaries[id])
		}
		if err != nil {
			return err
		}
	} else {
		sourceID, parseErr := strconv.ParseInt(args[0], 10, 64)
		if parseErr != nil {
			return fmt.Errorf("invalid source id %q", args[0])
		}

		summary, err := runner.Sync(ctx, sourceID)
		if err != nil {
			return err
		}
		printSummary(sourceID, summary)
	}

	util.InfoLog("Run log: %s", events.Path())
	return nil
}
