package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Gohla/musium/internal/source"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage catalog sources",
}

var sourceAddLocalCmd = &cobra.Command{
	Use:   "add-local <directory>",
	Short: "Provision a local directory source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceAddLocal,
}

var sourceAddSpotifyCmd = &cobra.Command{
	Use:   "add-spotify",
	Short: "Provision a Spotify source from an OAuth refresh token",
	Long: `Provision a Spotify source. The refresh token comes from completing the
authorization-code flow for your application; musium keeps it fresh from
there, persisting rotated tokens before using them.`,
	RunE: runSourceAddSpotify,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned sources",
	RunE:  runSourceList,
}

var sourceEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceEnabled(args[0], true)
	},
}

var sourceDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a source without touching its catalog entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceEnabled(args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(sourceCmd)
	sourceCmd.AddCommand(sourceAddLocalCmd)
	sourceCmd.AddCommand(sourceAddSpotifyCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceEnableCmd)
	sourceCmd.AddCommand(sourceDisableCmd)

	sourceAddSpotifyCmd.Flags().String("refresh-token", "", "OAuth refresh token (required)")
	sourceAddSpotifyCmd.Flags().String("access-token", "", "current access token, if any")
	sourceAddSpotifyCmd.MarkFlagRequired("refresh-token")
}

func runSourceAddLocal(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	directory, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid directory: %w", err)
	}
	info, err := os.Stat(directory)
	if err != nil {
		return fmt.Errorf("directory does not exist: %s", directory)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", directory)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := store.CreateLocalSource(directory)
	if err != nil {
		return err
	}

	fmt.Printf("Created local source %d for %s\n", src.ID, directory)
	return nil
}

func runSourceAddSpotify(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	refreshToken, _ := cmd.Flags().GetString("refresh-token")
	accessToken, _ := cmd.Flags().GetString("access-token")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := store.CreateSpotifySource(source.RemoteConfig{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		// Force a refresh on first use.
		TokenExpiry: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created spotify source %d\n", src.ID)
	return nil
}

func runSourceList(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sources, err := store.ListSources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No sources provisioned.")
		return nil
	}

	for _, src := range sources {
		state := "enabled"
		if !src.Enabled {
			state = "disabled"
		}
		detail := ""
		if src.Local != nil {
			detail = src.Local.Directory
		}
		fmt.Printf("%4d  %-8s %-9s %s\n", src.ID, src.Kind, state, detail)
	}

	return nil
}

func setSourceEnabled(arg string, enabled bool) error {
	applyLogFlags()

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid source id %q", arg)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetSourceEnabled(id, enabled); err != nil {
		return err
	}

	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("Source %d %s\n", id, state)
	return nil
}
