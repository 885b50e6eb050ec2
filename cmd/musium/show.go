package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Browse the canonical catalog",
}

var showAlbumsCmd = &cobra.Command{
	Use:   "albums",
	Short: "List albums with their artists and track counts",
	RunE:  runShowAlbums,
}

var showArtistsCmd = &cobra.Command{
	Use:   "artists",
	Short: "List artists",
	RunE:  runShowArtists,
}

var showTracksCmd = &cobra.Command{
	Use:   "tracks <album-id>",
	Short: "List an album's tracks with their providing sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowTracks,
}

var showStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog counts",
	RunE:  runShowStats,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showAlbumsCmd)
	showCmd.AddCommand(showArtistsCmd)
	showCmd.AddCommand(showTracksCmd)
	showCmd.AddCommand(showStatsCmd)
}

func runShowAlbums(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	albums, err := store.ListAlbums()
	if err != nil {
		return err
	}
	if len(albums) == 0 {
		fmt.Println("Catalog is empty. Add a source and run sync.")
		return nil
	}

	for _, album := range albums {
		artists := album.Artists
		if artists == "" {
			artists = "(unknown artist)"
		}
		fmt.Printf("%4d  %s - %s (%d tracks)\n", album.ID, artists, album.Name, album.TrackCount)
	}

	return nil
}

func runShowArtists(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	artists, err := store.ListArtists()
	if err != nil {
		return err
	}

	for _, artist := range artists {
		fmt.Printf("%4d  %s (%d albums)\n", artist.ID, artist.Name, artist.AlbumCount)
	}

	return nil
}

func runShowTracks(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	albumID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid album id %q", args[0])
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tracks, err := store.ListAlbumTracks(albumID)
	if err != nil {
		return err
	}

	for _, track := range tracks {
		sources := track.Sources
		if sources == "" {
			sources = "unavailable"
		}
		fmt.Printf("%4d  %d.%02d  %-40s %-24s [%s]\n",
			track.ID, track.DiscNumber, track.TrackNumber, track.Title, track.Artists, sources)
	}

	return nil
}

func runShowStats(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("Sources:      %d\n", stats.Sources)
	fmt.Printf("Artists:      %d\n", stats.Artists)
	fmt.Printf("Albums:       %d\n", stats.Albums)
	fmt.Printf("Tracks:       %d\n", stats.Tracks)
	fmt.Printf("Soft-deleted: %d\n", stats.SoftDeleted)

	return nil
}
