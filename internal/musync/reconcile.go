// Package musync reconciles source observations against the canonical
// catalog. Reconcile is a pure diff: it reads a catalog snapshot and one
// source's observation batch and produces the operation set that brings
// the catalog in line, without touching storage itself. Runner drives
// the observe-reconcile-apply cycle per source.
package musync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Gohla/musium/internal/catalog"
	"github.com/Gohla/musium/internal/source"
)

// Summary counts what one reconciliation run decided.
type Summary struct {
	ArtistsCreated    int
	AlbumsCreated     int
	TracksCreated     int
	TracksRelinked    int
	TracksUpdated     int
	TracksSoftDeleted int
	TracksUnchanged   int
	DuplicatesSkipped int

	Diagnostics []source.Diagnostic
}

// Changed reports whether the run produced any catalog mutation.
func (s *Summary) Changed() bool {
	return s.ArtistsCreated > 0 || s.AlbumsCreated > 0 || s.TracksCreated > 0 ||
		s.TracksRelinked > 0 || s.TracksUpdated > 0 || s.TracksSoftDeleted > 0
}

// Reconcile diffs an observation batch against the catalog snapshot for
// the same source and produces the operation set to apply. Running the
// resulting operations and reconciling the same batch again yields an
// empty operation set.
//
// Matching is by content hash for local tracks, by native id for remote
// tracks, and by normalized name for albums and artists. A snapshot link
// absent from the batch is soft deleted; a batch track absent from the
// snapshot is created; a matched track with a different path (or a
// cleared missing marker) is relinked; a matched track with different
// metadata is updated in place.
//
// A record missing a required field (empty track title, empty album or
// artist name, no album reference) is skipped with a diagnostic; it
// never aborts the batch.
func Reconcile(snap *catalog.Snapshot, batch *source.Batch) (*catalog.Ops, *Summary, error) {
	if snap.SourceID != batch.SourceID || snap.Kind != batch.Kind {
		return nil, nil, fmt.Errorf("snapshot and batch disagree on source: %d/%s vs %d/%s",
			snap.SourceID, snap.Kind, batch.SourceID, batch.Kind)
	}

	ops := &catalog.Ops{SourceID: snap.SourceID, Kind: snap.Kind}
	summary := &Summary{Diagnostics: append([]source.Diagnostic(nil), batch.Diagnostics...)}

	artists, albums, tracks := validateBatch(batch, summary)
	tracks = dedupeTracks(tracks, batch.Kind, summary)

	artistRefs, err := reconcileArtists(snap, artists, ops, summary)
	if err != nil {
		return nil, nil, err
	}
	albumRefs, err := reconcileAlbums(snap, albums, ops, summary, artistRefs)
	if err != nil {
		return nil, nil, err
	}
	if err := reconcileTracks(snap, tracks, ops, summary, albumRefs, artistRefs); err != nil {
		return nil, nil, err
	}

	reconcileDeletions(snap, tracks, ops, summary)

	return ops, summary, nil
}

// validateBatch drops observed records missing a required field, each
// with a diagnostic. Empty names are dropped rather than merged: the
// merge key of an empty name is empty, which would collapse every
// unnamed entity across sources into one canonical row. References to
// dropped albums drop the referencing track; references to dropped
// artists are pruned.
func validateBatch(batch *source.Batch, summary *Summary) ([]source.Artist, []source.Album, []source.Track) {
	skip := func(code source.DiagnosticCode, entity, key, path, msg string) {
		summary.Diagnostics = append(summary.Diagnostics, source.Diagnostic{
			Code: code, Entity: entity, MatchKey: key, Path: path, Message: msg,
		})
	}

	droppedArtists := make(map[string]bool)
	artists := make([]source.Artist, 0, len(batch.Artists))
	for _, artist := range batch.Artists {
		if source.MergeKey(artist.Name) == "" {
			droppedArtists[artist.Key] = true
			skip(source.DiagMissingName, "artist", artist.Key, "", "artist has no name")
			continue
		}
		artists = append(artists, artist)
	}

	droppedAlbums := make(map[string]bool)
	albums := make([]source.Album, 0, len(batch.Albums))
	for _, album := range batch.Albums {
		if source.MergeKey(album.Name) == "" {
			droppedAlbums[album.Key] = true
			skip(source.DiagMissingName, "album", album.Key, "", "album has no name")
			continue
		}
		album.ArtistKeys = pruneKeys(album.ArtistKeys, droppedArtists)
		albums = append(albums, album)
	}

	tracks := make([]source.Track, 0, len(batch.Tracks))
	for _, track := range batch.Tracks {
		if strings.TrimSpace(track.Title) == "" {
			skip(source.DiagMissingTitle, "track", track.Key, track.FilePath, "track has no title")
			continue
		}
		if track.AlbumKey == "" || droppedAlbums[track.AlbumKey] {
			skip(source.DiagMissingAlbum, "track", track.Key, track.FilePath, "track has no album")
			continue
		}
		track.ArtistKeys = pruneKeys(track.ArtistKeys, droppedArtists)
		tracks = append(tracks, track)
	}

	return artists, albums, tracks
}

// pruneKeys removes references to dropped artists. The observed
// record's backing slice is never mutated; Reconcile must not modify
// its inputs.
func pruneKeys(keys []string, dropped map[string]bool) []string {
	if len(dropped) == 0 {
		return keys
	}
	found := false
	for _, key := range keys {
		if dropped[key] {
			found = true
			break
		}
	}
	if !found {
		return keys
	}

	kept := make([]string, 0, len(keys))
	for _, key := range keys {
		if !dropped[key] {
			kept = append(kept, key)
		}
	}
	return kept
}

// dedupeTracks drops batch tracks whose match key repeats. For local
// sources the lexicographically lowest path wins, deterministically;
// the losers are recorded as skipped, never silently dropped.
func dedupeTracks(observed []source.Track, kind source.Kind, summary *Summary) []source.Track {
	winners := make(map[string]source.Track, len(observed))
	order := make([]string, 0, len(observed))

	for _, t := range observed {
		current, seen := winners[t.Key]
		if !seen {
			winners[t.Key] = t
			order = append(order, t.Key)
			continue
		}

		loser := t
		if kind == source.KindLocal && t.FilePath < current.FilePath {
			winners[t.Key] = t
			loser = current
		}
		summary.DuplicatesSkipped++
		summary.Diagnostics = append(summary.Diagnostics, source.Diagnostic{
			Code:     source.DiagDuplicateSkipped,
			Entity:   "track",
			MatchKey: loser.Key,
			Path:     loser.FilePath,
			Message:  fmt.Sprintf("same content as %s", winners[t.Key].FilePath),
		})
	}

	tracks := make([]source.Track, 0, len(order))
	for _, key := range order {
		tracks = append(tracks, winners[key])
	}

	return tracks
}

func reconcileArtists(snap *catalog.Snapshot, artists []source.Artist, ops *catalog.Ops, summary *Summary) (map[string]catalog.Ref, error) {
	refs := make(map[string]catalog.Ref, len(artists))
	newByMerge := make(map[string]catalog.Ref)

	for _, artist := range artists {
		if _, done := refs[artist.Key]; done {
			continue
		}

		if id, ok := snap.ArtistLinks[artist.Key]; ok {
			refs[artist.Key] = catalog.ExistingRef(id)
			continue
		}

		mergeKey := source.MergeKey(artist.Name)
		if id, ok := snap.ArtistsByName[mergeKey]; ok {
			// Known from another source: adopt and link, never duplicate.
			ref := catalog.ExistingRef(id)
			refs[artist.Key] = ref
			ops.EnsureArtistLinks = append(ops.EnsureArtistLinks,
				catalog.EnsureArtistLink{Artist: ref, MatchKey: artist.Key})
			continue
		}

		if ref, ok := newByMerge[mergeKey]; ok {
			// Two native ids observed under one name collapse to one row.
			refs[artist.Key] = ref
			ops.EnsureArtistLinks = append(ops.EnsureArtistLinks,
				catalog.EnsureArtistLink{Artist: ref, MatchKey: artist.Key})
			continue
		}

		ops.NewArtists = append(ops.NewArtists, catalog.NewArtist{Name: artist.Name, MatchKey: artist.Key})
		ref := catalog.NewRef(len(ops.NewArtists) - 1)
		refs[artist.Key] = ref
		newByMerge[mergeKey] = ref
		summary.ArtistsCreated++
	}

	return refs, nil
}

func reconcileAlbums(snap *catalog.Snapshot, albums []source.Album, ops *catalog.Ops, summary *Summary, artistRefs map[string]catalog.Ref) (map[string]catalog.Ref, error) {
	refs := make(map[string]catalog.Ref, len(albums))
	newByMerge := make(map[string]catalog.Ref)

	for _, album := range albums {
		if _, done := refs[album.Key]; done {
			continue
		}

		var albumRef catalog.Ref
		if id, linked := snap.AlbumLinks[album.Key]; linked {
			albumRef = catalog.ExistingRef(id)
		} else {
			mergeKey := source.MergeKey(album.Name)
			if id, known := snap.AlbumsByName[mergeKey]; known {
				albumRef = catalog.ExistingRef(id)
				ops.EnsureAlbumLinks = append(ops.EnsureAlbumLinks,
					catalog.EnsureAlbumLink{Album: albumRef, MatchKey: album.Key})
			} else if prior, dup := newByMerge[mergeKey]; dup {
				albumRef = prior
				ops.EnsureAlbumLinks = append(ops.EnsureAlbumLinks,
					catalog.EnsureAlbumLink{Album: albumRef, MatchKey: album.Key})
			} else {
				ops.NewAlbums = append(ops.NewAlbums, catalog.NewAlbum{Name: album.Name, MatchKey: album.Key})
				albumRef = catalog.NewRef(len(ops.NewAlbums) - 1)
				newByMerge[mergeKey] = albumRef
				summary.AlbumsCreated++
			}
		}
		refs[album.Key] = albumRef

		// Album artist sets grow as the union of what every source
		// reports; only pairs the catalog lacks are attached.
		for _, artistKey := range album.ArtistKeys {
			artistRef, known := artistRefs[artistKey]
			if !known {
				return nil, fmt.Errorf("album %q references unobserved artist %q", album.Name, artistKey)
			}
			if albumRef.ID > 0 && artistRef.ID > 0 && snap.HasAlbumArtist(albumRef.ID, artistRef.ID) {
				continue
			}
			ops.AlbumArtists = append(ops.AlbumArtists,
				catalog.ArtistAttach{Owner: albumRef, Artist: artistRef})
		}
	}

	return refs, nil
}

func reconcileTracks(snap *catalog.Snapshot, tracks []source.Track, ops *catalog.Ops, summary *Summary, albumRefs, artistRefs map[string]catalog.Ref) error {
	for _, track := range tracks {
		albumRef, known := albumRefs[track.AlbumKey]
		if !known {
			return fmt.Errorf("track %q references unobserved album %q", track.Title, track.AlbumKey)
		}

		desiredArtists := make([]catalog.Ref, 0, len(track.ArtistKeys))
		for _, artistKey := range track.ArtistKeys {
			ref, known := artistRefs[artistKey]
			if !known {
				return fmt.Errorf("track %q references unobserved artist %q", track.Title, artistKey)
			}
			desiredArtists = append(desiredArtists, ref)
		}

		link, matched := snap.TrackLinks[track.Key]
		if !matched {
			ops.NewTracks = append(ops.NewTracks, catalog.NewTrack{
				Album:       albumRef,
				Title:       track.Title,
				DiscNumber:  track.DiscNumber,
				DiscTotal:   track.DiscTotal,
				TrackNumber: track.TrackNumber,
				TrackTotal:  track.TrackTotal,
				FilePath:    track.FilePath,
				Hash:        track.Hash,
				NativeID:    track.NativeID,
			})
			trackRef := catalog.NewRef(len(ops.NewTracks) - 1)
			for _, artistRef := range desiredArtists {
				ops.TrackArtists = append(ops.TrackArtists,
					catalog.ArtistAttach{Owner: trackRef, Artist: artistRef})
			}
			summary.TracksCreated++
			continue
		}

		changed := false

		// Same content, different location: the canonical track and its
		// ratings survive the move or reappearance.
		if snap.Kind == source.KindLocal {
			if !link.HasPath || link.FilePath != track.FilePath {
				ops.RelinkTracks = append(ops.RelinkTracks,
					catalog.TrackRelink{TrackID: link.TrackID, FilePath: track.FilePath})
				summary.TracksRelinked++
				changed = true
			}
		} else if link.Missing {
			ops.RelinkTracks = append(ops.RelinkTracks,
				catalog.TrackRelink{TrackID: link.TrackID})
			summary.TracksRelinked++
			changed = true
		}

		if metadataChanged(snap, &link, &track, albumRef, desiredArtists) {
			ops.UpdateTracks = append(ops.UpdateTracks, catalog.TrackUpdate{
				TrackID:     link.TrackID,
				Album:       albumRef,
				Title:       track.Title,
				DiscNumber:  track.DiscNumber,
				DiscTotal:   track.DiscTotal,
				TrackNumber: track.TrackNumber,
				TrackTotal:  track.TrackTotal,
				Artists:     desiredArtists,
			})
			summary.TracksUpdated++
			changed = true
		}

		if !changed {
			summary.TracksUnchanged++
		}
	}

	return nil
}

func metadataChanged(snap *catalog.Snapshot, link *catalog.TrackLink, track *source.Track, albumRef catalog.Ref, desiredArtists []catalog.Ref) bool {
	if link.Title != track.Title ||
		link.DiscNumber != track.DiscNumber || link.DiscTotal != track.DiscTotal ||
		link.TrackNumber != track.TrackNumber || link.TrackTotal != track.TrackTotal {
		return true
	}
	// A reference to a not-yet-created album or artist is a change by
	// construction.
	if albumRef.ID == 0 || albumRef.ID != link.AlbumID {
		return true
	}

	current := snap.TrackArtistIDs[link.TrackID]
	if len(desiredArtists) != len(current) {
		return true
	}
	have := make(map[int64]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	for _, ref := range desiredArtists {
		if ref.ID == 0 || !have[ref.ID] {
			return true
		}
	}

	return false
}

// reconcileDeletions soft-deletes every snapshot link the batch no
// longer reports. Links already soft deleted stay untouched, which keeps
// repeat runs idempotent.
func reconcileDeletions(snap *catalog.Snapshot, tracks []source.Track, ops *catalog.Ops, summary *Summary) {
	observed := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		observed[t.Key] = true
	}

	for key, link := range snap.TrackLinks {
		if observed[key] {
			continue
		}
		alive := link.HasPath
		if snap.Kind != source.KindLocal {
			alive = !link.Missing
		}
		if alive {
			ops.SoftDeleteTracks = append(ops.SoftDeleteTracks, link.TrackID)
			summary.TracksSoftDeleted++
		}
	}

	// Map iteration order is random; keep operation sets deterministic.
	sort.Slice(ops.SoftDeleteTracks, func(i, j int) bool {
		return ops.SoftDeleteTracks[i] < ops.SoftDeleteTracks[j]
	})
}
