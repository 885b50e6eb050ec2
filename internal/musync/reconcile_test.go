package musync

import (
	"path/filepath"
	"testing"

	"github.com/Gohla/musium/internal/catalog"
	"github.com/Gohla/musium/internal/source"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

// localBatch builds a local observation of one artist, one album and the
// given tracks, the way the scanner would report them.
func localBatch(src *source.Source, tracks ...source.Track) *source.Batch {
	batch := &source.Batch{
		SourceID: src.ID,
		Kind:     source.KindLocal,
		Artists:  []source.Artist{{Key: source.MergeKey("Boards of Canada"), Name: "Boards of Canada"}},
		Albums: []source.Album{{
			Key:        source.MergeKey("Geogaddi"),
			Name:       "Geogaddi",
			ArtistKeys: []string{source.MergeKey("Boards of Canada")},
		}},
	}
	for _, track := range tracks {
		track.AlbumKey = source.MergeKey("Geogaddi")
		track.ArtistKeys = []string{source.MergeKey("Boards of Canada")}
		track.Key = source.TrackKey(track.Hash)
		batch.Tracks = append(batch.Tracks, track)
	}
	return batch
}

// syncBatch reconciles and applies one batch, returning the summary.
func syncBatch(t *testing.T, store *catalog.Store, src *source.Source, batch *source.Batch) *Summary {
	t.Helper()

	snap, err := store.Snapshot(src)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	ops, summary, err := Reconcile(snap, batch)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if err := store.Apply(ops); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	return summary
}

func TestReconcileInitialImportAndIdempotence(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	batch := localBatch(src,
		source.Track{Title: "Music Is Math", TrackNumber: 2, FilePath: "geogaddi/02.flac", Hash: 100},
		source.Track{Title: "Julie and Candy", TrackNumber: 7, FilePath: "geogaddi/07.flac", Hash: 200},
	)

	summary := syncBatch(t, store, src, batch)
	if summary.ArtistsCreated != 1 || summary.AlbumsCreated != 1 || summary.TracksCreated != 2 {
		t.Errorf("first run summary = %+v", summary)
	}

	// The same observation again must be a no-op.
	snap, _ := store.Snapshot(src)
	ops, summary, err := Reconcile(snap, batch)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !ops.Empty() {
		t.Errorf("second run ops not empty: %+v", ops)
	}
	if summary.Changed() {
		t.Errorf("second run summary reports changes: %+v", summary)
	}
	if summary.TracksUnchanged != 2 {
		t.Errorf("unchanged = %d, want 2", summary.TracksUnchanged)
	}
}

func TestReconcileRenamePreservesTrack(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100}))

	snap, _ := store.Snapshot(src)
	trackID := snap.TrackLinks[source.TrackKey(100)].TrackID

	// Same content under a new name: the canonical track survives.
	summary := syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "renamed/music is math.flac", Hash: 100}))
	if summary.TracksRelinked != 1 || summary.TracksCreated != 0 || summary.TracksSoftDeleted != 0 {
		t.Errorf("rename summary = %+v", summary)
	}

	snap, _ = store.Snapshot(src)
	link := snap.TrackLinks[source.TrackKey(100)]
	if link.TrackID != trackID {
		t.Errorf("rename changed track id: %d != %d", link.TrackID, trackID)
	}
	if link.FilePath != "renamed/music is math.flac" {
		t.Errorf("path = %q", link.FilePath)
	}
}

func TestReconcileSoftDeleteAndRestore(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100},
		source.Track{Title: "Julie and Candy", FilePath: "geogaddi/07.flac", Hash: 200}))

	snap, _ := store.Snapshot(src)
	deletedID := snap.TrackLinks[source.TrackKey(200)].TrackID

	// One file disappeared.
	gone := localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100})
	summary := syncBatch(t, store, src, gone)
	if summary.TracksSoftDeleted != 1 {
		t.Errorf("delete summary = %+v", summary)
	}

	snap, _ = store.Snapshot(src)
	if snap.TrackLinks[source.TrackKey(200)].HasPath {
		t.Error("deleted track still has a path")
	}

	// Reporting the same absence again changes nothing.
	summary = syncBatch(t, store, src, gone)
	if summary.Changed() {
		t.Errorf("repeat delete summary reports changes: %+v", summary)
	}

	// The file comes back: same canonical track, restored link.
	summary = syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100},
		source.Track{Title: "Julie and Candy", FilePath: "restored/07.flac", Hash: 200}))
	if summary.TracksRelinked != 1 || summary.TracksCreated != 0 {
		t.Errorf("restore summary = %+v", summary)
	}

	snap, _ = store.Snapshot(src)
	restored := snap.TrackLinks[source.TrackKey(200)]
	if restored.TrackID != deletedID {
		t.Errorf("restore changed track id: %d != %d", restored.TrackID, deletedID)
	}
}

func TestReconcileReplacementAtSamePath(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100}))

	// Different content at the same path is a new track; the old one is
	// soft deleted, not overwritten.
	summary := syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 999}))
	if summary.TracksCreated != 1 || summary.TracksSoftDeleted != 1 || summary.TracksRelinked != 0 {
		t.Errorf("replacement summary = %+v", summary)
	}

	snap, _ := store.Snapshot(src)
	old := snap.TrackLinks[source.TrackKey(100)]
	if old.HasPath {
		t.Error("replaced track still has a path")
	}
	replacement := snap.TrackLinks[source.TrackKey(999)]
	if replacement.FilePath != "geogaddi/02.flac" {
		t.Errorf("replacement path = %q", replacement.FilePath)
	}
	if replacement.TrackID == old.TrackID {
		t.Error("replacement reused the old canonical track")
	}
}

func TestReconcileMetadataUpdate(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math", TrackNumber: 2, FilePath: "geogaddi/02.flac", Hash: 100}))

	snap, _ := store.Snapshot(src)
	trackID := snap.TrackLinks[source.TrackKey(100)].TrackID

	// Retagged title: same file identity, refreshed metadata.
	summary := syncBatch(t, store, src, localBatch(src,
		source.Track{Title: "Music Is Math (Remaster)", TrackNumber: 2, FilePath: "geogaddi/02.flac", Hash: 100}))
	if summary.TracksUpdated != 1 || summary.TracksCreated != 0 || summary.TracksRelinked != 0 {
		t.Errorf("retag summary = %+v", summary)
	}

	track, err := store.GetTrack(trackID)
	if err != nil {
		t.Fatalf("GetTrack failed: %v", err)
	}
	if track.Title != "Music Is Math (Remaster)" {
		t.Errorf("title = %q", track.Title)
	}

	// An artist-only retag is also detected.
	batch := localBatch(src,
		source.Track{Title: "Music Is Math (Remaster)", TrackNumber: 2, FilePath: "geogaddi/02.flac", Hash: 100})
	batch.Artists = append(batch.Artists, source.Artist{Key: source.MergeKey("BOC"), Name: "BOC"})
	batch.Tracks[0].ArtistKeys = []string{source.MergeKey("BOC")}
	summary = syncBatch(t, store, src, batch)
	if summary.TracksUpdated != 1 {
		t.Errorf("artist retag summary = %+v", summary)
	}

	track, _ = store.GetTrack(trackID)
	if track.Artists != "BOC" {
		t.Errorf("artists = %q, want BOC", track.Artists)
	}
}

func TestReconcileDuplicateContent(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	// Two files with identical audio. The lexicographically lowest path
	// wins, deterministically; the other is reported, not imported.
	batch := localBatch(src,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/copy/02.flac", Hash: 100},
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100})
	summary := syncBatch(t, store, src, batch)

	if summary.TracksCreated != 1 || summary.DuplicatesSkipped != 1 {
		t.Errorf("duplicate summary = %+v", summary)
	}

	var dup *source.Diagnostic
	for i := range summary.Diagnostics {
		if summary.Diagnostics[i].Code == source.DiagDuplicateSkipped {
			dup = &summary.Diagnostics[i]
		}
	}
	if dup == nil {
		t.Fatal("duplicate diagnostic missing")
	}
	if dup.Path != "geogaddi/copy/02.flac" {
		t.Errorf("skipped path = %q, want the higher one", dup.Path)
	}

	snap, _ := store.Snapshot(src)
	if got := snap.TrackLinks[source.TrackKey(100)].FilePath; got != "geogaddi/02.flac" {
		t.Errorf("imported path = %q, want geogaddi/02.flac", got)
	}
}

func TestReconcileCrossSourceMerge(t *testing.T) {
	store := newTestStore(t)
	local, _ := store.CreateLocalSource("/music")
	spotify, _ := store.CreateSpotifySource(source.RemoteConfig{RefreshToken: "r"})

	syncBatch(t, store, local, localBatch(local,
		source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100}))

	// The remote account reports the same album and artist by name. They
	// must merge into the existing canonical rows; the track is new
	// because tracks never merge across sources.
	remote := &source.Batch{
		SourceID: spotify.ID,
		Kind:     source.KindSpotify,
		Artists:  []source.Artist{{Key: "spotify:artist:1", Name: "Boards of Canada"}},
		Albums: []source.Album{{
			Key: "spotify:album:1", Name: "Geogaddi", ArtistKeys: []string{"spotify:artist:1"},
		}},
		Tracks: []source.Track{{
			Key: "spotify:track:1", NativeID: "spotify:track:1", AlbumKey: "spotify:album:1",
			Title: "Music Is Math", TrackNumber: 2, ArtistKeys: []string{"spotify:artist:1"},
		}},
	}
	summary := syncBatch(t, store, spotify, remote)
	if summary.ArtistsCreated != 0 || summary.AlbumsCreated != 0 {
		t.Errorf("merge summary created entities: %+v", summary)
	}
	if summary.TracksCreated != 1 {
		t.Errorf("remote track not created: %+v", summary)
	}

	albums, _ := store.ListAlbums()
	if len(albums) != 1 {
		t.Fatalf("albums = %d, want 1 merged", len(albums))
	}
	artists, _ := store.ListArtists()
	if len(artists) != 1 {
		t.Fatalf("artists = %d, want 1 merged", len(artists))
	}

	// Both sources are linked to the merged album.
	snapRemote, _ := store.Snapshot(spotify)
	if _, ok := snapRemote.AlbumLinks["spotify:album:1"]; !ok {
		t.Error("remote album link missing")
	}
	snapLocal, _ := store.Snapshot(local)
	if _, ok := snapLocal.AlbumLinks[source.MergeKey("Geogaddi")]; !ok {
		t.Error("local album link missing")
	}

	// Re-running the remote observation is a no-op.
	snap, _ := store.Snapshot(spotify)
	ops, _, err := Reconcile(snap, remote)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !ops.Empty() {
		t.Errorf("repeat remote ops not empty: %+v", ops)
	}
}

func TestReconcileSkipsRecordsMissingRequiredFields(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateSpotifySource(source.RemoteConfig{RefreshToken: "r"})

	// The provider reports a nameless artist and album and a titleless
	// track. Each invalid record is skipped individually with a
	// diagnostic; the valid ones still import.
	batch := &source.Batch{
		SourceID: src.ID,
		Kind:     source.KindSpotify,
		Artists: []source.Artist{
			{Key: "spotify:artist:1", Name: "Boards of Canada"},
			{Key: "spotify:artist:2", Name: "   "},
		},
		Albums: []source.Album{
			{Key: "spotify:album:1", Name: "Geogaddi",
				ArtistKeys: []string{"spotify:artist:1", "spotify:artist:2"}},
			{Key: "spotify:album:2", Name: "", ArtistKeys: []string{"spotify:artist:1"}},
		},
		Tracks: []source.Track{
			{Key: "t1", NativeID: "t1", AlbumKey: "spotify:album:1",
				Title: "Music Is Math", ArtistKeys: []string{"spotify:artist:1"}},
			{Key: "t2", NativeID: "t2", AlbumKey: "spotify:album:1",
				Title: "", ArtistKeys: []string{"spotify:artist:1"}},
			{Key: "t3", NativeID: "t3", AlbumKey: "spotify:album:2",
				Title: "Orphan", ArtistKeys: []string{"spotify:artist:1"}},
		},
	}

	summary := syncBatch(t, store, src, batch)
	if summary.ArtistsCreated != 1 || summary.AlbumsCreated != 1 || summary.TracksCreated != 1 {
		t.Errorf("summary = %+v", summary)
	}

	codes := make(map[string]source.DiagnosticCode)
	for _, diag := range summary.Diagnostics {
		codes[diag.MatchKey] = diag.Code
	}
	if codes["spotify:artist:2"] != source.DiagMissingName {
		t.Errorf("nameless artist diagnostic = %v, want missing_name", codes["spotify:artist:2"])
	}
	if codes["spotify:album:2"] != source.DiagMissingName {
		t.Errorf("nameless album diagnostic = %v, want missing_name", codes["spotify:album:2"])
	}
	if codes["t2"] != source.DiagMissingTitle {
		t.Errorf("titleless track diagnostic = %v, want missing_title", codes["t2"])
	}
	if codes["t3"] != source.DiagMissingAlbum {
		t.Errorf("orphaned track diagnostic = %v, want missing_album", codes["t3"])
	}

	albums, _ := store.ListAlbums()
	if len(albums) != 1 || albums[0].Name != "Geogaddi" || albums[0].TrackCount != 1 {
		t.Errorf("unexpected albums: %+v", albums)
	}
	artists, _ := store.ListArtists()
	if len(artists) != 1 {
		t.Errorf("artists = %d, want 1 (nameless never merges)", len(artists))
	}
}

func TestReconcileDuplicateNamedRemoteAlbumsConverge(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateSpotifySource(source.RemoteConfig{RefreshToken: "r"})

	// A real provider case: a reissue shares the album name under a
	// second native id. Both merge into one canonical album, both native
	// ids stay linked, and a repeat run is a no-op.
	batch := &source.Batch{
		SourceID: src.ID,
		Kind:     source.KindSpotify,
		Artists: []source.Artist{
			{Key: "spotify:artist:1", Name: "Boards of Canada"},
			{Key: "spotify:artist:2", Name: "Boards of Canada"},
		},
		Albums: []source.Album{
			{Key: "spotify:album:1", Name: "Geogaddi", ArtistKeys: []string{"spotify:artist:1"}},
			{Key: "spotify:album:2", Name: "Geogaddi", ArtistKeys: []string{"spotify:artist:1"}},
		},
		Tracks: []source.Track{
			{Key: "t1", NativeID: "t1", AlbumKey: "spotify:album:1",
				Title: "Music Is Math", ArtistKeys: []string{"spotify:artist:1"}},
			{Key: "t2", NativeID: "t2", AlbumKey: "spotify:album:2",
				Title: "Julie and Candy", ArtistKeys: []string{"spotify:artist:1"}},
		},
	}

	summary := syncBatch(t, store, src, batch)
	if summary.AlbumsCreated != 1 || summary.ArtistsCreated != 1 {
		t.Errorf("summary = %+v", summary)
	}

	snap, _ := store.Snapshot(src)
	if snap.AlbumLinks["spotify:album:1"] == 0 ||
		snap.AlbumLinks["spotify:album:1"] != snap.AlbumLinks["spotify:album:2"] {
		t.Errorf("album links = %+v, want both native ids on one album", snap.AlbumLinks)
	}
	if snap.ArtistLinks["spotify:artist:1"] == 0 ||
		snap.ArtistLinks["spotify:artist:1"] != snap.ArtistLinks["spotify:artist:2"] {
		t.Errorf("artist links = %+v, want both native ids on one artist", snap.ArtistLinks)
	}

	ops, _, err := Reconcile(snap, batch)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !ops.Empty() {
		t.Errorf("repeat ops not empty: %+v", ops)
	}
}

func TestReconcileRejectsMismatchedSource(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	snap, _ := store.Snapshot(src)
	batch := &source.Batch{SourceID: src.ID + 1, Kind: source.KindLocal}
	if _, _, err := Reconcile(snap, batch); err == nil {
		t.Error("mismatched source ids should fail")
	}
}

func TestReconcileDanglingReferences(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")
	snap, _ := store.Snapshot(src)

	batch := &source.Batch{
		SourceID: src.ID,
		Kind:     source.KindLocal,
		Tracks: []source.Track{{
			Key: source.TrackKey(1), AlbumKey: "nowhere", Title: "Lost", FilePath: "a.flac", Hash: 1,
		}},
	}
	if _, _, err := Reconcile(snap, batch); err == nil {
		t.Error("track referencing unobserved album should fail")
	}

	batch = &source.Batch{
		SourceID: src.ID,
		Kind:     source.KindLocal,
		Albums:   []source.Album{{Key: "a", Name: "A", ArtistKeys: []string{"nobody"}}},
	}
	if _, _, err := Reconcile(snap, batch); err == nil {
		t.Error("album referencing unobserved artist should fail")
	}
}
