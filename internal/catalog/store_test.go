package catalog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestOpenAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	version, err := store.getSchemaVersion()
	if err != nil {
		t.Fatalf("getSchemaVersion failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}

	if err := store.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity failed: %v", err)
	}
	store.Close()

	// Reopening must not re-run migrations.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	var count int
	err = store.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("schema_version rows = %d, want 1", count)
	}
}

func TestCreateAndGetSources(t *testing.T) {
	store := newTestStore(t)

	local, err := store.CreateLocalSource("/music")
	if err != nil {
		t.Fatalf("CreateLocalSource failed: %v", err)
	}
	if local.Kind != source.KindLocal || local.Local == nil || local.Local.Directory != "/music" {
		t.Errorf("unexpected local source: %+v", local)
	}
	if !local.Enabled {
		t.Error("new source should be enabled")
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	spotify, err := store.CreateSpotifySource(source.RemoteConfig{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenExpiry:  expiry,
	})
	if err != nil {
		t.Fatalf("CreateSpotifySource failed: %v", err)
	}
	if spotify.Kind != source.KindSpotify || spotify.Remote == nil {
		t.Fatalf("unexpected spotify source: %+v", spotify)
	}
	if spotify.Remote.RefreshToken != "refresh" {
		t.Errorf("refresh token = %q, want %q", spotify.Remote.RefreshToken, "refresh")
	}
	if !spotify.Remote.TokenExpiry.Equal(expiry) {
		t.Errorf("token expiry = %v, want %v", spotify.Remote.TokenExpiry, expiry)
	}

	if _, err := store.CreateLocalSource(""); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("empty directory error = %v, want ErrInvalidConfig", err)
	}
	if _, err := store.CreateSpotifySource(source.RemoteConfig{}); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("empty refresh token error = %v, want ErrInvalidConfig", err)
	}
	if _, err := store.GetSource(999); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("missing source error = %v, want ErrNotFound", err)
	}
}

func TestListEnabledSourcesLocalFirst(t *testing.T) {
	store := newTestStore(t)

	spotify, _ := store.CreateSpotifySource(source.RemoteConfig{RefreshToken: "r"})
	local, _ := store.CreateLocalSource("/music")
	disabled, _ := store.CreateLocalSource("/other")
	if err := store.SetSourceEnabled(disabled.ID, false); err != nil {
		t.Fatalf("SetSourceEnabled failed: %v", err)
	}

	enabled, err := store.ListEnabledSources()
	if err != nil {
		t.Fatalf("ListEnabledSources failed: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("enabled sources = %d, want 2", len(enabled))
	}
	if enabled[0].ID != local.ID {
		t.Errorf("first source = %d, want local %d", enabled[0].ID, local.ID)
	}
	if enabled[1].ID != spotify.ID {
		t.Errorf("second source = %d, want spotify %d", enabled[1].ID, spotify.ID)
	}
}

func TestUpdateSourceCredentials(t *testing.T) {
	store := newTestStore(t)

	local, _ := store.CreateLocalSource("/music")
	spotify, _ := store.CreateSpotifySource(source.RemoteConfig{RefreshToken: "old"})

	expiry := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	err := store.UpdateSourceCredentials(spotify.ID, source.RemoteConfig{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		TokenExpiry:  expiry,
	})
	if err != nil {
		t.Fatalf("UpdateSourceCredentials failed: %v", err)
	}

	got, err := store.GetSource(spotify.ID)
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if got.Remote.AccessToken != "new-access" || got.Remote.RefreshToken != "new-refresh" {
		t.Errorf("credentials not persisted: %+v", got.Remote)
	}

	// A local source never carries credentials.
	err = store.UpdateSourceCredentials(local.ID, source.RemoteConfig{RefreshToken: "x"})
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("local credential update error = %v, want ErrNotFound", err)
	}
}

func TestUsersAndRatings(t *testing.T) {
	store := newTestStore(t)

	user, err := store.CreateUser("henrik")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := store.CreateUser("henrik"); err == nil {
		t.Error("duplicate user name should fail")
	}

	got, err := store.GetUserByName("henrik")
	if err != nil || got.ID != user.ID {
		t.Fatalf("GetUserByName = %+v, %v", got, err)
	}

	// Rating a missing entity must fail.
	if err := store.SetRating(user.ID, "album", 42, 5); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("rating missing album error = %v, want ErrNotFound", err)
	}
	if err := store.SetRating(user.ID, "playlist", 1, 5); !errors.Is(err, util.ErrUnsupported) {
		t.Errorf("rating playlist error = %v, want ErrUnsupported", err)
	}

	src, _ := store.CreateLocalSource("/music")
	ops := &Ops{
		SourceID:   src.ID,
		Kind:       source.KindLocal,
		NewArtists: []NewArtist{{Name: "Aphex Twin", MatchKey: "aphex twin"}},
		NewAlbums:  []NewAlbum{{Name: "Drukqs", MatchKey: "drukqs"}},
		NewTracks: []NewTrack{{
			Album: NewRef(0), Title: "Vordhosbn", FilePath: "drukqs/02.flac", Hash: 77,
		}},
		AlbumArtists: []ArtistAttach{{Owner: NewRef(0), Artist: NewRef(0)}},
		TrackArtists: []ArtistAttach{{Owner: NewRef(0), Artist: NewRef(0)}},
	}
	if err := store.Apply(ops); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	for entity, id := range map[string]int64{"album": 1, "track": 1, "artist": 1} {
		if err := store.SetRating(user.ID, entity, id, 4); err != nil {
			t.Fatalf("SetRating(%s) failed: %v", entity, err)
		}
		rating, err := store.GetRating(user.ID, entity, id)
		if err != nil || rating != 4 {
			t.Errorf("GetRating(%s) = %d, %v; want 4", entity, rating, err)
		}
	}

	// Re-rating replaces, not duplicates.
	if err := store.SetRating(user.ID, "track", 1, 2); err != nil {
		t.Fatalf("SetRating update failed: %v", err)
	}
	if rating, _ := store.GetRating(user.ID, "track", 1); rating != 2 {
		t.Errorf("updated rating = %d, want 2", rating)
	}

	if err := store.SetRating(user.ID, "track", 1, 9); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("out-of-range rating error = %v, want ErrInvalidConfig", err)
	}
}
