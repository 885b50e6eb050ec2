package catalog

import (
	"database/sql"
	"fmt"

	"github.com/Gohla/musium/internal/source"
)

// Ref names an album, artist or track that an operation set touches.
// ID > 0 refers to an existing canonical row; otherwise New indexes the
// operation set's corresponding new-entity slice.
type Ref struct {
	ID  int64
	New int
}

// ExistingRef makes a Ref to an existing canonical row.
func ExistingRef(id int64) Ref { return Ref{ID: id} }

// NewRef makes a Ref to entry i of the operation set's new-entity slice.
func NewRef(i int) Ref { return Ref{New: i} }

// NewArtist creates a canonical artist and its link row for this source.
type NewArtist struct {
	Name     string
	MatchKey string
}

// NewAlbum creates a canonical album and its link row for this source.
type NewAlbum struct {
	Name     string
	MatchKey string
}

// EnsureArtistLink links an existing canonical artist to this source.
type EnsureArtistLink struct {
	Artist   Ref
	MatchKey string
}

// EnsureAlbumLink links an existing canonical album to this source.
type EnsureAlbumLink struct {
	Album    Ref
	MatchKey string
}

// NewTrack creates a canonical track plus its link row for this source.
type NewTrack struct {
	Album Ref

	Title       string
	DiscNumber  int
	DiscTotal   int
	TrackNumber int
	TrackTotal  int

	// Local link fields
	FilePath string
	Hash     int64

	// Remote link field
	NativeID string
}

// TrackRelink restores a soft-deleted or moved track's link. For local
// sources it sets the new file path; for remote sources it clears the
// missing marker.
type TrackRelink struct {
	TrackID  int64
	FilePath string
}

// TrackUpdate refreshes a matched track's canonical metadata. Artists is
// the exact desired artist set and replaces the track's current one.
type TrackUpdate struct {
	TrackID int64
	Album   Ref

	Title       string
	DiscNumber  int
	DiscTotal   int
	TrackNumber int
	TrackTotal  int

	Artists []Ref
}

// ArtistAttach adds one artist to an album's or track's artist set.
type ArtistAttach struct {
	Owner  Ref
	Artist Ref
}

// Ops is the complete, ordered operation set one reconciliation run
// produces for one source. Apply executes it in a single transaction;
// either the whole set lands or none of it does.
type Ops struct {
	SourceID int64
	Kind     source.Kind

	NewArtists        []NewArtist
	EnsureArtistLinks []EnsureArtistLink
	NewAlbums         []NewAlbum
	EnsureAlbumLinks  []EnsureAlbumLink

	SoftDeleteTracks []int64
	RelinkTracks     []TrackRelink
	NewTracks        []NewTrack
	UpdateTracks     []TrackUpdate

	// Album artist sets grow as a union across sources; attaches for
	// pairs that already exist are ignored.
	AlbumArtists []ArtistAttach
	// Track artist sets for newly created tracks. Updated tracks carry
	// their set in TrackUpdate.Artists instead.
	TrackArtists []ArtistAttach
}

// Empty reports whether applying the set would change nothing.
func (o *Ops) Empty() bool {
	return len(o.NewArtists) == 0 && len(o.EnsureArtistLinks) == 0 &&
		len(o.NewAlbums) == 0 && len(o.EnsureAlbumLinks) == 0 &&
		len(o.SoftDeleteTracks) == 0 && len(o.RelinkTracks) == 0 &&
		len(o.NewTracks) == 0 && len(o.UpdateTracks) == 0 &&
		len(o.AlbumArtists) == 0 && len(o.TrackArtists) == 0
}

// Apply executes an operation set in one transaction. The order is
// fixed: artists, artist links, albums, album links, soft deletes,
// relinks, new tracks, track updates, then artist-set rows. Relinks run
// in two phases (clear every relinked path, then set the new values) so
// that path swaps between tracks never trip the per-source path index
// mid-flight.
func (s *Store) Apply(ops *Ops) error {
	if ops.Empty() {
		return nil
	}

	return s.Transaction(func(tx *sql.Tx) error {
		artistIDs, err := applyNewArtists(tx, ops)
		if err != nil {
			return err
		}
		if err := applyArtistLinks(tx, ops, artistIDs); err != nil {
			return err
		}

		albumIDs, err := applyNewAlbums(tx, ops)
		if err != nil {
			return err
		}
		if err := applyAlbumLinks(tx, ops, albumIDs); err != nil {
			return err
		}

		if err := applySoftDeletes(tx, ops); err != nil {
			return err
		}
		if err := applyRelinks(tx, ops); err != nil {
			return err
		}

		trackIDs, err := applyNewTracks(tx, ops, albumIDs)
		if err != nil {
			return err
		}
		if err := applyTrackUpdates(tx, ops, albumIDs, artistIDs); err != nil {
			return err
		}

		if err := applyAlbumArtists(tx, ops, albumIDs, artistIDs); err != nil {
			return err
		}
		return applyTrackArtists(tx, ops, trackIDs, artistIDs)
	})
}

// resolve maps a Ref to a concrete row id using the ids assigned to this
// operation set's new entities.
func resolve(ref Ref, newIDs []int64, what string) (int64, error) {
	if ref.ID > 0 {
		return ref.ID, nil
	}
	if ref.New < 0 || ref.New >= len(newIDs) {
		return 0, fmt.Errorf("invalid %s reference: new index %d out of range", what, ref.New)
	}
	return newIDs[ref.New], nil
}

// nullableInt maps the zero value to NULL; tag numbering starts at 1.
func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func applyNewArtists(tx *sql.Tx, ops *Ops) ([]int64, error) {
	ids := make([]int64, len(ops.NewArtists))
	for i, a := range ops.NewArtists {
		result, err := tx.Exec("INSERT INTO artists (name) VALUES (?)", a.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to insert artist %q: %w", a.Name, err)
		}
		if ids[i], err = result.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to get artist ID: %w", err)
		}
		if err := insertArtistLink(tx, ops, ids[i], a.MatchKey); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func insertArtistLink(tx *sql.Tx, ops *Ops, artistID int64, matchKey string) error {
	var err error
	if ops.Kind == source.KindLocal {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO local_artist_links (artist_id, source_id)
			VALUES (?, ?)
		`, artistID, ops.SourceID)
	} else {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO remote_artist_links (artist_id, source_id, native_id)
			VALUES (?, ?, ?)
		`, artistID, ops.SourceID, matchKey)
	}
	if err != nil {
		return fmt.Errorf("failed to link artist %d: %w", artistID, err)
	}
	return nil
}

func applyArtistLinks(tx *sql.Tx, ops *Ops, artistIDs []int64) error {
	for _, link := range ops.EnsureArtistLinks {
		id, err := resolve(link.Artist, artistIDs, "artist")
		if err != nil {
			return err
		}
		if err := insertArtistLink(tx, ops, id, link.MatchKey); err != nil {
			return err
		}
	}
	return nil
}

func applyNewAlbums(tx *sql.Tx, ops *Ops) ([]int64, error) {
	ids := make([]int64, len(ops.NewAlbums))
	for i, a := range ops.NewAlbums {
		result, err := tx.Exec("INSERT INTO albums (name) VALUES (?)", a.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to insert album %q: %w", a.Name, err)
		}
		if ids[i], err = result.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to get album ID: %w", err)
		}
		if err := insertAlbumLink(tx, ops, ids[i], a.MatchKey); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func insertAlbumLink(tx *sql.Tx, ops *Ops, albumID int64, matchKey string) error {
	var err error
	if ops.Kind == source.KindLocal {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO local_album_links (album_id, source_id)
			VALUES (?, ?)
		`, albumID, ops.SourceID)
	} else {
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO remote_album_links (album_id, source_id, native_id)
			VALUES (?, ?, ?)
		`, albumID, ops.SourceID, matchKey)
	}
	if err != nil {
		return fmt.Errorf("failed to link album %d: %w", albumID, err)
	}
	return nil
}

func applyAlbumLinks(tx *sql.Tx, ops *Ops, albumIDs []int64) error {
	for _, link := range ops.EnsureAlbumLinks {
		id, err := resolve(link.Album, albumIDs, "album")
		if err != nil {
			return err
		}
		if err := insertAlbumLink(tx, ops, id, link.MatchKey); err != nil {
			return err
		}
	}
	return nil
}

func applySoftDeletes(tx *sql.Tx, ops *Ops) error {
	for _, trackID := range ops.SoftDeleteTracks {
		var err error
		if ops.Kind == source.KindLocal {
			_, err = tx.Exec(`
				UPDATE local_track_links SET file_path = NULL
				WHERE track_id = ? AND source_id = ?
			`, trackID, ops.SourceID)
		} else {
			_, err = tx.Exec(`
				UPDATE remote_track_links SET missing_at = CURRENT_TIMESTAMP
				WHERE track_id = ? AND source_id = ? AND missing_at IS NULL
			`, trackID, ops.SourceID)
		}
		if err != nil {
			return fmt.Errorf("failed to soft-delete track %d: %w", trackID, err)
		}
	}
	return nil
}

func applyRelinks(tx *sql.Tx, ops *Ops) error {
	if len(ops.RelinkTracks) == 0 {
		return nil
	}

	if ops.Kind != source.KindLocal {
		for _, relink := range ops.RelinkTracks {
			_, err := tx.Exec(`
				UPDATE remote_track_links SET missing_at = NULL
				WHERE track_id = ? AND source_id = ?
			`, relink.TrackID, ops.SourceID)
			if err != nil {
				return fmt.Errorf("failed to restore track %d: %w", relink.TrackID, err)
			}
		}
		return nil
	}

	// Phase one: release every path this set reassigns.
	for _, relink := range ops.RelinkTracks {
		_, err := tx.Exec(`
			UPDATE local_track_links SET file_path = NULL
			WHERE track_id = ? AND source_id = ?
		`, relink.TrackID, ops.SourceID)
		if err != nil {
			return fmt.Errorf("failed to clear path for track %d: %w", relink.TrackID, err)
		}
	}

	// Phase two: assign the new paths.
	for _, relink := range ops.RelinkTracks {
		result, err := tx.Exec(`
			UPDATE local_track_links SET file_path = ?
			WHERE track_id = ? AND source_id = ?
		`, relink.FilePath, relink.TrackID, ops.SourceID)
		if err != nil {
			return fmt.Errorf("failed to relink track %d: %w", relink.TrackID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check relink: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("failed to relink track %d: no link row", relink.TrackID)
		}
	}

	return nil
}

func applyNewTracks(tx *sql.Tx, ops *Ops, albumIDs []int64) ([]int64, error) {
	ids := make([]int64, len(ops.NewTracks))
	for i, t := range ops.NewTracks {
		albumID, err := resolve(t.Album, albumIDs, "album")
		if err != nil {
			return nil, err
		}

		result, err := tx.Exec(`
			INSERT INTO tracks (album_id, disc_number, disc_total, track_number, track_total, title)
			VALUES (?, ?, ?, ?, ?, ?)
		`, albumID, nullableInt(t.DiscNumber), nullableInt(t.DiscTotal),
			nullableInt(t.TrackNumber), nullableInt(t.TrackTotal), t.Title)
		if err != nil {
			return nil, fmt.Errorf("failed to insert track %q: %w", t.Title, err)
		}
		if ids[i], err = result.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to get track ID: %w", err)
		}

		if ops.Kind == source.KindLocal {
			_, err = tx.Exec(`
				INSERT INTO local_track_links (track_id, source_id, file_path, hash)
				VALUES (?, ?, ?, ?)
			`, ids[i], ops.SourceID, t.FilePath, t.Hash)
		} else {
			_, err = tx.Exec(`
				INSERT INTO remote_track_links (track_id, source_id, native_id)
				VALUES (?, ?, ?)
			`, ids[i], ops.SourceID, t.NativeID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to link track %q: %w", t.Title, err)
		}
	}
	return ids, nil
}

func applyTrackUpdates(tx *sql.Tx, ops *Ops, albumIDs, artistIDs []int64) error {
	for _, u := range ops.UpdateTracks {
		albumID, err := resolve(u.Album, albumIDs, "album")
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			UPDATE tracks
			SET album_id = ?, disc_number = ?, disc_total = ?, track_number = ?, track_total = ?, title = ?
			WHERE id = ?
		`, albumID, nullableInt(u.DiscNumber), nullableInt(u.DiscTotal),
			nullableInt(u.TrackNumber), nullableInt(u.TrackTotal), u.Title, u.TrackID)
		if err != nil {
			return fmt.Errorf("failed to update track %d: %w", u.TrackID, err)
		}

		if err := syncTrackArtists(tx, u.TrackID, u.Artists, artistIDs); err != nil {
			return err
		}
	}
	return nil
}

// syncTrackArtists makes the track's artist set exactly match the
// desired one: missing pairs are inserted, stale pairs deleted.
func syncTrackArtists(tx *sql.Tx, trackID int64, desired []Ref, artistIDs []int64) error {
	want := make(map[int64]bool, len(desired))
	for _, ref := range desired {
		id, err := resolve(ref, artistIDs, "artist")
		if err != nil {
			return err
		}
		want[id] = true
	}

	rows, err := tx.Query("SELECT artist_id FROM track_artists WHERE track_id = ?", trackID)
	if err != nil {
		return fmt.Errorf("failed to read track artists: %w", err)
	}
	have := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan track artist: %w", err)
		}
		have[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for id := range want {
		if !have[id] {
			if _, err := tx.Exec("INSERT INTO track_artists (track_id, artist_id) VALUES (?, ?)", trackID, id); err != nil {
				return fmt.Errorf("failed to insert track artist: %w", err)
			}
		}
	}
	for id := range have {
		if !want[id] {
			if _, err := tx.Exec("DELETE FROM track_artists WHERE track_id = ? AND artist_id = ?", trackID, id); err != nil {
				return fmt.Errorf("failed to delete track artist: %w", err)
			}
		}
	}

	return nil
}

func applyAlbumArtists(tx *sql.Tx, ops *Ops, albumIDs, artistIDs []int64) error {
	for _, attach := range ops.AlbumArtists {
		albumID, err := resolve(attach.Owner, albumIDs, "album")
		if err != nil {
			return err
		}
		artistID, err := resolve(attach.Artist, artistIDs, "artist")
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO album_artists (album_id, artist_id)
			VALUES (?, ?)
		`, albumID, artistID)
		if err != nil {
			return fmt.Errorf("failed to attach artist %d to album %d: %w", artistID, albumID, err)
		}
	}
	return nil
}

func applyTrackArtists(tx *sql.Tx, ops *Ops, trackIDs, artistIDs []int64) error {
	for _, attach := range ops.TrackArtists {
		trackID, err := resolve(attach.Owner, trackIDs, "track")
		if err != nil {
			return err
		}
		artistID, err := resolve(attach.Artist, artistIDs, "artist")
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO track_artists (track_id, artist_id)
			VALUES (?, ?)
		`, trackID, artistID)
		if err != nil {
			return fmt.Errorf("failed to attach artist %d to track %d: %w", artistID, trackID, err)
		}
	}
	return nil
}
