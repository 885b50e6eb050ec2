package catalog

import (
	"database/sql"
	"fmt"

	"github.com/Gohla/musium/internal/source"
)

// TrackLink is one per-source track link row plus the canonical track
// fields the reconciler needs for change detection.
type TrackLink struct {
	TrackID  int64
	MatchKey string

	// Local links
	FilePath string // empty when the backing file is currently missing
	HasPath  bool
	Hash     int64

	// Remote links
	NativeID string
	Missing  bool

	// Canonical track fields
	AlbumID     int64
	Title       string
	DiscNumber  int
	DiscTotal   int
	TrackNumber int
	TrackTotal  int
}

// Snapshot is the catalog state the reconciler diffs an observation
// batch against: this source's link rows plus the whole-catalog name
// indexes that drive cross-source Album/Artist merging.
type Snapshot struct {
	SourceID int64
	Kind     source.Kind

	// Merge-key name -> canonical id, across all sources. When
	// duplicates exist the lowest id wins, deterministically.
	ArtistsByName map[string]int64
	AlbumsByName  map[string]int64

	// Match key -> link, for this source only.
	TrackLinks  map[string]TrackLink
	AlbumLinks  map[string]int64
	ArtistLinks map[string]int64

	// Track id -> current canonical artist ids, for this source's tracks.
	TrackArtistIDs map[int64][]int64
	// Album id -> current canonical artist ids, whole catalog. Album
	// artist sets are cross-source unions, so the reconciler needs them
	// all to know which pairs are new.
	AlbumArtistIDs map[int64][]int64
}

// HasAlbumArtist reports whether the album already carries the artist.
func (snap *Snapshot) HasAlbumArtist(albumID, artistID int64) bool {
	for _, id := range snap.AlbumArtistIDs[albumID] {
		if id == artistID {
			return true
		}
	}
	return false
}

// Snapshot reads the current link-row state for one source. This is the
// reconciler's input; it never reads the store directly.
func (s *Store) Snapshot(src *source.Source) (*Snapshot, error) {
	snap := &Snapshot{
		SourceID:       src.ID,
		Kind:           src.Kind,
		TrackLinks:     make(map[string]TrackLink),
		AlbumLinks:     make(map[string]int64),
		ArtistLinks:    make(map[string]int64),
		TrackArtistIDs: make(map[int64][]int64),
		AlbumArtistIDs: make(map[int64][]int64),
	}

	var err error
	if snap.ArtistsByName, err = s.namesToIDs("artists"); err != nil {
		return nil, err
	}
	if snap.AlbumsByName, err = s.namesToIDs("albums"); err != nil {
		return nil, err
	}

	linkTable := "remote_track_links"
	if src.Kind == source.KindLocal {
		err = s.loadLocalLinks(snap)
		linkTable = "local_track_links"
	} else {
		err = s.loadRemoteLinks(snap)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadTrackArtistIDs(snap, linkTable); err != nil {
		return nil, err
	}
	if err := s.loadAlbumArtistIDs(snap); err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *Store) loadAlbumArtistIDs(snap *Snapshot) error {
	rows, err := s.db.Query("SELECT album_id, artist_id FROM album_artists")
	if err != nil {
		return fmt.Errorf("failed to read album artists: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var albumID, artistID int64
		if err := rows.Scan(&albumID, &artistID); err != nil {
			return fmt.Errorf("failed to scan album artist: %w", err)
		}
		snap.AlbumArtistIDs[albumID] = append(snap.AlbumArtistIDs[albumID], artistID)
	}

	return rows.Err()
}

// loadTrackArtistIDs reads the current artist set of every track this
// source links, so the reconciler can detect artist-only metadata changes.
func (s *Store) loadTrackArtistIDs(snap *Snapshot, linkTable string) error {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT ta.track_id, ta.artist_id
		FROM track_artists ta
		JOIN %s l ON l.track_id = ta.track_id
		WHERE l.source_id = ?
	`, linkTable), snap.SourceID)
	if err != nil {
		return fmt.Errorf("failed to read track artists: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackID, artistID int64
		if err := rows.Scan(&trackID, &artistID); err != nil {
			return fmt.Errorf("failed to scan track artist: %w", err)
		}
		snap.TrackArtistIDs[trackID] = append(snap.TrackArtistIDs[trackID], artistID)
	}

	return rows.Err()
}

// namesToIDs builds the cross-source merge index for albums or artists
func (s *Store) namesToIDs(table string) (map[string]int64, error) {
	rows, err := s.db.Query(fmt.Sprintf("SELECT id, name FROM %s ORDER BY id DESC", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	// Descending order so the lowest id overwrites last.
	byName := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		byName[source.MergeKey(name)] = id
	}

	return byName, rows.Err()
}

func (s *Store) loadLocalLinks(snap *Snapshot) error {
	rows, err := s.db.Query(`
		SELECT l.track_id, l.file_path, l.hash,
		       t.album_id, t.title, t.disc_number, t.disc_total, t.track_number, t.track_total
		FROM local_track_links l
		JOIN tracks t ON t.id = l.track_id
		WHERE l.source_id = ?
	`, snap.SourceID)
	if err != nil {
		return fmt.Errorf("failed to read local track links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var link TrackLink
		var path sql.NullString
		var disc, discTotal, num, numTotal sql.NullInt64
		err := rows.Scan(&link.TrackID, &path, &link.Hash,
			&link.AlbumID, &link.Title, &disc, &discTotal, &num, &numTotal)
		if err != nil {
			return fmt.Errorf("failed to scan local track link: %w", err)
		}

		link.FilePath = path.String
		link.HasPath = path.Valid
		link.DiscNumber = int(disc.Int64)
		link.DiscTotal = int(discTotal.Int64)
		link.TrackNumber = int(num.Int64)
		link.TrackTotal = int(numTotal.Int64)
		link.MatchKey = source.TrackKey(link.Hash)
		snap.TrackLinks[link.MatchKey] = link
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Local album/artist links are existence-only and match by name.
	if err := s.loadNamedLinks(snap.SourceID,
		`SELECT a.name, l.album_id FROM local_album_links l JOIN albums a ON a.id = l.album_id WHERE l.source_id = ?`,
		snap.AlbumLinks); err != nil {
		return fmt.Errorf("failed to read local album links: %w", err)
	}
	if err := s.loadNamedLinks(snap.SourceID,
		`SELECT a.name, l.artist_id FROM local_artist_links l JOIN artists a ON a.id = l.artist_id WHERE l.source_id = ?`,
		snap.ArtistLinks); err != nil {
		return fmt.Errorf("failed to read local artist links: %w", err)
	}

	return nil
}

func (s *Store) loadNamedLinks(sourceID int64, query string, into map[string]int64) error {
	rows, err := s.db.Query(query, sourceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return err
		}
		into[source.MergeKey(name)] = id
	}

	return rows.Err()
}

func (s *Store) loadRemoteLinks(snap *Snapshot) error {
	rows, err := s.db.Query(`
		SELECT l.track_id, l.native_id, l.missing_at IS NOT NULL,
		       t.album_id, t.title, t.disc_number, t.disc_total, t.track_number, t.track_total
		FROM remote_track_links l
		JOIN tracks t ON t.id = l.track_id
		WHERE l.source_id = ?
	`, snap.SourceID)
	if err != nil {
		return fmt.Errorf("failed to read remote track links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var link TrackLink
		var disc, discTotal, num, numTotal sql.NullInt64
		err := rows.Scan(&link.TrackID, &link.NativeID, &link.Missing,
			&link.AlbumID, &link.Title, &disc, &discTotal, &num, &numTotal)
		if err != nil {
			return fmt.Errorf("failed to scan remote track link: %w", err)
		}

		link.DiscNumber = int(disc.Int64)
		link.DiscTotal = int(discTotal.Int64)
		link.TrackNumber = int(num.Int64)
		link.TrackTotal = int(numTotal.Int64)
		link.MatchKey = link.NativeID
		snap.TrackLinks[link.MatchKey] = link
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := s.loadKeyedLinks(snap.SourceID,
		`SELECT native_id, album_id FROM remote_album_links WHERE source_id = ?`,
		snap.AlbumLinks); err != nil {
		return fmt.Errorf("failed to read remote album links: %w", err)
	}
	if err := s.loadKeyedLinks(snap.SourceID,
		`SELECT native_id, artist_id FROM remote_artist_links WHERE source_id = ?`,
		snap.ArtistLinks); err != nil {
		return fmt.Errorf("failed to read remote artist links: %w", err)
	}

	return nil
}

func (s *Store) loadKeyedLinks(sourceID int64, query string, into map[string]int64) error {
	rows, err := s.db.Query(query, sourceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return err
		}
		into[key] = id
	}

	return rows.Err()
}
