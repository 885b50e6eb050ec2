package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/Gohla/musium/internal/util"
)

// AlbumRow is one album in a listing, with its artist names joined.
type AlbumRow struct {
	ID         int64
	Name       string
	Artists    string
	TrackCount int
}

// ArtistRow is one artist in a listing.
type ArtistRow struct {
	ID         int64
	Name       string
	AlbumCount int
}

// TrackRow is one track in a listing. Sources names the source kinds
// currently providing the track; a track whose every link is soft
// deleted lists with an empty Sources.
type TrackRow struct {
	ID          int64
	AlbumID     int64
	AlbumName   string
	Title       string
	DiscNumber  int
	TrackNumber int
	Artists     string
	Sources     string
}

// ListAlbums returns all canonical albums ordered by name.
func (s *Store) ListAlbums() ([]AlbumRow, error) {
	rows, err := s.db.Query(`
		SELECT al.id, al.name,
		       COALESCE((SELECT GROUP_CONCAT(ar.name, ', ')
		                 FROM album_artists aa JOIN artists ar ON ar.id = aa.artist_id
		                 WHERE aa.album_id = al.id), ''),
		       (SELECT COUNT(*) FROM tracks t WHERE t.album_id = al.id)
		FROM albums al
		ORDER BY al.name, al.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}
	defer rows.Close()

	var albums []AlbumRow
	for rows.Next() {
		var a AlbumRow
		if err := rows.Scan(&a.ID, &a.Name, &a.Artists, &a.TrackCount); err != nil {
			return nil, fmt.Errorf("failed to scan album: %w", err)
		}
		albums = append(albums, a)
	}

	return albums, rows.Err()
}

// ListArtists returns all canonical artists ordered by name.
func (s *Store) ListArtists() ([]ArtistRow, error) {
	rows, err := s.db.Query(`
		SELECT ar.id, ar.name,
		       (SELECT COUNT(*) FROM album_artists aa WHERE aa.artist_id = ar.id)
		FROM artists ar
		ORDER BY ar.name, ar.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artists: %w", err)
	}
	defer rows.Close()

	var artists []ArtistRow
	for rows.Next() {
		var a ArtistRow
		if err := rows.Scan(&a.ID, &a.Name, &a.AlbumCount); err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		artists = append(artists, a)
	}

	return artists, rows.Err()
}

// ListAlbumTracks returns an album's tracks in disc/track order.
func (s *Store) ListAlbumTracks(albumID int64) ([]TrackRow, error) {
	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM albums WHERE id = ?", albumID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check album: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("album %d: %w", albumID, util.ErrNotFound)
	}

	rows, err := s.db.Query(`
		SELECT t.id, t.album_id, al.name, t.title,
		       COALESCE(t.disc_number, 0), COALESCE(t.track_number, 0)
		FROM tracks t
		JOIN albums al ON al.id = t.album_id
		WHERE t.album_id = ?
		ORDER BY t.disc_number, t.track_number, t.id
	`, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackRow
	for rows.Next() {
		var t TrackRow
		if err := rows.Scan(&t.ID, &t.AlbumID, &t.AlbumName, &t.Title, &t.DiscNumber, &t.TrackNumber); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tracks {
		if err := s.fillTrackDetails(&tracks[i]); err != nil {
			return nil, err
		}
	}

	return tracks, nil
}

// GetTrack returns one track with its artists and source availability.
func (s *Store) GetTrack(trackID int64) (*TrackRow, error) {
	var t TrackRow
	err := s.db.QueryRow(`
		SELECT t.id, t.album_id, al.name, t.title,
		       COALESCE(t.disc_number, 0), COALESCE(t.track_number, 0)
		FROM tracks t
		JOIN albums al ON al.id = t.album_id
		WHERE t.id = ?
	`, trackID).Scan(&t.ID, &t.AlbumID, &t.AlbumName, &t.Title, &t.DiscNumber, &t.TrackNumber)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("track %d: %w", trackID, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}

	if err := s.fillTrackDetails(&t); err != nil {
		return nil, err
	}

	return &t, nil
}

func (s *Store) fillTrackDetails(t *TrackRow) error {
	err := s.db.QueryRow(`
		SELECT COALESCE(GROUP_CONCAT(ar.name, ', '), '')
		FROM track_artists ta JOIN artists ar ON ar.id = ta.artist_id
		WHERE ta.track_id = ?
	`, t.ID).Scan(&t.Artists)
	if err != nil {
		return fmt.Errorf("failed to read track artists: %w", err)
	}

	// Availability: a local link with a path, or a remote link not
	// marked missing, means the source still provides the track.
	rows, err := s.db.Query(`
		SELECT s.kind FROM local_track_links l
		JOIN sources s ON s.id = l.source_id
		WHERE l.track_id = ? AND l.file_path IS NOT NULL
		UNION ALL
		SELECT s.kind FROM remote_track_links r
		JOIN sources s ON s.id = r.source_id
		WHERE r.track_id = ? AND r.missing_at IS NULL
	`, t.ID, t.ID)
	if err != nil {
		return fmt.Errorf("failed to read track sources: %w", err)
	}
	defer rows.Close()

	var kinds []string
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return fmt.Errorf("failed to scan track source: %w", err)
		}
		kinds = append(kinds, kind)
	}
	t.Sources = strings.Join(kinds, ", ")

	return rows.Err()
}

// LocalTrackPath returns the file path a local source currently provides
// for a track, relative to the source's directory. A soft-deleted link
// reports ErrNotFound.
func (s *Store) LocalTrackPath(trackID, sourceID int64) (string, error) {
	var path sql.NullString
	err := s.db.QueryRow(`
		SELECT file_path FROM local_track_links
		WHERE track_id = ? AND source_id = ?
	`, trackID, sourceID).Scan(&path)
	if err == sql.ErrNoRows || (err == nil && !path.Valid) {
		return "", fmt.Errorf("track %d in source %d: %w", trackID, sourceID, util.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read track path: %w", err)
	}

	return path.String, nil
}

// Stats summarizes the catalog for status output.
type Stats struct {
	Albums      int
	Artists     int
	Tracks      int
	SoftDeleted int
	Sources     int
}

// GetStats counts catalog contents.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM albums", &stats.Albums},
		{"SELECT COUNT(*) FROM artists", &stats.Artists},
		{"SELECT COUNT(*) FROM tracks", &stats.Tracks},
		{`SELECT (SELECT COUNT(*) FROM local_track_links WHERE file_path IS NULL)
		       + (SELECT COUNT(*) FROM remote_track_links WHERE missing_at IS NOT NULL)`, &stats.SoftDeleted},
		{"SELECT COUNT(*) FROM sources", &stats.Sources},
	}

	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to gather stats: %w", err)
		}
	}

	return stats, nil
}
