package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

// CreateLocalSource provisions a local directory source
func (s *Store) CreateLocalSource(directory string) (*source.Source, error) {
	if directory == "" {
		return nil, fmt.Errorf("%w: directory must not be empty", util.ErrInvalidConfig)
	}

	result, err := s.db.Exec(`
		INSERT INTO sources (kind, enabled, directory)
		VALUES (?, 1, ?)
	`, source.KindLocal, directory)
	if err != nil {
		return nil, fmt.Errorf("failed to insert local source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get source ID: %w", err)
	}

	return s.GetSource(id)
}

// CreateSpotifySource provisions a remote source for a linked account
func (s *Store) CreateSpotifySource(cred source.RemoteConfig) (*source.Source, error) {
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token must not be empty", util.ErrInvalidConfig)
	}

	result, err := s.db.Exec(`
		INSERT INTO sources (kind, enabled, access_token, refresh_token, token_expiry)
		VALUES (?, 1, ?, ?, ?)
	`, source.KindSpotify, cred.AccessToken, cred.RefreshToken, cred.TokenExpiry.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert spotify source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get source ID: %w", err)
	}

	return s.GetSource(id)
}

// GetSource retrieves a source by id
func (s *Store) GetSource(id int64) (*source.Source, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, enabled, created_at,
		       COALESCE(directory, ''),
		       COALESCE(access_token, ''), COALESCE(refresh_token, ''), token_expiry
		FROM sources WHERE id = ?
	`, id)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %d: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return src, nil
}

// ListSources returns all provisioned sources
func (s *Store) ListSources() ([]*source.Source, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, enabled, created_at,
		       COALESCE(directory, ''),
		       COALESCE(access_token, ''), COALESCE(refresh_token, ''), token_expiry
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*source.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, rows.Err()
}

// ListEnabledSources returns enabled sources, local kinds first so a
// sync-all run reconciles directories before remote accounts
func (s *Store) ListEnabledSources() ([]*source.Source, error) {
	all, err := s.ListSources()
	if err != nil {
		return nil, err
	}

	var enabled []*source.Source
	for _, src := range all {
		if src.Enabled && src.Kind == source.KindLocal {
			enabled = append(enabled, src)
		}
	}
	for _, src := range all {
		if src.Enabled && src.Kind != source.KindLocal {
			enabled = append(enabled, src)
		}
	}

	return enabled, nil
}

// SetSourceEnabled toggles a source. Disabling freezes its link rows but
// does not touch canonical entities.
func (s *Store) SetSourceEnabled(id int64, enabled bool) error {
	result, err := s.db.Exec("UPDATE sources SET enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("source %d: %w", id, util.ErrNotFound)
	}

	return nil
}

// UpdateSourceCredentials persists a refreshed remote credential. This
// must complete before the new access token is used: a refresh that
// succeeds at the provider but fails to persist is not a success.
func (s *Store) UpdateSourceCredentials(id int64, cred source.RemoteConfig) error {
	return s.Transaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			UPDATE sources
			SET access_token = ?, refresh_token = ?, token_expiry = ?
			WHERE id = ? AND kind != ?
		`, cred.AccessToken, cred.RefreshToken, cred.TokenExpiry.UTC(), id, source.KindLocal)
		if err != nil {
			return fmt.Errorf("failed to update credentials: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("remote source %d: %w", id, util.ErrNotFound)
		}

		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*source.Source, error) {
	var (
		src          source.Source
		kind         string
		createdAt    time.Time
		directory    string
		accessToken  string
		refreshToken string
		tokenExpiry  sql.NullTime
	)

	err := row.Scan(&src.ID, &kind, &src.Enabled, &createdAt,
		&directory, &accessToken, &refreshToken, &tokenExpiry)
	if err != nil {
		return nil, err
	}

	src.Kind = source.Kind(kind)
	src.CreatedAt = createdAt

	switch src.Kind {
	case source.KindLocal:
		src.Local = &source.LocalConfig{Directory: directory}
	default:
		cfg := &source.RemoteConfig{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		}
		if tokenExpiry.Valid {
			cfg.TokenExpiry = tokenExpiry.Time
		}
		src.Remote = cfg
	}

	return &src, nil
}
