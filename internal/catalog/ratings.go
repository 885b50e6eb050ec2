package catalog

import (
	"database/sql"
	"fmt"

	"github.com/Gohla/musium/internal/util"
)

// User is a rating-holding library user.
type User struct {
	ID   int64
	Name string
}

// CreateUser adds a user. Names are unique.
func (s *Store) CreateUser(name string) (*User, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: user name must not be empty", util.ErrInvalidConfig)
	}

	result, err := s.db.Exec("INSERT INTO users (name) VALUES (?)", name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	return &User{ID: id, Name: name}, nil
}

// GetUserByName looks a user up by name.
func (s *Store) GetUserByName(name string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, name FROM users WHERE name = ?", name).Scan(&user.ID, &user.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", name, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// ListUsers returns all users ordered by name.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query("SELECT id, name FROM users ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// ratingTables maps a rateable entity to its rating table and columns.
var ratingTables = map[string]struct{ table, column, entity string }{
	"album":  {"user_album_ratings", "album_id", "albums"},
	"track":  {"user_track_ratings", "track_id", "tracks"},
	"artist": {"user_artist_ratings", "artist_id", "artists"},
}

// SetRating records a user's rating for an album, track or artist.
// Ratings attach to canonical rows, so they survive renames, relinks and
// soft deletion of the entity's links.
func (s *Store) SetRating(userID int64, entity string, entityID int64, rating int) error {
	spec, ok := ratingTables[entity]
	if !ok {
		return fmt.Errorf("%w: cannot rate %q", util.ErrUnsupported, entity)
	}
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating %d out of range 1-5", util.ErrInvalidConfig, rating)
	}

	var exists int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", spec.entity)
	if err := s.db.QueryRow(query, entityID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check %s: %w", entity, err)
	}
	if exists == 0 {
		return fmt.Errorf("%s %d: %w", entity, entityID, util.ErrNotFound)
	}

	query = fmt.Sprintf(`
		INSERT INTO %s (user_id, %s, rating) VALUES (?, ?, ?)
		ON CONFLICT (user_id, %s) DO UPDATE SET rating = excluded.rating
	`, spec.table, spec.column, spec.column)
	if _, err := s.db.Exec(query, userID, entityID, rating); err != nil {
		return fmt.Errorf("failed to set rating: %w", err)
	}

	return nil
}

// GetRating returns a user's rating for an entity, or ErrNotFound when
// none has been recorded.
func (s *Store) GetRating(userID int64, entity string, entityID int64) (int, error) {
	spec, ok := ratingTables[entity]
	if !ok {
		return 0, fmt.Errorf("%w: cannot rate %q", util.ErrUnsupported, entity)
	}

	var rating int
	query := fmt.Sprintf("SELECT rating FROM %s WHERE user_id = ? AND %s = ?", spec.table, spec.column)
	err := s.db.QueryRow(query, userID, entityID).Scan(&rating)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("rating for %s %d: %w", entity, entityID, util.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rating: %w", err)
	}

	return rating, nil
}
