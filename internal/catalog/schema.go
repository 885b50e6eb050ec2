package catalog

// Schema v1 - Initial database schema
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Provisioned metadata sources. One table for all kinds; the kind tag
-- selects which configuration columns apply.
CREATE TABLE IF NOT EXISTS sources (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL CHECK (kind IN ('local', 'spotify')),
  enabled INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  -- local sources
  directory TEXT,
  -- remote sources
  access_token TEXT,
  refresh_token TEXT,
  token_expiry DATETIME
);

-- Canonical entities. Source-independent; user ratings attach here.
CREATE TABLE IF NOT EXISTS albums (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_albums_name ON albums(name);

CREATE TABLE IF NOT EXISTS artists (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artists_name ON artists(name);

CREATE TABLE IF NOT EXISTS tracks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  album_id INTEGER NOT NULL REFERENCES albums(id),
  disc_number INTEGER,
  disc_total INTEGER,
  track_number INTEGER,
  track_total INTEGER,
  title TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tracks_album ON tracks(album_id);

CREATE TABLE IF NOT EXISTS album_artists (
  album_id INTEGER NOT NULL REFERENCES albums(id),
  artist_id INTEGER NOT NULL REFERENCES artists(id),
  PRIMARY KEY (album_id, artist_id)
);

CREATE TABLE IF NOT EXISTS track_artists (
  track_id INTEGER NOT NULL REFERENCES tracks(id),
  artist_id INTEGER NOT NULL REFERENCES artists(id),
  PRIMARY KEY (track_id, artist_id)
);

-- Per-source links for local sources. A NULL file_path means the track
-- is known to this source but currently has no backing file (soft
-- deleted). The hash column must never receive a negative value.
CREATE TABLE IF NOT EXISTS local_track_links (
  track_id INTEGER NOT NULL REFERENCES tracks(id),
  source_id INTEGER NOT NULL REFERENCES sources(id),
  file_path TEXT,
  hash INTEGER NOT NULL CHECK (hash >= 0),
  PRIMARY KEY (track_id, source_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_local_track_links_hash
  ON local_track_links(source_id, hash);
CREATE UNIQUE INDEX IF NOT EXISTS idx_local_track_links_path
  ON local_track_links(source_id, file_path) WHERE file_path IS NOT NULL;

-- Existence-only links: which albums/artists a local source has reported.
CREATE TABLE IF NOT EXISTS local_album_links (
  album_id INTEGER NOT NULL REFERENCES albums(id),
  source_id INTEGER NOT NULL REFERENCES sources(id),
  PRIMARY KEY (album_id, source_id)
);

CREATE TABLE IF NOT EXISTS local_artist_links (
  artist_id INTEGER NOT NULL REFERENCES artists(id),
  source_id INTEGER NOT NULL REFERENCES sources(id),
  PRIMARY KEY (artist_id, source_id)
);

-- Per-source links for remote sources. The native id is the match key
-- and cannot be cleared; missing_at marks a track the remote account no
-- longer reports (soft deleted).
CREATE TABLE IF NOT EXISTS remote_track_links (
  track_id INTEGER NOT NULL REFERENCES tracks(id),
  source_id INTEGER NOT NULL REFERENCES sources(id),
  native_id TEXT NOT NULL,
  missing_at DATETIME,
  PRIMARY KEY (track_id, source_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_remote_track_links_native
  ON remote_track_links(source_id, native_id);

-- Keyed on the native id: one canonical album may carry several native
-- ids from the same source, since same-named albums (reissues, deluxe
-- editions) merge by name.
CREATE TABLE IF NOT EXISTS remote_album_links (
  album_id INTEGER NOT NULL REFERENCES albums(id),
  source_id INTEGER NOT NULL REFERENCES sources(id),
  native_id TEXT NOT NULL,
  PRIMARY KEY (source_id, native_id)
);

CREATE INDEX IF NOT EXISTS idx_remote_album_links_album
  ON remote_album_links(album_id);

CREATE TABLE IF NOT EXISTS remote_artist_links (
  artist_id INTEGER NOT NULL REFERENCES artists(id),
  source_id INTEGER NOT NULL REFERENCES sources(id),
  native_id TEXT NOT NULL,
  PRIMARY KEY (source_id, native_id)
);

CREATE INDEX IF NOT EXISTS idx_remote_artist_links_artist
  ON remote_artist_links(artist_id);

-- Users and ratings. Ratings attach to canonical entities only, so a
-- track keeps its rating no matter which source supplies it.
CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS user_album_ratings (
  user_id INTEGER NOT NULL REFERENCES users(id),
  album_id INTEGER NOT NULL REFERENCES albums(id),
  rating INTEGER NOT NULL,
  PRIMARY KEY (user_id, album_id)
);

CREATE TABLE IF NOT EXISTS user_track_ratings (
  user_id INTEGER NOT NULL REFERENCES users(id),
  track_id INTEGER NOT NULL REFERENCES tracks(id),
  rating INTEGER NOT NULL,
  PRIMARY KEY (user_id, track_id)
);

CREATE TABLE IF NOT EXISTS user_artist_ratings (
  user_id INTEGER NOT NULL REFERENCES users(id),
  artist_id INTEGER NOT NULL REFERENCES artists(id),
  rating INTEGER NOT NULL,
  PRIMARY KEY (user_id, artist_id)
);
`
