// Package source defines the polymorphic source model and the observed
// record contract shared by all source adapters.
//
// A source is a place the catalog pulls media metadata from: a local
// directory tree or a linked remote streaming account. New source kinds
// add a Kind variant and an adapter producing the same observed record
// shapes; they do not add new canonical tables.
package source

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind tags a source's variant.
type Kind string

const (
	KindLocal   Kind = "local"
	KindSpotify Kind = "spotify"
)

// Source is a provisioned metadata source. Exactly one of Local/Remote is
// set, matching Kind.
type Source struct {
	ID        int64
	Kind      Kind
	Enabled   bool
	CreatedAt time.Time

	Local  *LocalConfig
	Remote *RemoteConfig
}

// LocalConfig configures a local directory source.
type LocalConfig struct {
	Directory string
}

// RemoteConfig holds the credential state of a linked remote account.
type RemoteConfig struct {
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

// MergeKey normalizes an entity name for cross-source Album/Artist
// merging. Matching is exact by name; normalization only removes
// Unicode-encoding and whitespace noise so that byte-level differences in
// the same name do not fragment canonical entities.
func MergeKey(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}

// TrackKey formats a local content hash as a track match key.
func TrackKey(hash int64) string {
	return strconv.FormatInt(hash, 10)
}

// Artist is an observed artist. Key is the match key within the source:
// the native id for remote sources, the merge-keyed name for local ones.
type Artist struct {
	Key  string
	Name string
}

// Album is an observed album. ArtistKeys reference observed Artists.
type Album struct {
	Key        string
	Name       string
	ArtistKeys []string
}

// Track is an observed track as currently reported by a source, not yet
// reconciled. Local observations carry FilePath/Hash and name the album
// and artists inline; remote observations carry NativeID and reference
// the batch's Albums/Artists by key.
type Track struct {
	Key      string // match key: content hash for local, native id for remote
	AlbumKey string

	Title       string
	DiscNumber  int
	DiscTotal   int
	TrackNumber int
	TrackTotal  int

	ArtistKeys []string

	// Local fields
	FilePath string // relative to the source root
	Hash     int64

	// Remote fields
	NativeID string
}

// Batch is one source's full observation for a sync run.
type Batch struct {
	SourceID int64
	Kind     Kind

	Artists []Artist
	Albums  []Album
	Tracks  []Track

	// Per-item producer warnings (unreadable files, tagless files),
	// surfaced in the run summary.
	Diagnostics []Diagnostic
}

// DiagnosticCode classifies a per-item, non-fatal condition.
type DiagnosticCode string

const (
	DiagUnreadable       DiagnosticCode = "unreadable"
	DiagMissingTitle     DiagnosticCode = "missing_title"
	DiagMissingAlbum     DiagnosticCode = "missing_album"
	DiagMissingName      DiagnosticCode = "missing_name"
	DiagDuplicateSkipped DiagnosticCode = "duplicate_skipped"
)

// Diagnostic records a skipped or degraded item. Every skip is recorded;
// nothing is silently dropped.
type Diagnostic struct {
	Code     DiagnosticCode
	Entity   string // "track", "album", "artist"
	MatchKey string
	Path     string
	Message  string
}
