// Package scan observes local directory sources. The scanner walks a
// source's directory tree, reads tags and content hashes concurrently,
// and reports everything it saw as one observation batch. It never
// touches the catalog; reconciliation decides what the observations mean.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dhowden/tag"
	"github.com/schollz/progressbar/v3"

	"github.com/Gohla/musium/internal/identity"
	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

// AudioExtensions are the default supported audio file extensions
var AudioExtensions = []string{
	".mp3",
	".flac",
	".m4a",
	".aac",
	".ogg",
	".opus",
	".wav",
	".aiff",
	".aif",
	".wma",
	".ape",
	".wv",  // WavPack
	".mpc", // Musepack
}

// Scanner discovers and reads audio files in a directory tree
type Scanner struct {
	extensions  map[string]bool
	concurrency int
}

// Config holds scanner configuration
type Config struct {
	AdditionalExts []string
	Concurrency    int
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	// Build extension map (case-insensitive)
	extMap := make(map[string]bool)
	for _, ext := range AudioExtensions {
		extMap[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.AdditionalExts {
		extMap[strings.ToLower(ext)] = true
	}

	return &Scanner{
		extensions:  extMap,
		concurrency: cfg.Concurrency,
	}
}

// scannedFile is one worker's result for a single file
type scannedFile struct {
	track source.Track
	album string
	// artist names, track-level and album-level
	artists      []string
	albumArtists []string
	diag         *source.Diagnostic
}

// Observe walks the source's directory and returns everything it saw.
// Unreadable and untaggable files become diagnostics, not errors; the
// walk itself failing is an error.
func (s *Scanner) Observe(ctx context.Context, src *source.Source) (*source.Batch, error) {
	if src.Kind != source.KindLocal || src.Local == nil {
		return nil, fmt.Errorf("%w: scanner requires a local source", util.ErrUnsupported)
	}
	root := src.Local.Directory
	util.InfoLog("Starting scan of: %s", root)

	filePaths := make(chan string, 100)
	results := make(chan scannedFile, 100)

	var filesFound atomic.Int64
	var filesProcessed atomic.Int64
	var filesSkipped atomic.Int64

	// Progress bar on a terminal, plain text otherwise
	isTTY := util.IsTerminal(os.Stdout.Fd())
	var bar *progressbar.ProgressBar
	if isTTY && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				found := filesFound.Load()
				processed := filesProcessed.Load()
				skipped := filesSkipped.Load()

				if bar != nil && found > 0 {
					bar.Describe(fmt.Sprintf("Scanning | %d found | %d skipped", found, skipped))
					bar.Set64(processed)
				} else if found > 0 {
					util.InfoLog("Progress: found %d audio files, processed %d (skipped: %d)",
						found, processed, skipped)
				}
			}
		}
	}()

	// Worker pool reading tags and hashing content
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range filePaths {
				select {
				case <-ctx.Done():
					return
				default:
				}

				scanned := s.readFile(root, path)
				filesProcessed.Add(1)
				if scanned.diag != nil {
					filesSkipped.Add(1)
				}

				select {
				case results <- scanned:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Collector assembling the batch from worker results
	batch := &source.Batch{SourceID: src.ID, Kind: src.Kind}
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collect(batch, results)
	}()

	// Walk directory tree
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			util.WarnLog("Error accessing path %s: %v", path, err)
			// Route through the collector; it owns the batch while
			// workers are running.
			diag := scannedFile{diag: &source.Diagnostic{
				Code:    source.DiagUnreadable,
				Entity:  "track",
				Path:    relativePath(root, path),
				Message: err.Error(),
			}}
			select {
			case results <- diag:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil // Continue walking
		}

		if d.IsDir() {
			return nil
		}

		if s.isAudioFile(path) {
			filesFound.Add(1)
			select {
			case filePaths <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	close(filePaths)
	wg.Wait()
	close(results)
	<-collectorDone
	cancelProgress()

	if bar != nil {
		bar.Finish()
	}

	if walkErr != nil {
		return nil, fmt.Errorf("walk error: %w", walkErr)
	}

	sortBatch(batch)

	util.SuccessLog("Scan complete: %d files found, %d usable, %d skipped",
		filesFound.Load(), len(batch.Tracks), filesSkipped.Load())

	return batch, nil
}

// readFile reads one audio file's tags and content hash
func (s *Scanner) readFile(root, path string) scannedFile {
	rel := relativePath(root, path)

	skip := func(code source.DiagnosticCode, msg string) scannedFile {
		return scannedFile{diag: &source.Diagnostic{
			Code:    code,
			Entity:  "track",
			Path:    rel,
			Message: msg,
		}}
	}

	f, err := os.Open(path)
	if err != nil {
		return skip(source.DiagUnreadable, err.Error())
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return skip(source.DiagUnreadable, fmt.Sprintf("failed to read tags: %v", err))
	}

	title := strings.TrimSpace(meta.Title())
	if title == "" {
		return skip(source.DiagMissingTitle, "file has no title tag")
	}
	album := strings.TrimSpace(meta.Album())
	if album == "" {
		return skip(source.DiagMissingAlbum, "file has no album tag")
	}

	// Hash after tag reading; the metadata-invariant checksum needs the
	// whole stream from the start.
	if _, err := f.Seek(0, 0); err != nil {
		return skip(source.DiagUnreadable, err.Error())
	}
	hash, err := identity.HashAudio(f)
	if err != nil {
		return skip(source.DiagUnreadable, fmt.Sprintf("failed to hash content: %v", err))
	}

	trackNumber, trackTotal := meta.Track()
	discNumber, discTotal := meta.Disc()

	scanned := scannedFile{
		track: source.Track{
			Key:         source.TrackKey(hash),
			Title:       title,
			DiscNumber:  discNumber,
			DiscTotal:   discTotal,
			TrackNumber: trackNumber,
			TrackTotal:  trackTotal,
			FilePath:    rel,
			Hash:        hash,
		},
		album: album,
	}
	if artist := strings.TrimSpace(meta.Artist()); artist != "" {
		scanned.artists = append(scanned.artists, artist)
	}
	if albumArtist := strings.TrimSpace(meta.AlbumArtist()); albumArtist != "" {
		scanned.albumArtists = append(scanned.albumArtists, albumArtist)
	} else {
		scanned.albumArtists = scanned.artists
	}

	return scanned
}

// collect folds worker results into the batch, deduplicating artists and
// albums by merge key.
func collect(batch *source.Batch, results <-chan scannedFile) {
	// Keyed by merge key; album artist key sets are folded in per track.
	artists := make(map[string]string)
	albums := make(map[string]*source.Album)
	albumArtists := make(map[string]map[string]bool)

	for scanned := range results {
		if scanned.diag != nil {
			batch.Diagnostics = append(batch.Diagnostics, *scanned.diag)
			continue
		}

		track := scanned.track
		albumKey := source.MergeKey(scanned.album)
		track.AlbumKey = albumKey
		if _, ok := albums[albumKey]; !ok {
			albums[albumKey] = &source.Album{Key: albumKey, Name: scanned.album}
			albumArtists[albumKey] = make(map[string]bool)
		}

		for _, name := range scanned.artists {
			key := source.MergeKey(name)
			artists[key] = name
			track.ArtistKeys = append(track.ArtistKeys, key)
		}
		for _, name := range scanned.albumArtists {
			key := source.MergeKey(name)
			artists[key] = name
			albumArtists[albumKey][key] = true
		}

		batch.Tracks = append(batch.Tracks, track)
	}

	for key, name := range artists {
		batch.Artists = append(batch.Artists, source.Artist{Key: key, Name: name})
	}
	for key, album := range albums {
		for artistKey := range albumArtists[key] {
			album.ArtistKeys = append(album.ArtistKeys, artistKey)
		}
		sort.Strings(album.ArtistKeys)
		batch.Albums = append(batch.Albums, *album)
	}
}

// sortBatch puts the batch in a stable order; workers finish in
// arbitrary order.
func sortBatch(batch *source.Batch) {
	sort.Slice(batch.Artists, func(i, j int) bool { return batch.Artists[i].Key < batch.Artists[j].Key })
	sort.Slice(batch.Albums, func(i, j int) bool { return batch.Albums[i].Key < batch.Albums[j].Key })
	sort.Slice(batch.Tracks, func(i, j int) bool { return batch.Tracks[i].FilePath < batch.Tracks[j].FilePath })
	sort.Slice(batch.Diagnostics, func(i, j int) bool { return batch.Diagnostics[i].Path < batch.Diagnostics[j].Path })
}

// relativePath makes path relative to the source root, with forward
// slashes so link rows are portable across platforms.
func relativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

// isAudioFile checks if a path has a supported audio extension
func (s *Scanner) isAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return s.extensions[ext]
}
