package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Gohla/musium/internal/musync"
	"github.com/Gohla/musium/internal/source"
)

// EventType represents the type of event
type EventType string

const (
	EventRunStart   EventType = "run_start"
	EventRunFinish  EventType = "run_finish"
	EventCreated    EventType = "created"
	EventRelinked   EventType = "relinked"
	EventUpdated    EventType = "updated"
	EventSoftDelete EventType = "soft_delete"
	EventDuplicate  EventType = "duplicate"
	EventSkip       EventType = "skip"
	EventError      EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in a sync run
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	SourceID  int64             `json:"source_id,omitempty"`
	Entity    string            `json:"entity,omitempty"`
	MatchKey  string            `json:"match_key,omitempty"`
	Path      string            `json:"path,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level.
// minLevel determines which events are written (e.g., LevelInfo skips
// LevelDebug).
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("sync-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	// Filter by minimum level
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogRunStart logs the start of a sync run for one source
func (l *EventLogger) LogRunStart(runID string, sourceID int64, kind string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventRunStart,
		RunID:    runID,
		SourceID: sourceID,
		Extra: map[string]string{
			"kind": kind,
		},
	})
}

// LogRunFinish logs the outcome of a sync run
func (l *EventLogger) LogRunFinish(runID string, sourceID int64, summary *musync.Summary, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	event := &Event{
		Level:    level,
		Event:    EventRunFinish,
		RunID:    runID,
		SourceID: sourceID,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	}
	if summary != nil {
		event.Extra = map[string]string{
			"artists_created":     fmt.Sprintf("%d", summary.ArtistsCreated),
			"albums_created":      fmt.Sprintf("%d", summary.AlbumsCreated),
			"tracks_created":      fmt.Sprintf("%d", summary.TracksCreated),
			"tracks_relinked":     fmt.Sprintf("%d", summary.TracksRelinked),
			"tracks_updated":      fmt.Sprintf("%d", summary.TracksUpdated),
			"tracks_soft_deleted": fmt.Sprintf("%d", summary.TracksSoftDeleted),
			"tracks_unchanged":    fmt.Sprintf("%d", summary.TracksUnchanged),
			"duplicates_skipped":  fmt.Sprintf("%d", summary.DuplicatesSkipped),
		}
	}

	return l.Log(event)
}

// LogDiagnostic logs one skipped or degraded item from a sync run
func (l *EventLogger) LogDiagnostic(runID string, sourceID int64, diag *source.Diagnostic) error {
	event := EventSkip
	level := LevelWarning
	if diag.Code == source.DiagDuplicateSkipped {
		event = EventDuplicate
		level = LevelInfo
	}

	return l.Log(&Event{
		Level:    level,
		Event:    event,
		RunID:    runID,
		SourceID: sourceID,
		Entity:   diag.Entity,
		MatchKey: diag.MatchKey,
		Path:     diag.Path,
		Reason:   string(diag.Code),
		Error:    diag.Message,
	})
}

// LogError logs a fatal run error
func (l *EventLogger) LogError(runID string, sourceID int64, err error) error {
	return l.Log(&Event{
		Level:    LevelError,
		Event:    EventError,
		RunID:    runID,
		SourceID: sourceID,
		Error:    err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}
