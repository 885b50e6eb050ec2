package musync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gohla/musium/internal/source"
	"github.com/Gohla/musium/internal/util"
)

type observerFunc func(ctx context.Context, src *source.Source) (*source.Batch, error)

func (f observerFunc) Observe(ctx context.Context, src *source.Source) (*source.Batch, error) {
	return f(ctx, src)
}

func emptyObserver(ctx context.Context, src *source.Source) (*source.Batch, error) {
	return &source.Batch{SourceID: src.ID, Kind: src.Kind}, nil
}

func TestRunnerSync(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	runner := NewRunner(store, nil)
	runner.Register(source.KindLocal, observerFunc(func(ctx context.Context, s *source.Source) (*source.Batch, error) {
		return localBatch(s, source.Track{Title: "Music Is Math", FilePath: "geogaddi/02.flac", Hash: 100}), nil
	}))

	summary, err := runner.Sync(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if summary.TracksCreated != 1 {
		t.Errorf("summary = %+v", summary)
	}

	status, err := runner.Status(src.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != RunFinished || status.Summary == nil {
		t.Errorf("status = %+v", status)
	}
	if status.RunID == "" {
		t.Error("run id empty")
	}
}

func TestRunnerSerializesPerSource(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")

	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	runner := NewRunner(store, nil)
	runner.Register(source.KindLocal, observerFunc(func(ctx context.Context, s *source.Source) (*source.Batch, error) {
		startedOnce.Do(func() { close(started) })
		<-release
		return emptyObserver(ctx, s)
	}))

	done := make(chan error, 1)
	go func() {
		_, err := runner.Sync(context.Background(), src.ID)
		done <- err
	}()

	<-started
	// A second request while the first is in flight fails fast.
	if _, err := runner.Sync(context.Background(), src.ID); !errors.Is(err, util.ErrSyncInFlight) {
		t.Errorf("concurrent sync error = %v, want ErrSyncInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	// Once released, a new run is accepted.
	if _, err := runner.Sync(context.Background(), src.ID); err != nil {
		t.Errorf("follow-up sync failed: %v", err)
	}
}

func TestRunnerSyncAsync(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateSpotifySource(source.RemoteConfig{RefreshToken: "r"})

	release := make(chan struct{})
	runner := NewRunner(store, nil)
	runner.Register(source.KindSpotify, observerFunc(func(ctx context.Context, s *source.Source) (*source.Batch, error) {
		<-release
		return emptyObserver(ctx, s)
	}))

	runID, err := runner.SyncAsync(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("SyncAsync failed: %v", err)
	}
	if runID == "" {
		t.Fatal("run id empty")
	}

	status, err := runner.Status(src.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != RunRunning || status.RunID != runID {
		t.Errorf("status = %+v", status)
	}

	close(release)
	deadline := time.After(5 * time.Second)
	for {
		status, _ = runner.Status(src.ID)
		if status.State != RunRunning {
			break
		}
		select {
		case <-deadline:
			t.Fatal("async sync never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if status.State != RunFinished {
		t.Errorf("final status = %+v", status)
	}
}

func TestRunnerDisabledAndUnknownSources(t *testing.T) {
	store := newTestStore(t)
	src, _ := store.CreateLocalSource("/music")
	store.SetSourceEnabled(src.ID, false)

	runner := NewRunner(store, nil)
	runner.Register(source.KindLocal, observerFunc(emptyObserver))

	if _, err := runner.Sync(context.Background(), src.ID); !errors.Is(err, util.ErrSourceDisabled) {
		t.Errorf("disabled sync error = %v, want ErrSourceDisabled", err)
	}
	if _, err := runner.Sync(context.Background(), 999); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("unknown sync error = %v, want ErrNotFound", err)
	}
	if _, err := runner.Status(src.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("status error = %v, want ErrNotFound", err)
	}
}

func TestRunnerSyncAllLocalFirst(t *testing.T) {
	store := newTestStore(t)
	spotify, _ := store.CreateSpotifySource(source.RemoteConfig{RefreshToken: "r"})
	local, _ := store.CreateLocalSource("/music")

	var order []int64
	runner := NewRunner(store, nil)
	record := func(ctx context.Context, s *source.Source) (*source.Batch, error) {
		order = append(order, s.ID)
		return emptyObserver(ctx, s)
	}
	runner.Register(source.KindLocal, observerFunc(record))
	runner.Register(source.KindSpotify, observerFunc(record))

	summaries, err := runner.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("summaries = %d, want 2", len(summaries))
	}
	if len(order) != 2 || order[0] != local.ID || order[1] != spotify.ID {
		t.Errorf("sync order = %v, want local %d before remote %d", order, local.ID, spotify.ID)
	}
}

func TestRunnerSyncAllContinuesPastFailures(t *testing.T) {
	store := newTestStore(t)
	bad, _ := store.CreateLocalSource("/bad")
	good, _ := store.CreateLocalSource("/good")

	runner := NewRunner(store, nil)
	runner.Register(source.KindLocal, observerFunc(func(ctx context.Context, s *source.Source) (*source.Batch, error) {
		if s.ID == bad.ID {
			return nil, errors.New("directory unreadable")
		}
		return emptyObserver(ctx, s)
	}))

	summaries, err := runner.SyncAll(context.Background())
	if err == nil {
		t.Error("SyncAll should report the failed source")
	}
	if _, ok := summaries[good.ID]; !ok {
		t.Error("good source was not synced after the failure")
	}

	status, _ := runner.Status(bad.ID)
	if status == nil || status.State != RunFailed {
		t.Errorf("failed source status = %+v", status)
	}
}
