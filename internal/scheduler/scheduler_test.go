package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/newsave/newsave/internal/constants"
	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/extractor"
	"github.com/newsave/newsave/internal/logger"
)

// startedRun is one Run invocation held open until the test releases it.
type startedRun struct {
	req     extractor.RunRequest
	release chan error
	onProg  func(float64)
}

// fakeDownloader hands each Run invocation to the test and blocks until the
// test scripts its outcome.
type fakeDownloader struct {
	started chan startedRun

	mu      sync.Mutex
	running int
	maxSeen int
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{started: make(chan startedRun, 16)}
}

func (f *fakeDownloader) Run(ctx context.Context, req extractor.RunRequest, onProgress func(float64)) error {
	f.mu.Lock()
	f.running++
	if f.running > f.maxSeen {
		f.maxSeen = f.running
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	run := startedRun{req: req, release: make(chan error), onProg: onProgress}
	f.started <- run

	select {
	case <-ctx.Done():
		return extractor.ErrCancelled
	case err := <-run.release:
		return err
	}
}

func (f *fakeDownloader) concurrencyPeak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

type fakeFetcher struct {
	err error
}

func (f *fakeFetcher) FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.VideoInfo{Title: "Fetched Title", Channel: "chan", Duration: 60}, nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRecorder) Record(item domain.QueueItem, filePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filePath)
}

func (f *fakeRecorder) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestScheduler(t *testing.T, dl Downloader, maxConcurrent int) (*Scheduler, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	s := New(dl, &fakeFetcher{}, rec, NopNotifier{}, logger.Default(), t.TempDir(), maxConcurrent)
	s.retryDelay = 10 * time.Millisecond
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, rec
}

func waitForStatus(t *testing.T, s *Scheduler, id int64, want domain.ItemStatus) domain.QueueItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		item, err := s.Get(id)
		if err == nil && item.Status == want {
			return item
		}
		time.Sleep(5 * time.Millisecond)
	}
	item, _ := s.Get(id)
	t.Fatalf("item %d never reached %s, stuck at %s (err %q)", id, want, item.Status, item.LastError)
	return domain.QueueItem{}
}

func nextRun(t *testing.T, dl *fakeDownloader) startedRun {
	t.Helper()
	select {
	case run := <-dl.started:
		return run
	case <-time.After(2 * time.Second):
		t.Fatal("no download started in time")
		return startedRun{}
	}
}

func expectNoRun(t *testing.T, dl *fakeDownloader, within time.Duration) {
	t.Helper()
	select {
	case run := <-dl.started:
		t.Fatalf("unexpected download started for %s", run.req.URL)
	case <-time.After(within):
	}
}

func TestEnqueueDefaults(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	id, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	run := nextRun(t, dl)
	item, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Format != constants.DefaultAudioFormat {
		t.Errorf("expected default format %q, got %q", constants.DefaultAudioFormat, item.Format)
	}
	if item.Quality != constants.QualityBest {
		t.Errorf("expected default quality, got %q", item.Quality)
	}
	if item.Status != domain.StatusDownloading {
		t.Errorf("expected downloading, got %s", item.Status)
	}
	run.release <- nil
	waitForStatus(t, s, id, domain.StatusCompleted)
}

func TestEnqueueRejectsBadRequests(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	if _, err := s.Enqueue(EnqueueRequest{Kind: domain.KindAudio}); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := s.Enqueue(EnqueueRequest{URL: "https://x", Kind: "hologram"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestConcurrencyLimit(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 2)

	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindVideo})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, id)
	}

	first := nextRun(t, dl)
	second := nextRun(t, dl)
	expectNoRun(t, dl, 50*time.Millisecond)

	first.release <- nil
	third := nextRun(t, dl)
	second.release <- nil
	fourth := nextRun(t, dl)
	third.release <- nil
	fourth.release <- nil

	for _, id := range ids {
		waitForStatus(t, s, id, domain.StatusCompleted)
	}
	if peak := dl.concurrencyPeak(); peak > 2 {
		t.Errorf("concurrency peaked at %d, limit was 2", peak)
	}
}

func TestRetryExhaustionFails(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	id, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	bang := &extractor.ExtractionError{ExitCode: 1, Stderr: "network unreachable"}
	for i := 0; i <= constants.RetryLimit; i++ {
		run := nextRun(t, dl)
		run.release <- bang
	}

	item := waitForStatus(t, s, id, domain.StatusFailed)
	if item.RetryCount != constants.RetryLimit {
		t.Errorf("expected retry count %d, got %d", constants.RetryLimit, item.RetryCount)
	}
	if item.LastError == "" {
		t.Error("expected last error to be recorded")
	}
	expectNoRun(t, dl, 50*time.Millisecond)
}

func TestRetryRecovers(t *testing.T) {
	dl := newFakeDownloader()
	s, rec := newTestScheduler(t, dl, 1)

	id, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	run := nextRun(t, dl)
	run.release <- &extractor.ExtractionError{ExitCode: 1}

	run = nextRun(t, dl)
	run.release <- nil

	item := waitForStatus(t, s, id, domain.StatusCompleted)
	if item.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", item.RetryCount)
	}
	if item.Progress != 100 {
		t.Errorf("expected progress 100, got %v", item.Progress)
	}
	if len(rec.paths()) != 1 {
		t.Fatalf("expected 1 recorded download, got %d", len(rec.paths()))
	}
	if got := filepath.Base(rec.paths()[0]); got != "Fetched Title.mp3" {
		t.Errorf("expected recorded file %q, got %q", "Fetched Title.mp3", got)
	}
}

func TestCancelInFlightFreesSlot(t *testing.T) {
	dl := newFakeDownloader()
	s, rec := newTestScheduler(t, dl, 1)

	first, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindVideo})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=b", Kind: domain.KindVideo})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	nextRun(t, dl)
	if err := s.Cancel(first); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForStatus(t, s, first, domain.StatusCancelled)

	run := nextRun(t, dl)
	run.release <- nil
	waitForStatus(t, s, second, domain.StatusCompleted)

	if len(rec.paths()) != 1 {
		t.Errorf("cancelled download must not be recorded, got %d records", len(rec.paths()))
	}
}

func TestCancelPending(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	first, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	second, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=b", Kind: domain.KindAudio})

	run := nextRun(t, dl)
	if err := s.Cancel(second); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForStatus(t, s, second, domain.StatusCancelled)

	run.release <- nil
	waitForStatus(t, s, first, domain.StatusCompleted)
	expectNoRun(t, dl, 50*time.Millisecond)
}

func TestCancelRejectsTerminal(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	id, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	run := nextRun(t, dl)
	run.release <- nil
	waitForStatus(t, s, id, domain.StatusCompleted)

	if err := s.Cancel(id); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("expected ErrNotCancellable, got %v", err)
	}
	if err := s.Cancel(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManualRetryResetsBudget(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	id, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	for i := 0; i <= constants.RetryLimit; i++ {
		run := nextRun(t, dl)
		run.release <- &extractor.ExtractionError{ExitCode: 1}
	}
	waitForStatus(t, s, id, domain.StatusFailed)

	if err := s.Retry(id); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	run := nextRun(t, dl)

	item, _ := s.Get(id)
	if item.RetryCount != 0 {
		t.Errorf("expected retry count reset to 0, got %d", item.RetryCount)
	}
	run.release <- nil
	waitForStatus(t, s, id, domain.StatusCompleted)
}

func TestRetryRejectsActive(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	id, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	run := nextRun(t, dl)

	if err := s.Retry(id); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("expected ErrNotRetryable, got %v", err)
	}
	run.release <- nil
	waitForStatus(t, s, id, domain.StatusCompleted)
}

func TestProgressUpdates(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	id, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindVideo})
	run := nextRun(t, dl)

	run.onProg(42.5)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if item, _ := s.Get(id); item.Progress == 42.5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	item, _ := s.Get(id)
	if item.Progress != 42.5 {
		t.Errorf("expected progress 42.5, got %v", item.Progress)
	}

	run.release <- nil
	waitForStatus(t, s, id, domain.StatusCompleted)
}

func TestStaleProgressFromEarlierAttemptIgnored(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	id, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})

	first := nextRun(t, dl)
	first.release <- &extractor.ExtractionError{ExitCode: 1}
	second := nextRun(t, dl)

	second.onProg(80)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if item, _ := s.Get(id); item.Progress == 80 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A buffered progress line from the superseded process must not move
	// the item backwards.
	first.onProg(10)
	time.Sleep(50 * time.Millisecond)
	item, _ := s.Get(id)
	if item.Progress != 80 {
		t.Errorf("expected progress to stay at 80, got %v", item.Progress)
	}

	second.release <- nil
	waitForStatus(t, s, id, domain.StatusCompleted)
}

func TestClearFinished(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 2)

	done, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	live, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=b", Kind: domain.KindAudio})

	first := nextRun(t, dl)
	second := nextRun(t, dl)
	first.release <- nil
	waitForStatus(t, s, done, domain.StatusCompleted)

	n, err := s.ClearFinished()
	if err != nil {
		t.Fatalf("ClearFinished failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
	if _, err := s.Get(done); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected cleared item to be gone, got %v", err)
	}
	if _, err := s.Get(live); err != nil {
		t.Errorf("in-flight item must survive clearing: %v", err)
	}

	second.release <- nil
	waitForStatus(t, s, live, domain.StatusCompleted)
}

func TestRemove(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	first, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	second, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=b", Kind: domain.KindAudio})

	run := nextRun(t, dl)
	if err := s.Remove(first); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("expected ErrNotCancellable for in-flight remove, got %v", err)
	}
	if err := s.Remove(second); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if got, err := s.Snapshot(); err != nil || len(got) != 1 {
		t.Errorf("expected 1 item after remove, got %d (err %v)", len(got), err)
	}

	run.release <- nil
	waitForStatus(t, s, first, domain.StatusCompleted)
}

func TestSetMaxConcurrentUnblocksQueue(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	a, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	b, _ := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=b", Kind: domain.KindAudio})

	first := nextRun(t, dl)
	expectNoRun(t, dl, 50*time.Millisecond)

	s.SetMaxConcurrent(2)
	second := nextRun(t, dl)

	first.release <- nil
	second.release <- nil
	waitForStatus(t, s, a, domain.StatusCompleted)
	waitForStatus(t, s, b, domain.StatusCompleted)
}

func TestSnapshotKeepsEnqueueOrder(t *testing.T) {
	dl := newFakeDownloader()
	s, _ := newTestScheduler(t, dl, 1)

	urls := []string{
		"https://example.com/watch?v=a",
		"https://example.com/watch?v=b",
		"https://example.com/watch?v=c",
	}
	for _, u := range urls {
		if _, err := s.Enqueue(EnqueueRequest{URL: u, Kind: domain.KindAudio}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	items, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(items) != len(urls) {
		t.Fatalf("expected %d items, got %d", len(urls), len(items))
	}
	for i, item := range items {
		if item.URL != urls[i] {
			t.Errorf("position %d: expected %q, got %q", i, urls[i], item.URL)
		}
	}

	run := nextRun(t, dl)
	run.release <- nil
}

func TestStopCancelsInFlight(t *testing.T) {
	dl := newFakeDownloader()
	rec := &fakeRecorder{}
	s := New(dl, &fakeFetcher{}, rec, NopNotifier{}, logger.Default(), t.TempDir(), 1)
	s.retryDelay = 10 * time.Millisecond
	s.Start()

	if _, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	nextRun(t, dl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=b", Kind: domain.KindAudio}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after shutdown, got %v", err)
	}
	if _, err := s.Get(1); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped from Get after shutdown, got %v", err)
	}
	if _, err := s.Snapshot(); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped from Snapshot after shutdown, got %v", err)
	}
	if _, err := s.ClearFinished(); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped from ClearFinished after shutdown, got %v", err)
	}
	if err := s.Cancel(1); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped from Cancel after shutdown, got %v", err)
	}
}

// deafDownloader simulates a process that exits on its own terms and never
// reacts to cancellation.
type deafDownloader struct {
	started chan startedRun
}

func (f *deafDownloader) Run(ctx context.Context, req extractor.RunRequest, onProgress func(float64)) error {
	run := startedRun{req: req, release: make(chan error), onProg: onProgress}
	f.started <- run
	return <-run.release
}

func TestLateSuccessAfterCancelIgnored(t *testing.T) {
	dl := &deafDownloader{started: make(chan startedRun, 1)}
	s, rec := newTestScheduler(t, dl, 1)

	id, err := s.Enqueue(EnqueueRequest{URL: "https://example.com/watch?v=a", Kind: domain.KindAudio})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var run startedRun
	select {
	case run = <-dl.started:
	case <-time.After(2 * time.Second):
		t.Fatal("no download started in time")
	}

	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitForStatus(t, s, id, domain.StatusCancelled)

	// The process exits successfully only after the cancellation settled.
	run.release <- nil
	time.Sleep(50 * time.Millisecond)

	item, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Status != domain.StatusCancelled {
		t.Errorf("late success resurrected the item, status %s", item.Status)
	}
	if len(rec.paths()) != 0 {
		t.Errorf("late success must not be recorded, got %d records", len(rec.paths()))
	}
}

func TestPlaylistRunsAgainstDirectory(t *testing.T) {
	dl := newFakeDownloader()
	s, rec := newTestScheduler(t, dl, 1)

	dir := t.TempDir()
	id, err := s.Enqueue(EnqueueRequest{
		URL:       "https://example.com/playlist?list=PLxyz",
		Kind:      domain.KindAudio,
		Directory: dir,
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	run := nextRun(t, dl)
	if !run.req.IsPlaylist {
		t.Error("expected playlist request")
	}
	if run.req.OutputPath != dir {
		t.Errorf("expected output path %q, got %q", dir, run.req.OutputPath)
	}

	run.release <- nil
	waitForStatus(t, s, id, domain.StatusCompleted)
	if paths := rec.paths(); len(paths) != 1 || paths[0] != dir {
		t.Errorf("expected recorded directory %q, got %v", dir, rec.paths())
	}
}
