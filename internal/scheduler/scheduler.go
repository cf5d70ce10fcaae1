package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/newsave/newsave/internal/constants"
	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/extractor"
	"github.com/newsave/newsave/internal/logger"
	"github.com/newsave/newsave/internal/storage"
)

var (
	ErrNotFound       = errors.New("queue item not found")
	ErrNotCancellable = errors.New("item cannot be cancelled in its current state")
	ErrNotRetryable   = errors.New("item cannot be retried in its current state")
	ErrStopped        = errors.New("scheduler is stopped")
)

// Downloader runs one external download to completion.
type Downloader interface {
	Run(ctx context.Context, req extractor.RunRequest, onProgress func(float64)) error
}

// InfoFetcher resolves a URL to its metadata.
type InfoFetcher interface {
	FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error)
}

// Recorder is told about every successful download.
type Recorder interface {
	Record(item domain.QueueItem, filePath string)
}

// EnqueueRequest is a client's ask for a new download.
type EnqueueRequest struct {
	URL       string
	Title     string
	Kind      domain.MediaKind
	Format    string
	Quality   string
	Directory string
}

// activeRun tracks one in-flight download. An entry exists exactly while the
// item is in the downloading state.
type activeRun struct {
	cancel  context.CancelFunc
	attempt int
}

// Scheduler owns the download queue. All state lives behind a single loop
// goroutine; every mutation is a closure posted to that loop, so no locks
// guard the maps.
type Scheduler struct {
	downloader   Downloader
	fetcher      InfoFetcher
	recorder     Recorder
	notifier     Notifier
	logger       *logger.Logger
	downloadsDir string

	ops  chan func()
	quit chan struct{}
	wg   sync.WaitGroup

	// Loop-owned state. Touched only from run().
	items         map[int64]*domain.QueueItem
	order         []int64
	active        map[int64]*activeRun
	retryTimers   map[int64]*time.Timer
	waitingRetry  map[int64]bool
	maxConcurrent int
	nextID        int64
	stopping      bool

	retryDelay time.Duration
}

func New(downloader Downloader, fetcher InfoFetcher, recorder Recorder, notifier Notifier, log *logger.Logger, downloadsDir string, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = constants.DefaultConcurrency
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Scheduler{
		downloader:    downloader,
		fetcher:       fetcher,
		recorder:      recorder,
		notifier:      notifier,
		logger:        log.WithComponent("scheduler"),
		downloadsDir:  downloadsDir,
		ops:           make(chan func(), 64),
		quit:          make(chan struct{}),
		items:         make(map[int64]*domain.QueueItem),
		active:        make(map[int64]*activeRun),
		retryTimers:   make(map[int64]*time.Timer),
		waitingRetry:  make(map[int64]bool),
		maxConcurrent: maxConcurrent,
		retryDelay:    constants.RetryDelay,
	}
}

// Start launches the control loop.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// post hands a closure to the control loop and waits for it to execute.
// It reports false when the loop has shut down and the closure never ran.
func (s *Scheduler) post(fn func()) bool {
	done := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(done) }:
		select {
		case <-done:
			return true
		case <-s.quit:
			return false
		}
	case <-s.quit:
		return false
	}
}

// postAsync hands a closure to the control loop without waiting.
func (s *Scheduler) postAsync(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	}
}

// Enqueue adds a download and returns its id. The item starts immediately if
// a slot is free.
func (s *Scheduler) Enqueue(req EnqueueRequest) (int64, error) {
	if req.URL == "" {
		return 0, errors.New("url is required")
	}
	if !req.Kind.Valid() {
		return 0, fmt.Errorf("unknown media kind %q", req.Kind)
	}
	if req.Format == "" {
		if req.Kind == domain.KindAudio {
			req.Format = constants.DefaultAudioFormat
		} else {
			req.Format = constants.DefaultVideoFormat
		}
	}
	if req.Quality == "" {
		req.Quality = constants.QualityBest
	}
	if req.Directory == "" {
		req.Directory = s.downloadsDir
	}

	var (
		id  int64
		err error
	)
	ran := s.post(func() {
		if s.stopping {
			err = ErrStopped
			return
		}
		s.nextID++
		id = s.nextID
		item := &domain.QueueItem{
			ID:         id,
			URL:        req.URL,
			Title:      req.Title,
			Kind:       req.Kind,
			Format:     req.Format,
			Quality:    req.Quality,
			Status:     domain.StatusPending,
			IsPlaylist: extractor.IsPlaylistURL(req.URL),
			Directory:  req.Directory,
			CreatedAt:  time.Now(),
		}
		s.items[id] = item
		s.order = append(s.order, id)
		s.publish(EventQueued, item)
		s.dispatch()
	})
	if !ran {
		return 0, ErrStopped
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// dispatch starts pending items until every slot is taken. Items waiting out
// a retry delay are skipped.
func (s *Scheduler) dispatch() {
	for _, id := range s.order {
		if len(s.active) >= s.maxConcurrent {
			return
		}
		item := s.items[id]
		if item == nil || item.Status != domain.StatusPending || s.waitingRetry[id] {
			continue
		}
		s.start(item)
	}
}

func (s *Scheduler) start(item *domain.QueueItem) {
	ctx, cancel := context.WithCancel(context.Background())

	item.Status = domain.StatusDownloading
	item.Progress = 0
	attempt := item.RetryCount
	s.active[item.ID] = &activeRun{cancel: cancel, attempt: attempt}
	s.publish(EventStarted, item)

	log := s.logger.WithItem(item.ID, item.URL)
	log.Info("starting download", "attempt", attempt, "kind", item.Kind, "format", item.Format)

	snapshot := *item
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, snapshot, attempt, log)
	}()
}

// execute runs off the control loop. It works on a snapshot and reports
// every observation back through posted closures.
func (s *Scheduler) execute(ctx context.Context, item domain.QueueItem, attempt int, log *logger.Logger) {
	title := item.Title
	if title == "" {
		var channel, thumbnail string
		if info, err := s.fetcher.FetchInfo(ctx, item.URL); err == nil {
			title = info.Title
			channel = info.Channel
			thumbnail = info.Thumbnail
		} else {
			log.Warn("info fetch failed, using placeholder title", "error", err)
			title = fmt.Sprintf("download_%d", time.Now().UnixMilli())
		}
		s.postAsync(func() {
			it := s.items[item.ID]
			if it == nil || it.Status.Terminal() {
				return
			}
			it.Title = title
			if channel != "" {
				it.Channel = channel
			}
			if thumbnail != "" {
				it.Thumbnail = thumbnail
			}
			s.publish(EventTitle, it)
		})
	}

	var outputPath string
	if item.IsPlaylist {
		outputPath = item.Directory
	} else {
		name := storage.Sanitize(title) + "." + item.Format
		outputPath = filepath.Join(item.Directory, name)
	}

	if err := storage.EnsureDir(item.Directory); err != nil {
		s.postAsync(func() { s.finish(item.ID, attempt, outputPath, err) })
		return
	}

	req := extractor.RunRequest{
		URL:        item.URL,
		Kind:       item.Kind,
		Format:     item.Format,
		Quality:    item.Quality,
		IsPlaylist: item.IsPlaylist,
		OutputPath: outputPath,
	}

	err := s.downloader.Run(ctx, req, func(pct float64) {
		s.postAsync(func() { s.progress(item.ID, attempt, pct) })
	})
	s.postAsync(func() { s.finish(item.ID, attempt, outputPath, err) })
}

// progress applies a progress sample. Samples from a superseded attempt or a
// terminal item are dropped.
func (s *Scheduler) progress(id int64, attempt int, pct float64) {
	item := s.items[id]
	run := s.active[id]
	if item == nil || run == nil || run.attempt != attempt {
		return
	}
	if item.Status != domain.StatusDownloading {
		return
	}
	item.Progress = pct
	s.publish(EventProgress, item)
}

// finish settles an exited download: release the slot, decide the next state,
// hand the freed slot to the next pending item.
func (s *Scheduler) finish(id int64, attempt int, outputPath string, runErr error) {
	run := s.active[id]
	if run != nil && run.attempt == attempt {
		run.cancel()
		delete(s.active, id)
	}
	defer s.dispatch()

	item := s.items[id]
	if item == nil || item.Status.Terminal() {
		return
	}
	log := s.logger.WithItem(id, item.URL)

	switch {
	case runErr == nil:
		item.Status = domain.StatusCompleted
		item.Progress = 100
		item.LastError = ""
		log.Info("download completed", "path", outputPath)
		if s.recorder != nil {
			s.recorder.Record(*item, outputPath)
		}
		s.publish(EventCompleted, item)

	case errors.Is(runErr, extractor.ErrCancelled):
		item.Status = domain.StatusCancelled
		log.Info("download cancelled")
		s.publish(EventCancelled, item)

	case item.RetryCount < constants.RetryLimit && !s.stopping:
		item.RetryCount++
		item.Status = domain.StatusPending
		item.Progress = 0
		item.LastError = runErr.Error()
		log.Warn("download failed, retrying",
			"error", runErr, "retry", item.RetryCount, "limit", constants.RetryLimit)
		s.publish(EventRetrying, item)
		s.waitingRetry[id] = true
		s.retryTimers[id] = time.AfterFunc(s.retryDelay, func() {
			s.postAsync(func() {
				delete(s.waitingRetry, id)
				delete(s.retryTimers, id)
				s.dispatch()
			})
		})

	default:
		item.Status = domain.StatusFailed
		item.LastError = runErr.Error()
		log.Error("download failed", "error", runErr, "retries", item.RetryCount)
		s.publish(EventFailed, item)
	}
}

// Cancel stops a pending or in-flight download. Cancelling a pending item is
// immediate; an in-flight one is signalled and settles when its process exits,
// but is reported cancelled right away.
func (s *Scheduler) Cancel(id int64) error {
	var err error
	if !s.post(func() {
		item := s.items[id]
		if item == nil {
			err = ErrNotFound
			return
		}
		if !item.Status.Cancellable() {
			err = ErrNotCancellable
			return
		}
		s.clearRetryWait(id)
		item.Status = domain.StatusCancelled
		if run := s.active[id]; run != nil {
			run.cancel()
		}
		s.publish(EventCancelled, item)
	}) {
		return ErrStopped
	}
	return err
}

// Retry requeues a failed or cancelled item from scratch, with a fresh
// retry budget.
func (s *Scheduler) Retry(id int64) error {
	var err error
	if !s.post(func() {
		item := s.items[id]
		if item == nil {
			err = ErrNotFound
			return
		}
		if item.Status != domain.StatusFailed && item.Status != domain.StatusCancelled {
			err = ErrNotRetryable
			return
		}
		item.Status = domain.StatusPending
		item.Progress = 0
		item.RetryCount = 0
		item.LastError = ""
		s.publish(EventQueued, item)
		s.dispatch()
	}) {
		return ErrStopped
	}
	return err
}

// Remove drops an item from the queue. In-flight items must be cancelled
// first.
func (s *Scheduler) Remove(id int64) error {
	var err error
	if !s.post(func() {
		item := s.items[id]
		if item == nil {
			err = ErrNotFound
			return
		}
		if item.Status == domain.StatusDownloading {
			err = ErrNotCancellable
			return
		}
		s.clearRetryWait(id)
		s.removeFromOrder(id)
		delete(s.items, id)
		s.publish(EventRemoved, item)
	}) {
		return ErrStopped
	}
	return err
}

// ClearFinished drops every terminal item from the queue.
func (s *Scheduler) ClearFinished() (int, error) {
	var n int
	if !s.post(func() {
		for _, id := range append([]int64(nil), s.order...) {
			item := s.items[id]
			if item != nil && item.Status.Terminal() {
				s.removeFromOrder(id)
				delete(s.items, id)
				n++
			}
		}
	}) {
		return 0, ErrStopped
	}
	return n, nil
}

// Snapshot returns the queue in enqueue order.
func (s *Scheduler) Snapshot() ([]domain.QueueItem, error) {
	var out []domain.QueueItem
	if !s.post(func() {
		out = make([]domain.QueueItem, 0, len(s.order))
		for _, id := range s.order {
			if item := s.items[id]; item != nil {
				out = append(out, *item)
			}
		}
	}) {
		return nil, ErrStopped
	}
	return out, nil
}

// Get returns one item by id.
func (s *Scheduler) Get(id int64) (domain.QueueItem, error) {
	var (
		out domain.QueueItem
		err error
	)
	if !s.post(func() {
		item := s.items[id]
		if item == nil {
			err = ErrNotFound
			return
		}
		out = *item
	}) {
		return domain.QueueItem{}, ErrStopped
	}
	return out, err
}

// SetMaxConcurrent resizes the slot pool. Shrinking never interrupts running
// downloads; the pool drains down as they finish.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	s.post(func() {
		s.maxConcurrent = n
		s.dispatch()
	})
}

// Stop cancels every in-flight download and waits for their processes to
// settle, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.post(func() {
		s.stopping = true
		for id, timer := range s.retryTimers {
			timer.Stop()
			delete(s.retryTimers, id)
			delete(s.waitingRetry, id)
		}
		for id, run := range s.active {
			s.logger.Info("cancelling in-flight download on shutdown", "item_id", id)
			if item := s.items[id]; item != nil && !item.Status.Terminal() {
				item.Status = domain.StatusCancelled
				s.publish(EventCancelled, item)
			}
			run.cancel()
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		close(s.quit)
		return ctx.Err()
	}

	s.post(func() {})
	close(s.quit)
	return nil
}

func (s *Scheduler) clearRetryWait(id int64) {
	if timer := s.retryTimers[id]; timer != nil {
		timer.Stop()
	}
	delete(s.retryTimers, id)
	delete(s.waitingRetry, id)
}

func (s *Scheduler) removeFromOrder(id int64) {
	idx := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= id })
	if idx < len(s.order) && s.order[idx] == id {
		s.order = append(s.order[:idx], s.order[idx+1:]...)
	}
}

func (s *Scheduler) publish(t EventType, item *domain.QueueItem) {
	s.notifier.Publish(Event{Type: t, Item: *item})
}
