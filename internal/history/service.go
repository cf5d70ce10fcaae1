// Package history records completed downloads and manages the files they
// left behind.
package history

import (
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/logger"
	"github.com/newsave/newsave/internal/storage"
	"github.com/newsave/newsave/internal/store"
)

var ErrEntryNotFound = errors.New("history entry not found")

// Tagger writes metadata into a finished media file.
type Tagger interface {
	Tag(path string, meta domain.TagMeta) error
}

// Service persists finished downloads, keeps the in-memory id-to-path
// registry, and performs file actions on recorded downloads.
type Service struct {
	db     *store.DB
	tagger Tagger
	logger *logger.Logger

	keepHistory atomic.Bool

	// onChange fires after any mutation of the persisted history.
	onChange func()

	mu    sync.RWMutex
	paths map[int64]string
}

func NewService(db *store.DB, tagger Tagger, log *logger.Logger, keepHistory bool) *Service {
	s := &Service{
		db:     db,
		tagger: tagger,
		logger: log.WithComponent("history"),
		paths:  make(map[int64]string),
	}
	s.keepHistory.Store(keepHistory)
	return s
}

// OnChange registers a callback fired after every history mutation.
func (s *Service) OnChange(fn func()) {
	s.onChange = fn
}

// SetKeepHistory flips recording of future completions. Existing entries
// are untouched.
func (s *Service) SetKeepHistory(keep bool) {
	s.keepHistory.Store(keep)
}

func (s *Service) notifyChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Record registers a finished download. The path registry is always updated;
// the persisted entry is skipped when history keeping is off. Tagging is best
// effort and never fails the recording.
func (s *Service) Record(item domain.QueueItem, filePath string) {
	s.mu.Lock()
	s.paths[item.ID] = filePath
	s.mu.Unlock()

	if s.tagger != nil && item.Kind == domain.KindAudio && !item.IsPlaylist {
		meta := domain.TagMeta{
			Title:     item.Title,
			Artist:    item.Channel,
			SourceURL: item.URL,
		}
		if art, err := fetchCoverArt(item.Thumbnail); err != nil {
			s.logger.Warn("failed to fetch cover art", "url", item.Thumbnail, "error", err)
		} else {
			meta.CoverArt = art
		}
		if err := s.tagger.Tag(filePath, meta); err != nil {
			s.logger.Warn("failed to tag file", "path", filePath, "error", err)
		}
	}

	if !s.keepHistory.Load() {
		return
	}

	path := filePath
	entry := &domain.HistoryEntry{
		ID:          uuid.NewString(),
		QueueID:     item.ID,
		URL:         item.URL,
		Title:       item.Title,
		Kind:        item.Kind,
		Format:      item.Format,
		Quality:     item.Quality,
		FilePath:    &path,
		CompletedAt: time.Now(),
	}
	if err := s.db.CreateHistoryEntry(entry); err != nil {
		s.logger.Error("failed to record history entry", "error", err, "item_id", item.ID)
		return
	}
	s.notifyChange()
}

// PathFor returns the known file path for a queue item, if any.
func (s *Service) PathFor(queueID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.paths[queueID]
	return path, ok
}

func (s *Service) List() ([]*domain.HistoryEntry, error) {
	return s.db.ListHistory()
}

// Remove deletes one entry. The downloaded file stays on disk.
func (s *Service) Remove(id string) error {
	entry, err := s.db.GetHistoryEntry(id)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrEntryNotFound
	}
	if err := s.db.DeleteHistoryEntry(id); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Clear wipes the persisted history. Files stay on disk.
func (s *Service) Clear() error {
	if err := s.db.ClearHistory(); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// resolvePath finds the on-disk file for an entry, or a FileOpError when the
// entry or its file is gone.
func (s *Service) resolvePath(id string) (string, error) {
	entry, err := s.db.GetHistoryEntry(id)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", ErrEntryNotFound
	}
	if entry.FilePath == nil || !storage.Exists(*entry.FilePath) {
		return "", &storage.FileOpError{Op: "locate", Err: fs.ErrNotExist}
	}
	return *entry.FilePath, nil
}

// DeleteFile removes the downloaded file and nulls the file path on every
// entry pointing at it. The entries themselves survive.
func (s *Service) DeleteFile(id string) error {
	path, err := s.resolvePath(id)
	if err != nil {
		return err
	}
	if err := storage.RemoveFile(path); err != nil {
		return &storage.FileOpError{Op: "delete", Path: path, Err: err}
	}

	s.mu.Lock()
	for queueID, p := range s.paths {
		if p == path {
			delete(s.paths, queueID)
		}
	}
	s.mu.Unlock()

	if err := s.db.ClearHistoryFilePath(path); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// OpenFile launches the file with the platform handler.
func (s *Service) OpenFile(id string) error {
	path, err := s.resolvePath(id)
	if err != nil {
		return err
	}
	if err := storage.OpenPath(path); err != nil {
		return &storage.FileOpError{Op: "open", Path: path, Err: err}
	}
	return nil
}

// RevealFile shows the file in its containing directory.
func (s *Service) RevealFile(id string) error {
	path, err := s.resolvePath(id)
	if err != nil {
		return err
	}
	if err := storage.RevealPath(path); err != nil {
		return &storage.FileOpError{Op: "reveal", Path: path, Err: err}
	}
	return nil
}

// FileExists reports whether the entry still has its file on disk.
func (s *Service) FileExists(id string) (bool, error) {
	entry, err := s.db.GetHistoryEntry(id)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, ErrEntryNotFound
	}
	return entry.FilePath != nil && storage.Exists(*entry.FilePath), nil
}
