// Package httpapp exposes the download queue, history and settings over a
// JSON API.
package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/history"
	"github.com/newsave/newsave/internal/logger"
	"github.com/newsave/newsave/internal/scheduler"
	"github.com/newsave/newsave/internal/storage"
)

// Queue is the scheduler surface the API needs.
type Queue interface {
	Enqueue(req scheduler.EnqueueRequest) (int64, error)
	Cancel(id int64) error
	Retry(id int64) error
	Remove(id int64) error
	ClearFinished() (int, error)
	Snapshot() ([]domain.QueueItem, error)
	Get(id int64) (domain.QueueItem, error)
	SetMaxConcurrent(n int)
}

// HistoryService is the history surface the API needs.
type HistoryService interface {
	List() ([]*domain.HistoryEntry, error)
	Remove(id string) error
	Clear() error
	DeleteFile(id string) error
	OpenFile(id string) error
	RevealFile(id string) error
	FileExists(id string) (bool, error)
	SetKeepHistory(keep bool)
}

// Metadata resolves URLs and queries to video information.
type Metadata interface {
	FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error)
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// SettingsStore persists user settings.
type SettingsStore interface {
	LoadSettings() (domain.Settings, error)
	SaveSettings(s domain.Settings) error
}

type Handler struct {
	Queue    Queue
	History  HistoryService
	Metadata Metadata
	Settings SettingsStore
	WS       http.Handler
	Logger   *logger.Logger
}

func NewHandler(q Queue, h HistoryService, m Metadata, s SettingsStore, wsHandler http.Handler, log *logger.Logger) *Handler {
	return &Handler{
		Queue:    q,
		History:  h,
		Metadata: m,
		Settings: s,
		WS:       wsHandler,
		Logger:   log.WithComponent("http"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", h.ListDownloads)
			r.Post("/", h.CreateDownload)
			r.Post("/clear-completed", h.ClearCompleted)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDownload)
				r.Delete("/", h.RemoveDownload)
				r.Post("/cancel", h.CancelDownload)
				r.Post("/retry", h.RetryDownload)
			})
		})

		r.Get("/info", h.GetInfo)
		r.Get("/search", h.Search)

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.ListHistory)
			r.Delete("/", h.ClearHistory)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", h.RemoveHistoryEntry)
				r.Get("/exists", h.HistoryFileExists)
				r.Post("/delete-file", h.DeleteHistoryFile)
				r.Post("/open", h.OpenHistoryFile)
				r.Post("/reveal", h.RevealHistoryFile)
			})
		})

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
	})

	if h.WS != nil {
		r.Get("/ws", h.WS.ServeHTTP)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scheduler.ErrNotFound), errors.Is(err, history.ErrEntryNotFound), errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrNotCancellable), errors.Is(err, scheduler.ErrNotRetryable):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrStopped):
		status = http.StatusServiceUnavailable
	default:
		var opErr *storage.FileOpError
		if errors.As(err, &opErr) {
			status = http.StatusUnprocessableEntity
		}
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}
