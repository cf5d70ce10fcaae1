package httpapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/scheduler"
)

type createDownloadRequest struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
	Directory string `json:"directory"`
}

type createDownloadResponse struct {
	ID int64 `json:"id"`
}

func (h *Handler) CreateDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	id, err := h.Queue.Enqueue(scheduler.EnqueueRequest{
		URL:       req.URL,
		Title:     req.Title,
		Kind:      domain.MediaKind(req.Kind),
		Format:    req.Format,
		Quality:   req.Quality,
		Directory: req.Directory,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusCreated, createDownloadResponse{ID: id})
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	items, err := h.Queue.Snapshot()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id, err := downloadID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return
	}
	item, err := h.Queue.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	h.downloadAction(w, r, h.Queue.Cancel)
}

func (h *Handler) RetryDownload(w http.ResponseWriter, r *http.Request) {
	h.downloadAction(w, r, h.Queue.Retry)
}

func (h *Handler) RemoveDownload(w http.ResponseWriter, r *http.Request) {
	h.downloadAction(w, r, h.Queue.Remove)
}

func (h *Handler) downloadAction(w http.ResponseWriter, r *http.Request, action func(int64) error) {
	id, err := downloadID(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return
	}
	if err := action(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}

type clearCompletedResponse struct {
	Cleared int `json:"cleared"`
}

func (h *Handler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := h.Queue.ClearFinished()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, clearCompletedResponse{Cleared: n})
}

func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url is required"})
		return
	}
	info, err := h.Metadata.FetchInfo(r.Context(), url)
	if err != nil {
		h.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "q is required"})
		return
	}
	// Search failures degrade to an empty result list rather than an error;
	// the search box is never the primary action.
	results, err := h.Metadata.Search(r.Context(), query)
	if err != nil {
		h.Logger.Warn("search failed", "query", query, "error", err)
		h.writeJSON(w, http.StatusOK, []domain.SearchResult{})
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	h.writeJSON(w, http.StatusOK, results)
}

func downloadID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
