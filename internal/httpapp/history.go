package httpapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/newsave/newsave/internal/domain"
)

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.History.List()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.History.Clear(); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) RemoveHistoryEntry(w http.ResponseWriter, r *http.Request) {
	h.historyAction(w, r, h.History.Remove)
}

func (h *Handler) DeleteHistoryFile(w http.ResponseWriter, r *http.Request) {
	h.historyAction(w, r, h.History.DeleteFile)
}

func (h *Handler) OpenHistoryFile(w http.ResponseWriter, r *http.Request) {
	h.historyAction(w, r, h.History.OpenFile)
}

func (h *Handler) RevealHistoryFile(w http.ResponseWriter, r *http.Request) {
	h.historyAction(w, r, h.History.RevealFile)
}

type fileExistsResponse struct {
	Exists bool `json:"exists"`
}

func (h *Handler) HistoryFileExists(w http.ResponseWriter, r *http.Request) {
	exists, err := h.History.FileExists(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, fileExistsResponse{Exists: exists})
}

func (h *Handler) historyAction(w http.ResponseWriter, r *http.Request, action func(string) error) {
	if err := action(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}
