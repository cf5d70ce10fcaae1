package httpapp

import (
	"encoding/json"
	"net/http"
)

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Settings.LoadSettings()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings persists the full settings document and applies the parts
// the running services consume immediately.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Settings.LoadSettings()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if settings.MaxConcurrent < 1 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "max_concurrent must be at least 1"})
		return
	}

	if err := h.Settings.SaveSettings(settings); err != nil {
		h.writeError(w, err)
		return
	}

	h.Queue.SetMaxConcurrent(settings.MaxConcurrent)
	h.History.SetKeepHistory(settings.KeepHistory)

	h.writeJSON(w, http.StatusOK, settings)
}
