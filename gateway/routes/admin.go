package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"delphor/core/types"
)

const maxEventsPage = 500

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (a *api) getPauses(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]bool, len(a.pausable))
	for _, module := range a.pausable {
		out[module] = a.node.Paused(module)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) setPause(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
	if err := a.node.SetPaused(from, module, req.Paused); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{module: req.Paused})
}

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxEventsPage)
	}
	evts := a.node.Events(limit)
	if evts == nil {
		evts = []types.Event{}
	}
	writeJSON(w, http.StatusOK, evts)
}
