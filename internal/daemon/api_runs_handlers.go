package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

func (a *API) Runs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		runs, err := a.Manager.ListRuns(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	case http.MethodPost:
		var req CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ServiceErrorInvalidInput, "invalid json body")
			return
		}
		run, err := a.Manager.CreateRun(r.Context(), req.RepoID, req.Prompt)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, run)
	default:
		writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
	}
}

func (a *API) RunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, ServiceErrorNotFound, "not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
			return
		}
		run, err := a.Manager.GetRun(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	switch parts[1] {
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
			return
		}
		run, err := a.Manager.CancelRun(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case "events":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
			return
		}
		since, err := parseSince(r.URL.Query().Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, ServiceErrorInvalidInput, "since must be a non-negative integer")
			return
		}
		events, err := a.Manager.ListEvents(r.Context(), id, since)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	case "interaction":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
			return
		}
		interaction, err := a.Manager.OpenInteraction(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	case "stream":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
			return
		}
		a.streamRun(w, r, id)
	default:
		writeError(w, http.StatusNotFound, ServiceErrorNotFound, "not found")
	}
}

func parseSince(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
