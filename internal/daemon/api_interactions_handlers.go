package daemon

import (
	"encoding/json"
	"net/http"
	"strings"

	"relay/internal/types"
)

func (a *API) InteractionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/interactions/")
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
		interaction, err := a.Registry.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
		return
	}

	switch parts[1] {
	case "resolve":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
			return
		}
		var req ResolveInteractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ServiceErrorInvalidInput, "invalid json body")
			return
		}
		resolution, err := a.resolutionFromRequest(r, id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resolved, err := a.Manager.ResolveInteraction(r.Context(), id, resolution)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resolved)
	default:
		writeError(w, http.StatusNotFound, ServiceErrorNotFound, "not found")
	}
}

// resolutionFromRequest validates the request body against the interaction
// kind: approvals require an explicit approved flag, input requests require
// non-empty text.
func (a *API) resolutionFromRequest(r *http.Request, id string, req ResolveInteractionRequest) (types.Resolution, error) {
	interaction, err := a.Registry.Get(r.Context(), id)
	if err != nil {
		return types.Resolution{}, err
	}
	switch interaction.Kind {
	case types.InteractionApproval:
		if req.Approved == nil {
			return types.Resolution{}, invalidInputError("approved is required for approval interactions", nil)
		}
		return types.Resolution{Approved: *req.Approved, Reason: strings.TrimSpace(req.Reason)}, nil
	case types.InteractionInput:
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return types.Resolution{}, invalidInputError("text is required for input interactions", nil)
		}
		return types.Resolution{Approved: true, Text: text}, nil
	default:
		return types.Resolution{}, invalidInputError("unknown interaction kind", nil)
	}
}
