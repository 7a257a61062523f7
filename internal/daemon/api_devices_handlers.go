package daemon

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"relay/internal/types"
)

func (a *API) DevicesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		devices, err := a.Devices.List(r.Context())
		if err != nil {
			writeServiceError(w, unavailableError("list devices failed", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
	case http.MethodPost:
		var req RegisterDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ServiceErrorInvalidInput, "invalid json body")
			return
		}
		token := strings.TrimSpace(req.Token)
		if token == "" {
			writeServiceError(w, invalidInputError("token is required", nil))
			return
		}
		device, err := a.Devices.Put(r.Context(), &types.Device{
			Token:     token,
			Platform:  strings.TrimSpace(req.Platform),
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			writeServiceError(w, unavailableError("persist device failed", err))
			return
		}
		writeJSON(w, http.StatusCreated, device)
	default:
		writeError(w, http.StatusMethodNotAllowed, ServiceErrorInvalidInput, "method not allowed")
	}
}
