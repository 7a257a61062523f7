package daemon

import (
	"relay/internal/logging"
	"relay/internal/store"
)

// API exposes the daemon's HTTP surface. Handlers translate wire requests
// into RunManager and InteractionRegistry calls and map service errors to
// the response envelope.
type API struct {
	Version  string
	Manager  *RunManager
	Registry *InteractionRegistry
	Hub      *RunHub
	Devices  store.DeviceStore
	Logger   logging.Logger
}

type CreateRunRequest struct {
	RepoID string `json:"repo_id"`
	Prompt string `json:"prompt"`
}

type ResolveInteractionRequest struct {
	Approved *bool  `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Text     string `json:"text,omitempty"`
}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
