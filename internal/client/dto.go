package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"relay/internal/types"
)

type RunsResponse struct {
	Runs []*types.Run `json:"runs"`
}

type EventsResponse struct {
	Events []*types.RunEvent `json:"events"`
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
	Platform string `json:"platform,omitempty"`
}

type HealthResponse struct {
	OK            bool   `json:"ok"`
	Version       string `json:"version"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// APIError carries the daemon's error envelope back to callers.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       payload.Error.Code,
			Message:    payload.Error.Message,
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}
