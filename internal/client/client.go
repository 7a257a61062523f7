package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"relay/internal/config"
	"relay/internal/types"
)

// Client talks to a running relay daemon over its HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(settings *config.Settings) (*Client, error) {
	apiKey := settings.Daemon.APIKey
	if apiKey == "" {
		path, err := config.APIKeyPath()
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read api key: %w", err)
		}
		apiKey = strings.TrimSpace(string(data))
	}
	return NewWithBaseURL(settings.DaemonBaseURL(), apiKey), nil
}

func NewWithBaseURL(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListRuns(ctx context.Context) ([]*types.Run, error) {
	var resp RunsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var run types.Run
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+id, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (*types.Run, error) {
	var run types.Run
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) CancelRun(ctx context.Context, id string) (*types.Run, error) {
	var run types.Run
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs/"+id+"/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) ListEvents(ctx context.Context, id string, sinceSeq uint64) ([]*types.RunEvent, error) {
	path := "/v1/runs/" + id + "/events"
	if sinceSeq > 0 {
		path += "?since=" + strconv.FormatUint(sinceSeq, 10)
	}
	var resp EventsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) OpenInteraction(ctx context.Context, runID string) (*types.Interaction, error) {
	var interaction types.Interaction
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+runID+"/interaction", nil, &interaction); err != nil {
		return nil, err
	}
	return &interaction, nil
}

func (c *Client) ResolveInteraction(ctx context.Context, id string, req ResolveInteractionRequest) (*types.Interaction, error) {
	var interaction types.Interaction
	if err := c.doJSON(ctx, http.MethodPost, "/v1/interactions/"+id+"/resolve", req, &interaction); err != nil {
		return nil, err
	}
	return &interaction, nil
}

func (c *Client) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (*types.Device, error) {
	var device types.Device
	if err := c.doJSON(ctx, http.MethodPost, "/v1/devices", req, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
