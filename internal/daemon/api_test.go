package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/types"
)

const testAPIKey = "test-key"

type apiFixture struct {
	server  *httptest.Server
	manager *RunManager
	session *fakeAgentSession
	repo    store.Repository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo, err := store.OpenRepository(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	session := newFakeAgentSession()
	registry := NewInteractionRegistry(repo.Interactions())
	hub := NewRunHub(repo.Runs(), repo.Events(), nil, 16, time.Minute, logging.Nop())
	eventLog := NewEventLog(repo.Events(), hub)
	manager := NewRunManager(repo.Runs(), registry, eventLog, hub,
		&fakeAgentStarter{session: session},
		testGatingPolicy(types.TimeoutPolicyDeny, time.Hour), logging.Nop())

	api := &API{
		Version:  "test-version",
		Manager:  manager,
		Registry: registry,
		Hub:      hub,
		Devices:  repo.Devices(),
		Logger:   logging.Nop(),
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	server := httptest.NewServer(APIKeyMiddleware(testAPIKey, mux))
	t.Cleanup(server.Close)

	return &apiFixture{server: server, manager: manager, session: session, repo: repo}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

func decodeErrorBody(t *testing.T, resp *http.Response) (string, string) {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code, payload.Error.Message
}

func TestHealth(t *testing.T) {
	recorder := httptest.NewRecorder()
	api := &API{Version: "test-version"}

	api.Health(recorder, httptest.NewRequest("GET", "/health", nil))

	var resp struct {
		OK            bool   `json:"ok"`
		Version       string `json:"version"`
		PID           int    `json:"pid"`
		UptimeSeconds *int64 `json:"uptime_seconds"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !resp.OK || resp.Version != "test-version" {
		t.Fatalf("unexpected health payload: %+v", resp)
	}
	if resp.PID <= 0 {
		t.Fatalf("expected positive pid, got %d", resp.PID)
	}
	if resp.UptimeSeconds == nil || *resp.UptimeSeconds < 0 {
		t.Fatalf("expected uptime_seconds, got %v", resp.UptimeSeconds)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	fixture := newAPIFixture(t)

	resp, err := http.Get(fixture.server.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("GET /v1/runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	code, _ := decodeErrorBody(t, resp)
	if code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", code)
	}

	// Health stays open so liveness checks need no key.
	health, err := http.Get(fixture.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /health, got %d", health.StatusCode)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	fixture := newAPIFixture(t)

	var created types.Run
	resp := fixture.do(t, http.MethodPost, "/v1/runs", CreateRunRequest{RepoID: "repo-1", Prompt: "fix bug"}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if created.ID == "" || created.State != types.RunStateRunning {
		t.Fatalf("unexpected run: %#v", created)
	}

	var fetched types.Run
	resp = fixture.do(t, http.MethodGet, "/v1/runs/"+created.ID, nil, &fetched)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if fetched.ID != created.ID {
		t.Fatalf("expected run %s, got %s", created.ID, fetched.ID)
	}

	var listed struct {
		Runs []*types.Run `json:"runs"`
	}
	resp = fixture.do(t, http.MethodGet, "/v1/runs", nil, &listed)
	if resp.StatusCode != http.StatusOK || len(listed.Runs) != 1 {
		t.Fatalf("expected one listed run, got %d (status %d)", len(listed.Runs), resp.StatusCode)
	}
}

func TestCreateRunRejectsMissingFields(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodPost, "/v1/runs", CreateRunRequest{RepoID: "repo-1"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	code, _ := decodeErrorBody(t, resp)
	if code != "invalid_input" {
		t.Fatalf("expected invalid_input, got %q", code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.do(t, http.MethodGet, "/v1/runs/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	code, _ := decodeErrorBody(t, resp)
	if code != "not_found" {
		t.Fatalf("expected not_found, got %q", code)
	}
}

func TestResolveApprovalOverHTTP(t *testing.T) {
	fixture := newAPIFixture(t)

	var run types.Run
	fixture.do(t, http.MethodPost, "/v1/runs", CreateRunRequest{RepoID: "repo-1", Prompt: "fix bug"}, &run)

	fixture.session.events <- AgentEvent{Type: AgentEventToolCall, Tool: "Bash", RequestID: "req-1"}
	waitForState(t, fixture.manager, run.ID, types.RunStateWaitingApproval)

	var interaction types.Interaction
	resp := fixture.do(t, http.MethodGet, "/v1/runs/"+run.ID+"/interaction", nil, &interaction)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if interaction.Kind != types.InteractionApproval {
		t.Fatalf("expected approval interaction, got %s", interaction.Kind)
	}

	// Approval without the approved flag is rejected before touching the run.
	resp = fixture.do(t, http.MethodPost, "/v1/interactions/"+interaction.ID+"/resolve",
		ResolveInteractionRequest{Reason: "looks fine"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing approved, got %d", resp.StatusCode)
	}

	approved := true
	var resolved types.Interaction
	resp = fixture.do(t, http.MethodPost, "/v1/interactions/"+interaction.ID+"/resolve",
		ResolveInteractionRequest{Approved: &approved}, &resolved)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !resolved.Resolved() {
		t.Fatal("expected resolved interaction")
	}
	waitForState(t, fixture.manager, run.ID, types.RunStateRunning)

	resp = fixture.do(t, http.MethodPost, "/v1/interactions/"+interaction.ID+"/resolve",
		ResolveInteractionRequest{Approved: &approved}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second resolve, got %d", resp.StatusCode)
	}
	code, _ := decodeErrorBody(t, resp)
	if code != "conflict" {
		t.Fatalf("expected conflict, got %q", code)
	}

	resp = fixture.do(t, http.MethodGet, "/v1/runs/"+run.ID+"/interaction", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 once resolved, got %d", resp.StatusCode)
	}
}

func TestCancelRunOverHTTP(t *testing.T) {
	fixture := newAPIFixture(t)

	var run types.Run
	fixture.do(t, http.MethodPost, "/v1/runs", CreateRunRequest{RepoID: "repo-1", Prompt: "fix bug"}, &run)

	var cancelled types.Run
	resp := fixture.do(t, http.MethodPost, "/v1/runs/"+run.ID+"/cancel", nil, &cancelled)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cancelled.State != types.RunStateCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.State)
	}

	var again types.Run
	resp = fixture.do(t, http.MethodPost, "/v1/runs/"+run.ID+"/cancel", nil, &again)
	if resp.StatusCode != http.StatusOK || again.State != types.RunStateCancelled {
		t.Fatalf("cancel must be idempotent, got status %d state %s", resp.StatusCode, again.State)
	}
}

func TestListEventsSince(t *testing.T) {
	fixture := newAPIFixture(t)

	var run types.Run
	fixture.do(t, http.MethodPost, "/v1/runs", CreateRunRequest{RepoID: "repo-1", Prompt: "fix bug"}, &run)

	fixture.session.events <- AgentEvent{Type: AgentEventText, Text: "one"}
	fixture.session.events <- AgentEvent{Type: AgentEventText, Text: "two"}
	fixture.session.events <- AgentEvent{Type: AgentEventText, Text: "three"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := fixture.manager.ListEvents(context.Background(), run.ID, 0)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(events) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		time.Sleep(5 * time.Millisecond)
	}

	var page struct {
		Events []*types.RunEvent `json:"events"`
	}
	resp := fixture.do(t, http.MethodGet, "/v1/runs/"+run.ID+"/events?since=1", nil, &page)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(page.Events) != 2 || page.Events[0].Seq != 2 || page.Events[1].Seq != 3 {
		t.Fatalf("unexpected page: %#v", page.Events)
	}

	resp = fixture.do(t, http.MethodGet, "/v1/runs/"+run.ID+"/events?since=banana", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", resp.StatusCode)
	}
}

func TestRegisterDevice(t *testing.T) {
	fixture := newAPIFixture(t)

	var device types.Device
	resp := fixture.do(t, http.MethodPost, "/v1/devices",
		RegisterDeviceRequest{Token: "tok-1", Platform: "ios"}, &device)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if device.Token != "tok-1" || device.Platform != "ios" {
		t.Fatalf("unexpected device: %#v", device)
	}

	resp = fixture.do(t, http.MethodPost, "/v1/devices", RegisterDeviceRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing token, got %d", resp.StatusCode)
	}
}

func TestStreamWebSocket(t *testing.T) {
	fixture := newAPIFixture(t)

	var run types.Run
	fixture.do(t, http.MethodPost, "/v1/runs", CreateRunRequest{RepoID: "repo-1", Prompt: "fix bug"}, &run)

	fixture.session.events <- AgentEvent{Type: AgentEventText, Text: "hello"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := fixture.manager.ListEvents(context.Background(), run.ID, 0)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(events) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event never appended")
		}
		time.Sleep(5 * time.Millisecond)
	}

	wsURL := "ws" + strings.TrimPrefix(fixture.server.URL, "http") +
		"/v1/runs/" + run.ID + "/stream?api_key=" + url.QueryEscape(testAPIKey)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var state types.StreamFrame
	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read state frame: %v", err)
	}
	if state.Type != types.StreamFrameState || state.State == nil || state.State.ID != run.ID {
		t.Fatalf("expected state frame, got %#v", state)
	}

	var event types.StreamFrame
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event frame: %v", err)
	}
	if event.Type != types.StreamFrameEvent || event.Event == nil || event.Event.Seq != 1 {
		t.Fatalf("expected catch-up event frame, got %#v", event)
	}

	fixture.session.events <- AgentEvent{Type: AgentEventText, Text: "live"}
	var live types.StreamFrame
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live frame: %v", err)
	}
	if live.Type != types.StreamFrameEvent || live.Event == nil || live.Event.Seq != 2 {
		t.Fatalf("expected live event frame, got %#v", live)
	}
}
