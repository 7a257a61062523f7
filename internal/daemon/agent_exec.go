package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"relay/internal/logging"
	"relay/internal/types"
)

// ExecAgentStarter launches the configured agent command, one process per
// run. The wrapper protocol is line-delimited JSON: the process emits events
// on stdout and reads resolutions on stdin.
type ExecAgentStarter struct {
	Command string
	Args    []string
	Logger  logging.Logger
}

type execAgentLine struct {
	Type      string          `json:"type"`
	Tool      string          `json:"tool,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Text      string          `json:"text,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

type execAgentAnswer struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (s *ExecAgentStarter) Start(ctx context.Context, run *types.Run) (AgentSession, error) {
	command := strings.TrimSpace(s.Command)
	if command == "" {
		return nil, errors.New("agent command is not configured")
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, err
	}

	logger := s.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	args := append([]string{}, s.Args...)
	args = append(args, "--prompt", run.Prompt)
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(),
		"RELAY_RUN_ID="+run.ID,
		"RELAY_REPO_ID="+run.RepoID,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	session := &execAgentSession{
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan AgentEvent, 64),
		logger: logger.With(logging.F("run_id", run.ID)),
	}
	go session.readLoop(stdout)
	return session, nil
}

type execAgentSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan AgentEvent

	writeMu sync.Mutex
	logger  logging.Logger
}

func (s *execAgentSession) Events() <-chan AgentEvent {
	return s.events
}

func (s *execAgentSession) Answer(ctx context.Context, requestID string, resolution types.Resolution) error {
	raw, err := json.Marshal(execAgentAnswer{
		RequestID: requestID,
		Approved:  resolution.Approved,
		Reason:    resolution.Reason,
		Text:      resolution.Text,
	})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(append(raw, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *execAgentSession) Cancel(ctx context.Context) error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (s *execAgentSession) readLoop(stdout io.Reader) {
	defer close(s.events)
	defer func() {
		_ = s.cmd.Wait()
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var parsed execAgentLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			s.logger.Warn("agent_line_unparsed", logging.F("error", err))
			continue
		}
		event, ok := agentEventFromLine(parsed)
		if !ok {
			s.logger.Warn("agent_line_unknown_type", logging.F("type", parsed.Type))
			continue
		}
		s.events <- event
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("agent_stdout_read_error", logging.F("error", err))
	}
}

func agentEventFromLine(line execAgentLine) (AgentEvent, bool) {
	switch strings.ToLower(strings.TrimSpace(line.Type)) {
	case "tool_call", "tool-call":
		return AgentEvent{
			Type:      AgentEventToolCall,
			Tool:      line.Tool,
			RequestID: line.RequestID,
			Payload:   line.Payload,
		}, true
	case "tool_result", "tool-result":
		return AgentEvent{
			Type:      AgentEventToolResult,
			Tool:      line.Tool,
			RequestID: line.RequestID,
			Payload:   line.Payload,
		}, true
	case "text":
		return AgentEvent{Type: AgentEventText, Text: line.Text}, true
	case "completed":
		return AgentEvent{Type: AgentEventCompleted}, true
	case "failed":
		return AgentEvent{Type: AgentEventFailed, Reason: line.Reason}, true
	default:
		return AgentEvent{}, false
	}
}
