package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"relay/internal/types"
)

const defaultDaemonAddress = "127.0.0.1:7878"

var defaultApprovalTools = []string{"Bash", "Write", "Edit"}

var defaultInputTools = []string{"AskUserQuestion"}

type Settings struct {
	Daemon        DaemonSettings       `yaml:"daemon"`
	Agent         AgentSettings        `yaml:"agent"`
	Stream        StreamSettings       `yaml:"stream"`
	Notifications NotificationSettings `yaml:"notifications"`
	Logging       LoggingSettings      `yaml:"logging"`
}

type DaemonSettings struct {
	Address string `yaml:"address"`
	APIKey  string `yaml:"api_key"`
}

type AgentSettings struct {
	// Command is the coding-agent binary the daemon wraps. Arguments after
	// the command name are passed through verbatim.
	Command            string   `yaml:"command"`
	Args               []string `yaml:"args"`
	ApprovalTools      []string `yaml:"approval_tools"`
	InputTools         []string `yaml:"input_tools"`
	HookTimeoutSeconds int      `yaml:"hook_timeout_seconds"`
	TimeoutPolicy      string   `yaml:"timeout_policy"`
}

type StreamSettings struct {
	PingIntervalSeconds int `yaml:"ping_interval_seconds"`
	SendBuffer          int `yaml:"send_buffer"`
}

type NotificationSettings struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingSettings struct {
	Level string `yaml:"level"`
}

func DefaultSettings() Settings {
	return Settings{
		Daemon: DaemonSettings{
			Address: defaultDaemonAddress,
		},
		Agent: AgentSettings{
			ApprovalTools:      append([]string{}, defaultApprovalTools...),
			InputTools:         append([]string{}, defaultInputTools...),
			HookTimeoutSeconds: 300,
			TimeoutPolicy:      string(types.TimeoutPolicyDeny),
		},
		Stream: StreamSettings{
			PingIntervalSeconds: 20,
			SendBuffer:          256,
		},
		Notifications: NotificationSettings{
			Enabled: true,
		},
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// LoadSettings reads the YAML settings file (missing file yields defaults)
// and applies RELAY_* environment overrides on top.
func LoadSettings() (Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return Settings{}, err
	}
	return loadSettingsFromPath(path)
}

func loadSettingsFromPath(path string) (Settings, error) {
	settings := DefaultSettings()
	if err := readYAML(path, &settings); err != nil {
		return Settings{}, err
	}
	applyEnvOverrides(&settings, os.Getenv)
	return settings, nil
}

func applyEnvOverrides(settings *Settings, getenv func(string) string) {
	if value := strings.TrimSpace(getenv("RELAY_ADDRESS")); value != "" {
		settings.Daemon.Address = value
	}
	if value := strings.TrimSpace(getenv("RELAY_API_KEY")); value != "" {
		settings.Daemon.APIKey = value
	}
	if value := strings.TrimSpace(getenv("RELAY_AGENT_COMMAND")); value != "" {
		settings.Agent.Command = value
	}
	if value := strings.TrimSpace(getenv("RELAY_LOG_LEVEL")); value != "" {
		settings.Logging.Level = value
	}
	if value := strings.TrimSpace(getenv("RELAY_HOOK_TIMEOUT_SECONDS")); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			settings.Agent.HookTimeoutSeconds = seconds
		}
	}
	if value := strings.TrimSpace(getenv("RELAY_TIMEOUT_POLICY")); value != "" {
		settings.Agent.TimeoutPolicy = value
	}
}

func (s Settings) DaemonAddress() string {
	addr := strings.TrimSpace(s.Daemon.Address)
	if addr == "" {
		return defaultDaemonAddress
	}
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultDaemonAddress
	}
	return addr
}

func (s Settings) DaemonBaseURL() string {
	return "http://" + s.DaemonAddress()
}

func (s Settings) LogLevel() string {
	level := strings.TrimSpace(s.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (s Settings) HookTimeout() time.Duration {
	seconds := s.Agent.HookTimeoutSeconds
	if seconds <= 0 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

func (s Settings) PingInterval() time.Duration {
	seconds := s.Stream.PingIntervalSeconds
	if seconds <= 0 {
		seconds = 20
	}
	return time.Duration(seconds) * time.Second
}

func (s Settings) StreamSendBuffer() int {
	if s.Stream.SendBuffer <= 0 {
		return 256
	}
	return s.Stream.SendBuffer
}

// GatingPolicy resolves the agent gating configuration into the policy the
// run machinery consumes.
func (s Settings) GatingPolicy() types.GatingPolicy {
	return types.NewGatingPolicy(
		s.Agent.ApprovalTools,
		s.Agent.InputTools,
		s.HookTimeout(),
		types.ParseTimeoutPolicy(s.Agent.TimeoutPolicy),
	)
}

// Set updates a single settings key using its dotted YAML path, for the
// `relay config set` command.
func (s *Settings) Set(key, value string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "daemon.address":
		s.Daemon.Address = value
	case "daemon.api_key":
		s.Daemon.APIKey = value
	case "agent.command":
		s.Agent.Command = value
	case "agent.approval_tools":
		s.Agent.ApprovalTools = splitList(value)
	case "agent.input_tools":
		s.Agent.InputTools = splitList(value)
	case "agent.hook_timeout_seconds":
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid hook timeout: %q", value)
		}
		s.Agent.HookTimeoutSeconds = seconds
	case "agent.timeout_policy":
		policy := strings.ToLower(strings.TrimSpace(value))
		switch policy {
		case "deny", "fail", "warn":
			s.Agent.TimeoutPolicy = policy
		default:
			return fmt.Errorf("invalid timeout policy: %q", value)
		}
	case "notifications.enabled":
		enabled, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid bool: %q", value)
		}
		s.Notifications.Enabled = enabled
	case "logging.level":
		s.Logging.Level = value
	default:
		return fmt.Errorf("unknown settings key: %q", key)
	}
	return nil
}

// Save writes the settings back to the YAML file.
func (s Settings) Save() error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	return writeYAML(path, s)
}

func readYAML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, out)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
