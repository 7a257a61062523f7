package types

import (
	"strings"
	"time"
)

// TimeoutPolicy decides what happens to an interaction left unresolved for
// longer than the hook timeout.
type TimeoutPolicy string

const (
	// TimeoutPolicyDeny auto-resolves the interaction as denied and resumes
	// the run.
	TimeoutPolicyDeny TimeoutPolicy = "deny"
	// TimeoutPolicyFail marks the run failed.
	TimeoutPolicyFail TimeoutPolicy = "fail"
	// TimeoutPolicyWarn appends a warning event and leaves the interaction
	// open.
	TimeoutPolicyWarn TimeoutPolicy = "warn"
)

func ParseTimeoutPolicy(raw string) TimeoutPolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fail":
		return TimeoutPolicyFail
	case "warn":
		return TimeoutPolicyWarn
	default:
		return TimeoutPolicyDeny
	}
}

// GatingPolicy maps agent tool names to the interaction kind required before
// the tool may proceed. Read-only to the run machinery.
type GatingPolicy struct {
	ApprovalTools map[string]struct{}
	InputTools    map[string]struct{}
	HookTimeout   time.Duration
	TimeoutPolicy TimeoutPolicy
}

func NewGatingPolicy(approvalTools, inputTools []string, hookTimeout time.Duration, timeoutPolicy TimeoutPolicy) GatingPolicy {
	policy := GatingPolicy{
		ApprovalTools: toolSet(approvalTools),
		InputTools:    toolSet(inputTools),
		HookTimeout:   hookTimeout,
		TimeoutPolicy: timeoutPolicy,
	}
	if policy.TimeoutPolicy == "" {
		policy.TimeoutPolicy = TimeoutPolicyDeny
	}
	return policy
}

// Classify returns the interaction kind required for tool, if any. Input
// gating takes precedence when a tool is listed in both sets.
func (p GatingPolicy) Classify(tool string) (InteractionKind, bool) {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return "", false
	}
	if _, ok := p.InputTools[tool]; ok {
		return InteractionInput, true
	}
	if _, ok := p.ApprovalTools[tool]; ok {
		return InteractionApproval, true
	}
	return "", false
}

func toolSet(tools []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, raw := range tools {
		tool := strings.TrimSpace(raw)
		if tool == "" {
			continue
		}
		out[tool] = struct{}{}
	}
	return out
}
