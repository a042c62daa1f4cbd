package models

import (
	"fmt"
	"strings"
)

// Role is the worker category that executes a task. The set is closed.
type Role string

const (
	// RoleSupervisor plans and investigates; it never edits code.
	RoleSupervisor Role = "Supervisor"
	// RoleCoder implements changes.
	RoleCoder Role = "Coder"
	// RoleAdversary tries to break what the Coder produced.
	RoleAdversary Role = "Adversary"
)

// AllRoles lists every role in dispatch order.
var AllRoles = []Role{RoleSupervisor, RoleCoder, RoleAdversary}

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleSupervisor, RoleCoder, RoleAdversary:
		return true
	default:
		return false
	}
}

// Slug is the lowercase form used in store keys and task ids.
func (r Role) Slug() string {
	return strings.ToLower(string(r))
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	for _, r := range AllRoles {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleProfile is the per-role configuration handed to the agent executor.
type RoleProfile struct {
	Role Role `json:"role" yaml:"role"`
	// AllowedTools is passed to the worker as its tool allow-list.
	AllowedTools []string `json:"allowed_tools" yaml:"allowed_tools"`
	// PromptTemplate is the system prompt; %s receives the goal.
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template"`
	// BriefingFields names the keys a briefing for this role must carry.
	BriefingFields []string `json:"briefing_fields" yaml:"briefing_fields"`
}

// Profile returns the built-in profile for the role.
func (r Role) Profile() RoleProfile {
	switch r {
	case RoleSupervisor:
		return RoleProfile{
			Role:           r,
			AllowedTools:   []string{"Read", "Glob", "Grep", "WebFetch"},
			PromptTemplate: "You are the Supervisor. Study the codebase and the problem behind this goal, then write down findings the Coder can act on.\n\nGoal: %s",
			BriefingFields: []string{"task_id", "goal", "description", "findings_key"},
		}
	case RoleCoder:
		return RoleProfile{
			Role:           r,
			AllowedTools:   []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
			PromptTemplate: "You are the Coder. Make the change described below with minimal, well-tested code.\n\nGoal: %s",
			BriefingFields: []string{"task_id", "goal", "description", "dependencies"},
		}
	case RoleAdversary:
		return RoleProfile{
			Role:           r,
			AllowedTools:   []string{"Read", "Bash", "Glob", "Grep"},
			PromptTemplate: "You are the Adversary. Try to break the change made for this goal. Report every failure you find.\n\nGoal: %s",
			BriefingFields: []string{"task_id", "goal", "description", "dependencies"},
		}
	default:
		panic(fmt.Sprintf("models: no profile for role %q", string(r)))
	}
}

// Prompt renders the profile's template for a goal.
func (p RoleProfile) Prompt(goal string) string {
	return fmt.Sprintf(p.PromptTemplate, goal)
}
