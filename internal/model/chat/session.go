package chat

import (
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

// Stage selects which agent and history handle a turn.
type Stage string

const (
	StageAdmin     Stage = "admin"
	StageDemo      Stage = "demo"
	StageDemoSetup Stage = "demo_setup"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageAdmin, StageDemo, StageDemoSetup:
		return true
	default:
		return false
	}
}

// State is the durable per-session snapshot. The zero value is the implicit
// state of a session that has never been seen.
type State struct {
	CurrentStage      Stage           `json:"current_stage,omitempty"`
	SharedHistory     []Turn          `json:"shared_history,omitempty"`
	DemoHistory       []Turn          `json:"demo_history,omitempty"`
	PendingAnswer     string          `json:"pending_answer,omitempty"`
	EscalationAlert   string          `json:"escalation_alert,omitempty"`
	DemoConfiguration *persona.Config `json:"demo_configuration,omitempty"`
	LastAgentName     string          `json:"last_agent_name,omitempty"`
	LastInvokedTools  []string        `json:"last_invoked_tools,omitempty"`
}

// Stage returns the stored stage, defaulting to admin when absent.
func (s *State) Stage() Stage {
	if s == nil || s.CurrentStage == "" {
		return StageAdmin
	}
	return s.CurrentStage
}

// Clone returns a deep enough copy for the orchestrator to mutate safely.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	out := *s
	out.SharedHistory = append([]Turn(nil), s.SharedHistory...)
	out.DemoHistory = append([]Turn(nil), s.DemoHistory...)
	out.LastInvokedTools = append([]string(nil), s.LastInvokedTools...)
	if s.DemoConfiguration != nil {
		cfg := *s.DemoConfiguration
		out.DemoConfiguration = &cfg
	}
	return &out
}

// Delta is what a single turn changes. Nil/empty fields leave the restored
// value untouched, except PendingAnswer and EscalationAlert which are
// per-turn and always overwritten.
type Delta struct {
	Stage             Stage
	AppendShared      []Turn
	AppendDemo        []Turn
	Answer            string
	EscalationAlert   string
	DemoConfiguration *persona.Config
	AgentName         string
	InvokedTools      []string
}

// Apply merges d onto a copy of s and returns the merged state.
func (s *State) Apply(d Delta) *State {
	out := s.Clone()
	if d.Stage != "" {
		out.CurrentStage = d.Stage
	}
	out.SharedHistory = append(out.SharedHistory, d.AppendShared...)
	out.DemoHistory = append(out.DemoHistory, d.AppendDemo...)
	out.PendingAnswer = d.Answer
	out.EscalationAlert = d.EscalationAlert
	if d.DemoConfiguration != nil && out.DemoConfiguration == nil {
		cfg := *d.DemoConfiguration
		out.DemoConfiguration = &cfg
	}
	if d.AgentName != "" {
		out.LastAgentName = d.AgentName
		out.LastInvokedTools = append([]string(nil), d.InvokedTools...)
	}
	return out
}

// UserMessageCount counts user turns across both histories.
func (s *State) UserMessageCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.SharedHistory {
		if t.Role == RoleUser {
			n++
		}
	}
	for _, t := range s.DemoHistory {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}
