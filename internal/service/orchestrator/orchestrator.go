// Package orchestrator routes a single conversational turn to the agent that
// owns the session's current stage and computes the resulting state delta.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/ai"
)

// Fixed user-facing texts.
const (
	StopCommand  = "стоп"
	FarewellText = "Понравилась ли вам демонстрация? Если хотите, могу связать Вас с нашим менеджером для обсуждения сотрудничества."
	ApologyText  = "Извините, произошла ошибка при обработке вашего сообщения. Пожалуйста, попробуйте еще раз."
	DemoPrefix   = "[Демонстрация] "
)

// Agent is a conversational agent bound to one stage.
type Agent interface {
	Name() string
	Run(ctx context.Context, message string, history []chat.Turn, sessionID string) (*ai.Result, error)
}

// DemoFactory materialises a demo agent for a validated configuration.
type DemoFactory func(ctx context.Context, cfg persona.Config) (Agent, error)

// ConfigResolver loads and derives per-session demo configurations.
type ConfigResolver interface {
	Load(ctx context.Context, sessionID string) (*persona.Config, error)
	Resolve(ctx context.Context, sessionID, userRef, raw string) (*persona.Config, error)
}

// Observer receives routing events, typically for metrics.
type Observer interface {
	AgentDispatched(agent string, err error)
}

// Deps are the collaborators of an Orchestrator. All agents are built once by the caller.
type Deps struct {
	Admin            Agent
	DemoSetup        Agent
	DemoUnconfigured Agent
	NewDemo          DemoFactory
	Configs          ConfigResolver
	Observer         Observer
}

// Orchestrator is stateless across turns; everything it needs arrives with the restored state.
type Orchestrator struct {
	deps Deps
}

// New validates deps and returns an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Admin == nil:
		return nil, errors.New("admin agent is required")
	case deps.DemoSetup == nil:
		return nil, errors.New("demo setup agent is required")
	case deps.DemoUnconfigured == nil:
		return nil, errors.New("unconfigured demo agent is required")
	case deps.NewDemo == nil:
		return nil, errors.New("demo agent factory is required")
	case deps.Configs == nil:
		return nil, errors.New("config resolver is required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Orchestrator{deps: deps}, nil
}

// IsStopCommand reports whether message is the stop command.
func IsStopCommand(message string) bool {
	return strings.ToLower(strings.TrimSpace(message)) == StopCommand
}

// Step runs one turn against restored and returns the delta to merge.
// Any returned error means the turn failed and nothing should be persisted.
func (o *Orchestrator) Step(ctx context.Context, sessionID, message string, restored *chat.State) (chat.Delta, error) {
	stage := restored.Stage()
	if !stage.Valid() {
		log.Printf("[orchestrator] unknown stage %q for session=%s, falling back to admin", stage, sessionID)
		stage = chat.StageAdmin
	}

	var (
		delta chat.Delta
		err   error
	)
	switch {
	case stage == chat.StageDemo && IsStopCommand(message):
		log.Printf("[orchestrator] stop command for session=%s, leaving demo", sessionID)
		delta = chat.Delta{
			Stage:        chat.StageAdmin,
			AppendShared: []chat.Turn{chat.UserTurn(message), chat.AssistantTurn(FarewellText, nil)},
			Answer:       FarewellText,
		}
	case stage == chat.StageDemo:
		delta, err = o.handleDemo(ctx, sessionID, message, restored, chat.Delta{})
	case stage == chat.StageDemoSetup:
		delta, err = o.handleDemoSetup(ctx, sessionID, message, restored)
	default:
		delta, err = o.handleAdmin(ctx, sessionID, message, restored)
	}
	if err != nil {
		return chat.Delta{}, err
	}
	return delta, nil
}

func (o *Orchestrator) handleAdmin(ctx context.Context, sessionID, message string, restored *chat.State) (chat.Delta, error) {
	result, err := o.dispatch(ctx, o.deps.Admin, sessionID, message, restored.SharedHistory)
	if err != nil {
		return chat.Delta{}, err
	}

	delta := chat.Delta{
		Stage:        chat.StageAdmin,
		AppendShared: append([]chat.Turn{chat.UserTurn(message)}, result.Messages...),
		AgentName:    o.deps.Admin.Name(),
		InvokedTools: result.InvokedTools,
	}

	if result.Escalation != nil {
		return withEscalation(delta, result.Escalation), nil
	}

	if result.Invoked(ai.ToolSwitchToDemo) {
		log.Printf("[orchestrator] admin switched session=%s to demo", sessionID)
		delta.Stage = chat.StageDemo
		return o.handleDemo(ctx, sessionID, message, restored, delta)
	}

	delta.Answer = result.Reply
	return delta, nil
}

func (o *Orchestrator) handleDemoSetup(ctx context.Context, sessionID, message string, restored *chat.State) (chat.Delta, error) {
	result, err := o.dispatch(ctx, o.deps.DemoSetup, sessionID, message, restored.SharedHistory)
	if err != nil {
		return chat.Delta{}, err
	}

	delta := chat.Delta{
		Stage:        chat.StageDemoSetup,
		AppendShared: append([]chat.Turn{chat.UserTurn(message)}, result.Messages...),
		AgentName:    o.deps.DemoSetup.Name(),
		InvokedTools: result.InvokedTools,
		Answer:       result.Reply,
	}
	if result.Escalation != nil {
		return withEscalation(delta, result.Escalation), nil
	}
	return delta, nil
}

// handleDemo extends base, which may already carry the admin part of a switching turn.
func (o *Orchestrator) handleDemo(ctx context.Context, sessionID, message string, restored *chat.State, base chat.Delta) (chat.Delta, error) {
	agent, cfg, err := o.demoAgent(ctx, sessionID, message, restored)
	if err != nil {
		return chat.Delta{}, err
	}

	result, err := o.dispatch(ctx, agent, sessionID, message, restored.DemoHistory)
	if err != nil {
		return chat.Delta{}, err
	}

	delta := base
	delta.Stage = chat.StageDemo
	delta.AppendDemo = append([]chat.Turn{chat.UserTurn(message)}, result.Messages...)
	delta.AgentName = agent.Name()
	delta.InvokedTools = result.InvokedTools
	delta.DemoConfiguration = cfg

	if result.Escalation != nil {
		return withEscalation(delta, result.Escalation), nil
	}
	delta.Answer = decorateDemoReply(result.Reply)
	return delta, nil
}

// demoAgent picks the demo agent for this turn. The configuration comes from
// the session state, then the config store, then the setup sub-protocol.
// A nil config means the unconfigured agent was chosen.
func (o *Orchestrator) demoAgent(ctx context.Context, sessionID, message string, restored *chat.State) (Agent, *persona.Config, error) {
	cfg := restored.DemoConfiguration
	if cfg == nil {
		loaded, err := o.deps.Configs.Load(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	if cfg == nil {
		cfg = o.runSetup(ctx, sessionID, message, restored.SharedHistory)
		if cfg == nil {
			return o.deps.DemoUnconfigured, nil, nil
		}
	}

	agent, err := o.deps.NewDemo(ctx, *cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("materialise demo agent: %w", err)
	}
	return agent, cfg, nil
}

// runSetup asks the setup agent for a configuration. Failures are logged and
// reported as nil so the turn degrades to the unconfigured demo agent.
func (o *Orchestrator) runSetup(ctx context.Context, sessionID, message string, history []chat.Turn) *persona.Config {
	result, err := o.dispatch(ctx, o.deps.DemoSetup, sessionID, message, history)
	if err != nil {
		log.Printf("[orchestrator] demo setup failed for session=%s: %v", sessionID, err)
		return nil
	}

	cfg, err := o.deps.Configs.Resolve(ctx, sessionID, sessionID, result.Reply)
	if err != nil {
		log.Printf("[orchestrator] demo configuration rejected for session=%s: %v", sessionID, err)
		return nil
	}
	log.Printf("[orchestrator] demo configured for session=%s niche=%q company=%q", sessionID, cfg.Niche, cfg.CompanyName)
	return cfg
}

func (o *Orchestrator) dispatch(ctx context.Context, agent Agent, sessionID, message string, history []chat.Turn) (*ai.Result, error) {
	result, err := agent.Run(ctx, message, history, sessionID)
	if err == nil && result == nil {
		err = fmt.Errorf("agent %s returned no result", agent.Name())
	}
	o.deps.Observer.AgentDispatched(agent.Name(), err)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", agent.Name(), err)
	}
	return result, nil
}

func withEscalation(delta chat.Delta, esc *ai.Escalation) chat.Delta {
	delta.Answer = esc.UserMessage
	delta.EscalationAlert = esc.AlertText
	return delta
}

func decorateDemoReply(reply string) string {
	if strings.HasPrefix(reply, DemoPrefix) {
		return reply
	}
	return DemoPrefix + reply
}

type nopObserver struct{}

func (nopObserver) AgentDispatched(string, error) {}
